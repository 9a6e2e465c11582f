package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"vet-cart/internal/cart"

	"github.com/jackc/pgx/v5/pgconn"
)

// pgUndefinedTable is raised when the carts table hasn't been migrated yet
const pgUndefinedTable = "42P01"

// ErrCartNotFound is the storage-level "nothing saved for this key" error.
// It wraps cart.ErrNotFound so the engine can recognise it.
var ErrCartNotFound = fmt.Errorf("cart repository: %w", cart.ErrNotFound)

// CartRepository persists one serialized cart per tenant and session
type CartRepository interface {
	Load(ctx context.Context, key cart.Key) ([]byte, error)
	Save(ctx context.Context, key cart.Key, payload []byte) error
	Delete(ctx context.Context, key cart.Key) error
}

type cartRepository struct {
	db *sql.DB
}

// NewCartRepository creates a Postgres-backed CartRepository
func NewCartRepository(db *sql.DB) CartRepository {
	return &cartRepository{db: db}
}

// Load returns the stored payload for key
func (r *cartRepository) Load(ctx context.Context, key cart.Key) ([]byte, error) {
	query := `
		SELECT payload
		FROM cart_sessions
		WHERE tenant_id = $1 AND session_key = $2
	`

	var payload []byte
	err := r.db.QueryRowContext(ctx, query, key.TenantID, key.SessionKey).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isUndefinedTable(err) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}

	return payload, nil
}

// Save upserts the payload for key
func (r *cartRepository) Save(ctx context.Context, key cart.Key, payload []byte) error {
	query := `
		INSERT INTO cart_sessions (tenant_id, session_key, payload, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, session_key)
		DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, query, key.TenantID, key.SessionKey, payload, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save cart: %w", err)
	}

	return nil
}

// Delete removes the stored cart. Deleting a missing cart is not an error.
func (r *cartRepository) Delete(ctx context.Context, key cart.Key) error {
	query := `DELETE FROM cart_sessions WHERE tenant_id = $1 AND session_key = $2`

	if _, err := r.db.ExecContext(ctx, query, key.TenantID, key.SessionKey); err != nil {
		if isUndefinedTable(err) {
			return nil
		}
		return fmt.Errorf("failed to delete cart: %w", err)
	}

	return nil
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUndefinedTable
}
