package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"vet-cart/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrProductNotFound      = errors.New("product not found")
	ErrServicePriceNotFound = errors.New("service price not found")
)

// anySize marks a service price that applies to every pet size
const anySize = "any"

// CatalogRepository reads the clinic catalog the cart takes its stock and
// price snapshots from
type CatalogRepository interface {
	CreateProduct(ctx context.Context, product *domain.Product) error
	FindProduct(ctx context.Context, tenantID string, id uuid.UUID) (*domain.Product, error)
	CreateService(ctx context.Context, service *domain.ServiceOffering) error
	CreateServicePrice(ctx context.Context, price *domain.ServicePrice) error
	FindServicePrice(ctx context.Context, tenantID string, serviceID uuid.UUID, variant string, size domain.PetSize) (*domain.ServicePrice, error)
}

type catalogRepository struct {
	db *sql.DB
}

// NewCatalogRepository creates a new instance of CatalogRepository
func NewCatalogRepository(db *sql.DB) CatalogRepository {
	return &catalogRepository{db: db}
}

// CreateProduct inserts a new store product using parameterized queries
func (r *catalogRepository) CreateProduct(ctx context.Context, product *domain.Product) error {
	query := `
		INSERT INTO store_products (id, tenant_id, sku, name, description, image_url, price, base_price, stock, requires_prescription, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	var stock sql.NullInt64
	if product.Stock != nil {
		stock = sql.NullInt64{Int64: int64(*product.Stock), Valid: true}
	}

	_, err := r.db.ExecContext(
		ctx,
		query,
		product.ID,
		product.TenantID,
		product.SKU,
		product.Name,
		product.Description,
		product.ImageURL,
		product.Price,
		nullDecimal(product.BasePrice),
		stock,
		product.RequiresPrescription,
		product.CreatedAt,
		product.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create product: %w", err)
	}

	return nil
}

// FindProduct retrieves a tenant's product by ID
func (r *catalogRepository) FindProduct(ctx context.Context, tenantID string, id uuid.UUID) (*domain.Product, error) {
	query := `
		SELECT id, tenant_id, sku, name, description, image_url, price, base_price, stock, requires_prescription, created_at, updated_at
		FROM store_products
		WHERE tenant_id = $1 AND id = $2 AND is_active
	`

	var (
		basePrice decimal.NullDecimal
		stock     sql.NullInt64
	)

	product := &domain.Product{}
	err := r.db.QueryRowContext(ctx, query, tenantID, id).Scan(
		&product.ID,
		&product.TenantID,
		&product.SKU,
		&product.Name,
		&product.Description,
		&product.ImageURL,
		&product.Price,
		&basePrice,
		&stock,
		&product.RequiresPrescription,
		&product.CreatedAt,
		&product.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to find product by ID: %w", err)
	}

	if basePrice.Valid {
		product.BasePrice = &basePrice.Decimal
	}
	if stock.Valid {
		s := int(stock.Int64)
		product.Stock = &s
	}

	return product, nil
}

// CreateService inserts a bookable service
func (r *catalogRepository) CreateService(ctx context.Context, service *domain.ServiceOffering) error {
	query := `
		INSERT INTO services (id, tenant_id, name, description, icon, image_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(
		ctx,
		query,
		service.ID,
		service.TenantID,
		service.Name,
		service.Description,
		service.Icon,
		service.ImageURL,
		service.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	return nil
}

// CreateServicePrice inserts the price of one variant for one size category.
// An empty size category prices every size.
func (r *catalogRepository) CreateServicePrice(ctx context.Context, price *domain.ServicePrice) error {
	query := `
		INSERT INTO service_prices (service_id, variant, size_category, price, base_price)
		VALUES ($1, $2, $3, $4, $5)
	`

	size := string(price.SizeCategory)
	if size == "" {
		size = anySize
	}

	_, err := r.db.ExecContext(
		ctx,
		query,
		price.Service.ID,
		variantOrDefault(price.Variant),
		size,
		price.Price,
		nullDecimal(price.BasePrice),
	)

	if err != nil {
		return fmt.Errorf("failed to create service price: %w", err)
	}

	return nil
}

// FindServicePrice resolves the price of a service variant for a pet size,
// preferring an exact size match over the catch-all price
func (r *catalogRepository) FindServicePrice(ctx context.Context, tenantID string, serviceID uuid.UUID, variant string, size domain.PetSize) (*domain.ServicePrice, error) {
	query := `
		SELECT s.id, s.tenant_id, s.name, s.description, s.icon, s.image_url, s.created_at,
		       p.variant, p.size_category, p.price, p.base_price
		FROM services s
		JOIN service_prices p ON p.service_id = s.id
		WHERE s.tenant_id = $1 AND s.id = $2 AND p.variant = $3
		  AND p.size_category IN ($4, 'any')
		ORDER BY (p.size_category = $4) DESC
		LIMIT 1
	`

	var (
		sizeCategory string
		basePrice    decimal.NullDecimal
	)

	price := &domain.ServicePrice{}
	err := r.db.QueryRowContext(ctx, query, tenantID, serviceID, variantOrDefault(variant), string(size)).Scan(
		&price.Service.ID,
		&price.Service.TenantID,
		&price.Service.Name,
		&price.Service.Description,
		&price.Service.Icon,
		&price.Service.ImageURL,
		&price.Service.CreatedAt,
		&price.Variant,
		&sizeCategory,
		&price.Price,
		&basePrice,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrServicePriceNotFound
		}
		return nil, fmt.Errorf("failed to find service price: %w", err)
	}

	if sizeCategory != anySize {
		price.SizeCategory = domain.PetSize(sizeCategory)
	}
	if basePrice.Valid {
		price.BasePrice = &basePrice.Decimal
	}

	return price, nil
}

func variantOrDefault(variant string) string {
	if variant == "" {
		return domain.DefaultVariant
	}
	return variant
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}
