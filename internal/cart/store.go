package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vet-cart/internal/domain"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// NearLimitThreshold is the remaining stock at or below which a line is
// reported as near its limit
const NearLimitThreshold = 3

// MaxMergeLines caps how many lines a single Merge accepts
const MaxMergeLines = 50

const defaultPersistTimeout = 2 * time.Second

// ErrNotFound is returned by Storage.Load when nothing is stored for a key
var ErrNotFound = errors.New("cart not found")

// Key scopes a cart to one tenant and one session
type Key struct {
	TenantID   string
	SessionKey string
}

func (k Key) String() string {
	return "cart:" + k.TenantID + ":" + k.SessionKey
}

// Storage is the durable slot a Store writes its lines to
type Storage interface {
	Load(ctx context.Context, key Key) ([]byte, error)
	Save(ctx context.Context, key Key, payload []byte) error
	Delete(ctx context.Context, key Key) error
}

// Result is returned by every quantity-changing operation. Business outcomes
// such as running out of stock are reported here, never as errors.
type Result struct {
	Success        bool     `json:"success"`
	LimitedByStock bool     `json:"limited_by_stock"`
	AvailableStock *int     `json:"available_stock,omitempty"`
	Message        string   `json:"message,omitempty"`
	Snapshot       Snapshot `json:"cart"`
}

// Snapshot is the cart state after an operation
type Snapshot struct {
	Items         []domain.CartLine `json:"items"`
	ItemCount     int               `json:"item_count"`
	Total         decimal.Decimal   `json:"total"`
	Authenticated bool              `json:"authenticated"`
}

// StockStatus describes how close a line is to its stock ceiling
type StockStatus struct {
	Available *int `json:"available,omitempty"`
	NearLimit bool `json:"near_limit"`
	AtLimit   bool `json:"at_limit"`
}

// Options tune a Store
type Options struct {
	PersistTimeout time.Duration
	Now            func() time.Time
}

// Store owns the lines of one cart. It is not safe for concurrent use; the
// owner serializes access.
type Store struct {
	key     Key
	storage Storage
	logger  *zap.Logger
	opts    Options

	lines         []domain.CartLine
	index         map[string]int
	itemCount     int
	total         decimal.Decimal
	authenticated bool
}

// Open creates the store for key and restores whatever the storage holds.
// An unreadable or invalid payload is logged and replaced by an empty cart.
func Open(ctx context.Context, key Key, storage Storage, logger *zap.Logger, opts Options) *Store {
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = defaultPersistTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Store{
		key:     key,
		storage: storage,
		logger:  logger.With(zap.String("cart", key.String())),
		opts:    opts,
		total:   decimal.Zero,
	}
	s.restore(ctx)
	return s
}

func (s *Store) restore(ctx context.Context) {
	defer s.recompute()

	if s.storage == nil {
		return
	}

	data, err := s.storage.Load(ctx, s.key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn("Cart storage unavailable, starting empty", zap.Error(err))
		}
		return
	}

	lines, err := DecodeLines(data)
	if err != nil {
		s.logger.Warn("Discarding invalid persisted cart", zap.Error(err))
		return
	}
	s.lines = lines
}

// Key returns the tenant/session the store belongs to
func (s *Store) Key() Key {
	return s.key
}

// SetAuthenticated records whether the session may reach checkout
func (s *Store) SetAuthenticated(authenticated bool) {
	s.authenticated = authenticated
}

// Authenticated reports the flag set by SetAuthenticated
func (s *Store) Authenticated() bool {
	return s.authenticated
}

// Items returns a copy of the lines in insertion order
func (s *Store) Items() []domain.CartLine {
	out := make([]domain.CartLine, len(s.lines))
	for i, line := range s.lines {
		out[i] = line.Clone()
	}
	return out
}

func (s *Store) ItemCount() int {
	return s.itemCount
}

func (s *Store) Total() decimal.Decimal {
	return s.total
}

// Snapshot returns the current aggregate view of the cart
func (s *Store) Snapshot() Snapshot {
	return Snapshot{
		Items:         s.Items(),
		ItemCount:     s.itemCount,
		Total:         s.total,
		Authenticated: s.authenticated,
	}
}

// Line looks up a line by id
func (s *Store) Line(lineID string) (domain.CartLine, bool) {
	i, ok := s.index[lineID]
	if !ok {
		return domain.CartLine{}, false
	}
	return s.lines[i].Clone(), true
}

// AddItem adds quantity units of candidate, merging into the line with the
// same identity key when there is one. The stock ceiling is captured from the
// candidate only when a new line is created.
func (s *Store) AddItem(ctx context.Context, candidate domain.CartLine, quantity int) Result {
	if quantity <= 0 {
		return s.result(false, false, nil, "quantity must be positive")
	}

	id := domain.IdentityKeyOf(candidate)
	i, exists := s.index[id]

	var line domain.CartLine
	if exists {
		line = s.lines[i]
	} else {
		line = candidate.Clone()
		line.ID = id
		line.Quantity = 0
		if line.IsService() {
			line.StockCeiling = nil
		}
	}

	clamp := Clamp(quantity, line.Quantity, line.StockCeiling)
	if clamp.Blocked {
		s.logger.Debug("Add blocked",
			zap.String("line_id", id),
			zap.Int("requested", quantity),
		)
		return s.result(false, clamp.LimitedByStock, clamp.AvailableStock, stockMessage(clamp))
	}

	line.Quantity = clamp.ResultingQuantity
	if exists {
		s.lines[i] = line
	} else {
		s.lines = append(s.lines, line)
	}

	s.commit(ctx)
	return s.result(true, clamp.LimitedByStock, clamp.AvailableStock, stockMessage(clamp))
}

// UpdateQuantity changes a line by a signed delta. A line whose quantity
// reaches zero is removed. Unknown lines are left alone.
func (s *Store) UpdateQuantity(ctx context.Context, lineID string, delta int) Result {
	i, ok := s.index[lineID]
	if !ok {
		return s.result(false, false, nil, "item is not in the cart")
	}
	line := s.lines[i]

	clamp := Clamp(delta, line.Quantity, line.StockCeiling)
	if clamp.Blocked {
		return s.result(false, clamp.LimitedByStock, clamp.AvailableStock, stockMessage(clamp))
	}

	if clamp.ResultingQuantity <= 0 {
		s.removeAt(i)
	} else {
		s.lines[i].Quantity = clamp.ResultingQuantity
	}

	s.commit(ctx)
	return s.result(true, clamp.LimitedByStock, clamp.AvailableStock, stockMessage(clamp))
}

// RemoveItem drops a line. Removing an unknown line is not an error.
func (s *Store) RemoveItem(ctx context.Context, lineID string) Snapshot {
	if i, ok := s.index[lineID]; ok {
		s.removeAt(i)
	}
	s.commit(ctx)
	return s.Snapshot()
}

// ClearCart drops every line
func (s *Store) ClearCart(ctx context.Context) Snapshot {
	s.lines = nil
	s.commit(ctx)
	return s.Snapshot()
}

// Merge folds lines from another cart (typically a guest cart) into this one.
// A line present in both keeps the higher quantity, clamped to the existing
// ceiling; new lines are appended in the given order.
func (s *Store) Merge(ctx context.Context, incoming []domain.CartLine) Result {
	if len(incoming) > MaxMergeLines {
		return s.result(false, false, nil, fmt.Sprintf("at most %d lines can be merged at once", MaxMergeLines))
	}
	if err := ValidateLines(incoming); err != nil {
		return s.result(false, false, nil, err.Error())
	}

	limited := false
	for _, in := range incoming {
		i, exists := s.index[in.ID]
		if !exists {
			line := in.Clone()
			if line.IsService() {
				line.StockCeiling = nil
			}
			s.lines = append(s.lines, line)
			s.index[line.ID] = len(s.lines) - 1
			continue
		}

		current := s.lines[i]
		if in.Quantity <= current.Quantity {
			continue
		}
		clamp := Clamp(in.Quantity-current.Quantity, current.Quantity, current.StockCeiling)
		limited = limited || clamp.LimitedByStock
		if clamp.AppliedDelta > 0 {
			s.lines[i].Quantity = clamp.ResultingQuantity
		}
	}

	s.commit(ctx)
	return s.result(true, limited, nil, "")
}

// StockStatus reports headroom for a line. It has no side effects.
func (s *Store) StockStatus(lineID string) (StockStatus, bool) {
	i, ok := s.index[lineID]
	if !ok {
		return StockStatus{}, false
	}
	return stockStatusOf(s.lines[i]), true
}

func stockStatusOf(line domain.CartLine) StockStatus {
	if line.StockCeiling == nil {
		return StockStatus{}
	}
	available := *line.StockCeiling - line.Quantity
	return StockStatus{
		Available: &available,
		AtLimit:   available <= 0,
		NearLimit: available > 0 && available <= NearLimitThreshold,
	}
}

func (s *Store) removeAt(i int) {
	s.lines = append(s.lines[:i], s.lines[i+1:]...)
}

// commit recomputes aggregates and persists. A failed write is logged and
// does not undo the in-memory change.
func (s *Store) commit(ctx context.Context) {
	s.recompute()
	s.persist(ctx)
}

func (s *Store) recompute() {
	s.index = make(map[string]int, len(s.lines))
	count := 0
	total := decimal.Zero
	for i, line := range s.lines {
		s.index[line.ID] = i
		count += line.Quantity
		total = total.Add(line.LineTotal())
	}
	s.itemCount = count
	s.total = total
}

func (s *Store) persist(ctx context.Context) {
	if s.storage == nil {
		return
	}

	data, err := EncodeLines(s.lines, s.opts.Now())
	if err != nil {
		s.logger.Error("Failed to encode cart", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.PersistTimeout)
	defer cancel()

	if err := s.storage.Save(ctx, s.key, data); err != nil {
		s.logger.Error("Failed to persist cart", zap.Error(err))
	}
}

func (s *Store) result(success, limited bool, available *int, message string) Result {
	return Result{
		Success:        success,
		LimitedByStock: limited,
		AvailableStock: available,
		Message:        message,
		Snapshot:       s.Snapshot(),
	}
}

func stockMessage(c ClampResult) string {
	switch {
	case c.Blocked && c.LimitedByStock:
		return "no stock available"
	case c.LimitedByStock && c.AvailableStock != nil:
		return fmt.Sprintf("only %d units available", *c.AvailableStock)
	case c.LimitedByCap:
		return fmt.Sprintf("at most %d units per item", domain.MaxLineQuantity)
	default:
		return ""
	}
}
