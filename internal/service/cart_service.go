package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"vet-cart/internal/cart"
	"vet-cart/internal/domain"
	"vet-cart/internal/logger"
	"vet-cart/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultIdleTTL = 30 * time.Minute

// ErrLineNotFound is returned for reads of a line the cart doesn't hold
var ErrLineNotFound = errors.New("cart line not found")

// Session identifies whose cart an operation runs against
type Session struct {
	Key           cart.Key
	Authenticated bool
}

// OrganizedCart is the grouped checkout view plus the cart aggregates
type OrganizedCart struct {
	cart.OrganizedCart
	ItemCount     int             `json:"item_count"`
	Total         decimal.Decimal `json:"total"`
	Authenticated bool            `json:"authenticated"`
}

// AddProductInput asks for quantity units of a catalog product
type AddProductInput struct {
	ProductID uuid.UUID
	Quantity  int
	Pet       *domain.PetBinding
}

// AddServiceInput books a service variant for a pet. The pet's size picks
// the price.
type AddServiceInput struct {
	ServiceID uuid.UUID
	Variant   string
	Quantity  int
	Pet       *domain.PetBinding
}

// CartService runs cart operations for many concurrent sessions
type CartService interface {
	Get(ctx context.Context, sess Session) cart.Snapshot
	Organized(ctx context.Context, sess Session) OrganizedCart
	AddProduct(ctx context.Context, sess Session, in AddProductInput) (cart.Result, error)
	AddService(ctx context.Context, sess Session, in AddServiceInput) (cart.Result, error)
	UpdateQuantity(ctx context.Context, sess Session, lineID string, delta int) cart.Result
	RemoveItem(ctx context.Context, sess Session, lineID string) cart.Snapshot
	Clear(ctx context.Context, sess Session) cart.Snapshot
	StockStatus(ctx context.Context, sess Session, lineID string) (cart.StockStatus, error)
	Merge(ctx context.Context, sess Session, from cart.Key) cart.Result
	CompleteCheckout(ctx context.Context, key cart.Key) error
	EvictIdle() int
	Run(ctx context.Context)
}

// CartServiceConfig tunes the session registry
type CartServiceConfig struct {
	PersistTimeout time.Duration
	IdleTTL        time.Duration
	Now            func() time.Time
}

// session is one open cart. mu serializes every operation on it.
type session struct {
	mu       sync.Mutex
	store    *cart.Store
	lastUsed time.Time
	evicted  bool
}

type cartService struct {
	storage repository.CartRepository
	catalog repository.CatalogRepository
	logger  *zap.Logger
	cfg     CartServiceConfig

	mu       sync.Mutex
	sessions map[cart.Key]*session
}

// NewCartService creates a new instance of CartService
func NewCartService(
	storage repository.CartRepository,
	catalog repository.CatalogRepository,
	log *zap.Logger,
	cfg CartServiceConfig,
) CartService {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = defaultIdleTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &cartService{
		storage:  storage,
		catalog:  catalog,
		logger:   log,
		cfg:      cfg,
		sessions: make(map[cart.Key]*session),
	}
}

// withStore runs fn with exclusive access to the session's store, opening it
// from storage on first use
func (s *cartService) withStore(ctx context.Context, sess Session, fn func(store *cart.Store)) {
	for {
		s.mu.Lock()
		entry, ok := s.sessions[sess.Key]
		if !ok {
			entry = &session{}
			s.sessions[sess.Key] = entry
		}
		s.mu.Unlock()

		entry.mu.Lock()
		if entry.evicted {
			// lost a race with EvictIdle; pick up the replacement
			entry.mu.Unlock()
			continue
		}

		if entry.store == nil {
			entry.store = cart.Open(ctx, sess.Key, s.storage,
				logger.ForCart(s.logger, sess.Key.TenantID, sess.Key.SessionKey),
				cart.Options{PersistTimeout: s.cfg.PersistTimeout, Now: s.cfg.Now},
			)
		}
		entry.store.SetAuthenticated(sess.Authenticated)
		entry.lastUsed = s.cfg.Now()

		fn(entry.store)
		entry.mu.Unlock()
		return
	}
}

func (s *cartService) Get(ctx context.Context, sess Session) cart.Snapshot {
	var snap cart.Snapshot
	s.withStore(ctx, sess, func(store *cart.Store) {
		snap = store.Snapshot()
	})
	return snap
}

func (s *cartService) Organized(ctx context.Context, sess Session) OrganizedCart {
	var out OrganizedCart
	s.withStore(ctx, sess, func(store *cart.Store) {
		out = OrganizedCart{
			OrganizedCart: cart.Organize(store.Items()),
			ItemCount:     store.ItemCount(),
			Total:         store.Total(),
			Authenticated: store.Authenticated(),
		}
	})
	return out
}

// AddProduct snapshots the product's current price and stock into a
// candidate line and adds it
func (s *cartService) AddProduct(ctx context.Context, sess Session, in AddProductInput) (cart.Result, error) {
	product, err := s.catalog.FindProduct(ctx, sess.Key.TenantID, in.ProductID)
	if err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			return cart.Result{}, err
		}
		return cart.Result{}, fmt.Errorf("failed to look up product: %w", err)
	}

	return s.add(ctx, sess, product.CartCandidate(in.Pet), in.Quantity), nil
}

// AddService prices the service for the pet's size and adds it
func (s *cartService) AddService(ctx context.Context, sess Session, in AddServiceInput) (cart.Result, error) {
	var size domain.PetSize
	if in.Pet != nil {
		size = in.Pet.PetSize
	}

	price, err := s.catalog.FindServicePrice(ctx, sess.Key.TenantID, in.ServiceID, in.Variant, size)
	if err != nil {
		if errors.Is(err, repository.ErrServicePriceNotFound) {
			return cart.Result{}, err
		}
		return cart.Result{}, fmt.Errorf("failed to look up service price: %w", err)
	}

	return s.add(ctx, sess, price.CartCandidate(in.Pet), in.Quantity), nil
}

func (s *cartService) add(ctx context.Context, sess Session, candidate domain.CartLine, quantity int) cart.Result {
	var res cart.Result
	s.withStore(ctx, sess, func(store *cart.Store) {
		res = store.AddItem(ctx, candidate, quantity)
	})

	if res.LimitedByStock {
		s.logger.Debug("Add limited by stock",
			zap.String("tenant_id", sess.Key.TenantID),
			zap.String("line_id", candidate.ID),
			zap.Bool("success", res.Success),
		)
	}
	return res
}

func (s *cartService) UpdateQuantity(ctx context.Context, sess Session, lineID string, delta int) cart.Result {
	var res cart.Result
	s.withStore(ctx, sess, func(store *cart.Store) {
		res = store.UpdateQuantity(ctx, lineID, delta)
	})
	return res
}

func (s *cartService) RemoveItem(ctx context.Context, sess Session, lineID string) cart.Snapshot {
	var snap cart.Snapshot
	s.withStore(ctx, sess, func(store *cart.Store) {
		snap = store.RemoveItem(ctx, lineID)
	})
	return snap
}

func (s *cartService) Clear(ctx context.Context, sess Session) cart.Snapshot {
	var snap cart.Snapshot
	s.withStore(ctx, sess, func(store *cart.Store) {
		snap = store.ClearCart(ctx)
	})
	return snap
}

func (s *cartService) StockStatus(ctx context.Context, sess Session, lineID string) (cart.StockStatus, error) {
	var (
		status cart.StockStatus
		found  bool
	)
	s.withStore(ctx, sess, func(store *cart.Store) {
		status, found = store.StockStatus(lineID)
	})
	if !found {
		return cart.StockStatus{}, ErrLineNotFound
	}
	return status, nil
}

// Merge folds the stored cart at from, usually the caller's guest cart, into
// the session's cart and then drops it. Only lines that were built from the
// catalog when they were added can reach the target this way. Lock order is
// from, then target.
func (s *cartService) Merge(ctx context.Context, sess Session, from cart.Key) cart.Result {
	var res cart.Result
	if from == sess.Key {
		s.withStore(ctx, sess, func(store *cart.Store) {
			res = cart.Result{Message: "cannot merge a cart into itself", Snapshot: store.Snapshot()}
		})
		return res
	}

	s.withStore(ctx, Session{Key: from}, func(source *cart.Store) {
		incoming := source.Items()

		s.withStore(ctx, sess, func(target *cart.Store) {
			res = target.Merge(ctx, incoming)
		})

		if !res.Success || len(incoming) == 0 {
			return
		}
		source.ClearCart(ctx)
		if s.storage != nil {
			if err := s.storage.Delete(ctx, from); err != nil {
				s.logger.Warn("Failed to drop merged cart",
					zap.Error(err),
					zap.String("tenant_id", from.TenantID),
					zap.String("session_key", from.SessionKey),
				)
			}
		}
	})

	if res.Success {
		s.logger.Debug("Merged cart",
			zap.String("tenant_id", sess.Key.TenantID),
			zap.String("from", from.SessionKey),
			zap.String("into", sess.Key.SessionKey),
		)
	}
	return res
}

// CompleteCheckout empties the cart once the order is placed and drops its
// stored record
func (s *cartService) CompleteCheckout(ctx context.Context, key cart.Key) error {
	var err error
	s.withStore(ctx, Session{Key: key}, func(store *cart.Store) {
		store.ClearCart(ctx)
		if s.storage != nil {
			err = s.storage.Delete(ctx, key)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to delete checked-out cart: %w", err)
	}

	s.logger.Info("Cart checked out",
		zap.String("tenant_id", key.TenantID),
		zap.String("session_key", key.SessionKey),
	)
	return nil
}

// EvictIdle closes sessions unused for longer than the idle TTL and returns
// how many it closed. Busy sessions are skipped.
func (s *cartService) EvictIdle() int {
	now := s.cfg.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for key, entry := range s.sessions {
		if !entry.mu.TryLock() {
			continue
		}
		if now.Sub(entry.lastUsed) > s.cfg.IdleTTL {
			entry.evicted = true
			delete(s.sessions, key)
			evicted++
		}
		entry.mu.Unlock()
	}
	return evicted
}

// Run evicts idle sessions until ctx is done
func (s *cartService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.IdleTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.EvictIdle(); n > 0 {
				s.logger.Debug("Evicted idle carts", zap.Int("count", n))
			}
		}
	}
}
