package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"vet-cart/internal/cart"
	"vet-cart/internal/domain"
	"vet-cart/internal/repository"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type servicePriceKey struct {
	serviceID uuid.UUID
	variant   string
	size      domain.PetSize
}

// mockCatalogRepository is a mock implementation of CatalogRepository
type mockCatalogRepository struct {
	mu        sync.Mutex
	products  map[uuid.UUID]*domain.Product
	prices    map[servicePriceKey]*domain.ServicePrice
	sizesSeen []domain.PetSize
	err       error
}

func newMockCatalogRepository() *mockCatalogRepository {
	return &mockCatalogRepository{
		products: make(map[uuid.UUID]*domain.Product),
		prices:   make(map[servicePriceKey]*domain.ServicePrice),
	}
}

func (m *mockCatalogRepository) CreateProduct(ctx context.Context, product *domain.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[product.ID] = product
	return nil
}

func (m *mockCatalogRepository) FindProduct(ctx context.Context, tenantID string, id uuid.UUID) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.products[id]
	if !ok || p.TenantID != tenantID {
		return nil, repository.ErrProductNotFound
	}
	return p, nil
}

func (m *mockCatalogRepository) CreateService(ctx context.Context, service *domain.ServiceOffering) error {
	return nil
}

func (m *mockCatalogRepository) CreateServicePrice(ctx context.Context, price *domain.ServicePrice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[servicePriceKey{price.Service.ID, price.Variant, price.SizeCategory}] = price
	return nil
}

func (m *mockCatalogRepository) FindServicePrice(ctx context.Context, tenantID string, serviceID uuid.UUID, variant string, size domain.PetSize) (*domain.ServicePrice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sizesSeen = append(m.sizesSeen, size)
	if variant == "" {
		variant = domain.DefaultVariant
	}
	if p, ok := m.prices[servicePriceKey{serviceID, variant, size}]; ok {
		return p, nil
	}
	if p, ok := m.prices[servicePriceKey{serviceID, variant, ""}]; ok {
		return p, nil
	}
	return nil, repository.ErrServicePriceNotFound
}

// clock is a settable time source
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

const testTenant = "adris"

type fixture struct {
	svc     CartService
	storage repository.CartRepository
	catalog *mockCatalogRepository
	clock   *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		storage: repository.NewMemoryCartRepository(),
		catalog: newMockCatalogRepository(),
		clock:   &clock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)},
	}
	f.svc = NewCartService(f.storage, f.catalog, nil, CartServiceConfig{
		IdleTTL: 10 * time.Minute,
		Now:     f.clock.Now,
	})
	return f
}

func (f *fixture) product(t *testing.T, price int64, stock *int) *domain.Product {
	t.Helper()
	p := &domain.Product{
		ID:       uuid.New(),
		TenantID: testTenant,
		Name:     "Kibble",
		SKU:      "KB-1",
		Price:    decimal.NewFromInt(price),
		Stock:    stock,
	}
	require.NoError(t, f.catalog.CreateProduct(context.Background(), p))
	return p
}

func (f *fixture) servicePrice(t *testing.T, serviceID uuid.UUID, size domain.PetSize, price int64) {
	t.Helper()
	require.NoError(t, f.catalog.CreateServicePrice(context.Background(), &domain.ServicePrice{
		Service: domain.ServiceOffering{
			ID:       serviceID,
			TenantID: testTenant,
			Name:     "Bath",
			Icon:     "bath",
		},
		Variant:      domain.DefaultVariant,
		SizeCategory: size,
		Price:        decimal.NewFromInt(price),
	}))
}

func guest(session string) Session {
	return Session{Key: cart.Key{TenantID: testTenant, SessionKey: session}}
}

func intPtr(n int) *int { return &n }

func TestCartService_AddProductSnapshotsStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, 1000, intPtr(3))
	sess := guest("g1")

	res, err := f.svc.AddProduct(ctx, sess, AddProductInput{ProductID: p.ID, Quantity: 2})
	require.NoError(t, err)
	assert.True(t, res.Success)

	res, err = f.svc.AddProduct(ctx, sess, AddProductInput{ProductID: p.ID, Quantity: 5})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.LimitedByStock)
	require.NotNil(t, res.AvailableStock)
	assert.Equal(t, 3, *res.AvailableStock)
	require.Len(t, res.Snapshot.Items, 1)
	assert.Equal(t, 3, res.Snapshot.Items[0].Quantity)
	assert.Equal(t, "product:"+p.ID.String(), res.Snapshot.Items[0].ID)
	assert.True(t, decimal.NewFromInt(3000).Equal(res.Snapshot.Total))
}

func TestCartService_AddProductNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.AddProduct(context.Background(), guest("g1"), AddProductInput{ProductID: uuid.New(), Quantity: 1})

	assert.ErrorIs(t, err, repository.ErrProductNotFound)
}

func TestCartService_AddProductOtherTenant(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, 1000, nil)

	sess := Session{Key: cart.Key{TenantID: "other-clinic", SessionKey: "g1"}}
	_, err := f.svc.AddProduct(context.Background(), sess, AddProductInput{ProductID: p.ID, Quantity: 1})

	assert.ErrorIs(t, err, repository.ErrProductNotFound)
}

func TestCartService_CatalogFailureIsWrapped(t *testing.T) {
	f := newFixture(t)
	f.catalog.err = errors.New("connection refused")

	_, err := f.svc.AddProduct(context.Background(), guest("g1"), AddProductInput{ProductID: uuid.New(), Quantity: 1})

	require.Error(t, err)
	assert.NotErrorIs(t, err, repository.ErrProductNotFound)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestCartService_AddServicePricesByPetSize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	serviceID := uuid.New()
	f.servicePrice(t, serviceID, "", 400)
	f.servicePrice(t, serviceID, domain.PetSizeGiant, 900)

	sess := guest("g1")
	rex := &domain.PetBinding{PetID: "rex", PetName: "Rex", PetSize: domain.PetSizeGiant}
	mia := &domain.PetBinding{PetID: "mia", PetName: "Mia", PetSize: domain.PetSizeMini}

	_, err := f.svc.AddService(ctx, sess, AddServiceInput{ServiceID: serviceID, Quantity: 1, Pet: rex})
	require.NoError(t, err)
	res, err := f.svc.AddService(ctx, sess, AddServiceInput{ServiceID: serviceID, Quantity: 1, Pet: mia})
	require.NoError(t, err)

	require.Len(t, res.Snapshot.Items, 2)
	assert.True(t, decimal.NewFromInt(900).Equal(res.Snapshot.Items[0].UnitPrice))
	assert.True(t, decimal.NewFromInt(400).Equal(res.Snapshot.Items[1].UnitPrice))
	assert.Equal(t, []domain.PetSize{domain.PetSizeGiant, domain.PetSizeMini}, f.catalog.sizesSeen)

	organized := f.svc.Organized(ctx, sess)
	require.Len(t, organized.ServiceGroups, 1)
	assert.Len(t, organized.ServiceGroups[0].Pets, 2)
	assert.Equal(t, 2, organized.ItemCount)
	assert.True(t, decimal.NewFromInt(1300).Equal(organized.Total))
}

func TestCartService_AddServiceUnknownPrice(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.AddService(context.Background(), guest("g1"), AddServiceInput{ServiceID: uuid.New(), Quantity: 1})

	assert.ErrorIs(t, err, repository.ErrServicePriceNotFound)
}

func TestCartService_SessionsAreIsolated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, 1000, nil)

	_, err := f.svc.AddProduct(ctx, guest("g1"), AddProductInput{ProductID: p.ID, Quantity: 2})
	require.NoError(t, err)

	assert.Equal(t, 2, f.svc.Get(ctx, guest("g1")).ItemCount)
	assert.Equal(t, 0, f.svc.Get(ctx, guest("g2")).ItemCount)

	other := Session{Key: cart.Key{TenantID: "other-clinic", SessionKey: "g1"}}
	assert.Equal(t, 0, f.svc.Get(ctx, other).ItemCount)
}

func TestCartService_UpdateRemoveClear(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := guest("g1")
	a := f.product(t, 100, nil)
	b := f.product(t, 200, nil)

	_, err := f.svc.AddProduct(ctx, sess, AddProductInput{ProductID: a.ID, Quantity: 1})
	require.NoError(t, err)
	_, err = f.svc.AddProduct(ctx, sess, AddProductInput{ProductID: b.ID, Quantity: 1})
	require.NoError(t, err)

	lineA := "product:" + a.ID.String()
	res := f.svc.UpdateQuantity(ctx, sess, lineA, -1)
	assert.True(t, res.Success)
	assert.Len(t, res.Snapshot.Items, 1)

	res = f.svc.UpdateQuantity(ctx, sess, lineA, 1)
	assert.False(t, res.Success)

	snap := f.svc.RemoveItem(ctx, sess, "product:"+b.ID.String())
	assert.Empty(t, snap.Items)

	_, err = f.svc.AddProduct(ctx, sess, AddProductInput{ProductID: a.ID, Quantity: 4})
	require.NoError(t, err)
	snap = f.svc.Clear(ctx, sess)
	assert.Empty(t, snap.Items)
	assert.True(t, snap.Total.IsZero())
}

func TestCartService_StockStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := guest("g1")
	p := f.product(t, 100, intPtr(5))

	_, err := f.svc.AddProduct(ctx, sess, AddProductInput{ProductID: p.ID, Quantity: 3})
	require.NoError(t, err)

	status, err := f.svc.StockStatus(ctx, sess, "product:"+p.ID.String())
	require.NoError(t, err)
	require.NotNil(t, status.Available)
	assert.Equal(t, 2, *status.Available)
	assert.True(t, status.NearLimit)
	assert.False(t, status.AtLimit)

	_, err = f.svc.StockStatus(ctx, sess, "product:missing")
	assert.ErrorIs(t, err, ErrLineNotFound)
}

func TestCartService_AuthenticatedFlagFollowsSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := cart.Key{TenantID: testTenant, SessionKey: "user-7"}

	assert.True(t, f.svc.Get(ctx, Session{Key: key, Authenticated: true}).Authenticated)
	assert.False(t, f.svc.Get(ctx, Session{Key: key}).Authenticated)
}

func TestCartService_EvictedCartIsRestoredFromStorage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := guest("g1")
	p := f.product(t, 250, intPtr(10))

	_, err := f.svc.AddProduct(ctx, sess, AddProductInput{ProductID: p.ID, Quantity: 4})
	require.NoError(t, err)

	assert.Equal(t, 0, f.svc.EvictIdle())

	f.clock.Advance(11 * time.Minute)
	assert.Equal(t, 1, f.svc.EvictIdle())

	snap := f.svc.Get(ctx, sess)
	require.Len(t, snap.Items, 1)
	assert.Equal(t, 4, snap.Items[0].Quantity)
	require.NotNil(t, snap.Items[0].StockCeiling)
	assert.Equal(t, 10, *snap.Items[0].StockCeiling)
	assert.True(t, decimal.NewFromInt(1000).Equal(snap.Total))
}

func TestCartService_Merge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := Session{Key: cart.Key{TenantID: testTenant, SessionKey: "user:7"}, Authenticated: true}
	visitor := guest("guest:1")
	kibble := f.product(t, 100, intPtr(5))
	leash := f.product(t, 50, nil)

	_, err := f.svc.AddProduct(ctx, user, AddProductInput{ProductID: kibble.ID, Quantity: 2})
	require.NoError(t, err)
	_, err = f.svc.AddProduct(ctx, visitor, AddProductInput{ProductID: kibble.ID, Quantity: 4})
	require.NoError(t, err)
	_, err = f.svc.AddProduct(ctx, visitor, AddProductInput{ProductID: leash.ID, Quantity: 1})
	require.NoError(t, err)

	res := f.svc.Merge(ctx, user, visitor.Key)

	assert.True(t, res.Success)
	require.Len(t, res.Snapshot.Items, 2)
	assert.Equal(t, 4, res.Snapshot.Items[0].Quantity)
	assert.Equal(t, "product:"+leash.ID.String(), res.Snapshot.Items[1].ID)
	assert.True(t, res.Snapshot.Authenticated)

	assert.Empty(t, f.svc.Get(ctx, visitor).Items)
	_, err = f.storage.Load(ctx, visitor.Key)
	assert.ErrorIs(t, err, cart.ErrNotFound)
}

func TestCartService_MergeUsesStoredGuestLines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := Session{Key: cart.Key{TenantID: testTenant, SessionKey: "user:7"}, Authenticated: true}
	visitor := guest("guest:1")
	p := f.product(t, 100, intPtr(3))

	_, err := f.svc.AddProduct(ctx, visitor, AddProductInput{ProductID: p.ID, Quantity: 3})
	require.NoError(t, err)

	res := f.svc.Merge(ctx, user, visitor.Key)

	require.True(t, res.Success)
	require.Len(t, res.Snapshot.Items, 1)
	line := res.Snapshot.Items[0]
	assert.True(t, decimal.NewFromInt(100).Equal(line.UnitPrice))
	require.NotNil(t, line.StockCeiling)
	assert.Equal(t, 3, *line.StockCeiling)

	blocked, err := f.svc.AddProduct(ctx, user, AddProductInput{ProductID: p.ID, Quantity: 1})
	require.NoError(t, err)
	assert.False(t, blocked.Success)
	assert.True(t, blocked.LimitedByStock)
}

func TestCartService_MergeEmptyOrSameCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := Session{Key: cart.Key{TenantID: testTenant, SessionKey: "user:7"}, Authenticated: true}
	p := f.product(t, 100, nil)

	_, err := f.svc.AddProduct(ctx, user, AddProductInput{ProductID: p.ID, Quantity: 2})
	require.NoError(t, err)

	res := f.svc.Merge(ctx, user, guest("guest:none").Key)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Snapshot.ItemCount)

	res = f.svc.Merge(ctx, user, user.Key)
	assert.False(t, res.Success)
	assert.Equal(t, 2, res.Snapshot.ItemCount)
}

func TestCartService_CompleteCheckout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := guest("g1")
	p := f.product(t, 100, nil)

	_, err := f.svc.AddProduct(ctx, sess, AddProductInput{ProductID: p.ID, Quantity: 2})
	require.NoError(t, err)

	require.NoError(t, f.svc.CompleteCheckout(ctx, sess.Key))

	_, err = f.storage.Load(ctx, sess.Key)
	assert.ErrorIs(t, err, cart.ErrNotFound)
	assert.Empty(t, f.svc.Get(ctx, sess).Items)
}

func TestCartService_RunStopsWithContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		f.svc.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// Feature: vet-cart, Property 22: Concurrent adds on one session never exceed the ceiling
func TestProperty_ConcurrentAddsRespectCeiling(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("n parallel single-unit adds leave min(n, stock) units", prop.ForAll(
		func(workers int, stock int) bool {
			f := newFixture(t)
			ctx := context.Background()
			p := f.product(t, 100, intPtr(stock))
			sess := guest("g1")

			var wg sync.WaitGroup
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, _ = f.svc.AddProduct(ctx, sess, AddProductInput{ProductID: p.ID, Quantity: 1})
				}()
			}
			wg.Wait()

			want := min(workers, stock)
			snap := f.svc.Get(ctx, sess)
			if want == 0 {
				return len(snap.Items) == 0
			}
			return len(snap.Items) == 1 && snap.ItemCount == want
		},
		gen.IntRange(1, 40),
		gen.IntRange(0, 30),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
