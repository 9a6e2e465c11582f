package cart

import (
	"context"
	"errors"
	"sync"

	"vet-cart/internal/domain"

	"github.com/shopspring/decimal"
)

type fakeStorage struct {
	mu      sync.Mutex
	data    map[Key][]byte
	saves   int
	saveErr error
	loadErr error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{data: make(map[Key][]byte)}
}

func (f *fakeStorage) Load(ctx context.Context, key Key) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	data, ok := f.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

func (f *fakeStorage) Save(ctx context.Context, key Key, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	if f.saveErr != nil {
		return f.saveErr
	}
	f.data[key] = append([]byte(nil), payload...)
	return nil
}

func (f *fakeStorage) Delete(ctx context.Context, key Key) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

var errStorageDown = errors.New("storage down")

var testKey = Key{TenantID: "adris", SessionKey: "session-1"}

func openTestStore(storage Storage) *Store {
	return Open(context.Background(), testKey, storage, nil, Options{})
}

func intPtr(v int) *int {
	return &v
}

func productLine(productID string, price int64, ceiling *int) domain.CartLine {
	line := domain.CartLine{
		Kind:         domain.KindProduct,
		Name:         "Product " + productID,
		UnitPrice:    decimal.NewFromInt(price),
		StockCeiling: ceiling,
		ProductID:    productID,
	}
	line.ID = domain.IdentityKeyOf(line)
	return line
}

func petProductLine(productID string, price int64, petID string) domain.CartLine {
	line := productLine(productID, price, nil)
	line.Pet = &domain.PetBinding{PetID: petID, PetName: "Pet " + petID, PetSize: domain.PetSizeMedium}
	return line
}

func serviceLine(serviceID, variant, petID string, price int64) domain.CartLine {
	line := domain.CartLine{
		Kind:           domain.KindService,
		Name:           "Service " + serviceID,
		UnitPrice:      decimal.NewFromInt(price),
		ServiceID:      serviceID,
		ServiceVariant: variant,
	}
	if petID != "" {
		line.Pet = &domain.PetBinding{PetID: petID, PetName: "Pet " + petID, PetSize: domain.PetSizeSmall}
	}
	line.ID = domain.IdentityKeyOf(line)
	return line
}

func sumQuantities(lines []domain.CartLine) int {
	n := 0
	for _, l := range lines {
		n += l.Quantity
	}
	return n
}

func sumTotals(lines []domain.CartLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.LineTotal())
	}
	return total
}
