package repository

import (
	"context"
	"sync"

	"vet-cart/internal/cart"
)

type memoryCartRepository struct {
	mu    sync.RWMutex
	byKey map[cart.Key][]byte
}

// NewMemoryCartRepository keeps carts in process memory (dev and tests)
func NewMemoryCartRepository() CartRepository {
	return &memoryCartRepository{
		byKey: make(map[cart.Key][]byte),
	}
}

func (r *memoryCartRepository) Load(ctx context.Context, key cart.Key) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	payload, ok := r.byKey[key]
	if !ok {
		return nil, ErrCartNotFound
	}
	return append([]byte(nil), payload...), nil
}

func (r *memoryCartRepository) Save(ctx context.Context, key cart.Key, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byKey[key] = append([]byte(nil), payload...)
	return nil
}

func (r *memoryCartRepository) Delete(ctx context.Context, key cart.Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.byKey, key)
	return nil
}
