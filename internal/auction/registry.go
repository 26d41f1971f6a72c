package auction

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Registry is the in-memory Item Registry. Reads return copies, so a snapshot
// never changes under the caller.
type Registry struct {
	mu    sync.RWMutex
	items map[string]*AuctionItem
}

func NewRegistry() *Registry {
	return &Registry{items: make(map[string]*AuctionItem)}
}

func (r *Registry) CreateItem(_ context.Context, item AuctionItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[item.ID]; ok {
		return fmt.Errorf("item %s already registered", item.ID)
	}
	it := item
	r.items[item.ID] = &it
	return nil
}

func (r *Registry) GetItem(_ context.Context, id string) (AuctionItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	it, ok := r.items[id]
	if !ok {
		return AuctionItem{}, ErrItemNotFound
	}
	return *it, nil
}

func (r *Registry) TryUpdatePrice(_ context.Context, id string, newPrice int64, newWinner string, expectedPrice int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[id]
	if !ok {
		return false, ErrItemNotFound
	}
	if it.Ended {
		return false, ErrAuctionNotActive
	}
	if it.CurrentPrice != expectedPrice {
		return false, nil
	}
	if newPrice <= it.CurrentPrice {
		return false, fmt.Errorf("price must increase: %d -> %d", it.CurrentPrice, newPrice)
	}
	it.CurrentPrice = newPrice
	it.CurrentWinner = newWinner
	it.UpdatedAt = time.Now()
	return true, nil
}

func (r *Registry) MarkStarted(_ context.Context, id string, at time.Time) error {
	return r.mutate(id, func(it *AuctionItem) {
		it.Started = true
		it.UpdatedAt = at
	})
}

func (r *Registry) MarkEnded(_ context.Context, id string, at time.Time) error {
	return r.mutate(id, func(it *AuctionItem) {
		it.Started = true
		it.Ended = true
		it.UpdatedAt = at
	})
}

func (r *Registry) mutate(id string, fn func(*AuctionItem)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[id]
	if !ok {
		return ErrItemNotFound
	}
	fn(it)
	return nil
}
