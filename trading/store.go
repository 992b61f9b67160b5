package trading

import (
	"fmt"
	"sort"
	"sync"
)

// OrderStore is the authoritative in-memory order record. The book is a
// rebuildable projection of it. An archive hook mirrors every save to
// durable storage when configured.
type OrderStore struct {
	mu      sync.RWMutex
	orders  map[string]*Order
	byUser  map[string][]string
	archive func(Order)
}

func NewOrderStore() *OrderStore {
	return &OrderStore{
		orders: make(map[string]*Order),
		byUser: make(map[string][]string),
	}
}

// SetArchive installs the durable-store mirror.
func (s *OrderStore) SetArchive(fn func(Order)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archive = fn
}

// Put registers a new order.
func (s *OrderStore) Put(o *Order) {
	s.mu.Lock()
	s.orders[o.ID] = o
	s.byUser[o.UserID] = append(s.byUser[o.UserID], o.ID)
	archive := s.archive
	s.mu.Unlock()

	if archive != nil {
		archive(*o)
	}
}

// Save mirrors the current state of an already registered order.
func (s *OrderStore) Save(o *Order) {
	s.mu.RLock()
	archive := s.archive
	s.mu.RUnlock()
	if archive != nil {
		archive(*o)
	}
}

// Get returns the live order record.
func (s *OrderStore) Get(id string) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", ErrNotFound, id)
	}
	return o, nil
}

// ForUser returns copies of the user's orders, newest first. A non-empty
// status filters the listing.
func (s *OrderStore) ForUser(userID string, status Status, limit int) []Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byUser[userID]
	out := make([]Order, 0, len(ids))
	for _, id := range ids {
		o := s.orders[id]
		if status != "" && o.Status != status {
			continue
		}
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// OpenForUser returns the user's active orders, oldest first.
func (s *OrderStore) OpenForUser(userID string) []Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Order, 0)
	for _, id := range s.byUser[userID] {
		if o := s.orders[id]; o.Status.Active() {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
