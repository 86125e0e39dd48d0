package market

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory market store for development and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	items     map[string]*Item
	order     []string // item insertion order
	purchases []*Purchase
	byID      map[string]*Purchase
}

// NewMemoryStore creates an empty in-memory market store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]*Item),
		byID:  make(map[string]*Purchase),
	}
}

func (m *MemoryStore) CreateItem(ctx context.Context, item *Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *item
	if item.Stock != nil {
		stock := *item.Stock
		cp.Stock = &stock
	}
	m.items[cp.ID] = &cp
	m.order = append(m.order, cp.ID)
	return nil
}

func (m *MemoryStore) GetItem(ctx context.Context, id string) (*Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.copyItem(id)
}

func (m *MemoryStore) UpdateItem(ctx context.Context, item *Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.items[item.ID]; !ok {
		return ErrItemNotFound
	}
	cp := *item
	if item.Stock != nil {
		stock := *item.Stock
		cp.Stock = &stock
	}
	m.items[cp.ID] = &cp
	return nil
}

func (m *MemoryStore) ListItems(ctx context.Context, includeInactive bool) ([]*Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Item
	for _, id := range m.order {
		item := m.items[id]
		if !includeInactive && item.Status != StatusActive {
			continue
		}
		cp, _ := m.copyItem(id)
		out = append(out, cp)
	}
	return out, nil
}

func (m *MemoryStore) DecrementStock(ctx context.Context, itemID string, qty int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[itemID]
	if !ok {
		return ErrItemNotFound
	}
	if item.Status != StatusActive {
		return ErrItemUnavailable
	}
	if item.Stock == nil {
		return nil
	}
	if *item.Stock < qty {
		return ErrOutOfStock
	}

	*item.Stock -= qty
	if *item.Stock == 0 {
		item.Status = StatusSoldOut
	}
	item.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) RestoreStock(ctx context.Context, itemID string, qty int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[itemID]
	if !ok {
		return ErrItemNotFound
	}
	if item.Stock == nil {
		return nil
	}

	*item.Stock += qty
	if item.Status == StatusSoldOut {
		item.Status = StatusActive
	}
	item.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) CreatePurchase(ctx context.Context, p *Purchase) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *p
	m.purchases = append(m.purchases, &cp)
	m.byID[cp.ID] = &cp
	return nil
}

func (m *MemoryStore) GetPurchase(ctx context.Context, id string) (*Purchase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.byID[id]
	if !ok {
		return nil, ErrPurchaseNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) ListPurchases(ctx context.Context, accountID string, limit int) ([]*Purchase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Purchase
	for i := len(m.purchases) - 1; i >= 0 && len(out) < limit; i-- {
		if m.purchases[i].AccountID == accountID {
			cp := *m.purchases[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

// copyItem returns a deep copy. Caller holds at least a read lock.
func (m *MemoryStore) copyItem(id string) (*Item, error) {
	item, ok := m.items[id]
	if !ok {
		return nil, ErrItemNotFound
	}
	cp := *item
	if item.Stock != nil {
		stock := *item.Stock
		cp.Stock = &stock
	}
	return &cp, nil
}
