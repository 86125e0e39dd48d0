package garage

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory garage store for development and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	assets []*Asset
	jobs   []*MintJob
	byID   map[string]*MintJob
}

// NewMemoryStore creates an empty in-memory garage store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*MintJob)}
}

func (m *MemoryStore) CreateAsset(ctx context.Context, a *Asset) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *a
	m.assets = append(m.assets, &cp)
	return nil
}

func (m *MemoryStore) ListAssets(ctx context.Context, accountID string, limit int) ([]*Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Asset
	for i := len(m.assets) - 1; i >= 0 && len(out) < limit; i-- {
		if m.assets[i].AccountID == accountID {
			cp := *m.assets[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) CreateJob(ctx context.Context, j *MintJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *j
	m.jobs = append(m.jobs, &cp)
	m.byID[cp.ID] = &cp
	return nil
}

func (m *MemoryStore) GetJob(ctx context.Context, id string) (*MintJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.byID[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *MemoryStore) PendingJobs(ctx context.Context, limit int) ([]*MintJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*MintJob
	for _, j := range m.jobs {
		if j.Status == JobPending {
			cp := *j
			out = append(out, &cp)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MemoryStore) UpdateJob(ctx context.Context, j *MintJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.byID[j.ID]
	if !ok {
		return ErrJobNotFound
	}
	*cur = *j
	return nil
}
