package account

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-memory account store for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	byID     map[string]*Account
	byWallet map[string]string // sanitized address -> account ID
	byHandle map[string]string // lowercased handle -> account ID
}

// NewMemoryStore creates an empty in-memory account store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:     make(map[string]*Account),
		byWallet: make(map[string]string),
		byHandle: make(map[string]string),
	}
}

func (s *MemoryStore) Create(ctx context.Context, a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	handle := strings.ToLower(a.Handle)
	if _, taken := s.byHandle[handle]; taken {
		return ErrHandleTaken
	}
	wallet := strings.ToLower(a.WalletAddress)
	if wallet != "" {
		if _, linked := s.byWallet[wallet]; linked {
			return ErrWalletLinked
		}
	}

	cp := *a
	s.byID[cp.ID] = &cp
	s.byHandle[handle] = cp.ID
	if wallet != "" {
		s.byWallet[wallet] = cp.ID
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) GetByWallet(ctx context.Context, address string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byWallet[strings.ToLower(address)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.byID[id]
	return &cp, nil
}

func (s *MemoryStore) GetByHandle(ctx context.Context, handle string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byHandle[strings.ToLower(handle)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.byID[id]
	return &cp, nil
}

func (s *MemoryStore) Update(ctx context.Context, a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.byID[a.ID]
	if !ok {
		return ErrNotFound
	}

	wallet := strings.ToLower(a.WalletAddress)
	if wallet != "" && wallet != strings.ToLower(prev.WalletAddress) {
		if owner, linked := s.byWallet[wallet]; linked && owner != a.ID {
			return ErrWalletLinked
		}
		if prev.WalletAddress != "" {
			delete(s.byWallet, strings.ToLower(prev.WalletAddress))
		}
		s.byWallet[wallet] = a.ID
	}

	cp := *a
	s.byID[cp.ID] = &cp
	return nil
}

func (s *MemoryStore) List(ctx context.Context, limit, offset int) ([]*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.byID))
	for id := range s.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []*Account
	for i := offset; i < len(ids) && len(out) < limit; i++ {
		cp := *s.byID[ids[i]]
		out = append(out, &cp)
	}
	return out, nil
}
