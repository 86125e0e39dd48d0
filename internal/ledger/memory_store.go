package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/blastwheelz/backend/internal/pagination"
)

// MemoryStore is an in-memory ledger store for development mode and
// tests. It provides the same atomicity guarantees as the Postgres
// store via a single mutex.
type MemoryStore struct {
	mu       sync.RWMutex
	balances map[string]decimal.Decimal
	records  []*Record
	byID     map[string]*Record
	digests  map[string]bool
}

// NewMemoryStore creates an empty in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[string]decimal.Decimal),
		byID:     make(map[string]*Record),
		digests:  make(map[string]bool),
	}
}

func (m *MemoryStore) Balance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balances[accountID], nil
}

func (m *MemoryStore) Apply(ctx context.Context, accountID string, delta decimal.Decimal, rec *Record) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec.Digest != "" && m.digests[rec.Digest] {
		return decimal.Zero, ErrDuplicateReference
	}

	prior := m.balances[accountID]
	next := prior.Add(delta)
	if next.IsNegative() {
		return decimal.Zero, ErrInsufficientBalance
	}

	m.balances[accountID] = next
	m.insert(rec, prior, next)
	return next, nil
}

func (m *MemoryStore) Set(ctx context.Context, accountID string, amount decimal.Decimal, rec *Record) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prior := m.balances[accountID]
	m.balances[accountID] = amount
	m.insert(rec, prior, amount)
	return amount, nil
}

// insert stores a copy of rec with balance snapshots. Caller holds mu.
func (m *MemoryStore) insert(rec *Record, prior, next decimal.Decimal) {
	if rec.Metadata == nil {
		rec.Metadata = make(map[string]string)
	}
	rec.Metadata[MetaPriorBalance] = prior.String()
	rec.Metadata[MetaNewBalance] = next.String()

	cp := *rec
	m.records = append(m.records, &cp)
	m.byID[cp.ID] = &cp
	if cp.Digest != "" {
		m.digests[cp.Digest] = true
	}
}

func (m *MemoryStore) HasDigest(ctx context.Context, digest string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.digests[digest], nil
}

func (m *MemoryStore) Record(ctx context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.byID[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryStore) History(ctx context.Context, accountID string, limit int, before *pagination.Cursor) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Record
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		rec := m.records[i]
		if rec.AccountID != accountID {
			continue
		}
		if before != nil && !olderThan(rec, before) {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}

// olderThan orders records the way the history index does: created_at
// descending with the ID as tiebreaker.
func olderThan(rec *Record, c *pagination.Cursor) bool {
	if rec.CreatedAt.Before(c.CreatedAt) {
		return true
	}
	return rec.CreatedAt.Equal(c.CreatedAt) && rec.ID < c.ID
}

func (m *MemoryStore) ListByStatus(ctx context.Context, kind Kind, status Status, limit int) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Record
	for _, rec := range m.records {
		if rec.Kind == kind && rec.Status == status {
			cp := *rec
			out = append(out, &cp)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MemoryStore) SumBalances(ctx context.Context) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := decimal.Zero
	for _, bal := range m.balances {
		total = total.Add(bal)
	}
	return total, nil
}

func (m *MemoryStore) SumByStatus(ctx context.Context, kind Kind, status Status) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := decimal.Zero
	for _, rec := range m.records {
		if rec.Kind == kind && rec.Status == status {
			total = total.Add(rec.Amount)
		}
	}
	return total, nil
}

func (m *MemoryStore) Complete(ctx context.Context, id, digest string, meta map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.byID[id]
	if !ok {
		return ErrRecordNotFound
	}
	if rec.Status != StatusPending {
		return ErrAlreadyProcessed
	}
	if digest != "" {
		if m.digests[digest] {
			return ErrDuplicateReference
		}
		rec.Digest = digest
		m.digests[digest] = true
	}
	mergeMeta(rec, meta)
	rec.Status = StatusCompleted
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) Reverse(ctx context.Context, id string, meta map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.byID[id]
	if !ok {
		return ErrRecordNotFound
	}
	if rec.Status != StatusPending {
		return ErrAlreadyProcessed
	}

	// Only debit kinds are reversible: the credit returns the held funds.
	m.balances[rec.AccountID] = m.balances[rec.AccountID].Add(rec.Amount)
	mergeMeta(rec, meta)
	rec.Status = StatusFailed
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func mergeMeta(rec *Record, meta map[string]string) {
	if len(meta) == 0 {
		return
	}
	if rec.Metadata == nil {
		rec.Metadata = make(map[string]string, len(meta))
	}
	for k, v := range meta {
		rec.Metadata[k] = v
	}
}
