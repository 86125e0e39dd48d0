// Package ledger owns the authoritative off-chain wheelz balance per
// account and the append-only transaction log behind it.
//
// Every balance mutation in the system goes through this package: a
// single atomic store operation updates the balance and inserts the
// transaction record together, so the balance and its audit trail can
// never disagree. Chain transaction digests act as idempotency keys; a
// digest backs at most one record.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/blastwheelz/backend/internal/idgen"
	"github.com/blastwheelz/backend/internal/pagination"
)

func newRecordID() string {
	return idgen.WithPrefix("txn_")
}

var (
	ErrInvalidAmount       = errors.New("ledger: invalid amount")
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrDuplicateReference  = errors.New("ledger: chain reference already used")
	ErrRecordNotFound      = errors.New("ledger: record not found")
	ErrAlreadyProcessed    = errors.New("ledger: record already processed")
)

// Kind classifies a transaction record. The sign of the balance change
// is implied by the kind; amounts are stored unsigned.
type Kind string

const (
	KindDeposit            Kind = "deposit"
	KindWithdrawal         Kind = "withdrawal"
	KindCurrencyPurchase   Kind = "currency_purchase"
	KindCurrencyWithdrawal Kind = "currency_withdrawal"
	KindMarketPurchase     Kind = "marketplace_purchase"
	KindNFTPurchase        Kind = "nft_purchase"
)

// Credits reports whether records of this kind increase the balance.
func (k Kind) Credits() bool {
	return k == KindDeposit || k == KindCurrencyPurchase
}

// Status of a transaction record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Well-known metadata keys.
const (
	MetaCause           = "cause"
	MetaPriorBalance    = "prior_balance"
	MetaNewBalance      = "new_balance"
	MetaCounterpart     = "counterpart"
	MetaRejectionReason = "rejection_reason"
	MetaApprovedBy      = "approved_by"
	MetaAdjustedBy      = "adjusted_by"
	MetaChainError      = "chain_error"
	MetaPreDeducted     = "pre_deducted"
)

// Record is one append-only transaction log entry. Completed records
// are immutable except for metadata enrichment (approver, digest of a
// later payout).
type Record struct {
	ID        string            `json:"id"`
	AccountID string            `json:"accountId"`
	Kind      Kind              `json:"kind"`
	Amount    decimal.Decimal   `json:"amount"` // unsigned magnitude
	Digest    string            `json:"digest,omitempty"`
	Status    Status            `json:"status"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// Result of a balance mutation.
type Result struct {
	NewBalance decimal.Decimal `json:"newBalance"`
	Record     *Record         `json:"record"`
}

// Store persists balances and transaction records.
//
// Apply and Set must update the balance and insert the record in one
// atomic unit, and must populate the record's prior/new balance
// metadata from the committed values. Reverse must credit the record's
// amount back and flip its status in one atomic unit.
type Store interface {
	Balance(ctx context.Context, accountID string) (decimal.Decimal, error)
	// Apply adds delta (signed) to the account balance and inserts rec.
	// Fails with ErrInsufficientBalance when the result would be
	// negative and with ErrDuplicateReference when rec.Digest is
	// already present.
	Apply(ctx context.Context, accountID string, delta decimal.Decimal, rec *Record) (decimal.Decimal, error)
	// Set overwrites the account balance and inserts rec.
	Set(ctx context.Context, accountID string, amount decimal.Decimal, rec *Record) (decimal.Decimal, error)
	HasDigest(ctx context.Context, digest string) (bool, error)
	Record(ctx context.Context, id string) (*Record, error)
	// History returns records for an account, newest first. A non-nil
	// before cursor restricts results to records strictly older than it.
	History(ctx context.Context, accountID string, limit int, before *pagination.Cursor) ([]*Record, error)
	ListByStatus(ctx context.Context, kind Kind, status Status, limit int) ([]*Record, error)
	// SumBalances totals every account balance, for treasury coverage
	// checks.
	SumBalances(ctx context.Context) (decimal.Decimal, error)
	// SumByStatus totals record amounts for a kind and status.
	SumByStatus(ctx context.Context, kind Kind, status Status) (decimal.Decimal, error)
	// Complete flips a pending record to completed, optionally setting
	// its digest, and merges meta. ErrAlreadyProcessed when not pending.
	Complete(ctx context.Context, id, digest string, meta map[string]string) error
	// Reverse flips a pending record to failed and credits the debited
	// amount back to the account. ErrAlreadyProcessed when not pending.
	Reverse(ctx context.Context, id string, meta map[string]string) error
}

// Publisher receives committed ledger events (realtime feed). May be nil.
type Publisher interface {
	Publish(event string, payload any)
}

// Ledger is the balance service.
type Ledger struct {
	store   Store
	events  Publisher
	metrics *Metrics
}

// Option configures the ledger.
type Option func(*Ledger)

// WithPublisher wires committed mutations to an event feed.
func WithPublisher(p Publisher) Option {
	return func(l *Ledger) { l.events = p }
}

// WithMetrics wires prometheus counters.
func WithMetrics(m *Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// New creates a ledger over the given store.
func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{store: store}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Balance returns the account's current wheelz balance.
func (l *Ledger) Balance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	return l.store.Balance(ctx, accountID)
}

// History returns the most recent transaction records for an account.
func (l *Ledger) History(ctx context.Context, accountID string, limit int) ([]*Record, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return l.store.History(ctx, accountID, limit, nil)
}

// HistoryPage returns one page of transaction records plus an opaque
// cursor for the next page. An empty cursor starts from the newest
// record.
func (l *Ledger) HistoryPage(ctx context.Context, accountID string, limit int, cursor string) ([]*Record, string, bool, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	before, err := pagination.Decode(cursor)
	if err != nil {
		return nil, "", false, err
	}

	// Fetch one extra record to learn whether another page exists.
	records, err := l.store.History(ctx, accountID, limit+1, before)
	if err != nil {
		return nil, "", false, err
	}
	page, next, more := pagination.ComputePage(records, limit, func(r *Record) (time.Time, string) {
		return r.CreatedAt, r.ID
	})
	return page, next, more, nil
}

// Entry describes a balance mutation to record.
type Entry struct {
	AccountID string
	Amount    decimal.Decimal // unsigned, must be positive
	Kind      Kind
	Digest    string // chain reference, "" when none
	Cause     string
	Metadata  map[string]string
	Pending   bool // record as pending instead of completed
}

// Credit increases the account balance. When the entry carries a chain
// digest the operation is idempotent: a reused digest fails with
// ErrDuplicateReference before any mutation.
func (l *Ledger) Credit(ctx context.Context, e Entry) (*Result, error) {
	return l.apply(ctx, e, false)
}

// Debit decreases the account balance, failing with
// ErrInsufficientBalance when the balance would go negative.
func (l *Ledger) Debit(ctx context.Context, e Entry) (*Result, error) {
	return l.apply(ctx, e, true)
}

func (l *Ledger) apply(ctx context.Context, e Entry, debit bool) (*Result, error) {
	if !e.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if e.Kind == "" {
		return nil, ErrInvalidAmount
	}

	// Pre-check for reused digests so callers get a clean duplicate
	// error; the unique index is the backstop under races.
	if e.Digest != "" {
		used, err := l.store.HasDigest(ctx, e.Digest)
		if err != nil {
			return nil, err
		}
		if used {
			return nil, ErrDuplicateReference
		}
	}

	rec := l.newRecord(e)
	delta := e.Amount
	if debit {
		delta = delta.Neg()
	}

	newBalance, err := l.store.Apply(ctx, e.AccountID, delta, rec)
	if err != nil {
		return nil, err
	}

	l.committed(rec, newBalance)
	return &Result{NewBalance: newBalance, Record: rec}, nil
}

// RecordExternal writes a completed record without moving the balance,
// for purchases settled directly on chain. Digest idempotency applies
// exactly as for credits.
func (l *Ledger) RecordExternal(ctx context.Context, e Entry) (*Result, error) {
	if !e.Amount.IsPositive() || e.Kind == "" {
		return nil, ErrInvalidAmount
	}
	if e.Digest != "" {
		used, err := l.store.HasDigest(ctx, e.Digest)
		if err != nil {
			return nil, err
		}
		if used {
			return nil, ErrDuplicateReference
		}
	}

	rec := l.newRecord(e)
	newBalance, err := l.store.Apply(ctx, e.AccountID, decimal.Zero, rec)
	if err != nil {
		return nil, err
	}

	l.committed(rec, newBalance)
	return &Result{NewBalance: newBalance, Record: rec}, nil
}

// Adjust applies a signed amount with the kind derived from the sign:
// positive credits a deposit, negative debits a withdrawal. Zero is
// rejected.
func (l *Ledger) Adjust(ctx context.Context, accountID string, signed decimal.Decimal, cause string) (*Result, error) {
	if signed.IsZero() {
		return nil, ErrInvalidAmount
	}
	e := Entry{AccountID: accountID, Amount: signed.Abs(), Cause: cause}
	if signed.IsPositive() {
		e.Kind = KindDeposit
		return l.Credit(ctx, e)
	}
	e.Kind = KindWithdrawal
	return l.Debit(ctx, e)
}

// SetBalance overwrites the account balance (privileged). The change is
// always audited with a deposit or withdrawal record for the delta.
func (l *Ledger) SetBalance(ctx context.Context, accountID string, amount decimal.Decimal, actor string) (*Result, error) {
	if amount.IsNegative() {
		return nil, ErrInvalidAmount
	}

	prior, err := l.store.Balance(ctx, accountID)
	if err != nil {
		return nil, err
	}
	delta := amount.Sub(prior)
	kind := KindDeposit
	if delta.IsNegative() {
		kind = KindWithdrawal
	}

	rec := l.newRecord(Entry{
		AccountID: accountID,
		Amount:    delta.Abs(),
		Kind:      kind,
		Cause:     "admin_set_balance",
		Metadata:  map[string]string{MetaAdjustedBy: actor},
	})

	newBalance, err := l.store.Set(ctx, accountID, amount, rec)
	if err != nil {
		return nil, err
	}

	l.committed(rec, newBalance)
	return &Result{NewBalance: newBalance, Record: rec}, nil
}

// Record fetches one transaction record.
func (l *Ledger) Record(ctx context.Context, id string) (*Record, error) {
	return l.store.Record(ctx, id)
}

// PendingWithdrawals lists withdrawal requests awaiting admin review.
func (l *Ledger) PendingWithdrawals(ctx context.Context, limit int) ([]*Record, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return l.store.ListByStatus(ctx, KindCurrencyWithdrawal, StatusPending, limit)
}

// Complete marks a pending record completed, recording the payout
// digest and any enrichment metadata.
func (l *Ledger) Complete(ctx context.Context, id, digest string, meta map[string]string) error {
	err := l.store.Complete(ctx, id, digest, meta)
	if err == nil && l.events != nil {
		l.events.Publish("transaction.completed", map[string]string{"id": id, "digest": digest})
	}
	return err
}

// Reverse fails a pending record and returns its debited amount to the
// account. Used for both the compensating credit after a failed payout
// and admin rejection of a withdrawal request.
func (l *Ledger) Reverse(ctx context.Context, id, reason string) error {
	meta := map[string]string{}
	if reason != "" {
		meta[MetaRejectionReason] = reason
	}
	return l.ReverseWithMeta(ctx, id, meta)
}

// ReverseWithMeta is Reverse with caller-supplied metadata, for flows
// that need to record more than a reason (chain errors, payout digests).
func (l *Ledger) ReverseWithMeta(ctx context.Context, id string, meta map[string]string) error {
	err := l.store.Reverse(ctx, id, meta)
	if err == nil {
		if l.metrics != nil {
			l.metrics.Reversals.Inc()
		}
		if l.events != nil {
			l.events.Publish("transaction.reversed", map[string]string{"id": id, "reason": meta[MetaRejectionReason]})
		}
	}
	return err
}

func (l *Ledger) newRecord(e Entry) *Record {
	meta := make(map[string]string, len(e.Metadata)+3)
	for k, v := range e.Metadata {
		meta[k] = v
	}
	if e.Cause != "" {
		meta[MetaCause] = e.Cause
	}

	status := StatusCompleted
	if e.Pending {
		status = StatusPending
	}

	now := time.Now().UTC()
	return &Record{
		ID:        newRecordID(),
		AccountID: e.AccountID,
		Kind:      e.Kind,
		Amount:    e.Amount,
		Digest:    e.Digest,
		Status:    status,
		Metadata:  meta,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (l *Ledger) committed(rec *Record, newBalance decimal.Decimal) {
	if l.metrics != nil {
		l.metrics.Mutations.WithLabelValues(string(rec.Kind), string(rec.Status)).Inc()
	}
	if l.events != nil {
		l.events.Publish("transaction.recorded", map[string]any{
			"record":     rec,
			"newBalance": newBalance,
		})
	}
}
