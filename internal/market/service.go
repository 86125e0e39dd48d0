package market

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"github.com/blastwheelz/backend/internal/account"
	"github.com/blastwheelz/backend/internal/ledger"
	"github.com/blastwheelz/backend/internal/payments"
	"github.com/blastwheelz/backend/internal/wheelz"
)

// MaxQuantity caps units per purchase.
const MaxQuantity = 10

// MintOrder describes one NFT to mint for a committed car purchase.
type MintOrder struct {
	AccountID   string
	PurchaseID  string
	Recipient   string
	Name        string
	Description string
	ImageURL    string
	CarType     string
}

// MintEnqueuer accepts mint orders after a purchase commits. Enqueue
// failures must not fail the purchase.
type MintEnqueuer interface {
	EnqueueMint(ctx context.Context, order MintOrder) error
}

// PaymentVerifier checks a chain payment digest against the treasury.
type PaymentVerifier interface {
	VerifyPayment(ctx context.Context, digest string, expected *big.Int, payer string) bool
}

// Service orchestrates marketplace purchases.
type Service struct {
	store    Store
	accounts account.Store
	ledger   *ledger.Ledger
	verifier PaymentVerifier
	convert  *wheelz.Converter
	minter   MintEnqueuer
	metrics  *Metrics
	logger   *slog.Logger
}

// Option configures the service.
type Option func(*Service)

// WithMetrics wires prometheus counters.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService creates a market service. minter may be nil when minting
// is disabled (storeless dev runs).
func NewService(store Store, accounts account.Store, lgr *ledger.Ledger, v PaymentVerifier, convert *wheelz.Converter, minter MintEnqueuer, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:    store,
		accounts: accounts,
		ledger:   lgr,
		verifier: v,
		convert:  convert,
		minter:   minter,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PurchaseResult reports a committed purchase.
type PurchaseResult struct {
	Purchase   *Purchase       `json:"purchase"`
	NewBalance decimal.Decimal `json:"newBalance"`
	MintQueued int             `json:"mintQueued,omitempty"`
}

// Purchase buys qty units of an item for the account. Car items require
// a verified on-chain payment digest; other items are paid in wheelz.
func (s *Service) Purchase(ctx context.Context, accountID, itemID string, qty int, paymentDigest string) (*PurchaseResult, error) {
	if qty < 1 || qty > MaxQuantity {
		return nil, ErrInvalidQuantity
	}

	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	switch item.Status {
	case StatusActive:
	case StatusSoldOut:
		return nil, ErrOutOfStock
	default:
		return nil, ErrItemUnavailable
	}

	buyer, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if item.Type == TypeCar {
		if paymentDigest == "" {
			return nil, ErrPaymentRequired
		}
		if buyer.WalletAddress == "" {
			return nil, payments.ErrNoWalletLinked
		}
	}

	total := item.Price.Mul(decimal.NewFromInt(int64(qty)))

	// Take stock first; every payment failure below restores it.
	if err := s.store.DecrementStock(ctx, itemID, qty); err != nil {
		return nil, err
	}

	var (
		rec        *ledger.Result
		newBalance decimal.Decimal
	)
	if item.Type == TypeCar {
		rec, err = s.settleOnChain(ctx, buyer, item, total, paymentDigest)
	} else {
		rec, err = s.settleWithWheelz(ctx, accountID, item, total)
	}
	if err != nil {
		if restoreErr := s.store.RestoreStock(ctx, itemID, qty); restoreErr != nil {
			s.logger.Error("stock restore failed after payment error",
				"item", itemID, "qty", qty, "error", restoreErr)
		}
		return nil, err
	}
	newBalance = rec.NewBalance

	purchase := &Purchase{
		ID:             NewPurchaseID(),
		AccountID:      accountID,
		ItemID:         itemID,
		Quantity:       qty,
		Total:          total,
		Digest:         paymentDigest,
		LedgerRecordID: rec.Record.ID,
		CreatedAt:      time.Now().UTC(),
	}
	if item.Type != TypeCar {
		purchase.Digest = ""
	}
	if err := s.store.CreatePurchase(ctx, purchase); err != nil {
		// The money moved; losing the purchase row is worse than a
		// duplicate-looking ledger record, so surface loudly.
		s.logger.Error("purchase insert failed after settlement",
			"account", accountID, "item", itemID, "record", rec.Record.ID, "error", err)
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.Purchases.WithLabelValues(string(item.Type)).Inc()
		if item.Stock != nil && *item.Stock == qty {
			s.metrics.SoldOut.Inc()
		}
	}
	s.logger.Info("purchase committed",
		"account", accountID, "item", itemID, "qty", qty, "total", total, "type", item.Type)

	result := &PurchaseResult{Purchase: purchase, NewBalance: newBalance}

	// Mint after commit: a failed or queued mint never unwinds the
	// purchase, it just retries from the outbox.
	if item.Type == TypeCar && s.minter != nil {
		for i := 0; i < qty; i++ {
			order := MintOrder{
				AccountID:   accountID,
				PurchaseID:  purchase.ID,
				Recipient:   buyer.WalletAddress,
				Name:        item.Name,
				Description: item.Description,
				ImageURL:    item.ImageURL,
				CarType:     item.CarType,
			}
			if err := s.minter.EnqueueMint(ctx, order); err != nil {
				s.logger.Error("mint enqueue failed, purchase stands",
					"purchase", purchase.ID, "error", err)
				continue
			}
			result.MintQueued++
		}
	}

	return result, nil
}

func (s *Service) settleOnChain(ctx context.Context, buyer *account.Account, item *Item, total decimal.Decimal, digest string) (*ledger.Result, error) {
	units, err := s.convert.ToTokenUnits(total)
	if err != nil {
		return nil, err
	}
	if !s.verifier.VerifyPayment(ctx, digest, units, buyer.WalletAddress) {
		return nil, payments.ErrPaymentNotVerified
	}

	return s.ledger.RecordExternal(ctx, ledger.Entry{
		AccountID: buyer.ID,
		Amount:    total,
		Kind:      ledger.KindNFTPurchase,
		Digest:    digest,
		Cause:     "nft_purchase",
		Metadata:  map[string]string{"item_id": item.ID},
	})
}

func (s *Service) settleWithWheelz(ctx context.Context, accountID string, item *Item, total decimal.Decimal) (*ledger.Result, error) {
	return s.ledger.Debit(ctx, ledger.Entry{
		AccountID: accountID,
		Amount:    total,
		Kind:      ledger.KindMarketPurchase,
		Cause:     "marketplace_purchase",
		Metadata:  map[string]string{"item_id": item.ID},
	})
}

// Item returns one listing.
func (s *Service) Item(ctx context.Context, id string) (*Item, error) {
	return s.store.GetItem(ctx, id)
}

// Catalog lists purchasable items (plus inactive ones for admins).
func (s *Service) Catalog(ctx context.Context, includeInactive bool) ([]*Item, error) {
	return s.store.ListItems(ctx, includeInactive)
}

// Purchases lists the account's purchase history, newest first.
func (s *Service) Purchases(ctx context.Context, accountID string, limit int) ([]*Purchase, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListPurchases(ctx, accountID, limit)
}

// CreateItem validates and stores a new listing (privileged).
func (s *Service) CreateItem(ctx context.Context, item *Item) error {
	if !item.Type.Valid() {
		return ErrInvalidItemType
	}
	if !item.Price.IsPositive() {
		return wheelz.ErrNotPositive
	}
	if item.ID == "" {
		item.ID = NewItemID()
	}
	if item.Status == "" {
		item.Status = StatusActive
	}
	now := time.Now().UTC()
	item.CreatedAt = now
	item.UpdatedAt = now
	return s.store.CreateItem(ctx, item)
}

// UpdateItem applies changes to a listing (privileged).
func (s *Service) UpdateItem(ctx context.Context, item *Item) error {
	if !item.Type.Valid() {
		return ErrInvalidItemType
	}
	if !item.Price.IsPositive() {
		return wheelz.ErrNotPositive
	}
	item.UpdatedAt = time.Now().UTC()
	return s.store.UpdateItem(ctx, item)
}
