// Package reconciliation checks that the treasury wallet holds enough
// tokens to cover every wheelz the ledger owes.
//
// Outstanding liability is the sum of all account balances plus
// pending pre-deducted withdrawals: wheelz that are no longer in a
// balance but whose payout has not left the treasury yet. The check
// converts that liability to token units and compares it against the
// treasury's coin balance on chain.
package reconciliation

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"github.com/blastwheelz/backend/internal/chain"
	"github.com/blastwheelz/backend/internal/ledger"
	"github.com/blastwheelz/backend/internal/wheelz"
)

// LedgerTotals sums ledger-side liabilities. *ledger.MemoryStore and
// *ledger.PostgresStore both satisfy it.
type LedgerTotals interface {
	SumBalances(ctx context.Context) (decimal.Decimal, error)
	SumByStatus(ctx context.Context, kind ledger.Kind, status ledger.Status) (decimal.Decimal, error)
}

// CoinLister reads coin balances from the chain. chain.Client
// satisfies it.
type CoinLister interface {
	GetCoins(ctx context.Context, owner, coinType string) ([]chain.Coin, error)
}

// Result is the outcome of one coverage check.
type Result struct {
	Covered         bool      `json:"covered"`
	TreasuryUnits   string    `json:"treasuryUnits"`
	LiabilityWheelz string    `json:"liabilityWheelz"`
	LiabilityUnits  string    `json:"liabilityUnits"`
	DriftUnits      string    `json:"driftUnits"` // treasury minus liability
	CheckedAt       time.Time `json:"checkedAt"`
}

// Config locates the treasury on chain.
type Config struct {
	TreasuryAddress string
	CoinType        string
}

// Service runs coverage checks.
type Service struct {
	totals    LedgerTotals
	coins     CoinLister
	convert   *wheelz.Converter
	cfg       Config
	threshold *big.Int // tolerated shortfall in token units
}

// NewService creates a reconciliation service. The default tolerance
// is one whole token of shortfall, absorbing rounding from per-payout
// unit conversion.
func NewService(totals LedgerTotals, coins CoinLister, convert *wheelz.Converter, cfg Config) *Service {
	return &Service{
		totals:    totals,
		coins:     coins,
		convert:   convert,
		cfg:       cfg,
		threshold: new(big.Int).Exp(big.NewInt(10), big.NewInt(wheelz.TokenDecimals), nil),
	}
}

// SetTolerance overrides the tolerated shortfall in token units.
func (s *Service) SetTolerance(units *big.Int) {
	if units != nil && units.Sign() >= 0 {
		s.threshold = units
	}
}

// Check compares the treasury coin balance against outstanding wheelz
// liability. Covered means the shortfall, if any, is within tolerance;
// a treasury surplus is always covered.
func (s *Service) Check(ctx context.Context) (*Result, error) {
	started := time.Now()
	res, err := s.check(ctx)
	observeRun(time.Since(started), res, err)
	return res, err
}

func (s *Service) check(ctx context.Context) (*Result, error) {
	balances, err := s.totals.SumBalances(ctx)
	if err != nil {
		return nil, fmt.Errorf("sum balances: %w", err)
	}
	pending, err := s.totals.SumByStatus(ctx, ledger.KindCurrencyWithdrawal, ledger.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("sum pending withdrawals: %w", err)
	}
	liability := balances.Add(pending)

	liabilityUnits := big.NewInt(0)
	if liability.IsPositive() {
		liabilityUnits, err = s.convert.ToTokenUnits(liability)
		if err != nil {
			return nil, fmt.Errorf("convert liability: %w", err)
		}
	}

	coins, err := s.coins.GetCoins(ctx, s.cfg.TreasuryAddress, s.cfg.CoinType)
	if err != nil {
		return nil, fmt.Errorf("treasury balance: %w", err)
	}
	treasury := big.NewInt(0)
	for _, coin := range coins {
		v, ok := new(big.Int).SetString(coin.Balance, 10)
		if !ok {
			return nil, fmt.Errorf("treasury balance: bad coin balance %q", coin.Balance)
		}
		treasury.Add(treasury, v)
	}

	drift := new(big.Int).Sub(treasury, liabilityUnits)
	shortfall := new(big.Int).Neg(drift)

	return &Result{
		Covered:         shortfall.Cmp(s.threshold) <= 0,
		TreasuryUnits:   treasury.String(),
		LiabilityWheelz: wheelz.Format(liability),
		LiabilityUnits:  liabilityUnits.String(),
		DriftUnits:      drift.String(),
		CheckedAt:       time.Now().UTC(),
	}, nil
}
