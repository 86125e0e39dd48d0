// Package payments orchestrates currency flows between the chain and
// the ledger: top-ups (verify an on-chain payment, then credit) and
// withdrawals (debit first, then pay out from the treasury, crediting
// back if the payout fails).
package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/blastwheelz/backend/internal/account"
	"github.com/blastwheelz/backend/internal/ledger"
	"github.com/blastwheelz/backend/internal/wheelz"
)

var (
	ErrPaymentNotVerified = errors.New("payments: payment not verified on chain")
	ErrNoWalletLinked     = errors.New("payments: account has no wallet linked")
	ErrBelowMinimum       = errors.New("payments: amount below minimum top-up")
	ErrExceedsLimit       = errors.New("payments: amount exceeds withdrawal limit")
	ErrTransferFailed     = errors.New("payments: treasury transfer failed")
)

// PaymentVerifier checks a chain payment digest against the treasury.
type PaymentVerifier interface {
	VerifyPayment(ctx context.Context, digest string, expected *big.Int, payer string) bool
}

// Payout executes treasury-initiated token transfers.
type Payout interface {
	Address() string
	TransferTokens(ctx context.Context, recipient string, amount *big.Int) (string, error)
}

// Config holds the payment limits.
type Config struct {
	CoinType      string
	MinTopUp      decimal.Decimal // zero disables the floor
	MaxWithdrawal decimal.Decimal // zero disables the cap
}

// Service is the currency purchase orchestrator.
type Service struct {
	ledger   *ledger.Ledger
	accounts account.Store
	verifier PaymentVerifier
	payout   Payout
	convert  *wheelz.Converter
	cfg      Config
	logger   *slog.Logger
}

// NewService creates a payments service.
func NewService(lgr *ledger.Ledger, accounts account.Store, v PaymentVerifier, payout Payout, convert *wheelz.Converter, cfg Config, logger *slog.Logger) *Service {
	return &Service{
		ledger:   lgr,
		accounts: accounts,
		verifier: v,
		payout:   payout,
		convert:  convert,
		cfg:      cfg,
		logger:   logger,
	}
}

// Quote is step one of an automated top-up: where to pay and exactly
// how much, in smallest on-chain units.
type Quote struct {
	TreasuryAddress string          `json:"treasuryAddress"`
	CoinType        string          `json:"coinType"`
	Amount          decimal.Decimal `json:"amount"`
	AmountUnits     string          `json:"amountUnits"`
}

// TopUpQuote computes the payment instructions for a wheelz amount.
func (s *Service) TopUpQuote(ctx context.Context, accountID string, amount decimal.Decimal) (*Quote, error) {
	if err := s.checkTopUpAmount(amount); err != nil {
		return nil, err
	}
	units, err := s.convert.ToTokenUnits(amount)
	if err != nil {
		return nil, err
	}
	return &Quote{
		TreasuryAddress: s.payout.Address(),
		CoinType:        s.cfg.CoinType,
		Amount:          amount,
		AmountUnits:     units.String(),
	}, nil
}

// TopUp verifies the payment digest against the treasury and credits
// the wheelz amount. Idempotent per digest: a reused digest fails with
// ledger.ErrDuplicateReference and credits nothing.
func (s *Service) TopUp(ctx context.Context, accountID string, amount decimal.Decimal, digest string) (*ledger.Result, error) {
	if err := s.checkTopUpAmount(amount); err != nil {
		return nil, err
	}
	units, err := s.convert.ToTokenUnits(amount)
	if err != nil {
		return nil, err
	}

	// Sender check only when the account has a wallet on file.
	payer := ""
	if a, err := s.accounts.Get(ctx, accountID); err == nil {
		payer = a.WalletAddress
	}

	if !s.verifier.VerifyPayment(ctx, digest, units, payer) {
		return nil, ErrPaymentNotVerified
	}

	res, err := s.ledger.Credit(ctx, ledger.Entry{
		AccountID: accountID,
		Amount:    amount,
		Kind:      ledger.KindCurrencyPurchase,
		Digest:    digest,
		Cause:     "currency_topup",
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("top-up credited",
		"account", accountID, "amount", amount, "digest", digest)
	return res, nil
}

// WithdrawResult reports a completed withdrawal.
type WithdrawResult struct {
	RecordID    string          `json:"recordId"`
	Digest      string          `json:"digest"`
	AmountUnits string          `json:"amountUnits"`
	NewBalance  decimal.Decimal `json:"newBalance"`
}

// Withdraw debits the wheelz amount and pays out the equivalent tokens
// from the treasury to the account's linked wallet. If the chain
// transfer fails the debit is reversed and the record marked failed, so
// the balance ends where it started.
func (s *Service) Withdraw(ctx context.Context, accountID string, amount decimal.Decimal) (*WithdrawResult, error) {
	wallet, err := s.requireWallet(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if err := s.checkWithdrawAmount(amount); err != nil {
		return nil, err
	}
	units, err := s.convert.ToTokenUnits(amount)
	if err != nil {
		return nil, err
	}

	// Debit before touching the chain: the pending record holds the
	// funds and is the thing we reverse on failure.
	res, err := s.ledger.Debit(ctx, ledger.Entry{
		AccountID: accountID,
		Amount:    amount,
		Kind:      ledger.KindCurrencyWithdrawal,
		Cause:     "withdrawal",
		Metadata:  map[string]string{ledger.MetaCounterpart: wallet},
		Pending:   true,
	})
	if err != nil {
		return nil, err
	}

	digest, err := s.payout.TransferTokens(ctx, wallet, units)
	if err != nil {
		s.compensate(ctx, res.Record.ID, accountID, err)
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	if err := s.ledger.Complete(ctx, res.Record.ID, digest, nil); err != nil {
		// Tokens are on chain; the record stays pending for admin
		// reconciliation rather than risking a double payout.
		s.logger.Error("withdrawal record completion failed",
			"account", accountID, "record", res.Record.ID, "digest", digest, "error", err)
	}

	s.logger.Info("withdrawal paid out",
		"account", accountID, "amount", amount, "digest", digest)

	return &WithdrawResult{
		RecordID:    res.Record.ID,
		Digest:      digest,
		AmountUnits: units.String(),
		NewBalance:  res.NewBalance,
	}, nil
}

// RequestWithdrawal debits the amount into a pending record that waits
// for admin approval. The pre-deducted funds come back on rejection.
func (s *Service) RequestWithdrawal(ctx context.Context, accountID string, amount decimal.Decimal) (*ledger.Result, error) {
	wallet, err := s.requireWallet(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if err := s.checkWithdrawAmount(amount); err != nil {
		return nil, err
	}

	res, err := s.ledger.Debit(ctx, ledger.Entry{
		AccountID: accountID,
		Amount:    amount,
		Kind:      ledger.KindCurrencyWithdrawal,
		Cause:     "withdrawal_request",
		Metadata: map[string]string{
			ledger.MetaCounterpart: wallet,
			ledger.MetaPreDeducted: "true",
		},
		Pending: true,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("withdrawal requested",
		"account", accountID, "amount", amount, "record", res.Record.ID)
	return res, nil
}

func (s *Service) compensate(ctx context.Context, recordID, accountID string, cause error) {
	meta := map[string]string{ledger.MetaChainError: cause.Error()}
	if err := s.ledger.ReverseWithMeta(ctx, recordID, meta); err != nil {
		// Funds stuck in a pending record; loud log for operators.
		s.logger.Error("compensating credit failed after transfer error",
			"account", accountID, "record", recordID, "transferError", cause, "error", err)
		return
	}
	s.logger.Warn("withdrawal reversed after transfer failure",
		"account", accountID, "record", recordID, "error", cause)
}

func (s *Service) requireWallet(ctx context.Context, accountID string) (string, error) {
	a, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		return "", err
	}
	if a.WalletAddress == "" {
		return "", ErrNoWalletLinked
	}
	return a.WalletAddress, nil
}

func (s *Service) checkTopUpAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return wheelz.ErrNotPositive
	}
	if s.cfg.MinTopUp.IsPositive() && amount.LessThan(s.cfg.MinTopUp) {
		return ErrBelowMinimum
	}
	return nil
}

func (s *Service) checkWithdrawAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return wheelz.ErrNotPositive
	}
	if s.cfg.MaxWithdrawal.IsPositive() && amount.GreaterThan(s.cfg.MaxWithdrawal) {
		return ErrExceedsLimit
	}
	return nil
}
