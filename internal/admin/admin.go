// Package admin provides the privileged reconciliation surface:
// balance adjustments and review of pending withdrawal requests.
//
// Every operation here is audited: the actor lands in the transaction
// record metadata and in the log line, with no way to opt out.
package admin

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
	ErrUnknownOperation = errors.New("admin: unknown balance operation")
	ErrNotWithdrawal    = errors.New("admin: record is not a withdrawal request")
	ErrNoDestination    = errors.New("admin: no payout wallet on record or account")
	ErrTransferFailed   = errors.New("admin: treasury transfer failed")
)

// Operation selects how a balance adjustment applies.
type Operation string

const (
	OpSet       Operation = "set"
	OpIncrement Operation = "increment"
	OpDecrement Operation = "decrement"
)

// Payout executes treasury-initiated token transfers.
type Payout interface {
	TransferTokens(ctx context.Context, recipient string, amount *big.Int) (string, error)
}

// Service implements the reconciliation operations.
type Service struct {
	ledger   *ledger.Ledger
	accounts account.Store
	payout   Payout
	convert  *wheelz.Converter
	logger   *slog.Logger
}

// NewService creates an admin service.
func NewService(lgr *ledger.Ledger, accounts account.Store, payout Payout, convert *wheelz.Converter, logger *slog.Logger) *Service {
	return &Service{
		ledger:   lgr,
		accounts: accounts,
		payout:   payout,
		convert:  convert,
		logger:   logger,
	}
}

// AdjustBalance applies a privileged balance change and returns the
// audited result.
func (s *Service) AdjustBalance(ctx context.Context, accountID string, amount decimal.Decimal, op Operation, actor string) (*ledger.Result, error) {
	if _, err := s.accounts.Get(ctx, accountID); err != nil {
		return nil, err
	}

	var (
		res *ledger.Result
		err error
	)
	switch op {
	case OpSet:
		res, err = s.ledger.SetBalance(ctx, accountID, amount, actor)
	case OpIncrement:
		res, err = s.ledger.Credit(ctx, ledger.Entry{
			AccountID: accountID,
			Amount:    amount,
			Kind:      ledger.KindDeposit,
			Cause:     "admin_adjust",
			Metadata:  map[string]string{ledger.MetaAdjustedBy: actor},
		})
	case OpDecrement:
		res, err = s.ledger.Debit(ctx, ledger.Entry{
			AccountID: accountID,
			Amount:    amount,
			Kind:      ledger.KindWithdrawal,
			Cause:     "admin_adjust",
			Metadata:  map[string]string{ledger.MetaAdjustedBy: actor},
		})
	default:
		return nil, ErrUnknownOperation
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("admin balance adjustment",
		"account", accountID, "operation", op, "amount", amount,
		"newBalance", res.NewBalance, "actor", actor)
	return res, nil
}

// PendingWithdrawals lists withdrawal requests awaiting review. Only
// pre-deducted requests are reviewable; pending records left by
// in-flight immediate withdrawals never appear here.
func (s *Service) PendingWithdrawals(ctx context.Context, limit int) ([]*ledger.Record, error) {
	recs, err := s.ledger.PendingWithdrawals(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := recs[:0]
	for _, rec := range recs {
		if rec.Metadata[ledger.MetaPreDeducted] == "true" {
			out = append(out, rec)
		}
	}
	return out, nil
}

// ApproveWithdrawal executes the treasury payout for a pending request
// and completes its record. The funds were pre-deducted at request
// time, so a chain failure leaves the record pending for another try.
func (s *Service) ApproveWithdrawal(ctx context.Context, recordID, actor string) (*ledger.Record, error) {
	rec, wallet, err := s.pendingWithdrawal(ctx, recordID)
	if err != nil {
		return nil, err
	}

	units, err := s.convert.ToTokenUnits(rec.Amount)
	if err != nil {
		return nil, err
	}

	digest, err := s.payout.TransferTokens(ctx, wallet, units)
	if err != nil {
		s.logger.Error("withdrawal approval transfer failed",
			"record", recordID, "actor", actor, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	meta := map[string]string{ledger.MetaApprovedBy: actor}
	if err := s.ledger.Complete(ctx, recordID, digest, meta); err != nil {
		// Paid but not marked: leave it to reconciliation, never pay twice.
		s.logger.Error("withdrawal completion failed after payout",
			"record", recordID, "digest", digest, "error", err)
		return nil, err
	}

	s.logger.Info("withdrawal approved",
		"record", recordID, "digest", digest, "actor", actor)
	return s.ledger.Record(ctx, recordID)
}

// RejectWithdrawal returns the pre-deducted funds and marks the record
// failed with the reason.
func (s *Service) RejectWithdrawal(ctx context.Context, recordID, reason, actor string) (*ledger.Record, error) {
	rec, _, err := s.pendingWithdrawal(ctx, recordID)
	if err != nil {
		return nil, err
	}

	meta := map[string]string{
		ledger.MetaRejectionReason: reason,
		ledger.MetaAdjustedBy:      actor,
	}
	if err := s.ledger.ReverseWithMeta(ctx, recordID, meta); err != nil {
		return nil, err
	}

	s.logger.Info("withdrawal rejected",
		"record", recordID, "account", rec.AccountID, "reason", reason, "actor", actor)
	return s.ledger.Record(ctx, recordID)
}

// pendingWithdrawal loads a record and checks it is a withdrawal
// request with a payout destination.
func (s *Service) pendingWithdrawal(ctx context.Context, recordID string) (*ledger.Record, string, error) {
	rec, err := s.ledger.Record(ctx, recordID)
	if err != nil {
		return nil, "", err
	}
	if rec.Kind != ledger.KindCurrencyWithdrawal {
		return nil, "", ErrNotWithdrawal
	}
	if rec.Status != ledger.StatusPending {
		return nil, "", ledger.ErrAlreadyProcessed
	}
	// An immediate withdrawal also sits pending while (or after) its
	// payout runs; approving it would pay the same debit twice, and
	// rejecting it would re-credit funds already on chain.
	if rec.Metadata[ledger.MetaPreDeducted] != "true" {
		return nil, "", ErrNotWithdrawal
	}

	wallet := rec.Metadata[ledger.MetaCounterpart]
	if wallet == "" {
		a, err := s.accounts.Get(ctx, rec.AccountID)
		if err != nil {
			return nil, "", err
		}
		wallet = a.WalletAddress
	}
	if wallet == "" {
		return nil, "", ErrNoDestination
	}
	return rec, wallet, nil
}
