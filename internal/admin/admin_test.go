package admin

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blastwheelz/backend/internal/account"
	"github.com/blastwheelz/backend/internal/ledger"
	"github.com/blastwheelz/backend/internal/wheelz"
)

const testWallet = "0xffeeddccbbaa99887766554433221100ffeeddccbbaa99887766554433221100"

type fakePayout struct {
	digest    string
	err       error
	gotWallet string
	gotUnits  *big.Int
	calls     int
}

func (f *fakePayout) TransferTokens(ctx context.Context, recipient string, amount *big.Int) (string, error) {
	f.calls++
	f.gotWallet = recipient
	f.gotUnits = amount
	if f.err != nil {
		return "", f.err
	}
	return f.digest, nil
}

type env struct {
	svc      *Service
	ledger   *ledger.Ledger
	accounts *account.MemoryStore
	payout   *fakePayout
}

func newEnv(t *testing.T) *env {
	t.Helper()

	accounts := account.NewMemoryStore()
	require.NoError(t, accounts.Create(context.Background(), &account.Account{
		ID:            "acc_1",
		Handle:        "racer",
		WalletAddress: testWallet,
		Role:          account.RoleStandard,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}))

	lgr := ledger.New(ledger.NewMemoryStore())
	payout := &fakePayout{digest: "PayoutDigest11111111111111111111"}

	convert, err := wheelz.NewConverter(decimal.NewFromInt(100))
	require.NoError(t, err)

	svc := NewService(lgr, accounts, payout, convert, slog.Default())
	return &env{svc: svc, ledger: lgr, accounts: accounts, payout: payout}
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// requestWithdrawal seeds a pending, pre-deducted withdrawal request
// the way the payments flow records one.
func (e *env) requestWithdrawal(t *testing.T, amount string) string {
	t.Helper()
	res, err := e.ledger.Debit(context.Background(), ledger.Entry{
		AccountID: "acc_1",
		Amount:    dec(amount),
		Kind:      ledger.KindCurrencyWithdrawal,
		Cause:     "withdrawal_request",
		Pending:   true,
		Metadata: map[string]string{
			ledger.MetaPreDeducted: "true",
			ledger.MetaCounterpart: testWallet,
		},
	})
	require.NoError(t, err)
	return res.Record.ID
}

func TestAdjustBalanceSet(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res, err := e.svc.AdjustBalance(ctx, "acc_1", dec("500"), OpSet, "ops@blastwheelz")
	require.NoError(t, err)
	assert.True(t, res.NewBalance.Equal(dec("500")))
	assert.Equal(t, "ops@blastwheelz", res.Record.Metadata[ledger.MetaAdjustedBy])
	assert.Equal(t, "admin_set_balance", res.Record.Metadata[ledger.MetaCause])
}

func TestAdjustBalanceIncrementDecrement(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res, err := e.svc.AdjustBalance(ctx, "acc_1", dec("100"), OpIncrement, "admin_secret")
	require.NoError(t, err)
	assert.True(t, res.NewBalance.Equal(dec("100")))
	assert.Equal(t, ledger.KindDeposit, res.Record.Kind)
	assert.Equal(t, "admin_adjust", res.Record.Metadata[ledger.MetaCause])
	assert.Equal(t, "admin_secret", res.Record.Metadata[ledger.MetaAdjustedBy])

	res, err = e.svc.AdjustBalance(ctx, "acc_1", dec("30"), OpDecrement, "admin_secret")
	require.NoError(t, err)
	assert.True(t, res.NewBalance.Equal(dec("70")))
	assert.Equal(t, ledger.KindWithdrawal, res.Record.Kind)

	// Every adjustment left an audit record.
	history, err := e.ledger.History(ctx, "acc_1", 10)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestAdjustBalanceDecrementBelowZero(t *testing.T) {
	e := newEnv(t)

	_, err := e.svc.AdjustBalance(context.Background(), "acc_1", dec("1"), OpDecrement, "admin_secret")
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
}

func TestAdjustBalanceUnknownOperation(t *testing.T) {
	e := newEnv(t)

	_, err := e.svc.AdjustBalance(context.Background(), "acc_1", dec("1"), Operation("halve"), "admin_secret")
	assert.ErrorIs(t, err, ErrUnknownOperation)
}

func TestAdjustBalanceMissingAccount(t *testing.T) {
	e := newEnv(t)

	_, err := e.svc.AdjustBalance(context.Background(), "acc_missing", dec("1"), OpIncrement, "admin_secret")
	assert.ErrorIs(t, err, account.ErrNotFound)
}

func TestApproveWithdrawalPaysAndCompletes(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.svc.AdjustBalance(ctx, "acc_1", dec("1000"), OpSet, "admin_secret")
	require.NoError(t, err)
	recID := e.requestWithdrawal(t, "400")

	rec, err := e.svc.ApproveWithdrawal(ctx, recID, "admin_secret")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, rec.Status)
	assert.Equal(t, "PayoutDigest11111111111111111111", rec.Digest)
	assert.Equal(t, "admin_secret", rec.Metadata[ledger.MetaApprovedBy])

	// 400 wheelz at 100 wheelz/token = 4 tokens = 4*10^9 units.
	assert.Equal(t, testWallet, e.payout.gotWallet)
	assert.Equal(t, "4000000000", e.payout.gotUnits.String())

	// Funds were pre-deducted at request time; approval moves nothing.
	bal, _ := e.ledger.Balance(ctx, "acc_1")
	assert.True(t, bal.Equal(dec("600")))
}

func TestApproveWithdrawalTransferFailureKeepsPending(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.svc.AdjustBalance(ctx, "acc_1", dec("1000"), OpSet, "admin_secret")
	require.NoError(t, err)
	recID := e.requestWithdrawal(t, "400")

	e.payout.err = errors.New("rpc: connection refused")
	_, err = e.svc.ApproveWithdrawal(ctx, recID, "admin_secret")
	assert.ErrorIs(t, err, ErrTransferFailed)

	rec, err := e.ledger.Record(ctx, recID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, rec.Status, "retryable after the node recovers")

	// Balance untouched: still pre-deducted, not refunded.
	bal, _ := e.ledger.Balance(ctx, "acc_1")
	assert.True(t, bal.Equal(dec("600")))
}

func TestRejectWithdrawalRestoresBalance(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.svc.AdjustBalance(ctx, "acc_1", dec("1000"), OpSet, "admin_secret")
	require.NoError(t, err)
	recID := e.requestWithdrawal(t, "400")

	rec, err := e.svc.RejectWithdrawal(ctx, recID, "fraud review", "admin_secret")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, rec.Status)
	assert.Equal(t, "fraud review", rec.Metadata[ledger.MetaRejectionReason])
	assert.Equal(t, "admin_secret", rec.Metadata[ledger.MetaAdjustedBy])

	bal, _ := e.ledger.Balance(ctx, "acc_1")
	assert.True(t, bal.Equal(dec("1000")), "pre-deducted funds returned")
	assert.Zero(t, e.payout.calls)
}

func TestWithdrawalDoubleProcessingConflicts(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.svc.AdjustBalance(ctx, "acc_1", dec("1000"), OpSet, "admin_secret")
	require.NoError(t, err)
	recID := e.requestWithdrawal(t, "400")

	_, err = e.svc.ApproveWithdrawal(ctx, recID, "admin_secret")
	require.NoError(t, err)

	_, err = e.svc.ApproveWithdrawal(ctx, recID, "admin_secret")
	assert.ErrorIs(t, err, ledger.ErrAlreadyProcessed)
	assert.Equal(t, 1, e.payout.calls, "never pay twice")

	_, err = e.svc.RejectWithdrawal(ctx, recID, "too late", "admin_secret")
	assert.ErrorIs(t, err, ledger.ErrAlreadyProcessed)
}

func TestApproveNonWithdrawalRecord(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res, err := e.svc.AdjustBalance(ctx, "acc_1", dec("50"), OpIncrement, "admin_secret")
	require.NoError(t, err)

	_, err = e.svc.ApproveWithdrawal(ctx, res.Record.ID, "admin_secret")
	assert.ErrorIs(t, err, ErrNotWithdrawal)

	_, err = e.svc.ApproveWithdrawal(ctx, "txn_missing", "admin_secret")
	assert.ErrorIs(t, err, ledger.ErrRecordNotFound)
}

func TestApproveFallsBackToLinkedWallet(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.svc.AdjustBalance(ctx, "acc_1", dec("1000"), OpSet, "admin_secret")
	require.NoError(t, err)

	// Request recorded without a counterpart wallet.
	res, err := e.ledger.Debit(ctx, ledger.Entry{
		AccountID: "acc_1",
		Amount:    dec("100"),
		Kind:      ledger.KindCurrencyWithdrawal,
		Cause:     "withdrawal_request",
		Pending:   true,
		Metadata:  map[string]string{ledger.MetaPreDeducted: "true"},
	})
	require.NoError(t, err)

	rec, err := e.svc.ApproveWithdrawal(ctx, res.Record.ID, "admin_secret")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, rec.Status)
	assert.Equal(t, testWallet, e.payout.gotWallet, "account wallet used as destination")
}

func TestApproveWithoutAnyDestination(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	require.NoError(t, e.accounts.Create(ctx, &account.Account{
		ID:        "acc_2",
		Handle:    "nowallet",
		Role:      account.RoleStandard,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}))
	_, err := e.svc.AdjustBalance(ctx, "acc_2", dec("100"), OpSet, "admin_secret")
	require.NoError(t, err)

	res, err := e.ledger.Debit(ctx, ledger.Entry{
		AccountID: "acc_2",
		Amount:    dec("50"),
		Kind:      ledger.KindCurrencyWithdrawal,
		Cause:     "withdrawal_request",
		Pending:   true,
		Metadata:  map[string]string{ledger.MetaPreDeducted: "true"},
	})
	require.NoError(t, err)

	_, err = e.svc.ApproveWithdrawal(ctx, res.Record.ID, "admin_secret")
	assert.ErrorIs(t, err, ErrNoDestination)
	assert.Zero(t, e.payout.calls)
}

func TestAdminReviewSkipsInFlightImmediateWithdrawal(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.svc.AdjustBalance(ctx, "acc_1", dec("1000"), OpSet, "admin_secret")
	require.NoError(t, err)

	// The immediate-withdrawal flow debits into a pending record, pays
	// out, then completes it. Between (or after a failed completion)
	// the record is pending but the payout may already be on chain.
	res, err := e.ledger.Debit(ctx, ledger.Entry{
		AccountID: "acc_1",
		Amount:    dec("40"),
		Kind:      ledger.KindCurrencyWithdrawal,
		Cause:     "withdrawal",
		Pending:   true,
		Metadata:  map[string]string{ledger.MetaCounterpart: testWallet},
	})
	require.NoError(t, err)

	_, err = e.svc.ApproveWithdrawal(ctx, res.Record.ID, "admin_secret")
	assert.ErrorIs(t, err, ErrNotWithdrawal)
	assert.Zero(t, e.payout.calls, "one debit must never fund two transfers")

	_, err = e.svc.RejectWithdrawal(ctx, res.Record.ID, "looks stuck", "admin_secret")
	assert.ErrorIs(t, err, ErrNotWithdrawal)

	bal, _ := e.ledger.Balance(ctx, "acc_1")
	assert.True(t, bal.Equal(dec("960")), "no re-credit for funds already paid out")

	// Not reviewable, so not listed for review either.
	pending, err := e.svc.PendingWithdrawals(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestPendingWithdrawalsListing(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.svc.AdjustBalance(ctx, "acc_1", dec("1000"), OpSet, "admin_secret")
	require.NoError(t, err)
	e.requestWithdrawal(t, "100")
	recID := e.requestWithdrawal(t, "200")

	pending, err := e.svc.PendingWithdrawals(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	_, err = e.svc.RejectWithdrawal(ctx, recID, "duplicate request", "admin_secret")
	require.NoError(t, err)

	pending, err = e.svc.PendingWithdrawals(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}
