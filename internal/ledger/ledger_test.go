package ledger

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

type publisherSpy struct {
	events []string
}

func (p *publisherSpy) Publish(event string, payload any) {
	p.events = append(p.events, event)
}

func TestCreditAndBalance(t *testing.T) {
	l := New(NewMemoryStore())
	ctx := context.Background()

	res, err := l.Credit(ctx, Entry{
		AccountID: "acct_1",
		Amount:    dec("500"),
		Kind:      KindDeposit,
		Cause:     "welcome bonus",
	})
	require.NoError(t, err)
	assert.True(t, res.NewBalance.Equal(dec("500")))
	assert.Equal(t, StatusCompleted, res.Record.Status)
	assert.Equal(t, "welcome bonus", res.Record.Metadata[MetaCause])
	assert.Equal(t, "0", res.Record.Metadata[MetaPriorBalance])
	assert.Equal(t, "500", res.Record.Metadata[MetaNewBalance])

	bal, err := l.Balance(ctx, "acct_1")
	require.NoError(t, err)
	assert.True(t, bal.Equal(dec("500")))

	// Unknown accounts read as zero.
	bal, err = l.Balance(ctx, "acct_unknown")
	require.NoError(t, err)
	assert.True(t, bal.IsZero())
}

func TestDebitInsufficientBalance(t *testing.T) {
	l := New(NewMemoryStore())
	ctx := context.Background()

	_, err := l.Credit(ctx, Entry{AccountID: "acct_1", Amount: dec("100"), Kind: KindDeposit})
	require.NoError(t, err)

	_, err = l.Debit(ctx, Entry{AccountID: "acct_1", Amount: dec("100.000001"), Kind: KindMarketPurchase})
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	// Balance untouched after the failed debit.
	bal, _ := l.Balance(ctx, "acct_1")
	assert.True(t, bal.Equal(dec("100")))

	// Exact balance spends fine.
	res, err := l.Debit(ctx, Entry{AccountID: "acct_1", Amount: dec("100"), Kind: KindMarketPurchase})
	require.NoError(t, err)
	assert.True(t, res.NewBalance.IsZero())
}

func TestCreditRejectsReusedDigest(t *testing.T) {
	l := New(NewMemoryStore())
	ctx := context.Background()

	e := Entry{
		AccountID: "acct_1",
		Amount:    dec("100"),
		Kind:      KindCurrencyPurchase,
		Digest:    "9WzSXdCNyMZkXY6rK7P1VbQf3mJh5TnL8cRw2aGe4sDu",
	}
	_, err := l.Credit(ctx, e)
	require.NoError(t, err)

	// Same digest, any account: rejected before any mutation.
	e.AccountID = "acct_2"
	_, err = l.Credit(ctx, e)
	assert.ErrorIs(t, err, ErrDuplicateReference)

	bal, _ := l.Balance(ctx, "acct_2")
	assert.True(t, bal.IsZero())
}

func TestApplyRejectsInvalidEntries(t *testing.T) {
	l := New(NewMemoryStore())
	ctx := context.Background()

	_, err := l.Credit(ctx, Entry{AccountID: "a", Amount: dec("0"), Kind: KindDeposit})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = l.Debit(ctx, Entry{AccountID: "a", Amount: dec("-5"), Kind: KindWithdrawal})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = l.Credit(ctx, Entry{AccountID: "a", Amount: dec("5")})
	assert.ErrorIs(t, err, ErrInvalidAmount, "missing kind")
}

func TestAdjustDerivesKindFromSign(t *testing.T) {
	l := New(NewMemoryStore())
	ctx := context.Background()

	res, err := l.Adjust(ctx, "acct_1", dec("250"), "admin_adjust")
	require.NoError(t, err)
	assert.Equal(t, KindDeposit, res.Record.Kind)
	assert.True(t, res.Record.Amount.Equal(dec("250")), "amount stored unsigned")

	res, err = l.Adjust(ctx, "acct_1", dec("-100"), "admin_adjust")
	require.NoError(t, err)
	assert.Equal(t, KindWithdrawal, res.Record.Kind)
	assert.True(t, res.NewBalance.Equal(dec("150")))

	_, err = l.Adjust(ctx, "acct_1", decimal.Zero, "admin_adjust")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestSetBalanceAlwaysAudited(t *testing.T) {
	l := New(NewMemoryStore())
	ctx := context.Background()

	res, err := l.SetBalance(ctx, "acct_1", dec("1000"), "admin@blastwheelz")
	require.NoError(t, err)
	assert.True(t, res.NewBalance.Equal(dec("1000")))
	assert.Equal(t, "admin@blastwheelz", res.Record.Metadata[MetaAdjustedBy])
	assert.Equal(t, "admin_set_balance", res.Record.Metadata[MetaCause])

	_, err = l.SetBalance(ctx, "acct_1", dec("-1"), "admin@blastwheelz")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	history, err := l.History(ctx, "acct_1", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestSetBalanceRecordsSignedDelta(t *testing.T) {
	l := New(NewMemoryStore())
	ctx := context.Background()

	res, err := l.SetBalance(ctx, "acct_1", dec("500"), "admin@blastwheelz")
	require.NoError(t, err)
	assert.Equal(t, KindDeposit, res.Record.Kind)
	assert.True(t, res.Record.Amount.Equal(dec("500")))

	// Lowering the balance audits as a withdrawal of the difference.
	res, err = l.SetBalance(ctx, "acct_1", dec("200"), "admin@blastwheelz")
	require.NoError(t, err)
	assert.Equal(t, KindWithdrawal, res.Record.Kind)
	assert.True(t, res.Record.Amount.Equal(dec("300")))
	assert.True(t, res.NewBalance.Equal(dec("200")))

	res, err = l.SetBalance(ctx, "acct_1", dec("650"), "admin@blastwheelz")
	require.NoError(t, err)
	assert.Equal(t, KindDeposit, res.Record.Kind)
	assert.True(t, res.Record.Amount.Equal(dec("450")))
}

func TestPendingWithdrawalLifecycle(t *testing.T) {
	l := New(NewMemoryStore())
	ctx := context.Background()

	_, err := l.Credit(ctx, Entry{AccountID: "acct_1", Amount: dec("1000"), Kind: KindDeposit})
	require.NoError(t, err)

	// Withdrawal request pre-deducts and parks the record as pending.
	res, err := l.Debit(ctx, Entry{
		AccountID: "acct_1",
		Amount:    dec("400"),
		Kind:      KindCurrencyWithdrawal,
		Pending:   true,
	})
	require.NoError(t, err)
	assert.True(t, res.NewBalance.Equal(dec("600")))

	pending, err := l.PendingWithdrawals(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, res.Record.ID, pending[0].ID)

	// Approve: completed with the payout digest, balance unchanged.
	err = l.Complete(ctx, res.Record.ID, "PayoutDigest111111111111111111111", map[string]string{MetaApprovedBy: "admin"})
	require.NoError(t, err)

	rec, err := l.Record(ctx, res.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.Equal(t, "PayoutDigest111111111111111111111", rec.Digest)
	assert.Equal(t, "admin", rec.Metadata[MetaApprovedBy])

	bal, _ := l.Balance(ctx, "acct_1")
	assert.True(t, bal.Equal(dec("600")))

	// A second approval is a conflict, not a double payout.
	err = l.Complete(ctx, res.Record.ID, "OtherDigest", nil)
	assert.ErrorIs(t, err, ErrAlreadyProcessed)

	pending, _ = l.PendingWithdrawals(ctx, 10)
	assert.Empty(t, pending)
}

func TestReverseReturnsHeldFunds(t *testing.T) {
	l := New(NewMemoryStore())
	ctx := context.Background()

	_, err := l.Credit(ctx, Entry{AccountID: "acct_1", Amount: dec("1000"), Kind: KindDeposit})
	require.NoError(t, err)

	res, err := l.Debit(ctx, Entry{
		AccountID: "acct_1",
		Amount:    dec("400"),
		Kind:      KindCurrencyWithdrawal,
		Pending:   true,
	})
	require.NoError(t, err)

	err = l.Reverse(ctx, res.Record.ID, "kyc check failed")
	require.NoError(t, err)

	rec, err := l.Record(ctx, res.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, "kyc check failed", rec.Metadata[MetaRejectionReason])

	bal, _ := l.Balance(ctx, "acct_1")
	assert.True(t, bal.Equal(dec("1000")), "full amount returned")

	// No second refund.
	err = l.Reverse(ctx, res.Record.ID, "again")
	assert.ErrorIs(t, err, ErrAlreadyProcessed)

	err = l.Reverse(ctx, "txn_missing", "nope")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestHistoryNewestFirstAndClamped(t *testing.T) {
	l := New(NewMemoryStore())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := l.Credit(ctx, Entry{AccountID: "acct_1", Amount: dec("10"), Kind: KindDeposit})
		require.NoError(t, err)
	}
	_, err := l.Credit(ctx, Entry{AccountID: "acct_2", Amount: dec("10"), Kind: KindDeposit})
	require.NoError(t, err)

	history, err := l.History(ctx, "acct_1", 3)
	require.NoError(t, err)
	assert.Len(t, history, 3)

	// Out-of-range limits fall back to the default.
	history, err = l.History(ctx, "acct_1", -1)
	require.NoError(t, err)
	assert.Len(t, history, 5)

	for _, rec := range history {
		assert.Equal(t, "acct_1", rec.AccountID)
	}
}

func TestHistoryPageCursorsThroughAllRecords(t *testing.T) {
	l := New(NewMemoryStore())
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		_, err := l.Credit(ctx, Entry{AccountID: "acct_1", Amount: dec("10"), Kind: KindDeposit})
		require.NoError(t, err)
	}

	var seen []string
	cursor := ""
	pages := 0
	for {
		page, next, more, err := l.HistoryPage(ctx, "acct_1", 3, cursor)
		require.NoError(t, err)
		for _, rec := range page {
			seen = append(seen, rec.ID)
		}
		pages++
		if !more {
			assert.Empty(t, next)
			break
		}
		require.NotEmpty(t, next)
		cursor = next
	}

	assert.Equal(t, 3, pages)
	assert.Len(t, seen, 7)

	// No record appears on two pages.
	unique := map[string]bool{}
	for _, id := range seen {
		assert.False(t, unique[id], "record %s repeated across pages", id)
		unique[id] = true
	}

	_, _, _, err := l.HistoryPage(ctx, "acct_1", 3, "%%%not-a-cursor")
	assert.Error(t, err)
}

func TestPublisherSeesCommittedMutations(t *testing.T) {
	spy := &publisherSpy{}
	l := New(NewMemoryStore(), WithPublisher(spy))
	ctx := context.Background()

	_, err := l.Credit(ctx, Entry{AccountID: "a", Amount: dec("100"), Kind: KindDeposit})
	require.NoError(t, err)
	res, err := l.Debit(ctx, Entry{AccountID: "a", Amount: dec("10"), Kind: KindCurrencyWithdrawal, Pending: true})
	require.NoError(t, err)
	require.NoError(t, l.Reverse(ctx, res.Record.ID, "test"))

	assert.Contains(t, spy.events, "transaction.recorded")
	assert.Contains(t, spy.events, "transaction.reversed")
}
