package reconciliation

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blastwheelz/backend/internal/chain"
	"github.com/blastwheelz/backend/internal/ledger"
	"github.com/blastwheelz/backend/internal/wheelz"
)

const testTreasury = "0xaaaa000000000000000000000000000000000000000000000000000000000001"

type fakeCoins struct {
	coins []chain.Coin
	err   error
}

func (f *fakeCoins) GetCoins(ctx context.Context, owner, coinType string) ([]chain.Coin, error) {
	return f.coins, f.err
}

func newService(t *testing.T, store *ledger.MemoryStore, coins *fakeCoins) *Service {
	t.Helper()
	convert, err := wheelz.NewConverter(decimal.NewFromInt(100))
	require.NoError(t, err)
	return NewService(store, coins, convert, Config{
		TreasuryAddress: testTreasury,
		CoinType:        "0x2::bwz::BWZ",
	})
}

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func seed(t *testing.T, store *ledger.MemoryStore) *ledger.Ledger {
	t.Helper()
	l := ledger.New(store)
	ctx := context.Background()

	// 700 wheelz across two balances.
	_, err := l.Credit(ctx, ledger.Entry{AccountID: "acc_1", Amount: dec("500"), Kind: ledger.KindDeposit})
	require.NoError(t, err)
	_, err = l.Credit(ctx, ledger.Entry{AccountID: "acc_2", Amount: dec("200"), Kind: ledger.KindDeposit})
	require.NoError(t, err)
	return l
}

func TestCheckCoveredWithSurplus(t *testing.T) {
	store := ledger.NewMemoryStore()
	seed(t, store)

	// 700 wheelz at 100/token = 7 tokens = 7e9 units; treasury holds 10 tokens.
	svc := newService(t, store, &fakeCoins{coins: []chain.Coin{
		{Balance: "6000000000"},
		{Balance: "4000000000"},
	}})

	res, err := svc.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Covered)
	assert.Equal(t, "10000000000", res.TreasuryUnits)
	assert.Equal(t, "700", res.LiabilityWheelz)
	assert.Equal(t, "7000000000", res.LiabilityUnits)
	assert.Equal(t, "3000000000", res.DriftUnits)
}

func TestCheckCountsPendingWithdrawals(t *testing.T) {
	store := ledger.NewMemoryStore()
	l := seed(t, store)
	ctx := context.Background()

	// 300 of acc_1's wheelz move into a pending pre-deducted
	// withdrawal; total liability is still 700.
	_, err := l.Debit(ctx, ledger.Entry{
		AccountID: "acc_1",
		Amount:    dec("300"),
		Kind:      ledger.KindCurrencyWithdrawal,
		Pending:   true,
	})
	require.NoError(t, err)

	svc := newService(t, store, &fakeCoins{coins: []chain.Coin{{Balance: "7000000000"}}})

	res, err := svc.Check(ctx)
	require.NoError(t, err)
	assert.True(t, res.Covered)
	assert.Equal(t, "700", res.LiabilityWheelz)
	assert.Equal(t, "0", res.DriftUnits)
}

func TestCheckUncoveredBeyondTolerance(t *testing.T) {
	store := ledger.NewMemoryStore()
	seed(t, store)

	// Need 7e9 units, treasury holds 4e9: short 3 tokens.
	svc := newService(t, store, &fakeCoins{coins: []chain.Coin{{Balance: "4000000000"}}})

	res, err := svc.Check(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Covered)
	assert.Equal(t, "-3000000000", res.DriftUnits)
}

func TestCheckShortfallWithinTolerance(t *testing.T) {
	store := ledger.NewMemoryStore()
	seed(t, store)

	// Short half a token; the default tolerance is one whole token.
	svc := newService(t, store, &fakeCoins{coins: []chain.Coin{{Balance: "6500000000"}}})

	res, err := svc.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Covered)

	// A zero tolerance flags the same shortfall.
	svc.SetTolerance(big.NewInt(0))
	res, err = svc.Check(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Covered)
}

func TestCheckEmptyLedger(t *testing.T) {
	svc := newService(t, ledger.NewMemoryStore(), &fakeCoins{})

	res, err := svc.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Covered)
	assert.Equal(t, "0", res.LiabilityUnits)
	assert.Equal(t, "0", res.TreasuryUnits)
}

func TestCheckChainErrorPropagates(t *testing.T) {
	store := ledger.NewMemoryStore()
	seed(t, store)

	svc := newService(t, store, &fakeCoins{err: errors.New("node down")})

	_, err := svc.Check(context.Background())
	assert.ErrorContains(t, err, "treasury balance")
}

func TestCheckRejectsBadCoinBalance(t *testing.T) {
	store := ledger.NewMemoryStore()
	seed(t, store)

	svc := newService(t, store, &fakeCoins{coins: []chain.Coin{{Balance: "not-a-number"}}})

	_, err := svc.Check(context.Background())
	assert.ErrorContains(t, err, "bad coin balance")
}
