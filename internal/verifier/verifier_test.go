package verifier

import (
	"context"
	"log/slog"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/blastwheelz/backend/internal/chain"
)

const (
	treasury = "0x00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"
	buyer    = "0xffeeddccbbaa99887766554433221100ffeeddccbbaa99887766554433221100"
	coinType = "0x2::bwz::BWZ"
	pkgID    = "0xbeef"
)

// fakeChain serves canned transaction blocks by digest.
type fakeChain struct {
	blocks map[string]*chain.TransactionBlock
	err    error
}

func (f *fakeChain) GetTransactionBlock(ctx context.Context, digest string) (*chain.TransactionBlock, error) {
	if f.err != nil {
		return nil, f.err
	}
	if b, ok := f.blocks[digest]; ok {
		return b, nil
	}
	return nil, chain.ErrNotFound
}

func (f *fakeChain) GetObject(ctx context.Context, objectID string) (*chain.ObjectInfo, error) {
	return nil, chain.ErrNotFound
}

func (f *fakeChain) GetCoins(ctx context.Context, owner, coinType string) ([]chain.Coin, error) {
	return nil, nil
}

func (f *fakeChain) BuildPayCoins(ctx context.Context, signer string, coinIDs []string, recipient, amount string, gasBudget uint64) (*chain.TransactionBytes, error) {
	return nil, chain.ErrRPCFailure
}

func (f *fakeChain) BuildMoveCall(ctx context.Context, signer string, call chain.MoveCall) (*chain.TransactionBytes, error) {
	return nil, chain.ErrRPCFailure
}

func (f *fakeChain) ExecuteTransactionBlock(ctx context.Context, txBytes string, signatures []string) (*chain.TransactionBlock, error) {
	return nil, chain.ErrRPCFailure
}

func (f *fakeChain) Close() {}

func newVerifier(fc *fakeChain) *Verifier {
	return New(fc, Config{
		TreasuryAddress: treasury,
		CoinType:        coinType,
		PackageID:       pkgID,
	}, slog.Default())
}

func paymentBlock(sender, owner, amount string) *chain.TransactionBlock {
	return &chain.TransactionBlock{
		Digest:  "PayDigest",
		Sender:  sender,
		Effects: &chain.Effects{Status: chain.ExecutionStatus{Status: chain.StatusSuccess}},
		BalanceChanges: []chain.BalanceChange{
			{Owner: chain.Owner{AddressOwner: sender}, CoinType: coinType, Amount: "-" + amount},
			{Owner: chain.Owner{AddressOwner: owner}, CoinType: coinType, Amount: amount},
		},
	}
}

func TestVerifyPayment_Success(t *testing.T) {
	fc := &fakeChain{blocks: map[string]*chain.TransactionBlock{
		"PayDigest": paymentBlock(buyer, treasury, "1000000000"),
	}}
	v := newVerifier(fc)

	assert.True(t, v.VerifyPayment(context.Background(), "PayDigest", big.NewInt(1_000_000_000), buyer))

	// Overpayment also verifies
	assert.True(t, v.VerifyPayment(context.Background(), "PayDigest", big.NewInt(500), buyer))

	// Empty payer skips the sender check
	assert.True(t, v.VerifyPayment(context.Background(), "PayDigest", big.NewInt(500), ""))
}

func TestVerifyPayment_Failures(t *testing.T) {
	ok := paymentBlock(buyer, treasury, "1000")

	failed := paymentBlock(buyer, treasury, "1000")
	failed.Effects = &chain.Effects{Status: chain.ExecutionStatus{Status: chain.StatusFailure, Error: "MoveAbort"}}

	wrongRecipient := paymentBlock(buyer, buyer, "1000")
	wrongCoin := paymentBlock(buyer, treasury, "1000")
	wrongCoin.BalanceChanges[1].CoinType = "0x2::other::OTHER"

	fc := &fakeChain{blocks: map[string]*chain.TransactionBlock{
		"ok":             ok,
		"failed":         failed,
		"wrongRecipient": wrongRecipient,
		"wrongCoin":      wrongCoin,
	}}
	v := newVerifier(fc)
	ctx := context.Background()

	assert.False(t, v.VerifyPayment(ctx, "ok", big.NewInt(2000), buyer), "underpayment")
	assert.False(t, v.VerifyPayment(ctx, "ok", big.NewInt(1000), treasury), "sender mismatch")
	assert.False(t, v.VerifyPayment(ctx, "failed", big.NewInt(1000), buyer), "failed execution")
	assert.False(t, v.VerifyPayment(ctx, "wrongRecipient", big.NewInt(1000), buyer), "treasury not credited")
	assert.False(t, v.VerifyPayment(ctx, "wrongCoin", big.NewInt(1000), buyer), "wrong coin type")
	assert.False(t, v.VerifyPayment(ctx, "missing", big.NewInt(1000), buyer), "unknown digest")
	assert.False(t, v.VerifyPayment(ctx, "ok", nil, buyer), "nil expected amount")
}

func TestVerifyPayment_RPCErrorIsNotVerified(t *testing.T) {
	v := newVerifier(&fakeChain{err: chain.ErrRPCFailure})
	assert.False(t, v.VerifyPayment(context.Background(), "any", big.NewInt(1), buyer))
}

func TestVerifyAssetTransfer(t *testing.T) {
	fc := &fakeChain{blocks: map[string]*chain.TransactionBlock{
		"transferred": {
			Digest:  "transferred",
			Effects: &chain.Effects{Status: chain.ExecutionStatus{Status: chain.StatusSuccess}},
			ObjectChanges: []chain.ObjectChange{{
				Type:      chain.ChangeTransferred,
				ObjectID:  "0xcar1",
				Recipient: &chain.Owner{AddressOwner: buyer},
			}},
		},
		"mutated": {
			Digest:  "mutated",
			Effects: &chain.Effects{Status: chain.ExecutionStatus{Status: chain.StatusSuccess}},
			ObjectChanges: []chain.ObjectChange{{
				Type:     chain.ChangeMutated,
				ObjectID: "0xcar1",
				Owner:    chain.Owner{AddressOwner: buyer},
			}},
		},
	}}
	v := newVerifier(fc)
	ctx := context.Background()

	assert.True(t, v.VerifyAssetTransfer(ctx, "transferred", "0xcar1", buyer))
	assert.True(t, v.VerifyAssetTransfer(ctx, "mutated", "0xcar1", buyer))
	assert.False(t, v.VerifyAssetTransfer(ctx, "transferred", "0xcar2", buyer), "wrong object")
	assert.False(t, v.VerifyAssetTransfer(ctx, "transferred", "0xcar1", treasury), "wrong recipient")
	assert.False(t, v.VerifyAssetTransfer(ctx, "missing", "0xcar1", buyer))
}

func mintBlock(capOwner string) *chain.TransactionBlock {
	return &chain.TransactionBlock{
		Digest:  "MintDigest",
		Effects: &chain.Effects{Status: chain.ExecutionStatus{Status: chain.StatusSuccess}},
		ObjectChanges: []chain.ObjectChange{
			{Type: chain.ChangeCreated, ObjectType: pkgID + "::wheelz_nft::WheelzNFT", ObjectID: "0xnft1"},
			{Type: chain.ChangeCreated, ObjectType: "0x2::kiosk::Kiosk", ObjectID: "0xkiosk1"},
			{Type: chain.ChangeCreated, ObjectType: "0x2::kiosk::KioskOwnerCap", ObjectID: "0xcap1",
				Owner: chain.Owner{AddressOwner: capOwner}},
		},
	}
}

func TestVerifyMint(t *testing.T) {
	fc := &fakeChain{blocks: map[string]*chain.TransactionBlock{"MintDigest": mintBlock(buyer)}}
	v := newVerifier(fc)

	res := v.VerifyMint(context.Background(), "MintDigest", buyer)
	assert.True(t, res.Found())
	assert.Equal(t, "0xnft1", res.NFTObjectID)
	assert.Equal(t, "0xkiosk1", res.KioskID)
	assert.Equal(t, "0xcap1", res.KioskOwnerCapID)
}

func TestVerifyMint_CapOwnedByOtherAddress(t *testing.T) {
	fc := &fakeChain{blocks: map[string]*chain.TransactionBlock{"MintDigest": mintBlock(treasury)}}
	v := newVerifier(fc)

	res := v.VerifyMint(context.Background(), "MintDigest", buyer)
	assert.False(t, res.Found())
}

func TestVerifyMint_NoNFTCreated(t *testing.T) {
	block := mintBlock(buyer)
	block.ObjectChanges = block.ObjectChanges[1:] // drop the NFT
	fc := &fakeChain{blocks: map[string]*chain.TransactionBlock{"MintDigest": block}}
	v := newVerifier(fc)

	assert.False(t, v.VerifyMint(context.Background(), "MintDigest", buyer).Found())
}

func TestVerifyMintBlock_NilAndFailed(t *testing.T) {
	v := newVerifier(&fakeChain{})
	assert.False(t, v.VerifyMintBlock(nil, buyer).Found())

	block := mintBlock(buyer)
	block.Effects = &chain.Effects{Status: chain.ExecutionStatus{Status: chain.StatusFailure}}
	assert.False(t, v.VerifyMintBlock(block, buyer).Found())
}
