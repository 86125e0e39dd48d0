// Package wallet holds the server-side treasury key and executes the
// transactions the backend signs itself: withdrawal payouts and car
// mints. User-initiated payments never pass through here; users sign
// with their own wallets and the backend only verifies the result.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/blastwheelz/backend/internal/chain"
)

var (
	ErrInvalidPrivateKey = errors.New("wallet: invalid private key")
	ErrInvalidAddress    = errors.New("wallet: invalid address")
	ErrInvalidAmount     = errors.New("wallet: invalid amount")
	ErrTreasuryDepleted  = errors.New("wallet: treasury has insufficient funds")
	ErrExecutionFailed   = errors.New("wallet: transaction failed on chain")
)

// TransferError wraps treasury transaction failures with context.
type TransferError struct {
	Op     string // Operation that failed
	Digest string // Transaction digest if available
	Err    error  // Underlying error
}

func (e *TransferError) Error() string {
	if e.Digest != "" {
		return fmt.Sprintf("wallet: %s failed (tx: %s): %v", e.Op, e.Digest, e.Err)
	}
	return fmt.Sprintf("wallet: %s failed: %v", e.Op, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// DefaultGasBudget for treasury transactions, in smallest units.
const DefaultGasBudget = uint64(50_000_000)

// Config for creating a Treasury.
type Config struct {
	Key       string // bech32 / hex / base64 private key
	Mnemonic  string // used when Key is empty
	CoinType  string // coin type paid out on withdrawals
	PackageID string // Move package owning the wheelz_nft module
	GasBudget uint64 // 0 = DefaultGasBudget
}

// Treasury signs and submits server-initiated transactions.
type Treasury struct {
	client    chain.Client
	kp        *Keypair
	coinType  string
	packageID string
	gasBudget uint64
	logger    *slog.Logger
}

// MintRequest describes a car NFT to mint into the recipient's kiosk.
type MintRequest struct {
	Recipient   string
	Name        string
	Description string
	ImageURL    string
	CarType     string
}

// NewTreasury loads the treasury keypair and binds it to a chain client.
func NewTreasury(client chain.Client, cfg Config, logger *slog.Logger) (*Treasury, error) {
	var (
		kp  *Keypair
		err error
	)
	if cfg.Key != "" {
		kp, err = ParseKey(cfg.Key)
	} else {
		kp, err = FromMnemonic(cfg.Mnemonic)
	}
	if err != nil {
		return nil, err
	}

	budget := cfg.GasBudget
	if budget == 0 {
		budget = DefaultGasBudget
	}

	return &Treasury{
		client:    client,
		kp:        kp,
		coinType:  cfg.CoinType,
		packageID: cfg.PackageID,
		gasBudget: budget,
		logger:    logger,
	}, nil
}

// Address returns the treasury's chain address.
func (t *Treasury) Address() string {
	return t.kp.Address()
}

// TransferTokens sends amount (smallest units) from the treasury to the
// recipient and returns the transaction digest. The transfer is signed
// with the treasury key and submitted with local-execution wait; an
// on-chain failure is reported as ErrExecutionFailed.
func (t *Treasury) TransferTokens(ctx context.Context, recipient string, amount *big.Int) (string, error) {
	if amount == nil || amount.Sign() <= 0 {
		return "", ErrInvalidAmount
	}

	coins, err := t.client.GetCoins(ctx, t.kp.Address(), t.coinType)
	if err != nil {
		return "", &TransferError{Op: "list_coins", Err: err}
	}

	coinIDs, total := selectCoins(coins, amount)
	if total.Cmp(amount) < 0 {
		return "", fmt.Errorf("%w: have %s, need %s", ErrTreasuryDepleted, total, amount)
	}

	built, err := t.client.BuildPayCoins(ctx, t.kp.Address(), coinIDs, recipient, amount.String(), t.gasBudget)
	if err != nil {
		return "", &TransferError{Op: "build", Err: err}
	}

	return t.signAndExecute(ctx, "transfer", built.TxBytes)
}

// Mint submits a wheelz_nft::mint_to_kiosk call for the given car and
// returns the executed transaction block so the caller can extract the
// created object IDs.
func (t *Treasury) Mint(ctx context.Context, req MintRequest) (*chain.TransactionBlock, error) {
	built, err := t.client.BuildMoveCall(ctx, t.kp.Address(), chain.MoveCall{
		PackageID: t.packageID,
		Module:    "wheelz_nft",
		Function:  "mint_to_kiosk",
		Args:      []any{req.Name, req.Description, req.ImageURL, req.CarType, req.Recipient},
		GasBudget: t.gasBudget,
	})
	if err != nil {
		return nil, &TransferError{Op: "build_mint", Err: err}
	}

	sig, err := t.kp.SignTransaction(built.TxBytes)
	if err != nil {
		return nil, &TransferError{Op: "sign_mint", Err: err}
	}

	block, err := t.client.ExecuteTransactionBlock(ctx, built.TxBytes, []string{sig})
	if err != nil {
		return nil, &TransferError{Op: "execute_mint", Err: err}
	}
	if !block.Effects.Succeeded() {
		return nil, &TransferError{Op: "mint", Digest: block.Digest,
			Err: fmt.Errorf("%w: %s", ErrExecutionFailed, effectsError(block))}
	}
	return block, nil
}

func (t *Treasury) signAndExecute(ctx context.Context, op, txBytes string) (string, error) {
	sig, err := t.kp.SignTransaction(txBytes)
	if err != nil {
		return "", &TransferError{Op: "sign", Err: err}
	}

	block, err := t.client.ExecuteTransactionBlock(ctx, txBytes, []string{sig})
	if err != nil {
		return "", &TransferError{Op: "execute", Err: err}
	}
	if !block.Effects.Succeeded() {
		return block.Digest, &TransferError{Op: op, Digest: block.Digest,
			Err: fmt.Errorf("%w: %s", ErrExecutionFailed, effectsError(block))}
	}

	t.logger.Info("treasury transaction executed", "op", op, "digest", block.Digest)
	return block.Digest, nil
}

// selectCoins picks coins until the target amount is covered. Coins are
// consumed in the order the node returns them.
func selectCoins(coins []chain.Coin, target *big.Int) ([]string, *big.Int) {
	var ids []string
	total := new(big.Int)
	for _, c := range coins {
		bal, ok := new(big.Int).SetString(c.Balance, 10)
		if !ok {
			continue
		}
		ids = append(ids, c.CoinObjectID)
		total.Add(total, bal)
		if total.Cmp(target) >= 0 {
			break
		}
	}
	return ids, total
}

func effectsError(block *chain.TransactionBlock) string {
	if block.Effects == nil {
		return "no effects returned"
	}
	if block.Effects.Status.Error != "" {
		return block.Effects.Status.Error
	}
	return "status " + block.Effects.Status.Status
}
