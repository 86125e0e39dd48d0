// Package verifier answers yes/no questions about executed chain
// transactions.
//
// Nothing a client claims about a payment is trusted: the only inputs
// that matter are the digest and what the node reports for it. Every
// check degrades to "not verified" on RPC errors or malformed
// responses; verification never fails the calling request with an
// error, because callers must treat an unverifiable claim exactly like
// a false one — do not credit.
package verifier

import (
	"context"
	"log/slog"
	"math/big"
	"strings"

	"github.com/blastwheelz/backend/internal/chain"
	"github.com/blastwheelz/backend/internal/validation"
)

const (
	kioskOwnerCapSuffix = "::kiosk::KioskOwnerCap"
	kioskSuffix         = "::kiosk::Kiosk"
	nftTypeSuffix       = "::wheelz_nft::WheelzNFT"
)

// Config for creating a Verifier.
type Config struct {
	TreasuryAddress string // address that must receive payments
	CoinType        string // coin type accepted for payments
	PackageID       string // package whose NFT type counts as a car
}

// Verifier inspects transaction blocks via the chain client.
type Verifier struct {
	client   chain.Client
	treasury string
	coinType string
	nftType  string
	logger   *slog.Logger
}

// New creates a Verifier.
func New(client chain.Client, cfg Config, logger *slog.Logger) *Verifier {
	return &Verifier{
		client:   client,
		treasury: validation.SanitizeAddress(cfg.TreasuryAddress),
		coinType: cfg.CoinType,
		nftType:  cfg.PackageID + nftTypeSuffix,
		logger:   logger,
	}
}

// VerifyPayment reports whether the transaction with the given digest
// paid at least expected smallest units of the configured coin type to
// the treasury. When payer is non-empty the transaction sender must
// match it.
func (v *Verifier) VerifyPayment(ctx context.Context, digest string, expected *big.Int, payer string) bool {
	if expected == nil || expected.Sign() <= 0 {
		return false
	}

	block, err := v.client.GetTransactionBlock(ctx, digest)
	if err != nil {
		v.logger.Warn("payment verification: fetch failed", "digest", digest, "error", err)
		return false
	}
	if !block.Effects.Succeeded() {
		v.logger.Info("payment verification: transaction did not succeed", "digest", digest)
		return false
	}

	if payer != "" && !sameAddress(block.Sender, payer) {
		v.logger.Info("payment verification: sender mismatch",
			"digest", digest, "sender", block.Sender, "expected", payer)
		return false
	}

	for _, bc := range block.BalanceChanges {
		if bc.CoinType != v.coinType {
			continue
		}
		if !sameAddress(bc.Owner.AddressOwner, v.treasury) {
			continue
		}
		amount, ok := new(big.Int).SetString(bc.Amount, 10)
		if !ok || amount.Sign() <= 0 {
			continue
		}
		if amount.Cmp(expected) >= 0 {
			return true
		}
		v.logger.Info("payment verification: amount too small",
			"digest", digest, "received", amount.String(), "expected", expected.String())
	}
	return false
}

// VerifyAssetTransfer reports whether the transaction moved the object
// with the given ID to the recipient address.
func (v *Verifier) VerifyAssetTransfer(ctx context.Context, digest, objectID, recipient string) bool {
	block, err := v.client.GetTransactionBlock(ctx, digest)
	if err != nil {
		v.logger.Warn("transfer verification: fetch failed", "digest", digest, "error", err)
		return false
	}
	if !block.Effects.Succeeded() {
		return false
	}

	for _, oc := range block.ObjectChanges {
		if oc.ObjectID != objectID {
			continue
		}
		switch oc.Type {
		case chain.ChangeTransferred:
			if oc.Recipient != nil && sameAddress(oc.Recipient.AddressOwner, recipient) {
				return true
			}
		case chain.ChangeMutated, chain.ChangeCreated:
			if sameAddress(oc.Owner.AddressOwner, recipient) {
				return true
			}
		}
	}
	return false
}

// MintResult holds the object IDs discovered in a mint transaction.
// All fields empty means the mint could not be confirmed.
type MintResult struct {
	NFTObjectID     string
	KioskID         string
	KioskOwnerCapID string
}

// Found reports whether a car NFT and an owner capability were created.
func (m MintResult) Found() bool {
	return m.NFTObjectID != "" && m.KioskOwnerCapID != ""
}

// VerifyMint fetches the transaction and confirms it created a car NFT
// and handed a kiosk owner capability to the recipient. It confirms
// only the object types, not the NFT's field values.
func (v *Verifier) VerifyMint(ctx context.Context, digest, recipient string) MintResult {
	block, err := v.client.GetTransactionBlock(ctx, digest)
	if err != nil {
		v.logger.Warn("mint verification: fetch failed", "digest", digest, "error", err)
		return MintResult{}
	}
	return v.VerifyMintBlock(block, recipient)
}

// VerifyMintBlock is VerifyMint over an already-fetched transaction
// block, used when the caller executed the mint itself.
func (v *Verifier) VerifyMintBlock(block *chain.TransactionBlock, recipient string) MintResult {
	if block == nil || !block.Effects.Succeeded() {
		return MintResult{}
	}

	var res MintResult
	for _, oc := range block.ObjectChanges {
		if oc.Type != chain.ChangeCreated {
			continue
		}
		switch {
		case oc.ObjectType == v.nftType:
			res.NFTObjectID = oc.ObjectID
		case strings.HasSuffix(oc.ObjectType, kioskOwnerCapSuffix):
			if recipient == "" || sameAddress(oc.Owner.AddressOwner, recipient) {
				res.KioskOwnerCapID = oc.ObjectID
			}
		case strings.HasSuffix(oc.ObjectType, kioskSuffix):
			res.KioskID = oc.ObjectID
		}
	}

	if !res.Found() {
		return MintResult{}
	}
	return res
}

func sameAddress(a, b string) bool {
	return validation.SanitizeAddress(a) == validation.SanitizeAddress(b)
}
