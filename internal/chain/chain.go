// Package chain provides the RPC client for the blastwheelz chain.
//
// The chain follows the Move object model: executed transactions are
// identified by a base58 digest and expose effects, balance changes and
// object changes. This package only speaks the node's JSON-RPC surface;
// it never interprets what a transaction means. Deciding whether a
// transaction proves a payment or a mint is the verifier's job.
package chain

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	ErrNotFound   = errors.New("chain: transaction not found")
	ErrRPCFailure = errors.New("chain: rpc call failed")
)

// Execution status values reported in transaction effects.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Object change types reported by the node.
const (
	ChangeCreated     = "created"
	ChangeMutated     = "mutated"
	ChangeTransferred = "transferred"
	ChangeDeleted     = "deleted"
)

// Owner describes who owns an object. Exactly one field is set.
//
// On the wire an owner is either the string "Immutable" or an object
// with one of the AddressOwner / ObjectOwner / Shared keys, so it needs
// a custom decoder.
type Owner struct {
	AddressOwner string `json:"AddressOwner,omitempty"`
	ObjectOwner  string `json:"ObjectOwner,omitempty"`
	Shared       bool   `json:"-"`
	Immutable    bool   `json:"-"`
}

func (o *Owner) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		o.Immutable = s == "Immutable"
		return nil
	}
	var raw struct {
		AddressOwner string          `json:"AddressOwner"`
		ObjectOwner  string          `json:"ObjectOwner"`
		Shared       json.RawMessage `json:"Shared"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	o.AddressOwner = raw.AddressOwner
	o.ObjectOwner = raw.ObjectOwner
	o.Shared = len(raw.Shared) > 0
	return nil
}

func (o Owner) MarshalJSON() ([]byte, error) {
	switch {
	case o.Immutable:
		return json.Marshal("Immutable")
	case o.Shared:
		return []byte(`{"Shared":{}}`), nil
	case o.ObjectOwner != "":
		return json.Marshal(map[string]string{"ObjectOwner": o.ObjectOwner})
	default:
		return json.Marshal(map[string]string{"AddressOwner": o.AddressOwner})
	}
}

// ExecutionStatus is the outcome of a transaction.
type ExecutionStatus struct {
	Status string `json:"status"` // "success" or "failure"
	Error  string `json:"error,omitempty"`
}

// Effects summarizes what a transaction did.
type Effects struct {
	Status ExecutionStatus `json:"status"`
}

// Succeeded reports whether the transaction executed successfully.
func (e *Effects) Succeeded() bool {
	return e != nil && e.Status.Status == StatusSuccess
}

// BalanceChange is a per-owner coin delta caused by a transaction.
// Amount is a signed integer string in smallest units.
type BalanceChange struct {
	Owner    Owner  `json:"owner"`
	CoinType string `json:"coinType"`
	Amount   string `json:"amount"`
}

// ObjectChange describes an object created, mutated or transferred by a
// transaction.
type ObjectChange struct {
	Type       string `json:"type"` // created, mutated, transferred, deleted
	Sender     string `json:"sender,omitempty"`
	Owner      Owner  `json:"owner,omitempty"`
	ObjectType string `json:"objectType"`
	ObjectID   string `json:"objectId"`
	Version    string `json:"version,omitempty"`
	Digest     string `json:"digest,omitempty"`
	Recipient  *Owner `json:"recipient,omitempty"` // set for transferred
}

// TransactionBlock is an executed transaction as reported by the node.
// Sender is flattened from the transaction envelope by the client.
type TransactionBlock struct {
	Digest         string
	Sender         string
	Effects        *Effects
	BalanceChanges []BalanceChange
	ObjectChanges  []ObjectChange
	TimestampMs    string
}

// Coin is a coin object owned by an address.
type Coin struct {
	CoinObjectID string `json:"coinObjectId"`
	CoinType     string `json:"coinType"`
	Balance      string `json:"balance"`
	Version      string `json:"version"`
	Digest       string `json:"digest"`
}

// ObjectInfo is the current state of an object.
type ObjectInfo struct {
	ObjectID string `json:"objectId"`
	Version  string `json:"version"`
	Digest   string `json:"digest"`
	Type     string `json:"type"`
	Owner    Owner  `json:"owner"`
}

// TransactionBytes is an unsigned transaction built by the node.
type TransactionBytes struct {
	TxBytes string `json:"txBytes"` // base64 BCS
}

// MoveCall describes a Move entry function invocation for BuildMoveCall.
type MoveCall struct {
	PackageID string
	Module    string
	Function  string
	TypeArgs  []string
	Args      []any
	GasBudget uint64
}

// Client is the node RPC surface the backend depends on.
//
// Transaction construction is delegated to the node's build endpoints;
// this backend never assembles BCS transaction bytes itself. Callers
// sign the returned bytes and submit them via ExecuteTransactionBlock.
type Client interface {
	// GetTransactionBlock fetches an executed transaction with effects,
	// balance changes and object changes.
	GetTransactionBlock(ctx context.Context, digest string) (*TransactionBlock, error)

	// GetObject fetches the current state of an object.
	GetObject(ctx context.Context, objectID string) (*ObjectInfo, error)

	// GetCoins lists coin objects of the given type owned by an address.
	GetCoins(ctx context.Context, owner, coinType string) ([]Coin, error)

	// BuildPayCoins asks the node to construct a transfer of amount
	// (smallest units, decimal string) from signer to recipient using the
	// given coin objects for input and gas.
	BuildPayCoins(ctx context.Context, signer string, coinIDs []string, recipient, amount string, gasBudget uint64) (*TransactionBytes, error)

	// BuildMoveCall asks the node to construct a Move entry call.
	BuildMoveCall(ctx context.Context, signer string, call MoveCall) (*TransactionBytes, error)

	// ExecuteTransactionBlock submits signed transaction bytes and waits
	// for local execution, returning the resulting transaction block.
	ExecuteTransactionBlock(ctx context.Context, txBytes string, signatures []string) (*TransactionBlock, error)

	// Close releases the underlying connection.
	Close()
}
