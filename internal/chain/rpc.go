package chain

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/rpc"

	"github.com/blastwheelz/backend/internal/circuitbreaker"
	"github.com/blastwheelz/backend/internal/metrics"
	"github.com/blastwheelz/backend/internal/retry"
)

// Transient node failures are retried with backoff; a method that keeps
// failing trips its circuit so callers fail fast instead of piling up
// on a dead node.
const (
	rpcMaxAttempts   = 3
	rpcBaseDelay     = 200 * time.Millisecond
	breakerThreshold = 5
	breakerOpenFor   = 30 * time.Second
)

// rpcClient implements Client over the node's JSON-RPC endpoint.
// The transport is go-ethereum's chain-agnostic rpc package.
type rpcClient struct {
	c       *rpc.Client
	breaker *circuitbreaker.Breaker
}

// Dial connects to a node's JSON-RPC endpoint.
func Dial(ctx context.Context, url string) (Client, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRPCFailure, err)
	}
	return &rpcClient{
		c:       c,
		breaker: circuitbreaker.New(breakerThreshold, breakerOpenFor),
	}, nil
}

// call runs one JSON-RPC method through the per-method circuit breaker
// and the retry policy. Errors the node itself returned (malformed
// digest, unknown method) are not retried; transport failures are.
func (r *rpcClient) call(ctx context.Context, result any, method string, args ...any) error {
	if !r.breaker.Allow(method) {
		metrics.ChainCallsTotal.WithLabelValues(method, "rejected").Inc()
		return fmt.Errorf("%w: %s: circuit open", ErrRPCFailure, method)
	}

	err := retry.Do(ctx, rpcMaxAttempts, rpcBaseDelay, func() error {
		callErr := r.c.CallContext(ctx, result, method, args...)
		if callErr != nil {
			var nodeErr rpc.Error
			if errors.As(callErr, &nodeErr) {
				return retry.Permanent(callErr)
			}
		}
		return callErr
	})
	if err != nil {
		r.breaker.RecordFailure(method)
		metrics.ChainCallsTotal.WithLabelValues(method, "error").Inc()
		return err
	}

	r.breaker.RecordSuccess(method)
	metrics.ChainCallsTotal.WithLabelValues(method, "ok").Inc()
	return nil
}

// txBlockWire mirrors the node's sui_getTransactionBlock response shape.
type txBlockWire struct {
	Digest      string `json:"digest"`
	Transaction *struct {
		Data struct {
			Sender string `json:"sender"`
		} `json:"data"`
	} `json:"transaction"`
	Effects        *Effects        `json:"effects"`
	BalanceChanges []BalanceChange `json:"balanceChanges"`
	ObjectChanges  []ObjectChange  `json:"objectChanges"`
	TimestampMs    string          `json:"timestampMs"`
}

func (w *txBlockWire) flatten() *TransactionBlock {
	tb := &TransactionBlock{
		Digest:         w.Digest,
		Effects:        w.Effects,
		BalanceChanges: w.BalanceChanges,
		ObjectChanges:  w.ObjectChanges,
		TimestampMs:    w.TimestampMs,
	}
	if w.Transaction != nil {
		tb.Sender = w.Transaction.Data.Sender
	}
	return tb
}

var txBlockOptions = map[string]bool{
	"showInput":          true,
	"showEffects":        true,
	"showBalanceChanges": true,
	"showObjectChanges":  true,
}

func (r *rpcClient) GetTransactionBlock(ctx context.Context, digest string) (*TransactionBlock, error) {
	var wire txBlockWire
	err := r.call(ctx, &wire, "sui_getTransactionBlock", digest, txBlockOptions)
	if err != nil {
		return nil, fmt.Errorf("%w: getTransactionBlock %s: %v", ErrRPCFailure, digest, err)
	}
	if wire.Digest == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, digest)
	}
	return wire.flatten(), nil
}

func (r *rpcClient) GetObject(ctx context.Context, objectID string) (*ObjectInfo, error) {
	var wire struct {
		Data  *ObjectInfo `json:"data"`
		Error *struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	err := r.call(ctx, &wire, "sui_getObject", objectID, map[string]bool{
		"showType":  true,
		"showOwner": true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: getObject %s: %v", ErrRPCFailure, objectID, err)
	}
	if wire.Data == nil {
		return nil, fmt.Errorf("%w: object %s", ErrNotFound, objectID)
	}
	return wire.Data, nil
}

func (r *rpcClient) GetCoins(ctx context.Context, owner, coinType string) ([]Coin, error) {
	var coins []Coin
	cursor := any(nil)
	for {
		var page struct {
			Data        []Coin `json:"data"`
			HasNextPage bool   `json:"hasNextPage"`
			NextCursor  string `json:"nextCursor"`
		}
		err := r.call(ctx, &page, "suix_getCoins", owner, coinType, cursor, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: getCoins %s: %v", ErrRPCFailure, owner, err)
		}
		coins = append(coins, page.Data...)
		if !page.HasNextPage || page.NextCursor == "" {
			return coins, nil
		}
		cursor = page.NextCursor
	}
}

func (r *rpcClient) BuildPayCoins(ctx context.Context, signer string, coinIDs []string, recipient, amount string, gasBudget uint64) (*TransactionBytes, error) {
	var out TransactionBytes
	err := r.call(ctx, &out, "unsafe_pay",
		signer, coinIDs, []string{recipient}, []string{amount}, nil, strconv.FormatUint(gasBudget, 10))
	if err != nil {
		return nil, fmt.Errorf("%w: pay: %v", ErrRPCFailure, err)
	}
	return &out, nil
}

func (r *rpcClient) BuildMoveCall(ctx context.Context, signer string, call MoveCall) (*TransactionBytes, error) {
	var out TransactionBytes
	err := r.call(ctx, &out, "unsafe_moveCall",
		signer, call.PackageID, call.Module, call.Function, call.TypeArgs, call.Args,
		nil, strconv.FormatUint(call.GasBudget, 10))
	if err != nil {
		return nil, fmt.Errorf("%w: moveCall %s::%s: %v", ErrRPCFailure, call.Module, call.Function, err)
	}
	return &out, nil
}

func (r *rpcClient) ExecuteTransactionBlock(ctx context.Context, txBytes string, signatures []string) (*TransactionBlock, error) {
	// Execution is never retried at the transport level: a timeout does
	// not prove the transaction missed the chain, and a blind resubmit
	// could pay twice. Callers decide how to recover.
	const method = "sui_executeTransactionBlock"
	if !r.breaker.Allow(method) {
		metrics.ChainCallsTotal.WithLabelValues(method, "rejected").Inc()
		return nil, fmt.Errorf("%w: execute: circuit open", ErrRPCFailure)
	}

	var wire txBlockWire
	err := r.c.CallContext(ctx, &wire, method,
		txBytes, signatures, txBlockOptions, "WaitForLocalExecution")
	if err != nil {
		r.breaker.RecordFailure(method)
		metrics.ChainCallsTotal.WithLabelValues(method, "error").Inc()
		return nil, fmt.Errorf("%w: execute: %v", ErrRPCFailure, err)
	}

	r.breaker.RecordSuccess(method)
	metrics.ChainCallsTotal.WithLabelValues(method, "ok").Inc()
	return wire.flatten(), nil
}

func (r *rpcClient) Close() {
	r.c.Close()
}
