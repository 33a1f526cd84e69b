// Package chain is the EVM client used by fulfillment: contract reads, batched
// reads, call simulation and raw transaction submission.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
)

type Call struct {
	From common.Address
	To   common.Address
	Data []byte
}

// BatchResult is one element of a batched read. Err is set when that single
// call failed (e.g. reverted) while the batch as a whole succeeded.
type BatchResult struct {
	Data []byte
	Err  error
}

// PreparedTx is a simulated call with gas and fee parameters filled in, ready
// to be signed by From.
type PreparedTx struct {
	ChainID   *big.Int
	From      common.Address
	To        common.Address
	Data      []byte
	Nonce     uint64
	Gas       uint64
	GasTipCap *big.Int
	GasFeeCap *big.Int
}

func (p *PreparedTx) Unsigned() *gtypes.Transaction {
	to := p.To
	return gtypes.NewTx(&gtypes.DynamicFeeTx{
		ChainID:   p.ChainID,
		Nonce:     p.Nonce,
		GasTipCap: p.GasTipCap,
		GasFeeCap: p.GasFeeCap,
		Gas:       p.Gas,
		To:        &to,
		Value:     big.NewInt(0),
		Data:      p.Data,
	})
}

type Reader interface {
	ChainID() *big.Int
	ReadContract(ctx context.Context, call Call) ([]byte, error)
	BatchReadContract(ctx context.Context, calls []Call) ([]BatchResult, error)
}

type Client interface {
	Reader
	SimulateContract(ctx context.Context, call Call) (*PreparedTx, error)
	SubmitTransaction(ctx context.Context, tx *gtypes.Transaction) (common.Hash, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*gtypes.Receipt, error)
	// ReleaseNonce drops any locally reserved account nonce for addr so the
	// next simulation reads it from the node again.
	ReleaseNonce(addr common.Address)
}

// RevertError is returned when the node executed a call and it reverted.
// Transport failures are never RevertErrors.
type RevertError struct {
	Reason string
	Err    error
}

func (e *RevertError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("execution reverted: %s", e.Reason)
	}
	return e.Err.Error()
}

func (e *RevertError) Unwrap() error {
	return e.Err
}

// revertErrorCode is the JSON-RPC code geth uses for a reverted eth_call.
const revertErrorCode = 3

// classifyCallError turns JSON-RPC errors that report a contract revert into
// *RevertError. Every other error, including node-side ones such as rate
// limits or missing headers, is returned unchanged and stays retryable.
func classifyCallError(err error) error {
	if err == nil {
		return nil
	}
	var rpcErr rpc.Error
	if !errors.As(err, &rpcErr) {
		return err
	}
	if rpcErr.ErrorCode() != revertErrorCode &&
		!strings.HasPrefix(strings.ToLower(rpcErr.Error()), "execution reverted") {
		return err
	}
	revert := &RevertError{Err: err}
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if hexData, ok := dataErr.ErrorData().(string); ok {
			if reason, unpackErr := abi.UnpackRevert(common.FromHex(hexData)); unpackErr == nil {
				revert.Reason = reason
			}
		}
	}
	return revert
}

func IsRevert(err error) bool {
	var revert *RevertError
	return errors.As(err, &revert)
}

// IsRPCError reports whether the node answered with a JSON-RPC error, as
// opposed to the request failing in transport.
func IsRPCError(err error) bool {
	var rpcErr rpc.Error
	return errors.As(err, &rpcErr)
}
