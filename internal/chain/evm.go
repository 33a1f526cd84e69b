package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/sync/errgroup"
)

const defaultMaxBatchSize = 500

var _ Client = (*EvmClient)(nil)

type EvmClient struct {
	chainID      *big.Int
	rpcClient    *rpc.Client
	ethClient    *ethclient.Client
	nonceManager *NonceManager
	maxBatchSize int
}

func Dial(ctx context.Context, rpcURL string, chainID *big.Int) (*EvmClient, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("rpc.DialContext: %w", err)
	}
	return NewEvmClient(rpcClient, chainID), nil
}

func NewEvmClient(rpcClient *rpc.Client, chainID *big.Int) *EvmClient {
	ethClient := ethclient.NewClient(rpcClient)
	return &EvmClient{
		chainID:      chainID,
		rpcClient:    rpcClient,
		ethClient:    ethClient,
		nonceManager: NewNonceManager(ethClient),
		maxBatchSize: defaultMaxBatchSize,
	}
}

func (c *EvmClient) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

func (c *EvmClient) Close() {
	c.ethClient.Close()
}

func (c *EvmClient) ReadContract(ctx context.Context, call Call) ([]byte, error) {
	to := call.To
	out, err := c.ethClient.CallContract(ctx, ethereum.CallMsg{
		From: call.From,
		To:   &to,
		Data: call.Data,
	}, nil)
	if err != nil {
		return nil, classifyCallError(err)
	}
	return out, nil
}

type callArg struct {
	From *common.Address `json:"from,omitempty"`
	To   common.Address  `json:"to"`
	Data hexutil.Bytes   `json:"data"`
}

// BatchReadContract sends all calls as JSON-RPC batches of at most
// maxBatchSize eth_call elements. Per-call failures land in BatchResult.Err.
func (c *EvmClient) BatchReadContract(ctx context.Context, calls []Call) ([]BatchResult, error) {
	results := make([]BatchResult, len(calls))
	for start := 0; start < len(calls); start += c.maxBatchSize {
		end := min(start+c.maxBatchSize, len(calls))

		outputs := make([]hexutil.Bytes, end-start)
		elems := make([]rpc.BatchElem, end-start)
		for i, call := range calls[start:end] {
			arg := callArg{To: call.To, Data: call.Data}
			if call.From != (common.Address{}) {
				from := call.From
				arg.From = &from
			}
			elems[i] = rpc.BatchElem{
				Method: "eth_call",
				Args:   []interface{}{arg, "latest"},
				Result: &outputs[i],
			}
		}

		if err := c.rpcClient.BatchCallContext(ctx, elems); err != nil {
			return nil, fmt.Errorf("c.rpcClient.BatchCallContext: %w", err)
		}
		for i, elem := range elems {
			if elem.Error != nil {
				results[start+i] = BatchResult{Err: classifyCallError(elem.Error)}
				continue
			}
			results[start+i] = BatchResult{Data: outputs[i]}
		}
	}
	return results, nil
}

// SimulateContract executes call against the latest state and, if it does not
// revert, estimates gas and fees and reserves the sender's account nonce.
func (c *EvmClient) SimulateContract(ctx context.Context, call Call) (*PreparedTx, error) {
	if _, err := c.ReadContract(ctx, call); err != nil {
		return nil, err
	}

	to := call.To
	var eg errgroup.Group
	var gasLimit uint64
	eg.Go(func() error {
		r, e := c.ethClient.EstimateGas(ctx, ethereum.CallMsg{
			From: call.From,
			To:   &to,
			Data: call.Data,
		})
		if e != nil {
			return fmt.Errorf("c.ethClient.EstimateGas: %w", classifyCallError(e))
		}
		gasLimit = r
		return nil
	})

	var gasTipCap *big.Int
	eg.Go(func() error {
		r, e := c.ethClient.SuggestGasTipCap(ctx)
		if e != nil {
			return fmt.Errorf("c.ethClient.SuggestGasTipCap: %w", e)
		}
		gasTipCap = r
		return nil
	})

	var baseFee *big.Int
	eg.Go(func() error {
		feeHistory, e := c.ethClient.FeeHistory(ctx, 1, nil, nil)
		if e != nil {
			return fmt.Errorf("c.ethClient.FeeHistory: %w", e)
		}
		if len(feeHistory.BaseFee) == 0 {
			return fmt.Errorf("feeHistory.BaseFee is empty")
		}
		baseFee = feeHistory.BaseFee[len(feeHistory.BaseFee)-1]
		return nil
	})

	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("eg.Wait: %w", err)
	}

	nonce, err := c.nonceManager.GetNextNonce(ctx, call.From)
	if err != nil {
		return nil, fmt.Errorf("c.nonceManager.GetNextNonce: %w", err)
	}

	maxFeePerGas := new(big.Int).Add(gasTipCap, new(big.Int).Mul(baseFee, big.NewInt(2)))

	return &PreparedTx{
		ChainID:   c.ChainID(),
		From:      call.From,
		To:        call.To,
		Data:      call.Data,
		Nonce:     nonce,
		Gas:       gasLimit + gasLimit/5,
		GasTipCap: gasTipCap,
		GasFeeCap: maxFeePerGas,
	}, nil
}

func (c *EvmClient) SubmitTransaction(ctx context.Context, tx *gtypes.Transaction) (common.Hash, error) {
	if err := c.ethClient.SendTransaction(ctx, tx); err != nil {
		return common.Hash{}, fmt.Errorf("c.ethClient.SendTransaction: %w", err)
	}
	return tx.Hash(), nil
}

func (c *EvmClient) TransactionReceipt(ctx context.Context, hash common.Hash) (*gtypes.Receipt, error) {
	return c.ethClient.TransactionReceipt(ctx, hash)
}

func (c *EvmClient) ReleaseNonce(addr common.Address) {
	c.nonceManager.Reset(addr)
}
