package chain

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

type PendingNoncer interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// NonceManager hands out account nonces for one RPC endpoint. Concurrent
// fulfillments from the same escrow wallet would otherwise read the same
// pending nonce and replace each other's transactions.
type NonceManager struct {
	noncer PendingNoncer
	mu     sync.Mutex
	next   map[common.Address]uint64
}

func NewNonceManager(noncer PendingNoncer) *NonceManager {
	return &NonceManager{
		noncer: noncer,
		next:   make(map[common.Address]uint64),
	}
}

func (n *NonceManager) GetNextNonce(ctx context.Context, address common.Address) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	nonce, err := n.noncer.PendingNonceAt(ctx, address)
	if err != nil {
		return 0, fmt.Errorf("failed to get nonce from network: %w", err)
	}
	if reserved, ok := n.next[address]; ok && reserved > nonce {
		nonce = reserved
	}
	n.next[address] = nonce + 1
	return nonce, nil
}

func (n *NonceManager) Reset(address common.Address) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.next, address)
}
