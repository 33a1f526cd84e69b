package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/rs-ent/starglow-sub015/internal/types"
)

// Dialer opens a client for an RPC endpoint.
type Dialer func(ctx context.Context, rpcURL string, chainID *big.Int) (Client, error)

func DefaultDialer(ctx context.Context, rpcURL string, chainID *big.Int) (Client, error) {
	return Dial(ctx, rpcURL, chainID)
}

// Registry keeps one client per network. RPC endpoints configured locally
// take precedence over the URL stored on the network record.
type Registry struct {
	mu        sync.Mutex
	clients   map[string]Client
	endpoints map[string]string
	dial      Dialer
	logger    logrus.FieldLogger
}

func NewRegistry(endpoints map[string]string, dial Dialer, logger logrus.FieldLogger) *Registry {
	if dial == nil {
		dial = DefaultDialer
	}
	if endpoints == nil {
		endpoints = map[string]string{}
	}
	return &Registry{
		clients:   make(map[string]Client),
		endpoints: endpoints,
		dial:      dial,
		logger:    logger,
	}
}

// Register pins a ready client to a network id.
func (r *Registry) Register(networkID string, client Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[networkID] = client
}

func (r *Registry) ForNetwork(ctx context.Context, network types.Network) (Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if client, ok := r.clients[network.ID]; ok {
		return client, nil
	}

	rpcURL := r.endpoints[network.ID]
	if rpcURL == "" {
		rpcURL = network.RPCURL
	}
	if rpcURL == "" || network.ChainID == 0 {
		return nil, types.NewError(types.ErrNetworkNotFound, fmt.Sprintf("network %q has no rpc endpoint", network.ID))
	}

	client, err := r.dial(ctx, rpcURL, big.NewInt(network.ChainID))
	if err != nil {
		return nil, fmt.Errorf("r.dial(network=%s): %w", network.ID, err)
	}
	r.clients[network.ID] = client

	r.logger.WithFields(logrus.Fields{
		"network":  network.Name,
		"chain_id": network.ChainID,
	}).Info("chain client connected")
	return client, nil
}
