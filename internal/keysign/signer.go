package keysign

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	gtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/sirupsen/logrus"

	"github.com/rs-ent/starglow-sub015/internal/types"
)

// Signer is a wallet able to authorize on behalf of one address.
type Signer interface {
	Address() common.Address
	SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error)
	SignTx(ctx context.Context, tx *gtypes.Transaction, chainID *big.Int) (*gtypes.Transaction, error)
}

// Wallets resolves the signer for an escrow address.
type Wallets interface {
	Wallet(ctx context.Context, address string) (Signer, error)
}

var _ Signer = (*KeySigner)(nil)

// KeySigner signs with an in-process private key.
type KeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

func NewKeySigner(key *ecdsa.PrivateKey) *KeySigner {
	return &KeySigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}
}

func NewKeySignerFromHex(hexKey string) (*KeySigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto.HexToECDSA: %w", err)
	}
	return NewKeySigner(key), nil
}

func (s *KeySigner) Address() common.Address {
	return s.address
}

func (s *KeySigner) SignTypedData(_ context.Context, data apitypes.TypedData) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return nil, fmt.Errorf("apitypes.TypedDataAndHash: %w", err)
	}
	sig, err := crypto.Sign(hash, s.key)
	if err != nil {
		return nil, fmt.Errorf("crypto.Sign: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

func (s *KeySigner) SignTx(_ context.Context, tx *gtypes.Transaction, chainID *big.Int) (*gtypes.Transaction, error) {
	signed, err := gtypes.SignTx(tx, gtypes.LatestSignerForChainID(chainID), s.key)
	if err != nil {
		return nil, fmt.Errorf("types.SignTx: %w", err)
	}
	return signed, nil
}

var _ Wallets = (*Keyring)(nil)

// Keyring holds local escrow signers and optionally falls back to a remote
// custody service for addresses it has no key for.
type Keyring struct {
	mu       sync.RWMutex
	signers  map[common.Address]Signer
	fallback Wallets
	logger   logrus.FieldLogger
}

func NewKeyring(logger logrus.FieldLogger, fallback Wallets, signers ...Signer) *Keyring {
	k := &Keyring{
		signers:  make(map[common.Address]Signer, len(signers)),
		fallback: fallback,
		logger:   logger,
	}
	for _, s := range signers {
		k.signers[s.Address()] = s
	}
	return k
}

// NewKeyringFromHex builds a keyring from hex private keys, typically loaded from config.
func NewKeyringFromHex(logger logrus.FieldLogger, fallback Wallets, hexKeys []string) (*Keyring, error) {
	signers := make([]Signer, 0, len(hexKeys))
	for i, hexKey := range hexKeys {
		s, err := NewKeySignerFromHex(hexKey)
		if err != nil {
			return nil, fmt.Errorf("escrow key %d: %w", i, err)
		}
		signers = append(signers, s)
	}
	return NewKeyring(logger, fallback, signers...), nil
}

func (k *Keyring) Wallet(ctx context.Context, address string) (Signer, error) {
	if !common.IsHexAddress(address) {
		return nil, types.NewError(types.ErrEscrowWalletNotFound, fmt.Sprintf("invalid escrow address %q", address))
	}

	k.mu.RLock()
	s, ok := k.signers[common.HexToAddress(address)]
	k.mu.RUnlock()
	if ok {
		return s, nil
	}

	if k.fallback != nil {
		return k.fallback.Wallet(ctx, address)
	}

	k.logger.WithField("address", address).Warn("no signer configured for escrow wallet")
	return nil, types.NewError(types.ErrEscrowWalletNotFound, fmt.Sprintf("escrow wallet %s not found", address))
}
