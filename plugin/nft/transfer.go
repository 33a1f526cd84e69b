package nft

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	gcommon "github.com/ethereum/go-ethereum/common"
	gtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/rs-ent/starglow-sub015/internal/chain"
	"github.com/rs-ent/starglow-sub015/internal/keysign"
	"github.com/rs-ent/starglow-sub015/internal/types"
	"github.com/rs-ent/starglow-sub015/storage"
)

const tracerName = "github.com/rs-ent/starglow-sub015/plugin/nft"

// ChainResolver hands out the chain client for a collection's network.
type ChainResolver interface {
	ForNetwork(ctx context.Context, network types.Network) (chain.Client, error)
}

type TransferRequest struct {
	CollectionAddress string
	Quantity          int
	To                string
}

// SubmittedBatch is one permit transaction that was handed to the network.
type SubmittedBatch struct {
	Nonce    *big.Int
	Deadline *big.Int
	TokenIDs []*big.Int
	TxHash   gcommon.Hash
	Landed   bool
	GasUsed  uint64
	previous bool
}

// Submission is everything a transfer call put on chain.
type Submission struct {
	Collection gcommon.Address
	Owner      gcommon.Address
	To         gcommon.Address
	Batches    []SubmittedBatch
}

func (s *Submission) landedCount() int {
	n := 0
	for _, b := range s.Batches {
		if b.Landed {
			n += len(b.TokenIDs)
		}
	}
	return n
}

func (s *Submission) hashes() []string {
	out := make([]string, 0, len(s.Batches))
	for _, b := range s.Batches {
		out = append(out, b.TxHash.Hex())
	}
	return out
}

func (s *Submission) result() *types.TransferData {
	data := &types.TransferData{}
	var gas uint64
	allReceipts := true
	for _, b := range s.Batches {
		for _, id := range b.TokenIDs {
			data.TokenIDs = append(data.TokenIDs, id.String())
		}
		if b.previous {
			data.Reconciled = true
		}
		if b.GasUsed == 0 {
			allReceipts = false
		}
		gas += b.GasUsed
	}
	hashes := s.hashes()
	if len(hashes) > 0 {
		data.TransactionHash = hashes[0]
	}
	if len(hashes) > 1 {
		data.TransactionHashes = hashes
	}
	if allReceipts && gas > 0 {
		data.GasUsed = &gas
	}
	return data
}

// SubmittedError is a failure that happened after at least one transaction
// was sent. The next attempt must reconcile Submission before sending more.
type SubmittedError struct {
	Submission *Submission
	Err        error
}

func (e *SubmittedError) Error() string {
	return e.Err.Error()
}

func (e *SubmittedError) Unwrap() error {
	return e.Err
}

// Transferer moves escrow-held tokens to a buyer with signed batch permits.
type Transferer struct {
	db      storage.DatabaseStorage
	chains  ChainResolver
	wallets keysign.Wallets
	cfg     *Config
	locks   *escrowLocks
	logger  logrus.FieldLogger
	tracer  trace.Tracer
	now     func() time.Time
}

func NewTransferer(
	db storage.DatabaseStorage,
	chains ChainResolver,
	wallets keysign.Wallets,
	cfg *Config,
	logger logrus.FieldLogger,
) (*Transferer, error) {
	if db == nil {
		return nil, fmt.Errorf("database storage cannot be nil")
	}
	if chains == nil {
		return nil, fmt.Errorf("chain resolver cannot be nil")
	}
	if wallets == nil {
		return nil, fmt.Errorf("wallets cannot be nil")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	return &Transferer{
		db:      db,
		chains:  chains,
		wallets: wallets,
		cfg:     cfg,
		locks:   newEscrowLocks(),
		logger:  logger.WithField("component", "transfer"),
		tracer:  otel.Tracer(tracerName),
		now:     time.Now,
	}, nil
}

// TransferBatch delivers req.Quantity tokens of the collection to req.To.
// When prev is set, batches it recorded are checked on chain first and only
// the undelivered remainder is transferred.
func (t *Transferer) TransferBatch(ctx context.Context, req TransferRequest, prev *Submission) (data *types.TransferData, err error) {
	ctx, span := t.tracer.Start(ctx, "nft.TransferBatch", trace.WithAttributes(
		attribute.String("collection", req.CollectionAddress),
		attribute.Int("quantity", req.Quantity),
		attribute.Bool("reconcile", prev != nil),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if req.Quantity < 1 {
		return nil, types.NewError(types.ErrTransferFailed, "quantity must be at least 1")
	}
	if !gcommon.IsHexAddress(req.To) {
		return nil, types.NewError(types.ErrTransferFailed, fmt.Sprintf("invalid recipient address %q", req.To))
	}

	collection, err := t.db.GetCollectionByAddress(ctx, req.CollectionAddress)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, types.NewError(types.ErrCollectionNotFound, fmt.Sprintf("collection %s not found", req.CollectionAddress))
	}
	if err != nil {
		return nil, fmt.Errorf("t.db.GetCollectionByAddress: %w", err)
	}

	client, err := t.chains.ForNetwork(ctx, collection.Network)
	if err != nil {
		return nil, fmt.Errorf("t.chains.ForNetwork: %w", err)
	}
	signer, err := t.wallets.Wallet(ctx, collection.OwnerAddress)
	if err != nil {
		return nil, fmt.Errorf("t.wallets.Wallet: %w", err)
	}

	s := &transferSession{
		cfg:      t.cfg,
		client:   client,
		signer:   signer,
		contract: gcommon.HexToAddress(collection.Address),
		owner:    signer.Address(),
		to:       gcommon.HexToAddress(req.To),
		now:      t.now,
		domain: Domain{
			Name:              collection.Name,
			Version:           t.cfg.DomainVersion,
			ChainID:           client.ChainID(),
			VerifyingContract: gcommon.HexToAddress(collection.Address),
		},
		logger: t.logger.WithFields(logrus.Fields{
			"collection": collection.Address,
			"escrow":     collection.OwnerAddress,
			"to":         req.To,
		}),
	}

	authorized, err := s.isEscrowWallet(ctx)
	if err != nil {
		return nil, err
	}
	if !authorized {
		return nil, types.NewError(types.ErrUnauthorized, fmt.Sprintf("%s is not an escrow wallet of collection %s", s.owner.Hex(), s.contract.Hex()))
	}

	// Scan-to-submit must not interleave with another transfer from the same
	// escrow: both would pick the same ids and permit nonce.
	release, err := t.locks.acquire(ctx, s.contract.Hex()+":"+s.owner.Hex())
	if err != nil {
		return nil, fmt.Errorf("t.locks.acquire: %w", err)
	}
	defer release()

	sub := &Submission{Collection: s.contract, Owner: s.owner, To: s.to}
	if prev != nil {
		landed, err := s.reconcile(ctx, prev)
		if err != nil {
			return nil, &SubmittedError{Submission: prev, Err: err}
		}
		sub.Batches = landed
	}

	remaining := req.Quantity - sub.landedCount()
	if remaining <= 0 {
		s.logger.WithField("tx_hashes", sub.hashes()).Info("previous submission already delivered the order")
		return sub.result(), nil
	}

	ids, err := FindOwnedTokens(ctx, client, s.contract, s.owner, remaining)
	if err != nil {
		return nil, t.afterSubmit(sub, err)
	}

	ranges := ContiguousRanges(ids, t.cfg.MaxBatchSize)
	for i, rangeIDs := range ranges {
		wait := t.cfg.WaitForReceipt || i < len(ranges)-1
		batch, err := s.submitRange(ctx, rangeIDs, wait)
		if batch != nil {
			sub.Batches = append(sub.Batches, *batch)
		}
		if err != nil {
			return nil, t.afterSubmit(sub, err)
		}
	}

	data = sub.result()
	s.logger.WithFields(logrus.Fields{
		"tx_hashes": sub.hashes(),
		"token_ids": data.TokenIDs,
	}).Info("batch transfer submitted")
	return data, nil
}

func (t *Transferer) afterSubmit(sub *Submission, err error) error {
	if len(sub.Batches) == 0 {
		return err
	}
	return &SubmittedError{Submission: sub, Err: err}
}

type transferSession struct {
	cfg      *Config
	client   chain.Client
	signer   keysign.Signer
	contract gcommon.Address
	owner    gcommon.Address
	to       gcommon.Address
	domain   Domain
	now      func() time.Time
	logger   logrus.FieldLogger
}

func (s *transferSession) isEscrowWallet(ctx context.Context) (bool, error) {
	data, err := packIsEscrowWallet(s.owner)
	if err != nil {
		return false, fmt.Errorf("packIsEscrowWallet: %w", err)
	}
	out, err := s.client.ReadContract(ctx, chain.Call{To: s.contract, Data: data})
	if err != nil {
		if chain.IsRevert(err) {
			return false, types.WrapError(types.ErrUnauthorized, "Escrow wallet check reverted", err)
		}
		return false, fmt.Errorf("s.client.ReadContract(isEscrowWallet): %w", err)
	}
	ok, err := unpackIsEscrowWallet(out)
	if err != nil {
		return false, fmt.Errorf("unpackIsEscrowWallet: %w", err)
	}
	return ok, nil
}

func (s *transferSession) readNonce(ctx context.Context) (*big.Int, error) {
	data, err := packNonces(s.owner)
	if err != nil {
		return nil, fmt.Errorf("packNonces: %w", err)
	}
	out, err := s.client.ReadContract(ctx, chain.Call{To: s.contract, Data: data})
	if err != nil {
		return nil, fmt.Errorf("s.client.ReadContract(nonces): %w", err)
	}
	nonce, err := unpackNonces(out)
	if err != nil {
		return nil, fmt.Errorf("unpackNonces: %w", err)
	}
	return nonce, nil
}

// submitRange signs, simulates and sends one permit covering the consecutive
// ids. The returned batch is non-nil once the transaction may have reached
// the network, even if err is set.
func (s *transferSession) submitRange(ctx context.Context, ids []*big.Int, wait bool) (*SubmittedBatch, error) {
	nonce, err := s.readNonce(ctx)
	if err != nil {
		return nil, err
	}

	permit := Permit{
		Owner:        s.owner,
		To:           s.to,
		StartTokenID: ids[0],
		Quantity:     big.NewInt(int64(len(ids))),
		Nonce:        nonce,
		Deadline:     big.NewInt(s.now().Add(s.cfg.PermitTTL).Unix()),
	}

	typed := permit.TypedData(s.domain)
	sig, err := s.signer.SignTypedData(ctx, typed)
	if err != nil {
		return nil, fmt.Errorf("s.signer.SignTypedData: %w", err)
	}
	recovered, err := RecoverSigner(typed, sig)
	if err != nil {
		return nil, types.WrapError(types.ErrInvalidSignature, "Invalid permit signature", err)
	}
	if recovered != s.owner {
		return nil, types.NewError(types.ErrInvalidSignature, fmt.Sprintf("permit signed by %s, expected %s", recovered.Hex(), s.owner.Hex()))
	}

	calldata, err := packBatchTransferWithPermit(permit, sig)
	if err != nil {
		return nil, fmt.Errorf("packBatchTransferWithPermit: %w", err)
	}
	prepared, err := s.client.SimulateContract(ctx, chain.Call{From: s.owner, To: s.contract, Data: calldata})
	if err != nil {
		if chain.IsRevert(err) {
			return nil, types.WrapError(types.ErrTransferFailed, "Transfer simulation failed", err)
		}
		return nil, fmt.Errorf("s.client.SimulateContract: %w", err)
	}

	signed, err := s.signer.SignTx(ctx, prepared.Unsigned(), prepared.ChainID)
	if err != nil {
		s.client.ReleaseNonce(s.owner)
		return nil, fmt.Errorf("s.signer.SignTx: %w", err)
	}

	batch := &SubmittedBatch{
		Nonce:    permit.Nonce,
		Deadline: permit.Deadline,
		TokenIDs: ids,
		TxHash:   signed.Hash(),
	}

	hash, err := s.client.SubmitTransaction(ctx, signed)
	if err != nil {
		s.client.ReleaseNonce(s.owner)
		if chain.IsRPCError(err) {
			// The node rejected it; nothing is in flight.
			return nil, fmt.Errorf("s.client.SubmitTransaction: %w", err)
		}
		return batch, fmt.Errorf("s.client.SubmitTransaction: %w", err)
	}
	batch.TxHash = hash

	s.logger.WithFields(logrus.Fields{
		"tx_hash":        hash.Hex(),
		"permit_nonce":   permit.Nonce.String(),
		"start_token_id": permit.StartTokenID.String(),
		"quantity":       len(ids),
	}).Info("permit transaction submitted")

	if !wait {
		return batch, nil
	}

	receipt, err := s.waitReceipt(ctx, hash)
	if err != nil {
		return batch, err
	}
	if receipt.Status != gtypes.ReceiptStatusSuccessful {
		return nil, types.NewError(types.ErrTransferFailed, fmt.Sprintf("transfer transaction %s reverted", hash.Hex()))
	}
	batch.Landed = true
	batch.GasUsed = receipt.GasUsed
	return batch, nil
}

func (s *transferSession) waitReceipt(ctx context.Context, hash gcommon.Hash) (*gtypes.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ReceiptTimeout)
	defer cancel()

	ticker := time.NewTicker(s.cfg.ReceiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := s.client.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			s.logger.WithField("tx_hash", hash.Hex()).WithError(err).Warn("failed to fetch receipt")
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for receipt of %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// reconcile returns the batches of prev that are known to have delivered
// their tokens. It fails while any batch may still land.
func (s *transferSession) reconcile(ctx context.Context, prev *Submission) ([]SubmittedBatch, error) {
	if prev.Collection != s.contract || prev.Owner != s.owner || prev.To != s.to {
		s.logger.Warn("previous submission does not match this transfer, ignoring it")
		return nil, nil
	}

	var landed []SubmittedBatch
	for _, b := range prev.Batches {
		if !b.Landed {
			ok, gas, err := s.checkLanded(ctx, b)
			if err != nil {
				return nil, err
			}
			if !ok {
				s.logger.WithField("tx_hash", b.TxHash.Hex()).Info("previous transaction did not land")
				continue
			}
			b.Landed = true
			b.GasUsed = gas
		}
		b.previous = true
		landed = append(landed, b)
	}
	return landed, nil
}

func (s *transferSession) checkLanded(ctx context.Context, b SubmittedBatch) (bool, uint64, error) {
	receipt, err := s.client.TransactionReceipt(ctx, b.TxHash)
	if err == nil {
		return receipt.Status == gtypes.ReceiptStatusSuccessful, receipt.GasUsed, nil
	}
	if !errors.Is(err, ethereum.NotFound) {
		return false, 0, fmt.Errorf("s.client.TransactionReceipt: %w", err)
	}

	// No receipt under this hash. A consumed permit nonce plus the buyer
	// holding the ids means it landed under another hash.
	current, err := s.readNonce(ctx)
	if err != nil {
		return false, 0, err
	}
	if current.Cmp(b.Nonce) > 0 {
		owned, err := s.ownsAll(ctx, b.TokenIDs)
		if err != nil {
			return false, 0, err
		}
		return owned, 0, nil
	}
	if s.now().Unix() > b.Deadline.Int64() {
		return false, 0, nil
	}
	return false, 0, fmt.Errorf("transaction %s is still pending", b.TxHash.Hex())
}

func (s *transferSession) ownsAll(ctx context.Context, ids []*big.Int) (bool, error) {
	calls := make([]chain.Call, len(ids))
	for i, id := range ids {
		data, err := packOwnerOf(id)
		if err != nil {
			return false, fmt.Errorf("packOwnerOf: %w", err)
		}
		calls[i] = chain.Call{To: s.contract, Data: data}
	}
	results, err := s.client.BatchReadContract(ctx, calls)
	if err != nil {
		return false, fmt.Errorf("s.client.BatchReadContract: %w", err)
	}
	for i, res := range results {
		if res.Err != nil {
			if chain.IsRevert(res.Err) {
				return false, nil
			}
			return false, fmt.Errorf("ownerOf(%s): %w", ids[i], res.Err)
		}
		owner, err := unpackOwnerOf(res.Data)
		if err != nil {
			return false, fmt.Errorf("unpackOwnerOf: %w", err)
		}
		if owner != s.to {
			return false, nil
		}
	}
	return true, nil
}

// escrowLocks serializes transfers per collection and escrow wallet within
// this process. Entries are dropped once no caller holds or waits on them.
type escrowLocks struct {
	mu   sync.Mutex
	sems map[string]*escrowLock
}

type escrowLock struct {
	sem  *semaphore.Weighted
	refs int
}

func newEscrowLocks() *escrowLocks {
	return &escrowLocks{sems: make(map[string]*escrowLock)}
}

func (l *escrowLocks) acquire(ctx context.Context, key string) (func(), error) {
	key = strings.ToLower(key)
	l.mu.Lock()
	lock, ok := l.sems[key]
	if !ok {
		lock = &escrowLock{sem: semaphore.NewWeighted(1)}
		l.sems[key] = lock
	}
	lock.refs++
	l.mu.Unlock()

	if err := lock.sem.Acquire(ctx, 1); err != nil {
		l.unref(key, lock)
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			lock.sem.Release(1)
			l.unref(key, lock)
		})
	}, nil
}

func (l *escrowLocks) unref(key string, lock *escrowLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(l.sems, key)
	}
}

func (l *escrowLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sems)
}
