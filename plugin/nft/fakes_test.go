package nft

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	gcommon "github.com/ethereum/go-ethereum/common"
	gtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/rs-ent/starglow-sub015/internal/chain"
	"github.com/rs-ent/starglow-sub015/internal/keysign"
	"github.com/rs-ent/starglow-sub015/internal/types"
	"github.com/rs-ent/starglow-sub015/storage/memory"
)

const (
	testCollectionID   = "collection-1"
	testCollectionName = "Starglow Genesis"
	testNetworkID      = "network-1"
)

var (
	testContract = gcommon.HexToAddress("0x5fbdb2315678afecb367f032d93f642f64180aa3")
	testBuyer    = gcommon.HexToAddress("0x70997970c51812dc3a010c7d01b50e0d17dc79c8")
)

// fakeChain is an in-memory escrow collection contract.
type fakeChain struct {
	mu sync.Mutex

	chainID  *big.Int
	name     string
	owners   map[int64]gcommon.Address
	escrows  map[gcommon.Address]bool
	nonces   map[gcommon.Address]*big.Int
	txNonce  uint64
	receipts map[gcommon.Hash]*gtypes.Receipt
	calls    map[string]int
	released int

	simulateErr  error
	revertAfter  int   // simulations beyond this many revert; 0 disables
	submitErr    error // returned by the next SubmitTransaction
	applyOnError bool  // apply the transfer even when submitErr is returned
	hideReceipts bool
}

func newFakeChain(escrow gcommon.Address) *fakeChain {
	return &fakeChain{
		chainID:  big.NewInt(31337),
		name:     testCollectionName,
		owners:   make(map[int64]gcommon.Address),
		escrows:  map[gcommon.Address]bool{escrow: true},
		nonces:   make(map[gcommon.Address]*big.Int),
		receipts: make(map[gcommon.Hash]*gtypes.Receipt),
		calls:    make(map[string]int),
	}
}

func (f *fakeChain) mint(owner gcommon.Address, ids ...int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		f.owners[id] = owner
	}
}

func (f *fakeChain) ownerOf(id int64) gcommon.Address {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.owners[id]
}

func (f *fakeChain) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeChain) nonceOf(addr gcommon.Address) *big.Int {
	if n, ok := f.nonces[addr]; ok {
		return n
	}
	return big.NewInt(0)
}

func (f *fakeChain) ChainID() *big.Int {
	return f.chainID
}

func (f *fakeChain) call(call chain.Call) ([]byte, error) {
	method, err := collectionABI.MethodById(call.Data[:4])
	if err != nil {
		return nil, err
	}
	f.calls[method.Name]++
	args, err := method.Inputs.Unpack(call.Data[4:])
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case "ownerOf":
		id := args[0].(*big.Int).Int64()
		owner, ok := f.owners[id]
		if !ok {
			return nil, &chain.RevertError{Reason: "ERC721: invalid token ID", Err: errors.New("execution reverted")}
		}
		return method.Outputs.Pack(owner)
	case "isEscrowWallet":
		return method.Outputs.Pack(f.escrows[args[0].(gcommon.Address)])
	case "nonces":
		return method.Outputs.Pack(f.nonceOf(args[0].(gcommon.Address)))
	case "batchTransferWithPermit":
		_, err := f.checkPermit(call.From, args)
		return nil, err
	}
	return nil, fmt.Errorf("unexpected method %s", method.Name)
}

func (f *fakeChain) checkPermit(from gcommon.Address, args []interface{}) (*permitArg, error) {
	p := abi.ConvertType(args[0], new(permitArg)).(*permitArg)
	sig := args[1].([]byte)

	revert := func(reason string) error {
		return &chain.RevertError{Reason: reason, Err: errors.New("execution reverted")}
	}
	if !f.escrows[from] {
		return nil, revert("not escrow")
	}
	if p.Owner != from {
		return nil, revert("owner mismatch")
	}
	if p.Nonce.Cmp(f.nonceOf(p.Owner)) != 0 {
		return nil, revert("invalid nonce")
	}
	if p.Deadline.Int64() < time.Now().Unix() {
		return nil, revert("permit expired")
	}
	permit := Permit{Owner: p.Owner, To: p.To, StartTokenID: p.StartTokenId, Quantity: p.Quantity, Nonce: p.Nonce, Deadline: p.Deadline}
	signer, err := RecoverSigner(permit.TypedData(Domain{
		Name:              f.name,
		Version:           "1",
		ChainID:           f.chainID,
		VerifyingContract: testContract,
	}), sig)
	if err != nil || signer != p.Owner {
		return nil, revert("invalid signature")
	}
	start := p.StartTokenId.Int64()
	for id := start; id < start+p.Quantity.Int64(); id++ {
		if f.owners[id] != p.Owner {
			return nil, revert(fmt.Sprintf("token %d not owned", id))
		}
	}
	return p, nil
}

func (f *fakeChain) ReadContract(_ context.Context, call chain.Call) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.call(call)
}

func (f *fakeChain) BatchReadContract(_ context.Context, calls []chain.Call) ([]chain.BatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["batch"]++
	out := make([]chain.BatchResult, len(calls))
	for i, c := range calls {
		data, err := f.call(c)
		out[i] = chain.BatchResult{Data: data, Err: err}
	}
	return out, nil
}

func (f *fakeChain) SimulateContract(_ context.Context, call chain.Call) (*chain.PreparedTx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["simulate"]++
	if f.simulateErr != nil {
		return nil, f.simulateErr
	}
	if f.revertAfter > 0 && f.calls["simulate"] > f.revertAfter {
		return nil, &chain.RevertError{Reason: "transfer paused", Err: errors.New("execution reverted")}
	}
	if _, err := f.call(call); err != nil {
		return nil, err
	}
	return &chain.PreparedTx{
		ChainID:   f.chainID,
		From:      call.From,
		To:        call.To,
		Data:      call.Data,
		Nonce:     f.txNonce,
		Gas:       120000,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(2),
	}, nil
}

func (f *fakeChain) SubmitTransaction(_ context.Context, tx *gtypes.Transaction) (gcommon.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["submit"]++

	submitErr := f.submitErr
	f.submitErr = nil
	if submitErr != nil && !f.applyOnError {
		return gcommon.Hash{}, submitErr
	}

	from, err := gtypes.Sender(gtypes.LatestSignerForChainID(f.chainID), tx)
	if err != nil {
		return gcommon.Hash{}, err
	}
	method, err := collectionABI.MethodById(tx.Data()[:4])
	if err != nil {
		return gcommon.Hash{}, err
	}
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	if err != nil {
		return gcommon.Hash{}, err
	}

	receipt := &gtypes.Receipt{TxHash: tx.Hash(), GasUsed: 50000, Status: gtypes.ReceiptStatusFailed}
	if p, err := f.checkPermit(from, args); err == nil {
		start := p.StartTokenId.Int64()
		for id := start; id < start+p.Quantity.Int64(); id++ {
			f.owners[id] = p.To
		}
		f.nonces[p.Owner] = new(big.Int).Add(p.Nonce, big.NewInt(1))
		receipt.Status = gtypes.ReceiptStatusSuccessful
	}
	f.receipts[tx.Hash()] = receipt
	f.txNonce++

	if submitErr != nil {
		return gcommon.Hash{}, submitErr
	}
	return tx.Hash(), nil
}

func (f *fakeChain) TransactionReceipt(_ context.Context, hash gcommon.Hash) (*gtypes.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["receipt"]++
	if f.hideReceipts {
		return nil, ethereum.NotFound
	}
	r, ok := f.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (f *fakeChain) ReleaseNonce(gcommon.Address) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released++
}

type staticResolver struct {
	client chain.Client
	err    error
}

func (r staticResolver) ForNetwork(context.Context, types.Network) (chain.Client, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.client, nil
}

// countingSigner records how often the escrow key was used.
type countingSigner struct {
	keysign.Signer
	mu        sync.Mutex
	typed     int
	txs       int
	signWith  keysign.Signer
	typedFail error
}

func (s *countingSigner) SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error) {
	s.mu.Lock()
	s.typed++
	s.mu.Unlock()
	if s.typedFail != nil {
		return nil, s.typedFail
	}
	if s.signWith != nil {
		return s.signWith.SignTypedData(ctx, data)
	}
	return s.Signer.SignTypedData(ctx, data)
}

func (s *countingSigner) SignTx(ctx context.Context, tx *gtypes.Transaction, chainID *big.Int) (*gtypes.Transaction, error) {
	s.mu.Lock()
	s.txs++
	s.mu.Unlock()
	return s.Signer.SignTx(ctx, tx, chainID)
}

type singleWallet struct {
	signer keysign.Signer
}

func (w singleWallet) Wallet(_ context.Context, address string) (keysign.Signer, error) {
	if gcommon.HexToAddress(address) != w.signer.Address() {
		return nil, types.NewError(types.ErrEscrowWalletNotFound, "escrow wallet not found")
	}
	return w.signer, nil
}

type transferFixture struct {
	store      *memory.Store
	chain      *fakeChain
	signer     *countingSigner
	transferer *Transferer
	cfg        *Config
}

func newTransferFixture(t *testing.T, opts ...ConfigOption) *transferFixture {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	escrow := keysign.NewKeySigner(key)
	signer := &countingSigner{Signer: escrow}

	fc := newFakeChain(escrow.Address())

	store := memory.NewStore()
	store.PutCollection(types.Collection{
		ID:           testCollectionID,
		Address:      testContract.Hex(),
		OwnerAddress: escrow.Address().Hex(),
		Name:         testCollectionName,
		NetworkID:    testNetworkID,
		Network: types.Network{
			ID:      testNetworkID,
			Name:    "localnet",
			ChainID: fc.chainID.Int64(),
			RPCURL:  "http://localhost:8545",
		},
	})

	opts = append([]ConfigOption{WithReceipts(true, time.Second, time.Millisecond)}, opts...)
	cfg, err := NewConfig(opts...)
	require.NoError(t, err)

	transferer, err := NewTransferer(store, staticResolver{client: fc}, singleWallet{signer: signer}, cfg, logrus.New())
	require.NoError(t, err)

	return &transferFixture{
		store:      store,
		chain:      fc,
		signer:     signer,
		transferer: transferer,
		cfg:        cfg,
	}
}

func (f *transferFixture) escrow() gcommon.Address {
	return f.signer.Address()
}

func (f *transferFixture) request(quantity int) TransferRequest {
	return TransferRequest{
		CollectionAddress: testContract.Hex(),
		Quantity:          quantity,
		To:                testBuyer.Hex(),
	}
}
