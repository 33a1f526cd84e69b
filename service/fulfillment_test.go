package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rs-ent/starglow-sub015/internal/types"
	"github.com/rs-ent/starglow-sub015/plugin/common"
	"github.com/rs-ent/starglow-sub015/plugin/event"
	"github.com/rs-ent/starglow-sub015/storage/memory"
)

type countingHandler struct {
	calls atomic.Int32
	fn    func(ctx context.Context, p types.Payment) types.Result
}

func (h *countingHandler) Handle(ctx context.Context, p types.Payment) types.Result {
	h.calls.Add(1)
	if h.fn != nil {
		return h.fn(ctx, p)
	}
	return types.Succeed(p.ID)
}

func newService(t *testing.T, nft, ev common.Handler) (*memory.Store, *FulfillmentService) {
	t.Helper()
	store := memory.NewStore()
	svc, err := NewFulfillmentService(store, nft, ev, nil, logrus.New())
	require.NoError(t, err)
	return store, svc
}

func TestProcessPayment_Routes(t *testing.T) {
	nft := &countingHandler{}
	ev := &countingHandler{}
	_, svc := newService(t, nft, ev)

	res := svc.ProcessPayment(context.Background(), types.Payment{ID: "p-nft", ProductTable: types.ProductTableNFTs})
	assert.True(t, res.Success)
	res = svc.ProcessPayment(context.Background(), types.Payment{ID: "p-event", ProductTable: types.ProductTableEvents})
	assert.True(t, res.Success)

	assert.Equal(t, int32(1), nft.calls.Load())
	assert.Equal(t, int32(1), ev.calls.Load())
}

func TestProcessPayment_InvalidProductTable(t *testing.T) {
	nft := &countingHandler{}
	ev := &countingHandler{}
	store, svc := newService(t, nft, ev)

	p := types.Payment{ID: "p-1", ProductTable: "invalid_table", Status: types.PaymentStatusPaid}
	store.PutPayment(p)

	for i := 0; i < 3; i++ {
		res := svc.ProcessPayment(context.Background(), p)
		require.False(t, res.Success)
		assert.Equal(t, types.ErrInvalidProductTable, res.Error.Code)
	}
	assert.Equal(t, int32(0), nft.calls.Load())
	assert.Equal(t, int32(0), ev.calls.Load())

	stored, err := store.GetPayment(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, types.PaymentStatusPaid, stored.Status)
	assert.Nil(t, stored.PostProcessResult)
}

func TestProcessPayment_ConcurrentPaymentsAreIndependent(t *testing.T) {
	outcomes := map[string]types.Result{
		"payment-1": types.Succeed(&types.TransferData{TransactionHash: "0x1"}),
		"payment-2": types.Fail(types.ErrTransferFailed, "Insufficient balance"),
		"payment-3": types.Succeed(&types.TransferData{TransactionHash: "0x3"}),
	}
	delays := map[string]time.Duration{
		"payment-1": 30 * time.Millisecond,
		"payment-2": 10 * time.Millisecond,
		"payment-3": 0,
	}
	nft := &countingHandler{fn: func(_ context.Context, p types.Payment) types.Result {
		time.Sleep(delays[p.ID])
		return outcomes[p.ID]
	}}
	_, svc := newService(t, nft, &countingHandler{})

	var wg sync.WaitGroup
	var mu sync.Mutex
	got := make(map[string]types.Result)
	for id := range outcomes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := svc.ProcessPayment(context.Background(), types.Payment{ID: id, ProductTable: types.ProductTableNFTs})
			mu.Lock()
			got[id] = res
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, outcomes, got)
}

func TestProcessPaymentByID(t *testing.T) {
	paidAt := time.Now().UTC()
	store, svc := newService(t, &countingHandler{}, event.NewHandler(logrus.New()))
	store.PutPayment(types.Payment{
		ID:           "event-payment",
		ProductTable: types.ProductTableEvents,
		Status:       types.PaymentStatusPaid,
		PaidAt:       &paidAt,
	})

	res, err := svc.ProcessPaymentByID(context.Background(), "event-payment")
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, types.EventData{Status: types.PaymentStatusPaid, PaidAt: &paidAt}, res.Data)

	res, err = svc.ProcessPaymentByID(context.Background(), "missing")
	require.NoError(t, err)
	require.False(t, res.Success)
	assert.Equal(t, types.ErrPaymentNotFound, res.Error.Code)
}

type brokenStore struct {
	*memory.Store
}

func (brokenStore) GetPayment(context.Context, string) (*types.Payment, error) {
	return nil, errors.New("too many connections")
}

func TestProcessPaymentByID_StorageError(t *testing.T) {
	svc, err := NewFulfillmentService(brokenStore{memory.NewStore()}, &countingHandler{}, &countingHandler{}, nil, logrus.New())
	require.NoError(t, err)

	_, err = svc.ProcessPaymentByID(context.Background(), "p-1")
	assert.ErrorContains(t, err, "too many connections")
}

func TestProcessBatch(t *testing.T) {
	var inFlight, peak atomic.Int32
	nft := &countingHandler{fn: func(_ context.Context, p types.Payment) types.Result {
		n := inFlight.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return types.Succeed(p.ID)
	}}
	_, svc := newService(t, nft, &countingHandler{})

	payments := make([]types.Payment, 10)
	for i := range payments {
		payments[i] = types.Payment{ID: fmt.Sprintf("p-%d", i), ProductTable: types.ProductTableNFTs}
	}
	payments[4].ProductTable = "coupons"

	results := svc.ProcessBatch(context.Background(), payments, 3)

	require.Len(t, results, len(payments))
	for i, res := range results {
		if i == 4 {
			assert.Equal(t, types.ErrInvalidProductTable, res.Error.Code)
			continue
		}
		assert.Equal(t, payments[i].ID, res.Data)
	}
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Equal(t, int32(9), nft.calls.Load())
}

func TestProcessBatch_CancelledContext(t *testing.T) {
	_, svc := newService(t, &countingHandler{}, &countingHandler{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := svc.ProcessBatch(ctx, []types.Payment{{ID: "a", ProductTable: types.ProductTableNFTs}}, 1)
	require.Len(t, results, 1)
	assert.Equal(t, types.ErrProcessingFailed, results[0].Error.Code)
}
