package nft

import (
	"context"
	"errors"
	"fmt"

	gcommon "github.com/ethereum/go-ethereum/common"

	"github.com/rs-ent/starglow-sub015/internal/types"
	"github.com/rs-ent/starglow-sub015/storage"
)

// ExecuteRequest is one attempt at delivering an NFT payment. Previous is set
// when an earlier attempt already sent transactions.
type ExecuteRequest struct {
	Payment  types.Payment
	Previous *Submission
	Attempt  int
}

// TransferExecutor runs the full delivery chain for one attempt.
type TransferExecutor interface {
	Execute(ctx context.Context, req ExecuteRequest) (*types.TransferData, error)
}

// BatchTransferer is the transfer protocol as seen by the executor.
type BatchTransferer interface {
	TransferBatch(ctx context.Context, req TransferRequest, prev *Submission) (*types.TransferData, error)
}

var _ TransferExecutor = (*PaymentExecutor)(nil)
var _ BatchTransferer = (*Transferer)(nil)

// PaymentExecutor re-reads the payment, checks who it belongs to and where it
// goes, resolves the collection and hands off to the transfer protocol.
type PaymentExecutor struct {
	db         storage.DatabaseStorage
	transferer BatchTransferer
}

func NewPaymentExecutor(db storage.DatabaseStorage, transferer BatchTransferer) (*PaymentExecutor, error) {
	if db == nil {
		return nil, fmt.Errorf("database storage cannot be nil")
	}
	if transferer == nil {
		return nil, fmt.Errorf("transferer cannot be nil")
	}
	return &PaymentExecutor{db: db, transferer: transferer}, nil
}

func (e *PaymentExecutor) Execute(ctx context.Context, req ExecuteRequest) (*types.TransferData, error) {
	stored, err := e.db.GetPayment(ctx, req.Payment.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, types.NewError(types.ErrPaymentNotFound, fmt.Sprintf("payment %s not found", req.Payment.ID))
	}
	if err != nil {
		return nil, fmt.Errorf("e.db.GetPayment: %w", err)
	}

	if stored.UserID != req.Payment.UserID {
		return nil, types.NewError(types.ErrUnauthorized, "Payment does not belong to this user")
	}
	if stored.ReceiverWalletAddress == "" || !gcommon.IsHexAddress(stored.ReceiverWalletAddress) {
		return nil, types.NewError(types.ErrWalletNotFound, "Receiver wallet not found")
	}

	collection, err := e.db.GetCollectionByID(ctx, stored.ProductID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, types.NewError(types.ErrCollectionNotFound, fmt.Sprintf("collection %s not found", stored.ProductID))
	}
	if err != nil {
		return nil, fmt.Errorf("e.db.GetCollectionByID: %w", err)
	}

	return e.transferer.TransferBatch(ctx, TransferRequest{
		CollectionAddress: collection.Address,
		Quantity:          stored.Quantity,
		To:                stored.ReceiverWalletAddress,
	}, req.Previous)
}
