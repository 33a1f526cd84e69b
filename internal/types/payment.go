package types

import (
	"encoding/json"
	"time"
)

type PaymentStatus string

const (
	PaymentStatusPaid       PaymentStatus = "PAID"
	PaymentStatusProcessing PaymentStatus = "PROCESSING"
	PaymentStatusCompleted  PaymentStatus = "COMPLETED"
	PaymentStatusFailed     PaymentStatus = "FAILED"
	PaymentStatusCancelled  PaymentStatus = "CANCELLED"
	PaymentStatusRefunded   PaymentStatus = "REFUNDED"
)

type ProductTable string

const (
	ProductTableNFTs   ProductTable = "nfts"
	ProductTableEvents ProductTable = "events"
)

// Payment is the unit of fulfillment work. It is created PAID by the capture
// flow and written once by a fulfillment handler.
type Payment struct {
	ID                    string          `db:"id" json:"id"`
	UserID                string          `db:"user_id" json:"userId"`
	ProductTable          ProductTable    `db:"product_table" json:"productTable"`
	ProductID             string          `db:"product_id" json:"productId"`
	Quantity              int             `db:"quantity" json:"quantity"`
	Status                PaymentStatus   `db:"status" json:"status"`
	ReceiverWalletAddress string          `db:"receiver_wallet_address" json:"receiverWalletAddress,omitempty"`
	StatusReason          string          `db:"status_reason" json:"statusReason,omitempty"`
	PostProcessResult     json.RawMessage `db:"post_process_result" json:"postProcessResult,omitempty"`
	PostProcessResultAt   *time.Time      `db:"post_process_result_at" json:"postProcessResultAt,omitempty"`
	PaidAt                *time.Time      `db:"paid_at" json:"paidAt,omitempty"`
	CompletedAt           *time.Time      `db:"completed_at" json:"completedAt,omitempty"`
	RefundedAt            *time.Time      `db:"refunded_at" json:"refundedAt,omitempty"`
	CreatedAt             time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt             time.Time       `db:"updated_at" json:"updatedAt"`
}

// PaymentUpdate is a partial write; nil fields are left untouched.
type PaymentUpdate struct {
	Status              *PaymentStatus
	StatusReason        *string
	PostProcessResult   any
	PostProcessResultAt *time.Time
	CompletedAt         *time.Time
}

// Network identifies the chain a collection is deployed on.
type Network struct {
	ID      string `db:"id" json:"id"`
	Name    string `db:"name" json:"name"`
	ChainID int64  `db:"chain_id" json:"chainId"`
	RPCURL  string `db:"rpc_url" json:"rpcUrl"`
}

// Collection is a deployed token contract whose unsold tokens are held by the
// escrow wallet at OwnerAddress.
type Collection struct {
	ID           string  `db:"id" json:"id"`
	Address      string  `db:"address" json:"address"`
	OwnerAddress string  `db:"owner_address" json:"ownerAddress"`
	Name         string  `db:"name" json:"name"`
	NetworkID    string  `db:"network_id" json:"networkId"`
	Network      Network `json:"network"`
}

// TransferData is the success payload of an NFT fulfillment and is what gets
// persisted as postProcessResult.
type TransferData struct {
	TransactionHash   string   `json:"transactionHash"`
	TransactionHashes []string `json:"transactionHashes,omitempty"`
	TokenIDs          []string `json:"tokenIds,omitempty"`
	GasUsed           *uint64  `json:"gasUsed,omitempty"`
	Reconciled        bool     `json:"reconciled,omitempty"`
}

type RefundedData struct {
	Status     PaymentStatus `json:"status"`
	RefundedAt *time.Time    `json:"refundedAt"`
}

type EventData struct {
	Status PaymentStatus `json:"status"`
	PaidAt *time.Time    `json:"paidAt"`
}
