package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const QUEUE_NAME = "fulfillment_queue"

const (
	TypeProcessPayment = "fulfillment:process"
)

type ProcessPaymentPayload struct {
	PaymentID string `json:"payment_id"`
}

// TaskID keys a payment's task so a payment is queued at most once at a time.
func TaskID(paymentID string) string {
	return TypeProcessPayment + ":" + paymentID
}

func NewProcessPaymentTask(paymentID string, opts ...asynq.Option) (*asynq.Task, error) {
	if paymentID == "" {
		return nil, fmt.Errorf("payment id is required")
	}
	payload, err := json.Marshal(ProcessPaymentPayload{PaymentID: paymentID})
	if err != nil {
		return nil, fmt.Errorf("json.Marshal: %w", err)
	}
	defaults := []asynq.Option{
		asynq.Queue(QUEUE_NAME),
		asynq.TaskID(TaskID(paymentID)),
		asynq.MaxRetry(3),
		asynq.Timeout(10 * time.Minute),
		asynq.Retention(5 * time.Minute),
	}
	return asynq.NewTask(TypeProcessPayment, payload, append(defaults, opts...)...), nil
}
