package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/rs-ent/starglow-sub015/internal/tasks"
)

// TaskHandler consumes fulfillment tasks from the queue.
type TaskHandler struct {
	fulfillment Fulfillment
	logger      logrus.FieldLogger
}

func NewTaskHandler(fulfillment Fulfillment, logger logrus.FieldLogger) (*TaskHandler, error) {
	if fulfillment == nil {
		return nil, fmt.Errorf("fulfillment cannot be nil")
	}
	return &TaskHandler{
		fulfillment: fulfillment,
		logger:      logger.WithField("component", "task"),
	}, nil
}

// HandleProcessPayment returns an error only when the payment could not be
// loaded; every fulfillment outcome is already recorded on the payment.
func (h *TaskHandler) HandleProcessPayment(ctx context.Context, t *asynq.Task) error {
	var payload tasks.ProcessPaymentPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.logger.WithError(err).Error("failed to unmarshal process payment payload")
		return fmt.Errorf("failed to unmarshal process payment payload: %s, %w", err, asynq.SkipRetry)
	}
	if payload.PaymentID == "" {
		return fmt.Errorf("payment id is missing: %w", asynq.SkipRetry)
	}

	res, err := h.fulfillment.ProcessPaymentByID(ctx, payload.PaymentID)
	if err != nil {
		h.logger.WithField("payment_id", payload.PaymentID).WithError(err).Error("failed to load payment")
		return fmt.Errorf("h.fulfillment.ProcessPaymentByID: %w", err)
	}

	fields := logrus.Fields{
		"payment_id": payload.PaymentID,
		"success":    res.Success,
	}
	if res.Error != nil {
		fields["code"] = res.Error.Code
	}
	h.logger.WithFields(fields).Info("payment task processed")

	if w := t.ResultWriter(); w != nil {
		out, err := json.Marshal(res)
		if err != nil {
			return fmt.Errorf("json.Marshal: %w", err)
		}
		if _, err := w.Write(out); err != nil {
			h.logger.WithError(err).Warn("failed to write task result")
		}
	}
	return nil
}

// Enqueuer is the subset of asynq.Client used to queue tasks.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// TaskInspector is the subset of asynq.Inspector used to clear finished
// tasks that still hold a payment's task id.
type TaskInspector interface {
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
	DeleteTask(queue, id string) error
}

// PaymentQueue puts payments on the fulfillment queue.
type PaymentQueue struct {
	client    Enqueuer
	inspector TaskInspector
	logger    logrus.FieldLogger
}

// NewPaymentQueue builds a queue. inspector may be nil, in which case a
// retained task blocks re-enqueueing its payment until retention expires.
func NewPaymentQueue(client Enqueuer, inspector TaskInspector, logger logrus.FieldLogger) *PaymentQueue {
	return &PaymentQueue{client: client, inspector: inspector, logger: logger}
}

// Enqueue queues the payment and reports false when a task for it is
// already queued or running. A completed or archived task for the payment is
// deleted first so a payment that is PAID again can be picked up.
func (q *PaymentQueue) Enqueue(ctx context.Context, paymentID string) (bool, error) {
	task, err := tasks.NewProcessPaymentTask(paymentID)
	if err != nil {
		return false, fmt.Errorf("tasks.NewProcessPaymentTask: %w", err)
	}
	logger := q.logger.WithField("payment_id", paymentID)

	info, err := q.client.EnqueueContext(ctx, task)
	if isDuplicate(err) {
		cleared, cerr := q.clearFinished(paymentID)
		if cerr != nil {
			return false, cerr
		}
		if !cleared {
			logger.Debug("payment already queued")
			return false, nil
		}
		info, err = q.client.EnqueueContext(ctx, task)
		if isDuplicate(err) {
			logger.Debug("payment already queued")
			return false, nil
		}
	}
	if err != nil {
		return false, fmt.Errorf("q.client.EnqueueContext: %w", err)
	}
	logger.WithFields(logrus.Fields{
		"task_id": info.ID,
		"queue":   info.Queue,
	}).Info("payment enqueued")
	return true, nil
}

func (q *PaymentQueue) clearFinished(paymentID string) (bool, error) {
	if q.inspector == nil {
		return false, nil
	}
	taskID := tasks.TaskID(paymentID)
	info, err := q.inspector.GetTaskInfo(tasks.QUEUE_NAME, taskID)
	if errors.Is(err, asynq.ErrTaskNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("q.inspector.GetTaskInfo: %w", err)
	}
	if info.State != asynq.TaskStateCompleted && info.State != asynq.TaskStateArchived {
		return false, nil
	}
	if err := q.inspector.DeleteTask(tasks.QUEUE_NAME, taskID); err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
		return false, fmt.Errorf("q.inspector.DeleteTask: %w", err)
	}
	q.logger.WithFields(logrus.Fields{
		"payment_id": paymentID,
		"state":      info.State.String(),
	}).Info("cleared finished task for payment")
	return true, nil
}

func isDuplicate(err error) bool {
	return errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask)
}
