package types

import (
	"errors"
	"fmt"
	"runtime"
)

type ErrorCode string

const (
	ErrInvalidProductTable  ErrorCode = "INVALID_PRODUCT_TABLE"
	ErrProcessingFailed     ErrorCode = "PROCESSING_FAILED"
	ErrProcessingCancelled  ErrorCode = "PROCESSING_CANCELLED"
	ErrProcessingInProgress ErrorCode = "PROCESSING_IN_PROGRESS"
	ErrInvalidPaymentStatus ErrorCode = "INVALID_PAYMENT_STATUS"
	ErrTransferFailed       ErrorCode = "TRANSFER_FAILED"
	ErrPaymentNotFound      ErrorCode = "PAYMENT_NOT_FOUND"
	ErrUnauthorized         ErrorCode = "UNAUTHORIZED"
	ErrWalletNotFound       ErrorCode = "WALLET_NOT_FOUND"
	ErrEscrowWalletNotFound ErrorCode = "ESCROW_WALLET_NOT_FOUND"
	ErrInsufficientBalance  ErrorCode = "INSUFFICIENT_BALANCE"
	ErrNetworkNotFound      ErrorCode = "NETWORK_NOT_FOUND"
	ErrCollectionNotFound   ErrorCode = "COLLECTION_NOT_FOUND"
	ErrInvalidSignature     ErrorCode = "INVALID_SIGNATURE"
)

// UnknownErrorMessage stands in for failures that carry no message of their own.
const UnknownErrorMessage = "Unknown error"

// FulfillmentError is a business-level failure. Returning one from a transfer
// step ends the run: it is recorded on the payment and never retried.
type FulfillmentError struct {
	Code    ErrorCode
	Message string
	Details string
	Err     error
}

func NewError(code ErrorCode, message string) *FulfillmentError {
	return &FulfillmentError{Code: code, Message: message}
}

func WrapError(code ErrorCode, message string, err error) *FulfillmentError {
	fe := &FulfillmentError{Code: code, Message: message, Err: err}
	if err != nil {
		fe.Details = err.Error()
	}
	return fe
}

func (e *FulfillmentError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *FulfillmentError) Unwrap() error {
	return e.Err
}

func (e *FulfillmentError) Body() *ErrorBody {
	return &ErrorBody{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// AsFulfillmentError reports whether err carries a business failure.
func AsFulfillmentError(err error) (*FulfillmentError, bool) {
	var fe *FulfillmentError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// PanicError is a recovered panic turned into an error value.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	switch v := e.Value.(type) {
	case nil:
		return ""
	case error:
		return v.Error()
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// NormalizePanic converts a value obtained from recover() into an error.
// panic(nil) surfaces as *runtime.PanicNilError on go1.21+ and is treated as
// a message-less failure.
func NormalizePanic(v any) error {
	var pn *runtime.PanicNilError
	if err, ok := v.(error); ok && errors.As(err, &pn) {
		return &PanicError{}
	}
	return &PanicError{Value: v}
}

// ErrorMessage returns err's message or UnknownErrorMessage when there is none.
func ErrorMessage(err error) string {
	if err == nil {
		return UnknownErrorMessage
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return UnknownErrorMessage
}

// SerializedError is the postProcessResult payload written for failed runs.
// Delivered lists what reached the buyer before the run failed.
type SerializedError struct {
	Name      string        `json:"name"`
	Code      ErrorCode     `json:"code,omitempty"`
	Message   string        `json:"message"`
	Details   string        `json:"details,omitempty"`
	Delivered *TransferData `json:"delivered,omitempty"`
}

func SerializeError(err error) SerializedError {
	if fe, ok := AsFulfillmentError(err); ok {
		return SerializedError{
			Name:    "FulfillmentError",
			Code:    fe.Code,
			Message: fe.Message,
			Details: fe.Details,
		}
	}
	name := "Error"
	var pe *PanicError
	if errors.As(err, &pe) {
		name = "Panic"
	}
	return SerializedError{
		Name:    name,
		Message: ErrorMessage(err),
	}
}
