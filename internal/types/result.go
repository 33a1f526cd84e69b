package types

// ErrorBody is the wire form of a failed Result.
type ErrorBody struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

// Result is what every fulfillment path hands back to its caller. Exactly one
// of Data and Error is meaningful, selected by Success.
type Result struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

func Succeed(data any) Result {
	return Result{Success: true, Data: data}
}

func Fail(code ErrorCode, message string) Result {
	return Result{Error: &ErrorBody{Code: code, Message: message}}
}

func FailWithDetails(code ErrorCode, message, details string) Result {
	return Result{Error: &ErrorBody{Code: code, Message: message, Details: details}}
}

func FailWith(err *FulfillmentError) Result {
	return Result{Error: err.Body()}
}
