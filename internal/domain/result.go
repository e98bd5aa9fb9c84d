package domain

import "time"

// OperationStatus classifies the outcome of a target operation.
type OperationStatus string

const (
	StatusSuccess OperationStatus = "success"
	StatusFailed  OperationStatus = "failed"
	StatusPartial OperationStatus = "partial"
	StatusPending OperationStatus = "pending"
)

// ErrorCode is the closed set of business error codes surfaced to callers.
type ErrorCode string

const (
	CodePriceTooLow       ErrorCode = "PRICE_TOO_LOW"
	CodePriceTooHigh      ErrorCode = "PRICE_TOO_HIGH"
	CodeInvalidAttributes ErrorCode = "INVALID_ATTRIBUTES"
	CodeOrderLimitReached ErrorCode = "ORDER_LIMIT_REACHED"
	CodeDuplicateOrder    ErrorCode = "DUPLICATE_ORDER"
	CodeUnknownError      ErrorCode = "UNKNOWN_ERROR"
)

// OperationResult is the uniform return contract for every mutating or
// decision-making target operation. Expected business outcomes (validation
// failures, limit hits, duplicates) travel in this struct, never as Go
// errors; the error return of a method is reserved for contract violations
// and infrastructure faults.
type OperationResult struct {
	Success        bool
	Status         OperationStatus
	OrderID        string
	Message        string
	DetailedReason string
	ErrorCode      ErrorCode
	Suggestions    []string
	Metadata       map[string]any
	Timestamp      time.Time
}

// OK builds a successful result with the given message.
func OK(message string) OperationResult {
	return OperationResult{
		Success:   true,
		Status:    StatusSuccess,
		Message:   message,
		Metadata:  map[string]any{},
		Timestamp: time.Now().UTC(),
	}
}

// Fail builds a failed result with the given code and message.
func Fail(code ErrorCode, message string) OperationResult {
	return OperationResult{
		Success:   false,
		Status:    StatusFailed,
		Message:   message,
		ErrorCode: code,
		Metadata:  map[string]any{},
		Timestamp: time.Now().UTC(),
	}
}

// WithReason attaches a longer human-readable reason and returns the result.
func (r OperationResult) WithReason(reason string) OperationResult {
	r.DetailedReason = reason
	return r
}

// WithSuggestions appends actionable suggestions and returns the result.
func (r OperationResult) WithSuggestions(suggestions ...string) OperationResult {
	r.Suggestions = append(r.Suggestions, suggestions...)
	return r
}

// WithMeta sets a metadata entry and returns the result.
func (r OperationResult) WithMeta(key string, value any) OperationResult {
	if r.Metadata == nil {
		r.Metadata = map[string]any{}
	}
	r.Metadata[key] = value
	return r
}

// WithOrderID sets the subject order id and returns the result.
func (r OperationResult) WithOrderID(id string) OperationResult {
	r.OrderID = id
	return r
}
