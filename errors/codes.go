package errors

// ErrorCategory classifies errors by their nature and retry semantics.
type ErrorCategory string

// Error categories define how errors should be handled.
const (
	// CategoryTransient indicates temporary failures where retry may succeed.
	// Examples: queue at capacity, transport hiccups, agent briefly offline.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates failures where retry will not help.
	// Examples: no route for a destination, malformed envelope, expired message.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryInternal indicates unexpected errors, bugs, or system failures.
	// Examples: handler panics, corrupted state.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	return c == CategoryTransient
}

// ErrorCode identifies specific failure types within categories.
type ErrorCode string

// Error codes for the delivery path.
const (
	// ErrCodeRouting means no recipient resolved for a destination. Nothing
	// was queued, so there is nothing to retry.
	ErrCodeRouting ErrorCode = "ROUTING"

	// ErrCodeDelivery means enqueue failed for one or more resolved
	// recipients. Retried up to the envelope's retry budget.
	ErrCodeDelivery ErrorCode = "DELIVERY"

	// ErrCodeExpired means the envelope's expiry passed before dispatch.
	ErrCodeExpired ErrorCode = "EXPIRED"

	// ErrCodeHandler means user-registered dispatch logic failed.
	ErrCodeHandler ErrorCode = "HANDLER"

	// ErrCodeTransport means a channel-level connect/send/disconnect failure.
	ErrCodeTransport ErrorCode = "TRANSPORT"

	// ErrCodeMalformed means an envelope failed to deserialize.
	ErrCodeMalformed ErrorCode = "MALFORMED"

	// ErrCodeTimeout means an operation timed out.
	ErrCodeTimeout ErrorCode = "TIMEOUT"

	// ErrCodeClosed means the component was already stopped.
	ErrCodeClosed ErrorCode = "CLOSED"

	// ErrCodeInternal means an unexpected internal error.
	ErrCodeInternal ErrorCode = "INTERNAL"
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeDelivery, ErrCodeTransport, ErrCodeTimeout:
		return CategoryTransient
	case ErrCodeRouting, ErrCodeExpired, ErrCodeMalformed, ErrCodeHandler, ErrCodeClosed:
		return CategoryPermanent
	default:
		return CategoryInternal
	}
}

// DefaultRetryable returns whether this error code is typically retryable.
func (c ErrorCode) DefaultRetryable() bool {
	return c.DefaultCategory().IsRetryable()
}

// codeDescriptions provides human-readable descriptions for error codes.
var codeDescriptions = map[ErrorCode]string{
	ErrCodeRouting:   "no recipients resolved for destination",
	ErrCodeDelivery:  "delivery failed for one or more recipients",
	ErrCodeExpired:   "message expired before delivery",
	ErrCodeHandler:   "message handler failed",
	ErrCodeTransport: "transport channel failure",
	ErrCodeMalformed: "malformed envelope",
	ErrCodeTimeout:   "operation timed out",
	ErrCodeClosed:    "component is closed",
	ErrCodeInternal:  "internal error",
}

// Description returns a human-readable description for the code.
func (c ErrorCode) Description() string {
	if d, ok := codeDescriptions[c]; ok {
		return d
	}
	return "unknown error"
}
