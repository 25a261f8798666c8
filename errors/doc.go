// Package errors provides structured errors for the agent communication
// substrate.
//
// # Overview
//
// Every failure on the delivery path carries an ErrorCode identifying what
// went wrong and an ErrorCategory deciding how it should be handled. The
// retry loop consults Retryable() to decide whether a failed delivery gets
// another attempt; permanent failures (routing, expiry, malformed input)
// terminate an envelope's lifecycle immediately.
//
// # Usage
//
// Create errors with a code:
//
//	err := errors.Routing("agent-7")
//	err := errors.Transport("connect failed", errors.WithCause(netErr))
//
// Check retry semantics:
//
//	if errors.IsRetryable(err) {
//	    // schedule another attempt
//	}
//
// Errors marshal to JSON so they can travel inside error-kind messages.
package errors
