// Package transport implements the EBICS business transport state
// machines (spec.md §4.F): download and upload, each a sequence of HTTP
// POSTs against a single bank host, wrapped in a circuit breaker and
// retry policy.
package transport

import (
	"fmt"

	"github.com/paynet/nexus/internal/ebics/retcode"
)

// TransportError wraps a failure below the EBICS protocol layer: a
// connection refusal, timeout, or non-200 HTTP status. These are the
// errors the circuit breaker and retry policy act on.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError is a malformed or unexpected EBICS envelope: missing
// elements, an unparseable return code, a transaction ID mismatch.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("transport: protocol error: %s", e.Reason)
}

// BankTechnicalError is a bank-technical return code classified as
// Error severity (the per-order-type status, as opposed to the
// transaction-level technical code).
type BankTechnicalError struct {
	Code retcode.Code
}

func (e *BankTechnicalError) Error() string {
	return fmt.Sprintf("transport: bank-technical error %s (%s)", e.Code.Value, e.Code.Description)
}

// EbicsTechnicalError is a transaction-level technical return code
// classified as Error severity.
type EbicsTechnicalError struct {
	Code retcode.Code
}

func (e *EbicsTechnicalError) Error() string {
	return fmt.Sprintf("transport: technical error %s (%s)", e.Code.Value, e.Code.Description)
}

// ErrCancelled is returned by a state machine that observed context
// cancellation after sending a failure receipt or abandoning an upload,
// per spec.md §4.F's cancellation discipline.
type ErrCancelled struct {
	Stage string
}

func (e *ErrCancelled) Error() string {
	return fmt.Sprintf("transport: cancelled during %s after cleanup", e.Stage)
}
