// Package store implements the serializable payment store (spec.md
// §4.G): initiated/outgoing/incoming payment rows, talerable-incoming
// and bounce siblings, and per-document-kind fetch watermarks, over
// pgx/v5 with full serializable isolation and a bounded conflict-retry
// loop. It does not store bank or client keys.
package store

import (
	"errors"
	"fmt"
	"time"
)

// SubmissionState is the lifecycle of an InitiatedPayment row (spec.md
// §4.H submission loop).
type SubmissionState string

const (
	StateUnsubmitted      SubmissionState = "unsubmitted"
	StateTransientFailure SubmissionState = "transient_failure"
	StatePermanentFailure SubmissionState = "permanent_failure"
	StateSuccess          SubmissionState = "success"
	StateNeverHeardBack   SubmissionState = "never_heard_back"
)

// Amount is the (value, fractional) integer tuple spec.md §6 mandates
// for cross-boundary amount representation, avoiding float64 entirely.
// Val holds whole currency units, Frac holds 1/100,000,000ths (8 decimal
// digits of precision), matching the Taler amount convention this
// gateway's upstream protocol uses.
type Amount struct {
	Currency string
	Val      int64
	Frac     int32
}

// IsZero reports whether the amount is exactly zero.
func (a Amount) IsZero() bool { return a.Val == 0 && a.Frac == 0 }

// InitiatedPayment is a credit transfer requested by the upstream
// processor but not yet (or not successfully) submitted to the bank.
type InitiatedPayment struct {
	RowID           int64
	RequestUID      string
	Amount          Amount
	Subject         string
	CreditorIBAN    string
	CreditorName    string
	State           SubmissionState
	LastSubmission  time.Time
	FailureMessage  string
	SubmittedRowRef int64 // non-zero once linked to an OutgoingPayment
}

// OutgoingPayment is a booked debit observed on the account, whether or
// not it originated from an InitiatedPayment this gateway submitted.
type OutgoingPayment struct {
	RowID                 int64
	MessageIdentification string
	Amount                Amount
	ExecutionTime         time.Time
	BankIdentifier        string
}

// IncomingPayment is a booked credit observed on the account.
type IncomingPayment struct {
	RowID           int64
	Amount          Amount
	DebtorIBAN      string
	DebtorName      string
	Subject         string
	ExecutionTime   time.Time
	BankIdentifier  string
}

// TalerableIncoming marks an IncomingPayment as a valid Taler reserve
// top-up, keyed by the reserve public key extracted from its subject.
type TalerableIncoming struct {
	IncomingRowID int64
	ReservePub    [32]byte
}

// BounceRecord marks an IncomingPayment as malformed and links it to the
// InitiatedPayment this gateway created to refund it.
type BounceRecord struct {
	IncomingRowID      int64
	InitiatedRequestUID string
	BounceAmount       Amount
}

// RegisterOutgoingResult is what register_outgoing returns per spec.md
// §4.G.
type RegisterOutgoingResult struct {
	RowID       int64
	WasLinked   bool
	IsNew       bool
}

// ErrUniqueConstraintViolation is returned by Initiate when the request
// UID already exists, per spec.md §4.G.
var ErrUniqueConstraintViolation = errors.New("store: request UID already exists")

// ErrNegativeTimestamp guards the microsecond-epoch conversion spec.md
// §9 flags as unsafe for timestamps before 1970: this store never
// silently wraps a negative value into an enormous unsigned one.
type ErrNegativeTimestamp struct {
	Time time.Time
}

func (e *ErrNegativeTimestamp) Error() string {
	return fmt.Sprintf("store: timestamp %s predates the Unix epoch and cannot be stored as microseconds", e.Time)
}

// toMicros converts t to microseconds since the epoch, rejecting any
// timestamp before 1970 rather than wrapping it.
func toMicros(t time.Time) (int64, error) {
	if t.Before(time.Unix(0, 0)) {
		return 0, &ErrNegativeTimestamp{Time: t}
	}
	return t.UnixMicro(), nil
}

func fromMicros(micros int64) time.Time {
	return time.UnixMicro(micros).UTC()
}
