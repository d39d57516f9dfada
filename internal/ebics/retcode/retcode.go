// Package retcode implements the closed set of EBICS technical and
// bank-technical return codes and their severity classification
// (spec.md §4.C).
package retcode

import "fmt"

// Severity classifies a return code by the first two digits of its
// six-digit numeric form.
type Severity int

const (
	Information Severity = iota
	Note
	Warning
	Error
)

func (s Severity) String() string {
	switch s {
	case Information:
		return "information"
	case Note:
		return "note"
	case Warning:
		return "warning"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Code is a single entry in the closed EBICS return-code table.
type Code struct {
	Value       string
	Description string
	Severity    Severity
}

// Known technical and bank-technical return codes, per spec.md §4.C.
var (
	OK                          = Code{"000000", "EBICS_OK", Information}
	DownloadPostprocessDone     = Code{"011000", "EBICS_DOWNLOAD_POSTPROCESS_DONE", Note}
	AuthenticationFailed        = Code{"091002", "EBICS_AUTHENTICATION_FAILED", Error}
	AccountAuthorisationFailed  = Code{"091003", "EBICS_ACCOUNT_AUTHORISATION_FAILED", Error}
	UnsupportedOrderType        = Code{"091005", "EBICS_UNSUPPORTED_ORDER_TYPE", Error}
	KeyManagementInvalid        = Code{"091101", "EBICS_INVALID_USER_OR_TECHNICAL_ID", Error}
	NoDownloadDataAvailable     = Code{"090005", "EBICS_NO_DOWNLOAD_DATA_AVAILABLE", Warning}
	InvalidUserState            = Code{"091117", "EBICS_INVALID_USER_STATE", Error}
	ProcessingError              = Code{"091116", "EBICS_PROCESSING_ERROR", Error}
	InternalError                = Code{"061099", "EBICS_INTERNAL_ERROR", Error}
	PreVerificationFailed       = Code{"091301", "EBICS_SIGNATURE_VERIFICATION_FAILED", Error}
	InvalidXML                   = Code{"091010", "EBICS_INVALID_XML", Error}
	TxAuthenticationFailed      = Code{"091119", "EBICS_TX_UNKNOWN_TXID", Error}
)

var table = map[string]Code{}

func register(codes ...Code) {
	for _, c := range codes {
		table[c.Value] = c
	}
}

func init() {
	register(
		OK, DownloadPostprocessDone, AuthenticationFailed, AccountAuthorisationFailed,
		UnsupportedOrderType, KeyManagementInvalid, NoDownloadDataAvailable,
		InvalidUserState, ProcessingError, InternalError, PreVerificationFailed,
		InvalidXML, TxAuthenticationFailed,
	)
}

// ErrUnknownCode is returned by Lookup for a code not in the table.
type ErrUnknownCode struct{ Value string }

func (e *ErrUnknownCode) Error() string {
	return fmt.Sprintf("retcode: unknown EBICS return code %q", e.Value)
}

// Lookup resolves a six-digit return code string to its Code entry.
func Lookup(value string) (Code, error) {
	c, ok := table[value]
	if !ok {
		return Code{}, &ErrUnknownCode{Value: value}
	}
	return c, nil
}

// ClassifyDigits classifies a six-digit code by its first two digits
// without requiring the code to be registered, matching spec.md §4.C's
// "Each code classifies into {Information, Note, Warning, Error} by the
// first two digits (00/01/03/06,09)" rule. Used as a fallback when a bank
// returns a code this table has not enumerated.
func ClassifyDigits(value string) Severity {
	if len(value) < 2 {
		return Error
	}
	switch value[:2] {
	case "00":
		return Information
	case "01":
		return Note
	case "03":
		return Warning
	case "06", "09":
		return Error
	default:
		return Error
	}
}

// IsTransient reports whether a technical-error code is worth retrying,
// per spec.md §4.H's transient-failure classification.
func IsTransient(c Code) bool {
	switch c.Value {
	case ProcessingError.Value, InternalError.Value:
		return true
	default:
		return false
	}
}
