// Package reconcile implements the ingestion classification and
// submission loop (spec.md §4.H): deciding whether a booked credit is a
// Taler reserve top-up or needs bouncing, and driving submittable
// InitiatedPayment rows through §4.F upload.
package reconcile

import (
	"encoding/base32"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/paynet/nexus/internal/isomsg"
	"github.com/paynet/nexus/internal/store"
)

// crockford is the alphabet Taler reserve public keys are encoded with
// when embedded in a payment subject line: RFC 4648 base32 with
// Crockford's substitution (no padding, case-insensitive on decode).
const crockford = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

var crockfordEncoding = base32.NewEncoding(crockford).WithPadding(base32.NoPadding)

// ExtractReservePub scans subject for a Crockford-base32 token that
// decodes to exactly 32 bytes, the shape of a Taler reserve public key.
// It reports ok=false when no such token is present.
func ExtractReservePub(subject string) (pub [32]byte, ok bool) {
	for _, field := range strings.Fields(subject) {
		token := strings.ToUpper(strings.Trim(field, ".,;:"))
		if len(token) != 52 { // 32 bytes encodes to 52 Crockford characters
			continue
		}
		decoded, err := crockfordEncoding.DecodeString(token)
		if err != nil || len(decoded) != 32 {
			continue
		}
		copy(pub[:], decoded)
		return pub, true
	}
	return pub, false
}

// Classification is the outcome of classifying one booked credit entry
// per spec.md §4.H.
type Classification int

const (
	ClassTalerable Classification = iota
	ClassBounceable
)

// ClassifyIncoming decides whether a credit entry is a valid reserve
// top-up or must be bounced, consulting store.ReserveSeen to reject a
// reused reserve public key.
func ClassifyIncoming(entry isomsg.Entry, alreadySeen func(pub [32]byte) (bool, error)) (Classification, [32]byte, error) {
	subject := entry.Subject()
	pub, found := ExtractReservePub(subject)
	if !found {
		return ClassBounceable, [32]byte{}, nil
	}
	seen, err := alreadySeen(pub)
	if err != nil {
		return ClassBounceable, pub, err
	}
	if seen {
		return ClassBounceable, pub, nil
	}
	return ClassTalerable, pub, nil
}

// BounceAmount computes the refund amount for a malformed incoming
// transfer: the received amount minus the configured fee, floored at
// zero, per spec.md §4.H. feeMinorUnits is expressed in the currency's
// minor unit (e.g. cents); the store's Amount carries a (whole, 1e-8
// fractional) tuple, so the fee is converted through decimal.Decimal to
// avoid an ad hoc scaling calculation at the call site.
func BounceAmount(received store.Amount, feeMinorUnits int64) store.Amount {
	const fracScale = 100_000_000 // store.Amount.Frac is 1/1e8ths.
	const minorUnitScale = 100    // fee is expressed in cents.

	receivedDec := decimal.New(received.Val, 0).Add(decimal.New(int64(received.Frac), -8))
	feeDec := decimal.New(feeMinorUnits, 0).Div(decimal.New(minorUnitScale, 0))

	bounceDec := receivedDec.Sub(feeDec)
	if bounceDec.IsNegative() {
		bounceDec = decimal.Zero
	}

	whole := bounceDec.Truncate(0)
	frac := bounceDec.Sub(whole).Mul(decimal.New(fracScale, 0)).Round(0)

	return store.Amount{
		Currency: received.Currency,
		Val:      whole.IntPart(),
		Frac:     int32(frac.IntPart()),
	}
}
