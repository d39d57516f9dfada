package reconcile

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/paynet/nexus/internal/ebics/catalog"
	"github.com/paynet/nexus/internal/ebics/retcode"
	"github.com/paynet/nexus/internal/ebics/transport"
	"github.com/paynet/nexus/internal/isomsg"
	"github.com/paynet/nexus/internal/nexusconfig"
	"github.com/paynet/nexus/internal/store"
)

var submissionOutcomes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "nexus_reconcile_submission_outcomes_total",
		Help: "Submission loop outcomes by final state.",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(submissionOutcomes)
}

// Engine drives the submission loop and ingestion classification over a
// single subscriber, per spec.md §4.H.
type Engine struct {
	Store    *store.Store
	Client   *transport.Client
	Keys     transport.KeyMaterial
	Identity transport.SubscriberIdentity
	Account  nexusconfig.Account
	Dialect  nexusconfig.Dialect
	Config   nexusconfig.Gateway
	Logger   *zap.Logger
	Events   *EventPublisher
}

// RunSubmissionLoop executes one sweep of the submission loop (spec.md
// §4.H step 1-2): submits every currently-submittable payment. It does
// not flip unreconciled `success` rows; SweepNeverHeardBack does that.
func (e *Engine) RunSubmissionLoop(ctx context.Context) error {
	payments, err := e.Store.Submittable(ctx, e.Config.Currency)
	if err != nil {
		return fmt.Errorf("reconcile: list submittable payments: %w", err)
	}

	for _, p := range payments {
		if err := e.submitOne(ctx, p); err != nil {
			e.Logger.Warn("submission failed", zap.Int64("row_id", p.RowID), zap.Error(err))
		}
	}
	return nil
}

func (e *Engine) submitOne(ctx context.Context, p store.InitiatedPayment) error {
	payload, err := buildPain001(e.Account, p)
	if err != nil {
		return e.markPermanentFailure(ctx, p.RowID, err)
	}

	order, err := catalog.Resolve(e.Dialect, catalog.DocCreditUpload, dialectVersion(e.Dialect))
	if err != nil {
		return e.markPermanentFailure(ctx, p.RowID, err)
	}

	result, err := transport.Upload(ctx, e.Client, e.Identity, e.Keys, order, payload)
	if err != nil {
		return e.handleUploadError(ctx, p.RowID, err)
	}

	if result.Outcome != transport.UploadDone {
		return e.handleUploadError(ctx, p.RowID, errors.New("upload returned a non-terminal outcome"))
	}

	if err := e.Store.SetSubmitted(ctx, p.RowID, store.StateSuccess, now()); err != nil {
		return fmt.Errorf("reconcile: record successful submission: %w", err)
	}
	submissionOutcomes.WithLabelValues("success").Inc()
	if e.Events != nil {
		e.Events.PublishSettled(ctx, p)
	}
	return nil
}

func (e *Engine) handleUploadError(ctx context.Context, rowID int64, uploadErr error) error {
	var bankErr *transport.BankTechnicalError
	var ebicsErr *transport.EbicsTechnicalError

	switch {
	case errors.As(uploadErr, &ebicsErr) && retcode.IsTransient(ebicsErr.Code):
		submissionOutcomes.WithLabelValues("transient_failure").Inc()
		return e.markTransientFailure(ctx, rowID, uploadErr)
	case errors.As(uploadErr, &bankErr):
		submissionOutcomes.WithLabelValues("permanent_failure").Inc()
		return e.markPermanentFailure(ctx, rowID, uploadErr)
	case errors.As(uploadErr, &ebicsErr):
		submissionOutcomes.WithLabelValues("permanent_failure").Inc()
		return e.markPermanentFailure(ctx, rowID, uploadErr)
	default:
		// Connection-level/timeout failures (*transport.TransportError,
		// *transport.ErrCancelled) are always worth retrying on the next
		// tick, per spec.md §4.H step 2.
		submissionOutcomes.WithLabelValues("transient_failure").Inc()
		return e.markTransientFailure(ctx, rowID, uploadErr)
	}
}

func (e *Engine) markTransientFailure(ctx context.Context, rowID int64, cause error) error {
	if err := e.Store.SetSubmitted(ctx, rowID, store.StateTransientFailure, now()); err != nil {
		return err
	}
	return e.Store.SetFailure(ctx, rowID, cause.Error())
}

func (e *Engine) markPermanentFailure(ctx context.Context, rowID int64, cause error) error {
	if err := e.Store.SetSubmitted(ctx, rowID, store.StatePermanentFailure, now()); err != nil {
		return err
	}
	return e.Store.SetFailure(ctx, rowID, cause.Error())
}

// ClassifyAndStoreEntry runs one booked camt entry through §4.H
// classification and persists the result, per spec.md §4.I step 3.
func (e *Engine) ClassifyAndStoreEntry(ctx context.Context, entry isomsg.Entry) error {
	amount, err := parseAmount(entry.Amt)
	if err != nil {
		return fmt.Errorf("reconcile: parse entry amount: %w", err)
	}
	bankRef := entry.BankReference()

	if !entry.IsCredit() {
		outgoing := store.OutgoingPayment{
			MessageIdentification: entry.MessageIdentification(),
			Amount:                amount,
			ExecutionTime:         bookingTime(entry),
			BankIdentifier:        bankRef,
		}
		result, err := e.Store.RegisterOutgoing(ctx, outgoing)
		if err != nil {
			return fmt.Errorf("reconcile: register outgoing: %w", err)
		}
		if result.IsNew && e.Events != nil {
			e.Events.PublishOutgoingObserved(ctx, outgoing)
		}
		return nil
	}

	class, pub, err := ClassifyIncoming(entry, func(p [32]byte) (bool, error) {
		return e.Store.ReserveSeen(ctx, p)
	})
	if err != nil {
		return fmt.Errorf("reconcile: classify incoming entry: %w", err)
	}

	incoming := store.IncomingPayment{
		Amount:         amount,
		DebtorIBAN:     entry.CounterpartyIBAN(),
		DebtorName:     entry.Subject(),
		Subject:        entry.Subject(),
		ExecutionTime:  bookingTime(entry),
		BankIdentifier: bankRef,
	}

	switch class {
	case ClassTalerable:
		rowID, isNew, err := e.Store.RegisterIncomingAndTalerable(ctx, incoming, pub)
		if err != nil {
			return fmt.Errorf("reconcile: register talerable incoming: %w", err)
		}
		if isNew && e.Events != nil {
			e.Events.PublishSettled(ctx, store.InitiatedPayment{RowID: rowID, Amount: amount, CreditorIBAN: incoming.DebtorIBAN})
		}
		return nil
	default:
		bounce := BounceAmount(amount, e.Config.BounceFee)
		bounceRequestUID := uuid.New().String()
		rowID, isNew, err := e.Store.RegisterIncomingAndBounce(ctx, incoming, bounce, bounceRequestUID)
		if err != nil {
			return fmt.Errorf("reconcile: register bounce: %w", err)
		}
		if isNew && e.Events != nil {
			e.Events.PublishBounced(ctx, store.InitiatedPayment{RowID: rowID, RequestUID: bounceRequestUID, Amount: bounce, CreditorIBAN: incoming.DebtorIBAN})
		}
		return nil
	}
}

// SweepNeverHeardBack flips every `success` row whose last submission is
// older than e.Config.ReconcileTimeout to `never_heard_back`, per
// spec.md §4.H step 3. This is a diagnostic-only transition and never
// retried.
func (e *Engine) SweepNeverHeardBack(ctx context.Context) error {
	cutoff := now().Add(-e.Config.ReconcileTimeout)
	swept, err := e.Store.SweepNeverHeardBack(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("reconcile: sweep never-heard-back: %w", err)
	}
	if len(swept) > 0 {
		submissionOutcomes.WithLabelValues("never_heard_back").Add(float64(len(swept)))
		e.Logger.Info("flipped unreconciled submissions to never_heard_back", zap.Int("count", len(swept)))
	}
	return nil
}

func buildPain001(account nexusconfig.Account, p store.InitiatedPayment) ([]byte, error) {
	createdAt := time.Now().UTC()
	doc := isomsg.Pain001Document{
		Xmlns: "urn:iso:std:iso:20022:tech:xsd:pain.001.001.09",
		CstmrCdtTrfInitn: isomsg.CstmrCdtTrfInitn{
			GrpHdr: isomsg.Pain001GroupHeader{
				MsgId:    p.RequestUID,
				CreDtTm:  createdAt.Format("2006-01-02T15:04:05Z"),
				NbOfTxs:  1,
				InitgPty: isomsg.Party{Nm: account.Name},
			},
			PmtInf: isomsg.PaymentInfo{
				PmtInfId:    p.RequestUID,
				PmtMtd:      "TRF",
				NbOfTxs:     1,
				ReqdExctnDt: createdAt.Format("2006-01-02"),
				Dbtr:        isomsg.Party{Nm: account.Name},
				DbtrAcct:    isomsg.Account{IBAN: account.IBAN},
				DbtrAgt:     isomsg.Agent{BIC: account.BIC},
				CdtTrfTxInf: isomsg.CreditTransferTxInfo{
					PmtId: isomsg.Pain001PaymentID{InstrId: p.RequestUID, EndToEndId: p.RequestUID},
					Amt: isomsg.InstdAmt{InstdAmt: isomsg.Amount{
						Ccy:   p.Amount.Currency,
						Value: formatAmount(p.Amount),
					}},
					Cdtr:     isomsg.Party{Nm: p.CreditorName},
					CdtrAcct: isomsg.Account{IBAN: p.CreditorIBAN},
					RmtInf:   isomsg.RemittanceInfo{Ustrd: p.Subject},
				},
			},
		},
	}

	var buf bytes.Buffer
	if err := xml.NewEncoder(&buf).Encode(doc); err != nil {
		return nil, fmt.Errorf("reconcile: marshal pain.001: %w", err)
	}
	return buf.Bytes(), nil
}

func formatAmount(a store.Amount) string {
	whole := decimal.New(a.Val, 0)
	frac := decimal.New(int64(a.Frac), -8)
	return whole.Add(frac).StringFixed(2)
}

func parseAmount(a isomsg.Amount) (store.Amount, error) {
	d, err := decimal.NewFromString(a.Value)
	if err != nil {
		return store.Amount{}, fmt.Errorf("parse amount %q: %w", a.Value, err)
	}
	whole := d.Truncate(0)
	frac := d.Sub(whole).Mul(decimal.New(100_000_000, 0)).Round(0)
	return store.Amount{Currency: a.Ccy, Val: whole.IntPart(), Frac: int32(frac.IntPart())}, nil
}

func bookingTime(entry isomsg.Entry) time.Time {
	layout := "2006-01-02T15:04:05Z"
	if entry.BookgDt.DtTm != "" {
		if t, err := time.Parse(layout, entry.BookgDt.DtTm); err == nil {
			return t
		}
	}
	if entry.BookgDt.Dt != "" {
		if t, err := time.Parse("2006-01-02", entry.BookgDt.Dt); err == nil {
			return t
		}
	}
	return time.Time{}
}

func dialectVersion(d nexusconfig.Dialect) catalog.Version {
	if d == nexusconfig.DialectGLS {
		return catalog.H005
	}
	return catalog.H004
}

func now() time.Time { return time.Now().UTC() }
