package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/paynet/nexus/internal/ebics/catalog"
)

const uniqueViolationCode = "23505"

// Initiate inserts a new InitiatedPayment row, returning
// ErrUniqueConstraintViolation (idempotently, not as a fatal error) when
// RequestUID already exists.
func (s *Store) Initiate(ctx context.Context, p InitiatedPayment) (int64, error) {
	var rowID int64
	err := s.withSerializableTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			INSERT INTO initiated_payments
				(request_uid, amount_currency, amount_val, amount_frac, subject, creditor_iban, creditor_name, state)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING row_id`,
			p.RequestUID, p.Amount.Currency, p.Amount.Val, p.Amount.Frac, p.Subject, p.CreditorIBAN, p.CreditorName, StateUnsubmitted,
		)
		return row.Scan(&rowID)
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			existing, findErr := s.findInitiatedByRequestUID(ctx, p.RequestUID)
			if findErr != nil {
				return 0, findErr
			}
			return existing, ErrUniqueConstraintViolation
		}
		return 0, err
	}
	return rowID, nil
}

func (s *Store) findInitiatedByRequestUID(ctx context.Context, requestUID string) (int64, error) {
	var rowID int64
	err := s.pool.QueryRow(ctx, `SELECT row_id FROM initiated_payments WHERE request_uid = $1`, requestUID).Scan(&rowID)
	if err != nil {
		return 0, fmt.Errorf("store: look up existing request UID: %w", err)
	}
	return rowID, nil
}

// SetSubmitted transitions an InitiatedPayment to state and stamps the
// submission timestamp.
func (s *Store) SetSubmitted(ctx context.Context, rowID int64, state SubmissionState, at time.Time) error {
	micros, err := toMicros(at)
	if err != nil {
		return err
	}
	return s.withSerializableTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE initiated_payments SET state = $1, last_submission_micros = $2 WHERE row_id = $3`,
			state, micros, rowID)
		return err
	})
}

// SetFailure records the failure reason for an InitiatedPayment.
func (s *Store) SetFailure(ctx context.Context, rowID int64, message string) error {
	return s.withSerializableTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `UPDATE initiated_payments SET failure_message = $1 WHERE row_id = $2`, message, rowID)
		return err
	})
}

// Submittable returns every InitiatedPayment whose state is
// unsubmitted or transient_failure and whose amount is nonzero, in
// insertion order.
func (s *Store) Submittable(ctx context.Context, currency string) ([]InitiatedPayment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT row_id, request_uid, amount_currency, amount_val, amount_frac, subject, creditor_iban, creditor_name, state, failure_message
		FROM initiated_payments
		WHERE amount_currency = $1
		  AND state IN ($2, $3)
		  AND (amount_val <> 0 OR amount_frac <> 0)
		ORDER BY row_id ASC`,
		currency, StateUnsubmitted, StateTransientFailure,
	)
	if err != nil {
		return nil, fmt.Errorf("store: query submittable payments: %w", err)
	}
	defer rows.Close()

	var out []InitiatedPayment
	for rows.Next() {
		var p InitiatedPayment
		if err := rows.Scan(&p.RowID, &p.RequestUID, &p.Amount.Currency, &p.Amount.Val, &p.Amount.Frac, &p.Subject, &p.CreditorIBAN, &p.CreditorName, &p.State, &p.FailureMessage); err != nil {
			return nil, fmt.Errorf("store: scan submittable payment: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SweepNeverHeardBack flips every `success` row whose last submission
// predates cutoff to `never_heard_back`, returning the affected row ids
// (spec.md §4.H step 3: diagnostic only, never retried).
func (s *Store) SweepNeverHeardBack(ctx context.Context, cutoff time.Time) ([]int64, error) {
	cutoffMicros, err := toMicros(cutoff)
	if err != nil {
		return nil, err
	}

	var rowIDs []int64
	err = s.withSerializableTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		rowIDs = nil
		rows, err := tx.Query(ctx, `
			UPDATE initiated_payments
			SET state = $1
			WHERE state = $2 AND last_submission_micros < $3
			RETURNING row_id`,
			StateNeverHeardBack, StateSuccess, cutoffMicros,
		)
		if err != nil {
			return fmt.Errorf("store: sweep never-heard-back rows: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return fmt.Errorf("store: scan swept row: %w", err)
			}
			rowIDs = append(rowIDs, id)
		}
		return rows.Err()
	})
	return rowIDs, err
}

// RegisterOutgoing inserts or dedupes an OutgoingPayment on
// MessageIdentification, linking it to a pending InitiatedPayment when
// the identifier matches a request UID (spec.md §4.G).
func (s *Store) RegisterOutgoing(ctx context.Context, p OutgoingPayment) (RegisterOutgoingResult, error) {
	var result RegisterOutgoingResult
	err := s.withSerializableTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		execMicros, err := toMicros(p.ExecutionTime)
		if err != nil {
			return err
		}

		var existingRowID int64
		err = tx.QueryRow(ctx, `SELECT row_id FROM outgoing_payments WHERE bank_identifier = $1`, p.BankIdentifier).Scan(&existingRowID)
		switch {
		case err == nil:
			result = RegisterOutgoingResult{RowID: existingRowID, IsNew: false}
			return nil
		case errors.Is(err, pgx.ErrNoRows):
			// fall through to insert
		default:
			return fmt.Errorf("store: look up outgoing by bank identifier: %w", err)
		}

		row := tx.QueryRow(ctx, `
			INSERT INTO outgoing_payments (message_identification, amount_currency, amount_val, amount_frac, execution_time_micros, bank_identifier)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING row_id`,
			p.MessageIdentification, p.Amount.Currency, p.Amount.Val, p.Amount.Frac, execMicros, p.BankIdentifier,
		)
		var newRowID int64
		if err := row.Scan(&newRowID); err != nil {
			return fmt.Errorf("store: insert outgoing payment: %w", err)
		}

		var initiatedRowID int64
		linkErr := tx.QueryRow(ctx, `SELECT row_id FROM initiated_payments WHERE request_uid = $1`, p.MessageIdentification).Scan(&initiatedRowID)
		wasLinked := false
		if linkErr == nil {
			if _, err := tx.Exec(ctx, `UPDATE initiated_payments SET state = $1, submitted_row_ref = $2 WHERE row_id = $3`, StateSuccess, newRowID, initiatedRowID); err != nil {
				return fmt.Errorf("store: link initiated payment: %w", err)
			}
			wasLinked = true
		} else if !errors.Is(linkErr, pgx.ErrNoRows) {
			return fmt.Errorf("store: look up initiated payment for linking: %w", linkErr)
		}

		result = RegisterOutgoingResult{RowID: newRowID, WasLinked: wasLinked, IsNew: true}
		return nil
	})
	return result, err
}

// RegisterIncomingAndTalerable inserts the incoming row and its
// talerable_incoming sibling, deduped by bank identifier.
func (s *Store) RegisterIncomingAndTalerable(ctx context.Context, p IncomingPayment, reservePub [32]byte) (int64, bool, error) {
	var rowID int64
	isNew := false
	err := s.withSerializableTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		existing, found, err := lookupIncomingByBankIdentifier(ctx, tx, p.BankIdentifier)
		if err != nil {
			return err
		}
		if found {
			rowID = existing
			return nil
		}

		newRowID, err := insertIncoming(ctx, tx, p)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `INSERT INTO talerable_incoming (incoming_row_id, reserve_pub) VALUES ($1, $2)`, newRowID, reservePub[:]); err != nil {
			return fmt.Errorf("store: insert talerable incoming: %w", err)
		}
		rowID = newRowID
		isNew = true
		return nil
	})
	return rowID, isNew, err
}

// RegisterIncomingAndBounce inserts the incoming row, a bounce record,
// and an InitiatedPayment refunding the original debtor, deduped by
// bank identifier.
func (s *Store) RegisterIncomingAndBounce(ctx context.Context, p IncomingPayment, bounceAmount Amount, bounceRequestUID string) (int64, bool, error) {
	var rowID int64
	isNew := false
	err := s.withSerializableTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		existing, found, err := lookupIncomingByBankIdentifier(ctx, tx, p.BankIdentifier)
		if err != nil {
			return err
		}
		if found {
			rowID = existing
			return nil
		}

		newRowID, err := insertIncoming(ctx, tx, p)
		if err != nil {
			return err
		}

		var initiatedRowID int64
		err = tx.QueryRow(ctx, `
			INSERT INTO initiated_payments (request_uid, amount_currency, amount_val, amount_frac, subject, creditor_iban, creditor_name, state)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING row_id`,
			bounceRequestUID, bounceAmount.Currency, bounceAmount.Val, bounceAmount.Frac,
			"bounce of "+p.Subject, p.DebtorIBAN, p.DebtorName, StateUnsubmitted,
		).Scan(&initiatedRowID)
		if err != nil {
			return fmt.Errorf("store: insert bounce initiated payment: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO bounce_records (incoming_row_id, initiated_request_uid, bounce_amount_currency, bounce_amount_val, bounce_amount_frac)
			VALUES ($1, $2, $3, $4, $5)`,
			newRowID, bounceRequestUID, bounceAmount.Currency, bounceAmount.Val, bounceAmount.Frac,
		); err != nil {
			return fmt.Errorf("store: insert bounce record: %w", err)
		}

		rowID = newRowID
		isNew = true
		return nil
	})
	return rowID, isNew, err
}

func lookupIncomingByBankIdentifier(ctx context.Context, tx pgx.Tx, bankIdentifier string) (int64, bool, error) {
	var rowID int64
	err := tx.QueryRow(ctx, `SELECT row_id FROM incoming_payments WHERE bank_identifier = $1`, bankIdentifier).Scan(&rowID)
	switch {
	case err == nil:
		return rowID, true, nil
	case errors.Is(err, pgx.ErrNoRows):
		return 0, false, nil
	default:
		return 0, false, fmt.Errorf("store: look up incoming by bank identifier: %w", err)
	}
}

func insertIncoming(ctx context.Context, tx pgx.Tx, p IncomingPayment) (int64, error) {
	execMicros, err := toMicros(p.ExecutionTime)
	if err != nil {
		return 0, err
	}
	var rowID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO incoming_payments (amount_currency, amount_val, amount_frac, debtor_iban, debtor_name, subject, execution_time_micros, bank_identifier)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING row_id`,
		p.Amount.Currency, p.Amount.Val, p.Amount.Frac, p.DebtorIBAN, p.DebtorName, p.Subject, execMicros, p.BankIdentifier,
	).Scan(&rowID)
	if err != nil {
		return 0, fmt.Errorf("store: insert incoming payment: %w", err)
	}
	return rowID, nil
}

// LastExecTime returns kind's recorded fetch watermark, used to bound
// the next SinceLast window's start. Reports, statements, and
// notifications each keep their own row, since a gateway fetches them on
// different cadences and one kind's cursor must never advance another's
// (spec.md §4.I).
func (s *Store) LastExecTime(ctx context.Context, kind catalog.DocumentKind) (time.Time, bool, error) {
	var micros int64
	err := s.pool.QueryRow(ctx, `SELECT last_exec_time_micros FROM fetch_watermarks WHERE doc_kind = $1`, int(kind)).Scan(&micros)
	switch {
	case err == nil:
		return fromMicros(micros), true, nil
	case errors.Is(err, pgx.ErrNoRows):
		return time.Time{}, false, nil
	default:
		return time.Time{}, false, fmt.Errorf("store: query last exec time: %w", err)
	}
}

// SetLastExecTime upserts kind's fetch watermark to t, called once a
// fetch cycle for that document kind has finished classifying its
// entries (spec.md §4.I step 5).
func (s *Store) SetLastExecTime(ctx context.Context, kind catalog.DocumentKind, t time.Time) error {
	micros, err := toMicros(t)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO fetch_watermarks (doc_kind, last_exec_time_micros)
		VALUES ($1, $2)
		ON CONFLICT (doc_kind) DO UPDATE SET last_exec_time_micros = EXCLUDED.last_exec_time_micros`,
		int(kind), micros)
	if err != nil {
		return fmt.Errorf("store: set last exec time: %w", err)
	}
	return nil
}

// ReserveSeen reports whether any talerable_incoming row already carries
// this reserve public key.
func (s *Store) ReserveSeen(ctx context.Context, reservePub [32]byte) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM talerable_incoming WHERE reserve_pub = $1)`, reservePub[:]).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: query reserve seen: %w", err)
	}
	return exists, nil
}
