package store

// Migration is one named schema statement this store's SQL assumes.
// Running these against a database is the job of an external migration
// tool (spec.md §1 Non-goals excludes DDL management from this module);
// Migrations exists so the hand-written SQL in payments.go can be
// reviewed against the schema it expects.
type Migration struct {
	Name string
	SQL  string
}

// Migrations documents the expected schema in execution order. Every
// money column follows the (amount_currency, amount_val, amount_frac)
// integer tuple spec.md §6 mandates; every timestamp column is a
// microsecond Unix epoch computed by toMicros, never a native timestamp
// type, to keep model.go's comparisons and arithmetic exact.
func Migrations() []Migration {
	return []Migration{
		{
			Name: "001_initiated_payments",
			SQL: `CREATE TABLE initiated_payments (
				row_id BIGSERIAL PRIMARY KEY,
				request_uid TEXT NOT NULL UNIQUE,
				amount_currency TEXT NOT NULL,
				amount_val BIGINT NOT NULL,
				amount_frac INTEGER NOT NULL,
				subject TEXT NOT NULL,
				creditor_iban TEXT NOT NULL,
				creditor_name TEXT NOT NULL,
				state TEXT NOT NULL,
				failure_message TEXT,
				last_submission_micros BIGINT,
				submitted_row_ref BIGINT
			)`,
		},
		{
			Name: "002_outgoing_payments",
			SQL: `CREATE TABLE outgoing_payments (
				row_id BIGSERIAL PRIMARY KEY,
				message_identification TEXT NOT NULL,
				amount_currency TEXT NOT NULL,
				amount_val BIGINT NOT NULL,
				amount_frac INTEGER NOT NULL,
				execution_time_micros BIGINT NOT NULL,
				bank_identifier TEXT NOT NULL UNIQUE
			)`,
		},
		{
			Name: "003_incoming_payments",
			SQL: `CREATE TABLE incoming_payments (
				row_id BIGSERIAL PRIMARY KEY,
				amount_currency TEXT NOT NULL,
				amount_val BIGINT NOT NULL,
				amount_frac INTEGER NOT NULL,
				debtor_iban TEXT NOT NULL,
				debtor_name TEXT NOT NULL,
				subject TEXT NOT NULL,
				execution_time_micros BIGINT NOT NULL,
				bank_identifier TEXT NOT NULL UNIQUE
			)`,
		},
		{
			Name: "004_talerable_incoming",
			SQL: `CREATE TABLE talerable_incoming (
				incoming_row_id BIGINT PRIMARY KEY REFERENCES incoming_payments(row_id),
				reserve_pub BYTEA NOT NULL UNIQUE
			)`,
		},
		{
			Name: "005_bounce_records",
			SQL: `CREATE TABLE bounce_records (
				incoming_row_id BIGINT PRIMARY KEY REFERENCES incoming_payments(row_id),
				initiated_request_uid TEXT NOT NULL REFERENCES initiated_payments(request_uid),
				bounce_amount_currency TEXT NOT NULL,
				bounce_amount_val BIGINT NOT NULL,
				bounce_amount_frac INTEGER NOT NULL
			)`,
		},
		{
			Name: "006_fetch_watermarks",
			SQL: `CREATE TABLE fetch_watermarks (
				doc_kind SMALLINT PRIMARY KEY,
				last_exec_time_micros BIGINT NOT NULL
			)`,
		},
	}
}
