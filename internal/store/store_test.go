package store

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestIsSerializationFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unrelated error", errors.New("boom"), false},
		{"wrong pg code", &pgconn.PgError{Code: "23505"}, false},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, true},
		{"wrapped serialization failure", errors.Join(errors.New("context"), &pgconn.PgError{Code: "40001"}), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, isSerializationFailure(tt.err))
		})
	}
}

// Initiate, SetSubmitted, Submittable, RegisterOutgoing,
// RegisterIncomingAndTalerable, RegisterIncomingAndBounce, LastExecTime
// and ReserveSeen all drive real SQL through a pgxpool.Pool and are
// exercised against a live Postgres instance in integration tests, the
// same boundary bugielektrik-library draws around its own
// BatchGet — serializable-conflict retry behaviour in particular isn't
// meaningfully mockable without a real server enforcing SSI.
