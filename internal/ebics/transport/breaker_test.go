package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBreakerOpensAfterMaxFailures(t *testing.T) {
	b := NewBreaker("bank-a", 3, 50*time.Millisecond, 1, zap.NewNop())
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		err := b.Call(func() error { return boom })
		require.ErrorIs(t, err, boom)
	}

	assert.Equal(t, StateOpen, b.State())
	err := b.Call(func() error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBreakerHalfOpenRecovers(t *testing.T) {
	b := NewBreaker("bank-b", 1, 10*time.Millisecond, 1, zap.NewNop())
	failErr := errors.New("fail")
	require.ErrorIs(t, b.Call(func() error { return failErr }), failErr)
	assert.Equal(t, StateOpen, b.State())

	time.Sleep(20 * time.Millisecond)

	err := b.Call(func() error { return nil })
	require.NoError(t, err)
	assert.Equal(t, StateClosed, b.State())
}

func TestRetryWithBackoffOnlyRetriesTransportErrors(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}

	attempts := 0
	err := RetryWithBackoff(context.Background(), policy, func() error {
		attempts++
		return &TransportError{Op: "post", Err: errors.New("timeout")}
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts, "transport errors should be retried up to MaxAttempts")

	attempts = 0
	protocolErr := &ProtocolError{Reason: "bad xml"}
	err = RetryWithBackoff(context.Background(), policy, func() error {
		attempts++
		return protocolErr
	})
	require.ErrorIs(t, err, protocolErr)
	assert.Equal(t, 1, attempts, "protocol errors should not be retried")
}
