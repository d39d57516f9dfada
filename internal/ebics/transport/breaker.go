package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// CircuitState is one of the three states a Breaker can be in.
type CircuitState int32

const (
	StateClosed CircuitState = iota
	StateHalfOpen
	StateOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a call is rejected because the
// breaker for that bank host is open.
var ErrCircuitOpen = errors.New("transport: circuit breaker open")

// Breaker is a per-bank-host circuit breaker. EBICS business transport
// scopes one Breaker per HostID, so a failing bank does not affect
// transactions against a different subscriber's host.
type Breaker struct {
	name              string
	maxFailures       int32
	resetTimeout      time.Duration
	halfOpenThreshold int32
	logger            *zap.Logger

	state             int32
	failures          int32
	lastFailureNanos  int64
	halfOpenSuccesses int32
	mu                sync.Mutex
}

// NewBreaker constructs a Breaker in the closed state.
func NewBreaker(name string, maxFailures int32, resetTimeout time.Duration, halfOpenThreshold int32, logger *zap.Logger) *Breaker {
	return &Breaker{
		name:              name,
		maxFailures:       maxFailures,
		resetTimeout:      resetTimeout,
		halfOpenThreshold: halfOpenThreshold,
		logger:            logger,
		state:             int32(StateClosed),
	}
}

// Call executes fn under breaker protection, returning ErrCircuitOpen
// without invoking fn when the circuit is open.
func (b *Breaker) Call(fn func() error) error {
	if !b.canExecute() {
		return ErrCircuitOpen
	}
	if err := fn(); err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

func (b *Breaker) canExecute() bool {
	switch CircuitState(atomic.LoadInt32(&b.state)) {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		last := atomic.LoadInt64(&b.lastFailureNanos)
		if time.Since(time.Unix(0, last)) <= b.resetTimeout {
			return false
		}
		if atomic.CompareAndSwapInt32(&b.state, int32(StateOpen), int32(StateHalfOpen)) {
			atomic.StoreInt32(&b.halfOpenSuccesses, 0)
			b.logger.Info("circuit breaker half-open", zap.String("host", b.name))
		}
		return true
	default:
		return false
	}
}

func (b *Breaker) recordFailure() {
	state := CircuitState(atomic.LoadInt32(&b.state))
	failures := atomic.AddInt32(&b.failures, 1)
	atomic.StoreInt64(&b.lastFailureNanos, time.Now().UnixNano())

	switch state {
	case StateClosed:
		if failures >= b.maxFailures {
			if atomic.CompareAndSwapInt32(&b.state, int32(StateClosed), int32(StateOpen)) {
				b.logger.Warn("circuit breaker open", zap.String("host", b.name), zap.Int32("failures", failures))
			}
		}
	case StateHalfOpen:
		if atomic.CompareAndSwapInt32(&b.state, int32(StateHalfOpen), int32(StateOpen)) {
			atomic.StoreInt32(&b.failures, 0)
			b.logger.Warn("circuit breaker reopened from half-open", zap.String("host", b.name))
		}
	}
}

func (b *Breaker) recordSuccess() {
	switch CircuitState(atomic.LoadInt32(&b.state)) {
	case StateClosed:
		atomic.StoreInt32(&b.failures, 0)
	case StateHalfOpen:
		successes := atomic.AddInt32(&b.halfOpenSuccesses, 1)
		if successes >= b.halfOpenThreshold {
			if atomic.CompareAndSwapInt32(&b.state, int32(StateHalfOpen), int32(StateClosed)) {
				atomic.StoreInt32(&b.failures, 0)
				atomic.StoreInt32(&b.halfOpenSuccesses, 0)
				b.logger.Info("circuit breaker closed", zap.String("host", b.name))
			}
		}
	}
}

// State returns the breaker's current state.
func (b *Breaker) State() CircuitState { return CircuitState(atomic.LoadInt32(&b.state)) }

// RetryPolicy configures RetryWithBackoff.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Breaker      *Breaker
}

// DefaultRetryPolicy returns the policy this gateway uses for every
// EBICS HTTP POST: three attempts, a breaker tripping after five
// consecutive failures against the same host.
func DefaultRetryPolicy(hostID string, logger *zap.Logger) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
		Breaker:      NewBreaker(hostID, 5, 30*time.Second, 2, logger),
	}
}

// RetryWithBackoff executes fn with exponential backoff, classifying
// only *TransportError as retryable: protocol and bank-technical errors
// are surfaced to the caller on the first attempt since retrying them
// cannot change the outcome.
func RetryWithBackoff(ctx context.Context, policy RetryPolicy, fn func() error) error {
	var lastErr error
	delay := policy.InitialDelay

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		var err error
		if policy.Breaker != nil {
			err = policy.Breaker.Call(fn)
		} else {
			err = fn()
		}
		if err == nil {
			return nil
		}
		lastErr = err

		var transportErr *TransportError
		if !errors.As(err, &transportErr) && !errors.Is(err, ErrCircuitOpen) {
			return err
		}
		if attempt >= policy.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("transport: retry cancelled: %w", ctx.Err())
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * policy.Multiplier)
		if delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}
	return fmt.Errorf("transport: exhausted %d attempts: %w", policy.MaxAttempts, lastErr)
}
