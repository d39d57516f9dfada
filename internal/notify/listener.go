package notify

import (
	"context"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Backoff computes a decorrelated exponential delay, per spec.md §4.J:
// "delay = random in [base, min(cap, 3 × prev)]". This is the AWS
// architecture-blog decorrelated-jitter formula; grounded on
// internal/ebics/transport's RetryWithBackoff for the same "don't
// thundering-herd a reconnect" shape, generalized from a fixed
// exponent to the decorrelated variant spec.md names explicitly.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
	prev time.Duration
}

// Next returns the next delay and advances internal state.
func (b *Backoff) Next() time.Duration {
	ceiling := 3 * b.prev
	if ceiling < b.Base {
		ceiling = b.Base
	}
	if ceiling > b.Cap {
		ceiling = b.Cap
	}
	delay := b.Base + time.Duration(rand.Int63n(int64(ceiling-b.Base+1)))
	b.prev = delay
	return delay
}

// Reset returns the backoff to its initial state after a successful
// connection.
func (b *Backoff) Reset() {
	b.prev = 0
}

// Dialer opens a fresh Postgres connection for the listener daemon to
// reconnect with after a dropped LISTEN session.
type Dialer func(ctx context.Context) (*pgx.Conn, error)

// Listener holds one dedicated connection in LISTEN mode across a fixed
// set of channels and dispatches each notification payload (the
// account id) to Bus.Publish, per spec.md §4.J's backing-signal design.
type Listener struct {
	Dial     Dialer
	Channels []string
	Bus      *Bus
	Logger   *zap.Logger
	Backoff  Backoff
}

// Run holds the LISTEN connection until ctx is cancelled, reconnecting
// with decorrelated exponential backoff on any failure.
func (l *Listener) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := l.runOnce(ctx); err != nil {
			delay := l.Backoff.Next()
			l.Logger.Warn("notification listener disconnected, reconnecting",
				zap.Error(err), zap.Duration("backoff", delay))
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}
		return
	}
}

func (l *Listener) runOnce(ctx context.Context) error {
	conn, err := l.Dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	for _, channel := range l.Channels {
		if _, err := conn.Exec(ctx, "LISTEN \""+channel+"\""); err != nil {
			return err
		}
	}
	l.Backoff.Reset()

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		l.Bus.Publish(notification.Payload)
	}
}
