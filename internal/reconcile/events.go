package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/paynet/nexus/internal/store"
)

// ledgerEvent is the downstream analytics payload published for every
// reconciled debit or credit, one JSON-serializable record per settled
// transaction.
type ledgerEvent struct {
	Type      string    `json:"type"`
	RowID     int64     `json:"row_id"`
	RequestUID string   `json:"request_uid,omitempty"`
	Currency  string    `json:"currency"`
	Value     int64     `json:"value"`
	Fraction  int32     `json:"fraction"`
	Counterparty string `json:"counterparty,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	eventSettled = "ledger.settled"
	eventBounced = "ledger.bounced"
)

// EventPublisher writes reconciled ledger events to Kafka for downstream
// analytics consumers.
type EventPublisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewEventPublisher configures a writer against topic: async, batched,
// and snappy-compressed.
func NewEventPublisher(brokerAddr, topic string, logger *zap.Logger) *EventPublisher {
	return &EventPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokerAddr),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			Compression:  kafka.Snappy,
			BatchSize:    100,
			BatchTimeout: 10 * time.Millisecond,
			Async:        true,
		},
		logger: logger,
	}
}

// Close flushes and closes the underlying writer.
func (p *EventPublisher) Close() error {
	return p.writer.Close()
}

// PublishSettled publishes a ledger.settled event for a successfully
// submitted or reconciled payment.
func (p *EventPublisher) PublishSettled(ctx context.Context, payment store.InitiatedPayment) {
	p.publish(ctx, eventSettled, ledgerEvent{
		Type:         eventSettled,
		RowID:        payment.RowID,
		RequestUID:   payment.RequestUID,
		Currency:     payment.Amount.Currency,
		Value:        payment.Amount.Val,
		Fraction:     payment.Amount.Frac,
		Counterparty: payment.CreditorIBAN,
		Timestamp:    time.Now().UTC(),
	})
}

// PublishBounced publishes a ledger.bounced event for a malformed
// incoming transfer this gateway is refunding.
func (p *EventPublisher) PublishBounced(ctx context.Context, refund store.InitiatedPayment) {
	p.publish(ctx, eventBounced, ledgerEvent{
		Type:         eventBounced,
		RowID:        refund.RowID,
		RequestUID:   refund.RequestUID,
		Currency:     refund.Amount.Currency,
		Value:        refund.Amount.Val,
		Fraction:     refund.Amount.Frac,
		Counterparty: refund.CreditorIBAN,
		Timestamp:    time.Now().UTC(),
	})
}

// PublishOutgoingObserved publishes a ledger.settled event for a booked
// debit this gateway observed but did not necessarily initiate (e.g. a
// manual bank-side transfer).
func (p *EventPublisher) PublishOutgoingObserved(ctx context.Context, payment store.OutgoingPayment) {
	p.publish(ctx, eventSettled, ledgerEvent{
		Type:      eventSettled,
		RowID:     payment.RowID,
		Currency:  payment.Amount.Currency,
		Value:     payment.Amount.Val,
		Fraction:  payment.Amount.Frac,
		Timestamp: payment.ExecutionTime,
	})
}

func (p *EventPublisher) publish(ctx context.Context, key string, event ledgerEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("marshal ledger event", zap.Error(err))
		return
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(fmt.Sprintf("%s-%d", key, event.RowID)),
		Value: data,
		Time:  event.Timestamp,
	})
	if err != nil {
		p.logger.Error("publish ledger event", zap.String("type", key), zap.Error(err))
	}
}
