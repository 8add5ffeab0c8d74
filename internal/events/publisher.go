// Package events publishes checkout lifecycle events.
package events

import (
	"context"
	"time"

	"github.com/IBM/sarama"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
)

var _ checkout.Observer = (*Publisher)(nil)

// Config holds Kafka producer settings.
type Config struct {
	Brokers []string
	Topic   string
}

// Publisher writes checkout events to a Kafka topic, keyed by session so one
// session's events stay ordered within a partition.
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewPublisher connects a synchronous producer to cfg.Brokers.
func NewPublisher(cfg Config) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	producer, err := sarama.NewSyncProducer(cfg.Brokers, ProducerConfig())
	if err != nil {
		return nil, errors.Wrap(err, "create producer")
	}
	return NewPublisherWithProducer(producer, cfg.Topic), nil
}

// NewPublisherWithProducer wraps an existing producer.
func NewPublisherWithProducer(producer sarama.SyncProducer, topic string) *Publisher {
	return &Publisher{producer: producer, topic: topic}
}

// ProducerConfig returns the sarama configuration used for checkout events.
func ProducerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = "kart-checkout"
	cfg.Version = sarama.V2_1_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 100 * time.Millisecond
	cfg.Producer.Return.Successes = true
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 10 * time.Second
	cfg.Net.WriteTimeout = 10 * time.Second
	return cfg
}

// Observe implements checkout.Observer. Publish failures are logged; a
// checkout never fails because its event could not be delivered.
func (p *Publisher) Observe(ctx context.Context, e checkout.Event) {
	if err := p.Publish(e); err != nil {
		zctx.From(ctx).Warn("Publish checkout event failed",
			zap.String("type", string(e.Type)),
			zap.String("attempt", e.Attempt),
			zap.Error(err),
		)
	}
}

// Publish sends e and waits for the broker acknowledgement.
func (p *Publisher) Publish(e checkout.Event) error {
	msg := &sarama.ProducerMessage{
		Topic:     p.topic,
		Key:       sarama.StringEncoder(e.Session),
		Value:     sarama.ByteEncoder(Encode(e)),
		Timestamp: e.At,
		Headers: []sarama.RecordHeader{
			{Key: []byte("type"), Value: []byte(e.Type)},
		},
	}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return errors.Wrapf(err, "send %s", e.Type)
	}
	return nil
}

// Close flushes and closes the producer.
func (p *Publisher) Close() error {
	return p.producer.Close()
}

// Encode renders e as JSON. Empty optional fields are omitted.
func Encode(e checkout.Event) []byte {
	var w jx.Encoder
	w.ObjStart()
	w.FieldStart("type")
	w.Str(string(e.Type))
	w.FieldStart("session")
	w.Str(e.Session)
	w.FieldStart("attempt")
	w.Str(e.Attempt)
	w.FieldStart("state")
	w.Str(e.State.String())
	if e.DraftID != "" {
		w.FieldStart("draftId")
		w.Str(e.DraftID)
		w.FieldStart("total")
		w.Str(e.Total.StringFixed(2))
		w.FieldStart("paymentMethod")
		w.Str(string(e.PaymentMethod))
	}
	if e.OrderNumber != "" {
		w.FieldStart("orderNumber")
		w.Str(e.OrderNumber)
	}
	if e.Reason != "" {
		w.FieldStart("reason")
		w.Str(e.Reason)
	}
	w.FieldStart("at")
	w.Str(e.At.UTC().Format(time.RFC3339Nano))
	w.ObjEnd()
	return w.Bytes()
}
