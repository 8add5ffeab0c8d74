package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/order"
)

func confirmedEvent() checkout.Event {
	return checkout.Event{
		Type:          checkout.EventOrderConfirmed,
		Session:       "user-1",
		Attempt:       "ckattempt1",
		State:         checkout.Confirmed,
		DraftID:       "draft-1",
		Total:         decimal.RequireFromString("23.6"),
		PaymentMethod: order.PaymentCash,
		OrderNumber:   "ABC123",
		At:            time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestEncode(t *testing.T) {
	var got map[string]any
	require.NoError(t, json.Unmarshal(Encode(confirmedEvent()), &got))

	assert.Equal(t, map[string]any{
		"type":          "checkout.order_confirmed",
		"session":       "user-1",
		"attempt":       "ckattempt1",
		"state":         "confirmed",
		"draftId":       "draft-1",
		"total":         "23.60",
		"paymentMethod": "cash",
		"orderNumber":   "ABC123",
		"at":            "2026-03-01T12:00:00Z",
	}, got)
}

func TestEncode_OmitsEmpty(t *testing.T) {
	var got map[string]any
	require.NoError(t, json.Unmarshal(Encode(checkout.Event{
		Type:  checkout.EventEntered,
		State: checkout.FormEntry,
	}), &got))

	assert.NotContains(t, got, "draftId")
	assert.NotContains(t, got, "orderNumber")
	assert.NotContains(t, got, "reason")
}

func TestPublisher_Observe(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "checkout-events" {
			return errors.Errorf("unexpected topic %q", msg.Topic)
		}
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "user-1" {
			return errors.Errorf("unexpected key %q", key)
		}
		return nil
	})

	p := NewPublisherWithProducer(sp, "checkout-events")
	p.Observe(context.Background(), confirmedEvent())
	require.NoError(t, p.Close())
}

func TestPublisher_PublishFailure(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewPublisherWithProducer(sp, "checkout-events")
	err := p.Publish(confirmedEvent())
	require.ErrorIs(t, err, sarama.ErrOutOfBrokers)

	// Observe swallows the error.
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	p.Observe(context.Background(), confirmedEvent())
	require.NoError(t, p.Close())
}

func TestNewPublisher_Validation(t *testing.T) {
	_, err := NewPublisher(Config{Topic: "t"})
	require.Error(t, err)
	_, err = NewPublisher(Config{Brokers: []string{"localhost:9092"}})
	require.Error(t, err)
}

func TestProducerConfig(t *testing.T) {
	cfg := ProducerConfig()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.Producer.Return.Successes)
	assert.Equal(t, sarama.WaitForAll, cfg.Producer.RequiredAcks)
}

func TestMetrics_Observe(t *testing.T) {
	m, err := NewMetrics(noop.NewMeterProvider())
	require.NoError(t, err)
	m.Observe(context.Background(), confirmedEvent())
	m.Observe(context.Background(), checkout.Event{Type: checkout.EventAborted})
}
