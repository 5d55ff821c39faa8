package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"

	"github.com/Youmanvi/stockledger/internal/domain"
	"github.com/Youmanvi/stockledger/internal/infrastructure/config"
	"github.com/Youmanvi/stockledger/internal/pkg/errors"
)

// KafkaPublisher emits lifecycle events to the inventory topic, keyed by
// orderId. Delivery is best-effort at-least-once; a circuit breaker keeps a
// down broker from stalling the request path.
type KafkaPublisher struct {
	writer  *kafka.Writer
	breaker *gobreaker.CircuitBreaker
}

// NewKafkaPublisher creates a publisher for the configured brokers and topic
func NewKafkaPublisher(cfg *config.EventsConfig) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: 5 * time.Second,
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "inventory-events",
		MaxRequests: 1,
		Interval:    cfg.BreakerTimeout,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= cfg.BreakerRatio
		},
	})

	return &KafkaPublisher{writer: writer, breaker: breaker}
}

// Publish sends one lifecycle event. Failures are reported as Delivery
// errors; the caller treats them as non-fatal to its own state.
func (p *KafkaPublisher) Publish(ctx context.Context, event *domain.ReservationEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return errors.NewDelivery("EVENT_ENCODE_FAILED", "failed to marshal lifecycle event", err)
	}

	_, err = p.breaker.Execute(func() (interface{}, error) {
		return nil, p.writer.WriteMessages(ctx, kafka.Message{
			Key:   []byte(event.OrderID),
			Value: payload,
		})
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			return errors.NewDelivery("EVENT_BREAKER_OPEN", "event transport circuit breaker is open", err)
		}
		return errors.NewDelivery("EVENT_PUBLISH_FAILED",
			fmt.Sprintf("failed to publish event for order %s", event.OrderID), err)
	}
	return nil
}

// Close flushes and closes the underlying writer
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
