package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/rl1809/bookstore-backoffice/internal/core/domain"
)

const EventTypeHeader = "event_type"

type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaPublisher writes order events keyed by order ID, so every change of an
// order lands on the same partition in commit order.
type KafkaPublisher struct {
	producer Producer
	logger   *zap.Logger
}

func NewKafkaPublisher(producer Producer, logger *zap.Logger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaPublisher{producer: producer, logger: logger}
}

// NewWriter returns a kafka.Writer for topic that creates the topic if missing.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event domain.OrderEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	headers := []kafka.Header{{Key: EventTypeHeader, Value: []byte(event.Type)}}
	headers = injectTraceHeaders(ctx, event, headers)

	msg := kafka.Message{
		Key:     []byte(event.OrderID),
		Value:   payload,
		Headers: headers,
		Time:    event.OccurredAt,
	}
	if err := p.producer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("publish order event failed",
			zap.String("order_id", event.OrderID), zap.String("type", string(event.Type)), zap.Error(err))
		return err
	}
	p.logger.Debug("order event published", zap.String("order_id", event.OrderID), zap.String("type", string(event.Type)))
	return nil
}

// injectTraceHeaders continues the trace captured on the event, falling back
// to whatever span ctx carries.
func injectTraceHeaders(ctx context.Context, event domain.OrderEvent, headers []kafka.Header) []kafka.Header {
	propagator := otel.GetTextMapPropagator()
	if len(event.Trace) > 0 {
		ctx = propagator.Extract(ctx, propagation.MapCarrier(event.Trace))
	}
	carrier := propagation.MapCarrier{}
	propagator.Inject(ctx, carrier)

	for k, v := range carrier {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return headers
}
