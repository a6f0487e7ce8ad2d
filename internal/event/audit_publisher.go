package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const publisherAppID = "lending-engine"

// Routing keys for audit and escalation events.
const (
	RoutingKeyLoanCreated      = "loan.created"
	RoutingKeyLoanClosed       = "loan.closed"
	RoutingKeyLoanEscalated    = "loan.escalated"
	RoutingKeyPaymentAllocated = "payment.allocated"
	RoutingKeyPromiseRecorded  = "promise.recorded"
	RoutingKeyPromiseBroken    = "promise.broken"
)

// AuditEvent is the envelope for every audit record. Detail carries
// event-specific fields; consumers treat it as opaque JSON.
type AuditEvent struct {
	Type      string         `json:"type"`
	LoanID    int64          `json:"loanId"`
	Reference string         `json:"reference,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// AuditSink records audit events best-effort. Callers log failures and move
// on; a sink error is never fatal to the operation that produced the event.
type AuditSink interface {
	Record(ctx context.Context, event AuditEvent) error
}

type RabbitMQAuditPublisher struct {
	conn         *amqp.Connection
	exchangeName string
	logger       *slog.Logger
}

var _ AuditSink = (*RabbitMQAuditPublisher)(nil)

func NewRabbitMQAuditPublisher(conn *amqp.Connection, exchangeName string, logger *slog.Logger) (*RabbitMQAuditPublisher, error) {
	if conn == nil {
		return nil, fmt.Errorf("RabbitMQ connection cannot be nil")
	}
	if exchangeName == "" {
		return nil, fmt.Errorf("RabbitMQ exchange name cannot be empty")
	}
	if logger == nil {
		panic("logger cannot be nil")
	}

	tempCh, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open temporary channel for exchange declaration: %w", err)
	}
	defer tempCh.Close()

	err = tempCh.ExchangeDeclare(
		exchangeName,
		amqp.ExchangeTopic,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to declare exchange '%s': %w", exchangeName, err)
	}
	logger.Info("Ensured RabbitMQ exchange exists", "exchange", exchangeName, "type", amqp.ExchangeTopic)

	return &RabbitMQAuditPublisher{
		conn:         conn,
		exchangeName: exchangeName,
		logger:       logger.With("component", "RabbitMQAuditPublisher", "exchange", exchangeName),
	}, nil
}

func (p *RabbitMQAuditPublisher) Record(ctx context.Context, event AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return p.publish(ctx, event.Type, event)
}

func (p *RabbitMQAuditPublisher) publish(ctx context.Context, routingKey string, payload interface{}) error {
	logCtx := p.logger.With(slog.String("routingKey", routingKey))

	channel, err := p.conn.Channel()
	if err != nil {
		logCtx.ErrorContext(ctx, "Failed to open RabbitMQ channel", slog.Any("error", err))
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer channel.Close()

	body, err := json.Marshal(payload)
	if err != nil {
		logCtx.ErrorContext(ctx, "Failed to marshal event payload to JSON", slog.Any("error", err))
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	logCtx.DebugContext(ctx, "Publishing message", "bodySize", len(body))

	err = channel.PublishWithContext(
		ctx,
		p.exchangeName,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
			AppId:        publisherAppID,
		},
	)

	if err != nil {
		logCtx.ErrorContext(ctx, "Failed to publish message to RabbitMQ", slog.Any("error", err))
		return fmt.Errorf("failed to publish message: %w", err)
	}

	logCtx.DebugContext(ctx, "Successfully published message")
	return nil
}

// NoopAuditSink discards events. Used when RabbitMQ is disabled.
type NoopAuditSink struct{}

func (NoopAuditSink) Record(context.Context, AuditEvent) error { return nil }
