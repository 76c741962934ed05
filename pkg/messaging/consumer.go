package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/medflow/medflow-pharmacy/pkg/logger"
	"github.com/medflow/medflow-pharmacy/pkg/tenant"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageHandler is a function that handles a message
type MessageHandler func(ctx context.Context, event *Event) error

// Acknowledger is the subset of amqp.Delivery the consumer settles messages with.
type Acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
	Reject(requeue bool) error
}

// Consumer handles consuming events from RabbitMQ
type Consumer struct {
	rmq        *RabbitMQ
	queueName  string
	handlers   map[string]MessageHandler
	maxRetries int
	logger     *logger.Logger
}

// NewConsumer creates a new consumer for the given queue
func NewConsumer(rmq *RabbitMQ, queueName string, maxRetries int, log *logger.Logger) (*Consumer, error) {
	if _, err := rmq.DeclareQueue(queueName); err != nil {
		return nil, fmt.Errorf("failed to declare queue %s: %w", queueName, err)
	}
	return newConsumer(rmq, queueName, maxRetries, log), nil
}

func newConsumer(rmq *RabbitMQ, queueName string, maxRetries int, log *logger.Logger) *Consumer {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Consumer{
		rmq:        rmq,
		queueName:  queueName,
		handlers:   make(map[string]MessageHandler),
		maxRetries: maxRetries,
		logger:     log.WithComponent("consumer"),
	}
}

// Subscribe binds the queue to an exchange with a routing key pattern
func (c *Consumer) Subscribe(exchange, routingKeyPattern string) error {
	if err := c.rmq.DeclareExchange(exchange); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}
	if err := c.rmq.BindQueue(c.queueName, exchange, routingKeyPattern); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	c.logger.Info().
		Str("queue", c.queueName).
		Str("exchange", exchange).
		Str("routing_key", routingKeyPattern).
		Msg("subscribed to exchange")
	return nil
}

// RegisterHandler registers a handler for a specific event type
func (c *Consumer) RegisterHandler(eventType string, handler MessageHandler) {
	c.handlers[eventType] = handler
}

// Start starts consuming messages from the queue in a goroutine
func (c *Consumer) Start(ctx context.Context) error {
	msgs, err := c.rmq.Channel().Consume(
		c.queueName, // queue
		"",          // consumer tag (auto-generated)
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info().Str("queue", c.queueName).Msg("consumer started")

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.logger.Info().Str("queue", c.queueName).Msg("consumer stopped")
				return
			case msg, ok := <-msgs:
				if !ok {
					c.logger.Warn().Msg("message channel closed")
					return
				}
				c.handle(ctx, msg.Body, deathCount(msg.Headers), msg)
			}
		}
	}()

	return nil
}

// handle dispatches one message body and settles it through ack.
func (c *Consumer) handle(ctx context.Context, body []byte, retries int, ack Acknowledger) {
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		c.logger.Error().Err(err).Msg("failed to unmarshal event")
		_ = ack.Reject(false)
		return
	}

	ctx = WithCorrelationID(ctx, event.CorrelationID)
	if event.TenantID != "" {
		ctx = tenant.WithTenantID(ctx, event.TenantID)
	}

	handler, ok := c.handlers[event.Type]
	if !ok {
		c.logger.Debug().Str("event_type", event.Type).Msg("no handler registered for event type")
		_ = ack.Ack(false)
		return
	}

	if err := handler(ctx, &event); err != nil {
		c.logger.Error().
			Err(err).
			Str("event_type", event.Type).
			Str("event_id", event.ID).
			Int("retry_count", retries).
			Msg("failed to process event")

		if retries >= c.maxRetries {
			c.logger.Warn().Str("event_id", event.ID).Msg("max retries exceeded, sending to DLQ")
			_ = ack.Reject(false)
			return
		}
		_ = ack.Nack(false, true)
		return
	}

	_ = ack.Ack(false)
}

func deathCount(headers amqp.Table) int {
	if headers == nil {
		return 0
	}
	deaths, ok := headers["x-death"].([]interface{})
	if !ok {
		return 0
	}
	for _, death := range deaths {
		if d, ok := death.(amqp.Table); ok {
			if count, ok := d["count"].(int64); ok {
				return int(count)
			}
		}
	}
	return 0
}
