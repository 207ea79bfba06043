package queue

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RabbitMQConsumer{
		client:   client,
		prefetch: prefetch,
		logger:   logger,
	}
}

// Consume delivers messages of queue to handler until ctx is done,
// re-establishing the channel with backoff when it drops.
func (c *RabbitMQConsumer) Consume(ctx context.Context, queue string, handler DeliveryHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if handler == nil {
		return fmt.Errorf("delivery handler is required")
	}

	backoff := reconnectBackoff
	for {
		err := c.consumeOnce(ctx, queue, handler)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			backoff = reconnectBackoff
			continue
		}

		c.logger.Warn("consumer channel lost, reconnecting",
			zap.String("queue", queue),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *RabbitMQConsumer) consumeOnce(ctx context.Context, queue string, handler DeliveryHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // best-effort channel close

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		queue,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}

			if err := c.handleDelivery(ctx, queue, d, handler); err != nil {
				return err
			}
		}
	}
}

func (c *RabbitMQConsumer) handleDelivery(ctx context.Context, queue string, d amqp.Delivery, handler DeliveryHandler) error {
	decision := invokeHandler(ctx, c.logger, handler, toDelivery(queue, d))
	return applyDecision(d, decision)
}

func toDelivery(queue string, d amqp.Delivery) Delivery {
	headers := make(map[string]any, len(d.Headers))
	for k, v := range d.Headers {
		headers[k] = v
	}

	return Delivery{
		Queue:      queue,
		RoutingKey: d.RoutingKey,
		MessageID:  d.MessageId,
		Headers:    headers,
		Body:       d.Body,
	}
}

// invokeHandler runs handler and rejects the delivery if handler panics.
func invokeHandler(ctx context.Context, logger *zap.Logger, handler DeliveryHandler, d Delivery) (decision Decision) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("delivery handler panicked",
				zap.String("queue", d.Queue),
				zap.String("messageId", d.MessageID),
				zap.Any("panic", r),
			)
			decision = DecisionReject
		}
	}()

	return handler(ctx, d)
}

func applyDecision(d amqp.Delivery, decision Decision) error {
	switch decision {
	case DecisionAck:
		if err := d.Ack(false); err != nil {
			return fmt.Errorf("failed to ack delivery: %w", err)
		}
	case DecisionRequeue:
		if err := d.Nack(false, true); err != nil {
			return fmt.Errorf("failed to requeue delivery: %w", err)
		}
	default:
		if err := d.Reject(false); err != nil {
			return fmt.Errorf("failed to reject delivery: %w", err)
		}
	}
	return nil
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
