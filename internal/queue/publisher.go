package queue

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type RabbitMQPublisher struct {
	client *RabbitMQ
}

func NewRabbitMQPublisher(client *RabbitMQ) *RabbitMQPublisher {
	return &RabbitMQPublisher{client: client}
}

// Publish sends msg to the alarm exchange and waits for the broker confirm.
func (p *RabbitMQPublisher) Publish(ctx context.Context, routingKey string, msg Message) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}
	if strings.TrimSpace(routingKey) == "" {
		return fmt.Errorf("routing key is required")
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // best-effort channel close

	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	timestamp := msg.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    timestamp.UTC(),
		MessageId:    msg.ID,
		Priority:     msg.Priority,
		Headers:      amqp.Table(msg.Headers),
		Body:         msg.Body,
	}
	if msg.TTL > 0 {
		publishing.Expiration = strconv.FormatInt(msg.TTL.Milliseconds(), 10)
	}

	confirmation, err := ch.PublishWithDeferredConfirmWithContext(ctx, ExchangeName, routingKey, false, false, publishing)
	if err != nil {
		return fmt.Errorf("failed to publish message with routing key %q: %w", routingKey, err)
	}
	if confirmation == nil {
		return fmt.Errorf("publisher confirms are not enabled on channel")
	}

	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("failed waiting for publish confirm: %w", err)
	}
	if !acked {
		return fmt.Errorf("broker nacked message %q", msg.ID)
	}

	return nil
}

func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
