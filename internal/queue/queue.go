package queue

import (
	"context"
	"time"

	"github.com/kursadbilgin/alarm-engine/internal/domain"
)

// Publisher publishes messages to the alarm exchange.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, msg Message) error
	Close() error
}

// DeliveryHandler decides the fate of one consumed delivery.
type DeliveryHandler func(ctx context.Context, d Delivery) Decision

// Consumer consumes deliveries from a queue until ctx is done.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler DeliveryHandler) error
	Close() error
}

// Decision is the acknowledgement applied to a delivery.
type Decision int

const (
	// DecisionAck removes the message from the queue.
	DecisionAck Decision = iota
	// DecisionReject rejects without requeue; work queues dead-letter it.
	DecisionReject
	// DecisionRequeue returns the message to its queue. Work queues use it only
	// for deliveries interrupted by shutdown.
	DecisionRequeue
)

func (d Decision) String() string {
	switch d {
	case DecisionAck:
		return "ack"
	case DecisionReject:
		return "reject"
	case DecisionRequeue:
		return "requeue"
	}
	return "unknown"
}

const (
	ExchangeName    = "alarm.topic"
	DLXExchangeName = "alarm.dlx"

	membershipBaseKey = "alarm.membership"
	messageBaseKey    = "alarm.message"
	boardBaseKey      = "alarm.board"

	// queueMaxPriority is the x-max-priority value for work queues.
	queueMaxPriority int32 = 2

	highPriorityTTL   = time.Minute
	normalPriorityTTL = 5 * time.Minute
)

var baseKeys = []string{
	membershipBaseKey,
	messageBaseKey,
	boardBaseKey,
}

// BaseKey maps a category to its queue group. Unrecognized categories fall
// back to the membership group.
func BaseKey(category domain.Category) string {
	switch category {
	case domain.CategoryMembershipApplication, domain.CategoryMembershipStatus:
		return membershipBaseKey
	case domain.CategoryDirectMessage:
		return messageBaseKey
	case domain.CategoryBoardReply, domain.CategorySubscription:
		return boardBaseKey
	default:
		return membershipBaseKey
	}
}

// RoutingKey returns e.g. alarm.message.high.
func RoutingKey(category domain.Category, priority domain.Priority) string {
	suffix := "normal"
	if priority.IsHigh() {
		suffix = "high"
	}
	return BaseKey(category) + "." + suffix
}

// QueueName returns the work queue of a base key, e.g. alarm.message.queue.
func QueueName(baseKey string) string {
	return baseKey + ".queue"
}

// DLQName returns the dead-letter queue of a base key, e.g. alarm.message.dlq.
func DLQName(baseKey string) string {
	return baseKey + ".dlq"
}

// BindingPattern returns the topic binding of a base key, e.g. alarm.message.*.
func BindingPattern(baseKey string) string {
	return baseKey + ".*"
}

// WorkQueueNames returns all work queues (3 total).
func WorkQueueNames() []string {
	queues := make([]string, 0, len(baseKeys))
	for _, key := range baseKeys {
		queues = append(queues, QueueName(key))
	}
	return queues
}

// DLQNames returns all dead-letter queues (3 total).
func DLQNames() []string {
	queues := make([]string, 0, len(baseKeys))
	for _, key := range baseKeys {
		queues = append(queues, DLQName(key))
	}
	return queues
}

// Expiration is the per-message TTL. Stale alarms are worth less than no
// alarm, so high priority ones expire quickly.
func Expiration(priority domain.Priority) time.Duration {
	if priority.IsHigh() {
		return highPriorityTTL
	}
	return normalPriorityTTL
}

// PriorityValue maps domain priority to RabbitMQ message priority.
func PriorityValue(priority domain.Priority) uint8 {
	if priority.IsHigh() {
		return 2
	}
	return 1
}
