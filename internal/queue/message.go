package queue

import (
	"strings"
	"time"

	"github.com/kursadbilgin/alarm-engine/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Header keys duplicated from the body for operational tooling.
const (
	HeaderEventID     = "eventId"
	HeaderReceiverID  = "receiverId"
	HeaderCategory    = "category"
	HeaderPriority    = "priority"
	HeaderPublishedAt = "publishedAt"
)

// Message is an outbound broker message.
type Message struct {
	ID        string
	Body      []byte
	Headers   map[string]any
	TTL       time.Duration
	Priority  uint8
	Timestamp time.Time
}

// Delivery is an inbound broker message.
type Delivery struct {
	Queue      string
	RoutingKey string
	MessageID  string
	Headers    map[string]any
	Body       []byte
}

func AlarmHeaders(env domain.AlarmEnvelope, publishedAt time.Time) map[string]any {
	return map[string]any{
		HeaderEventID:     env.EventID,
		HeaderReceiverID:  env.ReceiverID,
		HeaderCategory:    env.Category.String(),
		HeaderPriority:    env.Priority.String(),
		HeaderPublishedAt: publishedAt.UTC().Format(time.RFC3339Nano),
	}
}

// DeathReason returns the reason of the most recent dead-lettering recorded
// in the x-death header, or "" when absent.
func DeathReason(headers map[string]any) string {
	raw, ok := headers["x-death"]
	if !ok {
		return ""
	}

	deaths, ok := raw.([]any)
	if !ok || len(deaths) == 0 {
		return ""
	}

	var entry map[string]any
	switch v := deaths[0].(type) {
	case amqp.Table:
		entry = v
	case map[string]any:
		entry = v
	default:
		return ""
	}

	reason, _ := entry["reason"].(string)
	return strings.TrimSpace(reason)
}
