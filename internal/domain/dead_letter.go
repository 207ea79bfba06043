package domain

import "time"

// DeadLetter is an alarm that reached a dead-letter queue, kept for operators.
type DeadLetter struct {
	ID         string
	EventID    string
	ReceiverID string
	Category   Category
	Priority   Priority
	Title      string
	RetryCount int
	Queue      string
	Reason     string
	Payload    string
	CreatedAt  time.Time
}
