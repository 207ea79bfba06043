package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Category identifies the business event an alarm was raised for.
type Category string

const (
	CategoryMembershipApplication Category = "MEMBERSHIP_APPLICATION"
	CategoryMembershipStatus      Category = "MEMBERSHIP_STATUS"
	CategoryDirectMessage         Category = "DIRECT_MESSAGE"
	CategoryBoardReply            Category = "BOARD_REPLY"
	CategorySubscription          Category = "SUBSCRIPTION"
	CategorySystem                Category = "SYSTEM"
)

func (c Category) String() string { return string(c) }

func (c Category) IsValid() bool {
	switch c {
	case CategoryMembershipApplication, CategoryMembershipStatus, CategoryDirectMessage,
		CategoryBoardReply, CategorySubscription, CategorySystem:
		return true
	}
	return false
}

func ParseCategoryFromString(s string) (Category, error) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	c := Category(normalized)
	if !c.IsValid() {
		return "", fmt.Errorf("%w: invalid category %q", ErrValidation, s)
	}
	return c, nil
}

// Priority controls routing and message expiry of an alarm.
type Priority string

const (
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
)

func (p Priority) String() string { return string(p) }

func (p Priority) IsValid() bool {
	switch p {
	case PriorityNormal, PriorityHigh:
		return true
	}
	return false
}

// IsHigh reports whether p is HIGH. Anything else is handled as NORMAL.
func (p Priority) IsHigh() bool { return p == PriorityHigh }

func ParsePriorityFromString(s string) (Priority, error) {
	if strings.TrimSpace(s) == "" {
		return PriorityNormal, nil
	}
	p := Priority(strings.ToUpper(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", fmt.Errorf("%w: invalid priority %q", ErrValidation, s)
	}
	return p, nil
}

// AlarmRequest is what a business trigger hands over to raise an alarm.
type AlarmRequest struct {
	ReceiverID string
	Category   Category
	Priority   Priority
	Title      string
	Body       string
	RelatedID  string
}

// AlarmEnvelope is one delivery attempt of an alarm. It travels as the broker
// message body and is never mutated in place; retries produce a new envelope.
type AlarmEnvelope struct {
	EventID    string    `json:"eventId"`
	ReceiverID string    `json:"receiverId"`
	Category   Category  `json:"category"`
	Priority   Priority  `json:"priority"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	RelatedID  string    `json:"relatedId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	RetryCount int       `json:"retryCount"`
}

func NewAlarmEnvelope(req AlarmRequest, now time.Time) AlarmEnvelope {
	priority := req.Priority
	if priority == "" {
		priority = PriorityNormal
	}

	return AlarmEnvelope{
		EventID:    uuid.NewString(),
		ReceiverID: strings.TrimSpace(req.ReceiverID),
		Category:   req.Category,
		Priority:   priority,
		Title:      strings.TrimSpace(req.Title),
		Body:       req.Body,
		RelatedID:  strings.TrimSpace(req.RelatedID),
		CreatedAt:  now.UTC(),
		RetryCount: 0,
	}
}

// WithIncrementedRetry returns a copy for the next attempt: a fresh event id
// and retryCount+1. The origin timestamp is kept.
func (e AlarmEnvelope) WithIncrementedRetry() AlarmEnvelope {
	next := e
	next.EventID = uuid.NewString()
	next.RetryCount = e.RetryCount + 1
	return next
}

func (e AlarmEnvelope) RetriesExhausted(maxRetries int) bool {
	return e.RetryCount >= maxRetries
}

// Validate reports structural problems that no retry can fix.
func (e AlarmEnvelope) Validate() error {
	if strings.TrimSpace(e.ReceiverID) == "" {
		return fmt.Errorf("%w: receiverId is required", ErrValidation)
	}
	if strings.TrimSpace(e.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if strings.TrimSpace(e.Category.String()) == "" {
		return fmt.Errorf("%w: category is required", ErrValidation)
	}
	if e.RetryCount < 0 {
		return fmt.Errorf("%w: retryCount must be >= 0", ErrValidation)
	}
	return nil
}

// AlarmView is the client-facing rendering of an alarm. It carries no
// recipient data.
type AlarmView struct {
	ID        string    `json:"id"`
	Category  Category  `json:"category"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	RelatedID string    `json:"relatedId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func (e AlarmEnvelope) View() AlarmView {
	return AlarmView{
		ID:        e.EventID,
		Category:  e.Category,
		Title:     e.Title,
		Body:      e.Body,
		RelatedID: e.RelatedID,
		CreatedAt: e.CreatedAt,
	}
}
