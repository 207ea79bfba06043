package repository

import (
	"time"

	"github.com/kursadbilgin/alarm-engine/internal/domain"
)

// DeadLetterModel is the persistence model for the dead_letters table.
type DeadLetterModel struct {
	ID         string          `gorm:"type:uuid;primaryKey"`
	EventID    string          `gorm:"type:varchar(36)"`
	ReceiverID string          `gorm:"type:varchar(255)"`
	Category   domain.Category `gorm:"type:varchar(40)"`
	Priority   domain.Priority `gorm:"type:varchar(10)"`
	Title      string          `gorm:"type:text"`
	RetryCount int             `gorm:"not null;default:0"`
	Queue      string          `gorm:"type:varchar(100);not null"`
	Reason     string          `gorm:"type:varchar(40)"`
	Payload    string          `gorm:"type:text;not null"`
	CreatedAt  time.Time
}

func (DeadLetterModel) TableName() string {
	return "dead_letters"
}

func deadLetterModelFromDomain(d *domain.DeadLetter) *DeadLetterModel {
	if d == nil {
		return nil
	}

	return &DeadLetterModel{
		ID:         d.ID,
		EventID:    d.EventID,
		ReceiverID: d.ReceiverID,
		Category:   d.Category,
		Priority:   d.Priority,
		Title:      d.Title,
		RetryCount: d.RetryCount,
		Queue:      d.Queue,
		Reason:     d.Reason,
		Payload:    d.Payload,
		CreatedAt:  d.CreatedAt,
	}
}

func deadLetterModelToDomain(m *DeadLetterModel) *domain.DeadLetter {
	if m == nil {
		return nil
	}

	return &domain.DeadLetter{
		ID:         m.ID,
		EventID:    m.EventID,
		ReceiverID: m.ReceiverID,
		Category:   m.Category,
		Priority:   m.Priority,
		Title:      m.Title,
		RetryCount: m.RetryCount,
		Queue:      m.Queue,
		Reason:     m.Reason,
		Payload:    m.Payload,
		CreatedAt:  m.CreatedAt,
	}
}
