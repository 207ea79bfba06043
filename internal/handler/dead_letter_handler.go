package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/alarm-engine/internal/domain"
	"github.com/kursadbilgin/alarm-engine/internal/repository"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 100
)

type DeadLetterLister interface {
	List(ctx context.Context, params repository.ListParams) ([]domain.DeadLetter, int64, error)
}

type DeadLetterHandler struct {
	letters DeadLetterLister
}

func RegisterDeadLetterRoutes(router fiber.Router, letters DeadLetterLister) error {
	if letters == nil {
		return fmt.Errorf("dead letter lister is required")
	}

	h := &DeadLetterHandler{letters: letters}
	router.Get("/v1/dead-letters", h.ListDeadLetters)
	return nil
}

type deadLetterResponse struct {
	ID         string    `json:"id"`
	EventID    string    `json:"eventId"`
	ReceiverID string    `json:"receiverId"`
	Category   string    `json:"category"`
	Priority   string    `json:"priority"`
	Title      string    `json:"title"`
	RetryCount int       `json:"retryCount"`
	Queue      string    `json:"queue"`
	Reason     string    `json:"reason,omitempty"`
	Payload    string    `json:"payload"`
	CreatedAt  time.Time `json:"createdAt"`
}

type listDeadLettersResponse struct {
	Data []deadLetterResponse `json:"data"`
	Meta listMeta             `json:"meta"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

func (h *DeadLetterHandler) ListDeadLetters(c *fiber.Ctx) error {
	params, err := parseListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	letters, total, err := h.letters.List(c.UserContext(), params)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]deadLetterResponse, 0, len(letters))
	for _, letter := range letters {
		data = append(data, toDeadLetterResponse(letter))
	}

	return c.Status(fiber.StatusOK).JSON(listDeadLettersResponse{
		Data: data,
		Meta: listMeta{
			Page:     params.Page,
			PageSize: params.PageSize,
			Total:    total,
		},
	})
}

func parseListParams(c *fiber.Ctx) (repository.ListParams, error) {
	params := repository.ListParams{
		Page:     c.QueryInt("page", defaultPage),
		PageSize: c.QueryInt("pageSize", defaultPageSize),
	}

	if params.Page < 1 {
		return repository.ListParams{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if params.PageSize < 1 || params.PageSize > maxPageSize {
		return repository.ListParams{}, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}

	if rawCategory := strings.TrimSpace(c.Query("category")); rawCategory != "" {
		category, err := domain.ParseCategoryFromString(rawCategory)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Category = &category
	}

	return params, nil
}

func toDeadLetterResponse(d domain.DeadLetter) deadLetterResponse {
	return deadLetterResponse{
		ID:         d.ID,
		EventID:    d.EventID,
		ReceiverID: d.ReceiverID,
		Category:   d.Category.String(),
		Priority:   d.Priority.String(),
		Title:      d.Title,
		RetryCount: d.RetryCount,
		Queue:      d.Queue,
		Reason:     d.Reason,
		Payload:    d.Payload,
		CreatedAt:  d.CreatedAt,
	}
}
