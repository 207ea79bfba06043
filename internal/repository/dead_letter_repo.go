package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/kursadbilgin/alarm-engine/internal/domain"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

type ListParams struct {
	Category *domain.Category
	Page     int
	PageSize int
}

// Normalize clamps paging to page >= 1 and 1 <= pageSize <= 100.
func (p ListParams) Normalize() ListParams {
	p.Page = max(p.Page, 1)
	if p.PageSize < 1 {
		p.PageSize = defaultPageSize
	}
	p.PageSize = min(p.PageSize, maxPageSize)
	return p
}

type DeadLetterRepository interface {
	Create(ctx context.Context, d *domain.DeadLetter) error
	List(ctx context.Context, params ListParams) ([]domain.DeadLetter, int64, error)
}

type GormDeadLetterRepo struct {
	db *gorm.DB
}

func NewGormDeadLetterRepo(db *gorm.DB) *GormDeadLetterRepo {
	return &GormDeadLetterRepo{db: db}
}

func (r *GormDeadLetterRepo) Create(ctx context.Context, d *domain.DeadLetter) error {
	if d == nil {
		return fmt.Errorf("%w: dead letter is required", domain.ErrValidation)
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}

	model := deadLetterModelFromDomain(d)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	*d = *deadLetterModelToDomain(model)
	return nil
}

func (r *GormDeadLetterRepo) List(ctx context.Context, params ListParams) ([]domain.DeadLetter, int64, error) {
	params = params.Normalize()

	query := r.db.WithContext(ctx).Model(&DeadLetterModel{})
	if params.Category != nil {
		query = query.Where("category = ?", *params.Category)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var models []DeadLetterModel
	err := query.
		Order("created_at DESC").
		Offset((params.Page - 1) * params.PageSize).
		Limit(params.PageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	letters := make([]domain.DeadLetter, 0, len(models))
	for i := range models {
		letters = append(letters, *deadLetterModelToDomain(&models[i]))
	}

	return letters, total, nil
}
