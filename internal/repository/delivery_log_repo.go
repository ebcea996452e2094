package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/kursadbilgin/courier/internal/domain"
	"gorm.io/gorm"
)

// DeliveryLogRepository keeps an audit trail of every send of a delivery attempt.
type DeliveryLogRepository interface {
	Record(ctx context.Context, e *domain.DeliveryEvent) error
	ListByDeliveryID(ctx context.Context, deliveryID string) ([]domain.DeliveryEvent, error)
}

type GormDeliveryLogRepo struct {
	db *gorm.DB
}

func NewGormDeliveryLogRepo(db *gorm.DB) *GormDeliveryLogRepo {
	return &GormDeliveryLogRepo{db: db}
}

func (r *GormDeliveryLogRepo) Record(ctx context.Context, e *domain.DeliveryEvent) error {
	if e == nil {
		return fmt.Errorf("%w: delivery event is required", domain.ErrValidation)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	model := deliveryEventModelFromDomain(e)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	*e = *deliveryEventModelToDomain(model)
	return nil
}

func (r *GormDeliveryLogRepo) ListByDeliveryID(ctx context.Context, deliveryID string) ([]domain.DeliveryEvent, error) {
	var models []DeliveryEventModel
	err := r.db.WithContext(ctx).
		Where("delivery_id = ?", deliveryID).
		Order("send_number ASC").
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	events := make([]domain.DeliveryEvent, 0, len(models))
	for i := range models {
		events = append(events, *deliveryEventModelToDomain(&models[i]))
	}

	return events, nil
}
