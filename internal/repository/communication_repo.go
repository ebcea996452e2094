package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/courier/internal/domain"
	"gorm.io/gorm"
)

const (
	defaultQueryLimit = 20
	maxQueryLimit     = 100
)

// InboundFilter narrows QueryInbound. A nil Status matches every status.
type InboundFilter struct {
	Status   *domain.Status
	Channel  *domain.Channel
	ClientID string
}

// CommunicationStore persists communications and derives client signals from them.
type CommunicationStore interface {
	Save(ctx context.Context, c *domain.Communication) error
	GetByID(ctx context.Context, id string) (*domain.Communication, error)
	UpdateStatus(ctx context.Context, id string, next domain.Status) (bool, error)
	UpdateAnnotations(ctx context.Context, id string, annotations domain.Annotations) (*domain.Communication, error)
	QueryInbound(ctx context.Context, filter InboundFilter, limit int) ([]domain.Communication, error)
	QueryClientHistory(ctx context.Context, clientID string, channel *domain.Channel, limit, offset int) ([]domain.Communication, error)
	QueryClientSignals(ctx context.Context, clientID string) (*domain.ClientSignals, error)
	InboundTimestamps(ctx context.Context, clientID string, limit int) ([]time.Time, error)
	ListRecentClients(ctx context.Context, limit int) ([]domain.Client, error)
}

type GormCommunicationRepo struct {
	db *gorm.DB
}

func NewGormCommunicationRepo(db *gorm.DB) *GormCommunicationRepo {
	return &GormCommunicationRepo{db: db}
}

func (r *GormCommunicationRepo) Save(ctx context.Context, c *domain.Communication) error {
	if c == nil {
		return fmt.Errorf("%w: communication is required", domain.ErrValidation)
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = domain.StatusNew
	}
	if err := c.Validate(); err != nil {
		return err
	}

	model := communicationModelFromDomain(c)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	*c = *communicationModelToDomain(model)
	return nil
}

func (r *GormCommunicationRepo) GetByID(ctx context.Context, id string) (*domain.Communication, error) {
	var model CommunicationModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return communicationModelToDomain(&model), nil
}

// UpdateStatus moves a communication forward in its lifecycle. The update is
// conditional on the stored status so concurrent writers cannot move it
// backwards. Re-applying the current status reports changed=false.
func (r *GormCommunicationRepo) UpdateStatus(ctx context.Context, id string, next domain.Status) (bool, error) {
	if !next.IsValid() {
		return false, fmt.Errorf("%w: invalid status %q", domain.ErrValidation, next)
	}

	if sources := domain.PredecessorsOf(next); len(sources) > 0 {
		result := r.db.WithContext(ctx).
			Model(&CommunicationModel{}).
			Where("id = ? AND status IN ?", id, sources).
			Update("status", next)
		if result.Error != nil {
			return false, result.Error
		}
		if result.RowsAffected > 0 {
			return true, nil
		}
	}

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if _, err := current.Status.Transition(next); err != nil {
		return false, err
	}
	return false, nil
}

// UpdateAnnotations writes the non-nil annotation fields and returns the
// updated record. Status, direction and channel are never touched.
func (r *GormCommunicationRepo) UpdateAnnotations(ctx context.Context, id string, annotations domain.Annotations) (*domain.Communication, error) {
	if err := annotations.Validate(); err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if annotations.Category != nil {
		updates["category"] = *annotations.Category
	}
	if annotations.Classification != nil {
		updates["classification"] = *annotations.Classification
	}
	if annotations.Sentiment != nil {
		updates["sentiment"] = *annotations.Sentiment
	}

	result := r.db.WithContext(ctx).
		Model(&CommunicationModel{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, domain.ErrNotFound
	}

	return r.GetByID(ctx, id)
}

// QueryClientHistory lists a client's communications in both directions,
// newest first, optionally restricted to one channel.
func (r *GormCommunicationRepo) QueryClientHistory(
	ctx context.Context,
	clientID string,
	channel *domain.Channel,
	limit, offset int,
) ([]domain.Communication, error) {
	query := r.db.WithContext(ctx).
		Model(&CommunicationModel{}).
		Where("client_id = ?", strings.TrimSpace(clientID))
	if channel != nil {
		query = query.Where("channel = ?", *channel)
	}

	var models []CommunicationModel
	err := query.
		Order("occurred_at DESC").
		Order("created_at DESC").
		Limit(clampLimit(limit)).
		Offset(max(offset, 0)).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	communications := make([]domain.Communication, 0, len(models))
	for i := range models {
		communications = append(communications, *communicationModelToDomain(&models[i]))
	}
	return communications, nil
}

func (r *GormCommunicationRepo) QueryInbound(ctx context.Context, filter InboundFilter, limit int) ([]domain.Communication, error) {
	query := r.db.WithContext(ctx).
		Model(&CommunicationModel{}).
		Where("direction = ?", domain.DirectionInbound)

	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.Channel != nil {
		query = query.Where("channel = ?", *filter.Channel)
	}
	if clientID := strings.TrimSpace(filter.ClientID); clientID != "" {
		query = query.Where("client_id = ?", clientID)
	}

	var models []CommunicationModel
	err := query.
		Order("occurred_at DESC").
		Order("created_at DESC").
		Limit(clampLimit(limit)).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	communications := make([]domain.Communication, 0, len(models))
	for i := range models {
		communications = append(communications, *communicationModelToDomain(&models[i]))
	}
	return communications, nil
}

type deviceAggregate struct {
	DeviceCount  int64   `gorm:"column:device_count"`
	AverageValue float64 `gorm:"column:average_value"`
}

func (r *GormCommunicationRepo) QueryClientSignals(ctx context.Context, clientID string) (*domain.ClientSignals, error) {
	db := r.db.WithContext(ctx)

	var client ClientModel
	err := db.First(&client, "id = ?", clientID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var communicationCount int64
	if err := db.Model(&CommunicationModel{}).
		Where("client_id = ?", clientID).
		Count(&communicationCount).Error; err != nil {
		return nil, err
	}

	var devices deviceAggregate
	if err := db.Model(&DeviceModel{}).
		Select("COUNT(*) AS device_count, COALESCE(AVG(value), 0) AS average_value").
		Where("client_id = ?", clientID).
		Scan(&devices).Error; err != nil {
		return nil, err
	}

	signals := &domain.ClientSignals{
		ClientID:           clientID,
		CommunicationCount: int(communicationCount),
		DeviceCount:        int(devices.DeviceCount),
		AverageDeviceValue: devices.AverageValue,
		ImportanceRating:   client.ImportanceRating,
	}

	latest, err := r.InboundTimestamps(ctx, clientID, 1)
	if err != nil {
		return nil, err
	}
	if len(latest) > 0 {
		signals.LastInboundAt = &latest[0]
	}

	return signals, nil
}

// InboundTimestamps returns when the client's most recent inbound communications occurred, newest first.
func (r *GormCommunicationRepo) InboundTimestamps(ctx context.Context, clientID string, limit int) ([]time.Time, error) {
	var models []CommunicationModel
	err := r.db.WithContext(ctx).
		Select("occurred_at").
		Where("client_id = ? AND direction = ?", clientID, domain.DirectionInbound).
		Order("occurred_at DESC").
		Limit(clampLimit(limit)).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	timestamps := make([]time.Time, 0, len(models))
	for i := range models {
		timestamps = append(timestamps, models[i].OccurredAt)
	}
	return timestamps, nil
}

// ListRecentClients returns the most recently registered clients.
func (r *GormCommunicationRepo) ListRecentClients(ctx context.Context, limit int) ([]domain.Client, error) {
	var models []ClientModel
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(clampLimit(limit)).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	clients := make([]domain.Client, 0, len(models))
	for i := range models {
		clients = append(clients, *clientModelToDomain(&models[i]))
	}
	return clients, nil
}

func clampLimit(limit int) int {
	if limit < 1 {
		return defaultQueryLimit
	}
	return min(limit, maxQueryLimit)
}
