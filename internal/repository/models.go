package repository

import (
	"time"

	"github.com/kursadbilgin/courier/internal/domain"
)

// ClientModel is the persistence model for the clients table.
type ClientModel struct {
	ID               string  `gorm:"type:uuid;primaryKey"`
	Name             string  `gorm:"type:varchar(255);not null"`
	Email            string  `gorm:"type:varchar(255)"`
	ImportanceRating float64 `gorm:"not null;default:0"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (ClientModel) TableName() string {
	return "clients"
}

// DeviceModel is the persistence model for the devices table.
type DeviceModel struct {
	ID        string  `gorm:"type:uuid;primaryKey"`
	ClientID  string  `gorm:"type:uuid;not null;index"`
	Name      string  `gorm:"type:varchar(255);not null"`
	Value     float64 `gorm:"not null;default:0"`
	CreatedAt time.Time
}

func (DeviceModel) TableName() string {
	return "devices"
}

// CommunicationModel is the persistence model for the communications table.
// Attachment metadata is stored as a JSON document and only ever decoded as data.
type CommunicationModel struct {
	ID             string                  `gorm:"type:uuid;primaryKey"`
	ClientID       string                  `gorm:"type:uuid;not null"`
	Channel        domain.Channel          `gorm:"type:varchar(10);not null"`
	Direction      domain.Direction        `gorm:"type:varchar(10);not null"`
	OccurredAt     time.Time               `gorm:"not null"`
	Body           string                  `gorm:"type:text;not null"`
	Transcription  *string                 `gorm:"type:text"`
	Category       *string                 `gorm:"type:varchar(100)"`
	Status         domain.Status           `gorm:"type:varchar(20);not null"`
	Attachments    []domain.AttachmentMeta `gorm:"type:jsonb;serializer:json"`
	Sentiment      *float64
	Classification *domain.Classification `gorm:"type:varchar(20)"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (CommunicationModel) TableName() string {
	return "communications"
}

// DeliveryEventModel is the persistence model for delivery_events.
type DeliveryEventModel struct {
	ID          string                 `gorm:"type:uuid;primaryKey"`
	DeliveryID  string                 `gorm:"type:uuid;not null"`
	Channel     domain.Channel         `gorm:"type:varchar(10);not null"`
	Recipients  []string               `gorm:"type:jsonb;serializer:json"`
	SendNumber  int                    `gorm:"not null"`
	Outcome     domain.DeliveryOutcome `gorm:"type:varchar(20);not null"`
	MessageID   *string                `gorm:"type:varchar(255)"`
	Error       *string                `gorm:"type:text"`
	NextRetryAt *time.Time
	CreatedAt   time.Time
}

func (DeliveryEventModel) TableName() string {
	return "delivery_events"
}

func clientModelToDomain(m *ClientModel) *domain.Client {
	if m == nil {
		return nil
	}

	return &domain.Client{
		ID:               m.ID,
		Name:             m.Name,
		Email:            m.Email,
		ImportanceRating: m.ImportanceRating,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func communicationModelFromDomain(c *domain.Communication) *CommunicationModel {
	if c == nil {
		return nil
	}

	return &CommunicationModel{
		ID:             c.ID,
		ClientID:       c.ClientID,
		Channel:        c.Channel,
		Direction:      c.Direction,
		OccurredAt:     c.OccurredAt,
		Body:           c.Body,
		Transcription:  c.Transcription,
		Category:       c.Category,
		Status:         c.Status,
		Attachments:    c.Attachments,
		Sentiment:      c.Sentiment,
		Classification: c.Classification,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

func communicationModelToDomain(m *CommunicationModel) *domain.Communication {
	if m == nil {
		return nil
	}

	return &domain.Communication{
		ID:             m.ID,
		ClientID:       m.ClientID,
		Channel:        m.Channel,
		Direction:      m.Direction,
		OccurredAt:     m.OccurredAt,
		Body:           m.Body,
		Transcription:  m.Transcription,
		Category:       m.Category,
		Status:         m.Status,
		Attachments:    m.Attachments,
		Sentiment:      m.Sentiment,
		Classification: m.Classification,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func deliveryEventModelFromDomain(e *domain.DeliveryEvent) *DeliveryEventModel {
	if e == nil {
		return nil
	}

	return &DeliveryEventModel{
		ID:          e.ID,
		DeliveryID:  e.DeliveryID,
		Channel:     e.Channel,
		Recipients:  e.Recipients,
		SendNumber:  e.SendNumber,
		Outcome:     e.Outcome,
		MessageID:   e.MessageID,
		Error:       e.Error,
		NextRetryAt: e.NextRetryAt,
		CreatedAt:   e.CreatedAt,
	}
}

func deliveryEventModelToDomain(m *DeliveryEventModel) *domain.DeliveryEvent {
	if m == nil {
		return nil
	}

	return &domain.DeliveryEvent{
		ID:          m.ID,
		DeliveryID:  m.DeliveryID,
		Channel:     m.Channel,
		Recipients:  m.Recipients,
		SendNumber:  m.SendNumber,
		Outcome:     m.Outcome,
		MessageID:   m.MessageID,
		Error:       m.Error,
		NextRetryAt: m.NextRetryAt,
		CreatedAt:   m.CreatedAt,
	}
}
