package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/courier/internal/domain"
)

// DeliveryMessage is the broker payload asking for an outbound delivery.
type DeliveryMessage struct {
	CorrelationID string              `json:"correlationId,omitempty"`
	ClientID      *string             `json:"clientId,omitempty"`
	Channel       domain.Channel      `json:"channel"`
	To            []string            `json:"to"`
	Cc            []string            `json:"cc,omitempty"`
	Bcc           []string            `json:"bcc,omitempty"`
	Subject       string              `json:"subject,omitempty"`
	TextBody      string              `json:"textBody,omitempty"`
	HTMLBody      string              `json:"htmlBody,omitempty"`
	Attachments   []domain.Attachment `json:"attachments,omitempty"`
	ReplyTo       string              `json:"replyTo,omitempty"`
	From          string              `json:"from,omitempty"`
	Priority      int                 `json:"priority,omitempty"`
}

func (m DeliveryMessage) Validate() error {
	if m.Channel != "" && !m.Channel.IsValid() {
		return fmt.Errorf("invalid channel %q", m.Channel)
	}
	if len(m.To) == 0 {
		return fmt.Errorf("to is required")
	}
	if m.Priority < 0 {
		return fmt.Errorf("invalid priority %d", m.Priority)
	}
	return nil
}

func (m DeliveryMessage) Request() domain.DeliveryRequest {
	return domain.DeliveryRequest{
		CorrelationID: m.CorrelationID,
		ClientID:      m.ClientID,
		Channel:       m.Channel,
		To:            m.To,
		Cc:            m.Cc,
		Bcc:           m.Bcc,
		Subject:       m.Subject,
		TextBody:      m.TextBody,
		HTMLBody:      m.HTMLBody,
		Attachments:   m.Attachments,
		ReplyTo:       m.ReplyTo,
		From:          m.From,
		Priority:      m.Priority,
	}
}

// DeadLetterMessage records an attempt that exhausted its retries or failed permanently.
// Attachment content is not carried.
type DeadLetterMessage struct {
	DeliveryID    string         `json:"deliveryId"`
	CorrelationID string         `json:"correlationId,omitempty"`
	ClientID      *string        `json:"clientId,omitempty"`
	Channel       domain.Channel `json:"channel"`
	Recipients    []string       `json:"recipients"`
	Subject       string         `json:"subject,omitempty"`
	Priority      int            `json:"priority"`
	RetryCount    int            `json:"retryCount"`
	Reason        string         `json:"reason"`
	FailedAt      time.Time      `json:"failedAt"`
}

// NewDeadLetterMessage summarizes a terminal attempt.
func NewDeadLetterMessage(attempt *domain.DeliveryAttempt, reason string, failedAt time.Time) DeadLetterMessage {
	return DeadLetterMessage{
		DeliveryID:    attempt.ID,
		CorrelationID: attempt.CorrelationID,
		ClientID:      attempt.ClientID,
		Channel:       attempt.Channel,
		Recipients:    attempt.Recipients(),
		Subject:       attempt.Subject,
		Priority:      attempt.Priority,
		RetryCount:    attempt.RetryCount,
		Reason:        reason,
		FailedAt:      failedAt.UTC(),
	}
}

func (m DeadLetterMessage) Validate() error {
	if strings.TrimSpace(m.DeliveryID) == "" {
		return fmt.Errorf("deliveryId is required")
	}
	if !m.Channel.IsValid() {
		return fmt.Errorf("invalid channel %q", m.Channel)
	}
	return nil
}
