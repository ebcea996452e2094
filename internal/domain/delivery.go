package domain

import (
	"fmt"
	"mime"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Priority classes for outbound deliveries. Lower is more urgent.
const (
	PriorityHigh   = 1
	PriorityNormal = 3
	PriorityLow    = 5
)

// Attachment is a file carried by an outbound message.
type Attachment struct {
	Filename    string `json:"filename"`
	Content     []byte `json:"content"`
	ContentType string `json:"contentType"`
}

// DeliveryAttempt is one outbound message tracked through retries.
type DeliveryAttempt struct {
	ID            string
	CorrelationID string
	ClientID      *string
	Channel       Channel
	To            []string
	Cc            []string
	Bcc           []string
	Subject       string
	TextBody      string
	HTMLBody      string
	Attachments   []Attachment
	ReplyTo       string
	From          string
	Priority      int
	RetryCount    int
	NextRetryAt   time.Time
	LastError     string
	CreatedAt     time.Time
}

// DeliveryRequest carries caller input for a new DeliveryAttempt.
type DeliveryRequest struct {
	CorrelationID string
	ClientID      *string
	Channel       Channel
	To            []string
	Cc            []string
	Bcc           []string
	Subject       string
	TextBody      string
	HTMLBody      string
	Attachments   []Attachment
	ReplyTo       string
	From          string
	Priority      int
}

// NewDeliveryAttempt validates req and returns an attempt ready for its first send.
func NewDeliveryAttempt(req DeliveryRequest, now time.Time) (*DeliveryAttempt, error) {
	channel := req.Channel
	if channel == "" {
		channel = ChannelEmail
	}
	priority := req.Priority
	if priority == 0 {
		priority = PriorityNormal
	}

	attempt := &DeliveryAttempt{
		ID:            uuid.NewString(),
		CorrelationID: strings.TrimSpace(req.CorrelationID),
		ClientID:      req.ClientID,
		Channel:       channel,
		To:            normalizeAddresses(req.To),
		Cc:            normalizeAddresses(req.Cc),
		Bcc:           normalizeAddresses(req.Bcc),
		Subject:       strings.TrimSpace(req.Subject),
		TextBody:      req.TextBody,
		HTMLBody:      req.HTMLBody,
		Attachments:   req.Attachments,
		ReplyTo:       strings.TrimSpace(req.ReplyTo),
		From:          strings.TrimSpace(req.From),
		Priority:      priority,
		NextRetryAt:   now,
		CreatedAt:     now,
	}
	if err := attempt.Validate(); err != nil {
		return nil, err
	}

	return attempt, nil
}

func (a *DeliveryAttempt) Validate() error {
	if !a.Channel.IsValid() {
		return fmt.Errorf("%w: invalid channel %q", ErrValidation, a.Channel)
	}
	if len(a.To) == 0 {
		return fmt.Errorf("%w: at least one recipient is required", ErrValidation)
	}
	if a.Priority < 0 {
		return fmt.Errorf("%w: priority must not be negative (got %d)", ErrValidation, a.Priority)
	}
	if a.RetryCount < 0 {
		return fmt.Errorf("%w: retry count must not be negative (got %d)", ErrValidation, a.RetryCount)
	}
	if a.Subject == "" && strings.TrimSpace(a.TextBody) == "" && strings.TrimSpace(a.HTMLBody) == "" {
		return fmt.Errorf("%w: subject or body is required", ErrValidation)
	}

	if a.Channel == ChannelEmail {
		for _, group := range [][]string{a.To, a.Cc, a.Bcc} {
			for _, address := range group {
				if _, err := mail.ParseAddress(address); err != nil {
					return fmt.Errorf("%w: invalid recipient %q", ErrValidation, address)
				}
			}
		}
		for _, address := range []string{a.ReplyTo, a.From} {
			if address == "" {
				continue
			}
			if _, err := mail.ParseAddress(address); err != nil {
				return fmt.Errorf("%w: invalid address %q", ErrValidation, address)
			}
		}
	}

	for i, attachment := range a.Attachments {
		if strings.TrimSpace(attachment.Filename) == "" {
			return fmt.Errorf("%w: attachment %d has no filename", ErrValidation, i)
		}
		if attachment.ContentType == "" {
			continue
		}
		if _, _, err := mime.ParseMediaType(attachment.ContentType); err != nil {
			return fmt.Errorf("%w: attachment %q has invalid content type %q", ErrValidation, attachment.Filename, attachment.ContentType)
		}
	}

	return nil
}

// Recipients returns primary, cc and bcc addresses in that order.
func (a *DeliveryAttempt) Recipients() []string {
	all := make([]string, 0, len(a.To)+len(a.Cc)+len(a.Bcc))
	all = append(all, a.To...)
	all = append(all, a.Cc...)
	all = append(all, a.Bcc...)
	return all
}

// Clone returns a copy that shares no slices with a.
func (a *DeliveryAttempt) Clone() *DeliveryAttempt {
	if a == nil {
		return nil
	}
	c := *a
	c.To = append([]string(nil), a.To...)
	c.Cc = append([]string(nil), a.Cc...)
	c.Bcc = append([]string(nil), a.Bcc...)
	c.Attachments = append([]Attachment(nil), a.Attachments...)
	if a.ClientID != nil {
		id := *a.ClientID
		c.ClientID = &id
	}
	return &c
}

func normalizeAddresses(addresses []string) []string {
	if len(addresses) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(addresses))
	out := make([]string, 0, len(addresses))
	for _, address := range addresses {
		trimmed := strings.TrimSpace(address)
		if trimmed == "" {
			continue
		}
		key := strings.ToLower(trimmed)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
