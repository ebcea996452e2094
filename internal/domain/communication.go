package domain

import (
	"fmt"
	"strings"
	"time"
)

// Channel represents the communication medium.
type Channel string

const (
	ChannelEmail Channel = "EMAIL"
	ChannelPhone Channel = "PHONE"
	ChannelSMS   Channel = "SMS"
	ChannelVoice Channel = "VOICE"
)

func (c Channel) String() string { return string(c) }

func (c Channel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelPhone, ChannelSMS, ChannelVoice:
		return true
	}
	return false
}

func ParseChannelFromString(s string) (Channel, error) {
	ch := Channel(strings.ToUpper(strings.TrimSpace(s)))
	if !ch.IsValid() {
		return "", fmt.Errorf("%w: invalid channel %q", ErrValidation, s)
	}
	return ch, nil
}

// Direction tells whether a communication was received or sent.
type Direction string

const (
	DirectionInbound  Direction = "INBOUND"
	DirectionOutbound Direction = "OUTBOUND"
)

func (d Direction) String() string { return string(d) }

func (d Direction) IsValid() bool {
	return d == DirectionInbound || d == DirectionOutbound
}

func ParseDirectionFromString(s string) (Direction, error) {
	d := Direction(strings.ToUpper(strings.TrimSpace(s)))
	if !d.IsValid() {
		return "", fmt.Errorf("%w: invalid direction %q", ErrValidation, s)
	}
	return d, nil
}

// Classification is the content label attached to an inbound communication.
type Classification string

const (
	ClassificationComplaint Classification = "complaint"
	ClassificationInquiry   Classification = "inquiry"
	ClassificationThanks    Classification = "thanks"
	ClassificationOrder     Classification = "order"
	ClassificationOther     Classification = "other"
)

func (c Classification) String() string { return string(c) }

func (c Classification) IsValid() bool {
	switch c {
	case ClassificationComplaint, ClassificationInquiry, ClassificationThanks, ClassificationOrder, ClassificationOther:
		return true
	}
	return false
}

func ParseClassificationFromString(s string) (Classification, error) {
	c := Classification(strings.ToLower(strings.TrimSpace(s)))
	if !c.IsValid() {
		return "", fmt.Errorf("%w: invalid classification %q", ErrValidation, s)
	}
	return c, nil
}

// AttachmentMeta describes a stored attachment without its content.
type AttachmentMeta struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType,omitempty"`
	Size        int    `json:"size"`
}

// Communication is a sent or received client communication.
type Communication struct {
	ID             string
	ClientID       string
	Channel        Channel
	Direction      Direction
	OccurredAt     time.Time
	Body           string
	Transcription  *string
	Category       *string
	Status         Status
	Attachments    []AttachmentMeta
	Sentiment      *float64
	Classification *Classification
	CreatedAt      time.Time
	UpdatedAt      time.Time

	// PriorityScore is recomputed on every prioritization pass and never persisted.
	PriorityScore float64
}

func (c *Communication) Validate() error {
	if strings.TrimSpace(c.ClientID) == "" {
		return fmt.Errorf("%w: client id is required", ErrValidation)
	}
	if !c.Channel.IsValid() {
		return fmt.Errorf("%w: invalid channel %q", ErrValidation, c.Channel)
	}
	if !c.Direction.IsValid() {
		return fmt.Errorf("%w: invalid direction %q", ErrValidation, c.Direction)
	}
	if c.Status != "" && !c.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, c.Status)
	}
	if c.Sentiment != nil && (*c.Sentiment < -1 || *c.Sentiment > 1) {
		return fmt.Errorf("%w: sentiment must be within [-1, 1] (got %v)", ErrValidation, *c.Sentiment)
	}
	if c.Classification != nil && !c.Classification.IsValid() {
		return fmt.Errorf("%w: invalid classification %q", ErrValidation, *c.Classification)
	}
	return nil
}

// Annotations are the analysis fields that may be edited after a communication
// is recorded. Nil fields are left untouched.
type Annotations struct {
	Category       *string
	Classification *Classification
	Sentiment      *float64
}

func (a Annotations) IsEmpty() bool {
	return a.Category == nil && a.Classification == nil && a.Sentiment == nil
}

// Validate trims Category in place.
func (a *Annotations) Validate() error {
	if a.IsEmpty() {
		return fmt.Errorf("%w: at least one of category, classification or sentiment is required", ErrValidation)
	}
	if a.Category != nil {
		category := strings.TrimSpace(*a.Category)
		if category == "" {
			return fmt.Errorf("%w: category must not be blank", ErrValidation)
		}
		a.Category = &category
	}
	if a.Classification != nil && !a.Classification.IsValid() {
		return fmt.Errorf("%w: invalid classification %q", ErrValidation, *a.Classification)
	}
	if a.Sentiment != nil && (*a.Sentiment < -1 || *a.Sentiment > 1) {
		return fmt.Errorf("%w: sentiment must be within [-1, 1] (got %v)", ErrValidation, *a.Sentiment)
	}
	return nil
}

// AttachmentMetadata strips content from attachments for storage alongside a communication.
func AttachmentMetadata(attachments []Attachment) []AttachmentMeta {
	if len(attachments) == 0 {
		return nil
	}
	meta := make([]AttachmentMeta, 0, len(attachments))
	for _, a := range attachments {
		meta = append(meta, AttachmentMeta{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Size:        len(a.Content),
		})
	}
	return meta
}
