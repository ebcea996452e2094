package domain

import "time"

// DeliveryOutcome is the result of a single send of a DeliveryAttempt.
type DeliveryOutcome string

const (
	OutcomeSent     DeliveryOutcome = "SENT"
	OutcomeRetrying DeliveryOutcome = "RETRYING"
	OutcomeFailed   DeliveryOutcome = "FAILED"
)

func (o DeliveryOutcome) String() string { return string(o) }

// IsTerminal reports whether no further sends will follow.
func (o DeliveryOutcome) IsTerminal() bool {
	return o == OutcomeSent || o == OutcomeFailed
}

// DeliveryEvent records one send of a delivery attempt.
type DeliveryEvent struct {
	ID          string
	DeliveryID  string
	Channel     Channel
	Recipients  []string
	SendNumber  int
	Outcome     DeliveryOutcome
	MessageID   *string
	Error       *string
	NextRetryAt *time.Time
	CreatedAt   time.Time
}
