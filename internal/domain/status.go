package domain

import (
	"fmt"
	"strings"
)

// Status represents the handling state of a communication.
type Status string

const (
	StatusNew      Status = "NEW"
	StatusRead     Status = "READ"
	StatusReplied  Status = "REPLIED"
	StatusArchived Status = "ARCHIVED"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusNew, StatusRead, StatusReplied, StatusArchived:
		return true
	}
	return false
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// allowedFrom lists the states each target status may be entered from.
var allowedFrom = map[Status][]Status{
	StatusRead:     {StatusNew},
	StatusReplied:  {StatusNew, StatusRead},
	StatusArchived: {StatusNew, StatusRead, StatusReplied},
}

// PredecessorsOf returns the statuses from which next can be entered.
func PredecessorsOf(next Status) []Status {
	return append([]Status(nil), allowedFrom[next]...)
}

// CanTransition reports whether moving from s to next is permitted.
// Re-applying the current status is allowed and is a no-op.
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return s.IsValid()
	}
	for _, from := range allowedFrom[next] {
		if from == s {
			return true
		}
	}
	return false
}

// Transition validates s -> next and reports whether the status actually changes.
func (s Status) Transition(next Status) (bool, error) {
	if !next.IsValid() {
		return false, fmt.Errorf("%w: invalid status %q", ErrValidation, next)
	}
	if !s.CanTransition(next) {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, next)
	}
	return s != next, nil
}
