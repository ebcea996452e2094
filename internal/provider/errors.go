package provider

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kursadbilgin/courier/internal/domain"
)

// ProviderError classifies transport failures as transient/permanent.
type ProviderError struct {
	StatusCode int
	Message    string
	Transient  bool
	Cause      error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "provider error")

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Permanent wraps err as a non-retryable transport failure.
func Permanent(message string, err error) error {
	return &ProviderError{Message: message, Transient: false, Cause: err}
}

// IsTransient reports whether an error should be retried. Anything not
// explicitly classified as permanent is retried, timeouts included.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, domain.ErrValidation) {
		return false
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Transient
	}

	return true
}

// IsPermanent reports whether err must not be retried.
func IsPermanent(err error) bool {
	return err != nil && !IsTransient(err)
}
