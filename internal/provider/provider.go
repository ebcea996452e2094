package provider

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/courier/internal/domain"
)

// Transport is the outbound delivery port. Ordinary network failures are
// returned as errors; they must never panic.
type Transport interface {
	Deliver(ctx context.Context, attempt domain.DeliveryAttempt) (*Receipt, error)
}

// Receipt stores transport call metadata for audit and persistence.
type Receipt struct {
	StatusCode int
	Body       string
	MessageID  string
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, attempt domain.DeliveryAttempt) (*Receipt, error)

func (f TransportFunc) Deliver(ctx context.Context, attempt domain.DeliveryAttempt) (*Receipt, error) {
	return f(ctx, attempt)
}

// Router dispatches attempts to the transport registered for their channel.
type Router struct {
	transports map[domain.Channel]Transport
}

func NewRouter() *Router {
	return &Router{transports: make(map[domain.Channel]Transport)}
}

// Register binds transport to channel, replacing any previous binding.
func (r *Router) Register(channel domain.Channel, transport Transport) *Router {
	if transport != nil {
		r.transports[channel] = transport
	}
	return r
}

func (r *Router) Channels() []domain.Channel {
	channels := make([]domain.Channel, 0, len(r.transports))
	for channel := range r.transports {
		channels = append(channels, channel)
	}
	return channels
}

func (r *Router) Deliver(ctx context.Context, attempt domain.DeliveryAttempt) (*Receipt, error) {
	transport, ok := r.transports[attempt.Channel]
	if !ok {
		return nil, &ProviderError{
			Message:   fmt.Sprintf("no transport registered for channel %s", attempt.Channel),
			Transient: false,
		}
	}
	return transport.Deliver(ctx, attempt)
}
