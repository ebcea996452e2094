package ratelimit

import (
	"context"

	"github.com/kursadbilgin/courier/internal/domain"
)

// RateLimiter controls send throughput per channel.
type RateLimiter interface {
	Allow(ctx context.Context, channel domain.Channel) (bool, error)
	Wait(ctx context.Context, channel domain.Channel) error
}

// Unlimited admits every send. It stands in when no shared limiter is configured.
type Unlimited struct{}

func (Unlimited) Allow(context.Context, domain.Channel) (bool, error) { return true, nil }

func (Unlimited) Wait(ctx context.Context, _ domain.Channel) error { return ctx.Err() }
