package priority

import (
	"context"
	"time"

	"github.com/kursadbilgin/courier/internal/domain"
	"go.uber.org/zap"
)

const (
	// HistoryWindow is how many recent inbound records feed the preferred contact hour.
	HistoryWindow = 20

	sameDayCutoffHour = 15
)

// HistorySource returns a client's inbound timestamps, newest first.
type HistorySource interface {
	InboundTimestamps(ctx context.Context, clientID string, limit int) ([]time.Time, error)
}

// ResponsePlanner suggests when a communication should be answered.
type ResponsePlanner struct {
	history  HistorySource
	location *time.Location
	now      func() time.Time
	logger   *zap.Logger
}

func NewResponsePlanner(history HistorySource, location *time.Location, logger *zap.Logger) *ResponsePlanner {
	if location == nil {
		location = time.Local
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ResponsePlanner{
		history:  history,
		location: location,
		now:      time.Now,
		logger:   logger,
	}
}

// SetNow overrides the planner clock.
func (p *ResponsePlanner) SetNow(now func() time.Time) {
	if now != nil {
		p.now = now
	}
}

// SuggestResponseTime returns the target reply time for a communication on channel.
// History lookups only happen for email-like channels; a failed lookup is
// treated as absent history.
func (p *ResponsePlanner) SuggestResponseTime(ctx context.Context, clientID string, channel domain.Channel) time.Time {
	now := p.now().In(p.location)

	if channel == domain.ChannelPhone || channel == domain.ChannelSMS || p.history == nil {
		return SuggestResponseTime(now, channel, 0, false)
	}

	timestamps, err := p.history.InboundTimestamps(ctx, clientID, HistoryWindow)
	if err != nil {
		p.logger.Warn("inbound history unavailable, using default response time",
			zap.String("clientId", clientID),
			zap.Error(err),
		)
		return SuggestResponseTime(now, channel, 0, false)
	}

	hour, ok := PreferredHour(timestamps, p.location)
	return SuggestResponseTime(now, channel, hour, ok)
}

// PreferredHour returns the most frequent hour of day among timestamps in loc.
// Ties go to the hour seen first, so with newest-first input the most recent wins.
func PreferredHour(timestamps []time.Time, loc *time.Location) (int, bool) {
	if len(timestamps) == 0 {
		return 0, false
	}
	if loc == nil {
		loc = time.Local
	}
	if len(timestamps) > HistoryWindow {
		timestamps = timestamps[:HistoryWindow]
	}

	var counts [24]int
	order := make([]int, 0, 24)
	for _, ts := range timestamps {
		hour := ts.In(loc).Hour()
		if counts[hour] == 0 {
			order = append(order, hour)
		}
		counts[hour]++
	}

	best := order[0]
	for _, hour := range order[1:] {
		if counts[hour] > counts[best] {
			best = hour
		}
	}
	return best, true
}

// SuggestResponseTime applies the response window rules to a given moment.
//
//	PHONE: now+1h. SMS: now+2h.
//	Other channels without history: now+2h.
//	Before 15:00: today at the preferred hour, or now+3h once that hour has passed.
//	From 15:00: tomorrow at the preferred hour.
func SuggestResponseTime(now time.Time, channel domain.Channel, preferredHour int, hasHistory bool) time.Time {
	switch channel {
	case domain.ChannelPhone:
		return now.Add(time.Hour)
	case domain.ChannelSMS:
		return now.Add(2 * time.Hour)
	}

	if !hasHistory {
		return now.Add(2 * time.Hour)
	}

	year, month, day := now.Date()
	if now.Hour() < sameDayCutoffHour {
		target := time.Date(year, month, day, preferredHour, 0, 0, 0, now.Location())
		if target.Before(now) {
			return now.Add(3 * time.Hour)
		}
		return target
	}

	return time.Date(year, month, day+1, preferredHour, 0, 0, 0, now.Location())
}
