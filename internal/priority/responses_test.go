package priority

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/courier/internal/domain"
)

type fakeHistory struct {
	timestamps []time.Time
	err        error
	calls      int
	lastLimit  int
}

func (f *fakeHistory) InboundTimestamps(_ context.Context, _ string, limit int) ([]time.Time, error) {
	f.calls++
	f.lastLimit = limit
	return f.timestamps, f.err
}

func at(hour, minute int) time.Time {
	return time.Date(2024, 6, 10, hour, minute, 30, 500, time.UTC)
}

func TestPreferredHour(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		timestamps []time.Time
		wantHour   int
		wantOK     bool
	}{
		{name: "no history", timestamps: nil, wantOK: false},
		{name: "single", timestamps: []time.Time{at(9, 10)}, wantHour: 9, wantOK: true},
		{name: "mode wins", timestamps: []time.Time{at(14, 0), at(10, 5), at(10, 40), at(9, 0)}, wantHour: 10, wantOK: true},
		{name: "tie goes to most recent", timestamps: []time.Time{at(11, 0), at(8, 0), at(8, 30), at(11, 15)}, wantHour: 11, wantOK: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			hour, ok := PreferredHour(tt.timestamps, time.UTC)
			if ok != tt.wantOK || hour != tt.wantHour {
				t.Fatalf("PreferredHour() = (%d, %v), want (%d, %v)", hour, ok, tt.wantHour, tt.wantOK)
			}
		})
	}
}

func TestPreferredHourOnlyUsesRecentWindow(t *testing.T) {
	t.Parallel()

	timestamps := make([]time.Time, 0, HistoryWindow+10)
	for i := 0; i < HistoryWindow; i++ {
		hour := 9
		if i%2 == 0 {
			hour = 16
		}
		timestamps = append(timestamps, at(hour, 0))
	}
	// Older records beyond the window would otherwise tip the mode to 9.
	for i := 0; i < 10; i++ {
		timestamps = append(timestamps, at(9, 0))
	}

	hour, ok := PreferredHour(timestamps, time.UTC)
	if !ok || hour != 16 {
		t.Fatalf("PreferredHour() = (%d, %v), want (16, true)", hour, ok)
	}
}

func TestPreferredHourUsesLocation(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("UTC+2", 2*60*60)
	hour, ok := PreferredHour([]time.Time{at(8, 0)}, loc)
	if !ok || hour != 10 {
		t.Fatalf("PreferredHour() = (%d, %v), want (10, true)", hour, ok)
	}
}

func TestSuggestResponseTime(t *testing.T) {
	t.Parallel()

	morning := time.Date(2024, 6, 10, 9, 30, 0, 0, time.UTC)
	afternoon := time.Date(2024, 6, 10, 13, 45, 0, 0, time.UTC)
	evening := time.Date(2024, 6, 10, 16, 20, 0, 0, time.UTC)

	tests := []struct {
		name       string
		now        time.Time
		channel    domain.Channel
		hour       int
		hasHistory bool
		want       time.Time
	}{
		{name: "phone", now: morning, channel: domain.ChannelPhone, hour: 11, hasHistory: true, want: morning.Add(time.Hour)},
		{name: "sms", now: morning, channel: domain.ChannelSMS, want: morning.Add(2 * time.Hour)},
		{name: "email without history", now: morning, channel: domain.ChannelEmail, want: morning.Add(2 * time.Hour)},
		{name: "email later today", now: morning, channel: domain.ChannelEmail, hour: 11, hasHistory: true, want: time.Date(2024, 6, 10, 11, 0, 0, 0, time.UTC)},
		{name: "email preferred hour already passed", now: afternoon, channel: domain.ChannelEmail, hour: 10, hasHistory: true, want: afternoon.Add(3 * time.Hour)},
		{name: "email preferred hour is current hour but passed", now: afternoon, channel: domain.ChannelEmail, hour: 13, hasHistory: true, want: afternoon.Add(3 * time.Hour)},
		{name: "email after cutoff goes to tomorrow", now: evening, channel: domain.ChannelEmail, hour: 9, hasHistory: true, want: time.Date(2024, 6, 11, 9, 0, 0, 0, time.UTC)},
		{name: "voice follows email rules", now: evening, channel: domain.ChannelVoice, hour: 8, hasHistory: true, want: time.Date(2024, 6, 11, 8, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := SuggestResponseTime(tt.now, tt.channel, tt.hour, tt.hasHistory)
			if !got.Equal(tt.want) {
				t.Fatalf("SuggestResponseTime() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestResponsePlannerSkipsHistoryForPhoneAndSMS(t *testing.T) {
	t.Parallel()

	history := &fakeHistory{timestamps: []time.Time{at(11, 0)}}
	planner := NewResponsePlanner(history, time.UTC, nil)
	now := at(9, 0)
	planner.SetNow(func() time.Time { return now })

	if got := planner.SuggestResponseTime(context.Background(), "c1", domain.ChannelPhone); !got.Equal(now.Add(time.Hour)) {
		t.Fatalf("phone response = %s, want %s", got, now.Add(time.Hour))
	}
	if got := planner.SuggestResponseTime(context.Background(), "c1", domain.ChannelSMS); !got.Equal(now.Add(2 * time.Hour)) {
		t.Fatalf("sms response = %s, want %s", got, now.Add(2*time.Hour))
	}
	if history.calls != 0 {
		t.Fatalf("history calls = %d, want 0", history.calls)
	}

	got := planner.SuggestResponseTime(context.Background(), "c1", domain.ChannelEmail)
	want := time.Date(2024, 6, 10, 11, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("email response = %s, want %s", got, want)
	}
	if history.lastLimit != HistoryWindow {
		t.Fatalf("history limit = %d, want %d", history.lastLimit, HistoryWindow)
	}
}

func TestResponsePlannerHistoryErrorFallsBack(t *testing.T) {
	t.Parallel()

	planner := NewResponsePlanner(&fakeHistory{err: errors.New("timeout")}, time.UTC, nil)
	now := at(9, 0)
	planner.SetNow(func() time.Time { return now })

	got := planner.SuggestResponseTime(context.Background(), "c1", domain.ChannelEmail)
	if !got.Equal(now.Add(2 * time.Hour)) {
		t.Fatalf("response = %s, want %s", got, now.Add(2*time.Hour))
	}
}

func TestSuggestions(t *testing.T) {
	t.Parallel()

	c := func(v domain.Classification) *domain.Classification { return &v }

	for _, classification := range []*domain.Classification{
		nil,
		c(domain.ClassificationComplaint),
		c(domain.ClassificationInquiry),
		c(domain.ClassificationThanks),
		c(domain.ClassificationOrder),
	} {
		got := Suggestions(classification)
		if len(got) != 3 {
			t.Fatalf("Suggestions(%v) len = %d, want 3", classification, len(got))
		}
	}

	complaint := Suggestions(c(domain.ClassificationComplaint))
	if complaint[0] == Suggestions(nil)[0] {
		t.Fatal("complaint suggestions must differ from the default set")
	}

	complaint[0] = "mutated"
	if Suggestions(c(domain.ClassificationComplaint))[0] == "mutated" {
		t.Fatal("Suggestions must return a copy")
	}
}
