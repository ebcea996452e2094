// Package priority ranks clients and inbound communications for human response.
package priority

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/kursadbilgin/courier/internal/domain"
	"github.com/kursadbilgin/courier/internal/observability"
	"go.uber.org/zap"
)

const (
	// NeutralScore is returned whenever a client's signals cannot be read.
	NeutralScore = 0.5

	DefaultChannelStability = 0.98

	recencyWeight    = 0.30
	volumeWeight     = 0.20
	assetCountWeight = 0.20
	assetValueWeight = 0.15
	importanceWeight = 0.15

	recencyDecayPerDay  = 0.05
	volumeSaturation    = 20.0
	assetCountSaturate  = 5.0
	assetValueSaturate  = 10000.0
	importanceSaturates = 10.0
)

// SignalSource reads the per-client projection the scorer works from.
type SignalSource interface {
	QueryClientSignals(ctx context.Context, clientID string) (*domain.ClientSignals, error)
}

// Scorer computes a client's base priority. The result is multiplied by a
// small random jitter so that clients with equal signals do not always come
// out in the same order; tests pin the jitter through WithJitter.
type Scorer struct {
	signals SignalSource
	jitter  func() float64
	now     func() time.Time
	logger  *zap.Logger
	metrics *observability.Metrics
}

type ScorerOption func(*Scorer)

// WithJitter replaces the random multiplier. A function returning 1.0 makes scoring deterministic.
func WithJitter(jitter func() float64) ScorerOption {
	return func(s *Scorer) {
		if jitter != nil {
			s.jitter = jitter
		}
	}
}

func WithNow(now func() time.Time) ScorerOption {
	return func(s *Scorer) {
		if now != nil {
			s.now = now
		}
	}
}

func WithMetrics(metrics *observability.Metrics) ScorerOption {
	return func(s *Scorer) {
		s.metrics = metrics
	}
}

func NewScorer(signals SignalSource, logger *zap.Logger, opts ...ScorerOption) *Scorer {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Scorer{
		signals: signals,
		jitter:  UniformJitter(DefaultChannelStability),
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UniformJitter draws from [0.9, 1.1] and scales by stability.
func UniformJitter(stability float64) func() float64 {
	return func() float64 {
		return (0.9 + 0.2*rand.Float64()) * stability
	}
}

// Score looks up the client's signals and scores them. It never fails:
// any lookup error yields NeutralScore.
func (s *Scorer) Score(ctx context.Context, clientID string, urgency float64) float64 {
	if s.signals == nil {
		return s.fallback(clientID, errors.New("no signal source configured"))
	}

	signals, err := s.signals.QueryClientSignals(ctx, clientID)
	if err != nil {
		return s.fallback(clientID, err)
	}
	if signals == nil {
		return s.fallback(clientID, domain.ErrNotFound)
	}

	return s.ScoreSignals(*signals, urgency)
}

// ScoreSignals is the pure scoring function over already loaded signals.
func (s *Scorer) ScoreSignals(signals domain.ClientSignals, urgency float64) float64 {
	score := BaseScore(signals, s.now()) * urgency * s.jitter()
	if math.IsNaN(score) || score < 0 {
		return 0
	}
	return score
}

func (s *Scorer) fallback(clientID string, err error) float64 {
	s.logger.Warn("client signals unavailable, using neutral score",
		zap.String("clientId", clientID),
		zap.Error(err),
	)
	s.metrics.IncScoreFallback()
	return NeutralScore
}

// BaseScore is the weighted signal sum before urgency and jitter, in [0, 1].
func BaseScore(signals domain.ClientSignals, now time.Time) float64 {
	recency := 1.0
	if signals.LastInboundAt != nil {
		days := math.Floor(now.Sub(*signals.LastInboundAt).Hours() / 24)
		if days < 0 {
			days = 0
		}
		recency = math.Exp(-recencyDecayPerDay * days)
	}

	return recencyWeight*recency +
		volumeWeight*saturate(float64(signals.CommunicationCount), volumeSaturation) +
		assetCountWeight*saturate(float64(signals.DeviceCount), assetCountSaturate) +
		assetValueWeight*saturate(signals.AverageDeviceValue, assetValueSaturate) +
		importanceWeight*saturate(signals.ImportanceRating, importanceSaturates)
}

func saturate(value, ceiling float64) float64 {
	if value <= 0 {
		return 0
	}
	return math.Min(1, value/ceiling)
}
