package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kursadbilgin/courier/internal/domain"
	"github.com/kursadbilgin/courier/internal/observability"
	"github.com/kursadbilgin/courier/internal/priority"
	"github.com/kursadbilgin/courier/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultInboxLimit = 20
	maxInboxLimit     = 100
)

// PrioritizedCommunication is an inbound record annotated for triage.
type PrioritizedCommunication struct {
	domain.Communication
	SuggestedResponseAt time.Time
	Suggestions         []string
}

// RankedClient pairs a client with its current priority score.
type RankedClient struct {
	Client domain.Client
	Score  float64
}

// InboxService ranks unhandled inbound communications and manages their status.
type InboxService struct {
	store        repository.CommunicationStore
	scorer       *priority.Scorer
	planner      *priority.ResponsePlanner
	logger       *zap.Logger
	metrics      *observability.Metrics
	defaultLimit int
	now          func() time.Time
}

func NewInboxService(
	store repository.CommunicationStore,
	scorer *priority.Scorer,
	planner *priority.ResponsePlanner,
	logger *zap.Logger,
) (*InboxService, error) {
	if store == nil {
		return nil, fmt.Errorf("communication store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if scorer == nil {
		scorer = priority.NewScorer(store, logger)
	}
	if planner == nil {
		planner = priority.NewResponsePlanner(store, time.Local, logger)
	}

	return &InboxService{
		store:        store,
		scorer:       scorer,
		planner:      planner,
		logger:       logger,
		defaultLimit: defaultInboxLimit,
		now:          time.Now,
	}, nil
}

func (s *InboxService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// SetDefaultLimit changes the page size used when callers pass a non-positive limit.
func (s *InboxService) SetDefaultLimit(limit int) {
	if limit > 0 {
		s.defaultLimit = min(limit, maxInboxLimit)
	}
}

// PrioritizeInbox scores up to limit NEW inbound communications and returns them
// highest score first. Equal scores keep the store's newest-first order. When the
// store is unreachable the result is empty and the error wraps ErrStoreUnavailable.
func (s *InboxService) PrioritizeInbox(ctx context.Context, limit int) ([]PrioritizedCommunication, error) {
	limit = s.clampLimit(limit)

	status := domain.StatusNew
	communications, err := s.store.QueryInbound(ctx, repository.InboundFilter{Status: &status}, limit)
	if err != nil {
		s.logger.Error("inbox query failed, returning empty inbox", zap.Error(err))
		s.metrics.IncInboxDegraded()
		return []PrioritizedCommunication{}, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}

	items := make([]PrioritizedCommunication, 0, len(communications))
	for i := range communications {
		c := communications[i]
		c.PriorityScore = s.scorer.Score(ctx, c.ClientID, priority.UrgencyMultiplier(&c))
		s.metrics.ObservePriorityScore(strings.ToLower(c.Channel.String()), c.PriorityScore)
		items = append(items, PrioritizedCommunication{Communication: c})
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].PriorityScore > items[j].PriorityScore
	})

	for i := range items {
		items[i].SuggestedResponseAt = s.planner.SuggestResponseTime(ctx, items[i].ClientID, items[i].Channel)
		items[i].Suggestions = priority.Suggestions(items[i].Classification)
	}

	return items, nil
}

// UpdateStatus moves a communication along new -> read -> replied -> archived.
// It reports whether the stored status changed; re-applying the current status
// is a no-op and moving backwards fails with ErrInvalidTransition.
func (s *InboxService) UpdateStatus(ctx context.Context, id string, next domain.Status) (bool, error) {
	if strings.TrimSpace(id) == "" {
		return false, fmt.Errorf("%w: communication id is required", domain.ErrValidation)
	}
	if !next.IsValid() {
		return false, fmt.Errorf("%w: invalid status %q", domain.ErrValidation, next)
	}

	changed, err := s.store.UpdateStatus(ctx, id, next)
	if err != nil {
		return false, err
	}
	if changed {
		s.logger.Info("communication status updated",
			zap.String("communicationId", id),
			zap.String("status", next.String()),
		)
	}
	return changed, nil
}

// RecordInbound stores a received communication as NEW.
func (s *InboxService) RecordInbound(ctx context.Context, c *domain.Communication) (*domain.Communication, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: communication is required", domain.ErrValidation)
	}
	if c.Direction == "" {
		c.Direction = domain.DirectionInbound
	}
	if c.Direction != domain.DirectionInbound {
		return nil, fmt.Errorf("%w: direction must be %s", domain.ErrValidation, domain.DirectionInbound)
	}
	if c.OccurredAt.IsZero() {
		c.OccurredAt = s.now().UTC()
	}
	c.Status = domain.StatusNew
	c.PriorityScore = 0

	if err := c.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to save inbound communication: %w", err)
	}

	s.logger.Info("inbound communication recorded",
		zap.String("communicationId", c.ID),
		zap.String("clientId", c.ClientID),
		zap.String("channel", c.Channel.String()),
	)
	return c, nil
}

// Annotate records the category, classification or sentiment of a communication
// after it was stored. The next prioritization pass picks up the new multipliers.
func (s *InboxService) Annotate(ctx context.Context, id string, annotations domain.Annotations) (*domain.Communication, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: communication id is required", domain.ErrValidation)
	}
	if err := annotations.Validate(); err != nil {
		return nil, err
	}

	updated, err := s.store.UpdateAnnotations(ctx, id, annotations)
	if err != nil {
		return nil, err
	}

	fields := []zap.Field{zap.String("communicationId", id)}
	if updated.Classification != nil {
		fields = append(fields, zap.String("classification", updated.Classification.String()))
	}
	if updated.Sentiment != nil {
		fields = append(fields, zap.Float64("sentiment", *updated.Sentiment))
	}
	s.logger.Info("communication annotated", fields...)
	return updated, nil
}

// ClientHistory lists a client's communications in both directions, newest first.
func (s *InboxService) ClientHistory(
	ctx context.Context,
	clientID string,
	channel *domain.Channel,
	limit, offset int,
) ([]domain.Communication, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return nil, fmt.Errorf("%w: client id is required", domain.ErrValidation)
	}
	if offset < 0 {
		return nil, fmt.Errorf("%w: offset must not be negative", domain.ErrValidation)
	}

	history, err := s.store.QueryClientHistory(ctx, clientID, channel, s.clampLimit(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return history, nil
}

// RankClients scores the most recently registered clients without any urgency
// adjustment and returns them highest score first.
func (s *InboxService) RankClients(ctx context.Context, limit int) ([]RankedClient, error) {
	limit = s.clampLimit(limit)

	clients, err := s.store.ListRecentClients(ctx, limit)
	if err != nil {
		s.metrics.IncInboxDegraded()
		return []RankedClient{}, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}

	ranked := make([]RankedClient, 0, len(clients))
	for _, client := range clients {
		ranked = append(ranked, RankedClient{
			Client: client,
			Score:  s.scorer.Score(ctx, client.ID, 1.0),
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	return ranked, nil
}

func (s *InboxService) clampLimit(limit int) int {
	if limit <= 0 {
		return s.defaultLimit
	}
	return min(limit, maxInboxLimit)
}
