package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/kursadbilgin/courier/internal/domain"
	"github.com/kursadbilgin/courier/internal/observability"
	"github.com/kursadbilgin/courier/internal/queue"
	"github.com/kursadbilgin/courier/internal/repository"
	"go.uber.org/zap"
)

// TemplateRequest asks for a templated email to be queued.
type TemplateRequest struct {
	Template string
	ClientID *string
	To       []string
	Cc       []string
	ReplyTo  string
	Priority int
	Data     map[string]string
	Document []byte
}

// OutboxService validates outbound requests and admits them to the retry queue.
type OutboxService struct {
	queue       *queue.RetryQueue
	deliveryLog repository.DeliveryLogRepository
	logger      *zap.Logger
	now         func() time.Time
}

func NewOutboxService(
	retryQueue *queue.RetryQueue,
	deliveryLog repository.DeliveryLogRepository,
	logger *zap.Logger,
) (*OutboxService, error) {
	if retryQueue == nil {
		return nil, fmt.Errorf("retry queue is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &OutboxService{
		queue:       retryQueue,
		deliveryLog: deliveryLog,
		logger:      logger,
		now:         time.Now,
	}, nil
}

// Send builds an attempt from req and queues it for immediate delivery.
// The returned attempt is a snapshot; the queue owns the original.
func (s *OutboxService) Send(ctx context.Context, req domain.DeliveryRequest) (*domain.DeliveryAttempt, error) {
	if req.CorrelationID == "" {
		req.CorrelationID, _ = observability.CorrelationIDFromContext(ctx)
	}

	attempt, err := domain.NewDeliveryAttempt(req, s.now().UTC())
	if err != nil {
		return nil, err
	}
	snapshot := attempt.Clone()

	if err := s.queue.Enqueue(attempt); err != nil {
		return nil, fmt.Errorf("failed to enqueue delivery: %w", err)
	}

	observability.WithContextLogger(s.logger, ctx).Info("delivery queued",
		zap.String("deliveryId", snapshot.ID),
		zap.String("channel", snapshot.Channel.String()),
		zap.Int("recipients", len(snapshot.Recipients())),
		zap.Int("priority", snapshot.Priority),
	)

	return snapshot, nil
}

// SendTemplate renders a named email template and queues the result.
func (s *OutboxService) SendTemplate(ctx context.Context, req TemplateRequest) (*domain.DeliveryAttempt, error) {
	data := make(map[string]string, len(req.Data)+1)
	for k, v := range req.Data {
		data[k] = v
	}
	if _, ok := data["Year"]; !ok {
		data["Year"] = strconv.Itoa(s.now().Year())
	}

	rendered, err := RenderTemplate(req.Template, data, req.Document)
	if err != nil {
		return nil, err
	}

	deliveryReq := domain.DeliveryRequest{
		ClientID: req.ClientID,
		Channel:  domain.ChannelEmail,
		To:       req.To,
		Cc:       req.Cc,
		Subject:  rendered.Subject,
		TextBody: rendered.TextBody,
		HTMLBody: rendered.HTMLBody,
		ReplyTo:  req.ReplyTo,
		Priority: req.Priority,
	}
	if rendered.Attachment != nil {
		deliveryReq.Attachments = []domain.Attachment{*rendered.Attachment}
	}

	return s.Send(ctx, deliveryReq)
}

// HandleIntake admits a delivery received from the broker intake queues.
func (s *OutboxService) HandleIntake(ctx context.Context, msg queue.DeliveryMessage) error {
	attempt, err := s.Send(ctx, msg.Request())
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			s.logger.Warn("rejecting invalid intake delivery",
				zap.String("correlationId", msg.CorrelationID),
				zap.Error(err),
			)
		}
		return err
	}

	s.logger.Debug("intake delivery accepted",
		zap.String("correlationId", msg.CorrelationID),
		zap.String("deliveryId", attempt.ID),
	)
	return nil
}

// DeliveryHistory returns the recorded sends of a delivery, oldest first. A
// delivery still waiting for its first send has no events and yields an empty
// history; an id that is neither logged nor queued is ErrNotFound.
func (s *OutboxService) DeliveryHistory(ctx context.Context, deliveryID string) ([]domain.DeliveryEvent, error) {
	var events []domain.DeliveryEvent
	if s.deliveryLog != nil {
		var err error
		events, err = s.deliveryLog.ListByDeliveryID(ctx, deliveryID)
		if err != nil {
			return nil, fmt.Errorf("failed to load delivery history: %w", err)
		}
	}
	if len(events) > 0 {
		return events, nil
	}

	if _, ok := s.queue.Pending(deliveryID); ok {
		return []domain.DeliveryEvent{}, nil
	}
	return nil, fmt.Errorf("%w: delivery %s", domain.ErrNotFound, deliveryID)
}

// Pending reports how many attempts are waiting in the retry queue.
func (s *OutboxService) Pending() int {
	return s.queue.Len()
}
