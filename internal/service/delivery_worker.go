package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/courier/internal/domain"
	"github.com/kursadbilgin/courier/internal/observability"
	"github.com/kursadbilgin/courier/internal/provider"
	"github.com/kursadbilgin/courier/internal/queue"
	"github.com/kursadbilgin/courier/internal/ratelimit"
	"github.com/kursadbilgin/courier/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	minWorkerConcurrency    = 1
	defaultPollInterval     = 60 * time.Second
	defaultTransportTimeout = 30 * time.Second

	failureReasonPermanent = "permanent_error"
	failureReasonExhausted = "retry_exhausted"
)

// DeliveryWorkerConfig holds the worker's timing and fan-out settings.
type DeliveryWorkerConfig struct {
	PollInterval     time.Duration
	TransportTimeout time.Duration
	Concurrency      int
}

// DeliveryWorker drains the retry queue and hands ready attempts to the transport.
// An attempt is owned by exactly one goroutine between DequeueReady and the
// outcome, so concurrent workers never send the same attempt twice.
type DeliveryWorker struct {
	queue            *queue.RetryQueue
	transport        provider.Transport
	rateLimiter      ratelimit.RateLimiter
	deliveryLog      repository.DeliveryLogRepository
	communications   repository.CommunicationStore
	deadLetters      queue.Publisher
	logger           *zap.Logger
	metrics          *observability.Metrics
	pollInterval     time.Duration
	transportTimeout time.Duration
	concurrency      int
	now              func() time.Time
}

func NewDeliveryWorker(
	retryQueue *queue.RetryQueue,
	transport provider.Transport,
	rateLimiter ratelimit.RateLimiter,
	cfg DeliveryWorkerConfig,
	logger *zap.Logger,
) (*DeliveryWorker, error) {
	if retryQueue == nil {
		return nil, fmt.Errorf("retry queue is required")
	}
	if transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if rateLimiter == nil {
		rateLimiter = ratelimit.Unlimited{}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.TransportTimeout <= 0 {
		cfg.TransportTimeout = defaultTransportTimeout
	}
	if cfg.Concurrency < minWorkerConcurrency {
		cfg.Concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DeliveryWorker{
		queue:            retryQueue,
		transport:        transport,
		rateLimiter:      rateLimiter,
		logger:           logger,
		pollInterval:     cfg.PollInterval,
		transportTimeout: cfg.TransportTimeout,
		concurrency:      cfg.Concurrency,
		now:              time.Now,
	}, nil
}

func (w *DeliveryWorker) SetMetrics(metrics *observability.Metrics) {
	if w == nil {
		return
	}
	w.metrics = metrics
}

// SetDeliveryLog enables the per-send audit trail.
func (w *DeliveryWorker) SetDeliveryLog(deliveryLog repository.DeliveryLogRepository) {
	w.deliveryLog = deliveryLog
}

// SetCommunicationStore enables recording successful client sends as outbound communications.
func (w *DeliveryWorker) SetCommunicationStore(store repository.CommunicationStore) {
	w.communications = store
}

// SetDeadLetterPublisher enables publishing terminal failures to the channel dead-letter queue.
func (w *DeliveryWorker) SetDeadLetterPublisher(publisher queue.Publisher) {
	w.deadLetters = publisher
}

// Run processes attempts until ctx is cancelled.
func (w *DeliveryWorker) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			w.logger.Info("worker started", zap.Int("workerId", workerID))
			w.loop(groupCtx)
			w.logger.Info("worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

func (w *DeliveryWorker) loop(ctx context.Context) {
	for ctx.Err() == nil {
		attempt, wait := w.queue.DequeueReady()
		if attempt == nil {
			w.metrics.SetQueueDepth(w.queue.Len())
			if !w.idle(ctx, wait) {
				return
			}
			continue
		}

		w.process(ctx, attempt)
		w.metrics.SetQueueDepth(w.queue.Len())
	}
}

// idle suspends until the next attempt may be eligible, an enqueue wakes the
// worker, or ctx is done. It reports false on shutdown.
func (w *DeliveryWorker) idle(ctx context.Context, untilNext time.Duration) bool {
	wait := w.pollInterval
	if untilNext > 0 && untilNext < wait {
		wait = untilNext
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-w.queue.Wake():
		return true
	case <-timer.C:
		return true
	}
}

func (w *DeliveryWorker) process(ctx context.Context, attempt *domain.DeliveryAttempt) {
	channelName := strings.ToLower(attempt.Channel.String())
	w.metrics.IncWorkerInFlight(channelName)
	defer w.metrics.DecWorkerInFlight(channelName)

	if err := w.rateLimiter.Wait(ctx, attempt.Channel); err != nil {
		if ctx.Err() != nil {
			w.queue.Restore(attempt)
			return
		}
		w.logger.Warn("rate limiter unavailable, sending without limit",
			zap.String("deliveryId", attempt.ID),
			zap.String("channel", channelName),
			zap.Error(err),
		)
	}

	sendNumber := attempt.RetryCount + 1
	sendStart := w.now()
	receipt, sendErr := w.send(ctx, attempt)
	finishedAt := w.now()
	w.metrics.ObserveSendDuration(channelName, finishedAt.Sub(sendStart))

	// Audit writes outlive shutdown so the outcome of a finished send is never lost.
	recordCtx := context.WithoutCancel(ctx)

	if sendErr == nil {
		w.handleSent(recordCtx, attempt, sendNumber, receipt, finishedAt)
		return
	}

	if ctx.Err() != nil && errors.Is(sendErr, context.Canceled) {
		w.logger.Info("send interrupted by shutdown, attempt restored",
			zap.String("deliveryId", attempt.ID),
		)
		w.queue.Restore(attempt)
		return
	}

	attempt.LastError = sendErr.Error()

	if provider.IsPermanent(sendErr) {
		w.handleTerminal(recordCtx, attempt, sendNumber, failureReasonPermanent, sendErr, finishedAt)
		return
	}

	// Once requeued the attempt belongs to the queue again; only the snapshot is read below.
	snapshot := attempt.Clone()
	result := w.queue.Requeue(attempt, finishedAt)
	if result.Terminal {
		snapshot.RetryCount = result.RetryCount
		w.handleTerminal(recordCtx, snapshot, sendNumber, failureReasonExhausted, sendErr, finishedAt)
		return
	}

	w.logger.Warn("delivery failed, retry scheduled",
		zap.String("deliveryId", snapshot.ID),
		zap.String("channel", channelName),
		zap.Int("retryCount", result.RetryCount),
		zap.Time("nextRetryAt", result.NextRetryAt),
		zap.Error(sendErr),
	)
	w.metrics.IncRetryScheduled(channelName)

	nextRetryAt := result.NextRetryAt
	w.recordEvent(recordCtx, snapshot, sendNumber, domain.OutcomeRetrying, nil, sendErr, &nextRetryAt, finishedAt)
}

type sendResult struct {
	receipt *provider.Receipt
	err     error
}

// send invokes the transport under the configured timeout and stops waiting
// at the deadline even if the transport ignores its context. A result that
// arrives after the deadline counts as a timeout. A panicking transport is
// reported as a permanent failure.
func (w *DeliveryWorker) send(ctx context.Context, attempt *domain.DeliveryAttempt) (*provider.Receipt, error) {
	sendCtx, cancel := context.WithTimeout(ctx, w.transportTimeout)
	defer cancel()

	done := make(chan sendResult, 1)
	snapshot := *attempt.Clone()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- sendResult{err: provider.Permanent(fmt.Sprintf("transport panicked: %v", r), nil)}
			}
		}()
		receipt, err := w.transport.Deliver(sendCtx, snapshot)
		done <- sendResult{receipt: receipt, err: err}
	}()

	select {
	case res := <-done:
		if res.err == nil && errors.Is(sendCtx.Err(), context.DeadlineExceeded) {
			return nil, transportTimeoutError()
		}
		return res.receipt, res.err
	case <-sendCtx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, transportTimeoutError()
	}
}

func transportTimeoutError() error {
	return &provider.ProviderError{
		Message:   "transport timed out",
		Transient: true,
		Cause:     context.DeadlineExceeded,
	}
}

func (w *DeliveryWorker) handleSent(
	ctx context.Context,
	attempt *domain.DeliveryAttempt,
	sendNumber int,
	receipt *provider.Receipt,
	sentAt time.Time,
) {
	channelName := strings.ToLower(attempt.Channel.String())

	var messageID *string
	if receipt != nil && strings.TrimSpace(receipt.MessageID) != "" {
		value := receipt.MessageID
		messageID = &value
	}

	w.logger.Info("delivery sent",
		zap.String("deliveryId", attempt.ID),
		zap.String("channel", channelName),
		zap.Int("sendNumber", sendNumber),
	)
	w.metrics.IncDeliverySent(channelName)
	w.recordEvent(ctx, attempt, sendNumber, domain.OutcomeSent, messageID, nil, nil, sentAt)

	if w.communications == nil || attempt.ClientID == nil || *attempt.ClientID == "" {
		return
	}

	body := attempt.TextBody
	if strings.TrimSpace(body) == "" {
		body = attempt.HTMLBody
	}
	var category *string
	if attempt.Subject != "" {
		subject := attempt.Subject
		category = &subject
	}

	outbound := &domain.Communication{
		ClientID:    *attempt.ClientID,
		Channel:     attempt.Channel,
		Direction:   domain.DirectionOutbound,
		OccurredAt:  sentAt.UTC(),
		Body:        body,
		Category:    category,
		Status:      domain.StatusNew,
		Attachments: domain.AttachmentMetadata(attempt.Attachments),
	}
	if err := w.communications.Save(ctx, outbound); err != nil {
		w.logger.Error("failed to record outbound communication",
			zap.String("deliveryId", attempt.ID),
			zap.String("clientId", *attempt.ClientID),
			zap.Error(err),
		)
	}
}

func (w *DeliveryWorker) handleTerminal(
	ctx context.Context,
	attempt *domain.DeliveryAttempt,
	sendNumber int,
	reason string,
	sendErr error,
	failedAt time.Time,
) {
	channelName := strings.ToLower(attempt.Channel.String())

	w.logger.Error("delivery failed permanently",
		zap.String("deliveryId", attempt.ID),
		zap.String("correlationId", attempt.CorrelationID),
		zap.String("channel", channelName),
		zap.Strings("recipients", attempt.Recipients()),
		zap.Int("retryCount", attempt.RetryCount),
		zap.String("reason", reason),
		zap.Error(sendErr),
	)
	w.metrics.IncDeliveryFailed(channelName, reason)
	w.recordEvent(ctx, attempt, sendNumber, domain.OutcomeFailed, nil, sendErr, nil, failedAt)

	if w.deadLetters == nil {
		return
	}

	queueName := queue.DLQName(attempt.Channel)
	msg := queue.NewDeadLetterMessage(attempt, fmt.Sprintf("%s: %v", reason, sendErr), failedAt)
	if err := w.deadLetters.Publish(ctx, queueName, msg); err != nil {
		w.logger.Error("failed to publish dead letter",
			zap.String("deliveryId", attempt.ID),
			zap.String("queue", queueName),
			zap.Error(err),
		)
	}
}

func (w *DeliveryWorker) recordEvent(
	ctx context.Context,
	attempt *domain.DeliveryAttempt,
	sendNumber int,
	outcome domain.DeliveryOutcome,
	messageID *string,
	sendErr error,
	nextRetryAt *time.Time,
	at time.Time,
) {
	if w.deliveryLog == nil {
		return
	}

	var eventErr *string
	if sendErr != nil {
		value := sendErr.Error()
		eventErr = &value
	}

	event := &domain.DeliveryEvent{
		ID:          uuid.NewString(),
		DeliveryID:  attempt.ID,
		Channel:     attempt.Channel,
		Recipients:  attempt.Recipients(),
		SendNumber:  sendNumber,
		Outcome:     outcome,
		MessageID:   messageID,
		Error:       eventErr,
		NextRetryAt: nextRetryAt,
		CreatedAt:   at.UTC(),
	}
	if err := w.deliveryLog.Record(ctx, event); err != nil {
		w.logger.Error("failed to record delivery event",
			zap.String("deliveryId", attempt.ID),
			zap.String("outcome", outcome.String()),
			zap.Error(err),
		)
	}
}
