package service

import (
	"context"
	"sync"
	"time"

	"github.com/kursadbilgin/courier/internal/domain"
	"github.com/kursadbilgin/courier/internal/provider"
	"github.com/kursadbilgin/courier/internal/queue"
	"github.com/kursadbilgin/courier/internal/repository"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type fakeTransport struct {
	deliverFn func(ctx context.Context, attempt domain.DeliveryAttempt) (*provider.Receipt, error)
}

func (f *fakeTransport) Deliver(ctx context.Context, attempt domain.DeliveryAttempt) (*provider.Receipt, error) {
	if f.deliverFn != nil {
		return f.deliverFn(ctx, attempt)
	}
	return &provider.Receipt{StatusCode: 202}, nil
}

type fakeRateLimiter struct {
	allowFn func(ctx context.Context, channel domain.Channel) (bool, error)
	waitFn  func(ctx context.Context, channel domain.Channel) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, channel domain.Channel) (bool, error) {
	if f.allowFn != nil {
		return f.allowFn(ctx, channel)
	}
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, channel domain.Channel) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, channel)
	}
	return nil
}

type fakeDeliveryLog struct {
	mu     sync.Mutex
	events []domain.DeliveryEvent
	listFn func(ctx context.Context, deliveryID string) ([]domain.DeliveryEvent, error)
}

func (f *fakeDeliveryLog) Record(_ context.Context, e *domain.DeliveryEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, *e)
	return nil
}

func (f *fakeDeliveryLog) ListByDeliveryID(ctx context.Context, deliveryID string) ([]domain.DeliveryEvent, error) {
	if f.listFn != nil {
		return f.listFn(ctx, deliveryID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.DeliveryEvent
	for _, e := range f.events {
		if e.DeliveryID == deliveryID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeDeliveryLog) Outcomes() []domain.DeliveryOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	outcomes := make([]domain.DeliveryOutcome, 0, len(f.events))
	for _, e := range f.events {
		outcomes = append(outcomes, e.Outcome)
	}
	return outcomes
}

type publishedMessage struct {
	queue string
	msg   queue.DeadLetterMessage
}

type fakePublisher struct {
	mu        sync.Mutex
	published []publishedMessage
	publishFn func(ctx context.Context, queueName string, msg queue.DeadLetterMessage) error
	closeFn   func() error
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.DeadLetterMessage) error {
	if f.publishFn != nil {
		if err := f.publishFn(ctx, queueName, msg); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.published = append(f.published, publishedMessage{queue: queueName, msg: msg})
	f.mu.Unlock()
	return nil
}

func (f *fakePublisher) Close() error {
	if f.closeFn != nil {
		return f.closeFn()
	}
	return nil
}

func (f *fakePublisher) Published() []publishedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publishedMessage(nil), f.published...)
}

type fakeCommunicationStore struct {
	saveFn               func(ctx context.Context, c *domain.Communication) error
	getByIDFn            func(ctx context.Context, id string) (*domain.Communication, error)
	updateStatusFn       func(ctx context.Context, id string, next domain.Status) (bool, error)
	queryInboundFn       func(ctx context.Context, filter repository.InboundFilter, limit int) ([]domain.Communication, error)
	queryClientSignalsFn func(ctx context.Context, clientID string) (*domain.ClientSignals, error)
	inboundTimestampsFn  func(ctx context.Context, clientID string, limit int) ([]time.Time, error)
	listRecentClientsFn  func(ctx context.Context, limit int) ([]domain.Client, error)
	updateAnnotationsFn  func(ctx context.Context, id string, annotations domain.Annotations) (*domain.Communication, error)
	queryClientHistoryFn func(ctx context.Context, clientID string, channel *domain.Channel, limit, offset int) ([]domain.Communication, error)
}

func (f *fakeCommunicationStore) Save(ctx context.Context, c *domain.Communication) error {
	if f.saveFn != nil {
		return f.saveFn(ctx, c)
	}
	return nil
}

func (f *fakeCommunicationStore) GetByID(ctx context.Context, id string) (*domain.Communication, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeCommunicationStore) UpdateStatus(ctx context.Context, id string, next domain.Status) (bool, error) {
	if f.updateStatusFn != nil {
		return f.updateStatusFn(ctx, id, next)
	}
	return true, nil
}

func (f *fakeCommunicationStore) QueryInbound(ctx context.Context, filter repository.InboundFilter, limit int) ([]domain.Communication, error) {
	if f.queryInboundFn != nil {
		return f.queryInboundFn(ctx, filter, limit)
	}
	return nil, nil
}

func (f *fakeCommunicationStore) QueryClientSignals(ctx context.Context, clientID string) (*domain.ClientSignals, error) {
	if f.queryClientSignalsFn != nil {
		return f.queryClientSignalsFn(ctx, clientID)
	}
	return &domain.ClientSignals{ClientID: clientID}, nil
}

func (f *fakeCommunicationStore) InboundTimestamps(ctx context.Context, clientID string, limit int) ([]time.Time, error) {
	if f.inboundTimestampsFn != nil {
		return f.inboundTimestampsFn(ctx, clientID, limit)
	}
	return nil, nil
}

func (f *fakeCommunicationStore) ListRecentClients(ctx context.Context, limit int) ([]domain.Client, error) {
	if f.listRecentClientsFn != nil {
		return f.listRecentClientsFn(ctx, limit)
	}
	return nil, nil
}

func (f *fakeCommunicationStore) UpdateAnnotations(ctx context.Context, id string, annotations domain.Annotations) (*domain.Communication, error) {
	if f.updateAnnotationsFn != nil {
		return f.updateAnnotationsFn(ctx, id, annotations)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeCommunicationStore) QueryClientHistory(
	ctx context.Context,
	clientID string,
	channel *domain.Channel,
	limit, offset int,
) ([]domain.Communication, error) {
	if f.queryClientHistoryFn != nil {
		return f.queryClientHistoryFn(ctx, clientID, channel, limit, offset)
	}
	return nil, nil
}
