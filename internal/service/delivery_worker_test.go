package service

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/courier/internal/domain"
	"github.com/kursadbilgin/courier/internal/provider"
	"github.com/kursadbilgin/courier/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var workerEpoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newTestRetryQueue(t *testing.T, clock *fakeClock) *queue.RetryQueue {
	t.Helper()

	policy, err := queue.NewBackoffPolicy(300*time.Second, 3)
	require.NoError(t, err)

	opts := []queue.RetryQueueOption{}
	if clock != nil {
		opts = append(opts, queue.WithClock(clock.Now))
	}
	q, err := queue.NewRetryQueue(policy, opts...)
	require.NoError(t, err)
	return q
}

func newTestWorker(t *testing.T, q *queue.RetryQueue, transport provider.Transport, clock *fakeClock) *DeliveryWorker {
	t.Helper()

	w, err := NewDeliveryWorker(q, transport, nil, DeliveryWorkerConfig{
		PollInterval:     10 * time.Millisecond,
		TransportTimeout: time.Second,
	}, zap.NewNop())
	require.NoError(t, err)
	if clock != nil {
		w.now = clock.Now
	}
	return w
}

func newTestAttempt(t *testing.T, now time.Time) *domain.DeliveryAttempt {
	t.Helper()

	attempt, err := domain.NewDeliveryAttempt(domain.DeliveryRequest{
		To:       []string{"client@example.com"},
		Subject:  "Invoice",
		TextBody: "Your invoice is attached.",
	}, now)
	require.NoError(t, err)
	return attempt
}

// dequeueAndProcess runs one send of the head attempt, which must be ready.
func dequeueAndProcess(t *testing.T, w *DeliveryWorker, q *queue.RetryQueue) {
	t.Helper()

	attempt, wait := q.DequeueReady()
	require.NotNil(t, attempt, "no ready attempt (next in %s)", wait)
	w.process(context.Background(), attempt)
}

func TestNewDeliveryWorkerValidation(t *testing.T) {
	t.Parallel()

	q := newTestRetryQueue(t, nil)

	_, err := NewDeliveryWorker(nil, &fakeTransport{}, nil, DeliveryWorkerConfig{}, nil)
	assert.Error(t, err)

	_, err = NewDeliveryWorker(q, nil, nil, DeliveryWorkerConfig{}, nil)
	assert.Error(t, err)

	w, err := NewDeliveryWorker(q, &fakeTransport{}, nil, DeliveryWorkerConfig{}, nil)
	require.NoError(t, err)
	assert.Equal(t, defaultPollInterval, w.pollInterval)
	assert.Equal(t, defaultTransportTimeout, w.transportTimeout)
	assert.Equal(t, 1, w.concurrency)
}

func TestDeliveryWorkerProcessSuccess(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: workerEpoch}
	q := newTestRetryQueue(t, clock)

	var limitedChannel domain.Channel
	transport := &fakeTransport{
		deliverFn: func(ctx context.Context, attempt domain.DeliveryAttempt) (*provider.Receipt, error) {
			if _, ok := ctx.Deadline(); !ok {
				t.Fatalf("transport called without a deadline")
			}
			return &provider.Receipt{StatusCode: 250, MessageID: "msg-1"}, nil
		},
	}
	var saved *domain.Communication
	store := &fakeCommunicationStore{
		saveFn: func(ctx context.Context, c *domain.Communication) error {
			saved = c
			return nil
		},
	}
	log := &fakeDeliveryLog{}

	w := newTestWorker(t, q, transport, clock)
	w.rateLimiter = &fakeRateLimiter{
		waitFn: func(ctx context.Context, channel domain.Channel) error {
			limitedChannel = channel
			return nil
		},
	}
	w.SetDeliveryLog(log)
	w.SetCommunicationStore(store)

	attempt := newTestAttempt(t, clock.Now())
	clientID := "client-1"
	attempt.ClientID = &clientID
	attempt.Attachments = []domain.Attachment{{Filename: "invoice.pdf", Content: []byte("pdf"), ContentType: "application/pdf"}}
	require.NoError(t, q.Enqueue(attempt))

	dequeueAndProcess(t, w, q)

	assert.Equal(t, 0, q.Len())
	assert.Equal(t, domain.ChannelEmail, limitedChannel)
	require.Len(t, log.events, 1)
	event := log.events[0]
	assert.Equal(t, domain.OutcomeSent, event.Outcome)
	assert.Equal(t, attempt.ID, event.DeliveryID)
	assert.Equal(t, 1, event.SendNumber)
	require.NotNil(t, event.MessageID)
	assert.Equal(t, "msg-1", *event.MessageID)

	require.NotNil(t, saved)
	assert.Equal(t, "client-1", saved.ClientID)
	assert.Equal(t, domain.DirectionOutbound, saved.Direction)
	assert.Equal(t, "Your invoice is attached.", saved.Body)
	require.Len(t, saved.Attachments, 1)
	assert.Equal(t, 3, saved.Attachments[0].Size)
}

func TestDeliveryWorkerRetriesWithBackoffThenDrops(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: workerEpoch}
	q := newTestRetryQueue(t, clock)

	sends := 0
	transport := &fakeTransport{
		deliverFn: func(ctx context.Context, attempt domain.DeliveryAttempt) (*provider.Receipt, error) {
			sends++
			return nil, errors.New("connection refused")
		},
	}
	log := &fakeDeliveryLog{}
	dlq := &fakePublisher{}

	w := newTestWorker(t, q, transport, clock)
	w.SetDeliveryLog(log)
	w.SetDeadLetterPublisher(dlq)

	attempt := newTestAttempt(t, clock.Now())
	require.NoError(t, q.Enqueue(attempt))

	// First send fails: retry 1 due 600s later.
	dequeueAndProcess(t, w, q)
	require.Equal(t, 1, q.Len())
	assert.Equal(t, 1, attempt.RetryCount)
	assert.Equal(t, workerEpoch.Add(600*time.Second), attempt.NextRetryAt)

	clock.Set(workerEpoch.Add(599 * time.Second))
	ready, wait := q.DequeueReady()
	assert.Nil(t, ready)
	assert.Equal(t, time.Second, wait)

	// Second send fails: retry 2 due 1200s after the failure.
	clock.Set(workerEpoch.Add(600 * time.Second))
	dequeueAndProcess(t, w, q)
	assert.Equal(t, 2, attempt.RetryCount)
	assert.Equal(t, workerEpoch.Add(1800*time.Second), attempt.NextRetryAt)

	// Third send fails: bound reached, dropped and dead-lettered.
	clock.Set(workerEpoch.Add(1800 * time.Second))
	dequeueAndProcess(t, w, q)
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, 3, sends)

	assert.Equal(t, []domain.DeliveryOutcome{
		domain.OutcomeRetrying,
		domain.OutcomeRetrying,
		domain.OutcomeFailed,
	}, log.Outcomes())

	published := dlq.Published()
	require.Len(t, published, 1)
	assert.Equal(t, "dlq.email", published[0].queue)
	assert.Equal(t, attempt.ID, published[0].msg.DeliveryID)
	assert.Equal(t, 3, published[0].msg.RetryCount)
	assert.Contains(t, published[0].msg.Reason, failureReasonExhausted)
}

func TestDeliveryWorkerPermanentFailureIsTerminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		deliver func(ctx context.Context, attempt domain.DeliveryAttempt) (*provider.Receipt, error)
	}{
		{
			name: "permanent provider error",
			deliver: func(ctx context.Context, attempt domain.DeliveryAttempt) (*provider.Receipt, error) {
				return nil, &provider.ProviderError{StatusCode: 550, Message: "mailbox unavailable"}
			},
		},
		{
			name: "validation error",
			deliver: func(ctx context.Context, attempt domain.DeliveryAttempt) (*provider.Receipt, error) {
				return nil, domain.ErrValidation
			},
		},
		{
			name: "transport panic",
			deliver: func(ctx context.Context, attempt domain.DeliveryAttempt) (*provider.Receipt, error) {
				panic("nil pointer in transport")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			clock := &fakeClock{now: workerEpoch}
			q := newTestRetryQueue(t, clock)
			log := &fakeDeliveryLog{}
			dlq := &fakePublisher{}

			w := newTestWorker(t, q, &fakeTransport{deliverFn: tt.deliver}, clock)
			w.SetDeliveryLog(log)
			w.SetDeadLetterPublisher(dlq)

			attempt := newTestAttempt(t, clock.Now())
			require.NoError(t, q.Enqueue(attempt))

			dequeueAndProcess(t, w, q)

			assert.Equal(t, 0, q.Len())
			assert.Equal(t, 0, attempt.RetryCount)
			assert.NotEmpty(t, attempt.LastError)
			assert.Equal(t, []domain.DeliveryOutcome{domain.OutcomeFailed}, log.Outcomes())

			published := dlq.Published()
			require.Len(t, published, 1)
			assert.Contains(t, published[0].msg.Reason, failureReasonPermanent)
		})
	}
}

func TestDeliveryWorkerTransportTimeoutIsRetried(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: workerEpoch}
	q := newTestRetryQueue(t, clock)

	transport := &fakeTransport{
		deliverFn: func(ctx context.Context, attempt domain.DeliveryAttempt) (*provider.Receipt, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	w := newTestWorker(t, q, transport, clock)
	w.transportTimeout = 20 * time.Millisecond

	attempt := newTestAttempt(t, clock.Now())
	require.NoError(t, q.Enqueue(attempt))

	dequeueAndProcess(t, w, q)

	assert.Equal(t, 1, q.Len())
	assert.Equal(t, 1, attempt.RetryCount)
	assert.Contains(t, attempt.LastError, context.DeadlineExceeded.Error())
}

func TestDeliveryWorkerTransportIgnoringDeadline(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		deliver func(release <-chan struct{}) provider.TransportFunc
	}{
		{
			name: "blocks past the deadline",
			deliver: func(release <-chan struct{}) provider.TransportFunc {
				return func(ctx context.Context, attempt domain.DeliveryAttempt) (*provider.Receipt, error) {
					<-release
					return &provider.Receipt{MessageID: "late"}, nil
				}
			},
		},
		{
			name: "reports success after the deadline",
			deliver: func(release <-chan struct{}) provider.TransportFunc {
				return func(ctx context.Context, attempt domain.DeliveryAttempt) (*provider.Receipt, error) {
					<-ctx.Done()
					return &provider.Receipt{MessageID: "late"}, nil
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			clock := &fakeClock{now: workerEpoch}
			q := newTestRetryQueue(t, clock)
			release := make(chan struct{})
			defer close(release)

			log := &fakeDeliveryLog{}
			w := newTestWorker(t, q, tt.deliver(release), clock)
			w.transportTimeout = 20 * time.Millisecond
			w.SetDeliveryLog(log)

			attempt := newTestAttempt(t, clock.Now())
			require.NoError(t, q.Enqueue(attempt))

			start := time.Now()
			dequeueAndProcess(t, w, q)
			if elapsed := time.Since(start); elapsed > 2*time.Second {
				t.Fatalf("process returned after %s, want it bounded by the transport timeout", elapsed)
			}

			assert.Equal(t, 1, q.Len())
			assert.Equal(t, 1, attempt.RetryCount)
			assert.Contains(t, attempt.LastError, context.DeadlineExceeded.Error())
			assert.Equal(t, []domain.DeliveryOutcome{domain.OutcomeRetrying}, log.Outcomes())
		})
	}
}

func TestDeliveryWorkerDeadLetterPublishFailureIsLogged(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: workerEpoch}
	q := newTestRetryQueue(t, clock)
	dlq := &fakePublisher{
		publishFn: func(ctx context.Context, queueName string, msg queue.DeadLetterMessage) error {
			return errors.New("broker down")
		},
	}

	w := newTestWorker(t, q, &fakeTransport{
		deliverFn: func(ctx context.Context, attempt domain.DeliveryAttempt) (*provider.Receipt, error) {
			return nil, provider.Permanent("rejected", nil)
		},
	}, clock)
	w.SetDeadLetterPublisher(dlq)

	require.NoError(t, q.Enqueue(newTestAttempt(t, clock.Now())))
	dequeueAndProcess(t, w, q)

	assert.Equal(t, 0, q.Len())
	assert.Empty(t, dlq.Published())
}

func TestDeliveryWorkerRestoresAttemptOnShutdownMidSend(t *testing.T) {
	t.Parallel()

	q := newTestRetryQueue(t, nil)
	started := make(chan struct{})
	transport := &fakeTransport{
		deliverFn: func(ctx context.Context, attempt domain.DeliveryAttempt) (*provider.Receipt, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	log := &fakeDeliveryLog{}
	w := newTestWorker(t, q, transport, nil)
	w.transportTimeout = time.Minute
	w.SetDeliveryLog(log)

	attempt := newTestAttempt(t, time.Now())
	require.NoError(t, q.Enqueue(attempt))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatalf("transport was not called")
	}
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not stop after cancellation")
	}

	assert.Equal(t, 1, q.Len())
	assert.Equal(t, 0, attempt.RetryCount)
	assert.Empty(t, log.Outcomes())
}

func TestDeliveryWorkerRunStopsWhenIdle(t *testing.T) {
	t.Parallel()

	q := newTestRetryQueue(t, nil)
	w := newTestWorker(t, q, &fakeTransport{}, nil)
	w.pollInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("idle worker did not stop after cancellation")
	}
}

func TestDeliveryWorkerEnqueueWakesIdleWorker(t *testing.T) {
	t.Parallel()

	q := newTestRetryQueue(t, nil)
	sent := make(chan string, 1)
	w := newTestWorker(t, q, &fakeTransport{
		deliverFn: func(ctx context.Context, attempt domain.DeliveryAttempt) (*provider.Receipt, error) {
			sent <- attempt.ID
			return &provider.Receipt{StatusCode: 250}, nil
		},
	}, nil)
	w.pollInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	attempt := newTestAttempt(t, time.Now())
	require.NoError(t, q.Enqueue(attempt))

	select {
	case id := <-sent:
		assert.Equal(t, attempt.ID, id)
	case <-time.After(2 * time.Second):
		t.Fatalf("enqueue did not wake the worker")
	}
}

func TestDeliveryWorkerConcurrentWorkersSendEachAttemptOnce(t *testing.T) {
	t.Parallel()

	const total = 100

	q := newTestRetryQueue(t, nil)

	var mu sync.Mutex
	counts := make(map[string]int, total)
	allSent := make(chan struct{})
	transport := &fakeTransport{
		deliverFn: func(ctx context.Context, attempt domain.DeliveryAttempt) (*provider.Receipt, error) {
			mu.Lock()
			defer mu.Unlock()
			counts[attempt.ID]++
			if len(counts) == total {
				select {
				case <-allSent:
				default:
					close(allSent)
				}
			}
			return &provider.Receipt{StatusCode: 250}, nil
		},
	}

	w, err := NewDeliveryWorker(q, transport, nil, DeliveryWorkerConfig{
		PollInterval:     5 * time.Millisecond,
		TransportTimeout: time.Second,
		Concurrency:      8,
	}, zap.NewNop())
	require.NoError(t, err)

	now := time.Now()
	for i := 0; i < total; i++ {
		attempt := newTestAttempt(t, now)
		attempt.Subject = "message " + strconv.Itoa(i)
		require.NoError(t, q.Enqueue(attempt))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case <-allSent:
	case <-time.After(5 * time.Second):
		t.Fatalf("not every attempt was sent")
	}
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	for id, n := range counts {
		if n != 1 {
			t.Fatalf("attempt %s sent %d times, want 1", id, n)
		}
	}
	assert.Equal(t, 0, q.Len())
}
