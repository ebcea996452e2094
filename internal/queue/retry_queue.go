package queue

import (
	"container/heap"
	"fmt"
	"sync"
	"time"

	"github.com/kursadbilgin/courier/internal/domain"
)

const (
	DefaultMaxRetries  = 3
	DefaultBaseBackoff = 300 * time.Second
)

// BackoffPolicy bounds retries and spaces them exponentially.
type BackoffPolicy struct {
	Base       time.Duration
	MaxRetries int
}

func NewBackoffPolicy(base time.Duration, maxRetries int) (BackoffPolicy, error) {
	p := BackoffPolicy{Base: base, MaxRetries: maxRetries}
	if err := p.Validate(); err != nil {
		return BackoffPolicy{}, err
	}
	return p, nil
}

func (p BackoffPolicy) Validate() error {
	if p.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative (got %d)", p.MaxRetries)
	}
	if p.Base <= 0 {
		return fmt.Errorf("base backoff must be positive (got %s)", p.Base)
	}
	return nil
}

// Delay returns base * 2^retryCount.
func (p BackoffPolicy) Delay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	// 2^30 * base already overflows any sensible schedule.
	if retryCount > 30 {
		retryCount = 30
	}
	return p.Base * time.Duration(1<<uint(retryCount))
}

// RequeueResult reports what Requeue did with a failed attempt.
type RequeueResult struct {
	RetryCount  int
	NextRetryAt time.Time
	// Terminal is set when the retry bound was reached and the attempt was dropped.
	Terminal bool
}

// RetryQueue is an in-memory queue of pending delivery attempts. Among the
// attempts that are already eligible the most urgent priority class goes
// first, then the earliest NextRetryAt, then insertion order. It is safe for
// concurrent use.
type RetryQueue struct {
	mu     sync.Mutex
	items  attemptHeap
	seq    uint64
	policy BackoffPolicy
	now    func() time.Time
	wake   chan struct{}
}

// RetryQueueOption configures a RetryQueue.
type RetryQueueOption func(*RetryQueue)

// WithClock overrides the time source used for eligibility checks.
func WithClock(now func() time.Time) RetryQueueOption {
	return func(q *RetryQueue) {
		if now != nil {
			q.now = now
		}
	}
}

func NewRetryQueue(policy BackoffPolicy, opts ...RetryQueueOption) (*RetryQueue, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid backoff policy: %w", err)
	}

	q := &RetryQueue{
		policy: policy,
		now:    time.Now,
		wake:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

func (q *RetryQueue) Policy() BackoffPolicy {
	return q.policy
}

// Enqueue admits a fresh attempt. NextRetryAt defaults to now.
func (q *RetryQueue) Enqueue(attempt *domain.DeliveryAttempt) error {
	if attempt == nil {
		return fmt.Errorf("%w: attempt is required", domain.ErrValidation)
	}
	if attempt.RetryCount != 0 {
		return fmt.Errorf("%w: new attempts must start with retry count 0 (got %d)", domain.ErrValidation, attempt.RetryCount)
	}
	if err := attempt.Validate(); err != nil {
		return err
	}

	q.mu.Lock()
	if attempt.NextRetryAt.IsZero() {
		attempt.NextRetryAt = q.now()
	}
	q.push(attempt)
	q.mu.Unlock()

	q.signal()
	return nil
}

// DequeueReady removes and returns the most urgent attempt whose NextRetryAt
// has passed. When nothing is ready it returns nil and how long until the
// earliest attempt becomes eligible (zero when the queue is empty). It never blocks.
func (q *RetryQueue) DequeueReady() (*domain.DeliveryAttempt, time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, 0
	}

	now := q.now()
	head := q.items[0]
	if head.attempt.NextRetryAt.After(now) {
		return nil, head.attempt.NextRetryAt.Sub(now)
	}

	best := 0
	for i := 1; i < len(q.items); i++ {
		candidate := q.items[i]
		if candidate.attempt.NextRetryAt.After(now) {
			continue
		}
		if candidate.attempt.Priority < q.items[best].attempt.Priority ||
			(candidate.attempt.Priority == q.items[best].attempt.Priority && q.items.Less(i, best)) {
			best = i
		}
	}

	item := heap.Remove(&q.items, best).(*queuedAttempt)
	return item.attempt, 0
}

// Pending returns a copy of the queued attempt with the given id.
func (q *RetryQueue) Pending(id string) (*domain.DeliveryAttempt, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, item := range q.items {
		if item.attempt.ID == id {
			return item.attempt.Clone(), true
		}
	}
	return nil, false
}

// Requeue records a failed send. Below the retry bound the attempt is
// rescheduled at failedAt + base*2^retryCount; at the bound it is dropped
// and the result is terminal.
func (q *RetryQueue) Requeue(attempt *domain.DeliveryAttempt, failedAt time.Time) RequeueResult {
	attempt.RetryCount++

	if attempt.RetryCount >= q.policy.MaxRetries {
		return RequeueResult{RetryCount: attempt.RetryCount, Terminal: true}
	}

	attempt.NextRetryAt = failedAt.Add(q.policy.Delay(attempt.RetryCount))

	q.mu.Lock()
	q.push(attempt)
	q.mu.Unlock()

	q.signal()
	return RequeueResult{RetryCount: attempt.RetryCount, NextRetryAt: attempt.NextRetryAt}
}

// Restore puts back an attempt that was dequeued but never sent.
func (q *RetryQueue) Restore(attempt *domain.DeliveryAttempt) {
	if attempt == nil {
		return
	}
	q.mu.Lock()
	q.push(attempt)
	q.mu.Unlock()
}

func (q *RetryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Wake fires after an enqueue or requeue so an idle worker can re-check the head.
func (q *RetryQueue) Wake() <-chan struct{} {
	return q.wake
}

func (q *RetryQueue) push(attempt *domain.DeliveryAttempt) {
	q.seq++
	heap.Push(&q.items, &queuedAttempt{attempt: attempt, seq: q.seq})
}

func (q *RetryQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

type queuedAttempt struct {
	attempt *domain.DeliveryAttempt
	seq     uint64
}

type attemptHeap []*queuedAttempt

func (h attemptHeap) Len() int { return len(h) }

func (h attemptHeap) Less(i, j int) bool {
	a, b := h[i].attempt, h[j].attempt
	if !a.NextRetryAt.Equal(b.NextRetryAt) {
		return a.NextRetryAt.Before(b.NextRetryAt)
	}
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return h[i].seq < h[j].seq
}

func (h attemptHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *attemptHeap) Push(x any) { *h = append(*h, x.(*queuedAttempt)) }

func (h *attemptHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
