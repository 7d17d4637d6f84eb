package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"carewatch-backend/internal/alerts"
	"carewatch-backend/internal/metrics"
	"carewatch-backend/pkg/log"
)

// ChannelQueue marks delivery records written by the queue itself.
const ChannelQueue ChannelType = "queue"

const defaultEnqueueWait = 2 * time.Second

// Queue decouples notice producers from channel latency. It implements alerts.Notifier.
// Notices that do not fit wait in an overflow list and are fed back as workers free up.
type Queue struct {
	dispatcher *Dispatcher
	items      chan alerts.Notice
	workers    int
	wait       time.Duration
	logger     log.Logger

	mu     sync.RWMutex
	closed bool
	ctx    context.Context
	wg     sync.WaitGroup

	overflowMu sync.Mutex
	overflow   []alerts.Notice
}

func NewQueue(dispatcher *Dispatcher, size, workers int, logger log.Logger) *Queue {
	if size <= 0 {
		size = 256
	}
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Queue{
		dispatcher: dispatcher,
		items:      make(chan alerts.Notice, size),
		workers:    workers,
		wait:       defaultEnqueueWait,
		logger:     logger,
	}
}

// Start launches the workers. Deliveries use ctx, so cancelling it aborts in-flight retries.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	q.ctx = ctx
	q.mu.Unlock()
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for n := range q.items {
				q.dispatcher.Dispatch(ctx, n)
				q.refill()
			}
		}()
	}
	q.refill()
}

// Notify enqueues, waiting briefly for room. A notice that still does not fit is
// recorded as a failed queue delivery and kept for redelivery.
func (q *Queue) Notify(ctx context.Context, n alerts.Notice) {
	err := q.enqueueWait(ctx, n)
	if err == nil {
		return
	}
	metrics.NotifyQueueOverflow.Inc()
	q.dispatcher.recordUndelivered(ctx, n, err)
	if errors.Is(err, ErrQueueFull) {
		q.logger.Warnf(ctx, "notify.Queue.Notify: alert=%s kind=%s: %v, deferring", n.Instance.ID, n.Kind, err)
		q.overflowMu.Lock()
		q.overflow = append(q.overflow, n)
		q.overflowMu.Unlock()
		q.refill()
		return
	}
	q.logger.Errorf(ctx, "notify.Queue.Notify: alert=%s kind=%s: %v", n.Instance.ID, n.Kind, err)
}

// Enqueue adds n without waiting.
func (q *Queue) Enqueue(n alerts.Notice) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.items <- n:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *Queue) enqueueWait(ctx context.Context, n alerts.Notice) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.items <- n:
		return nil
	default:
	}
	timer := time.NewTimer(q.wait)
	defer timer.Stop()
	select {
	case q.items <- n:
		return nil
	case <-timer.C:
		return ErrQueueFull
	case <-ctx.Done():
		return ErrQueueFull
	}
}

// Pending reports how many notices wait in the overflow list.
func (q *Queue) Pending() int {
	q.overflowMu.Lock()
	defer q.overflowMu.Unlock()
	return len(q.overflow)
}

func (q *Queue) refill() {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return
	}
	q.overflowMu.Lock()
	defer q.overflowMu.Unlock()
	for len(q.overflow) > 0 {
		select {
		case q.items <- q.overflow[0]:
			q.overflow = q.overflow[1:]
		default:
			return
		}
	}
}

// Close stops accepting notices and dispatches everything already accepted,
// including the overflow list.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.items)
	ctx := q.ctx
	q.mu.Unlock()
	q.wg.Wait()

	if ctx == nil {
		ctx = context.Background()
		for n := range q.items {
			q.dispatcher.Dispatch(ctx, n)
		}
	}
	q.overflowMu.Lock()
	rest := q.overflow
	q.overflow = nil
	q.overflowMu.Unlock()
	for _, n := range rest {
		q.dispatcher.Dispatch(ctx, n)
	}
}
