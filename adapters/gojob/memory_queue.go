package gojob

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-govnotify/core"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

// MemoryQueue is an in-process go-job broker with at-least-once semantics:
// a dequeued message is gone until it is nacked with Requeue, and delayed
// requeues only become visible once their delay elapses.
type MemoryQueue struct {
	mu     sync.Mutex
	ready  []memoryItem
	dead   []*job.ExecutionMessage
	now    func() time.Time
	logger job.Logger
}

type memoryItem struct {
	msg         *job.ExecutionMessage
	availableAt time.Time
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{now: time.Now}
}

// SetLogger reports dead-lettered messages to logger.
func (q *MemoryQueue) SetLogger(logger job.Logger) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.logger = logger
}

func (q *MemoryQueue) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	if q == nil {
		return fmt.Errorf("gojob: memory queue is nil")
	}
	if msg == nil {
		return fmt.Errorf("gojob: execution message is required")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ready = append(q.ready, memoryItem{msg: msg, availableAt: q.now()})
	return nil
}

// Dequeue returns core.ErrQueueEmpty when no message is visible yet.
func (q *MemoryQueue) Dequeue(ctx context.Context) (queue.Delivery, error) {
	if q == nil {
		return nil, fmt.Errorf("gojob: memory queue is nil")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	for i, item := range q.ready {
		if item.availableAt.After(now) {
			continue
		}
		q.ready = append(q.ready[:i], q.ready[i+1:]...)
		return &memoryDelivery{queue: q, msg: item.msg}, nil
	}
	return nil, core.ErrQueueEmpty
}

func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready)
}

func (q *MemoryQueue) DeadLetters() []*job.ExecutionMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*job.ExecutionMessage(nil), q.dead...)
}

type memoryDelivery struct {
	queue   *MemoryQueue
	msg     *job.ExecutionMessage
	settled bool
}

func (d *memoryDelivery) Message() *job.ExecutionMessage {
	return d.msg
}

func (d *memoryDelivery) Ack(context.Context) error {
	d.queue.mu.Lock()
	defer d.queue.mu.Unlock()
	if d.settled {
		return fmt.Errorf("gojob: delivery already settled")
	}
	d.settled = true
	return nil
}

func (d *memoryDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	d.queue.mu.Lock()
	defer d.queue.mu.Unlock()
	if d.settled {
		return fmt.Errorf("gojob: delivery already settled")
	}
	d.settled = true
	switch {
	case opts.DeadLetter:
		d.queue.dead = append(d.queue.dead, d.msg)
		if d.queue.logger != nil {
			d.queue.logger.Info("notification dead-lettered", "job_id", d.msg.JobID, "idempotency_key", d.msg.IdempotencyKey, "reason", opts.Reason)
		}
	case opts.Requeue:
		d.queue.ready = append(d.queue.ready, memoryItem{msg: d.msg, availableAt: d.queue.now().Add(opts.Delay)})
	}
	return nil
}

var (
	_ queue.Enqueuer = (*MemoryQueue)(nil)
	_ queue.Dequeuer = (*MemoryQueue)(nil)
	_ queue.Delivery = (*memoryDelivery)(nil)
)
