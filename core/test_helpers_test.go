package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

type stubLogger struct{}

func (stubLogger) Trace(string, ...any) {}
func (stubLogger) Debug(string, ...any) {}
func (stubLogger) Info(string, ...any)  {}
func (stubLogger) Warn(string, ...any)  {}
func (stubLogger) Error(string, ...any) {}
func (stubLogger) Fatal(string, ...any) {}
func (s stubLogger) WithContext(context.Context) Logger {
	return s
}

type stubLoggerProvider struct {
	logger Logger
}

func (p stubLoggerProvider) GetLogger(string) Logger {
	return p.logger
}

// recordingSender fails for users listed in failFor and records every call.
type recordingSender struct {
	mu      sync.Mutex
	calls   []sentMessage
	failFor map[string]error
	delay   time.Duration
}

type sentMessage struct {
	userID string
	text   string
}

func newRecordingSender() *recordingSender {
	return &recordingSender{failFor: map[string]error{}}
}

func (s *recordingSender) Send(ctx context.Context, userID string, text string) error {
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.delay):
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sentMessage{userID: userID, text: text})
	if err, ok := s.failFor[userID]; ok {
		return err
	}
	return nil
}

func (s *recordingSender) fail(userID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failFor[userID] = err
}

func (s *recordingSender) heal(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failFor, userID)
}

func (s *recordingSender) recipients() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.calls))
	for _, call := range s.calls {
		out = append(out, call.userID)
	}
	sort.Strings(out)
	return out
}

func (s *recordingSender) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

type scriptedSummarizer struct {
	mu      sync.Mutex
	calls   int
	results []error
	summary string
}

func (s *scriptedSummarizer) Summarize(context.Context, string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	index := s.calls
	s.calls++
	if index < len(s.results) && s.results[index] != nil {
		return "", s.results[index]
	}
	return s.summary, nil
}

func (s *scriptedSummarizer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type alwaysFailSummarizer struct {
	mu    sync.Mutex
	calls int
}

func (s *alwaysFailSummarizer) Summarize(context.Context, string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return "", fmt.Errorf("summarizer unavailable (call %d)", s.calls)
}

// fifoQueue is a minimal at-least-once transport for package tests.
type fifoQueue struct {
	mu       sync.Mutex
	items    []*JobExecutionMessage
	attempts map[string]int
	acked    []string
	nacked   []JobNackOptions
	dead     []string
}

func newFIFOQueue() *fifoQueue {
	return &fifoQueue{attempts: map[string]int{}}
}

func (q *fifoQueue) Enqueue(_ context.Context, msg *JobExecutionMessage) error {
	if msg == nil {
		return errors.New("nil message")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, msg)
	return nil
}

func (q *fifoQueue) Publish(ctx context.Context, notification Notification) error {
	return q.Enqueue(ctx, NotificationMessage(notification))
}

func (q *fifoQueue) Dequeue(context.Context) (JobDelivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, ErrQueueEmpty
	}
	msg := q.items[0]
	q.items = q.items[1:]
	q.attempts[msg.IdempotencyKey]++
	return &fifoDelivery{queue: q, msg: msg, attempt: q.attempts[msg.IdempotencyKey]}, nil
}

func (q *fifoQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

type fifoDelivery struct {
	queue   *fifoQueue
	msg     *JobExecutionMessage
	attempt int
}

func (d *fifoDelivery) Message() *JobExecutionMessage { return d.msg }

func (d *fifoDelivery) Attempt() int { return d.attempt }

func (d *fifoDelivery) Ack(context.Context) error {
	d.queue.mu.Lock()
	defer d.queue.mu.Unlock()
	d.queue.acked = append(d.queue.acked, d.msg.IdempotencyKey)
	return nil
}

func (d *fifoDelivery) Nack(_ context.Context, opts JobNackOptions) error {
	d.queue.mu.Lock()
	defer d.queue.mu.Unlock()
	d.queue.nacked = append(d.queue.nacked, opts)
	if opts.DeadLetter {
		d.queue.dead = append(d.queue.dead, d.msg.IdempotencyKey)
		return nil
	}
	if opts.Requeue {
		d.queue.items = append(d.queue.items, d.msg)
	}
	return nil
}

func noSleep(context.Context, time.Duration) error { return nil }

func fixedClock() func() time.Time {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return now }
}

func daoVoteEvent() Event {
	return Event{
		EventID: "e1",
		Kind:    EventKindCreated,
		SpaceID: "s1",
		Title:   "DAO Vote",
		Body:    "Voting on XYZ proposal",
	}
}

var (
	_ ChatSender  = (*recordingSender)(nil)
	_ Summarizer  = (*scriptedSummarizer)(nil)
	_ JobEnqueuer = (*fifoQueue)(nil)
	_ JobDequeuer = (*fifoQueue)(nil)
)
