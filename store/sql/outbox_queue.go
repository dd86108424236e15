package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-govnotify/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const (
	outboxStatusPending    = "pending"
	outboxStatusProcessing = "processing"
	outboxStatusCompleted  = "completed"
	outboxStatusDead       = "dead"

	defaultOutboxLease = 2 * time.Minute
)

// OutboxQueue is a durable at-least-once job queue on the notification_outbox
// table. A claimed row stays invisible until its lease expires, after which
// another consumer may claim it again.
type OutboxQueue struct {
	db    *bun.DB
	repo  repository.Repository[*outboxRecord]
	lease time.Duration
	now   func() time.Time
}

type OutboxQueueOption func(*OutboxQueue)

func WithOutboxLease(lease time.Duration) OutboxQueueOption {
	return func(q *OutboxQueue) {
		if lease > 0 {
			q.lease = lease
		}
	}
}

func WithOutboxClock(now func() time.Time) OutboxQueueOption {
	return func(q *OutboxQueue) {
		if now != nil {
			q.now = now
		}
	}
}

func NewOutboxQueue(db *bun.DB, opts ...OutboxQueueOption) (*OutboxQueue, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*outboxRecord](db, outboxHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid outbox repository wiring: %w", err)
		}
	}
	q := &OutboxQueue{
		db:    db,
		repo:  repo,
		lease: defaultOutboxLease,
		now:   time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(q)
		}
	}
	return q, nil
}

func (q *OutboxQueue) Enqueue(ctx context.Context, msg *core.JobExecutionMessage) error {
	if q == nil || q.repo == nil {
		return fmt.Errorf("sqlstore: outbox queue is not configured")
	}
	if msg == nil {
		return fmt.Errorf("sqlstore: outbox message is required")
	}
	if strings.TrimSpace(msg.JobID) == "" {
		return fmt.Errorf("sqlstore: outbox job id is required")
	}
	now := q.now().UTC()
	record := &outboxRecord{
		ID:             uuid.NewString(),
		JobID:          strings.TrimSpace(msg.JobID),
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
		Parameters:     copyAnyMap(msg.Parameters),
		Status:         outboxStatusPending,
		AvailableAt:    now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	_, err := q.repo.Create(ctx, record)
	return err
}

// Dequeue claims the oldest ready row. It returns core.ErrQueueEmpty when
// nothing is ready instead of blocking.
func (q *OutboxQueue) Dequeue(ctx context.Context) (core.JobDelivery, error) {
	if q == nil || q.db == nil {
		return nil, fmt.Errorf("sqlstore: outbox queue is not configured")
	}
	now := q.now().UTC()
	claimID := uuid.NewString()
	leaseUntil := now.Add(q.lease)

	var records []outboxRecord
	err := q.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		query := `
WITH claimed AS (
	SELECT id
	FROM notification_outbox
	WHERE (status = ? AND available_at <= ?)
	   OR (status = ? AND lease_until IS NOT NULL AND lease_until <= ?)
	ORDER BY available_at ASC, created_at ASC
	LIMIT 1
)
UPDATE notification_outbox
SET status = ?, claim_id = ?, lease_until = ?, attempts = attempts + 1, updated_at = ?
WHERE id IN (SELECT id FROM claimed)
RETURNING
	id,
	job_id,
	idempotency_key,
	parameters,
	status,
	attempts,
	available_at,
	lease_until,
	claim_id,
	last_error,
	created_at,
	updated_at
`
		return tx.NewRaw(
			query,
			outboxStatusPending,
			now,
			outboxStatusProcessing,
			now,
			outboxStatusProcessing,
			claimID,
			leaseUntil,
			now,
		).Scan(ctx, &records)
	})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, core.ErrQueueEmpty
	}
	record := records[0]
	return &outboxDelivery{
		queue:   q,
		id:      record.ID,
		claimID: claimID,
		attempt: record.Attempts,
		msg: &core.JobExecutionMessage{
			JobID:          record.JobID,
			Parameters:     copyAnyMap(record.Parameters),
			IdempotencyKey: record.IdempotencyKey,
		},
	}, nil
}

// Counts reports how many rows sit in each status.
func (q *OutboxQueue) Counts(ctx context.Context) (map[string]int, error) {
	if q == nil || q.db == nil {
		return nil, fmt.Errorf("sqlstore: outbox queue is not configured")
	}
	var rows []struct {
		Status string `bun:"status"`
		Total  int    `bun:"total"`
	}
	if err := q.db.NewSelect().
		Model((*outboxRecord)(nil)).
		Column("status").
		ColumnExpr("COUNT(*) AS total").
		Group("status").
		Scan(ctx, &rows); err != nil {
		return nil, err
	}
	out := map[string]int{
		outboxStatusPending:    0,
		outboxStatusProcessing: 0,
		outboxStatusCompleted:  0,
		outboxStatusDead:       0,
	}
	for _, row := range rows {
		out[row.Status] = row.Total
	}
	return out, nil
}

func (q *OutboxQueue) settle(ctx context.Context, id string, claimID string, apply func(*bun.UpdateQuery) *bun.UpdateQuery) error {
	res, err := apply(q.db.NewUpdate().
		Model((*outboxRecord)(nil)).
		Set("claim_id = NULL").
		Set("lease_until = NULL").
		Set("updated_at = ?", q.now().UTC()).
		Where("id = ?", id).
		Where("claim_id = ?", claimID)).
		Exec(ctx)
	if err != nil {
		return err
	}
	if rows, rowsErr := res.RowsAffected(); rowsErr == nil && rows == 0 {
		return fmt.Errorf("sqlstore: outbox claim %q is no longer held", claimID)
	}
	return nil
}

type outboxDelivery struct {
	queue   *OutboxQueue
	id      string
	claimID string
	attempt int
	msg     *core.JobExecutionMessage
}

func (d *outboxDelivery) Message() *core.JobExecutionMessage { return d.msg }

func (d *outboxDelivery) Attempt() int { return d.attempt }

func (d *outboxDelivery) Ack(ctx context.Context) error {
	return d.queue.settle(ctx, d.id, d.claimID, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Set("status = ?", outboxStatusCompleted).Set("last_error = ?", "")
	})
}

// Nack returns the row to pending after opts.Delay when Requeue is set and
// parks it as dead otherwise.
func (d *outboxDelivery) Nack(ctx context.Context, opts core.JobNackOptions) error {
	reason := strings.TrimSpace(opts.Reason)
	if opts.DeadLetter || !opts.Requeue {
		return d.queue.settle(ctx, d.id, d.claimID, func(q *bun.UpdateQuery) *bun.UpdateQuery {
			return q.Set("status = ?", outboxStatusDead).Set("last_error = ?", reason)
		})
	}
	delay := opts.Delay
	if delay < 0 {
		delay = 0
	}
	availableAt := d.queue.now().UTC().Add(delay)
	return d.queue.settle(ctx, d.id, d.claimID, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.
			Set("status = ?", outboxStatusPending).
			Set("available_at = ?", availableAt).
			Set("last_error = ?", reason)
	})
}

var (
	_ core.JobEnqueuer       = (*OutboxQueue)(nil)
	_ core.JobDequeuer       = (*OutboxQueue)(nil)
	_ core.JobAttemptCounter = (*outboxDelivery)(nil)
)
