package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/goliatone/go-govnotify/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

type EventStore struct {
	db   *bun.DB
	repo repository.Repository[*eventRecord]
}

func NewEventStore(db *bun.DB) (*EventStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*eventRecord](db, eventHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid event repository wiring: %w", err)
		}
	}
	return &EventStore{db: db, repo: repo}, nil
}

// Save inserts the event once. A second save with the same id returns the
// stored row untouched and created=false.
func (s *EventStore) Save(ctx context.Context, event core.Event) (core.Event, bool, error) {
	if s == nil || s.db == nil {
		return core.Event{}, false, fmt.Errorf("sqlstore: event store is not configured")
	}
	eventID := strings.TrimSpace(event.EventID)
	if eventID == "" {
		return core.Event{}, false, fmt.Errorf("%w: event_id is required", core.ErrInvalidEvent)
	}
	event.EventID = eventID

	record := newEventRecord(event)
	res, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (event_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return core.Event{}, false, err
	}
	created := false
	if rows, rowsErr := res.RowsAffected(); rowsErr == nil && rows > 0 {
		created = true
	}
	stored, err := s.Get(ctx, eventID)
	if err != nil {
		return core.Event{}, false, err
	}
	return stored, created, nil
}

func (s *EventStore) Get(ctx context.Context, eventID string) (core.Event, error) {
	if s == nil || s.repo == nil {
		return core.Event{}, fmt.Errorf("sqlstore: event store is not configured")
	}
	eventID = strings.TrimSpace(eventID)
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("event_id", "=", eventID),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Event{}, fmt.Errorf("%w: %q", core.ErrEventNotFound, eventID)
		}
		return core.Event{}, err
	}
	if len(records) == 0 {
		return core.Event{}, fmt.Errorf("%w: %q", core.ErrEventNotFound, eventID)
	}
	return records[0].toDomain(), nil
}

var _ core.EventStore = (*EventStore)(nil)
