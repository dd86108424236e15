package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-govnotify/core"
	"github.com/uptrace/bun"
)

// MatchRecordStore keeps one row per recipient, so marking a recipient
// delivered is a single-row update that never touches its siblings.
type MatchRecordStore struct {
	db *bun.DB
}

func NewMatchRecordStore(db *bun.DB) (*MatchRecordStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &MatchRecordStore{db: db}, nil
}

func (s *MatchRecordStore) Create(ctx context.Context, record core.MatchRecord) (core.MatchRecord, bool, error) {
	if s == nil || s.db == nil {
		return core.MatchRecord{}, false, fmt.Errorf("sqlstore: match record store is not configured")
	}
	eventID := strings.TrimSpace(record.EventID)
	if eventID == "" {
		return core.MatchRecord{}, false, fmt.Errorf("sqlstore: match record event id is required")
	}
	createdAt := record.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	created := false
	var out core.MatchRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		row := &matchRecordRow{EventID: eventID, Event: record.Event, CreatedAt: createdAt}
		res, err := tx.NewInsert().
			Model(row).
			On("CONFLICT (event_id) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return err
		}
		if rows, rowsErr := res.RowsAffected(); rowsErr == nil && rows > 0 {
			created = true
			deliveries := make([]matchDeliveryRecord, 0, len(record.Deliveries))
			for _, userID := range record.Recipients() {
				status := record.Deliveries[userID]
				deliveries = append(deliveries, matchDeliveryRecord{
					EventID:     eventID,
					UserID:      userID,
					Delivered:   status.Delivered,
					DeliveredAt: timePointer(status.DeliveredAt),
					Attempts:    status.Attempts,
					LastError:   status.LastError,
					UpdatedAt:   createdAt,
				})
			}
			if len(deliveries) > 0 {
				if _, err := tx.NewInsert().Model(&deliveries).Exec(ctx); err != nil {
					return err
				}
			}
		}
		loaded, err := loadMatchRecord(ctx, tx, eventID)
		if err != nil {
			return err
		}
		out = loaded
		return nil
	})
	if err != nil {
		return core.MatchRecord{}, false, err
	}
	return out, created, nil
}

func (s *MatchRecordStore) Get(ctx context.Context, eventID string) (core.MatchRecord, error) {
	if s == nil || s.db == nil {
		return core.MatchRecord{}, fmt.Errorf("sqlstore: match record store is not configured")
	}
	return loadMatchRecord(ctx, s.db, strings.TrimSpace(eventID))
}

func (s *MatchRecordStore) MarkDelivered(ctx context.Context, eventID string, userID string, at time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: match record store is not configured")
	}
	at = at.UTC()
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return s.updateEntry(ctx, eventID, userID, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.
			Set("delivered = ?", true).
			Set("delivered_at = ?", at).
			Set("attempts = attempts + 1").
			Set("updated_at = ?", at)
	})
}

func (s *MatchRecordStore) RecordFailure(ctx context.Context, eventID string, userID string, reason string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: match record store is not configured")
	}
	now := time.Now().UTC()
	return s.updateEntry(ctx, eventID, userID, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.
			Set("attempts = attempts + 1").
			Set("last_error = ?", strings.TrimSpace(reason)).
			Set("updated_at = ?", now)
	})
}

// updateEntry only touches pending rows. When nothing changes it checks
// whether the row is already delivered (a no-op) or missing (an error).
func (s *MatchRecordStore) updateEntry(
	ctx context.Context,
	eventID string,
	userID string,
	apply func(*bun.UpdateQuery) *bun.UpdateQuery,
) error {
	eventID = strings.TrimSpace(eventID)
	userID = strings.TrimSpace(userID)

	q := s.db.NewUpdate().
		Model((*matchDeliveryRecord)(nil)).
		Where("event_id = ?", eventID).
		Where("user_id = ?", userID).
		Where("delivered = ?", false)
	res, err := apply(q).Exec(ctx)
	if err != nil {
		return err
	}
	if rows, rowsErr := res.RowsAffected(); rowsErr == nil && rows > 0 {
		return nil
	}

	exists, err := s.db.NewSelect().
		Model((*matchDeliveryRecord)(nil)).
		Where("?TableAlias.event_id = ?", eventID).
		Where("?TableAlias.user_id = ?", userID).
		Exists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	recordExists, err := s.db.NewSelect().
		Model((*matchRecordRow)(nil)).
		Where("?TableAlias.event_id = ?", eventID).
		Exists(ctx)
	if err != nil {
		return err
	}
	if !recordExists {
		return fmt.Errorf("%w: %q", core.ErrMatchRecordNotFound, eventID)
	}
	return fmt.Errorf("sqlstore: user %q is not a recipient of event %q", userID, eventID)
}

func loadMatchRecord(ctx context.Context, db bun.IDB, eventID string) (core.MatchRecord, error) {
	row := matchRecordRow{}
	err := db.NewSelect().
		Model(&row).
		Where("?TableAlias.event_id = ?", eventID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.MatchRecord{}, fmt.Errorf("%w: %q", core.ErrMatchRecordNotFound, eventID)
		}
		return core.MatchRecord{}, err
	}
	var deliveries []matchDeliveryRecord
	if err := db.NewSelect().
		Model(&deliveries).
		Where("?TableAlias.event_id = ?", eventID).
		OrderExpr("?TableAlias.user_id ASC").
		Scan(ctx); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return core.MatchRecord{}, err
	}
	return matchRecordToDomain(row, deliveries), nil
}

var _ core.MatchRecordStore = (*MatchRecordStore)(nil)
