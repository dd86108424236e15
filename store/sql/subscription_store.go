package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/goliatone/go-govnotify/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

const defaultSubscriptionPageSize = 500

// SubscriptionStore keeps one row per user plus one row per subscribed term,
// so concurrent subscribes for different values never overwrite each other.
type SubscriptionStore struct {
	db       *bun.DB
	repo     repository.Repository[*subscriptionRecord]
	pageSize int
}

func NewSubscriptionStore(db *bun.DB) (*SubscriptionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*subscriptionRecord](db, subscriptionHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid subscription repository wiring: %w", err)
		}
	}
	return &SubscriptionStore{
		db:       db,
		repo:     repo,
		pageSize: defaultSubscriptionPageSize,
	}, nil
}

func (s *SubscriptionStore) Upsert(ctx context.Context, userID string, delta core.SubscriptionDelta) (core.Subscription, error) {
	if s == nil || s.db == nil {
		return core.Subscription{}, fmt.Errorf("sqlstore: subscription store is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return core.Subscription{}, core.ErrInvalidUserID
	}
	delta = delta.Normalized()
	now := time.Now().UTC()

	var out core.Subscription
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := ensureSubscriptionRow(ctx, tx, userID, now); err != nil {
			return err
		}
		if terms := termsForDelta(userID, delta, now); len(terms) > 0 {
			if _, err := tx.NewInsert().
				Model(&terms).
				On("CONFLICT (user_id, kind, value) DO NOTHING").
				Exec(ctx); err != nil {
				return err
			}
		}
		update := tx.NewUpdate().
			Model((*subscriptionRecord)(nil)).
			Set("updated_at = ?", now).
			Where("user_id = ?", userID)
		if delta.Tickers || len(delta.Symbols) > 0 {
			update = update.Set("tickers = ?", true)
		}
		if _, err := update.Exec(ctx); err != nil {
			return err
		}
		loaded, err := loadSubscription(ctx, tx, userID)
		if err != nil {
			return err
		}
		out = loaded
		return nil
	})
	if err != nil {
		return core.Subscription{}, err
	}
	return out, nil
}

func (s *SubscriptionStore) Remove(ctx context.Context, userID string, delta core.SubscriptionDelta) (core.Subscription, error) {
	if s == nil || s.db == nil {
		return core.Subscription{}, fmt.Errorf("sqlstore: subscription store is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return core.Subscription{}, core.ErrInvalidUserID
	}
	delta = delta.Normalized()
	now := time.Now().UTC()

	var out core.Subscription
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := ensureSubscriptionRow(ctx, tx, userID, now); err != nil {
			return err
		}
		var removedSymbols int64
		for kind, values := range map[string][]string{
			termKindProject: delta.Projects,
			termKindKeyword: delta.Keywords,
			termKindSymbol:  delta.Symbols,
		} {
			if len(values) == 0 {
				continue
			}
			res, err := tx.NewDelete().
				Model((*subscriptionTermRecord)(nil)).
				Where("user_id = ?", userID).
				Where("kind = ?", kind).
				Where("value IN (?)", bun.In(values)).
				Exec(ctx)
			if err != nil {
				return err
			}
			if kind == termKindSymbol {
				if n, err := res.RowsAffected(); err == nil {
					removedSymbols = n
				}
			}
		}
		update := tx.NewUpdate().
			Model((*subscriptionRecord)(nil)).
			Set("updated_at = ?", now).
			Where("user_id = ?", userID)
		clearTickers := delta.Tickers
		if !clearTickers && removedSymbols > 0 {
			remaining, err := tx.NewSelect().
				Model((*subscriptionTermRecord)(nil)).
				Where("user_id = ?", userID).
				Where("kind = ?", termKindSymbol).
				Count(ctx)
			if err != nil {
				return err
			}
			clearTickers = remaining == 0
		}
		if clearTickers {
			update = update.Set("tickers = ?", false)
		}
		if _, err := update.Exec(ctx); err != nil {
			return err
		}
		loaded, err := loadSubscription(ctx, tx, userID)
		if err != nil {
			return err
		}
		out = loaded
		return nil
	})
	if err != nil {
		return core.Subscription{}, err
	}
	return out, nil
}

// Get returns an empty subscription for unknown users.
func (s *SubscriptionStore) Get(ctx context.Context, userID string) (core.Subscription, error) {
	if s == nil || s.db == nil {
		return core.Subscription{}, fmt.Errorf("sqlstore: subscription store is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return core.Subscription{}, core.ErrInvalidUserID
	}
	return loadSubscription(ctx, s.db, userID)
}

// ListAll walks every subscription in user id order, one keyset page at a
// time, so the whole table is never held in memory.
func (s *SubscriptionStore) ListAll(ctx context.Context) iter.Seq2[core.Subscription, error] {
	return func(yield func(core.Subscription, error) bool) {
		if s == nil || s.db == nil {
			yield(core.Subscription{}, fmt.Errorf("sqlstore: subscription store is not configured"))
			return
		}
		cursor := ""
		for {
			page, err := s.ListPage(ctx, cursor, s.pageSize)
			if err != nil {
				yield(core.Subscription{}, err)
				return
			}
			for _, sub := range page.Items {
				if !yield(sub, nil) {
					return
				}
			}
			if page.NextCursor == "" {
				return
			}
			cursor = page.NextCursor
		}
	}
}

func (s *SubscriptionStore) ListPage(ctx context.Context, cursor string, limit int) (core.SubscriptionPage, error) {
	if s == nil || s.db == nil || s.repo == nil {
		return core.SubscriptionPage{}, fmt.Errorf("sqlstore: subscription store is not configured")
	}
	if limit <= 0 {
		limit = s.pageSize
	}
	criteria := []repository.SelectCriteria{
		repository.OrderBy("user_id ASC"),
		repository.SelectPaginate(limit+1, 0),
	}
	if cursor = strings.TrimSpace(cursor); cursor != "" {
		criteria = append(criteria, repository.SelectBy("user_id", ">", cursor))
	}
	records, _, err := s.repo.List(ctx, criteria...)
	if err != nil {
		return core.SubscriptionPage{}, err
	}

	page := core.SubscriptionPage{Items: []core.Subscription{}}
	if len(records) > limit {
		records = records[:limit]
		page.NextCursor = records[len(records)-1].UserID
	}
	if len(records) == 0 {
		return page, nil
	}

	userIDs := make([]string, 0, len(records))
	for _, record := range records {
		userIDs = append(userIDs, record.UserID)
	}
	var terms []subscriptionTermRecord
	if err := s.db.NewSelect().
		Model(&terms).
		Where("?TableAlias.user_id IN (?)", bun.In(userIDs)).
		Scan(ctx); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return core.SubscriptionPage{}, err
	}
	byUser := make(map[string][]subscriptionTermRecord, len(records))
	for _, term := range terms {
		byUser[term.UserID] = append(byUser[term.UserID], term)
	}
	for _, record := range records {
		page.Items = append(page.Items, subscriptionToDomain(*record, byUser[record.UserID]))
	}
	return page, nil
}

func ensureSubscriptionRow(ctx context.Context, db bun.IDB, userID string, now time.Time) error {
	_, err := db.NewInsert().
		Model(&subscriptionRecord{UserID: userID, CreatedAt: now, UpdatedAt: now}).
		On("CONFLICT (user_id) DO NOTHING").
		Exec(ctx)
	return err
}

func loadSubscription(ctx context.Context, db bun.IDB, userID string) (core.Subscription, error) {
	record := subscriptionRecord{}
	err := db.NewSelect().
		Model(&record).
		Where("?TableAlias.user_id = ?", userID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.EmptySubscription(userID), nil
		}
		return core.Subscription{}, err
	}
	var terms []subscriptionTermRecord
	if err := db.NewSelect().
		Model(&terms).
		Where("?TableAlias.user_id = ?", userID).
		Scan(ctx); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return core.Subscription{}, err
	}
	return subscriptionToDomain(record, terms), nil
}

var (
	_ core.SubscriptionStore = (*SubscriptionStore)(nil)
	_ core.SubscriptionPager = (*SubscriptionStore)(nil)
)
