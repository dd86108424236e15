package core

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"strings"
	"sync"
	"time"
)

// KeyedLocker serializes callers that share a key while letting different
// keys proceed in parallel.
type KeyedLocker struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{locks: map[string]*keyedLock{}}
}

// Lock blocks until key is free and returns the matching unlock function.
func (l *KeyedLocker) Lock(key string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = map[string]*keyedLock{}
	}
	entry, ok := l.locks[key]
	if !ok {
		entry = &keyedLock{}
		l.locks[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			entry.mu.Unlock()
			l.mu.Lock()
			entry.refs--
			if entry.refs == 0 {
				delete(l.locks, key)
			}
			l.mu.Unlock()
		})
	}
}

type MemorySubscriptionStore struct {
	mu     sync.RWMutex
	items  map[string]Subscription
	locker *KeyedLocker
	now    func() time.Time
}

func NewMemorySubscriptionStore() *MemorySubscriptionStore {
	return &MemorySubscriptionStore{
		items:  map[string]Subscription{},
		locker: NewKeyedLocker(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemorySubscriptionStore) Upsert(ctx context.Context, userID string, delta SubscriptionDelta) (Subscription, error) {
	return s.mutate(ctx, userID, func(current Subscription) Subscription {
		return current.ApplyUpsert(delta)
	})
}

func (s *MemorySubscriptionStore) Remove(ctx context.Context, userID string, delta SubscriptionDelta) (Subscription, error) {
	return s.mutate(ctx, userID, func(current Subscription) Subscription {
		return current.ApplyRemove(delta)
	})
}

func (s *MemorySubscriptionStore) mutate(ctx context.Context, userID string, fn func(Subscription) Subscription) (Subscription, error) {
	if s == nil {
		return Subscription{}, fmt.Errorf("core: subscription store is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Subscription{}, ErrInvalidUserID
	}
	if err := ctx.Err(); err != nil {
		return Subscription{}, err
	}
	unlock := s.locker.Lock(userID)
	defer unlock()

	current, _ := s.Get(ctx, userID)
	next := fn(current)
	next.UserID = userID
	next.UpdatedAt = s.now()

	s.mu.Lock()
	s.items[userID] = next
	s.mu.Unlock()
	return next, nil
}

func (s *MemorySubscriptionStore) Get(_ context.Context, userID string) (Subscription, error) {
	if s == nil {
		return Subscription{}, fmt.Errorf("core: subscription store is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Subscription{}, ErrInvalidUserID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[userID]
	if !ok {
		return EmptySubscription(userID), nil
	}
	return item.clone(), nil
}

func (s *MemorySubscriptionStore) ListAll(ctx context.Context) iter.Seq2[Subscription, error] {
	return func(yield func(Subscription, error) bool) {
		if s == nil {
			yield(Subscription{}, fmt.Errorf("core: subscription store is not configured"))
			return
		}
		for _, userID := range s.sortedUserIDs("") {
			if err := ctx.Err(); err != nil {
				yield(Subscription{}, err)
				return
			}
			s.mu.RLock()
			item, ok := s.items[userID]
			s.mu.RUnlock()
			if !ok {
				continue
			}
			if !yield(item.clone(), nil) {
				return
			}
		}
	}
}

func (s *MemorySubscriptionStore) ListPage(_ context.Context, cursor string, limit int) (SubscriptionPage, error) {
	if s == nil {
		return SubscriptionPage{}, fmt.Errorf("core: subscription store is not configured")
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	ids := s.sortedUserIDs(strings.TrimSpace(cursor))
	page := SubscriptionPage{Items: []Subscription{}}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, userID := range ids {
		if len(page.Items) == limit {
			page.NextCursor = page.Items[len(page.Items)-1].UserID
			break
		}
		if item, ok := s.items[userID]; ok {
			page.Items = append(page.Items, item.clone())
		}
	}
	return page, nil
}

func (s *MemorySubscriptionStore) sortedUserIDs(after string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.items))
	for userID := range s.items {
		if after != "" && userID <= after {
			continue
		}
		ids = append(ids, userID)
	}
	sort.Strings(ids)
	return ids
}

type MemoryEventStore struct {
	mu     sync.RWMutex
	events map[string]Event
}

func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{events: map[string]Event{}}
}

func (s *MemoryEventStore) Save(_ context.Context, event Event) (Event, bool, error) {
	if s == nil {
		return Event{}, false, fmt.Errorf("core: event store is not configured")
	}
	eventID := strings.TrimSpace(event.EventID)
	if eventID == "" {
		return Event{}, false, fmt.Errorf("%w: event_id is required", ErrInvalidEvent)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.events[eventID]; ok {
		return existing, false, nil
	}
	s.events[eventID] = event
	return event, true, nil
}

func (s *MemoryEventStore) Get(_ context.Context, eventID string) (Event, error) {
	if s == nil {
		return Event{}, fmt.Errorf("core: event store is not configured")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	event, ok := s.events[strings.TrimSpace(eventID)]
	if !ok {
		return Event{}, fmt.Errorf("%w: %q", ErrEventNotFound, eventID)
	}
	return event, nil
}

// MemoryMatchRecordStore applies every status change as an update of a
// single recipient entry under the store lock.
type MemoryMatchRecordStore struct {
	mu      sync.Mutex
	records map[string]MatchRecord
}

func NewMemoryMatchRecordStore() *MemoryMatchRecordStore {
	return &MemoryMatchRecordStore{records: map[string]MatchRecord{}}
}

func (s *MemoryMatchRecordStore) Create(_ context.Context, record MatchRecord) (MatchRecord, bool, error) {
	if s == nil {
		return MatchRecord{}, false, fmt.Errorf("core: match record store is not configured")
	}
	eventID := strings.TrimSpace(record.EventID)
	if eventID == "" {
		return MatchRecord{}, false, fmt.Errorf("core: match record event id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[eventID]; ok {
		return copyMatchRecord(existing), false, nil
	}
	record.EventID = eventID
	s.records[eventID] = copyMatchRecord(record)
	return copyMatchRecord(record), true, nil
}

func (s *MemoryMatchRecordStore) Get(_ context.Context, eventID string) (MatchRecord, error) {
	if s == nil {
		return MatchRecord{}, fmt.Errorf("core: match record store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[strings.TrimSpace(eventID)]
	if !ok {
		return MatchRecord{}, fmt.Errorf("%w: %q", ErrMatchRecordNotFound, eventID)
	}
	return copyMatchRecord(record), nil
}

func (s *MemoryMatchRecordStore) MarkDelivered(_ context.Context, eventID string, userID string, at time.Time) error {
	return s.updateEntry(eventID, userID, func(status DeliveryStatus) DeliveryStatus {
		if status.Delivered {
			return status
		}
		status.Delivered = true
		status.DeliveredAt = at
		status.Attempts++
		return status
	})
}

func (s *MemoryMatchRecordStore) RecordFailure(_ context.Context, eventID string, userID string, reason string) error {
	return s.updateEntry(eventID, userID, func(status DeliveryStatus) DeliveryStatus {
		if status.Delivered {
			return status
		}
		status.Attempts++
		status.LastError = strings.TrimSpace(reason)
		return status
	})
}

func (s *MemoryMatchRecordStore) updateEntry(eventID string, userID string, fn func(DeliveryStatus) DeliveryStatus) error {
	if s == nil {
		return fmt.Errorf("core: match record store is not configured")
	}
	eventID = strings.TrimSpace(eventID)
	userID = strings.TrimSpace(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[eventID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrMatchRecordNotFound, eventID)
	}
	status, ok := record.Deliveries[userID]
	if !ok {
		return fmt.Errorf("core: user %q is not a recipient of event %q", userID, eventID)
	}
	record.Deliveries[userID] = fn(status)
	return nil
}

func copyMatchRecord(record MatchRecord) MatchRecord {
	out := record
	out.Deliveries = make(map[string]DeliveryStatus, len(record.Deliveries))
	for userID, status := range record.Deliveries {
		out.Deliveries[userID] = status
	}
	out.Event.Choices = append([]string(nil), record.Event.Choices...)
	out.Event.Tickers = append([]string(nil), record.Event.Tickers...)
	return out
}

var (
	_ SubscriptionStore = (*MemorySubscriptionStore)(nil)
	_ SubscriptionPager = (*MemorySubscriptionStore)(nil)
	_ EventStore        = (*MemoryEventStore)(nil)
	_ MatchRecordStore  = (*MemoryMatchRecordStore)(nil)
)
