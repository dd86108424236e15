package inbound

import (
	"context"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

type claimState int

const (
	claimProcessing claimState = iota
	claimReleased
	claimComplete
)

type claimEntry struct {
	state     claimState
	claimID   string
	attempts  int
	ttl       time.Duration
	expiresAt time.Time
	retryAt   time.Time
}

// MemoryClaimStore keeps idempotency claims in process memory. Completed keys
// are forgotten once their TTL passes.
type MemoryClaimStore struct {
	mu      sync.Mutex
	entries map[string]*claimEntry
	claims  map[string]string
	Now     func() time.Time
}

func NewMemoryClaimStore() *MemoryClaimStore {
	return &MemoryClaimStore{
		entries: map[string]*claimEntry{},
		claims:  map[string]string{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (s *MemoryClaimStore) Claim(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	if s == nil {
		return "", false, inboundFailure(nil, goerrors.CategoryInternal, "inbound: claim store is nil", nil)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false, inboundFailure(nil, goerrors.CategoryBadInput, "inbound: idempotency key is required", nil)
	}
	if ttl <= 0 {
		ttl = defaultKeyTTL
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked(now)

	entry, exists := s.entries[key]
	if exists {
		switch entry.state {
		case claimComplete, claimProcessing:
			if now.Before(entry.expiresAt) {
				return "", false, nil
			}
		case claimReleased:
			if now.Before(entry.retryAt) {
				return "", false, nil
			}
		}
		delete(s.claims, entry.claimID)
	} else {
		entry = &claimEntry{}
		s.entries[key] = entry
	}

	claimID := uuid.NewString()
	entry.state = claimProcessing
	entry.claimID = claimID
	entry.attempts++
	entry.ttl = ttl
	entry.expiresAt = now.Add(ttl)
	entry.retryAt = time.Time{}
	s.claims[claimID] = key
	return claimID, true, nil
}

func (s *MemoryClaimStore) Complete(_ context.Context, claimID string) error {
	return s.settle(claimID, func(entry *claimEntry, now time.Time) {
		entry.state = claimComplete
		entry.expiresAt = now.Add(entry.ttl)
	})
}

func (s *MemoryClaimStore) Fail(_ context.Context, claimID string, _ error, retryAt time.Time) error {
	return s.settle(claimID, func(entry *claimEntry, now time.Time) {
		if retryAt.IsZero() {
			retryAt = now
		}
		entry.state = claimReleased
		entry.retryAt = retryAt.UTC()
		entry.expiresAt = time.Time{}
	})
}

// Attempts reports how many times key has been claimed.
func (s *MemoryClaimStore) Attempts(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[strings.TrimSpace(key)]; ok {
		return entry.attempts
	}
	return 0
}

// settle applies fn to the entry still held by claimID. Stale claim ids are
// ignored.
func (s *MemoryClaimStore) settle(claimID string, fn func(entry *claimEntry, now time.Time)) error {
	if s == nil {
		return inboundFailure(nil, goerrors.CategoryInternal, "inbound: claim store is nil", nil)
	}
	claimID = strings.TrimSpace(claimID)
	if claimID == "" {
		return inboundFailure(nil, goerrors.CategoryBadInput, "inbound: claim id is required", nil)
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.claims[claimID]
	if !ok {
		return nil
	}
	delete(s.claims, claimID)
	entry := s.entries[key]
	if entry == nil || entry.claimID != claimID || entry.state != claimProcessing {
		return nil
	}
	fn(entry, now)
	return nil
}

func (s *MemoryClaimStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *MemoryClaimStore) evictLocked(now time.Time) {
	for key, entry := range s.entries {
		if entry.state == claimComplete && !now.Before(entry.expiresAt) {
			delete(s.entries, key)
		}
	}
}

var _ ClaimStore = (*MemoryClaimStore)(nil)
