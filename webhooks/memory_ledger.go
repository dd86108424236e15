package webhooks

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLedger is a process-local DeliveryLedger for development and tests.
// It follows the same lease rules as the SQL ledger.
type MemoryLedger struct {
	mu      sync.Mutex
	records map[string]*memoryLedgerEntry
	claims  map[string]string
	now     func() time.Time
}

type memoryLedgerEntry struct {
	record     DeliveryRecord
	leaseUntil time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		records: map[string]*memoryLedgerEntry{},
		claims:  map[string]string{},
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// SetClock replaces the ledger clock.
func (l *MemoryLedger) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if now != nil {
		l.now = now
	}
}

func (l *MemoryLedger) Claim(
	_ context.Context,
	providerID string,
	deliveryID string,
	_ []byte,
	lease time.Duration,
) (DeliveryRecord, bool, error) {
	providerID = strings.TrimSpace(providerID)
	deliveryID = strings.TrimSpace(deliveryID)
	if providerID == "" || deliveryID == "" {
		return DeliveryRecord{}, false, fmt.Errorf("webhooks: provider id and delivery id are required")
	}
	if lease <= 0 {
		lease = defaultClaimLease
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now().UTC()
	key := ledgerKey(providerID, deliveryID)
	entry, ok := l.records[key]
	if !ok {
		entry = &memoryLedgerEntry{record: DeliveryRecord{
			ID:         uuid.NewString(),
			ProviderID: providerID,
			DeliveryID: deliveryID,
			Status:     DeliveryStatusPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}}
		l.records[key] = entry
	}

	if !claimable(entry, now) {
		return entry.record, false, nil
	}
	if entry.record.ClaimID != "" {
		delete(l.claims, entry.record.ClaimID)
	}
	claimID := uuid.NewString()
	entry.record.ClaimID = claimID
	entry.record.Status = DeliveryStatusProcessing
	entry.record.Attempts++
	entry.record.UpdatedAt = now
	entry.leaseUntil = now.Add(lease)
	l.claims[claimID] = key
	return entry.record, true, nil
}

func claimable(entry *memoryLedgerEntry, now time.Time) bool {
	switch entry.record.Status {
	case DeliveryStatusPending, DeliveryStatusRetryReady:
		next := entry.record.NextAttemptAt
		return next == nil || !now.Before(next.UTC())
	case DeliveryStatusProcessing:
		return !now.Before(entry.leaseUntil)
	default:
		return false
	}
}

func (l *MemoryLedger) Get(_ context.Context, providerID string, deliveryID string) (DeliveryRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.records[ledgerKey(strings.TrimSpace(providerID), strings.TrimSpace(deliveryID))]
	if !ok {
		return DeliveryRecord{}, fmt.Errorf("webhooks: delivery %s/%s not found", providerID, deliveryID)
	}
	return entry.record, nil
}

func (l *MemoryLedger) Complete(_ context.Context, claimID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry := l.held(claimID)
	if entry == nil {
		return nil
	}
	entry.record.Status = DeliveryStatusProcessed
	entry.record.NextAttemptAt = nil
	entry.record.LastError = ""
	entry.record.UpdatedAt = l.now().UTC()
	entry.leaseUntil = time.Time{}
	return nil
}

func (l *MemoryLedger) Fail(_ context.Context, claimID string, cause error, nextAttemptAt time.Time, maxAttempts int) error {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	entry := l.held(claimID)
	if entry == nil {
		return nil
	}
	now := l.now().UTC()
	if nextAttemptAt.IsZero() {
		nextAttemptAt = now
	}
	if cause != nil {
		entry.record.LastError = strings.TrimSpace(cause.Error())
	}
	entry.record.UpdatedAt = now
	entry.leaseUntil = time.Time{}
	if entry.record.Attempts >= maxAttempts {
		entry.record.Status = DeliveryStatusDead
		entry.record.NextAttemptAt = nil
		return nil
	}
	next := nextAttemptAt.UTC()
	entry.record.Status = DeliveryStatusRetryReady
	entry.record.NextAttemptAt = &next
	return nil
}

// held returns the entry still owned by claimID, or nil for stale claims.
func (l *MemoryLedger) held(claimID string) *memoryLedgerEntry {
	key, ok := l.claims[strings.TrimSpace(claimID)]
	if !ok {
		return nil
	}
	entry := l.records[key]
	if entry == nil || entry.record.ClaimID != strings.TrimSpace(claimID) || entry.record.Status != DeliveryStatusProcessing {
		return nil
	}
	return entry
}

func ledgerKey(providerID string, deliveryID string) string {
	return providerID + "\x00" + deliveryID
}

var _ DeliveryLedger = (*MemoryLedger)(nil)
