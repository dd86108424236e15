package sqlstore

import (
	"context"
	"fmt"
	"iter"
	"net/url"
	"strings"

	"github.com/goliatone/go-govnotify/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const subscriptionCacheKeyPrefix = "govnotify::subscription::v1"

// CachedSubscriptionStore serves single-user reads through a read-through
// cache and invalidates on every write. Full scans always hit the base store.
type CachedSubscriptionStore struct {
	base  core.SubscriptionStore
	cache repositorycache.CacheService
}

func NewCachedSubscriptionStore(
	base core.SubscriptionStore,
	cacheService repositorycache.CacheService,
) (*CachedSubscriptionStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base subscription store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: subscription cache service is required")
	}
	return &CachedSubscriptionStore{base: base, cache: cacheService}, nil
}

// SubscriptionCacheKey returns govnotify::subscription::v1::<user id> with the
// user id URL-path escaped.
func SubscriptionCacheKey(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", core.ErrInvalidUserID
	}
	return subscriptionCacheKeyPrefix + "::" + url.PathEscape(userID), nil
}

func (s *CachedSubscriptionStore) Get(ctx context.Context, userID string) (core.Subscription, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Subscription{}, fmt.Errorf("sqlstore: cached subscription store is not configured")
	}
	cacheKey, err := SubscriptionCacheKey(userID)
	if err != nil {
		return core.Subscription{}, err
	}
	sub, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (core.Subscription, error) {
		return s.base.Get(ctx, strings.TrimSpace(userID))
	})
	if err != nil {
		return core.Subscription{}, err
	}
	return cloneSubscription(sub), nil
}

func (s *CachedSubscriptionStore) Upsert(ctx context.Context, userID string, delta core.SubscriptionDelta) (core.Subscription, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Subscription{}, fmt.Errorf("sqlstore: cached subscription store is not configured")
	}
	sub, err := s.base.Upsert(ctx, userID, delta)
	if err != nil {
		return core.Subscription{}, err
	}
	if err := s.invalidate(ctx, userID); err != nil {
		return core.Subscription{}, err
	}
	return sub, nil
}

func (s *CachedSubscriptionStore) Remove(ctx context.Context, userID string, delta core.SubscriptionDelta) (core.Subscription, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Subscription{}, fmt.Errorf("sqlstore: cached subscription store is not configured")
	}
	sub, err := s.base.Remove(ctx, userID, delta)
	if err != nil {
		return core.Subscription{}, err
	}
	if err := s.invalidate(ctx, userID); err != nil {
		return core.Subscription{}, err
	}
	return sub, nil
}

func (s *CachedSubscriptionStore) ListAll(ctx context.Context) iter.Seq2[core.Subscription, error] {
	if s == nil || s.base == nil {
		return func(yield func(core.Subscription, error) bool) {
			yield(core.Subscription{}, fmt.Errorf("sqlstore: cached subscription store is not configured"))
		}
	}
	return s.base.ListAll(ctx)
}

func (s *CachedSubscriptionStore) ListPage(ctx context.Context, cursor string, limit int) (core.SubscriptionPage, error) {
	pager, ok := s.base.(core.SubscriptionPager)
	if !ok {
		return core.SubscriptionPage{}, fmt.Errorf("sqlstore: base subscription store does not support paging")
	}
	return pager.ListPage(ctx, cursor, limit)
}

func (s *CachedSubscriptionStore) invalidate(ctx context.Context, userID string) error {
	cacheKey, err := SubscriptionCacheKey(userID)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}

func cloneSubscription(sub core.Subscription) core.Subscription {
	out := sub
	out.Projects = append([]string{}, sub.Projects...)
	out.Keywords = append([]string{}, sub.Keywords...)
	out.Symbols = append([]string{}, sub.Symbols...)
	return out
}

var (
	_ core.SubscriptionStore = (*CachedSubscriptionStore)(nil)
	_ core.SubscriptionPager = (*CachedSubscriptionStore)(nil)
)
