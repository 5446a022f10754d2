package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/thomasrutger/Connector/core"
)

const processCacheKeyPrefix = "connector::process::v1"

// CachedProcessStore serves FindByCorrelation from a read-through cache.
// Writes go to the base store and evict the record's cache entry, so every
// writer of the same rows must share the cache service.
type CachedProcessStore[R any] struct {
	base     core.ProcessStore[R]
	cache    repositorycache.CacheService
	kind     core.ProcessKind
	identity func(R) (string, core.Role)
}

func NewCachedNegotiationStore(base core.NegotiationStore, cacheService repositorycache.CacheService) (*CachedProcessStore[core.ContractNegotiation], error) {
	return newCachedProcessStore(base, cacheService, core.ProcessNegotiation, func(record core.ContractNegotiation) (string, core.Role) {
		return record.CorrelationID, record.Role
	})
}

func NewCachedTransferStore(base core.TransferStore, cacheService repositorycache.CacheService) (*CachedProcessStore[core.TransferProcess], error) {
	return newCachedProcessStore(base, cacheService, core.ProcessTransfer, func(record core.TransferProcess) (string, core.Role) {
		return record.CorrelationID, record.Role
	})
}

func newCachedProcessStore[R any](
	base core.ProcessStore[R],
	cacheService repositorycache.CacheService,
	kind core.ProcessKind,
	identity func(R) (string, core.Role),
) (*CachedProcessStore[R], error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base %s store is required", kind)
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: %s cache service is required", kind)
	}
	return &CachedProcessStore[R]{base: base, cache: cacheService, kind: kind, identity: identity}, nil
}

// ProcessCacheKey returns connector::process::v1::<kind>::<role>::<correlation id>
// with each segment URL-path escaped.
func ProcessCacheKey(kind core.ProcessKind, correlationID string, role core.Role) (string, error) {
	correlationID = strings.TrimSpace(correlationID)
	if correlationID == "" {
		return "", fmt.Errorf("sqlstore: correlation id is required")
	}
	if !role.Valid() {
		return "", fmt.Errorf("sqlstore: role %q is invalid", role)
	}
	segments := []string{string(kind), string(role), correlationID}
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(append([]string{processCacheKeyPrefix}, segments...), "::"), nil
}

func (s *CachedProcessStore[R]) Create(ctx context.Context, record R) (R, error) {
	created, err := s.base.Create(ctx, record)
	if err != nil {
		return created, err
	}
	s.evict(ctx, created)
	return created, nil
}

func (s *CachedProcessStore[R]) GetForUpdate(ctx context.Context, id string) (R, int64, error) {
	return s.base.GetForUpdate(ctx, id)
}

func (s *CachedProcessStore[R]) FindByCorrelation(ctx context.Context, correlationID string, role core.Role) (R, error) {
	var zero R
	if s == nil || s.base == nil || s.cache == nil {
		return zero, fmt.Errorf("sqlstore: cached process store is not configured")
	}
	key, err := ProcessCacheKey(s.kind, correlationID, role)
	if err != nil {
		return s.base.FindByCorrelation(ctx, correlationID, role)
	}
	return repositorycache.GetOrFetch(ctx, s.cache, key, func(ctx context.Context) (R, error) {
		return s.base.FindByCorrelation(ctx, correlationID, role)
	})
}

func (s *CachedProcessStore[R]) CompareAndSet(ctx context.Context, id string, version int64, next R) (bool, error) {
	ok, err := s.base.CompareAndSet(ctx, id, version, next)
	if err != nil || !ok {
		return ok, err
	}
	if err := s.evict(ctx, next); err != nil {
		return true, err
	}
	return true, nil
}

func (s *CachedProcessStore[R]) ListDue(ctx context.Context, now time.Time, limit int) ([]R, error) {
	return s.base.ListDue(ctx, now, limit)
}

func (s *CachedProcessStore[R]) ListStale(ctx context.Context, before time.Time, limit int) ([]R, error) {
	return s.base.ListStale(ctx, before, limit)
}

func (s *CachedProcessStore[R]) evict(ctx context.Context, record R) error {
	correlationID, role := s.identity(record)
	key, err := ProcessCacheKey(s.kind, correlationID, role)
	if err != nil {
		return nil
	}
	return s.cache.Delete(ctx, key)
}

var (
	_ core.NegotiationStore = (*CachedProcessStore[core.ContractNegotiation])(nil)
	_ core.TransferStore    = (*CachedProcessStore[core.TransferProcess])(nil)
)
