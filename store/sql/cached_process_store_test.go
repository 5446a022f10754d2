package sqlstore

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/thomasrutger/Connector/core"
)

type countingNegotiationStore struct {
	core.NegotiationStore

	mu        sync.Mutex
	findCalls int
}

func (s *countingNegotiationStore) FindByCorrelation(ctx context.Context, correlationID string, role core.Role) (core.ContractNegotiation, error) {
	s.mu.Lock()
	s.findCalls++
	s.mu.Unlock()
	return s.NegotiationStore.FindByCorrelation(ctx, correlationID, role)
}

func (s *countingNegotiationStore) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findCalls
}

func newCachedFixture(t *testing.T) (*CachedProcessStore[core.ContractNegotiation], *countingNegotiationStore) {
	t.Helper()
	base := &countingNegotiationStore{NegotiationStore: core.NewMemoryNegotiationStore()}
	cached, err := NewCachedNegotiationStore(base, newTestProcessCacheService(t))
	if err != nil {
		t.Fatalf("new cached store: %v", err)
	}
	return cached, base
}

func TestCachedProcessStore_FindMissFetchThenHit(t *testing.T) {
	ctx := context.Background()
	cached, base := newCachedFixture(t)

	created, err := cached.Create(ctx, core.ContractNegotiation{
		ProcessBase: core.ProcessBase{CorrelationID: "corr-1", Role: core.RoleProvider},
		State:       core.NegotiationRequested,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	for i := 0; i < 3; i++ {
		found, err := cached.FindByCorrelation(ctx, "corr-1", core.RoleProvider)
		if err != nil {
			t.Fatalf("find %d: %v", i, err)
		}
		if found.ID != created.ID {
			t.Fatalf("expected %s, got %s", created.ID, found.ID)
		}
	}
	if base.calls() != 1 {
		t.Fatalf("expected one base fetch, got %d", base.calls())
	}
}

func TestCachedProcessStore_CompareAndSetEvicts(t *testing.T) {
	ctx := context.Background()
	cached, base := newCachedFixture(t)

	created, err := cached.Create(ctx, core.ContractNegotiation{
		ProcessBase: core.ProcessBase{CorrelationID: "corr-2", Role: core.RoleConsumer},
		State:       core.NegotiationRequested,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := cached.FindByCorrelation(ctx, "corr-2", core.RoleConsumer); err != nil {
		t.Fatalf("warm cache: %v", err)
	}

	next := created
	next.State = core.NegotiationOffered
	next.UpdatedAt = time.Now().UTC()
	ok, err := cached.CompareAndSet(ctx, created.ID, created.Version, next)
	if err != nil || !ok {
		t.Fatalf("compare-and-set: ok=%v err=%v", ok, err)
	}

	found, err := cached.FindByCorrelation(ctx, "corr-2", core.RoleConsumer)
	if err != nil {
		t.Fatalf("find after write: %v", err)
	}
	if found.State != core.NegotiationOffered {
		t.Fatalf("expected evicted entry to be refetched, got %s", found.State)
	}
	if base.calls() != 2 {
		t.Fatalf("expected two base fetches, got %d", base.calls())
	}

	lost, err := cached.CompareAndSet(ctx, created.ID, created.Version, next)
	if err != nil || lost {
		t.Fatalf("expected stale write to lose without error, ok=%v err=%v", lost, err)
	}
	if _, err := cached.FindByCorrelation(ctx, "corr-2", core.RoleConsumer); err != nil {
		t.Fatalf("find after lost race: %v", err)
	}
	if base.calls() != 2 {
		t.Fatalf("expected a lost race to keep the cache entry, got %d fetches", base.calls())
	}
}

func TestCachedProcessStore_PropagatesUnknownProcess(t *testing.T) {
	cached, _ := newCachedFixture(t)
	if _, err := cached.FindByCorrelation(context.Background(), "missing", core.RoleProvider); !errors.Is(err, core.ErrUnknownProcess) {
		t.Fatalf("expected unknown process, got %v", err)
	}
}

func TestProcessCacheKey_EscapesSegments(t *testing.T) {
	key, err := ProcessCacheKey(core.ProcessTransfer, "urn:corr/1", core.RoleProvider)
	if err != nil {
		t.Fatalf("cache key: %v", err)
	}
	want := "connector::process::v1::transfer::provider::urn:corr%2F1"
	if key != want {
		t.Fatalf("expected %q, got %q", want, key)
	}
	if _, err := ProcessCacheKey(core.ProcessTransfer, " ", core.RoleProvider); err == nil {
		t.Fatalf("expected empty correlation id to be rejected")
	}
	if _, err := ProcessCacheKey(core.ProcessTransfer, "corr", core.Role("observer")); err == nil || !strings.Contains(err.Error(), "observer") {
		t.Fatalf("expected invalid role error, got %v", err)
	}
}

func TestNewCachedProcessStore_RequiresCollaborators(t *testing.T) {
	if _, err := NewCachedTransferStore(nil, newTestProcessCacheService(t)); err == nil {
		t.Fatalf("expected missing base store error")
	}
	if _, err := NewCachedTransferStore(core.NewMemoryTransferStore(), nil); err == nil {
		t.Fatalf("expected missing cache service error")
	}
}

func newTestProcessCacheService(t *testing.T) repositorycache.CacheService {
	t.Helper()
	config := repositorycache.DefaultConfig()
	config.TTL = time.Minute
	service, err := repositorycache.NewCacheService(config)
	if err != nil {
		t.Fatalf("new cache service: %v", err)
	}
	return service
}
