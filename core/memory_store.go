package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a process-local ProcessStore. Records are copied on every
// read and write so callers never share state with the store.
type MemoryStore[R any, P recordPointer[R]] struct {
	mu            sync.RWMutex
	records       map[string]R
	byCorrelation map[string]string
	conflicts     atomic.Int64
	now           func() time.Time
}

func NewMemoryStore[R any, P recordPointer[R]]() *MemoryStore[R, P] {
	return &MemoryStore[R, P]{
		records:       map[string]R{},
		byCorrelation: map[string]string{},
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func NewMemoryNegotiationStore() *MemoryStore[ContractNegotiation, *ContractNegotiation] {
	return NewMemoryStore[ContractNegotiation, *ContractNegotiation]()
}

func NewMemoryTransferStore() *MemoryStore[TransferProcess, *TransferProcess] {
	return NewMemoryStore[TransferProcess, *TransferProcess]()
}

func correlationKey(correlationID string, role Role) string {
	return strings.TrimSpace(correlationID) + "|" + string(role)
}

func (s *MemoryStore[R, P]) Create(_ context.Context, record R) (R, error) {
	var zero R
	if s == nil {
		return zero, fmt.Errorf("core: memory store is nil")
	}
	record = P(&record).Clone()
	base := P(&record).Base()
	if strings.TrimSpace(base.CorrelationID) == "" {
		return zero, fmt.Errorf("core: correlation id is required")
	}
	if !base.Role.Valid() {
		return zero, fmt.Errorf("core: role is required")
	}
	if strings.TrimSpace(base.ID) == "" {
		base.ID = uuid.NewString()
	}
	now := s.now()
	if base.CreatedAt.IsZero() {
		base.CreatedAt = now
	}
	if base.UpdatedAt.IsZero() {
		base.UpdatedAt = base.CreatedAt
	}
	base.Version = 1

	s.mu.Lock()
	defer s.mu.Unlock()
	key := correlationKey(base.CorrelationID, base.Role)
	if _, exists := s.byCorrelation[key]; exists {
		return zero, fmt.Errorf("%w: correlation %q already exists for %s", ErrStoreConflict, base.CorrelationID, base.Role)
	}
	if _, exists := s.records[base.ID]; exists {
		return zero, fmt.Errorf("%w: record %q already exists", ErrStoreConflict, base.ID)
	}
	s.records[base.ID] = record
	s.byCorrelation[key] = base.ID
	return P(&record).Clone(), nil
}

func (s *MemoryStore[R, P]) GetForUpdate(_ context.Context, id string) (R, int64, error) {
	var zero R
	if s == nil {
		return zero, 0, fmt.Errorf("core: memory store is nil")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[strings.TrimSpace(id)]
	if !ok {
		return zero, 0, fmt.Errorf("%w: %s", ErrUnknownProcess, id)
	}
	return P(&record).Clone(), P(&record).Base().Version, nil
}

func (s *MemoryStore[R, P]) FindByCorrelation(_ context.Context, correlationID string, role Role) (R, error) {
	var zero R
	if s == nil {
		return zero, fmt.Errorf("core: memory store is nil")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byCorrelation[correlationKey(correlationID, role)]
	if !ok {
		return zero, fmt.Errorf("%w: correlation %s", ErrUnknownProcess, correlationID)
	}
	record := s.records[id]
	return P(&record).Clone(), nil
}

func (s *MemoryStore[R, P]) CompareAndSet(_ context.Context, id string, version int64, next R) (bool, error) {
	if s == nil {
		return false, fmt.Errorf("core: memory store is nil")
	}
	id = strings.TrimSpace(id)
	next = P(&next).Clone()
	nextBase := P(&next).Base()
	if nextBase.ID != id {
		return false, fmt.Errorf("core: record id %q does not match %q", nextBase.ID, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.records[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownProcess, id)
	}
	currentBase := P(&current).Base()
	if currentBase.Version != version {
		s.conflicts.Add(1)
		return false, nil
	}
	if currentBase.CorrelationID != nextBase.CorrelationID || currentBase.Role != nextBase.Role {
		return false, fmt.Errorf("core: correlation id and role are immutable")
	}
	nextBase.Version = version + 1
	nextBase.CreatedAt = currentBase.CreatedAt
	s.records[id] = next
	return true, nil
}

func (s *MemoryStore[R, P]) ListDue(_ context.Context, now time.Time, limit int) ([]R, error) {
	if s == nil {
		return nil, fmt.Errorf("core: memory store is nil")
	}
	out := s.filter(func(base *ProcessBase, _ bool) bool {
		return base.Pending != nil && !base.NextAttemptAt.After(now)
	})
	sort.SliceStable(out, func(i, j int) bool {
		return P(&out[i]).Base().NextAttemptAt.Before(P(&out[j]).Base().NextAttemptAt)
	})
	return limitRecords(out, limit), nil
}

func (s *MemoryStore[R, P]) ListStale(_ context.Context, before time.Time, limit int) ([]R, error) {
	if s == nil {
		return nil, fmt.Errorf("core: memory store is nil")
	}
	out := s.filter(func(base *ProcessBase, terminal bool) bool {
		return !terminal && base.UpdatedAt.Before(before)
	})
	sort.SliceStable(out, func(i, j int) bool {
		return P(&out[i]).Base().UpdatedAt.Before(P(&out[j]).Base().UpdatedAt)
	})
	return limitRecords(out, limit), nil
}

// Conflicts counts lost compare-and-set races.
func (s *MemoryStore[R, P]) Conflicts() int64 {
	if s == nil {
		return 0
	}
	return s.conflicts.Load()
}

func (s *MemoryStore[R, P]) filter(keep func(base *ProcessBase, terminal bool) bool) []R {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]R, 0)
	for _, record := range s.records {
		ptr := P(&record)
		if keep(ptr.Base(), ptr.Terminal()) {
			out = append(out, ptr.Clone())
		}
	}
	return out
}

func limitRecords[R any](records []R, limit int) []R {
	if limit > 0 && len(records) > limit {
		return records[:limit]
	}
	return records
}

var (
	_ NegotiationStore = (*MemoryStore[ContractNegotiation, *ContractNegotiation])(nil)
	_ TransferStore    = (*MemoryStore[TransferProcess, *TransferProcess])(nil)
)
