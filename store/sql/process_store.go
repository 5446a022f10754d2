package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/thomasrutger/Connector/core"
	"github.com/uptrace/bun"
)

const defaultListLimit = 500

type processRow[R any, M any] interface {
	*M
	columns() *ProcessColumns
	fromDomain(record R) error
	toDomain() (R, error)
}

// ProcessStore persists one process record type in a bun table. Every write
// after Create is a compare-and-set on the version column.
type ProcessStore[R any, M any, PM processRow[R, M]] struct {
	db             *bun.DB
	repo           repository.Repository[PM]
	label          string
	terminalStates []string
	now            func() time.Time
}

type NegotiationStore = ProcessStore[core.ContractNegotiation, negotiationRecord, *negotiationRecord]

type TransferStore = ProcessStore[core.TransferProcess, transferRecord, *transferRecord]

func NewNegotiationStore(db *bun.DB) (*NegotiationStore, error) {
	return newProcessStore[core.ContractNegotiation, negotiationRecord](db, "negotiation",
		string(core.NegotiationFinalized), string(core.NegotiationTerminated))
}

func NewTransferStore(db *bun.DB) (*TransferStore, error) {
	return newProcessStore[core.TransferProcess, transferRecord](db, "transfer",
		string(core.TransferCompleted), string(core.TransferTerminated))
}

func newProcessStore[R any, M any, PM processRow[R, M]](db *bun.DB, label string, terminalStates ...string) (*ProcessStore[R, M, PM], error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[PM](db, processRowHandlers[R, M, PM]())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid %s repository wiring: %w", label, err)
		}
	}
	return &ProcessStore[R, M, PM]{
		db:             db,
		repo:           repo,
		label:          label,
		terminalStates: terminalStates,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func (s *ProcessStore[R, M, PM]) Create(ctx context.Context, record R) (R, error) {
	var zero R
	if s == nil || s.db == nil {
		return zero, fmt.Errorf("sqlstore: process store is not configured")
	}
	row := PM(new(M))
	if err := row.fromDomain(record); err != nil {
		return zero, err
	}
	cols := row.columns()
	if cols.CorrelationID == "" {
		return zero, fmt.Errorf("sqlstore: correlation id is required")
	}
	if !core.Role(cols.Role).Valid() {
		return zero, fmt.Errorf("sqlstore: role is required")
	}
	if cols.ID == "" {
		cols.ID = uuid.NewString()
	}
	now := s.now().Truncate(time.Microsecond)
	if cols.CreatedAt.IsZero() {
		cols.CreatedAt = now
	}
	if cols.UpdatedAt.IsZero() {
		cols.UpdatedAt = cols.CreatedAt
	}
	if cols.StateTimestamp.IsZero() {
		cols.StateTimestamp = cols.CreatedAt
	}
	cols.Version = 1

	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		if isUniqueConstraintError(err) {
			return zero, fmt.Errorf("%w: %s correlation %q already exists for %s", core.ErrStoreConflict, s.label, cols.CorrelationID, cols.Role)
		}
		return zero, fmt.Errorf("sqlstore: insert %s: %w", s.label, err)
	}
	return row.toDomain()
}

func (s *ProcessStore[R, M, PM]) GetForUpdate(ctx context.Context, id string) (R, int64, error) {
	var zero R
	if s == nil || s.db == nil {
		return zero, 0, fmt.Errorf("sqlstore: process store is not configured")
	}
	row, err := s.loadRow(ctx, id)
	if err != nil {
		return zero, 0, err
	}
	record, err := row.toDomain()
	if err != nil {
		return zero, 0, err
	}
	return record, row.columns().Version, nil
}

func (s *ProcessStore[R, M, PM]) FindByCorrelation(ctx context.Context, correlationID string, role core.Role) (R, error) {
	var zero R
	if s == nil || s.db == nil {
		return zero, fmt.Errorf("sqlstore: process store is not configured")
	}
	row := PM(new(M))
	err := s.db.NewSelect().
		Model(row).
		Where("?TableAlias.correlation_id = ?", strings.TrimSpace(correlationID)).
		Where("?TableAlias.role = ?", string(role)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return zero, fmt.Errorf("%w: %s correlation %s", core.ErrUnknownProcess, s.label, correlationID)
		}
		return zero, fmt.Errorf("sqlstore: find %s %s: %w", s.label, correlationID, err)
	}
	return row.toDomain()
}

// CompareAndSet reports false when the row version moved on since version.
func (s *ProcessStore[R, M, PM]) CompareAndSet(ctx context.Context, id string, version int64, next R) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: process store is not configured")
	}
	id = strings.TrimSpace(id)
	row := PM(new(M))
	if err := row.fromDomain(next); err != nil {
		return false, err
	}
	cols := row.columns()
	if cols.ID != id {
		return false, fmt.Errorf("sqlstore: record id %q does not match %q", cols.ID, id)
	}
	cols.Version = version + 1

	res, err := s.db.NewUpdate().
		Model(row).
		ExcludeColumn("id", "correlation_id", "role", "created_at").
		Where("id = ?", id).
		Where("version = ?", version).
		Where("correlation_id = ?", cols.CorrelationID).
		Where("role = ?", cols.Role).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("sqlstore: update %s %s: %w", s.label, id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlstore: update %s %s: %w", s.label, id, err)
	}
	if affected == 1 {
		return true, nil
	}

	// Distinguish a lost race from a missing row or an identity change.
	current, err := s.loadRow(ctx, id)
	if err != nil {
		return false, err
	}
	currentCols := current.columns()
	if currentCols.Version != version {
		return false, nil
	}
	if currentCols.CorrelationID != cols.CorrelationID || currentCols.Role != cols.Role {
		return false, fmt.Errorf("sqlstore: correlation id and role are immutable")
	}
	return false, nil
}

func (s *ProcessStore[R, M, PM]) loadRow(ctx context.Context, id string) (PM, error) {
	row := PM(new(M))
	err := s.db.NewSelect().
		Model(row).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s %s", core.ErrUnknownProcess, s.label, id)
		}
		return nil, fmt.Errorf("sqlstore: load %s %s: %w", s.label, id, err)
	}
	return row, nil
}

func (s *ProcessStore[R, M, PM]) ListDue(ctx context.Context, now time.Time, limit int) ([]R, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: process store is not configured")
	}
	return s.list(ctx, limit,
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.pending_id IS NOT NULL").
				WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
					return q.Where("?TableAlias.next_attempt_at IS NULL").
						WhereOr("?TableAlias.next_attempt_at <= ?", now.UTC())
				})
		}),
		repository.OrderBy("next_attempt_at ASC"),
	)
}

func (s *ProcessStore[R, M, PM]) ListStale(ctx context.Context, before time.Time, limit int) ([]R, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: process store is not configured")
	}
	return s.list(ctx, limit,
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.state NOT IN (?)", bun.In(s.terminalStates)).
				Where("?TableAlias.updated_at < ?", before.UTC())
		}),
		repository.OrderBy("updated_at ASC"),
	)
}

func (s *ProcessStore[R, M, PM]) list(ctx context.Context, limit int, criteria ...repository.SelectCriteria) ([]R, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	criteria = append(criteria, repository.SelectPaginate(limit, 0))
	rows, _, err := s.repo.List(ctx, criteria...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list %s records: %w", s.label, err)
	}
	out := make([]R, 0, len(rows))
	for _, row := range rows {
		record, convErr := row.toDomain()
		if convErr != nil {
			return nil, convErr
		}
		out = append(out, record)
	}
	return out, nil
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	text := strings.ToLower(err.Error())
	return strings.Contains(text, "unique") || strings.Contains(text, "duplicate")
}

var (
	_ core.NegotiationStore = (*NegotiationStore)(nil)
	_ core.TransferStore    = (*TransferStore)(nil)
)
