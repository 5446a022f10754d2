package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// ProcessStore is the durable keyed storage of one record type. Every
// mutation goes through CompareAndSet so concurrent writers never interleave
// their read-modify-write.
type ProcessStore[R any] interface {
	// Create persists a new record. A record with the same correlation id
	// and role yields ErrStoreConflict.
	Create(ctx context.Context, record R) (R, error)
	GetForUpdate(ctx context.Context, id string) (R, int64, error)
	FindByCorrelation(ctx context.Context, correlationID string, role Role) (R, error)
	// CompareAndSet writes next only if the stored version still equals
	// version. It reports false on a lost race.
	CompareAndSet(ctx context.Context, id string, version int64, next R) (bool, error)
	// ListDue returns records with a pending outbound message whose next
	// attempt is at or before now.
	ListDue(ctx context.Context, now time.Time, limit int) ([]R, error)
	// ListStale returns non-terminal records untouched since before.
	ListStale(ctx context.Context, before time.Time, limit int) ([]R, error)
}

type NegotiationStore = ProcessStore[ContractNegotiation]

type TransferStore = ProcessStore[TransferProcess]

// CredentialVerifier validates an inbound bearer token.
type CredentialVerifier interface {
	Verify(ctx context.Context, token string) (Claims, error)
}

// TokenSource provides bearer tokens for outbound calls to audience.
type TokenSource interface {
	Token(ctx context.Context, audience string) (string, error)
}

type DispatchOutcome string

const (
	DispatchAcknowledged     DispatchOutcome = "acknowledged"
	DispatchRetryableFailure DispatchOutcome = "retryable_failure"
	DispatchPermanentFailure DispatchOutcome = "permanent_failure"
)

type DispatchResult struct {
	Outcome    DispatchOutcome
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

// Dispatcher delivers a protocol message to a counterparty. It never touches
// process state.
type Dispatcher interface {
	Send(ctx context.Context, endpoint string, msg ProtocolMessage) DispatchResult
}

// DispatchEnqueuer schedules an immediate delivery attempt for a record.
// The process manager ticker stays responsible for delivery when enqueueing
// fails or is not configured.
type DispatchEnqueuer interface {
	EnqueueDispatch(ctx context.Context, kind ProcessKind, id string) error
}

type BackoffScheduler interface {
	NextDelay(attempt int) time.Duration
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger
