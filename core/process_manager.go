package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const inactivityReason = "inactivity timeout"

type TickStats struct {
	Claimed   int
	Delivered int
	Retried   int
	Failed    int
	Swept     int
}

func (s *TickStats) add(other TickStats) {
	s.Claimed += other.Claimed
	s.Delivered += other.Delivered
	s.Retried += other.Retried
	s.Failed += other.Failed
	s.Swept += other.Swept
}

type deliveryResult int

const (
	deliverySkipped deliveryResult = iota
	deliveryAcked
	deliveryRetried
	deliveryFailed
)

func (r deliveryResult) stats() TickStats {
	switch r {
	case deliveryAcked:
		return TickStats{Claimed: 1, Delivered: 1}
	case deliveryRetried:
		return TickStats{Claimed: 1, Retried: 1}
	case deliveryFailed:
		return TickStats{Claimed: 1, Failed: 1}
	default:
		return TickStats{}
	}
}

// ProcessManager scans the stores for pending outbound messages and stale
// records. Claims and resolutions go through the same compare-and-set path
// as every other transition; no record is held while a message is in flight.
type ProcessManager struct {
	svc        *Service
	dispatcher Dispatcher
	config     Config
	backoff    BackoffScheduler
	now        func() time.Time
	telemetry  telemetry
}

func NewProcessManager(svc *Service) (*ProcessManager, error) {
	if err := svc.ready(); err != nil {
		return nil, err
	}
	if svc.dispatcher == nil {
		return nil, fmt.Errorf("core: dispatcher is required")
	}
	manager := &ProcessManager{
		svc:        svc,
		dispatcher: svc.dispatcher,
		config:     svc.config,
		backoff:    svc.backoff,
		now:        svc.now,
		telemetry:  svc.telemetry,
	}
	if provider := svc.loggerProvider; provider != nil {
		if named := provider.GetLogger("connector.manager"); named != nil {
			manager.telemetry.logger = named
		}
	}
	return manager, nil
}

// Run ticks until ctx is cancelled.
func (m *ProcessManager) Run(ctx context.Context) error {
	if m == nil {
		return fmt.Errorf("core: process manager is nil")
	}
	ticker := time.NewTicker(m.config.Dispatch.TickInterval)
	defer ticker.Stop()
	for {
		if _, err := m.Tick(ctx); err != nil && ctx.Err() == nil {
			m.telemetry.log(ctx, "warn", "process manager tick failed", map[string]any{"error": err.Error()})
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick runs one delivery pass over due records followed by one inactivity
// sweep.
func (m *ProcessManager) Tick(ctx context.Context) (stats TickStats, err error) {
	if m == nil {
		return TickStats{}, fmt.Errorf("core: process manager is nil")
	}
	startedAt := time.Now()
	defer func() {
		m.telemetry.observe(ctx, startedAt, "manager.tick", err, map[string]any{
			"claimed":   stats.Claimed,
			"delivered": stats.Delivered,
			"retried":   stats.Retried,
			"failed":    stats.Failed,
			"swept":     stats.Swept,
		})
	}()

	now := m.now()
	limit := m.config.Dispatch.BatchSize

	negotiations, listErr := m.svc.negotiations.ListDue(ctx, now, limit)
	err = joinErrors(err, listErr)
	for _, record := range negotiations {
		result, deliverErr := m.deliverNegotiation(ctx, record.ID)
		stats.add(result.stats())
		err = joinErrors(err, deliverErr)
	}
	transfers, listErr := m.svc.transfers.ListDue(ctx, now, limit)
	err = joinErrors(err, listErr)
	for _, record := range transfers {
		result, deliverErr := m.deliverTransfer(ctx, record.ID)
		stats.add(result.stats())
		err = joinErrors(err, deliverErr)
	}

	swept, sweepErr := m.Sweep(ctx)
	stats.Swept += swept
	err = joinErrors(err, sweepErr)
	return stats, err
}

// DispatchProcess attempts delivery of one record right away. Records that
// are not due, or already claimed by another worker, are skipped.
func (m *ProcessManager) DispatchProcess(ctx context.Context, kind ProcessKind, id string) error {
	if m == nil {
		return fmt.Errorf("core: process manager is nil")
	}
	var err error
	switch kind {
	case ProcessNegotiation:
		_, err = m.deliverNegotiation(ctx, id)
	case ProcessTransfer:
		_, err = m.deliverTransfer(ctx, id)
	default:
		err = fmt.Errorf("core: unknown process kind %q", kind)
	}
	return err
}

// Sweep moves records without activity for longer than the inactivity
// timeout into their failure path.
func (m *ProcessManager) Sweep(ctx context.Context) (int, error) {
	if m == nil {
		return 0, fmt.Errorf("core: process manager is nil")
	}
	timeout := m.config.InactivityTimeout
	if timeout <= 0 {
		return 0, nil
	}
	now := m.now()
	before := now.Add(-timeout)
	limit := m.config.Dispatch.BatchSize
	swept := 0
	var err error

	negotiations, listErr := m.svc.negotiations.ListStale(ctx, before, limit)
	err = joinErrors(err, listErr)
	for _, record := range negotiations {
		result, runErr := runTransition[ContractNegotiation](ctx, m.svc.negotiations, record.ID, m.config.MaxTransitionAttempts,
			func(current ContractNegotiation) (ContractNegotiation, bool, error) {
				if current.Terminal() || !current.UpdatedAt.Before(before) {
					return current, false, nil
				}
				ev := Event{Kind: KindNegotiationTermination, Origin: OriginLocal, Reason: inactivityReason}
				if current.State == NegotiationTerminating {
					ev = Event{Kind: KindProcessFailed, Origin: OriginLocal, Reason: inactivityReason}
				}
				next, _, applyErr := ApplyNegotiation(current, ev, now)
				if applyErr != nil {
					return current, false, applyErr
				}
				return next, next.State != current.State, nil
			},
		)
		if result.Changed {
			swept++
		}
		err = joinErrors(err, ignoreTerminal(runErr))
	}

	transfers, listErr := m.svc.transfers.ListStale(ctx, before, limit)
	err = joinErrors(err, listErr)
	for _, record := range transfers {
		result, runErr := runTransition[TransferProcess](ctx, m.svc.transfers, record.ID, m.config.MaxTransitionAttempts,
			func(current TransferProcess) (TransferProcess, bool, error) {
				if current.Terminal() || !current.UpdatedAt.Before(before) {
					return current, false, nil
				}
				next, _, applyErr := ApplyTransfer(current, Event{
					Kind: KindTransferTermination, Origin: OriginLocal, Reason: inactivityReason,
				}, now)
				if applyErr != nil {
					return current, false, applyErr
				}
				return next, next.State != current.State, nil
			},
		)
		if result.Changed {
			swept++
		}
		err = joinErrors(err, ignoreTerminal(runErr))
	}
	return swept, err
}

func (m *ProcessManager) deliverNegotiation(ctx context.Context, id string) (deliveryResult, error) {
	return deliver[ContractNegotiation](ctx, m, deliveryHooks[ContractNegotiation]{
		kind:  ProcessNegotiation,
		store: m.svc.negotiations,
		envelope: func(record ContractNegotiation, msg OutboundMessage) ProtocolMessage {
			return m.envelope(record.ProcessBase, msg)
		},
		acked: func(record ContractNegotiation, msg OutboundMessage, now time.Time) (ContractNegotiation, error) {
			if msg.Kind != KindNegotiationTermination || record.State != NegotiationTerminating {
				return record, nil
			}
			next, _, err := ApplyNegotiation(record, LocalEvent(KindTerminationSent), now)
			return next, err
		},
		failed: func(record ContractNegotiation, detail string, now time.Time) (ContractNegotiation, error) {
			if record.Terminal() {
				return record, nil
			}
			next, _, err := ApplyNegotiation(record, Event{Kind: KindProcessFailed, Origin: OriginLocal, Reason: detail}, now)
			return next, err
		},
	}, id)
}

func (m *ProcessManager) deliverTransfer(ctx context.Context, id string) (deliveryResult, error) {
	return deliver[TransferProcess](ctx, m, deliveryHooks[TransferProcess]{
		kind:  ProcessTransfer,
		store: m.svc.transfers,
		envelope: func(record TransferProcess, msg OutboundMessage) ProtocolMessage {
			envelope := m.envelope(record.ProcessBase, msg)
			envelope.AgreementID = record.AgreementID
			return envelope
		},
		acked: func(record TransferProcess, _ OutboundMessage, _ time.Time) (TransferProcess, error) {
			return record, nil
		},
		failed: func(record TransferProcess, detail string, now time.Time) (TransferProcess, error) {
			if record.Terminal() {
				return record, nil
			}
			next, _, err := ApplyTransfer(record, Event{Kind: KindProcessFailed, Origin: OriginLocal, Reason: detail}, now)
			return next, err
		},
	}, id)
}

func (m *ProcessManager) envelope(base ProcessBase, msg OutboundMessage) ProtocolMessage {
	wireType, eventType := msg.Kind.WireType()
	envelope := ProtocolMessage{
		Type:          wireType,
		EventType:     eventType,
		CorrelationID: base.CorrelationID,
		SenderRole:    base.Role,
		Protocol:      base.Protocol,
		ProcessID:     base.ID,
		Reason:        msg.Reason,
		Payload:       cloneRaw(msg.Payload),
	}
	if msg.Kind.Initiating() {
		envelope.CallbackAddress = strings.TrimSpace(m.config.CallbackAddress)
	}
	return envelope
}

type deliveryHooks[R any] struct {
	kind     ProcessKind
	store    ProcessStore[R]
	envelope func(record R, msg OutboundMessage) ProtocolMessage
	acked    func(record R, msg OutboundMessage, now time.Time) (R, error)
	failed   func(record R, detail string, now time.Time) (R, error)
}

// deliver claims the pending message of one record, sends it without holding
// the record, then resolves the outcome against a fresh read. A resolution
// is discarded when the pending message was replaced in the meantime.
func deliver[R any, P recordPointer[R]](ctx context.Context, m *ProcessManager, hooks deliveryHooks[R], id string) (outcome deliveryResult, err error) {
	startedAt := time.Now()
	fields := map[string]any{"process_kind": string(hooks.kind), "process_id": id}
	defer func() {
		if outcome == deliverySkipped && err == nil {
			return
		}
		fields["outcome"] = outcome.String()
		m.telemetry.observe(ctx, startedAt, "manager.deliver", err, fields)
	}()

	claimedAt := m.now()
	var (
		claimed  OutboundMessage
		endpoint string
		envelope ProtocolMessage
	)
	claim, err := runTransition[R, P](ctx, hooks.store, id, m.config.MaxTransitionAttempts, func(current R) (R, bool, error) {
		base := P(&current).Base()
		if base.Pending == nil || base.NextAttemptAt.After(claimedAt) {
			return current, false, nil
		}
		claimed = *base.Pending
		claimed.Payload = cloneRaw(base.Pending.Payload)
		endpoint = base.CounterpartyAddress
		envelope = hooks.envelope(current, claimed)
		base.NextAttemptAt = claimedAt.Add(m.claimLease())
		return current, true, nil
	})
	if err != nil {
		return deliverySkipped, ignoreTerminal(err)
	}
	if !claim.Changed {
		return deliverySkipped, nil
	}
	fields["message_kind"] = string(claimed.Kind)
	fields["message_id"] = claimed.ID

	result := m.send(ctx, endpoint, envelope)
	fields["status_code"] = result.StatusCode

	resolvedAt := m.now()
	outcome = deliverySkipped
	_, err = runTransition[R, P](ctx, hooks.store, id, m.config.MaxTransitionAttempts, func(current R) (R, bool, error) {
		base := P(&current).Base()
		if base.Pending == nil || base.Pending.ID != claimed.ID {
			outcome = deliverySkipped
			return current, false, nil
		}

		fail := func(detail string) (R, bool, error) {
			outcome = deliveryFailed
			base.Pending = nil
			base.NextAttemptAt = time.Time{}
			base.ErrorDetail = detail
			base.UpdatedAt = resolvedAt
			next, failErr := hooks.failed(current, detail, resolvedAt)
			return next, true, failErr
		}

		switch result.Outcome {
		case DispatchAcknowledged:
			outcome = deliveryAcked
			base.Pending = nil
			base.NextAttemptAt = time.Time{}
			base.RetryCount = 0
			base.ErrorDetail = ""
			base.UpdatedAt = resolvedAt
			next, ackErr := hooks.acked(current, claimed, resolvedAt)
			return next, true, ackErr
		case DispatchRetryableFailure:
			base.RetryCount++
			detail := describeDispatch(result)
			if base.RetryCount >= m.config.Dispatch.MaxRetries {
				return fail(fmt.Sprintf("delivery of %s gave up after %d attempts: %s", claimed.Kind, base.RetryCount, detail))
			}
			outcome = deliveryRetried
			delay := m.backoff.NextDelay(base.RetryCount)
			if result.RetryAfter > delay {
				delay = result.RetryAfter
			}
			if limit := m.config.Dispatch.MaxBackoff; limit > 0 && delay > limit {
				delay = limit
			}
			base.NextAttemptAt = resolvedAt.Add(delay)
			base.ErrorDetail = detail
			return current, true, nil
		default:
			return fail(fmt.Sprintf("delivery of %s failed permanently: %s", claimed.Kind, describeDispatch(result)))
		}
	})
	if err != nil {
		return outcome, err
	}
	return outcome, nil
}

func (m *ProcessManager) send(ctx context.Context, endpoint string, envelope ProtocolMessage) DispatchResult {
	if strings.TrimSpace(endpoint) == "" {
		return DispatchResult{
			Outcome: DispatchPermanentFailure,
			Err:     fmt.Errorf("%w: counterparty address is empty", ErrPermanentFailure),
		}
	}
	sendCtx := ctx
	if timeout := m.config.Dispatch.Timeout; timeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	result := m.dispatcher.Send(sendCtx, endpoint, envelope)
	switch result.Outcome {
	case DispatchAcknowledged, DispatchRetryableFailure, DispatchPermanentFailure:
	default:
		result.Outcome = DispatchRetryableFailure
	}
	return result
}

func (m *ProcessManager) claimLease() time.Duration {
	lease := m.config.Dispatch.ClaimLease
	if lease <= 0 {
		lease = time.Minute
	}
	return lease
}

func (r deliveryResult) String() string {
	switch r {
	case deliveryAcked:
		return "acknowledged"
	case deliveryRetried:
		return "retried"
	case deliveryFailed:
		return "failed"
	default:
		return "skipped"
	}
}

func describeDispatch(result DispatchResult) string {
	parts := make([]string, 0, 2)
	if result.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status %d", result.StatusCode))
	}
	if result.Err != nil {
		parts = append(parts, result.Err.Error())
	}
	if len(parts) == 0 {
		return string(result.Outcome)
	}
	return strings.Join(parts, ": ")
}

func ignoreTerminal(err error) error {
	if errors.Is(err, ErrProcessTerminated) {
		return nil
	}
	return err
}

func joinErrors(existing error, next error) error {
	if existing == nil {
		return next
	}
	if next == nil {
		return existing
	}
	return fmt.Errorf("%w; %v", existing, next)
}
