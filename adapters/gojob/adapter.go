package gojob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/thomasrutger/Connector/core"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
	glog "github.com/goliatone/go-logger/glog"
)

const (
	JobIDProcessDispatch = "connector.process.dispatch"

	paramKind = "kind"
	paramID   = "process_id"
)

// RetryPolicy defines queue retry bounds to avoid unbounded retry loops.
type RetryPolicy struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// NormalizeAttempt enforces bounded retry behavior for a nack operation.
func (p RetryPolicy) NormalizeAttempt(opts queue.NackOptions, attempt int) queue.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if out.Delay == 0 && p.BaseDelay > 0 && attempt > 0 {
		out.Delay = p.BaseDelay * time.Duration(attempt)
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.Disposition == "" {
		out.Disposition = queue.NackDispositionRetry
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts && out.Disposition == queue.NackDispositionRetry {
		out.Disposition = queue.NackDispositionFailed
		if p.DeadLetterOnMax {
			out.Disposition = queue.NackDispositionDeadLetter
		}
	}
	if out.Disposition != queue.NackDispositionRetry {
		out.Delay = 0
	}
	return out
}

// ToExecutionMessage builds the go-job message asking a worker to deliver the
// pending outbound message of one process record.
func ToExecutionMessage(kind core.ProcessKind, id string) *job.ExecutionMessage {
	id = strings.TrimSpace(id)
	return &job.ExecutionMessage{
		JobID:      JobIDProcessDispatch,
		ScriptPath: JobIDProcessDispatch,
		Parameters: map[string]any{
			paramKind: string(kind),
			paramID:   id,
		},
		IdempotencyKey: fmt.Sprintf("%s:%s", kind, id),
	}
}

// FromExecutionMessage extracts the process reference carried by a dispatch job.
func FromExecutionMessage(msg *job.ExecutionMessage) (core.ProcessKind, string, error) {
	if msg == nil {
		return "", "", fmt.Errorf("gojob: execution message is required")
	}
	if strings.TrimSpace(msg.JobID) != JobIDProcessDispatch {
		return "", "", fmt.Errorf("gojob: unsupported job %q", msg.JobID)
	}
	kind := core.ProcessKind(stringParam(msg.Parameters, paramKind))
	switch kind {
	case core.ProcessNegotiation, core.ProcessTransfer:
	default:
		return "", "", fmt.Errorf("gojob: unsupported process kind %q", kind)
	}
	id := stringParam(msg.Parameters, paramID)
	if id == "" {
		return "", "", fmt.Errorf("gojob: process id is required")
	}
	return kind, id, nil
}

// DispatchEnqueuer hands immediate delivery attempts to a go-job queue. The
// process manager's ticker still covers anything the queue drops.
type DispatchEnqueuer struct {
	enqueuer queue.Enqueuer
}

func NewDispatchEnqueuer(enqueuer queue.Enqueuer) *DispatchEnqueuer {
	return &DispatchEnqueuer{enqueuer: enqueuer}
}

func (a *DispatchEnqueuer) EnqueueDispatch(ctx context.Context, kind core.ProcessKind, id string) error {
	if a == nil || a.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("gojob: process id is required")
	}
	_, err := a.enqueuer.Enqueue(ctx, ToExecutionMessage(kind, id))
	return err
}

type ProcessDispatcher interface {
	DispatchProcess(ctx context.Context, kind core.ProcessKind, id string) error
}

// DispatchWorker drains dispatch jobs and runs them through the process
// manager. Malformed jobs are dead lettered; dispatcher errors are requeued.
// A worker is not safe for concurrent RunOnce calls; run one per goroutine.
type DispatchWorker struct {
	dequeuer   queue.Dequeuer
	dispatcher ProcessDispatcher
	policy     RetryPolicy
	hook       worker.Hook
	logger     glog.Logger
	idleDelay  time.Duration
	now        func() time.Time
	attempts   map[string]int
}

type WorkerOption func(*DispatchWorker)

func WithRetryPolicy(policy RetryPolicy) WorkerOption {
	return func(w *DispatchWorker) {
		w.policy = policy
	}
}

func WithHook(hook worker.Hook) WorkerOption {
	return func(w *DispatchWorker) {
		w.hook = hook
	}
}

func WithWorkerLogger(logger glog.Logger) WorkerOption {
	return func(w *DispatchWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func WithIdleDelay(delay time.Duration) WorkerOption {
	return func(w *DispatchWorker) {
		if delay > 0 {
			w.idleDelay = delay
		}
	}
}

func NewDispatchWorker(dequeuer queue.Dequeuer, dispatcher ProcessDispatcher, opts ...WorkerOption) (*DispatchWorker, error) {
	if dequeuer == nil {
		return nil, fmt.Errorf("gojob: dequeuer is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("gojob: process dispatcher is required")
	}
	w := &DispatchWorker{
		dequeuer:   dequeuer,
		dispatcher: dispatcher,
		policy:     RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: time.Minute, DeadLetterOnMax: true},
		logger:     glog.Nop(),
		idleDelay:  250 * time.Millisecond,
		now:        time.Now,
		attempts:   map[string]int{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w, nil
}

// Run processes jobs until ctx is cancelled.
func (w *DispatchWorker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if err := w.RunOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			w.logger.Warn("dispatch worker dequeue failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.idleDelay):
			}
		}
	}
}

// RunOnce dequeues and settles a single job. Only queue errors are returned;
// dispatch failures are settled through ack or nack.
func (w *DispatchWorker) RunOnce(ctx context.Context) error {
	delivery, err := w.dequeuer.Dequeue(ctx)
	if err != nil {
		return err
	}
	if delivery == nil {
		return nil
	}
	msg := delivery.Message()
	kind, id, parseErr := FromExecutionMessage(msg)
	if parseErr != nil {
		w.logger.Warn("dropping malformed dispatch job", "error", parseErr)
		return delivery.Nack(ctx, w.policy.NormalizeAttempt(queue.NackOptions{
			Disposition: queue.NackDispositionDeadLetter,
			Reason:      parseErr.Error(),
		}, 0))
	}

	key := fmt.Sprintf("%s:%s", kind, id)
	attempt := w.attempts[key] + 1
	event := worker.Event{Message: msg, Delivery: delivery, Attempt: attempt, StartedAt: w.now()}
	if w.hook != nil {
		w.hook.OnStart(ctx, event)
	}

	runErr := w.dispatcher.DispatchProcess(ctx, kind, id)
	event.Duration = w.now().Sub(event.StartedAt)
	if runErr == nil {
		delete(w.attempts, key)
		if w.hook != nil {
			w.hook.OnSuccess(ctx, event)
		}
		return delivery.Ack(ctx)
	}

	opts := w.policy.NormalizeAttempt(queue.NackOptions{
		Disposition: queue.NackDispositionRetry,
		Reason:      runErr.Error(),
	}, attempt)
	event.Err = runErr
	event.Delay = opts.Delay
	if opts.Disposition == queue.NackDispositionRetry {
		w.attempts[key] = attempt
		if w.hook != nil {
			w.hook.OnRetry(ctx, event)
		}
	} else {
		delete(w.attempts, key)
		if w.hook != nil {
			w.hook.OnFailure(ctx, event)
		}
	}
	w.logger.Warn("process dispatch job failed",
		"kind", kind, "process_id", id, "attempt", attempt, "disposition", opts.Disposition, "error", runErr)
	return delivery.Nack(ctx, opts)
}

// LoggingHook reports worker events through a glog logger.
type LoggingHook struct {
	logger glog.Logger
}

func NewLoggingHook(logger glog.Logger) *LoggingHook {
	return &LoggingHook{logger: glog.Ensure(logger)}
}

func (h *LoggingHook) OnStart(_ context.Context, event worker.Event) {
	h.logger.Debug("dispatch job started", h.fields(event)...)
}

func (h *LoggingHook) OnSuccess(_ context.Context, event worker.Event) {
	h.logger.Debug("dispatch job succeeded", append(h.fields(event), "duration", event.Duration)...)
}

func (h *LoggingHook) OnFailure(_ context.Context, event worker.Event) {
	h.logger.Error("dispatch job failed", append(h.fields(event), "error", event.Err)...)
}

func (h *LoggingHook) OnRetry(_ context.Context, event worker.Event) {
	h.logger.Warn("dispatch job retrying", append(h.fields(event), "delay", event.Delay, "error", event.Err)...)
}

func (h *LoggingHook) fields(event worker.Event) []any {
	fields := []any{"attempt", event.Attempt}
	message := event.Message
	if message == nil && event.Delivery != nil {
		message = event.Delivery.Message()
	}
	if kind, id, err := FromExecutionMessage(message); err == nil {
		fields = append(fields, "kind", kind, "process_id", id)
	}
	return fields
}

func stringParam(params map[string]any, key string) string {
	if len(params) == 0 {
		return ""
	}
	value, ok := params[key]
	if !ok || value == nil {
		return ""
	}
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case fmt.Stringer:
		return strings.TrimSpace(typed.String())
	default:
		return strings.TrimSpace(fmt.Sprint(typed))
	}
}

var (
	_ core.DispatchEnqueuer = (*DispatchEnqueuer)(nil)
	_ ProcessDispatcher     = (*core.ProcessManager)(nil)
	_ worker.Hook           = (*LoggingHook)(nil)
)
