package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

// telemetry pairs the logger with the metrics recorder under one metric
// namespace.
type telemetry struct {
	logger    Logger
	metrics   MetricsRecorder
	namespace string
}

var taggedFields = []string{"process_kind", "role", "message_kind", "state", "outcome"}

func (t telemetry) observe(
	ctx context.Context,
	startedAt time.Time,
	operation string,
	err error,
	fields map[string]any,
) {
	operation = normalizeOperation(operation)
	if operation == "" {
		operation = "unknown"
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	elapsed := time.Since(startedAt)

	contextFields := cloneFields(fields)
	contextFields["event_type"] = operation
	contextFields["status"] = status
	contextFields["duration_ms"] = elapsed.Milliseconds()
	if err != nil {
		contextFields["error"] = err.Error()
	}

	tags := map[string]string{"operation": operation, "status": status}
	for _, key := range taggedFields {
		if value := strings.TrimSpace(fmt.Sprint(contextFields[key])); value != "" && value != "<nil>" {
			tags[key] = value
		}
	}
	t.count(ctx, operation+".total", 1, tags)
	if t.metrics != nil {
		t.metrics.ObserveHistogram(ctx, t.metricName(operation+".duration_ms"), float64(elapsed.Milliseconds()), tags)
	}

	if err != nil {
		t.log(ctx, "error", operation+" failed", contextFields)
		return
	}
	t.log(ctx, "debug", operation+" succeeded", contextFields)
}

func (t telemetry) count(ctx context.Context, name string, value int64, tags map[string]string) {
	if t.metrics == nil || value == 0 {
		return
	}
	t.metrics.IncCounter(ctx, t.metricName(name), value, cloneTags(tags))
}

func (t telemetry) metricName(name string) string {
	namespace := strings.TrimSpace(t.namespace)
	if namespace == "" {
		namespace = "connector"
	}
	return namespace + "." + strings.TrimSpace(name)
}

func (t telemetry) log(ctx context.Context, level string, message string, fields map[string]any) {
	if t.logger == nil {
		return
	}
	logger := t.logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	if fieldsLogger, ok := logger.(FieldsLogger); ok {
		logger = fieldsLogger.WithFields(cloneFields(fields))
	}
	args := flattenFields(fields)
	switch level {
	case "error":
		logger.Error(message, args...)
	case "warn":
		logger.Warn(message, args...)
	case "debug":
		logger.Debug(message, args...)
	default:
		logger.Info(message, args...)
	}
}

func cloneFields(fields map[string]any) map[string]any {
	copied := make(map[string]any, len(fields))
	for key, value := range fields {
		copied[key] = value
	}
	return copied
}

func cloneTags(tags map[string]string) map[string]string {
	copied := make(map[string]string, len(tags))
	for key, value := range tags {
		copied[key] = value
	}
	return copied
}

func flattenFields(fields map[string]any) []any {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	args := make([]any, 0, len(keys)*2)
	for _, key := range keys {
		args = append(args, key, fields[key])
	}
	return args
}

func normalizeOperation(operation string) string {
	operation = strings.TrimSpace(strings.ToLower(operation))
	operation = strings.ReplaceAll(operation, " ", "_")
	operation = strings.ReplaceAll(operation, "-", "_")
	return operation
}

var _ MetricsRecorder = NopMetricsRecorder{}
