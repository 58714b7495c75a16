package logging

import (
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// AUDIT EVENT TYPES
// =============================================================================

// AuditEventType names one kind of structured step event.
type AuditEventType string

const (
	AuditStepStart    AuditEventType = "step_start"
	AuditStepComplete AuditEventType = "step_complete"
	AuditStepAbort    AuditEventType = "step_abort"

	AuditAdapterAdd    AuditEventType = "adapter_add"
	AuditAdapterRemove AuditEventType = "adapter_remove"
	AuditAdapterCall   AuditEventType = "adapter_call"
	AuditAdapterError  AuditEventType = "adapter_error"

	AuditCellCreate AuditEventType = "cell_create"
	AuditCellWrite  AuditEventType = "cell_write"
	AuditCellReject AuditEventType = "cell_reject"

	AuditOrderChange AuditEventType = "order_change"
)

// AuditEvent is a structured audit entry.
type AuditEvent struct {
	Timestamp  int64
	EventType  AuditEventType
	Step       int
	Target     string // adapter or cell name
	Success    bool
	DurationMs int64
	Error      string
	Fields     map[string]interface{}
}

// AuditLogger writes audit events for one mediator run.
type AuditLogger struct {
	runID    string
	category Category
}

// AuditWithRun creates an audit logger scoped to a mediator run.
func AuditWithRun(runID string) *AuditLogger {
	return &AuditLogger{runID: runID, category: CategoryMediator}
}

// Log writes an audit event through the category logger.
func (a *AuditLogger) Log(event AuditEvent) {
	if !IsCategoryEnabled(a.category) {
		return
	}
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}

	fields := []zap.Field{
		zap.String("event", string(event.EventType)),
		zap.String("run", a.runID),
		zap.Int("step", event.Step),
		zap.Bool("success", event.Success),
		zap.Int64("ts", event.Timestamp),
	}
	if event.Target != "" {
		fields = append(fields, zap.String("target", event.Target))
	}
	if event.DurationMs > 0 {
		fields = append(fields, zap.Int64("dur_ms", event.DurationMs))
	}
	if event.Error != "" {
		fields = append(fields, zap.String("error", event.Error))
	}
	if len(event.Fields) > 0 {
		fields = append(fields, zap.Any("fields", event.Fields))
	}

	zl := Get(a.category).Zap()
	if event.Success {
		zl.Debug("audit", fields...)
	} else {
		zl.Warn("audit", fields...)
	}
}

// StepStart records the beginning of a step.
func (a *AuditLogger) StepStart(step int, order []string) {
	a.Log(AuditEvent{
		EventType: AuditStepStart,
		Step:      step,
		Success:   true,
		Fields:    map[string]interface{}{"order": order},
	})
}

// StepEnd records a completed or aborted step.
func (a *AuditLogger) StepEnd(step int, duration time.Duration, err error) {
	event := AuditEvent{
		EventType:  AuditStepComplete,
		Step:       step,
		Success:    err == nil,
		DurationMs: duration.Milliseconds(),
	}
	if err != nil {
		event.EventType = AuditStepAbort
		event.Error = err.Error()
	}
	a.Log(event)
}

// AdapterCall records one adapter invocation.
func (a *AuditLogger) AdapterCall(step int, name string, duration time.Duration, outputs []string, err error) {
	event := AuditEvent{
		EventType:  AuditAdapterCall,
		Step:       step,
		Target:     name,
		Success:    err == nil,
		DurationMs: duration.Milliseconds(),
		Fields:     map[string]interface{}{"outputs": outputs},
	}
	if err != nil {
		event.EventType = AuditAdapterError
		event.Error = err.Error()
	}
	a.Log(event)
}

// CellWrite records a pool write (or its rejection).
func (a *AuditLogger) CellWrite(step int, name string, created bool, err error) {
	event := AuditEvent{
		EventType: AuditCellWrite,
		Step:      step,
		Target:    name,
		Success:   err == nil,
	}
	switch {
	case err != nil:
		event.EventType = AuditCellReject
		event.Error = err.Error()
	case created:
		event.EventType = AuditCellCreate
	}
	a.Log(event)
}
