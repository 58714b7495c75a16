package logging

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func observe(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	SetBase(zap.New(core))
	t.Cleanup(func() {
		require.NoError(t, Initialize(Options{}))
	})
	return logs
}

func TestDisabledByDefault(t *testing.T) {
	require.NoError(t, Initialize(Options{}))
	assert.False(t, IsDebugMode())
	assert.False(t, IsCategoryEnabled(CategoryMediator))

	// Must not panic on a no-op logger.
	Get(CategoryMediator).Info("hello %d", 1)
}

func TestCategoryFilter(t *testing.T) {
	require.NoError(t, Initialize(Options{
		DebugMode:  true,
		Level:      "error",
		Categories: map[string]bool{"store": false},
	}))
	t.Cleanup(func() { _ = Initialize(Options{}) })

	assert.True(t, IsCategoryEnabled(CategoryMediator))
	assert.False(t, IsCategoryEnabled(CategoryStore))
	assert.True(t, IsCategoryEnabled(CategoryCell), "unlisted categories default to enabled")
}

func TestCategoryLoggerNamesEntries(t *testing.T) {
	logs := observe(t)

	MediatorDebug("step %d", 3)
	AdapterWarn("mismatch in %s", "f")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "mediator", entries[0].LoggerName)
	assert.Equal(t, "step 3", entries[0].Message)
	assert.Equal(t, "adapter", entries[1].LoggerName)
	assert.Equal(t, zap.WarnLevel, entries[1].Level)
}

func TestBootCategory(t *testing.T) {
	logs := observe(t)

	Boot("porch %s", "dev")
	BootDebug("config %s", "porchlight.yaml")

	entries := logs.FilterLoggerName("boot").All()
	require.Len(t, entries, 2)
	assert.Equal(t, "porch dev", entries[0].Message)
	assert.Equal(t, zap.InfoLevel, entries[0].Level)
	assert.Equal(t, zap.DebugLevel, entries[1].Level)
}

func TestWithContext(t *testing.T) {
	logs := observe(t)

	Get(CategoryCell).WithContext(map[string]interface{}{"cell": "x"}).Info("set")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "x", entries[0].ContextMap()["cell"])
}

func TestAuditEvents(t *testing.T) {
	logs := observe(t)
	audit := AuditWithRun("run-1")

	audit.StepStart(1, []string{"f", "g"})
	audit.AdapterCall(1, "f", time.Millisecond, []string{"y"}, nil)
	audit.AdapterCall(1, "g", time.Millisecond, nil, errors.New("boom"))
	audit.CellWrite(1, "y", true, nil)
	audit.StepEnd(1, time.Millisecond, errors.New("boom"))

	entries := logs.FilterMessage("audit").All()
	require.Len(t, entries, 5)

	events := make([]string, 0, len(entries))
	for _, e := range entries {
		events = append(events, e.ContextMap()["event"].(string))
		assert.Equal(t, "run-1", e.ContextMap()["run"])
	}
	assert.Equal(t, []string{"step_start", "adapter_call", "adapter_error", "cell_create", "step_abort"}, events)
	assert.Equal(t, zap.WarnLevel, entries[2].Level)
}

func TestTimerThreshold(t *testing.T) {
	logs := observe(t)

	timer := StartTimer(CategoryMediator, "slow op")
	time.Sleep(2 * time.Millisecond)
	timer.StopWithThreshold(time.Nanosecond)

	require.Equal(t, 1, logs.FilterLevelExact(zap.WarnLevel).Len())
}
