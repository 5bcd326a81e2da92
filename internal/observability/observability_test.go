package observability

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_Registers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ToolCalls.WithLabelValues("search").Inc()
	m.ToolCalls.WithLabelValues("search").Inc()
	m.TaskOutcomes.WithLabelValues("completed").Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ToolCalls.WithLabelValues("search")))
	count, err := testutil.GatherAndCount(reg, "cortex_tool_calls_total", "cortex_task_outcomes_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	assert.Panics(t, func() { NewMetrics(reg) }, "duplicate registration must panic")
	assert.NotPanics(t, func() { NewMetrics(nil) })
}

func TestStatus(t *testing.T) {
	s := NewStatus()
	assert.Equal(t, RoleIdle, s.Snapshot().Role)

	s.Set(RoleWorker, "fetch page")
	s.SetProgress(40)
	snap := s.Snapshot()
	assert.Equal(t, RoleWorker, snap.Role)
	assert.Equal(t, "fetch page", snap.ActiveTask)
	assert.Equal(t, 40, snap.Progress)

	s.Set(RoleMaster, "next")
	assert.Zero(t, s.Snapshot().Progress)

	before := s.Snapshot().LastHeartbeat
	time.Sleep(time.Millisecond)
	s.Heartbeat()
	assert.True(t, s.Snapshot().LastHeartbeat.After(before))

	var nilStatus *Status
	assert.NotPanics(t, func() {
		nilStatus.Set(RoleWorker, "x")
		nilStatus.SetProgress(1)
		nilStatus.Heartbeat()
	})
}

func TestLogger_LLMEventsGoToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "llm.jsonl")
	l, err := NewLogger(LoggingConfig{Level: "error", LLMLogPath: path})
	require.NoError(t, err)

	l.LogLLM("telegram:1", "task-1", "prompt", "answer", nil)
	l.LogStep("telegram:1", "task-1", "task-1-step-1", 50)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var events []Event
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var evt Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &evt))
		events = append(events, evt)
	}
	require.Len(t, events, 1)
	assert.Equal(t, EventTypeLLM, events[0].Type)
	assert.Equal(t, "task-1", events[0].TaskID)
}

func TestNopLogger(t *testing.T) {
	l := NewNopLogger()
	assert.NotPanics(t, func() {
		l.LogLLM("c", "t", "p", "r", nil)
		l.LogHeartbeat()
	})
}
