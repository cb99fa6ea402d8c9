package agent

import (
	"context"
	"testing"
	"time"

	"github.com/localhive/localhive/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgentStartStopLifecycle(t *testing.T) {
	a := testAgent(RoleWorker, AgentDeps{HeartbeatInterval: time.Hour})

	require.NoError(t, a.Start(context.Background()))
	assert.Equal(t, StateIdle, a.State())

	transitions := a.StateHistory()
	require.Len(t, transitions, 2)
	assert.Equal(t, StateStartup, transitions[0].To)
	assert.Equal(t, StateIdle, transitions[1].To)

	a.Stop(context.Background())
	assert.Equal(t, StateShutdown, a.State())

	// Stop from a non-idle state routes through Idle.
	b := testAgent(RoleWorker, AgentDeps{HeartbeatInterval: time.Hour})
	require.NoError(t, b.Start(context.Background()))
	require.NoError(t, b.setState(StateWork, "", false))
	b.Stop(context.Background())
	assert.Equal(t, StateShutdown, b.State())
}

func TestHealthScore(t *testing.T) {
	tests := []struct {
		name       string
		violations int
		completed  int
		failed     int
		state      State
		want       float64
	}{
		{"pristine", 0, 0, 0, StateIdle, 1.0},
		{"one violation", 1, 0, 0, StateIdle, 0.9},
		{"violations capped", 9, 0, 0, StateIdle, 0.5},
		{"failure rate", 0, 1, 1, StateIdle, 0.7},
		{"failure rate capped", 0, 0, 5, StateIdle, 0.7},
		{"error state", 0, 0, 0, StateError, 0.6},
		{"floor at zero", 9, 0, 5, StateError, 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := testAgent(RoleWorker, AgentDeps{})
			a.mu.Lock()
			a.metrics.Violations = tt.violations
			a.metrics.TasksCompleted = tt.completed
			a.metrics.TasksFailed = tt.failed
			a.state = tt.state
			a.updateHealthLocked()
			got := a.metrics.HealthScore
			a.mu.Unlock()
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestHistoryPruning(t *testing.T) {
	a := testAgent(RoleWorker, AgentDeps{HistoryCap: 5})
	for i := 0; i < 12; i++ {
		a.AppendMessage(llm.UserMessage("msg"))
	}
	a.pruneHistory()
	assert.Len(t, a.History(), 5, "history must be capped")

	// The newest entries survive.
	a.AppendMessage(llm.UserMessage("newest"))
	a.pruneHistory()
	history := a.History()
	assert.Equal(t, "newest", history[len(history)-1].Content)
}

func TestWorkingMemoryExpiry(t *testing.T) {
	a := testAgent(RoleWorker, AgentDeps{})
	a.WorkingSet("fresh", 1)
	a.mu.Lock()
	a.working["stale"] = workingEntry{value: 2, addedAt: time.Now().Add(-2 * time.Hour)}
	a.mu.Unlock()

	a.heartbeat()

	_, ok := a.WorkingGet("fresh")
	assert.True(t, ok)
	_, ok = a.WorkingGet("stale")
	assert.False(t, ok, "entries older than an hour are dropped at heartbeat")
}

func TestGetStatusIsRedacted(t *testing.T) {
	a := testAgent(RoleAdmin, AgentDeps{})
	a.AppendMessage(llm.UserMessage("secret user content"))
	a.WorkingSet("private", "data")
	a.RecordViolation()

	status := a.GetStatus()
	assert.Equal(t, a.ID, status.ID)
	assert.Equal(t, "admin", status.Role)
	assert.Equal(t, "idle", status.State)
	assert.Contains(t, status.Capabilities, "conversation")
	assert.False(t, status.Compliant)
	assert.Equal(t, 1, status.Metrics.Violations)
}

func TestStateChangeCallbacksRunOutsideLock(t *testing.T) {
	a := testAgent(RoleWorker, AgentDeps{})
	var got [][2]State
	a.AddStateChangeCallback(func(from, to State) {
		// Re-entering the agent here deadlocks if callbacks were invoked
		// under the mutex.
		_ = a.State()
		got = append(got, [2]State{from, to})
	})

	require.NoError(t, a.setState(StateStartup, "", false))
	require.Len(t, got, 1)
	assert.Equal(t, [2]State{StateIdle, StateStartup}, got[0])
}

func TestTryBeginProcessingIsExclusive(t *testing.T) {
	a := testAgent(RoleWorker, AgentDeps{})
	require.NoError(t, a.tryBeginProcessing())
	assert.ErrorIs(t, a.tryBeginProcessing(), ErrAlreadyProcessing)
	require.NoError(t, a.setState(StateIdle, "", false))
	require.NoError(t, a.tryBeginProcessing())
}

func TestRecordTaskOutcomeMovingAverage(t *testing.T) {
	a := testAgent(RoleWorker, AgentDeps{})
	a.recordTaskOutcome(true, 2*time.Second)
	assert.InDelta(t, 2.0, a.Metrics().AvgResponseTime, 1e-9)

	a.recordTaskOutcome(true, 4*time.Second)
	// EMA with alpha 0.1: 0.1*4 + 0.9*2 = 2.2
	assert.InDelta(t, 2.2, a.Metrics().AvgResponseTime, 1e-9)
	assert.Equal(t, 2, a.Metrics().TasksCompleted)

	a.recordTaskOutcome(false, time.Second)
	assert.Equal(t, 1, a.Metrics().TasksFailed)
}
