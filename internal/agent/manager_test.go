package agent_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/localhive/localhive/internal/agent"
	"github.com/localhive/localhive/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAgentEnforcesCap(t *testing.T) {
	rt := newTestRuntime(t, agent.ManagerConfig{MaxAgents: 2})

	_, err := rt.manager.CreateAgent(context.Background(), agent.RoleWorker, "", nil)
	require.NoError(t, err)
	_, err = rt.manager.CreateAgent(context.Background(), agent.RoleWorker, "", nil)
	require.NoError(t, err)

	_, err = rt.manager.CreateAgent(context.Background(), agent.RoleWorker, "", nil)
	require.ErrorIs(t, err, agent.ErrMaxAgents)

	// No partial state: exactly two agents, and the breach was recorded as
	// a violation.
	stats := rt.manager.GetStats()
	assert.Equal(t, 2, stats.ActiveAgents)
	assert.Equal(t, 2, stats.TotalAgentsCreated)
	assert.False(t, rt.guard.Compliant())
}

func TestAgentIDsAreUnique(t *testing.T) {
	rt := newTestRuntime(t, agent.ManagerConfig{MaxAgents: 10})
	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		id, err := rt.manager.CreateAgent(context.Background(), agent.RoleWorker, "", nil)
		require.NoError(t, err)
		require.False(t, seen[id], "duplicate agent id %s", id)
		seen[id] = true
		assert.Regexp(t, `^agent_worker_\d{3}_[0-9a-f]{8}$`, id)
	}
}

func TestRemoveAgentIsSafeForUnknownIDs(t *testing.T) {
	rt := newTestRuntime(t, agent.ManagerConfig{})
	assert.False(t, rt.manager.RemoveAgent(context.Background(), "agent_worker_999_deadbeef"))

	id, err := rt.manager.CreateAgent(context.Background(), agent.RoleWorker, "", nil)
	require.NoError(t, err)
	assert.True(t, rt.manager.RemoveAgent(context.Background(), id))
	assert.False(t, rt.manager.RemoveAgent(context.Background(), id))
	_, ok := rt.manager.GetAgent(id)
	assert.False(t, ok)
}

func TestScheduleCycleIsIdempotentWhileProcessing(t *testing.T) {
	rt := newTestRuntime(t, agent.ManagerConfig{})

	release := make(chan struct{})
	rt.provider.setHandler(func(_ []llm.Message) (string, error) {
		<-release
		return "done", nil
	})

	id, err := rt.manager.CreateAgent(context.Background(), agent.RoleWorker, "", nil)
	require.NoError(t, err)
	a, _ := rt.manager.GetAgent(id)
	a.AppendMessage(llm.UserMessage("go"))

	rt.manager.ScheduleCycle(id)
	require.Eventually(t, func() bool {
		return a.State() == agent.StateProcessing
	}, 2*time.Second, 5*time.Millisecond)

	// Repeated scheduling while processing enqueues at most one follow-up.
	rt.manager.ScheduleCycle(id)
	rt.manager.ScheduleCycle(id)
	rt.manager.ScheduleCycle(id)
	close(release)
	rt.waitSettled(t, id)

	assert.Equal(t, 2, rt.provider.callCount(),
		"one running cycle plus exactly one enqueued follow-up")
}

func TestDeliverMessagePreservesFIFOOrder(t *testing.T) {
	rt := newTestRuntime(t, agent.ManagerConfig{})

	// Hold every cycle so history order is decided purely by delivery.
	release := make(chan struct{})
	rt.provider.setHandler(func(_ []llm.Message) (string, error) {
		<-release
		return "ack", nil
	})
	defer close(release)

	id, err := rt.manager.CreateAgent(context.Background(), agent.RoleWorker, "", nil)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, rt.manager.DeliverMessage(id, fmt.Sprintf("m%d", i)))
	}

	a, _ := rt.manager.GetAgent(id)
	var got []string
	for _, msg := range a.History() {
		if msg.Role == llm.RoleUser {
			got = append(got, msg.Content)
		}
	}
	require.Len(t, got, 10)
	for i, content := range got {
		assert.Equal(t, fmt.Sprintf("m%d", i), content)
	}
}

func TestDeliverMessageUnknownTarget(t *testing.T) {
	rt := newTestRuntime(t, agent.ManagerConfig{})
	err := rt.manager.DeliverMessage("agent_worker_404_00000000", "hello?")
	require.ErrorIs(t, err, agent.ErrAgentNotFound)
}

func TestHandleUserMessageReusesAdminPerUser(t *testing.T) {
	rt := newTestRuntime(t, agent.ManagerConfig{})
	rt.provider.setHandler(func(_ []llm.Message) (string, error) { return "hi", nil })

	first, err := rt.manager.HandleUserMessage(context.Background(), "one", "alice")
	require.NoError(t, err)
	rt.waitSettled(t, first)

	second, err := rt.manager.HandleUserMessage(context.Background(), "two", "alice")
	require.NoError(t, err)
	rt.waitSettled(t, second)

	assert.Equal(t, first, second, "same user must map to the same admin agent")
	assert.Len(t, rt.manager.GetAgentsByRole(agent.RoleAdmin), 1)
}

func TestConcurrentCyclesAcrossAgents(t *testing.T) {
	rt := newTestRuntime(t, agent.ManagerConfig{MaxAgents: 8})

	var mu sync.Mutex
	inDispatch := 0
	maxConcurrent := 0
	rt.provider.setHandler(func(_ []llm.Message) (string, error) {
		mu.Lock()
		inDispatch++
		if inDispatch > maxConcurrent {
			maxConcurrent = inDispatch
		}
		mu.Unlock()
		time.Sleep(50 * time.Millisecond)
		mu.Lock()
		inDispatch--
		mu.Unlock()
		return "ok", nil
	})

	var ids []string
	for i := 0; i < 4; i++ {
		id, err := rt.manager.CreateAgent(context.Background(), agent.RoleWorker, "", nil)
		require.NoError(t, err)
		a, _ := rt.manager.GetAgent(id)
		a.AppendMessage(llm.UserMessage("go"))
		ids = append(ids, id)
	}
	for _, id := range ids {
		rt.manager.ScheduleCycle(id)
	}
	for _, id := range ids {
		rt.waitSettled(t, id)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Greater(t, maxConcurrent, 1, "cycles across distinct agents should overlap")
}

func TestShutdownLeavesNoAgentProcessing(t *testing.T) {
	rt := newTestRuntime(t, agent.ManagerConfig{})

	started := make(chan struct{}, 1)
	rt.provider.setHandler(func(_ []llm.Message) (string, error) {
		started <- struct{}{}
		time.Sleep(100 * time.Millisecond)
		return "slow", nil
	})

	id, err := rt.manager.CreateAgent(context.Background(), agent.RoleWorker, "", nil)
	require.NoError(t, err)
	a, _ := rt.manager.GetAgent(id)
	a.AppendMessage(llm.UserMessage("go"))
	rt.manager.ScheduleCycle(id)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rt.manager.Shutdown(ctx)

	assert.NotEqual(t, agent.StateProcessing, a.State())
}

func TestStatsAggregation(t *testing.T) {
	rt := newTestRuntime(t, agent.ManagerConfig{})
	rt.provider.setHandler(func(_ []llm.Message) (string, error) { return "hi", nil })

	adminID, err := rt.manager.HandleUserMessage(context.Background(), "hello", "bob")
	require.NoError(t, err)
	rt.waitSettled(t, adminID)
	_, err = rt.manager.CreateAgent(context.Background(), agent.RoleWorker, "", nil)
	require.NoError(t, err)

	stats := rt.manager.GetStats()
	assert.Equal(t, 2, stats.ActiveAgents)
	assert.Equal(t, 2, stats.TotalAgentsCreated)
	assert.Equal(t, 1, stats.TotalCyclesRun)
	assert.Equal(t, 2, stats.AgentStates["idle"])
	assert.InDelta(t, 1.0, stats.AverageHealthScore, 1e-9)
	assert.True(t, stats.Compliant)
}
