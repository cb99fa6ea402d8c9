package agent_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/localhive/localhive/internal/agent"
	"github.com/localhive/localhive/internal/guardian"
	"github.com/localhive/localhive/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSingleTurnChat(t *testing.T) {
	rt := newTestRuntime(t, agent.ManagerConfig{})
	rt.provider.setHandler(func(_ []llm.Message) (string, error) {
		return "Hi there.", nil
	})

	adminID, err := rt.manager.HandleUserMessage(context.Background(), "Hello", "user1")
	require.NoError(t, err)
	rt.waitSettled(t, adminID)

	admin, ok := rt.manager.GetAgent(adminID)
	require.True(t, ok)
	require.Equal(t, agent.StateIdle, admin.State())

	history := admin.History()
	require.GreaterOrEqual(t, len(history), 2)
	last := history[len(history)-1]
	prev := history[len(history)-2]
	assert.Equal(t, llm.RoleUser, prev.Role)
	assert.Equal(t, "Hello", prev.Content)
	assert.Equal(t, llm.RoleAssistant, last.Role)
	assert.Equal(t, "Hi there.", last.Content)

	stats := rt.manager.GetStats()
	assert.Equal(t, 1, stats.TotalCyclesRun)
	assert.Equal(t, 0, stats.TotalViolations)
	assert.True(t, stats.Compliant)
}

func TestToolInvocationDeliversMessage(t *testing.T) {
	rt := newTestRuntime(t, agent.ManagerConfig{})

	workerID, err := rt.manager.CreateAgent(context.Background(), agent.RoleWorker, "", nil)
	require.NoError(t, err)

	toolXML := fmt.Sprintf(`<tool_requests><calls><tool_call><name>send_message</name>`+
		`<args><target_agent_id>%s</target_agent_id><message>do X</message></args>`+
		`</tool_call></calls></tool_requests>`, workerID)

	rt.provider.setHandler(func(messages []llm.Message) (string, error) {
		if strings.Contains(lastUserContent(messages), "delegate") {
			return toolXML, nil
		}
		return "done", nil
	})

	adminID, err := rt.manager.HandleUserMessage(context.Background(), "please delegate", "user1")
	require.NoError(t, err)
	rt.waitSettled(t, adminID)
	rt.waitSettled(t, workerID)

	worker, _ := rt.manager.GetAgent(workerID)
	var delivered string
	for _, msg := range worker.History() {
		if msg.Role == llm.RoleUser && strings.Contains(msg.Content, "do X") {
			delivered = msg.Content
			break
		}
	}
	require.NotEmpty(t, delivered, "worker never received the message")
	assert.Equal(t, fmt.Sprintf("[From @%s]: do X", adminID), delivered)

	admin, _ := rt.manager.GetAgent(adminID)
	require.Equal(t, agent.StateIdle, admin.State())
	var sawResult bool
	for _, msg := range admin.History() {
		if msg.Role == llm.RoleSystem && strings.HasPrefix(msg.Content, "[TOOL_RESULT send_message] ok") {
			sawResult = true
		}
	}
	assert.True(t, sawResult, "admin history missing tool result summary")
}

func TestPlanSpawnsManagerAndTaskListBuildsTeam(t *testing.T) {
	rt := newTestRuntime(t, agent.ManagerConfig{})

	planXML := `<plan>
<project_name>Deploy</project_name>
<description>Ship the service</description>
<objectives>
- Build it
- Deploy it
</objectives>
<deliverables>
- Binary
- Runbook
</deliverables>
</plan>`
	taskListXML := `<task_list>
<task><name>Build</name><description>Compile the binary</description><required_skills>go</required_skills></task>
<task><name>Deploy</name><description>Roll it out</description></task>
</task_list>`

	// Branch on the per-state system prompt so each workflow stage gets
	// exactly one scripted response.
	rt.provider.setHandler(func(messages []llm.Message) (string, error) {
		systemPrompt := messages[0].Content
		switch {
		case strings.Contains(systemPrompt, "Admin AI"):
			return planXML, nil
		case strings.Contains(systemPrompt, "STARTUP mode"):
			return taskListXML, nil
		default:
			return "standing by", nil
		}
	})

	adminID, err := rt.manager.HandleUserMessage(context.Background(), "Deploy the project", "user1")
	require.NoError(t, err)
	rt.waitSettled(t, adminID)

	require.Eventually(t, func() bool {
		return len(rt.manager.GetAgentsByRole(agent.RoleManager)) == 1
	}, 5*time.Second, 10*time.Millisecond)
	pm := rt.manager.GetAgentsByRole(agent.RoleManager)[0]
	rt.waitSettled(t, pm.ID)

	// The admin learned who took the project.
	admin, _ := rt.manager.GetAgent(adminID)
	var notified bool
	for _, msg := range admin.History() {
		if strings.Contains(msg.Content, "[SYSTEM] Project Manager agent "+pm.ID) {
			notified = true
		}
	}
	assert.True(t, notified, "admin was not notified about the manager")

	// The manager received the formatted plan with both objectives.
	var planMsg string
	for _, msg := range pm.History() {
		if msg.Role == llm.RoleUser && strings.Contains(msg.Content, "You have been assigned a new project") {
			planMsg = msg.Content
		}
	}
	require.NotEmpty(t, planMsg)
	assert.Contains(t, planMsg, "Project: Deploy")
	assert.Contains(t, planMsg, "- Build it")
	assert.Contains(t, planMsg, "- Deploy it")
	assert.Contains(t, planMsg, "- Runbook")

	// The manager passed through Startup, then BuildTeamTasks once its task
	// list was processed.
	var sawStartup, sawBuildTeam bool
	for _, tr := range pm.StateHistory() {
		if tr.To == agent.StateStartup {
			sawStartup = true
		}
		if tr.To == agent.StateBuildTeamTasks {
			sawBuildTeam = true
		}
	}
	assert.True(t, sawStartup, "manager never entered startup")
	assert.True(t, sawBuildTeam, "manager never entered build_team_tasks")

	// Tasks landed in working memory with generated ids.
	v, ok := pm.WorkingGet("tasks")
	require.True(t, ok)
	tasks := v.([]agent.Task)
	require.Len(t, tasks, 2)
	assert.Equal(t, "task_001", tasks[0].ID)
	assert.Equal(t, "Build", tasks[0].Name)

	// And in the project ledger.
	project, ok := rt.projects.Get(pm.ID)
	require.True(t, ok)
	assert.Equal(t, "Deploy", project.ProjectName)
	require.Len(t, project.Tasks, 2)
}

func TestWorkerRequestSpawnsWorker(t *testing.T) {
	rt := newTestRuntime(t, agent.ManagerConfig{})

	rt.provider.setHandler(func(messages []llm.Message) (string, error) {
		if strings.Contains(lastUserContent(messages), "Your task") {
			return "task complete", nil
		}
		return `<create_worker_request><task_id>task_001</task_id><specialty>golang</specialty></create_worker_request>`, nil
	})

	pmID, err := rt.manager.CreateAgent(context.Background(), agent.RoleManager, "", nil)
	require.NoError(t, err)
	pm, _ := rt.manager.GetAgent(pmID)
	pm.WorkingSet("tasks", []agent.Task{{ID: "task_001", Name: "Build", Description: "Compile it"}})

	pm.AppendMessage(llm.UserMessage("build your team"))
	rt.manager.ScheduleCycle(pmID)
	rt.waitSettled(t, pmID)

	require.Eventually(t, func() bool {
		return len(rt.manager.GetAgentsByRole(agent.RoleWorker)) == 1
	}, 5*time.Second, 10*time.Millisecond)
	worker := rt.manager.GetAgentsByRole(agent.RoleWorker)[0]
	rt.waitSettled(t, worker.ID)

	var assignment string
	for _, msg := range worker.History() {
		if msg.Role == llm.RoleUser {
			assignment = msg.Content
		}
	}
	assert.Contains(t, assignment, "Your task (task_001): Build")
	assert.Contains(t, assignment, "Compile it")

	var sawWork bool
	for _, tr := range worker.StateHistory() {
		if tr.To == agent.StateWork {
			sawWork = true
		}
	}
	assert.True(t, sawWork, "worker never transitioned to work")

	var pmNotified bool
	for _, msg := range pm.History() {
		if strings.Contains(msg.Content, "Worker agent "+worker.ID+" created for task task_001") {
			pmNotified = true
		}
	}
	assert.True(t, pmNotified)
}

func TestGuardianBlocksOutput(t *testing.T) {
	rt := newTestRuntime(t, agent.ManagerConfig{})
	rt.provider.setHandler(func(_ []llm.Message) (string, error) {
		return "the user's credit card number is 1234", nil
	})

	workerID, err := rt.manager.CreateAgent(context.Background(), agent.RoleWorker, "", nil)
	require.NoError(t, err)
	worker, _ := rt.manager.GetAgent(workerID)
	worker.AppendMessage(llm.UserMessage("report your findings"))
	rt.manager.ScheduleCycle(workerID)
	rt.waitSettled(t, workerID)

	require.Equal(t, agent.StateIdle, worker.State())

	var blocked bool
	for _, msg := range worker.History() {
		assert.NotEqual(t, llm.RoleAssistant, msg.Role, "blocked content must not be externalized")
		if msg.Role == llm.RoleSystem && strings.Contains(msg.Content, "[SYSTEM] Output blocked: Privacy violation") {
			blocked = true
		}
	}
	assert.True(t, blocked, "missing blocking notice")

	metrics := rt.guard.ComplianceMetrics()
	assert.Equal(t, 1, metrics.ByType[guardian.ViolationPrivacy])
	assert.Equal(t, 1, metrics.BySeverity[guardian.SeverityHigh])
	assert.InDelta(t, 0.9, metrics.PrivacyScore, 1e-9)
	assert.Equal(t, 1, worker.Metrics().Violations)
}

func TestInvalidTransitionRejected(t *testing.T) {
	rt := newTestRuntime(t, agent.ManagerConfig{})

	id, err := rt.manager.CreateAgent(context.Background(), agent.RoleAdmin, "", nil)
	require.NoError(t, err)
	a, _ := rt.manager.GetAgent(id)

	require.True(t, rt.workflow.ChangeAgentState(a, agent.StatePlanning, ""))
	historyBefore := len(a.History())
	transitionsBefore := len(a.StateHistory())

	ok := rt.workflow.ChangeAgentState(a, agent.StateShutdown, "")
	assert.False(t, ok)
	assert.Equal(t, agent.StatePlanning, a.State())
	assert.Len(t, a.History(), historyBefore, "rejected transition must not append history")
	assert.Len(t, a.StateHistory(), transitionsBefore, "rejected transition must not be recorded")
}

func TestSameStateChangeIsRecognizableNoop(t *testing.T) {
	rt := newTestRuntime(t, agent.ManagerConfig{})
	id, err := rt.manager.CreateAgent(context.Background(), agent.RoleWorker, "", nil)
	require.NoError(t, err)
	a, _ := rt.manager.GetAgent(id)

	historyBefore := len(a.History())
	require.True(t, rt.workflow.ChangeAgentState(a, a.State(), "noop"))

	transitions := a.StateHistory()
	last := transitions[len(transitions)-1]
	assert.Equal(t, last.From, last.To)
	assert.Len(t, a.History(), historyBefore, "same-state change must not inject a notice")
}

func TestLLMFailureEndsCycleInError(t *testing.T) {
	rt := newTestRuntime(t, agent.ManagerConfig{})
	rt.provider.setHandler(func(_ []llm.Message) (string, error) {
		return "", fmt.Errorf("backend unreachable")
	})

	adminID, err := rt.manager.HandleUserMessage(context.Background(), "Hello", "")
	require.NoError(t, err)
	rt.waitSettled(t, adminID)

	admin, _ := rt.manager.GetAgent(adminID)
	assert.Equal(t, agent.StateError, admin.State())

	// The agent remains usable after a subsequent successful cycle.
	require.True(t, rt.workflow.ChangeAgentState(admin, agent.StateIdle, "recovered"))
	rt.provider.setHandler(func(_ []llm.Message) (string, error) { return "back online", nil })
	admin.AppendMessage(llm.UserMessage("are you there?"))
	rt.manager.ScheduleCycle(adminID)
	rt.waitSettled(t, adminID)
	assert.Equal(t, agent.StateIdle, admin.State())
	history := admin.History()
	assert.Equal(t, "back online", history[len(history)-1].Content)
}

func TestStateChangeRequestDispatch(t *testing.T) {
	rt := newTestRuntime(t, agent.ManagerConfig{})
	rt.provider.setHandler(func(_ []llm.Message) (string, error) {
		return `Understood. <state_change_request><new_state>planning</new_state></state_change_request>`, nil
	})

	adminID, err := rt.manager.HandleUserMessage(context.Background(), "plan something big", "")
	require.NoError(t, err)
	rt.waitSettled(t, adminID)

	admin, _ := rt.manager.GetAgent(adminID)
	assert.Equal(t, agent.StatePlanning, admin.State())
}

func TestCycleTimeoutTransitionsToError(t *testing.T) {
	rt := newTestRuntime(t, agent.ManagerConfig{CycleTimeout: 50 * time.Millisecond})
	rt.provider.setHandler(func(_ []llm.Message) (string, error) {
		time.Sleep(200 * time.Millisecond)
		return "", context.DeadlineExceeded
	})

	adminID, err := rt.manager.HandleUserMessage(context.Background(), "Hello", "")
	require.NoError(t, err)
	rt.waitSettled(t, adminID)

	admin, _ := rt.manager.GetAgent(adminID)
	assert.Equal(t, agent.StateError, admin.State())
}
