package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/localhive/localhive/internal/llm"
	"github.com/localhive/localhive/internal/plan"
)

// Workflow owns state transitions and the multi-agent project workflows:
// plan → manager spawn, task list → team building, worker requests → worker
// spawn and task assignment.
type Workflow struct {
	assembler *Assembler
	emitter   *Emitter
	projects  *plan.Store // optional project ledger
	logger    *slog.Logger
	manager   *Manager // injected after construction to break the init cycle
}

// NewWorkflow creates the workflow manager. Call SetManager before use.
func NewWorkflow(assembler *Assembler, emitter *Emitter, logger *slog.Logger) *Workflow {
	return &Workflow{
		assembler: assembler,
		emitter:   emitter,
		logger:    logger.With("component", "workflow"),
	}
}

// SetManager injects the agent manager.
func (w *Workflow) SetManager(m *Manager) { w.manager = m }

// SetProjectStore attaches the optional project ledger.
func (w *Workflow) SetProjectStore(ps *plan.Store) { w.projects = ps }

// ChangeAgentState validates and applies a transition, appending a
// transition-notice system message to the agent's history first so the next
// cycle sees the guidance. Invalid transitions mutate nothing and return
// false. A same-state change is a permitted no-op that only appends a
// recognizable from==to entry to the state history.
func (w *Workflow) ChangeAgentState(a *Agent, newState State, transCtx string) bool {
	current := a.State()
	if newState == current {
		a.recordSameState(transCtx)
		w.logger.Debug("same-state change recorded", "agent_id", a.ID, "state", newState)
		return true
	}
	if !IsValidTransition(current, newState) {
		w.logger.Error("invalid state transition rejected",
			"agent_id", a.ID, "from", current, "to", newState)
		return false
	}

	a.AppendMessage(w.assembler.BuildTransitionNotice(a, newState, transCtx))
	if err := a.setState(newState, transCtx, false); err != nil {
		// The state moved between validation and application; the notice
		// message stays as a historical artifact of the attempt.
		w.logger.Error("state transition failed", "agent_id", a.ID, "to", newState, "error", err)
		return false
	}
	w.logger.Info("agent state changed", "agent_id", a.ID, "from", current, "to", newState)
	return true
}

// FinishCycle returns an agent from Processing to a terminal state without
// injecting a transition notice: end-of-cycle transitions are bookkeeping,
// not guidance the model should read.
func (w *Workflow) FinishCycle(a *Agent, to State) bool {
	if err := a.setState(to, "cycle end", false); err != nil {
		w.logger.Error("cycle-end transition failed", "agent_id", a.ID, "to", to, "error", err)
		return false
	}
	return true
}

// formatPlanMessage renders the plan hand-off message a new manager receives.
func formatPlanMessage(p *Plan) string {
	var sb strings.Builder
	name := p.ProjectName
	if name == "" {
		name = "Unnamed Project"
	}
	desc := p.Description
	if desc == "" {
		desc = "No description"
	}
	fmt.Fprintf(&sb, "You have been assigned a new project:\n\nProject: %s\n\nDescription: %s\n\nObjectives:\n", name, desc)
	for _, obj := range p.Objectives {
		fmt.Fprintf(&sb, "- %s\n", obj)
	}
	sb.WriteString("\nDeliverables:\n")
	for _, del := range p.Deliverables {
		fmt.Fprintf(&sb, "- %s\n", del)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// ProcessPlanCreation handles the project-creation workflow after an admin
// agent produces a plan: spawn a manager, hand it the plan, move it to
// Startup, schedule its first cycle, and tell the admin who took the job.
func (w *Workflow) ProcessPlanCreation(ctx context.Context, admin *Agent, p *Plan) {
	if w.manager == nil {
		w.logger.Error("cannot process plan creation: manager not set")
		return
	}
	w.logger.Info("starting project creation workflow", "project", p.ProjectName, "admin", admin.ID)

	pmID, err := w.manager.CreateAgent(ctx, RoleManager, "", nil)
	if err != nil {
		w.logger.Error("failed to create manager agent for project", "error", err)
		admin.AppendMessage(llm.SystemMessage("[SYSTEM] Project creation failed: no manager agent could be created."))
		return
	}
	pm, ok := w.manager.GetAgent(pmID)
	if !ok {
		w.logger.Error("manager agent vanished after creation", "agent_id", pmID)
		return
	}

	pm.AppendMessage(llm.UserMessage(formatPlanMessage(p)))
	if w.projects != nil {
		w.projects.Create(pmID, admin.ID, p.ProjectName, p.Description)
	}
	w.ChangeAgentState(pm, StateStartup, "Break down this project into actionable tasks")
	w.manager.ScheduleCycle(pmID)

	admin.AppendMessage(llm.SystemMessage(fmt.Sprintf(
		"[SYSTEM] Project Manager agent %s has been created and assigned your plan. They will break it down into tasks.", pmID)))

	if w.emitter != nil {
		w.emitter.Emit(Notification{
			Type:    NotifyPlanCreated,
			AgentID: admin.ID,
			Data:    map[string]any{"project_name": p.ProjectName, "manager_id": pmID},
		})
	}
}

// ProcessTaskListCreation handles a manager's task breakdown: store the
// tasks in its working memory, advance it to BuildTeamTasks, and schedule
// the next cycle of the workflow.
func (w *Workflow) ProcessTaskListCreation(ctx context.Context, pm *Agent, tasks []Task) {
	if w.manager == nil {
		w.logger.Error("cannot process task list: manager not set")
		return
	}
	w.logger.Info("manager defined tasks", "agent_id", pm.ID, "tasks", len(tasks))

	// Assign stable ids so later worker requests can reference tasks.
	for i := range tasks {
		if tasks[i].ID == "" {
			tasks[i].ID = fmt.Sprintf("task_%03d", i+1)
		}
	}
	pm.WorkingSet("tasks", tasks)
	if w.projects != nil {
		statuses := make([]plan.TaskStatus, len(tasks))
		for i, t := range tasks {
			statuses[i] = plan.TaskStatus{ID: t.ID, Name: t.Name}
		}
		w.projects.SetTasks(pm.ID, statuses)
	}

	w.ChangeAgentState(pm, StateBuildTeamTasks,
		fmt.Sprintf("You have defined %d tasks. Now create worker agents for these tasks.", len(tasks)))
	w.manager.ScheduleCycle(pm.ID)

	if w.emitter != nil {
		w.emitter.Emit(Notification{
			Type:    NotifyTaskListCreated,
			AgentID: pm.ID,
			Data:    map[string]any{"task_count": len(tasks)},
		})
	}
}

// taskByID finds a task in the requester's working memory.
func taskByID(a *Agent, taskID string) (Task, bool) {
	v, ok := a.WorkingGet("tasks")
	if !ok {
		return Task{}, false
	}
	tasks, ok := v.([]Task)
	if !ok {
		return Task{}, false
	}
	for _, t := range tasks {
		if t.ID == taskID {
			return t, true
		}
	}
	return Task{}, false
}

// ProcessWorkerRequest spawns a worker for a task, delivers the assignment,
// moves the worker to Work, and schedules its cycle. The requesting agent
// learns the worker's id through a system message so it can delegate
// follow-ups with send_message.
func (w *Workflow) ProcessWorkerRequest(ctx context.Context, requester *Agent, req *WorkerRequest) {
	if w.manager == nil {
		w.logger.Error("cannot process worker request: manager not set")
		return
	}

	workerID, err := w.manager.CreateAgent(ctx, RoleWorker, "", nil)
	if err != nil {
		w.logger.Error("failed to create worker agent", "task_id", req.TaskID, "error", err)
		requester.AppendMessage(llm.SystemMessage(fmt.Sprintf(
			"[SYSTEM] Worker creation for task %s failed: %v", req.TaskID, err)))
		return
	}
	worker, ok := w.manager.GetAgent(workerID)
	if !ok {
		w.logger.Error("worker agent vanished after creation", "agent_id", workerID)
		return
	}

	assignment := fmt.Sprintf("[From @%s]: Your task (%s)", requester.ID, req.TaskID)
	if task, ok := taskByID(requester, req.TaskID); ok {
		assignment = fmt.Sprintf("[From @%s]: Your task (%s): %s\n%s", requester.ID, req.TaskID, task.Name, task.Description)
		if task.RequiredSkills != "" {
			assignment += "\nRequired skills: " + task.RequiredSkills
		}
	} else if req.Specialty != "" {
		assignment += "\nSpecialty: " + req.Specialty
	}
	worker.AppendMessage(llm.UserMessage(assignment))

	w.ChangeAgentState(worker, StateWork, "Execute your assigned task")
	w.manager.ScheduleCycle(workerID)

	requester.AppendMessage(llm.SystemMessage(fmt.Sprintf(
		"[SYSTEM] Worker agent %s created for task %s.", workerID, req.TaskID)))
	if w.projects != nil {
		w.projects.UpdateTask(requester.ID, req.TaskID, plan.StatusInProgress, workerID)
	}

	if w.emitter != nil {
		w.emitter.Emit(Notification{
			Type:    NotifyWorkerCreated,
			AgentID: requester.ID,
			Data:    map[string]any{"worker_id": workerID, "task_id": req.TaskID},
		})
	}
}
