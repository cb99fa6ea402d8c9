package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/localhive/localhive/internal/guardian"
	"github.com/localhive/localhive/internal/llm"
)

// Reviewer is the synchronous output-review contract the cycle handler
// requires before externalizing any agent response.
type Reviewer interface {
	ReviewOutput(ctx context.Context, agentID, content string) guardian.Review
}

// CycleHandler drives one processing cycle of one agent: it consumes the
// agent's event stream and dispatches tool calls, workflow signals, and the
// final response. No error ever crosses the cycle boundary; failures end in
// the Error state.
type CycleHandler struct {
	workflow    *Workflow
	interaction *Interaction
	reviewer    Reviewer
	emitter     *Emitter
	metrics     *RuntimeMetrics
	timeout     time.Duration
	logger      *slog.Logger
}

// NewCycleHandler creates a cycle handler. timeout bounds the wall-clock
// duration of one cycle; zero disables the bound.
func NewCycleHandler(workflow *Workflow, interaction *Interaction, reviewer Reviewer,
	emitter *Emitter, metrics *RuntimeMetrics, timeout time.Duration, logger *slog.Logger) *CycleHandler {
	return &CycleHandler{
		workflow:    workflow,
		interaction: interaction,
		reviewer:    reviewer,
		emitter:     emitter,
		metrics:     metrics,
		timeout:     timeout,
		logger:      logger.With("component", "cycle"),
	}
}

// RunCycle runs exactly one cycle for the agent. Scheduling guarantees
// at-most-one concurrent cycle per agent; a second entry attempt logs and
// returns immediately.
func (h *CycleHandler) RunCycle(ctx context.Context, a *Agent) {
	if err := a.tryBeginProcessing(); err != nil {
		h.logger.Warn("cycle aborted", "agent_id", a.ID, "reason", err)
		return
	}

	started := time.Now()
	entered := a.PreviousState()
	h.logger.Info("cycle started", "agent_id", a.ID, "from_state", entered)

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	var cycleErr error
	finalSeen := false

	func() {
		defer func() {
			if r := recover(); r != nil {
				cycleErr = fmt.Errorf("cycle panicked: %v", r)
			}
		}()
		finalSeen, cycleErr = h.dispatchLoop(ctx, a)
	}()

	failed := cycleErr != nil
	if failed {
		h.logger.Error("cycle failed", "agent_id", a.ID, "error", cycleErr)
		if !h.workflow.FinishCycle(a, StateError) {
			h.logger.Error("could not transition failed cycle to error state", "agent_id", a.ID)
		}
		if h.emitter != nil {
			h.emitter.Emit(Notification{
				Type:    NotifyError,
				AgentID: a.ID,
				Data:    map[string]any{"error": cycleErr.Error()},
			})
		}
	}

	// Whatever happened above, the agent must not stay in Processing.
	if a.State() == StateProcessing {
		if !h.workflow.FinishCycle(a, StateIdle) {
			h.logger.Error("could not return agent to idle", "agent_id", a.ID)
		}
	}

	// A cycle that ended without a final response still resolves waiters.
	if !failed && !finalSeen && h.emitter != nil {
		h.emitter.Emit(Notification{
			Type:    NotifyResponseComplete,
			AgentID: a.ID,
			Data:    map[string]any{"response": "", "noop": true},
		})
	}

	a.pruneHistory()
	a.recordTaskOutcome(!failed, time.Since(started))
	h.metrics.observeCycle(a.Role, time.Since(started).Seconds(), failed)
	h.logger.Info("cycle finished", "agent_id", a.ID, "state", a.State(),
		"elapsed", time.Since(started).Round(time.Millisecond))
}

// dispatchLoop consumes the turn's events strictly in production order.
// Returns whether a final response was handled, whether it was delivered
// or blocked by the guardian.
func (h *CycleHandler) dispatchLoop(ctx context.Context, a *Agent) (finalSeen bool, err error) {
	turn := a.ProcessMessage(ctx)

	for ev := range turn.Events() {
		h.logger.Debug("event", "agent_id", a.ID, "kind", ev.Kind)

		switch ev.Kind {
		case EventThought:
			// Informational only; already surfaced via the emitter.

		case EventToolRequests:
			// Multiple calls in one event run sequentially; tool failures
			// become history entries and never break the loop.
			for _, call := range ev.Calls {
				result := h.interaction.ExecuteToolCall(ctx, a, call)
				h.metrics.observeTool(result.Name, result.Status)
				a.AppendMessage(llm.SystemMessage(fmt.Sprintf(
					"[TOOL_RESULT %s] %s", result.Name, result.Summary())))
			}

		case EventStateChangeRequested:
			if !h.workflow.ChangeAgentState(a, ev.NewState, "") {
				a.AppendMessage(llm.SystemMessage(fmt.Sprintf(
					"[SYSTEM] State change to %s is not allowed from your current state.", ev.NewState)))
			}

		case EventPlanCreated:
			h.workflow.ProcessPlanCreation(ctx, a, ev.Plan)

		case EventTaskListCreated:
			h.workflow.ProcessTaskListCreation(ctx, a, ev.Tasks)

		case EventCreateWorkerRequest:
			h.workflow.ProcessWorkerRequest(ctx, a, ev.WorkerReq)

		case EventFinalResponse:
			// A delivered response ends the cycle; the stream is done.
			finalSeen = h.handleFinalResponse(ctx, a, ev.Content)
			return finalSeen, nil

		default:
			h.logger.Warn("unknown event kind", "agent_id", a.ID, "kind", ev.Kind)
		}
	}
	return false, turn.Err()
}

// handleFinalResponse gates the response through the guardian. Compliant
// content is appended to history as the assistant's message and broadcast;
// blocked content leaves only a blocking notice.
func (h *CycleHandler) handleFinalResponse(ctx context.Context, a *Agent, content string) bool {
	review := h.reviewer.ReviewOutput(ctx, a.ID, content)
	if review.Compliant {
		a.AppendMessage(llm.AssistantMessage(content))
		if h.emitter != nil {
			h.emitter.Emit(Notification{
				Type:    NotifyResponseComplete,
				AgentID: a.ID,
				Data:    map[string]any{"response": content},
			})
		}
		return true
	}

	h.logger.Warn("output blocked by guardian", "agent_id", a.ID,
		"reason", review.Reason, "violation_id", review.ViolationID)
	a.RecordViolation()
	h.metrics.incViolations()
	a.AppendMessage(llm.SystemMessage(fmt.Sprintf("[SYSTEM] Output blocked: %s", review.Reason)))
	if h.emitter != nil {
		h.emitter.Emit(Notification{
			Type:    NotifyViolation,
			AgentID: a.ID,
			Data:    map[string]any{"reason": review.Reason, "violation_id": review.ViolationID},
		})
		// Blocked cycles still resolve synchronous waiters.
		h.emitter.Emit(Notification{
			Type:    NotifyResponseComplete,
			AgentID: a.ID,
			Data:    map[string]any{"response": "", "blocked": true, "reason": review.Reason},
		})
	}
	return true
}
