package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/localhive/localhive/internal/llm"
	"github.com/localhive/localhive/internal/util"
)

// Turn is the lazy event stream produced by one ProcessMessage call. The
// cycle handler ranges over Events and checks Err once the channel closes,
// scanner-style.
type Turn struct {
	events chan Event
	err    error // written before events is closed, read after
}

// Events returns the channel of events for this turn. The channel closes
// when the turn ends.
func (t *Turn) Events() <-chan Event { return t.events }

// Err reports the failure that ended the turn, if any. Only valid after the
// events channel has closed.
func (t *Turn) Err() error { return t.err }

// ProcessMessage runs one model turn: assemble the prompt, stream the
// response, then extract at most one structural block in priority order
// (tool_requests → create_worker_request → plan → task_list →
// state_change_request) or fall back to a final response. The returned Turn
// yields an informational thought event followed by the single structural
// or final event.
func (a *Agent) ProcessMessage(ctx context.Context) *Turn {
	turn := &Turn{events: make(chan Event)}

	go func() {
		defer close(turn.events)

		messages := a.assembler.Assemble(a)

		chunks := 0
		resp, err := a.provider.Stream(ctx, messages, llm.Options{}, func(chunk string) {
			chunks++
			if a.emitter != nil {
				a.emitter.Emit(Notification{
					Type:    NotifyResponseChunk,
					AgentID: a.ID,
					Data:    map[string]any{"chunk": chunk},
				})
			}
		})
		if err != nil {
			turn.err = fmt.Errorf("model stream failed: %w", err)
			return
		}

		text := resp.Content
		a.logger.Debug("model turn complete", "chars", len(text), "chunks", chunks, "latency_ms", resp.LatencyMS)

		emit := func(ev Event) bool {
			select {
			case turn.events <- ev:
				return true
			case <-ctx.Done():
				turn.err = ctx.Err()
				return false
			}
		}

		if !emit(Event{Kind: EventThought, Thought: summarizeTurn(text)}) {
			return
		}
		if a.emitter != nil {
			a.emitter.Emit(Notification{
				Type:    NotifyThinking,
				AgentID: a.ID,
				Data:    map[string]any{"summary": summarizeTurn(text)},
			})
		}

		// Extraction priority: the first matching block wins; everything
		// else in the same response is ignored for dispatch purposes.
		if result := a.parser.ParseToolCalls(text); result.OK {
			emit(Event{Kind: EventToolRequests, Calls: result.Calls})
			return
		}
		if req := a.parser.ExtractCreateWorkerRequest(text); req != nil {
			emit(Event{Kind: EventCreateWorkerRequest, WorkerReq: req})
			return
		}
		if plan := a.parser.ExtractPlan(text); plan != nil {
			emit(Event{Kind: EventPlanCreated, Plan: plan})
			return
		}
		if tasks := a.parser.ExtractTaskList(text); tasks != nil {
			emit(Event{Kind: EventTaskListCreated, Tasks: tasks})
			return
		}
		if target, ok := a.parser.ExtractStateChange(text); ok {
			emit(Event{Kind: EventStateChangeRequested, NewState: target})
			return
		}
		emit(Event{Kind: EventFinalResponse, Content: text})
	}()

	return turn
}

// summarizeTurn produces the short informational digest carried by thought
// events.
func summarizeTurn(text string) string {
	return util.TruncateRunes(strings.Join(strings.Fields(text), " "), 160)
}
