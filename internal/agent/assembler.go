package agent

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/localhive/localhive/internal/llm"
	"github.com/localhive/localhive/internal/prompt"
)

// ToolDescriber supplies the tools section of the dynamic context. The tool
// registry implements it.
type ToolDescriber interface {
	Describe() []string
}

// Assembler builds the per-turn message list for one agent: the (role,
// state) system prompt, the agent's history verbatim, and a trailing system
// message with dynamic context.
type Assembler struct {
	table  *prompt.Table
	tools  ToolDescriber // may be nil
	logger *slog.Logger
}

// NewAssembler creates an assembler over the loaded prompt table.
func NewAssembler(table *prompt.Table, tools ToolDescriber, logger *slog.Logger) *Assembler {
	return &Assembler{table: table, tools: tools, logger: logger.With("component", "assembler")}
}

// promptState resolves the state used for prompt lookup. Idle agents are
// prompted with their role's default active state so a freshly woken agent
// still knows its job.
func promptState(role Role, state State) State {
	if state != StateIdle && state != StateProcessing {
		return state
	}
	switch role {
	case RoleAdmin:
		return StateConversation
	case RoleWorker:
		return StateWork
	case RoleManager:
		return StateStartup
	default:
		return StateIdle
	}
}

// Assemble returns the complete message list for the agent's next model
// call. A missing prompt-table entry yields an empty system prompt; the
// agent is then driven by history alone.
func (asm *Assembler) Assemble(a *Agent) []llm.Message {
	var messages []llm.Message

	// While a cycle runs the agent sits in Processing; the state it entered
	// the cycle from decides which prompt applies.
	state := a.State()
	if state == StateProcessing {
		state = a.PreviousState()
	}
	lookup := promptState(a.Role, state)
	system, ok := asm.table.Prompt(string(a.Role), string(lookup))
	if !ok {
		asm.logger.Debug("no prompt table entry", "role", a.Role, "state", lookup)
	}
	messages = append(messages, llm.SystemMessage(system))

	messages = append(messages, a.History()...)

	if dynamic := asm.dynamicContext(a); dynamic != "" {
		messages = append(messages, llm.SystemMessage(dynamic))
	}
	return messages
}

// dynamicContext builds the trailing system message: wall-clock time for
// admin agents plus the available-tools description.
func (asm *Assembler) dynamicContext(a *Agent) string {
	var parts []string

	if a.Role == RoleAdmin {
		parts = append(parts, fmt.Sprintf("Current time: %s", time.Now().Format("2006-01-02 15:04:05")))
	}

	if asm.tools != nil {
		if lines := asm.tools.Describe(); len(lines) > 0 {
			parts = append(parts, "Available tools:\n"+strings.Join(lines, "\n"))
		}
	} else if desc := asm.table.ToolsDescription(); desc != "" {
		parts = append(parts, "Available tools:\n"+desc)
	}

	return strings.Join(parts, "\n\n")
}

// BuildTransitionNotice returns the system message the workflow manager
// appends when it moves an agent to a new state.
func (asm *Assembler) BuildTransitionNotice(a *Agent, newState State, transCtx string) llm.Message {
	content := fmt.Sprintf("[SYSTEM] State transition to: %s", newState)
	if guidance, ok := asm.table.Guidance(string(newState)); ok {
		content += "\n" + guidance
	}
	if transCtx != "" {
		content += "\nContext: " + transCtx
	}
	return llm.SystemMessage(content)
}
