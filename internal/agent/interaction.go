package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/localhive/localhive/internal/tool"
)

// InteractionRecord is one audited tool invocation. Argument values are
// deliberately not captured, only their names.
type InteractionRecord struct {
	AgentID   string    `json:"agent_id"`
	Tool      string    `json:"tool"`
	ArgNames  []string  `json:"arg_names"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Interaction mediates between an agent's tool-call event and the tool
// registry. It validates the call, injects the sender identity, and records
// the interaction for audit. It never mutates the sender's history; the
// cycle handler converts results into messages.
type Interaction struct {
	registry *tool.Registry
	emitter  *Emitter
	logger   *slog.Logger

	mu      sync.Mutex
	records []InteractionRecord
}

// NewInteraction creates the interaction handler.
func NewInteraction(registry *tool.Registry, emitter *Emitter, logger *slog.Logger) *Interaction {
	return &Interaction{
		registry: registry,
		emitter:  emitter,
		logger:   logger.With("component", "interaction"),
	}
}

// ExecuteToolCall runs one tool call on behalf of an agent.
func (h *Interaction) ExecuteToolCall(ctx context.Context, sender *Agent, call ToolCall) tool.Result {
	if call.Name == "" {
		h.logger.Error("malformed tool call: missing name", "agent_id", sender.ID)
		return tool.Errorf("", "malformed tool call: missing name")
	}

	h.logger.Info("agent calling tool", "agent_id", sender.ID, "tool", call.Name,
		"args", tool.ArgNames(call.Args))
	if h.emitter != nil {
		h.emitter.Emit(Notification{
			Type:    NotifyToolStart,
			AgentID: sender.ID,
			Data:    map[string]any{"tool": call.Name},
		})
	}

	result := h.registry.Execute(tool.WithSender(ctx, sender.ID), call.Name, call.Args)

	h.mu.Lock()
	h.records = append(h.records, InteractionRecord{
		AgentID:   sender.ID,
		Tool:      call.Name,
		ArgNames:  tool.ArgNames(call.Args),
		Status:    result.Status,
		Timestamp: time.Now(),
	})
	h.mu.Unlock()

	if h.emitter != nil {
		h.emitter.Emit(Notification{
			Type:    NotifyToolComplete,
			AgentID: sender.ID,
			Data:    map[string]any{"tool": call.Name, "status": result.Status},
		})
	}
	return result
}

// Records returns a copy of the audit trail.
func (h *Interaction) Records() []InteractionRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]InteractionRecord, len(h.records))
	copy(out, h.records)
	return out
}
