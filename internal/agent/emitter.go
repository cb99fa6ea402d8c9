package agent

import (
	"log/slog"
	"sync"
	"time"
)

// NotificationType tags the runtime notifications fanned out to observers
// (websocket clients, audit log, response collectors).
type NotificationType string

const (
	NotifyThinking         NotificationType = "agent_thinking"
	NotifyStateChange      NotificationType = "agent_state_change"
	NotifyResponseChunk    NotificationType = "response_chunk"
	NotifyResponseComplete NotificationType = "response_complete"
	NotifyToolStart        NotificationType = "tool_execution_start"
	NotifyToolComplete     NotificationType = "tool_execution_complete"
	NotifyPlanCreated      NotificationType = "plan_created"
	NotifyTaskListCreated  NotificationType = "task_list_created"
	NotifyWorkerCreated    NotificationType = "worker_created"
	NotifyError            NotificationType = "error_occurred"
	NotifyViolation        NotificationType = "compliance_violation"
)

// Notification is a value object describing something that happened inside
// the runtime. It has no lifetime beyond delivery to subscribers.
type Notification struct {
	Type      NotificationType `json:"type"`
	AgentID   string           `json:"agent_id"`
	Timestamp time.Time        `json:"timestamp"`
	Data      map[string]any   `json:"data,omitempty"`
}

// WebSocketFrame converts the notification into the frame shape pushed to
// websocket clients.
func (n Notification) WebSocketFrame() map[string]any {
	frame := map[string]any{
		"type":      "agent_event",
		"event":     string(n.Type),
		"agent_id":  n.AgentID,
		"timestamp": n.Timestamp.Unix(),
	}
	for k, v := range n.Data {
		frame[k] = v
	}
	return frame
}

// NotificationFunc receives a notification. Callbacks run on the emitting
// goroutine and must not block for long.
type NotificationFunc func(Notification)

// Emitter fans runtime notifications out to subscribers and keeps a bounded
// history for debugging and audit. Safe for concurrent use; callbacks are
// invoked outside the lock.
type Emitter struct {
	mu         sync.Mutex
	byType     map[NotificationType][]NotificationFunc
	global     []NotificationFunc
	history    []Notification
	maxHistory int
	logger     *slog.Logger
}

// NewEmitter creates an emitter retaining at most maxHistory notifications.
func NewEmitter(logger *slog.Logger, maxHistory int) *Emitter {
	if maxHistory <= 0 {
		maxHistory = 1000
	}
	return &Emitter{
		byType:     make(map[NotificationType][]NotificationFunc),
		maxHistory: maxHistory,
		logger:     logger.With("component", "emitter"),
	}
}

// Subscribe registers a callback for one notification type.
func (e *Emitter) Subscribe(t NotificationType, fn NotificationFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.byType[t] = append(e.byType[t], fn)
}

// SubscribeAll registers a callback for every notification.
func (e *Emitter) SubscribeAll(fn NotificationFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.global = append(e.global, fn)
}

// Emit records the notification and delivers it to subscribers. Subscriber
// panics are contained so one bad observer cannot take down a cycle.
func (e *Emitter) Emit(n Notification) {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	e.mu.Lock()
	e.history = append(e.history, n)
	if len(e.history) > e.maxHistory {
		e.history = e.history[len(e.history)-e.maxHistory:]
	}
	typed := make([]NotificationFunc, len(e.byType[n.Type]))
	copy(typed, e.byType[n.Type])
	global := make([]NotificationFunc, len(e.global))
	copy(global, e.global)
	e.mu.Unlock()

	for _, fn := range typed {
		e.safeInvoke(fn, n)
	}
	for _, fn := range global {
		e.safeInvoke(fn, n)
	}
}

func (e *Emitter) safeInvoke(fn NotificationFunc, n Notification) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("subscriber callback panicked", "event", n.Type, "panic", r)
		}
	}()
	fn(n)
}

// History returns the most recent notifications, optionally filtered by
// agent id and type. A zero limit returns up to 100 entries.
func (e *Emitter) History(agentID string, t NotificationType, limit int) []Notification {
	if limit <= 0 {
		limit = 100
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []Notification
	for _, n := range e.history {
		if agentID != "" && n.AgentID != agentID {
			continue
		}
		if t != "" && n.Type != t {
			continue
		}
		out = append(out, n)
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// ClearHistory drops the retained notification history.
func (e *Emitter) ClearHistory() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = nil
}
