// Package agent implements the orchestration core: the per-agent state
// machine and event generator, the prompt assembler, the tool-call parser,
// the workflow manager, the cycle handler, and the agent manager that owns
// them all. Agents never hold references to each other; every cross-agent
// effect is routed through the manager by id.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/localhive/localhive/internal/llm"
	"github.com/localhive/localhive/internal/memory"
)

// Metrics tracks per-agent performance and health counters. Guarded by the
// agent mutex.
type Metrics struct {
	UptimeSeconds   float64 `json:"uptime_seconds"`
	TasksCompleted  int     `json:"tasks_completed"`
	TasksFailed     int     `json:"tasks_failed"`
	AvgResponseTime float64 `json:"average_response_time"` // seconds, EMA
	Violations      int     `json:"violations"`
	LastHeartbeat   int64   `json:"last_heartbeat"` // unix seconds
	HealthScore     float64 `json:"health_score"`   // 0.0 to 1.0
}

// StateChangeFunc is invoked after a state transition has been recorded.
// Callbacks run outside the agent lock.
type StateChangeFunc func(from, to State)

type workingEntry struct {
	value   any
	addedAt time.Time
}

// workingExpiry is how long working-memory entries survive between
// heartbeats before being dropped.
const workingExpiry = time.Hour

// Agent owns the state, history, and metrics of one named participant, and
// produces the event stream that drives each of its cycles.
type Agent struct {
	ID     string
	Role   Role
	UserID string // owning user, if any (admin agents)

	mu            sync.Mutex
	state         State
	previousState State
	stateHistory  []StateTransition
	capabilities  map[Capability]bool
	history       []llm.Message
	working       map[string]workingEntry
	metrics       Metrics
	callbacks     []StateChangeFunc
	running       bool

	createdAt    time.Time
	lastActivity time.Time

	historyCap        int
	heartbeatInterval time.Duration

	provider  llm.Provider
	assembler *Assembler
	parser    *Parser
	emitter   *Emitter
	memStore  memory.Store // may be nil
	logger    *slog.Logger

	heartbeatCancel context.CancelFunc
	heartbeatDone   chan struct{}
}

// AgentDeps bundles the collaborators an agent needs. All are injected by
// the manager at creation time.
type AgentDeps struct {
	Provider          llm.Provider
	Assembler         *Assembler
	Parser            *Parser
	Emitter           *Emitter
	Memory            memory.Store
	Logger            *slog.Logger
	HistoryCap        int
	HeartbeatInterval time.Duration
}

// newAgent builds an agent in the Idle state. Only the manager calls this.
func newAgent(id string, role Role, userID string, extraCaps []Capability, deps AgentDeps) *Agent {
	caps := roleCapabilities(role)
	for _, c := range extraCaps {
		caps[c] = true
	}
	historyCap := deps.HistoryCap
	if historyCap <= 0 {
		historyCap = 1000
	}
	hb := deps.HeartbeatInterval
	if hb <= 0 {
		hb = 30 * time.Second
	}
	now := time.Now()
	return &Agent{
		ID:                id,
		Role:              role,
		UserID:            userID,
		state:             StateIdle,
		previousState:     StateIdle,
		capabilities:      caps,
		working:           make(map[string]workingEntry),
		metrics:           Metrics{HealthScore: 1.0, LastHeartbeat: now.Unix()},
		createdAt:         now,
		lastActivity:      now,
		historyCap:        historyCap,
		heartbeatInterval: hb,
		provider:          deps.Provider,
		assembler:         deps.Assembler,
		parser:            deps.Parser,
		emitter:           deps.Emitter,
		memStore:          deps.Memory,
		logger:            deps.Logger.With("component", "agent", "agent_id", id, "role", string(role)),
	}
}

// State returns the agent's current state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// PreviousState returns the state the agent held before the current one.
func (a *Agent) PreviousState() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.previousState
}

// applyTransitionLocked mutates state and records the transition. Caller
// holds the mutex and fires callbacks afterwards.
func (a *Agent) applyTransitionLocked(to State, transCtx string) (from State, callbacks []StateChangeFunc) {
	from = a.state
	a.previousState = from
	a.state = to
	a.stateHistory = append(a.stateHistory, StateTransition{
		From:      from,
		To:        to,
		AgentID:   a.ID,
		Timestamp: time.Now().Unix(),
		Context:   transCtx,
	})
	a.lastActivity = time.Now()
	callbacks = make([]StateChangeFunc, len(a.callbacks))
	copy(callbacks, a.callbacks)
	return from, callbacks
}

// fireTransition notifies callbacks and the emitter outside the lock.
func (a *Agent) fireTransition(from, to State, callbacks []StateChangeFunc) {
	a.logger.Debug("state transition", "from", from, "to", to)
	for _, cb := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					a.logger.Error("state change callback panicked", "panic", r)
				}
			}()
			cb(from, to)
		}()
	}
	if a.emitter != nil {
		a.emitter.Emit(Notification{
			Type:    NotifyStateChange,
			AgentID: a.ID,
			Data:    map[string]any{"from": string(from), "to": string(to)},
		})
	}
}

// setState validates and applies a transition, records it, and fires
// callbacks outside the lock. force skips table validation; it is reserved
// for shutdown recovery paths.
func (a *Agent) setState(to State, transCtx string, force bool) error {
	a.mu.Lock()
	if !force && !IsValidTransition(a.state, to) {
		err := fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.state, to)
		a.mu.Unlock()
		return err
	}
	from, callbacks := a.applyTransitionLocked(to, transCtx)
	a.mu.Unlock()

	a.fireTransition(from, to, callbacks)
	return nil
}

// tryBeginProcessing atomically moves the agent into Processing, failing if
// a cycle is already running. This is the only path into Processing and it
// bypasses the transition table (the reserved *→processing edge).
func (a *Agent) tryBeginProcessing() error {
	a.mu.Lock()
	if a.state == StateProcessing {
		a.mu.Unlock()
		return ErrAlreadyProcessing
	}
	from, callbacks := a.applyTransitionLocked(StateProcessing, "cycle start")
	a.mu.Unlock()

	a.fireTransition(from, StateProcessing, callbacks)
	return nil
}

// recordSameState appends a from==to entry to the state history without
// mutating state or firing callbacks. Same-state "changes" are permitted
// no-ops that stay recognizable in the audit log.
func (a *Agent) recordSameState(transCtx string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stateHistory = append(a.stateHistory, StateTransition{
		From:      a.state,
		To:        a.state,
		AgentID:   a.ID,
		Timestamp: time.Now().Unix(),
		Context:   transCtx,
	})
}

// AddStateChangeCallback registers a hook invoked after each transition.
func (a *Agent) AddStateChangeCallback(fn StateChangeFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.callbacks = append(a.callbacks, fn)
}

// AppendMessage appends a message to the agent's history. History is
// append-only within a cycle; pruning happens at heartbeats and cycle
// boundaries.
func (a *Agent) AppendMessage(msg llm.Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = append(a.history, msg)
	a.lastActivity = time.Now()
}

// History returns a copy of the message history.
func (a *Agent) History() []llm.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]llm.Message, len(a.history))
	copy(out, a.history)
	return out
}

// pruneHistory drops the oldest entries beyond the cap.
func (a *Agent) pruneHistory() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.history) > a.historyCap {
		a.history = a.history[len(a.history)-a.historyCap:]
	}
}

// WorkingSet stores a timestamped entry in the agent's working memory.
func (a *Agent) WorkingSet(key string, value any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.working[key] = workingEntry{value: value, addedAt: time.Now()}
}

// WorkingGet reads a working-memory entry.
func (a *Agent) WorkingGet(key string) (any, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.working[key]
	if !ok {
		return nil, false
	}
	return e.value, true
}

// Capabilities returns the agent's capability tags as strings, sorted order
// not guaranteed.
func (a *Agent) Capabilities() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.capabilities))
	for c := range a.capabilities {
		out = append(out, string(c))
	}
	return out
}

// Metrics returns a snapshot of the agent's metrics.
func (a *Agent) Metrics() Metrics {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.metrics
}

// StateHistory returns a copy of the recorded transitions.
func (a *Agent) StateHistory() []StateTransition {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]StateTransition, len(a.stateHistory))
	copy(out, a.stateHistory)
	return out
}

// RecordViolation bumps the violation counter; the guardian calls this when
// the agent's output is blocked.
func (a *Agent) RecordViolation() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.metrics.Violations++
}

// recordTaskOutcome updates completion counters and the response-time EMA.
func (a *Agent) recordTaskOutcome(ok bool, elapsed time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if ok {
		a.metrics.TasksCompleted++
	} else {
		a.metrics.TasksFailed++
	}
	secs := elapsed.Seconds()
	if a.metrics.AvgResponseTime == 0 {
		a.metrics.AvgResponseTime = secs
	} else {
		const alpha = 0.1
		a.metrics.AvgResponseTime = alpha*secs + (1-alpha)*a.metrics.AvgResponseTime
	}
}

// Start transitions the agent Idle → Startup → Idle, seeds its memory, and
// launches the heartbeat loop.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	if err := a.setState(StateStartup, "agent starting", false); err != nil {
		return err
	}
	a.initMemory(ctx)

	hbCtx, cancel := context.WithCancel(context.Background())
	a.mu.Lock()
	a.heartbeatCancel = cancel
	a.heartbeatDone = make(chan struct{})
	a.running = true
	a.mu.Unlock()
	go a.heartbeatLoop(hbCtx)

	if err := a.setState(StateIdle, "startup complete", false); err != nil {
		return err
	}
	a.logger.Info("agent started")
	return nil
}

// initMemory seeds role-specific memory at startup. Failures are logged,
// never fatal: an agent without a memory store still functions.
func (a *Agent) initMemory(ctx context.Context) {
	if a.memStore == nil {
		return
	}
	_, err := a.memStore.Store(ctx, memory.Record{
		AgentID:    a.ID,
		Type:       memory.TypeEpisodic,
		Content:    fmt.Sprintf("agent started with role %s", a.Role),
		Importance: memory.ImportanceLow,
	}, nil)
	if err != nil {
		a.logger.Warn("startup memory write failed", "error", err)
	}
	if a.Role == RoleGuardian {
		_, err := a.memStore.Store(ctx, memory.Record{
			AgentID:    a.ID,
			Type:       memory.TypeSemantic,
			Content:    "core principles: Privacy First, Human Rights, Decentralization, Community Focus",
			Importance: memory.ImportanceCritical,
		}, nil)
		if err != nil {
			a.logger.Warn("guardian memory seed failed", "error", err)
		}
	}
}

// Stop drives the agent to Shutdown, cancels its heartbeat, and persists a
// state snapshot. A stop must never leave the agent in Processing; callers
// are expected to have drained or aborted in-flight cycles first.
func (a *Agent) Stop(ctx context.Context) {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	cancel := a.heartbeatCancel
	done := a.heartbeatDone
	a.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	// Route to Shutdown through Idle when the current state has no direct
	// edge to it.
	if err := a.setState(StateShutdown, "agent stopping", false); err != nil {
		if idleErr := a.setState(StateIdle, "agent stopping", false); idleErr == nil {
			_ = a.setState(StateShutdown, "agent stopping", false)
		} else {
			a.logger.Warn("no clean path to shutdown, forcing", "state", a.State())
			_ = a.setState(StateShutdown, "agent stopping (forced)", true)
		}
	}

	a.persistSnapshot(ctx)
	a.logger.Info("agent stopped")
}

// persistSnapshot writes a redacted state snapshot through the memory store.
func (a *Agent) persistSnapshot(ctx context.Context) {
	if a.memStore == nil {
		return
	}
	status := a.GetStatus()
	_, err := a.memStore.Store(ctx, memory.Record{
		AgentID:    a.ID,
		Type:       memory.TypeSnapshot,
		Content:    fmt.Sprintf("state=%s role=%s health=%.2f", status.State, status.Role, status.Metrics.HealthScore),
		Importance: memory.ImportanceMedium,
	}, nil)
	if err != nil {
		a.logger.Warn("snapshot persist failed", "error", err)
	}
}

// heartbeatLoop periodically refreshes metrics, recomputes the health score,
// prunes history beyond the cap, and expires stale working memory.
func (a *Agent) heartbeatLoop(ctx context.Context) {
	defer close(a.heartbeatDone)
	ticker := time.NewTicker(a.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.heartbeat()
		}
	}
}

func (a *Agent) heartbeat() {
	a.mu.Lock()
	now := time.Now()
	a.metrics.UptimeSeconds = now.Sub(a.createdAt).Seconds()
	a.metrics.LastHeartbeat = now.Unix()
	a.updateHealthLocked()
	if len(a.history) > a.historyCap {
		a.history = a.history[len(a.history)-a.historyCap:]
	}
	for key, e := range a.working {
		if now.Sub(e.addedAt) > workingExpiry {
			delete(a.working, key)
		}
	}
	health := a.metrics.HealthScore
	a.mu.Unlock()

	a.logger.Debug("heartbeat", "health", health)
}

// updateHealthLocked recomputes the health score. Starts at 1.0, minus 0.1
// per violation (capped at 0.5), minus the failure rate (capped at 0.3),
// minus 0.4 while in Error. Clamped to [0,1].
func (a *Agent) updateHealthLocked() {
	score := 1.0
	if v := a.metrics.Violations; v > 0 {
		score -= min(0.5, float64(v)*0.1)
	}
	if a.metrics.TasksFailed > 0 {
		total := a.metrics.TasksCompleted + a.metrics.TasksFailed
		score -= min(0.3, float64(a.metrics.TasksFailed)/float64(total))
	}
	if a.state == StateError {
		score -= 0.4
	}
	a.metrics.HealthScore = max(0.0, min(1.0, score))
}

// Status is the redacted external view of an agent.
type Status struct {
	ID            string   `json:"id"`
	Role          string   `json:"role"`
	State         string   `json:"state"`
	Capabilities  []string `json:"capabilities"`
	Metrics       Metrics  `json:"metrics"`
	UptimeSeconds float64  `json:"uptime_seconds"`
	Compliant     bool     `json:"compliant"`
}

// GetStatus returns the redacted view exposed over the REST facade. Message
// history and working memory stay private.
func (a *Agent) GetStatus() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	caps := make([]string, 0, len(a.capabilities))
	for c := range a.capabilities {
		caps = append(caps, string(c))
	}
	return Status{
		ID:            a.ID,
		Role:          string(a.Role),
		State:         string(a.state),
		Capabilities:  caps,
		Metrics:       a.metrics,
		UptimeSeconds: time.Since(a.createdAt).Seconds(),
		Compliant:     a.metrics.Violations == 0,
	}
}
