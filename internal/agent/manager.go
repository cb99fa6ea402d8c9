package agent

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/localhive/localhive/internal/guardian"
	"github.com/localhive/localhive/internal/llm"
)

// AdminBinder remembers which admin agent serves which user. The session
// store implements it; a nil binder falls back to role lookup only.
type AdminBinder interface {
	Bind(userID, agentID string)
	Lookup(userID string) (string, bool)
	Unbind(agentID string)
}

// ManagerConfig bounds the manager's resource usage.
type ManagerConfig struct {
	MaxAgents         int           // registry cap (default 20)
	CycleTimeout      time.Duration // per-cycle wall-clock bound (default 120s)
	HistoryCap        int           // per-agent history bound (default 1000)
	HeartbeatInterval time.Duration // agent heartbeat period (default 30s)
}

func (c ManagerConfig) withDefaults() ManagerConfig {
	if c.MaxAgents <= 0 {
		c.MaxAgents = 20
	}
	if c.CycleTimeout <= 0 {
		c.CycleTimeout = 120 * time.Second
	}
	if c.HistoryCap <= 0 {
		c.HistoryCap = 1000
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	return c
}

// Stats is the manager's aggregate view of the runtime.
type Stats struct {
	TotalAgentsCreated int            `json:"total_agents_created"`
	ActiveAgents       int            `json:"active_agents"`
	TotalCyclesRun     int            `json:"total_cycles_run"`
	TotalViolations    int            `json:"total_violations"`
	AverageHealthScore float64        `json:"average_health_score"`
	AgentStates        map[string]int `json:"agent_states"`
	Compliant          bool           `json:"compliant"`
}

// Manager is the single entry point for the orchestration core: factory,
// registry, and scheduler for all agents. Agents are owned exclusively by
// the manager; nothing else holds one past a call boundary.
type Manager struct {
	cfg      ManagerConfig
	deps     AgentDeps
	guardian *guardian.Guardian // for design-rule violations; may be nil
	metrics  *RuntimeMetrics    // may be nil
	binder   AdminBinder        // may be nil
	cycle    *CycleHandler      // injected via SetCycleHandler
	logger   *slog.Logger

	baseCtx    context.Context
	cancelBase context.CancelFunc
	cycleWG    sync.WaitGroup

	mu           sync.Mutex
	agents       map[string]*Agent
	inflight     map[string]bool
	pending      map[string]bool
	agentCounter int
	cyclesRun    int
	totalCreated int
	closed       bool
}

// NewManager creates the agent manager. Call SetCycleHandler before
// scheduling any cycles.
func NewManager(cfg ManagerConfig, deps AgentDeps, g *guardian.Guardian,
	metrics *RuntimeMetrics, binder AdminBinder, logger *slog.Logger) *Manager {
	baseCtx, cancel := context.WithCancel(context.Background())
	cfg = cfg.withDefaults()
	if deps.HistoryCap == 0 {
		deps.HistoryCap = cfg.HistoryCap
	}
	if deps.HeartbeatInterval == 0 {
		deps.HeartbeatInterval = cfg.HeartbeatInterval
	}
	return &Manager{
		cfg:        cfg,
		deps:       deps,
		guardian:   g,
		metrics:    metrics,
		binder:     binder,
		logger:     logger.With("component", "manager"),
		baseCtx:    baseCtx,
		cancelBase: cancel,
		agents:     make(map[string]*Agent),
		inflight:   make(map[string]bool),
		pending:    make(map[string]bool),
	}
}

// SetCycleHandler injects the cycle handler after construction (the handler
// itself depends on the workflow, which depends on the manager).
func (m *Manager) SetCycleHandler(h *CycleHandler) { m.cycle = h }

// CycleTimeout returns the configured per-cycle bound.
func (m *Manager) CycleTimeout() time.Duration { return m.cfg.CycleTimeout }

func agentID(role Role, serial int) string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		copy(b, []byte{0, 0, 0, 0})
	}
	return fmt.Sprintf("agent_%s_%03d_%s", role, serial, hex.EncodeToString(b))
}

// CreateAgent creates, starts, and registers a new agent. The registry cap
// is enforced atomically: failure creates no partial state. Exceeding the
// cap is a design-rule violation and is reported to the guardian.
func (m *Manager) CreateAgent(ctx context.Context, role Role, userID string, caps []Capability) (string, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrManagerClosed
	}
	if len(m.agents) >= m.cfg.MaxAgents {
		count := len(m.agents)
		m.mu.Unlock()
		m.logger.Warn("agent limit exceeded", "current", count, "max", m.cfg.MaxAgents)
		if m.guardian != nil {
			m.guardian.ReportViolation(ctx, guardian.ViolationCommunity, guardian.SeverityMedium,
				"Community Focus", "agent limit exceeded", "agent_manager", "",
				map[string]string{
					"current_count": strconv.Itoa(count),
					"max_allowed":   strconv.Itoa(m.cfg.MaxAgents),
				})
		}
		return "", fmt.Errorf("%w: %d agents active", ErrMaxAgents, count)
	}
	m.agentCounter++
	id := agentID(role, m.agentCounter)
	a := newAgent(id, role, userID, caps, m.deps)
	m.mu.Unlock()

	if err := a.Start(ctx); err != nil {
		m.logger.Error("agent startup failed", "agent_id", id, "error", err)
		return "", fmt.Errorf("start agent: %w", err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		a.Stop(ctx)
		return "", ErrManagerClosed
	}
	m.agents[id] = a
	m.totalCreated++
	active := len(m.agents)
	m.mu.Unlock()

	m.metrics.setActiveAgents(active)
	if m.binder != nil && role == RoleAdmin && userID != "" {
		m.binder.Bind(userID, id)
	}
	m.logger.Info("agent created", "agent_id", id, "role", role, "active", active)
	return id, nil
}

// RemoveAgent stops and deletes an agent. Unknown ids are a safe no-op.
func (m *Manager) RemoveAgent(ctx context.Context, id string) bool {
	m.mu.Lock()
	a, ok := m.agents[id]
	if ok {
		delete(m.agents, id)
	}
	active := len(m.agents)
	m.mu.Unlock()
	if !ok {
		return false
	}

	a.Stop(ctx)
	if m.binder != nil {
		m.binder.Unbind(id)
	}
	m.metrics.setActiveAgents(active)
	m.logger.Info("agent removed", "agent_id", id, "role", a.Role)
	return true
}

// AdminFor locates (or creates) the admin agent serving a user.
func (m *Manager) AdminFor(ctx context.Context, userID string) (*Agent, error) {
	if m.binder != nil && userID != "" {
		if id, ok := m.binder.Lookup(userID); ok {
			if a, ok := m.GetAgent(id); ok {
				return a, nil
			}
		}
	}
	// Fall back to any admin owned by this user, then to creating one.
	for _, a := range m.GetAgentsByRole(RoleAdmin) {
		if a.UserID == userID || userID == "" {
			if m.binder != nil && userID != "" {
				m.binder.Bind(userID, a.ID)
			}
			return a, nil
		}
	}
	id, err := m.CreateAgent(ctx, RoleAdmin, userID, nil)
	if err != nil {
		return nil, fmt.Errorf("create admin agent: %w", err)
	}
	a, ok := m.GetAgent(id)
	if !ok {
		return nil, ErrAgentNotFound
	}
	return a, nil
}

// HandleUserMessage is the primary entry point for user interaction: the
// text lands in the user's admin agent history and a cycle is scheduled.
func (m *Manager) HandleUserMessage(ctx context.Context, text, userID string) (string, error) {
	admin, err := m.AdminFor(ctx, userID)
	if err != nil {
		m.logger.Error("no admin agent available for user message", "error", err)
		return "", err
	}
	admin.AppendMessage(llm.UserMessage(text))
	m.ScheduleCycle(admin.ID)
	return admin.ID, nil
}

// DeliverMessage appends a user-role message to the target agent's history
// and schedules a cycle for it. This is the only cross-agent delivery path,
// giving FIFO ordering per sender→target. Implements the send_message tool's
// router contract.
func (m *Manager) DeliverMessage(targetAgentID, content string) error {
	a, ok := m.GetAgent(targetAgentID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, targetAgentID)
	}
	a.AppendMessage(llm.UserMessage(content))
	m.ScheduleCycle(targetAgentID)
	return nil
}

// ScheduleCycle launches the cycle handler on the agent as a detached task.
// A single agent never has overlapping cycles: scheduling while a cycle is
// in flight enqueues at most one follow-up cycle (so workflows that advance
// an agent mid-cycle still progress), and further calls are idempotent.
func (m *Manager) ScheduleCycle(id string) {
	if m.cycle == nil {
		m.logger.Error("cycle handler not set; cannot schedule", "agent_id", id)
		return
	}

	m.mu.Lock()
	a, ok := m.agents[id]
	if !ok {
		m.mu.Unlock()
		m.logger.Error("cannot schedule cycle: agent not found", "agent_id", id)
		return
	}
	if m.closed {
		m.mu.Unlock()
		m.logger.Warn("manager shut down; cycle not scheduled", "agent_id", id)
		return
	}
	if m.inflight[id] {
		if !m.pending[id] {
			m.pending[id] = true
			m.logger.Debug("cycle in flight; follow-up enqueued", "agent_id", id)
		} else {
			m.logger.Warn("cycle in flight and follow-up already enqueued; ignored", "agent_id", id)
		}
		m.mu.Unlock()
		return
	}
	m.inflight[id] = true
	m.cyclesRun++
	m.mu.Unlock()

	m.logger.Debug("cycle scheduled", "agent_id", id)
	m.cycleWG.Add(1)
	go func() {
		defer m.cycleWG.Done()
		for {
			m.cycle.RunCycle(m.baseCtx, a)

			m.mu.Lock()
			if m.pending[id] && !m.closed {
				delete(m.pending, id)
				m.cyclesRun++
				m.mu.Unlock()
				continue
			}
			delete(m.pending, id)
			delete(m.inflight, id)
			m.mu.Unlock()
			return
		}
	}()
}

// CycleInFlight reports whether a cycle is currently running or enqueued
// for the agent.
func (m *Manager) CycleInFlight(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inflight[id]
}

// GetAgent returns an agent by id.
func (m *Manager) GetAgent(id string) (*Agent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	return a, ok
}

// GetAgentsByRole returns all agents with the given role.
func (m *Manager) GetAgentsByRole(role Role) []*Agent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Agent
	for _, a := range m.agents {
		if a.Role == role {
			out = append(out, a)
		}
	}
	return out
}

// GetAllAgents returns every registered agent.
func (m *Manager) GetAllAgents() []*Agent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Agent, 0, len(m.agents))
	for _, a := range m.agents {
		out = append(out, a)
	}
	return out
}

// GetStats returns the aggregate runtime statistics.
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	agents := make([]*Agent, 0, len(m.agents))
	for _, a := range m.agents {
		agents = append(agents, a)
	}
	stats := Stats{
		TotalAgentsCreated: m.totalCreated,
		ActiveAgents:       len(m.agents),
		TotalCyclesRun:     m.cyclesRun,
		AgentStates:        make(map[string]int),
	}
	m.mu.Unlock()

	healthSum := 0.0
	for _, a := range agents {
		metrics := a.Metrics()
		stats.TotalViolations += metrics.Violations
		healthSum += metrics.HealthScore
		stats.AgentStates[string(a.State())]++
	}
	if len(agents) > 0 {
		stats.AverageHealthScore = healthSum / float64(len(agents))
	}
	stats.Compliant = stats.TotalViolations == 0
	return stats
}

// Shutdown drives the runtime down: no new agents or cycles are accepted,
// in-flight cycles are cancelled and awaited (bounded by ctx), and every
// agent is stopped. No agent is left in Processing.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.logger.Info("manager shutting down")
	m.cancelBase()

	done := make(chan struct{})
	go func() {
		m.cycleWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("shutdown timed out waiting for cycles")
	}

	for _, a := range m.GetAllAgents() {
		a.Stop(ctx)
	}
	m.logger.Info("manager shut down")
}
