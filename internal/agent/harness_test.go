package agent_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/localhive/localhive/internal/agent"
	"github.com/localhive/localhive/internal/guardian"
	"github.com/localhive/localhive/internal/llm"
	"github.com/localhive/localhive/internal/plan"
	"github.com/localhive/localhive/internal/prompt"
	"github.com/localhive/localhive/internal/tool"
	"github.com/localhive/localhive/internal/tool/builtin"
	"github.com/stretchr/testify/require"
)

// fakeProvider scripts model output for tests. The handler receives the
// assembled message list and returns the model text for that turn.
type fakeProvider struct {
	mu      sync.Mutex
	handler func(messages []llm.Message) (string, error)
	calls   int
}

func (p *fakeProvider) respond(messages []llm.Message) (string, error) {
	p.mu.Lock()
	p.calls++
	handler := p.handler
	p.mu.Unlock()
	if handler == nil {
		return "ok", nil
	}
	return handler(messages)
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *fakeProvider) setHandler(h func(messages []llm.Message) (string, error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = h
}

func (p *fakeProvider) Generate(_ context.Context, messages []llm.Message, _ llm.Options) (llm.Response, error) {
	text, err := p.respond(messages)
	if err != nil {
		return llm.Response{}, err
	}
	return llm.Response{Content: text}, nil
}

func (p *fakeProvider) Stream(ctx context.Context, messages []llm.Message, opts llm.Options, onChunk llm.StreamCallback) (llm.Response, error) {
	resp, err := p.Generate(ctx, messages, opts)
	if err != nil {
		return llm.Response{}, err
	}
	if onChunk != nil && resp.Content != "" {
		onChunk(resp.Content)
	}
	return resp, nil
}

func (p *fakeProvider) Name() string { return "fake" }

// lastUserContent returns the content of the most recent user-role message.
func lastUserContent(messages []llm.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llm.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testRuntime bundles a fully wired core for orchestration tests.
type testRuntime struct {
	provider    *fakeProvider
	emitter     *agent.Emitter
	collector   *agent.ResponseCollector
	guard       *guardian.Guardian
	registry    *tool.Registry
	manager     *agent.Manager
	workflow    *agent.Workflow
	interaction *agent.Interaction
	cycle       *agent.CycleHandler
	projects    *plan.Store
}

func newTestRuntime(t *testing.T, cfg agent.ManagerConfig) *testRuntime {
	t.Helper()
	logger := testLogger()

	table, err := prompt.Load("does-not-exist.json", logger) // embedded defaults
	require.NoError(t, err)

	provider := &fakeProvider{}
	emitter := agent.NewEmitter(logger, 100)
	collector := agent.NewResponseCollector(emitter)
	guard := guardian.New(logger)
	registry := tool.NewRegistry(logger, 5*time.Second)
	parser := agent.NewParser(logger)
	assembler := agent.NewAssembler(table, registry, logger)

	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = time.Hour // keep heartbeats out of short tests
	}
	if cfg.CycleTimeout == 0 {
		cfg.CycleTimeout = 10 * time.Second
	}

	manager := agent.NewManager(cfg, agent.AgentDeps{
		Provider:  provider,
		Assembler: assembler,
		Parser:    parser,
		Emitter:   emitter,
		Logger:    logger,
	}, guard, nil, nil, logger)
	registry.Register(builtin.NewSendMessageTool(manager))

	projects := plan.NewStore()
	workflow := agent.NewWorkflow(assembler, emitter, logger)
	workflow.SetManager(manager)
	workflow.SetProjectStore(projects)
	interaction := agent.NewInteraction(registry, emitter, logger)
	cycle := agent.NewCycleHandler(workflow, interaction, guard, emitter, nil, cfg.CycleTimeout, logger)
	manager.SetCycleHandler(cycle)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		manager.Shutdown(ctx)
	})

	return &testRuntime{
		provider:    provider,
		emitter:     emitter,
		collector:   collector,
		guard:       guard,
		registry:    registry,
		manager:     manager,
		workflow:    workflow,
		interaction: interaction,
		cycle:       cycle,
		projects:    projects,
	}
}

// waitSettled blocks until the agent has left Processing and no cycle is
// running or enqueued for it.
func (rt *testRuntime) waitSettled(t *testing.T, agentID string) {
	t.Helper()
	require.Eventually(t, func() bool {
		a, ok := rt.manager.GetAgent(agentID)
		if !ok {
			return false
		}
		return !rt.manager.CycleInFlight(agentID) && a.State() != agent.StateProcessing
	}, 5*time.Second, 10*time.Millisecond, "agent %s never settled", agentID)
}
