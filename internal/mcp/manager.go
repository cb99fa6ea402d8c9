package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/localhive/localhive/internal/tool"
)

// Manager owns the MCP server connections declared in mcp.json and adapts
// their tools into the registry at startup.
type Manager struct {
	configPath string
	logger     *slog.Logger

	mu      sync.Mutex
	clients map[string]*Client
}

// NewManager creates a manager for the given config file path.
func NewManager(configPath string, logger *slog.Logger) *Manager {
	return &Manager{
		configPath: configPath,
		logger:     logger.With("component", "mcp"),
		clients:    make(map[string]*Client),
	}
}

// ConnectAll connects every configured server. Returns the number of
// successful connections; per-server failures are collected, not fatal.
func (m *Manager) ConnectAll(ctx context.Context) (int, []error) {
	configs, err := LoadConfig(m.configPath)
	if err != nil {
		return 0, []error{err}
	}

	var errs []error
	connected := 0
	for name, cfg := range configs {
		client := NewClient(cfg)
		if err := client.Connect(ctx); err != nil {
			errs = append(errs, err)
			continue
		}
		m.mu.Lock()
		m.clients[name] = client
		m.mu.Unlock()
		connected++
		m.logger.Info("mcp server connected", "server", name, "transport", cfg.Transport)
	}
	return connected, errs
}

// RegisterTools lists each connected server's tools and registers an
// adapter for every one.
func (m *Manager) RegisterTools(ctx context.Context, registry *tool.Registry) error {
	m.mu.Lock()
	clients := make(map[string]*Client, len(m.clients))
	for name, c := range m.clients {
		clients[name] = c
	}
	m.mu.Unlock()

	for serverName, client := range clients {
		infos, err := client.ListTools(ctx)
		if err != nil {
			return fmt.Errorf("list tools for %q: %w", serverName, err)
		}
		for _, info := range infos {
			registry.Register(&toolAdapter{server: serverName, info: info, client: client})
			m.logger.Debug("mcp tool registered", "server", serverName, "tool", info.Name)
		}
	}
	return nil
}

// CloseAll terminates every server connection.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, client := range m.clients {
		if err := client.Close(); err != nil {
			m.logger.Warn("mcp close failed", "server", name, "error", err)
		}
		delete(m.clients, name)
	}
}

// toolAdapter bridges one MCP server tool to the tool.Tool interface,
// making it indistinguishable from native built-in tools to agents.
//
// Naming convention: mcp_<server>__<tool>. Server and tool names are not
// checked for a double underscore, so two pairs can map to the same name.
type toolAdapter struct {
	server string
	info   ToolInfo
	client *Client
}

func (a *toolAdapter) Name() string {
	return fmt.Sprintf("mcp_%s__%s", a.server, a.info.Name)
}

func (a *toolAdapter) Description() string { return a.info.Description }

func (a *toolAdapter) Init(_ context.Context) error { return nil }
func (a *toolAdapter) Close() error                 { return nil }

// Execute forwards the string-keyed args to the MCP server. Both transport
// and tool-level failures come back as error results so the agent can react
// in-conversation.
func (a *toolAdapter) Execute(ctx context.Context, args map[string]string) (tool.Result, error) {
	anyArgs := make(map[string]any, len(args))
	for k, v := range args {
		anyArgs[k] = v
	}
	text, err := a.client.CallTool(ctx, a.info.Name, anyArgs)
	if err != nil {
		return tool.Errorf(a.Name(), "%v", err), nil
	}
	return tool.OK(a.Name(), text), nil
}
