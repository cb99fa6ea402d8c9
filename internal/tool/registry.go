package tool

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Registry manages all registered tools with thread-safe access and executes
// them by name. It is populated once at startup from a fixed wiring module;
// there is no runtime code loading.
type Registry struct {
	mu          sync.RWMutex
	tools       map[string]Tool
	execTimeout time.Duration
	logger      *slog.Logger
}

// NewRegistry creates an empty tool registry. execTimeout bounds each
// Execute call; zero disables the per-call timeout.
func NewRegistry(logger *slog.Logger, execTimeout time.Duration) *Registry {
	return &Registry{
		tools:       make(map[string]Tool),
		execTimeout: execTimeout,
		logger:      logger.With("component", "tools"),
	}
}

// Register adds a tool to the registry. If a tool with the same name already
// exists, it is overwritten and a warning is logged.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		r.logger.Warn("overwriting existing tool", "tool", t.Name())
	}
	r.tools[t.Name()] = t
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns all registered tool names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns "name: description" lines for every registered tool,
// sorted by name. Used to build the dynamic tools context in prompts.
func (r *Registry) Describe() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lines := make([]string, 0, len(r.tools))
	for _, t := range r.tools {
		lines = append(lines, fmt.Sprintf("- %s: %s", t.Name(), t.Description()))
	}
	sort.Strings(lines)
	return lines
}

// Execute invokes a registered tool by name. Unknown names and handler
// failures are reported as error results, never as Go errors: the caller
// always gets a Result it can summarize into agent history.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]string) Result {
	t, ok := r.Get(name)
	if !ok {
		r.logger.Error("tool not found", "tool", name)
		return Errorf(name, "tool %q not found", name)
	}

	if r.execTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.execTimeout)
		defer cancel()
	}

	started := time.Now()
	result, err := t.Execute(ctx, args)
	elapsed := time.Since(started)
	if err != nil {
		r.logger.Error("tool execution failed", "tool", name, "elapsed", elapsed, "error", err)
		return Errorf(name, "tool %q failed: %v", name, err)
	}
	result.Name = name
	if result.Status == "" {
		if result.Error != "" {
			result.Status = StatusError
		} else {
			result.Status = StatusOK
		}
	}
	r.logger.Debug("tool executed", "tool", name, "status", result.Status, "elapsed", elapsed)
	return result
}

// InitAll initializes every registered tool, stopping at the first failure.
func (r *Registry) InitAll(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, t := range r.tools {
		if err := t.Init(ctx); err != nil {
			return fmt.Errorf("init tool %q: %w", name, err)
		}
	}
	return nil
}

// CloseAll releases resources for every registered tool. Close errors are
// logged and do not stop the sweep.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, t := range r.tools {
		if err := t.Close(); err != nil {
			r.logger.Warn("tool close failed", "tool", name, "error", err)
		}
	}
}
