// Package tool defines the tool abstraction agents invoke through structured
// output, and the registry that owns all registered tools.
package tool

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Result statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Result encapsulates a tool execution outcome.
type Result struct {
	Name   string `json:"name"`
	Status string `json:"status"` // "ok" or "error"
	Output string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// OK builds a successful result for the named tool.
func OK(name, output string) Result {
	return Result{Name: name, Status: StatusOK, Output: output}
}

// Errorf builds an error result for the named tool.
func Errorf(name, format string, args ...any) Result {
	return Result{Name: name, Status: StatusError, Error: fmt.Sprintf(format, args...)}
}

// Summary renders a one-line digest of the result suitable for appending to
// an agent's history as a system message.
func (r Result) Summary() string {
	if r.Status == StatusError {
		return fmt.Sprintf("error: %s", r.Error)
	}
	out := strings.TrimSpace(r.Output)
	if out == "" {
		return "ok"
	}
	return fmt.Sprintf("ok: %s", out)
}

// Tool is the interface every tool implements. Argument values arrive as
// strings (the wire format carries no types); tools coerce as needed.
type Tool interface {
	// Name returns the tool identifier agents use to invoke it.
	Name() string

	// Description returns a natural-language description injected into the
	// tools section of agent prompts.
	Description() string

	// Execute runs the tool. Tool-level failures are reported inside the
	// Result; a non-nil error means the tool itself misbehaved and is
	// wrapped into an error result by the registry.
	Execute(ctx context.Context, args map[string]string) (Result, error)

	// Init prepares tool resources (connections, caches). Stateless tools
	// return nil.
	Init(ctx context.Context) error

	// Close releases tool resources.
	Close() error
}

// RequireArgs returns an error naming the first missing or empty argument.
func RequireArgs(args map[string]string, names ...string) error {
	for _, n := range names {
		if strings.TrimSpace(args[n]) == "" {
			return fmt.Errorf("missing required argument %q", n)
		}
	}
	return nil
}

// ArgNames returns the sorted argument keys, for audit records that must not
// capture argument values.
func ArgNames(args map[string]string) []string {
	names := make([]string, 0, len(args))
	for k := range args {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
