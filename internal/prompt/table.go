// Package prompt loads the (role, state) → system-prompt table from
// config/prompts.json, falling back to the embedded defaults when the file
// is absent. The table is immutable after load and safe for concurrent use.
package prompt

import (
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
)

//go:embed defaults/prompts.json
var defaultsFS embed.FS

// promptFile mirrors the on-disk JSON layout. The pm_prompts spelling is
// kept for config compatibility; those entries serve the manager role.
type promptFile struct {
	AdminPrompts     map[string]string `json:"admin_prompts"`
	PMPrompts        map[string]string `json:"pm_prompts"`
	WorkerPrompts    map[string]string `json:"worker_prompts"`
	GuardianPrompts  map[string]string `json:"guardian_prompts"`
	StateGuidance    map[string]string `json:"state_guidance"`
	ToolsDescription string            `json:"tools_description"`
}

type key struct{ role, state string }

// Table is the loaded prompt lookup.
type Table struct {
	prompts          map[key]string
	guidance         map[string]string
	toolsDescription string
}

// Load reads the prompt table from path. A missing or unreadable file falls
// back to the embedded defaults with a warning; a file that exists but does
// not parse is an error (misconfiguration should not be silent).
func Load(path string, logger *slog.Logger) (*Table, error) {
	logger = logger.With("component", "prompt")

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("prompts file not found, using embedded defaults", "path", path, "error", err)
		data, err = defaultsFS.ReadFile("defaults/prompts.json")
		if err != nil {
			return nil, fmt.Errorf("read embedded default prompts: %w", err)
		}
	}

	var pf promptFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse prompts file: %w", err)
	}

	t := &Table{
		prompts:          make(map[key]string),
		guidance:         pf.StateGuidance,
		toolsDescription: pf.ToolsDescription,
	}
	for state, text := range pf.AdminPrompts {
		t.prompts[key{"admin", state}] = text
	}
	for state, text := range pf.PMPrompts {
		t.prompts[key{"manager", state}] = text
	}
	for state, text := range pf.WorkerPrompts {
		t.prompts[key{"worker", state}] = text
	}
	for state, text := range pf.GuardianPrompts {
		t.prompts[key{"guardian", state}] = text
	}
	if t.guidance == nil {
		t.guidance = map[string]string{}
	}

	logger.Info("prompt table loaded", "entries", len(t.prompts))
	return t, nil
}

// Prompt returns the system prompt for a (role, state) pair. Missing entries
// return "" and false; callers emit an empty system prompt and let history
// drive the agent.
func (t *Table) Prompt(role, state string) (string, bool) {
	text, ok := t.prompts[key{role, state}]
	return text, ok
}

// Guidance returns the one-line transition guidance for a state, if any.
func (t *Table) Guidance(state string) (string, bool) {
	text, ok := t.guidance[state]
	return text, ok
}

// ToolsDescription returns the static description of available tools
// injected as dynamic context.
func (t *Table) ToolsDescription() string {
	return t.toolsDescription
}
