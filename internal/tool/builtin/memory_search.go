package builtin

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/localhive/localhive/internal/memory"
	"github.com/localhive/localhive/internal/tool"
)

// MemorySearchTool lets an agent search its own stored memories by query
// terms. The sender id from the call context scopes the search, so agents
// can never read each other's memory.
type MemorySearchTool struct {
	store memory.Store
}

func NewMemorySearchTool(store memory.Store) *MemorySearchTool {
	return &MemorySearchTool{store: store}
}

func (t *MemorySearchTool) Name() string { return "memory_search" }
func (t *MemorySearchTool) Description() string {
	return "Search your own stored memories. Arguments: query (required), type (episodic|semantic|working, optional), limit (optional)."
}

func (t *MemorySearchTool) Init(_ context.Context) error { return nil }
func (t *MemorySearchTool) Close() error                 { return nil }

func (t *MemorySearchTool) Execute(ctx context.Context, args map[string]string) (tool.Result, error) {
	if err := tool.RequireArgs(args, "query"); err != nil {
		return tool.Errorf(t.Name(), "%v", err), nil
	}
	sender, ok := tool.SenderFrom(ctx)
	if !ok {
		return tool.Errorf(t.Name(), "no requesting agent in context"), nil
	}

	limit := 5
	if v := args["limit"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	hits, err := t.store.Search(ctx, sender, args["query"], memory.Type(args["type"]), limit)
	if err != nil {
		return tool.Errorf(t.Name(), "search failed: %v", err), nil
	}
	if len(hits) == 0 {
		return tool.OK(t.Name(), "no matching memories"), nil
	}

	var sb strings.Builder
	for i, hit := range hits {
		fmt.Fprintf(&sb, "%d. [%s, score %.2f] %s\n", i+1, hit.Record.Type, hit.Score, hit.Record.Content)
	}
	return tool.OK(t.Name(), strings.TrimRight(sb.String(), "\n")), nil
}
