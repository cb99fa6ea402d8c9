package builtin

import (
	"context"
	"fmt"
	"time"

	"github.com/localhive/localhive/internal/tool"
)

// TimeTool returns the current time with optional timezone support.
type TimeTool struct{}

func NewTimeTool() *TimeTool { return &TimeTool{} }

func (t *TimeTool) Name() string { return "get_time" }
func (t *TimeTool) Description() string {
	return "Get the current time, optionally in a specific IANA timezone (e.g. Europe/Madrid)."
}

func (t *TimeTool) Init(_ context.Context) error { return nil }
func (t *TimeTool) Close() error                 { return nil }

func (t *TimeTool) Execute(_ context.Context, args map[string]string) (tool.Result, error) {
	now := time.Now()
	if tz := args["timezone"]; tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return tool.Errorf(t.Name(), "invalid timezone %q: %v", tz, err), nil
		}
		now = now.In(loc)
	}
	return tool.OK(t.Name(), fmt.Sprintf("%s (%s)", now.Format("2006-01-02 15:04:05"), now.Location())), nil
}
