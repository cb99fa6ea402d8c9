// Package builtin holds the tools shipped with the runtime. The set is
// fixed at startup; there is no plugin discovery.
package builtin

import (
	"context"
	"fmt"

	"github.com/localhive/localhive/internal/tool"
)

// MessageRouter delivers a message into another agent's history and wakes it
// up. The agent manager implements it; tools never hold agent references.
type MessageRouter interface {
	DeliverMessage(targetAgentID, content string) error
}

// SendMessageTool lets one agent send a message to another. The message is
// appended to the target's history as a user-role message and a cycle is
// scheduled for the target, giving FIFO delivery per sender→target pair.
type SendMessageTool struct {
	router MessageRouter
}

// NewSendMessageTool creates the tool backed by the given router.
func NewSendMessageTool(router MessageRouter) *SendMessageTool {
	return &SendMessageTool{router: router}
}

func (t *SendMessageTool) Name() string { return "send_message" }
func (t *SendMessageTool) Description() string {
	return "Send a message to another agent by id. The target agent processes it on its next cycle."
}

func (t *SendMessageTool) Init(_ context.Context) error { return nil }
func (t *SendMessageTool) Close() error                 { return nil }

// Execute delivers the message. The success result deliberately reveals
// nothing about the target's private state.
func (t *SendMessageTool) Execute(ctx context.Context, args map[string]string) (tool.Result, error) {
	if err := tool.RequireArgs(args, "target_agent_id", "message"); err != nil {
		return tool.Errorf(t.Name(), "%v", err), nil
	}

	sender, _ := tool.SenderFrom(ctx)
	if sender == "" {
		sender = "unknown"
	}
	target := args["target_agent_id"]
	formatted := fmt.Sprintf("[From @%s]: %s", sender, args["message"])

	if err := t.router.DeliverMessage(target, formatted); err != nil {
		return tool.Errorf(t.Name(), "delivery to %q failed: %v", target, err), nil
	}
	return tool.OK(t.Name(), fmt.Sprintf("message delivered to agent %s", target)), nil
}
