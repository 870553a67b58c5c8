package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/forgeworks/anvil/internal/agent"
)

// Connector invokes tools on an external plugin. Implementations own the
// transport; the catalog only needs a synchronous call.
type Connector interface {
	// ID is the connector's stable identifier, used as the tool name prefix.
	ID() string

	// Call invokes a named tool with an untyped argument bag.
	Call(ctx context.Context, tool string, args json.RawMessage) (string, error)
}

// PluginTool proxies one connector tool. Names are namespaced
// "<connectorID>__<tool>" so two connectors exposing the same tool name
// cannot collide, and the schema is an open object because connector schemas
// are not known at registration time.
type PluginTool struct {
	connector   Connector
	tool        string
	description string
}

// NewPluginTool creates a tool proxying to connector's named tool.
func NewPluginTool(connector Connector, tool, description string) *PluginTool {
	return &PluginTool{connector: connector, tool: tool, description: description}
}

func (t *PluginTool) Name() string {
	return t.connector.ID() + "__" + t.tool
}

func (t *PluginTool) Description() string {
	if t.description != "" {
		return t.description
	}
	return fmt.Sprintf("Invoke the %s tool of the %s connector.", t.tool, t.connector.ID())
}

func (t *PluginTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","additionalProperties":true}`)
}

func (t *PluginTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolOutput, error) {
	result, err := t.connector.Call(ctx, t.tool, params)
	if err != nil {
		return toolError(fmt.Sprintf("connector %s: %v", t.connector.ID(), err)), nil
	}
	return &agent.ToolOutput{Content: result}, nil
}
