package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/forgeworks/anvil/internal/agent"
	"github.com/forgeworks/anvil/internal/store"
)

// TodoTool maintains the thread's working todo list in the store. Setting
// replaces the whole list; the model re-sends the full state each time.
type TodoTool struct {
	store    store.DataStore
	threadID string
}

// NewTodoTool creates a todo tool bound to a thread.
func NewTodoTool(st store.DataStore, threadID string) *TodoTool {
	return &TodoTool{store: st, threadID: threadID}
}

type todoArgs struct {
	Action string     `json:"action" jsonschema:"enum=set,enum=list,description=set replaces the todo list; list returns it"`
	Items  []todoItem `json:"items,omitempty" jsonschema:"description=Full todo list when action is set"`
}

type todoItem struct {
	Text string `json:"text" jsonschema:"description=Todo text"`
	Done bool   `json:"done,omitempty" jsonschema:"description=Whether the item is finished"`
}

func (t *TodoTool) Name() string { return "todos" }

func (t *TodoTool) Description() string {
	return "Manage the working todo list for this conversation. Use it to plan multi-step work and track progress."
}

func (t *TodoTool) Schema() json.RawMessage { return reflectSchema(&todoArgs{}) }

func (t *TodoTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolOutput, error) {
	var args todoArgs
	if err := json.Unmarshal(params, &args); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}

	switch args.Action {
	case "set":
		items := make([]store.TodoItem, 0, len(args.Items))
		for _, item := range args.Items {
			if strings.TrimSpace(item.Text) == "" {
				continue
			}
			items = append(items, store.TodoItem{Text: item.Text, Done: item.Done})
		}
		if err := t.store.PutTodos(ctx, t.threadID, items); err != nil {
			return toolError(fmt.Sprintf("save todos: %v", err)), nil
		}
		return &agent.ToolOutput{Content: fmt.Sprintf("Saved %d todos.", len(items))}, nil

	case "list":
		items, err := t.store.GetTodos(ctx, t.threadID)
		if err != nil {
			return toolError(fmt.Sprintf("load todos: %v", err)), nil
		}
		return &agent.ToolOutput{Content: renderTodos(items)}, nil

	default:
		return toolError(fmt.Sprintf("unknown action %q", args.Action)), nil
	}
}

func renderTodos(items []store.TodoItem) string {
	if len(items) == 0 {
		return "No todos."
	}
	var b strings.Builder
	for _, item := range items {
		mark := " "
		if item.Done {
			mark = "x"
		}
		fmt.Fprintf(&b, "- [%s] %s\n", mark, item.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}

func toolError(msg string) *agent.ToolOutput {
	return &agent.ToolOutput{Content: msg, IsError: true}
}
