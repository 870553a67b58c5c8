package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/forgeworks/anvil/internal/agent"
	"github.com/forgeworks/anvil/internal/store"
)

const defaultMemoryLimit = 10

// MemoryTool saves and searches durable notes. Notes outlive the thread, so
// the agent can recall decisions and facts across conversations.
type MemoryTool struct {
	store    store.DataStore
	threadID string
}

// NewMemoryTool creates a memory tool bound to a thread.
func NewMemoryTool(st store.DataStore, threadID string) *MemoryTool {
	return &MemoryTool{store: st, threadID: threadID}
}

type memoryArgs struct {
	Action  string `json:"action" jsonschema:"enum=save,enum=search,description=save stores a note; search finds matching notes"`
	Content string `json:"content,omitempty" jsonschema:"description=Note text to save"`
	Query   string `json:"query,omitempty" jsonschema:"description=Substring to search for"`
	Limit   int    `json:"limit,omitempty" jsonschema:"description=Maximum results for search (default 10)"`
}

func (t *MemoryTool) Name() string { return "memories" }

func (t *MemoryTool) Description() string {
	return "Save durable notes and search them later. Notes persist across conversations."
}

func (t *MemoryTool) Schema() json.RawMessage { return reflectSchema(&memoryArgs{}) }

func (t *MemoryTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolOutput, error) {
	var args memoryArgs
	if err := json.Unmarshal(params, &args); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}

	switch args.Action {
	case "save":
		content := strings.TrimSpace(args.Content)
		if content == "" {
			return toolError("content is required for save"), nil
		}
		note := &store.MemoryNote{
			ID:        uuid.NewString(),
			ThreadID:  t.threadID,
			Content:   content,
			CreatedAt: time.Now().UTC(),
		}
		if err := t.store.SaveMemory(ctx, note); err != nil {
			return toolError(fmt.Sprintf("save memory: %v", err)), nil
		}
		return &agent.ToolOutput{Content: "Saved memory " + note.ID + "."}, nil

	case "search":
		query := strings.TrimSpace(args.Query)
		if query == "" {
			return toolError("query is required for search"), nil
		}
		limit := args.Limit
		if limit <= 0 {
			limit = defaultMemoryLimit
		}
		notes, err := t.store.SearchMemories(ctx, query, limit)
		if err != nil {
			return toolError(fmt.Sprintf("search memories: %v", err)), nil
		}
		return &agent.ToolOutput{Content: renderMemories(notes)}, nil

	default:
		return toolError(fmt.Sprintf("unknown action %q", args.Action)), nil
	}
}

func renderMemories(notes []store.MemoryNote) string {
	if len(notes) == 0 {
		return "No matching memories."
	}
	var b strings.Builder
	for _, note := range notes {
		fmt.Fprintf(&b, "- %s (%s)\n", note.Content, note.CreatedAt.Format("2006-01-02"))
	}
	return strings.TrimRight(b.String(), "\n")
}
