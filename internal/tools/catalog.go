package tools

import (
	"github.com/forgeworks/anvil/internal/agent"
	"github.com/forgeworks/anvil/internal/sandbox"
	"github.com/forgeworks/anvil/internal/store"
	"github.com/forgeworks/anvil/pkg/models"
)

// ForThread assembles the tool catalog for one thread. Data tools are always
// present; remote tools are included regardless of workspace attachment and
// degrade to guidance when the thread runs in scratchpad mode, so the model
// sees a stable catalog either way.
func ForThread(st store.DataStore, client *sandbox.Client, thread *models.Thread) []agent.Tool {
	workspaceID := ""
	if thread != nil {
		workspaceID = thread.WorkspaceID
	}
	threadID := ""
	if thread != nil {
		threadID = thread.ID
	}

	return []agent.Tool{
		NewTodoTool(st, threadID),
		NewMemoryTool(st, threadID),
		NewReadFileTool(client, workspaceID),
		NewWriteFileTool(client, workspaceID),
		NewDeleteFileTool(client, workspaceID),
		NewListDirTool(client, workspaceID),
		NewSearchTool(client, workspaceID),
		NewTerminalTool(client, workspaceID),
	}
}
