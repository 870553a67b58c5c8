package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/forgeworks/anvil/internal/agent"
	"github.com/forgeworks/anvil/internal/sandbox"
)

const noWorkspaceMsg = "not available without a workspace; try the todo or memory tools instead"

// remote is the shared backing of all sandbox-proxied tools. An empty
// workspace id means scratchpad mode: the tool answers with guidance instead
// of failing the stream.
type remote struct {
	client      *sandbox.Client
	workspaceID string
}

func (r remote) guard() *agent.ToolOutput {
	if r.workspaceID == "" || r.client == nil {
		return toolError(noWorkspaceMsg)
	}
	return nil
}

// ReadFileTool reads a file from the workspace.
type ReadFileTool struct{ remote }

// NewReadFileTool creates a read_file tool for the given workspace.
func NewReadFileTool(client *sandbox.Client, workspaceID string) *ReadFileTool {
	return &ReadFileTool{remote{client: client, workspaceID: workspaceID}}
}

type readFileArgs struct {
	Path string `json:"path" jsonschema:"description=File path relative to the workspace root"`
}

func (t *ReadFileTool) Name() string { return "read_file" }
func (t *ReadFileTool) Description() string {
	return "Read the content of a file in the workspace."
}
func (t *ReadFileTool) Schema() json.RawMessage { return reflectSchema(&readFileArgs{}) }

func (t *ReadFileTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolOutput, error) {
	if out := t.guard(); out != nil {
		return out, nil
	}
	var args readFileArgs
	if err := json.Unmarshal(params, &args); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	content, err := t.client.ReadFile(ctx, t.workspaceID, args.Path)
	if err != nil {
		return toolError(err.Error()), nil
	}
	return &agent.ToolOutput{Content: content}, nil
}

// WriteFileTool creates or replaces a file in the workspace.
type WriteFileTool struct{ remote }

// NewWriteFileTool creates a write_file tool for the given workspace.
func NewWriteFileTool(client *sandbox.Client, workspaceID string) *WriteFileTool {
	return &WriteFileTool{remote{client: client, workspaceID: workspaceID}}
}

type writeFileArgs struct {
	Path    string `json:"path" jsonschema:"description=File path relative to the workspace root"`
	Content string `json:"content" jsonschema:"description=Full file content to write"`
}

func (t *WriteFileTool) Name() string { return "write_file" }
func (t *WriteFileTool) Description() string {
	return "Create or overwrite a file in the workspace with the given content."
}
func (t *WriteFileTool) Schema() json.RawMessage { return reflectSchema(&writeFileArgs{}) }

func (t *WriteFileTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolOutput, error) {
	if out := t.guard(); out != nil {
		return out, nil
	}
	var args writeFileArgs
	if err := json.Unmarshal(params, &args); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if err := t.client.WriteFile(ctx, t.workspaceID, args.Path, args.Content); err != nil {
		return toolError(err.Error()), nil
	}
	return &agent.ToolOutput{Content: fmt.Sprintf("Wrote %d bytes to %s.", len(args.Content), args.Path)}, nil
}

// DeleteFileTool removes a file from the workspace.
type DeleteFileTool struct{ remote }

// NewDeleteFileTool creates a delete_file tool for the given workspace.
func NewDeleteFileTool(client *sandbox.Client, workspaceID string) *DeleteFileTool {
	return &DeleteFileTool{remote{client: client, workspaceID: workspaceID}}
}

type deleteFileArgs struct {
	Path string `json:"path" jsonschema:"description=File path relative to the workspace root"`
}

func (t *DeleteFileTool) Name() string            { return "delete_file" }
func (t *DeleteFileTool) Description() string     { return "Delete a file in the workspace." }
func (t *DeleteFileTool) Schema() json.RawMessage { return reflectSchema(&deleteFileArgs{}) }

func (t *DeleteFileTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolOutput, error) {
	if out := t.guard(); out != nil {
		return out, nil
	}
	var args deleteFileArgs
	if err := json.Unmarshal(params, &args); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if err := t.client.DeleteFile(ctx, t.workspaceID, args.Path); err != nil {
		return toolError(err.Error()), nil
	}
	return &agent.ToolOutput{Content: "Deleted " + args.Path + "."}, nil
}

// ListDirTool lists a workspace directory.
type ListDirTool struct{ remote }

// NewListDirTool creates a list_dir tool for the given workspace.
func NewListDirTool(client *sandbox.Client, workspaceID string) *ListDirTool {
	return &ListDirTool{remote{client: client, workspaceID: workspaceID}}
}

type listDirArgs struct {
	Path string `json:"path,omitempty" jsonschema:"description=Directory path; defaults to the workspace root"`
}

func (t *ListDirTool) Name() string            { return "list_dir" }
func (t *ListDirTool) Description() string     { return "List the entries of a workspace directory." }
func (t *ListDirTool) Schema() json.RawMessage { return reflectSchema(&listDirArgs{}) }

func (t *ListDirTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolOutput, error) {
	if out := t.guard(); out != nil {
		return out, nil
	}
	var args listDirArgs
	if err := json.Unmarshal(params, &args); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	path := args.Path
	if path == "" {
		path = "."
	}
	entries, err := t.client.ListDir(ctx, t.workspaceID, path)
	if err != nil {
		return toolError(err.Error()), nil
	}
	if len(entries) == 0 {
		return &agent.ToolOutput{Content: "Empty directory."}, nil
	}
	var b strings.Builder
	for _, entry := range entries {
		if entry.IsDir {
			fmt.Fprintf(&b, "%s/\n", entry.Name)
		} else {
			fmt.Fprintf(&b, "%s (%d bytes)\n", entry.Name, entry.Size)
		}
	}
	return &agent.ToolOutput{Content: strings.TrimRight(b.String(), "\n")}, nil
}

// SearchTool runs a pattern search in the workspace.
type SearchTool struct{ remote }

// NewSearchTool creates a search tool for the given workspace.
func NewSearchTool(client *sandbox.Client, workspaceID string) *SearchTool {
	return &SearchTool{remote{client: client, workspaceID: workspaceID}}
}

type searchArgs struct {
	Pattern string `json:"pattern" jsonschema:"description=Pattern to search for"`
	Path    string `json:"path,omitempty" jsonschema:"description=Directory to search under; defaults to the workspace root"`
}

func (t *SearchTool) Name() string { return "search" }
func (t *SearchTool) Description() string {
	return "Search workspace files for a pattern and return matching lines."
}
func (t *SearchTool) Schema() json.RawMessage { return reflectSchema(&searchArgs{}) }

func (t *SearchTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolOutput, error) {
	if out := t.guard(); out != nil {
		return out, nil
	}
	var args searchArgs
	if err := json.Unmarshal(params, &args); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	matches, err := t.client.Search(ctx, t.workspaceID, args.Pattern, args.Path)
	if err != nil {
		return toolError(err.Error()), nil
	}
	if len(matches) == 0 {
		return &agent.ToolOutput{Content: "No matches."}, nil
	}
	var b strings.Builder
	for _, match := range matches {
		fmt.Fprintf(&b, "%s:%d: %s\n", match.Path, match.Line, match.Text)
	}
	return &agent.ToolOutput{Content: strings.TrimRight(b.String(), "\n")}, nil
}

// TerminalTool runs a shell command in the workspace.
type TerminalTool struct{ remote }

// NewTerminalTool creates a terminal tool for the given workspace.
func NewTerminalTool(client *sandbox.Client, workspaceID string) *TerminalTool {
	return &TerminalTool{remote{client: client, workspaceID: workspaceID}}
}

type terminalArgs struct {
	Command string `json:"command" jsonschema:"description=Shell command to run in the workspace"`
}

func (t *TerminalTool) Name() string { return "terminal" }
func (t *TerminalTool) Description() string {
	return "Run a shell command in the workspace and return its output and exit code."
}
func (t *TerminalTool) Schema() json.RawMessage { return reflectSchema(&terminalArgs{}) }

func (t *TerminalTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolOutput, error) {
	if out := t.guard(); out != nil {
		return out, nil
	}
	var args terminalArgs
	if err := json.Unmarshal(params, &args); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	result, err := t.client.Exec(ctx, t.workspaceID, args.Command)
	if err != nil {
		return toolError(err.Error()), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "exit code: %d\n", result.ExitCode)
	if result.Stdout != "" {
		b.WriteString(result.Stdout)
	}
	if result.Stderr != "" {
		if result.Stdout != "" {
			b.WriteString("\n")
		}
		b.WriteString(result.Stderr)
	}
	return &agent.ToolOutput{
		Content: strings.TrimRight(b.String(), "\n"),
		IsError: result.ExitCode != 0,
	}, nil
}
