package tools

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/forgeworks/anvil/internal/agent"
	"github.com/forgeworks/anvil/internal/sandbox"
	"github.com/forgeworks/anvil/internal/store"
	"github.com/forgeworks/anvil/pkg/models"
)

func TestTodoSetAndList(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	tool := NewTodoTool(st, "thread-1")

	out, err := tool.Execute(ctx, json.RawMessage(`{
		"action": "set",
		"items": [
			{"text": "write tests", "done": true},
			{"text": "ship it"},
			{"text": "   "}
		]
	}`))
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if out.IsError || !strings.Contains(out.Content, "2 todos") {
		t.Errorf("set output = %+v", out)
	}

	out, err = tool.Execute(ctx, json.RawMessage(`{"action": "list"}`))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := "- [x] write tests\n- [ ] ship it"
	if out.Content != want {
		t.Errorf("list = %q, want %q", out.Content, want)
	}
}

func TestTodoSetReplacesList(t *testing.T) {
	st := store.NewMemoryStore()
	tool := NewTodoTool(st, "thread-1")

	mustExecute(t, tool, `{"action":"set","items":[{"text":"old"}]}`)
	mustExecute(t, tool, `{"action":"set","items":[{"text":"new"}]}`)

	out := mustExecute(t, tool, `{"action":"list"}`)
	if strings.Contains(out.Content, "old") || !strings.Contains(out.Content, "new") {
		t.Errorf("list after replace = %q", out.Content)
	}
}

func TestMemorySaveAndSearch(t *testing.T) {
	st := store.NewMemoryStore()
	tool := NewMemoryTool(st, "thread-1")

	out := mustExecute(t, tool, `{"action":"save","content":"user prefers tabs over spaces"}`)
	if out.IsError {
		t.Fatalf("save failed: %s", out.Content)
	}
	mustExecute(t, tool, `{"action":"save","content":"project uses sqlite"}`)

	out = mustExecute(t, tool, `{"action":"search","query":"tabs"}`)
	if !strings.Contains(out.Content, "tabs over spaces") {
		t.Errorf("search = %q", out.Content)
	}
	if strings.Contains(out.Content, "sqlite") {
		t.Errorf("search matched unrelated note: %q", out.Content)
	}

	out = mustExecute(t, tool, `{"action":"search","query":"kubernetes"}`)
	if out.Content != "No matching memories." {
		t.Errorf("empty search = %q", out.Content)
	}
}

func TestMemoryValidatesArguments(t *testing.T) {
	tool := NewMemoryTool(store.NewMemoryStore(), "thread-1")

	out := mustExecute(t, tool, `{"action":"save"}`)
	if !out.IsError {
		t.Error("save without content should be a tool error")
	}
	out = mustExecute(t, tool, `{"action":"teleport"}`)
	if !out.IsError {
		t.Error("unknown action should be a tool error")
	}
}

func TestRemoteToolsDegradeWithoutWorkspace(t *testing.T) {
	for _, tool := range []agent.Tool{
		NewReadFileTool(nil, ""),
		NewWriteFileTool(nil, ""),
		NewDeleteFileTool(nil, ""),
		NewListDirTool(nil, ""),
		NewSearchTool(nil, ""),
		NewTerminalTool(nil, ""),
	} {
		out, err := tool.Execute(context.Background(), json.RawMessage(`{"path":"x","content":"y","pattern":"z","command":"ls"}`))
		if err != nil {
			t.Fatalf("%s: %v", tool.Name(), err)
		}
		if !out.IsError || !strings.Contains(out.Content, "without a workspace") {
			t.Errorf("%s output = %+v, want workspace guidance", tool.Name(), out)
		}
	}
}

func newSandboxClient(t *testing.T, handler http.HandlerFunc) *sandbox.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := sandbox.NewClient(sandbox.Config{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestReadFileToolProxiesToSandbox(t *testing.T) {
	client := newSandboxClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/ws-1/files/read") {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":   true,
			"data": map[string]any{"content": "package main"},
		})
	})

	tool := NewReadFileTool(client, "ws-1")
	out := mustExecute(t, tool, `{"path":"main.go"}`)
	if out.IsError || out.Content != "package main" {
		t.Errorf("output = %+v", out)
	}
}

func TestTerminalToolReportsExitCode(t *testing.T) {
	client := newSandboxClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"data": map[string]any{
				"stdout":    "",
				"stderr":    "command not found",
				"exit_code": 127,
			},
		})
	})

	tool := NewTerminalTool(client, "ws-1")
	out := mustExecute(t, tool, `{"command":"frobnicate"}`)
	if !out.IsError {
		t.Error("non-zero exit should flag the result")
	}
	if !strings.Contains(out.Content, "exit code: 127") || !strings.Contains(out.Content, "command not found") {
		t.Errorf("output = %q", out.Content)
	}
}

func TestSandboxFailureIsToolError(t *testing.T) {
	client := newSandboxClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":    false,
			"error": map[string]any{"code": "not_found", "message": "no such file"},
		})
	})

	tool := NewReadFileTool(client, "ws-1")
	out := mustExecute(t, tool, `{"path":"missing.go"}`)
	if !out.IsError || !strings.Contains(out.Content, "no such file") {
		t.Errorf("output = %+v", out)
	}
}

type fakeConnector struct {
	id       string
	lastTool string
	result   string
	err      error
}

func (c *fakeConnector) ID() string { return c.id }
func (c *fakeConnector) Call(ctx context.Context, tool string, args json.RawMessage) (string, error) {
	c.lastTool = tool
	return c.result, c.err
}

func TestPluginToolNamespacing(t *testing.T) {
	connector := &fakeConnector{id: "github", result: "issue created"}
	tool := NewPluginTool(connector, "create_issue", "")

	if tool.Name() != "github__create_issue" {
		t.Errorf("name = %q", tool.Name())
	}

	out := mustExecute(t, tool, `{"title":"bug","anything":["goes"]}`)
	if out.IsError || out.Content != "issue created" {
		t.Errorf("output = %+v", out)
	}
	if connector.lastTool != "create_issue" {
		t.Errorf("connector invoked %q", connector.lastTool)
	}
}

func TestPluginToolConnectorFailure(t *testing.T) {
	connector := &fakeConnector{id: "github", err: errors.New("connector offline")}
	tool := NewPluginTool(connector, "create_issue", "")

	out := mustExecute(t, tool, `{}`)
	if !out.IsError || !strings.Contains(out.Content, "connector offline") {
		t.Errorf("output = %+v", out)
	}
}

func TestCatalogRegistersCleanly(t *testing.T) {
	st := store.NewMemoryStore()
	thread := &models.Thread{ID: "thread-1", WorkspaceID: "ws-1"}

	registry := agent.NewToolRegistry()
	for _, tool := range ForThread(st, nil, thread) {
		if err := registry.Register(tool); err != nil {
			t.Errorf("register %s: %v", tool.Name(), err)
		}
	}

	names := make(map[string]bool)
	for _, tool := range registry.List() {
		names[tool.Name()] = true
	}
	for _, want := range []string{"todos", "memories", "read_file", "write_file", "delete_file", "list_dir", "search", "terminal"} {
		if !names[want] {
			t.Errorf("catalog missing %s", want)
		}
	}
}

func TestReflectedSchemaEnforcesRequired(t *testing.T) {
	registry := agent.NewToolRegistry()
	if err := registry.Register(NewTodoTool(store.NewMemoryStore(), "thread-1")); err != nil {
		t.Fatalf("register: %v", err)
	}

	// action is required and enum-constrained; both violations must be
	// caught before Execute.
	out, err := registry.Execute(context.Background(), "todos", json.RawMessage(`{}`))
	if err == nil && (out == nil || !out.IsError) {
		t.Error("missing action should fail validation")
	}
	out, err = registry.Execute(context.Background(), "todos", json.RawMessage(`{"action":"explode"}`))
	if err == nil && (out == nil || !out.IsError) {
		t.Error("enum violation should fail validation")
	}
}

func mustExecute(t *testing.T, tool agent.Tool, params string) *agent.ToolOutput {
	t.Helper()
	out, err := tool.Execute(context.Background(), json.RawMessage(params))
	if err != nil {
		t.Fatalf("%s execute: %v", tool.Name(), err)
	}
	return out
}
