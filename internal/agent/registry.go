package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Tool parameter limits to prevent resource exhaustion.
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolParamsSize is the maximum size of tool argument JSON (10MB).
	MaxToolParamsSize = 10 << 20
)

type registryEntry struct {
	tool   Tool
	schema *jsonschema.Schema
}

// ToolRegistry manages the tool catalog with thread-safe registration and
// schema-validated dispatch. Each entry carries its argument schema compiled
// at registration; the registry validates arguments before invocation rather
// than trusting call-site casts.
type ToolRegistry struct {
	mu      sync.RWMutex
	entries map[string]registryEntry
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{entries: make(map[string]registryEntry)}
}

// Register adds a tool, compiling its argument schema. A tool with the same
// name is replaced. Registration fails when the schema does not compile.
func (r *ToolRegistry) Register(tool Tool) error {
	name := tool.Name()
	if name == "" || len(name) > MaxToolNameLength {
		return fmt.Errorf("invalid tool name %q", name)
	}
	raw := tool.Schema()
	if len(raw) == 0 {
		raw = json.RawMessage(`{"type":"object"}`)
	}
	compiled, err := jsonschema.CompileString(name+".schema.json", string(raw))
	if err != nil {
		return fmt.Errorf("compile schema for tool %s: %w", name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = registryEntry{tool: tool, schema: compiled}
	return nil
}

// MustRegister registers a tool and panics on schema compile failure. Tool
// schemas are program constants, so a failure here is a programming error.
func (r *ToolRegistry) MustRegister(tool Tool) {
	if err := r.Register(tool); err != nil {
		panic(err)
	}
}

// Unregister removes a tool by name.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, name)
}

// Get returns a tool by name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[name]
	return entry.tool, ok
}

// List returns registered tools ordered by name, for passing to providers.
func (r *ToolRegistry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]Tool, 0, len(r.entries))
	for _, e := range r.entries {
		tools = append(tools, e.tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name() < tools[j].Name() })
	return tools
}

// Execute validates params against the tool's schema and runs it.
// Unknown tools and oversized or schema-violating arguments are returned as
// error outputs, not Go errors, so the model can recover conversationally.
func (r *ToolRegistry) Execute(ctx context.Context, name string, params json.RawMessage) (*ToolOutput, error) {
	if len(name) > MaxToolNameLength {
		return &ToolOutput{
			Content: fmt.Sprintf("tool name exceeds maximum length of %d characters", MaxToolNameLength),
			IsError: true,
		}, nil
	}
	if len(params) > MaxToolParamsSize {
		return &ToolOutput{
			Content: fmt.Sprintf("tool arguments exceed maximum size of %d bytes", MaxToolParamsSize),
			IsError: true,
		}, nil
	}

	r.mu.RLock()
	entry, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return &ToolOutput{Content: "tool not found: " + name, IsError: true}, nil
	}

	if err := validateArgs(entry.schema, params); err != nil {
		verr := &SchemaViolationError{ToolName: name, Cause: err}
		return &ToolOutput{Content: verr.Error(), IsError: true}, nil
	}

	return entry.tool.Execute(ctx, params)
}

func validateArgs(schema *jsonschema.Schema, params json.RawMessage) error {
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}
	dec := json.NewDecoder(bytes.NewReader(params))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	return schema.Validate(v)
}
