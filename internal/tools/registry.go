package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// ErrUnknownTool is returned when no tool is registered under a name.
var ErrUnknownTool = errors.New("unknown tool")

// Handler executes a tool with input that already passed schema validation.
type Handler func(ctx context.Context, input json.RawMessage) (any, error)

// Tool is one invocable operation.
type Tool struct {
	Name        string
	Description string
	InputSchema string
	Handler     Handler

	schema *gojsonschema.Schema
}

// Definition describes a tool to callers.
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ToolResponse is the uniform result of an invocation.
type ToolResponse struct {
	Tool             string   `json:"tool"`
	Success          bool     `json:"success"`
	Output           any      `json:"output,omitempty"`
	Error            string   `json:"error,omitempty"`
	ValidationErrors []string `json:"validation_errors,omitempty"`
}

// Registry maps tool names to tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register compiles the tool's input schema and adds it.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" || t.Handler == nil {
		return fmt.Errorf("tool name and handler are required")
	}
	if t.InputSchema == "" {
		t.InputSchema = `{"type":"object"}`
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(t.InputSchema))
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", t.Name, err)
	}
	t.schema = schema

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("tool %s is already registered", t.Name)
	}
	r.tools[t.Name] = &t
	return nil
}

// Definitions lists the registered tools by name.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, Definition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: json.RawMessage(t.InputSchema),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Invoke validates input against the tool's schema and runs it. Validation
// and handler failures are reported in the response; the error return is
// only ErrUnknownTool.
func (r *Registry) Invoke(ctx context.Context, name string, input json.RawMessage) (ToolResponse, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return ToolResponse{Tool: name, Error: ErrUnknownTool.Error()}, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	if len(strings.TrimSpace(string(input))) == 0 {
		input = json.RawMessage(`{}`)
	}
	result, err := t.schema.Validate(gojsonschema.NewBytesLoader(input))
	if err != nil {
		return ToolResponse{Tool: name, Error: fmt.Sprintf("invalid input: %v", err)}, nil
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			details = append(details, e.String())
		}
		return ToolResponse{
			Tool:             name,
			Error:            "invalid input: " + strings.Join(details, "; "),
			ValidationErrors: details,
		}, nil
	}

	out, err := t.Handler(ctx, input)
	if err != nil {
		return ToolResponse{Tool: name, Error: err.Error()}, nil
	}
	return ToolResponse{Tool: name, Success: true, Output: out}, nil
}
