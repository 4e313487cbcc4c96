// Package tools defines the function catalog the model may call and executes
// those calls against an owner's long-term memory.
//
// Every call produces text for the model: failures are reported as
// "Tool error: ..." results instead of being returned to the caller.
package tools

import (
	"context"
	"fmt"
	"log"

	"github.com/cloudwego/eino/schema"
	"github.com/invopop/jsonschema"

	"github.com/zhouzirui/memoria/backend/internal/errs"
	"github.com/zhouzirui/memoria/backend/internal/model/memory"
)

// Memory is the long-term store the catalog operates on.
type Memory interface {
	AddOrUpdate(key, content string) (string, error)
	Search(query string) []memory.Entry
	FormatForPrompt() string
}

// Handler runs one tool call. raw is the model-supplied argument payload.
type Handler func(ctx context.Context, mem Memory, raw string) (string, error)

// Definition couples a tool name with its argument schema and handler.
type Definition struct {
	Name        string
	Description string
	Schema      *jsonschema.Schema
	Handler     Handler
}

// Result is the outcome of one tool call.
type Result struct {
	Tool   string
	Output string
	Err    error
}

// Text is what the model sees for this call.
func (r Result) Text() string {
	if r.Err != nil {
		return "Tool error: " + r.Err.Error()
	}
	return r.Output
}

// Registry maps tool names to their definitions.
type Registry struct {
	defs  map[string]Definition
	names []string
}

// NewRegistry indexes defs by name, keeping declaration order for the catalog.
func NewRegistry(defs ...Definition) *Registry {
	r := &Registry{defs: make(map[string]Definition, len(defs))}
	for _, def := range defs {
		if _, exists := r.defs[def.Name]; !exists {
			r.names = append(r.names, def.Name)
		}
		r.defs[def.Name] = def
	}
	return r
}

// Default returns the memory tool catalog.
func Default() *Registry {
	return NewRegistry(Catalog()...)
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Definition, bool) {
	def, ok := r.defs[name]
	return def, ok
}

// Definitions returns the catalog in declaration order.
func (r *Registry) Definitions() []Definition {
	out := make([]Definition, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.defs[name])
	}
	return out
}

// ToolInfos describes the catalog for model binding.
func (r *Registry) ToolInfos() []*schema.ToolInfo {
	out := make([]*schema.ToolInfo, 0, len(r.names))
	for _, def := range r.Definitions() {
		out = append(out, def.ToolInfo())
	}
	return out
}

// Wire returns the catalog in the chat-completions "tools" format.
func (r *Registry) Wire() []map[string]any {
	out := make([]map[string]any, 0, len(r.names))
	for _, def := range r.Definitions() {
		out = append(out, def.Wire())
	}
	return out
}

// Execute runs the named tool. It never fails: errors are carried in the Result.
func (r *Registry) Execute(ctx context.Context, mem Memory, name, args string) (result Result) {
	result.Tool = name

	def, ok := r.defs[name]
	if !ok {
		result.Err = fmt.Errorf("%w %q", errs.ErrUnknownTool, name)
		log.Printf("[tools] rejected call: %v", result.Err)
		return result
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			result.Output = ""
			result.Err = fmt.Errorf("%s panicked: %v", name, recovered)
			log.Printf("[tools] %v", result.Err)
		}
	}()

	output, err := def.Handler(ctx, mem, args)
	if err != nil {
		result.Err = err
		log.Printf("[tools] %s failed: %v", name, err)
		return result
	}
	result.Output = output
	return result
}

// ToolInfo converts the argument schema into an eino tool descriptor.
func (d Definition) ToolInfo() *schema.ToolInfo {
	params := make(map[string]*schema.ParameterInfo)
	if d.Schema != nil && d.Schema.Properties != nil {
		required := make(map[string]bool, len(d.Schema.Required))
		for _, name := range d.Schema.Required {
			required[name] = true
		}
		for pair := d.Schema.Properties.Oldest(); pair != nil; pair = pair.Next() {
			params[pair.Key] = &schema.ParameterInfo{
				Type:     schema.DataType(pair.Value.Type),
				Desc:     pair.Value.Description,
				Required: required[pair.Key],
			}
		}
	}

	return &schema.ToolInfo{
		Name:        d.Name,
		Desc:        d.Description,
		ParamsOneOf: schema.NewParamsOneOfByParams(params),
	}
}

// Wire renders the definition as a chat-completions function tool.
func (d Definition) Wire() map[string]any {
	return map[string]any{
		"type": "function",
		"function": map[string]any{
			"name":        d.Name,
			"description": d.Description,
			"parameters":  d.Schema,
		},
	}
}
