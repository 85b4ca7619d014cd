// Package tools is the process-wide Tool Registry (spec §4.3), grounded on
// the teacher's internal/mcp/tools.go: the same name->definition map with a
// handler func type, generalized with JSON-schema-shaped parameters and
// category-gated registration instead of the teacher's flat always-on set.
package tools

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/fleetforge/fleetd/internal/stringutils"
	"github.com/fleetforge/fleetd/internal/types"
)

// Context carries per-call identity into a handler (§4.3 "ctx = {session_id,
// agent_id, request_id}").
type Context struct {
	SessionID string
	AgentID   string
	RequestID string
	IsAdmin   bool
}

// Handler processes one tool invocation. Handlers must be re-entrant and
// safe under concurrent invocation; they may call Store transactions (§4.3).
type Handler func(ctx Context, args map[string]interface{}) (types.ToolResult, error)

// Param describes one entry of a tool's JSON-schema input_schema.
type Param struct {
	Type        string
	Description string
	Required    bool
}

// Definition is one registrable tool (§4.3 "tool_def = {name, description,
// input_schema, handler}").
type Definition struct {
	Name        string
	Description string
	Category    types.ToolCategory
	Params      map[string]Param
	Handler     Handler
}

// InputSchema renders Params as a JSON-schema object, matching the wire
// shape MCP tools/list expects.
func (d Definition) InputSchema() map[string]interface{} {
	props := make(map[string]interface{}, len(d.Params))
	var required []string
	for name, p := range d.Params {
		props[name] = map[string]interface{}{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Required {
			required = append(required, name)
		}
	}
	sort.Strings(required)
	return map[string]interface{}{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// Registry is the process-wide catalog (§4.3), initialized once and then
// reconfigured at runtime via UpdateConfiguration.
type Registry struct {
	mu sync.RWMutex

	// catalog holds every known definition, keyed by name, regardless of
	// whether its category is currently enabled.
	catalog map[string]Definition
	// active holds only the currently-registered (enabled-category) subset.
	active  map[string]Definition
	enabled map[types.ToolCategory]bool
}

// New builds an empty Registry. Call RegisterCatalog to declare every known
// tool, then UpdateConfiguration to activate an initial category set.
func New() *Registry {
	return &Registry{
		catalog: make(map[string]Definition),
		active:  make(map[string]Definition),
		enabled: make(map[types.ToolCategory]bool),
	}
}

// RegisterCatalog declares a tool's definition into the full catalog. The
// tool becomes callable at once if its category is already enabled;
// otherwise UpdateConfiguration activates it when that category is enabled.
// Names must be unique across the whole
// catalog, independent of category (§4.3 "Names must be unique").
func (r *Registry) RegisterCatalog(def Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.catalog[def.Name]; exists {
		return types.WrapConflict("tool", def.Name)
	}
	r.catalog[def.Name] = def
	if r.enabled[def.Category] {
		r.active[def.Name] = def
	}
	return nil
}

// AppliedChanges reports what UpdateConfiguration did (§4.3 return shape).
type AppliedChanges struct {
	Registered   []string
	Deregistered []string
	Errors       []string
	NewConfig    []types.ToolCategory
}

// UpdateConfiguration recomputes the enabled set: additions register,
// removals deregister. CategoryBasic can never be removed (§4.3).
func (r *Registry) UpdateConfiguration(newCategories []types.ToolCategory) AppliedChanges {
	r.mu.Lock()
	defer r.mu.Unlock()

	want := make(map[types.ToolCategory]bool, len(newCategories)+1)
	for _, c := range newCategories {
		want[c] = true
	}
	want[types.CategoryBasic] = true

	var result AppliedChanges

	// Deregister anything newly disabled.
	for name, def := range r.active {
		if !want[def.Category] {
			delete(r.active, name)
			result.Deregistered = append(result.Deregistered, name)
		}
	}
	// Register anything newly enabled.
	for name, def := range r.catalog {
		if want[def.Category] {
			if _, already := r.active[name]; !already {
				r.active[name] = def
				result.Registered = append(result.Registered, name)
			}
		}
	}

	r.enabled = want
	for c := range want {
		result.NewConfig = append(result.NewConfig, c)
	}
	sort.Slice(result.NewConfig, func(i, j int) bool { return result.NewConfig[i] < result.NewConfig[j] })
	sort.Strings(result.Registered)
	sort.Strings(result.Deregistered)
	return result
}

// EnabledCategories reports the currently enabled category set, sorted, for
// /health and /config (§4.8).
func (r *Registry) EnabledCategories() []types.ToolCategory {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.ToolCategory, 0, len(r.enabled))
	for c, on := range r.enabled {
		if on {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Get returns an active tool's definition.
func (r *Registry) Get(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.active[name]
	return def, ok
}

// List returns every active tool's wire-shaped descriptor, for MCP
// tools/list (§4.3 "list() → [ToolDef]").
func (r *Registry) List() []map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]map[string]interface{}, 0, len(r.active))
	for _, def := range r.active {
		out = append(out, map[string]interface{}{
			"name":        def.Name,
			"description": def.Description,
			"inputSchema": def.InputSchema(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i]["name"].(string) < out[j]["name"].(string) })
	return out
}

// Execute runs an active tool by name (§4.3 "execute(name, args, ctx)").
// Returned errors are ErrNotFound (ErrToolMissing), ErrValidation
// (ErrToolInput), or whatever the handler returned (ErrToolHandler).
func (r *Registry) Execute(name string, ctx Context, args map[string]interface{}) (types.ToolResult, error) {
	def, ok := r.Get(name)
	if !ok {
		return types.ToolResult{}, types.WrapNotFound("tool", name)
	}
	if err := validateRequired(def, args); err != nil {
		return types.ToolResult{}, err
	}
	return def.Handler(ctx, args)
}

func validateRequired(def Definition, args map[string]interface{}) error {
	for name, p := range def.Params {
		if !p.Required {
			continue
		}
		v, ok := args[name]
		if !ok {
			return types.WrapValidation(fmt.Sprintf("tool %s: missing required parameter %q", def.Name, name))
		}
		if s, isString := v.(string); isString && stringutils.IsEmpty(s) {
			return types.WrapValidation(fmt.Sprintf("tool %s: required parameter %q is blank", def.Name, name))
		}
	}
	return nil
}

// StringArg fetches a required or optional string argument, coercing a
// missing/wrong-typed value to "" rather than panicking — handlers validate
// required-ness via Execute before they run.
func StringArg(args map[string]interface{}, key string) string {
	v, ok := args[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// RawArg round-trips an argument through JSON into a caller-supplied target,
// used by handlers that accept structured (non-scalar) parameters.
func RawArg(args map[string]interface{}, key string, target interface{}) error {
	v, ok := args[key]
	if !ok {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return types.WrapValidation(fmt.Sprintf("argument %q: %v", key, err))
	}
	return json.Unmarshal(raw, target)
}
