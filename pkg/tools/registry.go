package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/arjunmehta/relay/pkg/providers"
)

// Tool is the capability interface every callable action implements: a
// name/description/parameter schema for the provider's function-calling
// format, and an Execute that runs it given the model's chosen arguments.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) (string, error)
}

// ToolMetrics accumulates per-tool execution counters for diagnostics.
type ToolMetrics struct {
	ExecutionCount  int
	SuccessCount    int
	FailureCount    int
	TotalDurationMS int64
}

// ToolRegistry holds every tool available to the agent loop, the policy
// gating which of them may run, and rolling execution metrics.
type ToolRegistry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	metrics map[string]*ToolMetrics
	policy  ToolExecutionPolicy
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools:   make(map[string]Tool),
		metrics: make(map[string]*ToolMetrics),
	}
}

// Register adds (or replaces) a tool under its own Name().
func (r *ToolRegistry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Get returns the tool registered under name, if any.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns every registered tool's name, sorted.
func (r *ToolRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetExecutionPolicy installs the allow/deny policy applied by Execute and
// ExecuteWithContext.
func (r *ToolRegistry) SetExecutionPolicy(policy ToolExecutionPolicy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policy = policy
}

// ListDefinitions returns the OpenAI-compatible function-tool schema for
// every registered tool.
func (r *ToolRegistry) ListDefinitions() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]providers.ToolDefinition, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		defs = append(defs, providers.ToolDefinition{
			Type: "function",
			Function: providers.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

// ListDefinitionsForPermissions returns only the tools named in
// allowedTools. An empty allowedTools is strict deny-all — the caller must
// pass "*" explicitly to mean "every registered tool".
func (r *ToolRegistry) ListDefinitionsForPermissions(allowedTools []string) []providers.ToolDefinition {
	if len(allowedTools) == 1 && allowedTools[0] == "*" {
		return r.ListDefinitions()
	}

	allowed := make(map[string]struct{}, len(allowedTools))
	for _, name := range allowedTools {
		allowed[name] = struct{}{}
	}

	var defs []providers.ToolDefinition
	for _, d := range r.ListDefinitions() {
		if _, ok := allowed[d.Function.Name]; ok {
			defs = append(defs, d)
		}
	}
	return defs
}

// ListDefinitionsForPermissionsAndPolicy returns the tools allowed under
// allowedTools, further narrowed by the registry's own
// execution policy so the model is never offered a tool Execute would then
// refuse on policy grounds.
func (r *ToolRegistry) ListDefinitionsForPermissionsAndPolicy(allowedTools []string) []providers.ToolDefinition {
	r.mu.RLock()
	policy := r.policy
	r.mu.RUnlock()

	defs := r.ListDefinitionsForPermissions(allowedTools)
	if !policy.Enabled {
		return defs
	}

	out := make([]providers.ToolDefinition, 0, len(defs))
	for _, d := range defs {
		if policy.check(d.Function.Name) == nil {
			out = append(out, d)
		}
	}
	return out
}

// IsToolAllowed reports whether toolName may run under allowedTools, honoring
// the "*" allow-all marker.
func IsToolAllowed(toolName string, allowedTools []string) bool {
	for _, name := range allowedTools {
		if name == "*" || name == toolName {
			return true
		}
	}
	return false
}

// Execute runs a tool by name after checking the registry's execution
// policy, with no channel/chatID context injected.
func (r *ToolRegistry) Execute(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	return r.execute(ctx, name, args)
}

// ExecuteWithContext runs a tool by name, injecting channel/chatID into its
// arguments so context-aware tools (message, cron, ...) can see where the
// call originated without every caller threading it through explicitly.
func (r *ToolRegistry) ExecuteWithContext(ctx context.Context, name string, args map[string]interface{}, channel, chatID string) (string, error) {
	return r.execute(ctx, name, withExecutionContext(args, channel, chatID, ""))
}

func (r *ToolRegistry) execute(ctx context.Context, name string, args map[string]interface{}) (result string, err error) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	policy := r.policy
	r.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("unknown tool: %s", name)
	}
	if err := policy.check(name); err != nil {
		return "", err
	}

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tool %s panicked: %v", name, rec)
		}
		r.recordMetrics(name, time.Since(start), err == nil)
	}()

	result, err = tool.Execute(ctx, args)
	return result, err
}

func (r *ToolRegistry) recordMetrics(name string, d time.Duration, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.metrics[name]
	if !ok {
		m = &ToolMetrics{}
		r.metrics[name] = m
	}
	m.ExecutionCount++
	if success {
		m.SuccessCount++
	} else {
		m.FailureCount++
	}
	m.TotalDurationMS += d.Milliseconds()
}

// GetMetrics returns a snapshot of per-tool execution counters.
func (r *ToolRegistry) GetMetrics() map[string]ToolMetrics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]ToolMetrics, len(r.metrics))
	for name, m := range r.metrics {
		out[name] = *m
	}
	return out
}
