package tools

import (
	"context"
	"log/slog"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/hivemind/internal/fault"
	"github.com/nextlevelbuilder/hivemind/internal/llm"
)

// Module is the extension interface for optional tool providers. Tool
// names are namespaced as "<moduleID>_<name>" to avoid collisions with
// the built-in catalogue.
type Module interface {
	ID() string
	Tools() []Tool
	Shutdown(ctx context.Context) error
}

// Registry holds the catalogue and dispatches calls.
type Registry struct {
	tools   map[string]Tool
	modules []Module
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewRegistry builds an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]Tool),
		logger: logger,
		tracer: otel.Tracer("hivemind/tools"),
	}
}

// Register adds a built-in tool. Later registrations with the same
// name replace earlier ones.
func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

// RegisterModule mounts a module's tools under its id prefix.
func (r *Registry) RegisterModule(m Module) {
	r.modules = append(r.modules, m)
	for _, t := range m.Tools() {
		r.tools[m.ID()+"_"+t.Name()] = namespaced{prefix: m.ID() + "_", Tool: t}
	}
	r.logger.Info("tool module registered", "module", m.ID(), "tools", len(m.Tools()))
}

// Shutdown stops all modules.
func (r *Registry) Shutdown(ctx context.Context) {
	for _, m := range r.modules {
		if err := m.Shutdown(ctx); err != nil {
			r.logger.Warn("module shutdown failed", "module", m.ID(), "error", err)
		}
	}
}

type namespaced struct {
	prefix string
	Tool
}

func (n namespaced) Name() string { return n.prefix + n.Tool.Name() }

// Definitions returns the OpenAI-schema tool definitions visible to a
// role. An empty allowedGroups means every tool is visible.
func (r *Registry) Definitions(allowedGroups []string) []llm.ToolDefinition {
	allowed := map[string]bool{}
	for _, g := range allowedGroups {
		allowed[g] = true
	}
	names := make([]string, 0, len(r.tools))
	for name, t := range r.tools {
		if len(allowed) > 0 && !allowed[t.Group()] {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]llm.ToolDefinition, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		defs = append(defs, llm.ToolDefinition{
			Name:        name,
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

// Execute dispatches one assistant tool call. Unknown tools and
// group-gated tools come back as structured errors, never Go errors.
func (r *Registry) Execute(ctx context.Context, call llm.ToolCall, allowedGroups []string) *Result {
	t, ok := r.tools[call.Name]
	if !ok {
		return ErrorResult(fault.UnknownTool, "no tool named %q", call.Name)
	}
	if len(allowedGroups) > 0 {
		permitted := false
		for _, g := range allowedGroups {
			if g == t.Group() {
				permitted = true
				break
			}
		}
		if !permitted {
			return ErrorResult(fault.AccessDenied, "tool %q is not in this role's tool groups", call.Name)
		}
	}

	caller, _ := CallerFrom(ctx)
	ctx, span := r.tracer.Start(ctx, "tool.execute",
		trace.WithAttributes(
			attribute.String("tool.name", call.Name),
			attribute.String("agent.id", caller.AgentID),
		))
	defer span.End()

	res := t.Execute(ctx, call.Arguments)
	if res == nil {
		res = ErrorResult(fault.ProcessingFailed, "tool %q returned no result", call.Name)
	}
	if res.IsError {
		span.SetAttributes(attribute.Bool("tool.error", true))
		r.logger.Debug("tool returned error", "tool", call.Name, "agent", caller.AgentID, "body", res.ForLLM)
	}
	return res
}
