// Package aggregator merges the capabilities of all registered backend MCP
// servers into one surface and routes tool invocations, including the
// synthesized broadcast tools that fan a single call out to many backends.
package aggregator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/toolgate/toolgate/pkg/gateway"
	"github.com/toolgate/toolgate/pkg/groups"
	"github.com/toolgate/toolgate/pkg/logger"
	"github.com/toolgate/toolgate/pkg/telemetry"
)

// maxConcurrentCalls bounds parallel backend queries during aggregation and
// broadcast fan-out.
const maxConcurrentCalls = 10

// Filter narrows a backend's live tool set for a caller. Implementations must
// fail closed: a filter that cannot determine the allowed set returns an
// empty slice, not an error, so a broken policy source never widens access.
type Filter interface {
	FilterTools(ctx context.Context, server *gateway.ServerDefinition, caller string, live []gateway.ToolDescriptor) []gateway.ToolDescriptor
}

// NopFilter passes every tool through unchanged.
type NopFilter struct{}

// FilterTools implements Filter.
func (NopFilter) FilterTools(_ context.Context, _ *gateway.ServerDefinition, _ string, live []gateway.ToolDescriptor) []gateway.ToolDescriptor {
	return live
}

// Scope narrows an aggregation or invocation to a caller identity and an
// optional group. A nil Group means the top-level surface.
type Scope struct {
	Caller string
	Group  *groups.Group
}

// servers returns the definitions visible in this scope, sorted by name.
// Group members missing from the registry are skipped with a warning.
func (s Scope) servers(reg *gateway.Registry) []gateway.ServerDefinition {
	if s.Group == nil {
		return reg.ListEnabled()
	}

	out := make([]gateway.ServerDefinition, 0, len(s.Group.ServerNames))
	for _, name := range s.Group.ServerNames {
		def, err := reg.Get(name)
		if err != nil {
			logger.Warnf("Group %q references unknown server %q, skipping", s.Group.Name, name)
			continue
		}
		if !def.Enabled {
			continue
		}
		out = append(out, *def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Aggregator composes the tool, resource and prompt surfaces of all backends
// and dispatches calls to them.
type Aggregator struct {
	registry *gateway.Registry
	backend  gateway.BackendClient
	filter   Filter
	metrics  *telemetry.Metrics
}

// New creates an aggregator. A nil filter disables policy filtering.
func New(registry *gateway.Registry, backend gateway.BackendClient, filter Filter, metrics *telemetry.Metrics) *Aggregator {
	if filter == nil {
		filter = NopFilter{}
	}
	return &Aggregator{
		registry: registry,
		backend:  backend,
		filter:   filter,
		metrics:  metrics,
	}
}

// ListTools returns the tools of one backend after applying the server
// allowlist, the policy filter and the scope's group allowlist, in that
// order.
func (a *Aggregator) ListTools(ctx context.Context, serverName string, scope Scope) ([]gateway.ToolDescriptor, error) {
	def, err := a.registry.Get(serverName)
	if err != nil {
		return nil, err
	}
	if scope.Group != nil && !scope.Group.HasServer(serverName) {
		return nil, fmt.Errorf("%w: %s is not a member of group %q", gateway.ErrServerNotFound, serverName, scope.Group.Name)
	}

	start := time.Now()
	live, err := a.backend.ListTools(ctx, def)
	a.metrics.RecordUpstreamLatency(def.Name, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to list tools on %q: %w", def.Name, err)
	}

	return a.visibleTools(ctx, def, scope, live), nil
}

// visibleTools applies server allowlist, policy filter and group allowlist to
// a live tool set.
func (a *Aggregator) visibleTools(ctx context.Context, def *gateway.ServerDefinition, scope Scope, live []gateway.ToolDescriptor) []gateway.ToolDescriptor {
	allowed := make([]gateway.ToolDescriptor, 0, len(live))
	for _, tool := range live {
		if def.AllowsTool(tool.Name) {
			allowed = append(allowed, tool)
		}
	}

	allowed = a.filter.FilterTools(ctx, def, scope.Caller, allowed)

	if scope.Group != nil {
		groupAllowlist := scope.Group.AllowlistFor(def.Name)
		if groupAllowlist != nil {
			logAllowlistDrift(scope.Group.Name, def.Name, groupAllowlist, allowed)
			narrowed := allowed[:0]
			for _, tool := range allowed {
				if gateway.AllowlistPermits(groupAllowlist, tool.Name) {
					narrowed = append(narrowed, tool)
				}
			}
			allowed = narrowed
		}
	}
	return allowed
}

// logAllowlistDrift flags group allowlist entries that policy (or the live
// backend) no longer offers. Operators fix the config; nothing is enforced
// from here.
func logAllowlistDrift(group, server string, allowlist []string, available []gateway.ToolDescriptor) {
	for _, entry := range allowlist {
		if entry == "*" {
			continue
		}
		if !containsTool(available, entry) {
			logger.Warnf("Group %q allows tool %q on %q but it is not available, check group and policy config", group, entry, server)
		}
	}
}

// ListAllTools aggregates the visible tools of every server in scope,
// including the synthesized broadcast tools. Backends that fail to answer
// are logged and skipped so one dead server does not hide the rest.
func (a *Aggregator) ListAllTools(ctx context.Context, scope Scope) []gateway.ToolDescriptor {
	servers := scope.servers(a.registry)
	toolsByServer := a.collectTools(ctx, scope, servers)

	var out []gateway.ToolDescriptor
	for _, def := range servers {
		out = append(out, toolsByServer[def.Name]...)
	}
	out = append(out, GenerateBroadcastTools(servers, toolsByServer)...)
	return out
}

// collectTools queries every server in parallel and returns the visible
// tools per server. Failures are logged and the server omitted.
func (a *Aggregator) collectTools(ctx context.Context, scope Scope, servers []gateway.ServerDefinition) map[string][]gateway.ToolDescriptor {
	var mu sync.Mutex
	toolsByServer := make(map[string][]gateway.ToolDescriptor, len(servers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentCalls)
	for _, def := range servers {
		def := def
		g.Go(func() error {
			start := time.Now()
			live, err := a.backend.ListTools(gctx, &def)
			a.metrics.RecordUpstreamLatency(def.Name, time.Since(start).Seconds())
			if err != nil {
				logger.Warnf("Failed to list tools on %q, skipping: %v", def.Name, err)
				return nil
			}
			visible := a.visibleTools(gctx, &def, scope, live)

			mu.Lock()
			toolsByServer[def.Name] = visible
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return toolsByServer
}

// ListAllResources aggregates the resources of every server in scope.
// Backends that fail are logged and skipped.
func (a *Aggregator) ListAllResources(ctx context.Context, scope Scope) []gateway.ResourceDescriptor {
	var mu sync.Mutex
	var out []gateway.ResourceDescriptor

	servers := scope.servers(a.registry)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentCalls)
	for _, def := range servers {
		def := def
		g.Go(func() error {
			resources, err := a.backend.ListResources(gctx, &def)
			if err != nil {
				logger.Warnf("Failed to list resources on %q, skipping: %v", def.Name, err)
				return nil
			}
			mu.Lock()
			out = append(out, resources...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ServerName != out[j].ServerName {
			return out[i].ServerName < out[j].ServerName
		}
		return out[i].URI < out[j].URI
	})
	return out
}

// ListAllPrompts aggregates the prompts of every server in scope. Backends
// that fail are logged and skipped.
func (a *Aggregator) ListAllPrompts(ctx context.Context, scope Scope) []gateway.PromptDescriptor {
	var mu sync.Mutex
	var out []gateway.PromptDescriptor

	servers := scope.servers(a.registry)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentCalls)
	for _, def := range servers {
		def := def
		g.Go(func() error {
			prompts, err := a.backend.ListPrompts(gctx, &def)
			if err != nil {
				logger.Warnf("Failed to list prompts on %q, skipping: %v", def.Name, err)
				return nil
			}
			mu.Lock()
			out = append(out, prompts...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ServerName != out[j].ServerName {
			return out[i].ServerName < out[j].ServerName
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Invoke calls a tool on one backend. The tool must be visible through the
// full filter chain for the scope, otherwise the call is rejected with
// ErrToolNotFound regardless of whether the backend would accept it.
func (a *Aggregator) Invoke(ctx context.Context, serverName, tool string, args map[string]any, scope Scope) (*gateway.ToolCallResult, error) {
	visible, err := a.ListTools(ctx, serverName, scope)
	if err != nil {
		return nil, err
	}
	if !containsTool(visible, tool) {
		return nil, fmt.Errorf("%w: %s on server %q", gateway.ErrToolNotFound, tool, serverName)
	}

	def, err := a.registry.Get(serverName)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := a.backend.CallTool(ctx, def, tool, args)
	a.metrics.RecordUpstreamLatency(def.Name, time.Since(start).Seconds())
	a.metrics.RecordInvocation(def.Name, err)
	if err != nil {
		return nil, fmt.Errorf("failed to invoke %s on %q: %w", tool, serverName, err)
	}
	return result, nil
}

// FindToolServer resolves an unscoped tool name to a server. When several
// servers expose the tool, the first in lexicographic server-name order wins
// and the ambiguity is logged.
func (a *Aggregator) FindToolServer(ctx context.Context, tool string, scope Scope) (string, error) {
	servers := scope.servers(a.registry)
	toolsByServer := a.collectTools(ctx, scope, servers)

	var matches []string
	for _, def := range servers {
		if containsTool(toolsByServer[def.Name], tool) {
			matches = append(matches, def.Name)
		}
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w: %s", gateway.ErrToolNotFound, tool)
	}
	if len(matches) > 1 {
		logger.Infof("Tool %q offered by %s, routing to %q", tool, strings.Join(matches, ", "), matches[0])
	}
	return matches[0], nil
}

// ResolveResourceServer finds the first server in scope exposing the given
// resource URI.
func (a *Aggregator) ResolveResourceServer(ctx context.Context, uri string, scope Scope) (*gateway.ServerDefinition, error) {
	for _, res := range a.ListAllResources(ctx, scope) {
		if res.URI == uri {
			return a.registry.Get(res.ServerName)
		}
	}
	return nil, fmt.Errorf("resource %q not found on any server", uri)
}

// ResolvePromptServer finds the first server in scope exposing the given
// prompt.
func (a *Aggregator) ResolvePromptServer(ctx context.Context, name string, scope Scope) (*gateway.ServerDefinition, error) {
	for _, p := range a.ListAllPrompts(ctx, scope) {
		if p.Name == name {
			return a.registry.Get(p.ServerName)
		}
	}
	return nil, fmt.Errorf("prompt %q not found on any server", name)
}

// ReadResource reads a resource from the server that exposes its URI.
func (a *Aggregator) ReadResource(ctx context.Context, uri string, scope Scope) (*gateway.ResourceReadResult, error) {
	def, err := a.ResolveResourceServer(ctx, uri, scope)
	if err != nil {
		return nil, err
	}
	return a.backend.ReadResource(ctx, def, uri)
}

// GetPrompt retrieves a prompt from the server that exposes it.
func (a *Aggregator) GetPrompt(ctx context.Context, name string, args map[string]any, scope Scope) (*gateway.PromptGetResult, error) {
	def, err := a.ResolvePromptServer(ctx, name, scope)
	if err != nil {
		return nil, err
	}
	return a.backend.GetPrompt(ctx, def, name, args)
}

func containsTool(tools []gateway.ToolDescriptor, name string) bool {
	for _, t := range tools {
		if t.Name == name {
			return true
		}
	}
	return false
}
