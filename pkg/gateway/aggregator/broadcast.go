package aggregator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/toolgate/toolgate/pkg/gateway"
	"github.com/toolgate/toolgate/pkg/logger"
)

// BroadcastRequest describes one broadcast invocation. Target resolution
// precedence: explicit Servers, then Tags, then every server in scope that
// exposes the tool.
type BroadcastRequest struct {
	Tool    string
	Args    map[string]any
	Servers []string
	Tags    []string
	Scope   Scope
}

// InvokeBroadcast fans one tool call out to the resolved target set. Every
// leg runs concurrently and to completion; a failing sibling never cancels
// the others. The result always satisfies SuccessCount+FailedCount ==
// TotalServers, and ExecutionTimeMs is the wall-clock time of the whole
// fan-out.
func (a *Aggregator) InvokeBroadcast(ctx context.Context, req BroadcastRequest) (*gateway.BroadcastResult, error) {
	targets, err := a.resolveTargets(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: no servers expose tool %q", gateway.ErrToolNotFound, req.Tool)
	}

	a.metrics.RecordBroadcast(len(targets))
	logger.Infof("Broadcasting %q to %d server(s)", req.Tool, len(targets))

	var mu sync.Mutex
	outcomes := make([]gateway.BroadcastOutcome, 0, len(targets))

	start := time.Now()
	var wg sync.WaitGroup
	for _, def := range targets {
		def := def
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome := a.broadcastLeg(ctx, &def, req.Tool, req.Args, req.Scope)
			mu.Lock()
			outcomes = append(outcomes, outcome)
			mu.Unlock()
		}()
	}
	wg.Wait()

	result := &gateway.BroadcastResult{
		ToolName:        req.Tool,
		TotalServers:    len(targets),
		ExecutionTimeMs: time.Since(start).Milliseconds(),
		ResultsByServer: make(map[string]any),
		ErrorsByServer:  make(map[string]string),
	}
	for _, o := range outcomes {
		if o.Success {
			result.SuccessCount++
			result.ResultsByServer[o.ServerName] = o.Payload
		} else {
			result.FailedCount++
			result.ErrorsByServer[o.ServerName] = o.Error
		}
	}
	return result, nil
}

// broadcastLeg runs one server's share of a broadcast and never fails the
// fan-out; errors become a failed outcome. The tool must pass the server's
// visibility chain, so explicit or tag targeting cannot reach a denied tool.
func (a *Aggregator) broadcastLeg(ctx context.Context, def *gateway.ServerDefinition, tool string, args map[string]any, scope Scope) gateway.BroadcastOutcome {
	start := time.Now()
	live, err := a.backend.ListTools(ctx, def)
	if err == nil && !containsTool(a.visibleTools(ctx, def, scope, live), tool) {
		err = fmt.Errorf("%w: %s on server %q", gateway.ErrToolNotFound, tool, def.Name)
	}
	if err != nil {
		a.metrics.RecordInvocation(def.Name, err)
		logger.Warnf("Broadcast leg %q failed for %q: %v", def.Name, tool, err)
		return gateway.BroadcastOutcome{
			ServerName: def.Name,
			Error:      err.Error(),
			LatencyMs:  time.Since(start).Milliseconds(),
		}
	}
	result, err := a.backend.CallTool(ctx, def, tool, args)
	latency := time.Since(start)

	a.metrics.RecordUpstreamLatency(def.Name, latency.Seconds())
	a.metrics.RecordInvocation(def.Name, err)

	if err != nil {
		logger.Warnf("Broadcast leg %q failed for %q: %v", def.Name, tool, err)
		return gateway.BroadcastOutcome{
			ServerName: def.Name,
			Error:      err.Error(),
			LatencyMs:  latency.Milliseconds(),
		}
	}
	if result.IsError {
		return gateway.BroadcastOutcome{
			ServerName: def.Name,
			Error:      firstText(result.Content),
			LatencyMs:  latency.Milliseconds(),
		}
	}
	return gateway.BroadcastOutcome{
		ServerName: def.Name,
		Success:    true,
		Payload:    broadcastPayload(result),
		LatencyMs:  latency.Milliseconds(),
	}
}

// InvokeBroadcastByTag fans a call out to every server in scope whose
// sanitized tags include sanitizedTag. Virtual by-tag tool names carry the
// sanitized form, so matching happens on it rather than the raw tag.
func (a *Aggregator) InvokeBroadcastByTag(ctx context.Context, sanitizedTag, tool string, args map[string]any, scope Scope) (*gateway.BroadcastResult, error) {
	targets := MatchTagged(scope.servers(a.registry), sanitizedTag)
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: no servers tagged %q", gateway.ErrServerNotFound, sanitizedTag)
	}
	return a.InvokeBroadcast(ctx, BroadcastRequest{
		Tool:    tool,
		Args:    args,
		Servers: targets,
		Scope:   scope,
	})
}

// resolveTargets applies the precedence rules and the scope's visibility
// chain. An explicitly named server must exist and be enabled; tag and
// tool-name resolution silently skips servers that do not qualify.
func (a *Aggregator) resolveTargets(ctx context.Context, req BroadcastRequest) ([]gateway.ServerDefinition, error) {
	inScope := req.Scope.servers(a.registry)

	if len(req.Servers) > 0 {
		byName := make(map[string]gateway.ServerDefinition, len(inScope))
		for _, def := range inScope {
			byName[def.Name] = def
		}
		targets := make([]gateway.ServerDefinition, 0, len(req.Servers))
		for _, name := range req.Servers {
			def, ok := byName[name]
			if !ok {
				return nil, fmt.Errorf("%w: %s", gateway.ErrServerNotFound, name)
			}
			targets = append(targets, def)
		}
		return targets, nil
	}

	if len(req.Tags) > 0 {
		var targets []gateway.ServerDefinition
		for _, def := range inScope {
			for _, tag := range req.Tags {
				if def.HasTag(tag) {
					targets = append(targets, def)
					break
				}
			}
		}
		return targets, nil
	}

	toolsByServer := a.collectTools(ctx, req.Scope, inScope)
	var targets []gateway.ServerDefinition
	for _, def := range inScope {
		if containsTool(toolsByServer[def.Name], req.Tool) {
			targets = append(targets, def)
		}
	}
	return targets, nil
}

// broadcastPayload flattens a tool call result into the per-server payload.
func broadcastPayload(result *gateway.ToolCallResult) any {
	if len(result.StructuredContent) > 0 {
		return result.StructuredContent
	}
	return result.Content
}

func firstText(content []gateway.Content) string {
	for _, c := range content {
		if c.Type == "text" && c.Text != "" {
			return c.Text
		}
	}
	return "tool reported an error"
}
