// Package policy narrows the tool surface of each backend server to what the
// external policy engine allows. The engine is consumed as a black box that
// returns policies with resource bindings; rule evaluation stays on its side.
package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/toolgate/toolgate/pkg/gateway"
	"github.com/toolgate/toolgate/pkg/logger"
)

const (
	// resourceTypeServer is the engine's resource type for a whole backend.
	resourceTypeServer = "mcp_server"
	// resourceTypeTool is the engine's resource type for a single tool,
	// identified as "<server>:<toolName>".
	resourceTypeTool = "tool"

	statusActive   = "active"
	actionAllow    = "allow"
	defaultTimeout = 10 * time.Second
)

// enginePolicy mirrors the engine's wire shape. Fields the filter does not
// consult are omitted.
type enginePolicy struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Status      string            `json:"status"`
	PolicyRules []policyRule      `json:"policy_rules"`
	Resources   []resourceBinding `json:"resources"`
}

type policyRule struct {
	Actions []ruleAction `json:"actions"`
}

type ruleAction struct {
	Type string `json:"type"`
}

type resourceBinding struct {
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
}

func (p *enginePolicy) allows() bool {
	for _, rule := range p.PolicyRules {
		for _, action := range rule.Actions {
			if action.Type == actionAllow {
				return true
			}
		}
	}
	return false
}

// Filter computes policy-allowed tool sets. It fails closed: when the engine
// cannot be reached or answers garbage, the allowed set is empty, never the
// unfiltered one.
type Filter struct {
	engineURL  string
	httpClient *http.Client
	backend    gateway.BackendClient
}

// New creates a filter against the given policy engine base URL.
func New(engineURL string, backend gateway.BackendClient) *Filter {
	return &Filter{
		engineURL:  strings.TrimRight(engineURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		backend:    backend,
	}
}

// FilterTools narrows a live tool set to what policy allows for the caller.
// On any engine failure the result is empty.
func (f *Filter) FilterTools(ctx context.Context, server *gateway.ServerDefinition, caller string, live []gateway.ToolDescriptor) []gateway.ToolDescriptor {
	allowed, restricted, err := f.allowedSet(ctx, server.Name)
	if err != nil {
		logger.Warnf("Policy fetch for %q failed, failing closed for caller %q: %v", server.Name, caller, err)
		return nil
	}
	if !restricted {
		return live
	}

	out := make([]gateway.ToolDescriptor, 0, len(live))
	for _, tool := range live {
		if _, ok := allowed[tool.Name]; ok {
			out = append(out, tool)
		}
	}
	return out
}

// PolicyAllowedTools returns the policy-allowed tool names for a server,
// fetching the live list itself. Used by the REST introspection endpoint.
// Fails closed to an empty list.
func (f *Filter) PolicyAllowedTools(ctx context.Context, server *gateway.ServerDefinition, caller string) []string {
	live, err := f.backend.ListTools(ctx, server)
	if err != nil {
		logger.Warnf("Failed to list live tools on %q, failing closed: %v", server.Name, err)
		return []string{}
	}

	names := make([]string, 0, len(live))
	for _, tool := range f.FilterTools(ctx, server, caller, live) {
		names = append(names, tool.Name)
	}
	return names
}

// allowedSet walks the active allow policies bound to the server (plus
// global ones). restricted is false when no policy carries a tool-type
// binding at all, meaning the server is not tool-restricted.
func (f *Filter) allowedSet(ctx context.Context, serverName string) (map[string]struct{}, bool, error) {
	policies, err := f.fetchPolicies(ctx, serverName)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", gateway.ErrPolicyFetchFailed, err)
	}

	allowed := make(map[string]struct{})
	restricted := false
	for i := range policies {
		p := &policies[i]
		if p.Status != statusActive || !p.allows() {
			continue
		}
		for _, res := range p.Resources {
			switch res.ResourceType {
			case resourceTypeTool:
				restricted = true
				boundServer, tool, ok := strings.Cut(res.ResourceID, ":")
				if !ok || boundServer != serverName {
					continue
				}
				allowed[tool] = struct{}{}
			case resourceTypeServer:
				if res.ResourceID == serverName {
					logger.Debugf("Policy %q is server-level for %q", p.Name, serverName)
				}
			}
		}
	}
	return allowed, restricted, nil
}

// fetchPolicies retrieves the active policies bound to the server and the
// globally-bound ones in one engine call.
func (f *Filter) fetchPolicies(ctx context.Context, serverName string) ([]enginePolicy, error) {
	endpoint := fmt.Sprintf("%s/api/v1/unified/resources/%s/%s/policies?active=true&include_global=true",
		f.engineURL, resourceTypeServer, url.PathEscape(serverName))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("policy engine returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Policies []enginePolicy `json:"policies"`
		Count    int            `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode policy response: %w", err)
	}
	return payload.Policies, nil
}
