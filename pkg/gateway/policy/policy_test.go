package policy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolgate/toolgate/pkg/gateway"
)

type listOnlyBackend struct {
	gateway.BackendClient
	tools []gateway.ToolDescriptor
	err   error
}

func (b *listOnlyBackend) ListTools(_ context.Context, _ *gateway.ServerDefinition) ([]gateway.ToolDescriptor, error) {
	return b.tools, b.err
}

func descriptors(names ...string) []gateway.ToolDescriptor {
	out := make([]gateway.ToolDescriptor, 0, len(names))
	for _, n := range names {
		out = append(out, gateway.ToolDescriptor{Name: n})
	}
	return out
}

func toolNames(tools []gateway.ToolDescriptor) []string {
	out := make([]string, 0, len(tools))
	for _, t := range tools {
		out = append(out, t.Name)
	}
	return out
}

// newEngine serves the given policies for every server.
func newEngine(t *testing.T, policies ...enginePolicy) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("active"))
		assert.Equal(t, "true", r.URL.Query().Get("include_global"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"policies": policies,
			"count":    len(policies),
		})
	}))
	t.Cleanup(ts.Close)
	return ts
}

func allowPolicy(name string, resources ...resourceBinding) enginePolicy {
	return enginePolicy{
		ID:          name,
		Name:        name,
		Status:      "active",
		PolicyRules: []policyRule{{Actions: []ruleAction{{Type: "allow"}}}},
		Resources:   resources,
	}
}

func serverDef(name string) *gateway.ServerDefinition {
	return &gateway.ServerDefinition{Name: name, TransportType: gateway.TransportHTTP, URL: "http://x/mcp", Enabled: true}
}

func TestFilterTools_ToolBindingsRestrict(t *testing.T) {
	t.Parallel()

	engine := newEngine(t, allowPolicy("readers",
		resourceBinding{ResourceType: "tool", ResourceID: "loki:search_logs"},
		resourceBinding{ResourceType: "tool", ResourceID: "loki:tail_logs"},
		resourceBinding{ResourceType: "tool", ResourceID: "grafana:render"},
	))
	f := New(engine.URL, &listOnlyBackend{})

	live := descriptors("search_logs", "tail_logs", "delete_logs")
	got := f.FilterTools(context.Background(), serverDef("loki"), "alice", live)
	assert.Equal(t, []string{"search_logs", "tail_logs"}, toolNames(got),
		"only bindings whose server segment matches count")
}

func TestFilterTools_NoToolBindingsMeansUnrestricted(t *testing.T) {
	t.Parallel()

	engine := newEngine(t, allowPolicy("server-wide",
		resourceBinding{ResourceType: "mcp_server", ResourceID: "loki"},
	))
	f := New(engine.URL, &listOnlyBackend{})

	live := descriptors("search_logs", "delete_logs")
	got := f.FilterTools(context.Background(), serverDef("loki"), "alice", live)
	assert.Equal(t, live, got)
}

func TestFilterTools_IgnoresInactiveAndNonAllow(t *testing.T) {
	t.Parallel()

	inactive := allowPolicy("old", resourceBinding{ResourceType: "tool", ResourceID: "loki:search_logs"})
	inactive.Status = "disabled"

	deny := enginePolicy{
		ID: "deny", Name: "deny", Status: "active",
		PolicyRules: []policyRule{{Actions: []ruleAction{{Type: "deny"}}}},
		Resources:   []resourceBinding{{ResourceType: "tool", ResourceID: "loki:tail_logs"}},
	}

	engine := newEngine(t, inactive, deny)
	f := New(engine.URL, &listOnlyBackend{})

	live := descriptors("search_logs", "tail_logs")
	got := f.FilterTools(context.Background(), serverDef("loki"), "alice", live)
	assert.Equal(t, live, got, "bindings of skipped policies trigger no restriction")
}

func TestFilterTools_FailClosed(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(ts.Close)

	f := New(ts.URL, &listOnlyBackend{})
	got := f.FilterTools(context.Background(), serverDef("loki"), "alice", descriptors("search_logs"))
	assert.Empty(t, got, "engine failure must yield the empty set, not the live set")
}

func TestFilterTools_Idempotent(t *testing.T) {
	t.Parallel()

	engine := newEngine(t, allowPolicy("readers",
		resourceBinding{ResourceType: "tool", ResourceID: "loki:search_logs"},
	))
	f := New(engine.URL, &listOnlyBackend{})

	live := descriptors("search_logs", "delete_logs")
	first := f.FilterTools(context.Background(), serverDef("loki"), "alice", live)
	second := f.FilterTools(context.Background(), serverDef("loki"), "alice", live)
	assert.Equal(t, first, second)
}

func TestPolicyAllowedTools(t *testing.T) {
	t.Parallel()

	engine := newEngine(t, allowPolicy("readers",
		resourceBinding{ResourceType: "tool", ResourceID: "loki:search_logs"},
	))

	t.Run("filters live list", func(t *testing.T) {
		t.Parallel()
		f := New(engine.URL, &listOnlyBackend{tools: descriptors("search_logs", "delete_logs")})
		assert.Equal(t, []string{"search_logs"}, f.PolicyAllowedTools(context.Background(), serverDef("loki"), "alice"))
	})

	t.Run("fails closed when backend unreachable", func(t *testing.T) {
		t.Parallel()
		f := New(engine.URL, &listOnlyBackend{err: gateway.ErrUpstreamUnreachable})
		assert.Empty(t, f.PolicyAllowedTools(context.Background(), serverDef("loki"), "alice"))
	})
}

func TestFetchPolicies_BadJSON(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	t.Cleanup(ts.Close)

	f := New(ts.URL, &listOnlyBackend{})
	_, err := f.fetchPolicies(context.Background(), "loki")
	require.Error(t, err)
}
