package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolgate/toolgate/pkg/gateway"
	"github.com/toolgate/toolgate/pkg/gateway/aggregator"
	"github.com/toolgate/toolgate/pkg/gateway/bridge"
	"github.com/toolgate/toolgate/pkg/groups"
	"github.com/toolgate/toolgate/pkg/state"
	"github.com/toolgate/toolgate/pkg/telemetry"
)

type fakeBackend struct {
	tools map[string][]gateway.ToolDescriptor
}

func (f *fakeBackend) ListTools(_ context.Context, server *gateway.ServerDefinition) ([]gateway.ToolDescriptor, error) {
	return f.tools[server.Name], nil
}

func (f *fakeBackend) CallTool(_ context.Context, server *gateway.ServerDefinition, tool string, _ map[string]any) (*gateway.ToolCallResult, error) {
	return &gateway.ToolCallResult{
		Content: []gateway.Content{{Type: "text", Text: fmt.Sprintf("%s:%s", server.Name, tool)}},
	}, nil
}

func (f *fakeBackend) ListResources(_ context.Context, _ *gateway.ServerDefinition) ([]gateway.ResourceDescriptor, error) {
	return nil, nil
}

func (f *fakeBackend) ReadResource(_ context.Context, _ *gateway.ServerDefinition, _ string) (*gateway.ResourceReadResult, error) {
	return nil, fmt.Errorf("no resources")
}

func (f *fakeBackend) ListPrompts(_ context.Context, _ *gateway.ServerDefinition) ([]gateway.PromptDescriptor, error) {
	return nil, nil
}

func (f *fakeBackend) GetPrompt(_ context.Context, _ *gateway.ServerDefinition, _ string, _ map[string]any) (*gateway.PromptGetResult, error) {
	return nil, fmt.Errorf("no prompts")
}

// fakeBridgingService answers the remote bridging contract for convert tests.
func fakeBridgingService(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /convert", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ServerName string `json:"serverName"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"serverName": req.ServerName,
			"url":        "http://bridge.internal:9100/mcp",
			"port":       9100,
			"status":     "running",
		})
	})
	mux.HandleFunc("DELETE /convert/{name}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func newTestServer(t *testing.T) http.Handler {
	t.Helper()

	store, err := state.NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg, err := gateway.NewRegistry(context.Background(), store)
	require.NoError(t, err)

	defs := []gateway.ServerDefinition{
		{Name: "alpha", TransportType: gateway.TransportHTTP, URL: "http://alpha/mcp", Enabled: true},
		{Name: "beta", TransportType: gateway.TransportHTTP, URL: "http://beta/mcp", Enabled: true},
		{Name: "legacy", TransportType: gateway.TransportStdio, Command: "uvx", Args: []string{"mcp-server-git"}, Enabled: true},
	}
	for i := range defs {
		require.NoError(t, reg.Upsert(context.Background(), &defs[i]))
	}

	backend := &fakeBackend{tools: map[string][]gateway.ToolDescriptor{
		"alpha": {{Name: "ping", ServerName: "alpha"}},
		"beta":  {{Name: "ping", ServerName: "beta"}},
	}}

	metrics := telemetry.New()
	agg := aggregator.New(reg, backend, nil, metrics)
	bridgeManager := bridge.NewManager(bridge.Config{
		Mode:       bridge.ModeRemote,
		ServiceURL: fakeBridgingService(t).URL,
	}, reg)

	return NewRouter(Deps{
		Registry:   reg,
		Aggregator: agg,
		Groups:     groups.NewManager(store),
		Bridge:     bridgeManager,
		Metrics:    metrics,
	})
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(method, path, &buf))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	t.Parallel()
	handler := newTestServer(t)

	rec := doJSON(t, handler, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	handler := newTestServer(t)

	rec := doJSON(t, handler, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServersCRUD(t *testing.T) {
	t.Parallel()
	handler := newTestServer(t)

	rec := doJSON(t, handler, http.MethodGet, "/mcp/servers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["servers"], 3)

	newDef := map[string]any{
		"name": "gamma", "transport_type": "http", "url": "http://gamma/mcp", "enabled": true,
	}
	rec = doJSON(t, handler, http.MethodPost, "/mcp/servers", newDef)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/mcp/servers", newDef)
	assert.Equal(t, http.StatusOK, rec.Code, "upsert of an existing server is an update")

	rec = doJSON(t, handler, http.MethodPost, "/mcp/servers", map[string]any{
		"name": "bad", "transport_type": "http",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "http server without url is rejected")

	rec = doJSON(t, handler, http.MethodDelete, "/mcp/servers/gamma", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, handler, http.MethodDelete, "/mcp/servers/gamma", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListToolsEndpoint(t *testing.T) {
	t.Parallel()
	handler := newTestServer(t)

	rec := doJSON(t, handler, http.MethodGet, "/mcp/list-tools?mcp_server=alpha", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "alpha", body["server"])
	assert.Len(t, body["tools"], 1)

	rec = doJSON(t, handler, http.MethodGet, "/mcp/list-tools", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/mcp/list-tools?mcp_server=ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInvokeEndpoint(t *testing.T) {
	t.Parallel()
	handler := newTestServer(t)

	rec := doJSON(t, handler, http.MethodPost, "/mcp/invoke?mcp_server=alpha", map[string]any{
		"tool_name": "ping",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	content := body["content"].([]any)[0].(map[string]any)
	assert.Equal(t, "alpha:ping", content["text"])

	rec = doJSON(t, handler, http.MethodPost, "/mcp/invoke?mcp_server=alpha", map[string]any{
		"tool_name": "missing",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInvokeBroadcastEndpoint(t *testing.T) {
	t.Parallel()
	handler := newTestServer(t)

	rec := doJSON(t, handler, http.MethodPost, "/mcp/invoke-broadcast", map[string]any{
		"tool_name": "ping",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(2), body["total_servers"])
	assert.Equal(t, float64(2), body["successful"])
	assert.Equal(t, float64(0), body["failed"])
}

func TestConvertEndpoints(t *testing.T) {
	t.Parallel()
	handler := newTestServer(t)

	rec := doJSON(t, handler, http.MethodPost, "/mcp/servers/legacy/convert", nil)
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "http", body["transport_type"])
	assert.Equal(t, "http://bridge.internal:9100/mcp", body["url"])

	rec = doJSON(t, handler, http.MethodPost, "/mcp/servers/alpha/convert", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "plain http server cannot be converted")

	rec = doJSON(t, handler, http.MethodPost, "/mcp/servers/legacy/convert/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, "stdio", body["transport_type"])
	assert.Equal(t, "uvx", body["command"])
}

func TestJSONRPCThroughFullStack(t *testing.T) {
	t.Parallel()
	handler := newTestServer(t)

	rec := doJSON(t, handler, http.MethodPost, "/mcp", map[string]any{
		"jsonrpc": "2.0", "id": 1, "method": "tools/list",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	require.NotNil(t, body["result"], "body: %s", rec.Body.String())
}

func TestGroupsREST(t *testing.T) {
	t.Parallel()
	handler := newTestServer(t)

	group := map[string]any{"name": "team", "server_names": []string{"alpha"}}
	rec := doJSON(t, handler, http.MethodPost, "/groups", group)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/groups", group)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/groups/team", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "team", decode(t, rec)["name"])

	rec = doJSON(t, handler, http.MethodPut, "/groups/team", map[string]any{
		"server_names": []string{"alpha", "beta"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/groups", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["groups"], 1)

	rec = doJSON(t, handler, http.MethodPost, "/groups/team/mcp", map[string]any{
		"jsonrpc": "2.0", "id": 1, "method": "tools/list",
	})
	assert.Equal(t, http.StatusOK, rec.Code, "group MCP endpoint is wired")

	rec = doJSON(t, handler, http.MethodDelete, "/groups/team", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, handler, http.MethodDelete, "/groups/team", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPolicyAllowedToolsWithoutEngine(t *testing.T) {
	t.Parallel()
	handler := newTestServer(t)

	rec := doJSON(t, handler, http.MethodGet, "/mcp/servers/alpha/policy-allowed-tools", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, []any{"ping"}, body["allowed_tools"])
}

func TestServerInfo(t *testing.T) {
	t.Parallel()
	handler := newTestServer(t)

	rec := doJSON(t, handler, http.MethodGet, "/mcp/servers/alpha/info", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Len(t, body["tools"], 1)

	rec = doJSON(t, handler, http.MethodGet, "/mcp/server/alpha/info", nil)
	assert.Equal(t, http.StatusPermanentRedirect, rec.Code)
	assert.Equal(t, "/mcp/servers/alpha/info", rec.Header().Get("Location"))
}
