// Package v1 contains the REST handlers for the gateway.
package v1

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/toolgate/toolgate/pkg/auth"
	"github.com/toolgate/toolgate/pkg/gateway"
	"github.com/toolgate/toolgate/pkg/gateway/aggregator"
	"github.com/toolgate/toolgate/pkg/logger"
)

// McpRoutes defines the single-server and broadcast invocation routes.
type McpRoutes struct {
	agg *aggregator.Aggregator
}

// McpRouter creates the /mcp subtree: the aggregated JSON-RPC endpoint at
// its root, the REST invocation routes, and the server registry routes.
func McpRouter(agg *aggregator.Aggregator, jsonrpc http.HandlerFunc, servers http.Handler) http.Handler {
	routes := McpRoutes{agg: agg}

	r := chi.NewRouter()
	r.Post("/", jsonrpc)
	r.Get("/list-tools", routes.listTools)
	r.Post("/invoke", routes.invoke)
	r.Post("/invoke-broadcast", routes.invokeBroadcast)
	r.Mount("/servers", servers)
	// Singular /server/{name}/info predates the /servers prefix and is kept
	// for compatibility with existing consumers.
	r.Get("/server/{name}/info", func(w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, "/mcp/servers/"+chi.URLParam(req, "name")+"/info", http.StatusPermanentRedirect)
	})

	return r
}

type listToolsResponse struct {
	Server string                   `json:"server"`
	Tools  []gateway.ToolDescriptor `json:"tools"`
}

type invokeRequest struct {
	ToolName   string         `json:"tool_name"`
	Parameters map[string]any `json:"parameters"`
}

type broadcastRequest struct {
	ToolName   string         `json:"tool_name"`
	Parameters map[string]any `json:"parameters"`
	McpServers []string       `json:"mcp_servers,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
}

func (s *McpRoutes) listTools(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	serverName := r.URL.Query().Get("mcp_server")
	if serverName == "" {
		http.Error(w, "mcp_server query parameter is required", http.StatusBadRequest)
		return
	}

	scope := aggregator.Scope{Caller: auth.CallerFromContext(ctx)}
	tools, err := s.agg.ListTools(ctx, serverName, scope)
	if err != nil {
		writeDomainError(w, err, "Failed to list tools")
		return
	}
	writeJSON(w, http.StatusOK, listToolsResponse{Server: serverName, Tools: tools})
}

func (s *McpRoutes) invoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	serverName := r.URL.Query().Get("mcp_server")
	if serverName == "" {
		http.Error(w, "mcp_server query parameter is required", http.StatusBadRequest)
		return
	}

	var req invokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ToolName == "" {
		http.Error(w, "tool_name is required", http.StatusBadRequest)
		return
	}

	scope := aggregator.Scope{Caller: auth.CallerFromContext(ctx)}
	result, err := s.agg.Invoke(ctx, serverName, req.ToolName, req.Parameters, scope)
	if err != nil {
		writeDomainError(w, err, "Failed to invoke tool")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *McpRoutes) invokeBroadcast(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ToolName == "" {
		http.Error(w, "tool_name is required", http.StatusBadRequest)
		return
	}

	result, err := s.agg.InvokeBroadcast(ctx, aggregator.BroadcastRequest{
		Tool:    req.ToolName,
		Args:    req.Parameters,
		Servers: req.McpServers,
		Tags:    req.Tags,
		Scope:   aggregator.Scope{Caller: auth.CallerFromContext(ctx)},
	})
	if err != nil {
		writeDomainError(w, err, "Failed to broadcast tool")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorf("Failed to encode response: %v", err)
	}
}

// writeDomainError maps the domain sentinels onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, gateway.ErrServerNotFound),
		errors.Is(err, gateway.ErrToolNotFound),
		errors.Is(err, gateway.ErrGroupNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, gateway.ErrInvalidServerConfig):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, gateway.ErrUpstreamTimeout):
		http.Error(w, err.Error(), http.StatusGatewayTimeout)
	case errors.Is(err, gateway.ErrUpstreamUnreachable),
		errors.Is(err, gateway.ErrBridgeUnavailable):
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		logger.Errorf("%s: %v", fallback, err)
		http.Error(w, fallback, http.StatusInternalServerError)
	}
}
