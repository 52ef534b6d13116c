package v1

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/toolgate/toolgate/pkg/auth"
	"github.com/toolgate/toolgate/pkg/gateway"
	"github.com/toolgate/toolgate/pkg/gateway/aggregator"
	"github.com/toolgate/toolgate/pkg/gateway/bridge"
	"github.com/toolgate/toolgate/pkg/gateway/policy"
	"github.com/toolgate/toolgate/pkg/logger"
)

// ServersRoutes defines the server registry and conversion routes.
type ServersRoutes struct {
	registry *gateway.Registry
	agg      *aggregator.Aggregator
	bridge   *bridge.Manager
	policy   *policy.Filter
}

// ServersRouter creates a new ServersRoutes instance. policyFilter may be nil
// when no policy engine is configured.
func ServersRouter(
	registry *gateway.Registry,
	agg *aggregator.Aggregator,
	bridgeManager *bridge.Manager,
	policyFilter *policy.Filter,
) http.Handler {
	routes := ServersRoutes{
		registry: registry,
		agg:      agg,
		bridge:   bridgeManager,
		policy:   policyFilter,
	}

	r := chi.NewRouter()
	r.Get("/", routes.listServers)
	r.Post("/", routes.upsertServer)
	r.Delete("/{name}", routes.deleteServer)
	r.Get("/{name}/info", routes.serverInfo)
	r.Get("/{name}/policy-allowed-tools", routes.policyAllowedTools)
	r.Post("/{name}/convert", routes.convertServer)
	r.Post("/{name}/convert/stop", routes.stopConversion)

	return r
}

type serverListResponse struct {
	Servers []gateway.ServerDefinition `json:"servers"`
}

type serverInfoResponse struct {
	Server gateway.ServerDefinition `json:"server"`
	Tools  []gateway.ToolDescriptor `json:"tools"`
}

type allowedToolsResponse struct {
	Server       string   `json:"server"`
	AllowedTools []string `json:"allowed_tools"`
}

func (s *ServersRoutes) listServers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, serverListResponse{Servers: s.registry.List()})
}

func (s *ServersRoutes) upsertServer(w http.ResponseWriter, r *http.Request) {
	var def gateway.ServerDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	_, existsErr := s.registry.Get(def.Name)
	if err := s.registry.Upsert(r.Context(), &def); err != nil {
		writeDomainError(w, err, "Failed to save server")
		return
	}

	status := http.StatusOK
	if existsErr != nil {
		status = http.StatusCreated
	}
	writeJSON(w, status, def)
}

func (s *ServersRoutes) deleteServer(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.registry.Remove(r.Context(), name); err != nil {
		writeDomainError(w, err, "Failed to delete server")
		return
	}
	logger.Infof("Deleted server %q", name)
	w.WriteHeader(http.StatusNoContent)
}

func (s *ServersRoutes) serverInfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "name")

	def, err := s.registry.Get(name)
	if err != nil {
		writeDomainError(w, err, "Failed to load server")
		return
	}

	scope := aggregator.Scope{Caller: auth.CallerFromContext(ctx)}
	tools, err := s.agg.ListTools(ctx, name, scope)
	if err != nil {
		logger.Warnf("Failed to list tools for %q info: %v", name, err)
		tools = nil
	}
	writeJSON(w, http.StatusOK, serverInfoResponse{Server: *def, Tools: tools})
}

func (s *ServersRoutes) policyAllowedTools(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "name")

	def, err := s.registry.Get(name)
	if err != nil {
		writeDomainError(w, err, "Failed to load server")
		return
	}

	caller := auth.CallerFromContext(ctx)
	var allowed []string
	if s.policy != nil {
		allowed = s.policy.PolicyAllowedTools(ctx, def, caller)
	} else {
		tools, err := s.agg.ListTools(ctx, name, aggregator.Scope{Caller: caller})
		if err != nil {
			writeDomainError(w, err, "Failed to list tools")
			return
		}
		for _, tool := range tools {
			allowed = append(allowed, tool.Name)
		}
	}
	if allowed == nil {
		allowed = []string{}
	}
	writeJSON(w, http.StatusOK, allowedToolsResponse{Server: name, AllowedTools: allowed})
}

func (s *ServersRoutes) convertServer(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	def, err := s.bridge.Convert(r.Context(), name)
	if err != nil {
		writeDomainError(w, err, "Failed to convert server")
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (s *ServersRoutes) stopConversion(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	def, err := s.bridge.Revert(r.Context(), name)
	if err != nil {
		writeDomainError(w, err, "Failed to stop conversion")
		return
	}
	writeJSON(w, http.StatusOK, def)
}
