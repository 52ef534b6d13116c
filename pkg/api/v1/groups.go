package v1

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/toolgate/toolgate/pkg/gateway"
	"github.com/toolgate/toolgate/pkg/groups"
	"github.com/toolgate/toolgate/pkg/logger"
)

// GroupsRoutes defines the routes for group management.
type GroupsRoutes struct {
	groupManager groups.Manager
}

// GroupsRouter creates a new GroupsRoutes instance. jsonrpc serves the
// per-group MCP endpoint.
func GroupsRouter(groupManager groups.Manager, jsonrpc http.HandlerFunc) http.Handler {
	routes := GroupsRoutes{groupManager: groupManager}

	r := chi.NewRouter()
	r.Get("/", routes.listGroups)
	r.Post("/", routes.createGroup)
	r.Get("/{name}", routes.getGroup)
	r.Put("/{name}", routes.updateGroup)
	r.Delete("/{name}", routes.deleteGroup)
	r.Post("/{name}/mcp", jsonrpc)

	return r
}

type groupListResponse struct {
	Groups []*groups.Group `json:"groups"`
}

func (s *GroupsRoutes) listGroups(w http.ResponseWriter, r *http.Request) {
	groupList, err := s.groupManager.List(r.Context())
	if err != nil {
		logger.Errorf("Failed to list groups: %v", err)
		http.Error(w, "Failed to list groups", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, groupListResponse{Groups: groupList})
}

func (s *GroupsRoutes) createGroup(w http.ResponseWriter, r *http.Request) {
	var group groups.Group
	if err := json.NewDecoder(r.Body).Decode(&group); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.groupManager.Create(r.Context(), &group); err != nil {
		if strings.Contains(err.Error(), "already exists") {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		if group.Name == "" {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		logger.Errorf("Failed to create group: %v", err)
		http.Error(w, "Failed to create group", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, group)
}

func (s *GroupsRoutes) getGroup(w http.ResponseWriter, r *http.Request) {
	group, err := s.groupManager.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeDomainError(w, err, "Failed to get group")
		return
	}
	writeJSON(w, http.StatusOK, group)
}

func (s *GroupsRoutes) updateGroup(w http.ResponseWriter, r *http.Request) {
	var group groups.Group
	if err := json.NewDecoder(r.Body).Decode(&group); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	group.Name = chi.URLParam(r, "name")

	if err := s.groupManager.Update(r.Context(), &group); err != nil {
		writeDomainError(w, err, "Failed to update group")
		return
	}
	writeJSON(w, http.StatusOK, group)
}

func (s *GroupsRoutes) deleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := s.groupManager.Delete(r.Context(), chi.URLParam(r, "name")); err != nil {
		if errors.Is(err, gateway.ErrGroupNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		logger.Errorf("Failed to delete group: %v", err)
		http.Error(w, "Failed to delete group", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
