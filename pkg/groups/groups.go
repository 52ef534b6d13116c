// Package groups provides functionality for managing named groupings of MCP
// servers. A group presents a curated subset of servers, each optionally
// restricted to a per-server tool allowlist, as its own aggregated MCP
// endpoint.
package groups

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/toolgate/toolgate/pkg/gateway"
	"github.com/toolgate/toolgate/pkg/state"
)

// Group is a named, ordered subset of backend servers.
type Group struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// ServerNames is the ordered list of member servers. A member missing
	// from the registry at query time degrades to skip, not failure.
	ServerNames []string `json:"server_names"`
	// ToolConfig maps a member server name to its tool allowlist within this
	// group. Empty or absent means unrestricted; ["*"] is an explicit all.
	ToolConfig map[string][]string `json:"tool_config,omitempty"`
}

// AllowlistFor returns the group's tool allowlist for the given server.
// A nil return means no group-level restriction.
func (g *Group) AllowlistFor(serverName string) []string {
	if g == nil || g.ToolConfig == nil {
		return nil
	}
	return g.ToolConfig[serverName]
}

// HasServer reports whether the group contains the named server.
func (g *Group) HasServer(serverName string) bool {
	for _, name := range g.ServerNames {
		if name == serverName {
			return true
		}
	}
	return false
}

// Manager defines the interface for managing groups of MCP servers.
type Manager interface {
	// Create creates a new group. Returns an error if a group with the same
	// name already exists.
	Create(ctx context.Context, group *Group) error

	// Get retrieves a group by name.
	Get(ctx context.Context, name string) (*Group, error)

	// List returns all groups.
	List(ctx context.Context) ([]*Group, error)

	// Update replaces an existing group's definition.
	Update(ctx context.Context, group *Group) error

	// Delete removes a group by name.
	Delete(ctx context.Context, name string) error

	// Exists checks if a group with the specified name exists.
	Exists(ctx context.Context, name string) (bool, error)
}

// manager implements the Manager interface over the persistent store.
type manager struct {
	store state.Store
}

// NewManager creates a new group manager backed by the given store.
func NewManager(store state.Store) Manager {
	return &manager{store: store}
}

func (m *manager) Create(ctx context.Context, group *Group) error {
	if group.Name == "" {
		return fmt.Errorf("group name cannot be empty")
	}

	exists, err := m.Exists(ctx, group.Name)
	if err != nil {
		return fmt.Errorf("failed to check if group exists: %w", err)
	}
	if exists {
		return fmt.Errorf("group %q already exists", group.Name)
	}

	if group.ID == "" {
		group.ID = uuid.NewString()
	}
	return m.save(ctx, group)
}

func (m *manager) Get(ctx context.Context, name string) (*Group, error) {
	data, err := m.store.Get(ctx, state.KindGroups, name)
	if errors.Is(err, state.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", gateway.ErrGroupNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group %q: %w", name, err)
	}

	var group Group
	if err := json.Unmarshal(data, &group); err != nil {
		return nil, fmt.Errorf("failed to decode group %q: %w", name, err)
	}
	return &group, nil
}

func (m *manager) List(ctx context.Context) ([]*Group, error) {
	names, err := m.store.List(ctx, state.KindGroups)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}

	groups := make([]*Group, 0, len(names))
	for _, name := range names {
		group, err := m.Get(ctx, name)
		if err != nil {
			return nil, err
		}
		groups = append(groups, group)
	}
	return groups, nil
}

func (m *manager) Update(ctx context.Context, group *Group) error {
	existing, err := m.Get(ctx, group.Name)
	if err != nil {
		return err
	}
	if group.ID == "" {
		group.ID = existing.ID
	}
	return m.save(ctx, group)
}

func (m *manager) Delete(ctx context.Context, name string) error {
	exists, err := m.Exists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", gateway.ErrGroupNotFound, name)
	}
	return m.store.Delete(ctx, state.KindGroups, name)
}

func (m *manager) Exists(ctx context.Context, name string) (bool, error) {
	_, err := m.store.Get(ctx, state.KindGroups, name)
	if errors.Is(err, state.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (m *manager) save(ctx context.Context, group *Group) error {
	data, err := json.Marshal(group)
	if err != nil {
		return fmt.Errorf("failed to encode group %q: %w", group.Name, err)
	}
	return m.store.Put(ctx, state.KindGroups, group.Name, data)
}
