package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/toolgate/toolgate/pkg/logger"
	"github.com/toolgate/toolgate/pkg/state"
)

// DeleteHook is invoked after a server definition is removed from the
// registry. The bridge manager registers one to tear down any running
// stdio bridge for the deleted server.
type DeleteHook func(ctx context.Context, name string)

// Registry is the in-memory, reloadable cache of server definitions, backed
// by the persistent store. It is safe for concurrent use; mutations are
// write-through.
type Registry struct {
	mu      sync.RWMutex
	store   state.Store
	servers map[string]*ServerDefinition

	hookMu      sync.Mutex
	deleteHooks []DeleteHook
}

// NewRegistry creates a registry and loads all persisted definitions.
func NewRegistry(ctx context.Context, store state.Store) (*Registry, error) {
	r := &Registry{
		store:   store,
		servers: make(map[string]*ServerDefinition),
	}
	if err := r.Reload(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload replaces the cache with the store contents. Records that fail to
// decode are logged and skipped rather than failing the whole load.
func (r *Registry) Reload(ctx context.Context) error {
	records, err := r.store.LoadAll(ctx, state.KindServers)
	if err != nil {
		return fmt.Errorf("failed to load server definitions: %w", err)
	}

	servers := make(map[string]*ServerDefinition, len(records))
	for name, data := range records {
		var def ServerDefinition
		if err := json.Unmarshal(data, &def); err != nil {
			logger.Warnf("Skipping undecodable server definition %q: %v", name, err)
			continue
		}
		servers[name] = &def
	}

	r.mu.Lock()
	r.servers = servers
	r.mu.Unlock()

	logger.Infof("Loaded %d server definition(s)", len(servers))
	return nil
}

// Get returns a copy of the named definition.
func (r *Registry) Get(name string) (*ServerDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.servers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServerNotFound, name)
	}
	cp := *def
	return &cp, nil
}

// List returns all definitions sorted by name.
func (r *Registry) List() []ServerDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ServerDefinition, 0, len(r.servers))
	for _, def := range r.servers {
		out = append(out, *def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ListEnabled returns all enabled definitions sorted by name.
func (r *Registry) ListEnabled() []ServerDefinition {
	all := r.List()
	enabled := all[:0]
	for _, def := range all {
		if def.Enabled {
			enabled = append(enabled, def)
		}
	}
	return enabled
}

// ListByTag returns all enabled definitions carrying the given tag.
func (r *Registry) ListByTag(tag string) []ServerDefinition {
	var out []ServerDefinition
	for _, def := range r.ListEnabled() {
		if def.HasTag(tag) {
			out = append(out, def)
		}
	}
	return out
}

// Upsert validates and persists a definition, then updates the cache.
func (r *Registry) Upsert(ctx context.Context, def *ServerDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("failed to encode server definition %q: %w", def.Name, err)
	}
	if err := r.store.Put(ctx, state.KindServers, def.Name, data); err != nil {
		return err
	}

	cp := *def
	r.mu.Lock()
	r.servers[def.Name] = &cp
	r.mu.Unlock()
	return nil
}

// Remove deletes a definition from the store and cache, then runs the
// registered delete hooks (bridge teardown, policy cleanup). The store
// delete happens first: a failed delete must leave the definition live, not
// hidden until the next reload.
func (r *Registry) Remove(ctx context.Context, name string) error {
	r.mu.RLock()
	_, existed := r.servers[name]
	r.mu.RUnlock()
	if !existed {
		return fmt.Errorf("%w: %s", ErrServerNotFound, name)
	}

	if err := r.store.Delete(ctx, state.KindServers, name); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.servers, name)
	r.mu.Unlock()

	r.hookMu.Lock()
	hooks := make([]DeleteHook, len(r.deleteHooks))
	copy(hooks, r.deleteHooks)
	r.hookMu.Unlock()

	for _, hook := range hooks {
		hook(ctx, name)
	}
	return nil
}

// OnDelete registers a hook invoked after server removal.
func (r *Registry) OnDelete(hook DeleteHook) {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	r.deleteHooks = append(r.deleteHooks, hook)
}
