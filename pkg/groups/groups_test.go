package groups

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolgate/toolgate/pkg/gateway"
	"github.com/toolgate/toolgate/pkg/state"
)

func newTestManager(t *testing.T) Manager {
	t.Helper()
	store, err := state.NewSQLiteStore(filepath.Join(t.TempDir(), "groups.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewManager(store)
}

func TestManager_CreateAndGet(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	ctx := context.Background()

	group := &Group{
		Name:        "observability",
		ServerNames: []string{"loki", "grafana"},
		ToolConfig:  map[string][]string{"loki": {"search_logs"}},
	}
	require.NoError(t, m.Create(ctx, group))
	assert.NotEmpty(t, group.ID, "create should assign an id")

	got, err := m.Get(ctx, "observability")
	require.NoError(t, err)
	assert.Equal(t, group.ID, got.ID)
	assert.Equal(t, []string{"loki", "grafana"}, got.ServerNames)
	assert.Equal(t, []string{"search_logs"}, got.AllowlistFor("loki"))
	assert.Nil(t, got.AllowlistFor("grafana"))
}

func TestManager_CreateDuplicate(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Create(ctx, &Group{Name: "dup"}))
	err := m.Create(ctx, &Group{Name: "dup"})
	assert.ErrorContains(t, err, "already exists")
}

func TestManager_GetMissing(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)

	_, err := m.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, gateway.ErrGroupNotFound)
}

func TestManager_UpdatePreservesID(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	ctx := context.Background()

	group := &Group{Name: "team", ServerNames: []string{"a"}}
	require.NoError(t, m.Create(ctx, group))

	require.NoError(t, m.Update(ctx, &Group{Name: "team", ServerNames: []string{"a", "b"}}))

	got, err := m.Get(ctx, "team")
	require.NoError(t, err)
	assert.Equal(t, group.ID, got.ID)
	assert.Equal(t, []string{"a", "b"}, got.ServerNames)
}

func TestManager_Delete(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Create(ctx, &Group{Name: "gone"}))
	require.NoError(t, m.Delete(ctx, "gone"))

	exists, err := m.Exists(ctx, "gone")
	require.NoError(t, err)
	assert.False(t, exists)

	assert.ErrorIs(t, m.Delete(ctx, "gone"), gateway.ErrGroupNotFound)
}

func TestGroup_HasServer(t *testing.T) {
	t.Parallel()
	g := &Group{ServerNames: []string{"a", "b"}}
	assert.True(t, g.HasServer("a"))
	assert.False(t, g.HasServer("c"))
}
