package bridge

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBridgeScript is a stand-in bridge binary that accepts the wrapper's
// arguments and stays alive until killed.
func fakeBridgeScript(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bridge.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nsleep 30\n"), 0o755))
	return path
}

func TestExecLauncher_ProcessSurvivesSpawningContext(t *testing.T) {
	t.Parallel()

	l := NewExecLauncher(fakeBridgeScript(t))
	ctx, cancel := context.WithCancel(context.Background())

	h, err := l.Spawn(ctx, "uvx", []string{"mcp-server-git"}, nil, 9105)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Terminate() })

	// The convert request's context ends as soon as its response is written;
	// the bridge has to keep serving the stored URL afterwards.
	cancel()
	time.Sleep(200 * time.Millisecond)

	assert.NoError(t, syscall.Kill(h.Pid(), 0), "bridge died with the spawning context")
}

func TestExecLauncher_TerminateReapsProcess(t *testing.T) {
	t.Parallel()

	l := NewExecLauncher(fakeBridgeScript(t))
	h, err := l.Spawn(context.Background(), "uvx", nil, nil, 9106)
	require.NoError(t, err)

	pid := h.Pid()
	require.NoError(t, h.Terminate())
	assert.Error(t, syscall.Kill(pid, 0), "process still exists after Terminate")
}
