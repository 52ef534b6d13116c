package client

import (
	"context"
	"fmt"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolgate/toolgate/pkg/gateway"
	"github.com/toolgate/toolgate/pkg/secrets"
)

// newBackend starts an in-process MCP server exposing an echo tool and
// returns a matching server definition.
func newBackend(t *testing.T) *gateway.ServerDefinition {
	t.Helper()

	s := server.NewMCPServer("test-backend", "1.0.0", server.WithToolCapabilities(false))
	s.AddTool(
		mcp.NewTool("echo",
			mcp.WithDescription("Echoes the message back"),
			mcp.WithString("message", mcp.Required()),
		),
		func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			msg, _ := req.GetArguments()["message"].(string)
			return mcp.NewToolResultText(fmt.Sprintf("echo: %s", msg)), nil
		},
	)

	ts := server.NewTestStreamableHTTPServer(s)
	t.Cleanup(ts.Close)

	return &gateway.ServerDefinition{
		Name:           "test-backend",
		TransportType:  gateway.TransportHTTP,
		URL:            ts.URL,
		TimeoutSeconds: 5,
		Enabled:        true,
	}
}

func TestListTools(t *testing.T) {
	t.Parallel()

	def := newBackend(t)
	c := New(secrets.NewResolver())

	tools, err := c.ListTools(context.Background(), def)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "echo", tools[0].Name)
	assert.Equal(t, "test-backend", tools[0].ServerName)
	assert.Contains(t, tools[0].InputSchema, "properties")
}

func TestCallTool(t *testing.T) {
	t.Parallel()

	def := newBackend(t)
	c := New(secrets.NewResolver())

	result, err := c.CallTool(context.Background(), def, "echo", map[string]any{"message": "hi"})
	require.NoError(t, err)
	require.False(t, result.IsError)
	require.NotEmpty(t, result.Content)
	assert.Equal(t, "echo: hi", result.Content[0].Text)
	assert.Equal(t, "echo: hi", result.StructuredContent["text"])
}

func TestUnreachableBackend(t *testing.T) {
	t.Parallel()

	def := &gateway.ServerDefinition{
		Name:           "dead",
		TransportType:  gateway.TransportHTTP,
		URL:            "http://127.0.0.1:1/mcp",
		TimeoutSeconds: 1,
	}
	c := New(secrets.NewResolver())

	_, err := c.ListTools(context.Background(), def)
	assert.ErrorIs(t, err, gateway.ErrUpstreamUnreachable)
}

func TestUnsupportedTransport(t *testing.T) {
	t.Parallel()

	def := &gateway.ServerDefinition{
		Name:          "ws",
		TransportType: gateway.TransportWebSocket,
		URL:           "ws://localhost/mcp",
	}
	c := New(secrets.NewResolver())

	_, err := c.ListTools(context.Background(), def)
	assert.ErrorIs(t, err, gateway.ErrInvalidServerConfig)
}

func TestTimeoutDefaults(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultTimeout, Timeout(&gateway.ServerDefinition{Name: "x"}))
	assert.Equal(t, "10s", Timeout(&gateway.ServerDefinition{Name: "x", TimeoutSeconds: 10}).String())
}
