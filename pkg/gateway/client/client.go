// Package client implements the gateway's BackendClient interface using the
// mark3labs/mcp-go SDK. It speaks the MCP protocol to backend servers over
// streamable-HTTP, SSE, or a spawned stdio process, applying the server's
// configured auth and per-server timeout on every call.
package client

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/toolgate/toolgate/pkg/gateway"
	"github.com/toolgate/toolgate/pkg/logger"
	"github.com/toolgate/toolgate/pkg/secrets"
)

// maxResponseSize caps HTTP response bodies from backends (100 MB). A single
// oversized response must not be able to exhaust gateway memory.
const maxResponseSize = 100 * 1024 * 1024

// DefaultTimeout applies when a server definition carries no timeout.
const DefaultTimeout = 30 * time.Second

// session is an open, initialized connection to one backend.
type session struct {
	client *mcpclient.Client
}

func (s *session) close() {
	if err := s.client.Close(); err != nil {
		logger.Debugf("Failed to close backend client: %v", err)
	}
}

// backendClient implements gateway.BackendClient.
type backendClient struct {
	resolver *secrets.Resolver

	// dial opens and initializes a session. Swappable for tests.
	dial func(ctx context.Context, server *gateway.ServerDefinition) (*session, error)
}

// New creates a backend client that resolves credentials through the given
// resolver.
func New(resolver *secrets.Resolver) gateway.BackendClient {
	c := &backendClient{resolver: resolver}
	c.dial = c.defaultDial
	return c
}

// authRoundTripper applies the server's auth spec to every outgoing request.
type authRoundTripper struct {
	base     http.RoundTripper
	resolver *secrets.Resolver
	auth     *gateway.AuthSpec
}

func (a *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	reqClone := req.Clone(req.Context())
	if err := a.resolver.Apply(reqClone, a.auth); err != nil {
		return nil, fmt.Errorf("failed to apply backend auth: %w", err)
	}
	return a.base.RoundTrip(reqClone)
}

// roundTripperFunc is a function adapter for http.RoundTripper.
type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// httpClientFor builds the transport chain: size limit over auth over the
// default transport.
func (c *backendClient) httpClientFor(server *gateway.ServerDefinition, timeout time.Duration) *http.Client {
	var base http.RoundTripper = http.DefaultTransport

	if server.Auth != nil && server.Auth.Method != "" && server.Auth.Method != gateway.AuthNone {
		base = &authRoundTripper{base: base, resolver: c.resolver, auth: server.Auth}
	}

	sizeLimited := roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		resp, err := base.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		resp.Body = struct {
			io.Reader
			io.Closer
		}{
			Reader: io.LimitReader(resp.Body, maxResponseSize),
			Closer: resp.Body,
		}
		return resp, nil
	})

	return &http.Client{Transport: sizeLimited, Timeout: timeout}
}

// Timeout returns the effective call timeout for a server definition.
func Timeout(server *gateway.ServerDefinition) time.Duration {
	if server.TimeoutSeconds > 0 {
		return time.Duration(server.TimeoutSeconds) * time.Second
	}
	return DefaultTimeout
}

// envSlice flattens a definition's env map into "KEY=VALUE" form for the
// stdio transport.
func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

// defaultDial creates, starts, and initializes an MCP client for the
// server's transport type.
func (c *backendClient) defaultDial(ctx context.Context, server *gateway.ServerDefinition) (*session, error) {
	timeout := Timeout(server)

	var mc *mcpclient.Client
	var err error
	started := false

	switch server.TransportType {
	case gateway.TransportHTTP:
		mc, err = mcpclient.NewStreamableHttpClient(
			server.URL,
			transport.WithHTTPTimeout(timeout),
			transport.WithHTTPBasicClient(c.httpClientFor(server, timeout)),
		)
	case gateway.TransportSSE:
		mc, err = mcpclient.NewSSEMCPClient(
			server.URL,
			transport.WithHTTPClient(c.httpClientFor(server, timeout)),
		)
	case gateway.TransportStdio:
		// NewStdioMCPClient spawns the subprocess and starts the transport.
		mc, err = mcpclient.NewStdioMCPClient(server.Command, envSlice(server.Env), server.Args...)
		started = true
	default:
		return nil, fmt.Errorf("%w: unsupported transport %q for server %q",
			gateway.ErrInvalidServerConfig, server.TransportType, server.Name)
	}
	if err != nil {
		return nil, wrapBackendError(err, server.Name, "create client")
	}

	if !started {
		if err := mc.Start(ctx); err != nil {
			return nil, wrapBackendError(err, server.Name, "start client")
		}
	}

	if _, err := mc.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo: mcp.Implementation{
				Name:    "toolgate",
				Version: "0.1.0",
			},
		},
	}); err != nil {
		_ = mc.Close()
		return nil, wrapBackendError(err, server.Name, "initialize client")
	}

	return &session{client: mc}, nil
}

// wrapBackendError maps transport failures onto the domain sentinels so
// callers can use errors.Is instead of string matching.
func wrapBackendError(err error, serverName, operation string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: failed to %s for server %s: %v",
			gateway.ErrUpstreamTimeout, operation, serverName, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: failed to %s for server %s: %v",
			gateway.ErrUpstreamTimeout, operation, serverName, err)
	}

	return fmt.Errorf("%w: failed to %s for server %s: %v",
		gateway.ErrUpstreamUnreachable, operation, serverName, err)
}

func (c *backendClient) withSession(
	ctx context.Context,
	server *gateway.ServerDefinition,
	operation string,
	fn func(ctx context.Context, s *session) error,
) error {
	ctx, cancel := context.WithTimeout(ctx, Timeout(server))
	defer cancel()

	s, err := c.dial(ctx, server)
	if err != nil {
		return err
	}
	defer s.close()

	if err := fn(ctx, s); err != nil {
		return wrapBackendError(err, server.Name, operation)
	}
	return nil
}

// ListTools queries a backend's tools.
func (c *backendClient) ListTools(
	ctx context.Context, server *gateway.ServerDefinition,
) ([]gateway.ToolDescriptor, error) {
	var tools []gateway.ToolDescriptor
	err := c.withSession(ctx, server, "list tools", func(ctx context.Context, s *session) error {
		result, err := s.client.ListTools(ctx, mcp.ListToolsRequest{})
		if err != nil {
			return err
		}
		tools = make([]gateway.ToolDescriptor, 0, len(result.Tools))
		for _, tool := range result.Tools {
			tools = append(tools, gateway.ToolDescriptor{
				Name:        tool.Name,
				Description: tool.Description,
				InputSchema: convertInputSchema(tool.InputSchema),
				ServerName:  server.Name,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Debugf("Server %s: %d tool(s)", server.Name, len(tools))
	return tools, nil
}

// convertInputSchema flattens the SDK's schema struct into a plain map.
func convertInputSchema(schema mcp.ToolInputSchema) map[string]any {
	out := map[string]any{"type": schema.Type}
	if schema.Properties != nil {
		out["properties"] = schema.Properties
	}
	if len(schema.Required) > 0 {
		out["required"] = schema.Required
	}
	if schema.Defs != nil {
		out["$defs"] = schema.Defs
	}
	return out
}

// CallTool invokes a tool on the backend.
func (c *backendClient) CallTool(
	ctx context.Context, server *gateway.ServerDefinition, tool string, args map[string]any,
) (*gateway.ToolCallResult, error) {
	var out *gateway.ToolCallResult
	err := c.withSession(ctx, server, "call tool", func(ctx context.Context, s *session) error {
		result, err := s.client.CallTool(ctx, mcp.CallToolRequest{
			Params: mcp.CallToolParams{
				Name:      tool,
				Arguments: args,
			},
		})
		if err != nil {
			return err
		}

		content := make([]gateway.Content, len(result.Content))
		for i, item := range result.Content {
			content[i] = convertContent(item)
		}

		var structured map[string]any
		if m, ok := result.StructuredContent.(map[string]any); ok {
			structured = m
		} else {
			structured = contentToMap(content)
		}

		if result.IsError {
			logger.Warnf("Tool %s on server %s returned IsError=true", tool, server.Name)
		}

		out = &gateway.ToolCallResult{
			Content:           content,
			StructuredContent: structured,
			IsError:           result.IsError,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// convertContent converts SDK content to the domain content type.
func convertContent(content mcp.Content) gateway.Content {
	if text, ok := mcp.AsTextContent(content); ok {
		return gateway.Content{Type: "text", Text: text.Text}
	}
	if image, ok := mcp.AsImageContent(content); ok {
		return gateway.Content{Type: "image", Data: image.Data, MimeType: image.MIMEType}
	}
	if audio, ok := mcp.AsAudioContent(content); ok {
		return gateway.Content{Type: "audio", Data: audio.Data, MimeType: audio.MIMEType}
	}
	logger.Warnf("Unknown content type %T from backend, marking as unknown", content)
	return gateway.Content{Type: "unknown"}
}

// contentToMap derives structured output from a content array: the first
// text item lands under "text", further items under "text_N"/"image_N".
func contentToMap(content []gateway.Content) map[string]any {
	out := make(map[string]any)
	textIdx, imageIdx := 0, 0
	for _, item := range content {
		switch item.Type {
		case "text":
			key := "text"
			if textIdx > 0 {
				key = fmt.Sprintf("text_%d", textIdx)
			}
			out[key] = item.Text
			textIdx++
		case "image":
			out[fmt.Sprintf("image_%d", imageIdx)] = item.Data
			imageIdx++
		}
	}
	return out
}

// ListResources queries a backend's resources.
func (c *backendClient) ListResources(
	ctx context.Context, server *gateway.ServerDefinition,
) ([]gateway.ResourceDescriptor, error) {
	var resources []gateway.ResourceDescriptor
	err := c.withSession(ctx, server, "list resources", func(ctx context.Context, s *session) error {
		result, err := s.client.ListResources(ctx, mcp.ListResourcesRequest{})
		if err != nil {
			return err
		}
		resources = make([]gateway.ResourceDescriptor, 0, len(result.Resources))
		for _, res := range result.Resources {
			resources = append(resources, gateway.ResourceDescriptor{
				URI:         res.URI,
				Name:        res.Name,
				Description: res.Description,
				MimeType:    res.MIMEType,
				ServerName:  server.Name,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resources, nil
}

// ReadResource retrieves a resource from the backend. Text contents are
// concatenated as bytes; blob contents are base64-decoded first.
func (c *backendClient) ReadResource(
	ctx context.Context, server *gateway.ServerDefinition, uri string,
) (*gateway.ResourceReadResult, error) {
	var out *gateway.ResourceReadResult
	err := c.withSession(ctx, server, "read resource", func(ctx context.Context, s *session) error {
		result, err := s.client.ReadResource(ctx, mcp.ReadResourceRequest{
			Params: mcp.ReadResourceParams{URI: uri},
		})
		if err != nil {
			return err
		}

		var data []byte
		var mimeType string
		for i, content := range result.Contents {
			if text, ok := mcp.AsTextResourceContents(content); ok {
				data = append(data, []byte(text.Text)...)
				if i == 0 {
					mimeType = text.MIMEType
				}
			} else if blob, ok := mcp.AsBlobResourceContents(content); ok {
				decoded, err := base64.StdEncoding.DecodeString(blob.Blob)
				if err != nil {
					logger.Warnf("Failed to decode blob from resource %s on server %s: %v", uri, server.Name, err)
					data = append(data, []byte(blob.Blob)...)
				} else {
					data = append(data, decoded...)
				}
				if i == 0 {
					mimeType = blob.MIMEType
				}
			}
		}

		out = &gateway.ResourceReadResult{Contents: data, MimeType: mimeType}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListPrompts queries a backend's prompts.
func (c *backendClient) ListPrompts(
	ctx context.Context, server *gateway.ServerDefinition,
) ([]gateway.PromptDescriptor, error) {
	var prompts []gateway.PromptDescriptor
	err := c.withSession(ctx, server, "list prompts", func(ctx context.Context, s *session) error {
		result, err := s.client.ListPrompts(ctx, mcp.ListPromptsRequest{})
		if err != nil {
			return err
		}
		prompts = make([]gateway.PromptDescriptor, 0, len(result.Prompts))
		for _, prompt := range result.Prompts {
			args := make([]gateway.PromptArgument, len(prompt.Arguments))
			for i, arg := range prompt.Arguments {
				args[i] = gateway.PromptArgument{
					Name:        arg.Name,
					Description: arg.Description,
					Required:    arg.Required,
				}
			}
			prompts = append(prompts, gateway.PromptDescriptor{
				Name:        prompt.Name,
				Description: prompt.Description,
				Arguments:   args,
				ServerName:  server.Name,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return prompts, nil
}

// GetPrompt retrieves a prompt from the backend. Messages are concatenated
// with their roles.
func (c *backendClient) GetPrompt(
	ctx context.Context, server *gateway.ServerDefinition, name string, args map[string]any,
) (*gateway.PromptGetResult, error) {
	stringArgs := make(map[string]string, len(args))
	for k, v := range args {
		stringArgs[k] = fmt.Sprintf("%v", v)
	}

	var out *gateway.PromptGetResult
	err := c.withSession(ctx, server, "get prompt", func(ctx context.Context, s *session) error {
		result, err := s.client.GetPrompt(ctx, mcp.GetPromptRequest{
			Params: mcp.GetPromptParams{
				Name:      name,
				Arguments: stringArgs,
			},
		})
		if err != nil {
			return err
		}

		var messages string
		for _, msg := range result.Messages {
			if msg.Role != "" {
				messages += fmt.Sprintf("[%s] ", msg.Role)
			}
			if text, ok := mcp.AsTextContent(msg.Content); ok {
				messages += text.Text + "\n"
			}
		}

		out = &gateway.PromptGetResult{
			Messages:    messages,
			Description: result.Description,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
