package gateway

import "context"

// Content is a single item of MCP content (text, image, audio) returned by a
// backend tool call.
type Content struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// ToolCallResult wraps a backend tool call response.
type ToolCallResult struct {
	Content []Content `json:"content"`
	// StructuredContent is the backend's structured output when provided,
	// otherwise a map derived from the content array (first text item under
	// "text").
	StructuredContent map[string]any `json:"structured_content,omitempty"`
	IsError           bool           `json:"is_error,omitempty"`
}

// ResourceReadResult wraps a backend resource read response. Multiple
// contents are concatenated.
type ResourceReadResult struct {
	Contents []byte `json:"contents"`
	MimeType string `json:"mime_type,omitempty"`
}

// PromptGetResult wraps a backend prompt response. Messages is the
// concatenated prompt text.
type PromptGetResult struct {
	Messages    string `json:"messages"`
	Description string `json:"description,omitempty"`
}

// BackendClient abstracts MCP protocol communication with backend servers.
// Implementations perform the initialize handshake per call and apply the
// server's configured auth and timeout. Errors are normalized to the domain
// sentinels (ErrUpstreamTimeout, ErrUpstreamUnreachable).
type BackendClient interface {
	// ListTools queries a backend's tools. ServerName is populated on the
	// returned descriptors.
	ListTools(ctx context.Context, server *ServerDefinition) ([]ToolDescriptor, error)

	// CallTool invokes a tool on the backend.
	CallTool(ctx context.Context, server *ServerDefinition, tool string, args map[string]any) (*ToolCallResult, error)

	// ListResources queries a backend's resources.
	ListResources(ctx context.Context, server *ServerDefinition) ([]ResourceDescriptor, error)

	// ReadResource retrieves a resource from the backend.
	ReadResource(ctx context.Context, server *ServerDefinition, uri string) (*ResourceReadResult, error)

	// ListPrompts queries a backend's prompts.
	ListPrompts(ctx context.Context, server *ServerDefinition) ([]PromptDescriptor, error)

	// GetPrompt retrieves a prompt from the backend.
	GetPrompt(ctx context.Context, server *ServerDefinition, name string, args map[string]any) (*PromptGetResult, error)
}
