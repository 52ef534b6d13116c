package gateway

import (
	"fmt"
	"slices"
	"strings"
)

// TransportType identifies how the gateway talks to a backend server.
type TransportType string

// Supported backend transport types.
const (
	TransportHTTP      TransportType = "http"
	TransportStdio     TransportType = "stdio"
	TransportSSE       TransportType = "sse"
	TransportWebSocket TransportType = "websocket"
)

// Timeout bounds for backend calls, in seconds.
const (
	MinTimeoutSeconds = 1
	MaxTimeoutSeconds = 300
)

// Metadata keys recording stdio-to-HTTP conversion provenance on a
// ServerDefinition.
const (
	MetaConvertedFromStdio = "convertedFromStdio"
	MetaOriginalCommand    = "originalCommand"
	MetaOriginalArgs       = "originalArgs"
	MetaOriginalEnv        = "originalEnv"
	MetaProxyPort          = "proxyPort"
)

// AuthMethod is the authentication scheme used against a backend.
type AuthMethod string

// Supported authentication methods.
const (
	AuthNone   AuthMethod = "none"
	AuthAPIKey AuthMethod = "api_key"
	AuthBearer AuthMethod = "bearer"
	AuthBasic  AuthMethod = "basic"
	AuthOAuth2 AuthMethod = "oauth2"
	AuthCustom AuthMethod = "custom"
)

// AuthLocation is where the rendered credential is placed on the outgoing request.
type AuthLocation string

// Supported credential placements. AuthInBody is recognized so existing
// definitions decode, but rejected at validation: backend calls carry
// protocol frames, not form bodies, so there is nothing to merge a
// credential into.
const (
	AuthInHeader AuthLocation = "header"
	AuthInQuery  AuthLocation = "query"
	AuthInBody   AuthLocation = "body"
)

// AuthFormat controls how the credential string is rendered.
type AuthFormat string

// Supported credential formats.
const (
	FormatRaw      AuthFormat = "raw"
	FormatPrefix   AuthFormat = "prefix"
	FormatTemplate AuthFormat = "template"
)

// AuthSpec describes how to authenticate against a backend server.
type AuthSpec struct {
	Method   AuthMethod   `json:"method"`
	Location AuthLocation `json:"location,omitempty"`
	// Name is the header or query parameter name the credential is placed in.
	Name   string     `json:"name,omitempty"`
	Format AuthFormat `json:"format,omitempty"`
	// Prefix is prepended to the credential when Format is "prefix"
	// (e.g. "Bearer ").
	Prefix string `json:"prefix,omitempty"`
	// Template renders the credential when Format is "template"; the
	// credential replaces the %s verb.
	Template string `json:"template,omitempty"`
	// CredentialRef is a scheme-prefixed reference (env://, file://) resolved
	// at call time. Takes precedence over Credential.
	CredentialRef string `json:"credential_ref,omitempty"`
	// Credential is an inline secret. Discouraged outside of tests.
	Credential string `json:"credential,omitempty"`
}

// Validate checks the auth invariants.
func (a *AuthSpec) Validate() error {
	if a == nil || a.Method == "" || a.Method == AuthNone {
		return nil
	}
	if a.Location == AuthInBody {
		return fmt.Errorf("%w: body credential placement is not supported", ErrInvalidServerConfig)
	}
	if (a.Location == AuthInHeader || a.Location == AuthInQuery) && a.Name == "" {
		return fmt.Errorf("%w: auth method %q requires a name for %s placement",
			ErrInvalidServerConfig, a.Method, a.Location)
	}
	return nil
}

// ServerDefinition describes a registered backend MCP server. Name is the
// unique, immutable key; everything else may be mutated by config updates
// and by stdio conversion.
type ServerDefinition struct {
	Name          string        `json:"name"`
	TransportType TransportType `json:"transport_type"`
	// URL is required for non-stdio transports.
	URL string `json:"url,omitempty"`
	// Command, Args and Env describe the subprocess for stdio transports.
	Command        string            `json:"command,omitempty"`
	Args           []string          `json:"args,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"`
	Enabled        bool              `json:"enabled"`
	Tags           []string          `json:"tags,omitempty"`
	// ToolAllowlist restricts the tools exposed from this server. Empty means
	// all tools; a single "*" entry is an explicit all.
	ToolAllowlist []string       `json:"tool_allowlist,omitempty"`
	Auth          *AuthSpec      `json:"auth,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Validate enforces the transport and timeout invariants.
func (d *ServerDefinition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidServerConfig)
	}
	switch d.TransportType {
	case TransportStdio:
		if d.Command == "" {
			return fmt.Errorf("%w: stdio server %q requires a command", ErrInvalidServerConfig, d.Name)
		}
	case TransportHTTP, TransportSSE, TransportWebSocket:
		if d.URL == "" {
			return fmt.Errorf("%w: %s server %q requires a url", ErrInvalidServerConfig, d.TransportType, d.Name)
		}
	default:
		return fmt.Errorf("%w: unknown transport type %q for server %q",
			ErrInvalidServerConfig, d.TransportType, d.Name)
	}
	if d.TimeoutSeconds != 0 && (d.TimeoutSeconds < MinTimeoutSeconds || d.TimeoutSeconds > MaxTimeoutSeconds) {
		return fmt.Errorf("%w: timeout %d out of range [%d, %d] for server %q",
			ErrInvalidServerConfig, d.TimeoutSeconds, MinTimeoutSeconds, MaxTimeoutSeconds, d.Name)
	}
	return d.Auth.Validate()
}

// HasTag reports whether the definition carries the given tag.
func (d *ServerDefinition) HasTag(tag string) bool {
	return slices.Contains(d.Tags, tag)
}

// AllowsTool applies the per-server tool allowlist. An empty list or an
// explicit "*" entry allows everything.
func (d *ServerDefinition) AllowsTool(tool string) bool {
	return AllowlistPermits(d.ToolAllowlist, tool)
}

// AllowlistPermits reports whether an allowlist permits the given tool name.
// Empty means unrestricted; "*" is an explicit all.
func AllowlistPermits(allowlist []string, tool string) bool {
	if len(allowlist) == 0 {
		return true
	}
	for _, entry := range allowlist {
		if entry == "*" || entry == tool {
			return true
		}
	}
	return false
}

// ToolDescriptor describes a tool offered by a backend server. ServerName is
// attached at aggregation time and not persisted.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
	ServerName  string         `json:"server_name,omitempty"`
}

// ResourceDescriptor describes a resource offered by a backend server.
type ResourceDescriptor struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mime_type,omitempty"`
	ServerName  string `json:"server_name,omitempty"`
}

// PromptDescriptor describes a prompt offered by a backend server.
type PromptDescriptor struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
	ServerName  string           `json:"server_name,omitempty"`
}

// PromptArgument is a single prompt parameter.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// BroadcastOutcome records the result of one server's leg of a broadcast call.
type BroadcastOutcome struct {
	ServerName string `json:"server_name"`
	Success    bool   `json:"success"`
	Payload    any    `json:"payload,omitempty"`
	Error      string `json:"error,omitempty"`
	LatencyMs  int64  `json:"latency_ms"`
}

// BroadcastResult aggregates the per-server outcomes of one broadcast
// invocation. ExecutionTimeMs is the wall-clock time of the whole fan-out,
// not the sum of the per-server latencies.
type BroadcastResult struct {
	ToolName        string            `json:"tool_name"`
	TotalServers    int               `json:"total_servers"`
	SuccessCount    int               `json:"successful"`
	FailedCount     int               `json:"failed"`
	ExecutionTimeMs int64             `json:"execution_time_ms"`
	ResultsByServer map[string]any    `json:"results"`
	ErrorsByServer  map[string]string `json:"errors"`
}

// SanitizeTag converts a tag value into an identifier usable in a virtual
// tool name (hyphens and other non-word characters become underscores).
func SanitizeTag(tag string) string {
	var b strings.Builder
	b.Grow(len(tag))
	for _, r := range tag {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
