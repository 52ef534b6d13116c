package gateway

import "errors"

// Common domain errors used across gateway subpackages.
// These errors should be checked using errors.Is().

var (
	// ErrServerNotFound indicates the named server is not registered.
	ErrServerNotFound = errors.New("server not found")

	// ErrInvalidServerConfig indicates a definition that violates the
	// transport invariants (missing url for http, missing command for stdio,
	// timeout out of range).
	ErrInvalidServerConfig = errors.New("invalid server configuration")

	// ErrUpstreamTimeout indicates a backend call exceeded the server's
	// configured timeout.
	ErrUpstreamTimeout = errors.New("upstream timeout")

	// ErrUpstreamUnreachable indicates the backend could not be reached or
	// failed the MCP handshake.
	ErrUpstreamUnreachable = errors.New("upstream unreachable")

	// ErrToolNotFound indicates no enabled server offers the requested tool.
	// Policy-denied tools surface as this error as well; callers cannot
	// distinguish "denied" from "absent".
	ErrToolNotFound = errors.New("tool not found")

	// ErrGroupNotFound indicates the named group does not exist.
	ErrGroupNotFound = errors.New("group not found")

	// ErrPolicyFetchFailed indicates the policy engine could not be queried.
	// The filter recovers from this locally (fail closed); it is surfaced
	// only in logs.
	ErrPolicyFetchFailed = errors.New("policy fetch failed")

	// ErrBridgeUnavailable indicates the stdio bridging service (remote mode)
	// or the spawned bridge process (local mode) did not become available.
	ErrBridgeUnavailable = errors.New("bridging service unavailable")

	// ErrPortRangeExhausted indicates no free port remains in the configured
	// bridge port range.
	ErrPortRangeExhausted = errors.New("bridge port range exhausted")
)
