// Package gateway contains the shared domain types for the MCP gateway:
// server definitions, auth specifications, tool descriptors, broadcast
// results, and the in-memory server registry.
//
// Subpackages implement the moving parts: client (backend MCP transport),
// aggregator (single-server and broadcast proxying), policy (policy-aware
// tool filtering), bridge (stdio-to-HTTP conversion), and router (the
// client-facing MCP JSON-RPC endpoint).
package gateway
