// Package router exposes the aggregated MCP surface over JSON-RPC, both
// top-level and per group.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/toolgate/toolgate/pkg/auth"
	"github.com/toolgate/toolgate/pkg/gateway"
	"github.com/toolgate/toolgate/pkg/gateway/aggregator"
	"github.com/toolgate/toolgate/pkg/groups"
	"github.com/toolgate/toolgate/pkg/logger"
)

// serverName and serverVersion identify the gateway in initialize responses.
const (
	serverName    = "toolgate"
	serverVersion = "0.1.0"
)

// Router handles the MCP JSON-RPC endpoints.
type Router struct {
	agg    *aggregator.Aggregator
	groups groups.Manager
}

// New creates the MCP router.
func New(agg *aggregator.Aggregator, groupManager groups.Manager) *Router {
	return &Router{agg: agg, groups: groupManager}
}

// Register mounts the JSON-RPC endpoints on r.
func (rt *Router) Register(r chi.Router) {
	r.Post("/mcp", rt.handleTopLevel)
	r.Post("/groups/{name}/mcp", rt.handleGroup)
}

// TopLevel returns the handler for the aggregated JSON-RPC endpoint.
func (rt *Router) TopLevel() http.HandlerFunc {
	return rt.handleTopLevel
}

// Group returns the handler for the per-group JSON-RPC endpoint. It expects
// a "name" URL parameter.
func (rt *Router) Group() http.HandlerFunc {
	return rt.handleGroup
}

func (rt *Router) handleTopLevel(w http.ResponseWriter, r *http.Request) {
	rt.serve(w, r, aggregator.Scope{Caller: auth.CallerFromContext(r.Context())})
}

func (rt *Router) handleGroup(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	group, err := rt.groups.Get(r.Context(), name)
	if err != nil {
		if errors.Is(err, gateway.ErrGroupNotFound) {
			http.Error(w, "group not found", http.StatusNotFound)
			return
		}
		logger.Errorf("Failed to load group %q: %v", name, err)
		http.Error(w, "failed to load group", http.StatusInternalServerError)
		return
	}
	rt.serve(w, r, aggregator.Scope{Caller: auth.CallerFromContext(r.Context()), Group: group})
}

func (rt *Router) serve(w http.ResponseWriter, r *http.Request, scope aggregator.Scope) {
	var msg Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeMessage(w, newErrorResponse(nil, codeParseError, "parse error"))
		return
	}
	if err := msg.Validate(); err != nil {
		writeMessage(w, newErrorResponse(msg.ID, codeInvalidRequest, err.Error()))
		return
	}

	if msg.IsNotification() {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	writeMessage(w, rt.dispatch(r, scope, &msg))
}

func (rt *Router) dispatch(r *http.Request, scope aggregator.Scope, msg *Message) *Message {
	ctx := r.Context()

	switch msg.Method {
	case "initialize":
		return respond(msg.ID, map[string]any{
			"protocolVersion": mcp.LATEST_PROTOCOL_VERSION,
			"capabilities": map[string]any{
				"tools":     map[string]any{"listChanged": false},
				"resources": map[string]any{},
				"prompts":   map[string]any{},
			},
			"serverInfo": map[string]any{
				"name":    serverName,
				"version": serverVersion,
			},
		})

	case "tools/list":
		tools := rt.agg.ListAllTools(ctx, scope)
		return respond(msg.ID, map[string]any{"tools": wireTools(tools)})

	case "tools/call":
		return rt.dispatchToolCall(r, scope, msg)

	case "resources/list":
		resources := rt.agg.ListAllResources(ctx, scope)
		return respond(msg.ID, map[string]any{"resources": wireResources(resources)})

	case "resources/read":
		var params struct {
			URI string `json:"uri"`
		}
		if err := json.Unmarshal(msg.Params, &params); err != nil || params.URI == "" {
			return newErrorResponse(msg.ID, codeInvalidParams, "uri is required")
		}
		result, err := rt.agg.ReadResource(ctx, params.URI, scope)
		if err != nil {
			return newErrorResponse(msg.ID, codeInvalidParams, err.Error())
		}
		return respond(msg.ID, map[string]any{
			"contents": []map[string]any{{
				"uri":      params.URI,
				"mimeType": result.MimeType,
				"text":     string(result.Contents),
			}},
		})

	case "prompts/list":
		prompts := rt.agg.ListAllPrompts(ctx, scope)
		return respond(msg.ID, map[string]any{"prompts": wirePrompts(prompts)})

	case "prompts/get":
		var params struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		}
		if err := json.Unmarshal(msg.Params, &params); err != nil || params.Name == "" {
			return newErrorResponse(msg.ID, codeInvalidParams, "name is required")
		}
		result, err := rt.agg.GetPrompt(ctx, params.Name, params.Arguments, scope)
		if err != nil {
			return newErrorResponse(msg.ID, codeInvalidParams, err.Error())
		}
		return respond(msg.ID, map[string]any{
			"description": result.Description,
			"messages": []map[string]any{{
				"role":    "user",
				"content": map[string]any{"type": "text", "text": result.Messages},
			}},
		})

	default:
		if strings.HasPrefix(msg.Method, "notifications/") {
			return respond(msg.ID, map[string]any{})
		}
		return newErrorResponse(msg.ID, codeMethodNotFound, "method not found: "+msg.Method)
	}
}

// dispatchToolCall routes plain, broadcast and by-tag tool names.
func (rt *Router) dispatchToolCall(r *http.Request, scope aggregator.Scope, msg *Message) *Message {
	ctx := r.Context()

	var params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal(msg.Params, &params); err != nil || params.Name == "" {
		return newErrorResponse(msg.ID, codeInvalidParams, "name is required")
	}

	if tool, tag, ok := aggregator.ParseBroadcastName(params.Name); ok {
		result, err := rt.invokeBroadcast(ctx, tool, tag, params.Arguments, scope)
		if err != nil {
			return newErrorResponse(msg.ID, codeInvalidParams, err.Error())
		}
		return respond(msg.ID, wireBroadcastResult(result))
	}

	serverName, err := rt.agg.FindToolServer(ctx, params.Name, scope)
	if err != nil {
		return newErrorResponse(msg.ID, codeInvalidParams, "tool not found: "+params.Name)
	}
	result, err := rt.agg.Invoke(ctx, serverName, params.Name, params.Arguments, scope)
	if err != nil {
		if errors.Is(err, gateway.ErrToolNotFound) {
			return newErrorResponse(msg.ID, codeInvalidParams, "tool not found: "+params.Name)
		}
		logger.Errorf("Failed to invoke %q on %q: %v", params.Name, serverName, err)
		return newErrorResponse(msg.ID, codeInternalError, err.Error())
	}
	return respond(msg.ID, wireToolResult(result))
}

// invokeBroadcast delegates a virtual tool call. By-name broadcasts forward
// the nested "arguments" object (falling back to the raw arguments); by-tag
// broadcasts additionally require a "tool_name".
func (rt *Router) invokeBroadcast(ctx context.Context, tool, tag string, args map[string]any, scope aggregator.Scope) (*gateway.BroadcastResult, error) {
	forwarded, _ := args["arguments"].(map[string]any)

	if tag != "" {
		toolName, _ := args["tool_name"].(string)
		if toolName == "" {
			return nil, fmt.Errorf("tool_name is required for a by-tag broadcast")
		}
		return rt.agg.InvokeBroadcastByTag(ctx, tag, toolName, forwarded, scope)
	}

	if forwarded == nil {
		forwarded = args
	}
	return rt.agg.InvokeBroadcast(ctx, aggregator.BroadcastRequest{
		Tool:  tool,
		Args:  forwarded,
		Scope: scope,
	})
}
