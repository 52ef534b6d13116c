package router

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/toolgate/toolgate/pkg/gateway"
	"github.com/toolgate/toolgate/pkg/logger"
)

// Wire shapes follow the MCP field naming (camelCase), which differs from
// the snake_case used on the REST surface.

func wireTools(tools []gateway.ToolDescriptor) []map[string]any {
	out := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		entry := map[string]any{"name": t.Name}
		if t.Description != "" {
			entry["description"] = t.Description
		}
		if t.InputSchema != nil {
			entry["inputSchema"] = t.InputSchema
		} else {
			entry["inputSchema"] = map[string]any{"type": "object"}
		}
		out = append(out, entry)
	}
	return out
}

func wireResources(resources []gateway.ResourceDescriptor) []map[string]any {
	out := make([]map[string]any, 0, len(resources))
	for _, res := range resources {
		entry := map[string]any{"uri": res.URI}
		if res.Name != "" {
			entry["name"] = res.Name
		}
		if res.Description != "" {
			entry["description"] = res.Description
		}
		if res.MimeType != "" {
			entry["mimeType"] = res.MimeType
		}
		out = append(out, entry)
	}
	return out
}

func wirePrompts(prompts []gateway.PromptDescriptor) []map[string]any {
	out := make([]map[string]any, 0, len(prompts))
	for _, p := range prompts {
		entry := map[string]any{"name": p.Name}
		if p.Description != "" {
			entry["description"] = p.Description
		}
		if len(p.Arguments) > 0 {
			args := make([]map[string]any, 0, len(p.Arguments))
			for _, a := range p.Arguments {
				args = append(args, map[string]any{
					"name":        a.Name,
					"description": a.Description,
					"required":    a.Required,
				})
			}
			entry["arguments"] = args
		}
		out = append(out, entry)
	}
	return out
}

func wireToolResult(result *gateway.ToolCallResult) map[string]any {
	content := make([]map[string]any, 0, len(result.Content))
	for _, c := range result.Content {
		entry := map[string]any{"type": c.Type}
		switch c.Type {
		case "text":
			entry["text"] = c.Text
		default:
			entry["data"] = c.Data
			entry["mimeType"] = c.MimeType
		}
		content = append(content, entry)
	}

	out := map[string]any{
		"content": content,
		"isError": result.IsError,
	}
	if len(result.StructuredContent) > 0 {
		out["structuredContent"] = result.StructuredContent
	}
	return out
}

func wireBroadcastResult(result *gateway.BroadcastResult) map[string]any {
	summary := fmt.Sprintf("Broadcast of %s reached %d server(s): %d succeeded, %d failed",
		result.ToolName, result.TotalServers, result.SuccessCount, result.FailedCount)
	return map[string]any{
		"content": []map[string]any{{
			"type": "text",
			"text": summary,
		}},
		"isError":           result.SuccessCount == 0,
		"structuredContent": result,
	}
}

// respond wraps newResponse, degrading to an internal error on marshal
// failure.
func respond(id any, result any) *Message {
	msg, err := newResponse(id, result)
	if err != nil {
		logger.Errorf("Failed to encode JSON-RPC result: %v", err)
		return newErrorResponse(id, codeInternalError, "failed to encode result")
	}
	return msg
}

func writeMessage(w http.ResponseWriter, msg *Message) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(msg); err != nil {
		logger.Errorf("Failed to write JSON-RPC response: %v", err)
	}
}
