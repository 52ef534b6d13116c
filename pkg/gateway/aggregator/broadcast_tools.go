package aggregator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/toolgate/toolgate/pkg/gateway"
)

// Prefixes of the synthesized broadcast tool names.
const (
	BroadcastPrefix      = "broadcast__"
	BroadcastByTagPrefix = "broadcast__by_tag__"
)

// GenerateBroadcastTools synthesizes the virtual broadcast tools for a tool
// listing:
//
//   - broadcast__<tool> for every tool name exposed, under that exact name,
//     by at least two servers
//   - broadcast__by_tag__<tag> for every tag shared by at least two servers
//
// toolsByServer must already be filtered to what the caller may see, so the
// virtual surface never leaks a tool the caller cannot reach directly.
func GenerateBroadcastTools(servers []gateway.ServerDefinition, toolsByServer map[string][]gateway.ToolDescriptor) []gateway.ToolDescriptor {
	out := generateByName(servers, toolsByServer)
	out = append(out, generateByTag(servers)...)
	return out
}

func generateByName(servers []gateway.ServerDefinition, toolsByServer map[string][]gateway.ToolDescriptor) []gateway.ToolDescriptor {
	offeredBy := make(map[string][]string)
	for _, def := range servers {
		for _, tool := range toolsByServer[def.Name] {
			offeredBy[tool.Name] = append(offeredBy[tool.Name], def.Name)
		}
	}

	var out []gateway.ToolDescriptor
	for toolName, serverNames := range offeredBy {
		if len(serverNames) < 2 {
			continue
		}
		sort.Strings(serverNames)
		out = append(out, gateway.ToolDescriptor{
			Name: BroadcastPrefix + toolName,
			Description: fmt.Sprintf("Invoke %q on all %d servers that expose it (%s) and collect the per-server results.",
				toolName, len(serverNames), strings.Join(serverNames, ", ")),
			InputSchema: broadcastSchema(toolName),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func generateByTag(servers []gateway.ServerDefinition) []gateway.ToolDescriptor {
	// Group by the sanitized form: invocation matches on it, so raw tags that
	// collapse to the same identifier ("log-search", "log_search") must yield
	// one virtual tool covering all their servers.
	taggedBy := make(map[string]map[string]bool)
	for _, def := range servers {
		for _, tag := range def.Tags {
			key := gateway.SanitizeTag(tag)
			if taggedBy[key] == nil {
				taggedBy[key] = make(map[string]bool)
			}
			taggedBy[key][def.Name] = true
		}
	}

	var out []gateway.ToolDescriptor
	for tag, members := range taggedBy {
		if len(members) < 2 {
			continue
		}
		serverNames := make([]string, 0, len(members))
		for name := range members {
			serverNames = append(serverNames, name)
		}
		sort.Strings(serverNames)
		out = append(out, gateway.ToolDescriptor{
			Name: BroadcastByTagPrefix + tag,
			Description: fmt.Sprintf("Invoke a named tool on all %d servers tagged %q (%s) and collect the per-server results.",
				len(serverNames), tag, strings.Join(serverNames, ", ")),
			InputSchema: byTagSchema(tag),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func broadcastSchema(toolName string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"arguments": map[string]any{
				"type":        "object",
				"description": fmt.Sprintf("Arguments forwarded verbatim to %q on every target server.", toolName),
			},
		},
	}
}

func byTagSchema(tag string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"tool_name": map[string]any{
				"type":        "string",
				"description": fmt.Sprintf("Tool to invoke on every server tagged %q.", tag),
			},
			"arguments": map[string]any{
				"type":        "object",
				"description": "Arguments forwarded verbatim to the tool on every target server.",
			},
		},
		"required": []string{"tool_name"},
	}
}

// ParseBroadcastName decomposes a virtual broadcast tool name. For
// broadcast__by_tag__<tag> it returns the sanitized tag; for
// broadcast__<tool> the underlying tool name. ok is false for plain names.
func ParseBroadcastName(name string) (tool, tag string, ok bool) {
	if rest, found := strings.CutPrefix(name, BroadcastByTagPrefix); found {
		return "", rest, rest != ""
	}
	if rest, found := strings.CutPrefix(name, BroadcastPrefix); found && rest != "" {
		return rest, "", true
	}
	return "", "", false
}

// MatchTagged returns the servers whose sanitized tags include the given
// sanitized tag.
func MatchTagged(servers []gateway.ServerDefinition, sanitized string) []string {
	var out []string
	for _, def := range servers {
		for _, t := range def.Tags {
			if gateway.SanitizeTag(t) == sanitized {
				out = append(out, def.Name)
				break
			}
		}
	}
	return out
}
