package antigravity

import (
	"log"
	"strings"
)

// buildTools converts Claude's tool list to a Gemini tools array. Gemini's
// v1internal endpoint rejects a tool object mixing functionDeclarations
// with googleSearch, so the two are mutually exclusive here: client tools
// win if present, and a web search tool only becomes googleSearch when
// there are no client-side declarations to conflict with it.
func buildTools(claudeReq *ClaudeRequest) interface{} {
	declarations, hasWebSearch := splitToolDeclarations(claudeReq.Tools)
	if len(declarations) == 0 && !hasWebSearch {
		return nil
	}

	toolObj := make(map[string]interface{})
	switch {
	case len(declarations) > 0:
		toolObj["functionDeclarations"] = declarations
		if hasWebSearch {
			log.Printf("[Antigravity] skipping googleSearch injection due to %d existing function declarations, "+
				"v1internal does not support mixed tool types", len(declarations))
		}
	case hasWebSearch:
		toolObj["googleSearch"] = map[string]interface{}{}
	}

	return []map[string]interface{}{toolObj}
}

// splitToolDeclarations separates a web-search server tool (if any) from
// the client-side function declarations, sanitizing each declaration's
// input schema along the way.
func splitToolDeclarations(tools []ClaudeTool) (declarations []map[string]interface{}, hasWebSearch bool) {
	for _, tool := range tools {
		if isWebSearchTool(tool) {
			hasWebSearch = true
			continue
		}
		if strings.TrimSpace(tool.Name) == "" {
			continue
		}
		declarations = append(declarations, functionDeclarationFor(tool))
	}
	return declarations, hasWebSearch
}

func functionDeclarationFor(tool ClaudeTool) map[string]interface{} {
	inputSchema := tool.InputSchema
	if inputSchema == nil {
		inputSchema = map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		}
	}

	cleanedSchema := deepCopyMap(inputSchema)
	CleanJSONSchema(cleanedSchema)

	return map[string]interface{}{
		"name":        tool.Name,
		"description": tool.Description,
		"parameters":  cleanedSchema,
	}
}

// isWebSearchTool checks if a tool is a Web Search tool
// These are server-side tools that should be converted to googleSearch
func isWebSearchTool(tool ClaudeTool) bool {
	// Server tools: type starts with "web_search" (preferred)
	if strings.HasPrefix(strings.ToLower(tool.Type), "web_search") {
		return true
	}

	// Fallback: name-based detection (includes legacy "google_search")
	switch strings.ToLower(tool.Name) {
	case "web_search", "google_search", "google_search_retrieval":
		return true
	default:
		return false
	}
}

// deepCopyMap creates a deep copy of a map to avoid modifying original data
func deepCopyMap(src map[string]interface{}) map[string]interface{} {
	if src == nil {
		return nil
	}

	dst := make(map[string]interface{}, len(src))

	for key, value := range src {
		switch v := value.(type) {
		case map[string]interface{}:
			dst[key] = deepCopyMap(v)
		case []interface{}:
			dst[key] = deepCopySlice(v)
		default:
			dst[key] = v
		}
	}

	return dst
}

// deepCopySlice creates a deep copy of a slice
func deepCopySlice(src []interface{}) []interface{} {
	if src == nil {
		return nil
	}

	dst := make([]interface{}, len(src))

	for i, value := range src {
		switch v := value.(type) {
		case map[string]interface{}:
			dst[i] = deepCopyMap(v)
		case []interface{}:
			dst[i] = deepCopySlice(v)
		default:
			dst[i] = v
		}
	}

	return dst
}
