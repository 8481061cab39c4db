package antigravity

import "strings"

// remapFunctionCallArgs rewrites a few built-in tools' argument names from
// what Gemini's function-calling schema produces to what Claude Code's
// own tool implementations expect (grep/glob's "query" vs "pattern",
// "paths" array vs a single "path", read's "path" vs "file_path").
func remapFunctionCallArgs(toolName string, args map[string]interface{}) {
	if args == nil {
		return
	}

	switch strings.ToLower(toolName) {
	case "grep", "glob":
		if query, ok := args["query"]; ok {
			if _, hasPattern := args["pattern"]; !hasPattern {
				args["pattern"] = query
				delete(args, "query")
			}
		}
		if _, hasPath := args["path"]; !hasPath {
			if paths, ok := args["paths"]; ok {
				args["path"] = extractFirstPath(paths)
				delete(args, "paths")
			} else {
				args["path"] = "."
			}
		}

	case "read":
		if path, ok := args["path"]; ok {
			if _, hasFilePath := args["file_path"]; !hasFilePath {
				args["file_path"] = path
				delete(args, "path")
			}
		}

	case "ls":
		if _, hasPath := args["path"]; !hasPath {
			args["path"] = "."
		}
	}
}

// extractFirstPath pulls a single path out of whatever shape Gemini sent:
// a JSON array (take the first string) or a bare string.
func extractFirstPath(paths interface{}) string {
	switch v := paths.(type) {
	case []interface{}:
		if len(v) > 0 {
			if s, ok := v[0].(string); ok {
				return s
			}
		}
		return "."
	case string:
		return v
	default:
		return "."
	}
}
