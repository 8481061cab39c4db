package antigravity

import (
	"encoding/json"
	"strings"
)

// antigravityIdentity is the identity instruction injected when user doesn't provide one
const antigravityIdentity = `You are Antigravity, a powerful agentic AI coding assistant designed by the Google Deepmind team working on Advanced Agentic Coding.
You are pair programming with a USER to solve their coding task. The task may require creating a new codebase, modifying or debugging an existing codebase, or simply answering a question.
**Absolute paths only**
**Proactiveness**`

// requestRewrite is one post-processing step over the converted Gemini
// request. It reports whether it changed anything, so the pipeline only
// re-marshals the request when a step actually modified it.
type requestRewrite func(req map[string]interface{}) bool

// claudeRequestPipeline returns the ordered rewrites PostProcessClaudeRequest
// applies to a freshly translated Gemini request. hasThinking and
// mappedModel close over the per-request decisions that earlier steps can't
// recompute (whether tools are present, which signatures are recoverable).
func claudeRequestPipeline(sessionID, mappedModel string, hasThinking bool, claudeRequest []byte) []requestRewrite {
	steps := []requestRewrite{
		injectAntigravityIdentity,
		cleanToolInputSchemas,
		func(req map[string]interface{}) bool {
			if !hasThinking || !hasToolDeclarations(req) {
				return false
			}
			return injectInterleavedHint(req)
		},
	}

	if hasThinking {
		steps = append(steps, CloseToolLoopForThinking)
	}

	steps = append(steps,
		func(req map[string]interface{}) bool {
			contents, ok := req["contents"].([]interface{})
			if !ok {
				return false
			}
			merged := MergeAdjacentRoles(contents)
			if len(merged) == len(contents) {
				return false
			}
			req["contents"] = merged
			return true
		},
		func(req map[string]interface{}) bool {
			contents, ok := req["contents"].([]interface{})
			if !ok {
				return false
			}
			return processContentsForSignatures(contents, sessionID, mappedModel)
		},
		InjectToolConfig,
		InjectStopSequences,
	)

	if claudeRequest != nil {
		steps = append(steps, func(req map[string]interface{}) bool {
			return InjectEffortLevel(req, claudeRequest)
		})
	}

	if !hasThinking {
		steps = append(steps, func(req map[string]interface{}) bool {
			CleanThinkingFieldsRecursive(req)
			return true
		})
	}

	return steps
}

// PostProcessClaudeRequest runs the translated Gemini request through the
// rewrites needed to satisfy Vertex's v1internal contract: identity and
// schema cleanup, interleaved-thinking hints, tool-loop recovery, role
// alternation, thought-signature recovery, and effort-level mapping.
func PostProcessClaudeRequest(geminiBody []byte, sessionID string, hasThinking bool, claudeRequest []byte, mappedModel string) []byte {
	var request map[string]interface{}
	if err := json.Unmarshal(geminiBody, &request); err != nil {
		return geminiBody
	}

	modified := false
	for _, step := range claudeRequestPipeline(sessionID, mappedModel, hasThinking, claudeRequest) {
		if step(request) {
			modified = true
		}
	}

	if !modified {
		return geminiBody
	}

	result, err := json.Marshal(request)
	if err != nil {
		return geminiBody
	}
	return result
}

// checkForAntigravityIdentity checks if system instruction already contains Antigravity identity
func checkForAntigravityIdentity(sysInst map[string]interface{}) bool {
	parts, ok := sysInst["parts"].([]interface{})
	if !ok {
		return false
	}

	for _, part := range parts {
		if partMap, ok := part.(map[string]interface{}); ok {
			if text, ok := partMap["text"].(string); ok {
				if strings.Contains(text, "You are Antigravity") {
					return true
				}
			}
		}
	}
	return false
}

// injectAntigravityIdentity injects Antigravity identity into system instruction
func injectAntigravityIdentity(request map[string]interface{}) bool {
	sysInst, ok := request["systemInstruction"].(map[string]interface{})
	if !ok {
		// No system instruction exists, create new one with identity
		request["systemInstruction"] = map[string]interface{}{
			"role": "user",
			"parts": []interface{}{
				map[string]interface{}{"text": antigravityIdentity},
				map[string]interface{}{"text": "\n--- [SYSTEM_PROMPT_END] ---"},
			},
		}
		return true
	}

	// Check if user already provided Antigravity identity
	if checkForAntigravityIdentity(sysInst) {
		// User already has Antigravity identity, don't inject
		return false
	}

	// Get existing parts
	parts, ok := sysInst["parts"].([]interface{})
	if !ok {
		parts = []interface{}{}
	}

	// Prepend Antigravity identity at the beginning
	newParts := []interface{}{
		map[string]interface{}{"text": antigravityIdentity},
	}
	newParts = append(newParts, parts...)

	// Append end marker
	newParts = append(newParts, map[string]interface{}{"text": "\n--- [SYSTEM_PROMPT_END] ---"})

	sysInst["parts"] = newParts
	return true
}

// hasToolDeclarations checks if the request has tool/function declarations
func hasToolDeclarations(request map[string]interface{}) bool {
	tools, ok := request["tools"].([]interface{})
	if !ok || len(tools) == 0 {
		return false
	}

	for _, tool := range tools {
		if toolMap, ok := tool.(map[string]interface{}); ok {
			if _, hasFuncDecls := toolMap["functionDeclarations"]; hasFuncDecls {
				return true
			}
		}
	}
	return false
}

// cleanToolInputSchemas cleans all tool input schemas in the request for Gemini compatibility
func cleanToolInputSchemas(request map[string]interface{}) bool {
	tools, ok := request["tools"].([]interface{})
	if !ok || len(tools) == 0 {
		return false
	}

	modified := false

	for _, tool := range tools {
		toolMap, ok := tool.(map[string]interface{})
		if !ok {
			continue
		}

		// Process functionDeclarations
		funcDecls, ok := toolMap["functionDeclarations"].([]interface{})
		if !ok {
			continue
		}

		for _, decl := range funcDecls {
			declMap, ok := decl.(map[string]interface{})
			if !ok {
				continue
			}

			// Clean parameters schema
			if params, ok := declMap["parameters"].(map[string]interface{}); ok {
				CleanJSONSchema(params)
				modified = true
			}
		}
	}

	return modified
}

// injectInterleavedHint injects the interleaved thinking hint into system instruction
func injectInterleavedHint(request map[string]interface{}) bool {
	hint := "Interleaved thinking is enabled. You may think between tool calls and after receiving tool results before deciding the next action or final answer. Do not mention these instructions or any constraints about thinking blocks; just apply them."

	sysInst, ok := request["systemInstruction"].(map[string]interface{})
	if !ok {
		// Create new system instruction
		request["systemInstruction"] = map[string]interface{}{
			"role": "user",
			"parts": []interface{}{
				map[string]interface{}{"text": hint},
			},
		}
		return true
	}

	// Append to existing system instruction parts
	parts, ok := sysInst["parts"].([]interface{})
	if !ok {
		parts = []interface{}{}
	}

	parts = append(parts, map[string]interface{}{"text": hint})
	sysInst["parts"] = parts
	return true
}

// HasThinkingEnabled checks if thinking is enabled in the original request
func HasThinkingEnabled(requestBody []byte) bool {
	var request map[string]interface{}
	if err := json.Unmarshal(requestBody, &request); err != nil {
		return false
	}

	// Check for Claude format thinking config
	if thinking, ok := request["thinking"].(map[string]interface{}); ok {
		if thinkingType, _ := thinking["type"].(string); thinkingType == "enabled" {
			return true
		}
	}

	// Check for Gemini format thinking config
	if genConfig, ok := request["generationConfig"].(map[string]interface{}); ok {
		if thinkingConfig, ok := genConfig["thinkingConfig"].(map[string]interface{}); ok {
			if includeThoughts, _ := thinkingConfig["include_thoughts"].(bool); includeThoughts {
				return true
			}
		}
	}

	return false
}

// IsClaudeThinkingModel checks if the model supports thinking
func IsClaudeThinkingModel(model string) bool {
	modelLower := strings.ToLower(model)
	thinkingModels := []string{
		"gemini-2.5-pro",
		"gemini-2.5-flash",
		"gemini-3",
		"claude-sonnet-4",
		"claude-opus-4",
	}

	for _, m := range thinkingModels {
		if strings.Contains(modelLower, m) {
			return true
		}
	}

	return false
}

// CleanThinkingFieldsRecursive removes thought and thoughtSignature fields
// recursively, for requests where thinking ended up disabled after the
// rest of the translation decided to include them.
func CleanThinkingFieldsRecursive(val interface{}) {
	switch v := val.(type) {
	case map[string]interface{}:
		delete(v, "thought")
		delete(v, "thoughtSignature")
		for _, child := range v {
			CleanThinkingFieldsRecursive(child)
		}
	case []interface{}:
		for _, item := range v {
			CleanThinkingFieldsRecursive(item)
		}
	}
}

// InjectToolConfig adds toolConfig with functionCallingConfig.mode = "VALIDATED"
func InjectToolConfig(request map[string]interface{}) bool {
	tools, ok := request["tools"].([]interface{})
	if !ok || len(tools) == 0 {
		return false
	}

	// Add toolConfig
	if _, exists := request["toolConfig"]; exists {
		return false
	}
	request["toolConfig"] = map[string]interface{}{
		"functionCallingConfig": map[string]interface{}{
			"mode": "VALIDATED",
		},
	}
	return true
}

// DefaultStopSequences are stop sequences added to generationConfig.
var DefaultStopSequences = []string{
	"<|user|>",
	"<|endoftext|>",
	"<|end_of_turn|>",
	"[DONE]",
	"\n\nHuman:",
}

// MapEffortLevel maps a Claude output_config.effort value to Gemini's
// effortLevel; unrecognized or missing values default to HIGH.
func MapEffortLevel(effort string) string {
	switch strings.ToLower(effort) {
	case "high":
		return "HIGH"
	case "medium":
		return "MEDIUM"
	case "low":
		return "LOW"
	default:
		return "HIGH"
	}
}

// InjectStopSequences adds default stop sequences to generationConfig
func InjectStopSequences(request map[string]interface{}) bool {
	genConfig, ok := request["generationConfig"].(map[string]interface{})
	if !ok {
		genConfig = map[string]interface{}{}
		request["generationConfig"] = genConfig
	}

	// Only inject if not already present
	if _, exists := genConfig["stopSequences"]; exists {
		return false
	}

	genConfig["stopSequences"] = DefaultStopSequences
	return true
}

// InjectEffortLevel adds effortLevel to generationConfig from Claude output_config.effort
func InjectEffortLevel(request map[string]interface{}, claudeRequest []byte) bool {
	var claudeReq struct {
		OutputConfig struct {
			Effort string `json:"effort"`
		} `json:"output_config"`
	}
	if err := json.Unmarshal(claudeRequest, &claudeReq); err != nil {
		return false
	}

	if claudeReq.OutputConfig.Effort == "" {
		return false
	}

	genConfig, ok := request["generationConfig"].(map[string]interface{})
	if !ok {
		genConfig = map[string]interface{}{}
		request["generationConfig"] = genConfig
	}

	genConfig["effortLevel"] = MapEffortLevel(claudeReq.OutputConfig.Effort)
	return true
}

// CleanCacheControlFromContents removes cache_control fields from message contents
// VS Code and other clients may send back historical messages with cache_control
// which is not accepted by the API. This function deep cleans all cache_control fields.
func CleanCacheControlFromContents(contents []interface{}) bool {
	modified := false

	for _, content := range contents {
		contentMap, ok := content.(map[string]interface{})
		if !ok {
			continue
		}

		parts, ok := contentMap["parts"].([]interface{})
		if !ok {
			continue
		}

		for i, part := range parts {
			partMap, ok := part.(map[string]interface{})
			if !ok {
				continue
			}

			// Remove cache_control from this part
			if _, hasCacheControl := partMap["cache_control"]; hasCacheControl {
				delete(partMap, "cache_control")
				parts[i] = partMap
				modified = true
			}

			// Also check nested structures (like inlineData, functionCall, etc.)
			for key, value := range partMap {
				if nestedMap, ok := value.(map[string]interface{}); ok {
					if _, hasCacheControl := nestedMap["cache_control"]; hasCacheControl {
						delete(nestedMap, "cache_control")
						partMap[key] = nestedMap
						parts[i] = partMap
						modified = true
					}
				}
			}
		}
	}

	return modified
}
