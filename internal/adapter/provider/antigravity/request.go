package antigravity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type RequestConfig struct {
	RequestType        string // "agent", "web_search", or "image_gen"
	FinalModel         string
	InjectGoogleSearch bool
	ImageConfig        map[string]interface{} // Image generation config (if request_type is image_gen)
}

// isStreamRequest checks if the request body indicates streaming
func isStreamRequest(body []byte) bool {
	var req map[string]interface{}
	if err := json.Unmarshal(body, &req); err != nil {
		return false
	}
	stream, _ := req["stream"].(bool)
	return stream
}

// extractSessionID derives the session fingerprint used for sticky account
// selection and as the upstream cache session id: the SHA-256 hash of the
// first user message's textual content. This is computed from the request
// itself rather than trusted from a client-supplied field, so it's stable
// across clients that never send one and can't be spoofed by one that does.
func extractSessionID(body []byte) string {
	text := extractFirstUserMessageText(body)
	if text == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func extractFirstUserMessageText(body []byte) string {
	var req map[string]interface{}
	if err := json.Unmarshal(body, &req); err != nil {
		return ""
	}

	messages, ok := req["messages"].([]interface{})
	if !ok {
		return ""
	}

	for _, m := range messages {
		msg, ok := m.(map[string]interface{})
		if !ok {
			continue
		}
		if role, _ := msg["role"].(string); role != "user" {
			continue
		}

		switch c := msg["content"].(type) {
		case string:
			if c != "" {
				return c
			}
		case []interface{}:
			var texts []string
			for _, b := range c {
				bm, ok := b.(map[string]interface{})
				if !ok {
					continue
				}
				if t, _ := bm["type"].(string); t != "text" {
					continue
				}
				if text, ok := bm["text"].(string); ok && text != "" {
					texts = append(texts, text)
				}
			}
			if len(texts) > 0 {
				return strings.Join(texts, " ")
			}
		}
	}

	return ""
}

// unwrapGeminiCLIEnvelope extracts the inner request from Gemini CLI envelope format
// Gemini CLI sends: {"request": {...}, "model": "..."}
// Gemini API expects just the inner request content
func unwrapGeminiCLIEnvelope(body []byte) []byte {
	var data map[string]interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		return body
	}

	if innerRequest, ok := data["request"]; ok {
		if unwrapped, err := json.Marshal(innerRequest); err == nil {
			return unwrapped
		}
	}

	return body
}

// resolveRequestConfig determines request type and final model name
func resolveRequestConfig(originalModel, mappedModel string, tools []interface{}) RequestConfig {
	// 1. Image Generation Check (Priority)
	if strings.HasPrefix(mappedModel, "gemini-3-pro-image") {
		imageConfig, cleanModel := ParseImageConfig(originalModel)
		return RequestConfig{
			RequestType: "image_gen",
			FinalModel:  cleanModel,
			ImageConfig: imageConfig,
		}
	}

	// Check for -online suffix
	isOnlineSuffix := strings.HasSuffix(originalModel, "-online")

	// Check for networking tools in the request
	hasNetworkingTool := detectsNetworkingTool(tools)

	// Strip -online suffix from final model
	finalModel := strings.TrimSuffix(mappedModel, "-online")

	// Determine if we should enable networking
	enableNetworking := isOnlineSuffix || hasNetworkingTool

	// If networking enabled, force gemini-2.5-flash (only model that supports googleSearch)
	if enableNetworking && finalModel != "gemini-2.5-flash" {
		finalModel = "gemini-2.5-flash"
	}

	requestType := "agent"
	if enableNetworking {
		requestType = "web_search"
	}

	return RequestConfig{
		RequestType:        requestType,
		FinalModel:         finalModel,
		InjectGoogleSearch: enableNetworking,
	}
}

// networkingToolNames are the web-search identifiers a client may use for
// "name", "type", or a nested function name, across the Anthropic, OpenAI,
// and Gemini tool-declaration shapes this proxy accepts.
var networkingToolNames = map[string]bool{
	"web_search":              true,
	"google_search":           true,
	"web_search_20250305":     true,
	"google_search_retrieval": true,
}

// detectsNetworkingTool checks if tool list contains networking/web search tools.
func detectsNetworkingTool(tools []interface{}) bool {
	for _, tool := range tools {
		toolMap, ok := tool.(map[string]interface{})
		if !ok {
			continue
		}

		// Direct style: { "name": "..." } or { "type": "..." }
		if networkingToolNames[stringField(toolMap, "name")] || networkingToolNames[stringField(toolMap, "type")] {
			return true
		}

		// OpenAI nested style: { "type": "function", "function": { "name": "..." } }
		if fn, ok := toolMap["function"].(map[string]interface{}); ok && networkingToolNames[stringField(fn, "name")] {
			return true
		}

		// Gemini tool declarations: { "functionDeclarations": [ { "name": "..." } ] }
		if decls, ok := toolMap["functionDeclarations"].([]interface{}); ok {
			for _, decl := range decls {
				if declMap, ok := decl.(map[string]interface{}); ok && networkingToolNames[stringField(declMap, "name")] {
					return true
				}
			}
		}

		// Gemini googleSearch declarations
		if _, ok := toolMap["googleSearch"]; ok {
			return true
		}
		if _, ok := toolMap["googleSearchRetrieval"]; ok {
			return true
		}
	}

	return false
}

func stringField(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

// wrapV1InternalRequest wraps the request body in v1internal format
func wrapV1InternalRequest(body []byte, projectID, originalModel, mappedModel, sessionID string, toolsForConfig []interface{}) ([]byte, error) {
	var innerRequest map[string]interface{}
	if err := json.Unmarshal(body, &innerRequest); err != nil {
		return nil, err
	}

	// Remove model field from inner request if present (will be at top level)
	delete(innerRequest, "model")

	toolsForDetection := toolsForConfig
	if toolsForDetection == nil {
		if tools, ok := innerRequest["tools"].([]interface{}); ok {
			toolsForDetection = tools
		}
	}
	config := resolveRequestConfig(originalModel, mappedModel, toolsForDetection)

	// Inject googleSearch if needed and no function declarations present
	if config.InjectGoogleSearch {
		injectGoogleSearchTool(innerRequest)
	}

	if config.ImageConfig != nil {
		// 1. Remove tools (image generation does not support tools)
		delete(innerRequest, "tools")
		// 2. Remove systemInstruction (image generation does not support system prompts)
		delete(innerRequest, "systemInstruction")
		// 3. Clean generationConfig and inject imageConfig
		if genConfig, ok := innerRequest["generationConfig"].(map[string]interface{}); ok {
			delete(genConfig, "thinkingConfig")
			delete(genConfig, "responseMimeType")
			delete(genConfig, "responseModalities")
			genConfig["imageConfig"] = config.ImageConfig
		} else {
			innerRequest["generationConfig"] = map[string]interface{}{
				"imageConfig": config.ImageConfig,
			}
		}
	}

	// Deep clean [undefined] strings (Cherry Studio client common injection)
	deepCleanUndefined(innerRequest)

	safetyThreshold := GetSafetyThresholdFromEnv()
	innerRequest["safetySettings"] = BuildSafetySettingsMap(safetyThreshold)

	if sessionID != "" {
		innerRequest["sessionId"] = sessionID
	}

	requestID := fmt.Sprintf("agent-%s", uuid.New().String())

	wrapped := map[string]interface{}{
		"project":     projectID,
		"requestId":   requestID,
		"request":     innerRequest,
		"model":       config.FinalModel,
		"userAgent":   "antigravity",
		"requestType": config.RequestType,
	}

	return json.Marshal(wrapped)
}

// stripThinkingFromClaude removes thinking config and blocks to retry without thinking (like Manager 400 retry)
func stripThinkingFromClaude(body []byte) []byte {
	var req map[string]interface{}
	if err := json.Unmarshal(body, &req); err != nil {
		return body
	}

	// Remove thinking config
	delete(req, "thinking")

	// Clean model suffix
	if model, ok := req["model"].(string); ok {
		req["model"] = strings.ReplaceAll(model, "-thinking", "")
	}

	// Remove thinking/redacted_thinking blocks from messages
	if messages, ok := req["messages"].([]interface{}); ok {
		for i, msg := range messages {
			msgMap, ok := msg.(map[string]interface{})
			if !ok {
				continue
			}
			content, ok := msgMap["content"].([]interface{})
			if !ok {
				continue
			}
			var filtered []interface{}
			for _, c := range content {
				if block, ok := c.(map[string]interface{}); ok {
					if t, ok := block["type"].(string); ok {
						if t == "thinking" || t == "redacted_thinking" {
							continue
						}
					}
				}
				filtered = append(filtered, c)
			}
			msgMap["content"] = filtered
			messages[i] = msgMap
		}
		req["messages"] = messages
	}

	data, err := json.Marshal(req)
	if err != nil {
		return body
	}
	return data
}

// extractModelFromBody extracts model from a Claude request body
func extractModelFromBody(body []byte) string {
	var req map[string]interface{}
	if err := json.Unmarshal(body, &req); err != nil {
		return ""
	}
	if model, ok := req["model"].(string); ok {
		return model
	}
	return ""
}

// deepCleanUndefined recursively removes [undefined] strings from request body
func deepCleanUndefined(data map[string]interface{}) {
	for key, val := range data {
		if s, ok := val.(string); ok && s == "[undefined]" {
			delete(data, key)
			continue
		}
		if nested, ok := val.(map[string]interface{}); ok {
			deepCleanUndefined(nested)
		}
		if arr, ok := val.([]interface{}); ok {
			var filtered []interface{}
			for _, item := range arr {
				// Drop literal "[undefined]" items
				if s, ok := item.(string); ok && s == "[undefined]" {
					continue
				}
				if m, ok := item.(map[string]interface{}); ok {
					deepCleanUndefined(m)
				}
				filtered = append(filtered, item)
			}
			data[key] = filtered
		}
	}
}

func firstNRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func matchesAnyKeyword(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func extractLastUserMessageForBackgroundDetection(messages []interface{}) string {
	for i := len(messages) - 1; i >= 0; i-- {
		msg, ok := messages[i].(map[string]interface{})
		if !ok {
			continue
		}
		role, _ := msg["role"].(string)
		if role != "user" {
			continue
		}

		var content string
		switch c := msg["content"].(type) {
		case string:
			content = c
		case []interface{}:
			var texts []string
			for _, b := range c {
				bm, ok := b.(map[string]interface{})
				if !ok {
					continue
				}
				if t, _ := bm["type"].(string); t != "text" {
					continue
				}
				if text, ok := bm["text"].(string); ok {
					texts = append(texts, text)
				}
			}
			content = strings.Join(texts, " ")
		}

		if strings.TrimSpace(content) == "" ||
			strings.HasPrefix(content, "Warmup") ||
			strings.Contains(content, "<system-reminder>") {
			continue
		}

		return content
	}

	return ""
}

// backgroundTaskRule matches a class of housekeeping prompt (title
// generation, conversation summarization, ...) that a client sends as a
// real chat completion but that doesn't need the full agent model.
type backgroundTaskRule struct {
	keywords func(preview string) bool
	model    string
}

var backgroundTaskRules = []backgroundTaskRule{
	{keywordMatcher("Warmup", "<system-reminder>", "This is a system message"), "gemini-2.5-flash-lite"},
	{keywordMatcher(
		"write a 5-10 word title", "Please write a 5-10 word title", "Respond with the title",
		"Generate a title for", "Create a brief title", "title for the conversation", "conversation title",
		"生成标题", "为对话起个标题",
	), "gemini-2.5-flash-lite"},
	// Context-compression summaries need more headroom than a one-line
	// blurb, so they route to standard flash instead of the lite tier.
	{func(preview string) bool {
		return strings.Contains(preview, "compress the context") || strings.Contains(preview, "condense the previous messages")
	}, "gemini-2.5-flash"},
	{keywordMatcher(
		"Summarize this coding conversation", "Summarize the conversation", "Concise summary",
		"in under 50 characters", "Provide a concise summary", "shorten the conversation history",
		"extract key points from",
	), "gemini-2.5-flash-lite"},
	{keywordMatcher(
		"prompt suggestion generator", "suggest next prompts", "what should I ask next",
		"generate follow-up questions", "recommend next steps", "possible next actions",
	), "gemini-2.5-flash-lite"},
	{keywordMatcher(
		"check current directory", "list available tools", "verify environment", "test connection",
	), "gemini-2.5-flash-lite"},
}

func keywordMatcher(keywords ...string) func(string) bool {
	return func(preview string) bool {
		return matchesAnyKeyword(preview, keywords)
	}
}

// detectBackgroundTask checks the latest meaningful user message for background-task keywords.
// Returns (true, forcedModel, modifiedBody) when detected, with tools/thinking stripped and thinking blocks removed.
func detectBackgroundTask(body []byte) (bool, string, []byte) {
	var req map[string]interface{}
	if err := json.Unmarshal(body, &req); err != nil {
		return false, "", body
	}

	messages, ok := req["messages"].([]interface{})
	if !ok || len(messages) == 0 {
		return false, "", body
	}

	lastUserText := extractLastUserMessageForBackgroundDetection(messages)
	if lastUserText == "" {
		return false, "", body
	}

	// Background tasks are typically short; skip if too long
	if len(lastUserText) > 800 {
		return false, "", body
	}

	preview := firstNRunes(lastUserText, 500)

	taskModel := ""
	for _, rule := range backgroundTaskRules {
		if rule.keywords(preview) {
			taskModel = rule.model
			break
		}
	}

	if taskModel == "" {
		return false, "", body
	}

	// Strip tools and thinking config
	delete(req, "tools")
	delete(req, "thinking")

	// Remove thinking/redacted_thinking blocks from message contents
	for i, m := range messages {
		msg, ok := m.(map[string]interface{})
		if !ok {
			continue
		}
		blocks, ok := msg["content"].([]interface{})
		if !ok {
			continue
		}
		var filtered []interface{}
		for _, b := range blocks {
			if bm, ok := b.(map[string]interface{}); ok {
				if t, _ := bm["type"].(string); t == "thinking" || t == "redacted_thinking" {
					continue
				}
			}
			filtered = append(filtered, b)
		}
		msg["content"] = filtered
		messages[i] = msg
	}
	req["messages"] = messages

	newBody, err := json.Marshal(req)
	if err != nil {
		return true, taskModel, body
	}
	return true, taskModel, newBody
}

// injectGoogleSearchTool injects googleSearch tool if not already present
// and no functionDeclarations exist (can't mix search with functions)
func injectGoogleSearchTool(innerRequest map[string]interface{}) {
	tools, ok := innerRequest["tools"].([]interface{})
	if !ok {
		tools = []interface{}{}
	}

	// Check if functionDeclarations already exist
	for _, tool := range tools {
		if toolMap, ok := tool.(map[string]interface{}); ok {
			if _, hasFuncDecls := toolMap["functionDeclarations"]; hasFuncDecls {
				// Can't mix search tools with function declarations
				return
			}
		}
	}

	// Remove existing googleSearch/googleSearchRetrieval
	var filteredTools []interface{}
	for _, tool := range tools {
		if toolMap, ok := tool.(map[string]interface{}); ok {
			if _, ok := toolMap["googleSearch"]; ok {
				continue
			}
			if _, ok := toolMap["googleSearchRetrieval"]; ok {
				continue
			}
		}
		filteredTools = append(filteredTools, tool)
	}

	// Add googleSearch
	filteredTools = append(filteredTools, map[string]interface{}{
		"googleSearch": map[string]interface{}{},
	})

	innerRequest["tools"] = filteredTools
}
