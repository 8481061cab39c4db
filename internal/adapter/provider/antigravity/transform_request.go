package antigravity

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
)

// TransformClaudeToGemini translates an Anthropic Messages API request
// body into a Gemini v1internal request body targeting mappedModel.
// sessionID and signatureCache feed the thought-signature recovery that
// keeps Gemini 3 Pro's tool loop intact across turns a client stripped.
func TransformClaudeToGemini(
	claudeReqBody []byte,
	mappedModel string,
	stream bool,
	sessionID string,
	signatureCache *ThoughtSignatureStore,
) (geminiReqBody []byte, err error) {
	var claudeReq ClaudeRequest
	if err := json.Unmarshal(claudeReqBody, &claudeReq); err != nil {
		return nil, fmt.Errorf("failed to parse Claude request: %w", err)
	}

	cleanCacheControlFromRequest(&claudeReq)

	if detectWebSearchTool(&claudeReq) {
		// Web search only works reliably on gemini-2.5-flash.
		log.Printf("[Antigravity] detected web search tool, forcing model to gemini-2.5-flash (was: %s)", mappedModel)
		mappedModel = "gemini-2.5-flash"
	}

	filterInvalidThinkingBlocks(&claudeReq.Messages)
	closeToolLoopForThinking(&claudeReq.Messages)
	removeTrailingUnsignedThinking(&claudeReq.Messages)

	hasThinking := calculateFinalThinkingState(&claudeReq, mappedModel, signatureCache)

	geminiReq := make(map[string]interface{})

	if systemInstruction := buildSystemInstruction(&claudeReq, mappedModel); systemInstruction != nil {
		geminiReq["systemInstruction"] = systemInstruction
	}

	contents, err := buildContents(claudeReq.Messages, mappedModel, sessionID, signatureCache)
	if err != nil {
		return nil, fmt.Errorf("failed to build contents: %w", err)
	}
	geminiReq["contents"] = contents

	if tools := buildTools(&claudeReq); tools != nil {
		geminiReq["tools"] = tools
	}

	geminiReq["generationConfig"] = buildGenerationConfig(&claudeReq, mappedModel, stream, hasThinking)
	geminiReq["safetySettings"] = BuildSafetySettingsMap(GetSafetyThresholdFromEnv())

	// Some clients (Cherry Studio among them) inject the literal string
	// "[undefined]" where a field should have been omitted.
	deepCleanUndefined(geminiReq)

	return json.Marshal(geminiReq)
}

// cleanCacheControlFromRequest removes cache_control from all blocks
func cleanCacheControlFromRequest(claudeReq *ClaudeRequest) {
	// 1. Clean messages
	for i := range claudeReq.Messages {
		blocks := parseContentBlocks(claudeReq.Messages[i].Content)
		if blocks == nil {
			continue
		}

		for j := range blocks {
			blocks[j].CacheControl = nil
		}

		claudeReq.Messages[i].Content = blocks
	}

	// 2. Clean system (if it's an array)
	if systemBlocks, ok := claudeReq.System.([]interface{}); ok {
		for _, block := range systemBlocks {
			if blockMap, ok := block.(map[string]interface{}); ok {
				delete(blockMap, "cache_control")
			}
		}
	}

	// 3. Clean tools
	for i := range claudeReq.Tools {
		claudeReq.Tools[i].CacheControl = nil
	}
}

func hasValidThinkingSignature(thinkingText, signature string) bool {
	// Empty thinking + any signature = valid (trailing signature case)
	if thinkingText == "" && signature != "" {
		return true
	}
	// Non-empty thinking must have a "long enough" signature
	return IsValidSignature(signature)
}

// filterInvalidThinkingBlocks filters invalid thinking blocks from message history.
// - Only touches assistant/model roles
// - Invalid thinking blocks are converted to text (preserve content) or dropped if empty
// - Ensures message content is not empty (injects an empty text block)
func filterInvalidThinkingBlocks(messages *[]ClaudeMessage) {
	for i := range *messages {
		role := (*messages)[i].Role
		if role != "assistant" && role != "model" {
			continue
		}

		blocks := parseContentBlocks((*messages)[i].Content)
		if blocks == nil {
			continue
		}

		filtered := make([]ContentBlock, 0, len(blocks))
		for _, block := range blocks {
			if block.Type != "thinking" {
				filtered = append(filtered, block)
				continue
			}

			if hasValidThinkingSignature(block.Thinking, block.Signature) {
				// Sanitize: cache_control should not be forwarded
				block.CacheControl = nil
				filtered = append(filtered, block)
				continue
			}

			// Invalid signature: preserve content by downgrading to text (Manager behavior)
			if strings.TrimSpace(block.Thinking) != "" {
				filtered = append(filtered, ContentBlock{
					Type: "text",
					Text: block.Thinking,
				})
			}
		}

		if len(filtered) == 0 {
			filtered = append(filtered, ContentBlock{
				Type: "text",
				Text: "",
			})
		}

		(*messages)[i].Content = filtered
	}
}

// removeTrailingUnsignedThinking removes trailing thinking blocks without valid signatures from assistant/model messages.
func removeTrailingUnsignedThinking(messages *[]ClaudeMessage) {
	for i := range *messages {
		role := (*messages)[i].Role
		if role != "assistant" && role != "model" {
			continue
		}

		blocks := parseContentBlocks((*messages)[i].Content)
		if blocks == nil || len(blocks) == 0 {
			continue
		}

		endIndex := len(blocks)
		for j := len(blocks) - 1; j >= 0; j-- {
			if blocks[j].Type != "thinking" {
				break
			}
			if !hasValidThinkingSignature(blocks[j].Thinking, blocks[j].Signature) {
				endIndex = j
				continue
			}
			break
		}

		if endIndex < len(blocks) {
			blocks = blocks[:endIndex]
			(*messages)[i].Content = blocks
		}
	}
}

// closeToolLoopForThinking injects synthetic messages to break tool loops
func closeToolLoopForThinking(messages *[]ClaudeMessage) {
	if len(*messages) == 0 {
		return
	}

	// Only recover when we are in a tool loop:
	// the last message is a user ToolResult, but the preceding assistant message has no Thinking block.
	lastMsg := (*messages)[len(*messages)-1]
	if lastMsg.Role != "user" {
		return
	}

	lastBlocks := parseContentBlocks(lastMsg.Content)
	inToolLoop := false
	for _, block := range lastBlocks {
		if block.Type == "tool_result" {
			inToolLoop = true
			break
		}
	}
	if !inToolLoop {
		return
	}

	// Find last assistant message
	lastAssistantIdx := -1
	for i := len(*messages) - 1; i >= 0; i-- {
		if (*messages)[i].Role == "assistant" {
			lastAssistantIdx = i
			break
		}
	}

	if lastAssistantIdx == -1 {
		return
	}

	// Check if it has a Thinking block
	blocks := parseContentBlocks((*messages)[lastAssistantIdx].Content)
	hasThinking := false

	for _, block := range blocks {
		if block.Type == "thinking" {
			hasThinking = true
			break
		}
	}

	if !hasThinking {
		log.Println("[Antigravity] Detected broken tool loop, injecting synthetic messages")

		// Inject synthetic assistant message
		*messages = append(*messages, ClaudeMessage{
			Role: "assistant",
			Content: []ContentBlock{
				{
					Type: "text",
					Text: "[Tool execution completed. Please proceed.]",
				},
			},
		})

		// Inject synthetic user message
		*messages = append(*messages, ClaudeMessage{
			Role: "user",
			Content: []ContentBlock{
				{
					Type: "text",
					Text: "Proceed.",
				},
			},
		})
	}
}

// parseContentBlocks converts interface{} content to []ContentBlock
func parseContentBlocks(content interface{}) []ContentBlock {
	switch c := content.(type) {
	case string:
		// Simple text message
		return []ContentBlock{
			{
				Type: "text",
				Text: c,
			},
		}
	case []interface{}:
		// Array of blocks
		blocks := make([]ContentBlock, 0, len(c))
		for _, item := range c {
			if blockMap, ok := item.(map[string]interface{}); ok {
				block := ContentBlock{}
				if data, err := json.Marshal(blockMap); err == nil {
					if err := json.Unmarshal(data, &block); err == nil {
						blocks = append(blocks, block)
					}
				}
			}
		}
		return blocks
	case []ContentBlock:
		// Already ContentBlock array
		return c
	default:
		return nil
	}
}

// extractSystemText extracts text from system prompt (string or array)
func extractSystemText(system interface{}) string {
	switch sys := system.(type) {
	case string:
		return sys
	case []interface{}:
		var texts []string
		for _, block := range sys {
			if blockMap, ok := block.(map[string]interface{}); ok {
				if text, ok := blockMap["text"].(string); ok {
					texts = append(texts, text)
				}
			}
		}
		return strings.Join(texts, "\n")
	default:
		return ""
	}
}

// detectWebSearchTool reports whether the request declares a web search
// tool, in which case the translated model target is forced to
// gemini-2.5-flash regardless of what the client asked for.
func detectWebSearchTool(claudeReq *ClaudeRequest) bool {
	for _, tool := range claudeReq.Tools {
		if isWebSearchTool(tool) {
			return true
		}
	}
	return false
}

