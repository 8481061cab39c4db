package antigravity

import (
	"encoding/json"
	"log"
	"strings"
)

// contentBuilder accumulates the Gemini parts for one Claude message,
// carrying the signature and tool-name state that must flow across block
// boundaries within a turn (a tool_use's name must reach its later
// tool_result, a thinking block's signature must reach the function call
// that follows it).
type contentBuilder struct {
	mappedModel    string
	signatureCache *ThoughtSignatureStore
	toolIDToName   map[string]string
	lastSignature  string
}

// blockHandler turns one Claude content block into zero or one Gemini
// part, given the builder's running state and how many parts this message
// has produced so far (thinking blocks only survive in first position).
// A nil return drops the block.
type blockHandler func(b *contentBuilder, block ContentBlock, partsSoFar int) map[string]interface{}

var blockHandlers = map[string]blockHandler{
	"thinking":           (*contentBuilder).handleThinking,
	"redacted_thinking":  (*contentBuilder).handleRedactedThinking,
	"text":               (*contentBuilder).handleText,
	"tool_use":           (*contentBuilder).handleToolUse,
	"tool_result":        (*contentBuilder).handleToolResult,
	"image":              (*contentBuilder).handleInlineData,
	"document":           (*contentBuilder).handleInlineData,
}

// buildContents translates a Claude message history into Gemini contents,
// tracking tool-name and thought-signature state across the whole
// conversation so later turns can recover what earlier ones dropped.
func buildContents(
	messages []ClaudeMessage,
	mappedModel string,
	sessionID string,
	signatureCache *ThoughtSignatureStore,
) ([]map[string]interface{}, error) {
	builder := &contentBuilder{
		mappedModel:    mappedModel,
		signatureCache: signatureCache,
		toolIDToName:   make(map[string]string),
	}

	contents := []map[string]interface{}{}
	for _, msg := range messages {
		parts := builder.buildParts(msg)
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, map[string]interface{}{
			"role":  mapRole(msg.Role),
			"parts": parts,
		})
	}

	return mergeAdjacentRoles(contents), nil
}

// buildParts turns a single message's content into Gemini parts, dropping
// placeholder "(no content)" text and routing every structured block
// through blockHandlers.
func (b *contentBuilder) buildParts(msg ClaudeMessage) []map[string]interface{} {
	parts := []map[string]interface{}{}

	if text, ok := msg.Content.(string); ok {
		if text != "(no content)" {
			if trimmed := strings.TrimSpace(text); trimmed != "" {
				parts = append(parts, map[string]interface{}{"text": trimmed})
			}
		}
		return parts
	}

	for _, block := range parseContentBlocks(msg.Content) {
		handler, ok := blockHandlers[block.Type]
		if !ok {
			continue
		}
		part := handler(b, block, len(parts))
		if part == nil {
			continue
		}
		parts = append(parts, part)
		if sig, ok := part["thoughtSignature"].(string); ok && sig != "" {
			b.lastSignature = sig
		}
	}

	return parts
}

// handleThinking converts a thinking block, downgrading it to plain text
// if it isn't positioned first or if its signature was cached against a
// model family incompatible with where this request is headed.
func (b *contentBuilder) handleThinking(block ContentBlock, partsSoFar int) map[string]interface{} {
	if partsSoFar > 0 {
		log.Println("[Antigravity] thinking block not first, downgrading to text")
		return map[string]interface{}{"text": block.Thinking}
	}

	if block.Thinking == "" {
		return map[string]interface{}{"text": "..."}
	}

	signature := block.Signature
	if signature == "" && b.lastSignature != "" {
		signature = b.lastSignature
	}

	if signature != "" && b.signatureCache != nil {
		if family := b.signatureCache.FamilyOf(signature); family != "" && !SameModelFamily(family, b.mappedModel) {
			log.Printf("[Antigravity] incompatible signature detected (family: %s, target: %s), dropping signature", family, b.mappedModel)
			return map[string]interface{}{"text": block.Thinking}
		}
	}

	part := map[string]interface{}{
		"text":    block.Thinking,
		"thought": true,
	}
	if hasValidThinkingSignature(block.Thinking, signature) {
		part["thoughtSignature"] = signature
	}
	return part
}

func (b *contentBuilder) handleRedactedThinking(block ContentBlock, _ int) map[string]interface{} {
	return map[string]interface{}{
		"text": "[Redacted Thinking: " + block.Data + "]",
	}
}

func (b *contentBuilder) handleText(block ContentBlock, _ int) map[string]interface{} {
	if block.Text == "(no content)" {
		return nil
	}
	return map[string]interface{}{"text": block.Text}
}

// handleToolUse recovers a thoughtSignature through the same four-layer
// priority chain used everywhere else in this adapter: the block's own
// signature, the last thinking signature seen this turn, a per-tool cached
// signature from an earlier turn, and finally the process-wide fallback.
func (b *contentBuilder) handleToolUse(block ContentBlock, _ int) map[string]interface{} {
	var cleanedArgs map[string]interface{}
	if block.Input != nil {
		cleanedArgs = deepCopyMap(block.Input)
		CleanJSONSchema(cleanedArgs)
	}

	part := map[string]interface{}{
		"functionCall": map[string]interface{}{
			"name": block.Name,
			"args": cleanedArgs,
			"id":   block.ID,
		},
	}
	b.toolIDToName[block.ID] = block.Name

	signature := block.Signature
	if signature == "" && b.lastSignature != "" {
		signature = b.lastSignature
	}
	if signature == "" && b.signatureCache != nil {
		signature = b.signatureCache.RecallForTool(block.ID)
	}
	if signature == "" {
		signature = ThoughtSignatures().Fallback()
	}
	if signature != "" {
		part["thoughtSignature"] = signature
	}

	return part
}

// handleToolResult backfills an empty tool result with a placeholder,
// since Vertex rejects a functionResponse with no content at all.
func (b *contentBuilder) handleToolResult(block ContentBlock, _ int) map[string]interface{} {
	mergedContent := extractToolResultContent(block.Content)
	if strings.TrimSpace(mergedContent) == "" {
		if block.IsError != nil && *block.IsError {
			mergedContent = "Tool execution failed with no output."
		} else {
			mergedContent = "Command executed successfully."
		}
	}

	toolName := b.toolIDToName[block.ToolUseID]
	if toolName == "" {
		toolName = block.ToolUseID
	}

	part := map[string]interface{}{
		"functionResponse": map[string]interface{}{
			"name": toolName,
			"response": map[string]interface{}{
				"result": mergedContent,
			},
			"id": block.ToolUseID,
		},
	}
	if b.lastSignature != "" {
		part["thoughtSignature"] = b.lastSignature
	}
	return part
}

func (b *contentBuilder) handleInlineData(block ContentBlock, _ int) map[string]interface{} {
	if block.Source == nil || block.Source.Type != "base64" {
		return nil
	}
	return map[string]interface{}{
		"inlineData": map[string]interface{}{
			"mimeType": block.Source.MediaType,
			"data":     block.Source.Data,
		},
	}
}

// extractToolResultContent flattens a tool_result's content, which Claude
// may send as a bare string, a block array, or (rarely) arbitrary JSON.
func extractToolResultContent(content interface{}) string {
	switch c := content.(type) {
	case string:
		return c
	case []interface{}:
		var texts []string
		for _, item := range c {
			if blockMap, ok := item.(map[string]interface{}); ok {
				if text, ok := blockMap["text"].(string); ok {
					texts = append(texts, text)
				}
			}
		}
		return strings.Join(texts, "\n")
	default:
		if data, err := json.Marshal(content); err == nil {
			return string(data)
		}
		return ""
	}
}

func mapRole(claudeRole string) string {
	switch claudeRole {
	case "user":
		return "user"
	case "assistant":
		return "model"
	default:
		return claudeRole
	}
}

// mergeAdjacentRoles merges neighboring same-role contents, since Gemini
// requires strict user/model alternation and tool loops can produce runs
// of several user turns (one per tool result) in a row.
func mergeAdjacentRoles(contents []map[string]interface{}) []map[string]interface{} {
	if len(contents) <= 1 {
		return contents
	}

	merged := []map[string]interface{}{contents[0]}
	for i := 1; i < len(contents); i++ {
		lastRole, _ := merged[len(merged)-1]["role"].(string)
		currRole, _ := contents[i]["role"].(string)

		if lastRole == currRole {
			lastParts, _ := merged[len(merged)-1]["parts"].([]map[string]interface{})
			currParts, _ := contents[i]["parts"].([]map[string]interface{})
			merged[len(merged)-1]["parts"] = append(lastParts, currParts...)
		} else {
			merged = append(merged, contents[i])
		}
	}
	return merged
}
