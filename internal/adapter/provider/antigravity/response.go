package antigravity

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

var excludedResponseHeaders = map[string]bool{
	"content-length":    true,
	"transfer-encoding": true,
	"connection":        true,
	"keep-alive":        true,
}

// unwrapV1InternalResponse extracts the inner response from a v1internal
// envelope; Cloud Code wraps every non-streaming reply in {"response": ...}.
func unwrapV1InternalResponse(body []byte) []byte {
	var data map[string]interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		return body
	}
	if response, ok := data["response"]; ok {
		if unwrapped, err := json.Marshal(response); err == nil {
			return unwrapped
		}
	}
	return body
}

// unwrapV1InternalSSEChunk strips the v1internal envelope from a single SSE
// line. "data: {\"response\": {...}}" becomes "data: {...}\n\n"; anything
// that isn't wrapped JSON passes through unchanged but SSE-terminated.
func unwrapV1InternalSSEChunk(line []byte) []byte {
	lineStr := strings.TrimSpace(string(line))
	if lineStr == "" {
		return nil
	}
	if !strings.HasPrefix(lineStr, "data: ") {
		return []byte(lineStr + "\n\n")
	}

	jsonPart := strings.TrimPrefix(lineStr, "data: ")
	if !strings.HasPrefix(jsonPart, "{") {
		return []byte(lineStr + "\n\n")
	}

	var wrapper map[string]interface{}
	if err := json.Unmarshal([]byte(jsonPart), &wrapper); err != nil {
		return []byte(lineStr + "\n\n")
	}

	if response, ok := wrapper["response"]; ok {
		if unwrapped, err := json.Marshal(response); err == nil {
			return []byte("data: " + string(unwrapped) + "\n\n")
		}
	}
	return []byte(lineStr + "\n\n")
}

func copyResponseHeaders(dst, src http.Header) {
	if src == nil {
		return
	}
	for key, values := range src {
		if excludedResponseHeaders[strings.ToLower(key)] {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

func flattenHeaders(h http.Header) map[string]string {
	result := make(map[string]string)
	for key, values := range h {
		if len(values) > 0 {
			result[key] = values[0]
		}
	}
	return result
}

func isRetryableStatusCode(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// claudeResponseBuilder accumulates the Claude content blocks for one
// non-streaming response, coalescing runs of text/thinking into single
// blocks the way Claude's own API does, and carrying a "trailing
// signature" — a thoughtSignature Gemini attached to an otherwise empty
// part — forward until there is a block to attach it to.
type claudeResponseBuilder struct {
	contentBlocks      []map[string]interface{}
	textBuilder        strings.Builder
	thinkingBuilder    strings.Builder
	thinkingSignature  string
	trailingSignature  string
	hasToolUse         bool
}

func (r *claudeResponseBuilder) flushText() {
	if r.textBuilder.Len() == 0 {
		return
	}
	r.contentBlocks = append(r.contentBlocks, map[string]interface{}{
		"type": "text",
		"text": r.textBuilder.String(),
	})
	r.textBuilder.Reset()
}

func (r *claudeResponseBuilder) flushThinking() {
	if r.thinkingBuilder.Len() == 0 && r.thinkingSignature == "" {
		return
	}
	block := map[string]interface{}{
		"type":     "thinking",
		"thinking": r.thinkingBuilder.String(),
	}
	if r.thinkingSignature != "" {
		block["signature"] = r.thinkingSignature
	}
	r.contentBlocks = append(r.contentBlocks, block)
	r.thinkingBuilder.Reset()
	r.thinkingSignature = ""
}

func (r *claudeResponseBuilder) emitTrailingSignature() {
	if r.trailingSignature == "" {
		return
	}
	r.contentBlocks = append(r.contentBlocks, map[string]interface{}{
		"type":      "thinking",
		"thinking":  "",
		"signature": r.trailingSignature,
	})
	r.trailingSignature = ""
}

// addPart dispatches one Gemini part into the running content blocks,
// mirroring Gemini's own part ordering: a function call closes out
// whatever text/thinking run preceded it, a thought keeps extending the
// thinking run, and a signature with no text rides along as a trailing
// signature until the next block can carry it.
func (r *claudeResponseBuilder) addPart(part GeminiPart) {
	signature := part.ThoughtSignature

	if part.FunctionCall != nil {
		r.addFunctionCall(part.FunctionCall, signature)
		return
	}

	if part.Text != "" || signature != "" || part.Thought {
		if part.Thought {
			r.addThinkingText(part.Text, signature)
		} else if part.Text == "" {
			if signature != "" {
				r.trailingSignature = signature
			}
			return
		} else {
			r.addText(part.Text, signature)
		}
	}

	r.addInlineData(part.InlineData)
}

func (r *claudeResponseBuilder) addFunctionCall(fc *GeminiFunctionCall, signature string) {
	r.flushThinking()
	r.flushText()
	r.emitTrailingSignature()

	r.hasToolUse = true

	toolID := fc.ID
	if toolID == "" {
		toolID = fmt.Sprintf("%s-%d", fc.Name, generateRandomID())
	}

	args := fc.Args
	remapFunctionCallArgs(fc.Name, args)

	toolUse := map[string]interface{}{
		"type":  "tool_use",
		"id":    toolID,
		"name":  fc.Name,
		"input": args,
	}
	if signature != "" {
		toolUse["signature"] = signature
	}
	r.contentBlocks = append(r.contentBlocks, toolUse)
}

func (r *claudeResponseBuilder) addThinkingText(text, signature string) {
	r.flushText()
	if r.trailingSignature != "" {
		r.flushThinking()
		r.emitTrailingSignature()
	}
	r.thinkingBuilder.WriteString(text)
	if signature != "" {
		r.thinkingSignature = signature
	}
}

func (r *claudeResponseBuilder) addText(text, signature string) {
	r.flushThinking()
	if r.trailingSignature != "" {
		r.flushText()
		r.emitTrailingSignature()
	}
	r.textBuilder.WriteString(text)
	if signature != "" {
		r.flushText()
		r.contentBlocks = append(r.contentBlocks, map[string]interface{}{
			"type":      "thinking",
			"thinking":  "",
			"signature": signature,
		})
	}
}

func (r *claudeResponseBuilder) addInlineData(data *GeminiInlineData) {
	if data == nil || data.Data == "" {
		return
	}
	r.flushThinking()
	markdownImg := fmt.Sprintf("![image](data:%s;base64,%s)", data.MimeType, data.Data)
	r.textBuilder.WriteString(markdownImg)
	r.flushText()
}

func (r *claudeResponseBuilder) addGrounding(grounding *GeminiGroundingMetadata) {
	groundingText := buildGroundingText(grounding)
	if groundingText == "" {
		return
	}
	r.flushThinking()
	r.flushText()
	r.textBuilder.WriteString(groundingText)
	r.flushText()
}

// convertGeminiToClaudeResponse translates a non-streaming Gemini
// v1internal response into an Anthropic Messages API response.
func convertGeminiToClaudeResponse(geminiBody []byte, requestModel string) ([]byte, error) {
	var resp GeminiStreamChunk
	if err := json.Unmarshal(geminiBody, &resp); err != nil {
		return nil, err
	}
	_ = requestModel // the model reported back is whatever Gemini echoes, never a fallback

	builder := &claudeResponseBuilder{contentBlocks: make([]map[string]interface{}, 0, 8)}

	if len(resp.Candidates) > 0 {
		candidate := resp.Candidates[0]
		for _, part := range candidate.Content.Parts {
			builder.addPart(part)
		}
		if candidate.GroundingMetadata != nil {
			builder.addGrounding(candidate.GroundingMetadata)
		}
		builder.flushThinking()
		builder.flushText()
		builder.emitTrailingSignature()
	}

	stopReason := "end_turn"
	switch {
	case builder.hasToolUse:
		stopReason = "tool_use"
	case len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason == "MAX_TOKENS":
		stopReason = "max_tokens"
	}

	usage := map[string]interface{}{
		"input_tokens":  0,
		"output_tokens": 0,
	}
	if resp.UsageMetadata != nil {
		cachedTokens := resp.UsageMetadata.CachedContentTokenCount
		inputTokens := resp.UsageMetadata.PromptTokenCount - cachedTokens
		if inputTokens < 0 {
			inputTokens = 0
		}
		usage["input_tokens"] = inputTokens
		usage["output_tokens"] = resp.UsageMetadata.CandidatesTokenCount
		if cachedTokens > 0 {
			usage["cache_read_input_tokens"] = cachedTokens
		}
		usage["cache_creation_input_tokens"] = 0
	}

	respID := resp.ResponseID
	if respID == "" {
		respID = fmt.Sprintf("msg_%d", generateRandomID())
	}

	claudeResp := map[string]interface{}{
		"id":          respID,
		"type":        "message",
		"role":        "assistant",
		"model":       resp.ModelVersion,
		"content":     builder.contentBlocks,
		"stop_reason": stopReason,
		"usage":       usage,
	}

	return json.Marshal(claudeResp)
}

// buildGroundingText renders web-search grounding metadata as a markdown
// citation block appended to the response text.
func buildGroundingText(grounding *GeminiGroundingMetadata) string {
	if grounding == nil {
		return ""
	}
	return renderGroundingMarkdown(grounding.WebSearchQueries, grounding.GroundingChunks)
}
