package antigravity

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// BlockType identifies which kind of Claude content block is currently
// open on the outgoing SSE stream.
type BlockType int

const (
	BlockTypeNone BlockType = iota
	BlockTypeText
	BlockTypeThinking
	BlockTypeFunction
)

// ClaudeStreamingState is a line-by-line translator from Gemini v1internal
// SSE chunks to Anthropic Messages API SSE events. One instance is created
// per request and fed every upstream line in order; it is not safe for
// concurrent use.
type ClaudeStreamingState struct {
	blockType        BlockType
	blockIndex       int
	messageStartSent bool
	messageStopSent  bool
	usedTool         bool

	pendingSignature  *string
	trailingSignature *string

	inputTokens     int
	outputTokens    int
	cacheReadTokens int

	requestModel string
	modelVersion string
	responseID   string

	webSearchQuery  string
	groundingChunks []GeminiGroundingChunk
}

// NewClaudeStreamingState creates a streaming translator with no request
// model context, used where the caller doesn't need it echoed back.
func NewClaudeStreamingState() *ClaudeStreamingState {
	return &ClaudeStreamingState{blockType: BlockTypeNone}
}

// NewClaudeStreamingStateWithSession creates a streaming translator
// carrying the original Claude model name for diagnostics; sessionID is
// accepted for call-site symmetry with the request-side signature APIs
// but isn't needed here since signature caching is keyed per tool call.
func NewClaudeStreamingStateWithSession(_ string, requestModel string) *ClaudeStreamingState {
	return &ClaudeStreamingState{blockType: BlockTypeNone, requestModel: requestModel}
}

func formatSSE(eventType string, data interface{}) []byte {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, string(jsonBytes)))
}

func (s *ClaudeStreamingState) emit(eventType string, data map[string]interface{}) []byte {
	return formatSSE(eventType, data)
}

func (s *ClaudeStreamingState) emitDelta(deltaType string, deltaContent map[string]interface{}) []byte {
	delta := map[string]interface{}{"type": deltaType}
	for k, v := range deltaContent {
		delta[k] = v
	}
	return s.emit("content_block_delta", map[string]interface{}{
		"type":  "content_block_delta",
		"index": s.blockIndex,
		"delta": delta,
	})
}

func (s *ClaudeStreamingState) emitMessageStart(chunk *GeminiStreamChunk) []byte {
	if s.messageStartSent {
		return nil
	}

	responseID := chunk.ResponseID
	if responseID == "" {
		responseID = "msg_unknown"
	}
	s.responseID = responseID

	if chunk.ModelVersion != "" {
		s.modelVersion = chunk.ModelVersion
	}

	message := map[string]interface{}{
		"id":            s.responseID,
		"type":          "message",
		"role":          "assistant",
		"content":       []interface{}{},
		"model":         s.modelVersion,
		"stop_reason":   nil,
		"stop_sequence": nil,
	}

	if chunk.UsageMetadata != nil {
		cachedTokens := chunk.UsageMetadata.CachedContentTokenCount
		inputTokens := chunk.UsageMetadata.PromptTokenCount - cachedTokens
		if inputTokens < 0 {
			inputTokens = 0
		}

		usage := map[string]interface{}{
			"input_tokens":                inputTokens,
			"output_tokens":               chunk.UsageMetadata.CandidatesTokenCount,
			"cache_creation_input_tokens": 0,
		}
		if cachedTokens > 0 {
			usage["cache_read_input_tokens"] = cachedTokens
		}
		message["usage"] = usage
	}

	result := s.emit("message_start", map[string]interface{}{
		"type":    "message_start",
		"message": message,
	})

	s.messageStartSent = true
	return result
}

func (s *ClaudeStreamingState) startBlock(blockType BlockType, contentBlock map[string]interface{}) [][]byte {
	var chunks [][]byte

	if s.blockType != BlockTypeNone {
		chunks = append(chunks, s.endBlock()...)
	}

	chunks = append(chunks, s.emit("content_block_start", map[string]interface{}{
		"type":          "content_block_start",
		"index":         s.blockIndex,
		"content_block": contentBlock,
	}))

	s.blockType = blockType
	return chunks
}

func (s *ClaudeStreamingState) endBlock() [][]byte {
	if s.blockType == BlockTypeNone {
		return nil
	}

	var chunks [][]byte

	if s.blockType == BlockTypeThinking && s.pendingSignature != nil {
		chunks = append(chunks, s.emitDelta("signature_delta", map[string]interface{}{
			"signature": *s.pendingSignature,
		}))
		s.pendingSignature = nil
	}

	chunks = append(chunks, s.emit("content_block_stop", map[string]interface{}{
		"type":  "content_block_stop",
		"index": s.blockIndex,
	}))

	s.blockIndex++
	s.blockType = BlockTypeNone

	return chunks
}

// emitFinish closes out the current block, flushes any trailing signature
// or grounding citation as their own synthetic blocks, and emits the
// terminal message_delta/message_stop pair.
func (s *ClaudeStreamingState) emitFinish(finishReason string, usage *GeminiUsageMetadata) [][]byte {
	var chunks [][]byte

	chunks = append(chunks, s.endBlock()...)

	if s.trailingSignature != nil {
		chunks = append(chunks, s.emitEmptyThinkingWithSignature(*s.trailingSignature)...)
		s.trailingSignature = nil
	}

	if groundingText := s.buildGroundingMarkdown(); groundingText != "" {
		chunks = append(chunks, s.emit("content_block_start", map[string]interface{}{
			"type":  "content_block_start",
			"index": s.blockIndex,
			"content_block": map[string]interface{}{
				"type": "text",
				"text": "",
			},
		}))
		chunks = append(chunks, s.emitDelta("text_delta", map[string]interface{}{"text": groundingText}))
		chunks = append(chunks, s.emit("content_block_stop", map[string]interface{}{
			"type":  "content_block_stop",
			"index": s.blockIndex,
		}))
		s.blockIndex++

		s.webSearchQuery = ""
		s.groundingChunks = nil
	}

	stopReason := "end_turn"
	if s.usedTool {
		stopReason = "tool_use"
	} else if finishReason == "MAX_TOKENS" {
		stopReason = "max_tokens"
	}

	usageMap := map[string]interface{}{
		"input_tokens":  s.inputTokens,
		"output_tokens": s.outputTokens,
	}
	if usage != nil {
		cachedTokens := usage.CachedContentTokenCount
		inputTokens := usage.PromptTokenCount - cachedTokens
		if inputTokens < 0 {
			inputTokens = 0
		}
		usageMap["input_tokens"] = inputTokens
		usageMap["output_tokens"] = usage.CandidatesTokenCount
		if cachedTokens > 0 {
			usageMap["cache_read_input_tokens"] = cachedTokens
		}
		usageMap["cache_creation_input_tokens"] = 0
	}

	chunks = append(chunks, s.emit("message_delta", map[string]interface{}{
		"type": "message_delta",
		"delta": map[string]interface{}{
			"stop_reason":   stopReason,
			"stop_sequence": nil,
		},
		"usage": usageMap,
	}))

	if !s.messageStopSent {
		chunks = append(chunks, []byte("event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n"))
		s.messageStopSent = true
	}

	return chunks
}

// storeSignature records a thinking block's signature as pending (to be
// attached when its block closes) and feeds it into the process-wide
// family and fallback caches so a later turn can recover it.
func (s *ClaudeStreamingState) storeSignature(signature string) {
	if signature == "" {
		return
	}
	s.pendingSignature = &signature

	if s.modelVersion != "" {
		ThoughtSignatures().RememberForFamily(signature, s.modelVersion)
	}
	ThoughtSignatures().RememberFallback(signature)
}

func (s *ClaudeStreamingState) setTrailingSignature(signature string) {
	if signature != "" {
		s.trailingSignature = &signature
	}
}

func (s *ClaudeStreamingState) hasTrailingSignature() bool {
	return s.trailingSignature != nil
}

func (s *ClaudeStreamingState) markToolUsed() {
	s.usedTool = true
}

// flushTrailingSignature closes the block a trailing signature was
// waiting on (if any) and emits it as its own empty thinking block. Every
// part handler that can follow an empty signature-only part calls this
// first so the signature doesn't get silently dropped.
func (s *ClaudeStreamingState) flushTrailingSignature() [][]byte {
	if !s.hasTrailingSignature() {
		return nil
	}
	var chunks [][]byte
	chunks = append(chunks, s.endBlock()...)
	chunks = append(chunks, s.emitEmptyThinkingWithSignature(*s.trailingSignature)...)
	s.trailingSignature = nil
	return chunks
}

func (s *ClaudeStreamingState) processThinking(text, signature string) [][]byte {
	chunks := s.flushTrailingSignature()

	if s.blockType != BlockTypeThinking {
		chunks = append(chunks, s.startBlock(BlockTypeThinking, map[string]interface{}{
			"type":     "thinking",
			"thinking": "",
		})...)
	}

	if text != "" {
		chunks = append(chunks, s.emitDelta("thinking_delta", map[string]interface{}{
			"thinking": text,
		}))
	}

	s.storeSignature(signature)

	return chunks
}

// processText emits a text part. An empty text carrying only a signature
// becomes a trailing signature instead; a non-empty text carrying a
// signature is immediately followed by a synthetic empty thinking block
// so the signature still reaches the client.
func (s *ClaudeStreamingState) processText(text, signature string) [][]byte {
	if text == "" {
		s.setTrailingSignature(signature)
		return nil
	}

	chunks := s.flushTrailingSignature()

	if signature != "" {
		chunks = append(chunks, s.startBlock(BlockTypeText, map[string]interface{}{
			"type": "text",
			"text": "",
		})...)
		chunks = append(chunks, s.emitDelta("text_delta", map[string]interface{}{"text": text}))
		chunks = append(chunks, s.endBlock()...)
		chunks = append(chunks, s.emitEmptyThinkingWithSignature(signature)...)
		return chunks
	}

	if s.blockType != BlockTypeText {
		chunks = append(chunks, s.startBlock(BlockTypeText, map[string]interface{}{
			"type": "text",
			"text": "",
		})...)
	}
	chunks = append(chunks, s.emitDelta("text_delta", map[string]interface{}{"text": text}))

	return chunks
}

func (s *ClaudeStreamingState) emitEmptyThinkingWithSignature(signature string) [][]byte {
	var chunks [][]byte

	chunks = append(chunks, s.emit("content_block_start", map[string]interface{}{
		"type":  "content_block_start",
		"index": s.blockIndex,
		"content_block": map[string]interface{}{
			"type":     "thinking",
			"thinking": "",
		},
	}))
	chunks = append(chunks, s.emitDelta("thinking_delta", map[string]interface{}{"thinking": ""}))
	chunks = append(chunks, s.emitDelta("signature_delta", map[string]interface{}{"signature": signature}))
	chunks = append(chunks, s.emit("content_block_stop", map[string]interface{}{
		"type":  "content_block_stop",
		"index": s.blockIndex,
	}))
	s.blockIndex++

	return chunks
}

// processFunctionCall emits a tool_use block. The signature (if any) is
// cached per-tool-ID so that if the client strips it before replaying
// this turn back, a later request can still recover it.
func (s *ClaudeStreamingState) processFunctionCall(fc *GeminiFunctionCall, signature string) [][]byte {
	chunks := s.flushTrailingSignature()

	s.markToolUsed()

	toolID := fc.ID
	if toolID == "" {
		toolID = fmt.Sprintf("%s-%d", fc.Name, generateRandomID())
	}

	if IsValidSignature(signature) {
		ThoughtSignatures().RememberForTool(toolID, signature)
	}

	toolUse := map[string]interface{}{
		"type":  "tool_use",
		"id":    toolID,
		"name":  fc.Name,
		"input": map[string]interface{}{},
	}
	if signature != "" {
		toolUse["signature"] = signature
	}

	chunks = append(chunks, s.startBlock(BlockTypeFunction, toolUse)...)

	if fc.Args != nil {
		args := fc.Args
		remapFunctionCallArgs(fc.Name, args)
		argsJSON, _ := json.Marshal(args)
		chunks = append(chunks, s.emitDelta("input_json_delta", map[string]interface{}{
			"partial_json": string(argsJSON),
		}))
	}

	chunks = append(chunks, s.endBlock()...)

	return chunks
}

// EmitForceStop guarantees a terminal message_delta/message_stop pair is
// sent even if the upstream connection ended (EOF, or an explicit [DONE])
// before Gemini reported a finish reason of its own.
func (s *ClaudeStreamingState) EmitForceStop() []byte {
	if s.messageStopSent {
		return nil
	}

	var output []byte
	for _, c := range s.emitFinish("", nil) {
		output = append(output, c...)
	}

	if !s.messageStopSent {
		output = append(output, []byte("event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n")...)
		s.messageStopSent = true
	}

	return output
}

// ProcessGeminiSSELine consumes one line of the upstream Gemini SSE body
// and returns the zero or more Claude SSE events it translates to.
func (s *ClaudeStreamingState) ProcessGeminiSSELine(line string) []byte {
	line = strings.TrimSpace(line)
	if line == "" || !strings.HasPrefix(line, "data: ") {
		return nil
	}

	dataStr := strings.TrimSpace(strings.TrimPrefix(line, "data: "))
	if dataStr == "" {
		return nil
	}
	if dataStr == "[DONE]" {
		return s.EmitForceStop()
	}

	var chunk GeminiStreamChunk
	if err := json.Unmarshal([]byte(dataStr), &chunk); err != nil {
		return s.handleParseError(dataStr, err)
	}

	var output []byte

	if !s.messageStartSent {
		if data := s.emitMessageStart(&chunk); data != nil {
			output = append(output, data...)
		}
	}

	if chunk.UsageMetadata != nil {
		cachedTokens := chunk.UsageMetadata.CachedContentTokenCount
		inputTokens := chunk.UsageMetadata.PromptTokenCount - cachedTokens
		if inputTokens < 0 {
			inputTokens = 0
		}
		s.inputTokens = inputTokens
		s.outputTokens = chunk.UsageMetadata.CandidatesTokenCount
		s.cacheReadTokens = cachedTokens
	}

	if len(chunk.Candidates) == 0 {
		return output
	}
	candidate := chunk.Candidates[0]

	for _, part := range candidate.Content.Parts {
		for _, c := range s.processPart(&part) {
			output = append(output, c...)
		}
	}

	if candidate.GroundingMetadata != nil {
		s.captureGrounding(candidate.GroundingMetadata)
	}

	if candidate.FinishReason != "" {
		for _, c := range s.emitFinish(candidate.FinishReason, chunk.UsageMetadata) {
			output = append(output, c...)
		}
	}

	return output
}

// processPart routes one Gemini part to its handler in priority order: a
// function call always wins, then thinking or text (whichever Thought
// says it is), then inline image data rendered as markdown text.
func (s *ClaudeStreamingState) processPart(part *GeminiPart) [][]byte {
	signature := part.ThoughtSignature

	if part.FunctionCall != nil {
		return s.processFunctionCall(part.FunctionCall, signature)
	}

	if part.Text != "" || signature != "" {
		if part.Thought {
			return s.processThinking(part.Text, signature)
		}
		return s.processText(part.Text, signature)
	}

	if part.InlineData != nil && part.InlineData.Data != "" {
		markdownImg := fmt.Sprintf("![image](data:%s;base64,%s)", part.InlineData.MimeType, part.InlineData.Data)
		return s.processText(markdownImg, "")
	}

	return nil
}

// captureGrounding stashes grounding metadata seen mid-stream; it's
// rendered as a citation block only once the response finishes, since
// Gemini can attach it to any chunk and Claude has no equivalent of an
// in-progress citation delta.
func (s *ClaudeStreamingState) captureGrounding(grounding *GeminiGroundingMetadata) {
	if grounding == nil {
		return
	}
	if len(grounding.WebSearchQueries) > 0 {
		s.webSearchQuery = grounding.WebSearchQueries[0]
	}
	if len(grounding.GroundingChunks) > 0 {
		s.groundingChunks = grounding.GroundingChunks
	}
}

func (s *ClaudeStreamingState) buildGroundingMarkdown() string {
	if s.webSearchQuery == "" && len(s.groundingChunks) == 0 {
		return ""
	}
	var queries []string
	if s.webSearchQuery != "" {
		queries = []string{s.webSearchQuery}
	}
	return renderGroundingMarkdown(queries, s.groundingChunks)
}

// generateRandomID mints a tool-call ID when Gemini doesn't supply one.
func generateRandomID() int64 {
	return time.Now().UnixNano()
}
