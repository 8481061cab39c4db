package antigravity

import (
	"encoding/json"
	"fmt"
	"strings"
)

// handleParseError is called when a Gemini SSE data line fails to parse as
// a GeminiStreamChunk. Rather than silently dropping the chunk, it tries
// two recovery paths in order: decode it as a Google API error envelope
// and surface the message as text, or regex-style pull a bare "text"
// field out of a body that got truncated mid-stream.
func (s *ClaudeStreamingState) handleParseError(dataStr string, err error) []byte {
	if strings.Contains(dataStr, "error") {
		if output := s.recoverFromErrorEnvelope(dataStr); output != nil {
			return output
		}
	}

	if strings.Contains(dataStr, "\"text\"") {
		if output := s.recoverPartialText(dataStr); output != nil {
			return output
		}
	}

	return nil
}

func (s *ClaudeStreamingState) recoverFromErrorEnvelope(dataStr string) []byte {
	var errorResp struct {
		Error struct {
			Message string `json:"message"`
			Code    int    `json:"code"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	if json.Unmarshal([]byte(dataStr), &errorResp) != nil || errorResp.Error.Message == "" {
		return nil
	}

	errorText := fmt.Sprintf("\n\n[API Error: %s (code: %d, status: %s)]\n",
		errorResp.Error.Message, errorResp.Error.Code, errorResp.Error.Status)
	return s.emitRecoveredText(errorText)
}

func (s *ClaudeStreamingState) recoverPartialText(dataStr string) []byte {
	textStart := strings.Index(dataStr, "\"text\":\"")
	if textStart < 0 {
		return nil
	}
	textStart += len("\"text\":\"")

	textEnd := strings.Index(dataStr[textStart:], "\"")
	if textEnd <= 0 {
		return nil
	}

	partialText := dataStr[textStart : textStart+textEnd]
	partialText = strings.ReplaceAll(partialText, "\\n", "\n")
	partialText = strings.ReplaceAll(partialText, "\\t", "\t")
	partialText = strings.ReplaceAll(partialText, "\\\"", "\"")

	return s.emitRecoveredText(partialText)
}

// emitRecoveredText ensures message_start has fired before emitting
// whatever text was salvaged, since a parse failure on the first chunk
// would otherwise leave the stream with no message_start at all.
func (s *ClaudeStreamingState) emitRecoveredText(text string) []byte {
	var output []byte
	if !s.messageStartSent {
		if startData := s.emitMessageStart(&GeminiStreamChunk{}); startData != nil {
			output = append(output, startData...)
		}
	}
	for _, c := range s.processText(text, "") {
		output = append(output, c...)
	}
	return output
}
