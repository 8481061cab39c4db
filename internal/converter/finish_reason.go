package converter

// openAIFinishReasonToClaudeStopReason maps an OpenAI chat-completion
// finish_reason to the Claude stop_reason vocabulary, applied identically
// whether the response arrived whole or was reconstructed from a stream.
func openAIFinishReasonToClaudeStopReason(reason string) string {
	switch reason {
	case "length":
		return "max_tokens"
	case "tool_calls":
		return "tool_use"
	case "stop", "":
		return "end_turn"
	default:
		return "end_turn"
	}
}

// openAIFinishReasonToGeminiFinishReason maps an OpenAI chat-completion
// finish_reason to Gemini's candidate finishReason vocabulary. "tool_calls"
// isn't distinguished from "stop" in Gemini's vocabulary, so both land on
// STOP.
func openAIFinishReasonToGeminiFinishReason(reason string) string {
	switch reason {
	case "length":
		return "MAX_TOKENS"
	default:
		return "STOP"
	}
}
