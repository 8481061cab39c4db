package antigravity

import "log"

// thinkingGate decides whether an otherwise-requested thinking mode should
// be force-disabled for this request, returning a log-ready reason when it
// does. Gates run in order and the first to disable wins.
type thinkingGate func(claudeReq *ClaudeRequest, mappedModel string, cache *ThoughtSignatureStore) (disable bool, reason string)

var thinkingGates = []thinkingGate{
	targetModelSupportGate,
	historyCompatibilityGate,
	signatureAvailabilityGate,
}

// calculateFinalThinkingState resolves whether the translated request
// should carry thinking enabled, after accounting for the model's default,
// target support, tool-use history, and thought-signature availability.
func calculateFinalThinkingState(claudeReq *ClaudeRequest, mappedModel string, cache *ThoughtSignatureStore) bool {
	thinkingRequested := claudeReq.Thinking != nil && claudeReq.Thinking.Type == "enabled"
	if !thinkingRequested && ShouldEnableThinkingByDefault(claudeReq.Model) {
		thinkingRequested = true
	}
	if !thinkingRequested {
		return false
	}

	for _, gate := range thinkingGates {
		if disable, reason := gate(claudeReq, mappedModel, cache); disable {
			log.Printf("[Antigravity] %s", reason)
			return false
		}
	}
	return true
}

func targetModelSupportGate(_ *ClaudeRequest, mappedModel string, _ *ThoughtSignatureStore) (bool, string) {
	if TargetModelSupportsThinking(mappedModel) {
		return false, ""
	}
	return true, "target model '" + mappedModel + "' does not support thinking, force disabling"
}

func historyCompatibilityGate(claudeReq *ClaudeRequest, _ string, _ *ThoughtSignatureStore) (bool, string) {
	if shouldDisableThinkingDueToClaudeHistory(claudeReq.Messages) {
		return true, "disabling thinking due to incompatible tool-use history (mixed application)"
	}
	return false, ""
}

// signatureAvailabilityGate disables thinking when the request has
// function calls but no thought signature anywhere recoverable, since
// Gemini 3 Pro rejects function calls without one. A first-time thinking
// request with no history is let through permissively; upstream validates.
func signatureAvailabilityGate(claudeReq *ClaudeRequest, _ string, cache *ThoughtSignatureStore) (bool, string) {
	if !hasThinkingInMessages(claudeReq.Messages) {
		log.Printf("[Antigravity] first thinking request detected, using permissive mode - " +
			"signature validation will be handled by upstream API")
	}

	if !hasFunctionCallsInMessages(claudeReq.Messages) {
		return false, ""
	}
	if hasValidSignatureForFunctionCalls(claudeReq.Messages, cache.Fallback()) {
		return false, ""
	}
	return true, "no valid signature found for function calls, disabling thinking to prevent Gemini 3 Pro rejection"
}

// shouldDisableThinkingDueToClaudeHistory reports whether the last
// assistant turn used a tool without a thinking block, which Vertex
// rejects if thinking mode carries forward into the next turn.
func shouldDisableThinkingDueToClaudeHistory(messages []ClaudeMessage) bool {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != "assistant" {
			continue
		}

		blocks := parseContentBlocks(messages[i].Content)
		if blocks == nil {
			return false
		}

		hasToolUse, hasThinking := false, false
		for _, block := range blocks {
			switch block.Type {
			case "tool_use":
				hasToolUse = true
			case "thinking":
				hasThinking = true
			}
		}
		return hasToolUse && !hasThinking
	}
	return false
}

// hasValidSignatureForFunctionCalls reports whether any signature is
// recoverable for a function call: the process-wide fallback, or a valid
// signature on a thinking block somewhere in the assistant's history.
func hasValidSignatureForFunctionCalls(messages []ClaudeMessage, globalSig string) bool {
	if IsValidSignature(globalSig) {
		return true
	}

	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != "assistant" {
			continue
		}
		for _, block := range parseContentBlocks(messages[i].Content) {
			if block.Type == "thinking" && IsValidSignature(block.Signature) {
				return true
			}
		}
	}
	return false
}

func hasThinkingInMessages(messages []ClaudeMessage) bool {
	for _, msg := range messages {
		if msg.Role != "assistant" {
			continue
		}
		for _, block := range parseContentBlocks(msg.Content) {
			if block.Type == "thinking" {
				return true
			}
		}
	}
	return false
}

func hasFunctionCallsInMessages(messages []ClaudeMessage) bool {
	for _, msg := range messages {
		for _, block := range parseContentBlocks(msg.Content) {
			if block.Type == "tool_use" {
				return true
			}
		}
	}
	return false
}
