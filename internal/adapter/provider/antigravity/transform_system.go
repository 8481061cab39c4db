package antigravity

import "strings"

// antigravityIdentityMarker is Anthropic's own client-compatibility
// convention: if the caller already declared this identity, injecting it
// again would just duplicate the preamble.
const antigravityIdentityMarker = "You are Antigravity"

// buildSystemInstruction assembles Gemini's systemInstruction from the
// Claude request's system prompt, wrapping it with the Antigravity
// identity preamble unless the caller already supplied one of their own.
func buildSystemInstruction(claudeReq *ClaudeRequest, _ string) map[string]interface{} {
	userHasIdentity := claudeReq.System != nil && strings.Contains(extractSystemText(claudeReq.System), antigravityIdentityMarker)

	parts := []map[string]interface{}{}
	if !userHasIdentity {
		parts = append(parts, textPart(AntigravityIdentity))
	}
	parts = append(parts, userSystemParts(claudeReq.System)...)
	if !userHasIdentity {
		parts = append(parts, textPart("\n--- [SYSTEM_PROMPT_END] ---"))
	}

	if len(parts) == 0 {
		return nil
	}
	return map[string]interface{}{
		"role":  "user",
		"parts": parts,
	}
}

// userSystemParts converts a Claude system prompt (string or block array)
// into Gemini text parts, dropping any block with empty text.
func userSystemParts(system interface{}) []map[string]interface{} {
	if system == nil {
		return nil
	}

	var parts []map[string]interface{}
	switch sys := system.(type) {
	case string:
		if sys != "" {
			parts = append(parts, textPart(sys))
		}
	case []interface{}:
		for _, block := range sys {
			if blockMap, ok := block.(map[string]interface{}); ok {
				if text, ok := blockMap["text"].(string); ok && text != "" {
					parts = append(parts, textPart(text))
				}
			}
		}
	}
	return parts
}

func textPart(text string) map[string]interface{} {
	return map[string]interface{}{"text": text}
}

// AntigravityIdentity is the system identity injected into every request
// that doesn't already declare one of its own.
const AntigravityIdentity = `You are Antigravity, a powerful agentic AI coding assistant designed by the Google Deepmind team working on Advanced Agentic Coding.
You are pair programming with a USER to solve their coding task. The task may require creating a new codebase, modifying or debugging an existing codebase, or simply answering a question.
**Absolute paths only**
**Proactiveness**`
