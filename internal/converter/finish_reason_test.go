package converter

import "testing"

func TestOpenAIFinishReasonToClaudeStopReason(t *testing.T) {
	tests := []struct {
		reason string
		want   string
	}{
		{"length", "max_tokens"},
		{"tool_calls", "tool_use"},
		{"stop", "end_turn"},
		{"", "end_turn"},
		{"content_filter", "end_turn"},
	}
	for _, tt := range tests {
		if got := openAIFinishReasonToClaudeStopReason(tt.reason); got != tt.want {
			t.Errorf("openAIFinishReasonToClaudeStopReason(%q) = %q, want %q", tt.reason, got, tt.want)
		}
	}
}

func TestOpenAIFinishReasonToGeminiFinishReason(t *testing.T) {
	tests := []struct {
		reason string
		want   string
	}{
		{"length", "MAX_TOKENS"},
		{"stop", "STOP"},
		{"tool_calls", "STOP"},
		{"", "STOP"},
	}
	for _, tt := range tests {
		if got := openAIFinishReasonToGeminiFinishReason(tt.reason); got != tt.want {
			t.Errorf("openAIFinishReasonToGeminiFinishReason(%q) = %q, want %q", tt.reason, got, tt.want)
		}
	}
}
