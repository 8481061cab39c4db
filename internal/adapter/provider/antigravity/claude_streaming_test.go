package antigravity

import (
	"strings"
	"testing"
)

// sseEventTypes extracts the ordered sequence of "event: X" lines from a
// batch of formatted SSE output.
func sseEventTypes(output []byte) []string {
	var types []string
	for _, line := range strings.Split(string(output), "\n") {
		if t, ok := strings.CutPrefix(line, "event: "); ok {
			types = append(types, t)
		}
	}
	return types
}

func TestProcessGeminiSSELineTextOnlyEventOrder(t *testing.T) {
	s := NewClaudeStreamingState()

	var out []byte
	out = append(out, s.ProcessGeminiSSELine(`data: {"candidates":[{"content":{"parts":[{"text":"hello"}]}}],"modelVersion":"gemini-2.5-pro","responseId":"resp-1"}`)...)
	out = append(out, s.ProcessGeminiSSELine(`data: {"candidates":[{"content":{"parts":[{"text":" world"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":10,"candidatesTokenCount":2}}`)...)

	got := sseEventTypes(out)
	want := []string{
		"message_start",
		"content_block_start",
		"content_block_delta",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}
	if len(got) != len(want) {
		t.Fatalf("event sequence = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q (full sequence: %v)", i, got[i], want[i], got)
		}
	}
}

func TestProcessGeminiSSELineFunctionCallClosesPriorTextBlock(t *testing.T) {
	s := NewClaudeStreamingState()

	var out []byte
	out = append(out, s.ProcessGeminiSSELine(`data: {"candidates":[{"content":{"parts":[{"text":"thinking out loud"}]}}],"modelVersion":"gemini-2.5-pro"}`)...)
	out = append(out, s.ProcessGeminiSSELine(`data: {"candidates":[{"content":{"parts":[{"functionCall":{"name":"lookup","args":{"q":"x"}}}]},"finishReason":"STOP"}]}`)...)

	got := sseEventTypes(out)
	want := []string{
		"message_start",
		"content_block_start", // text block opens
		"content_block_delta", // text delta
		"content_block_stop",  // text block closes before the tool_use block starts
		"content_block_start", // tool_use block opens
		"content_block_delta", // input_json_delta
		"content_block_stop",  // tool_use block closes
		"message_delta",
		"message_stop",
	}
	if len(got) != len(want) {
		t.Fatalf("event sequence = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q (full sequence: %v)", i, got[i], want[i], got)
		}
	}
}

func TestProcessGeminiSSELineDoneEmitsForceStopExactlyOnce(t *testing.T) {
	s := NewClaudeStreamingState()
	s.ProcessGeminiSSELine(`data: {"candidates":[{"content":{"parts":[{"text":"hi"}]},"finishReason":"STOP"}]}`)

	if !s.messageStopSent {
		t.Fatal("messageStopSent should be true after a finishReason-bearing chunk")
	}

	// A trailing [DONE] after the stream already finished must not emit a
	// second message_stop.
	out := s.ProcessGeminiSSELine("data: [DONE]")
	if len(out) != 0 {
		t.Errorf("ProcessGeminiSSELine([DONE]) after message_stop = %q, want no output", out)
	}
}

func TestProcessGeminiSSELineToolUseSetsStopReason(t *testing.T) {
	s := NewClaudeStreamingState()
	out := s.ProcessGeminiSSELine(`data: {"candidates":[{"content":{"parts":[{"functionCall":{"name":"lookup","args":{}}}]},"finishReason":"STOP"}]}`)

	if !strings.Contains(string(out), `"stop_reason":"tool_use"`) {
		t.Errorf("expected stop_reason tool_use in message_delta, got: %s", out)
	}
}

func TestEmitForceStopIsIdempotent(t *testing.T) {
	s := NewClaudeStreamingState()
	s.ProcessGeminiSSELine(`data: {"candidates":[{"content":{"parts":[{"text":"hi"}]}}]}`)

	first := s.EmitForceStop()
	if len(first) == 0 {
		t.Fatal("EmitForceStop() first call should emit a terminal event")
	}
	second := s.EmitForceStop()
	if len(second) != 0 {
		t.Errorf("EmitForceStop() second call = %q, want no output", second)
	}
}
