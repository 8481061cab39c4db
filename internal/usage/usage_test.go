package usage

import (
	"testing"

	"github.com/relaymesh/ccproxy/internal/domain"
)

func TestExtractFromResponseClaudeShape(t *testing.T) {
	body := `{"type":"message","usage":{"input_tokens":100,"output_tokens":50,"cache_read_input_tokens":20,"cache_creation":{"ephemeral_5m_input_tokens":5,"ephemeral_1h_input_tokens":3}}}`
	m := ExtractFromResponse(body)
	if m == nil {
		t.Fatal("ExtractFromResponse() = nil")
	}
	if m.InputTokens != 100 || m.OutputTokens != 50 {
		t.Errorf("tokens = %d/%d, want 100/50", m.InputTokens, m.OutputTokens)
	}
	if m.CacheReadCount != 20 {
		t.Errorf("CacheReadCount = %d, want 20", m.CacheReadCount)
	}
	if m.Cache5mCreationCount != 5 || m.Cache1hCreationCount != 3 {
		t.Errorf("cache creation = %d/%d, want 5/3", m.Cache5mCreationCount, m.Cache1hCreationCount)
	}
}

func TestExtractFromResponseGeminiShape(t *testing.T) {
	body := `{"candidates":[],"usageMetadata":{"promptTokenCount":30,"candidatesTokenCount":12,"cachedContentTokenCount":8}}`
	m := ExtractFromResponse(body)
	if m == nil {
		t.Fatal("ExtractFromResponse() = nil")
	}
	if m.InputTokens != 30 || m.OutputTokens != 12 || m.CacheReadCount != 8 {
		t.Errorf("got %+v, want InputTokens=30 OutputTokens=12 CacheReadCount=8", m)
	}
}

func TestExtractFromResponseOpenAIShape(t *testing.T) {
	body := `{"choices":[],"usage":{"prompt_tokens":40,"completion_tokens":15,"prompt_tokens_details":{"cached_tokens":10}}}`
	m := ExtractFromResponse(body)
	if m == nil {
		t.Fatal("ExtractFromResponse() = nil")
	}
	if m.InputTokens != 40 || m.OutputTokens != 15 || m.CacheReadCount != 10 {
		t.Errorf("got %+v, want InputTokens=40 OutputTokens=15 CacheReadCount=10", m)
	}
}

func TestExtractFromResponseNoUsageReturnsNil(t *testing.T) {
	if m := ExtractFromResponse(`{"type":"message"}`); m != nil {
		t.Errorf("ExtractFromResponse() = %+v, want nil", m)
	}
	if m := ExtractFromResponse("not json at all"); m != nil {
		t.Errorf("ExtractFromResponse() = %+v, want nil for unparsable body", m)
	}
}

func TestExtractFromStreamContentKeepsLatestUsageBlock(t *testing.T) {
	sse := "data: {\"usage\":{\"input_tokens\":10,\"output_tokens\":1}}\n\n" +
		"data: {\"delta\":{\"usage\":{\"input_tokens\":10,\"output_tokens\":2}}}\n\n" +
		"data: {\"delta\":{\"usage\":{\"input_tokens\":10,\"output_tokens\":7}}}\n\n" +
		"data: [DONE]\n\n"

	m := ExtractFromStreamContent(sse)
	if m == nil {
		t.Fatal("ExtractFromStreamContent() = nil")
	}
	if m.OutputTokens != 7 {
		t.Errorf("OutputTokens = %d, want 7 (the last reported delta usage)", m.OutputTokens)
	}
}

func TestExtractFromStreamContentIgnoresUnparsableFrames(t *testing.T) {
	sse := "data: not json\n\n" + "data: {\"usage\":{\"input_tokens\":5,\"output_tokens\":1}}\n\n"
	m := ExtractFromStreamContent(sse)
	if m == nil || m.InputTokens != 5 {
		t.Fatalf("got %+v, want InputTokens=5 after skipping the unparsable frame", m)
	}
}

func TestAdjustForClientTypeSubtractsCacheForCodex(t *testing.T) {
	m := &Metrics{InputTokens: 100, CacheReadCount: 30}
	got := AdjustForClientType(m, domain.ClientTypeCodex)
	if got.InputTokens != 70 {
		t.Errorf("InputTokens = %d, want 70 after subtracting cache read count", got.InputTokens)
	}
}

func TestAdjustForClientTypeLeavesOtherClientsUnchanged(t *testing.T) {
	m := &Metrics{InputTokens: 100, CacheReadCount: 30}
	got := AdjustForClientType(m, domain.ClientTypeClaude)
	if got.InputTokens != 100 {
		t.Errorf("InputTokens = %d, want unchanged 100 for a non-Codex client", got.InputTokens)
	}
}

func TestAdjustForClientTypeHandlesNil(t *testing.T) {
	if got := AdjustForClientType(nil, domain.ClientTypeCodex); got != nil {
		t.Errorf("AdjustForClientType(nil) = %+v, want nil", got)
	}
}
