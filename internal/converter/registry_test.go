package converter

import (
	"testing"

	"github.com/relaymesh/ccproxy/internal/domain"
)

func TestNewRegistryHasEveryDeclaredPair(t *testing.T) {
	r := NewRegistry()
	pairs := []struct {
		from, to domain.ClientType
	}{
		{domain.ClientTypeClaude, domain.ClientTypeCodex},
		{domain.ClientTypeClaude, domain.ClientTypeGemini},
		{domain.ClientTypeClaude, domain.ClientTypeOpenAI},
		{domain.ClientTypeCodex, domain.ClientTypeClaude},
		{domain.ClientTypeCodex, domain.ClientTypeGemini},
		{domain.ClientTypeCodex, domain.ClientTypeOpenAI},
		{domain.ClientTypeGemini, domain.ClientTypeClaude},
		{domain.ClientTypeGemini, domain.ClientTypeCodex},
		{domain.ClientTypeGemini, domain.ClientTypeOpenAI},
		{domain.ClientTypeOpenAI, domain.ClientTypeClaude},
		{domain.ClientTypeOpenAI, domain.ClientTypeCodex},
		{domain.ClientTypeOpenAI, domain.ClientTypeGemini},
	}
	for _, p := range pairs {
		if r.requests[p.from] == nil || r.requests[p.from][p.to] == nil {
			t.Errorf("missing request transformer %s -> %s", p.from, p.to)
		}
		if r.responses[p.from] == nil || r.responses[p.from][p.to] == nil {
			t.Errorf("missing response transformer %s -> %s", p.from, p.to)
		}
	}
}

func TestTransformRequestSameTypeIsPassthrough(t *testing.T) {
	r := NewRegistry()
	body := []byte(`{"model":"claude-3-5-sonnet"}`)
	got, err := r.TransformRequest(domain.ClientTypeClaude, domain.ClientTypeClaude, body, "claude-3-5-sonnet", false)
	if err != nil {
		t.Fatalf("TransformRequest() error = %v", err)
	}
	if string(got) != string(body) {
		t.Errorf("TransformRequest(same type) = %q, want passthrough of %q", got, body)
	}
}

func TestTransformRequestUnknownPairErrors(t *testing.T) {
	r := &Registry{
		requests:  make(map[domain.ClientType]map[domain.ClientType]RequestTransformer),
		responses: make(map[domain.ClientType]map[domain.ClientType]ResponseTransformer),
	}
	_, err := r.TransformRequest(domain.ClientTypeClaude, domain.ClientTypeOpenAI, nil, "", false)
	if err == nil {
		t.Fatal("expected an error for an unregistered transformer pair")
	}
}

func TestClaudeToOpenAIRequestRoundTripsModelAndStream(t *testing.T) {
	r := NewRegistry()
	body := []byte(`{"model":"claude-3-5-sonnet","max_tokens":256,"messages":[{"role":"user","content":"hi"}]}`)
	out, err := r.TransformRequest(domain.ClientTypeClaude, domain.ClientTypeOpenAI, body, "gpt-4o", true)
	if err != nil {
		t.Fatalf("TransformRequest() error = %v", err)
	}
	if len(out) == 0 {
		t.Fatal("TransformRequest() returned empty output")
	}
}
