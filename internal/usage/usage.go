// Package usage extracts token-usage metrics from upstream response bodies,
// in whatever wire shape the client protocol uses, for cost accounting and
// observability traces.
package usage

import (
	"encoding/json"
	"strings"

	"github.com/relaymesh/ccproxy/internal/domain"
)

// Metrics holds token counts normalized across the Claude, OpenAI, and
// Gemini usage reporting shapes.
type Metrics struct {
	InputTokens          uint64
	OutputTokens         uint64
	CacheReadCount       uint64
	CacheCreationCount   uint64
	Cache5mCreationCount uint64
	Cache1hCreationCount uint64
}

type claudeUsage struct {
	InputTokens              uint64 `json:"input_tokens"`
	OutputTokens             uint64 `json:"output_tokens"`
	CacheReadInputTokens     uint64 `json:"cache_read_input_tokens"`
	CacheCreationInputTokens uint64 `json:"cache_creation_input_tokens"`
	CacheCreation            *struct {
		Ephemeral5mInputTokens uint64 `json:"ephemeral_5m_input_tokens"`
		Ephemeral1hInputTokens uint64 `json:"ephemeral_1h_input_tokens"`
	} `json:"cache_creation"`
}

type openAIUsage struct {
	PromptTokens        uint64 `json:"prompt_tokens"`
	CompletionTokens    uint64 `json:"completion_tokens"`
	PromptTokensDetails *struct {
		CachedTokens uint64 `json:"cached_tokens"`
	} `json:"prompt_tokens_details"`
}

type geminiUsage struct {
	PromptTokenCount        uint64 `json:"promptTokenCount"`
	CandidatesTokenCount    uint64 `json:"candidatesTokenCount"`
	CachedContentTokenCount uint64 `json:"cachedContentTokenCount"`
}

func fromClaudeUsage(u *claudeUsage) *Metrics {
	m := &Metrics{
		InputTokens:        u.InputTokens,
		OutputTokens:       u.OutputTokens,
		CacheReadCount:     u.CacheReadInputTokens,
		CacheCreationCount: u.CacheCreationInputTokens,
	}
	if u.CacheCreation != nil {
		m.Cache5mCreationCount = u.CacheCreation.Ephemeral5mInputTokens
		m.Cache1hCreationCount = u.CacheCreation.Ephemeral1hInputTokens
	}
	return m
}

func fromOpenAIUsage(u *openAIUsage) *Metrics {
	m := &Metrics{
		InputTokens:  u.PromptTokens,
		OutputTokens: u.CompletionTokens,
	}
	if u.PromptTokensDetails != nil {
		m.CacheReadCount = u.PromptTokensDetails.CachedTokens
	}
	return m
}

func fromGeminiUsage(u *geminiUsage) *Metrics {
	return &Metrics{
		InputTokens:    u.PromptTokenCount,
		OutputTokens:   u.CandidatesTokenCount,
		CacheReadCount: u.CachedContentTokenCount,
	}
}

// ExtractFromResponse parses a single non-streaming response body and
// returns normalized token metrics, or nil if no usage block is present.
func ExtractFromResponse(body string) *Metrics {
	var probe struct {
		Usage        *claudeUsage `json:"usage"`
		UsageMetadata *geminiUsage `json:"usageMetadata"`
	}
	if err := json.Unmarshal([]byte(body), &probe); err == nil {
		if probe.Usage != nil && (probe.Usage.InputTokens > 0 || probe.Usage.OutputTokens > 0) {
			return fromClaudeUsage(probe.Usage)
		}
		if probe.UsageMetadata != nil {
			return fromGeminiUsage(probe.UsageMetadata)
		}
	}

	var oaiProbe struct {
		Usage *openAIUsage `json:"usage"`
	}
	if err := json.Unmarshal([]byte(body), &oaiProbe); err == nil && oaiProbe.Usage != nil {
		return fromOpenAIUsage(oaiProbe.Usage)
	}

	return nil
}

// ExtractFromStreamContent scans a collected SSE stream (newline-joined
// "data: {...}" frames) for the last usage block and returns normalized
// token metrics, or nil if none was found.
func ExtractFromStreamContent(sse string) *Metrics {
	var latest *Metrics

	for _, line := range strings.Split(sse, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}

		var frame struct {
			Usage         *claudeUsage `json:"usage"`
			UsageMetadata *geminiUsage `json:"usageMetadata"`
			Delta         *struct {
				Usage *claudeUsage `json:"usage"`
			} `json:"delta"`
		}
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			continue
		}

		switch {
		case frame.Delta != nil && frame.Delta.Usage != nil:
			latest = fromClaudeUsage(frame.Delta.Usage)
		case frame.Usage != nil:
			latest = fromClaudeUsage(frame.Usage)
		case frame.UsageMetadata != nil:
			latest = fromGeminiUsage(frame.UsageMetadata)
		}
	}

	return latest
}

// AdjustForClientType corrects client-specific quirks in reported usage.
// Codex (OpenAI Responses API) reports prompt_tokens inclusive of cached
// tokens, so the cache-read count is subtracted back out of InputTokens to
// match the Claude/Gemini convention of reporting fresh input separately.
func AdjustForClientType(m *Metrics, clientType domain.ClientType) *Metrics {
	if m == nil {
		return nil
	}
	if clientType == domain.ClientTypeCodex && m.CacheReadCount > 0 && m.InputTokens >= m.CacheReadCount {
		m.InputTokens -= m.CacheReadCount
	}
	return m
}
