package antigravity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/relaymesh/ccproxy/internal/domain"
)

// loadCodeAssistResponse is the subset of Google's loadCodeAssist response
// this proxy cares about: the bound Cloud project and per-model quota usage.
type loadCodeAssistResponse struct {
	CloudaicompanionProject string `json:"cloudaicompanionProject"`
	CurrentTier             struct {
		Id string `json:"id"`
	} `json:"currentTier"`
	Allowed []struct {
		Model          string `json:"model"`
		UsagePercent   float64 `json:"usagePercentage"`
		ResetTime      string  `json:"resetTime"`
	} `json:"allowedFeatures"`
}

// FetchQuotaForProvider refreshes an OAuth token for refreshToken and queries
// Google's loadCodeAssist endpoint to learn the account's bound project (if
// projectID is empty) and per-model quota usage.
func FetchQuotaForProvider(ctx context.Context, refreshToken, projectID string) (*domain.AntigravityQuota, error) {
	accessToken, _, err := refreshGoogleToken(ctx, refreshToken)
	if err != nil {
		return nil, fmt.Errorf("refreshing token: %w", err)
	}

	payload := map[string]interface{}{
		"metadata": map[string]interface{}{
			"pluginType": "GEMINI",
		},
	}
	if projectID != "" {
		payload["cloudaicompanionProject"] = projectID
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	url := V1InternalBaseURLProd + ":loadCodeAssist"
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)
	httpReq.Header.Set("User-Agent", AntigravityUserAgent)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("loadCodeAssist returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed loadCodeAssistResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parsing loadCodeAssist response: %w", err)
	}

	quota := &domain.AntigravityQuota{
		GCPProjectID:     firstNonEmpty(parsed.CloudaicompanionProject, projectID),
		SubscriptionTier: parsed.CurrentTier.Id,
	}
	for _, allowed := range parsed.Allowed {
		quota.Models = append(quota.Models, domain.AntigravityModelQuota{
			Model:      allowed.Model,
			Percentage: allowed.UsagePercent,
			ResetTime:  allowed.ResetTime,
		})
	}
	return quota, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
