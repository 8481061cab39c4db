package domain

import "time"

// APIToken is a client-facing bearer token that authenticates inbound requests.
type APIToken struct {
	ID        uint64     `json:"id"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`

	Token       string `json:"token"`
	TokenPrefix string `json:"tokenPrefix"`
	Name        string `json:"name"`
	Description string `json:"description"`

	// ProjectID is 0 when the token is not scoped to a project.
	ProjectID uint64 `json:"projectID"`

	IsEnabled  bool       `json:"isEnabled"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
	UseCount   uint64     `json:"useCount"`
}

// AntigravityModelQuota is the per-model quota percentage reported by the
// upstream account-usage endpoint.
type AntigravityModelQuota struct {
	Model      string  `json:"model"`
	Percentage float64 `json:"percentage"`
	ResetTime  string  `json:"resetTime,omitempty"`
}

// AntigravityQuota caches the last known quota state for one bound account,
// keyed by email, so the pool can skip accounts known to be exhausted
// without calling the quota endpoint on every request.
type AntigravityQuota struct {
	ID        uint64     `json:"id"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`

	Email            string                  `json:"email"`
	Name             string                  `json:"name"`
	Picture          string                  `json:"picture"`
	GCPProjectID     string                  `json:"gcpProjectID"`
	SubscriptionTier string                  `json:"subscriptionTier"`
	IsForbidden      bool                    `json:"isForbidden"`
	Models           []AntigravityModelQuota `json:"models"`
}

// ProviderStats summarizes usage across all attempts against one provider.
type ProviderStats struct {
	ProviderID         uint64  `json:"providerID"`
	TotalRequests      uint64  `json:"totalRequests"`
	SuccessfulRequests uint64  `json:"successfulRequests"`
	FailedRequests     uint64  `json:"failedRequests"`
	TotalInputTokens   uint64  `json:"totalInputTokens"`
	TotalOutputTokens  uint64  `json:"totalOutputTokens"`
	TotalCacheRead     uint64  `json:"totalCacheRead"`
	TotalCacheWrite    uint64  `json:"totalCacheWrite"`
	TotalCost          uint64  `json:"totalCost"`
	SuccessRate        float64 `json:"successRate"`
}

// CooldownReason classifies why a provider was cooled down, driving which
// backoff policy applies.
type CooldownReason string

const (
	CooldownReasonUnknown         CooldownReason = "unknown"
	CooldownReasonRateLimit       CooldownReason = "rate_limit"
	CooldownReasonQuotaExhausted  CooldownReason = "quota_exhausted"
	CooldownReasonConcurrentLimit CooldownReason = "concurrent_limit"
	CooldownReasonServerError     CooldownReason = "server_error"
	CooldownReasonNetworkError    CooldownReason = "network_error"
)

// Cooldown is a persisted provider+clientType cooldown window.
type Cooldown struct {
	ID        uint64    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	ProviderID uint64         `json:"providerID"`
	ClientType string         `json:"clientType"`
	UntilTime  time.Time      `json:"untilTime"`
	Reason     CooldownReason `json:"reason"`
}

// FailureCount tracks consecutive failures for a provider+clientType+reason,
// used to scale backoff policies.
type FailureCount struct {
	ID        uint64    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	ProviderID    uint64    `json:"providerID"`
	ClientType    string    `json:"clientType"`
	Reason        string    `json:"reason"`
	Count         int       `json:"count"`
	LastFailureAt time.Time `json:"lastFailureAt"`
}
