package domain

import "time"

// ClientType identifies the wire protocol a request arrived in.
type ClientType string

var (
	ClientTypeClaude ClientType = "claude"
	ClientTypeCodex  ClientType = "codex"
	ClientTypeGemini ClientType = "gemini"
	ClientTypeOpenAI ClientType = "openai"
)

type ProviderConfigCustom struct {
	// BaseURL is the upstream relay's URL.
	BaseURL string `json:"baseURL"`

	// APIKey authenticates against the upstream relay.
	APIKey string `json:"apiKey"`

	// ClientBaseURL overrides BaseURL for specific client types.
	ClientBaseURL map[ClientType]string `json:"clientBaseURL,omitempty"`

	// ModelMapping maps RequestModel to MappedModel.
	ModelMapping map[string]string `json:"modelMapping,omitempty"`
}

// PoolAccount is one Google account bound into an antigravity provider's pool.
// The pool selects among these per request instead of the provider holding a
// single static credential.
type PoolAccount struct {
	// Email identifies the account for logging and sticky-selection display.
	Email string `json:"email"`

	// CredentialSource is "oauth", "manual", or "database".
	CredentialSource string `json:"credentialSource"`

	// RefreshToken is the Google OAuth refresh token, for CredentialSource=="oauth".
	RefreshToken string `json:"refreshToken,omitempty"`

	// APIKey is a static key passed through as-is, for CredentialSource=="manual".
	APIKey string `json:"apiKey,omitempty"`

	// ProjectID is the Google Cloud project bound to this account, if known in advance.
	ProjectID string `json:"projectID,omitempty"`

	IsEnabled    bool      `json:"isEnabled"`
	IsInvalid    bool      `json:"isInvalid"`
	InvalidReason string   `json:"invalidReason,omitempty"`
	AddedAt      time.Time `json:"addedAt"`
	LastUsedAt   time.Time `json:"lastUsedAt,omitempty"`
}

// PoolSelectionStrategy selects how the pool picks an account for a request.
type PoolSelectionStrategy string

var (
	PoolSelectionSticky      PoolSelectionStrategy = "sticky"
	PoolSelectionRoundRobin  PoolSelectionStrategy = "round_robin"
	PoolSelectionHybrid      PoolSelectionStrategy = "hybrid"
)

// PoolSettings configures the account pool's selection and backoff behavior.
type PoolSettings struct {
	Strategy PoolSelectionStrategy `json:"strategy"`

	// DedupWindow suppresses duplicate rate-limit reports for the same
	// account+model within this window.
	DedupWindow time.Duration `json:"dedupWindow"`

	// ExtendedCooldownAfter is the number of consecutive rate-limit hits
	// on one account+model before the extended cooldown kicks in.
	ExtendedCooldownAfter int `json:"extendedCooldownAfter"`

	// ExtendedCooldown is the backoff applied once ExtendedCooldownAfter is reached.
	ExtendedCooldown time.Duration `json:"extendedCooldown"`

	// MaxWaitBeforeError bounds how long a single-account pool will sleep
	// when its only account is rate limited, before failing fast instead.
	MaxWaitBeforeError time.Duration `json:"maxWaitBeforeError"`

	// StickyMargin is how much better a non-sticky candidate's score must be
	// before the hybrid strategy abandons the sticky account.
	StickyMargin float64 `json:"stickyMargin"`

	// MinUsableHealth is the health-score floor; accounts below it are
	// skipped unless every account in the pool is below it.
	MinUsableHealth float64 `json:"minUsableHealth"`
}

// DefaultPoolSettings returns the pool defaults used when a provider's
// PoolSettings is unset.
func DefaultPoolSettings() PoolSettings {
	return PoolSettings{
		Strategy:               PoolSelectionHybrid,
		DedupWindow:            5 * time.Second,
		ExtendedCooldownAfter:  3,
		ExtendedCooldown:       2 * time.Minute,
		MaxWaitBeforeError:     2 * time.Minute,
		StickyMargin:           0.15,
		MinUsableHealth:        0.2,
	}
}

type ProviderConfigAntigravity struct {
	// Email identifies the bound account. Deprecated: single-account form,
	// kept for backward-compatible config migration into Accounts[0].
	Email string `json:"email,omitempty"`

	// RefreshToken is the Google OAuth refresh token for this account.
	// Deprecated: single-account form, see Email.
	RefreshToken string `json:"refreshToken,omitempty"`

	// ProjectID is the Google Cloud project bound to this account.
	// Deprecated: single-account form, see Email.
	ProjectID string `json:"projectID,omitempty"`

	// Accounts is the pool of Google accounts this provider selects among.
	Accounts []PoolAccount `json:"accounts,omitempty"`

	// Pool configures selection strategy and backoff behavior across Accounts.
	Pool PoolSettings `json:"pool,omitempty"`

	// Endpoint is the v1internal base URL.
	Endpoint string `json:"endpoint"`

	// HaikuTarget overrides the Gemini model that Claude Haiku requests map to.
	HaikuTarget string `json:"haikuTarget,omitempty"`

	// ModelMapping maps RequestModel to MappedModel.
	ModelMapping map[string]string `json:"modelMapping,omitempty"`
}

type ProviderConfig struct {
	Custom      *ProviderConfigCustom      `json:"custom,omitempty"`
	Antigravity *ProviderConfigAntigravity `json:"antigravity,omitempty"`
}

// Provider is a configured upstream backend.
type Provider struct {
	ID        uint64    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Type selects the adapter: "custom", "antigravity".
	Type string `json:"type"`

	// Name is the display name.
	Name string `json:"name"`

	Config *ProviderConfig `json:"config"`

	// SupportedClientTypes lists the client protocols this provider can serve.
	SupportedClientTypes []ClientType `json:"supportedClientTypes"`
}

type Project struct {
	ID        uint64    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Name string `json:"name"`

	// Slug identifies the project in a proxy URL path (/p/{slug}/v1/messages),
	// letting a client route to a project without an API token scoped to it.
	Slug string `json:"slug"`
}

// ResponseModel tracks a distinct model name seen in upstream responses.
type ResponseModel struct {
	ID         uint64    `json:"id"`
	CreatedAt  time.Time `json:"createdAt"`
	Name       string    `json:"name"`
	LastSeenAt time.Time `json:"lastSeenAt"`
	UseCount   uint64    `json:"useCount"`
}

type Session struct {
	ID        uint64    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	SessionID  string     `json:"sessionID"`
	ClientType ClientType `json:"clientType"`

	// ProjectID is 0 when the session is not bound to a project.
	ProjectID uint64 `json:"projectID"`
}

// Route selects which provider serves a client type, optionally scoped to a project.
type Route struct {
	ID        uint64    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	IsEnabled bool `json:"isEnabled"`

	// IsNative marks a route auto-created to mirror a provider's native
	// client support; false means it was created manually to cover a
	// client type via protocol translation.
	IsNative bool `json:"isNative"`

	// ProjectID is 0 for a global route.
	ProjectID  uint64     `json:"projectID"`
	ClientType ClientType `json:"clientType"`
	ProviderID uint64     `json:"providerID"`

	// Position ranks priority; lower sorts first.
	Position int `json:"position"`

	// RetryConfigID is 0 to use the system default retry config.
	RetryConfigID uint64 `json:"retryConfigID"`

	// ModelMapping maps RequestModel to MappedModel, taking priority over the provider's mapping.
	ModelMapping map[string]string `json:"modelMapping,omitempty"`
}

type RequestInfo struct {
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	URL     string            `json:"url"`
	Body    string            `json:"body"`
}
type ResponseInfo struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

// ProxyRequest records one client-facing request end to end.
type ProxyRequest struct {
	ID        uint64    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// InstanceID identifies which server process owns this request, for stale-request cleanup.
	InstanceID string `json:"instanceID"`

	RequestID  string     `json:"requestID"`
	SessionID  string     `json:"sessionID"`
	ClientType ClientType `json:"clientType"`

	RequestModel  string `json:"requestModel"`
	ResponseModel string `json:"responseModel"`

	StartTime time.Time     `json:"startTime"`
	EndTime   time.Time     `json:"endTime"`
	Duration  time.Duration `json:"duration"`

	// Status is one of PENDING, IN_PROGRESS, COMPLETED, FAILED.
	Status     string `json:"status"`
	IsStream   bool   `json:"isStream"`
	StatusCode int    `json:"statusCode"`

	RequestInfo  *RequestInfo  `json:"requestInfo"`
	ResponseInfo *ResponseInfo `json:"responseInfo"`

	Error                       string `json:"error"`
	ProxyUpstreamAttemptCount   uint64 `json:"proxyUpstreamAttemptCount"`
	FinalProxyUpstreamAttemptID uint64 `json:"finalProxyUpstreamAttemptID"`

	RouteID    uint64 `json:"routeID"`
	ProviderID uint64 `json:"providerID"`
	ProjectID  uint64 `json:"projectID"`
	APITokenID uint64 `json:"apiTokenID"`

	InputTokenCount   uint64 `json:"inputTokenCount"`
	OutputTokenCount  uint64 `json:"outputTokenCount"`
	CacheReadCount    uint64 `json:"cacheReadCount"`
	CacheWriteCount   uint64 `json:"cacheWriteCount"`
	Cache5mWriteCount uint64 `json:"cache5mWriteCount"`
	Cache1hWriteCount uint64 `json:"cache1hWriteCount"`
	Cost              uint64 `json:"cost"`
}

// ProxyUpstreamAttempt records one upstream try within a ProxyRequest's retry sequence.
type ProxyUpstreamAttempt struct {
	ID        uint64    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Status is one of PENDING, IN_PROGRESS, COMPLETED, FAILED.
	Status   string `json:"status"`
	IsStream bool   `json:"isStream"`

	ProxyRequestID uint64 `json:"proxyRequestID"`

	RequestInfo  *RequestInfo  `json:"requestInfo"`
	ResponseInfo *ResponseInfo `json:"responseInfo"`

	RouteID    uint64 `json:"routeID"`
	ProviderID uint64 `json:"providerID"`

	InputTokenCount   uint64 `json:"inputTokenCount"`
	OutputTokenCount  uint64 `json:"outputTokenCount"`
	CacheReadCount    uint64 `json:"cacheReadCount"`
	CacheWriteCount   uint64 `json:"cacheWriteCount"`
	Cache5mWriteCount uint64 `json:"cache5mWriteCount"`
	Cache1hWriteCount uint64 `json:"cache1hWriteCount"`
	Cost              uint64 `json:"cost"`
}

// RetryConfig is a reusable retry/backoff policy.
type RetryConfig struct {
	ID        uint64    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Name lets the config be referenced by multiple routes.
	Name string `json:"name"`

	IsDefault bool `json:"isDefault"`

	MaxRetries int `json:"maxRetries"`

	InitialInterval time.Duration `json:"initialInterval"`

	// BackoffRate of 1.0 means a fixed interval between retries.
	BackoffRate float64 `json:"backoffRate"`

	MaxInterval time.Duration `json:"maxInterval"`
}

// RoutingStrategyType selects how candidate routes are ordered.
type RoutingStrategyType string

var (
	RoutingStrategyPriority       RoutingStrategyType = "priority"
	RoutingStrategyWeightedRandom RoutingStrategyType = "weighted_random"
)

// RoutingStrategyConfig holds strategy-specific parameters.
type RoutingStrategyConfig struct {
}

// RoutingStrategy picks how routes are ordered for a project (or globally).
type RoutingStrategy struct {
	ID        uint64    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// ProjectID is 0 for the global strategy.
	ProjectID uint64 `json:"projectID"`

	Type RoutingStrategyType `json:"type"`

	Config *RoutingStrategyConfig `json:"config"`
}

// SystemSetting is a key/value row in the system settings table.
type SystemSetting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

const (
	// SettingKeyProxyPort is the HTTP listen port, default 9880.
	SettingKeyProxyPort = "proxy_port"

	// SettingKeyAntigravityModelMapping holds the global default RequestModel
	// to MappedModel table for antigravity providers that don't override it.
	SettingKeyAntigravityModelMapping = "antigravity_model_mapping"

	// SettingKeyRequestRetentionDays bounds how long ProxyRequest rows are kept.
	SettingKeyRequestRetentionDays = "request_retention_days"

	// SettingKeyStatsRetentionDays bounds how long aggregated UsageStats rows are kept.
	SettingKeyStatsRetentionDays = "stats_retention_days"
)

// ModelMappingScope selects what a ModelMapping rule applies to.
type ModelMappingScope string

const (
	ModelMappingScopeGlobal    ModelMappingScope = "global"
	ModelMappingScopeProvider  ModelMappingScope = "provider"
	ModelMappingScopeProject   ModelMappingScope = "project"
	ModelMappingScopeRoute     ModelMappingScope = "route"
	ModelMappingScopeAPIToken  ModelMappingScope = "api_token"
)

// ModelMapping is a single RequestModel-to-target pattern rule, scoped to a
// provider, project, route, or API token, or global.
type ModelMapping struct {
	ID        uint64     `json:"id"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`

	Scope        ModelMappingScope `json:"scope"`
	ClientType   ClientType        `json:"clientType"`
	ProviderType string            `json:"providerType"`

	ProviderID uint64 `json:"providerID"`
	ProjectID  uint64 `json:"projectID"`
	RouteID    uint64 `json:"routeID"`
	APITokenID uint64 `json:"apiTokenID"`

	// Pattern matches against the incoming RequestModel; Target is the MappedModel.
	Pattern string `json:"pattern"`
	Target  string `json:"target"`

	// Priority orders overlapping rules; lower sorts first.
	Priority int `json:"priority"`
}

// ModelMappingQuery filters ModelMapping.List by scope.
type ModelMappingQuery struct {
	Scope        ModelMappingScope
	ClientType   ClientType
	ProviderType string
	ProviderID   uint64
	ProjectID    uint64
	RouteID      uint64
	APITokenID   uint64
}

// RoutePositionUpdate reorders one route within a batch position update.
type RoutePositionUpdate struct {
	ID       uint64 `json:"id"`
	Position int    `json:"position"`
}

// UsageStats is one hourly usage bucket, aggregated from ProxyRequest rows
// for a route+provider+project+apiToken+clientType combination.
type UsageStats struct {
	ID        uint64    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`

	// Hour is truncated to the start of the hour it summarizes.
	Hour time.Time `json:"hour"`

	RouteID    uint64     `json:"routeID"`
	ProviderID uint64     `json:"providerID"`
	ProjectID  uint64     `json:"projectID"`
	APITokenID uint64     `json:"apiTokenID"`
	ClientType ClientType `json:"clientType"`

	TotalRequests      uint64 `json:"totalRequests"`
	SuccessfulRequests uint64 `json:"successfulRequests"`
	FailedRequests     uint64 `json:"failedRequests"`

	InputTokens  uint64 `json:"inputTokens"`
	OutputTokens uint64 `json:"outputTokens"`
	CacheRead    uint64 `json:"cacheRead"`
	CacheWrite   uint64 `json:"cacheWrite"`
	Cost         uint64 `json:"cost"`
}
