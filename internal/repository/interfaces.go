package repository

import (
	"time"

	"github.com/relaymesh/ccproxy/internal/domain"
)

type ProviderRepository interface {
	Create(provider *domain.Provider) error
	Update(provider *domain.Provider) error
	Delete(id uint64) error
	GetByID(id uint64) (*domain.Provider, error)
	List() ([]*domain.Provider, error)
}

type ModelMappingRepository interface {
	Create(mapping *domain.ModelMapping) error
	Update(mapping *domain.ModelMapping) error
	Delete(id uint64) error
	GetByID(id uint64) (*domain.ModelMapping, error)
	List() ([]*domain.ModelMapping, error)
	ListByQuery(query *domain.ModelMappingQuery) ([]*domain.ModelMapping, error)
}

type RouteRepository interface {
	Create(route *domain.Route) error
	Update(route *domain.Route) error
	Delete(id uint64) error
	GetByID(id uint64) (*domain.Route, error)
	// FindByKey finds a route by the unique key (projectID, providerID, clientType)
	FindByKey(projectID, providerID uint64, clientType domain.ClientType) (*domain.Route, error)
	List() ([]*domain.Route, error)
}

type RoutingStrategyRepository interface {
	Create(strategy *domain.RoutingStrategy) error
	Update(strategy *domain.RoutingStrategy) error
	Delete(id uint64) error
	GetByProjectID(projectID uint64) (*domain.RoutingStrategy, error)
	List() ([]*domain.RoutingStrategy, error)
}

type RetryConfigRepository interface {
	Create(config *domain.RetryConfig) error
	Update(config *domain.RetryConfig) error
	Delete(id uint64) error
	GetByID(id uint64) (*domain.RetryConfig, error)
	GetDefault() (*domain.RetryConfig, error)
	List() ([]*domain.RetryConfig, error)
}

type ProjectRepository interface {
	Create(project *domain.Project) error
	Update(project *domain.Project) error
	Delete(id uint64) error
	GetByID(id uint64) (*domain.Project, error)
	GetBySlug(slug string) (*domain.Project, error)
	List() ([]*domain.Project, error)
}

type SessionRepository interface {
	Create(session *domain.Session) error
	Update(session *domain.Session) error
	GetBySessionID(sessionID string) (*domain.Session, error)
	List() ([]*domain.Session, error)
}

type ProxyRequestRepository interface {
	Create(req *domain.ProxyRequest) error
	Update(req *domain.ProxyRequest) error
	GetByID(id uint64) (*domain.ProxyRequest, error)
	List(limit, offset int) ([]*domain.ProxyRequest, error)
	// ListCursor paginates by ID: before selects id < before, after selects id > after.
	ListCursor(limit int, before, after uint64) ([]*domain.ProxyRequest, error)
	Count() (int64, error)
	// UpdateProjectIDBySessionID bulk-updates the projectID on every request with this sessionID.
	UpdateProjectIDBySessionID(sessionID string, projectID uint64) (int64, error)
	// MarkStaleAsFailed marks all IN_PROGRESS/PENDING requests from other instances as FAILED
	// Also marks requests that have been IN_PROGRESS for too long (> 30 minutes) as timed out
	MarkStaleAsFailed(currentInstanceID string) (int64, error)
	// DeleteOlderThan removes requests whose StartTime is before the given time.
	DeleteOlderThan(before time.Time) (int64, error)
}

// UsageStatsFilter narrows a UsageStatsRepository.Query call.
type UsageStatsFilter struct {
	StartTime  *time.Time
	EndTime    *time.Time
	RouteID    *uint64
	ProviderID *uint64
	ProjectID  *uint64
	APITokenID *uint64
	ClientType *domain.ClientType
}

type UsageStatsRepository interface {
	Upsert(stats *domain.UsageStats) error
	Query(filter UsageStatsFilter) ([]*domain.UsageStats, error)
	DeleteOlderThan(before time.Time) (int64, error)
	GetLatestHour() (*time.Time, error)
	GetProviderStats(clientType string, projectID uint64) (map[uint64]*domain.ProviderStats, error)
	// Aggregate rolls up completed ProxyRequest rows into hourly UsageStats buckets
	// and returns the number of buckets written.
	Aggregate() (int, error)
}

type ProxyUpstreamAttemptRepository interface {
	Create(attempt *domain.ProxyUpstreamAttempt) error
	Update(attempt *domain.ProxyUpstreamAttempt) error
	ListByProxyRequestID(proxyRequestID uint64) ([]*domain.ProxyUpstreamAttempt, error)
	GetProviderStats(clientType string, projectID uint64) (map[uint64]*domain.ProviderStats, error)
}

type SystemSettingRepository interface {
	Get(key string) (string, error)
	Set(key, value string) error
	GetAll() ([]*domain.SystemSetting, error)
	Delete(key string) error
}

type AntigravityQuotaRepository interface {
	// Upsert inserts or updates the quota row for an account, keyed by email.
	Upsert(quota *domain.AntigravityQuota) error
	GetByEmail(email string) (*domain.AntigravityQuota, error)
	List() ([]*domain.AntigravityQuota, error)
	Delete(email string) error
}

type CooldownRepository interface {
	GetAll() ([]*domain.Cooldown, error)
	GetByProvider(providerID uint64) ([]*domain.Cooldown, error)
	Get(providerID uint64, clientType string) (*domain.Cooldown, error)
	Upsert(cooldown *domain.Cooldown) error
	Delete(providerID uint64, clientType string) error
	DeleteAll(providerID uint64) error
	DeleteExpired() error
}

type FailureCountRepository interface {
	Get(providerID uint64, clientType string, reason string) (*domain.FailureCount, error)
	GetAll() ([]*domain.FailureCount, error)
	Upsert(fc *domain.FailureCount) error
	Delete(providerID uint64, clientType string, reason string) error
	DeleteAll(providerID uint64, clientType string) error
	DeleteExpired(olderThanSeconds int64) error
}

type APITokenRepository interface {
	Create(token *domain.APIToken) error
	Update(token *domain.APIToken) error
	Delete(id uint64) error
	GetByID(id uint64) (*domain.APIToken, error)
	GetByToken(token string) (*domain.APIToken, error)
	List() ([]*domain.APIToken, error)
	IncrementUseCount(id uint64) error
}
