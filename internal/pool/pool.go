// Package pool selects which credentialed account an antigravity provider
// uses for a given request, tracking per-account, per-model rate-limit state
// so a 429 on one account doesn't cool the whole provider down.
package pool

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/relaymesh/ccproxy/internal/domain"
)

// modelRateLimitState is the in-memory rate-limit window for one account+model pair.
type modelRateLimitState struct {
	rateLimited     bool
	resetAt         time.Time
	lastRateLimitAt time.Time
	consecutiveHits int
}

// accountState is the runtime state tracked alongside a domain.PoolAccount.
type accountState struct {
	account domain.PoolAccount

	mu              sync.Mutex
	modelLimits     map[string]*modelRateLimitState
	healthScore     float64
	bucketTokens    float64
	lastRefillAt    time.Time
	consecutiveFail int
}

// TokenBucketCapacity and TokenBucketRefillPerSec bound the hybrid strategy's
// usage-smoothing term: an account regains one token per 3s, capped at 5.
const (
	TokenBucketCapacity     = 5.0
	TokenBucketRefillPerSec = 1.0 / 3.0
	HybridUsageWeight       = 0.3
)

// Selected is the account + derived credential handed back to the adapter.
type Selected struct {
	Account  *domain.PoolAccount
	Email    string
	ModelKey string
}

// Pool selects among a provider's configured accounts per request and tracks
// per-account-per-model rate-limit and health state in memory.
type Pool struct {
	providerID uint64
	mu         sync.RWMutex
	settings   domain.PoolSettings
	states     []*accountState
	rrCursor   int

	// stickyBindings remembers, per session fingerprint, the email of the
	// account last used for it, so repeat requests from the same fingerprint
	// keep landing on the same account even as the usable set changes shape
	// around it (an account going rate limited and recovering shouldn't
	// shift who every other fingerprint is bound to).
	stickyBindings map[string]string

	// PersistFunc is invoked when account validity changes (e.g. on 401
	// invalidation), letting the caller flush the updated config to storage.
	PersistFunc func(accounts []domain.PoolAccount)
}

// ErrAllAccountsRateLimited is returned by Select when every enabled account
// is currently rate limited for the requested model.
type ErrAllAccountsRateLimited struct {
	// EarliestReset is the soonest time any account's limit clears.
	EarliestReset time.Time
	// SingleAccount is true when the pool has exactly one usable account,
	// which changes the caller's fail-fast-vs-sleep policy.
	SingleAccount bool
}

func (e *ErrAllAccountsRateLimited) Error() string {
	return fmt.Sprintf("all accounts rate limited, earliest reset at %s", e.EarliestReset.Format(time.RFC3339))
}

// New builds a Pool from a provider's antigravity config, migrating the
// legacy single-account fields into Accounts[0] if Accounts is empty.
func New(config *domain.ProviderConfigAntigravity, providerID uint64) *Pool {
	accounts := config.Accounts
	if len(accounts) == 0 && (config.RefreshToken != "" || config.Email != "") {
		accounts = []domain.PoolAccount{{
			Email:            config.Email,
			CredentialSource: "oauth",
			RefreshToken:     config.RefreshToken,
			ProjectID:        config.ProjectID,
			IsEnabled:        true,
			AddedAt:          time.Now(),
		}}
	}

	settings := config.Pool
	if settings.Strategy == "" {
		settings = domain.DefaultPoolSettings()
	}

	p := &Pool{providerID: providerID, settings: settings, stickyBindings: make(map[string]string)}
	now := time.Now()
	for i := range accounts {
		p.states = append(p.states, &accountState{
			account:      accounts[i],
			modelLimits:  make(map[string]*modelRateLimitState),
			healthScore:  1.0,
			bucketTokens: TokenBucketCapacity,
			lastRefillAt: now,
		})
	}
	return p
}

// Accounts returns a snapshot of the pool's configured accounts, in order.
func (p *Pool) Accounts() []domain.PoolAccount {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.PoolAccount, 0, len(p.states))
	for _, s := range p.states {
		out = append(out, s.account)
	}
	return out
}

func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.states)
}

// ModelLimitSnapshot is the rate-limit state for one account+model pair, as
// reported by the /account-limits admin endpoint.
type ModelLimitSnapshot struct {
	Model           string    `json:"model"`
	RateLimited     bool      `json:"rateLimited"`
	ResetAt         time.Time `json:"resetAt,omitempty"`
	ConsecutiveHits int       `json:"consecutiveHits"`
}

// AccountLimitSnapshot is the point-in-time pool state for one account.
type AccountLimitSnapshot struct {
	Email           string               `json:"email"`
	IsEnabled       bool                 `json:"isEnabled"`
	IsInvalid       bool                 `json:"isInvalid"`
	InvalidReason   string               `json:"invalidReason,omitempty"`
	HealthScore     float64              `json:"healthScore"`
	BucketTokens    float64              `json:"bucketTokens"`
	ConsecutiveFail int                  `json:"consecutiveFail"`
	LastUsedAt      time.Time            `json:"lastUsedAt,omitempty"`
	ModelLimits     []ModelLimitSnapshot `json:"modelLimits,omitempty"`
}

// Snapshot returns the current state of every account in the pool, for
// display on an admin dashboard. includeHistory controls whether per-model
// rate-limit detail is included, since that list can grow with model churn.
func (p *Pool) Snapshot(includeHistory bool) []AccountLimitSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]AccountLimitSnapshot, 0, len(p.states))
	for _, s := range p.states {
		s.mu.Lock()
		snap := AccountLimitSnapshot{
			Email:           s.account.Email,
			IsEnabled:       s.account.IsEnabled,
			IsInvalid:       s.account.IsInvalid,
			InvalidReason:   s.account.InvalidReason,
			HealthScore:     s.healthScore,
			BucketTokens:    s.bucketTokens,
			ConsecutiveFail: s.consecutiveFail,
			LastUsedAt:      s.account.LastUsedAt,
		}
		if includeHistory {
			for model, rl := range s.modelLimits {
				snap.ModelLimits = append(snap.ModelLimits, ModelLimitSnapshot{
					Model:           model,
					RateLimited:     rl.rateLimited && time.Now().Before(rl.resetAt),
					ResetAt:         rl.resetAt,
					ConsecutiveHits: rl.consecutiveHits,
				})
			}
		}
		s.mu.Unlock()
		out = append(out, snap)
	}
	return out
}

// usable reports whether the account is enabled, not permanently invalid,
// and not currently rate limited for model.
func (s *accountState) usable(model string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.account.IsEnabled || s.account.IsInvalid {
		return false
	}
	if rl, ok := s.modelLimits[model]; ok && rl.rateLimited {
		if time.Now().Before(rl.resetAt) {
			return false
		}
		rl.rateLimited = false
	}
	return true
}

func (s *accountState) resetAtFor(model string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rl, ok := s.modelLimits[model]; ok {
		return rl.resetAt
	}
	return time.Time{}
}

// score computes the hybrid strategy's ranking value: health score plus a
// smoothed usage-availability term from the token bucket.
func (s *accountState) score() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	elapsed := time.Since(s.lastRefillAt).Seconds()
	tokens := s.bucketTokens + elapsed*TokenBucketRefillPerSec
	if tokens > TokenBucketCapacity {
		tokens = TokenBucketCapacity
	}
	return s.healthScore + (tokens/TokenBucketCapacity)*HybridUsageWeight
}

// Select picks an account for the request's model, honoring the pool's
// configured strategy. sessionKey drives sticky selection; callers without a
// session fingerprint should pass an empty string, which disables stickiness.
func (p *Pool) Select(model, sessionKey string) (*Selected, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.states) == 0 {
		return nil, fmt.Errorf("pool has no configured accounts")
	}

	usable := make([]*accountState, 0, len(p.states))
	for _, s := range p.states {
		if s.usable(model) {
			usable = append(usable, s)
		}
	}
	if len(usable) == 0 {
		return nil, p.allRateLimitedError(model)
	}

	var chosen *accountState
	switch p.settings.Strategy {
	case domain.PoolSelectionRoundRobin:
		chosen = p.selectRoundRobin(usable)
	case domain.PoolSelectionSticky:
		chosen = p.selectSticky(usable, sessionKey)
	default:
		chosen = p.selectHybrid(usable, sessionKey)
	}

	chosen.mu.Lock()
	chosen.account.LastUsedAt = time.Now()
	chosen.mu.Unlock()

	return &Selected{Account: &chosen.account, Email: chosen.account.Email, ModelKey: model}, nil
}

func (p *Pool) selectRoundRobin(usable []*accountState) *accountState {
	p.rrCursor = (p.rrCursor + 1) % len(usable)
	return usable[p.rrCursor%len(usable)]
}

// selectSticky returns the account bound to sessionKey if it's still usable,
// otherwise the lowest-indexed usable account, which becomes the new binding.
// An empty sessionKey disables stickiness outright and just takes the
// lowest-indexed usable account without recording a binding. Must be called
// with p.mu held for writing, since it mutates p.stickyBindings.
func (p *Pool) selectSticky(usable []*accountState, sessionKey string) *accountState {
	if sessionKey == "" {
		return usable[0]
	}

	if email, ok := p.stickyBindings[sessionKey]; ok {
		for _, s := range usable {
			if s.account.Email == email {
				return s
			}
		}
	}

	chosen := usable[0]
	p.stickyBindings[sessionKey] = chosen.account.Email
	return chosen
}

// selectHybrid scores every usable account and picks the best, but prefers
// the sticky candidate unless another account beats it by more than StickyMargin.
func (p *Pool) selectHybrid(usable []*accountState, sessionKey string) *accountState {
	best := usable[0]
	bestScore := best.score()
	for _, s := range usable[1:] {
		sc := s.score()
		if sc > bestScore {
			best, bestScore = s, sc
		}
	}

	if sessionKey == "" {
		return best
	}

	if email, ok := p.stickyBindings[sessionKey]; ok {
		for _, s := range usable {
			if s.account.Email == email {
				if best.account.Email == email {
					return best
				}
				if bestScore-s.score() > p.settings.StickyMargin {
					p.stickyBindings[sessionKey] = best.account.Email
					return best
				}
				return s
			}
		}
	}

	p.stickyBindings[sessionKey] = best.account.Email
	return best
}

func (p *Pool) allRateLimitedError(model string) error {
	earliest := time.Time{}
	for _, s := range p.states {
		if !s.account.IsEnabled || s.account.IsInvalid {
			continue
		}
		reset := s.resetAtFor(model)
		if reset.IsZero() {
			continue
		}
		if earliest.IsZero() || reset.Before(earliest) {
			earliest = reset
		}
	}
	return &ErrAllAccountsRateLimited{EarliestReset: earliest, SingleAccount: len(p.states) == 1}
}

// MarkRateLimited records a 429/RESOURCE_EXHAUSTED for email+model, deduping
// repeated reports within the pool's DedupWindow and escalating to an
// extended cooldown after ExtendedCooldownAfter consecutive hits.
func (p *Pool) MarkRateLimited(email, model string, resetAt time.Time) {
	s := p.findByEmail(email)
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rl, ok := s.modelLimits[model]
	if !ok {
		rl = &modelRateLimitState{}
		s.modelLimits[model] = rl
	}

	if ok && time.Since(rl.lastRateLimitAt) < p.settings.DedupWindow {
		return
	}

	rl.consecutiveHits++
	rl.lastRateLimitAt = time.Now()
	rl.rateLimited = true

	if rl.consecutiveHits >= p.settings.ExtendedCooldownAfter {
		extended := time.Now().Add(p.settings.ExtendedCooldown)
		if resetAt.Before(extended) {
			resetAt = extended
		}
	}
	if resetAt.IsZero() {
		resetAt = time.Now().Add(30 * time.Second)
	}
	rl.resetAt = resetAt

	s.healthScore *= 0.5
	if s.healthScore < 0.05 {
		s.healthScore = 0.05
	}
	s.bucketTokens = 0
	s.lastRefillAt = time.Now()
}

// MarkSuccess clears the consecutive-failure counter and partially restores
// the account's health score after a successful request.
func (p *Pool) MarkSuccess(email string) {
	s := p.findByEmail(email)
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveFail = 0
	s.healthScore += (1.0 - s.healthScore) * 0.2
	if s.healthScore > 1.0 {
		s.healthScore = 1.0
	}
	elapsed := time.Since(s.lastRefillAt).Seconds()
	s.bucketTokens += elapsed * TokenBucketRefillPerSec
	if s.bucketTokens > TokenBucketCapacity {
		s.bucketTokens = TokenBucketCapacity
	}
	s.bucketTokens -= 1
	if s.bucketTokens < 0 {
		s.bucketTokens = 0
	}
	s.lastRefillAt = time.Now()
}

// MarkFailure records a non-rate-limit failure, degrading health score and
// tracking consecutive failures for possible invalidation.
func (p *Pool) MarkFailure(email string) {
	s := p.findByEmail(email)
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveFail++
	s.healthScore *= 0.8
	if s.healthScore < 0.05 {
		s.healthScore = 0.05
	}
}

// Invalidate marks an account permanently unusable (e.g. refresh token revoked)
// and fires PersistFunc so the caller can flush the change to storage.
func (p *Pool) Invalidate(email, reason string) {
	s := p.findByEmail(email)
	if s == nil {
		return
	}
	s.mu.Lock()
	s.account.IsInvalid = true
	s.account.InvalidReason = reason
	s.mu.Unlock()

	if p.PersistFunc != nil {
		p.PersistFunc(p.Accounts())
	}
}

// RemoveAccount drops an account from the pool entirely and clears any
// sticky bindings pointing to it, so a fingerprint that was bound to a
// now-gone account re-binds to whichever usable account it lands on next,
// rather than silently failing lookup forever. Fires PersistFunc so the
// caller can flush the change to storage.
func (p *Pool) RemoveAccount(email string) {
	p.mu.Lock()
	next := make([]*accountState, 0, len(p.states))
	removed := false
	for _, s := range p.states {
		if s.account.Email == email {
			removed = true
			continue
		}
		next = append(next, s)
	}
	p.states = next
	p.rrCursor = 0

	if removed {
		for fingerprint, boundEmail := range p.stickyBindings {
			if boundEmail == email {
				delete(p.stickyBindings, fingerprint)
			}
		}
	}
	p.mu.Unlock()

	if removed && p.PersistFunc != nil {
		p.PersistFunc(p.Accounts())
	}
}

func (p *Pool) findByEmail(email string) *accountState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, s := range p.states {
		if s.account.Email == email {
			return s
		}
	}
	return nil
}

// Reload replaces the pool's accounts and settings, e.g. after an admin edit
// or a manual /accounts/reload call. Runtime rate-limit state for accounts
// that still exist (matched by email) is preserved.
func (p *Pool) Reload(config *domain.ProviderConfigAntigravity) {
	p.mu.Lock()
	defer p.mu.Unlock()

	settings := config.Pool
	if settings.Strategy == "" {
		settings = domain.DefaultPoolSettings()
	}
	p.settings = settings

	old := make(map[string]*accountState, len(p.states))
	for _, s := range p.states {
		old[s.account.Email] = s
	}

	now := time.Now()
	var next []*accountState
	for _, acc := range config.Accounts {
		if existing, ok := old[acc.Email]; ok {
			existing.mu.Lock()
			existing.account = acc
			existing.mu.Unlock()
			next = append(next, existing)
			continue
		}
		next = append(next, &accountState{
			account:      acc,
			modelLimits:  make(map[string]*modelRateLimitState),
			healthScore:  1.0,
			bucketTokens: TokenBucketCapacity,
			lastRefillAt: now,
		})
	}
	p.states = next
	p.rrCursor = 0

	nextEmails := make(map[string]bool, len(next))
	for _, s := range next {
		nextEmails[s.account.Email] = true
	}
	for fingerprint, boundEmail := range p.stickyBindings {
		if !nextEmails[boundEmail] {
			delete(p.stickyBindings, fingerprint)
		}
	}
}

// ShouldWait decides the fail-fast-or-sleep policy when every account is rate
// limited: a single-account pool sleeps up to MaxWaitBeforeError, a
// multi-account pool fails fast rather than silently delaying the request.
func (p *Pool) ShouldWait(err *ErrAllAccountsRateLimited) (time.Duration, bool) {
	if !err.SingleAccount {
		return 0, false
	}
	wait := time.Until(err.EarliestReset)
	if wait <= 0 {
		return 0, false
	}
	if wait > p.settings.MaxWaitBeforeError {
		return 0, false
	}
	jitter := time.Duration(rand.Int63n(int64(200 * time.Millisecond)))
	return wait + jitter, true
}
