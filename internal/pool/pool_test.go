package pool

import (
	"testing"
	"time"

	"github.com/relaymesh/ccproxy/internal/domain"
)

func newTestPool(t *testing.T, strategy domain.PoolSelectionStrategy, emails ...string) *Pool {
	t.Helper()
	var accounts []domain.PoolAccount
	for _, email := range emails {
		accounts = append(accounts, domain.PoolAccount{Email: email, IsEnabled: true})
	}
	cfg := &domain.ProviderConfigAntigravity{
		Accounts: accounts,
		Pool: domain.PoolSettings{
			Strategy:              strategy,
			DedupWindow:           5 * time.Second,
			ExtendedCooldownAfter: 3,
			ExtendedCooldown:      30 * time.Minute,
			MaxWaitBeforeError:    15 * time.Second,
			StickyMargin:          0.15,
			MinUsableHealth:       0.2,
		},
	}
	return New(cfg, 1)
}

func TestSelectReturnsErrAllAccountsRateLimitedWhenNoneUsable(t *testing.T) {
	p := newTestPool(t, domain.PoolSelectionRoundRobin, "a@example.com", "b@example.com")

	p.MarkRateLimited("a@example.com", "gemini-2.5-pro", time.Now().Add(time.Minute))
	p.MarkRateLimited("b@example.com", "gemini-2.5-pro", time.Now().Add(2*time.Minute))

	_, err := p.Select("gemini-2.5-pro", "")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	rlErr, ok := err.(*ErrAllAccountsRateLimited)
	if !ok {
		t.Fatalf("expected *ErrAllAccountsRateLimited, got %T", err)
	}
	if rlErr.SingleAccount {
		t.Error("SingleAccount should be false for a two-account pool")
	}
}

func TestSelectSkipsRateLimitedAccountForThatModel(t *testing.T) {
	p := newTestPool(t, domain.PoolSelectionRoundRobin, "a@example.com", "b@example.com")
	p.MarkRateLimited("a@example.com", "gemini-2.5-pro", time.Now().Add(time.Minute))

	for i := 0; i < 5; i++ {
		sel, err := p.Select("gemini-2.5-pro", "")
		if err != nil {
			t.Fatalf("Select() error = %v", err)
		}
		if sel.Email == "a@example.com" {
			t.Fatalf("rate-limited account a@example.com was selected")
		}
	}
}

func TestSelectIsPerModelNotGlobal(t *testing.T) {
	p := newTestPool(t, domain.PoolSelectionRoundRobin, "only@example.com")
	p.MarkRateLimited("only@example.com", "gemini-2.5-pro", time.Now().Add(time.Minute))

	sel, err := p.Select("gemini-2.5-flash", "")
	if err != nil {
		t.Fatalf("a different model should still be selectable, got error: %v", err)
	}
	if sel.Email != "only@example.com" {
		t.Fatalf("Email = %q, want only@example.com", sel.Email)
	}
}

func TestMarkRateLimitedDedupesWithinWindow(t *testing.T) {
	p := newTestPool(t, domain.PoolSelectionRoundRobin, "a@example.com")
	p.settings.DedupWindow = time.Hour

	p.MarkRateLimited("a@example.com", "gemini-2.5-pro", time.Now().Add(time.Minute))
	s := p.findByEmail("a@example.com")
	s.mu.Lock()
	firstHits := s.modelLimits["gemini-2.5-pro"].consecutiveHits
	firstHealth := s.healthScore
	s.mu.Unlock()

	// A second report inside the dedup window must not double-count the
	// cooldown or degrade health score again.
	p.MarkRateLimited("a@example.com", "gemini-2.5-pro", time.Now().Add(2*time.Minute))
	s.mu.Lock()
	secondHits := s.modelLimits["gemini-2.5-pro"].consecutiveHits
	secondHealth := s.healthScore
	s.mu.Unlock()

	if secondHits != firstHits {
		t.Errorf("consecutiveHits changed within dedup window: %d -> %d", firstHits, secondHits)
	}
	if secondHealth != firstHealth {
		t.Errorf("healthScore changed within dedup window: %f -> %f", firstHealth, secondHealth)
	}
}

func TestMarkRateLimitedEscalatesAfterConsecutiveHits(t *testing.T) {
	p := newTestPool(t, domain.PoolSelectionRoundRobin, "a@example.com")
	p.settings.DedupWindow = 0
	p.settings.ExtendedCooldownAfter = 2
	p.settings.ExtendedCooldown = time.Hour

	p.MarkRateLimited("a@example.com", "gemini-2.5-pro", time.Now().Add(time.Second))
	p.MarkRateLimited("a@example.com", "gemini-2.5-pro", time.Now().Add(time.Second))

	s := p.findByEmail("a@example.com")
	resetAt := s.resetAtFor("gemini-2.5-pro")
	if time.Until(resetAt) < 30*time.Minute {
		t.Errorf("expected extended cooldown after %d consecutive hits, resetAt = %v", p.settings.ExtendedCooldownAfter, resetAt)
	}
}

func TestMarkSuccessRestoresHealthAfterFailure(t *testing.T) {
	p := newTestPool(t, domain.PoolSelectionRoundRobin, "a@example.com")
	p.MarkFailure("a@example.com")

	s := p.findByEmail("a@example.com")
	s.mu.Lock()
	degraded := s.healthScore
	s.mu.Unlock()

	p.MarkSuccess("a@example.com")

	s.mu.Lock()
	restored := s.healthScore
	s.mu.Unlock()

	if restored <= degraded {
		t.Errorf("healthScore did not improve after MarkSuccess: %f -> %f", degraded, restored)
	}
}

func TestSelectStickySameSessionPicksSameAccount(t *testing.T) {
	p := newTestPool(t, domain.PoolSelectionSticky, "a@example.com", "b@example.com", "c@example.com")

	first, err := p.Select("gemini-2.5-pro", "session-42")
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := p.Select("gemini-2.5-pro", "session-42")
		if err != nil {
			t.Fatalf("Select() error = %v", err)
		}
		if again.Email != first.Email {
			t.Fatalf("sticky selection changed across calls: %q -> %q", first.Email, again.Email)
		}
	}
}

func TestSelectStickySurvivesUsableSetChanging(t *testing.T) {
	p := newTestPool(t, domain.PoolSelectionSticky, "a@example.com", "b@example.com", "c@example.com")

	bound, err := p.Select("gemini-2.5-pro", "session-42")
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}

	// Rate limit every account ahead of the bound one in index order, then
	// bring them back, so the usable slice's length and membership churn
	// around the binding without ever actually excluding it.
	for _, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		if email == bound.Email {
			continue
		}
		p.MarkRateLimited(email, "gemini-2.5-pro", time.Now().Add(time.Minute))
	}

	again, err := p.Select("gemini-2.5-pro", "session-42")
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if again.Email != bound.Email {
		t.Fatalf("sticky binding did not survive a shrinking usable set: %q -> %q", bound.Email, again.Email)
	}

	for _, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		s := p.findByEmail(email)
		s.mu.Lock()
		if rl, ok := s.modelLimits["gemini-2.5-pro"]; ok {
			rl.rateLimited = false
		}
		s.mu.Unlock()
	}

	restored, err := p.Select("gemini-2.5-pro", "session-42")
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if restored.Email != bound.Email {
		t.Fatalf("sticky binding did not survive the usable set growing back: %q -> %q", bound.Email, restored.Email)
	}
}

func TestRemoveAccountClearsStickyBindingAndRebinds(t *testing.T) {
	p := newTestPool(t, domain.PoolSelectionSticky, "a@example.com", "b@example.com")

	bound, err := p.Select("gemini-2.5-pro", "session-42")
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}

	p.RemoveAccount(bound.Email)

	sel, err := p.Select("gemini-2.5-pro", "session-42")
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if sel.Email == bound.Email {
		t.Fatalf("expected rebinding away from removed account %q", bound.Email)
	}

	accounts := p.Accounts()
	if len(accounts) != 1 {
		t.Fatalf("expected 1 account after removal, got %d", len(accounts))
	}
}

func TestShouldWaitOnlyWaitsForSingleAccountPool(t *testing.T) {
	p := newTestPool(t, domain.PoolSelectionRoundRobin, "a@example.com", "b@example.com")
	err := &ErrAllAccountsRateLimited{EarliestReset: time.Now().Add(time.Second), SingleAccount: false}
	if _, wait := p.ShouldWait(err); wait {
		t.Error("multi-account pool should fail fast, not wait")
	}

	single := newTestPool(t, domain.PoolSelectionRoundRobin, "a@example.com")
	errSingle := &ErrAllAccountsRateLimited{EarliestReset: time.Now().Add(time.Second), SingleAccount: true}
	if _, wait := single.ShouldWait(errSingle); !wait {
		t.Error("single-account pool should wait for a near-term reset")
	}
}
