package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/relaymesh/ccproxy/internal/adapter/provider/antigravity"
	"github.com/relaymesh/ccproxy/internal/domain"
	"github.com/relaymesh/ccproxy/internal/event"
	"github.com/relaymesh/ccproxy/internal/repository"
	"github.com/relaymesh/ccproxy/internal/service"
)

// AntigravityHandler handles admin API requests specific to antigravity
// providers: quota lookups, account-pool inspection, and manual token/account
// refresh, all scoped under /antigravity/providers/{id}/...
type AntigravityHandler struct {
	svc         *service.AdminService
	quotaRepo   repository.AntigravityQuotaRepository
	broadcaster event.Broadcaster
}

// NewAntigravityHandler creates a new antigravity handler.
func NewAntigravityHandler(svc *service.AdminService, quotaRepo repository.AntigravityQuotaRepository, broadcaster event.Broadcaster) *AntigravityHandler {
	return &AntigravityHandler{svc: svc, quotaRepo: quotaRepo, broadcaster: broadcaster}
}

// ServeHTTP routes antigravity requests
// Routes:
//
//	GET  /antigravity/providers/{id}/quota
//	GET  /antigravity/providers/{id}/account-limits?includeHistory=true
//	POST /antigravity/providers/{id}/refresh-token       body: {"email": "..."}
//	POST /antigravity/providers/{id}/accounts/reload
func (h *AntigravityHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/antigravity")
	path = strings.TrimSuffix(path, "/")
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")

	if len(parts) < 3 || parts[0] != "providers" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	id, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil || id == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid provider id"})
		return
	}

	switch {
	case len(parts) == 3 && parts[2] == "quota" && r.Method == http.MethodGet:
		h.handleGetQuota(w, r, id)
	case len(parts) == 3 && parts[2] == "account-limits" && r.Method == http.MethodGet:
		h.handleAccountLimits(w, r, id)
	case len(parts) == 3 && parts[2] == "refresh-token" && r.Method == http.MethodPost:
		h.handleRefreshToken(w, r, id)
	case len(parts) == 4 && parts[2] == "accounts" && parts[3] == "reload" && r.Method == http.MethodPost:
		h.handleReloadAccounts(w, r, id)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	}
}

// handleGetQuota fetches the upstream quota for the provider's pool of
// accounts and persists each account's quota row so /account-limits can
// show it without hitting Google on every poll.
func (h *AntigravityHandler) handleGetQuota(w http.ResponseWriter, r *http.Request, providerID uint64) {
	p, err := h.svc.GetProvider(providerID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	if p.Type != "antigravity" || p.Config == nil || p.Config.Antigravity == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "not an antigravity provider"})
		return
	}

	accounts := p.Config.Antigravity.Accounts
	if len(accounts) == 0 && p.Config.Antigravity.RefreshToken != "" {
		accounts = append(accounts, domain.PoolAccount{
			Email:        p.Config.Antigravity.Email,
			RefreshToken: p.Config.Antigravity.RefreshToken,
			ProjectID:    p.Config.Antigravity.ProjectID,
			IsEnabled:    true,
		})
	}

	results := make([]map[string]interface{}, 0, len(accounts))
	for _, acct := range accounts {
		if acct.RefreshToken == "" {
			continue
		}
		quota, err := antigravity.FetchQuotaForProvider(r.Context(), acct.RefreshToken, acct.ProjectID)
		if err != nil {
			results = append(results, map[string]interface{}{"email": acct.Email, "error": err.Error()})
			continue
		}
		quota.Email = acct.Email
		if err := h.quotaRepo.Upsert(quota); err != nil {
			h.broadcaster.BroadcastLog("failed to persist quota for " + acct.Email + ": " + err.Error())
		}
		results = append(results, map[string]interface{}{"email": acct.Email, "quota": quota})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"providerID": providerID, "accounts": results})
}

// handleAccountLimits reports the live pool state for every account, so the
// admin dashboard can show which accounts are cooling down and why.
func (h *AntigravityHandler) handleAccountLimits(w http.ResponseWriter, r *http.Request, providerID uint64) {
	adapter, err := h.svc.GetAntigravityAdapter(providerID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	includeHistory := r.URL.Query().Get("includeHistory") == "true"
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"providerID": providerID,
		"accounts":   adapter.PoolSnapshot(includeHistory),
	})
}

// handleRefreshToken forces an immediate OAuth refresh for one account,
// surfacing any failure synchronously instead of waiting for the next
// proxied request to discover a revoked token.
func (h *AntigravityHandler) handleRefreshToken(w http.ResponseWriter, r *http.Request, providerID uint64) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Email == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "email is required"})
		return
	}

	adapter, err := h.svc.GetAntigravityAdapter(providerID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}

	if err := adapter.RefreshAccountToken(r.Context(), req.Email); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
}

// handleReloadAccounts rebuilds the in-memory pool from the provider's
// current config, picking up accounts added or removed through the admin UI
// without restarting the process.
func (h *AntigravityHandler) handleReloadAccounts(w http.ResponseWriter, r *http.Request, providerID uint64) {
	adapter, err := h.svc.GetAntigravityAdapter(providerID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	adapter.ReloadAccounts()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}
