package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/relaymesh/ccproxy/internal/adapter/client"
	ctxutil "github.com/relaymesh/ccproxy/internal/context"
	"github.com/relaymesh/ccproxy/internal/domain"
	"github.com/relaymesh/ccproxy/internal/executor"
	"github.com/relaymesh/ccproxy/internal/repository"
)

// ProxyHandler handles AI API proxy requests
type ProxyHandler struct {
	clientAdapter *client.Adapter
	executor      *executor.Executor
	sessionRepo   repository.SessionRepository
}

// NewProxyHandler creates a new proxy handler
func NewProxyHandler(
	clientAdapter *client.Adapter,
	exec *executor.Executor,
	sessionRepo repository.SessionRepository,
) *ProxyHandler {
	return &ProxyHandler{
		clientAdapter: clientAdapter,
		executor:      exec,
		sessionRepo:   sessionRepo,
	}
}

// ServeHTTP handles proxy requests
func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	// Read body
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	defer r.Body.Close()

	// Detect client type and extract info
	clientType := h.clientAdapter.DetectClientType(r, body)
	if clientType == "" {
		writeError(w, http.StatusBadRequest, "unable to detect client type")
		return
	}

	requestModel := h.clientAdapter.ExtractModel(body)
	sessionID := h.clientAdapter.ExtractSessionID(r, body, clientType)
	stream := h.clientAdapter.IsStreamRequest(body)

	// Build context
	ctx := r.Context()
	ctx = ctxutil.WithClientType(ctx, clientType)
	ctx = ctxutil.WithSessionID(ctx, sessionID)
	ctx = ctxutil.WithRequestModel(ctx, requestModel)
	ctx = ctxutil.WithRequestBody(ctx, body)

	// Get or create session to get project ID. A pinned project ID (set by
	// the project-scoped proxy route) takes precedence over the session's
	// own binding rather than being overwritten by it.
	pinnedProjectID := ctxutil.GetProjectID(ctx)
	pinned := ctxutil.IsProjectPinned(ctx)

	session, _ := h.sessionRepo.GetBySessionID(sessionID)
	switch {
	case pinned:
		if session == nil {
			_ = h.sessionRepo.Create(&domain.Session{
				SessionID:  sessionID,
				ClientType: clientType,
				ProjectID:  pinnedProjectID,
			})
		}
	case session != nil:
		ctx = ctxutil.WithProjectID(ctx, session.ProjectID)
	default:
		// Create new session
		newSession := &domain.Session{
			SessionID:  sessionID,
			ClientType: clientType,
			ProjectID:  0, // Global
		}
		_ = h.sessionRepo.Create(newSession)
	}

	// Execute request
	err = h.executor.Execute(ctx, w, r)
	if err != nil {
		proxyErr, ok := err.(*domain.ProxyError)
		if ok {
			if stream {
				writeStreamError(w, proxyErr)
			} else {
				writeProxyError(w, proxyErr)
			}
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
	}
}

// Helper functions

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    "proxy_error",
		},
	})
}

// proxyErrorStatus maps a ProxyError's category to the HTTP status code and
// Anthropic-style error type the client-facing boundary returns.
func proxyErrorStatus(err *domain.ProxyError) (int, string) {
	switch err.EffectiveCategory() {
	case domain.ErrorCategoryRateLimit:
		return http.StatusBadRequest, "invalid_request_error"
	case domain.ErrorCategoryAuthInvalid:
		return http.StatusUnauthorized, "authentication_error"
	case domain.ErrorCategoryPermission:
		return http.StatusForbidden, "permission_error"
	case domain.ErrorCategoryBadRequest:
		return http.StatusBadRequest, "invalid_request_error"
	case domain.ErrorCategoryCapacity:
		return http.StatusBadRequest, "invalid_request_error"
	case domain.ErrorCategoryTransient:
		return http.StatusServiceUnavailable, "api_error"
	default:
		return http.StatusBadGateway, "api_error"
	}
}

// proxyErrorMessage formats the client-facing message, adding a
// resets-in countdown for rate-limit exhaustion when a reset time is known.
func proxyErrorMessage(err *domain.ProxyError) string {
	if err.EffectiveCategory() == domain.ErrorCategoryRateLimit && err.RateLimitInfo != nil && !err.RateLimitInfo.QuotaResetTime.IsZero() {
		remaining := time.Until(err.RateLimitInfo.QuotaResetTime)
		if remaining > 0 {
			h := int(remaining.Hours())
			m := int(remaining.Minutes()) % 60
			s := int(remaining.Seconds()) % 60
			return fmt.Sprintf("all accounts exhausted capacity, resets in %dh%dm%ds", h, m, s)
		}
	}
	return err.Error()
}

func writeProxyError(w http.ResponseWriter, err *domain.ProxyError) {
	status, errType := proxyErrorStatus(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"type": "error",
		"error": map[string]interface{}{
			"message":   proxyErrorMessage(err),
			"type":      errType,
			"retryable": err.Retryable,
		},
	})
}

func writeStreamError(w http.ResponseWriter, err *domain.ProxyError) {
	_, errType := proxyErrorStatus(err)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	errorEvent := map[string]interface{}{
		"type": "error",
		"error": map[string]interface{}{
			"message":   proxyErrorMessage(err),
			"type":      errType,
			"retryable": err.Retryable,
		},
	}
	data, _ := json.Marshal(errorEvent)
	w.Write([]byte("data: "))
	w.Write(data)
	w.Write([]byte("\n\n"))
	w.Write([]byte("data: [DONE]\n\n"))

	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}
