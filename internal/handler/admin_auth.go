package handler

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/relaymesh/ccproxy/internal/repository"
)

// SettingKeyAdminAuthEnabled gates whether the admin API requires a session
// token at all. Mirrors SettingKeyProxyTokenAuthEnabled's disabled-by-default
// posture so a fresh install isn't locked out before a password is set.
const SettingKeyAdminAuthEnabled = "admin_auth_enabled"

// SettingKeyAdminPassword holds the plaintext admin password. Stored in the
// same settings table as everything else in this single-operator dashboard;
// there is no multi-user admin model to warrant a hashed credentials table.
const SettingKeyAdminPassword = "admin_password"

// SettingKeyAdminJWTSecret holds the HMAC signing key for admin session
// tokens, generated on first use and persisted so restarts don't invalidate
// every open session.
const SettingKeyAdminJWTSecret = "admin_jwt_secret"

const adminSessionTTL = 24 * time.Hour

// AdminAuthMiddleware gates the admin and antigravity management APIs
// (and the event websocket) behind a short-lived JWT issued by Login. It is
// deliberately independent of TokenAuthMiddleware: that one gates the proxy
// surface per-request with opaque API tokens, this one gates the operator
// dashboard with a single shared password.
type AdminAuthMiddleware struct {
	settingRepo repository.SystemSettingRepository

	mu     sync.Mutex
	secret []byte
}

func NewAdminAuthMiddleware(settingRepo repository.SystemSettingRepository) *AdminAuthMiddleware {
	return &AdminAuthMiddleware{settingRepo: settingRepo}
}

func (m *AdminAuthMiddleware) IsEnabled() bool {
	val, err := m.settingRepo.Get(SettingKeyAdminAuthEnabled)
	if err != nil {
		return false
	}
	return val == "true"
}

func (m *AdminAuthMiddleware) jwtSecret() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.secret != nil {
		return m.secret, nil
	}

	existing, err := m.settingRepo.Get(SettingKeyAdminJWTSecret)
	if err == nil && existing != "" {
		m.secret = []byte(existing)
		return m.secret, nil
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, err
	}
	secret := hex.EncodeToString(raw)
	if err := m.settingRepo.Set(SettingKeyAdminJWTSecret, secret); err != nil {
		return nil, err
	}
	m.secret = []byte(secret)
	return m.secret, nil
}

// Login verifies the submitted password against the configured admin
// password and, on success, issues a signed session token.
func (m *AdminAuthMiddleware) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var body struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	expected, _ := m.settingRepo.Get(SettingKeyAdminPassword)
	if expected == "" || body.Password != expected {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid password"})
		return
	}

	secret, err := m.jwtSecret()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to issue session"})
		return
	}

	now := time.Now()
	expiresAt := now.Add(adminSessionTTL)
	claims := jwt.MapClaims{
		"sub": "admin",
		"iat": now.Unix(),
		"exp": expiresAt.Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to sign session"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"token":     signed,
		"expiresAt": expiresAt.Format(time.RFC3339),
	})
}

// Middleware rejects requests lacking a valid session token once admin auth
// has been turned on. Disabled installs (no password ever set) pass every
// request through unchanged, matching IsEnabled's fail-open default. The
// token may arrive as a Bearer header or, for the websocket handshake which
// can't set custom headers from a browser, a "token" query parameter.
func (m *AdminAuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.IsEnabled() {
			next.ServeHTTP(w, r)
			return
		}

		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if raw == "" {
			raw = r.URL.Query().Get("token")
		}
		if raw == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing session token"})
			return
		}

		secret, err := m.jwtSecret()
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "auth unavailable"})
			return
		}

		_, err = jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
			return secret, nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid or expired session"})
			return
		}

		next.ServeHTTP(w, r)
	})
}
