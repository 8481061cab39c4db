// Package waiter blocks a proxy request until its session has an assigned
// project, when project binding is required by configuration.
package waiter

import (
	"context"
	"strconv"
	"time"

	"github.com/relaymesh/ccproxy/internal/domain"
	"github.com/relaymesh/ccproxy/internal/event"
	"github.com/relaymesh/ccproxy/internal/repository"
)

// SettingKeyRequireProjectBinding gates the wait behavior; when unset or
// "false", WaitForProject returns immediately.
const SettingKeyRequireProjectBinding = "require_project_binding"

// SettingKeyProjectBindingTimeoutSeconds overrides the default wait timeout.
const SettingKeyProjectBindingTimeoutSeconds = "project_binding_timeout_seconds"

const (
	defaultTimeout = 30 * time.Second
	pollInterval   = 500 * time.Millisecond
)

// ProjectWaiter blocks until a session is bound to a project, or a
// configured timeout elapses. Binding itself happens elsewhere (an admin
// action sets Session.ProjectID); this only polls for that to happen.
type ProjectWaiter struct {
	sessionRepo repository.SessionRepository
	settingRepo repository.SystemSettingRepository
	broadcaster event.Broadcaster
}

// NewProjectWaiter creates a ProjectWaiter.
func NewProjectWaiter(sessionRepo repository.SessionRepository, settingRepo repository.SystemSettingRepository, broadcaster event.Broadcaster) *ProjectWaiter {
	return &ProjectWaiter{sessionRepo: sessionRepo, settingRepo: settingRepo, broadcaster: broadcaster}
}

func (w *ProjectWaiter) required() bool {
	val, err := w.settingRepo.Get(SettingKeyRequireProjectBinding)
	if err != nil {
		return false
	}
	return val == "true"
}

func (w *ProjectWaiter) timeout() time.Duration {
	val, err := w.settingRepo.Get(SettingKeyProjectBindingTimeoutSeconds)
	if err != nil || val == "" {
		return defaultTimeout
	}
	secs, err := strconv.Atoi(val)
	if err != nil || secs <= 0 {
		return defaultTimeout
	}
	return time.Duration(secs) * time.Second
}

// WaitForProject blocks until the session has a non-zero ProjectID, the
// context is cancelled, or the configured timeout elapses. Returns nil
// immediately if project binding is not required.
func (w *ProjectWaiter) WaitForProject(ctx context.Context, session *domain.Session) error {
	if !w.required() {
		return nil
	}
	if session.ProjectID != 0 {
		return nil
	}

	if w.broadcaster != nil {
		w.broadcaster.BroadcastMessage("session_pending_binding", map[string]interface{}{
			"sessionID": session.SessionID,
		})
	}

	deadline := time.NewTimer(w.timeout())
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return context.DeadlineExceeded
		case <-ticker.C:
			current, err := w.sessionRepo.GetBySessionID(session.SessionID)
			if err == nil && current != nil && current.ProjectID != 0 {
				return nil
			}
		}
	}
}
