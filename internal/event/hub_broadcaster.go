package event

import (
	"sync"

	"github.com/relaymesh/ccproxy/internal/domain"
)

// HubBroadcaster wraps an inner Broadcaster (the WebSocket hub) behind a
// stable type so callers don't depend on the hub package directly.
type HubBroadcaster struct {
	inner Broadcaster
	mu    sync.RWMutex
}

// NewHubBroadcaster creates a HubBroadcaster delegating to inner.
func NewHubBroadcaster(inner Broadcaster) *HubBroadcaster {
	return &HubBroadcaster{inner: inner}
}

func (h *HubBroadcaster) BroadcastProxyRequest(req *domain.ProxyRequest) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.inner != nil {
		h.inner.BroadcastProxyRequest(req)
	}
}

func (h *HubBroadcaster) BroadcastProxyUpstreamAttempt(attempt *domain.ProxyUpstreamAttempt) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.inner != nil {
		h.inner.BroadcastProxyUpstreamAttempt(attempt)
	}
}

func (h *HubBroadcaster) BroadcastLog(message string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.inner != nil {
		h.inner.BroadcastLog(message)
	}
}

func (h *HubBroadcaster) BroadcastMessage(messageType string, data interface{}) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.inner != nil {
		h.inner.BroadcastMessage(messageType, data)
	}
}
