package event

import "github.com/relaymesh/ccproxy/internal/domain"

// Broadcaster pushes request/attempt lifecycle events to observers (the
// WebSocket hub in the HTTP server).
type Broadcaster interface {
	BroadcastProxyRequest(req *domain.ProxyRequest)
	BroadcastProxyUpstreamAttempt(attempt *domain.ProxyUpstreamAttempt)
	BroadcastLog(message string)
	BroadcastMessage(messageType string, data interface{})
}

// NopBroadcaster discards every event. Used in tests or when no observer
// is configured.
type NopBroadcaster struct{}

func (n *NopBroadcaster) BroadcastProxyRequest(req *domain.ProxyRequest)                     {}
func (n *NopBroadcaster) BroadcastProxyUpstreamAttempt(attempt *domain.ProxyUpstreamAttempt) {}
func (n *NopBroadcaster) BroadcastLog(message string)                                       {}
func (n *NopBroadcaster) BroadcastMessage(messageType string, data interface{})             {}
