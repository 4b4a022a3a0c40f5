// Package subscriber implements the client half of the live-blog push
// protocol: registering a delivery endpoint, acquiring and refreshing a
// registration token, binding it to the live blog's topic, and routing
// inbound data messages to the stream.
package subscriber

import (
	"context"
	"errors"
)

var (
	// ErrPermissionDenied: the user declined notifications. Terminal; the
	// machine does not retry without new user action.
	ErrPermissionDenied = errors.New("notification permission denied")

	// ErrNoToken: the provider returned no registration token.
	ErrNoToken = errors.New("no registration token available")

	// ErrNoEndpointSupport is returned by platforms without a background
	// delivery endpoint (no service worker support). The machine treats
	// it as graceful degradation, not a failure.
	ErrNoEndpointSupport = errors.New("platform has no background endpoint support")

	// ErrRegistryCall: the subscribe call to the app server failed.
	ErrRegistryCall = errors.New("registry call failed")
)

// Message is one inbound push payload.
type Message struct {
	Data map[string]string
}

// Platform is the provider/browser surface the machine drives:
// endpoint registration, the permission prompt, token issuance and the
// inbound delivery channels.
type Platform interface {
	RegisterEndpoint(ctx context.Context) error
	RequestPermission(ctx context.Context) (bool, error)
	Token(ctx context.Context) (string, error)
	TokenRefresh() <-chan struct{}
	Messages() <-chan Message
}

// Registry binds tokens to topics through the app server.
type Registry interface {
	AddSubscription(ctx context.Context, token, topic string) error
	RemoveSubscription(ctx context.Context, token, topic string) error
}

// Stream is the external live-blog stream collaborator. It receives the
// message data unchanged and owns any conflict resolution between
// out-of-order pushes.
type Stream interface {
	AddPost(data map[string]string)
	EditPost(data map[string]string)
}
