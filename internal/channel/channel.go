package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrChannelInactive: the requested channel is not the configured
	// notification channel. Maps to HTTP 424 at the API boundary.
	ErrChannelInactive = errors.New("notification channel is not active")

	// ErrPayloadTooLarge: the estimated wire size exceeds the transport
	// limit. Recoverable locally; the save path turns it into a form error.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrDeliveryFailed: transport or provider failure while sending.
	ErrDeliveryFailed = errors.New("delivery failed")

	// ErrRegistryCall: a subscribe/unsubscribe call to the provider
	// registry failed.
	ErrRegistryCall = errors.New("registry call failed")
)

// Event is a live-blog post lifecycle event.
type Event string

const (
	EventAdd  Event = "add"
	EventEdit Event = "edit"
)

func (event Event) Valid() bool {
	return event == EventAdd || event == EventEdit
}

// Channel delivers live-blog post events to subscribed clients. Publish
// is best-effort: failures are reported through the channel's reporter
// and log, never returned to the caller.
type Channel interface {
	ID() string
	Publish(ctx context.Context, event Event, liveblogID string, payload map[string]string)
	ValidateConfig(ctx context.Context) error
}

// TopicRegistrar manages token↔topic bindings in the provider registry.
type TopicRegistrar interface {
	SubscribeTopic(ctx context.Context, token, topic string) error
	UnsubscribeTopic(ctx context.Context, token, topic string) error
}

// Subscribable is implemented by channels that expose their provider's
// topic registry.
type Subscribable interface {
	Registrar() TopicRegistrar
}

// PostValidator is implemented by channels that enforce a payload limit
// before a post may be saved. The editing workflow calls it so an
// oversized post is rejected at edit time, not at send time.
type PostValidator interface {
	ValidatePost(event Event, liveblogID string, payload map[string]string) error
}

// Registry selects the active notification channel by configured id.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]Channel
	active   string
}

func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]Channel)}
}

func (registry *Registry) Register(ch Channel) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.channels[ch.ID()] = ch
}

func (registry *Registry) SetActive(id string) error {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	if _, ok := registry.channels[id]; !ok {
		return fmt.Errorf("unknown notification channel %q", id)
	}
	registry.active = id
	return nil
}

// Active returns the configured channel, or ErrChannelInactive when no
// registered channel is selected.
func (registry *Registry) Active() (Channel, error) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	ch, ok := registry.channels[registry.active]
	if !ok {
		return nil, ErrChannelInactive
	}
	return ch, nil
}
