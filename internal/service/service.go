package service

import (
	"context"
	"crypto/subtle"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/liveblog-hub/liveblog-push/internal/channel"
	"github.com/liveblog-hub/liveblog-push/internal/config"
	"github.com/liveblog-hub/liveblog-push/internal/metrics"
	"github.com/liveblog-hub/liveblog-push/internal/ratelimit"
)

// Service mediates between the HTTP surface and the notification
// channel registry. It carries no state of its own beyond configuration.
type Service struct {
	config   config.Config
	registry *channel.Registry
	limiter  ratelimit.Limiter
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

func New(cfg config.Config, registry *channel.Registry, limiter ratelimit.Limiter, m *metrics.Metrics, logger zerolog.Logger) *Service {
	return &Service{
		config:   cfg,
		registry: registry,
		limiter:  limiter,
		metrics:  m,
		logger:   logger,
	}
}

func (service *Service) AllowSubscribe(ctx context.Context, ip string) bool {
	allowed := service.limiter.Allow(ctx, ip)
	if !allowed {
		service.metrics.RateLimitedTotal.Inc()
	}
	return allowed
}

// ValidateSubscribeKey checks the optional shared subscribe key. An
// empty configured key leaves the endpoint open, matching the reference
// deployment.
func (service *Service) ValidateSubscribeKey(key string) bool {
	if service.config.SubscribeKey == "" {
		return true
	}
	return secureCompare(service.config.SubscribeKey, key)
}

func (service *Service) ValidatePublishKey(key string) bool {
	return secureCompare(service.config.PublishKey, key)
}

// SenderID is the only configuration value ever exposed to clients.
func (service *Service) SenderID() string {
	return service.config.SenderID
}

// ActiveChannel resolves the configured channel, ErrChannelInactive when
// none is selected.
func (service *Service) ActiveChannel() (channel.Channel, error) {
	return service.registry.Active()
}

func (service *Service) registrar() (channel.TopicRegistrar, error) {
	active, err := service.registry.Active()
	if err != nil {
		return nil, err
	}

	subscribable, ok := active.(channel.Subscribable)
	if !ok {
		return nil, channel.ErrChannelInactive
	}
	return subscribable.Registrar(), nil
}

// Subscribe binds a token to a topic in the provider registry. Pure
// pass-through; the binding is never persisted locally.
func (service *Service) Subscribe(ctx context.Context, token, topic string) error {
	registrar, err := service.registrar()
	if err != nil {
		return err
	}

	service.metrics.SubscribesTotal.Inc()
	if err := registrar.SubscribeTopic(ctx, token, topic); err != nil {
		service.metrics.RegistryFailuresTotal.Inc()
		service.logger.Error().Err(err).Str("topic", topic).Msg("subscribe failed")
		return fmt.Errorf("%w: %v", channel.ErrRegistryCall, err)
	}
	return nil
}

func (service *Service) Unsubscribe(ctx context.Context, token, topic string) error {
	registrar, err := service.registrar()
	if err != nil {
		return err
	}

	service.metrics.UnsubscribesTotal.Inc()
	if err := registrar.UnsubscribeTopic(ctx, token, topic); err != nil {
		service.metrics.RegistryFailuresTotal.Inc()
		service.logger.Error().Err(err).Str("topic", topic).Msg("unsubscribe failed")
		return fmt.Errorf("%w: %v", channel.ErrRegistryCall, err)
	}
	return nil
}

// PublishPost dispatches a post event through the active channel. The
// returned error only covers resolution problems (inactive channel,
// invalid event); delivery failures stay inside the channel.
func (service *Service) PublishPost(ctx context.Context, event channel.Event, liveblogID string, payload map[string]string) error {
	if !event.Valid() {
		return fmt.Errorf("unknown event %q", event)
	}

	active, err := service.registry.Active()
	if err != nil {
		return err
	}

	active.Publish(ctx, event, liveblogID, payload)
	return nil
}

// ValidatePost runs the active channel's pre-save size check. Channels
// without a payload limit accept everything.
func (service *Service) ValidatePost(event channel.Event, liveblogID string, payload map[string]string) error {
	if !event.Valid() {
		return fmt.Errorf("unknown event %q", event)
	}

	active, err := service.registry.Active()
	if err != nil {
		return err
	}

	validator, ok := active.(channel.PostValidator)
	if !ok {
		return nil
	}
	return validator.ValidatePost(event, liveblogID, payload)
}

func secureCompare(expected, actual string) bool {
	if len(expected) == 0 || len(actual) == 0 {
		return false
	}
	if len(expected) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(actual)) == 1
}
