package subscriber

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// State of the subscription lifecycle.
type State int

const (
	StateUninitialized State = iota
	StateEndpointRegistering
	StatePermissionRequesting
	StateTokenAcquiring
	StateSubscribed
	StateTokenRefreshing
	// StateUnsubscribed is terminal: permission was denied or no token
	// could be obtained, and no automatic retry happens.
	StateUnsubscribed
)

func (state State) String() string {
	switch state {
	case StateUninitialized:
		return "uninitialized"
	case StateEndpointRegistering:
		return "endpoint_registering"
	case StatePermissionRequesting:
		return "permission_requesting"
	case StateTokenAcquiring:
		return "token_acquiring"
	case StateSubscribed:
		return "subscribed"
	case StateTokenRefreshing:
		return "token_refreshing"
	case StateUnsubscribed:
		return "unsubscribed"
	default:
		return "invalid"
	}
}

// Machine drives one client's subscription lifecycle against a platform
// and the app server's registry. Subscribe calls are serialized so that
// after a token rotation the registry always ends up bound to the
// newest token.
type Machine struct {
	platform Platform
	registry Registry
	router   *Router
	topic    string
	logger   zerolog.Logger

	mu    sync.Mutex
	state State
	token string

	// subscribeMu serializes token acquisition + subscribe so a refresh
	// racing an in-flight subscribe still ends last-token-wins.
	subscribeMu sync.Mutex
}

func NewMachine(platform Platform, registry Registry, topic string, stream Stream, logger zerolog.Logger) *Machine {
	return &Machine{
		platform: platform,
		registry: registry,
		router:   NewRouter(topic, stream, logger),
		topic:    topic,
		logger:   logger,
		state:    StateUninitialized,
	}
}

func (machine *Machine) State() State {
	machine.mu.Lock()
	defer machine.mu.Unlock()
	return machine.state
}

// Token returns the registration token currently bound to the topic.
func (machine *Machine) Token() string {
	machine.mu.Lock()
	defer machine.mu.Unlock()
	return machine.token
}

func (machine *Machine) setState(state State) {
	machine.mu.Lock()
	machine.state = state
	machine.mu.Unlock()
	machine.logger.Debug().Stringer("state", state).Msg("state transition")
}

// Start walks the machine to Subscribed: register a delivery endpoint
// (skipped when unsupported), request permission, fetch a token and bind
// it to the configured topic. On failure the machine halts in
// StateUnsubscribed and the error says why.
func (machine *Machine) Start(ctx context.Context) error {
	machine.setState(StateEndpointRegistering)
	if err := machine.platform.RegisterEndpoint(ctx); err != nil {
		if !errors.Is(err, ErrNoEndpointSupport) {
			machine.setState(StateUnsubscribed)
			return fmt.Errorf("register endpoint: %w", err)
		}
		machine.logger.Debug().Msg("no background endpoint support, continuing without one")
	}

	machine.setState(StatePermissionRequesting)
	granted, err := machine.platform.RequestPermission(ctx)
	if err != nil {
		machine.setState(StateUnsubscribed)
		return fmt.Errorf("request permission: %w", err)
	}
	if !granted {
		machine.setState(StateUnsubscribed)
		return ErrPermissionDenied
	}

	machine.setState(StateTokenAcquiring)
	if err := machine.acquireAndSubscribe(ctx); err != nil {
		machine.setState(StateUnsubscribed)
		return err
	}

	machine.setState(StateSubscribed)
	machine.logger.Info().Str("topic", machine.topic).Msg("subscribed")
	return nil
}

func (machine *Machine) acquireAndSubscribe(ctx context.Context) error {
	machine.subscribeMu.Lock()
	defer machine.subscribeMu.Unlock()

	token, err := machine.platform.Token(ctx)
	if err != nil {
		return fmt.Errorf("fetch token: %w", err)
	}
	if token == "" {
		return ErrNoToken
	}

	if err := machine.registry.AddSubscription(ctx, token, machine.topic); err != nil {
		return fmt.Errorf("%w: %v", ErrRegistryCall, err)
	}

	machine.mu.Lock()
	machine.token = token
	machine.mu.Unlock()
	return nil
}

// Run services token rotations and inbound messages until the context
// ends or the platform closes its message channel. Each message is
// dispatched independently; no ordering is guaranteed between pushes.
func (machine *Machine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-machine.platform.TokenRefresh():
			machine.setState(StateTokenRefreshing)
			// The old token is not removed from the registry: the
			// provider invalidates rotated tokens itself.
			if err := machine.acquireAndSubscribe(ctx); err != nil {
				// Stay in TokenRefreshing so callers can see the binding
				// is stale; the next rotation retries the resubscribe.
				machine.logger.Error().Err(err).Msg("token refresh resubscribe failed")
				continue
			}
			machine.setState(StateSubscribed)

		case message, ok := <-machine.platform.Messages():
			if !ok {
				return nil
			}
			go machine.router.Route(message)
		}
	}
}
