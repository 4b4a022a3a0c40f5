package subscriber

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

// HTTPRegistry calls the app server's subscribe/unsubscribe endpoints.
type HTTPRegistry struct {
	client       *http.Client
	baseURL      string
	subscribeKey string
	logger       zerolog.Logger
}

func NewHTTPRegistry(client *http.Client, baseURL, subscribeKey string, logger zerolog.Logger) *HTTPRegistry {
	if client == nil {
		client = http.DefaultClient
	}

	return &HTTPRegistry{
		client:       client,
		baseURL:      strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		subscribeKey: strings.TrimSpace(subscribeKey),
		logger:       logger,
	}
}

func (registry *HTTPRegistry) AddSubscription(ctx context.Context, token, topic string) error {
	return registry.call(ctx, "subscribe", token, topic)
}

func (registry *HTTPRegistry) RemoveSubscription(ctx context.Context, token, topic string) error {
	return registry.call(ctx, "unsubscribe", token, topic)
}

func (registry *HTTPRegistry) call(ctx context.Context, operation, token, topic string) error {
	endpoint := fmt.Sprintf("%s/liveblog/%s/%s/%s",
		registry.baseURL, operation, url.PathEscape(token), url.PathEscape(topic))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build %s request: %w", operation, err)
	}
	if registry.subscribeKey != "" {
		req.Header.Set("X-Subscribe-Key", registry.subscribeKey)
	}

	resp, err := registry.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: post %s: %v", ErrRegistryCall, operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: %s status %d: %s", ErrRegistryCall, operation, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	registry.logger.Debug().Str("operation", operation).Str("topic", topic).Msg("registry call ok")
	return nil
}
