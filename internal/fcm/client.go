package fcm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Margin for fields the provider fills in at send time (message id)
// that are missing from the pre-send estimate.
const sizeMargin = 11

type Config struct {
	ServerKey        string
	SendEndpoint     string
	RegistryEndpoint string
	Timeout          time.Duration
}

// Client talks to the FCM legacy HTTP API and the instance-id topic
// registry. The underlying http.Client is built lazily on first use and
// reused for the client's lifetime.
type Client struct {
	config Config
	logger zerolog.Logger

	mu         sync.Mutex
	httpClient *http.Client
}

func New(config Config, logger zerolog.Logger) *Client {
	if config.SendEndpoint == "" {
		config.SendEndpoint = "https://fcm.googleapis.com/fcm/send"
	}
	if config.RegistryEndpoint == "" {
		config.RegistryEndpoint = "https://iid.googleapis.com/iid/v1"
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	return &Client{config: config, logger: logger}
}

func (client *Client) http() *http.Client {
	client.mu.Lock()
	defer client.mu.Unlock()

	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: client.config.Timeout}
	}
	return client.httpClient
}

// SendResult is the parsed provider response for one send call. The HTTP
// call succeeding does not imply the push succeeded: Error carries a
// send failure embedded in a 200 response body.
type SendResult struct {
	StatusCode int
	Outcome    Outcome
	MessageID  string
	Error      string
	RetryAfter time.Duration
}

type sendResponseBody struct {
	MessageID json.Number `json:"message_id"`
	Error     string      `json:"error"`
}

// Send posts a downstream message. A non-nil error means the transport
// call itself failed (connection error, timeout); provider-level
// failures are reported through the SendResult.
func (client *Client) Send(ctx context.Context, message Message) (*SendResult, error) {
	body, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("marshal fcm message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, client.config.SendEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build fcm request: %w", err)
	}
	req.Header.Set("Authorization", "key="+client.config.ServerKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.http().Do(req)
	if err != nil {
		return nil, fmt.Errorf("post fcm send: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)

	result := &SendResult{
		StatusCode: resp.StatusCode,
		Outcome:    ClassifyStatus(resp.StatusCode),
		RetryAfter: RetryAfter(resp.Header.Get("Retry-After")),
	}

	var parsed sendResponseBody
	if err := json.Unmarshal(raw, &parsed); err == nil {
		result.MessageID = parsed.MessageID.String()
		result.Error = parsed.Error
	} else if result.Outcome != OutcomeOK {
		result.Error = strings.TrimSpace(string(raw))
	}

	return result, nil
}

// EstimateSize computes the wire size of a message plus the delivery
// envelope (authorization and content-type headers around the body). The
// same estimate gates both the pre-save and the pre-send checks.
func (client *Client) EstimateSize(message Message) (int, error) {
	body, err := json.Marshal(message)
	if err != nil {
		return 0, fmt.Errorf("marshal fcm message: %w", err)
	}

	envelope := struct {
		Headers map[string]string `json:"headers"`
		Body    string            `json:"body"`
	}{
		Headers: map[string]string{
			"Authorization": "key=" + client.config.ServerKey,
			"Content-Type":  "application/json",
		},
		Body: string(body),
	}

	raw, err := json.Marshal(envelope)
	if err != nil {
		return 0, fmt.Errorf("marshal fcm envelope: %w", err)
	}

	return len(raw) + sizeMargin, nil
}

type registryRequest struct {
	To                 string   `json:"to"`
	RegistrationTokens []string `json:"registration_tokens"`
}

type registryResponse struct {
	Error string `json:"error"`
}

// SubscribeTopic binds a registration token to a topic. Adding an
// existing binding succeeds; the provider registry is idempotent.
func (client *Client) SubscribeTopic(ctx context.Context, token, topic string) error {
	return client.registryCall(ctx, "batchAdd", token, topic)
}

// UnsubscribeTopic removes a token's topic binding. Removing a binding
// that does not exist succeeds.
func (client *Client) UnsubscribeTopic(ctx context.Context, token, topic string) error {
	return client.registryCall(ctx, "batchRemove", token, topic)
}

func (client *Client) registryCall(ctx context.Context, operation, token, topic string) error {
	body, err := json.Marshal(registryRequest{
		To:                 TopicRecipient(topic),
		RegistrationTokens: []string{token},
	})
	if err != nil {
		return fmt.Errorf("marshal registry request: %w", err)
	}

	url := client.config.RegistryEndpoint + ":" + operation
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build registry request: %w", err)
	}
	req.Header.Set("Authorization", "key="+client.config.ServerKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.http().Do(req)
	if err != nil {
		return fmt.Errorf("post registry %s: %w", operation, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("registry %s status %d: %s", operation, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var parsed registryResponse
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error != "" {
		return fmt.Errorf("registry %s: %s", operation, parsed.Error)
	}

	client.logger.Debug().Str("operation", operation).Str("topic", topic).Msg("registry call ok")
	return nil
}
