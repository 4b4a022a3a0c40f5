package fcm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := New(Config{
		ServerKey:        "test-server-key",
		SendEndpoint:     server.URL + "/fcm/send",
		RegistryEndpoint: server.URL + "/iid/v1",
		Timeout:          2 * time.Second,
	}, zerolog.Nop())
	return client, server
}

func TestSendParsesMessageID(t *testing.T) {
	var gotAuth, gotContentType string
	var gotBody Message

	client, _ := testClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		gotAuth = request.Header.Get("Authorization")
		gotContentType = request.Header.Get("Content-Type")
		if err := json.NewDecoder(request.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		_, _ = writer.Write([]byte(`{"message_id":6177433633397011933}`))
	}))

	message := Message{
		To:         TopicRecipient("liveblog-42"),
		Priority:   PriorityHigh,
		TimeToLive: 0,
		Data:       map[string]string{"event": "add", "topic_id": "liveblog-42"},
	}

	result, err := client.Send(context.Background(), message)
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if gotAuth != "key=test-server-key" {
		t.Errorf("authorization header = %q", gotAuth)
	}
	if gotContentType != "application/json" {
		t.Errorf("content type = %q", gotContentType)
	}
	if gotBody.To != "/topics/liveblog-42" {
		t.Errorf("recipient = %q", gotBody.To)
	}
	if result.Outcome != OutcomeOK {
		t.Errorf("outcome = %v, want ok", result.Outcome)
	}
	if result.MessageID != "6177433633397011933" {
		t.Errorf("message id = %q", result.MessageID)
	}
	if result.Error != "" {
		t.Errorf("unexpected provider error %q", result.Error)
	}
}

func TestSendSurfacesEmbeddedError(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		// 200 at the HTTP layer, failed push inside the body.
		_, _ = writer.Write([]byte(`{"error":"TopicsMessageRateExceeded"}`))
	}))

	result, err := client.Send(context.Background(), Message{To: TopicRecipient("liveblog-1")})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if result.Outcome != OutcomeOK {
		t.Errorf("outcome = %v, want ok", result.Outcome)
	}
	if result.Error != "TopicsMessageRateExceeded" {
		t.Errorf("provider error = %q", result.Error)
	}
}

func TestSendConnectionError(t *testing.T) {
	client, server := testClient(t, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close()

	if _, err := client.Send(context.Background(), Message{To: TopicRecipient("liveblog-1")}); err == nil {
		t.Fatal("expected transport error after server close")
	}
}

func TestSendRetryAfterHint(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		writer.Header().Set("Retry-After", "30")
		writer.WriteHeader(http.StatusServiceUnavailable)
	}))

	result, err := client.Send(context.Background(), Message{To: TopicRecipient("liveblog-1")})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if result.Outcome != OutcomeTransient {
		t.Errorf("outcome = %v, want transient", result.Outcome)
	}
	if result.RetryAfter != 30*time.Second {
		t.Errorf("retry after = %v, want 30s", result.RetryAfter)
	}
}

func TestEstimateSizeDeterministic(t *testing.T) {
	client := New(Config{ServerKey: "key"}, zerolog.Nop())

	message := Message{
		To:         TopicRecipient("liveblog-7"),
		Priority:   PriorityHigh,
		TimeToLive: 0,
		Data:       map[string]string{"event": "edit", "topic_id": "liveblog-7", "body": "<p>hello</p>"},
	}

	first, err := client.EstimateSize(message)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	second, err := client.EstimateSize(message)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}

	if first != second {
		t.Errorf("estimate not deterministic: %d != %d", first, second)
	}
	if first <= sizeMargin {
		t.Errorf("estimate %d should exceed the fixed margin", first)
	}
}

func TestEstimateSizeGrowsWithPayload(t *testing.T) {
	client := New(Config{ServerKey: "key"}, zerolog.Nop())

	small, err := client.EstimateSize(Message{Data: map[string]string{"body": "a"}})
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	large, err := client.EstimateSize(Message{Data: map[string]string{"body": "aaaaaaaaaaaaaaaa"}})
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}

	if large <= small {
		t.Errorf("larger payload estimated at %d, smaller at %d", large, small)
	}
}

func TestSubscribeTopic(t *testing.T) {
	var gotPath string
	var gotRequest registryRequest

	client, _ := testClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		gotPath = request.URL.Path
		if err := json.NewDecoder(request.Body).Decode(&gotRequest); err != nil {
			t.Errorf("decode registry request: %v", err)
		}
		_, _ = writer.Write([]byte(`{"results":[{}]}`))
	}))

	if err := client.SubscribeTopic(context.Background(), "token-1", "liveblog-42"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if gotPath != "/iid/v1:batchAdd" {
		t.Errorf("path = %q", gotPath)
	}
	if gotRequest.To != "/topics/liveblog-42" {
		t.Errorf("to = %q", gotRequest.To)
	}
	if len(gotRequest.RegistrationTokens) != 1 || gotRequest.RegistrationTokens[0] != "token-1" {
		t.Errorf("tokens = %v", gotRequest.RegistrationTokens)
	}
}

func TestSubscribeTopicIdempotent(t *testing.T) {
	calls := 0
	client, _ := testClient(t, http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		calls++
		// The provider registry answers 200 for duplicate adds.
		_, _ = writer.Write([]byte(`{"results":[{}]}`))
	}))

	for i := 0; i < 2; i++ {
		if err := client.SubscribeTopic(context.Background(), "token-1", "liveblog-42"); err != nil {
			t.Fatalf("subscribe: %v", err)
		}
	}
	if calls != 2 {
		t.Errorf("expected 2 registry calls, got %d", calls)
	}
}

func TestUnsubscribeTopicMissingBinding(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/iid/v1:batchRemove" {
			t.Errorf("path = %q", request.URL.Path)
		}
		_, _ = writer.Write([]byte(`{"results":[{}]}`))
	}))

	if err := client.UnsubscribeTopic(context.Background(), "token-1", "liveblog-missing"); err != nil {
		t.Fatalf("unsubscribe of missing binding should be a no-op: %v", err)
	}
}

func TestRegistryCallErrorStatus(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		http.Error(writer, "invalid token", http.StatusBadRequest)
	}))

	if err := client.SubscribeTopic(context.Background(), "bad", "liveblog-42"); err == nil {
		t.Fatal("expected error for 400 registry response")
	}
}
