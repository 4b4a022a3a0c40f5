package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/liveblog-hub/liveblog-push/internal/channel"
	"github.com/liveblog-hub/liveblog-push/internal/config"
	"github.com/liveblog-hub/liveblog-push/internal/fcm"
	"github.com/liveblog-hub/liveblog-push/internal/metrics"
	"github.com/liveblog-hub/liveblog-push/internal/ratelimit"
	"github.com/liveblog-hub/liveblog-push/internal/service"
)

type routerOptions struct {
	active        bool
	subscribeKey  string
	rateLimit     int
	providerState int // status code for the fake provider, 0 means 200
}

func newTestRouter(t *testing.T, options routerOptions) (http.Handler, *int) {
	t.Helper()

	providerCalls := 0
	provider := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		providerCalls++
		if options.providerState != 0 {
			writer.WriteHeader(options.providerState)
			return
		}
		_, _ = writer.Write([]byte(`{"results":[{}]}`))
	}))
	t.Cleanup(provider.Close)

	if options.rateLimit == 0 {
		options.rateLimit = 100
	}

	cfg := config.Config{
		ActiveChannel: config.DefaultChannel,
		ServerKey:     "server-key",
		SenderID:      "424242",
		SubscribeKey:  options.subscribeKey,
		PublishKey:    "publish-key",
	}

	client := fcm.New(fcm.Config{
		ServerKey:        cfg.ServerKey,
		SendEndpoint:     provider.URL + "/fcm/send",
		RegistryEndpoint: provider.URL + "/iid/v1",
		Timeout:          2 * time.Second,
	}, zerolog.Nop())

	relayMetrics := metrics.New()
	firebase := channel.NewFirebase(client, channel.FirebaseConfig{}, relayMetrics, zerolog.Nop())

	registry := channel.NewRegistry()
	registry.Register(firebase)
	if options.active {
		if err := registry.SetActive(channel.FirebaseID); err != nil {
			t.Fatalf("set active: %v", err)
		}
	}

	limiter := ratelimit.NewMemory(options.rateLimit, time.Minute)
	svc := service.New(cfg, registry, limiter, relayMetrics, zerolog.Nop())
	return NewRouter(svc, relayMetrics.Handler(), zerolog.Nop()), &providerCalls
}

func TestSubscribeOK(t *testing.T) {
	router, providerCalls := newTestRouter(t, routerOptions{active: true})

	request := httptest.NewRequest(http.MethodPost, "/liveblog/subscribe/token-1/liveblog-42", nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", recorder.Code, recorder.Body.String())
	}
	if recorder.Body.Len() != 0 {
		t.Errorf("expected empty body, got %q", recorder.Body.String())
	}
	if *providerCalls != 1 {
		t.Errorf("provider calls = %d, want 1", *providerCalls)
	}
}

func TestSubscribeIdempotent(t *testing.T) {
	router, _ := newTestRouter(t, routerOptions{active: true})

	for i := 0; i < 2; i++ {
		request := httptest.NewRequest(http.MethodPost, "/liveblog/subscribe/token-1/liveblog-42", nil)
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, request)
		if recorder.Code != http.StatusOK {
			t.Fatalf("repeat subscribe status = %d", recorder.Code)
		}
	}
}

func TestSubscribeChannelInactive(t *testing.T) {
	router, providerCalls := newTestRouter(t, routerOptions{active: false})

	request := httptest.NewRequest(http.MethodPost, "/liveblog/subscribe/token-1/liveblog-42", nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusFailedDependency {
		t.Errorf("status = %d, want 424", recorder.Code)
	}
	if *providerCalls != 0 {
		t.Errorf("provider calls = %d, want 0", *providerCalls)
	}
}

func TestSubscribeRateLimited(t *testing.T) {
	router, _ := newTestRouter(t, routerOptions{active: true, rateLimit: 1})

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/liveblog/subscribe/token-1/liveblog-42", nil))
	if first.Code != http.StatusOK {
		t.Fatalf("first subscribe status = %d", first.Code)
	}

	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/liveblog/subscribe/token-1/liveblog-42", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Errorf("second subscribe status = %d, want 429", second.Code)
	}
}

func TestSubscribeKeyRequired(t *testing.T) {
	router, _ := newTestRouter(t, routerOptions{active: true, subscribeKey: "shared"})

	missing := httptest.NewRecorder()
	router.ServeHTTP(missing, httptest.NewRequest(http.MethodPost, "/liveblog/subscribe/token-1/liveblog-42", nil))
	if missing.Code != http.StatusUnauthorized {
		t.Errorf("missing key status = %d, want 401", missing.Code)
	}

	request := httptest.NewRequest(http.MethodPost, "/liveblog/subscribe/token-1/liveblog-42", nil)
	request.Header.Set("X-Subscribe-Key", "shared")
	with := httptest.NewRecorder()
	router.ServeHTTP(with, request)
	if with.Code != http.StatusOK {
		t.Errorf("valid key status = %d, want 200", with.Code)
	}
}

func TestSubscribeRegistryFailure(t *testing.T) {
	router, _ := newTestRouter(t, routerOptions{active: true, providerState: http.StatusInternalServerError})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/liveblog/subscribe/token-1/liveblog-42", nil))
	if recorder.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", recorder.Code)
	}
}

func TestUnsubscribeKeyRequired(t *testing.T) {
	router, providerCalls := newTestRouter(t, routerOptions{active: true, subscribeKey: "shared"})

	missing := httptest.NewRecorder()
	router.ServeHTTP(missing, httptest.NewRequest(http.MethodPost, "/liveblog/unsubscribe/token-1/liveblog-42", nil))
	if missing.Code != http.StatusUnauthorized {
		t.Errorf("missing key status = %d, want 401", missing.Code)
	}
	if *providerCalls != 0 {
		t.Errorf("unauthenticated unsubscribe must not reach the provider, calls = %d", *providerCalls)
	}

	request := httptest.NewRequest(http.MethodPost, "/liveblog/unsubscribe/token-1/liveblog-42", nil)
	request.Header.Set("X-Subscribe-Key", "shared")
	with := httptest.NewRecorder()
	router.ServeHTTP(with, request)
	if with.Code != http.StatusOK {
		t.Errorf("valid key status = %d, want 200", with.Code)
	}
}

func TestUnsubscribeRateLimited(t *testing.T) {
	router, _ := newTestRouter(t, routerOptions{active: true, rateLimit: 1})

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/liveblog/unsubscribe/token-1/liveblog-42", nil))
	if first.Code != http.StatusOK {
		t.Fatalf("first unsubscribe status = %d", first.Code)
	}

	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/liveblog/unsubscribe/token-1/liveblog-42", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Errorf("second unsubscribe status = %d, want 429", second.Code)
	}
}

func TestUnsubscribeOK(t *testing.T) {
	router, providerCalls := newTestRouter(t, routerOptions{active: true})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/liveblog/unsubscribe/token-1/liveblog-42", nil))

	if recorder.Code != http.StatusOK {
		t.Errorf("status = %d", recorder.Code)
	}
	if *providerCalls != 1 {
		t.Errorf("provider calls = %d, want 1", *providerCalls)
	}
}

func TestManifest(t *testing.T) {
	router, _ := newTestRouter(t, routerOptions{active: true})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/liveblog/manifest.json", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	if got := recorder.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("content type = %q", got)
	}

	var manifest map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &manifest); err != nil {
		t.Fatalf("manifest is not JSON: %v", err)
	}
	if manifest["gcm_sender_id"] == "" {
		t.Error("manifest missing gcm_sender_id")
	}
}

func TestServiceWorkerRendersSenderID(t *testing.T) {
	router, _ := newTestRouter(t, routerOptions{active: true})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/liveblog/firebase-messaging-sw.js", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	if got := recorder.Header().Get("Content-Type"); got != "application/javascript" {
		t.Errorf("content type = %q", got)
	}
	if !strings.Contains(recorder.Body.String(), "messagingSenderId: '424242'") {
		t.Errorf("sender id not injected:\n%s", recorder.Body.String())
	}
	if strings.Contains(recorder.Body.String(), "server-key") {
		t.Error("server key must never reach the client")
	}
}

func TestServiceWorkerChannelInactive(t *testing.T) {
	router, _ := newTestRouter(t, routerOptions{active: false})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/liveblog/firebase-messaging-sw.js", nil))

	if recorder.Code != http.StatusFailedDependency {
		t.Errorf("status = %d, want 424", recorder.Code)
	}
}

func TestPublishRequiresKey(t *testing.T) {
	router, _ := newTestRouter(t, routerOptions{active: true})

	body := strings.NewReader(`{"event":"add","liveblog_id":"42","payload":{"body":"hi"}}`)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/liveblog/publish", body))

	if recorder.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", recorder.Code)
	}
}

func TestPublishAccepted(t *testing.T) {
	router, providerCalls := newTestRouter(t, routerOptions{active: true})

	body := strings.NewReader(`{"event":"add","liveblog_id":"42","payload":{"body":"hi"}}`)
	request := httptest.NewRequest(http.MethodPost, "/liveblog/publish", body)
	request.Header.Set("X-Publish-Key", "publish-key")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", recorder.Code, recorder.Body.String())
	}
	if *providerCalls != 1 {
		t.Errorf("provider calls = %d, want 1", *providerCalls)
	}
}

func TestPublishUnknownEvent(t *testing.T) {
	router, _ := newTestRouter(t, routerOptions{active: true})

	body := strings.NewReader(`{"event":"delete","liveblog_id":"42"}`)
	request := httptest.NewRequest(http.MethodPost, "/liveblog/publish", body)
	request.Header.Set("X-Publish-Key", "publish-key")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", recorder.Code)
	}
}

func TestValidateOversizedPost(t *testing.T) {
	router, providerCalls := newTestRouter(t, routerOptions{active: true})

	payload := map[string]any{
		"event":       "edit",
		"liveblog_id": "42",
		"payload":     map[string]string{"body": strings.Repeat("a", 5000)},
	}
	raw, _ := json.Marshal(payload)
	request := httptest.NewRequest(http.MethodPost, "/liveblog/validate", strings.NewReader(string(raw)))
	request.Header.Set("X-Publish-Key", "publish-key")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", recorder.Code)
	}
	if *providerCalls != 0 {
		t.Errorf("validation must not call the provider, calls = %d", *providerCalls)
	}
}

func TestValidateOKPost(t *testing.T) {
	router, _ := newTestRouter(t, routerOptions{active: true})

	body := strings.NewReader(`{"event":"edit","liveblog_id":"42","payload":{"body":"short"}}`)
	request := httptest.NewRequest(http.MethodPost, "/liveblog/validate", body)
	request.Header.Set("X-Publish-Key", "publish-key")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Errorf("status = %d, body = %s", recorder.Code, recorder.Body.String())
	}
}

func TestValidateMissingLiveblogID(t *testing.T) {
	router, _ := newTestRouter(t, routerOptions{active: true})

	body := strings.NewReader(`{"event":"edit","liveblog_id":"","payload":{"body":"short"}}`)
	request := httptest.NewRequest(http.MethodPost, "/liveblog/validate", body)
	request.Header.Set("X-Publish-Key", "publish-key")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	// Agrees with publish: a post without a live blog id can never be
	// delivered, so it must not validate either.
	if recorder.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", recorder.Code)
	}
}

func TestHealthz(t *testing.T) {
	router, _ := newTestRouter(t, routerOptions{active: true})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if recorder.Code != http.StatusOK {
		t.Errorf("status = %d", recorder.Code)
	}
}
