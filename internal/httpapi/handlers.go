package httpapi

import (
	"embed"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"text/template"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/liveblog-hub/liveblog-push/internal/channel"
	"github.com/liveblog-hub/liveblog-push/internal/service"
)

//go:embed templates/firebase-messaging-sw.js.tmpl templates/manifest.json
var templateFS embed.FS

var serviceWorkerTemplate = template.Must(template.ParseFS(templateFS, "templates/firebase-messaging-sw.js.tmpl"))

type Handlers struct {
	service *service.Service
	logger  zerolog.Logger
}

type publishRequest struct {
	Event      string            `json:"event"`
	LiveblogID string            `json:"liveblog_id"`
	Payload    map[string]string `json:"payload"`
}

func NewRouter(svc *service.Service, metricsHandler http.Handler, logger zerolog.Logger) http.Handler {
	handlers := &Handlers{service: svc, logger: logger}
	router := chi.NewRouter()

	router.Get("/healthz", handlers.healthz)
	router.Method(http.MethodGet, "/metrics", metricsHandler)

	router.Route("/liveblog", func(r chi.Router) {
		r.Get("/manifest.json", handlers.manifest)
		r.Get("/firebase-messaging-sw.js", handlers.serviceWorker)
		r.Post("/subscribe/{token}/{topic}", handlers.subscribe)
		r.Post("/unsubscribe/{token}/{topic}", handlers.unsubscribe)

		r.With(handlers.publishKeyAuth).Post("/publish", handlers.publish)
		r.With(handlers.publishKeyAuth).Post("/validate", handlers.validate)
	})

	return router
}

func (handlers *Handlers) publishKeyAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		header := request.Header.Get("X-Publish-Key")
		if !handlers.service.ValidatePublishKey(header) {
			writeJSON(writer, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(writer, request)
	})
}

func (handlers *Handlers) healthz(writer http.ResponseWriter, _ *http.Request) {
	writer.WriteHeader(http.StatusOK)
	_, _ = writer.Write([]byte("ok"))
}

func (handlers *Handlers) manifest(writer http.ResponseWriter, _ *http.Request) {
	raw, err := templateFS.ReadFile("templates/manifest.json")
	if err != nil {
		writeJSON(writer, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
		return
	}

	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(http.StatusOK)
	_, _ = writer.Write(raw)
}

// serviceWorker renders the provider-specific background worker script
// with the sender id injected. Only available while the firebase channel
// is the active notification channel.
func (handlers *Handlers) serviceWorker(writer http.ResponseWriter, _ *http.Request) {
	if !handlers.firebaseActive(writer) {
		return
	}

	writer.Header().Set("Content-Type", "application/javascript")
	writer.WriteHeader(http.StatusOK)
	if err := serviceWorkerTemplate.Execute(writer, struct{ SenderID string }{handlers.service.SenderID()}); err != nil {
		handlers.logger.Error().Err(err).Msg("service worker render failed")
	}
}

// registryGuard applies the shared protections for registry mutations.
// Both subscribe and unsubscribe act on arbitrary token/topic pairs, so
// both get the same rate limit and optional shared key.
func (handlers *Handlers) registryGuard(writer http.ResponseWriter, request *http.Request) bool {
	if !handlers.service.AllowSubscribe(request.Context(), requestIP(request)) {
		writeJSON(writer, http.StatusTooManyRequests, map[string]string{"error": "rate_limited"})
		return false
	}
	if !handlers.service.ValidateSubscribeKey(request.Header.Get("X-Subscribe-Key")) {
		writeJSON(writer, http.StatusUnauthorized, map[string]string{"error": "invalid_subscribe_key"})
		return false
	}
	return true
}

func (handlers *Handlers) subscribe(writer http.ResponseWriter, request *http.Request) {
	if !handlers.registryGuard(writer, request) {
		return
	}

	token, topic, ok := tokenTopicParams(request)
	if !ok {
		writeJSON(writer, http.StatusUnprocessableEntity, map[string]string{"error": "missing_token_or_topic"})
		return
	}

	if err := handlers.service.Subscribe(request.Context(), token, topic); err != nil {
		handlers.writeChannelError(writer, err)
		return
	}

	writer.WriteHeader(http.StatusOK)
}

func (handlers *Handlers) unsubscribe(writer http.ResponseWriter, request *http.Request) {
	if !handlers.registryGuard(writer, request) {
		return
	}

	token, topic, ok := tokenTopicParams(request)
	if !ok {
		writeJSON(writer, http.StatusUnprocessableEntity, map[string]string{"error": "missing_token_or_topic"})
		return
	}

	if err := handlers.service.Unsubscribe(request.Context(), token, topic); err != nil {
		handlers.writeChannelError(writer, err)
		return
	}

	writer.WriteHeader(http.StatusOK)
}

func (handlers *Handlers) publish(writer http.ResponseWriter, request *http.Request) {
	var payload publishRequest
	if err := json.NewDecoder(request.Body).Decode(&payload); err != nil {
		writeJSON(writer, http.StatusUnprocessableEntity, map[string]string{"error": "invalid_payload"})
		return
	}
	if strings.TrimSpace(payload.LiveblogID) == "" {
		writeJSON(writer, http.StatusUnprocessableEntity, map[string]string{"error": "missing_liveblog_id"})
		return
	}

	err := handlers.service.PublishPost(request.Context(), channel.Event(payload.Event), payload.LiveblogID, payload.Payload)
	if err != nil {
		if errors.Is(err, channel.ErrChannelInactive) {
			handlers.writeChannelError(writer, err)
			return
		}
		writeJSON(writer, http.StatusUnprocessableEntity, map[string]string{"error": "invalid_event"})
		return
	}

	writeJSON(writer, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// validate runs the pre-save size check for the editing workflow so an
// oversized post fails at edit time instead of silently at send time.
func (handlers *Handlers) validate(writer http.ResponseWriter, request *http.Request) {
	var payload publishRequest
	if err := json.NewDecoder(request.Body).Decode(&payload); err != nil {
		writeJSON(writer, http.StatusUnprocessableEntity, map[string]string{"error": "invalid_payload"})
		return
	}
	if strings.TrimSpace(payload.LiveblogID) == "" {
		writeJSON(writer, http.StatusUnprocessableEntity, map[string]string{"error": "missing_liveblog_id"})
		return
	}

	err := handlers.service.ValidatePost(channel.Event(payload.Event), payload.LiveblogID, payload.Payload)
	if err != nil {
		if errors.Is(err, channel.ErrPayloadTooLarge) {
			writeJSON(writer, http.StatusRequestEntityTooLarge, map[string]string{"error": "payload_too_large", "message": err.Error()})
			return
		}
		if errors.Is(err, channel.ErrChannelInactive) {
			handlers.writeChannelError(writer, err)
			return
		}
		writeJSON(writer, http.StatusUnprocessableEntity, map[string]string{"error": "invalid_event"})
		return
	}

	writeJSON(writer, http.StatusOK, map[string]string{"status": "ok"})
}

func (handlers *Handlers) firebaseActive(writer http.ResponseWriter) bool {
	active, err := handlers.service.ActiveChannel()
	if err != nil || active.ID() != channel.FirebaseID {
		writeJSON(writer, http.StatusFailedDependency, map[string]string{"error": "channel_not_active"})
		return false
	}
	return true
}

func (handlers *Handlers) writeChannelError(writer http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, channel.ErrChannelInactive):
		writeJSON(writer, http.StatusFailedDependency, map[string]string{"error": "channel_not_active"})
	case errors.Is(err, channel.ErrRegistryCall):
		writeJSON(writer, http.StatusBadGateway, map[string]string{"error": "registry_call_failed"})
	default:
		handlers.logger.Error().Err(err).Msg("request failed")
		writeJSON(writer, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
	}
}

func tokenTopicParams(request *http.Request) (string, string, bool) {
	token := strings.TrimSpace(chi.URLParam(request, "token"))
	topic := strings.TrimSpace(chi.URLParam(request, "topic"))
	if token == "" || topic == "" {
		return "", "", false
	}
	return token, topic, true
}

func requestIP(request *http.Request) string {
	forwardedFor := strings.TrimSpace(strings.Split(request.Header.Get("X-Forwarded-For"), ",")[0])
	if forwardedFor != "" {
		return forwardedFor
	}

	realIP := strings.TrimSpace(request.Header.Get("X-Real-IP"))
	if realIP != "" {
		return realIP
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(request.RemoteAddr))
	if err != nil {
		return request.RemoteAddr
	}
	return host
}

func writeJSON(writer http.ResponseWriter, status int, payload any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	_ = json.NewEncoder(writer).Encode(payload)
}
