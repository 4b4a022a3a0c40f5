// Headless subscriber for local development. It walks the full
// subscription lifecycle against a running relay, receives pushes as
// plain HTTP POSTs (an FCM emulator stand-in) and logs routed events.
// SIGHUP simulates a provider token rotation.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/liveblog-hub/liveblog-push/pkg/subscriber"
)

type headlessPlatform struct {
	granted  bool
	refresh  chan struct{}
	messages chan subscriber.Message
}

func (platform *headlessPlatform) RegisterEndpoint(_ context.Context) error {
	// No service worker in a headless process.
	return subscriber.ErrNoEndpointSupport
}

func (platform *headlessPlatform) RequestPermission(_ context.Context) (bool, error) {
	return platform.granted, nil
}

func (platform *headlessPlatform) Token(_ context.Context) (string, error) {
	return "headless-" + uuid.NewString(), nil
}

func (platform *headlessPlatform) TokenRefresh() <-chan struct{} {
	return platform.refresh
}

func (platform *headlessPlatform) Messages() <-chan subscriber.Message {
	return platform.messages
}

type logStream struct {
	logger zerolog.Logger
}

func (stream *logStream) AddPost(data map[string]string) {
	stream.logger.Info().Interface("data", data).Msg("post added")
}

func (stream *logStream) EditPost(data map[string]string) {
	stream.logger.Info().Interface("data", data).Msg("post edited")
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Str("service", "liveblog-subscriber").Logger()

	relayURL := getEnv("RELAY_URL", "http://localhost:4000")
	topic := getEnv("LIVEBLOG_TOPIC", "liveblog-1")
	listenPort := getEnv("PUSH_LISTEN_PORT", "4100")
	granted := !strings.EqualFold(getEnv("PERMISSION", "granted"), "denied")

	platform := &headlessPlatform{
		granted:  granted,
		refresh:  make(chan struct{}, 1),
		messages: make(chan subscriber.Message, 16),
	}

	registry := subscriber.NewHTTPRegistry(
		&http.Client{Timeout: 10 * time.Second},
		relayURL,
		os.Getenv("SUBSCRIBE_KEY"),
		logger.With().Str("component", "registry").Logger(),
	)

	machine := subscriber.NewMachine(platform, registry, topic,
		&logStream{logger: logger.With().Str("component", "stream").Logger()},
		logger.With().Str("component", "machine").Logger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := machine.Start(ctx); err != nil {
		if errors.Is(err, subscriber.ErrPermissionDenied) {
			logger.Warn().Msg("permission denied, no pushes will arrive")
			return
		}
		logger.Fatal().Err(err).Msg("subscription failed")
	}

	// Accept pushes the way an emulator would deliver them.
	mux := http.NewServeMux()
	mux.HandleFunc("POST /push", func(writer http.ResponseWriter, request *http.Request) {
		var payload struct {
			Data map[string]string `json:"data"`
		}
		if err := json.NewDecoder(request.Body).Decode(&payload); err != nil {
			http.Error(writer, "invalid payload", http.StatusUnprocessableEntity)
			return
		}
		platform.messages <- subscriber.Message{Data: payload.Data}
		writer.WriteHeader(http.StatusOK)
	})

	pushServer := &http.Server{
		Addr:              ":" + listenPort,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("port", listenPort).Msg("push listener up")
		if err := pushServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("push listener failed")
		}
	}()

	rotations := make(chan os.Signal, 1)
	signal.Notify(rotations, syscall.SIGHUP)
	go func() {
		for range rotations {
			logger.Info().Msg("token rotation signaled")
			platform.refresh <- struct{}{}
		}
	}()

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-done
		cancel()
	}()

	if err := machine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("subscriber stopped")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = pushServer.Shutdown(shutdownCtx)
}
