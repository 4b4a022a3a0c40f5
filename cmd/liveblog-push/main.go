package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/liveblog-hub/liveblog-push/internal/channel"
	"github.com/liveblog-hub/liveblog-push/internal/config"
	"github.com/liveblog-hub/liveblog-push/internal/fcm"
	"github.com/liveblog-hub/liveblog-push/internal/httpapi"
	"github.com/liveblog-hub/liveblog-push/internal/metrics"
	"github.com/liveblog-hub/liveblog-push/internal/ratelimit"
	"github.com/liveblog-hub/liveblog-push/internal/service"
)

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Str("service", "liveblog-push").Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config error")
	}

	relayMetrics := metrics.New()

	fcmClient := fcm.New(fcm.Config{
		ServerKey:        cfg.ServerKey,
		SendEndpoint:     cfg.SendEndpoint,
		RegistryEndpoint: cfg.RegistryEndpoint,
		Timeout:          cfg.SendTimeout,
	}, logger.With().Str("component", "fcm").Logger())

	// Delivery is best-effort: the editor only ever sees these messages,
	// never raw provider errors.
	userLogger := logger.With().Str("channel", "user").Logger()
	firebase := channel.NewFirebase(fcmClient, channel.FirebaseConfig{
		PayloadLimit: cfg.PayloadLimit,
		Reporter:     func(message string) { userLogger.Warn().Msg(message) },
	}, relayMetrics, logger.With().Str("component", "firebase").Logger())

	registry := channel.NewRegistry()
	registry.Register(firebase)
	if err := registry.SetActive(cfg.ActiveChannel); err != nil {
		logger.Warn().Err(err).Msg("no active notification channel, endpoints will return 424")
	}

	var limiter ratelimit.Limiter
	if cfg.RedisURL != "" {
		options, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		limiter = ratelimit.NewRedis(redis.NewClient(options), cfg.SubscribeRateLimit, cfg.SubscribeWindow,
			logger.With().Str("component", "ratelimit").Logger())
	} else {
		limiter = ratelimit.NewMemory(cfg.SubscribeRateLimit, cfg.SubscribeWindow)
	}

	appService := service.New(cfg, registry, limiter, relayMetrics, logger.With().Str("component", "service").Logger())
	router := httpapi.NewRouter(appService, relayMetrics.Handler(), logger.With().Str("component", "httpapi").Logger())

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("liveblog-push listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	<-signals

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}
