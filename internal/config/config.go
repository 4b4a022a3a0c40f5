package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultChannel is the channel id activated when ACTIVE_CHANNEL is unset.
const DefaultChannel = "liveblog_firebase"

type Config struct {
	Port          string
	ActiveChannel string

	ServerKey string
	SenderID  string

	SendEndpoint     string
	RegistryEndpoint string
	SendTimeout      time.Duration
	PayloadLimit     int

	SubscribeKey       string
	SubscribeRateLimit int
	SubscribeWindow    time.Duration
	PublishKey         string

	RedisURL string
}

func Load() (Config, error) {
	config := Config{
		Port:               getEnv("PORT", "4000"),
		ActiveChannel:      getEnv("ACTIVE_CHANNEL", DefaultChannel),
		ServerKey:          strings.TrimSpace(os.Getenv("FCM_SERVER_KEY")),
		SenderID:           strings.TrimSpace(os.Getenv("FCM_SENDER_ID")),
		SendEndpoint:       getEnv("FCM_SEND_ENDPOINT", "https://fcm.googleapis.com/fcm/send"),
		RegistryEndpoint:   getEnv("FCM_REGISTRY_ENDPOINT", "https://iid.googleapis.com/iid/v1"),
		SendTimeout:        time.Duration(getEnvInt("FCM_SEND_TIMEOUT_SECONDS", 10)) * time.Second,
		PayloadLimit:       getEnvInt("FCM_PAYLOAD_LIMIT", 4096),
		SubscribeKey:       strings.TrimSpace(os.Getenv("SUBSCRIBE_KEY")),
		SubscribeRateLimit: getEnvInt("SUBSCRIBE_RATE_LIMIT", 5),
		SubscribeWindow:    time.Duration(getEnvInt("SUBSCRIBE_RATE_WINDOW_SECONDS", 60)) * time.Second,
		PublishKey:         strings.TrimSpace(os.Getenv("PUBLISH_KEY")),
		RedisURL:           strings.TrimSpace(os.Getenv("REDIS_URL")),
	}

	if config.ActiveChannel == DefaultChannel {
		if config.ServerKey == "" {
			return Config{}, errors.New("FCM_SERVER_KEY is required")
		}
		if config.SenderID == "" {
			return Config{}, errors.New("FCM_SENDER_ID is required")
		}
	}

	if config.SendTimeout <= 0 {
		config.SendTimeout = 10 * time.Second
	}
	if config.PayloadLimit < 1 {
		config.PayloadLimit = 4096
	}
	if config.SubscribeRateLimit < 1 {
		config.SubscribeRateLimit = 1
	}

	return config, nil
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
