package channel

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/liveblog-hub/liveblog-push/internal/fcm"
	"github.com/liveblog-hub/liveblog-push/internal/metrics"
)

// FirebaseID is the channel id stored in the notification_channel setting.
const FirebaseID = "liveblog_firebase"

// DataLimit is the maximum allowed payload size for FCM data messages.
// https://firebase.google.com/docs/cloud-messaging/concept-options
const DataLimit = 4096

const userErrorMessage = "An error occurred while sending the data to the Firebase server, please check the admin log for more info."

// Reporter surfaces user-facing failure text (form errors, editor status
// messages). Raw provider errors never pass through it.
type Reporter func(message string)

type FirebaseConfig struct {
	// PayloadLimit overrides DataLimit; zero keeps the default.
	PayloadLimit int
	Reporter     Reporter
}

// Firebase delivers post events as FCM data messages, fanned out by
// topic. Stateless per publish; the transport client is owned by the
// channel instance and reused across calls.
type Firebase struct {
	client   *fcm.Client
	limit    int
	reporter Reporter
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

func NewFirebase(client *fcm.Client, config FirebaseConfig, m *metrics.Metrics, logger zerolog.Logger) *Firebase {
	limit := config.PayloadLimit
	if limit < 1 {
		limit = DataLimit
	}
	reporter := config.Reporter
	if reporter == nil {
		reporter = func(string) {}
	}

	return &Firebase{
		client:   client,
		limit:    limit,
		reporter: reporter,
		metrics:  m,
		logger:   logger,
	}
}

// TopicID derives the deterministic topic for a live blog.
func TopicID(liveblogID string) string {
	return "liveblog-" + liveblogID
}

func (firebase *Firebase) ID() string {
	return FirebaseID
}

func (firebase *Firebase) Registrar() TopicRegistrar {
	return firebase.client
}

// buildMessage merges the rendered payload with the event and topic_id
// fields. The builder wins on collision so the client payload shape
// stays predictable regardless of renderer output.
func (firebase *Firebase) buildMessage(event Event, liveblogID string, payload map[string]string) fcm.Message {
	topicID := TopicID(liveblogID)

	data := make(map[string]string, len(payload)+2)
	for key, value := range payload {
		data[key] = value
	}
	data["event"] = string(event)
	data["topic_id"] = topicID

	return fcm.Message{
		To:         fcm.TopicRecipient(topicID),
		Priority:   fcm.PriorityHigh,
		TimeToLive: 0,
		Data:       data,
	}
}

// ValidatePost runs the size check the editing workflow applies before a
// post may be saved. It uses the exact estimate Publish uses, so what is
// allowed to save is what is allowed to send.
func (firebase *Firebase) ValidatePost(event Event, liveblogID string, payload map[string]string) error {
	message := firebase.buildMessage(event, liveblogID, payload)

	size, err := firebase.client.EstimateSize(message)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	if size > firebase.limit {
		return fmt.Errorf("%w: %d bytes (maximum of %d bytes allowed)", ErrPayloadTooLarge, size, firebase.limit)
	}
	return nil
}

// Publish sends a post event to the live blog's topic. Best-effort: all
// failures end in the reporter and the log, and no retry is attempted.
func (firebase *Firebase) Publish(ctx context.Context, event Event, liveblogID string, payload map[string]string) {
	message := firebase.buildMessage(event, liveblogID, payload)

	size, err := firebase.client.EstimateSize(message)
	if err != nil {
		firebase.logger.Error().Err(err).Str("liveblog", liveblogID).Msg("size estimate failed")
		firebase.reporter(userErrorMessage)
		return
	}
	if size > firebase.limit {
		firebase.metrics.PayloadTooLargeTotal.Inc()
		firebase.logger.Warn().Str("liveblog", liveblogID).Int("size", size).Int("limit", firebase.limit).Msg("payload over limit, send skipped")
		firebase.reporter(fmt.Sprintf("Payload is too big: %d bytes (maximum of %d bytes allowed)", size, firebase.limit))
		return
	}

	start := time.Now()
	result, err := firebase.client.Send(ctx, message)
	accepted := err == nil && result.Error == "" && result.Outcome == fcm.OutcomeOK
	firebase.metrics.RecordSend(time.Since(start), err, accepted)
	if err != nil {
		firebase.logger.Error().Err(err).Str("liveblog", liveblogID).Str("event", string(event)).Msg("fcm send failed")
		firebase.reporter(userErrorMessage)
		return
	}

	// The HTTP call can succeed while the push itself failed server-side,
	// e.g. an invalid topic; the failure rides inside the response body.
	if !accepted {
		firebase.logger.Error().
			Str("liveblog", liveblogID).
			Str("message_id", orDash(result.MessageID)).
			Str("error", orDash(result.Error)).
			Int("status", result.StatusCode).
			Str("outcome", result.Outcome.String()).
			Dur("retry_after", result.RetryAfter).
			Msg("fcm send rejected")
		firebase.reporter(userErrorMessage)
		return
	}

	firebase.logger.Info().
		Str("liveblog", liveblogID).
		Str("event", string(event)).
		Str("message_id", result.MessageID).
		Msg("post event published")
}

// ValidateConfig dry-runs a send against a scratch topic. A 401 means
// the configured server key is invalid.
func (firebase *Firebase) ValidateConfig(ctx context.Context) error {
	message := fcm.Message{
		To:     fcm.TopicRecipient("_test"),
		DryRun: true,
	}

	result, err := firebase.client.Send(ctx, message)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	if result.Outcome == fcm.OutcomeUnauthorized {
		return fmt.Errorf("failed to establish a connection: invalid server key")
	}
	return nil
}

func orDash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}
