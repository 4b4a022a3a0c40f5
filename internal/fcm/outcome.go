package fcm

import (
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

// Outcome classifies an FCM send response. The client only classifies;
// whether and how to retry is the caller's policy.
type Outcome int

const (
	// OutcomeOK: the provider accepted the message.
	OutcomeOK Outcome = iota
	// OutcomeMalformed: 400, the request body could not be parsed. Not retryable.
	OutcomeMalformed
	// OutcomeUnauthorized: 401, server key rejected. A configuration
	// error, not retryable.
	OutcomeUnauthorized
	// OutcomeTransient: 5xx, the provider asks for a retry with
	// exponential backoff honoring any Retry-After hint.
	OutcomeTransient
	// OutcomeUnknown: any other status.
	OutcomeUnknown
)

func (outcome Outcome) String() string {
	switch outcome {
	case OutcomeOK:
		return "ok"
	case OutcomeMalformed:
		return "malformed"
	case OutcomeUnauthorized:
		return "unauthorized"
	case OutcomeTransient:
		return "transient"
	default:
		return "unknown"
	}
}

func (outcome Outcome) Retryable() bool {
	return outcome == OutcomeTransient
}

func ClassifyStatus(code int) Outcome {
	switch {
	case code == http.StatusOK:
		return OutcomeOK
	case code == http.StatusBadRequest:
		return OutcomeMalformed
	case code == http.StatusUnauthorized:
		return OutcomeUnauthorized
	case code >= 500 && code <= 599:
		return OutcomeTransient
	default:
		return OutcomeUnknown
	}
}

// RetryAfter parses a Retry-After header into a wait duration.
// Returns zero when the header is absent or unparseable.
func RetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// Backoff computes the wait before retry attempt (1-based). A provider
// hint wins over the computed exponential backoff.
func Backoff(hint time.Duration, attempt int, base time.Duration) time.Duration {
	if hint > 0 {
		return hint
	}
	if base <= 0 {
		base = time.Second
	}
	if attempt < 1 {
		attempt = 1
	}

	backoff := base * time.Duration(1<<uint(attempt-1))
	jitter := time.Duration(rand.Int63n(int64(base)))
	return backoff + jitter
}
