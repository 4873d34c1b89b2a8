package resource

import (
	"time"

	"github.com/relaymux/llmgate/internal/credential"
)

// ClassifyHTTP maps a transactor's HTTP-level observation to the Outcome a
// Release call should report.
func ClassifyHTTP(status int, resetAt time.Time, bodyLooksBanned, bodyLooksOrgDisabled bool) Outcome {
	switch {
	case status == 401 || bodyLooksBanned || bodyLooksOrgDisabled:
		reason := credential.ReasonBanned
		if bodyLooksOrgDisabled {
			reason = credential.ReasonDisabled
		}
		return Outcome{Kind: OutcomeInvalid, InvalidReason: reason}
	case status == 429:
		if resetAt.IsZero() {
			resetAt = time.Now().Add(1 * time.Hour)
		}
		return Outcome{Kind: OutcomeExhausted, ResetAt: resetAt}
	case status == 403:
		// Reports the non-terminal TransientFail outcome (state unchanged,
		// lease released). No per-key 403 counter is updated:
		// Credential.Forbidden403s is not incremented here or by any caller,
		// and no threshold promotes the key to Invalid.
		return Outcome{Kind: OutcomeTransientFail}
	case status >= 500 || status == 0:
		return Outcome{Kind: OutcomeTransientFail}
	default:
		return Outcome{Kind: OutcomeOk}
	}
}

// ClassifyRateLimitBody maps a body-level "rate_limit" JSON payload without
// a reset header to Exhausted(now + default window)
func ClassifyRateLimitBody(defaultWindow time.Duration) Outcome {
	if defaultWindow <= 0 {
		defaultWindow = 1 * time.Hour
	}
	return Outcome{Kind: OutcomeExhausted, ResetAt: time.Now().Add(defaultWindow)}
}
