package engine

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
)

// Kind classifies a failed agent run so the scheduler can pick the right
// recovery: wait out a rate limit, retry transient network failures, or fail
// the feature permanently.
type Kind string

const (
	// KindAbort means the run was cancelled by the operator or scheduler.
	KindAbort Kind = "abort"
	// KindRateLimit means the provider rejected the request for quota.
	KindRateLimit Kind = "rate_limit"
	// KindNetwork covers transient transport failures.
	KindNetwork Kind = "network"
	// KindAuth means the API key is missing or rejected.
	KindAuth Kind = "auth"
	// KindUnknown is everything else.
	KindUnknown Kind = "unknown"
)

// Classify maps an error from an agent run to its Kind. Classification is
// string-based because both the CLI agent and the HTTP client report
// provider errors as flattened text.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	if errors.Is(err, context.Canceled) {
		return KindAbort
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "rate_limit"),
		strings.Contains(msg, "429"),
		strings.Contains(msg, "overloaded"),
		strings.Contains(msg, "usage limit"),
		strings.Contains(msg, "quota"):
		return KindRateLimit
	case strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "401"),
		strings.Contains(msg, "403"),
		strings.Contains(msg, "invalid api key"),
		strings.Contains(msg, "authentication"):
		return KindAuth
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "timed out"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "temporary failure"),
		strings.Contains(msg, "eof"),
		strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "502"),
		strings.Contains(msg, "503"),
		strings.Contains(msg, "504"):
		return KindNetwork
	default:
		return KindUnknown
	}
}

// Retriable reports whether a run failing with this kind should be retried
// automatically.
func (k Kind) Retriable() bool {
	return k == KindRateLimit || k == KindNetwork
}

var resetTimeRe = regexp.MustCompile(`reset at (\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2})`)

// ParseResetTime extracts a provider-reported quota reset time from error
// text, e.g. "usage limit reached. Your limit will reset at 2026-08-31
// 14:00:00". The timestamp is interpreted in local time, matching how the
// agent prints it. Returns the zero time when none is found.
func ParseResetTime(text string) time.Time {
	m := resetTimeRe.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}
	}
	t, err := time.ParseInLocation("2006-01-02 15:04:05", m[1], time.Local)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ResumeDeadline computes when a rate-limited run should resume. When the
// error text carries a reset time, the deadline is that time plus buffer;
// otherwise fallback is used. A reset time already in the past still gets
// the buffer so a clock-skewed provider doesn't cause an immediate retry.
func ResumeDeadline(errText string, now time.Time, buffer, fallback time.Duration) time.Time {
	reset := ParseResetTime(errText)
	if reset.IsZero() {
		return now.Add(fallback)
	}
	deadline := reset.Add(buffer)
	if deadline.Before(now) {
		return now.Add(buffer)
	}
	return deadline
}
