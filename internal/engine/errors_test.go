package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"cancelled", context.Canceled, KindAbort},
		{"wrapped cancelled", fmt.Errorf("run aborted: %w", context.Canceled), KindAbort},
		{"rate limit text", errors.New("API rate limit exceeded"), KindRateLimit},
		{"429 status", errors.New("request failed with status 429"), KindRateLimit},
		{"usage limit", errors.New("usage limit reached. Your limit will reset at 2026-08-31 14:00:00"), KindRateLimit},
		{"overloaded", errors.New("overloaded_error: Overloaded"), KindRateLimit},
		{"auth", errors.New("401 Unauthorized"), KindAuth},
		{"invalid key", errors.New("invalid api key provided"), KindAuth},
		{"connection refused", errors.New("dial tcp: connection refused"), KindNetwork},
		{"timeout", errors.New("request timed out"), KindNetwork},
		{"bad gateway", errors.New("upstream returned 502"), KindNetwork},
		{"something else", errors.New("segmentation fault"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestKindRetriable(t *testing.T) {
	assert.True(t, KindRateLimit.Retriable())
	assert.True(t, KindNetwork.Retriable())
	assert.False(t, KindAbort.Retriable())
	assert.False(t, KindAuth.Retriable())
	assert.False(t, KindUnknown.Retriable())
}

func TestParseResetTime(t *testing.T) {
	got := ParseResetTime("usage limit reached. Your limit will reset at 2026-08-31 14:00:00 (UTC)")
	want := time.Date(2026, 8, 31, 14, 0, 0, 0, time.Local)
	assert.Equal(t, want, got)

	assert.True(t, ParseResetTime("no timestamp here").IsZero())
	assert.True(t, ParseResetTime("reset at tomorrow").IsZero())
}

func TestResumeDeadline(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.Local)
	buffer := time.Minute
	fallback := 30 * time.Minute

	t.Run("uses parsed reset plus buffer", func(t *testing.T) {
		got := ResumeDeadline("limit will reset at 2026-08-31 14:00:00", now, buffer, fallback)
		assert.Equal(t, time.Date(2026, 8, 31, 14, 1, 0, 0, time.Local), got)
	})

	t.Run("falls back without a reset time", func(t *testing.T) {
		got := ResumeDeadline("rate limit exceeded", now, buffer, fallback)
		assert.Equal(t, now.Add(fallback), got)
	})

	t.Run("past reset still waits the buffer", func(t *testing.T) {
		got := ResumeDeadline("limit will reset at 2026-08-31 09:00:00", now, buffer, fallback)
		assert.Equal(t, now.Add(buffer), got)
	})
}
