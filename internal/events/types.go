package events

import (
	"time"

	"github.com/mirahq/mira/internal/types"
)

// EventType represents the type of event emitted by the scheduler.
// Events are the only surface a presentation layer consumes; the scheduler
// never renders anything itself.
type EventType string

const (
	// EventTypeStarted indicates the project loop was started
	EventTypeStarted EventType = "started"
	// EventTypeStopped indicates the project loop was stopped
	EventTypeStopped EventType = "stopped"
	// EventTypeStateChanged indicates a feature changed lifecycle status
	EventTypeStateChanged EventType = "state_changed"
	// EventTypeFeatureStarted indicates a feature began executing
	EventTypeFeatureStarted EventType = "feature_started"
	// EventTypeFeatureCompleted indicates a feature finished successfully
	EventTypeFeatureCompleted EventType = "feature_completed"
	// EventTypeFeatureFailed indicates a feature failed terminally
	EventTypeFeatureFailed EventType = "feature_failed"
	// EventTypeFeatureProgress carries streamed agent output for a running feature
	EventTypeFeatureProgress EventType = "feature_progress"
	// EventTypePlanGenerated indicates a plan was generated and is awaiting approval
	EventTypePlanGenerated EventType = "plan_generated"
	// EventTypePhaseCompleted indicates a plan phase boundary was crossed
	EventTypePhaseCompleted EventType = "phase_completed"
	// EventTypeRateLimitWait indicates the loop is waiting out a provider rate limit
	EventTypeRateLimitWait EventType = "rate_limit_wait"
	// EventTypeIdle indicates a poll pass found no eligible work
	EventTypeIdle EventType = "idle"
	// EventTypeError indicates a scheduler-level error not tied to a single feature
	EventTypeError EventType = "error"
)

// Severity represents the severity level of an event.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Event is a single typed notification from the scheduler to its consumer.
type Event struct {
	Type      EventType           `json:"type"`
	Timestamp time.Time           `json:"timestamp"`
	Project   string              `json:"project"`
	FeatureID string              `json:"feature_id,omitempty"`
	Severity  Severity            `json:"severity"`
	Message   string              `json:"message,omitempty"`
	Status    types.FeatureStatus `json:"status,omitempty"`
	// TextDelta carries streamed assistant text for feature_progress events
	TextDelta string `json:"text_delta,omitempty"`
	// ToolName carries a tool-use notice for feature_progress events
	ToolName string `json:"tool_name,omitempty"`
	// ResumeAt carries the resume deadline for rate_limit_wait events
	ResumeAt *time.Time `json:"resume_at,omitempty"`
}

// Sink consumes scheduler events. Implementations must not block for long;
// the scheduler emits from its loop goroutines.
type Sink interface {
	Emit(event Event)
}

// ChannelSink delivers events to a buffered channel, dropping events when the
// consumer falls behind rather than stalling the scheduler.
type ChannelSink struct {
	ch chan Event
}

// NewChannelSink creates a sink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 256
	}
	return &ChannelSink{ch: make(chan Event, buffer)}
}

// Events returns the receive side of the sink.
func (s *ChannelSink) Events() <-chan Event {
	return s.ch
}

// Emit delivers the event without blocking. A full buffer drops the event;
// event delivery is best-effort and must never stall a poll pass.
func (s *ChannelSink) Emit(event Event) {
	select {
	case s.ch <- event:
	default:
	}
}

// Close closes the channel. Emit must not be called after Close.
func (s *ChannelSink) Close() {
	close(s.ch)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Emit(Event) {}
