package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"

	"github.com/mirahq/mira/internal/events"
)

// displayEvent formats and prints a single scheduler event with a consistent
// two-line format: headline, then gray metadata.
func displayEvent(ev events.Event) {
	if shouldSkipEvent(ev) {
		return
	}

	// Progress events stream inline instead of the two-line format; a full
	// headline per text delta would drown the feed.
	if ev.Type == events.EventTypeFeatureProgress {
		displayProgress(ev)
		return
	}

	emoji := eventEmoji(ev)
	severityColor := severityColor(ev.Severity)
	timestamp := ev.Timestamp.Format("15:04:05")

	idColor := color.New(color.FgGreen)
	typeColor := color.New(color.FgMagenta)

	subject := ev.FeatureID
	if subject == "" {
		subject = "scheduler"
	}

	fmt.Printf("%s [%s] %s %s: %s\n",
		emoji,
		timestamp,
		idColor.Sprint(subject),
		typeColor.Sprint(string(ev.Type)),
		severityColor.Sprint(truncate(ev.Message, 80)),
	)

	metadata := eventMetadata(ev)
	if metadata != "" {
		gray := color.New(color.FgHiBlack)
		fmt.Printf("  %s\n", gray.Sprint(metadata))
	}
}

// displayProgress prints streamed agent output. Tool use gets a one-line
// notice; text deltas are passed through raw.
func displayProgress(ev events.Event) {
	if ev.ToolName != "" {
		gray := color.New(color.FgHiBlack)
		fmt.Printf("  %s\n", gray.Sprintf("🔧 %s: %s", ev.FeatureID, ev.ToolName))
		return
	}
	if ev.TextDelta != "" {
		fmt.Print(ev.TextDelta)
		if !strings.HasSuffix(ev.TextDelta, "\n") {
			fmt.Println()
		}
	}
}

// eventEmoji returns the icon for each event type.
func eventEmoji(ev events.Event) string {
	switch ev.Type {
	case events.EventTypeStarted:
		return "🚀"
	case events.EventTypeStopped:
		return "🛑"
	case events.EventTypeFeatureStarted:
		return "📌"
	case events.EventTypeFeatureCompleted:
		return "✅"
	case events.EventTypeFeatureFailed:
		return "❌"
	case events.EventTypePlanGenerated:
		return "📋"
	case events.EventTypePhaseCompleted:
		return "🏁"
	case events.EventTypeRateLimitWait:
		return "⏳"
	case events.EventTypeStateChanged:
		return "🔀"
	}

	switch ev.Severity {
	case events.SeverityInfo:
		return "ℹ️"
	case events.SeverityWarning:
		return "⚠️"
	case events.SeverityError:
		return "❌"
	default:
		return "•"
	}
}

// severityColor returns the message color for a severity level.
func severityColor(severity events.Severity) *color.Color {
	switch severity {
	case events.SeverityWarning:
		return color.New(color.FgYellow)
	case events.SeverityError:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgCyan)
	}
}

// eventMetadata extracts the key fields for the second line, pipe-separated.
func eventMetadata(ev events.Event) string {
	var fields []string

	if ev.Status != "" {
		fields = append(fields, string(ev.Status))
	}
	if ev.ResumeAt != nil {
		fields = append(fields, "resume "+ev.ResumeAt.Format("15:04:05"))
	}
	if ev.Project != "" && ev.Type == events.EventTypeStarted {
		fields = append(fields, ev.Project)
	}

	nonEmpty := fields[:0]
	for _, f := range fields {
		if f != "" {
			nonEmpty = append(nonEmpty, f)
		}
	}
	return truncate(strings.Join(nonEmpty, " | "), 70)
}

// shouldSkipEvent filters events that clutter the feed.
func shouldSkipEvent(ev events.Event) bool {
	// Idle fires on every empty poll pass.
	return ev.Type == events.EventTypeIdle
}
