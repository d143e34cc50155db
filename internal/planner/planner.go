// Package planner generates implementation plans for features and routes
// operator approval decisions to the runs waiting on them.
package planner

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mirahq/mira/internal/engine"
	"github.com/mirahq/mira/internal/events"
	"github.com/mirahq/mira/internal/types"
)

// SummaryLimit caps the stored summary of agent output.
const SummaryLimit = 2000

// Planner drives the plan phase of a feature run.
type Planner struct {
	engine engine.Engine
	sink   events.Sink
}

// New creates a Planner. sink may be nil for no event emission.
func New(eng engine.Engine, sink events.Sink) *Planner {
	if sink == nil {
		sink = events.NopSink{}
	}
	return &Planner{engine: eng, sink: sink}
}

// Generate produces (or revises) the plan for a feature and attaches it to
// the record in generated state. The caller persists the feature afterwards.
// Features in skip mode get no plan and return immediately.
func (p *Planner) Generate(ctx context.Context, f *types.Feature, projectContext string) error {
	if f.PlanningMode == types.PlanModeSkip {
		return nil
	}

	revising := f.Plan != nil && f.Plan.Status == types.PlanStatusRejected
	var prompt string
	if revising {
		prompt = RevisePrompt(f, projectContext)
	} else {
		prompt = PlanPrompt(f, projectContext)
	}

	if f.Plan == nil {
		f.Plan = &types.PlanSpec{}
	}
	f.Plan.Status = types.PlanStatusGenerating

	text, err := p.collect(ctx, engine.Request{
		Prompt:  prompt,
		Model:   f.Model,
		WorkDir: f.WorktreePath,
		Images:  f.Images,
	})
	if err != nil {
		f.Plan.Status = types.PlanStatusPending
		return fmt.Errorf("plan generation failed: %w", err)
	}

	content := TruncateAtSentinel(text)
	if strings.TrimSpace(content) == "" {
		f.Plan.Status = types.PlanStatusPending
		return fmt.Errorf("plan generation produced no content")
	}

	now := time.Now().UTC()
	f.Plan.Content = content
	f.Plan.Status = types.PlanStatusGenerated
	f.Plan.Version++
	f.Plan.GeneratedAt = &now
	f.Plan.ApprovedAt = nil
	f.Plan.Tasks = ParseTasks(content)

	p.sink.Emit(events.Event{
		Type:      events.EventTypePlanGenerated,
		Timestamp: now,
		FeatureID: f.ID,
		Severity:  events.SeverityInfo,
		Message:   fmt.Sprintf("plan v%d generated (%d tasks)", f.Plan.Version, len(f.Plan.Tasks)),
	})
	return nil
}

// ApplyDecision records an operator decision on the feature's plan. The
// caller persists the feature and decides what the run does next.
func ApplyDecision(f *types.Feature, d Decision) error {
	if f.Plan == nil || f.Plan.Status != types.PlanStatusGenerated {
		return fmt.Errorf("feature %s has no plan awaiting a decision", f.ID)
	}
	if d.Approved {
		now := time.Now().UTC()
		f.Plan.Status = types.PlanStatusApproved
		f.Plan.ApprovedAt = &now
		return nil
	}
	f.Plan.Status = types.PlanStatusRejected
	if d.Feedback != "" {
		f.Plan.Feedback = append(f.Plan.Feedback, d.Feedback)
	}
	return nil
}

// NeedsApproval reports whether the feature's run must pause for an operator
// before implementing.
func NeedsApproval(f *types.Feature) bool {
	return f.RequireApproval && f.PlanningMode != types.PlanModeSkip
}

// collect runs the engine and concatenates the text events until the stream
// ends or the completion sentinel appears. Anything the agent streams after
// the sentinel is noise, so the stream is closed as soon as it shows up. A
// result event marked as an error fails the collection.
func (p *Planner) collect(ctx context.Context, req engine.Request) (string, error) {
	stream, err := p.engine.Run(ctx, req)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var b strings.Builder
	for {
		ev, err := stream.Recv()
		if err == io.EOF {
			return b.String(), nil
		}
		if err != nil {
			return "", err
		}
		switch ev.Kind {
		case engine.EventText:
			b.WriteString(ev.Text)
			if strings.Contains(b.String(), PlanSentinel) {
				return b.String(), nil
			}
		case engine.EventResult:
			if ev.IsError {
				return "", fmt.Errorf("agent reported failure: %s", ev.Subtype)
			}
			if ev.ResultOf != "" && b.Len() == 0 {
				b.WriteString(ev.ResultOf)
			}
		}
	}
}
