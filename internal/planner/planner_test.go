package planner

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirahq/mira/internal/engine"
	"github.com/mirahq/mira/internal/events"
	"github.com/mirahq/mira/internal/types"
)

// scriptedEngine replays canned events and records the prompts it was given.
type scriptedEngine struct {
	events  []*engine.Event
	err     error
	prompts []string
	last    *scriptedStream
}

func (e *scriptedEngine) Run(_ context.Context, req engine.Request) (engine.Stream, error) {
	e.prompts = append(e.prompts, req.Prompt)
	if e.err != nil {
		return nil, e.err
	}
	e.last = &scriptedStream{events: e.events}
	return e.last, nil
}

type scriptedStream struct {
	events []*engine.Event
	pos    int
	closed bool
}

func (s *scriptedStream) Recv() (*engine.Event, error) {
	if s.pos >= len(s.events) {
		return nil, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

func (s *scriptedStream) Close() error {
	s.closed = true
	return nil
}

func textEvents(chunks ...string) []*engine.Event {
	var out []*engine.Event
	for _, c := range chunks {
		out = append(out, &engine.Event{Kind: engine.EventText, Text: c})
	}
	out = append(out, &engine.Event{Kind: engine.EventResult, Subtype: "success"})
	return out
}

func planningFeature(mode types.PlanningMode) *types.Feature {
	return &types.Feature{
		ID:              "feat-1",
		Title:           "add search",
		Status:          types.StatusInProgress,
		PlanningMode:    mode,
		RequireApproval: true,
	}
}

func TestGenerate(t *testing.T) {
	eng := &scriptedEngine{events: textEvents(
		"## Plan\n",
		"- [ ] T001: add index (file: search.go) [phase: core]\n",
		PlanSentinel+"\nanything after is noise",
	)}
	sink := events.NewChannelSink(8)
	p := New(eng, sink)

	f := planningFeature(types.PlanModeSpec)
	require.NoError(t, p.Generate(context.Background(), f, "ctx docs"))

	require.NotNil(t, f.Plan)
	assert.Equal(t, types.PlanStatusGenerated, f.Plan.Status)
	assert.Equal(t, 1, f.Plan.Version)
	assert.NotContains(t, f.Plan.Content, PlanSentinel)
	assert.NotContains(t, f.Plan.Content, "noise")
	require.Len(t, f.Plan.Tasks, 1)
	assert.Equal(t, "T001", f.Plan.Tasks[0].ID)

	// Prompt carries the feature and the project context.
	require.Len(t, eng.prompts, 1)
	assert.Contains(t, eng.prompts[0], "add search")
	assert.Contains(t, eng.prompts[0], "ctx docs")

	select {
	case ev := <-sink.Events():
		assert.Equal(t, events.EventTypePlanGenerated, ev.Type)
	default:
		t.Fatal("expected a plan_generated event")
	}
}

func TestGenerateStopsReadingAtSentinel(t *testing.T) {
	// The events after the sentinel would fail the collection if consumed.
	eng := &scriptedEngine{events: []*engine.Event{
		{Kind: engine.EventText, Text: "## Plan\n- [ ] T001: do it\n"},
		{Kind: engine.EventText, Text: PlanSentinel + "\n"},
		{Kind: engine.EventResult, IsError: true, Subtype: "error_after_sentinel"},
	}}
	p := New(eng, nil)

	f := planningFeature(types.PlanModeSpec)
	require.NoError(t, p.Generate(context.Background(), f, ""))

	assert.Equal(t, types.PlanStatusGenerated, f.Plan.Status)
	assert.NotContains(t, f.Plan.Content, PlanSentinel)

	// The stream was released with the error event still unread.
	require.NotNil(t, eng.last)
	assert.True(t, eng.last.closed)
	assert.Equal(t, 2, eng.last.pos)
}

func TestGenerateSkipMode(t *testing.T) {
	eng := &scriptedEngine{}
	p := New(eng, nil)

	f := planningFeature(types.PlanModeSkip)
	require.NoError(t, p.Generate(context.Background(), f, ""))
	assert.Nil(t, f.Plan)
	assert.Empty(t, eng.prompts)
}

func TestGenerateEngineFailure(t *testing.T) {
	eng := &scriptedEngine{err: errors.New("connection refused")}
	p := New(eng, nil)

	f := planningFeature(types.PlanModeLite)
	err := p.Generate(context.Background(), f, "")
	require.Error(t, err)
	assert.Equal(t, types.PlanStatusPending, f.Plan.Status)
}

func TestGenerateAgentError(t *testing.T) {
	eng := &scriptedEngine{events: []*engine.Event{
		{Kind: engine.EventText, Text: "partial"},
		{Kind: engine.EventResult, IsError: true, Subtype: "error_max_turns"},
	}}
	p := New(eng, nil)

	f := planningFeature(types.PlanModeLite)
	err := p.Generate(context.Background(), f, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error_max_turns")
}

func TestGenerateEmptyPlan(t *testing.T) {
	eng := &scriptedEngine{events: textEvents("   \n")}
	p := New(eng, nil)

	f := planningFeature(types.PlanModeLite)
	assert.Error(t, p.Generate(context.Background(), f, ""))
}

func TestGenerateRevisionIncludesFeedback(t *testing.T) {
	eng := &scriptedEngine{events: textEvents("## Revised plan\n- [ ] T001: narrower change\n" + PlanSentinel)}
	p := New(eng, nil)

	f := planningFeature(types.PlanModeSpec)
	f.Plan = &types.PlanSpec{
		Status:   types.PlanStatusRejected,
		Content:  "## Old plan",
		Version:  1,
		Feedback: []string{"too broad", "missing tests"},
	}

	require.NoError(t, p.Generate(context.Background(), f, ""))
	assert.Equal(t, 2, f.Plan.Version)
	assert.Equal(t, types.PlanStatusGenerated, f.Plan.Status)
	assert.Nil(t, f.Plan.ApprovedAt)

	require.Len(t, eng.prompts, 1)
	assert.Contains(t, eng.prompts[0], "too broad")
	assert.Contains(t, eng.prompts[0], "missing tests")
	assert.Contains(t, eng.prompts[0], "## Old plan")
}

func TestApplyDecision(t *testing.T) {
	t.Run("approve", func(t *testing.T) {
		f := planningFeature(types.PlanModeSpec)
		f.Plan = &types.PlanSpec{Status: types.PlanStatusGenerated, Version: 1}
		require.NoError(t, ApplyDecision(f, Decision{Approved: true}))
		assert.Equal(t, types.PlanStatusApproved, f.Plan.Status)
		assert.NotNil(t, f.Plan.ApprovedAt)
	})

	t.Run("reject accumulates feedback", func(t *testing.T) {
		f := planningFeature(types.PlanModeSpec)
		f.Plan = &types.PlanSpec{Status: types.PlanStatusGenerated, Version: 1}
		require.NoError(t, ApplyDecision(f, Decision{Feedback: "wrong file"}))
		assert.Equal(t, types.PlanStatusRejected, f.Plan.Status)
		assert.Equal(t, []string{"wrong file"}, f.Plan.Feedback)
	})

	t.Run("no plan to decide on", func(t *testing.T) {
		f := planningFeature(types.PlanModeSpec)
		assert.Error(t, ApplyDecision(f, Decision{Approved: true}))
	})
}

func TestNeedsApproval(t *testing.T) {
	f := planningFeature(types.PlanModeSpec)
	assert.True(t, NeedsApproval(f))

	f.RequireApproval = false
	assert.False(t, NeedsApproval(f))

	f.RequireApproval = true
	f.PlanningMode = types.PlanModeSkip
	assert.False(t, NeedsApproval(f))
}

func TestTaskPromptWindows(t *testing.T) {
	f := planningFeature(types.PlanModeFull)
	f.Plan = &types.PlanSpec{Status: types.PlanStatusApproved}
	for i := 1; i <= 8; i++ {
		f.Plan.Tasks = append(f.Plan.Tasks, types.ParsedTask{
			ID:          strings.ReplaceAll("T00x", "x", string(rune('0'+i))),
			Description: "task number " + string(rune('0'+i)),
		})
	}

	prompt := TaskPrompt(f, 4, "")

	// Three back, two ahead.
	assert.Contains(t, prompt, "task number 2")
	assert.Contains(t, prompt, "task number 3")
	assert.Contains(t, prompt, "task number 4")
	assert.NotContains(t, prompt, "task number 1")
	assert.Contains(t, prompt, "task number 5") // current
	assert.Contains(t, prompt, "task number 6")
	assert.Contains(t, prompt, "task number 7")
	assert.NotContains(t, prompt, "task number 8")
}

func TestTaskPromptCarriesApprovedPlan(t *testing.T) {
	f := planningFeature(types.PlanModeFull)
	f.Plan = &types.PlanSpec{
		Status:  types.PlanStatusApproved,
		Content: "## Goal\nShip incremental search across the index.",
		Tasks: []types.ParsedTask{
			{ID: "T001", Description: "build the index"},
			{ID: "T002", Description: "wire the query path"},
		},
	}

	prompt := TaskPrompt(f, 1, "")
	assert.Contains(t, prompt, "# Approved plan")
	assert.Contains(t, prompt, "Ship incremental search across the index.")
	assert.Contains(t, prompt, "T002: wire the query path")
}

func TestTaskPromptFirstTask(t *testing.T) {
	f := planningFeature(types.PlanModeFull)
	f.Plan = &types.PlanSpec{
		Status: types.PlanStatusApproved,
		Tasks: []types.ParsedTask{
			{ID: "T001", Description: "only task", File: "main.go"},
		},
	}

	prompt := TaskPrompt(f, 0, "")
	assert.Contains(t, prompt, "T001: only task (file: main.go)")
	assert.NotContains(t, prompt, "Recently completed")
	assert.NotContains(t, prompt, "Coming up next")
}
