package scheduler

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mirahq/mira/internal/config"
	"github.com/mirahq/mira/internal/engine"
	"github.com/mirahq/mira/internal/events"
	"github.com/mirahq/mira/internal/planner"
	"github.com/mirahq/mira/internal/types"
)

// execute runs one feature end to end: worktree, plan, approval,
// implementation. It owns the feature's entry in the runs map.
func (s *Scheduler) execute(ctx context.Context, f *types.Feature, prevStatus types.FeatureStatus) {
	err := s.executePhases(ctx, f, prevStatus)

	s.mu.Lock()
	r := s.runs[f.ID]
	aborted := r != nil && r.aborted
	delete(s.runs, f.ID)
	s.mu.Unlock()
	if r != nil {
		r.cancel()
	}

	if err == nil {
		return
	}
	s.finishFailure(f, err, aborted, r)
}

func (s *Scheduler) executePhases(ctx context.Context, f *types.Feature, prevStatus types.FeatureStatus) error {
	cfg := s.configSnapshot()

	workDir := s.projectPath
	if cfg.EnableIsolation && f.Branch != "" && s.worktrees != nil {
		wt, err := s.worktrees.Create(ctx, f.Branch, f.ID)
		if err != nil {
			return fmt.Errorf("worktree setup failed: %w", err)
		}
		workDir = wt.Path
		if wt.Path != f.WorktreePath {
			f.WorktreePath = wt.Path
			if err := s.store.Save(f); err != nil {
				return err
			}
		}
	}

	projectContext := engine.LoadProjectContext(s.projectPath)

	// A feature launched out of waiting_approval with an already-approved
	// plan is a restart recovery: the decision landed while no run was
	// live, so resume the interrupted implementation instead of starting
	// over.
	resuming := prevStatus == types.StatusWaitingApproval &&
		f.Plan != nil && f.Plan.Status == types.PlanStatusApproved

	if !resuming {
		if err := s.planPhase(ctx, f, projectContext); err != nil {
			return err
		}
	}

	output, err := s.implementPhase(ctx, f, workDir, projectContext, resuming, cfg)
	if err != nil {
		return err
	}

	_, err = s.store.Update(f.ID, func(f *types.Feature) error {
		if !f.Status.CanTransitionTo(types.StatusCompleted) {
			return fmt.Errorf("feature %s is %s, cannot complete", f.ID, f.Status)
		}
		f.Status = types.StatusCompleted
		f.Summary = planner.Summarize(output, planner.SummaryLimit)
		f.Error = ""
		return nil
	})
	if err != nil {
		return err
	}

	s.emit(events.Event{
		Type:      events.EventTypeFeatureCompleted,
		FeatureID: f.ID,
		Severity:  events.SeverityInfo,
		Message:   f.Title,
	})
	s.emitStateChange(f.ID, types.StatusCompleted)
	return nil
}

// planPhase generates the plan and, when required, blocks on operator
// approval. Rejections loop back into regeneration with the feedback
// attached. On return the plan is approved (or planning was skipped).
func (s *Scheduler) planPhase(ctx context.Context, f *types.Feature, projectContext string) error {
	if f.PlanningMode == types.PlanModeSkip {
		return nil
	}

	for {
		if f.Plan == nil || f.Plan.Status == types.PlanStatusPending || f.Plan.Status == types.PlanStatusRejected {
			if err := s.planner.Generate(ctx, f, projectContext); err != nil {
				return err
			}
			if err := s.store.Save(f); err != nil {
				return err
			}
		}

		if f.Plan.Status == types.PlanStatusApproved {
			return nil
		}

		if !planner.NeedsApproval(f) {
			now := time.Now().UTC()
			f.Plan.Status = types.PlanStatusApproved
			f.Plan.ApprovedAt = &now
			return s.store.Save(f)
		}

		// Register before announcing so a decision racing the status write
		// is never lost.
		if err := s.hub.Register(f.ID); err != nil {
			return err
		}
		updated, err := s.store.Update(f.ID, func(f *types.Feature) error {
			f.Status = types.StatusWaitingApproval
			return nil
		})
		if err != nil {
			s.hub.Cancel(f.ID)
			return err
		}
		*f = *updated
		s.emitStateChange(f.ID, types.StatusWaitingApproval)

		decision, err := s.hub.Await(ctx, f.ID)
		if err != nil {
			return err
		}

		updated, err = s.store.Update(f.ID, func(f *types.Feature) error {
			if err := planner.ApplyDecision(f, decision); err != nil {
				return err
			}
			f.Status = types.StatusInProgress
			return nil
		})
		if err != nil {
			return err
		}
		*f = *updated
		s.emitStateChange(f.ID, types.StatusInProgress)
	}
}

// implementPhase runs the implementation agent. Phased plans run one task at
// a time; everything else is a single agent session.
func (s *Scheduler) implementPhase(ctx context.Context, f *types.Feature, workDir, projectContext string, resuming bool, cfg config.Config) (string, error) {
	if resuming {
		return s.runAgent(ctx, f, engine.Request{
			Prompt:   planner.ContinuePrompt(f, projectContext),
			Model:    modelFor(f, cfg),
			WorkDir:  workDir,
			MaxTurns: cfg.MaxTurns,
			Images:   f.Images,
		})
	}

	if f.PlanningMode == types.PlanModeFull && f.Plan != nil && len(f.Plan.Tasks) > 0 {
		return s.runTasks(ctx, f, workDir, projectContext, cfg)
	}

	return s.runAgent(ctx, f, engine.Request{
		Prompt:   planner.ImplementPrompt(f, projectContext),
		Model:    modelFor(f, cfg),
		WorkDir:  workDir,
		MaxTurns: cfg.MaxTurns,
		Images:   f.Images,
	})
}

// runTasks executes a phased plan task by task, persisting progress after
// each so an interrupted feature resumes at the right task.
func (s *Scheduler) runTasks(ctx context.Context, f *types.Feature, workDir, projectContext string, cfg config.Config) (string, error) {
	var all strings.Builder
	for i := range f.Plan.Tasks {
		if f.Plan.Tasks[i].Status == types.TaskCompleted {
			continue
		}

		f.Plan.Tasks[i].Status = types.TaskInProgress
		if err := s.store.Save(f); err != nil {
			return "", err
		}

		output, err := s.runAgent(ctx, f, engine.Request{
			Prompt:   planner.TaskPrompt(f, i, projectContext),
			Model:    modelFor(f, cfg),
			WorkDir:  workDir,
			MaxTurns: cfg.MaxTurns,
		})
		if err != nil {
			f.Plan.Tasks[i].Status = types.TaskFailed
			s.store.Save(f)
			return "", fmt.Errorf("task %s failed: %w", f.Plan.Tasks[i].ID, err)
		}
		all.WriteString(output)

		f.Plan.Tasks[i].Status = types.TaskCompleted
		if err := s.store.Save(f); err != nil {
			return "", err
		}

		if planner.PhaseComplete(f.Plan.Tasks, i) {
			s.emit(events.Event{
				Type:      events.EventTypePhaseCompleted,
				FeatureID: f.ID,
				Severity:  events.SeverityInfo,
				Message:   f.Plan.Tasks[i].Phase,
			})
		}
	}
	return all.String(), nil
}

// runAgent runs one agent session, streaming output into the transcript and
// progress events. Returns the concatenated text output.
func (s *Scheduler) runAgent(ctx context.Context, f *types.Feature, req engine.Request) (string, error) {
	stream, err := s.engine.Run(ctx, req)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	// Recv has no context; closing the stream is how a cancelled run is
	// unblocked.
	recvDone := make(chan struct{})
	defer close(recvDone)
	go func() {
		select {
		case <-ctx.Done():
			stream.Close()
		case <-recvDone:
		}
	}()

	var out strings.Builder
	for {
		ev, err := stream.Recv()
		if err == io.EOF {
			return out.String(), nil
		}
		if err != nil {
			return out.String(), err
		}

		switch ev.Kind {
		case engine.EventText:
			out.WriteString(ev.Text)
			if err := s.store.AppendTranscript(f.ID, ev.Text); err != nil {
				s.emit(events.Event{
					Type:      events.EventTypeError,
					FeatureID: f.ID,
					Severity:  events.SeverityWarning,
					Message:   fmt.Sprintf("transcript write failed: %v", err),
				})
			}
			s.emit(events.Event{
				Type:      events.EventTypeFeatureProgress,
				FeatureID: f.ID,
				Severity:  events.SeverityInfo,
				TextDelta: ev.Text,
			})
		case engine.EventToolUse:
			s.emit(events.Event{
				Type:      events.EventTypeFeatureProgress,
				FeatureID: f.ID,
				Severity:  events.SeverityInfo,
				ToolName:  ev.ToolName,
			})
		case engine.EventResult:
			if ev.IsError {
				return out.String(), fmt.Errorf("agent reported failure: %s", ev.Subtype)
			}
			if ev.ResultOf != "" && out.Len() == 0 {
				out.WriteString(ev.ResultOf)
			}
		}
	}
}

// finishFailure routes a failed run to the right recovery based on the error
// class. Aborts roll the feature back to its pre-run status; rate limits
// pause the loop and requeue the feature; everything else fails it.
func (s *Scheduler) finishFailure(f *types.Feature, runErr error, aborted bool, r *run) {
	kind := engine.Classify(runErr)
	if aborted || kind == engine.KindAbort {
		restore := types.StatusPending
		if r != nil && r.prevStatus.IsValid() && r.prevStatus != types.StatusInProgress {
			restore = r.prevStatus
		}
		// Rollback, not a forward transition: restore the pre-run status
		// directly.
		_, err := s.store.Update(f.ID, func(f *types.Feature) error {
			f.Status = restore
			f.StartedAt = nil
			return nil
		})
		if err != nil {
			s.emit(events.Event{
				Type:      events.EventTypeError,
				FeatureID: f.ID,
				Severity:  events.SeverityWarning,
				Message:   fmt.Sprintf("failed to restore status after abort: %v", err),
			})
			return
		}
		s.emitStateChange(f.ID, restore)
		return
	}

	if kind == engine.KindRateLimit {
		resumeAt := engine.ResumeDeadline(runErr.Error(), time.Now(), s.configSnapshot().RateLimitBuffer, maxResumeProbe)
		s.mu.Lock()
		if resumeAt.After(s.resumeAt) {
			s.resumeAt = resumeAt
		}
		s.mu.Unlock()

		if err := s.requeue(f.ID); err != nil {
			s.failFeature(f.ID, runErr)
			return
		}
		s.emit(events.Event{
			Type:      events.EventTypeRateLimitWait,
			FeatureID: f.ID,
			Severity:  events.SeverityWarning,
			Message:   fmt.Sprintf("rate limited, resuming around %s", resumeAt.Format(time.RFC3339)),
			ResumeAt:  &resumeAt,
		})
		s.emitStateChange(f.ID, types.StatusPending)
		return
	}

	if kind == engine.KindNetwork {
		// Transient transport failure: requeue and let the next pass retry.
		if err := s.requeue(f.ID); err != nil {
			s.failFeature(f.ID, runErr)
			return
		}
		s.emit(events.Event{
			Type:      events.EventTypeError,
			FeatureID: f.ID,
			Severity:  events.SeverityWarning,
			Message:   fmt.Sprintf("transient failure, requeued: %v", runErr),
		})
		s.emitStateChange(f.ID, types.StatusPending)
		return
	}

	s.failFeature(f.ID, runErr)
}

// requeue returns a feature to the queue after an abort, rate limit or
// transient failure. Like the abort rollback, this is not a forward lifecycle
// transition, so it bypasses the transition table.
func (s *Scheduler) requeue(id string) error {
	_, err := s.store.Update(id, func(f *types.Feature) error {
		f.Status = types.StatusPending
		f.StartedAt = nil
		return nil
	})
	return err
}

func modelFor(f *types.Feature, cfg config.Config) string {
	if f.Model != "" {
		return f.Model
	}
	return cfg.DefaultModel
}
