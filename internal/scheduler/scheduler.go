// Package scheduler runs the per-project feature loop.
//
// Each poll pass looks for pending features whose dependencies are satisfied
// and starts them, up to the configured concurrency ceiling. Runs go through
// plan, approval and implementation phases; failures are classified so rate
// limits pause the loop instead of burning features.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mirahq/mira/internal/config"
	"github.com/mirahq/mira/internal/deps"
	"github.com/mirahq/mira/internal/engine"
	"github.com/mirahq/mira/internal/events"
	"github.com/mirahq/mira/internal/planner"
	"github.com/mirahq/mira/internal/store"
	"github.com/mirahq/mira/internal/types"
)

// maxResumeProbe caps how long the loop sleeps on a rate limit before
// probing again, so a wrong or missing reset time can't park the loop for
// hours.
const maxResumeProbe = 30 * time.Minute

// Scheduler drives one project's feature loop.
type Scheduler struct {
	projectPath string

	store     *store.Store
	graph     *deps.Graph
	worktrees worktreeProvider
	engine    engine.Engine
	planner   *planner.Planner
	hub       *planner.ApprovalHub
	sink      events.Sink

	mu      sync.Mutex
	cfg     config.Config
	running bool
	polling bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	runs     map[string]*run
	resumeAt time.Time
	// runWG tracks execute goroutines so Stop can wait for them to unwind.
	runWG sync.WaitGroup
}

// run tracks one executing feature.
type run struct {
	cancel context.CancelFunc
	// prevStatus is restored when the run is aborted by the operator.
	prevStatus types.FeatureStatus
	// aborted marks an operator stop so the exit path can distinguish it
	// from an agent-side cancellation.
	aborted bool
}

// worktreeProvider is the subset of the worktree package the scheduler uses.
// Narrowed to an interface so tests can run without a git repository.
type worktreeProvider = interface {
	Create(ctx context.Context, branch, featureID string) (*types.Worktree, error)
	Delete(ctx context.Context, branch string) error
}

// Options wires a Scheduler's collaborators.
type Options struct {
	ProjectPath string
	Config      config.Config
	Store       *store.Store
	Graph       *deps.Graph
	Worktrees   worktreeProvider
	Engine      engine.Engine
	Sink        events.Sink
}

// New creates a Scheduler. The loop is not started.
func New(opts Options) (*Scheduler, error) {
	if opts.ProjectPath == "" {
		return nil, fmt.Errorf("project path is required")
	}
	if opts.Store == nil || opts.Graph == nil || opts.Engine == nil {
		return nil, fmt.Errorf("store, graph and engine are required")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	sink := opts.Sink
	if sink == nil {
		sink = events.NopSink{}
	}
	return &Scheduler{
		projectPath: opts.ProjectPath,
		store:       opts.Store,
		graph:       opts.Graph,
		worktrees:   opts.Worktrees,
		engine:      opts.Engine,
		planner:     planner.New(opts.Engine, sink),
		hub:         planner.NewApprovalHub(),
		sink:        sink,
		cfg:         opts.Config,
		runs:        make(map[string]*run),
	}, nil
}

// Start launches the poll loop. Starting an already-running scheduler merges
// the new config into the current one and returns without error.
func (s *Scheduler) Start(cfg config.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.cfg.Merge(cfg)
		return nil
	}

	s.cfg.Merge(cfg)
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.loop()

	s.emit(events.Event{
		Type:     events.EventTypeStarted,
		Severity: events.SeverityInfo,
		Message:  fmt.Sprintf("scheduler started (poll %v, max %d concurrent)", s.cfg.PollInterval, s.cfg.MaxConcurrent),
	})
	return nil
}

// Stop disables polling and blocks until in-flight features finish naturally.
// Running features are not cancelled; they complete or fail on their own.
// Callers that want them interrupted call StopAllFeatures first.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is not running")
	}
	s.running = false
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()

	<-done
	s.runWG.Wait()
	s.emit(events.Event{
		Type:     events.EventTypeStopped,
		Severity: events.SeverityInfo,
		Message:  "scheduler stopped",
	})
	return nil
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) configSnapshot() config.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// ActiveRuns returns the ids of features currently executing.
func (s *Scheduler) ActiveRuns() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.runs))
	for id := range s.runs {
		out = append(out, id)
	}
	return out
}

func (s *Scheduler) loop() {
	defer close(s.doneCh)

	s.mu.Lock()
	interval := s.cfg.PollInterval
	s.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// First pass immediately so startup work doesn't wait a full tick.
	s.pollPass()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.pollPass()
		}
	}
}

// pollPass runs one scheduling pass. Passes never overlap: if the previous
// one is still going (slow disk, many features) the tick is skipped.
func (s *Scheduler) pollPass() {
	s.mu.Lock()
	if s.polling || !s.running {
		s.mu.Unlock()
		return
	}
	// Honor a rate-limit pause, but never sleep past the probe cap: if the
	// deadline came from a bad parse we still probe within 30 minutes.
	if !s.resumeAt.IsZero() {
		now := time.Now()
		if now.Before(s.resumeAt) && time.Until(s.resumeAt) < maxResumeProbe {
			s.mu.Unlock()
			return
		}
		if now.Before(s.resumeAt) {
			// Deadline is far out; probe anyway once per cap window.
			s.resumeAt = now.Add(maxResumeProbe)
		} else {
			s.resumeAt = time.Time{}
		}
	}
	s.polling = true
	capacity := s.cfg.MaxConcurrent - len(s.runs)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.polling = false
		s.mu.Unlock()
	}()

	if capacity <= 0 {
		return
	}

	eligible, err := s.eligibleFeatures()
	if err != nil {
		s.emit(events.Event{
			Type:     events.EventTypeError,
			Severity: events.SeverityError,
			Message:  fmt.Sprintf("poll pass failed: %v", err),
		})
		return
	}
	if len(eligible) == 0 {
		s.emit(events.Event{Type: events.EventTypeIdle, Severity: events.SeverityInfo})
		return
	}

	// One launch per pass: the first eligible feature starts, the rest wait
	// for the next tick.
	for _, f := range eligible {
		if s.launch(f) {
			return
		}
	}
}

// eligibleFeatures returns startable features in creation order: pending
// features whose dependencies are all completed, plus waiting_approval
// features whose plan decision already landed (the restart recovery path).
// A pending feature with a failed dependency is failed immediately.
func (s *Scheduler) eligibleFeatures() ([]*types.Feature, error) {
	all, err := s.store.List()
	if err != nil {
		return nil, err
	}

	lookup := storeStatusLookup{s.store}
	var eligible []*types.Feature
	for _, f := range all {
		if s.isRunning(f.ID) {
			continue
		}
		switch f.Status {
		case types.StatusPending:
			blocker, err := s.graph.FirstBlocker(f.ID, lookup)
			if err != nil {
				return nil, err
			}
			if blocker == nil {
				eligible = append(eligible, f)
				continue
			}
			if blocker.Failed {
				s.failFeature(f.ID, fmt.Errorf("dependency %s failed", blocker.DepID))
			}
		case types.StatusWaitingApproval:
			if f.Plan != nil && (f.Plan.Status == types.PlanStatusApproved || f.Plan.Status == types.PlanStatusRejected) {
				eligible = append(eligible, f)
			}
		}
	}
	return eligible, nil
}

func (s *Scheduler) isRunning(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.runs[id]
	return ok
}

// launch starts a feature run goroutine. Returns false if the feature could
// not be transitioned into execution.
func (s *Scheduler) launch(f *types.Feature) bool {
	prevStatus := f.Status

	updated, err := s.store.Update(f.ID, func(f *types.Feature) error {
		if !f.Status.CanTransitionTo(types.StatusInProgress) {
			return fmt.Errorf("feature %s is %s, cannot start", f.ID, f.Status)
		}
		f.Status = types.StatusInProgress
		now := time.Now().UTC()
		f.StartedAt = &now
		f.Error = ""
		return nil
	})
	if err != nil {
		s.emit(events.Event{
			Type:      events.EventTypeError,
			FeatureID: f.ID,
			Severity:  events.SeverityWarning,
			Message:   fmt.Sprintf("failed to start feature: %v", err),
		})
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.runs[f.ID] = &run{cancel: cancel, prevStatus: prevStatus}
	s.mu.Unlock()

	s.emit(events.Event{
		Type:      events.EventTypeFeatureStarted,
		FeatureID: f.ID,
		Severity:  events.SeverityInfo,
		Message:   updated.Title,
	})
	s.emitStateChange(updated.ID, types.StatusInProgress)

	s.runWG.Add(1)
	go func() {
		defer s.runWG.Done()
		s.execute(ctx, updated, prevStatus)
	}()
	return true
}

// StopFeature aborts a running feature. The feature returns to its pre-run
// status rather than failed: an operator stop is not a failure.
func (s *Scheduler) StopFeature(id string) error {
	s.mu.Lock()
	r, ok := s.runs[id]
	if ok {
		r.aborted = true
		r.cancel()
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("feature %s is not running", id)
	}
	return nil
}

// StopAllFeatures aborts every running feature without stopping the poll
// loop. Each feature returns to its pre-run status.
func (s *Scheduler) StopAllFeatures() {
	s.mu.Lock()
	for _, r := range s.runs {
		r.aborted = true
		r.cancel()
	}
	s.mu.Unlock()
}

// Approve delivers a plan approval for a feature. If no run is waiting (the
// scheduler restarted since the plan was generated) the decision is persisted
// and the feature is picked up on the next poll pass.
func (s *Scheduler) Approve(id string) error {
	return s.decide(id, planner.Decision{Approved: true})
}

// Reject delivers a plan rejection with feedback. The run regenerates the
// plan with the feedback folded in.
func (s *Scheduler) Reject(id, feedback string) error {
	return s.decide(id, planner.Decision{Feedback: feedback})
}

func (s *Scheduler) decide(id string, d planner.Decision) error {
	err := s.hub.Resolve(id, d)
	if err == nil {
		return nil
	}
	if !isNoWaiter(err) {
		return err
	}

	// Restart recovery: no run is waiting, so persist the decision directly.
	_, err = s.store.Update(id, func(f *types.Feature) error {
		if f.Status != types.StatusWaitingApproval {
			return fmt.Errorf("feature %s is %s, not awaiting approval", f.ID, f.Status)
		}
		return planner.ApplyDecision(f, d)
	})
	return err
}

func isNoWaiter(err error) bool {
	return errors.Is(err, planner.ErrNoWaiter)
}

// failFeature marks a feature failed with the given reason.
func (s *Scheduler) failFeature(id string, reason error) {
	_, err := s.store.Update(id, func(f *types.Feature) error {
		if !f.Status.CanTransitionTo(types.StatusFailed) {
			return fmt.Errorf("feature %s is %s, cannot fail", f.ID, f.Status)
		}
		f.Status = types.StatusFailed
		f.Error = reason.Error()
		return nil
	})
	if err != nil {
		s.emit(events.Event{
			Type:      events.EventTypeError,
			FeatureID: id,
			Severity:  events.SeverityWarning,
			Message:   fmt.Sprintf("failed to record failure: %v", err),
		})
		return
	}
	s.emit(events.Event{
		Type:      events.EventTypeFeatureFailed,
		FeatureID: id,
		Severity:  events.SeverityError,
		Message:   reason.Error(),
	})
	s.emitStateChange(id, types.StatusFailed)
}

func (s *Scheduler) emit(ev events.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	ev.Project = s.projectPath
	s.sink.Emit(ev)
}

func (s *Scheduler) emitStateChange(id string, status types.FeatureStatus) {
	s.emit(events.Event{
		Type:      events.EventTypeStateChanged,
		FeatureID: id,
		Severity:  events.SeverityInfo,
		Status:    status,
	})
}

// storeStatusLookup adapts the store to the dependency graph's lookup
// interface. A dependency with no record blocks its dependents; it must not
// error out the whole eligibility scan.
type storeStatusLookup struct {
	s *store.Store
}

func (l storeStatusLookup) Status(id string) (types.FeatureStatus, error) {
	f, err := l.s.Get(id)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return f.Status, nil
}
