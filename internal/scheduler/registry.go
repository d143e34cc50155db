package scheduler

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/mirahq/mira/internal/config"
	"github.com/mirahq/mira/internal/deps"
	"github.com/mirahq/mira/internal/engine"
	"github.com/mirahq/mira/internal/events"
	"github.com/mirahq/mira/internal/store"
	"github.com/mirahq/mira/internal/types"
	"github.com/mirahq/mira/internal/worktree"
)

// Registry owns one Scheduler per project path. Start is idempotent: calling
// it again for a running project merges the config into the live loop.
type Registry struct {
	mu         sync.Mutex
	schedulers map[string]*Scheduler
	engine     engine.Engine
	sink       events.Sink
}

// NewRegistry creates a Registry sharing one engine and event sink across
// all projects.
func NewRegistry(eng engine.Engine, sink events.Sink) *Registry {
	return &Registry{
		schedulers: make(map[string]*Scheduler),
		engine:     eng,
		sink:       sink,
	}
}

// Start ensures a running scheduler for the project. The project path is
// normalized to its absolute form so two spellings of the same directory
// share one loop.
func (r *Registry) Start(projectPath string, cfg config.Config) (*Scheduler, error) {
	abs, err := filepath.Abs(projectPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project path: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.schedulers[abs]; ok {
		if err := s.Start(cfg); err != nil {
			return nil, err
		}
		return s, nil
	}

	st, err := store.New(abs)
	if err != nil {
		return nil, err
	}
	graph, err := deps.Open(st.Root())
	if err != nil {
		return nil, err
	}
	wt, err := worktree.NewProvider(abs, st.Root(), cfg.WorktreeRoot)
	if err != nil {
		graph.Close()
		return nil, err
	}
	// Dropping a worktree must also drop the feature's pointer to it, or the
	// record keeps naming a directory that no longer exists.
	wt.SetReferenceClearer(func(featureID string) error {
		_, err := st.Update(featureID, func(f *types.Feature) error {
			f.WorktreePath = ""
			return nil
		})
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	})

	s, err := New(Options{
		ProjectPath: abs,
		Config:      cfg,
		Store:       st,
		Graph:       graph,
		Worktrees:   wt,
		Engine:      r.engine,
		Sink:        r.sink,
	})
	if err != nil {
		graph.Close()
		wt.Close()
		return nil, err
	}
	if err := s.Start(cfg); err != nil {
		graph.Close()
		wt.Close()
		return nil, err
	}
	r.schedulers[abs] = s
	return s, nil
}

// Get returns the scheduler for a project, if one exists.
func (r *Registry) Get(projectPath string) (*Scheduler, bool) {
	abs, err := filepath.Abs(projectPath)
	if err != nil {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schedulers[abs]
	return s, ok
}

// Stop halts the scheduler for a project. Unknown projects are an error.
func (r *Registry) Stop(projectPath string) error {
	s, ok := r.Get(projectPath)
	if !ok {
		return fmt.Errorf("no scheduler for project %s", projectPath)
	}
	return s.Stop()
}

// StopAll halts every running scheduler. This is the process shutdown path,
// so in-flight features are aborted first; Stop alone would wait for them to
// finish. Errors are collected, not short-circuited, so one stuck loop
// doesn't leave the rest running.
func (r *Registry) StopAll() error {
	r.mu.Lock()
	all := make([]*Scheduler, 0, len(r.schedulers))
	for _, s := range r.schedulers {
		all = append(all, s)
	}
	r.mu.Unlock()

	var firstErr error
	for _, s := range all {
		if s.Running() {
			s.StopAllFeatures()
			if err := s.Stop(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
