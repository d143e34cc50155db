package types

import (
	"fmt"
	"time"
)

// FeatureStatus represents the current state of a feature in the scheduler
// lifecycle.
type FeatureStatus string

const (
	StatusBacklog         FeatureStatus = "backlog"
	StatusPending         FeatureStatus = "pending"
	StatusInProgress      FeatureStatus = "in_progress"
	StatusWaitingApproval FeatureStatus = "waiting_approval"
	StatusCompleted       FeatureStatus = "completed"
	StatusFailed          FeatureStatus = "failed"
)

// IsValid checks if the status value is valid
func (s FeatureStatus) IsValid() bool {
	switch s {
	case StatusBacklog, StatusPending, StatusInProgress, StatusWaitingApproval,
		StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// ValidTransitions defines the valid transitions of the feature lifecycle
// state machine.
//
// State Machine Diagram:
//
//	backlog → pending → in_progress → completed
//	              ↓          ↕  ↓
//	           failed ← waiting_approval
//	              ↓
//	       pending | backlog
//
// Valid transitions:
//   - backlog → pending (feature queued for execution)
//   - pending → in_progress (scheduler launched the feature)
//   - pending → failed (setup error before launch)
//   - in_progress → waiting_approval (plan generated, approval gate)
//   - in_progress → completed (agent finished successfully)
//   - in_progress → failed (agent error)
//   - waiting_approval → in_progress (plan approved, resuming)
//   - waiting_approval → failed (rejected terminally or errored)
//   - failed → pending (manual retry)
//   - failed → backlog (sent back to the backlog)
//
// completed is terminal.
func (s FeatureStatus) ValidTransitions() []FeatureStatus {
	switch s {
	case StatusBacklog:
		return []FeatureStatus{StatusPending}
	case StatusPending:
		return []FeatureStatus{StatusInProgress, StatusFailed}
	case StatusInProgress:
		return []FeatureStatus{StatusWaitingApproval, StatusCompleted, StatusFailed}
	case StatusWaitingApproval:
		return []FeatureStatus{StatusInProgress, StatusFailed}
	case StatusFailed:
		return []FeatureStatus{StatusPending, StatusBacklog}
	case StatusCompleted:
		return []FeatureStatus{} // Terminal state
	default:
		return []FeatureStatus{}
	}
}

// CanTransitionTo checks if a transition from this status to the target is valid
func (s FeatureStatus) CanTransitionTo(target FeatureStatus) bool {
	for _, valid := range s.ValidTransitions() {
		if valid == target {
			return true
		}
	}
	return false
}

// IsValidTransition reports whether from → to is a legal lifecycle transition.
func IsValidTransition(from, to FeatureStatus) bool {
	return from.CanTransitionTo(to)
}

// PlanningMode controls how much up-front planning a feature gets before
// implementation.
type PlanningMode string

const (
	// PlanModeSkip runs the implementation prompt directly with no plan phase
	PlanModeSkip PlanningMode = "skip"
	// PlanModeLite generates a short outline before implementing
	PlanModeLite PlanningMode = "lite"
	// PlanModeSpec generates a specification with acceptance criteria
	PlanModeSpec PlanningMode = "spec"
	// PlanModeFull generates a phased specification
	PlanModeFull PlanningMode = "full"
)

// IsValid checks if the planning mode value is valid
func (m PlanningMode) IsValid() bool {
	switch m {
	case PlanModeSkip, PlanModeLite, PlanModeSpec, PlanModeFull:
		return true
	}
	return false
}

// PlanStatus represents the state of a generated plan
type PlanStatus string

const (
	PlanStatusPending    PlanStatus = "pending"
	PlanStatusGenerating PlanStatus = "generating"
	PlanStatusGenerated  PlanStatus = "generated"
	PlanStatusApproved   PlanStatus = "approved"
	PlanStatusRejected   PlanStatus = "rejected"
)

// IsValid checks if the plan status value is valid
func (s PlanStatus) IsValid() bool {
	switch s {
	case PlanStatusPending, PlanStatusGenerating, PlanStatusGenerated,
		PlanStatusApproved, PlanStatusRejected:
		return true
	}
	return false
}

// TaskStatus represents the state of a single parsed plan task
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// IsValid checks if the task status value is valid
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskPending, TaskInProgress, TaskCompleted, TaskFailed:
		return true
	}
	return false
}

// ParsedTask is a unit of work extracted from generated plan content.
// Tasks form an ordered sequence; phase groups are contiguous runs that share
// a phase label.
type ParsedTask struct {
	ID          string     `json:"id"` // T### sequential
	Description string     `json:"description"`
	File        string     `json:"file,omitempty"`
	Phase       string     `json:"phase,omitempty"`
	Status      TaskStatus `json:"status"`
}

// PlanSpec is the generated plan attached to a feature.
// Version only increases; an approved plan is never mutated except to stamp
// the approval time.
type PlanSpec struct {
	Status      PlanStatus   `json:"status"`
	Content     string       `json:"content,omitempty"`
	Version     int          `json:"version"`
	GeneratedAt *time.Time   `json:"generated_at,omitempty"`
	ApprovedAt  *time.Time   `json:"approved_at,omitempty"`
	Feedback    []string     `json:"feedback,omitempty"` // rejection feedback, oldest first
	Tasks       []ParsedTask `json:"tasks,omitempty"`
}

// Feature represents a unit of schedulable, plannable, agent-executed work.
// ID and CreatedAt are immutable after creation; UpdatedAt increases on every
// mutation.
type Feature struct {
	ID              string        `json:"id"`
	Title           string        `json:"title"`
	Description     string        `json:"description,omitempty"`
	Status          FeatureStatus `json:"status"`
	Branch          string        `json:"branch,omitempty"`
	Model           string        `json:"model,omitempty"`
	Images          []string      `json:"images,omitempty"`
	PlanningMode    PlanningMode  `json:"planning_mode"`
	RequireApproval bool          `json:"require_approval"`
	Plan            *PlanSpec     `json:"plan,omitempty"`
	WorktreePath    string        `json:"worktree_path,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	StartedAt       *time.Time    `json:"started_at,omitempty"`
	Error           string        `json:"error,omitempty"`
	Summary         string        `json:"summary,omitempty"`
}

// Validate checks if the feature has valid field values.
// A record missing id or title is unusable by the scheduler.
func (f *Feature) Validate() error {
	if f.ID == "" {
		return fmt.Errorf("id is required")
	}
	if f.Title == "" {
		return fmt.Errorf("title is required")
	}
	if !f.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", f.Status)
	}
	if f.PlanningMode != "" && !f.PlanningMode.IsValid() {
		return fmt.Errorf("invalid planning mode: %s", f.PlanningMode)
	}
	if f.Plan != nil && !f.Plan.Status.IsValid() {
		return fmt.Errorf("invalid plan status: %s", f.Plan.Status)
	}
	return nil
}

// Worktree is a persisted isolation record: a branch-scoped working directory
// associated with at most one feature. At most one worktree exists per
// (project, branch) pair.
type Worktree struct {
	Path        string    `json:"path"`
	ProjectPath string    `json:"project_path"`
	Branch      string    `json:"branch"`
	FeatureID   string    `json:"feature_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
