package planner

import (
	"fmt"
	"strings"

	"github.com/mirahq/mira/internal/types"
)

// PlanSentinel marks the end of a generated plan. Output after it is
// trimmed, which keeps trailing chatter out of the stored plan.
const PlanSentinel = "<!-- PLAN_COMPLETE -->"

const taskFormatInstructions = `Format every task as a checklist line:
- [ ] T001: short description (file: path/to/file) [phase: phase-name]

Number tasks T001, T002, ... in execution order. Keep each task small enough
to finish in one sitting. Group related tasks under the same phase name.`

// PlanPrompt builds the plan-generation prompt for a feature. The depth of
// the requested plan follows the feature's planning mode.
func PlanPrompt(f *types.Feature, projectContext string) string {
	var b strings.Builder

	switch f.PlanningMode {
	case types.PlanModeLite:
		b.WriteString("Write a brief implementation outline for the feature below. ")
		b.WriteString("List the files you expect to touch and the order of changes. ")
		b.WriteString("Keep it under 30 lines.\n\n")
	case types.PlanModeSpec:
		b.WriteString("Write an implementation spec for the feature below. ")
		b.WriteString("Include: goal, approach, acceptance criteria, and a task checklist.\n\n")
		b.WriteString(taskFormatInstructions)
		b.WriteString("\n\n")
	case types.PlanModeFull:
		b.WriteString("Write a full phased implementation spec for the feature below. ")
		b.WriteString("Include: goal, approach, risks, acceptance criteria, and a task ")
		b.WriteString("checklist split into phases that can be reviewed independently.\n\n")
		b.WriteString(taskFormatInstructions)
		b.WriteString("\n\n")
	}

	fmt.Fprintf(&b, "# Feature: %s\n\n", f.Title)
	if f.Description != "" {
		b.WriteString(f.Description)
		b.WriteString("\n\n")
	}
	if projectContext != "" {
		b.WriteString("# Project context\n\n")
		b.WriteString(projectContext)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "End your plan with the exact line:\n%s\n", PlanSentinel)
	return b.String()
}

// RevisePrompt builds the prompt for regenerating a rejected plan. All
// accumulated feedback rounds are included so later revisions don't undo
// earlier fixes.
func RevisePrompt(f *types.Feature, projectContext string) string {
	var b strings.Builder
	b.WriteString("Your previous plan for this feature was rejected. ")
	b.WriteString("Revise it, addressing all reviewer feedback below.\n\n")
	b.WriteString("# Previous plan\n\n")
	if f.Plan != nil {
		b.WriteString(f.Plan.Content)
	}
	b.WriteString("\n\n# Reviewer feedback\n\n")
	if f.Plan != nil {
		for i, fb := range f.Plan.Feedback {
			fmt.Fprintf(&b, "%d. %s\n", i+1, fb)
		}
	}
	b.WriteString("\n")
	b.WriteString(PlanPrompt(f, projectContext))
	return b.String()
}

// ImplementPrompt builds the implementation prompt for a feature. When the
// feature has an approved plan the agent is told to follow it.
func ImplementPrompt(f *types.Feature, projectContext string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Implement the following feature.\n\n# Feature: %s\n\n", f.Title)
	if f.Description != "" {
		b.WriteString(f.Description)
		b.WriteString("\n\n")
	}
	if f.Plan != nil && f.Plan.Status == types.PlanStatusApproved {
		b.WriteString("# Approved plan\n\nFollow this plan:\n\n")
		b.WriteString(f.Plan.Content)
		b.WriteString("\n\n")
	}
	if projectContext != "" {
		b.WriteString("# Project context\n\n")
		b.WriteString(projectContext)
		b.WriteString("\n\n")
	}
	b.WriteString("Run the project's tests before declaring the work done. ")
	b.WriteString("Commit your changes with a descriptive message.\n")
	return b.String()
}

// TaskPrompt builds the prompt for one task of a phased plan. The approved
// plan rides along for overall context, and a window of recently completed
// and upcoming tasks keeps the agent oriented within it.
func TaskPrompt(f *types.Feature, taskIdx int, projectContext string) string {
	tasks := f.Plan.Tasks
	task := tasks[taskIdx]

	var b strings.Builder
	fmt.Fprintf(&b, "You are implementing feature %q one task at a time.\n\n", f.Title)

	if f.Plan.Content != "" {
		b.WriteString("# Approved plan\n\n")
		b.WriteString(f.Plan.Content)
		b.WriteString("\n\n")
	}

	const lookBack, lookAhead = 3, 2
	if start := taskIdx - lookBack; taskIdx > 0 {
		if start < 0 {
			start = 0
		}
		b.WriteString("# Recently completed\n\n")
		for _, done := range tasks[start:taskIdx] {
			fmt.Fprintf(&b, "- [x] %s: %s\n", done.ID, done.Description)
		}
		b.WriteString("\n")
	}

	b.WriteString("# Current task\n\n")
	fmt.Fprintf(&b, "%s: %s", task.ID, task.Description)
	if task.File != "" {
		fmt.Fprintf(&b, " (file: %s)", task.File)
	}
	b.WriteString("\n\n")

	if end := taskIdx + 1 + lookAhead; taskIdx+1 < len(tasks) {
		if end > len(tasks) {
			end = len(tasks)
		}
		b.WriteString("# Coming up next (do NOT start these)\n\n")
		for _, next := range tasks[taskIdx+1 : end] {
			fmt.Fprintf(&b, "- [ ] %s: %s\n", next.ID, next.Description)
		}
		b.WriteString("\n")
	}

	if projectContext != "" {
		b.WriteString("# Project context\n\n")
		b.WriteString(projectContext)
		b.WriteString("\n\n")
	}
	b.WriteString("Complete only the current task, then stop.\n")
	return b.String()
}

// ContinuePrompt builds the recovery prompt used when a run resumes after a
// restart or rate-limit wait: the agent inspects what was already done and
// carries on rather than starting over.
func ContinuePrompt(f *types.Feature, projectContext string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You were implementing feature %q but the previous session was interrupted.\n\n", f.Title)
	b.WriteString("Inspect the working tree and git log to see what was already done, ")
	b.WriteString("then continue from where the work stopped. Do not redo completed work.\n\n")
	if f.Plan != nil && f.Plan.Status == types.PlanStatusApproved {
		b.WriteString("# Approved plan\n\n")
		b.WriteString(f.Plan.Content)
		b.WriteString("\n\n")
	}
	if f.Description != "" {
		b.WriteString("# Feature description\n\n")
		b.WriteString(f.Description)
		b.WriteString("\n\n")
	}
	if projectContext != "" {
		b.WriteString("# Project context\n\n")
		b.WriteString(projectContext)
		b.WriteString("\n\n")
	}
	return b.String()
}
