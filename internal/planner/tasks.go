package planner

import (
	"regexp"
	"strings"

	"github.com/mirahq/mira/internal/types"
)

// taskLineRe matches checklist lines of the form:
//
//	- [ ] T001: add login handler (file: internal/auth/login.go) [phase: core]
//
// The file and phase annotations are optional; the checkbox may be checked.
var taskLineRe = regexp.MustCompile(`^\s*-\s*\[([ xX])\]\s*(T\d+):\s*(.+?)\s*$`)

var (
	fileAnnotationRe  = regexp.MustCompile(`\s*\(file:\s*([^)]+)\)`)
	phaseAnnotationRe = regexp.MustCompile(`\s*\[phase:\s*([^\]]+)\]`)
)

// ParseTasks extracts the task checklist from plan text. Lines that don't
// match the task format are ignored, so prose around the checklist is
// harmless. Checked boxes come back as completed tasks, which lets a
// re-parsed plan preserve progress.
func ParseTasks(planText string) []types.ParsedTask {
	var tasks []types.ParsedTask
	for _, line := range strings.Split(planText, "\n") {
		m := taskLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		task := types.ParsedTask{
			ID:     m[2],
			Status: types.TaskPending,
		}
		if m[1] != " " {
			task.Status = types.TaskCompleted
		}

		desc := m[3]
		if fm := fileAnnotationRe.FindStringSubmatch(desc); fm != nil {
			task.File = strings.TrimSpace(fm[1])
			desc = fileAnnotationRe.ReplaceAllString(desc, "")
		}
		if pm := phaseAnnotationRe.FindStringSubmatch(desc); pm != nil {
			task.Phase = strings.TrimSpace(pm[1])
			desc = phaseAnnotationRe.ReplaceAllString(desc, "")
		}
		task.Description = strings.TrimSpace(desc)

		tasks = append(tasks, task)
	}
	return tasks
}

// Phases returns the distinct phase names in task order.
func Phases(tasks []types.ParsedTask) []string {
	var out []string
	seen := map[string]bool{}
	for _, t := range tasks {
		if t.Phase == "" || seen[t.Phase] {
			continue
		}
		seen[t.Phase] = true
		out = append(out, t.Phase)
	}
	return out
}

// PhaseComplete reports whether finishing the task at idx completes its
// phase, i.e. no later task shares that phase. Used to emit phase boundary
// events.
func PhaseComplete(tasks []types.ParsedTask, idx int) bool {
	phase := tasks[idx].Phase
	if phase == "" {
		return false
	}
	for _, t := range tasks[idx+1:] {
		if t.Phase == phase {
			return false
		}
	}
	return true
}

// TruncateAtSentinel cuts plan text at the completion sentinel, dropping the
// sentinel and anything after it. Text without a sentinel is returned as-is.
func TruncateAtSentinel(text string) string {
	if idx := strings.Index(text, PlanSentinel); idx >= 0 {
		return strings.TrimRight(text[:idx], " \t\n")
	}
	return strings.TrimRight(text, " \t\n")
}

// Summarize returns the head of text capped at limit bytes, cut at a line
// boundary where possible. Used to store a short summary of long agent
// output on the feature record.
func Summarize(text string, limit int) string {
	text = strings.TrimSpace(text)
	if len(text) <= limit {
		return text
	}
	head := text[:limit]
	if idx := strings.LastIndexByte(head, '\n'); idx > limit/2 {
		head = head[:idx]
	}
	return strings.TrimRight(head, " \t\n") + "\n[truncated]"
}
