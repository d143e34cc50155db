package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFeatureStatusIsValid(t *testing.T) {
	valid := []FeatureStatus{
		StatusBacklog, StatusPending, StatusInProgress,
		StatusWaitingApproval, StatusCompleted, StatusFailed,
	}
	for _, s := range valid {
		if !s.IsValid() {
			t.Errorf("expected %s to be valid", s)
		}
	}
	if FeatureStatus("bogus").IsValid() {
		t.Error("expected bogus status to be invalid")
	}
	if FeatureStatus("").IsValid() {
		t.Error("expected empty status to be invalid")
	}
}

// TestTransitionTableTotality verifies that for every (from, to) pair the
// transition predicate agrees with the lifecycle table, and that every pair
// not in the table is rejected.
func TestTransitionTableTotality(t *testing.T) {
	all := []FeatureStatus{
		StatusBacklog, StatusPending, StatusInProgress,
		StatusWaitingApproval, StatusCompleted, StatusFailed,
	}

	allowed := map[FeatureStatus][]FeatureStatus{
		StatusBacklog:         {StatusPending},
		StatusPending:         {StatusInProgress, StatusFailed},
		StatusInProgress:      {StatusWaitingApproval, StatusCompleted, StatusFailed},
		StatusWaitingApproval: {StatusInProgress, StatusFailed},
		StatusFailed:          {StatusPending, StatusBacklog},
		StatusCompleted:       {},
	}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, a := range allowed[from] {
				if a == to {
					want = true
				}
			}
			got := IsValidTransition(from, to)
			if got != want {
				t.Errorf("IsValidTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestCompletedIsTerminal(t *testing.T) {
	assert.Empty(t, StatusCompleted.ValidTransitions())
}

func TestFeatureValidate(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		feature Feature
		wantErr bool
	}{
		{
			name: "valid feature",
			feature: Feature{
				ID:           "01234-abcd",
				Title:        "Add dark mode",
				Status:       StatusBacklog,
				PlanningMode: PlanModeSpec,
				CreatedAt:    now,
				UpdatedAt:    now,
			},
			wantErr: false,
		},
		{
			name: "missing id",
			feature: Feature{
				Title:  "Add dark mode",
				Status: StatusBacklog,
			},
			wantErr: true,
		},
		{
			name: "missing title",
			feature: Feature{
				ID:     "01234-abcd",
				Status: StatusBacklog,
			},
			wantErr: true,
		},
		{
			name: "invalid status",
			feature: Feature{
				ID:     "01234-abcd",
				Title:  "Add dark mode",
				Status: FeatureStatus("halted"),
			},
			wantErr: true,
		},
		{
			name: "invalid planning mode",
			feature: Feature{
				ID:           "01234-abcd",
				Title:        "Add dark mode",
				Status:       StatusBacklog,
				PlanningMode: PlanningMode("yolo"),
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.feature.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPlanningModeIsValid(t *testing.T) {
	for _, m := range []PlanningMode{PlanModeSkip, PlanModeLite, PlanModeSpec, PlanModeFull} {
		assert.True(t, m.IsValid(), "mode %s", m)
	}
	assert.False(t, PlanningMode("detailed").IsValid())
}
