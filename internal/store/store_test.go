package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirahq/mira/internal/types"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	return s
}

func newFeature(title string) *types.Feature {
	return &types.Feature{
		Title:           title,
		Status:          types.StatusBacklog,
		PlanningMode:    types.PlanModeLite,
		RequireApproval: true,
	}
}

func TestCreateAndGet(t *testing.T) {
	s := setupStore(t)

	f := newFeature("add login page")
	require.NoError(t, s.Create(f))
	assert.NotEmpty(t, f.ID)
	assert.False(t, f.CreatedAt.IsZero())

	got, err := s.Get(f.ID)
	require.NoError(t, err)
	assert.Equal(t, "add login page", got.Title)
	assert.Equal(t, types.StatusBacklog, got.Status)
}

func TestCreateRequiresTitle(t *testing.T) {
	s := setupStore(t)
	err := s.Create(&types.Feature{Status: types.StatusBacklog})
	assert.Error(t, err)
}

func TestGetMissing(t *testing.T) {
	s := setupStore(t)
	_, err := s.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetInvalidRecordIsNotFound(t *testing.T) {
	s := setupStore(t)
	f := newFeature("soon to be mangled")
	require.NoError(t, s.Create(f))

	// Damage the record on disk. A feature without a title fails validation
	// and must read back as absent, not as a partial record.
	path := filepath.Join(s.featureDir(f.ID), recordFile)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	mangled := []byte(strings.Replace(string(data), "soon to be mangled", "", 1))
	require.NoError(t, os.WriteFile(path, mangled, 0644))

	_, err = s.Get(f.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewIDSortsByCreationTime(t *testing.T) {
	a := NewID()
	time.Sleep(2 * time.Millisecond)
	b := NewID()
	assert.Less(t, a, b)
}

func TestUpdate(t *testing.T) {
	s := setupStore(t)
	f := newFeature("refactor auth")
	require.NoError(t, s.Create(f))

	updated, err := s.Update(f.ID, func(f *types.Feature) error {
		f.Description = "use middleware"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "use middleware", updated.Description)

	got, err := s.Get(f.ID)
	require.NoError(t, err)
	assert.Equal(t, "use middleware", got.Description)
}

func TestSetStatusEnforcesTransitions(t *testing.T) {
	s := setupStore(t)
	f := newFeature("feature")
	require.NoError(t, s.Create(f))

	_, err := s.SetStatus(f.ID, types.StatusPending)
	require.NoError(t, err)

	// backlog is not reachable from pending.
	_, err = s.SetStatus(f.ID, types.StatusCompleted)
	assert.Error(t, err)

	got, err := s.Get(f.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, got.Status)
}

func TestDelete(t *testing.T) {
	s := setupStore(t)
	f := newFeature("to delete")
	require.NoError(t, s.Create(f))
	require.NoError(t, s.AppendTranscript(f.ID, "some output"))

	require.NoError(t, s.Delete(f.ID))
	_, err := s.Get(f.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.Delete(f.ID), ErrNotFound)
}

func TestListOrderedByCreation(t *testing.T) {
	s := setupStore(t)
	var ids []string
	for _, title := range []string{"first", "second", "third"} {
		f := newFeature(title)
		require.NoError(t, s.Create(f))
		ids = append(ids, f.ID)
		time.Sleep(2 * time.Millisecond)
	}

	features, err := s.List()
	require.NoError(t, err)
	require.Len(t, features, 3)
	for i, f := range features {
		assert.Equal(t, ids[i], f.ID)
	}
}

func TestListSkipsCorruptRecords(t *testing.T) {
	s := setupStore(t)
	f := newFeature("good")
	require.NoError(t, s.Create(f))

	// A directory with garbage where the record should be.
	bad := filepath.Join(s.Root(), "features", "bad-id")
	require.NoError(t, os.MkdirAll(bad, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(bad, "feature.json"), []byte("{broken"), 0644))

	features, err := s.List()
	require.NoError(t, err)
	require.Len(t, features, 1)
	assert.Equal(t, f.ID, features[0].ID)
}

func TestListByStatus(t *testing.T) {
	s := setupStore(t)
	a := newFeature("a")
	require.NoError(t, s.Create(a))
	b := newFeature("b")
	require.NoError(t, s.Create(b))
	_, err := s.SetStatus(b.ID, types.StatusPending)
	require.NoError(t, err)

	pending, err := s.ListByStatus(types.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, b.ID, pending[0].ID)
}

func TestTranscript(t *testing.T) {
	s := setupStore(t)
	f := newFeature("with transcript")
	require.NoError(t, s.Create(f))

	text, err := s.ReadTranscript(f.ID)
	require.NoError(t, err)
	assert.Empty(t, text)

	require.NoError(t, s.AppendTranscript(f.ID, "line one\n"))
	require.NoError(t, s.AppendTranscript(f.ID, "line two\n"))

	text, err = s.ReadTranscript(f.ID)
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\n", text)

	require.NoError(t, s.ReplaceTranscript(f.ID, "fresh run\n"))
	text, err = s.ReadTranscript(f.ID)
	require.NoError(t, err)
	assert.Equal(t, "fresh run\n", text)
}

func TestTranscriptMissingFeature(t *testing.T) {
	s := setupStore(t)
	assert.ErrorIs(t, s.AppendTranscript("nope", "x"), ErrNotFound)
	_, err := s.ReadTranscript("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSavePersistsPlan(t *testing.T) {
	s := setupStore(t)
	f := newFeature("planned")
	require.NoError(t, s.Create(f))

	f.Plan = &types.PlanSpec{
		Status:  types.PlanStatusGenerated,
		Content: "## Plan\n- [ ] T001: do the thing (file: main.go) [phase: core]",
		Version: 1,
	}
	require.NoError(t, s.Save(f))

	got, err := s.Get(f.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Plan)
	assert.Equal(t, types.PlanStatusGenerated, got.Plan.Status)
	assert.Equal(t, 1, got.Plan.Version)
}
