package worktree

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRepo creates a git repository with one commit.
func setupTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		output, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, output)
	}

	run("init")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "Test User")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# test\n"), 0644))
	run("add", ".")
	run("commit", "-m", "initial commit")

	return dir
}

func setupProvider(t *testing.T) (*Provider, string) {
	t.Helper()
	repo := setupTestRepo(t)
	miraRoot := filepath.Join(repo, ".mira")
	require.NoError(t, os.MkdirAll(miraRoot, 0755))
	p, err := NewProvider(repo, miraRoot, ".worktrees")
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p, repo
}

func TestSanitizeBranch(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"feature/login", "feature-login"},
		{"fix my thing", "fix-my-thing"},
		{"simple", "simple"},
		{"a//b", "a-b"},
		{"///", "work"},
		{"release-1.2.3", "release-1.2.3"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeBranch(tt.in), "input %q", tt.in)
	}
}

func TestCreateWorktree(t *testing.T) {
	p, repo := setupProvider(t)
	ctx := context.Background()

	wt, err := p.Create(ctx, "feature/login", "feat-1")
	require.NoError(t, err)
	assert.Equal(t, "feature/login", wt.Branch)
	assert.Equal(t, "feat-1", wt.FeatureID)
	assert.Contains(t, wt.Path, filepath.Join(".worktrees", "feature-login"))

	// Tree exists and is a checkout of the repo.
	_, err = os.Stat(filepath.Join(wt.Path, "README.md"))
	assert.NoError(t, err)

	// Branch was created in the parent repo.
	cmd := exec.Command("git", "rev-parse", "--verify", "refs/heads/feature/login")
	cmd.Dir = repo
	assert.NoError(t, cmd.Run())
}

func TestCreateIsIdempotent(t *testing.T) {
	p, _ := setupProvider(t)
	ctx := context.Background()

	first, err := p.Create(ctx, "feature/x", "feat-1")
	require.NoError(t, err)

	second, err := p.Create(ctx, "feature/x", "feat-1")
	require.NoError(t, err)
	assert.Equal(t, first.Path, second.Path)

	trees, err := p.List()
	require.NoError(t, err)
	assert.Len(t, trees, 1)
}

func TestCreateReassociatesFeature(t *testing.T) {
	p, _ := setupProvider(t)
	ctx := context.Background()

	_, err := p.Create(ctx, "feature/x", "feat-1")
	require.NoError(t, err)

	wt, err := p.Create(ctx, "feature/x", "feat-2")
	require.NoError(t, err)
	assert.Equal(t, "feat-2", wt.FeatureID)

	got, err := p.Get("feature/x")
	require.NoError(t, err)
	assert.Equal(t, "feat-2", got.FeatureID)
}

func TestCreateRecreatesAfterExternalRemoval(t *testing.T) {
	p, _ := setupProvider(t)
	ctx := context.Background()

	wt, err := p.Create(ctx, "feature/x", "feat-1")
	require.NoError(t, err)

	// Simulate a tree deleted behind our back.
	require.NoError(t, os.RemoveAll(wt.Path))

	again, err := p.Create(ctx, "feature/x", "feat-1")
	require.NoError(t, err)
	_, err = os.Stat(again.Path)
	assert.NoError(t, err)
}

func TestCreateRequiresGitRepo(t *testing.T) {
	dir := t.TempDir()
	miraRoot := filepath.Join(dir, ".mira")
	require.NoError(t, os.MkdirAll(miraRoot, 0755))
	p, err := NewProvider(dir, miraRoot, ".worktrees")
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Create(context.Background(), "feature/x", "feat-1")
	assert.Error(t, err)
}

func TestDelete(t *testing.T) {
	p, _ := setupProvider(t)
	ctx := context.Background()

	wt, err := p.Create(ctx, "feature/x", "feat-1")
	require.NoError(t, err)

	require.NoError(t, p.Delete(ctx, "feature/x"))

	_, err = os.Stat(wt.Path)
	assert.True(t, os.IsNotExist(err))

	_, err = p.Get("feature/x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteMissingIsNoop(t *testing.T) {
	p, _ := setupProvider(t)
	assert.NoError(t, p.Delete(context.Background(), "never-created"))
}

func TestDeleteBrokenTree(t *testing.T) {
	p, _ := setupProvider(t)
	ctx := context.Background()

	wt, err := p.Create(ctx, "feature/x", "feat-1")
	require.NoError(t, err)

	// Corrupt the worktree so git refuses to manage it.
	require.NoError(t, os.RemoveAll(filepath.Join(wt.Path, ".git")))

	require.NoError(t, p.Delete(ctx, "feature/x"))
	_, err = os.Stat(wt.Path)
	assert.True(t, os.IsNotExist(err))
}

func TestDeleteByFeature(t *testing.T) {
	p, _ := setupProvider(t)
	ctx := context.Background()

	_, err := p.Create(ctx, "feature/x", "feat-1")
	require.NoError(t, err)

	require.NoError(t, p.DeleteByFeature(ctx, "feat-1"))
	_, err = p.Get("feature/x")
	assert.ErrorIs(t, err, ErrNotFound)

	// Unknown feature is a no-op.
	assert.NoError(t, p.DeleteByFeature(ctx, "feat-unknown"))
}

func TestDeleteClearsFeatureReference(t *testing.T) {
	p, _ := setupProvider(t)
	ctx := context.Background()

	var cleared []string
	p.SetReferenceClearer(func(featureID string) error {
		cleared = append(cleared, featureID)
		return nil
	})

	_, err := p.Create(ctx, "feature/x", "feat-1")
	require.NoError(t, err)

	require.NoError(t, p.Delete(ctx, "feature/x"))
	assert.Equal(t, []string{"feat-1"}, cleared)

	// No record means nothing to clear.
	require.NoError(t, p.Delete(ctx, "feature/x"))
	assert.Equal(t, []string{"feat-1"}, cleared)
}

func TestList(t *testing.T) {
	p, _ := setupProvider(t)
	ctx := context.Background()

	_, err := p.Create(ctx, "feature/a", "feat-a")
	require.NoError(t, err)
	_, err = p.Create(ctx, "feature/b", "feat-b")
	require.NoError(t, err)

	trees, err := p.List()
	require.NoError(t, err)
	require.Len(t, trees, 2)
}
