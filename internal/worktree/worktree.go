// Package worktree provides isolated git working trees for features.
//
// Each feature that declares a branch gets its own worktree under the
// project's worktree root, so concurrent agent runs never touch each other's
// files. Worktree records are mirrored into the sqlite database so that a
// restarted scheduler can reuse or clean up trees it created before.
package worktree

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mirahq/mira/internal/types"
)

// ErrNotFound is returned when no worktree record exists for a lookup.
var ErrNotFound = errors.New("worktree not found")

var branchSanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// SanitizeBranch converts a branch name into a directory-safe segment.
// Slashes and other unsafe characters collapse to single dashes.
func SanitizeBranch(branch string) string {
	s := branchSanitizer.ReplaceAllString(branch, "-")
	s = strings.Trim(s, "-.")
	if s == "" {
		s = "work"
	}
	return s
}

// Provider creates and removes isolated working trees for one project.
type Provider struct {
	mu          sync.Mutex
	db          *sql.DB
	projectPath string
	root        string // worktree root, relative to projectPath unless absolute
	clearRef    func(featureID string) error
}

// SetReferenceClearer installs a callback invoked after a worktree is deleted,
// so the owning feature's record can drop its stale worktree path.
func (p *Provider) SetReferenceClearer(fn func(featureID string) error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clearRef = fn
}

// NewProvider opens the provider for a project. root is the worktree
// directory, resolved against projectPath when relative.
func NewProvider(projectPath, miraRoot, root string) (*Provider, error) {
	db, err := sql.Open("sqlite3", filepath.Join(miraRoot, "mira.db")+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS worktrees (
		path TEXT PRIMARY KEY,
		project_path TEXT NOT NULL,
		branch TEXT NOT NULL,
		feature_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		UNIQUE (project_path, branch)
	);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if !filepath.IsAbs(root) {
		root = filepath.Join(projectPath, root)
	}
	return &Provider{db: db, projectPath: projectPath, root: root}, nil
}

// Close closes the underlying database.
func (p *Provider) Close() error {
	return p.db.Close()
}

// Create ensures a worktree exists for the branch and returns its path.
// Creation is idempotent: if a recorded worktree for the branch still exists
// on disk it is reused (and re-associated with featureID). The branch is
// created from the current HEAD if it does not exist yet.
func (p *Provider) Create(ctx context.Context, branch, featureID string) (*types.Worktree, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := validateGitRepo(ctx, p.projectPath); err != nil {
		return nil, err
	}

	if wt, err := p.lookupByBranch(branch); err == nil {
		if _, statErr := os.Stat(wt.Path); statErr == nil {
			if wt.FeatureID != featureID {
				wt.FeatureID = featureID
				if err := p.saveRecord(wt); err != nil {
					return nil, err
				}
			}
			return wt, nil
		}
		// Stale record for a tree that was removed out of band.
		if err := p.deleteRecord(wt.Path); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	path := filepath.Join(p.root, SanitizeBranch(branch))
	if err := os.MkdirAll(p.root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create worktree root: %w", err)
	}

	if err := p.ensureBranch(ctx, branch); err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, "git", "worktree", "add", path, branch)
	cmd.Dir = p.projectPath
	if output, err := cmd.CombinedOutput(); err != nil {
		os.RemoveAll(path)
		return nil, fmt.Errorf("git worktree add failed: %w (output: %s)", err, string(output))
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve worktree path: %w", err)
	}

	wt := &types.Worktree{
		Path:        absPath,
		ProjectPath: p.projectPath,
		Branch:      branch,
		FeatureID:   featureID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := p.saveRecord(wt); err != nil {
		p.removeTree(ctx, absPath)
		return nil, err
	}
	return wt, nil
}

// Delete removes the worktree for a branch. Removal is best-effort in two
// tiers: git worktree remove --force first, falling back to deleting the
// directory and pruning. The record is always dropped. Deleting a branch with
// no worktree is a no-op.
func (p *Provider) Delete(ctx context.Context, branch string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	wt, err := p.lookupByBranch(branch)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	p.removeTree(ctx, wt.Path)
	if err := p.deleteRecord(wt.Path); err != nil {
		return err
	}
	if p.clearRef != nil && wt.FeatureID != "" {
		if err := p.clearRef(wt.FeatureID); err != nil {
			return fmt.Errorf("failed to clear worktree reference for feature %s: %w", wt.FeatureID, err)
		}
	}
	return nil
}

// DeleteByFeature removes the worktree associated with a feature, if any.
func (p *Provider) DeleteByFeature(ctx context.Context, featureID string) error {
	p.mu.Lock()
	wt, err := p.lookupByFeature(featureID)
	p.mu.Unlock()
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return p.Delete(ctx, wt.Branch)
}

// Get returns the worktree record for a branch.
func (p *Provider) Get(branch string) (*types.Worktree, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lookupByBranch(branch)
}

// List returns all recorded worktrees for the project, oldest first.
func (p *Provider) List() ([]*types.Worktree, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rows, err := p.db.Query(
		`SELECT path, project_path, branch, feature_id, created_at
		 FROM worktrees WHERE project_path = ? ORDER BY created_at`, p.projectPath)
	if err != nil {
		return nil, fmt.Errorf("failed to list worktrees: %w", err)
	}
	defer rows.Close()

	var out []*types.Worktree
	for rows.Next() {
		wt, err := scanWorktree(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wt)
	}
	return out, rows.Err()
}

func (p *Provider) ensureBranch(ctx context.Context, branch string) error {
	check := exec.CommandContext(ctx, "git", "rev-parse", "--verify", "refs/heads/"+branch)
	check.Dir = p.projectPath
	if check.Run() == nil {
		return nil
	}
	create := exec.CommandContext(ctx, "git", "branch", branch)
	create.Dir = p.projectPath
	if output, err := create.CombinedOutput(); err != nil {
		return fmt.Errorf("git branch %s failed: %w (output: %s)", branch, err, string(output))
	}
	return nil
}

func (p *Provider) removeTree(ctx context.Context, path string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		// Tree already gone; prune any dangling registration.
		prune := exec.CommandContext(ctx, "git", "worktree", "prune")
		prune.Dir = p.projectPath
		prune.Run()
		return
	}

	cmd := exec.CommandContext(ctx, "git", "worktree", "remove", path, "--force")
	cmd.Dir = p.projectPath
	if err := cmd.Run(); err != nil {
		// Broken worktrees resist git removal; fall back to rm + prune.
		if err := os.RemoveAll(path); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to remove worktree %s: %v\n", path, err)
		}
		prune := exec.CommandContext(ctx, "git", "worktree", "prune")
		prune.Dir = p.projectPath
		prune.Run()
	}
}

func (p *Provider) lookupByBranch(branch string) (*types.Worktree, error) {
	row := p.db.QueryRow(
		`SELECT path, project_path, branch, feature_id, created_at
		 FROM worktrees WHERE project_path = ? AND branch = ?`, p.projectPath, branch)
	return scanWorktree(row)
}

func (p *Provider) lookupByFeature(featureID string) (*types.Worktree, error) {
	row := p.db.QueryRow(
		`SELECT path, project_path, branch, feature_id, created_at
		 FROM worktrees WHERE project_path = ? AND feature_id = ?`, p.projectPath, featureID)
	return scanWorktree(row)
}

func (p *Provider) saveRecord(wt *types.Worktree) error {
	_, err := p.db.Exec(
		`INSERT INTO worktrees (path, project_path, branch, feature_id, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET feature_id = excluded.feature_id`,
		wt.Path, wt.ProjectPath, wt.Branch, wt.FeatureID, wt.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save worktree record: %w", err)
	}
	return nil
}

func (p *Provider) deleteRecord(path string) error {
	if _, err := p.db.Exec(`DELETE FROM worktrees WHERE path = ?`, path); err != nil {
		return fmt.Errorf("failed to delete worktree record: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorktree(row rowScanner) (*types.Worktree, error) {
	var wt types.Worktree
	err := row.Scan(&wt.Path, &wt.ProjectPath, &wt.Branch, &wt.FeatureID, &wt.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan worktree row: %w", err)
	}
	return &wt, nil
}

func validateGitRepo(ctx context.Context, path string) error {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--git-dir")
	cmd.Dir = path
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s is not a git repository: %w", path, err)
	}
	return nil
}
