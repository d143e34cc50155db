// Package deps maintains the dependency graph between features.
//
// Edges are stored in the project's sqlite database so they survive restarts
// independently of the feature documents. The graph is kept acyclic: every
// mutation runs a cycle check before committing.
package deps

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mirahq/mira/internal/types"
)

// ErrCycleDetected is returned when a dependency edge would make the graph
// cyclic.
var ErrCycleDetected = errors.New("dependency cycle detected")

// StatusLookup resolves a feature id to its current status. The store
// satisfies this; tests use a map-backed fake.
type StatusLookup interface {
	Status(id string) (types.FeatureStatus, error)
}

// Blocking describes why a feature cannot start yet.
type Blocking struct {
	// DepID is the blocking dependency.
	DepID string
	// Status is the dependency's current status.
	Status types.FeatureStatus
	// Failed is true when the dependency failed, which is surfaced
	// differently from a dependency that is merely unfinished.
	Failed bool
}

// Graph is the sqlite-backed dependency edge store for one project.
type Graph struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (creating if needed) the dependency graph database under the
// project's .mira directory.
func Open(miraRoot string) (*Graph, error) {
	path := filepath.Join(miraRoot, "mira.db")
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS feature_deps (
		feature_id TEXT NOT NULL,
		depends_on TEXT NOT NULL,
		PRIMARY KEY (feature_id, depends_on)
	);
	CREATE INDEX IF NOT EXISTS idx_deps_depends_on ON feature_deps(depends_on);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Graph{db: db}, nil
}

// Close closes the underlying database.
func (g *Graph) Close() error {
	return g.db.Close()
}

// SetDependencies replaces the full dependency set for a feature. The input
// is normalized first: empty ids, duplicates and self references are dropped.
// The remaining edges are validated against the existing graph; on a cycle
// nothing is changed and ErrCycleDetected is returned.
func (g *Graph) SetDependencies(featureID string, dependsOn []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	dependsOn = normalizeDeps(featureID, dependsOn)

	for _, dep := range dependsOn {
		cyclic, err := g.wouldCreateCycle(featureID, dep)
		if err != nil {
			return err
		}
		if cyclic {
			return fmt.Errorf("%w: %s -> %s", ErrCycleDetected, featureID, dep)
		}
	}

	tx, err := g.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM feature_deps WHERE feature_id = ?`, featureID); err != nil {
		return fmt.Errorf("failed to clear dependencies: %w", err)
	}
	for _, dep := range dependsOn {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO feature_deps (feature_id, depends_on) VALUES (?, ?)`,
			featureID, dep); err != nil {
			return fmt.Errorf("failed to insert dependency: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit dependencies: %w", err)
	}
	return nil
}

// normalizeDeps drops empty ids, duplicates and self references.
func normalizeDeps(featureID string, dependsOn []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(dependsOn))
	for _, dep := range dependsOn {
		if dep == "" || dep == featureID || seen[dep] {
			continue
		}
		seen[dep] = true
		out = append(out, dep)
	}
	return out
}

// AddDependency records that featureID depends on dep. Empty and self
// references are dropped, matching SetDependencies normalization.
func (g *Graph) AddDependency(featureID, dep string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if dep == "" || dep == featureID {
		return nil
	}
	cyclic, err := g.wouldCreateCycle(featureID, dep)
	if err != nil {
		return err
	}
	if cyclic {
		return fmt.Errorf("%w: %s -> %s", ErrCycleDetected, featureID, dep)
	}
	if _, err := g.db.Exec(`INSERT OR IGNORE INTO feature_deps (feature_id, depends_on) VALUES (?, ?)`,
		featureID, dep); err != nil {
		return fmt.Errorf("failed to insert dependency: %w", err)
	}
	return nil
}

// Dependencies returns the ids this feature depends on.
func (g *Graph) Dependencies(featureID string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.query(`SELECT depends_on FROM feature_deps WHERE feature_id = ? ORDER BY depends_on`, featureID)
}

// Dependents returns the ids that depend on this feature.
func (g *Graph) Dependents(featureID string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.query(`SELECT feature_id FROM feature_deps WHERE depends_on = ? ORDER BY feature_id`, featureID)
}

// RemoveFeature drops all edges touching the feature, in both directions.
// Called when a feature is deleted.
func (g *Graph) RemoveFeature(featureID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, err := g.db.Exec(`DELETE FROM feature_deps WHERE feature_id = ? OR depends_on = ?`,
		featureID, featureID); err != nil {
		return fmt.Errorf("failed to remove feature edges: %w", err)
	}
	return nil
}

// WouldCreateCycle reports whether adding featureID -> dep would make the
// graph cyclic, i.e. whether featureID is already reachable from dep.
func (g *Graph) WouldCreateCycle(featureID, dep string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if featureID == dep {
		return true, nil
	}
	return g.wouldCreateCycle(featureID, dep)
}

func (g *Graph) wouldCreateCycle(featureID, dep string) (bool, error) {
	// DFS from dep following depends_on edges; a path back to featureID
	// means the new edge would close a cycle.
	visited := map[string]bool{}
	stack := []string{dep}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == featureID {
			return true, nil
		}
		if visited[cur] {
			continue
		}
		visited[cur] = true

		next, err := g.query(`SELECT depends_on FROM feature_deps WHERE feature_id = ?`, cur)
		if err != nil {
			return false, err
		}
		stack = append(stack, next...)
	}
	return false, nil
}

// FirstBlocker returns the first dependency that prevents the feature from
// starting, or nil when all dependencies are completed. Any status other than
// completed blocks; a failed dependency is flagged so the scheduler can fail
// the dependent instead of waiting forever.
func (g *Graph) FirstBlocker(featureID string, lookup StatusLookup) (*Blocking, error) {
	depIDs, err := g.Dependencies(featureID)
	if err != nil {
		return nil, err
	}
	for _, dep := range depIDs {
		status, err := lookup.Status(dep)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve dependency %s: %w", dep, err)
		}
		if status == types.StatusCompleted {
			continue
		}
		return &Blocking{
			DepID:  dep,
			Status: status,
			Failed: status == types.StatusFailed,
		}, nil
	}
	return nil, nil
}

// BlockingStatus returns every dependency that keeps the feature from
// starting, plus the subset of those that failed. A dependency with no
// resolvable status (an empty status from the lookup) blocks but is not
// failed.
func (g *Graph) BlockingStatus(featureID string, lookup StatusLookup) (blocking, failed []string, err error) {
	depIDs, err := g.Dependencies(featureID)
	if err != nil {
		return nil, nil, err
	}
	for _, dep := range depIDs {
		status, err := lookup.Status(dep)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to resolve dependency %s: %w", dep, err)
		}
		if status == types.StatusCompleted {
			continue
		}
		blocking = append(blocking, dep)
		if status == types.StatusFailed {
			failed = append(failed, dep)
		}
	}
	return blocking, failed, nil
}

// Satisfied reports whether every dependency of the feature is completed.
func (g *Graph) Satisfied(featureID string, lookup StatusLookup) (bool, error) {
	blocking, _, err := g.BlockingStatus(featureID, lookup)
	if err != nil {
		return false, err
	}
	return len(blocking) == 0, nil
}

func (g *Graph) query(q string, args ...any) ([]string, error) {
	rows, err := g.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependencies: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan dependency row: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
