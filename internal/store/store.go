// Package store persists features as JSON documents on disk.
//
// Each feature lives in its own directory under <project>/.mira/features/<id>/
// with the record in feature.json and the agent transcript alongside it in
// agent-output.md. Records are written atomically via a temp file rename so a
// crash mid-write never leaves a truncated document.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mirahq/mira/internal/types"
)

// ErrNotFound is returned when a feature id has no valid record on disk.
var ErrNotFound = errors.New("feature not found")

const (
	featuresDir    = "features"
	recordFile     = "feature.json"
	transcriptFile = "agent-output.md"
)

// Store is a file-backed feature store rooted at one project's .mira
// directory. Safe for concurrent use.
type Store struct {
	mu   sync.Mutex
	root string // <project>/.mira
}

// New opens (creating if needed) the store for a project root.
func New(projectPath string) (*Store, error) {
	root := filepath.Join(projectPath, ".mira")
	if err := os.MkdirAll(filepath.Join(root, featuresDir), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the store's .mira directory.
func (s *Store) Root() string {
	return s.root
}

// NewID returns a time-sortable feature id: the creation timestamp in hex
// milliseconds followed by a short random suffix. Lexicographic order of ids
// matches creation order, which List relies on for FIFO scheduling.
func NewID() string {
	ms := time.Now().UnixMilli()
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("%011x-%s", ms, suffix)
}

// Create assigns an id and timestamps to the feature and persists it.
// The feature's Status must already be set; Title is required.
func (s *Store) Create(f *types.Feature) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f.ID == "" {
		f.ID = NewID()
	}
	now := time.Now().UTC()
	f.CreatedAt = now
	f.UpdatedAt = now

	if err := f.Validate(); err != nil {
		return err
	}
	return s.write(f)
}

// Get loads a feature by id.
func (s *Store) Get(id string) (*types.Feature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(id)
}

// Save persists the feature as-is, bumping UpdatedAt. The feature must
// already exist.
func (s *Store) Save(f *types.Feature) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.read(f.ID); err != nil {
		return err
	}
	f.UpdatedAt = time.Now().UTC()
	return s.write(f)
}

// Update applies fn to the stored feature under the store lock and persists
// the result. This is the read-modify-write primitive; callers that hold a
// stale copy should prefer it over Save.
func (s *Store) Update(id string, fn func(*types.Feature) error) (*types.Feature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.read(id)
	if err != nil {
		return nil, err
	}
	if err := fn(f); err != nil {
		return nil, err
	}
	f.UpdatedAt = time.Now().UTC()
	if err := s.write(f); err != nil {
		return nil, err
	}
	return f, nil
}

// SetStatus transitions a feature to status, enforcing the lifecycle
// transition table.
func (s *Store) SetStatus(id string, status types.FeatureStatus) (*types.Feature, error) {
	return s.Update(id, func(f *types.Feature) error {
		if !f.Status.CanTransitionTo(status) {
			return fmt.Errorf("invalid transition %s -> %s for feature %s", f.Status, status, id)
		}
		f.Status = status
		return nil
	})
}

// Delete removes a feature and its transcript. Deleting a missing feature
// returns ErrNotFound.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.featureDir(id)
	if _, err := os.Stat(filepath.Join(dir, recordFile)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to stat feature %s: %w", id, err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to delete feature %s: %w", id, err)
	}
	return nil
}

// List returns all features sorted by id (creation order). Directories with
// missing or unparseable records are skipped with a warning rather than
// failing the whole listing.
func (s *Store) List() ([]*types.Feature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(filepath.Join(s.root, featuresDir))
	if err != nil {
		return nil, fmt.Errorf("failed to list features: %w", err)
	}

	var features []*types.Feature
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		f, err := s.read(e.Name())
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: skipping feature %s: %v\n", e.Name(), err)
			continue
		}
		features = append(features, f)
	}
	sort.Slice(features, func(i, j int) bool { return features[i].ID < features[j].ID })
	return features, nil
}

// ListByStatus returns features whose status matches, in creation order.
func (s *Store) ListByStatus(status types.FeatureStatus) ([]*types.Feature, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	var out []*types.Feature
	for _, f := range all {
		if f.Status == status {
			out = append(out, f)
		}
	}
	return out, nil
}

// AppendTranscript appends text to the feature's agent transcript, creating
// the file on first write.
func (s *Store) AppendTranscript(id, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.read(id); err != nil {
		return err
	}
	path := filepath.Join(s.featureDir(id), transcriptFile)
	fh, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open transcript: %w", err)
	}
	defer fh.Close()
	if _, err := fh.WriteString(text); err != nil {
		return fmt.Errorf("failed to append transcript: %w", err)
	}
	return nil
}

// ReplaceTranscript overwrites the feature's transcript. Used when a fresh
// run supersedes a failed attempt's output.
func (s *Store) ReplaceTranscript(id, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.read(id); err != nil {
		return err
	}
	path := filepath.Join(s.featureDir(id), transcriptFile)
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		return fmt.Errorf("failed to write transcript: %w", err)
	}
	return nil
}

// ReadTranscript returns the feature's transcript, or empty string if none
// has been written yet.
func (s *Store) ReadTranscript(id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.read(id); err != nil {
		return "", err
	}
	data, err := os.ReadFile(filepath.Join(s.featureDir(id), transcriptFile))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read transcript: %w", err)
	}
	return string(data), nil
}

func (s *Store) featureDir(id string) string {
	return filepath.Join(s.root, featuresDir, id)
}

func (s *Store) read(id string) (*types.Feature, error) {
	data, err := os.ReadFile(filepath.Join(s.featureDir(id), recordFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read feature %s: %w", id, err)
	}
	var f types.Feature
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse feature %s: %w", id, err)
	}
	// A record that fails validation is treated as absent, not surfaced as a
	// half-parsed feature.
	if err := f.Validate(); err != nil {
		return nil, ErrNotFound
	}
	return &f, nil
}

func (s *Store) write(f *types.Feature) error {
	dir := s.featureDir(f.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create feature directory: %w", err)
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal feature: %w", err)
	}

	tmp := filepath.Join(dir, recordFile+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write feature: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, recordFile)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to commit feature: %w", err)
	}
	return nil
}
