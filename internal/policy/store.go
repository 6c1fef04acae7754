package policy

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ErrNoSnapshot means the store holds no loadable artifact yet (first run,
// or every file failed validation).
var ErrNoSnapshot = errors.New("no policy snapshot available")

const snapshotPrefix = "snapshot-v"

// Store persists snapshots as individual JSON files under one directory.
// Files are written once and never rewritten; an external retraining process
// can drop a higher-versioned file into the directory and it becomes
// loadable with no coordination beyond the rename.
type Store struct {
	dir string
}

// NewStore creates the snapshot directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot store: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the store directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(version int) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s%06d.json", snapshotPrefix, version))
}

// Save writes the snapshot via a temp file and rename so a crash mid-write
// never leaves a half-written artifact under a loadable name.
func (s *Store) Save(snap *Snapshot) (string, error) {
	if err := snap.Validate(); err != nil {
		return "", fmt.Errorf("snapshot store: refusing to save: %w", err)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("snapshot store: marshal v%d: %w", snap.Version, err)
	}

	final := s.path(snap.Version)
	tmp, err := os.CreateTemp(s.dir, ".snapshot-*.tmp")
	if err != nil {
		return "", fmt.Errorf("snapshot store: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("snapshot store: write v%d: %w", snap.Version, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("snapshot store: close v%d: %w", snap.Version, err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("snapshot store: publish v%d: %w", snap.Version, err)
	}
	return final, nil
}

// Load reads and validates a single snapshot file.
func (s *Store) Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("snapshot store: read %s: %w", filepath.Base(path), err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("snapshot store: parse %s: %w", filepath.Base(path), err)
	}
	if err := snap.Validate(); err != nil {
		return nil, fmt.Errorf("snapshot store: %s: %w", filepath.Base(path), err)
	}
	return &snap, nil
}

// versions lists stored snapshot versions in ascending order.
func (s *Store) versions() ([]int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("snapshot store: %w", err)
	}
	var out []int
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, snapshotPrefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		raw := strings.TrimSuffix(strings.TrimPrefix(name, snapshotPrefix), ".json")
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			continue
		}
		out = append(out, v)
	}
	sort.Ints(out)
	return out, nil
}

// LatestVersion returns the highest stored version, or 0 when empty.
func (s *Store) LatestVersion() (int, error) {
	vs, err := s.versions()
	if err != nil {
		return 0, err
	}
	if len(vs) == 0 {
		return 0, nil
	}
	return vs[len(vs)-1], nil
}

// NextVersion returns the version a newly trained snapshot should carry.
func (s *Store) NextVersion() (int, error) {
	latest, err := s.LatestVersion()
	if err != nil {
		return 0, err
	}
	return latest + 1, nil
}

// LoadLatest loads the highest-versioned snapshot that passes validation,
// walking backwards past corrupt files so one bad artifact cannot mask an
// older good one. Returns ErrNoSnapshot when nothing loads.
func (s *Store) LoadLatest() (*Snapshot, error) {
	vs, err := s.versions()
	if err != nil {
		return nil, err
	}
	var lastErr error
	for i := len(vs) - 1; i >= 0; i-- {
		snap, err := s.Load(s.path(vs[i]))
		if err != nil {
			lastErr = err
			continue
		}
		return snap, nil
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSnapshot, lastErr)
	}
	return nil, ErrNoSnapshot
}
