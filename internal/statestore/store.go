// Package statestore locates and parses the records an agent leaves in its
// spec directory: the workflow state and the restart marker.
//
// Both records live at most two levels below the root (root/<file> or
// root/<spec>/<file>). Absence is the normal case and is reported as a nil
// record, not an error. A record that exists but cannot be parsed is a
// *CorruptRecordError: treating it as absent would look exactly like a
// finished workflow.
package statestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cenkalti/backoff/v4"

	"github.com/steveyegge/respawn/internal/types"
)

// Store reads records below a single spec directory root.
type Store struct {
	root       string
	stateName  string
	markerName string
	removeWait time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithFileNames overrides the state and marker file names.
func WithFileNames(state, marker string) Option {
	return func(s *Store) {
		if state != "" {
			s.stateName = state
		}
		if marker != "" {
			s.markerName = marker
		}
	}
}

// New creates a Store rooted at root.
func New(root string, opts ...Option) *Store {
	s := &Store{
		root:       root,
		stateName:  types.StateFileName,
		markerName: types.MarkerFileName,
		removeWait: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the directory the store searches.
func (s *Store) Root() string {
	return s.root
}

// Load scans for both records.
func (s *Store) Load() (types.Snapshot, error) {
	state, err := s.FindState()
	if err != nil {
		return types.Snapshot{}, err
	}
	marker, err := s.FindMarker()
	if err != nil {
		return types.Snapshot{}, err
	}
	return types.Snapshot{State: state, Marker: marker}, nil
}

// FindState returns the first workflow state record, or nil if none exists.
func (s *Store) FindState() (*types.WorkflowState, error) {
	paths, err := s.find(s.stateName)
	if err != nil {
		return nil, err
	}
	for _, p := range paths {
		var st types.WorkflowState
		sum, err := readRecord(p, KindState, &st)
		if errors.Is(err, errVanished) {
			continue
		}
		if err != nil {
			return nil, err
		}
		st.Path = p
		st.Fingerprint = sum
		return &st, nil
	}
	return nil, nil
}

// FindMarker returns the first restart marker, or nil if none exists.
// When several markers are present the lexicographically first path wins;
// the rest are left for later passes.
func (s *Store) FindMarker() (*types.RestartMarker, error) {
	paths, err := s.find(s.markerName)
	if err != nil {
		return nil, err
	}
	for _, p := range paths {
		var m types.RestartMarker
		sum, err := readRecord(p, KindMarker, &m)
		if errors.Is(err, errVanished) {
			continue
		}
		if err != nil {
			return nil, err
		}
		m.Path = p
		m.Fingerprint = sum
		return &m, nil
	}
	return nil, nil
}

// ConsumeMarker deletes the marker file. A marker that is already gone is
// not an error.
func (s *Store) ConsumeMarker(m *types.RestartMarker) error {
	if m == nil || m.Path == "" {
		return nil
	}
	op := func() error {
		err := os.Remove(m.Path)
		if err == nil || errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if errors.Is(err, fs.ErrPermission) {
			return backoff.Permanent(err)
		}
		return err
	}
	bo := backoff.WithMaxRetries(backoff.NewConstantBackOff(s.removeWait), 3)
	if err := backoff.Retry(op, bo); err != nil {
		return fmt.Errorf("consume restart marker %s: %w", m.Path, err)
	}
	return nil
}

// find returns matching files at depth one or two, sorted by path.
func (s *Store) find(name string) ([]string, error) {
	if _, err := os.Stat(s.root); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat spec dir %s: %w", s.root, err)
	}

	pattern := "{" + name + ",*/" + name + "}"
	matches, err := doublestar.Glob(os.DirFS(s.root), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("search %s for %s: %w", s.root, name, err)
	}
	sort.Strings(matches)

	paths := make([]string, 0, len(matches))
	for _, m := range matches {
		paths = append(paths, filepath.Join(s.root, filepath.FromSlash(m)))
	}
	return paths, nil
}

var errVanished = errors.New("record removed while reading")

func readRecord(path string, kind RecordKind, into any) (string, error) {
	// #nosec G304 -- path comes from a glob below the configured spec dir
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", errVanished
		}
		return "", fmt.Errorf("read %s: %w", path, err)
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", &CorruptRecordError{Path: path, Kind: kind, Err: err}
	}
	if err := validate(kind, doc); err != nil {
		return "", &CorruptRecordError{Path: path, Kind: kind, Err: err}
	}
	if err := json.Unmarshal(data, into); err != nil {
		return "", &CorruptRecordError{Path: path, Kind: kind, Err: err}
	}
	return Fingerprint(data), nil
}
