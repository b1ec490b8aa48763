package statestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/steveyegge/respawn/internal/types"
)

// EventKind distinguishes the two messages the agent sends through the
// filesystem.
type EventKind int

const (
	// StateUpdate reports a new, changed or removed workflow state record.
	StateUpdate EventKind = iota + 1
	// RestartRequest reports a restart marker that has not been seen before.
	RestartRequest
)

func (k EventKind) String() string {
	switch k {
	case StateUpdate:
		return "state"
	case RestartRequest:
		return "restart"
	default:
		return "unknown"
	}
}

// Event is one observed change. Err is set when a scan failed, e.g. because
// a record was corrupt; the watch keeps running.
type Event struct {
	Kind   EventKind
	State  *types.WorkflowState
	Marker *types.RestartMarker
	Err    error
	At     time.Time
}

// Transport selects how changes are detected.
type Transport string

const (
	TransportFSNotify Transport = "fsnotify"
	TransportPoll     Transport = "poll"
)

// WatchOptions configures Watch.
type WatchOptions struct {
	Transport Transport
	Interval  time.Duration // poll interval (default 1s)
	Debounce  time.Duration // fsnotify settle time (default 250ms)
}

// ErrNoSpecDir is returned by the fsnotify transport when the root does not
// exist yet. Poll transport tolerates a missing root.
var ErrNoSpecDir = errors.New("spec dir does not exist")

// Watch streams state and restart events until ctx is done. A given record
// version is delivered once: an unconsumed restart marker yields exactly
// one RestartRequest no matter how often the directory is rescanned.
// The channel is closed when the watch stops.
func (s *Store) Watch(ctx context.Context, opts WatchOptions) (<-chan Event, error) {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 250 * time.Millisecond
	}

	ticks := make(chan struct{}, 1)
	var stop func()
	switch opts.Transport {
	case TransportPoll:
		stop = s.pollTicks(opts.Interval, ticks)
	case TransportFSNotify, "":
		var err error
		stop, err = s.fsnotifyTicks(opts.Debounce, ticks)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown watch transport %q", opts.Transport)
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		defer stop()

		var d dedup
		emit := func() bool {
			for _, ev := range d.diff(s.Load()) {
				select {
				case out <- ev:
				case <-ctx.Done():
					return false
				}
			}
			return true
		}

		if !emit() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticks:
				if !emit() {
					return
				}
			}
		}
	}()
	return out, nil
}

// dedup remembers the last fingerprints delivered so rescans only report
// changes.
type dedup struct {
	state   string
	marker  string
	lastErr string
}

func (d *dedup) diff(snap types.Snapshot, err error) []Event {
	now := time.Now()
	if err != nil {
		if err.Error() == d.lastErr {
			return nil
		}
		d.lastErr = err.Error()
		return []Event{{Kind: StateUpdate, Err: err, At: now}}
	}
	d.lastErr = ""

	var events []Event
	stateSum := ""
	if snap.State != nil {
		stateSum = snap.State.Fingerprint
	}
	if stateSum != d.state {
		d.state = stateSum
		events = append(events, Event{Kind: StateUpdate, State: snap.State, At: now})
	}

	if snap.Marker == nil {
		d.marker = ""
	} else if snap.Marker.Fingerprint != d.marker {
		d.marker = snap.Marker.Fingerprint
		events = append(events, Event{Kind: RestartRequest, State: snap.State, Marker: snap.Marker, At: now})
	}
	return events
}

func notify(ticks chan<- struct{}) {
	select {
	case ticks <- struct{}{}:
	default:
	}
}

func (s *Store) pollTicks(interval time.Duration, ticks chan<- struct{}) func() {
	ticker := backoff.NewTicker(backoff.NewConstantBackOff(interval))
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case _, ok := <-ticker.C:
				if !ok {
					return
				}
				notify(ticks)
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}
}

// fsnotifyTicks watches the root and each direct child directory, which is
// exactly the depth records can live at.
func (s *Store) fsnotifyTicks(debounce time.Duration, ticks chan<- struct{}) (func(), error) {
	info, err := os.Stat(s.root)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNoSpecDir, s.root)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(s.root); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", s.root, err)
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("read %s: %w", s.root, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			_ = watcher.Add(filepath.Join(s.root, e.Name()))
		}
	}

	done := make(chan struct{})
	go func() {
		var mu sync.Mutex
		var timer *time.Timer
		for {
			select {
			case <-done:
				mu.Lock()
				if timer != nil {
					timer.Stop()
				}
				mu.Unlock()
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Create) && filepath.Dir(event.Name) == filepath.Clean(s.root) {
					if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
						_ = watcher.Add(event.Name)
					}
				}
				mu.Lock()
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounce, func() { notify(ticks) })
				mu.Unlock()
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
				notify(ticks)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			_ = watcher.Close()
		})
	}, nil
}
