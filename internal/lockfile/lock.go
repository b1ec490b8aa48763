// Package lockfile provides the single-instance guard for a respawn run.
package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// FileName is the lock file inside the state directory.
const FileName = "respawn.lock"

// ErrLocked means another respawn process holds the lock.
var ErrLocked = errors.New("another respawn run holds the lock")

// LockInfo is the JSON body written into a held lock file.
type LockInfo struct {
	PID       int       `json:"pid"`
	RunID     string    `json:"run_id"`
	Goal      string    `json:"goal,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// HeldError reports who holds the lock. It matches ErrLocked.
type HeldError struct {
	Path   string
	Holder *LockInfo
}

func (e *HeldError) Error() string {
	if e.Holder == nil || e.Holder.PID == 0 {
		return fmt.Sprintf("%v (%s)", ErrLocked, e.Path)
	}
	return fmt.Sprintf("%v: pid %d, run %s, started %s (%s)",
		ErrLocked, e.Holder.PID, e.Holder.RunID, e.Holder.StartedAt.Format(time.RFC3339), e.Path)
}

func (e *HeldError) Unwrap() error { return ErrLocked }

// Lock is an acquired lock. Release it when the run ends.
type Lock struct {
	f    *os.File
	path string
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Acquire takes an exclusive non-blocking lock on <dir>/respawn.lock and
// records info in it. A lock held by another process yields a *HeldError.
func Acquire(dir string, info LockInfo) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	path := filepath.Join(dir, FileName)

	// #nosec G304 -- path is derived from the configured state directory
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := flockExclusive(f); err != nil {
		_ = f.Close()
		if errors.Is(err, errLockBusy) {
			holder, _ := ReadLockInfo(dir)
			return nil, &HeldError{Path: path, Holder: holder}
		}
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}

	if info.PID == 0 {
		info.PID = os.Getpid()
	}
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now().UTC()
	}
	data, err := json.Marshal(info)
	if err != nil {
		_ = flockUnlock(f)
		_ = f.Close()
		return nil, err
	}
	if err := writeInfo(f, data); err != nil {
		_ = flockUnlock(f)
		_ = f.Close()
		return nil, fmt.Errorf("write lock info: %w", err)
	}

	return &Lock{f: f, path: path}, nil
}

func writeInfo(f *os.File, data []byte) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.WriteAt(data, 0); err != nil {
		return err
	}
	return f.Sync()
}

// Release unlocks and closes the lock file. The file itself is left in place
// so a concurrent Acquire never races on a deleted inode.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = l.f.Truncate(0)
	err := flockUnlock(l.f)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f = nil
	return err
}

// ReadLockInfo reads the holder info from <dir>/respawn.lock. A bare PID
// (written by hand or by scripts) is accepted too.
func ReadLockInfo(dir string) (*LockInfo, error) {
	// #nosec G304 -- path is derived from the configured state directory
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, fmt.Errorf("lock file is empty")
	}

	var info LockInfo
	if err := json.Unmarshal([]byte(trimmed), &info); err == nil {
		return &info, nil
	}

	pid, err := strconv.Atoi(trimmed)
	if err != nil {
		return nil, fmt.Errorf("cannot parse lock file: %w", err)
	}
	return &LockInfo{PID: pid}, nil
}
