package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"gopkg.in/yaml.v3"

	deckerrors "github.com/castleridge-io/clawdeck-sub002/internal/errors"
)

// YAMLStore persists the whole state as one YAML snapshot file.
//
// Writes are atomic (write-then-rename). Transactions are serialized within
// the process by a mutex and across processes by flock on a sidecar lock
// file, so several servers may share one snapshot.
type YAMLStore struct {
	path     string
	lockPath string
	logger   *slog.Logger

	mu   sync.Mutex
	snap *snapshot
	// info identifies the file version snap was read from; nil if none.
	info os.FileInfo
}

// NewYAMLStore opens or creates the snapshot at path.
func NewYAMLStore(path string, logger *slog.Logger) (*YAMLStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating store dir: %w", err)
	}

	s := &YAMLStore{
		path:     path,
		lockPath: path + ".lock",
		logger:   logger.With("store", path),
	}

	err := s.withFileLock(syscall.LOCK_EX, func() error {
		if err := s.recoverInterruptedWrite(); err != nil {
			return fmt.Errorf("recovering interrupted write: %w", err)
		}
		return s.refresh()
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the snapshot file path.
func (s *YAMLStore) Path() string {
	return s.path
}

// Update runs fn in a read-write transaction and persists the result.
func (s *YAMLStore) Update(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withFileLock(syscall.LOCK_EX, func() error {
		if err := s.refresh(); err != nil {
			return err
		}

		t := newTx(s.snap, true)
		if err := fn(t); err != nil {
			return err
		}
		if !t.dirty() {
			return nil
		}
		t.commit()

		if err := s.save(); err != nil {
			// The in-memory base now holds unpersisted writes; force a reload.
			s.snap = nil
			return err
		}
		return nil
	})
}

// View runs fn in a read-only transaction.
func (s *YAMLStore) View(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withFileLock(syscall.LOCK_SH, func() error {
		if err := s.refresh(); err != nil {
			return err
		}
		return fn(newTx(s.snap, false))
	})
}

// Close is a no-op; locks are only held for the duration of a transaction.
func (s *YAMLStore) Close() error {
	return nil
}

// withFileLock holds flock(how) on the sidecar lock file while fn runs.
func (s *YAMLStore) withFileLock(how int, fn func() error) error {
	f, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return deckerrors.StoreRead(s.lockPath, fmt.Errorf("opening lock file: %w", err))
	}
	defer f.Close()

	if err := syscall.Flock(int(f.Fd()), how); err != nil {
		return deckerrors.StoreRead(s.lockPath, fmt.Errorf("acquiring lock: %w", err))
	}
	defer syscall.Flock(int(f.Fd()), syscall.LOCK_UN)

	return fn()
}

// refresh reloads the snapshot if the file changed since it was last read.
// Must be called with the file lock held.
func (s *YAMLStore) refresh() error {
	info, err := os.Stat(s.path)
	if os.IsNotExist(err) {
		if s.snap == nil || s.info != nil {
			s.snap = newSnapshot()
			s.info = nil
		}
		return nil
	}
	if err != nil {
		return deckerrors.StoreRead(s.path, err)
	}

	if s.snap != nil && unchanged(s.info, info) {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return deckerrors.StoreRead(s.path, err)
	}
	snap := &snapshot{}
	if err := yaml.Unmarshal(data, snap); err != nil {
		return deckerrors.StoreRead(s.path, fmt.Errorf("parsing snapshot: %w", err))
	}
	if snap.Version > snapshotVersion {
		return deckerrors.StoreRead(s.path, fmt.Errorf("snapshot version %d is newer than supported %d", snap.Version, snapshotVersion))
	}
	snap.Version = snapshotVersion
	snap.init()

	s.snap = snap
	s.info = info
	s.logger.Debug("loaded snapshot", "runs", len(snap.Runs), "steps", len(snap.Steps), "stories", len(snap.Stories))
	return nil
}

// save writes the snapshot atomically (write-then-rename).
// Must be called with the file lock held.
func (s *YAMLStore) save() error {
	data, err := yaml.Marshal(s.snap)
	if err != nil {
		return deckerrors.StoreWrite(s.path, fmt.Errorf("marshaling snapshot: %w", err))
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return deckerrors.StoreWrite(s.path, fmt.Errorf("writing temp file: %w", err))
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return deckerrors.StoreWrite(s.path, fmt.Errorf("renaming temp file: %w", err))
	}

	info, err := os.Stat(s.path)
	if err != nil {
		return deckerrors.StoreRead(s.path, err)
	}
	s.info = info
	return nil
}

// unchanged reports whether cur is the same file version as prev.
// Every save renames a fresh file into place, so a rewrite changes identity.
func unchanged(prev, cur os.FileInfo) bool {
	return prev != nil &&
		os.SameFile(prev, cur) &&
		prev.ModTime().Equal(cur.ModTime()) &&
		prev.Size() == cur.Size()
}

// recoverInterruptedWrite handles a .tmp file left by a crashed write.
// A missing main file is replaced by the temp file; otherwise the orphan is removed.
func (s *YAMLStore) recoverInterruptedWrite() error {
	tmpPath := s.path + ".tmp"
	if _, err := os.Stat(tmpPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	if _, err := os.Stat(s.path); err == nil {
		s.logger.Warn("removing orphaned temp snapshot", "path", tmpPath)
		return os.Remove(tmpPath)
	}
	s.logger.Warn("promoting temp snapshot", "path", tmpPath)
	return os.Rename(tmpPath, s.path)
}

var _ Store = (*YAMLStore)(nil)
