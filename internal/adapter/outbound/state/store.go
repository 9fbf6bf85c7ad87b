package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/intentgate/intentgate/internal/domain/message"
	"github.com/intentgate/intentgate/internal/domain/rule"
)

// ErrCorruptState is returned by Load when state.json cannot be parsed.
var ErrCorruptState = errors.New("corrupt state file")

// File modes for everything the store writes.
const (
	fileMode = 0o600
	dirMode  = 0o700
)

// FileStateStore reads and writes state.json.
//
// Writers in this process are serialized by a mutex; writers in other
// processes (the CLI while the server runs) by an advisory lock on
// path+".lock". Readers take the lock shared. Every save keeps the
// previous file as path+".bak" and replaces the target with a rename, so
// a crash leaves either the old or the new state on disk.
type FileStateStore struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

// NewFileStateStore returns a store for the file at path. The file and its
// directory are created on first save.
func NewFileStateStore(path string, logger *slog.Logger) *FileStateStore {
	return &FileStateStore{path: path, logger: logger}
}

// Load returns the persisted state, or DefaultState when no file exists.
// Unparseable content yields an error wrapping ErrCorruptState.
func (s *FileStateStore) Load() (*AppState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st *AppState
	err := s.withLock(true, func() error {
		var err error
		st, err = s.read()
		return err
	})
	return st, err
}

// Save replaces the persisted state.
func (s *FileStateStore) Save(st *AppState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.withLock(false, func() error { return s.write(st) })
}

// Update applies fn to the current state and saves the result as one
// locked read-modify-write, so writers of different sections never lose
// each other's changes. A corrupt file is replaced by defaults before fn
// runs; the corrupt bytes survive in the backup.
func (s *FileStateStore) Update(fn func(*AppState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withLock(false, func() error {
		st, err := s.read()
		if errors.Is(err, ErrCorruptState) {
			s.logger.Warn("state file corrupt, rewriting from defaults", "path", s.path, "error", err)
			st, err = s.DefaultState(), nil
		}
		if err != nil {
			return err
		}
		if err := fn(st); err != nil {
			return err
		}
		return s.write(st)
	})
}

// withLock runs fn while holding the cross-process lock. A reader that
// cannot create the lock file (missing or read-only directory) runs
// unlocked.
func (s *FileStateStore) withLock(shared bool, fn func() error) error {
	if !shared {
		if err := os.MkdirAll(filepath.Dir(s.path), dirMode); err != nil {
			return fmt.Errorf("create state directory: %w", err)
		}
	}

	f, err := os.OpenFile(s.path+".lock", os.O_CREATE|os.O_RDWR, fileMode)
	if err != nil {
		if shared {
			return fn()
		}
		return fmt.Errorf("open lock file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := lockFile(f, shared); err != nil {
		return fmt.Errorf("acquire file lock: %w", err)
	}
	defer func() { _ = unlockFile(f) }()

	return fn()
}

func (s *FileStateStore) read() (*AppState, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Info("state file not found, using default state", "path", s.path)
		return s.DefaultState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	s.checkMode()

	var st AppState
	if err := message.DecodeJSON(data, &st); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	if st.Version == "" {
		st.Version = CurrentVersion
	}
	return &st, nil
}

// checkMode warns when group or other can read the file. Windows has no
// meaningful permission bits.
func (s *FileStateStore) checkMode() {
	if runtime.GOOS == "windows" {
		return
	}
	info, err := os.Stat(s.path)
	if err != nil {
		return
	}
	if mode := info.Mode().Perm(); mode&0o077 != 0 {
		s.logger.Warn("state.json has too-open permissions, should be 0600",
			"path", s.path, "current_mode", fmt.Sprintf("%04o", mode))
	}
}

func (s *FileStateStore) write(st *AppState) error {
	st.UpdatedAt = time.Now().UTC()
	if st.Version == "" {
		st.Version = CurrentVersion
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	data = append(data, '\n')

	if prev, err := os.ReadFile(s.path); err == nil {
		if err := os.WriteFile(s.path+".bak", prev, fileMode); err != nil {
			s.logger.Warn("failed to create backup", "error", err)
		}
	}

	if err := replaceFile(s.path, data); err != nil {
		return err
	}
	// Rename keeps the temp file's mode, which the umask may have widened.
	if err := os.Chmod(s.path, fileMode); err != nil {
		s.logger.Warn("failed to set permissions on state file", "error", err)
	}
	s.logger.Debug("state saved", "path", s.path, "rules", len(st.Rules), "audit_entries", len(st.AuditEntries))
	return nil
}

// replaceFile writes data next to path, syncs it and renames it into place.
// The temp file never outlives a failed call.
func replaceFile(path string, data []byte) (err error) {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fileMode)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	if _, err = f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename temp to state: %w", err)
	}
	return nil
}

// DefaultState is the first-boot state: engine on for every package, no
// rules, unmatched decisions recorded.
func (s *FileStateStore) DefaultState() *AppState {
	now := time.Now().UTC()
	return &AppState{
		Version: CurrentVersion,
		Rules:   []rule.Config{},
		Settings: SettingsEntry{
			Enabled:         true,
			TargetPackages:  []string{},
			RecordUnmatched: true,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Remove deletes the state file, its backup and its lock file, returning
// the paths that existed.
func (s *FileStateStore) Remove() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	for _, p := range []string{s.path, s.path + ".bak", s.path + ".lock"} {
		err := os.Remove(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return removed, fmt.Errorf("remove %s: %w", p, err)
		}
		removed = append(removed, p)
	}
	return removed, nil
}

// Exists reports whether the state file is on disk.
func (s *FileStateStore) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Path returns the state file path.
func (s *FileStateStore) Path() string {
	return s.path
}
