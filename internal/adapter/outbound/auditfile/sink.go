// Package auditfile writes audit entries to JSON Lines files with daily
// and size-based rotation and age-based retention.
//
// Files are named audit-YYYY-MM-DD.jsonl, then audit-YYYY-MM-DD-1.jsonl and
// so on once a day's file reaches the size cap. The date is the UTC date
// of the entries inside, not of the write.
package auditfile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/intentgate/intentgate/internal/domain/audit"
)

const (
	dateLayout = "2006-01-02"

	// DefaultRetentionDays is how long files are kept when Config leaves
	// RetentionDays unset.
	DefaultRetentionDays = 7
	// DefaultMaxFileSizeMB is the rotation size when Config leaves
	// MaxFileSizeMB unset.
	DefaultMaxFileSizeMB = 100

	cleanupInterval = time.Hour
)

var filePattern = regexp.MustCompile(`^audit-(\d{4}-\d{2}-\d{2})(?:-(\d+))?\.jsonl$`)

// Config configures a Sink.
type Config struct {
	Dir           string
	RetentionDays int
	MaxFileSizeMB int
}

// Sink appends audit entries to rotating files. It implements audit.Sink.
type Sink struct {
	dir       string
	maxSize   int64
	retention int
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.Mutex
	file   *os.File
	date   string
	suffix int
	size   int64
	closed bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// Open creates the directory if needed, removes expired files, opens the
// newest file for today and starts the hourly retention sweep.
func Open(cfg Config, logger *slog.Logger) (*Sink, error) {
	return open(cfg, logger, time.Now)
}

func open(cfg Config, logger *slog.Logger, now func() time.Time) (*Sink, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("audit file directory not set")
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = DefaultRetentionDays
	}
	if cfg.MaxFileSizeMB <= 0 {
		cfg.MaxFileSizeMB = DefaultMaxFileSizeMB
	}
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}

	s := &Sink{
		dir:       cfg.Dir,
		maxSize:   int64(cfg.MaxFileSizeMB) << 20,
		retention: cfg.RetentionDays,
		logger:    logger,
		now:       now,
		stop:      make(chan struct{}),
	}
	return s, s.start()
}

func (s *Sink) start() error {
	today := s.now().UTC().Format(dateLayout)
	if err := s.openLocked(today, s.highestSuffix(today)); err != nil {
		return err
	}
	s.Cleanup()

	s.wg.Add(1)
	go s.cleanupLoop()
	return nil
}

// Append writes entries as JSON lines, rotating when the entry date
// changes or the current file reaches the size cap.
func (s *Sink) Append(_ context.Context, entries ...audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("audit file sink closed")
	}

	for _, e := range entries {
		date := e.Timestamp.UTC().Format(dateLayout)
		switch {
		case date != s.date:
			if err := s.openLocked(date, s.highestSuffix(date)); err != nil {
				return fmt.Errorf("rotate to %s: %w", date, err)
			}
		case s.size >= s.maxSize:
			if err := s.openLocked(s.date, s.suffix+1); err != nil {
				return fmt.Errorf("rotate on size: %w", err)
			}
		}

		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal audit entry %s: %w", e.ID, err)
		}
		n, err := s.file.Write(append(data, '\n'))
		s.size += int64(n)
		if err != nil {
			return fmt.Errorf("write audit entry %s: %w", e.ID, err)
		}
	}
	return nil
}

// Close stops the retention sweep and closes the current file.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.stop)
	var err error
	if s.file != nil {
		_ = s.file.Sync()
		err = s.file.Close()
		s.file = nil
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

// Files returns the audit file paths in chronological order.
func (s *Sink) Files() ([]string, error) {
	names, err := listFiles(s.dir)
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(names))
	for i, f := range names {
		paths[i] = filepath.Join(s.dir, f.name)
	}
	return paths, nil
}

// Cleanup removes files dated before the retention window. It returns
// the number of files removed.
func (s *Sink) Cleanup() int {
	files, err := listFiles(s.dir)
	if err != nil {
		s.logger.Error("audit file cleanup failed", "dir", s.dir, "error", err)
		return 0
	}

	s.mu.Lock()
	current := s.date
	s.mu.Unlock()

	cutoff := s.now().UTC().AddDate(0, 0, -s.retention).Format(dateLayout)
	removed := 0
	for _, f := range files {
		if f.date >= cutoff || f.date == current {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, f.name)); err != nil {
			s.logger.Error("failed to remove expired audit file", "file", f.name, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("audit file cleanup completed", "removed", removed, "retention_days", s.retention)
	}
	return removed
}

func (s *Sink) cleanupLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.Cleanup()
		}
	}
}

// openLocked swaps the current file for date/suffix. Callers hold s.mu or
// own s exclusively.
func (s *Sink) openLocked(date string, suffix int) error {
	path := filepath.Join(s.dir, fileName(date, suffix))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat %s: %w", path, err)
	}

	if s.file != nil {
		_ = s.file.Sync()
		_ = s.file.Close()
	}
	s.file = f
	s.date = date
	s.suffix = suffix
	s.size = info.Size()
	return nil
}

func (s *Sink) highestSuffix(date string) int {
	files, err := listFiles(s.dir)
	if err != nil {
		return 0
	}
	highest := 0
	for _, f := range files {
		if f.date == date && f.suffix > highest {
			highest = f.suffix
		}
	}
	return highest
}

func fileName(date string, suffix int) string {
	if suffix == 0 {
		return "audit-" + date + ".jsonl"
	}
	return "audit-" + date + "-" + strconv.Itoa(suffix) + ".jsonl"
}

type fileInfo struct {
	name   string
	date   string
	suffix int
}

// listFiles returns the audit files in dir ordered by date then suffix.
func listFiles(dir string) ([]fileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []fileInfo
	for _, e := range entries {
		m := filePattern.FindStringSubmatch(e.Name())
		if m == nil || e.IsDir() {
			continue
		}
		f := fileInfo{name: e.Name(), date: m[1]}
		if m[2] != "" {
			n, err := strconv.Atoi(m[2])
			if err != nil {
				continue
			}
			f.suffix = n
		}
		files = append(files, f)
	}
	slices.SortFunc(files, func(a, b fileInfo) int {
		if a.date != b.date {
			if a.date < b.date {
				return -1
			}
			return 1
		}
		return a.suffix - b.suffix
	})
	return files, nil
}

var _ audit.Sink = (*Sink)(nil)
