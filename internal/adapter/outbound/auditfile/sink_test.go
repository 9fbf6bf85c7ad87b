package auditfile

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/intentgate/intentgate/internal/domain/audit"
	"github.com/intentgate/intentgate/internal/domain/rule"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTest(t *testing.T, dir string) *Sink {
	t.Helper()
	s, err := open(Config{Dir: dir, RetentionDays: 3}, testLogger(), func() time.Time { return testNow })
	if err != nil {
		t.Fatalf("open() error: %v", err)
	}
	return s
}

func entry(id string, ts time.Time) audit.Entry {
	return audit.Entry{ID: id, Timestamp: ts, Action: rule.ActionLog, RuleID: "r", Source: audit.SourceIntercept}
}

func readEntries(t *testing.T, path string) []audit.Entry {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	var out []audit.Entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e audit.Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("decode line %q: %v", sc.Text(), err)
		}
		out = append(out, e)
	}
	return out
}

func TestSink_AppendAndDateRotation(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dir := t.TempDir()
	s := openTest(t, dir)

	ctx := context.Background()
	if err := s.Append(ctx, entry("a", testNow), entry("b", testNow.Add(time.Minute))); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	if err := s.Append(ctx, entry("c", testNow.Add(24*time.Hour))); err != nil {
		t.Fatalf("Append() next day error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	day1 := readEntries(t, filepath.Join(dir, "audit-2026-03-10.jsonl"))
	if len(day1) != 2 || day1[0].ID != "a" || day1[1].ID != "b" {
		t.Errorf("day 1 entries = %+v", day1)
	}
	day2 := readEntries(t, filepath.Join(dir, "audit-2026-03-11.jsonl"))
	if len(day2) != 1 || day2[0].ID != "c" {
		t.Errorf("day 2 entries = %+v", day2)
	}
}

func TestSink_SizeRotation(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dir := t.TempDir()
	s := openTest(t, dir)
	s.maxSize = 1

	for _, id := range []string{"a", "b", "c"} {
		if err := s.Append(context.Background(), entry(id, testNow)); err != nil {
			t.Fatalf("Append(%s) error: %v", id, err)
		}
	}

	files, err := s.Files()
	if err != nil {
		t.Fatalf("Files() error: %v", err)
	}
	want := []string{"audit-2026-03-10.jsonl", "audit-2026-03-10-1.jsonl", "audit-2026-03-10-2.jsonl"}
	if len(files) != len(want) {
		t.Fatalf("Files() = %v, want %v", files, want)
	}
	for i, name := range want {
		if filepath.Base(files[i]) != name {
			t.Errorf("Files()[%d] = %s, want %s", i, filepath.Base(files[i]), name)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	// Reopening continues in the newest file of the day.
	s = openTest(t, dir)
	defer s.Close()
	if s.suffix != 2 {
		t.Errorf("reopened suffix = %d, want 2", s.suffix)
	}
}

func TestSink_Cleanup(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dir := t.TempDir()
	for _, name := range []string{
		"audit-2026-03-01.jsonl",
		"audit-2026-03-01-1.jsonl",
		"audit-2026-03-08.jsonl",
		"notes.txt",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("{}\n"), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	// Open sweeps once; the 3 day window keeps the 8th and today.
	s := openTest(t, dir)
	defer s.Close()

	for name, wantExists := range map[string]bool{
		"audit-2026-03-01.jsonl":   false,
		"audit-2026-03-01-1.jsonl": false,
		"audit-2026-03-08.jsonl":   true,
		"audit-2026-03-10.jsonl":   true,
		"notes.txt":                true,
	} {
		_, err := os.Stat(filepath.Join(dir, name))
		if exists := err == nil; exists != wantExists {
			t.Errorf("%s exists = %v, want %v", name, exists, wantExists)
		}
	}

	if n := s.Cleanup(); n != 0 {
		t.Errorf("second Cleanup() removed %d files", n)
	}
}

func TestSink_Close(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s := openTest(t, t.TempDir())
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
	if err := s.Append(context.Background(), entry("late", testNow)); err == nil {
		t.Error("Append() after Close expected error")
	}
}

func TestOpen_RequiresDir(t *testing.T) {
	t.Parallel()

	if _, err := Open(Config{}, testLogger()); err == nil {
		t.Error("Open() without a directory expected error")
	}
}
