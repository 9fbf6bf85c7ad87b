package rulefile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSource_ReadRules(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte("- id: a\n  intentAction: LOG\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	src := NewSource(path)
	data, err := src.ReadRules(context.Background())
	if err != nil {
		t.Fatalf("ReadRules() error: %v", err)
	}
	if string(data) != "- id: a\n  intentAction: LOG\n" {
		t.Errorf("ReadRules() = %q", data)
	}
	if src.Path() != path {
		t.Errorf("Path() = %q", src.Path())
	}

	if _, err := NewSource(path + ".missing").ReadRules(context.Background()); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file error = %v, want ErrNotExist", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := src.ReadRules(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled ReadRules() error = %v", err)
	}
}

func TestWatcher_DebouncesWrites(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dir := t.TempDir()
	path := filepath.Join(dir, "rules.json")
	if err := os.WriteFile(path, []byte(`[]`), 0o600); err != nil {
		t.Fatal(err)
	}

	var calls atomic.Int32
	fired := make(chan struct{}, 10)
	w := NewWatcher(path, 100*time.Millisecond, func(context.Context) error {
		calls.Add(1)
		fired <- struct{}{}
		return nil
	}, testLogger())

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer w.Stop()

	if err := w.Start(context.Background()); !errors.Is(err, ErrWatcherRunning) {
		t.Errorf("second Start() error = %v, want ErrWatcherRunning", err)
	}

	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte(`[{"id":"a","intentAction":"LOG"}]`), 0o600); err != nil {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("reload not triggered")
	}
	time.Sleep(300 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Errorf("reload called %d times, want 1 for a burst", n)
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dir := t.TempDir()
	path := filepath.Join(dir, "rules.json")

	var calls atomic.Int32
	w := NewWatcher(path, 20*time.Millisecond, func(context.Context) error {
		calls.Add(1)
		return nil
	}, testLogger())
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "other.json"), []byte(`x`), 0o600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)

	if err := w.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if n := calls.Load(); n != 0 {
		t.Errorf("reload called %d times for an unrelated file", n)
	}
}

func TestWatcher_ReloadErrorKeepsWatching(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dir := t.TempDir()
	path := filepath.Join(dir, "rules.json")

	fired := make(chan struct{}, 10)
	w := NewWatcher(path, 20*time.Millisecond, func(context.Context) error {
		fired <- struct{}{}
		return errors.New("bad document")
	}, testLogger())
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer w.Stop()

	for i := 0; i < 2; i++ {
		if err := os.WriteFile(path, []byte(`{`), 0o600); err != nil {
			t.Fatal(err)
		}
		select {
		case <-fired:
		case <-time.After(3 * time.Second):
			t.Fatalf("reload %d not triggered", i+1)
		}
	}
}

func TestWatcher_StartMissingDirectory(t *testing.T) {
	t.Parallel()

	w := NewWatcher(filepath.Join(t.TempDir(), "nope", "rules.json"), 0, func(context.Context) error { return nil }, testLogger())
	if err := w.Start(context.Background()); err == nil {
		t.Error("Start() on a missing directory expected error")
	}
	if err := w.Stop(); err != nil {
		t.Errorf("Stop() on a never started watcher error: %v", err)
	}
}

func TestDebouncer_StopCancelsPending(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	d := NewDebouncer(50 * time.Millisecond)
	d.Trigger(func() { calls.Add(1) })
	d.Stop()
	d.Trigger(func() { calls.Add(1) })

	time.Sleep(150 * time.Millisecond)
	if n := calls.Load(); n != 0 {
		t.Errorf("callback ran %d times after Stop", n)
	}
}
