package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// RetentionConfig controls archive pruning.
type RetentionConfig struct {
	// MaxAge removes entries older than this. 0 disables age pruning.
	MaxAge time.Duration

	// MaxEntries keeps at most this many entries. 0 disables count pruning.
	MaxEntries int64

	// Schedule is a standard 5-field cron expression. Empty disables the
	// scheduler; Prune can still be called directly.
	Schedule string
}

// Pruner applies the retention policy to an Archive, on demand or on a
// cron schedule.
type Pruner struct {
	archive *Archive
	config  RetentionConfig
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewPruner creates a Pruner.
func NewPruner(archive *Archive, config RetentionConfig, logger *slog.Logger) *Pruner {
	return &Pruner{
		archive: archive,
		config:  config,
		logger:  logger.With("component", "audit.retention"),
		now:     time.Now,
		cron:    cron.New(),
	}
}

// Prune removes entries outside the retention policy and returns how many
// were deleted.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	var total int64

	if p.config.MaxAge > 0 {
		n, err := p.archive.DeleteBefore(ctx, p.now().Add(-p.config.MaxAge))
		if err != nil {
			return total, fmt.Errorf("prune by age: %w", err)
		}
		total += n
	}
	if p.config.MaxEntries > 0 {
		n, err := p.archive.KeepNewest(ctx, p.config.MaxEntries)
		if err != nil {
			return total, fmt.Errorf("prune by count: %w", err)
		}
		total += n
	}

	if total > 0 {
		p.logger.Info("audit archive pruned",
			"deleted_count", total,
			"max_age", p.config.MaxAge,
			"max_entries", p.config.MaxEntries,
		)
	}
	return total, nil
}

// Start schedules pruning. It stops when ctx is cancelled or Stop is
// called.
func (p *Pruner) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.config.Schedule == "" {
		p.logger.Info("prune schedule not configured, skipping scheduler")
		return nil
	}
	if _, err := cron.ParseStandard(p.config.Schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", p.config.Schedule, err)
	}
	if _, err := p.cron.AddFunc(p.config.Schedule, func() {
		if _, err := p.Prune(ctx); err != nil {
			p.logger.Error("scheduled pruning failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule pruning: %w", err)
	}

	p.cron.Start()
	p.running = true
	p.logger.Info("retention scheduler started", "schedule", p.config.Schedule)

	go func() {
		<-ctx.Done()
		p.Stop()
	}()
	return nil
}

// Stop halts the scheduler and waits for a running prune to finish.
func (p *Pruner) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	<-p.cron.Stop().Done()
	p.running = false
	p.logger.Info("retention scheduler stopped")
}

// NextRun returns the next scheduled prune, or nil when not scheduled.
func (p *Pruner) NextRun() *time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()

	entries := p.cron.Entries()
	if !p.running || len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
