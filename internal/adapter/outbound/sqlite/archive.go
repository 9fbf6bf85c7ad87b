package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/intentgate/intentgate/internal/domain/audit"
)

// Config contains configuration for the archive.
type Config struct {
	// Path is the database file path. ":memory:" keeps the archive in RAM.
	Path string

	// MaxOpenConns is the maximum number of open connections.
	// Default: 4
	MaxOpenConns int

	// WALMode enables Write-Ahead Logging for concurrent readers.
	// Default: true
	WALMode bool

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// DefaultConfig returns the default archive configuration.
func DefaultConfig() *Config {
	return &Config{
		Path:         "data/audit.db",
		MaxOpenConns: 4,
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
	}
}

// Archive persists audit entries in SQLite. It implements audit.Sink.
type Archive struct {
	db     *sql.DB
	config *Config
	logger *slog.Logger
}

// Open creates or opens the archive database and initializes its schema.
func Open(config *Config, logger *slog.Logger) (*Archive, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxOpenConns <= 0 {
		config.MaxOpenConns = 4
	}

	db, err := sql.Open("sqlite", config.Path)
	if err != nil {
		return nil, fmt.Errorf("open audit archive: %w", err)
	}
	if config.Path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}

	a := &Archive{
		db:     db,
		config: config,
		logger: logger.With("component", "audit.archive"),
	}
	if err := a.initialize(); err != nil {
		_ = db.Close()
		return nil, err
	}

	a.logger.Info("audit archive initialized", "path", config.Path, "wal_mode", config.WALMode)
	return a, nil
}

func (a *Archive) initialize() error {
	if a.config.WALMode && a.config.Path != ":memory:" {
		if _, err := a.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return fmt.Errorf("enable WAL: %w", err)
		}
	}
	if _, err := a.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", a.config.BusyTimeout.Milliseconds())); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := a.db.Exec(Schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := a.db.Exec(InsertSchemaVersion, SchemaVersion); err != nil {
		return fmt.Errorf("insert schema version: %w", err)
	}

	var version sql.NullInt64
	if err := a.db.QueryRow(GetSchemaVersion).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version.Int64 != SchemaVersion {
		return fmt.Errorf("schema version mismatch: expected %d, got %d", SchemaVersion, version.Int64)
	}
	return nil
}

// Append implements audit.Sink. The batch is written in one transaction;
// entries already archived are ignored.
func (a *Archive) Append(ctx context.Context, entries ...audit.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin archive transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO audit_entries (
			id, recorded_at, rule_id, action, source, blocked, modified, snapshot_version, entry
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare archive insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal audit entry %s: %w", e.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			e.ID, e.Timestamp.UnixNano(), nullString(e.RuleID), string(e.Action), string(e.Source),
			e.Blocked, e.Modified, nullString(e.SnapshotVersion), string(data),
		); err != nil {
			return fmt.Errorf("insert audit entry %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit archive transaction: %w", err)
	}
	a.logger.Debug("audit batch archived", "count", len(entries))
	return nil
}

// Query returns archived entries matching f, most recent first.
func (a *Archive) Query(ctx context.Context, f audit.Filter) ([]audit.Entry, error) {
	var (
		where []string
		args  []any
	)
	if f.Action != "" {
		where = append(where, "action = ?")
		args = append(args, string(f.Action))
	}
	if f.RuleID != "" {
		where = append(where, "rule_id = ?")
		args = append(args, f.RuleID)
	}
	if f.Source != "" {
		where = append(where, "source = ?")
		args = append(args, string(f.Source))
	}
	if !f.Since.IsZero() {
		where = append(where, "recorded_at >= ?")
		args = append(args, f.Since.UnixNano())
	}

	query := "SELECT entry FROM audit_entries"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY recorded_at DESC, rowid DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit archive: %w", err)
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		var e audit.Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			a.logger.Warn("skipping unreadable archived entry", "error", err)
			continue
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Count returns the number of archived entries.
func (a *Archive) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := a.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_entries").Scan(&n); err != nil {
		return 0, fmt.Errorf("count audit archive: %w", err)
	}
	return n, nil
}

// DeleteBefore removes entries recorded before cutoff and returns how many
// were removed.
func (a *Archive) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := a.db.ExecContext(ctx, "DELETE FROM audit_entries WHERE recorded_at < ?", cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("delete archived entries: %w", err)
	}
	return res.RowsAffected()
}

// KeepNewest removes all but the max most recent entries.
func (a *Archive) KeepNewest(ctx context.Context, max int64) (int64, error) {
	if max <= 0 {
		return 0, errors.New("max must be positive")
	}
	res, err := a.db.ExecContext(ctx, `
		DELETE FROM audit_entries WHERE id NOT IN (
			SELECT id FROM audit_entries ORDER BY recorded_at DESC, rowid DESC LIMIT ?
		)`, max)
	if err != nil {
		return 0, fmt.Errorf("trim archived entries: %w", err)
	}
	return res.RowsAffected()
}

// Ping checks that the database is reachable.
func (a *Archive) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

// Close implements audit.Sink.
func (a *Archive) Close() error {
	return a.db.Close()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var _ audit.Sink = (*Archive)(nil)
