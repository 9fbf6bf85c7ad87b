// Package sqlite provides a SQLite-backed archive for audit entries. The
// in-memory audit log is bounded; the archive keeps the full history until
// retention pruning removes it.
package sqlite

// SchemaVersion is the current database schema version.
const SchemaVersion = 1

// Schema creates the archive tables. Indexed columns duplicate the fields
// queries filter on; the full entry is stored as JSON.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_entries (
    id TEXT PRIMARY KEY,
    recorded_at INTEGER NOT NULL,
    rule_id TEXT,
    action TEXT NOT NULL,
    source TEXT NOT NULL,
    blocked BOOLEAN NOT NULL,
    modified BOOLEAN NOT NULL,
    snapshot_version TEXT,
    entry TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_recorded_at ON audit_entries(recorded_at DESC);
CREATE INDEX IF NOT EXISTS idx_audit_rule_id ON audit_entries(rule_id);
CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_entries(action);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY
);
`

// InsertSchemaVersion records the schema version once.
const InsertSchemaVersion = `INSERT OR IGNORE INTO schema_version (version) VALUES (?)`

// GetSchemaVersion reads the highest recorded schema version.
const GetSchemaVersion = `SELECT MAX(version) FROM schema_version`
