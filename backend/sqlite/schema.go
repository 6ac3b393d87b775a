// Package sqlite implements backend.Store on top of modernc.org/sqlite,
// used both for the durable LocalStore and for the throw-away staging
// store materialised during pull/bidirectional sync.
package sqlite

// SchemaVersion identifies the on-disk schema shape for migration
// tracking.
const SchemaVersion = 1

// TasksTableSQL is the full task row per the logical schema: every field
// of backend.Task, with tags/dependencies stored as compact JSON arrays.
const TasksTableSQL = `
CREATE TABLE IF NOT EXISTS tasks (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    description TEXT,
    notes TEXT,
    due TEXT,
    status TEXT NOT NULL,
    priority TEXT NOT NULL DEFAULT 'medium',
    project TEXT,
    tags_json TEXT NOT NULL DEFAULT '[]',
    dependencies_json TEXT NOT NULL DEFAULT '[]',
    recurrence_rule TEXT,
    created_at TEXT NOT NULL,
    modified_at TEXT NOT NULL,
    completed_at TEXT,
    tasklist_id TEXT NOT NULL,
    position INTEGER NOT NULL DEFAULT 0,
    is_recurring INTEGER NOT NULL DEFAULT 0,
    recurring_task_id TEXT,
    estimated_duration INTEGER,
    actual_duration INTEGER
);
`

// TaskListsTableSQL mirrors backend.TaskList.
const TaskListsTableSQL = `
CREATE TABLE IF NOT EXISTS task_lists (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    updated TEXT,
    position INTEGER NOT NULL DEFAULT 0,
    etag TEXT
);
`

// ListMappingTableSQL persists list_title -> list_id for the account.
const ListMappingTableSQL = `
CREATE TABLE IF NOT EXISTS list_mapping (
    title TEXT PRIMARY KEY,
    id TEXT NOT NULL
);
`

// RemoteDBsTableSQL persists backend.RemoteDBConfig entries.
const RemoteDBsTableSQL = `
CREATE TABLE IF NOT EXISTS remote_dbs (
    id TEXT PRIMARY KEY,
    url TEXT NOT NULL,
    name TEXT NOT NULL,
    token TEXT NOT NULL,
    is_active INTEGER NOT NULL DEFAULT 1,
    auto_sync INTEGER NOT NULL DEFAULT 0,
    sync_frequency INTEGER NOT NULL DEFAULT 0,
    last_synced_at TEXT
);
`

// DeletionLogTableSQL is the append-only deletion record, keyed by
// insertion order and never updated.
const DeletionLogTableSQL = `
CREATE TABLE IF NOT EXISTS deletion_log (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    task_id TEXT NOT NULL,
    title TEXT,
    description TEXT,
    due TEXT,
    status TEXT,
    deleted_at TEXT NOT NULL,
    deleted_by TEXT NOT NULL,
    tasklist_id TEXT
);
`

// SchemaVersionTableSQL tracks the applied schema version.
const SchemaVersionTableSQL = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
);
`

// TasksIndexesSQL supports overdue queries and list-scoped listing, per
// the schema invariant that (status, due) carries a secondary index.
const TasksIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_tasks_status_due ON tasks(status, due);
CREATE INDEX IF NOT EXISTS idx_tasks_tasklist_id ON tasks(tasklist_id);
CREATE INDEX IF NOT EXISTS idx_tasks_modified_at ON tasks(modified_at);
`

// DeletionLogIndexesSQL supports lookups by task id for restore.
const DeletionLogIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_deletion_log_task_id ON deletion_log(task_id);
`

// AllTableSchemas returns all table creation statements in dependency
// order.
func AllTableSchemas() []string {
	return []string{
		SchemaVersionTableSQL,
		TasksTableSQL,
		TaskListsTableSQL,
		ListMappingTableSQL,
		RemoteDBsTableSQL,
		DeletionLogTableSQL,
	}
}

// AllIndexes returns all index creation statements.
func AllIndexes() []string {
	return []string{
		TasksIndexesSQL,
		DeletionLogIndexesSQL,
	}
}

// PragmaStatements returns pragmas applied on every new connection.
func PragmaStatements() []string {
	return []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
}
