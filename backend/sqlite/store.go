package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"gosynctasks/backend"
	"gosynctasks/internal/deletionlog"
)

// Store implements backend.Store over a modernc.org/sqlite connection. It
// backs both the durable LocalStore (file DSN) and the throw-away staging
// store materialised during pull/bidirectional sync (memory or temp-file
// DSN) — the schema and access patterns are identical, only the DSN
// differs.
type Store struct {
	db   *sql.DB
	path string

	// DeletionLog mirrors every DeleteTask into the account's append-only
	// deletion_log.json file, in addition to the row this store already
	// keeps in its own deletion_log table. Left nil, DeleteTask skips it —
	// staging stores and tests have no account directory to write one
	// into. Only LocalStore (via openSession) sets it; RemoteStore has no
	// local account directory to anchor a file to, so it relies on its
	// own deletion_log table alone.
	DeletionLog *deletionlog.Log
}

// Open creates (if needed) and returns a Store backed by dsn, a
// modernc.org/sqlite data source name. Use "file:name.db" for a durable
// store and "file:name?mode=memory&cache=shared" for a staging store.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, backend.NewStoreError("open", err)
	}
	db.SetMaxOpenConns(1) // matches sqlite's single-writer discipline

	s := &Store{db: db, path: dsn}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	for _, pragma := range PragmaStatements() {
		if strings.Contains(s.path, "mode=memory") && strings.Contains(pragma, "journal_mode") {
			continue // WAL is meaningless (and can error) on an in-memory database
		}
		if _, err := s.db.Exec(pragma); err != nil {
			return backend.NewStoreError("pragma", err)
		}
	}
	for _, stmt := range AllTableSchemas() {
		if _, err := s.db.Exec(stmt); err != nil {
			return backend.NewStoreError("schema", err)
		}
	}
	for _, stmt := range AllIndexes() {
		if _, err := s.db.Exec(stmt); err != nil {
			return backend.NewStoreError("schema", err)
		}
	}
	if _, err := s.db.Exec(
		`INSERT OR IGNORE INTO schema_version (version, applied_at) VALUES (?, ?)`,
		SchemaVersion, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return backend.NewStoreError("schema", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// LoadTasks returns all tasks matching filter, ordered by
// (tasklist_id, position, created_at) when filter leaves ordering
// unspecified.
func (s *Store) LoadTasks(ctx context.Context, filter *backend.Filter) ([]backend.Task, error) {
	query := `SELECT id, title, description, notes, due, status, priority, project,
		tags_json, dependencies_json, recurrence_rule, created_at, modified_at,
		completed_at, tasklist_id, position, is_recurring, recurring_task_id,
		estimated_duration, actual_duration FROM tasks WHERE 1=1`
	var args []interface{}

	if filter != nil {
		if filter.Status != nil {
			query += " AND status = ?"
			args = append(args, string(*filter.Status))
		}
		if filter.TasklistID != nil {
			query += " AND tasklist_id = ?"
			args = append(args, *filter.TasklistID)
		}
		if filter.ModifiedSince != nil {
			query += " AND modified_at >= ?"
			args = append(args, filter.ModifiedSince.UTC().Format(time.RFC3339))
		}
	}
	query += " ORDER BY tasklist_id, position, created_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, backend.NewStoreError("query", err)
	}
	defer rows.Close()

	var tasks []backend.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, backend.NewStoreError("scan", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, backend.NewStoreError("rows", err)
	}
	return tasks, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row scanner) (backend.Task, error) {
	var t backend.Task
	var due, completedAt, recurringTaskID, description, notes, project, recurrenceRule sql.NullString
	var tagsJSON, depsJSON string
	var createdAt, modifiedAt string
	var estimated, actual sql.NullInt64
	var isRecurring int

	err := row.Scan(&t.ID, &t.Title, &description, &notes, &due, &t.Status, &t.Priority,
		&project, &tagsJSON, &depsJSON, &recurrenceRule, &createdAt, &modifiedAt,
		&completedAt, &t.TasklistID, &t.Position, &isRecurring, &recurringTaskID,
		&estimated, &actual)
	if err != nil {
		return t, err
	}

	t.Description = description.String
	t.Notes = notes.String
	t.Project = project.String
	t.RecurrenceRule = recurrenceRule.String
	t.RecurringTaskID = recurringTaskID.String
	t.IsRecurring = isRecurring != 0
	t.EstimatedDuration = int(estimated.Int64)
	t.ActualDuration = int(actual.Int64)

	if due.Valid && due.String != "" {
		parsed, perr := time.Parse(time.RFC3339, due.String)
		if perr == nil {
			t.Due = &parsed
		}
	}
	if completedAt.Valid && completedAt.String != "" {
		parsed, perr := time.Parse(time.RFC3339, completedAt.String)
		if perr == nil {
			t.CompletedAt = &parsed
		}
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	t.ModifiedAt, _ = time.Parse(time.RFC3339, modifiedAt)

	if tagsJSON != "" {
		_ = json.Unmarshal([]byte(tagsJSON), &t.Tags)
	}
	if depsJSON != "" {
		_ = json.Unmarshal([]byte(depsJSON), &t.Dependencies)
	}
	return t, nil
}

// SaveTask upserts by id with optimistic concurrency on modified_at and
// fingerprint-dedup-at-insert: a brand-new task whose fingerprint matches
// an existing row is folded into that row rather than inserted as a
// duplicate, guarding against rapid double-submits creating near-identical
// tasks.
func (s *Store) SaveTask(ctx context.Context, task backend.Task) error {
	if strings.TrimSpace(task.Title) == "" {
		return backend.NewValidationError("title", "must not be empty after trim")
	}
	task.Tags = backend.DedupTags(task.Tags)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return backend.NewStoreError("begin", err)
	}
	defer tx.Rollback()

	if err := checkAcyclic(ctx, tx, task); err != nil {
		return err
	}

	existing, found, err := loadOne(ctx, tx, task.ID)
	if err != nil {
		return backend.NewStoreError("query", err)
	}

	if !found {
		if dupeID, dupeFound, derr := findDuplicateByFingerprint(ctx, tx, task); derr == nil && dupeFound {
			task.ID = dupeID
			existing, found, err = loadOne(ctx, tx, task.ID)
			if err != nil {
				return backend.NewStoreError("query", err)
			}
		}
	}

	if found {
		if !task.ModifiedAt.IsZero() && !existing.ModifiedAt.IsZero() && task.ModifiedAt.Before(existing.ModifiedAt) {
			return backend.NewConflictError(task.ID, existing.ModifiedAt.Format(time.RFC3339), task.ModifiedAt.Format(time.RFC3339))
		}
	}

	if task.ModifiedAt.IsZero() {
		task.ModifiedAt = time.Now().UTC()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = task.ModifiedAt
	}
	if task.Status == backend.StatusCompleted && task.CompletedAt == nil {
		now := task.ModifiedAt
		task.CompletedAt = &now
	}
	if task.Status != backend.StatusCompleted {
		task.CompletedAt = nil
	}

	if err := upsertOne(ctx, tx, task); err != nil {
		return backend.NewStoreError("upsert", err)
	}

	return tx.Commit()
}

// SaveTasks performs an atomic bulk upsert: either every row applies or
// none do.
func (s *Store) SaveTasks(ctx context.Context, tasks []backend.Task) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return backend.NewStoreError("begin", err)
	}
	defer tx.Rollback()

	for _, task := range tasks {
		task.Tags = backend.DedupTags(task.Tags)
		if task.ModifiedAt.IsZero() {
			task.ModifiedAt = time.Now().UTC()
		}
		if task.CreatedAt.IsZero() {
			task.CreatedAt = task.ModifiedAt
		}
		if err := upsertOne(ctx, tx, task); err != nil {
			return backend.NewStoreError("upsert", err)
		}
	}
	return tx.Commit()
}

// DeleteTask soft-deletes: the SQL deletion_log row lands in the same
// transaction as the status flip, so both survive or neither does; the
// NDJSON mirror in DeletionLog is appended only after that transaction
// commits, since it can't be rolled back once fsynced.
func (s *Store) DeleteTask(ctx context.Context, id string, reason backend.DeletionReason) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return backend.NewStoreError("begin", err)
	}
	defer tx.Rollback()

	existing, found, err := loadOne(ctx, tx, id)
	if err != nil {
		return backend.NewStoreError("query", err)
	}
	if !found {
		return backend.NewStoreError("not-found", fmt.Errorf("task %q not found", id))
	}

	now := time.Now().UTC()
	statusBeforeDelete := existing.Status
	_, err = tx.ExecContext(ctx, `INSERT INTO deletion_log
		(task_id, title, description, due, status, deleted_at, deleted_by, tasklist_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		existing.ID, existing.Title, existing.Description, nullableTime(existing.Due),
		statusBeforeDelete, now.Format(time.RFC3339), string(reason), existing.TasklistID)
	if err != nil {
		return backend.NewStoreError("deletion-log", err)
	}

	existing.Status = backend.StatusDeleted
	existing.ModifiedAt = now
	existing.CompletedAt = nil
	if err := upsertOne(ctx, tx, existing); err != nil {
		return backend.NewStoreError("upsert", err)
	}

	if err := tx.Commit(); err != nil {
		return backend.NewStoreError("commit", err)
	}

	if s.DeletionLog != nil {
		entry := backend.DeletionEntry{
			TaskID:      existing.ID,
			Title:       existing.Title,
			Description: existing.Description,
			Due:         existing.Due,
			Status:      statusBeforeDelete,
			DeletedAt:   now,
			DeletedBy:   reason,
			TasklistID:  existing.TasklistID,
		}
		if err := s.DeletionLog.Append(entry); err != nil {
			return backend.NewStoreError("deletion-log-file", err)
		}
	}

	return nil
}

// PurgeTask physically removes a row already soft-deleted, once its
// deletion has been confirmed upstream.
func (s *Store) PurgeTask(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return backend.NewStoreError("delete", err)
	}
	return nil
}

func (s *Store) LoadListMapping(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT title, id FROM list_mapping`)
	if err != nil {
		return nil, backend.NewStoreError("query", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var title, id string
		if err := rows.Scan(&title, &id); err != nil {
			return nil, backend.NewStoreError("scan", err)
		}
		out[title] = id
	}
	return out, rows.Err()
}

func (s *Store) SaveListMapping(ctx context.Context, mapping map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return backend.NewStoreError("begin", err)
	}
	defer tx.Rollback()

	for title, id := range mapping {
		_, err := tx.ExecContext(ctx, `INSERT INTO list_mapping (title, id) VALUES (?, ?)
			ON CONFLICT(title) DO UPDATE SET id = excluded.id`, title, id)
		if err != nil {
			return backend.NewStoreError("upsert", err)
		}
	}
	return tx.Commit()
}

func (s *Store) LoadRemoteDBs(ctx context.Context) ([]backend.RemoteDBConfig, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, url, name, token, is_active, auto_sync,
		sync_frequency, last_synced_at FROM remote_dbs`)
	if err != nil {
		return nil, backend.NewStoreError("query", err)
	}
	defer rows.Close()

	var out []backend.RemoteDBConfig
	for rows.Next() {
		var r backend.RemoteDBConfig
		var lastSynced sql.NullString
		var isActive, autoSync int
		if err := rows.Scan(&r.ID, &r.URL, &r.Name, &r.Token, &isActive, &autoSync,
			&r.SyncFrequencyMinutes, &lastSynced); err != nil {
			return nil, backend.NewStoreError("scan", err)
		}
		r.IsActive = isActive != 0
		r.AutoSync = autoSync != 0
		if lastSynced.Valid && lastSynced.String != "" {
			if t, err := time.Parse(time.RFC3339, lastSynced.String); err == nil {
				r.LastSyncedAt = &t
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) SaveRemoteDBs(ctx context.Context, dbs []backend.RemoteDBConfig) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return backend.NewStoreError("begin", err)
	}
	defer tx.Rollback()

	for _, r := range dbs {
		var lastSynced interface{}
		if r.LastSyncedAt != nil {
			lastSynced = r.LastSyncedAt.UTC().Format(time.RFC3339)
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO remote_dbs
			(id, url, name, token, is_active, auto_sync, sync_frequency, last_synced_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET url=excluded.url, name=excluded.name,
				token=excluded.token, is_active=excluded.is_active,
				auto_sync=excluded.auto_sync, sync_frequency=excluded.sync_frequency,
				last_synced_at=excluded.last_synced_at`,
			r.ID, r.URL, r.Name, r.Token, boolToInt(r.IsActive), boolToInt(r.AutoSync),
			r.SyncFrequencyMinutes, lastSynced)
		if err != nil {
			return backend.NewStoreError("upsert", err)
		}
	}
	return tx.Commit()
}

func (s *Store) TaskCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&n)
	if err != nil {
		return 0, backend.NewStoreError("query", err)
	}
	return n, nil
}

func loadOne(ctx context.Context, tx *sql.Tx, id string) (backend.Task, bool, error) {
	row := tx.QueryRowContext(ctx, `SELECT id, title, description, notes, due, status, priority,
		project, tags_json, dependencies_json, recurrence_rule, created_at, modified_at,
		completed_at, tasklist_id, position, is_recurring, recurring_task_id,
		estimated_duration, actual_duration FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return backend.Task{}, false, nil
	}
	if err != nil {
		return backend.Task{}, false, err
	}
	return t, true, nil
}

func findDuplicateByFingerprint(ctx context.Context, tx *sql.Tx, task backend.Task) (string, bool, error) {
	fp, err := backend.FingerprintTask(task)
	if err != nil {
		return "", false, nil // unfingerprintable input is never a duplicate
	}
	rows, err := tx.QueryContext(ctx, `SELECT id, title, description, notes, due, status, priority,
		project, tags_json, dependencies_json, recurrence_rule, created_at, modified_at,
		completed_at, tasklist_id, position, is_recurring, recurring_task_id,
		estimated_duration, actual_duration FROM tasks`)
	if err != nil {
		return "", false, err
	}
	defer rows.Close()
	for rows.Next() {
		existing, err := scanTask(rows)
		if err != nil {
			continue
		}
		existingFP, err := backend.FingerprintTask(existing)
		if err != nil {
			continue
		}
		if existingFP == fp {
			return existing.ID, true, nil
		}
	}
	return "", false, nil
}

func upsertOne(ctx context.Context, tx *sql.Tx, task backend.Task) error {
	tagsJSON, _ := json.Marshal(task.Tags)
	depsJSON, _ := json.Marshal(task.Dependencies)

	_, err := tx.ExecContext(ctx, `INSERT INTO tasks
		(id, title, description, notes, due, status, priority, project, tags_json,
		 dependencies_json, recurrence_rule, created_at, modified_at, completed_at,
		 tasklist_id, position, is_recurring, recurring_task_id, estimated_duration, actual_duration)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title=excluded.title, description=excluded.description, notes=excluded.notes,
			due=excluded.due, status=excluded.status, priority=excluded.priority,
			project=excluded.project, tags_json=excluded.tags_json,
			dependencies_json=excluded.dependencies_json, recurrence_rule=excluded.recurrence_rule,
			modified_at=excluded.modified_at, completed_at=excluded.completed_at,
			tasklist_id=excluded.tasklist_id, position=excluded.position,
			is_recurring=excluded.is_recurring, recurring_task_id=excluded.recurring_task_id,
			estimated_duration=excluded.estimated_duration, actual_duration=excluded.actual_duration`,
		task.ID, task.Title, task.Description, task.Notes, nullableTime(task.Due),
		task.Status, task.Priority, task.Project, string(tagsJSON), string(depsJSON),
		task.RecurrenceRule, task.CreatedAt.UTC().Format(time.RFC3339),
		task.ModifiedAt.UTC().Format(time.RFC3339), nullableTime(task.CompletedAt),
		task.TasklistID, task.Position, boolToInt(task.IsRecurring), task.RecurringTaskID,
		task.EstimatedDuration, task.ActualDuration)
	return err
}

// checkAcyclic verifies that, after applying task, the in-memory
// dependency graph for the account contains no cycle. It loads ids-only
// via an arena (an in-memory id -> deps map) and runs a DFS.
func checkAcyclic(ctx context.Context, tx *sql.Tx, task backend.Task) error {
	if len(task.Dependencies) == 0 {
		return nil
	}
	rows, err := tx.QueryContext(ctx, `SELECT id, dependencies_json FROM tasks`)
	if err != nil {
		return backend.NewStoreError("query", err)
	}
	defer rows.Close()

	graph := map[string][]string{}
	for rows.Next() {
		var id, depsJSON string
		if err := rows.Scan(&id, &depsJSON); err != nil {
			return backend.NewStoreError("scan", err)
		}
		var deps []string
		_ = json.Unmarshal([]byte(depsJSON), &deps)
		graph[id] = deps
	}
	graph[task.ID] = task.Dependencies

	visiting := map[string]bool{}
	visited := map[string]bool{}
	var dfs func(id string) bool
	dfs = func(id string) bool {
		if visiting[id] {
			return true
		}
		if visited[id] {
			return false
		}
		visiting[id] = true
		for _, dep := range graph[id] {
			if dfs(dep) {
				return true
			}
		}
		visiting[id] = false
		visited[id] = true
		return false
	}

	if dfs(task.ID) {
		return backend.NewValidationError("dependencies", "would introduce a dependency cycle")
	}
	return nil
}

// SortByHierarchy orders tasks so that a parent-equivalent dependency
// always precedes any task that depends on it, keeping foreign-key-safe
// insert order when tasks reference each other via dependencies.
func SortByHierarchy(tasks []backend.Task) []backend.Task {
	byID := make(map[string]backend.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	var ordered []backend.Task
	placed := map[string]bool{}
	var place func(id string)
	place = func(id string) {
		if placed[id] {
			return
		}
		t, ok := byID[id]
		if !ok {
			return
		}
		placed[id] = true
		for _, dep := range t.Dependencies {
			place(dep)
		}
		ordered = append(ordered, t)
	}
	for _, t := range tasks {
		place(t.ID)
	}
	return ordered
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
