// Package remote implements backend.Store over a libSQL/HTTP-style wire:
// the same SQL dialect as LocalStore, tunnelled through an authenticated
// HTTP(S) connection (Authorization: Bearer <token>), with retry/backoff
// on transient failures.
package remote

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"gosynctasks/backend"
)

const (
	maxAttempts = 5
	baseDelay   = 1 * time.Second
	maxDelay    = 30 * time.Second
)

// Store is a backend.Store implementation that executes SQL statements
// against a remote libSQL-compatible HTTP endpoint.
type Store struct {
	url    string
	token  string
	client *http.Client
}

// Option customises the underlying HTTP client: idle-connection tuning,
// optional insecure TLS for local development endpoints.
type Option func(*http.Transport)

func WithInsecureSkipVerify() Option {
	return func(t *http.Transport) {
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
}

func Open(url, token string, opts ...Option) *Store {
	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}
	for _, opt := range opts {
		opt(transport)
	}
	return &Store{
		url:   url,
		token: token,
		client: &http.Client{
			Transport: transport,
			Timeout:   30 * time.Second,
		},
	}
}

func (s *Store) Close() error { return nil }

// execRequest is the body of one HTTP request on the wire protocol: the
// list of statements the remote endpoint executes together.
type execRequest struct {
	Statements []statement `json:"statements"`
}

type statement struct {
	Query string        `json:"q"`
	Args  []interface{} `json:"args,omitempty"`
}

type execResponse struct {
	Results []struct {
		Columns []string        `json:"columns"`
		Rows    [][]interface{} `json:"rows"`
		Error   string          `json:"error,omitempty"`
	} `json:"results"`
}

// query executes one statement with exponential-backoff retry on
// transient failures (1s, 2s, 4s, cap 30s, max 5 attempts) and surfaces
// AuthError/UpstreamError, and a StoreError of kind "schema" for a
// schema mismatch, without retrying.
func (s *Store) query(ctx context.Context, q string, args ...interface{}) (*execResponse, error) {
	return s.queryBatch(ctx, []statement{{Query: q, Args: args}})
}

// queryBatch sends every statement in a single HTTP request, so the
// remote endpoint applies them as one unit: either all statements land or
// (on a transient failure) none do, since a partially-delivered request
// body never reaches the server. Retried as a whole on transient failure.
func (s *Store) queryBatch(ctx context.Context, statements []statement) (*execResponse, error) {
	reqBody, err := json.Marshal(execRequest{Statements: statements})
	if err != nil {
		return nil, backend.NewValidationError("query", err.Error())
	}

	delay := baseDelay
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(reqBody))
		if err != nil {
			return nil, backend.NewValidationError("request", err.Error())
		}
		req.Header.Set("Authorization", "Bearer "+s.token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			lastErr = backend.NewTransientNetError("query", attempt, err)
			time.Sleep(delay)
			delay = nextDelay(delay)
			continue
		}

		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return nil, backend.NewAuthError("query", fmt.Errorf("status %d", resp.StatusCode))
		case resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusTooManyRequests:
			lastErr = backend.NewTransientNetError("query", attempt, fmt.Errorf("status %d", resp.StatusCode))
			time.Sleep(delay)
			delay = nextDelay(delay)
			continue
		case resp.StatusCode >= 400:
			return nil, backend.NewUpstreamError("query", resp.StatusCode, string(body))
		}

		var out execResponse
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, backend.NewStoreError("decode", err)
		}
		for _, result := range out.Results {
			if result.Error != "" {
				return nil, backend.NewStoreError("schema", fmt.Errorf("%s", result.Error))
			}
		}
		return &out, nil
	}
	return nil, lastErr
}

func nextDelay(d time.Duration) time.Duration {
	d *= 2
	if d > maxDelay {
		return maxDelay
	}
	return d
}

func (s *Store) LoadTasks(ctx context.Context, filter *backend.Filter) ([]backend.Task, error) {
	q := `SELECT id, title, description, notes, due, status, priority, project,
		tags_json, dependencies_json, recurrence_rule, created_at, modified_at,
		completed_at, tasklist_id, position, is_recurring, recurring_task_id,
		estimated_duration, actual_duration FROM tasks`
	resp, err := s.query(ctx, q)
	if err != nil {
		return nil, err
	}
	var tasks []backend.Task
	for _, row := range firstResultRows(resp) {
		t, err := decodeTaskRow(row)
		if err != nil {
			return nil, backend.NewStoreError("decode", err)
		}
		if filter != nil {
			if filter.Status != nil && t.Status != *filter.Status {
				continue
			}
			if filter.TasklistID != nil && t.TasklistID != *filter.TasklistID {
				continue
			}
			if filter.ModifiedSince != nil && t.ModifiedAt.Before(*filter.ModifiedSince) {
				continue
			}
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// SaveTask upserts a single task under the same optimistic-concurrency
// rule as LocalStore: a write against a row a concurrent writer has
// already moved forward fails with ConflictError instead of clobbering it.
func (s *Store) SaveTask(ctx context.Context, task backend.Task) error {
	return s.upsert(ctx, task)
}

// SaveTasks is an atomic bulk upsert: every row's statement is sent in
// one HTTP request, so the remote endpoint applies all of them or (on a
// transport failure) none of them — never a partial batch. The
// conflict check runs first, over every id in one SELECT, so a stale
// write anywhere in the batch aborts the whole call before any upsert
// statement is sent.
func (s *Store) SaveTasks(ctx context.Context, tasks []backend.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	existing, err := s.loadModifiedTimes(ctx, ids)
	if err != nil {
		return err
	}

	statements := make([]statement, len(tasks))
	for i, task := range tasks {
		if task.ModifiedAt.IsZero() {
			task.ModifiedAt = time.Now().UTC()
		}
		if task.CreatedAt.IsZero() {
			task.CreatedAt = task.ModifiedAt
		}
		if prev, ok := existing[task.ID]; ok && task.ModifiedAt.Before(prev) {
			return backend.NewConflictError(task.ID, prev.Format(time.RFC3339), task.ModifiedAt.Format(time.RFC3339))
		}
		statements[i] = upsertStatement(task)
	}

	_, err = s.queryBatch(ctx, statements)
	return err
}

func (s *Store) upsert(ctx context.Context, task backend.Task) error {
	if task.ModifiedAt.IsZero() {
		task.ModifiedAt = time.Now().UTC()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = task.ModifiedAt
	}

	existingModifiedAt, found, err := s.loadModifiedAt(ctx, task.ID)
	if err != nil {
		return err
	}
	if found && task.ModifiedAt.Before(existingModifiedAt) {
		return backend.NewConflictError(task.ID, existingModifiedAt.Format(time.RFC3339), task.ModifiedAt.Format(time.RFC3339))
	}

	_, err = s.queryBatch(ctx, []statement{upsertStatement(task)})
	return err
}

// loadModifiedAt reads the current modified_at for id, or found=false if
// no row exists yet (a brand-new task never conflicts).
func (s *Store) loadModifiedAt(ctx context.Context, id string) (time.Time, bool, error) {
	resp, err := s.query(ctx, `SELECT modified_at FROM tasks WHERE id = ?`, id)
	if err != nil {
		return time.Time{}, false, err
	}
	rows := firstResultRows(resp)
	if len(rows) == 0 || len(rows[0]) == 0 {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(time.RFC3339, toString(rows[0][0]))
	if err != nil {
		return time.Time{}, false, nil
	}
	return t, true, nil
}

// loadModifiedTimes is the batch form of loadModifiedAt: one SELECT for
// every id in ids, keyed by task id.
func (s *Store) loadModifiedTimes(ctx context.Context, ids []string) (map[string]time.Time, error) {
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	q := fmt.Sprintf(`SELECT id, modified_at FROM tasks WHERE id IN (%s)`, strings.Join(placeholders, ", "))
	resp, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	out := map[string]time.Time{}
	for _, row := range firstResultRows(resp) {
		if len(row) < 2 {
			continue
		}
		if t, err := time.Parse(time.RFC3339, toString(row[1])); err == nil {
			out[toString(row[0])] = t
		}
	}
	return out, nil
}

// upsertStatement builds the INSERT ... ON CONFLICT statement for task,
// shared by the single-row and batched upsert paths.
func upsertStatement(task backend.Task) statement {
	tagsJSON, _ := json.Marshal(task.Tags)
	depsJSON, _ := json.Marshal(task.Dependencies)

	return statement{
		Query: `INSERT INTO tasks
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
		Args: []interface{}{
			task.ID, task.Title, task.Description, task.Notes, formatNullableTime(task.Due),
			task.Status, task.Priority, task.Project, string(tagsJSON), string(depsJSON),
			task.RecurrenceRule, task.CreatedAt.UTC().Format(time.RFC3339),
			task.ModifiedAt.UTC().Format(time.RFC3339), formatNullableTime(task.CompletedAt),
			task.TasklistID, task.Position, task.IsRecurring, task.RecurringTaskID,
			task.EstimatedDuration, task.ActualDuration,
		},
	}
}

func (s *Store) DeleteTask(ctx context.Context, id string, reason backend.DeletionReason) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.queryBatch(ctx, []statement{
		{
			Query: `INSERT INTO deletion_log
				(task_id, title, description, due, status, deleted_at, deleted_by, tasklist_id)
				SELECT id, title, description, due, status, ?, ?, tasklist_id FROM tasks WHERE id = ?`,
			Args: []interface{}{now, string(reason), id},
		},
		{
			Query: `UPDATE tasks SET status = ?, modified_at = ?, completed_at = NULL WHERE id = ?`,
			Args:  []interface{}{string(backend.StatusDeleted), now, id},
		},
	})
	return err
}

func (s *Store) PurgeTask(ctx context.Context, id string) error {
	_, err := s.query(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	return err
}

func (s *Store) LoadListMapping(ctx context.Context) (map[string]string, error) {
	resp, err := s.query(ctx, `SELECT title, id FROM list_mapping`)
	if err != nil {
		return nil, err
	}
	out := map[string]string{}
	for _, row := range firstResultRows(resp) {
		if len(row) < 2 {
			continue
		}
		out[toString(row[0])] = toString(row[1])
	}
	return out, nil
}

func (s *Store) SaveListMapping(ctx context.Context, mapping map[string]string) error {
	if len(mapping) == 0 {
		return nil
	}
	statements := make([]statement, 0, len(mapping))
	for title, id := range mapping {
		statements = append(statements, statement{
			Query: `INSERT INTO list_mapping (title, id) VALUES (?, ?)
				ON CONFLICT(title) DO UPDATE SET id = excluded.id`,
			Args: []interface{}{title, id},
		})
	}
	_, err := s.queryBatch(ctx, statements)
	return err
}

func (s *Store) LoadRemoteDBs(ctx context.Context) ([]backend.RemoteDBConfig, error) {
	resp, err := s.query(ctx, `SELECT id, url, name, token, is_active, auto_sync,
		sync_frequency, last_synced_at FROM remote_dbs`)
	if err != nil {
		return nil, err
	}
	var out []backend.RemoteDBConfig
	for _, row := range firstResultRows(resp) {
		if len(row) < 8 {
			continue
		}
		r := backend.RemoteDBConfig{
			ID:                   toString(row[0]),
			URL:                  toString(row[1]),
			Name:                 toString(row[2]),
			Token:                toString(row[3]),
			IsActive:             toBool(row[4]),
			AutoSync:             toBool(row[5]),
			SyncFrequencyMinutes: int(toFloat(row[6])),
		}
		if ts := toString(row[7]); ts != "" {
			if t, err := time.Parse(time.RFC3339, ts); err == nil {
				r.LastSyncedAt = &t
			}
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) SaveRemoteDBs(ctx context.Context, dbs []backend.RemoteDBConfig) error {
	if len(dbs) == 0 {
		return nil
	}
	statements := make([]statement, len(dbs))
	for i, r := range dbs {
		statements[i] = statement{
			Query: `INSERT INTO remote_dbs
				(id, url, name, token, is_active, auto_sync, sync_frequency, last_synced_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET url=excluded.url, name=excluded.name,
					token=excluded.token, is_active=excluded.is_active,
					auto_sync=excluded.auto_sync, sync_frequency=excluded.sync_frequency,
					last_synced_at=excluded.last_synced_at`,
			Args: []interface{}{r.ID, r.URL, r.Name, r.Token, r.IsActive, r.AutoSync,
				r.SyncFrequencyMinutes, formatNullableTime(r.LastSyncedAt)},
		}
	}
	_, err := s.queryBatch(ctx, statements)
	return err
}

func (s *Store) TaskCount(ctx context.Context) (int, error) {
	resp, err := s.query(ctx, `SELECT COUNT(*) FROM tasks`)
	if err != nil {
		return 0, err
	}
	rows := firstResultRows(resp)
	if len(rows) == 0 || len(rows[0]) == 0 {
		return 0, nil
	}
	return int(toFloat(rows[0][0])), nil
}

func firstResultRows(resp *execResponse) [][]interface{} {
	if resp == nil || len(resp.Results) == 0 {
		return nil
	}
	return resp.Results[0].Rows
}

func decodeTaskRow(row []interface{}) (backend.Task, error) {
	var t backend.Task
	if len(row) < 20 {
		return t, fmt.Errorf("unexpected column count %d", len(row))
	}
	t.ID = toString(row[0])
	t.Title = toString(row[1])
	t.Description = toString(row[2])
	t.Notes = toString(row[3])
	if due := toString(row[4]); due != "" {
		if parsed, err := time.Parse(time.RFC3339, due); err == nil {
			t.Due = &parsed
		}
	}
	t.Status = backend.Status(toString(row[5]))
	t.Priority = backend.Priority(toString(row[6]))
	t.Project = toString(row[7])
	_ = json.Unmarshal([]byte(toString(row[8])), &t.Tags)
	_ = json.Unmarshal([]byte(toString(row[9])), &t.Dependencies)
	t.RecurrenceRule = toString(row[10])
	t.CreatedAt, _ = time.Parse(time.RFC3339, toString(row[11]))
	t.ModifiedAt, _ = time.Parse(time.RFC3339, toString(row[12]))
	if completed := toString(row[13]); completed != "" {
		if parsed, err := time.Parse(time.RFC3339, completed); err == nil {
			t.CompletedAt = &parsed
		}
	}
	t.TasklistID = toString(row[14])
	t.Position = int(toFloat(row[15]))
	t.IsRecurring = toBool(row[16])
	t.RecurringTaskID = toString(row[17])
	t.EstimatedDuration = int(toFloat(row[18]))
	t.ActualDuration = int(toFloat(row[19]))
	return t, nil
}

func toString(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}

func toBool(v interface{}) bool {
	switch b := v.(type) {
	case bool:
		return b
	case float64:
		return b != 0
	default:
		return false
	}
}

func formatNullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
