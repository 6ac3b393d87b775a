// Package syncengine implements the three-way synchronization algorithm
// between LocalStore, a per-account set of RemoteStore replicas, and
// Google Tasks.
package syncengine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gosynctasks/backend"
	"gosynctasks/backend/conflict"
	"gosynctasks/backend/google"
	"gosynctasks/backend/sqlite"
	"gosynctasks/internal/synclog"
)

// CancelFunc reports whether the current job has been asked to stop. The
// engine polls it between phases and at the start of each task iteration.
type CancelFunc func() bool

// Engine orchestrates one account's Local/Remote/Google stores. A single
// Engine value is reused across jobs for the same account; it holds no
// per-job state of its own.
type Engine struct {
	AccountID     string
	Local         backend.Store
	Google        *google.Client
	Strategy      conflict.Strategy
	PullRangeDays *int
	Logger        *synclog.JobLogger

	// NewStaging builds a fresh, empty backend.Store used as scratch space
	// for normalising a bulk Google snapshot before it is reconciled
	// against Local. Defaults to an in-memory sqlite.Store.
	NewStaging func() (backend.Store, error)
}

func defaultStaging() (backend.Store, error) {
	return sqlite.Open("file::memory:?cache=shared")
}

// phaseWeights split overall job progress across phases: list
// enumeration 10%, snapshot 30%, classify+resolve 20%, apply 40%.
const (
	weightLists     = 10
	weightSnapshot  = 30
	weightClassify  = 20
	weightApply     = 40
)

// Sync dispatches to the pull/push/bidirectional algorithm named by kind.
// remote is consulted only for the remote_* kinds; it may be nil
// otherwise.
func (e *Engine) Sync(ctx context.Context, kind backend.SyncKind, remote backend.Store, progress backend.ProgressFunc, cancelled CancelFunc) (backend.SyncResult, error) {
	start := time.Now()
	if progress == nil {
		progress = func(int, string, backend.JobStatus) {}
	}
	if cancelled == nil {
		cancelled = func() bool { return false }
	}
	if e.NewStaging == nil {
		e.NewStaging = defaultStaging
	}

	var result backend.SyncResult
	var err error

	switch kind {
	case backend.SyncKindPull:
		result, err = e.pull(ctx, progress, cancelled)
	case backend.SyncKindPush:
		result, err = e.push(ctx, progress, cancelled)
	case backend.SyncKindBoth:
		result, err = e.bidirectional(ctx, progress, cancelled)
	case backend.SyncKindRemotePull:
		result, err = e.pullFromRemote(ctx, remote, progress, cancelled)
	case backend.SyncKindRemotePush:
		result, err = e.pushToRemote(ctx, remote, progress, cancelled)
	case backend.SyncKindRemoteBoth:
		result, err = e.bidirectionalRemote(ctx, remote, progress, cancelled)
	default:
		return backend.SyncResult{}, backend.NewValidationError("kind", fmt.Sprintf("unknown sync kind %q", kind))
	}

	result.Duration = time.Since(start)
	return result, err
}

// listCorrelation pairs the Local title->id mapping with the Google
// title->id snapshot it was derived from, so callers can translate in
// either direction without a second API round-trip.
type listCorrelation struct {
	localByTitle  map[string]string
	googleByTitle map[string]string
}

func (c listCorrelation) googleIDForLocal(localTasklistID string) string {
	for title, id := range c.localByTitle {
		if id == localTasklistID {
			return c.googleByTitle[title]
		}
	}
	return ""
}

// ensureListMapping fetches Google's tasklists and creates a Local
// mapping entry (title -> new local tasklist id) for any list Local has
// never seen.
func (e *Engine) ensureListMapping(ctx context.Context) (listCorrelation, error) {
	lists, err := e.Google.ListTaskLists(ctx)
	if err != nil {
		return listCorrelation{}, err
	}
	mapping, err := e.Local.LoadListMapping(ctx)
	if err != nil {
		return listCorrelation{}, backend.NewStoreError("list-mapping", err)
	}
	if mapping == nil {
		mapping = map[string]string{}
	}
	googleByTitle := make(map[string]string, len(lists))
	dirty := false
	for _, l := range lists {
		googleByTitle[l.Title] = l.ID
		if _, ok := mapping[l.Title]; !ok {
			mapping[l.Title] = uuid.NewString()
			dirty = true
		}
	}
	if dirty {
		if err := e.Local.SaveListMapping(ctx, mapping); err != nil {
			return listCorrelation{}, backend.NewStoreError("list-mapping", err)
		}
	}
	return listCorrelation{localByTitle: mapping, googleByTitle: googleByTitle}, nil
}

// pull implements the Pull algorithm: Google -> Local.
func (e *Engine) pull(ctx context.Context, progress backend.ProgressFunc, cancelled CancelFunc) (backend.SyncResult, error) {
	progress(0, "enumerating lists", backend.JobRunning)
	corr, err := e.ensureListMapping(ctx)
	if err != nil {
		return backend.SyncResult{}, err
	}
	progress(weightLists, "lists enumerated", backend.JobRunning)

	if cancelled() {
		return backend.SyncResult{}, backend.NewCancelled(e.AccountID)
	}

	var since *time.Time
	if e.PullRangeDays != nil {
		t := time.Now().AddDate(0, 0, -*e.PullRangeDays)
		since = &t
	}

	staging, err := e.NewStaging()
	if err != nil {
		return backend.SyncResult{}, backend.NewStoreError("staging", err)
	}
	defer staging.Close()

	var snapshot []backend.Task
	for title, localListID := range corr.localByTitle {
		googleListID, ok := corr.googleByTitle[title]
		if !ok {
			continue
		}
		gTasks, err := e.Google.ListTasks(ctx, googleListID, google.ListTasksOptions{Since: since, IncludeCompleted: true})
		if err != nil {
			return backend.SyncResult{}, err
		}
		for _, g := range gTasks {
			snapshot = append(snapshot, googleTaskToBackend(g, localListID))
		}
	}
	if err := staging.SaveTasks(ctx, snapshot); err != nil {
		return backend.SyncResult{}, err
	}
	normalized, err := staging.LoadTasks(ctx, nil)
	if err != nil {
		return backend.SyncResult{}, err
	}
	progress(weightLists+weightSnapshot, "snapshot normalised", backend.JobRunning)

	if cancelled() {
		return backend.SyncResult{}, backend.NewCancelled(e.AccountID)
	}

	localTasks, err := e.Local.LoadTasks(ctx, nil)
	if err != nil {
		return backend.SyncResult{}, err
	}
	localByID := map[string]backend.Task{}
	localByFP := map[string]backend.Task{}
	for _, t := range localTasks {
		localByID[t.ID] = t
		if fp, err := backend.FingerprintTask(t); err == nil {
			localByFP[fp] = t
		}
	}

	var toSave []backend.Task
	changed := backend.Changed{}
	conflictsResolved := 0

	for _, g := range normalized {
		if local, ok := localByID[g.ID]; ok {
			res := conflict.Resolve(e.Strategy, []conflict.Version{
				{Task: local, Origin: conflict.OriginLocal, Present: true},
				{Task: g, Origin: conflict.OriginGoogle, Present: true},
			})
			if res.Task.ModifiedAt.After(local.ModifiedAt) || res.Task.Status != local.Status {
				toSave = append(toSave, res.Task)
				changed.Updated++
				conflictsResolved++
			}
			continue
		}
		if fp, err := backend.FingerprintTask(g); err == nil {
			if local, ok := localByFP[fp]; ok {
				g.ID = local.ID // adopt the Local id going forward
				toSave = append(toSave, g)
				changed.Updated++
				continue
			}
		}
		toSave = append(toSave, g)
		changed.Created++
	}
	progress(weightLists+weightSnapshot+weightClassify, "classified", backend.JobRunning)

	if cancelled() {
		return backend.SyncResult{}, backend.NewCancelled(e.AccountID)
	}

	if err := e.applyWithRetry(ctx, sqlite.SortByHierarchy(toSave)); err != nil {
		return backend.SyncResult{}, err
	}

	// Tasks locally marked deleted since the previous pull are requested
	// for deletion upstream; Google treats deleting a non-existent id as
	// success, so a best-effort call suffices.
	for _, t := range localTasks {
		if t.Status != backend.StatusDeleted {
			continue
		}
		googleListID := corr.googleIDForLocal(t.TasklistID)
		if googleListID == "" {
			continue
		}
		if err := e.Google.DeleteTask(ctx, googleListID, t.ID); err != nil {
			if backend.IsTransientNet(err) {
				continue // partial success: leave it for the next pull
			}
			return backend.SyncResult{}, err
		}
		if err := e.Local.PurgeTask(ctx, t.ID); err != nil {
			return backend.SyncResult{}, err
		}
		changed.Deleted++
	}

	progress(100, "pull complete", backend.JobCompleted)
	return backend.SyncResult{Success: true, Message: "pull complete", Changed: changed, ConflictsResolved: conflictsResolved}, nil
}

// push implements the Push algorithm: Local -> Google, symmetric to
// pull.
func (e *Engine) push(ctx context.Context, progress backend.ProgressFunc, cancelled CancelFunc) (backend.SyncResult, error) {
	progress(0, "enumerating lists", backend.JobRunning)
	corr, err := e.ensureListMapping(ctx)
	if err != nil {
		return backend.SyncResult{}, err
	}
	progress(weightLists, "lists enumerated", backend.JobRunning)

	if cancelled() {
		return backend.SyncResult{}, backend.NewCancelled(e.AccountID)
	}

	localTasks, err := e.Local.LoadTasks(ctx, nil)
	if err != nil {
		return backend.SyncResult{}, err
	}
	localTasks = sqlite.SortByHierarchy(localTasks)
	progress(weightLists+weightSnapshot, "local tasks loaded", backend.JobRunning)

	changed := backend.Changed{}
	for i, t := range localTasks {
		if cancelled() {
			return backend.SyncResult{}, backend.NewCancelled(e.AccountID)
		}
		googleListID := corr.googleIDForLocal(t.TasklistID)
		if googleListID == "" {
			continue
		}

		if t.Status == backend.StatusDeleted {
			if err := e.Google.DeleteTask(ctx, googleListID, t.ID); err != nil {
				if backend.IsTransientNet(err) {
					continue
				}
				return backend.SyncResult{}, err
			}
			if err := e.Local.PurgeTask(ctx, t.ID); err != nil {
				return backend.SyncResult{}, err
			}
			changed.Deleted++
			continue
		}

		existing, err := e.Google.GetTask(ctx, googleListID, t.ID)
		if err != nil && !backend.IsAuthError(err) {
			existing = nil // not found upstream: treat as new
		} else if err != nil {
			return backend.SyncResult{}, err
		}

		if existing == nil {
			g, err := e.Google.InsertTask(ctx, googleListID, backendTaskToGoogle(t))
			if err != nil {
				if backend.IsTransientNet(err) {
					continue
				}
				return backend.SyncResult{}, err
			}
			if g.ID != t.ID {
				if err := e.Local.PurgeTask(ctx, t.ID); err != nil {
					return backend.SyncResult{}, err
				}
				t.ID = g.ID
				if err := e.Local.SaveTask(ctx, t); err != nil {
					return backend.SyncResult{}, err
				}
			}
			changed.Created++
		} else {
			if _, err := e.Google.PatchTask(ctx, googleListID, t.ID, patchFields(t)); err != nil {
				if backend.IsTransientNet(err) {
					continue
				}
				return backend.SyncResult{}, err
			}
			changed.Updated++
		}

		if i%5 == 0 {
			pct := weightLists + weightSnapshot + weightClassify + (weightApply * i / max(1, len(localTasks)))
			progress(pct, "pushing", backend.JobRunning)
		}
	}

	progress(100, "push complete", backend.JobCompleted)
	return backend.SyncResult{Success: true, Message: "push complete", Changed: changed}, nil
}

// bidirectional runs Pull, then Push, then a second Pull to absorb the
// echoes of its own Push.
func (e *Engine) bidirectional(ctx context.Context, progress backend.ProgressFunc, cancelled CancelFunc) (backend.SyncResult, error) {
	first, err := e.pull(ctx, scaledProgress(progress, 0, 33), cancelled)
	if err != nil {
		return first, err
	}
	if cancelled() {
		return first, backend.NewCancelled(e.AccountID)
	}
	pushed, err := e.push(ctx, scaledProgress(progress, 33, 66), cancelled)
	if err != nil {
		return pushed, err
	}
	if cancelled() {
		return pushed, backend.NewCancelled(e.AccountID)
	}
	echo, err := e.pull(ctx, scaledProgress(progress, 66, 100), cancelled)
	if err != nil {
		return echo, err
	}

	return backend.SyncResult{
		Success: true,
		Message: "bidirectional sync complete",
		Changed: backend.Changed{
			Created: first.Changed.Created + pushed.Changed.Created + echo.Changed.Created,
			Updated: first.Changed.Updated + pushed.Changed.Updated + echo.Changed.Updated,
			Deleted: first.Changed.Deleted + pushed.Changed.Deleted + echo.Changed.Deleted,
		},
		ConflictsResolved: first.ConflictsResolved + pushed.ConflictsResolved + echo.ConflictsResolved,
	}, nil
}

// applyWithRetry applies tasks to Local, making at most three attempts per
// row: after each conflict it re-reads the row, re-resolves, and re-applies.
func (e *Engine) applyWithRetry(ctx context.Context, tasks []backend.Task) error {
	for _, t := range tasks {
		var lastErr error
		for attempt := 0; attempt < 3; attempt++ {
			err := e.Local.SaveTask(ctx, t)
			if err == nil {
				lastErr = nil
				break
			}
			if !backend.IsConflict(err) {
				return err
			}
			lastErr = err
			existing, found, lerr := e.reload(ctx, t.ID)
			if lerr != nil {
				return lerr
			}
			if found {
				res := conflict.Resolve(e.Strategy, []conflict.Version{
					{Task: existing, Origin: conflict.OriginLocal, Present: true},
					{Task: t, Origin: conflict.OriginGoogle, Present: true},
				})
				t = res.Task
			}
		}
		if lastErr != nil {
			return lastErr
		}
	}
	return nil
}

func (e *Engine) reload(ctx context.Context, id string) (backend.Task, bool, error) {
	tasks, err := e.Local.LoadTasks(ctx, nil)
	if err != nil {
		return backend.Task{}, false, err
	}
	for _, t := range tasks {
		if t.ID == id {
			return t, true, nil
		}
	}
	return backend.Task{}, false, nil
}

func googleTaskToBackend(g google.Task, tasklistID string) backend.Task {
	status := backend.StatusPending
	if g.Status == "completed" {
		status = backend.StatusCompleted
	}
	due, _ := backend.ParseDueForFingerprint(g.Due)
	var completedAt *time.Time
	if g.Completed != "" {
		if t, err := time.Parse(time.RFC3339, g.Completed); err == nil {
			completedAt = &t
		}
	}
	modifiedAt := time.Now().UTC()
	if g.Updated != "" {
		if t, err := time.Parse(time.RFC3339, g.Updated); err == nil {
			modifiedAt = t
		}
	}
	var deps []string
	if g.Parent != "" {
		deps = []string{g.Parent}
	}
	return backend.Task{
		ID:              g.ID,
		Title:           g.Title,
		Notes:           g.Notes,
		Status:          status,
		Due:             due,
		ModifiedAt:      modifiedAt,
		CompletedAt:     completedAt,
		TasklistID:      tasklistID,
		Dependencies:    deps,
		RecurringTaskID: g.OriginalTaskID,
		IsRecurring:     g.OriginalTaskID != "",
	}
}

func backendTaskToGoogle(t backend.Task) google.Task {
	status := "needsAction"
	if t.Status == backend.StatusCompleted {
		status = "completed"
	}
	g := google.Task{
		ID:     t.ID,
		Title:  t.Title,
		Notes:  t.Notes,
		Status: status,
	}
	if t.Due != nil {
		g.Due = t.Due.UTC().Format(time.RFC3339)
	}
	if len(t.Dependencies) > 0 {
		g.Parent = t.Dependencies[0]
	}
	return g
}

func patchFields(t backend.Task) map[string]interface{} {
	fields := map[string]interface{}{
		"title":  t.Title,
		"notes":  t.Notes,
		"status": map[bool]string{true: "completed", false: "needsAction"}[t.Status == backend.StatusCompleted],
	}
	if t.Due != nil {
		fields["due"] = t.Due.UTC().Format(time.RFC3339)
	}
	return fields
}

// scaledProgress remaps a 0-100 inner progress range into [lo, hi] of the
// outer range, so bidirectional's three phases report smoothly across one
// 0-100 job percentage.
func scaledProgress(outer backend.ProgressFunc, lo, hi int) backend.ProgressFunc {
	return func(pct int, msg string, status backend.JobStatus) {
		scaled := lo + (hi-lo)*pct/100
		outer(scaled, msg, status)
	}
}
