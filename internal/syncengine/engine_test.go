package syncengine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gosynctasks/backend"
	"gosynctasks/backend/conflict"
	"gosynctasks/backend/google"
	"gosynctasks/backend/sqlite"
)

// fakeGoogle is a minimal in-memory stand-in for the Google Tasks REST
// API, just enough surface for the engine's pull/push algorithms.
type fakeGoogle struct {
	mu     sync.Mutex
	lists  []google.TaskList
	tasks  map[string]map[string]google.Task // listID -> taskID -> task
	nextID int
}

func newFakeGoogle() *fakeGoogle {
	return &fakeGoogle{tasks: map[string]map[string]google.Task{}}
}

func (f *fakeGoogle) addList(id, title string) {
	f.lists = append(f.lists, google.TaskList{ID: id, Title: title})
	f.tasks[id] = map[string]google.Task{}
}

func (f *fakeGoogle) addTask(listID string, t google.Task) {
	if t.Updated == "" {
		t.Updated = time.Now().UTC().Format(time.RFC3339)
	}
	f.tasks[listID][t.ID] = t
}

func (f *fakeGoogle) newID() string {
	f.nextID++
	return "g-generated-" + string(rune('0'+f.nextID))
}

func (f *fakeGoogle) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/users/@me/lists", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]interface{}{"items": f.lists})
	})
	mux.HandleFunc("/lists/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		rest := strings.TrimPrefix(r.URL.Path, "/lists/")
		parts := strings.SplitN(rest, "/tasks", 2)
		listID := parts[0]
		if len(parts) == 1 || parts[1] == "" {
			// /lists/{id}/tasks (list or insert)
			switch r.Method {
			case http.MethodGet:
				var since time.Time
				if raw := r.URL.Query().Get("updatedMin"); raw != "" {
					since, _ = time.Parse(time.RFC3339, raw)
				}
				var items []google.Task
				for _, task := range f.tasks[listID] {
					if !since.IsZero() {
						updated, err := time.Parse(time.RFC3339, task.Updated)
						if err == nil && updated.Before(since) {
							continue
						}
					}
					items = append(items, task)
				}
				json.NewEncoder(w).Encode(map[string]interface{}{"items": items})
			case http.MethodPost:
				var in google.Task
				json.NewDecoder(r.Body).Decode(&in)
				if in.ID == "" {
					in.ID = f.newID()
				}
				in.Updated = time.Now().UTC().Format(time.RFC3339)
				f.tasks[listID][in.ID] = in
				json.NewEncoder(w).Encode(in)
			}
			return
		}
		taskID := strings.TrimPrefix(parts[1], "/")
		switch r.Method {
		case http.MethodGet:
			task, ok := f.tasks[listID][taskID]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			json.NewEncoder(w).Encode(task)
		case http.MethodPatch:
			task, ok := f.tasks[listID][taskID]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			var fields map[string]interface{}
			json.NewDecoder(r.Body).Decode(&fields)
			if v, ok := fields["title"].(string); ok {
				task.Title = v
			}
			if v, ok := fields["notes"].(string); ok {
				task.Notes = v
			}
			if v, ok := fields["status"].(string); ok {
				task.Status = v
			}
			task.Updated = time.Now().UTC().Format(time.RFC3339)
			f.tasks[listID][taskID] = task
			json.NewEncoder(w).Encode(task)
		case http.MethodDelete:
			if _, ok := f.tasks[listID][taskID]; !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			delete(f.tasks[listID], taskID)
			w.WriteHeader(http.StatusOK)
		}
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestEngine(t *testing.T, g *fakeGoogle) (*Engine, *sqlite.Store) {
	t.Helper()
	srv := g.server(t)
	client := google.NewClientForEndpoint(srv.Client(), srv.URL)

	dir := t.TempDir()
	local, err := sqlite.Open("file:" + filepath.Join(dir, "local.db"))
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	t.Cleanup(func() { local.Close() })

	stagingN := 0
	return &Engine{
		AccountID: "acc-1",
		Local:     local,
		Google:    client,
		Strategy:  conflict.LatestWins,
		NewStaging: func() (backend.Store, error) {
			stagingN++
			return sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", filepath.Join(dir, fmt.Sprintf("staging-%d", stagingN))))
		},
	}, local
}

func TestPull_CreatesNewLocalTaskFromGoogleList(t *testing.T) {
	g := newFakeGoogle()
	g.addList("glist-1", "Work")
	g.addTask("glist-1", google.Task{ID: "gt-1", Title: "Write report", Status: "needsAction"})

	e, local := newTestEngine(t, g)

	result, err := e.Sync(context.Background(), backend.SyncKindPull, nil, nil, nil)
	if err != nil {
		t.Fatalf("Sync(pull): %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.Changed.Created != 1 {
		t.Errorf("Changed.Created = %d, want 1", result.Changed.Created)
	}

	tasks, err := local.LoadTasks(context.Background(), nil)
	if err != nil {
		t.Fatalf("LoadTasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Title != "Write report" {
		t.Fatalf("got %+v, want one task titled 'Write report'", tasks)
	}
}

func TestPull_FoldsIntoExistingLocalTaskByFingerprint(t *testing.T) {
	g := newFakeGoogle()
	g.addList("glist-1", "Work")
	g.addTask("glist-1", google.Task{ID: "gt-1", Title: "Renew passport", Status: "needsAction"})

	e, local := newTestEngine(t, g)
	ctx := context.Background()

	// A pre-existing local task with matching content but a different id.
	corr, err := e.ensureListMapping(ctx)
	if err != nil {
		t.Fatalf("ensureListMapping: %v", err)
	}
	localListID := corr.localByTitle["Work"]
	if err := local.SaveTask(ctx, backend.Task{ID: "local-preexisting", Title: "Renew passport", TasklistID: localListID, Status: backend.StatusPending}); err != nil {
		t.Fatalf("SaveTask: %v", err)
	}

	if _, err := e.Sync(ctx, backend.SyncKindPull, nil, nil, nil); err != nil {
		t.Fatalf("Sync(pull): %v", err)
	}

	n, err := local.TaskCount(ctx)
	if err != nil {
		t.Fatalf("TaskCount: %v", err)
	}
	if n != 1 {
		t.Errorf("TaskCount = %d, want 1 (the Google task should fold into the pre-existing row)", n)
	}
}

func TestPush_InsertsLocalOnlyTaskToGoogle(t *testing.T) {
	g := newFakeGoogle()
	g.addList("glist-1", "Work")

	e, local := newTestEngine(t, g)
	ctx := context.Background()

	corr, err := e.ensureListMapping(ctx)
	if err != nil {
		t.Fatalf("ensureListMapping: %v", err)
	}
	localListID := corr.localByTitle["Work"]
	if err := local.SaveTask(ctx, backend.Task{ID: "local-1", Title: "Buy milk", TasklistID: localListID, Status: backend.StatusPending}); err != nil {
		t.Fatalf("SaveTask: %v", err)
	}

	result, err := e.Sync(ctx, backend.SyncKindPush, nil, nil, nil)
	if err != nil {
		t.Fatalf("Sync(push): %v", err)
	}
	if result.Changed.Created != 1 {
		t.Errorf("Changed.Created = %d, want 1", result.Changed.Created)
	}

	if len(g.tasks["glist-1"]) != 1 {
		t.Fatalf("fake Google has %d tasks, want 1", len(g.tasks["glist-1"]))
	}
}

func TestPush_DeletesUpstreamWhenLocalMarkedDeleted(t *testing.T) {
	g := newFakeGoogle()
	g.addList("glist-1", "Work")
	g.addTask("glist-1", google.Task{ID: "shared-id", Title: "Old task"})

	e, local := newTestEngine(t, g)
	ctx := context.Background()

	corr, err := e.ensureListMapping(ctx)
	if err != nil {
		t.Fatalf("ensureListMapping: %v", err)
	}
	localListID := corr.localByTitle["Work"]
	if err := local.SaveTask(ctx, backend.Task{ID: "shared-id", Title: "Old task", TasklistID: localListID}); err != nil {
		t.Fatalf("SaveTask: %v", err)
	}
	if err := local.DeleteTask(ctx, "shared-id", backend.DeletionReasonUser); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}

	result, err := e.Sync(ctx, backend.SyncKindPush, nil, nil, nil)
	if err != nil {
		t.Fatalf("Sync(push): %v", err)
	}
	if result.Changed.Deleted != 1 {
		t.Errorf("Changed.Deleted = %d, want 1", result.Changed.Deleted)
	}
	if _, ok := g.tasks["glist-1"]["shared-id"]; ok {
		t.Error("expected the task to be deleted from the fake Google store")
	}
	n, _ := local.TaskCount(ctx)
	if n != 0 {
		t.Errorf("local TaskCount = %d, want 0 after purge", n)
	}
}

func TestBidirectional_ReportsCombinedChangeCounts(t *testing.T) {
	g := newFakeGoogle()
	g.addList("glist-1", "Work")
	g.addTask("glist-1", google.Task{ID: "gt-1", Title: "From Google"})

	e, local := newTestEngine(t, g)
	ctx := context.Background()

	corr, err := e.ensureListMapping(ctx)
	if err != nil {
		t.Fatalf("ensureListMapping: %v", err)
	}
	localListID := corr.localByTitle["Work"]
	if err := local.SaveTask(ctx, backend.Task{ID: "local-only", Title: "From Local", TasklistID: localListID}); err != nil {
		t.Fatalf("SaveTask: %v", err)
	}

	result, err := e.Sync(ctx, backend.SyncKindBoth, nil, nil, nil)
	if err != nil {
		t.Fatalf("Sync(both): %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.Changed.Created < 2 {
		t.Errorf("Changed.Created = %d, want at least 2 (one pulled, one pushed)", result.Changed.Created)
	}
}

// TestBidirectional_CancelMidSyncStopsEarlyWithoutDuplicating covers
// cancellation partway through a bidirectional sync: the caller's
// cancelled() callback flips true once reported progress crosses 40%,
// which lands inside the push phase (pull's own checkpoints never
// exceed its 0-33% share of the combined run). The run must report
// *backend.Cancelled, leave push's work undone, and a later, uncancelled
// run must reach the fully-synced state without double-inserting
// anything on the fake Google side.
func TestBidirectional_CancelMidSyncStopsEarlyWithoutDuplicating(t *testing.T) {
	g := newFakeGoogle()
	g.addList("glist-1", "Work")

	e, local := newTestEngine(t, g)
	ctx := context.Background()

	corr, err := e.ensureListMapping(ctx)
	if err != nil {
		t.Fatalf("ensureListMapping: %v", err)
	}
	localListID := corr.localByTitle["Work"]

	const totalTasks = 8
	for i := 0; i < totalTasks; i++ {
		id := fmt.Sprintf("local-%02d", i)
		task := backend.Task{ID: id, Title: fmt.Sprintf("Task %d", i), TasklistID: localListID, Status: backend.StatusPending}
		if err := local.SaveTask(ctx, task); err != nil {
			t.Fatalf("SaveTask(%s): %v", id, err)
		}
	}

	var highestPct int32
	var cancelRequested atomic.Bool
	progress := func(pct int, msg string, status backend.JobStatus) {
		for {
			cur := atomic.LoadInt32(&highestPct)
			if int32(pct) <= cur || atomic.CompareAndSwapInt32(&highestPct, cur, int32(pct)) {
				break
			}
		}
		if pct >= 40 {
			cancelRequested.Store(true)
		}
	}

	result, err := e.Sync(ctx, backend.SyncKindBoth, nil, progress, cancelRequested.Load)
	if err == nil {
		t.Fatalf("expected a cancellation error, got result %+v", result)
	}
	if _, ok := err.(*backend.Cancelled); !ok {
		t.Fatalf("error = %T, want *backend.Cancelled", err)
	}
	if atomic.LoadInt32(&highestPct) >= 100 {
		t.Errorf("progress reached 100%% despite cancellation; the run should have stopped before finishing")
	}

	if got := len(g.tasks["glist-1"]); got >= totalTasks {
		t.Errorf("fake Google already has all %d tasks right after cancellation, want fewer (push should not have completed)", totalTasks)
	}
	n, err := local.TaskCount(ctx)
	if err != nil {
		t.Fatalf("TaskCount: %v", err)
	}
	if n != totalTasks {
		t.Errorf("local TaskCount = %d, want %d (cancellation must not drop or duplicate local rows)", n, totalTasks)
	}

	if _, err := e.Sync(ctx, backend.SyncKindBoth, nil, nil, nil); err != nil {
		t.Fatalf("Sync(both) to completion: %v", err)
	}
	if got := len(g.tasks["glist-1"]); got != totalTasks {
		t.Errorf("fake Google has %d tasks after completing sync, want %d (no duplicates from the cancelled attempt)", got, totalTasks)
	}
	n, err = local.TaskCount(ctx)
	if err != nil {
		t.Fatalf("TaskCount: %v", err)
	}
	if n != totalTasks {
		t.Errorf("local TaskCount = %d, want %d after completion", n, totalTasks)
	}
}

// TestPull_RangeExcludesOldUnchangedGoogleTaskFromFetchAndDeletion covers
// PullRangeDays: a Google task last updated outside the window must not
// be fetched, and its pre-existing local mirror (from an earlier,
// wider-range pull) must not be mistaken for an upstream deletion and
// purged.
func TestPull_RangeExcludesOldUnchangedGoogleTaskFromFetchAndDeletion(t *testing.T) {
	g := newFakeGoogle()
	g.addList("glist-1", "Work")

	old := time.Now().AddDate(0, 0, -30).UTC().Format(time.RFC3339)
	g.addTask("glist-1", google.Task{ID: "gt-old", Title: "Ancient task", Status: "needsAction", Updated: old})
	g.addTask("glist-1", google.Task{ID: "gt-new", Title: "Recent task", Status: "needsAction"})

	e, local := newTestEngine(t, g)
	ctx := context.Background()

	corr, err := e.ensureListMapping(ctx)
	if err != nil {
		t.Fatalf("ensureListMapping: %v", err)
	}
	localListID := corr.localByTitle["Work"]
	// Mirrors a previous, wider-range pull that already brought this task in.
	if err := local.SaveTask(ctx, backend.Task{ID: "gt-old", Title: "Ancient task", TasklistID: localListID, Status: backend.StatusPending}); err != nil {
		t.Fatalf("SaveTask: %v", err)
	}

	rangeDays := 7
	e.PullRangeDays = &rangeDays

	result, err := e.Sync(ctx, backend.SyncKindPull, nil, nil, nil)
	if err != nil {
		t.Fatalf("Sync(pull): %v", err)
	}
	if result.Changed.Created != 1 {
		t.Errorf("Changed.Created = %d, want 1 (only the recent task should be fetched)", result.Changed.Created)
	}
	if result.Changed.Deleted != 0 {
		t.Errorf("Changed.Deleted = %d, want 0 (range exclusion must not read as an upstream delete)", result.Changed.Deleted)
	}

	tasks, err := local.LoadTasks(ctx, nil)
	if err != nil {
		t.Fatalf("LoadTasks: %v", err)
	}
	byID := map[string]backend.Task{}
	for _, tk := range tasks {
		byID[tk.ID] = tk
	}
	if _, ok := byID["gt-old"]; !ok {
		t.Error("the range-excluded task's local row must survive the pull, not be purged")
	}
	if _, ok := byID["gt-new"]; !ok {
		t.Error("expected the recent task to be pulled in")
	}
	if len(tasks) != 2 {
		t.Errorf("got %d local tasks, want 2", len(tasks))
	}
}
