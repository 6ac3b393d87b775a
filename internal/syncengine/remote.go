package syncengine

import (
	"context"

	"gosynctasks/backend"
	"gosynctasks/backend/conflict"
	"gosynctasks/backend/sqlite"
)

// Unlike the Google side, RemoteStore shares LocalStore's schema and id
// space exactly, so reconciliation is a plain per-id diff keyed on
// modified_at rather than a fingerprint-based classification pass.

// pullFromRemote copies remote task state into Local, resolving any
// diverged rows with the configured strategy.
func (e *Engine) pullFromRemote(ctx context.Context, remote backend.Store, progress backend.ProgressFunc, cancelled CancelFunc) (backend.SyncResult, error) {
	return e.reconcileWithRemote(ctx, remote, conflict.OriginLocal, progress, cancelled)
}

// pushToRemote copies Local task state into the remote, resolving any
// diverged rows with the configured strategy.
func (e *Engine) pushToRemote(ctx context.Context, remote backend.Store, progress backend.ProgressFunc, cancelled CancelFunc) (backend.SyncResult, error) {
	return e.reconcileWithRemote(ctx, remote, conflict.OriginRemote, progress, cancelled)
}

// bidirectionalRemote reconciles both directions in one pass: since the
// two stores share an id space, a single two-way merge already converges
// without needing pull-push-pull's echo-absorption trick.
func (e *Engine) bidirectionalRemote(ctx context.Context, remote backend.Store, progress backend.ProgressFunc, cancelled CancelFunc) (backend.SyncResult, error) {
	return e.reconcileWithRemote(ctx, remote, -1, progress, cancelled)
}

// reconcileWithRemote diffs Local against remote by id. preferWhenTied
// names the origin that should receive a one-directional copy instead of
// a full merge (OriginLocal for a pull, OriginRemote for a push); pass -1
// for a genuine two-way merge applied to both sides.
func (e *Engine) reconcileWithRemote(ctx context.Context, remote backend.Store, preferWhenTied conflict.Origin, progress backend.ProgressFunc, cancelled CancelFunc) (backend.SyncResult, error) {
	if remote == nil {
		return backend.SyncResult{}, backend.NewValidationError("remote", "no remote store selected for this job")
	}
	progress(0, "loading local tasks", backend.JobRunning)
	localTasks, err := e.Local.LoadTasks(ctx, nil)
	if err != nil {
		return backend.SyncResult{}, err
	}
	localByID := make(map[string]backend.Task, len(localTasks))
	for _, t := range localTasks {
		localByID[t.ID] = t
	}
	progress(30, "loading remote tasks", backend.JobRunning)

	if cancelled() {
		return backend.SyncResult{}, backend.NewCancelled(e.AccountID)
	}

	remoteTasks, err := remote.LoadTasks(ctx, nil)
	if err != nil {
		return backend.SyncResult{}, err
	}
	remoteByID := make(map[string]backend.Task, len(remoteTasks))
	for _, t := range remoteTasks {
		remoteByID[t.ID] = t
	}
	progress(50, "reconciling", backend.JobRunning)

	ids := map[string]struct{}{}
	for id := range localByID {
		ids[id] = struct{}{}
	}
	for id := range remoteByID {
		ids[id] = struct{}{}
	}

	var toLocal, toRemote []backend.Task
	changed := backend.Changed{}
	conflictsResolved := 0

	for id := range ids {
		if cancelled() {
			return backend.SyncResult{}, backend.NewCancelled(e.AccountID)
		}
		local, haveLocal := localByID[id]
		remoteTask, haveRemote := remoteByID[id]

		switch {
		case haveLocal && !haveRemote:
			if preferWhenTied != conflict.OriginLocal {
				toRemote = append(toRemote, local)
				changed.Created++
			}
		case haveRemote && !haveLocal:
			if preferWhenTied != conflict.OriginRemote {
				toLocal = append(toLocal, remoteTask)
				changed.Created++
			}
		default:
			if local.ModifiedAt.Equal(remoteTask.ModifiedAt) {
				continue
			}
			res := conflict.Resolve(e.Strategy, []conflict.Version{
				{Task: local, Origin: conflict.OriginLocal, Present: true},
				{Task: remoteTask, Origin: conflict.OriginRemote, Present: true},
			})
			conflictsResolved++
			if res.PatchLocal && preferWhenTied != conflict.OriginRemote {
				toLocal = append(toLocal, res.Task)
				changed.Updated++
			}
			if res.PatchRemote && preferWhenTied != conflict.OriginLocal {
				toRemote = append(toRemote, res.Task)
				changed.Updated++
			}
		}
	}
	progress(80, "applying", backend.JobRunning)

	if len(toLocal) > 0 {
		if err := e.applyWithRetry(ctx, sqlite.SortByHierarchy(toLocal)); err != nil {
			return backend.SyncResult{}, err
		}
	}
	if len(toRemote) > 0 {
		if err := remote.SaveTasks(ctx, sqlite.SortByHierarchy(toRemote)); err != nil {
			return backend.SyncResult{}, err
		}
	}

	progress(100, "remote reconciliation complete", backend.JobCompleted)
	return backend.SyncResult{
		Success:           true,
		Message:           "remote reconciliation complete",
		Changed:           changed,
		ConflictsResolved: conflictsResolved,
	}, nil
}
