// Package syncregistry implements the process-wide map of in-flight and
// recently-finished sync jobs, with per-account exclusivity. A prior
// coordinator tracked exactly one push flag and one pull flag per list via
// atomic.Bool; this generalizes that same compare-and-swap exclusivity to
// an arbitrary number of concurrently running jobs, one per account,
// addressed by a job id that Start generates.
package syncregistry

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"gosynctasks/backend"
)

// Registry holds every job started during the process's lifetime until
// cleanup() evicts terminal ones older than its max_age argument.
type Registry struct {
	mu         sync.Mutex
	jobs       map[string]*entry
	byAccount  map[string]string // account id -> the one running job id
	wg         sync.WaitGroup
	shutdown   bool
}

type entry struct {
	mu       sync.Mutex
	job      backend.SyncJob
	cancel   chan struct{}
	canceled bool
	done     chan struct{}
}

func New() *Registry {
	return &Registry{
		jobs:      map[string]*entry{},
		byAccount: map[string]string{},
	}
}

// Start registers a new job for accountID. It fails fast with *backend.Busy
// if a job is already running for that account. The returned CancelSignal
// must be polled by the caller's sync work; run must call Finish exactly
// once when the work concludes.
func (r *Registry) Start(accountID string, kind backend.SyncKind) (jobID string, cancelSignal <-chan struct{}, finish func(backend.JobStatus, string), err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.shutdown {
		return "", nil, nil, backend.NewBusy(accountID)
	}
	if existing, ok := r.byAccount[accountID]; ok {
		if e, ok := r.jobs[existing]; ok && !e.job.Status.Terminal() {
			return "", nil, nil, backend.NewBusy(accountID)
		}
	}

	id := uuid.NewString()
	e := &entry{
		job: backend.SyncJob{
			ID:        id,
			AccountID: accountID,
			Kind:      kind,
			StartedAt: time.Now().UTC(),
			Status:    backend.JobPending,
		},
		cancel: make(chan struct{}),
		done:   make(chan struct{}),
	}
	r.jobs[id] = e
	r.byAccount[accountID] = id
	r.wg.Add(1)

	finish = func(status backend.JobStatus, errMsg string) {
		e.mu.Lock()
		e.job.Status = status
		e.job.Error = errMsg
		e.mu.Unlock()
		close(e.done)
		r.wg.Done()
	}

	return id, e.cancel, finish, nil
}

// Progress returns the current SyncJob snapshot for jobID.
func (r *Registry) Progress(jobID string) (backend.SyncJob, bool) {
	r.mu.Lock()
	e, ok := r.jobs[jobID]
	r.mu.Unlock()
	if !ok {
		return backend.SyncJob{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job, true
}

// Report records a progress update. Percentage is clamped to never
// decrease for a given job, matching the write-once-increasing
// invariant; a call after the job reached a terminal state is a no-op.
func (r *Registry) Report(jobID string, percentage int, message string, status backend.JobStatus) {
	r.mu.Lock()
	e, ok := r.jobs[jobID]
	r.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.job.Status.Terminal() {
		return
	}
	if percentage > e.job.Percentage {
		e.job.Percentage = percentage
	}
	e.job.Message = message
	if !status.Terminal() {
		e.job.Status = status
	}
}

// Wait blocks until jobID reaches a terminal state or timeout elapses,
// whichever comes first. A timeout does not cancel the job.
func (r *Registry) Wait(jobID string, timeout time.Duration) (backend.SyncJob, error) {
	r.mu.Lock()
	e, ok := r.jobs[jobID]
	r.mu.Unlock()
	if !ok {
		return backend.SyncJob{}, backend.NewValidationError("job_id", "unknown job")
	}

	select {
	case <-e.done:
	case <-time.After(timeout):
		snap, _ := r.Progress(jobID)
		return snap, backend.NewTimeout(jobID)
	}
	return r.mustProgress(jobID), nil
}

// Cancel sets jobID's cancellation flag. It returns false if the job is
// already terminal or unknown; the engine itself is responsible for
// observing the signal and transitioning the job to JobCancelled.
func (r *Registry) Cancel(jobID string) bool {
	r.mu.Lock()
	e, ok := r.jobs[jobID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.job.Status.Terminal() {
		return false
	}
	if !e.canceled {
		e.canceled = true
		close(e.cancel)
	}
	return true
}

// Cleanup evicts every terminal job older than maxAge.
func (r *Registry) Cleanup(maxAge time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	for id, e := range r.jobs {
		e.mu.Lock()
		stale := e.job.Status.Terminal() && e.job.StartedAt.Before(cutoff)
		acct := e.job.AccountID
		e.mu.Unlock()
		if stale {
			delete(r.jobs, id)
			if r.byAccount[acct] == id {
				delete(r.byAccount, acct)
			}
		}
	}
}

// Shutdown stops accepting new jobs and waits up to deadline for every
// in-flight job to reach a terminal state.
func (r *Registry) Shutdown(deadline time.Duration) {
	r.mu.Lock()
	r.shutdown = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(deadline):
	}
}

func (r *Registry) mustProgress(jobID string) backend.SyncJob {
	snap, _ := r.Progress(jobID)
	return snap
}
