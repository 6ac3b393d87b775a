package syncregistry

import (
	"testing"
	"time"

	"gosynctasks/backend"
)

func TestStart_SecondStartForSameAccountIsBusy(t *testing.T) {
	r := New()

	_, _, finish, err := r.Start("acc-1", backend.SyncKindBoth)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer finish(backend.JobCompleted, "")

	_, _, _, err = r.Start("acc-1", backend.SyncKindPull)
	if err == nil {
		t.Fatal("expected *backend.Busy for a concurrent start on the same account")
	}
	if !backend.IsBusy(err) {
		t.Errorf("error = %T, want *backend.Busy", err)
	}
}

func TestStart_DifferentAccountsDoNotConflict(t *testing.T) {
	r := New()

	_, _, finish1, err := r.Start("acc-1", backend.SyncKindBoth)
	if err != nil {
		t.Fatalf("Start(acc-1): %v", err)
	}
	defer finish1(backend.JobCompleted, "")

	_, _, finish2, err := r.Start("acc-2", backend.SyncKindBoth)
	if err != nil {
		t.Fatalf("Start(acc-2) should not be blocked by acc-1's job: %v", err)
	}
	finish2(backend.JobCompleted, "")
}

func TestStart_AllowsRestartAfterPriorJobFinished(t *testing.T) {
	r := New()

	jobID1, _, finish1, err := r.Start("acc-1", backend.SyncKindBoth)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	finish1(backend.JobCompleted, "")

	jobID2, _, finish2, err := r.Start("acc-1", backend.SyncKindBoth)
	if err != nil {
		t.Fatalf("Start after prior job finished should succeed: %v", err)
	}
	defer finish2(backend.JobCompleted, "")

	if jobID1 == jobID2 {
		t.Error("expected a fresh job id for the new run")
	}
}

func TestReport_PercentageNeverDecreases(t *testing.T) {
	r := New()
	jobID, _, finish, _ := r.Start("acc-1", backend.SyncKindBoth)
	defer finish(backend.JobCompleted, "")

	r.Report(jobID, 50, "halfway", backend.JobRunning)
	r.Report(jobID, 30, "regressed", backend.JobRunning)

	job, ok := r.Progress(jobID)
	if !ok {
		t.Fatal("expected job to be found")
	}
	if job.Percentage != 50 {
		t.Errorf("Percentage = %d, want 50 (a lower report must not regress it)", job.Percentage)
	}
	if job.Message != "regressed" {
		t.Errorf("Message = %q, want the latest message even though percentage didn't move", job.Message)
	}
}

func TestReport_NoOpAfterTerminal(t *testing.T) {
	r := New()
	jobID, _, finish, _ := r.Start("acc-1", backend.SyncKindBoth)
	finish(backend.JobCompleted, "")

	r.Report(jobID, 99, "too late", backend.JobRunning)

	job, _ := r.Progress(jobID)
	if job.Percentage == 99 {
		t.Error("a report after a terminal status must be a no-op")
	}
	if job.Status != backend.JobCompleted {
		t.Errorf("Status = %q, want it to remain completed", job.Status)
	}
}

func TestCancel_UnknownJobReturnsFalse(t *testing.T) {
	r := New()
	if r.Cancel("does-not-exist") {
		t.Error("Cancel on an unknown job should return false")
	}
}

func TestCancel_SignalsAndIsIdempotent(t *testing.T) {
	r := New()
	jobID, cancelSignal, finish, _ := r.Start("acc-1", backend.SyncKindBoth)
	defer finish(backend.JobCancelled, "")

	if !r.Cancel(jobID) {
		t.Fatal("expected Cancel to succeed")
	}
	select {
	case <-cancelSignal:
	default:
		t.Error("cancel signal channel should be closed after Cancel")
	}

	if !r.Cancel(jobID) {
		t.Error("a second Cancel call should still report true, not panic on a closed channel")
	}
}

func TestCancel_TerminalJobReturnsFalse(t *testing.T) {
	r := New()
	jobID, _, finish, _ := r.Start("acc-1", backend.SyncKindBoth)
	finish(backend.JobCompleted, "")

	if r.Cancel(jobID) {
		t.Error("Cancel on an already-terminal job should return false")
	}
}

func TestWait_ReturnsOnceFinishIsCalled(t *testing.T) {
	r := New()
	jobID, _, finish, _ := r.Start("acc-1", backend.SyncKindBoth)

	go func() {
		time.Sleep(10 * time.Millisecond)
		finish(backend.JobCompleted, "")
	}()

	job, err := r.Wait(jobID, time.Second)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if job.Status != backend.JobCompleted {
		t.Errorf("Status = %q, want completed", job.Status)
	}
}

func TestWait_TimesOutWithoutCancelling(t *testing.T) {
	r := New()
	jobID, cancelSignal, finish, _ := r.Start("acc-1", backend.SyncKindBoth)
	defer finish(backend.JobCompleted, "")

	_, err := r.Wait(jobID, 10*time.Millisecond)
	if err == nil {
		t.Fatal("expected a timeout error")
	}

	select {
	case <-cancelSignal:
		t.Error("Wait timing out must not cancel the job")
	default:
	}
}

func TestCleanup_EvictsOnlyStaleTerminalJobs(t *testing.T) {
	r := New()

	oldJob, _, finishOld, _ := r.Start("acc-old", backend.SyncKindBoth)
	finishOld(backend.JobCompleted, "")
	r.jobs[oldJob].job.StartedAt = time.Now().Add(-time.Hour)

	freshJob, _, finishFresh, _ := r.Start("acc-fresh", backend.SyncKindBoth)
	finishFresh(backend.JobCompleted, "")

	r.Cleanup(time.Minute)

	if _, ok := r.Progress(oldJob); ok {
		t.Error("expected the stale terminal job to be evicted")
	}
	if _, ok := r.Progress(freshJob); !ok {
		t.Error("a recently finished job should survive Cleanup")
	}
}

func TestShutdown_RejectsNewJobsAndWaitsForInFlight(t *testing.T) {
	r := New()
	_, _, finish, err := r.Start("acc-1", backend.SyncKindBoth)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		finish(backend.JobCompleted, "")
	}()

	r.Shutdown(time.Second)

	_, _, _, err = r.Start("acc-2", backend.SyncKindBoth)
	if err == nil {
		t.Fatal("expected Start to fail with *backend.Busy once the registry has shut down")
	}
}
