package conflict

import (
	"strings"
	"testing"
	"time"

	"gosynctasks/backend"
)

func at(minutesFromEpoch int) time.Time {
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(minutesFromEpoch) * time.Minute)
}

func TestResolve_NoVersionsPresent(t *testing.T) {
	res := Resolve(LatestWins, []Version{{Present: false}, {Present: false}})
	if res.Task.ID != "" || res.PatchLocal || res.PatchRemote || res.PatchGoogle {
		t.Errorf("expected a zero Resolution, got %+v", res)
	}
}

func TestResolve_SingleVersionPatchesEveryoneElse(t *testing.T) {
	v := Version{Task: backend.Task{ID: "t1", Title: "only copy"}, Origin: OriginLocal, Present: true}

	res := Resolve(LatestWins, []Version{v, {Present: false}})

	if res.Task.ID != "t1" {
		t.Errorf("Task = %+v, want the sole version", res.Task)
	}
	if !res.PatchRemote || !res.PatchGoogle {
		t.Error("a Local-only version should patch Remote and Google")
	}
	if res.PatchLocal {
		t.Error("Local shouldn't patch itself")
	}
}

func TestResolve_LatestWins_PicksMostRecentModifiedAt(t *testing.T) {
	local := Version{
		Task:    backend.Task{ID: "t1", Title: "old title", ModifiedAt: at(0), Status: backend.StatusPending},
		Origin:  OriginLocal,
		Present: true,
	}
	google := Version{
		Task:    backend.Task{ID: "t1", Title: "new title", ModifiedAt: at(10), Status: backend.StatusPending},
		Origin:  OriginGoogle,
		Present: true,
	}

	res := Resolve(LatestWins, []Version{local, google})

	if res.Task.Title != "new title" {
		t.Errorf("Title = %q, want the newer version's title", res.Task.Title)
	}
	if !res.PatchLocal {
		t.Error("Local should be patched since Google's version won")
	}
	if res.PatchGoogle {
		t.Error("Google shouldn't patch itself")
	}
}

func TestResolve_LatestWins_TieBreaksLocalThenRemoteThenGoogle(t *testing.T) {
	same := at(5)
	remote := Version{Task: backend.Task{ID: "t1", Title: "remote", ModifiedAt: same}, Origin: OriginRemote, Present: true}
	google := Version{Task: backend.Task{ID: "t1", Title: "google", ModifiedAt: same}, Origin: OriginGoogle, Present: true}

	res := Resolve(LatestWins, []Version{remote, google})
	if res.Task.Title != "remote" {
		t.Errorf("Title = %q, want Remote to win an exact tie over Google", res.Task.Title)
	}

	local := Version{Task: backend.Task{ID: "t1", Title: "local", ModifiedAt: same}, Origin: OriginLocal, Present: true}
	res = Resolve(LatestWins, []Version{remote, local})
	if res.Task.Title != "local" {
		t.Errorf("Title = %q, want Local to win an exact tie over Remote", res.Task.Title)
	}
}

func TestResolve_DeletionOnlyWinsWhenStrictlyNewest(t *testing.T) {
	deletedOlder := Version{
		Task:    backend.Task{ID: "t1", Title: "x", ModifiedAt: at(0), Status: backend.StatusDeleted},
		Origin:  OriginLocal,
		Present: true,
	}
	editedNewer := Version{
		Task:    backend.Task{ID: "t1", Title: "edited after delete", ModifiedAt: at(10), Status: backend.StatusInProgress},
		Origin:  OriginGoogle,
		Present: true,
	}

	res := Resolve(LatestWins, []Version{deletedOlder, editedNewer})
	if res.Task.Status == backend.StatusDeleted {
		t.Error("an older deletion must not clobber a strictly newer edit")
	}

	deletedNewer := Version{
		Task:    backend.Task{ID: "t1", Title: "x", ModifiedAt: at(20), Status: backend.StatusDeleted},
		Origin:  OriginLocal,
		Present: true,
	}
	res = Resolve(LatestWins, []Version{editedNewer, deletedNewer})
	if res.Task.Status != backend.StatusDeleted {
		t.Error("a strictly newer deletion should win")
	}
}

func TestResolve_LatestWins_UnionsTagsAndDependencies(t *testing.T) {
	local := Version{
		Task:    backend.Task{ID: "t1", ModifiedAt: at(0), Tags: []string{"home"}, Dependencies: []string{"d1"}},
		Origin:  OriginLocal,
		Present: true,
	}
	google := Version{
		Task:    backend.Task{ID: "t1", ModifiedAt: at(5), Tags: []string{"work", "home"}, Dependencies: []string{"d2"}},
		Origin:  OriginGoogle,
		Present: true,
	}

	res := Resolve(LatestWins, []Version{local, google})

	wantTags := map[string]bool{"home": true, "work": true}
	if len(res.Task.Tags) != len(wantTags) {
		t.Fatalf("Tags = %v, want union of size %d", res.Task.Tags, len(wantTags))
	}
	for _, tag := range res.Task.Tags {
		if !wantTags[tag] {
			t.Errorf("unexpected tag %q", tag)
		}
	}

	wantDeps := map[string]bool{"d1": true, "d2": true}
	if len(res.Task.Dependencies) != len(wantDeps) {
		t.Fatalf("Dependencies = %v, want union of size %d", res.Task.Dependencies, len(wantDeps))
	}
}

func TestResolve_LatestWins_BorrowsDueWhenBaseHasNone(t *testing.T) {
	due := at(100)
	local := Version{Task: backend.Task{ID: "t1", ModifiedAt: at(5), Due: nil}, Origin: OriginLocal, Present: true}
	remote := Version{Task: backend.Task{ID: "t1", ModifiedAt: at(0), Due: &due}, Origin: OriginRemote, Present: true}

	res := Resolve(LatestWins, []Version{local, remote})

	if res.Task.Due == nil || !res.Task.Due.Equal(due) {
		t.Errorf("Due = %v, want borrowed due %v", res.Task.Due, due)
	}
}

func TestResolve_LatestWins_PreservesLocalIdentity(t *testing.T) {
	local := Version{
		Task:    backend.Task{ID: "local-id", TasklistID: "local-list", ModifiedAt: at(0)},
		Origin:  OriginLocal,
		Present: true,
	}
	google := Version{
		Task:    backend.Task{ID: "google-id", TasklistID: "google-list", ModifiedAt: at(5), Title: "wins on content"},
		Origin:  OriginGoogle,
		Present: true,
	}

	res := Resolve(LatestWins, []Version{local, google})

	if res.Task.ID != "local-id" || res.Task.TasklistID != "local-list" {
		t.Errorf("expected Local's id/list preserved, got id=%s list=%s", res.Task.ID, res.Task.TasklistID)
	}
	if res.Task.Title != "wins on content" {
		t.Errorf("expected Google's content to win, got title=%s", res.Task.Title)
	}
}

func TestResolve_LocalWinsStrategy(t *testing.T) {
	local := Version{Task: backend.Task{ID: "t1", Title: "local", ModifiedAt: at(0)}, Origin: OriginLocal, Present: true}
	google := Version{Task: backend.Task{ID: "t1", Title: "google", ModifiedAt: at(10)}, Origin: OriginGoogle, Present: true}

	res := Resolve(LocalWins, []Version{local, google})
	if res.Task.Title != "local" {
		t.Errorf("Title = %q, want local_wins to pick Local even though it is older", res.Task.Title)
	}
}

func TestResolve_RemoteWinsStrategy_FallsBackWhenRemoteAbsent(t *testing.T) {
	local := Version{Task: backend.Task{ID: "t1", Title: "local", ModifiedAt: at(0)}, Origin: OriginLocal, Present: true}
	google := Version{Task: backend.Task{ID: "t1", Title: "google", ModifiedAt: at(10)}, Origin: OriginGoogle, Present: true}

	res := Resolve(RemoteWins, []Version{local, google})
	if res.Task.Title != "google" {
		t.Errorf("Title = %q, want remote_wins to fall back to latest_wins when Remote is absent", res.Task.Title)
	}
}

func TestResolve_Merge_ConcatenatesDistinctDescriptions(t *testing.T) {
	local := Version{
		Task:    backend.Task{ID: "t1", ModifiedAt: at(0), Description: "from local"},
		Origin:  OriginLocal,
		Present: true,
	}
	google := Version{
		Task:    backend.Task{ID: "t1", ModifiedAt: at(5), Description: "from google"},
		Origin:  OriginGoogle,
		Present: true,
	}

	res := Resolve(Merge, []Version{local, google})

	if res.Task.Description == "from local" || res.Task.Description == "from google" {
		t.Errorf("expected merged description containing both, got %q", res.Task.Description)
	}
	if !strings.Contains(res.Task.Description, "from local") || !strings.Contains(res.Task.Description, "from google") {
		t.Errorf("merged description %q missing one of the source descriptions", res.Task.Description)
	}
}
