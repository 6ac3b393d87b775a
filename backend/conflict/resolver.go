// Package conflict implements the pure merge policy applied to
// divergent versions of one logical task. It never touches a store.
package conflict

import (
	"gosynctasks/backend"
)

// Strategy selects how a diverged task is resolved.
type Strategy string

const (
	LocalWins  Strategy = "local_wins"
	RemoteWins Strategy = "remote_wins"
	LatestWins Strategy = "latest_wins" // default
	Merge      Strategy = "merge"
)

// Origin identifies which store a Version came from, used only to break
// ties on modified_at: Local, then Remote, then Google.
type Origin int

const (
	OriginLocal Origin = iota
	OriginRemote
	OriginGoogle
)

// Version is one observed copy of a logical task.
type Version struct {
	Task   backend.Task
	Origin Origin
	// Present reports whether this origin actually has a copy; a
	// two-way diverged pair (Local vs Google, say) leaves Remote absent.
	Present bool
}

// Resolution is the resolver's output: one canonical task plus which
// stores need a write to converge on it.
type Resolution struct {
	Task          backend.Task
	PatchLocal    bool
	PatchRemote   bool
	PatchGoogle   bool
}

// Resolve picks the canonical Task among up to three versions of one
// logical task (identified by equal fingerprint or by a persisted
// cross-store id mapping) per the given strategy.
func Resolve(strategy Strategy, versions []Version) Resolution {
	present := presentVersions(versions)
	if len(present) == 0 {
		return Resolution{}
	}
	if len(present) == 1 {
		return singleVersionResolution(present[0])
	}

	switch strategy {
	case LocalWins:
		return pickOrigin(present, OriginLocal)
	case RemoteWins:
		return pickOrigin(present, OriginRemote)
	case Merge:
		return resolveMerge(present)
	default: // LatestWins
		return resolveLatestWins(present)
	}
}

func presentVersions(versions []Version) []Version {
	out := make([]Version, 0, len(versions))
	for _, v := range versions {
		if v.Present {
			out = append(out, v)
		}
	}
	return out
}

func singleVersionResolution(v Version) Resolution {
	r := Resolution{Task: v.Task, PatchLocal: true, PatchRemote: true, PatchGoogle: true}
	// Every store except the one holding the sole copy needs a write.
	switch v.Origin {
	case OriginLocal:
		r.PatchLocal = false
	case OriginRemote:
		r.PatchRemote = false
	case OriginGoogle:
		r.PatchGoogle = false
	}
	return r
}

func pickOrigin(versions []Version, origin Origin) Resolution {
	for _, v := range versions {
		if v.Origin == origin {
			return baseResolution(versions, v)
		}
	}
	// Requested origin absent: fall back to latest_wins among what we have.
	return resolveLatestWins(versions)
}

// resolveLatestWins implements the algorithm in full:
//  1. choose the version with the greatest modified_at as the base
//     (ties: Local, then Remote, then Google);
//  2. promote the more-advanced status, except that a deleted status
//     only wins if its modified_at is strictly greater than every other
//     version's — deletions never clobber a newer edit;
//  3. take the union of tags and dependencies;
//  4. if due differs, keep the base's due, or borrow another version's
//     due when the base has none;
//  5. preserve id and list membership from Local when a Local version
//     exists.
func resolveLatestWins(versions []Version) Resolution {
	base := chooseBase(versions)
	result := base.Task

	result.Status = promoteStatus(versions, base)

	tagSet := map[string]struct{}{}
	depSet := map[string]struct{}{}
	var tags, deps []string
	for _, v := range versions {
		for _, t := range v.Task.Tags {
			if _, ok := tagSet[t]; !ok {
				tagSet[t] = struct{}{}
				tags = append(tags, t)
			}
		}
		for _, d := range v.Task.Dependencies {
			if _, ok := depSet[d]; !ok {
				depSet[d] = struct{}{}
				deps = append(deps, d)
			}
		}
	}
	result.Tags = tags
	result.Dependencies = deps

	if result.Due == nil {
		for _, v := range versions {
			if v.Task.Due != nil {
				result.Due = v.Task.Due
				break
			}
		}
	}

	if localID, localList, ok := localIdentity(versions); ok {
		result.ID = localID
		result.TasklistID = localList
	}

	res := baseResolution(versions, base)
	res.Task = result
	return res
}

func resolveMerge(versions []Version) Resolution {
	res := resolveLatestWins(versions)
	result := res.Task

	var descs, notes []string
	seenDesc := map[string]struct{}{}
	seenNotes := map[string]struct{}{}
	for _, v := range versions {
		if v.Task.Description != "" {
			if _, ok := seenDesc[v.Task.Description]; !ok {
				seenDesc[v.Task.Description] = struct{}{}
				descs = append(descs, v.Task.Description)
			}
		}
		if v.Task.Notes != "" {
			if _, ok := seenNotes[v.Task.Notes]; !ok {
				seenNotes[v.Task.Notes] = struct{}{}
				notes = append(notes, v.Task.Notes)
			}
		}
	}
	result.Description = joinDistinct(descs)
	result.Notes = joinDistinct(notes)

	res.Task = result
	return res
}

func joinDistinct(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += " --- "
		}
		out += p
	}
	return out
}

// chooseBase picks the version with the greatest modified_at, breaking
// ties Local > Remote > Google.
func chooseBase(versions []Version) Version {
	base := versions[0]
	for _, v := range versions[1:] {
		if v.Task.ModifiedAt.After(base.Task.ModifiedAt) {
			base = v
			continue
		}
		if v.Task.ModifiedAt.Equal(base.Task.ModifiedAt) && v.Origin < base.Origin {
			base = v
		}
	}
	return base
}

// promoteStatus applies the deletion tie-break: a deleted status only
// wins over the base if it is strictly the newest among all versions.
func promoteStatus(versions []Version, base Version) backend.Status {
	newestDeleted := Version{}
	haveDeleted := false
	for _, v := range versions {
		if v.Task.Status != backend.StatusDeleted {
			continue
		}
		if !haveDeleted || v.Task.ModifiedAt.After(newestDeleted.Task.ModifiedAt) {
			newestDeleted = v
			haveDeleted = true
		}
	}

	if haveDeleted {
		strictlyNewest := true
		for _, v := range versions {
			if v.Origin == newestDeleted.Origin {
				continue
			}
			if !newestDeleted.Task.ModifiedAt.After(v.Task.ModifiedAt) {
				strictlyNewest = false
				break
			}
		}
		if strictlyNewest {
			return backend.StatusDeleted
		}
	}

	// No deletion clobbers a newer edit: promote the most-advanced
	// non-deleted status among the remaining versions, defaulting to the
	// base's own status.
	most := base.Task.Status
	if most == backend.StatusDeleted {
		most = backend.StatusPending
	}
	for _, v := range versions {
		if v.Task.Status == backend.StatusDeleted {
			continue
		}
		if v.Task.Status.Rank() > most.Rank() {
			most = v.Task.Status
		}
	}
	return most
}

func localIdentity(versions []Version) (id string, tasklistID string, ok bool) {
	for _, v := range versions {
		if v.Origin == OriginLocal {
			return v.Task.ID, v.Task.TasklistID, true
		}
	}
	return "", "", false
}

func baseResolution(versions []Version, base Version) Resolution {
	res := Resolution{Task: base.Task}
	for _, v := range versions {
		markPatches(&res, v.Origin)
	}
	// The origin that already holds the canonical value doesn't need a
	// patch back to itself.
	switch base.Origin {
	case OriginLocal:
		res.PatchLocal = false
	case OriginRemote:
		res.PatchRemote = false
	case OriginGoogle:
		res.PatchGoogle = false
	}
	return res
}

func markPatches(r *Resolution, origin Origin) {
	switch origin {
	case OriginLocal:
		r.PatchLocal = true
	case OriginRemote:
		r.PatchRemote = true
	case OriginGoogle:
		r.PatchGoogle = true
	}
}
