// Package backend defines the data model and storage contract shared by
// LocalStore, RemoteStore, and the staging store used during sync.
package backend

import "time"

// Status is the lifecycle state of a Task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusWaiting    Status = "waiting"
	StatusDeleted    Status = "deleted"
)

// rank orders statuses for latest_wins promotion: completed is the most
// advanced state, deleted is handled separately by the resolver since it
// only wins when strictly newer than every other version.
var statusRank = map[Status]int{
	StatusDeleted:    0,
	StatusPending:    1,
	StatusWaiting:    2,
	StatusInProgress: 3,
	StatusCompleted:  4,
}

// Rank returns the promotion order of s; higher is more advanced.
func (s Status) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return statusRank[StatusPending]
}

func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Priority is a closed, ordered enum (low < medium < high < critical),
// matching the originating Python model rather than a free-form string.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

var priorityRank = map[Priority]int{
	PriorityLow:      0,
	PriorityMedium:   1,
	PriorityHigh:     2,
	PriorityCritical: 3,
}

func (p Priority) Valid() bool {
	_, ok := priorityRank[p]
	return ok
}

// Task is the central entity synchronized across LocalStore, RemoteStore,
// and Google Tasks.
type Task struct {
	ID          string   `json:"id" db:"id"`
	Title       string   `json:"title" db:"title"`
	Description string   `json:"description,omitempty" db:"description"`
	Notes       string   `json:"notes,omitempty" db:"notes"`
	Due         *time.Time `json:"due,omitempty" db:"due"`
	Status      Status   `json:"status" db:"status"`
	Priority    Priority `json:"priority" db:"priority"`
	Project     string   `json:"project,omitempty" db:"project"`
	Tags        []string `json:"tags,omitempty" db:"tags"`
	Dependencies []string `json:"dependencies,omitempty" db:"dependencies"`

	TasklistID string `json:"tasklist_id" db:"tasklist_id"`
	ListTitle  string `json:"list_title,omitempty" db:"-"`
	Position   int    `json:"position" db:"position"`

	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	ModifiedAt time.Time  `json:"modified_at" db:"modified_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`

	RecurrenceRule  string `json:"recurrence_rule,omitempty" db:"recurrence_rule"`
	IsRecurring     bool   `json:"is_recurring" db:"is_recurring"`
	RecurringTaskID string `json:"recurring_task_id,omitempty" db:"recurring_task_id"`

	EstimatedDuration int `json:"estimated_duration,omitempty" db:"estimated_duration"`
	ActualDuration    int `json:"actual_duration,omitempty" db:"actual_duration"`
}

// DedupTags collapses duplicate tags while preserving first-seen order.
func DedupTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// TaskList is a named collection of tasks; a Task belongs to exactly one.
type TaskList struct {
	ID       string    `json:"id" db:"id"`
	Title    string    `json:"title" db:"title"`
	Updated  time.Time `json:"updated" db:"updated"`
	Position int       `json:"position" db:"position"`
	ETag     string    `json:"etag,omitempty" db:"etag"`
}

// AccountType distinguishes how an account's upstream is reached.
type AccountType string

const (
	AccountTypeGoogle AccountType = "google"
)

// Account is an independent, storage-isolated identity. Nothing in the
// sync core crosses account boundaries.
type Account struct {
	ID              string      `json:"id"`
	DisplayName     string      `json:"display_name"`
	Email           string      `json:"email"`
	Type            AccountType `json:"type"`
	CredentialsPath string      `json:"credentials_path"`
	StorageRoot     string      `json:"storage_root"`
}

// RemoteDBConfig describes one replicated remote database attached to an
// account. Multiple remotes are allowed; a deactivated one is skipped
// without being removed.
type RemoteDBConfig struct {
	ID                   string     `json:"id"`
	URL                  string     `json:"url"`
	Name                 string     `json:"name"`
	Token                string     `json:"token"`
	IsActive             bool       `json:"is_active"`
	AutoSync             bool       `json:"auto_sync"`
	SyncFrequencyMinutes int        `json:"sync_frequency_minutes"`
	LastSyncedAt         *time.Time `json:"last_synced_at,omitempty"`
}

// DeletionReason records why a task was soft-deleted.
type DeletionReason string

const (
	DeletionReasonUser     DeletionReason = "user"
	DeletionReasonSync     DeletionReason = "sync"
	DeletionReasonUpstream DeletionReason = "upstream"
)

// DeletionEntry is one append-only record in the DeletionLog.
type DeletionEntry struct {
	Seq         int64          `json:"seq"`
	TaskID      string         `json:"task_id"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Due         *time.Time     `json:"due,omitempty"`
	Status      Status         `json:"status"`
	DeletedAt   time.Time      `json:"deleted_at"`
	DeletedBy   DeletionReason `json:"deleted_by"`
	TasklistID  string         `json:"tasklist_id"`
}

// SyncKind selects which direction(s) a sync job covers.
type SyncKind string

const (
	SyncKindPush        SyncKind = "push"
	SyncKindPull        SyncKind = "pull"
	SyncKindBoth        SyncKind = "both"
	SyncKindRemotePush  SyncKind = "remote_push"
	SyncKindRemotePull  SyncKind = "remote_pull"
	SyncKindRemoteBoth  SyncKind = "remote_both"
)

// JobStatus is the terminal or in-flight state of a SyncJob.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobError     JobStatus = "error"
	JobCancelled JobStatus = "cancelled"
	JobTimeout   JobStatus = "timeout"
)

// Terminal reports whether s is one from which no further transition
// occurs.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobError, JobCancelled, JobTimeout:
		return true
	default:
		return false
	}
}

// SyncJob tracks one running or completed sync operation.
type SyncJob struct {
	ID         string    `json:"id"`
	AccountID  string    `json:"account_id"`
	Kind       SyncKind  `json:"kind"`
	StartedAt  time.Time `json:"started_at"`
	Percentage int       `json:"percentage"`
	Message    string    `json:"message"`
	Status     JobStatus `json:"status"`
	Error      string    `json:"error,omitempty"`
	Traceback  string    `json:"traceback,omitempty"`
}

// Changed summarizes the row-level effect of a sync operation.
type Changed struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
}

// SyncResult is the outcome of one push/pull/bidirectional invocation.
type SyncResult struct {
	Success          bool          `json:"success"`
	Message          string        `json:"message"`
	Changed          Changed       `json:"changed"`
	ConflictsResolved int          `json:"conflicts_resolved"`
	Duration         time.Duration `json:"duration"`
}

// ProgressFunc is how the engine reports progress. It is passed as an
// explicit parameter everywhere it's needed, never stashed in
// module-level state.
type ProgressFunc func(percentage int, message string, status JobStatus)

// Filter narrows load_tasks to a subset of a store's rows.
type Filter struct {
	Status         *Status
	TasklistID     *string
	ModifiedSince  *time.Time
}
