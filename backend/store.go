package backend

import "context"

// Store is the contract shared by LocalStore, RemoteStore, and the
// staging store used during sync. Every implementation is account-scoped:
// nothing in the sync core crosses account boundaries through a Store.
type Store interface {
	// LoadTasks returns all tasks matching filter, with no duplicate ids,
	// ordered by (list, position, created_at) when filter leaves the
	// ordering unspecified.
	LoadTasks(ctx context.Context, filter *Filter) ([]Task, error)

	// SaveTask upserts by id. If task.ModifiedAt is zero it is set to
	// now(). Returns *ConflictError if a concurrent writer changed
	// modified_at since the caller's read.
	SaveTask(ctx context.Context, task Task) error

	// SaveTasks performs an atomic bulk upsert: either every row applies
	// or none do.
	SaveTasks(ctx context.Context, tasks []Task) error

	// DeleteTask soft-deletes: sets status=deleted, stamps modified_at,
	// and appends a DeletionLog entry before any physical removal.
	DeleteTask(ctx context.Context, id string, reason DeletionReason) error

	// PurgeTask physically removes a row already in status=deleted. It is
	// called once a deletion has been confirmed upstream.
	PurgeTask(ctx context.Context, id string) error

	LoadListMapping(ctx context.Context) (map[string]string, error)
	SaveListMapping(ctx context.Context, mapping map[string]string) error

	LoadRemoteDBs(ctx context.Context) ([]RemoteDBConfig, error)
	SaveRemoteDBs(ctx context.Context, dbs []RemoteDBConfig) error

	TaskCount(ctx context.Context) (int, error)

	Close() error
}
