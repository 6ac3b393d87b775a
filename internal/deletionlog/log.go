// Package deletionlog implements an append-only, crash-safe record of
// observed deletions. It is a thin filesystem mirror of the LocalStore's
// own deletion_log table, used for audit and restore without reopening
// the database.
package deletionlog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"gosynctasks/backend"
)

// Log is a newline-delimited-JSON append-only file. Entries are never
// rewritten; Append must complete before the corresponding row is
// physically removed from the store, so a crash between the two leaves
// the log as the only record that needs to survive.
type Log struct {
	path string
	mu   sync.Mutex
}

func Open(path string) *Log {
	return &Log{path: path}
}

// Append writes one entry to the end of the log, fsyncing before
// returning so the record survives a crash immediately after.
func (l *Log) Append(entry backend.DeletionEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening deletion log: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshalling deletion entry: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("appending deletion entry: %w", err)
	}
	return f.Sync()
}

// Entries reads every entry in insertion order.
func (l *Log) Entries() ([]backend.DeletionEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening deletion log: %w", err)
	}
	defer f.Close()

	var entries []backend.DeletionEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry backend.DeletionEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, fmt.Errorf("parsing deletion log entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning deletion log: %w", err)
	}
	return entries, nil
}

// MostRecent returns the latest entry for taskID, or false if none
// exists. Restore uses this to rebuild the task before the caller decides
// whether to push it back upstream.
func (l *Log) MostRecent(taskID string) (backend.DeletionEntry, bool, error) {
	entries, err := l.Entries()
	if err != nil {
		return backend.DeletionEntry{}, false, err
	}
	var found backend.DeletionEntry
	ok := false
	for _, e := range entries {
		if e.TaskID == taskID {
			found = e
			ok = true
		}
	}
	return found, ok, nil
}

// Restore rebuilds a Task from the most recent matching deletion-log
// entry and saves it via store.SaveTask. It is the caller's
// responsibility to decide whether to then push the restored task
// upstream.
func (l *Log) Restore(store backend.Store, taskID string) (backend.Task, error) {
	entry, ok, err := l.MostRecent(taskID)
	if err != nil {
		return backend.Task{}, err
	}
	if !ok {
		return backend.Task{}, fmt.Errorf("no deletion log entry for task %q", taskID)
	}

	task := backend.Task{
		ID:          entry.TaskID,
		Title:       entry.Title,
		Description: entry.Description,
		Due:         entry.Due,
		Status:      backend.StatusPending,
		TasklistID:  entry.TasklistID,
	}
	return task, store.SaveTask(context.Background(), task)
}
