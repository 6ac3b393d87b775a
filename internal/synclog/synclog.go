// Package synclog provides a per-job logger layered over the process-wide
// utils.Logger, in the same stdlib-log idiom the rest of the module uses
// (see internal/utils/logger.go) — tagging every line with the job id and
// account so interleaved job logs stay attributable.
package synclog

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"gosynctasks/internal/utils"
)

// JobLogger tags every message with a job id and account id, and
// optionally mirrors them into a per-job file under the account's
// storage root via utils.BackgroundLogger.
type JobLogger struct {
	jobID     string
	accountID string
	file      *utils.BackgroundLogger
}

// ForJob returns a JobLogger that only logs through the process-wide
// utils.Logger singleton.
func ForJob(jobID, accountID string) *JobLogger {
	return &JobLogger{jobID: jobID, accountID: accountID}
}

// ForJobWithFile additionally opens a dedicated log file for this job
// under storageRoot, so a completed run's log survives after the
// process-wide logger's stderr scrolls away.
func ForJobWithFile(jobID, accountID, storageRoot string) *JobLogger {
	l := &JobLogger{jobID: jobID, accountID: accountID}
	if bl, err := utils.NewBackgroundLogger(storageRoot, jobID); err == nil {
		l.file = bl
	}
	return l
}

// Close releases the job's file sink, if one was opened.
func (l *JobLogger) Close() {
	if l.file != nil {
		l.file.Close()
	}
}

func (l *JobLogger) prefix() string {
	return fmt.Sprintf("[job %s account %s] ", l.jobID, l.accountID)
}

func (l *JobLogger) Debugf(format string, args ...interface{}) {
	utils.Debugf(l.prefix()+format, args...)
	if l.file != nil {
		l.file.Printf("[DEBUG] "+format, args...)
	}
}

func (l *JobLogger) Infof(format string, args ...interface{}) {
	utils.Infof(l.prefix()+format, args...)
	if l.file != nil {
		l.file.Printf("[INFO] "+format, args...)
	}
}

func (l *JobLogger) Warnf(format string, args ...interface{}) {
	utils.Warnf(l.prefix()+format, args...)
	if l.file != nil {
		l.file.Printf("[WARN] "+format, args...)
	}
}

func (l *JobLogger) Errorf(format string, args ...interface{}) {
	utils.Errorf(l.prefix()+format, args...)
	if l.file != nil {
		l.file.Printf("[ERROR] "+format, args...)
	}
}

// ProgressLine renders a human-readable progress message including an
// elapsed-time suffix, e.g. "classifying tasks (42%) - 3 seconds elapsed".
func ProgressLine(stage string, percentage int, elapsed time.Duration) string {
	return fmt.Sprintf("%s (%d%%) - %s elapsed", stage, percentage, humanize.RelTime(
		time.Now().Add(-elapsed), time.Now(), "", ""))
}
