package mirror

import (
	"errors"
	"fmt"
)

var (
	// the download directory could not be created or written to
	ErrDirectoryUnavailable = errors.New("download directory is unavailable")
	// another run currently holds the single-flight slot
	ErrTaskAlreadyRunning = errors.New("a task is already running")
	// results could not be written to the record store
	ErrPersistence = errors.New("failed to persist task results")
	// no run has been persisted yet
	ErrNoResults = errors.New("no task results are available")
)

// TaskError ties a task failure to the run that produced it, so logs
// and api responses can reference the run.
type TaskError struct {
	RunID string
	Err   error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task run %s: %s", e.RunID, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}
