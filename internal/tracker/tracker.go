// Package tracker records the processing state of upload jobs. A job starts
// in processing and moves exactly once to completed or failed.
package tracker

import (
	"context"
	"errors"
	"fmt"

	"gallery-pipeline/internal/models"
)

var (
	// ErrExists is returned by Start for an id that is already tracked.
	ErrExists = errors.New("tracker: job already exists")
	// ErrTerminal is returned by Finish when the job already reached a
	// terminal state. The stored state is left unchanged.
	ErrTerminal = errors.New("tracker: job already finished")
)

type Tracker interface {
	Start(ctx context.Context, id string) error
	// Finish moves a job to a terminal status. Finishing an id that is not
	// tracked (expired or lost on restart) records the terminal status.
	Finish(ctx context.Context, id string, status models.JobStatus) error
	// Status returns StatusUnknown for ids it has never seen or has evicted.
	Status(ctx context.Context, id string) (models.JobStatus, error)
	Ping(ctx context.Context) error
}

func checkTerminal(status models.JobStatus) error {
	if !status.IsTerminal() {
		return fmt.Errorf("tracker: %q is not a terminal status", status)
	}
	return nil
}
