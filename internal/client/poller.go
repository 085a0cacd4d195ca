package client

import (
	"context"
	"time"

	"gallery-pipeline/internal/models"
)

const (
	DefaultPollInterval    = 2 * time.Second
	DefaultPollMaxAttempts = 120
)

// Notification is what a caller shows the user while waiting on a job.
type Notification struct {
	UploadID string
	Status   models.JobStatus
	Attempt  int
	// Exhausted is set on the failed notification sent when the attempt
	// budget ran out without a terminal status.
	Exhausted bool
}

type StatusReader interface {
	Status(ctx context.Context, uploadID string) (models.JobStatus, error)
}

type Poller struct {
	Interval    time.Duration
	MaxAttempts int

	status StatusReader
}

func NewPoller(status StatusReader) *Poller {
	return &Poller{
		Interval:    DefaultPollInterval,
		MaxAttempts: DefaultPollMaxAttempts,
		status:      status,
	}
}

// Wait polls until the job settles, the attempt budget is spent or ctx is
// done. A spent budget is reported as failed. After ctx is done no further
// notifications are sent and ctx.Err() is returned.
func (p *Poller) Wait(ctx context.Context, uploadID string, notify func(Notification)) (models.JobStatus, error) {
	if notify == nil {
		notify = func(Notification) {}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	notify(Notification{UploadID: uploadID, Status: models.StatusProcessing})

	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}

		st, err := p.status.Status(ctx, uploadID)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if err != nil {
			// transient; the attempt still counts
			continue
		}
		if st.IsTerminal() {
			notify(Notification{UploadID: uploadID, Status: st, Attempt: attempt})
			return st, nil
		}
	}

	notify(Notification{UploadID: uploadID, Status: models.StatusFailed, Attempt: p.MaxAttempts, Exhausted: true})
	return models.StatusFailed, nil
}
