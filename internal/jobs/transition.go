package jobs

import (
	"time"
)

// transition is the row change a completion report produces.
type transition struct {
	status        Status
	event         string
	clearLease    bool
	refreshLease  bool
	nextAttemptAt *time.Time
	applyResult   bool
}

// decideCompletion validates p against the locked job and returns the change to apply.
// A missing or different lease is always a mismatch, so terminal jobs (whose lease
// was cleared) cannot be completed twice.
func decideCompletion(job Job, p CompleteParams) (transition, error) {
	if job.LeaseID == nil || *job.LeaseID != p.LeaseID {
		return transition{}, ErrLeaseMismatch
	}

	switch p.Status {
	case StatusSucceeded:
		return transition{
			status:      StatusSucceeded,
			event:       EventCompleted,
			clearLease:  true,
			applyResult: hasResult(p.Result),
		}, nil
	case StatusFailed:
		return transition{status: StatusFailed, event: EventFailed, clearLease: true}, nil
	case StatusPending:
		if p.NextAttemptAt == nil {
			return transition{}, ErrNextAttemptAtRequired
		}
		return transition{
			status:        StatusPending,
			event:         EventRetried,
			clearLease:    true,
			nextAttemptAt: p.NextAttemptAt,
		}, nil
	case StatusInProgress:
		return transition{status: StatusInProgress, event: EventStarted, refreshLease: true}, nil
	}
	return transition{}, ErrInvalidStatus
}
