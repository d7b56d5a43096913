package crawler

import "errors"

// Sentinel errors shared by store implementations.
var (
	// ErrNoJob indicates no queued or lease-expired job was claimable.
	ErrNoJob = errors.New("no claimable job")
	// ErrJobNotFound indicates the job id does not exist.
	ErrJobNotFound = errors.New("job not found")
	// ErrInvalidTransition indicates a status change outside the state
	// machine; the stored status is left unchanged.
	ErrInvalidTransition = errors.New("invalid job status transition")
	// ErrJobActive indicates a delete attempt on a queued or running job.
	ErrJobActive = errors.New("job is queued or running")
)

// CanTransition reports whether the state machine accepts from -> to
// for control-surface requests. Lease-driven transitions (queued ->
// running, running -> terminal) are handled by ClaimJob/FinishJob.
func CanTransition(from, to JobStatus) bool {
	switch to {
	case JobStatusPaused:
		return from == JobStatusRunning
	case JobStatusQueued:
		return from == JobStatusPaused
	case JobStatusCanceled:
		return from == JobStatusQueued || from == JobStatusRunning
	default:
		return false
	}
}
