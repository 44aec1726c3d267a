// Package workflow implements the client-side controller for long-running
// AgentCore operations: a finite state machine driven by user actions, remote
// responses, and timer ticks, with progressive-backoff polling, a wall-clock
// ceiling, and persistence so a run survives process restarts.
package workflow

// Phase is the controller's current state within its finite state machine.
// Exactly one phase is active at a time.
type Phase string

const (
	// PhaseIdle means no run is live for the unit.
	PhaseIdle Phase = "idle"
	// PhaseValidating means the initial remote call is in flight for
	// validation-gated kinds.
	PhaseValidating Phase = "validating"
	// PhaseUploading means the initial remote call is in flight for
	// file-backed kinds.
	PhaseUploading Phase = "uploading"
	// PhaseProcessing means the backend accepted the request and is working
	// on it synchronously.
	PhaseProcessing Phase = "processing"
	// PhasePolling means the backend handed back an operation handle and the
	// controller is checking its status on a backoff schedule.
	PhasePolling Phase = "polling"
	// PhaseCompleted is the terminal success phase; Result is populated.
	PhaseCompleted Phase = "completed"
	// PhaseFailed is the terminal error phase for remote or transport
	// failures; ErrMsg is populated.
	PhaseFailed Phase = "failed"
	// PhaseInvalid means the input was rejected, either by local validation
	// or by the backend on domain grounds. Retryable with different input
	// without a full reset.
	PhaseInvalid Phase = "invalid"
	// PhaseTimedOut means the polling ceiling was exceeded. Distinct from
	// PhaseFailed so the UI can explain the result may still arrive
	// out-of-band.
	PhaseTimedOut Phase = "timed_out"
)

// Terminal reports whether the phase ends a run.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseCompleted, PhaseFailed, PhaseInvalid, PhaseTimedOut:
		return true
	}
	return false
}

// Failure reports whether the phase is a failure-flavored terminal phase,
// i.e. one that carries ErrMsg.
func (p Phase) Failure() bool {
	switch p {
	case PhaseFailed, PhaseInvalid, PhaseTimedOut:
		return true
	}
	return false
}

// Remote reports whether a remote call or poll loop is active in this phase.
func (p Phase) Remote() bool {
	switch p {
	case PhaseValidating, PhaseUploading, PhaseProcessing, PhasePolling:
		return true
	}
	return false
}
