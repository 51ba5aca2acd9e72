// Package task holds the orchestrator-neutral view of an ephemeral compute unit:
// a build task or a sandboxed execution task that is created, polled to a
// terminal phase and read once finished.
package task

// Phase is the coarse lifecycle position of an orchestrator task.
type Phase string

const (
	PhasePending   Phase = "pending"
	PhaseRunning   Phase = "running"
	PhaseSucceeded Phase = "succeeded"
	PhaseFailed    Phase = "failed"
)

// Terminal reports whether the orchestrator will not change the phase again.
func (p Phase) Terminal() bool {
	return p == PhaseSucceeded || p == PhaseFailed
}

// Status is a point-in-time observation of a task.
type Status struct {
	Phase Phase
	// Reason is a best-effort explanation for PhaseFailed, empty otherwise.
	Reason string
}
