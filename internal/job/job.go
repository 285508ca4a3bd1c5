// SPDX-License-Identifier: MIT

// Package job defines the shared vocabulary of the orchestrator: job types,
// job states, and the opaque payload envelope that travels between the
// submission path, the store, and the workers.
package job

// Type identifies which pipeline processes a job.
type Type string

const (
	TypeQuickCreate  Type = "quick_create"
	TypeFullUniverse Type = "quick_create_full_universe"
	TypeCompose      Type = "compose"
	TypeTTS          Type = "tts"

	// TypeUnknown marks legacy rows persisted before the job_type column
	// existed.
	TypeUnknown Type = "unknown"
)

// Valid reports whether t names one of the dispatchable pipelines.
func (t Type) Valid() bool {
	switch t {
	case TypeQuickCreate, TypeFullUniverse, TypeCompose, TypeTTS:
		return true
	}
	return false
}

// State is the lifecycle position of a job.
type State string

const (
	StateQueued     State = "queued"
	StateProcessing State = "processing"
	StateDone       State = "done"
	StateError      State = "error"
	StateCancelled  State = "cancelled"

	// StateCompleted is a legacy alias for StateDone that may appear in
	// persisted rows; External folds it away at every boundary.
	StateCompleted State = "completed"
)

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	switch s {
	case StateDone, StateCompleted, StateError, StateCancelled:
		return true
	}
	return false
}

// Failure reports whether s is a terminal state that triggers the refund
// path.
func (s State) Failure() bool {
	return s == StateError || s == StateCancelled
}

// External returns the client-visible form of s: the internal alias
// "completed" renders as "done", everything else is unchanged.
func (s State) External() State {
	if s == StateCompleted {
		return StateDone
	}
	return s
}
