package workflow

import (
	"time"

	"github.com/card-capture/ccd/internal/codec"
	"github.com/card-capture/ccd/internal/protocol"
)

// State is the workflow position of the current run.
type State string

const (
	StateIdle                 State = "Idle"
	StateCardDetected         State = "CardDetected"
	StateVerifying            State = "Verifying"
	StateAwaitingConfirmation State = "AwaitingConfirmation"
	StateSubmitting           State = "Submitting"
	StateCompleted            State = "Completed"
	StateFailed               State = "Failed"
	StateCancelled            State = "Cancelled"
)

// active reports whether the state belongs to a run still in flight.
func (s State) active() bool {
	switch s {
	case StateCardDetected, StateVerifying, StateAwaitingConfirmation, StateSubmitting:
		return true
	}
	return false
}

// terminal reports whether the state ends a run.
func (s State) terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Snapshot is a copy of the workflow status handed to the API and the
// telemetry ready event. Fields is the run's frozen submission mapping.
type Snapshot struct {
	State      State             `json:"state"`
	RunID      string            `json:"runId,omitempty"`
	Card       *codec.Identifier `json:"card,omitempty"`
	Provenance string            `json:"provenance,omitempty"`
	Version    string            `json:"version,omitempty"`
	Fields     []protocol.Param  `json:"fields,omitempty"`
	Message    string            `json:"message,omitempty"`
	Countdown  int               `json:"countdown,omitempty"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}
