package capture

import (
	"time"

	"github.com/card-capture/ccd/internal/codec"
)

// Provenance identifies which kind of source produced a card event.
type Provenance string

const (
	// ProvenanceRadio marks events decoded from a reader notification payload.
	ProvenanceRadio Provenance = "radio"
	// ProvenanceKeystroke marks events assembled by the keystroke listener.
	ProvenanceKeystroke Provenance = "keystroke"
	// ProvenanceManual marks events typed in by an operator.
	ProvenanceManual Provenance = "manual"
	// ProvenanceRebroadcast marks events re-injected from another capture
	// path. They are never re-injected again.
	ProvenanceRebroadcast Provenance = "rebroadcast"
)

// CardEvent is one card sighting on its way to the orchestrator.
type CardEvent struct {
	Provenance Provenance       `json:"provenance"`
	Source     string           `json:"source"`
	Identifier codec.Identifier `json:"identifier"`
	RawHex     string           `json:"rawHex,omitempty"`
	At         time.Time        `json:"at"`
}
