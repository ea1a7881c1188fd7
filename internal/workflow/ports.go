package workflow

import (
	"context"

	"github.com/card-capture/ccd/internal/protocol"
	"github.com/card-capture/ccd/internal/telemetry"
)

// AdapterResolver hands out the protocol adapter for a version ID.
type AdapterResolver interface {
	Get(id string) (protocol.Adapter, error)
}

// FieldSource supplies the submission field values for a run.
type FieldSource interface {
	Params() []protocol.Param

	// Refresh re-reads field values from their external source and returns
	// the names of the fields that changed.
	Refresh(ctx context.Context) ([]string, error)
}

// EventPublisher receives workflow telemetry events.
type EventPublisher interface {
	Publish(event telemetry.Event) error
}

// AuditSink records workflow actions.
type AuditSink interface {
	LogAction(ctx context.Context, action, runID, cardHex, outcome string, details map[string]any)
}
