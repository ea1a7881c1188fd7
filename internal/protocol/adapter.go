// Package protocol defines the backend adapter contract and the three
// protocol versions the daemon speaks.
//
// Adapters normalize every backend interaction to an Outcome: a rejected
// card, a refused connection and a malformed body all come back as data the
// workflow can display, never as a Go error. A missing endpoint URL is
// reported the same way, without touching the network.
package protocol

import (
	"context"
	"time"

	"github.com/card-capture/ccd/internal/codec"
)

// Timestamp layout the backends expect.
const timestampLayout = "2006-01-02 15:04:05"

// Param is one submission field value in presentation order.
type Param struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Request carries a card and its collected fields into an adapter.
type Request struct {
	Card      codec.Identifier
	Timestamp time.Time
	Params    []Param
}

// Outcome is the normalized result of a verify or submit call.
type Outcome struct {
	Accepted bool           `json:"accepted"`
	Message  string         `json:"message,omitempty"`
	Body     map[string]any `json:"body,omitempty"`
}

// Capabilities describes which workflow steps a protocol version uses.
type Capabilities struct {
	// Verify reports whether the version has a verification step.
	Verify bool `json:"verify"`
	// Confirm reports whether the confirmation step applies before submit.
	Confirm bool `json:"confirm"`
	// FieldsAfterVerify reports whether field values are only collected
	// once verification has accepted the card.
	FieldsAfterVerify bool `json:"fieldsAfterVerify"`
}

// Adapter is the stable southbound contract one protocol version implements.
type Adapter interface {
	// ID returns the version identifier ("v0", "v1", "v2").
	ID() string

	// Capabilities returns the workflow steps this version uses.
	Capabilities() Capabilities

	// Verify checks whether the backend accepts the card. Versions without
	// a verify step accept unconditionally. The request carries the fields
	// already collected; versions that verify card-first ignore them.
	Verify(ctx context.Context, req Request) Outcome

	// Submit sends the card and its fields to the backend.
	Submit(ctx context.Context, req Request) Outcome
}

// missingConfig is the outcome for an unset endpoint URL. It carries the
// same shape as a transport failure so the workflow needs no special case.
func missingConfig(detail string) Outcome {
	return Outcome{Message: "CONFIG_MISSING: " + detail}
}
