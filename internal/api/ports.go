// Ports (interfaces) for API server dependencies.
package api

import (
	"context"
	"net/http"

	"github.com/card-capture/ccd/internal/capture"
	"github.com/card-capture/ccd/internal/codec"
	"github.com/card-capture/ccd/internal/config"
	"github.com/card-capture/ccd/internal/fields"
	"github.com/card-capture/ccd/internal/telemetry"
	"github.com/card-capture/ccd/internal/workflow"
)

// WorkflowPort is the minimal interface the API needs from the orchestrator.
type WorkflowPort interface {
	Status() workflow.Snapshot
	Confirm(ctx context.Context) error
	Cancel(ctx context.Context) error
	Retry(ctx context.Context) error
	Ack(ctx context.Context) error
}

// CapturePort is the minimal interface the API needs from the capture manager.
type CapturePort interface {
	SubmitManual(text string) (codec.Identifier, error)
	IngestRaw(source string, payload []byte) (codec.Identifier, bool)
	SourceNames() []string
}

// FieldPort is the minimal interface the API needs from the field registry.
type FieldPort interface {
	List() []fields.Field
	Get(id string) (fields.Field, error)
	Apply(id string, update fields.Update) (fields.Field, error)
	Add(seed config.FieldSeed) (fields.Field, error)
	Remove(id string) error
	Refresh(ctx context.Context, rec fields.Recognizer) ([]string, error)
}

// KeyPort receives forwarded keystrokes from a platform key-hook shim.
type KeyPort interface {
	HandleKey(device string, vk int)
}

// ConfigPort is the minimal interface the API needs from the config store.
type ConfigPort interface {
	Current() config.Config
	SelectVersion(version string) error
}

// TelemetryPort is the minimal interface the API needs from the telemetry hub.
type TelemetryPort interface {
	Subscribe(ctx context.Context, w http.ResponseWriter, r *http.Request) error
}

// Compile-time assertions for port conformance
var _ WorkflowPort = (*workflow.Orchestrator)(nil)
var _ CapturePort = (*capture.Manager)(nil)
var _ FieldPort = (*fields.Registry)(nil)
var _ ConfigPort = (*config.Store)(nil)
var _ KeyPort = (*capture.KeystrokeSource)(nil)
var _ TelemetryPort = (*telemetry.Hub)(nil)
