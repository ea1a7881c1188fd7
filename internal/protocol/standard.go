package protocol

import (
	"context"

	"github.com/card-capture/ccd/internal/config"
	"github.com/card-capture/ccd/internal/transport"
)

// StandardAdapter implements the v1 protocol: verify and bind are both JSON
// POSTs carrying the card renderings, the timestamp and the field map.
type StandardAdapter struct {
	cfg    config.VersionConfig
	client *transport.Client
}

// NewStandardAdapter builds the v1 adapter.
func NewStandardAdapter(cfg config.VersionConfig, client *transport.Client) *StandardAdapter {
	return &StandardAdapter{cfg: cfg, client: client}
}

// ID implements Adapter.
func (a *StandardAdapter) ID() string { return config.VersionStandard }

// Capabilities implements Adapter.
func (a *StandardAdapter) Capabilities() Capabilities {
	return Capabilities{Verify: true, Confirm: true}
}

// Verify implements Adapter. Any answer that comes back as an object accepts
// the card; transport failures carry the backend's reason.
func (a *StandardAdapter) Verify(ctx context.Context, req Request) Outcome {
	if a.cfg.VerifyURL == "" {
		return missingConfig("v1 verify URL")
	}

	result := a.client.PostJSON(ctx, a.cfg.VerifyURL, standardPayload(req))
	if !result.OK {
		return Outcome{Message: result.Message, Body: result.Body}
	}
	return Outcome{Accepted: true, Message: bodyMessage(result.Body), Body: result.Body}
}

// Submit implements Adapter.
func (a *StandardAdapter) Submit(ctx context.Context, req Request) Outcome {
	if a.cfg.BindURL == "" {
		return missingConfig("v1 bind URL")
	}

	result := a.client.PostJSON(ctx, a.cfg.BindURL, standardPayload(req))
	if !result.OK {
		return Outcome{Message: result.Message, Body: result.Body}
	}
	return Outcome{Accepted: true, Message: bodyMessage(result.Body), Body: result.Body}
}

// standardPayload renders the JSON body shared by v1 verify/bind and the v2
// bind call.
func standardPayload(req Request) map[string]any {
	fieldMap := make(map[string]string, len(req.Params))
	for _, p := range req.Params {
		fieldMap[p.Name] = p.Value
	}

	return map[string]any{
		"card_hex":  req.Card.Hex8,
		"card_dec":  req.Card.Dec10,
		"timestamp": req.Timestamp.Format(timestampLayout),
		"fields":    fieldMap,
	}
}

// bodyMessage pulls a display message out of a response body, if any.
func bodyMessage(body map[string]any) string {
	for _, key := range []string{"msg", "message"} {
		if text, ok := body[key].(string); ok && text != "" {
			return text
		}
	}
	return ""
}
