package protocol

import (
	"context"
	"strings"

	"github.com/card-capture/ccd/internal/config"
	"github.com/card-capture/ccd/internal/transport"
)

// CardFirstAdapter implements the v2 protocol. The backend wants the card
// checked before anything else: verification is a GET carrying only the
// processed card number, field values are collected after a usable verdict,
// and the bind call is the standard JSON POST.
type CardFirstAdapter struct {
	cfg    config.VersionConfig
	client *transport.Client
}

// NewCardFirstAdapter builds the v2 adapter.
func NewCardFirstAdapter(cfg config.VersionConfig, client *transport.Client) *CardFirstAdapter {
	return &CardFirstAdapter{cfg: cfg, client: client}
}

// ID implements Adapter.
func (a *CardFirstAdapter) ID() string { return config.VersionCardFirst }

// Capabilities implements Adapter.
func (a *CardFirstAdapter) Capabilities() Capabilities {
	return Capabilities{Verify: true, Confirm: true, FieldsAfterVerify: true}
}

// Verify implements Adapter. The card is usable only when the body carries
// code 200 and data.status.first says so; anything else is a rejection with
// the backend's reason attached.
func (a *CardFirstAdapter) Verify(ctx context.Context, req Request) Outcome {
	if a.cfg.VerifyURL == "" {
		return missingConfig("v2 verify URL")
	}

	result := a.client.Get(ctx, a.cfg.VerifyURL+ProcessedDec(req.Card.Dec10))
	if !result.OK {
		return Outcome{Message: result.Message, Body: result.Body}
	}

	if usable(result.Body) {
		return Outcome{Accepted: true, Body: result.Body}
	}

	msg := bodyMessage(result.Body)
	if msg == "" {
		msg = "card not usable"
	}
	return Outcome{Message: msg, Body: result.Body}
}

// Submit implements Adapter.
func (a *CardFirstAdapter) Submit(ctx context.Context, req Request) Outcome {
	if a.cfg.BindURL == "" {
		return missingConfig("v2 bind URL")
	}

	result := a.client.PostJSON(ctx, a.cfg.BindURL, standardPayload(req))
	if !result.OK {
		return Outcome{Message: result.Message, Body: result.Body}
	}
	return Outcome{Accepted: true, Message: bodyMessage(result.Body), Body: result.Body}
}

// ProcessedDec strips the "0000" left-padding a 10-digit decimal carries
// when the underlying value fits 6 digits. Shorter and longer numbers pass
// through untouched.
func ProcessedDec(dec string) string {
	if len(dec) == 10 && strings.HasPrefix(dec, "0000") {
		return dec[4:]
	}
	return dec
}

// usable checks for {"code": 200, "data": {"status": {"first": "usable"}}}.
func usable(body map[string]any) bool {
	code, ok := body["code"].(float64)
	if !ok || code != 200 {
		return false
	}
	data, ok := body["data"].(map[string]any)
	if !ok {
		return false
	}
	status, ok := data["status"].(map[string]any)
	if !ok {
		return false
	}
	first, ok := status["first"].(string)
	return ok && first == "usable"
}
