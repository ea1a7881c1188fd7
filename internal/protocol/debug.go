package protocol

import (
	"context"
	"strings"

	"github.com/card-capture/ccd/internal/config"
)

// URLOpener hands a URL to the operator's browser.
type URLOpener func(url string) error

// DebugAdapter implements the v0 protocol: no verification, no confirmation,
// submission opens the receiver page in a browser with the card and fields
// as query parameters. The legacy receiver predates URL escaping, so the
// query is plain key=value pairs joined with ampersands.
type DebugAdapter struct {
	cfg    config.VersionConfig
	opener URLOpener
}

// NewDebugAdapter builds the v0 adapter.
func NewDebugAdapter(cfg config.VersionConfig, opener URLOpener) *DebugAdapter {
	return &DebugAdapter{cfg: cfg, opener: opener}
}

// ID implements Adapter.
func (a *DebugAdapter) ID() string { return config.VersionDebug }

// Capabilities implements Adapter.
func (a *DebugAdapter) Capabilities() Capabilities {
	return Capabilities{}
}

// Verify implements Adapter. v0 has no verification step.
func (a *DebugAdapter) Verify(_ context.Context, _ Request) Outcome {
	return Outcome{Accepted: true}
}

// Submit implements Adapter.
func (a *DebugAdapter) Submit(_ context.Context, req Request) Outcome {
	if a.cfg.DebugURL == "" {
		return missingConfig("v0 debug URL")
	}

	target := a.BuildURL(req)
	if a.opener == nil {
		return Outcome{Message: "no browser available"}
	}
	if err := a.opener(target); err != nil {
		return Outcome{Message: "failed to open browser: " + err.Error()}
	}
	return Outcome{Accepted: true, Message: target}
}

// BuildURL renders the receiver URL for a request.
func (a *DebugAdapter) BuildURL(req Request) string {
	pairs := make([]string, 0, len(req.Params)+1)
	pairs = append(pairs, "RFID="+ProcessedDec(req.Card.Dec10))
	for _, p := range req.Params {
		pairs = append(pairs, p.Name+"="+p.Value)
	}

	sep := "?"
	switch {
	case strings.HasSuffix(a.cfg.DebugURL, "?"), strings.HasSuffix(a.cfg.DebugURL, "&"):
		sep = ""
	case strings.Contains(a.cfg.DebugURL, "?"):
		sep = "&"
	}
	return a.cfg.DebugURL + sep + strings.Join(pairs, "&")
}
