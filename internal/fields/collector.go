package fields

import (
	"context"

	"github.com/card-capture/ccd/internal/protocol"
)

// Collector binds the registry to an optional recognizer so the workflow can
// pull fresh field values once a card has been verified. Without a
// recognizer, Refresh is a no-op and the registry values stand as entered.
type Collector struct {
	Registry   *Registry
	Recognizer Recognizer
}

// Params returns the current wire parameters.
func (c *Collector) Params() []protocol.Param {
	return c.Registry.Params()
}

// Refresh re-reads field values through the recognizer.
func (c *Collector) Refresh(ctx context.Context) ([]string, error) {
	if c.Recognizer == nil {
		return nil, nil
	}
	return c.Registry.Refresh(ctx, c.Recognizer)
}
