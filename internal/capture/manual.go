package capture

import (
	"fmt"
	"time"

	"github.com/card-capture/ccd/internal/codec"
)

// SubmitManual parses free-form operator input and publishes it as a manual
// card event. The parsed identifier is returned so the caller can echo it.
func (m *Manager) SubmitManual(text string) (codec.Identifier, error) {
	id, ok := codec.DecodeManual(text)
	if !ok {
		return codec.Identifier{}, fmt.Errorf("not a card number: %q", text)
	}

	m.Publish(CardEvent{
		Provenance: ProvenanceManual,
		Source:     "manual",
		Identifier: id,
		At:         time.Now(),
	})
	return id, nil
}
