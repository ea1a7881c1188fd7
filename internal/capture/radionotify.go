package capture

import (
	"log"
	"time"

	"github.com/card-capture/ccd/internal/codec"
)

// IngestRaw decodes a raw reader notification payload and publishes the
// canonical identifier. A payload with no plausible reading is logged with
// its hex dump and dropped; the workflow never sees it.
func (m *Manager) IngestRaw(source string, payload []byte) (codec.Identifier, bool) {
	id, ok := codec.Canonicalize(codec.Decode(payload))
	if !ok {
		log.Printf("undecodable payload from %s: hex=%s ascii=%q",
			source, codec.HexDump(payload), codec.PrintableASCII(payload))
		return codec.Identifier{}, false
	}

	m.Publish(CardEvent{
		Provenance: ProvenanceRadio,
		Source:     source,
		Identifier: id,
		RawHex:     codec.HexDump(payload),
		At:         time.Now(),
	})
	return id, true
}
