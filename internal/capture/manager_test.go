package capture

import (
	"testing"
	"time"

	"github.com/card-capture/ccd/internal/codec"
)

func TestPublishDropsOldestUnderPressure(t *testing.T) {
	m := NewManager(2)

	for i := 1; i <= 4; i++ {
		m.Publish(CardEvent{
			Provenance: ProvenanceRadio,
			Identifier: codec.Identifier{Dec10: codec.FormatDec10(uint64(i))},
		})
	}

	// Only the newest two survive.
	first := <-m.Events()
	second := <-m.Events()
	if first.Identifier.Dec10 != "0000000003" {
		t.Errorf("first surviving event = %q, want 0000000003", first.Identifier.Dec10)
	}
	if second.Identifier.Dec10 != "0000000004" {
		t.Errorf("second surviving event = %q, want 0000000004", second.Identifier.Dec10)
	}

	select {
	case ev := <-m.Events():
		t.Errorf("unexpected extra event %v", ev)
	default:
	}
}

func TestIngestRawPublishesDecodedIdentifier(t *testing.T) {
	m := NewManager(4)

	id, ok := m.IngestRaw("reader-1", []byte{0x49, 0x96, 0x02, 0xD2})
	if !ok {
		t.Fatal("decodable payload rejected")
	}
	if id.Hex8 != "499602D2" {
		t.Errorf("hex8 = %q", id.Hex8)
	}

	select {
	case ev := <-m.Events():
		if ev.Provenance != ProvenanceRadio {
			t.Errorf("provenance = %q", ev.Provenance)
		}
		if ev.RawHex != "499602D2" {
			t.Errorf("raw hex = %q", ev.RawHex)
		}
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}
}

func TestIngestRawDropsUndecodablePayload(t *testing.T) {
	m := NewManager(4)

	if _, ok := m.IngestRaw("reader-1", []byte{0x01, 0x02, 0x03}); ok {
		t.Fatal("three opaque bytes should not decode")
	}

	select {
	case ev := <-m.Events():
		t.Errorf("undecodable payload published %v", ev)
	default:
	}
}

func TestSubmitManual(t *testing.T) {
	m := NewManager(4)

	id, err := m.SubmitManual(" 1234567890 ")
	if err != nil {
		t.Fatalf("SubmitManual error: %v", err)
	}
	if id.Dec10 != "1234567890" {
		t.Errorf("dec10 = %q", id.Dec10)
	}

	ev := <-m.Events()
	if ev.Provenance != ProvenanceManual {
		t.Errorf("provenance = %q", ev.Provenance)
	}

	if _, err := m.SubmitManual("!!"); err == nil {
		t.Error("garbage input accepted")
	}
}

func TestPublishDropsRebroadcastEvents(t *testing.T) {
	m := NewManager(4)

	m.Publish(CardEvent{
		Provenance: ProvenanceRebroadcast,
		Source:     "inject",
		Identifier: codec.Identifier{Hex8: "499602D2", Dec10: "1234567890"},
	})

	select {
	case ev := <-m.Events():
		t.Errorf("rebroadcast event re-entered the stream: %v", ev)
	default:
	}
}

func TestRegisterRejectsDuplicateNames(t *testing.T) {
	m := NewManager(4)
	src := NewSerialSource("/dev/ttyUSB0", 9600, m)

	if err := m.Register(src); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := m.Register(src); err == nil {
		t.Error("duplicate register accepted")
	}
}
