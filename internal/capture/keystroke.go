package capture

import (
	"strings"
	"sync"
	"time"

	"github.com/card-capture/ccd/internal/codec"
)

// Virtual key codes the listener reacts to. Top-row and numpad digits map to
// the same characters; everything else outside backspace and enter is noise.
const (
	vkBackspace = 0x08
	vkEnter     = 0x0D
	vkDigit0    = 0x30
	vkDigit9    = 0x39
	vkNumpad0   = 0x60
	vkNumpad9   = 0x69
)

// KeystrokeConfig configures the wedge listener.
type KeystrokeConfig struct {
	// DeviceKeywords filters input by device name, case-insensitive. Empty
	// means accept every device.
	DeviceKeywords []string
	// DigitLength is the card number length N. In terminator-free mode the
	// buffer emits its last N digits as soon as it holds at least N.
	DigitLength int
	// RequireEnter switches to terminator mode: digits only accumulate and
	// enter triggers the emit.
	RequireEnter bool
	// BufferTimeout resets a stale buffer when the gap between keys exceeds
	// it. Zero disables the reset.
	BufferTimeout time.Duration
}

// KeystrokeSource assembles card numbers from wedge reader keystrokes.
// HandleKey is safe for concurrent use.
type KeystrokeSource struct {
	cfg  KeystrokeConfig
	sink func(CardEvent)

	mu         sync.Mutex
	buffer     []byte
	lastKey    time.Time
	lastDevice string

	now func() time.Time
}

// NewKeystrokeSource builds a listener that hands completed numbers to sink.
func NewKeystrokeSource(cfg KeystrokeConfig, sink func(CardEvent)) *KeystrokeSource {
	if cfg.DigitLength <= 0 {
		cfg.DigitLength = 10
	}
	return &KeystrokeSource{
		cfg:  cfg,
		sink: sink,
		now:  time.Now,
	}
}

// HandleKey processes one key from the named device. Keys from devices that
// match no configured keyword are ignored without touching the buffer.
func (k *KeystrokeSource) HandleKey(device string, vk int) {
	if !k.deviceMatches(device) {
		return
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	if k.cfg.BufferTimeout > 0 && len(k.buffer) > 0 && now.Sub(k.lastKey) > k.cfg.BufferTimeout {
		// The previous tap never completed. Start over.
		k.buffer = k.buffer[:0]
	}
	k.lastKey = now

	switch {
	case vk >= vkDigit0 && vk <= vkDigit9:
		k.lastDevice = device
		k.pushDigit(byte('0'+vk-vkDigit0), ProvenanceKeystroke)
	case vk >= vkNumpad0 && vk <= vkNumpad9:
		k.lastDevice = device
		k.pushDigit(byte('0'+vk-vkNumpad0), ProvenanceKeystroke)
	case vk == vkBackspace:
		k.buffer = k.buffer[:0]
	case vk == vkEnter:
		if k.cfg.RequireEnter {
			k.emitLocked(ProvenanceKeystroke, device)
		}
	}
}

// InjectDecimal feeds a digit string through the buffer as if it had been
// typed, used to rebroadcast numbers captured on another path. Non-digit
// characters are skipped.
func (k *KeystrokeSource) InjectDecimal(digits string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.lastKey = k.now()
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			continue
		}
		k.pushDigit(digits[i], ProvenanceRebroadcast)
	}
	if k.cfg.RequireEnter {
		k.emitLocked(ProvenanceRebroadcast, "inject")
	}
}

// pushDigit appends one digit and, in terminator-free mode, emits when the
// buffer holds enough. Callers hold the mutex.
func (k *KeystrokeSource) pushDigit(c byte, provenance Provenance) {
	k.buffer = append(k.buffer, c)
	if !k.cfg.RequireEnter && len(k.buffer) >= k.cfg.DigitLength {
		k.emitLocked(provenance, "")
	}
}

// emitLocked hands the last N buffered digits to the sink and clears the
// buffer. Short buffers in terminator mode emit as-is. An empty source falls
// back to the device that typed the last digit.
func (k *KeystrokeSource) emitLocked(provenance Provenance, source string) {
	if len(k.buffer) == 0 {
		return
	}
	digits := string(k.buffer)
	if len(digits) > k.cfg.DigitLength {
		digits = digits[len(digits)-k.cfg.DigitLength:]
	}
	k.buffer = k.buffer[:0]

	id, err := codec.FromDecimal(digits)
	if err != nil {
		return
	}
	if source == "" {
		source = k.lastDevice
	}
	if source == "" {
		source = "keystroke"
		if provenance == ProvenanceRebroadcast {
			source = "inject"
		}
	}
	k.sink(CardEvent{
		Provenance: provenance,
		Source:     source,
		Identifier: id,
		At:         k.now(),
	})
}

func (k *KeystrokeSource) deviceMatches(device string) bool {
	if len(k.cfg.DeviceKeywords) == 0 {
		return true
	}
	lower := strings.ToLower(device)
	for _, kw := range k.cfg.DeviceKeywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
