package codec

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// Origin tags describe which heuristic produced a candidate. They exist for
// ranking and logging only and are dropped once a candidate is canonicalized.
const (
	OriginASCIIHex     = "ascii-8H"
	OriginASCIIDec     = "ascii-10D"
	OriginASCIIDecLong = "ascii-10D-long"
	OriginRaw4BE       = "raw4-be"
	OriginRaw4LE       = "raw4-le"
	OriginRaw5BE       = "raw5-be"
	OriginRaw5LE       = "raw5-le"
	OriginManual       = "manual"
)

// Identifier is a canonical card identifier.
type Identifier struct {
	Hex8   string `json:"hex8"`
	Dec10  string `json:"dec10"`
	RawHex string `json:"rawHex,omitempty"`
}

// Candidate is one plausible reading of a raw payload.
type Candidate struct {
	Hex8      string
	Dec10     string
	OriginTag string
}

// FormatHex8 renders the low 32 bits of v as 8 uppercase hex digits.
func FormatHex8(v uint64) string {
	return fmt.Sprintf("%08X", v&0xFFFFFFFF)
}

// FormatDec10 renders v as a decimal string zero-padded to at least 10 digits.
func FormatDec10(v uint64) string {
	return fmt.Sprintf("%010d", v)
}

// FromDecimal builds an Identifier from a decimal digit string, deriving hex8
// by masking to the low 32 bits.
func FromDecimal(dec string) (Identifier, error) {
	v, err := strconv.ParseUint(dec, 10, 64)
	if err != nil {
		return Identifier{}, fmt.Errorf("not a decimal card value %q: %w", dec, err)
	}
	return Identifier{Hex8: FormatHex8(v), Dec10: FormatDec10(v)}, nil
}

// Decode scans a raw notification payload and returns every plausible
// candidate in ranking order: ASCII-derived readings first, then 4-byte
// sliding-window integers, then the 5-byte readings used by low-frequency
// tags. The list may contain duplicates; Canonicalize dedups.
func Decode(raw []byte) []Candidate {
	candidates := DecodeAscii(PrintableASCII(raw))

	// Slide a 4-byte window over the raw buffer at every offset and try both
	// byte orders. Four bytes is the common card ID length.
	for i := 0; i+4 <= len(raw); i++ {
		be := uint64(binary.BigEndian.Uint32(raw[i : i+4]))
		le := uint64(binary.LittleEndian.Uint32(raw[i : i+4]))
		candidates = append(candidates,
			Candidate{Hex8: FormatHex8(be), Dec10: FormatDec10(be), OriginTag: OriginRaw4BE},
			Candidate{Hex8: FormatHex8(le), Dec10: FormatDec10(le), OriginTag: OriginRaw4LE},
		)
	}

	// Some readers transmit 5-byte frames (40-bit low-frequency tags). The
	// decimal keeps the full value; hex8 keeps only the low 32 bits.
	if len(raw) >= 5 {
		var be, le uint64
		for _, b := range raw[:5] {
			be = be<<8 | uint64(b)
		}
		for i := 4; i >= 0; i-- {
			le = le<<8 | uint64(raw[i])
		}
		candidates = append(candidates,
			Candidate{Hex8: FormatHex8(be), Dec10: FormatDec10(be), OriginTag: OriginRaw5BE},
			Candidate{Hex8: FormatHex8(le), Dec10: FormatDec10(le), OriginTag: OriginRaw5LE},
		)
	}

	return candidates
}

// DecodeAscii extracts candidates from printable text: 8-hex-digit tokens,
// 10-decimal-digit tokens, and longer decimal tokens truncated to their last
// 10 digits. Tokens are maximal runs of ASCII letters and digits; candidates
// are grouped by kind in that order, not by position in the text.
func DecodeAscii(text string) []Candidate {
	tokens := alnumTokens(text)

	var candidates []Candidate
	for _, tok := range tokens {
		if len(tok) != 8 || !isHex(tok) {
			continue
		}
		v, err := strconv.ParseUint(tok, 16, 64)
		if err != nil {
			continue
		}
		candidates = append(candidates, Candidate{
			Hex8:      strings.ToUpper(tok),
			Dec10:     FormatDec10(v),
			OriginTag: OriginASCIIHex,
		})
	}
	for _, tok := range tokens {
		if len(tok) != 10 || !isDigits(tok) {
			continue
		}
		v, err := strconv.ParseUint(tok, 10, 64)
		if err != nil {
			continue
		}
		candidates = append(candidates, Candidate{
			Hex8:      FormatHex8(v),
			Dec10:     FormatDec10(v),
			OriginTag: OriginASCIIDec,
		})
	}
	for _, tok := range tokens {
		if len(tok) < 11 || !isDigits(tok) {
			continue
		}
		// Over-long decimals keep their trailing 10 digits.
		tail := tok[len(tok)-10:]
		v, err := strconv.ParseUint(tail, 10, 64)
		if err != nil {
			continue
		}
		candidates = append(candidates, Candidate{
			Hex8:      FormatHex8(v),
			Dec10:     FormatDec10(v),
			OriginTag: OriginASCIIDecLong,
		})
	}
	return candidates
}

// DecodeManual parses free-form operator input: a run of decimal digits, or
// failing that a hex string. Whitespace is ignored.
func DecodeManual(text string) (Identifier, bool) {
	clean := strings.Join(strings.Fields(text), "")
	if clean == "" {
		return Identifier{}, false
	}
	if isDigits(clean) {
		if v, err := strconv.ParseUint(clean, 10, 64); err == nil {
			return Identifier{Hex8: FormatHex8(v), Dec10: FormatDec10(v)}, true
		}
	}
	if v, err := strconv.ParseUint(clean, 16, 64); err == nil {
		return Identifier{Hex8: FormatHex8(v), Dec10: FormatDec10(v)}, true
	}
	return Identifier{}, false
}

// Canonicalize returns the first candidate as the canonical identifier. The
// ordering produced by Decode is the tie-break: it is load-bearing, not
// incidental. Dedup only matters for the full ranking, see Dedupe.
func Canonicalize(candidates []Candidate) (Identifier, bool) {
	if len(candidates) == 0 {
		return Identifier{}, false
	}
	return Identifier{Hex8: candidates[0].Hex8, Dec10: candidates[0].Dec10}, true
}

// Dedupe returns the candidate list with (hex8, dec10) duplicates removed,
// preserving first-seen order. Used for logging the full ranking.
func Dedupe(candidates []Candidate) []Candidate {
	seen := make(map[[2]string]struct{}, len(candidates))
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		key := [2]string{c.Hex8, c.Dec10}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}

// HexDump renders raw bytes as uppercase hex for operator-visible logs.
func HexDump(raw []byte) string {
	return strings.ToUpper(fmt.Sprintf("%x", raw))
}

// PrintableASCII renders raw bytes with non-printables replaced by '.'.
func PrintableASCII(raw []byte) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, c := range raw {
		if c >= 0x20 && c <= 0x7E {
			b.WriteByte(c)
		} else {
			b.WriteByte('.')
		}
	}
	return b.String()
}

// alnumTokens splits text into maximal runs of ASCII letters and digits.
func alnumTokens(text string) []string {
	var tokens []string
	start := -1
	for i := 0; i < len(text); i++ {
		if isAlnumByte(text[i]) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			tokens = append(tokens, text[start:i])
			start = -1
		}
	}
	if start >= 0 {
		tokens = append(tokens, text[start:])
	}
	return tokens
}

func isAlnumByte(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F' {
			continue
		}
		return false
	}
	return len(s) > 0
}
