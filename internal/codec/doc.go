// Package codec turns raw reader payloads into canonical card identifiers.
//
// A canonical identifier is the (hex8, dec10) pair: hex8 is the low 32 bits
// of the decoded value as 8 uppercase hex digits, dec10 the full value as a
// zero-padded decimal string of at least 10 digits. Decoding is heuristic:
// readers disagree about framing, endianness and whether they send ASCII or
// raw bytes, so every plausible interpretation becomes a ranked candidate
// and the first surviving candidate after deduplication wins.
package codec
