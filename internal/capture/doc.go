// Package capture fans card events from every input source into a single
// ordered stream for the workflow orchestrator.
//
// Sources are radio reader notifications (raw payloads), a keystroke wedge
// listener (digit buffer with device filtering), a serial line feed, and
// manual operator entry. Each event carries an explicit provenance so a
// consumer can tell a reader tap from a rebroadcast without inspecting the
// payload. The stream is a bounded buffer that drops the oldest event under
// pressure; the newest card always wins.
package capture
