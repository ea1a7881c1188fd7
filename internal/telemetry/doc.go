// Package telemetry streams workflow events to operator consoles over SSE.
//
// The hub fans every event out to all connected clients, keeps a ring of
// recent events for reconnection via the Last-Event-ID header, and opens
// each stream with a ready event carrying the current workflow snapshot.
package telemetry
