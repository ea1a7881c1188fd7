// Package api exposes the operator HTTP surface.
//
// Every response uses the same envelope: {"result":"ok","data":...} on
// success, {"result":"error","code","message"} on failure, both carrying a
// correlationId. The SSE stream at /api/v1/events is the one endpoint that
// does not speak the envelope.
package api
