// Package transport performs the backend HTTP calls for the protocol
// adapters and normalizes their outcomes.
//
// A transport call never returns a Go error for anything the backend or the
// network did: timeouts, refused connections, non-2xx statuses and malformed
// bodies all come back as a Result the workflow can show the operator. Only
// programmer mistakes (an unparseable URL) surface as errors.
package transport
