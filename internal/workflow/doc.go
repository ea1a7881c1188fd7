// Package workflow drives a card from detection to submission.
//
// A single goroutine owns the state machine; capture events, operator
// commands, backend results and confirmation ticks all arrive over channels
// into one select loop, so there is never a lock to take on the hot path. A
// new card always supersedes whatever is in flight: the current run is
// cancelled and any result still in transit is discarded by run ID.
package workflow
