package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/card-capture/ccd/internal/capture"
	"github.com/card-capture/ccd/internal/codec"
	"github.com/card-capture/ccd/internal/config"
	"github.com/card-capture/ccd/internal/protocol"
	"github.com/card-capture/ccd/internal/telemetry"
)

// Settings is the slice of configuration a run depends on. It is snapshotted
// when the run starts, so a settings change mid-run cannot split one card
// across two protocol versions.
type Settings struct {
	Version            string
	EnableVerification bool
	SubmitMode         string
	AutoDelaySeconds   int
}

// SettingsFromConfig extracts the workflow settings from the daemon config.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Version:            cfg.Service.SelectedVersion,
		EnableVerification: cfg.Service.EnableVerification,
		SubmitMode:         cfg.Submit.Mode,
		AutoDelaySeconds:   cfg.Submit.AutoDelaySeconds,
	}
}

type commandKind int

const (
	cmdConfirm commandKind = iota
	cmdCancel
	cmdRetry
	cmdAck
)

type command struct {
	kind  commandKind
	reply chan error
}

type stepKind int

const (
	stepVerify stepKind = iota
	stepFields
	stepSubmit
)

type stepResult struct {
	runID   string
	kind    stepKind
	outcome protocol.Outcome
}

// Orchestrator owns the card workflow state machine.
type Orchestrator struct {
	events   <-chan capture.CardEvent
	commands chan command
	results  chan stepResult

	registry AdapterResolver
	fields   FieldSource
	hub      EventPublisher
	audit    AuditSink

	mu       sync.RWMutex
	settings Settings
	snapshot Snapshot

	// Loop-owned state. Only the Run goroutine touches these.
	runID      string
	runCtx     context.Context
	runCancel  context.CancelFunc
	runAdapter protocol.Adapter
	runCaps    protocol.Capabilities
	runConfig  Settings
	runParams  []protocol.Param
	card         codec.Identifier
	provenance   capture.Provenance
	lastEvent    *capture.CardEvent
	timer        *confirmationTimer
	submitFailed bool

	now func() time.Time
}

// NewOrchestrator wires the workflow loop. Run must be started for any
// command to make progress.
func NewOrchestrator(events <-chan capture.CardEvent, registry AdapterResolver,
	fields FieldSource, hub EventPublisher, audit AuditSink, settings Settings) *Orchestrator {
	return &Orchestrator{
		events:   events,
		commands: make(chan command),
		results:  make(chan stepResult, 8),
		registry: registry,
		fields:   fields,
		hub:      hub,
		audit:    audit,
		settings: settings,
		snapshot: Snapshot{State: StateIdle, UpdatedAt: time.Now()},
		now:      time.Now,
	}
}

// Run consumes events and commands until the context is cancelled. It is
// the only goroutine that mutates workflow state.
func (o *Orchestrator) Run(ctx context.Context) {
	for {
		var tickCh <-chan time.Time
		if o.timer != nil {
			tickCh = o.timer.C()
		}

		select {
		case <-ctx.Done():
			o.abortRun()
			return
		case ev, ok := <-o.events:
			if !ok {
				o.abortRun()
				return
			}
			o.startRun(ctx, ev)
		case cmd := <-o.commands:
			cmd.reply <- o.handleCommand(ctx, cmd.kind)
		case res := <-o.results:
			o.handleResult(ctx, res)
		case <-tickCh:
			o.handleTick(ctx)
		}
	}
}

// Confirm submits the awaiting card now.
func (o *Orchestrator) Confirm(ctx context.Context) error { return o.send(ctx, cmdConfirm) }

// Cancel abandons the in-flight run.
func (o *Orchestrator) Cancel(ctx context.Context) error { return o.send(ctx, cmdCancel) }

// Retry replays the last card through a fresh run.
func (o *Orchestrator) Retry(ctx context.Context) error { return o.send(ctx, cmdRetry) }

// Ack clears a finished run back to idle.
func (o *Orchestrator) Ack(ctx context.Context) error { return o.send(ctx, cmdAck) }

func (o *Orchestrator) send(ctx context.Context, kind commandKind) error {
	cmd := command{kind: kind, reply: make(chan error, 1)}
	select {
	case o.commands <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns a copy of the current workflow status.
func (o *Orchestrator) Status() Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.snapshot
}

// SnapshotData renders the status for the telemetry ready event.
func (o *Orchestrator) SnapshotData() map[string]any {
	s := o.Status()
	data := map[string]any{
		"state":     string(s.State),
		"updatedAt": s.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if s.RunID != "" {
		data["runId"] = s.RunID
	}
	if s.Card != nil {
		data["card"] = map[string]any{"hex8": s.Card.Hex8, "dec10": s.Card.Dec10}
	}
	if s.Message != "" {
		data["message"] = s.Message
	}
	if s.Countdown > 0 {
		data["countdown"] = s.Countdown
	}
	return data
}

// UpdateSettings replaces the settings used by future runs. The run in
// flight keeps its snapshot.
func (o *Orchestrator) UpdateSettings(settings Settings) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.settings = settings
}

// Settings returns the settings future runs will use.
func (o *Orchestrator) Settings() Settings {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.settings
}

// startRun begins processing a card, superseding whatever was in flight.
func (o *Orchestrator) startRun(ctx context.Context, ev capture.CardEvent) {
	if o.currentState().active() {
		o.logAudit(ctx, "supersede", o.runID, o.card.Hex8, "CANCELLED", map[string]any{
			"newCard": ev.Identifier.Hex8,
		})
	}
	o.abortRun()

	evCopy := ev
	o.lastEvent = &evCopy
	o.runID = uuid.NewString()
	o.card = ev.Identifier
	o.provenance = ev.Provenance
	o.runConfig = o.Settings()
	o.submitFailed = false

	o.runCtx, o.runCancel = context.WithCancel(ctx)

	adapter, err := o.registry.Get(o.runConfig.Version)
	if err != nil {
		o.fail(ctx, err.Error())
		return
	}
	o.runAdapter = adapter
	o.runCaps = adapter.Capabilities()

	// The field mapping is frozen here; edits made while the run is in
	// flight apply to the next card. Versions that refresh after verify
	// re-freeze once the refresh lands.
	o.runParams = o.fields.Params()

	o.setState(StateCardDetected, "", 0)
	o.publishEvent("card", map[string]any{
		"hex8":       o.card.Hex8,
		"dec10":      o.card.Dec10,
		"provenance": string(o.provenance),
		"source":     ev.Source,
		"version":    o.runConfig.Version,
	})
	o.logAudit(ctx, "card", o.runID, o.card.Hex8, "SUCCESS", map[string]any{
		"provenance": string(o.provenance),
		"version":    o.runConfig.Version,
	})

	if o.runCaps.Verify && o.runConfig.EnableVerification {
		o.setState(StateVerifying, "", 0)
		runCtx := o.runCtx
		req := protocol.Request{
			Card:      o.card,
			Timestamp: o.now(),
			Params:    o.runParams,
		}
		go func(runID string, adapter protocol.Adapter, req protocol.Request) {
			outcome := adapter.Verify(runCtx, req)
			select {
			case o.results <- stepResult{runID: runID, kind: stepVerify, outcome: outcome}:
			case <-ctx.Done():
			}
		}(o.runID, adapter, req)
		return
	}

	if !o.runCaps.Verify && !o.runCaps.Confirm {
		// The debug redirect re-runs field recognition before building its
		// URL, so stale values never reach the receiver page.
		o.beginFieldRefresh(ctx)
		return
	}

	o.proceedAfterVerify(ctx)
}

// beginFieldRefresh pulls fresh field values after a usable verdict, for
// versions that only collect fields once the card is known good. Refresh
// problems never fail the run; the operator sees whatever values stand.
func (o *Orchestrator) beginFieldRefresh(ctx context.Context) {
	runCtx := o.runCtx
	go func(runID string) {
		outcome := protocol.Outcome{Accepted: true}
		refreshed, err := o.fields.Refresh(runCtx)
		if err != nil {
			outcome.Message = err.Error()
		} else if len(refreshed) > 0 {
			outcome.Body = map[string]any{"refreshed": refreshed}
		}
		select {
		case o.results <- stepResult{runID: runID, kind: stepFields, outcome: outcome}:
		case <-ctx.Done():
		}
	}(o.runID)
}

// proceedAfterVerify moves a verified (or verification-free) run toward
// submission.
func (o *Orchestrator) proceedAfterVerify(ctx context.Context) {
	if !o.runCaps.Confirm {
		o.beginSubmit(ctx)
		return
	}

	if o.runConfig.SubmitMode == config.SubmitAuto {
		o.timer = newConfirmationTimer(o.runConfig.AutoDelaySeconds)
		o.setState(StateAwaitingConfirmation, "", o.runConfig.AutoDelaySeconds)
		return
	}
	o.setState(StateAwaitingConfirmation, "", 0)
}

// beginSubmit collects fields and fires the submission.
func (o *Orchestrator) beginSubmit(ctx context.Context) {
	o.stopTimer()
	o.setState(StateSubmitting, "", 0)

	req := protocol.Request{
		Card:      o.card,
		Timestamp: o.now(),
		Params:    o.runParams,
	}

	runCtx := o.runCtx
	if runCtx == nil {
		runCtx = ctx
	}

	go func(runID string, adapter protocol.Adapter, req protocol.Request) {
		outcome := adapter.Submit(runCtx, req)
		select {
		case o.results <- stepResult{runID: runID, kind: stepSubmit, outcome: outcome}:
		case <-ctx.Done():
		}
	}(o.runID, o.runAdapter, req)
}

// handleResult applies a backend outcome, discarding anything from a
// superseded run.
func (o *Orchestrator) handleResult(ctx context.Context, res stepResult) {
	if res.runID != o.runID || !o.currentState().active() {
		return
	}

	switch res.kind {
	case stepVerify:
		if !res.outcome.Accepted {
			o.logAudit(ctx, "verify", o.runID, o.card.Hex8, "REJECTED", map[string]any{
				"message": res.outcome.Message,
			})
			o.fail(ctx, res.outcome.Message)
			return
		}
		o.logAudit(ctx, "verify", o.runID, o.card.Hex8, "SUCCESS", nil)
		if o.runCaps.FieldsAfterVerify {
			o.beginFieldRefresh(ctx)
			return
		}
		o.proceedAfterVerify(ctx)

	case stepFields:
		o.logAudit(ctx, "fields", o.runID, o.card.Hex8, "SUCCESS", map[string]any{
			"message": res.outcome.Message,
		})
		if res.outcome.Body != nil {
			o.publishEvent("fields", res.outcome.Body)
		}
		// Re-freeze with the refreshed values.
		o.runParams = o.fields.Params()
		o.proceedAfterVerify(ctx)

	case stepSubmit:
		if !res.outcome.Accepted {
			o.submitFailed = true
			o.logAudit(ctx, "submit", o.runID, o.card.Hex8, "REJECTED", map[string]any{
				"message": res.outcome.Message,
			})
			o.fail(ctx, res.outcome.Message)
			return
		}
		o.logAudit(ctx, "submit", o.runID, o.card.Hex8, "SUCCESS", map[string]any{
			"message": res.outcome.Message,
		})
		if !o.runCaps.Verify && !o.runCaps.Confirm {
			// Debug submissions need no acknowledgement; the next card can
			// tap straight away.
			o.reset()
			return
		}
		o.setState(StateCompleted, res.outcome.Message, 0)
	}
}

// handleTick advances the auto-submit countdown.
func (o *Orchestrator) handleTick(ctx context.Context) {
	if o.timer == nil || o.currentState() != StateAwaitingConfirmation {
		o.stopTimer()
		return
	}

	remaining := o.timer.tick()
	o.setCountdown(remaining)
	o.publishEvent("countdown", map[string]any{
		"runId":     o.runID,
		"remaining": remaining,
	})

	if remaining <= 0 {
		o.beginSubmit(ctx)
	}
}

// handleCommand applies an operator command.
func (o *Orchestrator) handleCommand(ctx context.Context, kind commandKind) error {
	state := o.currentState()

	switch kind {
	case cmdConfirm:
		if state != StateAwaitingConfirmation {
			return fmt.Errorf("nothing awaiting confirmation in state %s", state)
		}
		o.logAudit(ctx, "confirm", o.runID, o.card.Hex8, "SUCCESS", nil)
		o.beginSubmit(ctx)
		return nil

	case cmdCancel:
		if !state.active() {
			return fmt.Errorf("no run to cancel in state %s", state)
		}
		if o.runCancel != nil {
			o.runCancel()
		}
		o.stopTimer()
		o.logAudit(ctx, "cancel", o.runID, o.card.Hex8, "CANCELLED", nil)
		o.setState(StateCancelled, "cancelled by operator", 0)
		return nil

	case cmdRetry:
		if !state.terminal() {
			return fmt.Errorf("cannot retry in state %s", state)
		}
		if o.lastEvent == nil {
			return fmt.Errorf("no card to retry")
		}
		if state == StateFailed && o.submitFailed {
			// The card already passed verification and confirmation; only
			// the submission needs another go, without a fresh tap.
			o.submitFailed = false
			o.logAudit(ctx, "retry", o.runID, o.card.Hex8, "SUCCESS", map[string]any{
				"resubmit": true,
			})
			o.runCtx, o.runCancel = context.WithCancel(ctx)
			o.beginSubmit(ctx)
			return nil
		}
		o.logAudit(ctx, "retry", o.runID, o.card.Hex8, "SUCCESS", nil)
		o.startRun(ctx, *o.lastEvent)
		return nil

	case cmdAck:
		if !state.terminal() {
			return fmt.Errorf("cannot acknowledge in state %s", state)
		}
		o.logAudit(ctx, "ack", o.runID, o.card.Hex8, "SUCCESS", nil)
		o.reset()
		return nil
	}

	return fmt.Errorf("unknown command")
}

// fail ends the run with an operator-visible message.
func (o *Orchestrator) fail(ctx context.Context, message string) {
	if o.runCancel != nil {
		o.runCancel()
		o.runCancel = nil
	}
	o.stopTimer()
	o.setState(StateFailed, message, 0)
}

// abortRun tears down the in-flight run without recording an outcome.
func (o *Orchestrator) abortRun() {
	if o.runCancel != nil {
		o.runCancel()
		o.runCancel = nil
	}
	o.stopTimer()
}

// reset returns the workflow to idle.
func (o *Orchestrator) reset() {
	o.abortRun()
	o.runID = ""
	o.card = codec.Identifier{}
	o.provenance = ""
	o.runParams = nil
	o.submitFailed = false

	o.mu.Lock()
	o.snapshot = Snapshot{State: StateIdle, UpdatedAt: o.now()}
	o.mu.Unlock()

	o.publishEvent("state", map[string]any{"state": string(StateIdle)})
}

func (o *Orchestrator) stopTimer() {
	if o.timer != nil {
		o.timer.stop()
		o.timer = nil
	}
}

func (o *Orchestrator) currentState() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.snapshot.State
}

// setState records a transition and publishes it.
func (o *Orchestrator) setState(state State, message string, countdown int) {
	o.mu.Lock()
	card := o.card
	o.snapshot = Snapshot{
		State:      state,
		RunID:      o.runID,
		Provenance: string(o.provenance),
		Version:    o.runConfig.Version,
		Fields:     append([]protocol.Param(nil), o.runParams...),
		Message:    message,
		Countdown:  countdown,
		UpdatedAt:  o.now(),
	}
	if card.Hex8 != "" {
		o.snapshot.Card = &card
	}
	o.mu.Unlock()

	data := map[string]any{
		"state": string(state),
		"runId": o.runID,
	}
	if card.Hex8 != "" {
		data["hex8"] = card.Hex8
		data["dec10"] = card.Dec10
	}
	if message != "" {
		data["message"] = message
	}
	if countdown > 0 {
		data["countdown"] = countdown
	}
	o.publishEvent("state", data)
}

func (o *Orchestrator) setCountdown(remaining int) {
	o.mu.Lock()
	o.snapshot.Countdown = remaining
	o.snapshot.UpdatedAt = o.now()
	o.mu.Unlock()
}

func (o *Orchestrator) publishEvent(eventType string, data map[string]any) {
	if o.hub == nil {
		return
	}
	data["ts"] = o.now().UTC().Format(time.RFC3339)
	_ = o.hub.Publish(telemetry.Event{Type: eventType, Data: data})
}

func (o *Orchestrator) logAudit(ctx context.Context, action, runID, cardHex, outcome string, details map[string]any) {
	if o.audit != nil {
		o.audit.LogAction(ctx, action, runID, cardHex, outcome, details)
	}
}
