package workflow

import "time"

// confirmationTimer ticks down the auto-submit delay one second at a time so
// every remaining second can be shown to the operator.
type confirmationTimer struct {
	ticker    *time.Ticker
	remaining int
}

func newConfirmationTimer(seconds int) *confirmationTimer {
	return &confirmationTimer{
		ticker:    time.NewTicker(time.Second),
		remaining: seconds,
	}
}

// C returns the tick channel.
func (t *confirmationTimer) C() <-chan time.Time {
	return t.ticker.C
}

// tick consumes one second and returns how many remain.
func (t *confirmationTimer) tick() int {
	if t.remaining > 0 {
		t.remaining--
	}
	return t.remaining
}

func (t *confirmationTimer) stop() {
	t.ticker.Stop()
}
