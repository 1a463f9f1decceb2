package gatherer

import (
	"time"

	"github.com/cesar-douady/open-lmake-sub004/pkg/state"
	"github.com/cesar-douady/open-lmake-sub004/pkg/timeutil"
)

// KillCascade describes the escalating signal list for a job being killed,
// one signal per tick (Interval, 1s by default), finishing with SIGKILL
// (spec §4.3.3). The gatherer's kill ticker only advances
// deadlines.killRound; no signal is delivered to the job.
type KillCascade struct {
	Signals  []string
	Interval time.Duration
}

// defaultKillInterval is the 1s cadence specified for the kill cascade.
const defaultKillInterval = time.Second

// deadlines bundles the four independent timers the gatherer supervises
// for a single job (spec §4.3.3): the wall-clock timeout, the kill-cascade
// ticker (armed only once a kill decision has been made), the end-of-life
// drain deadline that bounds how long the gatherer waits for trailing
// events after the child exits, and the heartbeat ticker.
type deadlines struct {
	timeout    *time.Timer
	killTicker *time.Ticker
	killRound  int
	drainTimer *time.Timer
	heartbeat  *time.Ticker

	// killDecided latches the first kill decision so a second trigger (e.g.
	// the heartbeat continuing to fail every interval after the upstream
	// daemon is declared unreachable) never rearms the cascade and resets
	// killRound back to 0, which would otherwise delay delivery of the
	// escalating signals indefinitely.
	killDecided state.Marker
}

// newDeadlines arms the wall-clock timeout and heartbeat timers; the kill
// ticker and drain timer are armed later, once a kill decision is made and
// once the child has exited, respectively.
func newDeadlines(timeout time.Duration, heartbeatInterval time.Duration) *deadlines {
	d := &deadlines{
		timeout: time.NewTimer(timeout),
	}
	if heartbeatInterval > 0 {
		d.heartbeat = time.NewTicker(heartbeatInterval)
	}
	return d
}

// armKillCascade starts the kill-cascade ticker, invoked once the gatherer
// has decided to kill the job (on timeout or a failed heartbeat; a policy
// violation does not arm it).
func (d *deadlines) armKillCascade(interval time.Duration) {
	if interval <= 0 {
		interval = defaultKillInterval
	}
	if d.killTicker != nil {
		d.killTicker.Stop()
	}
	d.killTicker = time.NewTicker(interval)
	d.killRound = 0
}

// nextSignal returns the signal name for the given cascade round, or "KILL"
// once the configured list is exhausted (spec: "... then SIGKILL"). Nothing
// in the gatherer calls it.
func (cascade KillCascade) nextSignal(round int) string {
	if round < len(cascade.Signals) {
		return cascade.Signals[round]
	}
	return "KILL"
}

// armDrain starts the end-of-life drain deadline: network_delay + 1s (spec
// §4.3.3).
func (d *deadlines) armDrain(networkDelay time.Duration) {
	d.drainTimer = time.NewTimer(networkDelay + time.Second)
}

// stopAll releases every timer owned by d. Safe to call more than once.
func (d *deadlines) stopAll() {
	if d.timeout != nil {
		timeutil.StopAndDrainTimer(d.timeout)
	}
	if d.killTicker != nil {
		d.killTicker.Stop()
	}
	if d.drainTimer != nil {
		timeutil.StopAndDrainTimer(d.drainTimer)
	}
	if d.heartbeat != nil {
		d.heartbeat.Stop()
	}
}
