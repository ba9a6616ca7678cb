package capture

import (
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/lumipay/kycscan/internal/config"
	"github.com/sirupsen/logrus"
)

// TriggerState describes where the auto-capture trigger is in its cycle.
type TriggerState int

const (
	// TriggerWatching counts consecutive ready readings.
	TriggerWatching TriggerState = iota
	// TriggerCountdown runs the visible countdown; any non-ready reading cancels it.
	TriggerCountdown
	// TriggerFired has invoked the capture callback and ignores further
	// readings until rearmed.
	TriggerFired
)

// CaptureFunc captures a still frame. It returns ErrFrameNotReady when the
// underlying frame could not be read.
type CaptureFunc func() error

// Trigger debounces analyzer readings into a single capture. It requires a
// configured number of consecutive ready ticks, runs a countdown, then
// invokes the capture callback exactly once. A capture that reports
// ErrFrameNotReady is retried once on the next ready reading; a second
// failure is logged and dropped.
type Trigger struct {
	mu  sync.Mutex
	log *logrus.Logger
	clk clock.Clock

	readyTicks     int
	countdownTicks int
	tickInterval   time.Duration

	capture     CaptureFunc
	onCountdown func(remaining int)

	state        TriggerState
	consecutive  int
	remaining    int
	timer        *clock.Timer
	retryPending bool
}

// NewTrigger creates a trigger. onCountdown may be nil.
func NewTrigger(cfg config.CaptureConfig, clk clock.Clock, log *logrus.Logger, capture CaptureFunc, onCountdown func(remaining int)) *Trigger {
	if clk == nil {
		clk = clock.New()
	}
	return &Trigger{
		log:            log,
		clk:            clk,
		readyTicks:     cfg.ReadyTicks,
		countdownTicks: cfg.CountdownTicks,
		tickInterval:   time.Duration(cfg.TickIntervalMs) * time.Millisecond,
		capture:        capture,
		onCountdown:    onCountdown,
	}
}

// Observe consumes one analyzer reading.
func (t *Trigger) Observe(r Reading) {
	t.mu.Lock()

	if t.state == TriggerFired {
		if t.retryPending && r.Ready() {
			// Readiness recovered; retry the failed capture once.
			t.retryPending = false
			t.mu.Unlock()
			if err := t.capture(); err != nil {
				t.log.Warnf("Auto-capture retry failed, giving up: %v", err)
			}
			return
		}
		t.mu.Unlock()
		return
	}

	if !r.Ready() {
		t.consecutive = 0
		if t.state == TriggerCountdown {
			t.cancelCountdownLocked()
		}
		t.mu.Unlock()
		return
	}

	t.consecutive++
	if t.state == TriggerWatching && t.consecutive >= t.readyTicks {
		t.state = TriggerCountdown
		t.remaining = t.countdownTicks
		t.notifyCountdownLocked()
		t.timer = t.clk.AfterFunc(t.tickInterval, t.countdownTick)
	}
	t.mu.Unlock()
}

// Rearm resets the trigger so a retake can capture again.
func (t *Trigger) Rearm() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.state = TriggerWatching
	t.consecutive = 0
	t.remaining = 0
	t.retryPending = false
}

// State returns the current trigger state.
func (t *Trigger) State() TriggerState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Countdown returns the remaining countdown ticks, zero when not counting down.
func (t *Trigger) Countdown() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TriggerCountdown {
		return 0
	}
	return t.remaining
}

func (t *Trigger) countdownTick() {
	t.mu.Lock()
	if t.state != TriggerCountdown {
		t.mu.Unlock()
		return
	}

	t.remaining--
	if t.remaining > 0 {
		t.notifyCountdownLocked()
		t.timer = t.clk.AfterFunc(t.tickInterval, t.countdownTick)
		t.mu.Unlock()
		return
	}

	t.state = TriggerFired
	t.timer = nil
	t.mu.Unlock()

	if err := t.capture(); err != nil {
		if errors.Is(err, ErrFrameNotReady) {
			// Frame was not decodable at fire time. Rather than sleeping a
			// fixed delay, wait for the next reading that reports ready.
			t.mu.Lock()
			t.retryPending = true
			t.mu.Unlock()
			t.log.Debugf("Auto-capture frame not ready, will retry on next ready tick")
			return
		}
		t.log.Warnf("Auto-capture failed: %v", err)
	}
}

func (t *Trigger) cancelCountdownLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.state = TriggerWatching
	t.remaining = 0
}

func (t *Trigger) notifyCountdownLocked() {
	if t.onCountdown != nil {
		t.onCountdown(t.remaining)
	}
}
