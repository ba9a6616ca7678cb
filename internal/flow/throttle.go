package flow

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// otpThrottle blocks further one-time-code attempts for a cooldown window
// after too many rejected codes.
type otpThrottle struct {
	max      int
	cooldown time.Duration
	clk      clock.Clock

	mu          sync.Mutex
	failures    int
	lockedUntil time.Time
}

func newOTPThrottle(max int, cooldown time.Duration, clk clock.Clock) *otpThrottle {
	return &otpThrottle{max: max, cooldown: cooldown, clk: clk}
}

// check returns an error while the cooldown window is active.
func (t *otpThrottle) check() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clk.Now()
	if now.Before(t.lockedUntil) {
		remaining := t.lockedUntil.Sub(now).Round(time.Second)
		return fmt.Errorf("too many incorrect codes, try again in %v", remaining)
	}
	return nil
}

// recordFailure counts a rejected code and starts the cooldown once the
// limit is reached.
func (t *otpThrottle) recordFailure() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.failures++
	if t.failures >= t.max {
		t.lockedUntil = t.clk.Now().Add(t.cooldown)
		t.failures = 0
	}
}

// reset clears failures after a successful verification.
func (t *otpThrottle) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.failures = 0
	t.lockedUntil = time.Time{}
}
