package flow

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOTPThrottleCooldown(t *testing.T) {
	mock := clock.NewMock()
	throttle := newOTPThrottle(2, 5*time.Minute, mock)

	require.NoError(t, throttle.check())

	throttle.recordFailure()
	require.NoError(t, throttle.check())

	throttle.recordFailure()
	err := throttle.check()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too many incorrect codes")

	// Still locked halfway through the window.
	mock.Add(2 * time.Minute)
	require.Error(t, throttle.check())

	mock.Add(3 * time.Minute)
	require.NoError(t, throttle.check())
}

func TestOTPThrottleResetClearsFailures(t *testing.T) {
	mock := clock.NewMock()
	throttle := newOTPThrottle(2, 5*time.Minute, mock)

	throttle.recordFailure()
	throttle.reset()

	// A single failure after a reset must not lock.
	throttle.recordFailure()
	require.NoError(t, throttle.check())
}
