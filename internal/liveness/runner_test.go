package liveness

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/lumipay/kycscan/internal/capture"
	"github.com/lumipay/kycscan/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSpeaker struct {
	mu      sync.Mutex
	said    []string
	stopped int
}

func (s *recordingSpeaker) Say(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.said = append(s.said, text)
}

func (s *recordingSpeaker) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped++
}

func (s *recordingSpeaker) spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.said...)
}

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func runnerConfig() config.LivenessConfig {
	return config.LivenessConfig{SettleDelayMs: 1500}
}

func testArtifact() capture.Artifact {
	return capture.Artifact{Data: []byte("encoded-selfie"), MIME: "image/jpeg", Width: 640, Height: 480}
}

func newTestRunner(t *testing.T, captureFn CaptureFunc) (*Runner, *clock.Mock, *recordingSpeaker) {
	t.Helper()
	mock := clock.NewMock()
	speaker := &recordingSpeaker{}
	runner, err := NewRunner(runnerConfig(), mock, newTestLogger(), speaker, captureFn)
	require.NoError(t, err)
	return runner, mock, speaker
}

func TestRunnerWalksStepsInOrder(t *testing.T) {
	runner, mock, _ := newTestRunner(t, func() (capture.Artifact, error) {
		return testArtifact(), nil
	})

	var completed capture.Artifact
	runner.OnComplete = func(a capture.Artifact) { completed = a }

	runner.Start()
	assert.Equal(t, StepReady, runner.Step())
	assert.Equal(t, 0, runner.Progress())

	require.NoError(t, runner.Confirm())
	assert.Equal(t, StepLookLeft, runner.Step())
	assert.Equal(t, 0, runner.Progress())

	require.NoError(t, runner.Confirm())
	assert.Equal(t, StepLookRight, runner.Step())
	assert.Equal(t, 33, runner.Progress())

	require.NoError(t, runner.Confirm())
	assert.Equal(t, StepOpenMouth, runner.Step())
	assert.Equal(t, 66, runner.Progress())

	require.NoError(t, runner.Confirm())
	assert.Equal(t, StepRecording, runner.Step())
	assert.Equal(t, 100, runner.Progress())
	assert.Equal(t, Confirmations{LookLeft: true, LookRight: true, OpenMouth: true}, runner.Confirmed())

	// The recording step takes no confirmation; the capture is automatic.
	assert.ErrorIs(t, runner.Confirm(), ErrNoConfirmation)

	mock.Add(1500 * time.Millisecond)
	assert.Equal(t, StepComplete, runner.Step())
	assert.Equal(t, testArtifact(), completed)

	assert.ErrorIs(t, runner.Confirm(), ErrNoConfirmation)
}

func TestRunnerWaitsForSettleDelay(t *testing.T) {
	captures := 0
	runner, mock, _ := newTestRunner(t, func() (capture.Artifact, error) {
		captures++
		return testArtifact(), nil
	})

	for i := 0; i < 4; i++ {
		require.NoError(t, runner.Confirm())
	}
	require.Equal(t, StepRecording, runner.Step())

	mock.Add(1400 * time.Millisecond)
	assert.Zero(t, captures)
	assert.Equal(t, StepRecording, runner.Step())

	mock.Add(100 * time.Millisecond)
	assert.Equal(t, 1, captures)
	assert.Equal(t, StepComplete, runner.Step())
}

func TestRunnerFailedCaptureResetsToReady(t *testing.T) {
	runner, mock, speaker := newTestRunner(t, func() (capture.Artifact, error) {
		return capture.Artifact{}, errors.New("camera stalled")
	})

	var captureErr error
	runner.OnError = func(err error) { captureErr = err }
	runner.OnComplete = func(capture.Artifact) { t.Fatal("capture must not complete") }

	for i := 0; i < 4; i++ {
		require.NoError(t, runner.Confirm())
	}
	mock.Add(1500 * time.Millisecond)

	assert.Equal(t, StepReady, runner.Step())
	assert.Equal(t, Confirmations{}, runner.Confirmed())
	assert.Equal(t, 0, runner.Progress())
	require.Error(t, captureErr)
	assert.Contains(t, captureErr.Error(), "selfie capture failed, please try again")
	assert.NotZero(t, speaker.stopped)

	// The sequence can be walked again from the start.
	require.NoError(t, runner.Confirm())
	assert.Equal(t, StepLookLeft, runner.Step())
}

func TestRunnerResetCancelsPendingCapture(t *testing.T) {
	captures := 0
	runner, mock, _ := newTestRunner(t, func() (capture.Artifact, error) {
		captures++
		return testArtifact(), nil
	})

	for i := 0; i < 4; i++ {
		require.NoError(t, runner.Confirm())
	}
	require.Equal(t, StepRecording, runner.Step())

	runner.Reset()
	assert.Equal(t, StepReady, runner.Step())
	assert.Equal(t, Confirmations{}, runner.Confirmed())

	mock.Add(5 * time.Second)
	assert.Zero(t, captures)
}

func TestRunnerSpeaksPrompts(t *testing.T) {
	runner, mock, speaker := newTestRunner(t, func() (capture.Artifact, error) {
		return testArtifact(), nil
	})

	runner.Start()
	for i := 0; i < 4; i++ {
		require.NoError(t, runner.Confirm())
	}
	mock.Add(1500 * time.Millisecond)

	said := speaker.spoken()
	// One prompt for the initial instruction, one per transition, one on
	// completion.
	require.Len(t, said, 6)
	assert.Contains(t, said[0], "Center your face")
	assert.Contains(t, said[1], "left")
	assert.Contains(t, said[2], "right")
	assert.Contains(t, said[3], "mouth")
	assert.Contains(t, said[4], "Hold still")
	assert.Contains(t, said[5], "All done")
}
