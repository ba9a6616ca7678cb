// Package liveness runs the scripted selfie liveness sequence
package liveness

import (
	_ "embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/lumipay/kycscan/internal/capture"
	"github.com/lumipay/kycscan/internal/config"
	"github.com/lumipay/kycscan/internal/speech"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Step is one stage of the liveness script.
type Step string

const (
	StepReady     Step = "ready"
	StepLookLeft  Step = "look_left"
	StepLookRight Step = "look_right"
	StepOpenMouth Step = "open_mouth"
	StepRecording Step = "recording"
	StepComplete  Step = "complete"
)

// stepOrder is the only legal traversal; no skipping, no going backward
// except via Reset.
var stepOrder = []Step{StepReady, StepLookLeft, StepLookRight, StepOpenMouth, StepRecording, StepComplete}

// ErrNoConfirmation is returned when Confirm is called in a step that does
// not take a user confirmation.
var ErrNoConfirmation = errors.New("no confirmation expected in this step")

//go:embed script.yaml
var scriptYAML []byte

type scriptStep struct {
	ID     string `yaml:"id"`
	Prompt string `yaml:"prompt"`
}

type script struct {
	Steps []scriptStep `yaml:"steps"`
}

func loadScript() (map[Step]string, error) {
	var s script
	if err := yaml.Unmarshal(scriptYAML, &s); err != nil {
		return nil, fmt.Errorf("failed to parse liveness script: %w", err)
	}
	if len(s.Steps) != len(stepOrder) {
		return nil, fmt.Errorf("liveness script has %d steps, want %d", len(s.Steps), len(stepOrder))
	}

	prompts := make(map[Step]string, len(s.Steps))
	for i, step := range s.Steps {
		if Step(step.ID) != stepOrder[i] {
			return nil, fmt.Errorf("liveness script step %d is %q, want %q", i, step.ID, stepOrder[i])
		}
		prompts[Step(step.ID)] = step.Prompt
	}
	return prompts, nil
}

// CaptureFunc captures the final selfie artifact.
type CaptureFunc func() (capture.Artifact, error)

// Confirmations records which action steps the user has confirmed.
type Confirmations struct {
	LookLeft  bool
	LookRight bool
	OpenMouth bool
}

// Runner walks the liveness script. Every action step advances only on an
// explicit Confirm; entering the recording step schedules the final capture
// automatically after a settle delay. A failed final capture resets the
// runner to ready and surfaces the error; it is never retried automatically.
type Runner struct {
	log     *logrus.Logger
	clk     clock.Clock
	speaker speech.Speaker
	capture CaptureFunc
	prompts map[Step]string
	settle  time.Duration

	// OnComplete receives the captured selfie; OnError receives the
	// user-visible failure of the final capture. Set before use.
	OnComplete func(capture.Artifact)
	OnError    func(error)

	mu        sync.Mutex
	step      Step
	confirmed Confirmations
	timer     *clock.Timer
}

// NewRunner creates a runner for the embedded script.
func NewRunner(cfg config.LivenessConfig, clk clock.Clock, log *logrus.Logger, speaker speech.Speaker, captureFn CaptureFunc) (*Runner, error) {
	prompts, err := loadScript()
	if err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}
	if speaker == nil {
		speaker = speech.Noop{}
	}

	return &Runner{
		log:     log,
		clk:     clk,
		speaker: speaker,
		capture: captureFn,
		prompts: prompts,
		settle:  time.Duration(cfg.SettleDelayMs) * time.Millisecond,
		step:    StepReady,
	}, nil
}

// Start speaks the initial instruction without advancing.
func (r *Runner) Start() {
	r.speaker.Say(r.prompts[StepReady])
}

// Step returns the current script step.
func (r *Runner) Step() Step {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.step
}

// Confirmed returns which action steps have been confirmed.
func (r *Runner) Confirmed() Confirmations {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.confirmed
}

// Progress returns the monotonic completion percentage: 0, 33, 66, 100.
func (r *Runner) Progress() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	if r.confirmed.LookLeft {
		count++
	}
	if r.confirmed.LookRight {
		count++
	}
	if r.confirmed.OpenMouth {
		count++
	}

	switch count {
	case 1:
		return 33
	case 2:
		return 66
	case 3:
		return 100
	default:
		return 0
	}
}

// Confirm advances the script by one step.
func (r *Runner) Confirm() error {
	r.mu.Lock()

	switch r.step {
	case StepReady:
		r.step = StepLookLeft
	case StepLookLeft:
		r.confirmed.LookLeft = true
		r.step = StepLookRight
	case StepLookRight:
		r.confirmed.LookRight = true
		r.step = StepOpenMouth
	case StepOpenMouth:
		r.confirmed.OpenMouth = true
		r.step = StepRecording
		r.timer = r.clk.AfterFunc(r.settle, r.finalCapture)
	default:
		r.mu.Unlock()
		return ErrNoConfirmation
	}

	prompt := r.prompts[r.step]
	r.mu.Unlock()

	r.speaker.Say(prompt)
	return nil
}

// Reset returns the runner to the ready step, tearing down the pending
// capture timer and cancelling any in-flight speech.
func (r *Runner) Reset() {
	r.mu.Lock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.step = StepReady
	r.confirmed = Confirmations{}
	r.mu.Unlock()

	r.speaker.Stop()
}

func (r *Runner) finalCapture() {
	r.mu.Lock()
	if r.step != StepRecording {
		r.mu.Unlock()
		return
	}
	r.timer = nil
	r.mu.Unlock()

	artifact, err := r.capture()
	if err != nil {
		r.log.Warnf("Liveness final capture failed: %v", err)
		r.Reset()
		if r.OnError != nil {
			r.OnError(fmt.Errorf("selfie capture failed, please try again: %w", err))
		}
		return
	}

	r.mu.Lock()
	r.step = StepComplete
	prompt := r.prompts[StepComplete]
	r.mu.Unlock()

	r.speaker.Say(prompt)
	if r.OnComplete != nil {
		r.OnComplete(artifact)
	}
}
