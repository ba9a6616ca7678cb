// Package speech provides best-effort voice prompts for capture guidance
package speech

import (
	"context"
	"fmt"
	"os/exec"
	"sync"

	"github.com/lumipay/kycscan/internal/config"
	"github.com/sirupsen/logrus"
)

// Speaker speaks a prompt, fire-and-forget. Absence of a speech capability
// must never block flow progression, so implementations swallow failures.
type Speaker interface {
	Say(text string)
	Stop()
}

// Noop is the fallback speaker when no speech command is available.
type Noop struct{}

func (Noop) Say(string) {}
func (Noop) Stop()      {}

// CommandSpeaker speaks through an external text-to-speech command.
// A new utterance cancels the one still playing.
type CommandSpeaker struct {
	command string
	log     *logrus.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewCommandSpeaker verifies the command exists and returns a speaker for it.
func NewCommandSpeaker(command string, log *logrus.Logger) (*CommandSpeaker, error) {
	if _, err := exec.LookPath(command); err != nil {
		return nil, fmt.Errorf("speech command %q not found: %w", command, err)
	}
	return &CommandSpeaker{command: command, log: log}, nil
}

// Say speaks the text asynchronously, cancelling any in-flight utterance.
func (s *CommandSpeaker) Say(text string) {
	if text == "" {
		return
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	go func() {
		defer cancel()
		if err := exec.CommandContext(ctx, s.command, text).Run(); err != nil && ctx.Err() == nil {
			s.log.Debugf("Voice prompt failed: %v", err)
		}
	}()
}

// Stop cancels any in-flight utterance.
func (s *CommandSpeaker) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// FromConfig builds the configured speaker, falling back to Noop when voice
// prompts are disabled or the command is missing.
func FromConfig(cfg config.LivenessConfig, log *logrus.Logger) Speaker {
	if !cfg.VoicePrompts || cfg.SpeechCommand == "" {
		return Noop{}
	}

	speaker, err := NewCommandSpeaker(cfg.SpeechCommand, log)
	if err != nil {
		log.Warnf("Voice prompts disabled: %v", err)
		return Noop{}
	}
	return speaker
}
