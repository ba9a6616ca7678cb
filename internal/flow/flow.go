// Package flow drives the identity-verification step state machine
package flow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/lumipay/kycscan/internal/camera"
	"github.com/lumipay/kycscan/internal/capture"
	"github.com/lumipay/kycscan/internal/config"
	"github.com/lumipay/kycscan/internal/liveness"
	"github.com/lumipay/kycscan/internal/services"
	"github.com/lumipay/kycscan/internal/speech"
	"github.com/lumipay/kycscan/internal/storage"
	"github.com/lumipay/kycscan/pkg/phone"
	"github.com/sirupsen/logrus"
)

// Step is one state of the verification flow.
type Step string

const (
	StepReviewInfo    Step = "review-info"
	StepIDScan        Step = "id-scan"
	StepSelfieCapture Step = "selfie-capture"
	StepPhoneVerify   Step = "phone-verify"
	StepProcessing    Step = "processing"
	StepResult        Step = "result"
)

// Inline validation messages shown next to the step that produced them.
const (
	msgMissingFields = "Please fill in all required fields."
	msgNotConfirmed  = "Please confirm your details to continue."
	msgInvalidPhone  = "Enter a valid phone number."
	msgInvalidCode   = "Invalid verification code."
	msgIncompleteOTP = "Enter the 6-digit code."
	msgSubmitFailed  = "Verification could not be completed. Please try again."
)

// Info is the user-declared identity reviewed in the first step.
type Info struct {
	FirstName string
	LastName  string
	Phone     string
	Confirmed bool
}

// Deps are the collaborators the controller is wired with.
type Deps struct {
	Config   *config.Config
	Logger   *logrus.Logger
	Clock    clock.Clock
	Session  *capture.Session
	Verifier services.Verifier
	OTP      services.OTPService
	KYC      services.KYCService
	Store    *storage.Store // optional
	Speaker  speech.Speaker
}

// Controller owns one verification flow instance: its step, its capture
// session, its artifacts and its timers. Nothing is shared between
// instances.
type Controller struct {
	cfg      *config.Config
	log      *logrus.Logger
	clk      clock.Clock
	session  *capture.Session
	analyzer *capture.Analyzer
	speaker  speech.Speaker
	verifier services.Verifier
	otp      services.OTPService
	kyc      services.KYCService
	store    *storage.Store

	mu              sync.Mutex
	step            Step
	runner          *liveness.Runner
	info            Info
	normalizedPhone string
	carrier         phone.Carrier
	document        capture.Artifact
	selfie          capture.Artifact
	livenessDone    bool
	accountHolder   string
	phoneVerified   bool
	otpRequestID    string
	throttle        *otpThrottle
	inlineErr       string
	outcome         *services.VerificationOutcome
	startedAt       time.Time
	closed          bool
}

// NewController creates a flow controller in the review-info step.
func NewController(d Deps) *Controller {
	clk := d.Clock
	if clk == nil {
		clk = clock.New()
	}
	speaker := d.Speaker
	if speaker == nil {
		speaker = speech.Noop{}
	}

	return &Controller{
		cfg:      d.Config,
		log:      d.Logger,
		clk:      clk,
		session:  d.Session,
		analyzer: capture.NewAnalyzer(d.Config.Quality),
		speaker:  speaker,
		verifier: d.Verifier,
		otp:      d.OTP,
		kyc:      d.KYC,
		store:    d.Store,
		step:     StepReviewInfo,
		throttle: newOTPThrottle(d.Config.Phone.MaxOTPTries,
			time.Duration(d.Config.Phone.CooldownSecs)*time.Second, clk),
		startedAt: clk.Now(),
	}
}

// Step returns the current flow step.
func (c *Controller) Step() Step {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.step
}

// InlineError returns the message for the current step, empty when none.
func (c *Controller) InlineError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inlineErr
}

// Outcome returns the terminal verification outcome once in the result step.
func (c *Controller) Outcome() *services.VerificationOutcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcome
}

// Document returns the captured document artifact.
func (c *Controller) Document() capture.Artifact {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.document
}

// Selfie returns the captured selfie artifact.
func (c *Controller) Selfie() capture.Artifact {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selfie
}

// PhoneVerified reports whether possession of the phone has been proven.
func (c *Controller) PhoneVerified() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phoneVerified
}

// AccountHolder returns the carrier-registered name, when one was found.
func (c *Controller) AccountHolder() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accountHolder
}

// NormalizedPhone returns the canonical E.164 phone once info is submitted.
func (c *Controller) NormalizedPhone() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.normalizedPhone
}

// ResumeIfVerified short-circuits the flow straight to the result step when
// the status query reports the holder already fully verified. This is the
// only way to reach the result step without traversing the earlier steps.
func (c *Controller) ResumeIfVerified(ctx context.Context, rawPhone string) (bool, error) {
	normalized, err := phone.Normalize(rawPhone, c.cfg.Phone.Region)
	if err != nil {
		return false, err
	}

	verified, err := c.verifier.Status(ctx, normalized)
	if err != nil {
		return false, err
	}
	if !verified {
		return false, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, nil
	}
	c.normalizedPhone = normalized
	c.outcome = &services.VerificationOutcome{Verified: true}
	c.step = StepResult
	return true, nil
}

// SubmitInfo validates the declared identity and advances to the id-scan
// step. Validation failures set the inline error and do not advance.
func (c *Controller) SubmitInfo(info Info) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.step != StepReviewInfo {
		return fmt.Errorf("cannot submit info in step %s", c.step)
	}

	info.FirstName = strings.TrimSpace(info.FirstName)
	info.LastName = strings.TrimSpace(info.LastName)
	info.Phone = strings.TrimSpace(info.Phone)

	if info.FirstName == "" || info.LastName == "" || info.Phone == "" {
		c.inlineErr = msgMissingFields
		return fmt.Errorf("missing required fields")
	}
	if !info.Confirmed {
		c.inlineErr = msgNotConfirmed
		return fmt.Errorf("details not confirmed")
	}

	normalized, err := phone.Normalize(info.Phone, c.cfg.Phone.Region)
	if err != nil {
		c.inlineErr = msgInvalidPhone
		return err
	}

	c.info = info
	c.normalizedPhone = normalized
	c.carrier = phone.DetectCarrier(normalized, c.cfg.Phone.Region)
	c.inlineErr = ""
	c.step = StepIDScan

	c.log.Infof("Review info accepted for %s (carrier: %s)", normalized, c.carrier)
	return nil
}

// RunIDScan acquires the back camera and runs the analyzer/auto-capture loop
// until a document artifact is captured or ctx is cancelled. The camera is
// released before returning. onReading and onCountdown may be nil.
func (c *Controller) RunIDScan(ctx context.Context, onReading func(capture.Reading), onCountdown func(remaining int)) (capture.Artifact, error) {
	c.mu.Lock()
	if c.step != StepIDScan {
		c.mu.Unlock()
		return capture.Artifact{}, fmt.Errorf("cannot scan document in step %s", c.step)
	}
	c.mu.Unlock()

	if err := c.session.Acquire(camera.RoleBack); err != nil {
		return capture.Artifact{}, err
	}
	defer c.session.Release()

	captured := make(chan capture.Artifact, 1)
	monitorCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	trigger := capture.NewTrigger(c.cfg.Capture, c.clk, c.log, func() error {
		artifact, err := c.session.CaptureStill()
		if err != nil {
			return err
		}
		if len(artifact.Data) < c.cfg.Capture.MinImageBytes {
			return capture.ErrFrameNotReady
		}
		select {
		case captured <- artifact:
		default:
		}
		cancel()
		return nil
	}, func(remaining int) {
		if remaining == c.cfg.Capture.CountdownTicks {
			c.speaker.Say("Hold steady")
		}
		if onCountdown != nil {
			onCountdown(remaining)
		}
	})

	interval := time.Duration(c.cfg.Capture.TickIntervalMs) * time.Millisecond
	err := c.session.Monitor(monitorCtx, c.analyzer, interval, func(r capture.Reading) {
		trigger.Observe(r)
		if onReading != nil {
			onReading(r)
		}
	})
	if err != nil {
		return capture.Artifact{}, err
	}

	select {
	case artifact := <-captured:
		c.mu.Lock()
		c.document = artifact
		c.inlineErr = ""
		c.mu.Unlock()
		c.log.Infof("Document captured (%d bytes, %dx%d)", len(artifact.Data), artifact.Width, artifact.Height)
		return artifact, nil
	default:
		if err := ctx.Err(); err != nil {
			return capture.Artifact{}, err
		}
		// The monitor ended without a capture and without cancellation:
		// the frame stream died under us.
		return capture.Artifact{}, fmt.Errorf("%w: camera stream ended before capture", capture.ErrDeviceFailed)
	}
}

// RetakeDocument discards the captured document for another scan.
func (c *Controller) RetakeDocument() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.document = capture.Artifact{}
}

// ContinueToSelfie advances once a usable document artifact is held.
func (c *Controller) ContinueToSelfie() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.step != StepIDScan {
		return fmt.Errorf("cannot continue to selfie in step %s", c.step)
	}
	if c.document.Empty() || len(c.document.Data) < c.cfg.Capture.MinImageBytes {
		return fmt.Errorf("document not captured yet")
	}

	c.inlineErr = ""
	c.step = StepSelfieCapture
	return nil
}

// BeginSelfie acquires the front camera and returns the liveness runner the
// caller drives with user confirmations. Completion stores the selfie and
// releases the camera; failure resets the runner and sets the inline error.
func (c *Controller) BeginSelfie() (*liveness.Runner, error) {
	c.mu.Lock()
	if c.step != StepSelfieCapture {
		c.mu.Unlock()
		return nil, fmt.Errorf("cannot begin selfie in step %s", c.step)
	}
	c.mu.Unlock()

	if err := c.session.Acquire(camera.RoleFront); err != nil {
		return nil, err
	}

	runner, err := liveness.NewRunner(c.cfg.Liveness, c.clk, c.log, c.speaker, func() (capture.Artifact, error) {
		return c.session.CaptureStill()
	})
	if err != nil {
		c.session.Release()
		return nil, err
	}

	runner.OnComplete = func(artifact capture.Artifact) {
		c.mu.Lock()
		if c.closed || c.step != StepSelfieCapture {
			c.mu.Unlock()
			return
		}
		c.selfie = artifact
		c.livenessDone = true
		c.inlineErr = ""
		c.mu.Unlock()
		c.session.Release()
		c.log.Infof("Selfie captured after liveness (%d bytes)", len(artifact.Data))
	}
	runner.OnError = func(err error) {
		c.mu.Lock()
		// A capture failure that lands after the user left the step must
		// not plant an error on the step they navigated to.
		if !c.closed && c.step == StepSelfieCapture {
			c.inlineErr = err.Error()
		}
		c.mu.Unlock()
	}

	c.mu.Lock()
	c.runner = runner
	c.mu.Unlock()

	runner.Start()
	return runner, nil
}

// RetakeSelfie discards the selfie for another liveness pass.
func (c *Controller) RetakeSelfie() {
	c.mu.Lock()
	runner := c.runner
	c.selfie = capture.Artifact{}
	c.livenessDone = false
	c.mu.Unlock()

	if runner != nil {
		runner.Reset()
	}
}

// ContinueToPhoneVerify advances once the post-liveness selfie is held.
func (c *Controller) ContinueToPhoneVerify() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.step != StepSelfieCapture {
		return fmt.Errorf("cannot continue to phone verification in step %s", c.step)
	}
	if c.selfie.Empty() || !c.livenessDone {
		return fmt.Errorf("selfie not captured yet")
	}

	c.inlineErr = ""
	c.step = StepPhoneVerify
	c.session.Release()
	return nil
}

// Back navigates to the immediately preceding step, tearing down any active
// capture session and discarding the exited step's artifact.
func (c *Controller) Back() error {
	c.mu.Lock()

	var runner *liveness.Runner
	switch c.step {
	case StepIDScan:
		c.document = capture.Artifact{}
		c.step = StepReviewInfo
	case StepSelfieCapture:
		runner = c.runner
		c.runner = nil
		c.selfie = capture.Artifact{}
		c.livenessDone = false
		c.step = StepIDScan
	case StepPhoneVerify:
		c.step = StepSelfieCapture
	default:
		step := c.step
		c.mu.Unlock()
		return fmt.Errorf("cannot navigate back from step %s", step)
	}

	c.inlineErr = ""
	c.mu.Unlock()

	// Leaving selfie-capture must stop the pending settle-delay capture
	// before the camera goes away.
	if runner != nil {
		runner.Reset()
	}
	c.session.Release()
	return nil
}

// TryCarrierMatch attempts silent phone verification against the provider
// KYC record. A lookup failure is not fatal; the OTP path remains available.
func (c *Controller) TryCarrierMatch(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if c.step != StepPhoneVerify {
		c.mu.Unlock()
		return false, fmt.Errorf("cannot verify phone in step %s", c.step)
	}
	phoneNumber := c.normalizedPhone
	carrier := c.carrier
	info := c.info
	c.mu.Unlock()

	holder, err := c.kyc.AccountHolder(ctx, phoneNumber, carrier)
	if err != nil {
		c.log.Warnf("Carrier KYC lookup failed: %v", err)
		return false, err
	}
	if holder == "" {
		return false, nil
	}

	matched := nameMatches(holder, info.FirstName, info.LastName)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.accountHolder = holder
	if matched {
		c.phoneVerified = true
		c.inlineErr = ""
		c.log.Infof("Phone verified silently via carrier KYC record")
	}
	return matched, nil
}

// RequestOTP initiates a one-time code for the declared phone number.
func (c *Controller) RequestOTP(ctx context.Context) error {
	c.mu.Lock()
	if c.step != StepPhoneVerify {
		c.mu.Unlock()
		return fmt.Errorf("cannot request a code in step %s", c.step)
	}
	phoneNumber := c.normalizedPhone
	c.mu.Unlock()

	if err := c.throttle.check(); err != nil {
		c.setInlineErr(err.Error())
		return err
	}

	requestID, err := c.otp.Initiate(ctx, phoneNumber)
	if err != nil {
		c.setInlineErr(msgSubmitFailed)
		return err
	}

	c.mu.Lock()
	c.otpRequestID = requestID
	c.inlineErr = ""
	c.mu.Unlock()
	return nil
}

// SubmitOTP verifies a submitted code. A rejected code sets the inline
// error and counts toward the throttle.
func (c *Controller) SubmitOTP(ctx context.Context, code string) (bool, error) {
	c.mu.Lock()
	if c.step != StepPhoneVerify {
		c.mu.Unlock()
		return false, fmt.Errorf("cannot submit a code in step %s", c.step)
	}
	phoneNumber := c.normalizedPhone
	requestID := c.otpRequestID
	c.mu.Unlock()

	if requestID == "" {
		return false, fmt.Errorf("no code was requested")
	}

	code = strings.TrimSpace(code)
	if !isSixDigits(code) {
		c.setInlineErr(msgIncompleteOTP)
		return false, nil
	}

	if err := c.throttle.check(); err != nil {
		c.setInlineErr(err.Error())
		return false, err
	}

	verified, err := c.otp.Verify(ctx, phoneNumber, code, requestID)
	if err != nil {
		c.setInlineErr(msgSubmitFailed)
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !verified {
		c.throttle.recordFailure()
		c.inlineErr = msgInvalidCode
		return false, nil
	}

	c.throttle.reset()
	c.phoneVerified = true
	c.inlineErr = ""
	c.log.Infof("Phone verified via one-time code")
	return true, nil
}

// Submit sends both artifacts to the verification service. On success the
// flow reaches the result step; on failure it reverts to id-scan with a
// user-visible error.
func (c *Controller) Submit(ctx context.Context) (*services.VerificationOutcome, error) {
	c.mu.Lock()
	if c.step != StepPhoneVerify {
		c.mu.Unlock()
		return nil, fmt.Errorf("cannot submit in step %s", c.step)
	}
	if c.document.Empty() || c.selfie.Empty() || !c.phoneVerified {
		c.inlineErr = msgMissingFields
		c.mu.Unlock()
		return nil, fmt.Errorf("submission prerequisites not met")
	}

	request := services.SubmitRequest{
		DocumentImage: c.document.DataURL(),
		SelfieImage:   c.selfie.DataURL(),
		MimeType:      c.document.MIME,
		Phone:         c.normalizedPhone,
	}
	c.step = StepProcessing
	c.inlineErr = ""
	c.mu.Unlock()

	outcome, err := c.verifier.Submit(ctx, request)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		// The flow was torn down while the call was in flight; the result
		// is ignored.
		return nil, nil
	}

	if err != nil {
		c.inlineErr = msgSubmitFailed
		c.step = StepIDScan
		c.recordAttemptLocked(nil, err)
		return nil, err
	}

	c.outcome = outcome
	c.step = StepResult
	c.recordAttemptLocked(outcome, nil)
	return outcome, nil
}

// Close tears down the flow: releases the camera, stops speech, and marks
// the instance so late service responses are ignored.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	runner := c.runner
	c.runner = nil
	c.mu.Unlock()

	if runner != nil {
		runner.Reset()
	}
	c.session.Release()
	c.speaker.Stop()
}

func (c *Controller) setInlineErr(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inlineErr = msg
}

func (c *Controller) recordAttemptLocked(outcome *services.VerificationOutcome, submitErr error) {
	if c.store == nil {
		return
	}

	attempt := storage.Attempt{
		Phone:             c.normalizedPhone,
		PhoneVerified:     c.phoneVerified,
		LivenessCompleted: c.livenessDone,
		Duration:          c.clk.Now().Sub(c.startedAt),
	}
	if outcome != nil {
		attempt.Verified = outcome.Verified
		attempt.NIN = outcome.NIN
		attempt.Issues = outcome.Issues
		attempt.RequiresManualReview = outcome.RequiresManualReview
	}
	if submitErr != nil {
		attempt.ErrorMessage = submitErr.Error()
	}

	if _, err := c.store.RecordAttempt(attempt); err != nil {
		c.log.Warnf("Failed to record verification attempt: %v", err)
	}
}

// nameMatches reports whether both declared name parts appear in the
// carrier-registered holder name, ignoring case and ordering.
func nameMatches(holder, firstName, lastName string) bool {
	holder = strings.ToLower(holder)
	first := strings.ToLower(strings.TrimSpace(firstName))
	last := strings.ToLower(strings.TrimSpace(lastName))

	if first == "" || last == "" {
		return false
	}
	return strings.Contains(holder, first) && strings.Contains(holder, last)
}

func isSixDigits(code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
