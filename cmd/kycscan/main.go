// kycscan - interactive identity-verification capture flow
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lumipay/kycscan/internal/capture"
	"github.com/lumipay/kycscan/internal/config"
	"github.com/lumipay/kycscan/internal/flow"
	"github.com/lumipay/kycscan/internal/liveness"
	"github.com/lumipay/kycscan/internal/services"
	"github.com/lumipay/kycscan/internal/speech"
	"github.com/lumipay/kycscan/internal/storage"
	"github.com/sirupsen/logrus"
)

const version = "0.3.0"

func main() {
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		verbose     = flag.Bool("verbose", false, "Enable verbose logging")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("kycscan %s\n", version)
		return
	}

	logger := logrus.New()
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warnf("Failed to load config: %v", err)
		logger.Info("Using default configuration")
		cfg = config.DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		logger.Fatalf("Invalid configuration: %v", err)
	}

	ctx, cancel := setupSignalHandling(logger)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatalf("Verification flow failed: %v", err)
	}
}

func setupSignalHandling(logger *logrus.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Received shutdown signal")
		cancel()
	}()

	return ctx, cancel
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	timeout := time.Duration(cfg.Services.TimeoutSeconds) * time.Second

	session := capture.NewSession(cfg, nil, logger, nil)
	defer session.Release()

	store, err := storage.NewStore(cfg.Storage.DatabasePath)
	if err != nil {
		logger.Warnf("Attempt audit store unavailable: %v", err)
	} else {
		defer func() { _ = store.Close() }()
	}

	controller := flow.NewController(flow.Deps{
		Config:   cfg,
		Logger:   logger,
		Session:  session,
		Verifier: services.NewVerifyClient(cfg.Services.VerifyURL, timeout, logger),
		OTP:      services.NewOTPClient(cfg.Services.OTPURL, timeout, logger),
		KYC:      services.NewKYCClient(cfg.Services.KYCLookupURL, timeout, logger),
		Store:    store,
		Speaker:  speech.FromConfig(cfg.Liveness, logger),
	})
	defer controller.Close()

	reader := bufio.NewReader(os.Stdin)

	fmt.Println("LumiPay Identity Verification")
	fmt.Println("=============================")

	// Step 1: review info
	info, err := collectInfo(reader)
	if err != nil {
		return err
	}

	if verified, err := controller.ResumeIfVerified(ctx, info.Phone); err == nil && verified {
		fmt.Println("You are already fully verified. Nothing to do.")
		return nil
	}

	for {
		if err := controller.SubmitInfo(info); err == nil {
			break
		}
		fmt.Printf("  %s\n", controller.InlineError())
		info, err = collectInfo(reader)
		if err != nil {
			return err
		}
	}

	// Step 2: document scan
	fmt.Println("\nPlace your ID document in front of the camera.")
	fmt.Println("Hold steady; the photo is taken automatically.")

	if err := runDocumentScan(ctx, controller); err != nil {
		return err
	}
	if err := controller.ContinueToSelfie(); err != nil {
		return err
	}

	// Step 3: selfie with liveness
	fmt.Println("\nSelfie time. Follow the instructions on screen.")
	if err := runSelfie(ctx, controller, reader); err != nil {
		return err
	}
	if err := controller.ContinueToPhoneVerify(); err != nil {
		return err
	}

	// Step 4: phone verification
	if err := verifyPhone(ctx, controller, reader); err != nil {
		return err
	}

	// Step 5: submission
	fmt.Println("\nSubmitting your verification...")
	outcome, err := controller.Submit(ctx)
	if err != nil {
		fmt.Printf("  %s\n", controller.InlineError())
		return err
	}

	printOutcome(outcome)
	return nil
}

func collectInfo(reader *bufio.Reader) (flow.Info, error) {
	first, err := prompt(reader, "First name: ")
	if err != nil {
		return flow.Info{}, err
	}
	last, err := prompt(reader, "Last name: ")
	if err != nil {
		return flow.Info{}, err
	}
	phoneNumber, err := prompt(reader, "Phone number: ")
	if err != nil {
		return flow.Info{}, err
	}
	confirm, err := prompt(reader, "I confirm these details are correct (y/n): ")
	if err != nil {
		return flow.Info{}, err
	}

	return flow.Info{
		FirstName: first,
		LastName:  last,
		Phone:     phoneNumber,
		Confirmed: strings.EqualFold(confirm, "y") || strings.EqualFold(confirm, "yes"),
	}, nil
}

func runDocumentScan(ctx context.Context, controller *flow.Controller) error {
	var lastHint string

	_, err := controller.RunIDScan(ctx,
		func(r capture.Reading) {
			hint := qualityHint(r)
			if hint != lastHint {
				fmt.Printf("  %s\n", hint)
				lastHint = hint
			}
		},
		func(remaining int) {
			fmt.Printf("  Capturing in %d...\n", remaining)
		},
	)
	if err != nil {
		fmt.Printf("  %s\n", capture.UserMessage(err))
		return err
	}

	fmt.Println("  Document captured.")
	return nil
}

func qualityHint(r capture.Reading) string {
	switch {
	case r.Brightness == capture.BrightnessTooDark:
		return "Too dark - find more light"
	case r.Brightness == capture.BrightnessTooBright:
		return "Too bright - reduce glare"
	case r.Blur == capture.BlurBlurry:
		return "Hold the camera steady"
	case r.Alignment == capture.AlignmentMisaligned:
		return "Center the document in the frame"
	default:
		return "Looks good, hold still"
	}
}

func runSelfie(ctx context.Context, controller *flow.Controller, reader *bufio.Reader) error {
	runner, err := controller.BeginSelfie()
	if err != nil {
		fmt.Printf("  %s\n", capture.UserMessage(err))
		return err
	}

	instructions := map[liveness.Step]string{
		liveness.StepReady:     "Center your face in the frame",
		liveness.StepLookLeft:  "Turn your head to the LEFT",
		liveness.StepLookRight: "Turn your head to the RIGHT",
		liveness.StepOpenMouth: "Open your mouth briefly",
	}

	for {
		step := runner.Step()
		if step == liveness.StepRecording || step == liveness.StepComplete {
			break
		}

		fmt.Printf("  [%d%%] %s\n", runner.Progress(), instructions[step])
		if _, err := prompt(reader, "  Press Enter when done..."); err != nil {
			return err
		}
		if err := runner.Confirm(); err != nil {
			return err
		}
	}

	fmt.Println("  Hold still...")
	for runner.Step() != liveness.StepComplete {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
		if msg := controller.InlineError(); msg != "" {
			return fmt.Errorf("%s", msg)
		}
	}

	fmt.Println("  Selfie captured.")
	return nil
}

func verifyPhone(ctx context.Context, controller *flow.Controller, reader *bufio.Reader) error {
	fmt.Println("\nVerifying your phone number...")

	matched, err := controller.TryCarrierMatch(ctx)
	if err == nil && matched {
		fmt.Printf("  Phone verified against the carrier record for %s.\n", controller.AccountHolder())
		return nil
	}

	fmt.Println("  We'll send a verification code to your phone.")
	if err := controller.RequestOTP(ctx); err != nil {
		return err
	}

	for {
		code, err := prompt(reader, "  Enter the 6-digit code: ")
		if err != nil {
			return err
		}

		verified, err := controller.SubmitOTP(ctx, code)
		if err != nil {
			return err
		}
		if verified {
			fmt.Println("  Phone verified.")
			return nil
		}
		fmt.Printf("  %s\n", controller.InlineError())
	}
}

func printOutcome(outcome *services.VerificationOutcome) {
	fmt.Println()
	if outcome == nil {
		fmt.Println("Verification was interrupted.")
		return
	}

	if outcome.Verified {
		fmt.Println("You're verified!")
		if outcome.NIN != "" {
			fmt.Printf("National ID number: %s\n", outcome.NIN)
		}
		return
	}

	if outcome.RequiresManualReview {
		fmt.Println("Your verification needs a manual review. We'll be in touch.")
	} else {
		fmt.Println("Verification was not successful:")
	}
	for _, issue := range outcome.Issues {
		fmt.Printf("  - %s\n", issue)
	}
}

func prompt(reader *bufio.Reader, label string) (string, error) {
	fmt.Print(label)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}
