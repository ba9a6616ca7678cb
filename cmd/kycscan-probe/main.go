// kycscan-probe - camera and frame-quality diagnostics
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lumipay/kycscan/internal/camera"
	"github.com/lumipay/kycscan/internal/capture"
	"github.com/lumipay/kycscan/internal/config"
	"github.com/sirupsen/logrus"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to configuration file")
		roleName   = flag.String("camera", "back", "Camera to probe: back or front")
		duration   = flag.Duration("duration", 10*time.Second, "How long to stream readings")
		capturePtr = flag.Bool("capture", false, "Capture a still at the end and report its size")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	)
	flag.Parse()

	logger := logrus.New()
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warnf("Failed to load config: %v", err)
		cfg = config.DefaultConfig()
	}

	var role camera.Role
	switch *roleName {
	case "back":
		role = camera.RoleBack
	case "front":
		role = camera.RoleFront
	default:
		logger.Fatalf("Unknown camera %q (use back or front)", *roleName)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	if err := probe(ctx, cfg, logger, role, *capturePtr); err != nil {
		logger.Fatalf("Probe failed: %v", err)
	}
}

func probe(ctx context.Context, cfg *config.Config, logger *logrus.Logger, role camera.Role, still bool) error {
	session := capture.NewSession(cfg, nil, logger, nil)
	defer session.Release()

	if err := session.Acquire(role); err != nil {
		fmt.Printf("Camera unavailable: %s\n", capture.UserMessage(err))
		return err
	}

	fmt.Printf("Streaming %s camera readings (%s)...\n", role, describe(cfg, role))

	analyzer := capture.NewAnalyzer(cfg.Quality)
	interval := time.Duration(cfg.Capture.TickIntervalMs) * time.Millisecond

	var ticks, ready int
	err := session.Monitor(ctx, analyzer, interval, func(r capture.Reading) {
		ticks++
		if r.Ready() {
			ready++
		}
		fmt.Printf("  brightness=%-10s blur=%-7s alignment=%-11s overall=%s\n",
			r.Brightness, r.Blur, r.Alignment, r.Overall)
	})
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return err
	}

	fmt.Printf("\n%d readings, %d ready\n", ticks, ready)

	if still {
		artifact, err := session.CaptureStill()
		if err != nil {
			fmt.Printf("Still capture failed: %s\n", capture.UserMessage(err))
			return err
		}
		fmt.Printf("Still captured: %d bytes, %dx%d, %s\n",
			len(artifact.Data), artifact.Width, artifact.Height, artifact.MIME)
	}

	return nil
}

func describe(cfg *config.Config, role camera.Role) string {
	if role == camera.RoleFront {
		return fmt.Sprintf("%s %dx%d", cfg.Camera.FrontDevice, cfg.Camera.FrontWidth, cfg.Camera.FrontHeight)
	}
	return fmt.Sprintf("%s %dx%d", cfg.Camera.BackDevice, cfg.Camera.BackWidth, cfg.Camera.BackHeight)
}
