// Package config provides configuration management for kycscan
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config holds all configuration for the agent
type Config struct {
	// Camera settings
	Camera CameraConfig `mapstructure:"camera"`

	// Frame quality heuristics
	Quality QualityConfig `mapstructure:"quality"`

	// Auto-capture behaviour
	Capture CaptureConfig `mapstructure:"capture"`

	// Liveness script settings
	Liveness LivenessConfig `mapstructure:"liveness"`

	// External service endpoints
	Services ServicesConfig `mapstructure:"services"`

	// Phone verification settings
	Phone PhoneConfig `mapstructure:"phone"`

	// Storage settings
	Storage StorageConfig `mapstructure:"storage"`

	// Logging settings
	Logging LoggingConfig `mapstructure:"logging"`
}

// CameraConfig holds camera-related configuration
type CameraConfig struct {
	BackDevice  string `mapstructure:"back_device"`  // V4L2 device used for document scans
	FrontDevice string `mapstructure:"front_device"` // V4L2 device used for selfie capture
	BackWidth   int    `mapstructure:"back_width"`   // Preferred document capture width
	BackHeight  int    `mapstructure:"back_height"`  // Preferred document capture height
	FrontWidth  int    `mapstructure:"front_width"`  // Preferred selfie capture width
	FrontHeight int    `mapstructure:"front_height"` // Preferred selfie capture height
	PixelFormat string `mapstructure:"pixel_format"` // V4L2 pixel format
	WarmupMs    int    `mapstructure:"warmup_ms"`    // Delay after start before first analyzer tick
}

// QualityConfig holds the frame-quality heuristic thresholds.
// Defaults match the values the heuristics were originally tuned with.
type QualityConfig struct {
	BrightnessLow  float64 `mapstructure:"brightness_low"`  // Mean brightness below this is too dark
	BrightnessHigh float64 `mapstructure:"brightness_high"` // Mean brightness above this is too bright
	SharpnessMin   float64 `mapstructure:"sharpness_min"`   // Laplacian mean-square below this is blurry
	EdgeDelta      int     `mapstructure:"edge_delta"`      // Per-pixel channel delta counted as an edge
	EdgeRatioMin   float64 `mapstructure:"edge_ratio_min"`  // Minimum edge ratio for "content present"
	RegionFracW    float64 `mapstructure:"region_frac_w"`   // Centered sample region width fraction
	RegionFracH    float64 `mapstructure:"region_frac_h"`   // Centered sample region height fraction
	SampleWidth    int     `mapstructure:"sample_width"`    // Analyzer downsample width
	SampleHeight   int     `mapstructure:"sample_height"`   // Analyzer downsample height
}

// CaptureConfig holds auto-capture trigger configuration
type CaptureConfig struct {
	TickIntervalMs int `mapstructure:"tick_interval_ms"` // Analyzer tick interval
	ReadyTicks     int `mapstructure:"ready_ticks"`      // Consecutive ready ticks before countdown
	CountdownTicks int `mapstructure:"countdown_ticks"`  // Countdown length in ticks
	MinImageBytes  int `mapstructure:"min_image_bytes"`  // Minimum encoded artifact size
	JPEGQuality    int `mapstructure:"jpeg_quality"`     // Encoder quality for captured artifacts
}

// LivenessConfig holds liveness script configuration
type LivenessConfig struct {
	SettleDelayMs int    `mapstructure:"settle_delay_ms"` // Delay before the final capture in the recording step
	VoicePrompts  bool   `mapstructure:"voice_prompts"`   // Speak step instructions
	SpeechCommand string `mapstructure:"speech_command"`  // External text-to-speech command
}

// ServicesConfig holds external collaborator endpoints
type ServicesConfig struct {
	VerifyURL      string `mapstructure:"verify_url"`      // Device-verification service base URL
	OTPURL         string `mapstructure:"otp_url"`         // One-time-code service base URL
	KYCLookupURL   string `mapstructure:"kyc_lookup_url"`  // Provider KYC lookup base URL
	TimeoutSeconds int    `mapstructure:"timeout_seconds"` // Request timeout for all clients
}

// PhoneConfig holds phone verification configuration
type PhoneConfig struct {
	Region       string `mapstructure:"region"`        // Default region for parsing national numbers
	MaxOTPTries  int    `mapstructure:"max_otp_tries"` // Rejected codes before cooldown
	CooldownSecs int    `mapstructure:"cooldown_secs"` // OTP cooldown duration
}

// StorageConfig holds attempt audit storage configuration
type StorageConfig struct {
	DataDir      string `mapstructure:"data_dir"`      // Directory for agent data
	DatabasePath string `mapstructure:"database_path"` // SQLite database path
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `mapstructure:"level"` // Log level: debug, info, warn, error
	File  string `mapstructure:"file"`  // Log file path (empty = stdout)
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Camera: CameraConfig{
			BackDevice:  "/dev/video0",
			FrontDevice: "/dev/video2",
			BackWidth:   1280,
			BackHeight:  720,
			FrontWidth:  640,
			FrontHeight: 480,
			PixelFormat: "MJPEG",
			WarmupMs:    200,
		},
		Quality: QualityConfig{
			BrightnessLow:  60,
			BrightnessHigh: 200,
			SharpnessMin:   100,
			EdgeDelta:      30,
			EdgeRatioMin:   0.05,
			RegionFracW:    0.6,
			RegionFracH:    0.6,
			SampleWidth:    320,
			SampleHeight:   240,
		},
		Capture: CaptureConfig{
			TickIntervalMs: 500,
			ReadyTicks:     3,
			CountdownTicks: 3,
			MinImageBytes:  1000,
			JPEGQuality:    90,
		},
		Liveness: LivenessConfig{
			SettleDelayMs: 1500,
			VoicePrompts:  true,
			SpeechCommand: "espeak",
		},
		Services: ServicesConfig{
			VerifyURL:      "http://localhost:8090",
			OTPURL:         "http://localhost:8091",
			KYCLookupURL:   "http://localhost:8092",
			TimeoutSeconds: 30,
		},
		Phone: PhoneConfig{
			Region:       "SL",
			MaxOTPTries:  3,
			CooldownSecs: 300,
		},
		Storage: StorageConfig{
			DataDir:      "/var/lib/kycscan",
			DatabasePath: "/var/lib/kycscan/kycscan.db",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
	}
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	viper.SetConfigType("yaml")

	// Set config file if provided
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		// Search for config in standard locations
		viper.SetConfigName("kycscan")
		viper.AddConfigPath("/etc/kycscan/")
		viper.AddConfigPath("$HOME/.kycscan")
		viper.AddConfigPath(".")
	}

	// Environment variable prefix
	viper.SetEnvPrefix("KYCSCAN")
	viper.AutomaticEnv()

	// Read config file (optional)
	if err := viper.ReadInConfig(); err != nil {
		// Config file not found is OK, use defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	// Unmarshal into struct
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Ensure data directory exists
	if err := os.MkdirAll(cfg.Storage.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("error creating data directory: %w", err)
	}

	return cfg, nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	viper.Reset()

	viper.Set("camera", c.Camera)
	viper.Set("quality", c.Quality)
	viper.Set("capture", c.Capture)
	viper.Set("liveness", c.Liveness)
	viper.Set("services", c.Services)
	viper.Set("phone", c.Phone)
	viper.Set("storage", c.Storage)
	viper.Set("logging", c.Logging)

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Write config file
	if err := viper.WriteConfigAs(path); err != nil {
		return fmt.Errorf("error writing config: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Camera.BackDevice == "" {
		return fmt.Errorf("back camera device cannot be empty")
	}
	if c.Camera.BackWidth <= 0 || c.Camera.BackHeight <= 0 {
		return fmt.Errorf("invalid back camera resolution: %dx%d", c.Camera.BackWidth, c.Camera.BackHeight)
	}
	if c.Camera.FrontWidth <= 0 || c.Camera.FrontHeight <= 0 {
		return fmt.Errorf("invalid front camera resolution: %dx%d", c.Camera.FrontWidth, c.Camera.FrontHeight)
	}

	if c.Quality.BrightnessLow < 0 || c.Quality.BrightnessHigh > 255 {
		return fmt.Errorf("brightness thresholds must be within [0, 255]")
	}
	if c.Quality.BrightnessLow >= c.Quality.BrightnessHigh {
		return fmt.Errorf("brightness_low must be below brightness_high")
	}
	if c.Quality.EdgeRatioMin < 0 || c.Quality.EdgeRatioMin > 1 {
		return fmt.Errorf("edge_ratio_min must be between 0 and 1")
	}
	if c.Quality.RegionFracW <= 0 || c.Quality.RegionFracW > 1 ||
		c.Quality.RegionFracH <= 0 || c.Quality.RegionFracH > 1 {
		return fmt.Errorf("region fractions must be within (0, 1]")
	}

	if c.Capture.ReadyTicks <= 0 {
		return fmt.Errorf("ready_ticks must be positive")
	}
	if c.Capture.CountdownTicks <= 0 {
		return fmt.Errorf("countdown_ticks must be positive")
	}
	if c.Capture.TickIntervalMs <= 0 {
		return fmt.Errorf("tick_interval_ms must be positive")
	}

	if c.Phone.MaxOTPTries <= 0 {
		return fmt.Errorf("max_otp_tries must be positive")
	}

	return nil
}
