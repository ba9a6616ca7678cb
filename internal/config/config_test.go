package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty back device", func(c *Config) { c.Camera.BackDevice = "" }},
		{"zero back resolution", func(c *Config) { c.Camera.BackWidth = 0 }},
		{"zero front resolution", func(c *Config) { c.Camera.FrontHeight = 0 }},
		{"inverted brightness thresholds", func(c *Config) { c.Quality.BrightnessLow = 210 }},
		{"edge ratio above one", func(c *Config) { c.Quality.EdgeRatioMin = 1.5 }},
		{"zero region fraction", func(c *Config) { c.Quality.RegionFracW = 0 }},
		{"zero ready ticks", func(c *Config) { c.Capture.ReadyTicks = 0 }},
		{"zero countdown ticks", func(c *Config) { c.Capture.CountdownTicks = 0 }},
		{"zero tick interval", func(c *Config) { c.Capture.TickIntervalMs = 0 }},
		{"zero otp tries", func(c *Config) { c.Phone.MaxOTPTries = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kycscan.yaml")

	content := fmt.Sprintf(`
camera:
  back_device: /dev/video9
quality:
  sharpness_min: 250
phone:
  max_otp_tries: 5
storage:
  data_dir: %s
  database_path: %s
`, dir, filepath.Join(dir, "kycscan.db"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/dev/video9", loaded.Camera.BackDevice)
	assert.Equal(t, float64(250), loaded.Quality.SharpnessMin)
	assert.Equal(t, 5, loaded.Phone.MaxOTPTries)

	// Values the file does not mention keep their defaults.
	assert.Equal(t, "/dev/video2", loaded.Camera.FrontDevice)
	assert.Equal(t, "SL", loaded.Phone.Region)
}
