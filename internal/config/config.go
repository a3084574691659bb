// Package config loads the kiosk's tunable parameters from JSON.
//
// The schema uses pointer fields so a partial config file is safe: any field
// omitted from the JSON falls back to the documented default via its Get*
// accessor.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical kiosk defaults file.
const DefaultConfigPath = "config/kiosk.defaults.json"

// KioskConfig is the root configuration for the kiosk. Durations are JSON
// strings like "500ms" so the same file works for startup configuration and
// operator edits.
type KioskConfig struct {
	// Hardware hub
	SerialPort *string `json:"serial_port,omitempty"`
	SerialBaud *int    `json:"serial_baud,omitempty"`

	// Camera
	CameraDevice *string `json:"camera_device,omitempty"`
	CameraWidth  *int    `json:"camera_width,omitempty"`
	CameraHeight *int    `json:"camera_height,omitempty"`

	// Classification service
	ClassifierURL     *string `json:"classifier_url,omitempty"`
	ClassifierModel   *string `json:"classifier_model,omitempty"`
	ClassifierTimeout *string `json:"classifier_timeout,omitempty"` // per-attempt HTTP timeout

	// State machine timing
	PollInterval     *string `json:"poll_interval,omitempty"`
	DebounceDelay    *string `json:"debounce_delay,omitempty"`
	ResultDelay      *string `json:"result_delay,omitempty"`      // processing -> result_<category>
	RewardDelay      *string `json:"reward_delay,omitempty"`      // correct bin -> reward
	RewardDisplay    *string `json:"reward_display,omitempty"`    // reward -> qrcode
	QRCodeDisplay    *string `json:"qrcode_display,omitempty"`    // qrcode -> idle
	IncorrectDisplay *string `json:"incorrect_display,omitempty"` // incorrect -> idle
	ErrorDisplay     *string `json:"error_display,omitempty"`     // error -> idle
	ClassifyTimeout  *string `json:"classify_timeout,omitempty"`  // wall-clock cap on a whole attempt-set

	// Presentation
	MediaDir          *string `json:"media_dir,omitempty"`
	FramebufferDevice *string `json:"framebuffer_device,omitempty"`
	TickInterval      *string `json:"tick_interval,omitempty"`
	IdleVideoMaxFPS   *int    `json:"idle_video_max_fps,omitempty"`

	// Telemetry
	DatabasePath  *string `json:"database_path,omitempty"`
	MigrationsDir *string `json:"migrations_dir,omitempty"`
}

// EmptyConfig returns a KioskConfig with all fields unset.
func EmptyConfig() *KioskConfig {
	return &KioskConfig{}
}

// Load reads a KioskConfig from a JSON file. The file must have a .json
// extension and be under 1MB. Fields omitted from the JSON retain their
// defaults, so partial configs are safe.
func Load(path string) (*KioskConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are parseable and sane.
func (c *KioskConfig) Validate() error {
	durations := map[string]*string{
		"classifier_timeout": c.ClassifierTimeout,
		"poll_interval":      c.PollInterval,
		"debounce_delay":     c.DebounceDelay,
		"result_delay":       c.ResultDelay,
		"reward_delay":       c.RewardDelay,
		"reward_display":     c.RewardDisplay,
		"qrcode_display":     c.QRCodeDisplay,
		"incorrect_display":  c.IncorrectDisplay,
		"error_display":      c.ErrorDisplay,
		"classify_timeout":   c.ClassifyTimeout,
		"tick_interval":      c.TickInterval,
	}
	for name, v := range durations {
		if v == nil || *v == "" {
			continue
		}
		if _, err := time.ParseDuration(*v); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, *v, err)
		}
	}

	if c.SerialBaud != nil && *c.SerialBaud <= 0 {
		return fmt.Errorf("serial_baud must be positive, got %d", *c.SerialBaud)
	}
	if c.CameraWidth != nil && *c.CameraWidth <= 0 {
		return fmt.Errorf("camera_width must be positive, got %d", *c.CameraWidth)
	}
	if c.CameraHeight != nil && *c.CameraHeight <= 0 {
		return fmt.Errorf("camera_height must be positive, got %d", *c.CameraHeight)
	}
	if c.IdleVideoMaxFPS != nil && *c.IdleVideoMaxFPS <= 0 {
		return fmt.Errorf("idle_video_max_fps must be positive, got %d", *c.IdleVideoMaxFPS)
	}
	return nil
}

func (c *KioskConfig) duration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// GetSerialPort returns the serial device path for the sensor/lighting hub.
func (c *KioskConfig) GetSerialPort() string {
	if c.SerialPort == nil {
		return "/dev/ttyACM0"
	}
	return *c.SerialPort
}

// GetSerialBaud returns the hub baud rate.
func (c *KioskConfig) GetSerialBaud() int {
	if c.SerialBaud == nil {
		return 115200
	}
	return *c.SerialBaud
}

// GetCameraDevice returns the V4L2 device path.
func (c *KioskConfig) GetCameraDevice() string {
	if c.CameraDevice == nil {
		return "/dev/video0"
	}
	return *c.CameraDevice
}

// GetCameraWidth returns the capture width.
func (c *KioskConfig) GetCameraWidth() int {
	if c.CameraWidth == nil {
		return 640
	}
	return *c.CameraWidth
}

// GetCameraHeight returns the capture height.
func (c *KioskConfig) GetCameraHeight() int {
	if c.CameraHeight == nil {
		return 480
	}
	return *c.CameraHeight
}

// GetClassifierURL returns the classification endpoint.
func (c *KioskConfig) GetClassifierURL() string {
	if c.ClassifierURL == nil {
		return "https://api.openai.com/v1/chat/completions"
	}
	return *c.ClassifierURL
}

// GetClassifierModel returns the model name sent with each request.
func (c *KioskConfig) GetClassifierModel() string {
	if c.ClassifierModel == nil {
		return "gpt-4o-mini"
	}
	return *c.ClassifierModel
}

// GetClassifierTimeout returns the per-attempt HTTP timeout.
func (c *KioskConfig) GetClassifierTimeout() time.Duration {
	return c.duration(c.ClassifierTimeout, 30*time.Second)
}

// GetPollInterval returns the sensor polling cadence.
func (c *KioskConfig) GetPollInterval() time.Duration {
	return c.duration(c.PollInterval, 100*time.Millisecond)
}

// GetDebounceDelay returns the pause between an object trigger and acting on it.
func (c *KioskConfig) GetDebounceDelay() time.Duration {
	return c.duration(c.DebounceDelay, 500*time.Millisecond)
}

// GetResultDelay returns the pause between a classification and its result display.
func (c *KioskConfig) GetResultDelay() time.Duration {
	return c.duration(c.ResultDelay, 3*time.Second)
}

// GetRewardDelay returns the grace pause between a correct deposit and reward.
func (c *KioskConfig) GetRewardDelay() time.Duration {
	return c.duration(c.RewardDelay, 2*time.Second)
}

// GetRewardDisplay returns how long the reward screen shows.
func (c *KioskConfig) GetRewardDisplay() time.Duration {
	return c.duration(c.RewardDisplay, 5*time.Second)
}

// GetQRCodeDisplay returns how long the QR screen shows.
func (c *KioskConfig) GetQRCodeDisplay() time.Duration {
	return c.duration(c.QRCodeDisplay, 5*time.Second)
}

// GetIncorrectDisplay returns how long the incorrect screen shows.
func (c *KioskConfig) GetIncorrectDisplay() time.Duration {
	return c.duration(c.IncorrectDisplay, 2*time.Second)
}

// GetErrorDisplay returns how long the error screen shows.
func (c *KioskConfig) GetErrorDisplay() time.Duration {
	return c.duration(c.ErrorDisplay, 5*time.Second)
}

// GetClassifyTimeout returns the wall-clock cap on one classification
// attempt-set, after which the cycle is forced to the error phase.
func (c *KioskConfig) GetClassifyTimeout() time.Duration {
	return c.duration(c.ClassifyTimeout, 30*time.Second)
}

// GetMediaDir returns the directory containing the presentation assets.
func (c *KioskConfig) GetMediaDir() string {
	if c.MediaDir == nil {
		return "media"
	}
	return *c.MediaDir
}

// GetFramebufferDevice returns the output surface device.
func (c *KioskConfig) GetFramebufferDevice() string {
	if c.FramebufferDevice == nil {
		return "/dev/fb0"
	}
	return *c.FramebufferDevice
}

// GetTickInterval returns the render tick cadence (~50 Hz default).
func (c *KioskConfig) GetTickInterval() time.Duration {
	return c.duration(c.TickInterval, 20*time.Millisecond)
}

// GetIdleVideoMaxFPS returns the cap on idle video decode rate.
func (c *KioskConfig) GetIdleVideoMaxFPS() int {
	if c.IdleVideoMaxFPS == nil {
		return 30
	}
	return *c.IdleVideoMaxFPS
}

// GetDatabasePath returns the telemetry sqlite path.
func (c *KioskConfig) GetDatabasePath() string {
	if c.DatabasePath == nil {
		return "kiosk.db"
	}
	return *c.DatabasePath
}

// GetMigrationsDir returns the golang-migrate source directory.
func (c *KioskConfig) GetMigrationsDir() string {
	if c.MigrationsDir == nil {
		return "migrations"
	}
	return *c.MigrationsDir
}
