package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical device defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/capsense.defaults.json"

// Config holds the device tuning parameters. All fields are pointers so a
// partial JSON file only overrides what it names; the Get* accessors supply
// defaults for everything else.
type Config struct {
	// Alert thresholds. Distances at or above SafeThresholdMM are Safe,
	// below CriticalThresholdMM are Critical, Warning in between.
	SafeThresholdMM     *uint32 `json:"safe_threshold_mm,omitempty"`
	CriticalThresholdMM *uint32 `json:"critical_threshold_mm,omitempty"`

	// Scheduler cadence per device mode (duration strings like "100ms").
	ActiveInterval   *string `json:"active_interval,omitempty"`
	BalancedInterval *string `json:"balanced_interval,omitempty"`
	EcoInterval      *string `json:"eco_interval,omitempty"`

	// Ranging params
	EchoTimeoutMicros *int64 `json:"echo_timeout_micros,omitempty"`

	// Frame streaming params
	BackendAddr    *string `json:"backend_addr,omitempty"`
	ConnectTimeout *string `json:"connect_timeout,omitempty"` // duration string
	WriteTimeout   *string `json:"write_timeout,omitempty"`   // duration string
	ChunkSize      *int    `json:"chunk_size,omitempty"`
	SpoolSize      *int    `json:"spool_size,omitempty"` // 0 disables the outbound spool

	// Pin assignments (periph.io pin names)
	TriggerPin   *string `json:"trigger_pin,omitempty"`
	EchoPin      *string `json:"echo_pin,omitempty"`
	MotorPin     *string `json:"motor_pin,omitempty"`
	IndicatorPin *string `json:"indicator_pin,omitempty"`

	// Control link params
	ControlPort *string `json:"control_port,omitempty"`
	ControlBaud *int    `json:"control_baud,omitempty"`

	// Status publisher params (empty broker disables publishing)
	MQTTBroker *string `json:"mqtt_broker,omitempty"`
	MQTTTopic  *string `json:"mqtt_topic,omitempty"`

	// Camera snapshot path, overwritten atomically by the platform camera
	// service
	CameraPath *string `json:"camera_path,omitempty"`

	// Telemetry log params
	DBPath      *string `json:"db_path,omitempty"`
	DBRetention *string `json:"db_retention,omitempty"` // duration string
}

// Empty returns a Config with all fields unset so every accessor falls back
// to its default.
func Empty() *Config {
	return &Config{}
}

// Load reads a Config from a JSON file. The file must have a .json
// extension and be under the max file size. Fields omitted from the JSON
// retain their defaults, so partial configs are safe.
func Load(path string) (*Config, error) {
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

	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are coherent.
func (c *Config) Validate() error {
	if c.SafeThresholdMM != nil && c.CriticalThresholdMM != nil {
		if *c.CriticalThresholdMM >= *c.SafeThresholdMM {
			return fmt.Errorf("critical_threshold_mm (%d) must be below safe_threshold_mm (%d)",
				*c.CriticalThresholdMM, *c.SafeThresholdMM)
		}
	}

	for name, v := range map[string]*string{
		"active_interval":   c.ActiveInterval,
		"balanced_interval": c.BalancedInterval,
		"eco_interval":      c.EcoInterval,
		"connect_timeout":   c.ConnectTimeout,
		"write_timeout":     c.WriteTimeout,
		"db_retention":      c.DBRetention,
	} {
		if v != nil && *v != "" {
			if _, err := time.ParseDuration(*v); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
			}
		}
	}

	if c.ChunkSize != nil && *c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", *c.ChunkSize)
	}

	if c.SpoolSize != nil && *c.SpoolSize < 0 {
		return fmt.Errorf("spool_size must be non-negative, got %d", *c.SpoolSize)
	}

	if c.EchoTimeoutMicros != nil && *c.EchoTimeoutMicros <= 0 {
		return fmt.Errorf("echo_timeout_micros must be positive, got %d", *c.EchoTimeoutMicros)
	}

	return nil
}

func (c *Config) duration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// GetSafeThresholdMM returns the safe_threshold_mm value or the default.
func (c *Config) GetSafeThresholdMM() uint32 {
	if c.SafeThresholdMM == nil {
		return 1000
	}
	return *c.SafeThresholdMM
}

// GetCriticalThresholdMM returns the critical_threshold_mm value or the default.
func (c *Config) GetCriticalThresholdMM() uint32 {
	if c.CriticalThresholdMM == nil {
		return 300
	}
	return *c.CriticalThresholdMM
}

// GetActiveInterval returns the Active mode cycle interval.
func (c *Config) GetActiveInterval() time.Duration {
	return c.duration(c.ActiveInterval, 100*time.Millisecond)
}

// GetBalancedInterval returns the Balanced mode cycle interval.
func (c *Config) GetBalancedInterval() time.Duration {
	return c.duration(c.BalancedInterval, 300*time.Millisecond)
}

// GetEcoInterval returns the Eco mode cycle interval.
func (c *Config) GetEcoInterval() time.Duration {
	return c.duration(c.EcoInterval, 500*time.Millisecond)
}

// GetEchoTimeoutMicros returns the echo wait timeout in microseconds.
// The default corresponds to a ~400cm maximum range at the speed of sound.
func (c *Config) GetEchoTimeoutMicros() int64 {
	if c.EchoTimeoutMicros == nil {
		return 23200
	}
	return *c.EchoTimeoutMicros
}

// GetBackendAddr returns the frame streaming backend address.
func (c *Config) GetBackendAddr() string {
	if c.BackendAddr == nil || *c.BackendAddr == "" {
		return "127.0.0.1:5000"
	}
	return *c.BackendAddr
}

// GetConnectTimeout returns the transport connect timeout.
func (c *Config) GetConnectTimeout() time.Duration {
	return c.duration(c.ConnectTimeout, 1*time.Second)
}

// GetWriteTimeout returns the per-write transport timeout.
func (c *Config) GetWriteTimeout() time.Duration {
	return c.duration(c.WriteTimeout, 1*time.Second)
}

// GetChunkSize returns the payload write chunk size.
func (c *Config) GetChunkSize() int {
	if c.ChunkSize == nil {
		return 1024
	}
	return *c.ChunkSize
}

// GetSpoolSize returns the outbound frame spool capacity. Zero disables
// the spool entirely (fire-and-forget per tick).
func (c *Config) GetSpoolSize() int {
	if c.SpoolSize == nil {
		return 0
	}
	return *c.SpoolSize
}

func (c *Config) pinName(v *string, def string) string {
	if v == nil || *v == "" {
		return def
	}
	return *v
}

// GetTriggerPin returns the rangefinder trigger pin name.
func (c *Config) GetTriggerPin() string { return c.pinName(c.TriggerPin, "GPIO23") }

// GetEchoPin returns the rangefinder echo pin name.
func (c *Config) GetEchoPin() string { return c.pinName(c.EchoPin, "GPIO24") }

// GetMotorPin returns the haptic motor PWM pin name.
func (c *Config) GetMotorPin() string { return c.pinName(c.MotorPin, "GPIO18") }

// GetIndicatorPin returns the status LED pin name.
func (c *Config) GetIndicatorPin() string { return c.pinName(c.IndicatorPin, "GPIO17") }

// GetControlPort returns the control link serial port path.
func (c *Config) GetControlPort() string {
	if c.ControlPort == nil || *c.ControlPort == "" {
		return "/dev/rfcomm0"
	}
	return *c.ControlPort
}

// GetControlBaud returns the control link baud rate.
func (c *Config) GetControlBaud() int {
	if c.ControlBaud == nil {
		return 115200
	}
	return *c.ControlBaud
}

// GetMQTTBroker returns the status publisher broker URL, or empty if
// publishing is disabled.
func (c *Config) GetMQTTBroker() string {
	if c.MQTTBroker == nil {
		return ""
	}
	return *c.MQTTBroker
}

// GetMQTTTopic returns the status publisher topic.
func (c *Config) GetMQTTTopic() string {
	if c.MQTTTopic == nil || *c.MQTTTopic == "" {
		return "capsense/status"
	}
	return *c.MQTTTopic
}

// GetCameraPath returns the camera snapshot file path.
func (c *Config) GetCameraPath() string {
	if c.CameraPath == nil || *c.CameraPath == "" {
		return "/run/capsense/frame.jpg"
	}
	return *c.CameraPath
}

// GetDBPath returns the telemetry log database path.
func (c *Config) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return "capsense.db"
	}
	return *c.DBPath
}

// GetDBRetention returns how long telemetry rows are kept before pruning.
func (c *Config) GetDBRetention() time.Duration {
	return c.duration(c.DBRetention, 24*time.Hour)
}
