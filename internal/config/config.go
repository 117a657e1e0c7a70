// Package config loads depthcam settings from YAML with environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ayusman/depthcam/internal/capture"
)

// Config is the root configuration structure.
type Config struct {
	Camera    CameraConfig    `yaml:"camera"`
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Logging   LoggingConfig   `yaml:"logging"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Consumers ConsumersConfig `yaml:"consumers"`
}

// CameraConfig contains capture settings.
type CameraConfig struct {
	// Simulate uses the playback platform instead of real devices.
	Simulate bool `yaml:"simulate"`
	// Sensors lists the devices exposed by the OpenCV platform.
	Sensors []SensorConfig `yaml:"sensors"`
	FPSMin  int            `yaml:"fps_min"`
	FPSMax  int            `yaml:"fps_max"`
	Width   int            `yaml:"width"`
	Height  int            `yaml:"height"`
	// QueueDepth bounds the number of frames in flight.
	QueueDepth int `yaml:"queue_depth"`
	// Rotation in degrees applied to previews about the surface centre.
	Rotation float64 `yaml:"rotation"`
	// PermissionDevice, when set, must be readable before a device is opened.
	PermissionDevice string `yaml:"permission_device"`
	// AutoStart opens the depth sensor at startup.
	AutoStart bool `yaml:"auto_start"`
	// StatsInterval is how often stream statistics are published.
	StatsInterval time.Duration `yaml:"stats_interval"`
	Motion        MotionConfig  `yaml:"motion"`
}

// MotionConfig controls motion detection and the idle frame rate.
// While no motion is seen for IdleTimeout the stream drops to the idle
// frame rate; motion restores the configured rate.
type MotionConfig struct {
	Enabled bool `yaml:"enabled"`
	// Threshold is the percentage of pixels that must change.
	Threshold float64 `yaml:"threshold_percent"`
	// Delta is the range change in millimetres that counts a pixel as changed.
	Delta       float64       `yaml:"delta_mm"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	IdleFPSMin  int           `yaml:"idle_fps_min"`
	IdleFPSMax  int           `yaml:"idle_fps_max"`
}

// SensorConfig describes one OpenCV-reachable sensor.
type SensorConfig struct {
	ID           string    `yaml:"id"`
	Device       string    `yaml:"device"`
	Backend      string    `yaml:"backend"`
	Facing       string    `yaml:"facing"`
	Capabilities []string  `yaml:"capabilities"`
	SensorWidth  float64   `yaml:"sensor_width_mm"`
	SensorHeight float64   `yaml:"sensor_height_mm"`
	FocalLengths []float64 `yaml:"focal_lengths_mm"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Addr      string `yaml:"addr"`
	StaticDir string `yaml:"static_dir"`
	// PreviewMaxRange is the range in millimetres shown as white in previews.
	PreviewMaxRange int `yaml:"preview_max_range"`
}

// StoreConfig contains session journal settings.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// MQTTConfig contains MQTT event publishing settings.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	TLS         bool   `yaml:"tls"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	QoS         int    `yaml:"qos"`
	TopicPrefix string `yaml:"topic_prefix"`
	// Encoding is "json" or "msgpack".
	Encoding string `yaml:"encoding"`
}

// InfluxDBConfig contains stream statistics export settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// ConsumersConfig contains external frame consumer settings.
type ConsumersConfig struct {
	Dir     string   `yaml:"dir"`
	Enabled []string `yaml:"enabled"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values
//  2. YAML file values, when path is not empty
//  3. Environment variables (DEPTHCAM_SECTION_KEY)
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	dataDir := "."
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".depthcam")
	}

	return &Config{
		Camera: CameraConfig{
			FPSMin:        capture.DefaultFPSMin,
			FPSMax:        capture.DefaultFPSMax,
			Width:         capture.DefaultWidth,
			Height:        capture.DefaultHeight,
			QueueDepth:    capture.DefaultQueueDepth,
			Rotation:      270,
			StatsInterval: 10 * time.Second,
			Motion: MotionConfig{
				Threshold:   capture.DefaultMotionThreshold,
				Delta:       capture.DefaultMotionDelta,
				IdleTimeout: 2 * time.Second,
				IdleFPSMin:  5,
				IdleFPSMax:  5,
			},
		},
		Server: ServerConfig{
			Addr:            ":8080",
			PreviewMaxRange: 4000,
		},
		Store: StoreConfig{
			Path: filepath.Join(dataDir, "depthcam.db"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		MQTT: MQTTConfig{
			Host:        "localhost",
			Port:        1883,
			ClientID:    "depthcam",
			QoS:         1,
			TopicPrefix: "depthcam",
			Encoding:    "json",
		},
		InfluxDB: InfluxDBConfig{
			URL:           "http://localhost:8086",
			Org:           "depthcam",
			Bucket:        "depthcam",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Consumers: ConsumersConfig{
			Dir: filepath.Join(dataDir, "consumers"),
		},
	}
}

// applyEnvOverrides applies DEPTHCAM_* environment variables.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("DEPTHCAM_CAMERA_SIMULATE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DEPTHCAM_CAMERA_SIMULATE: %w", err)
		}
		cfg.Camera.Simulate = b
	}
	if v := os.Getenv("DEPTHCAM_CAMERA_PERMISSION_DEVICE"); v != "" {
		cfg.Camera.PermissionDevice = v
	}
	if v := os.Getenv("DEPTHCAM_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("DEPTHCAM_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("DEPTHCAM_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DEPTHCAM_MQTT_HOST"); v != "" {
		cfg.MQTT.Host = v
	}
	if v := os.Getenv("DEPTHCAM_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("DEPTHCAM_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	if v := os.Getenv("DEPTHCAM_INFLUXDB_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if v := os.Getenv("DEPTHCAM_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Camera.FPSMin <= 0 || c.Camera.FPSMax < c.Camera.FPSMin {
		errs = append(errs, "camera.fps_min must be positive and not above camera.fps_max")
	}
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		errs = append(errs, "camera.width and camera.height must be positive")
	}
	if c.Camera.QueueDepth < 1 {
		errs = append(errs, "camera.queue_depth must be at least 1")
	}
	if m := c.Camera.Motion; m.Enabled {
		if m.IdleTimeout <= 0 {
			errs = append(errs, "camera.motion.idle_timeout must be positive")
		}
		if m.IdleFPSMin <= 0 || m.IdleFPSMax < m.IdleFPSMin {
			errs = append(errs, "camera.motion.idle_fps_min must be positive and not above camera.motion.idle_fps_max")
		}
	}
	if !c.Camera.Simulate && len(c.Camera.Sensors) == 0 {
		errs = append(errs, "camera.sensors is required unless camera.simulate is set")
	}
	for i, s := range c.Camera.Sensors {
		if s.ID == "" || s.Device == "" {
			errs = append(errs, fmt.Sprintf("camera.sensors[%d]: id and device are required", i))
		}
		if _, err := capture.ParseFacing(s.Facing); err != nil {
			errs = append(errs, fmt.Sprintf("camera.sensors[%d]: %v", i, err))
		}
	}

	if c.Store.Path == "" {
		errs = append(errs, "store.path is required")
	}

	if c.MQTT.Enabled {
		if c.MQTT.Port < 1 || c.MQTT.Port > 65535 {
			errs = append(errs, "mqtt.port must be between 1 and 65535")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
		if c.MQTT.Encoding != "json" && c.MQTT.Encoding != "msgpack" {
			errs = append(errs, "mqtt.encoding must be json or msgpack")
		}
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// FPSRange returns the configured frame-rate bound.
func (c CameraConfig) FPSRange() capture.FPSRange {
	return capture.FPSRange{Min: c.FPSMin, Max: c.FPSMax}
}

// IdleFPSRange returns the frame-rate bound used while the scene is still.
func (m MotionConfig) IdleFPSRange() capture.FPSRange {
	return capture.FPSRange{Min: m.IdleFPSMin, Max: m.IdleFPSMax}
}

// DeviceSpecs converts the sensor list for the OpenCV platform.
func (c CameraConfig) DeviceSpecs() []capture.DeviceSpec {
	specs := make([]capture.DeviceSpec, 0, len(c.Sensors))
	for _, s := range c.Sensors {
		facing, _ := capture.ParseFacing(s.Facing)
		caps := make([]capture.Capability, 0, len(s.Capabilities))
		for _, name := range s.Capabilities {
			caps = append(caps, capture.Capability(strings.ToUpper(name)))
		}
		specs = append(specs, capture.DeviceSpec{
			ID:           s.ID,
			Device:       s.Device,
			Backend:      s.Backend,
			Facing:       facing,
			Capabilities: caps,
			PhysicalSize: capture.SizeF{Width: s.SensorWidth, Height: s.SensorHeight},
			FocalLengths: s.FocalLengths,
		})
	}
	return specs
}

// FlushIntervalDuration returns the InfluxDB flush interval.
func (c InfluxDBConfig) FlushIntervalDuration() time.Duration {
	return time.Duration(c.FlushInterval) * time.Second
}
