// Package config loads the stereopiano configuration file.
//
// The file is a single JSON object. Fields omitted from the file keep the
// values from Default, so partial configs are safe.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// maxFileSize caps the size of a configuration file.
const maxFileSize = 1 * 1024 * 1024

// Config is the root configuration. It is built once at startup and passed by
// value to the components that need it.
type Config struct {
	CalibrationPath string `json:"calibration_path"`
	DataDir         string `json:"data_dir"`
	PluginDir       string `json:"plugin_dir"`
	ListenAddr      string `json:"listen_addr"`
	TargetFPS       int    `json:"target_fps"`

	Camera   Camera   `json:"camera"`
	Detector Detector `json:"detector"`
	Stereo   Stereo   `json:"stereo"`
	Keyboard Keyboard `json:"keyboard"`
	Pipeline Pipeline `json:"pipeline"`
	Tracking Tracking `json:"tracking"`
	MQTT     MQTT     `json:"mqtt"`
	Plugins  Plugins  `json:"plugins"`
}

// Camera selects the two capture devices.
type Camera struct {
	LeftID  int `json:"left_id"`
	RightID int `json:"right_id"`
	Width   int `json:"width"`
	Height  int `json:"height"`
	// UseCalibrationIDs prefers the device ids stored in the calibration record.
	UseCalibrationIDs bool `json:"use_calibration_ids"`
	// IdleFPS is the capture rate while nothing moves over the keyboard.
	// Zero keeps the cameras at TargetFPS.
	IdleFPS int `json:"idle_fps"`
	// MotionThreshold is the percentage of keyboard pixels that must change
	// to leave idle mode.
	MotionThreshold float64 `json:"motion_threshold"`
	// IdleAfter is how long, in seconds, the keyboard must stay still before
	// dropping to IdleFPS.
	IdleAfter float64 `json:"idle_after"`
}

// Detector configures fingertip detection.
type Detector struct {
	MaxHands        int     `json:"max_hands"`
	MinConfidence   float64 `json:"min_confidence"`
	MinTrackingConf float64 `json:"min_tracking_confidence"`
	// Mock replaces the MediaPipe subprocess with a scripted detector.
	Mock bool `json:"mock"`
}

// Stereo configures rectification of sparse points.
type Stereo struct {
	// BilinearPoints interpolates rectified fingertip coordinates instead of
	// truncating to the nearest table entry.
	BilinearPoints bool `json:"bilinear_points"`
}

// Keyboard configures the virtual keyboard layout.
type Keyboard struct {
	WhiteKeys int `json:"white_keys"`
}

// Pipeline holds per-stage enable flags and parameters.
type Pipeline struct {
	Debounce  Debounce  `json:"debounce"`
	Smoothing Smoothing `json:"smoothing"`
	Spatial   Spatial   `json:"spatial"`
	Chord     Chord     `json:"chord"`
}

type Debounce struct {
	Enabled      bool    `json:"enabled"`
	DebounceTime float64 `json:"debounce_time"`
}

type Smoothing struct {
	Enabled bool `json:"enabled"`
	Window  int  `json:"smoothing_window"`
}

type Spatial struct {
	Enabled               bool    `json:"enabled"`
	MinFingerDistance     float64 `json:"min_finger_distance"`
	AdjacentKeysThreshold int     `json:"adjacent_keys_threshold"`
}

type Chord struct {
	Enabled            bool    `json:"enabled"`
	SimultaneousWindow float64 `json:"simultaneous_window"`
}

// Tracking configures press/release detection.
type Tracking struct {
	// ReleaseAfter is how long, in seconds, a held key may go unseen before
	// a release is emitted.
	ReleaseAfter float64 `json:"release_after"`
}

// MQTT configures the key event publisher.
type MQTT struct {
	Enabled     bool   `json:"enabled"`
	Broker      string `json:"broker"`
	ClientID    string `json:"client_id"`
	TopicPrefix string `json:"topic_prefix"`
	QoS         byte   `json:"qos"`
}

// Plugins configures output plugin execution.
type Plugins struct {
	Enabled   bool `json:"enabled"`
	TimeoutMs int  `json:"timeout_ms"`
	// Broadcast names plugins that receive every key event in addition to
	// the stored bindings.
	Broadcast []string `json:"broadcast"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		CalibrationPath: "calibration.json",
		DataDir:         defaultDataDir(),
		PluginDir:       "plugins",
		ListenAddr:      ":8080",
		TargetFPS:       30,
		Camera: Camera{
			LeftID:          0,
			RightID:         1,
			Width:           640,
			Height:          480,
			IdleFPS:         5,
			MotionThreshold: 0.5,
			IdleAfter:       10,
		},
		Detector: Detector{
			MaxHands:        2,
			MinConfidence:   0.5,
			MinTrackingConf: 0.5,
		},
		Keyboard: Keyboard{WhiteKeys: 8},
		Pipeline: Pipeline{
			Debounce:  Debounce{Enabled: true, DebounceTime: 0.05},
			Smoothing: Smoothing{Enabled: true, Window: 7},
			Spatial:   Spatial{Enabled: true, MinFingerDistance: 35, AdjacentKeysThreshold: 2},
			Chord:     Chord{Enabled: true, SimultaneousWindow: 0.05},
		},
		Tracking: Tracking{ReleaseAfter: 0.1},
		MQTT: MQTT{
			Broker:      "tcp://localhost:1883",
			ClientID:    "stereopiano",
			TopicPrefix: "stereopiano/",
		},
		Plugins: Plugins{Enabled: true, TimeoutMs: 5000},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".stereopiano"
	}
	return filepath.Join(home, ".stereopiano")
}

// Load reads the JSON file at path over the defaults and validates the result.
func Load(path string) (Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return Config{}, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return Config{}, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return Config{}, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are usable.
func (c Config) Validate() error {
	if c.CalibrationPath == "" {
		return fmt.Errorf("calibration_path must be set")
	}
	if c.TargetFPS <= 0 || c.TargetFPS > 240 {
		return fmt.Errorf("target_fps must be between 1 and 240, got %d", c.TargetFPS)
	}
	if c.Camera.LeftID == c.Camera.RightID && !c.Camera.UseCalibrationIDs {
		return fmt.Errorf("camera left_id and right_id must differ, both are %d", c.Camera.LeftID)
	}
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return fmt.Errorf("camera resolution must be positive, got %dx%d", c.Camera.Width, c.Camera.Height)
	}
	if c.Camera.IdleFPS < 0 || c.Camera.IdleFPS > c.TargetFPS {
		return fmt.Errorf("camera idle_fps must be between 0 and target_fps, got %d", c.Camera.IdleFPS)
	}
	if c.Camera.MotionThreshold < 0 || c.Camera.IdleAfter < 0 {
		return fmt.Errorf("camera motion_threshold and idle_after must be non-negative")
	}
	if c.Keyboard.WhiteKeys < 1 {
		return fmt.Errorf("keyboard white_keys must be positive, got %d", c.Keyboard.WhiteKeys)
	}
	if err := c.Pipeline.Validate(); err != nil {
		return err
	}
	if c.Tracking.ReleaseAfter < 0 {
		return fmt.Errorf("release_after must be non-negative, got %f", c.Tracking.ReleaseAfter)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt broker must be set when mqtt is enabled")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	if c.Plugins.TimeoutMs < 0 {
		return fmt.Errorf("plugins timeout_ms must be non-negative, got %d", c.Plugins.TimeoutMs)
	}
	return nil
}

// Validate checks stage parameters.
func (p Pipeline) Validate() error {
	if p.Debounce.DebounceTime < 0 {
		return fmt.Errorf("debounce_time must be non-negative, got %f", p.Debounce.DebounceTime)
	}
	if p.Smoothing.Window < 1 {
		return fmt.Errorf("smoothing_window must be at least 1, got %d", p.Smoothing.Window)
	}
	if p.Spatial.MinFingerDistance < 0 {
		return fmt.Errorf("min_finger_distance must be non-negative, got %f", p.Spatial.MinFingerDistance)
	}
	if p.Spatial.AdjacentKeysThreshold < 0 {
		return fmt.Errorf("adjacent_keys_threshold must be non-negative, got %d", p.Spatial.AdjacentKeysThreshold)
	}
	if p.Chord.SimultaneousWindow < 0 {
		return fmt.Errorf("simultaneous_window must be non-negative, got %f", p.Chord.SimultaneousWindow)
	}
	return nil
}

// FrameInterval returns the pipeline tick derived from TargetFPS.
func (c Config) FrameInterval() time.Duration {
	return time.Second / time.Duration(c.TargetFPS)
}

// PluginTimeout returns the plugin execution timeout.
func (c Config) PluginTimeout() time.Duration {
	return time.Duration(c.Plugins.TimeoutMs) * time.Millisecond
}

// DatabasePath returns the SQLite file inside DataDir.
func (c Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "stereopiano.db")
}
