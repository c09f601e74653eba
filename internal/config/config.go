// Package config loads and saves macroctl settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g.
// MACROCTL_EXECUTOR_URL.
const EnvPrefix = "MACROCTL"

// Config represents the application configuration
type Config struct {
	Executor  ExecutorConfig  `mapstructure:"executor" json:"executor"`
	Editor    EditorConfig    `mapstructure:"editor" json:"editor"`
	Hotkeys   HotkeyConfig    `mapstructure:"hotkeys" json:"hotkeys"`
	Simulator SimulatorConfig `mapstructure:"simulator" json:"simulator"`
	Log       LogConfig       `mapstructure:"log" json:"log"`
}

// ExecutorConfig describes how to reach the executor.
type ExecutorConfig struct {
	// URL is the executor websocket endpoint.
	URL string `mapstructure:"url" json:"url" validate:"required,url"`

	// ReconnectDelay is the fixed wait between connection attempts.
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay" json:"reconnect_delay" validate:"gt=0"`

	// SettleDelay is how long after connecting to request steps and
	// random timing.
	SettleDelay time.Duration `mapstructure:"settle_delay" json:"settle_delay" validate:"gte=0"`

	WriteTimeout time.Duration `mapstructure:"write_timeout" json:"write_timeout" validate:"gt=0"`
	PingInterval time.Duration `mapstructure:"ping_interval" json:"ping_interval" validate:"gt=0"`

	// Token is sent as a bearer token when set.
	Token string `mapstructure:"token" json:"token,omitempty"`
}

// EditorConfig holds step editing defaults.
type EditorConfig struct {
	// DefaultWaitTime is merged into new steps, in seconds.
	DefaultWaitTime  float64 `mapstructure:"default_wait_time" json:"default_wait_time" validate:"gte=0"`
	DefaultRandomize bool    `mapstructure:"default_randomize" json:"default_randomize"`

	// LoopCount is the default run repeat count; -1 repeats until stopped.
	LoopCount int `mapstructure:"loop_count" json:"loop_count" validate:"gte=-1,ne=0"`

	// NestedGroups expands groups inside groups when flattening.
	NestedGroups bool `mapstructure:"nested_groups" json:"nested_groups"`

	// StepsFile is the default document for save and load.
	StepsFile string `mapstructure:"steps_file" json:"steps_file"`
}

// HotkeyConfig binds console keys to editor actions.
type HotkeyConfig struct {
	CapturePosition string `mapstructure:"capture_position" json:"capture_position" validate:"required"`
	ToggleRecording string `mapstructure:"toggle_recording" json:"toggle_recording" validate:"required"`
	ClickLeft       string `mapstructure:"click_left" json:"click_left" validate:"required"`
	ClickMiddle     string `mapstructure:"click_middle" json:"click_middle" validate:"required"`
	ClickRight      string `mapstructure:"click_right" json:"click_right" validate:"required"`
}

// SimulatorConfig configures the built-in simulated executor.
type SimulatorConfig struct {
	Addr string `mapstructure:"addr" json:"addr" validate:"required,hostname_port"`

	// TimeScale multiplies every step wait during simulated runs.
	TimeScale float64 `mapstructure:"time_scale" json:"time_scale" validate:"gt=0"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `mapstructure:"level" json:"level" validate:"oneof=debug info warn error"`
}

// DefaultConfig returns a new Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Executor: ExecutorConfig{
			URL:            "ws://localhost:5000/ws",
			ReconnectDelay: 3 * time.Second,
			SettleDelay:    500 * time.Millisecond,
			WriteTimeout:   10 * time.Second,
			PingInterval:   30 * time.Second,
		},
		Editor: EditorConfig{
			DefaultWaitTime: 1.0,
			LoopCount:       1,
			StepsFile:       "steps.json",
		},
		Hotkeys: HotkeyConfig{
			CapturePosition: "F6",
			ToggleRecording: "F9",
			ClickLeft:       "F1",
			ClickMiddle:     "F2",
			ClickRight:      "F3",
		},
		Simulator: SimulatorConfig{
			Addr:      "127.0.0.1:5000",
			TimeScale: 1,
		},
		Log: LogConfig{Level: "info"},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks c against its field rules.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// DefaultPath returns the configuration file location. MACROCTL_CONFIG
// takes precedence over the per-user config directory.
func DefaultPath() (string, error) {
	if p := os.Getenv(EnvPrefix + "_CONFIG"); p != "" {
		return p, nil
	}

	var configDir string
	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, "Library", "Application Support", "macroctl")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		configDir = filepath.Join(appData, "macroctl")
	default:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, ".config", "macroctl")
	}
	return filepath.Join(configDir, "config.json"), nil
}

func newViper() *viper.Viper {
	v := viper.New()
	d := DefaultConfig()

	v.SetDefault("executor.url", d.Executor.URL)
	v.SetDefault("executor.reconnect_delay", d.Executor.ReconnectDelay)
	v.SetDefault("executor.settle_delay", d.Executor.SettleDelay)
	v.SetDefault("executor.write_timeout", d.Executor.WriteTimeout)
	v.SetDefault("executor.ping_interval", d.Executor.PingInterval)
	v.SetDefault("executor.token", d.Executor.Token)
	v.SetDefault("editor.default_wait_time", d.Editor.DefaultWaitTime)
	v.SetDefault("editor.default_randomize", d.Editor.DefaultRandomize)
	v.SetDefault("editor.loop_count", d.Editor.LoopCount)
	v.SetDefault("editor.nested_groups", d.Editor.NestedGroups)
	v.SetDefault("editor.steps_file", d.Editor.StepsFile)
	v.SetDefault("hotkeys.capture_position", d.Hotkeys.CapturePosition)
	v.SetDefault("hotkeys.toggle_recording", d.Hotkeys.ToggleRecording)
	v.SetDefault("hotkeys.click_left", d.Hotkeys.ClickLeft)
	v.SetDefault("hotkeys.click_middle", d.Hotkeys.ClickMiddle)
	v.SetDefault("hotkeys.click_right", d.Hotkeys.ClickRight)
	v.SetDefault("simulator.addr", d.Simulator.Addr)
	v.SetDefault("simulator.time_scale", d.Simulator.TimeScale)
	v.SetDefault("log.level", d.Log.Level)

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return v
}

// Load reads configuration from path and the environment. A missing file
// yields the defaults plus any environment overrides.
func Load(path string) (Config, error) {
	v := newViper()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, err
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Write saves c to path, creating the directory if needed. The format
// follows the extension (json, yaml or toml).
func Write(path string, c Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}

	v := viper.New()
	v.Set("executor.url", c.Executor.URL)
	v.Set("executor.reconnect_delay", c.Executor.ReconnectDelay.String())
	v.Set("executor.settle_delay", c.Executor.SettleDelay.String())
	v.Set("executor.write_timeout", c.Executor.WriteTimeout.String())
	v.Set("executor.ping_interval", c.Executor.PingInterval.String())
	v.Set("executor.token", c.Executor.Token)
	v.Set("editor.default_wait_time", c.Editor.DefaultWaitTime)
	v.Set("editor.default_randomize", c.Editor.DefaultRandomize)
	v.Set("editor.loop_count", c.Editor.LoopCount)
	v.Set("editor.nested_groups", c.Editor.NestedGroups)
	v.Set("editor.steps_file", c.Editor.StepsFile)
	v.Set("hotkeys.capture_position", c.Hotkeys.CapturePosition)
	v.Set("hotkeys.toggle_recording", c.Hotkeys.ToggleRecording)
	v.Set("hotkeys.click_left", c.Hotkeys.ClickLeft)
	v.Set("hotkeys.click_middle", c.Hotkeys.ClickMiddle)
	v.Set("hotkeys.click_right", c.Hotkeys.ClickRight)
	v.Set("simulator.addr", c.Simulator.Addr)
	v.Set("simulator.time_scale", c.Simulator.TimeScale)
	v.Set("log.level", c.Log.Level)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Manager handles loading and saving configuration
type Manager struct {
	mu         sync.Mutex
	configPath string
	config     Config
	onChanged  []func(Config)
}

// NewManager creates a manager for the file at path. An empty path uses
// DefaultPath.
func NewManager(path string) (*Manager, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	return &Manager{
		configPath: path,
		config:     DefaultConfig(),
	}, nil
}

// Path returns the backing file.
func (m *Manager) Path() string {
	return m.configPath
}

// Load reads the configuration from disk
func (m *Manager) Load() error {
	c, err := Load(m.configPath)
	if err != nil {
		return err
	}
	m.set(c)
	return nil
}

// Save writes the configuration to disk
func (m *Manager) Save() error {
	return Write(m.configPath, m.Get())
}

// Get returns the current configuration
func (m *Manager) Get() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config
}

// Set validates and replaces the configuration
func (m *Manager) Set(c Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	m.set(c)
	return nil
}

// Update applies fn to a copy of the configuration and stores the result
// if it is valid.
func (m *Manager) Update(fn func(*Config)) error {
	c := m.Get()
	fn(&c)
	return m.Set(c)
}

func (m *Manager) set(c Config) {
	m.mu.Lock()
	m.config = c
	callbacks := slices.Clone(m.onChanged)
	m.mu.Unlock()

	for _, fn := range callbacks {
		fn(c)
	}
}

// RegisterChangeCallback registers a function to be called when config changes
func (m *Manager) RegisterChangeCallback(fn func(Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChanged = append(m.onChanged, fn)
}
