package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bryanchriswhite/snapmark/internal/logger"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. SNAPMARK_SERVER_PORT.
const EnvPrefix = "SNAPMARK"

// Config is the persisted application configuration
type Config struct {
	ServerPort  int             `json:"server_port" yaml:"server_port" mapstructure:"server_port"`
	LogLevel    string          `json:"log_level" yaml:"log_level" mapstructure:"log_level"`
	Preferences Preferences     `json:"preferences" yaml:"preferences" mapstructure:"preferences"`
	Capture     CaptureConfig   `json:"capture" yaml:"capture" mapstructure:"capture"`
	Stream      StreamConfig    `json:"stream" yaml:"stream" mapstructure:"stream"`
	Recording   RecordingConfig `json:"recording" yaml:"recording" mapstructure:"recording"`
	Export      ExportConfig    `json:"export" yaml:"export" mapstructure:"export"`
	Hotkey      HotkeyConfig    `json:"hotkey" yaml:"hotkey" mapstructure:"hotkey"`
}

// Preferences are the user's export preferences.
type Preferences struct {
	// SaveDirectory is where auto-saved exports go; empty means ask.
	SaveDirectory string `json:"save_directory" yaml:"save_directory" mapstructure:"save_directory"`
	AutoSave      bool   `json:"auto_save" yaml:"auto_save" mapstructure:"auto_save"`
}

// CaptureConfig selects the capture backend
type CaptureConfig struct {
	// Backend is auto, x11 or portal
	Backend       string `json:"backend" yaml:"backend" mapstructure:"backend"`
	MinWindowSize int    `json:"min_window_size" yaml:"min_window_size" mapstructure:"min_window_size"`
}

// StreamConfig configures the live MJPEG preview
type StreamConfig struct {
	FPS         int `json:"fps" yaml:"fps" mapstructure:"fps"`
	JPEGQuality int `json:"jpeg_quality" yaml:"jpeg_quality" mapstructure:"jpeg_quality"`
}

// RecordingConfig configures the gst-launch encoder
type RecordingConfig struct {
	Encoder   string `json:"encoder" yaml:"encoder" mapstructure:"encoder"`
	ChunkSize int    `json:"chunk_size" yaml:"chunk_size" mapstructure:"chunk_size"`
	FPS       int    `json:"fps" yaml:"fps" mapstructure:"fps"`
	Portal    bool   `json:"portal" yaml:"portal" mapstructure:"portal"`
}

// ExportConfig selects where exports are written and how the user is asked
type ExportConfig struct {
	// Backend is file or s3
	Backend string `json:"backend" yaml:"backend" mapstructure:"backend"`
	// Chooser is portal or terminal
	Chooser string   `json:"chooser" yaml:"chooser" mapstructure:"chooser"`
	S3      S3Config `json:"s3" yaml:"s3" mapstructure:"s3"`
}

// S3Config describes the object store used by the s3 export backend.
// Credentials fall back to the AWS default chain when the keys are empty.
type S3Config struct {
	Bucket          string `json:"bucket" yaml:"bucket" mapstructure:"bucket"`
	Region          string `json:"region" yaml:"region" mapstructure:"region"`
	Prefix          string `json:"prefix" yaml:"prefix" mapstructure:"prefix"`
	Endpoint        string `json:"endpoint,omitempty" yaml:"endpoint,omitempty" mapstructure:"endpoint"`
	AccessKeyID     string `json:"-" yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `json:"-" yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
}

// HotkeyConfig binds the capture-at-cursor shortcut
type HotkeyConfig struct {
	Enabled   bool     `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Modifiers []string `json:"modifiers" yaml:"modifiers" mapstructure:"modifiers"`
	Key       string   `json:"key" yaml:"key" mapstructure:"key"`
}

// Manager handles configuration
type Manager struct {
	configPath string
	config     *Config
	mu         sync.RWMutex
}

// NewManager creates a new configuration manager
func NewManager(configFile string) (*Manager, error) {
	actualConfigPath := configFile
	if actualConfigPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		actualConfigPath = filepath.Join(homeDir, ".config", "snapmark", "config.yaml")
	}

	if err := os.MkdirAll(filepath.Dir(actualConfigPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	m := &Manager{
		configPath: actualConfigPath,
	}

	if err := m.load(); err != nil {
		if os.IsNotExist(err) {
			logger.WithComponent("config").Info().
				Str("path", m.configPath).
				Msg("Config file not found, creating new config")
			m.config = Defaults()
			if err := m.Save(); err != nil {
				return nil, fmt.Errorf("failed to create default config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Bool("auto_save", m.config.Preferences.AutoSave).
		Msg("Config loaded")

	return m, nil
}

// Defaults returns the built-in configuration
func Defaults() *Config {
	return &Config{
		ServerPort: 8080,
		LogLevel:   "info",
		Capture: CaptureConfig{
			Backend:       "auto",
			MinWindowSize: 50,
		},
		Stream: StreamConfig{
			FPS:         30,
			JPEGQuality: 90,
		},
		Recording: RecordingConfig{
			Encoder:   "vp8",
			ChunkSize: 64 * 1024,
			FPS:       30,
		},
		Export: ExportConfig{
			Backend: "file",
			Chooser: "portal",
		},
		Hotkey: HotkeyConfig{
			Enabled:   false,
			Modifiers: []string{"ctrl", "shift"},
			Key:       "f11",
		},
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// load reads the file over the defaults, applying SNAPMARK_* overrides.
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	v := newViper()
	if err := readInto(v, Defaults()); err != nil {
		return err
	}
	if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.Hotkey.Modifiers == nil {
		cfg.Hotkey.Modifiers = []string{}
	}

	m.mu.Lock()
	m.config = &cfg
	m.mu.Unlock()
	return nil
}

func readInto(v *viper.Viper, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to load config into viper: %w", err)
	}
	return nil
}

// GetViper returns a viper view of the current configuration for key-based
// access. Changes made through it are persisted with Apply.
func (m *Manager) GetViper() *viper.Viper {
	v := newViper()
	if err := readInto(v, m.Get()); err != nil {
		logger.WithComponent("config").Warn().Err(err).Msg("Failed to build viper view")
	}
	return v
}

// Apply decodes v back into the configuration and saves it.
func (m *Manager) Apply(v *viper.Viper) error {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	return m.Update(&cfg)
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return Defaults()
	}

	cfg := *m.config
	cfg.Hotkey.Modifiers = append([]string(nil), m.config.Hotkey.Modifiers...)
	return &cfg
}

// Save writes the configuration to disk
func (m *Manager) Save() error {
	m.mu.RLock()
	cfg := m.config
	m.mu.RUnlock()

	if cfg == nil {
		cfg = Defaults()
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Saving config")

	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("config_dir", configDir).
			Msg("Failed to create config directory")
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Msg("Failed to marshal config")
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Credentials may be present
	if err := os.WriteFile(m.configPath, data, 0600); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return err
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Msg("Config saved successfully")
	return nil
}

// Update replaces the configuration and saves it
func (m *Manager) Update(cfg *Config) error {
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return m.Save()
}

// Preferences returns the export preferences
func (m *Manager) Preferences() Preferences {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.config == nil {
		return Preferences{}
	}
	return m.config.Preferences
}

// SetPreferences stores and persists the export preferences
func (m *Manager) SetPreferences(p Preferences) error {
	m.mu.Lock()
	if m.config == nil {
		m.config = Defaults()
	}
	m.config.Preferences = p
	m.mu.Unlock()
	return m.Save()
}

// SetPort sets the server port
func (m *Manager) SetPort(port int) error {
	m.mu.Lock()
	m.config.ServerPort = port
	m.mu.Unlock()
	return m.Save()
}

// GetPort gets the server port
func (m *Manager) GetPort() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.ServerPort
}

// SetLogLevel sets the log level
func (m *Manager) SetLogLevel(level string) error {
	m.mu.Lock()
	m.config.LogLevel = level
	m.mu.Unlock()
	return m.Save()
}

// GetLogLevel gets the log level
func (m *Manager) GetLogLevel() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.LogLevel
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// GetConfigDir returns the config directory path
func (m *Manager) GetConfigDir() string {
	return filepath.Dir(m.configPath)
}
