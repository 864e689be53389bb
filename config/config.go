package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
)

//go:embed sdrtool.toml
var defaultConfigData []byte

// Global state for the selected receiver
var (
	DeviceName string
	Debug      bool
	Selected   Device
)

// Config represents the entire TOML configuration structure
type Config struct {
	Default string   `toml:"default"`
	Debug   bool     `toml:"debug"`
	Device  []Device `toml:"device"`
}

// Device represents one receiver configuration
type Device struct {
	Name            string `toml:"name"`
	Backend         string `toml:"backend"`
	Frequency       int64  `toml:"frequency"`
	SampleRate      int    `toml:"sample_rate"`
	Gain            int    `toml:"gain"`
	AGC             bool   `toml:"agc"`
	VCTCXOTrim      uint16 `toml:"vctcxo_trim"`
	FirstGeneration bool   `toml:"first_generation"`
	DumpMessages    bool   `toml:"dump_messages"`
	QueueSize       int    `toml:"queue_size"`
	Serial          string `toml:"serial"`
}

// Backends accepted in the backend field.
var Backends = []string{"bladerf"}

// configPath determines the config file path based on the operating system
func configPath() (string, error) {
	var configDir string
	var err error

	switch runtime.GOOS {
	case "windows":
		configDir, err = os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine user config directory: %w", err)
		}
		configDir = filepath.Join(configDir, "sdrtool")
	default:
		configDir, err = os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine user home directory: %w", err)
		}
	}

	return filepath.Join(configDir, ".sdrtool"), nil
}

// Initialize loads and validates the configuration file.
// If the config file doesn't exist, it creates it from the embedded default.
func Initialize() error {
	configPath, err := configPath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		configDir := filepath.Dir(configPath)
		if err := os.MkdirAll(configDir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
		}
		if err := os.WriteFile(configPath, defaultConfigData, 0644); err != nil {
			return fmt.Errorf("failed to create default config file at %s: %w", configPath, err)
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config at %s: %w", configPath, err)
	}

	conf, dev, err := Parse(data)
	if err != nil {
		return fmt.Errorf("%s: %w", configPath, err)
	}

	DeviceName = conf.Default
	Debug = conf.Debug
	Selected = *dev
	return nil
}

// Parse decodes a configuration and returns it together with the
// validated default device.
func Parse(data []byte) (*Config, *Device, error) {
	var conf Config
	if _, err := toml.Decode(string(data), &conf); err != nil {
		return nil, nil, fmt.Errorf("failed to parse TOML config: %w", err)
	}

	if conf.Default == "" {
		return nil, nil, errors.New("`default` key is missing or empty in config")
	}

	var found *Device
	for i := range conf.Device {
		if conf.Device[i].Name == conf.Default {
			found = &conf.Device[i]
			break
		}
	}
	if found == nil {
		return nil, nil, fmt.Errorf("default device %q not found in device array", conf.Default)
	}

	if err := found.validate(); err != nil {
		return nil, nil, err
	}
	return &conf, found, nil
}

func (d *Device) validate() error {
	known := false
	for _, b := range Backends {
		if d.Backend == b {
			known = true
		}
	}
	if !known {
		return fmt.Errorf("device %q has unknown backend %q", d.Name, d.Backend)
	}
	if d.Frequency <= 0 {
		return fmt.Errorf("device %q has invalid frequency: %d (must be positive)", d.Name, d.Frequency)
	}
	if d.SampleRate <= 0 {
		return fmt.Errorf("device %q has invalid sample_rate: %d (must be positive)", d.Name, d.SampleRate)
	}
	if d.QueueSize <= 0 {
		return fmt.Errorf("device %q has invalid queue_size: %d (must be positive)", d.Name, d.QueueSize)
	}
	return nil
}
