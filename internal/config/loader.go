package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	ConfigFileName  = "config.yaml"
	ConfigDirName   = ".vrt"
	GlobalConfigDir = ".config/vrt"
)

// ErrNoConfig is returned when no config file exists in the project hierarchy
var ErrNoConfig = errors.New("no config file found")

// Loader handles configuration loading and discovery
type Loader struct {
	startDir string
	// explicit is a --config path that bypasses discovery
	explicit string
	getenv   func(string) string
}

// NewLoader creates a new config loader starting from the given directory
func NewLoader(startDir string) *Loader {
	if startDir == "" {
		var err error
		startDir, err = os.Getwd()
		if err != nil {
			startDir = "."
		}
	}

	return &Loader{
		startDir: startDir,
		getenv:   os.Getenv,
	}
}

// WithPath pins the loader to one config file
func (l *Loader) WithPath(path string) *Loader {
	l.explicit = path
	return l
}

// WithEnv replaces the environment lookup, mainly for tests
func (l *Loader) WithEnv(getenv func(string) string) *Loader {
	l.getenv = getenv
	return l
}

// Load loads the configuration with environment variable overrides
func (l *Loader) Load() (*Config, error) {
	configPath, err := l.findConfigFile()
	if err != nil {
		return nil, fmt.Errorf("failed to find config file: %w", err)
	}

	config, err := l.loadFromFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
	}

	if err := l.applyEnvOverrides(config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// findConfigFile searches upward from the start directory for a config file
func (l *Loader) findConfigFile() (string, error) {
	if l.explicit != "" {
		if _, err := os.Stat(l.explicit); err != nil {
			return "", fmt.Errorf("%w: %s", ErrNoConfig, l.explicit)
		}
		return l.explicit, nil
	}

	dir := l.startDir
	for {
		configPath := filepath.Join(dir, ConfigDirName, ConfigFileName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	homeDir, err := os.UserHomeDir()
	if err == nil {
		globalConfig := filepath.Join(homeDir, GlobalConfigDir, ConfigFileName)
		if _, err := os.Stat(globalConfig); err == nil {
			return globalConfig, nil
		}
	}

	return "", fmt.Errorf("%w (searched upward from %s)", ErrNoConfig, l.startDir)
}

// loadFromFile decodes YAML on top of DefaultConfig so omitted keys keep defaults
func (l *Loader) loadFromFile(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to the config
func (l *Loader) applyEnvOverrides(config *Config) error {
	if url := l.getenv("VRT_SERVER_URL"); url != "" {
		config.Server.URL = url
	}
	if model := l.getenv("VRT_LLM_MODEL"); model != "" {
		config.LLM.Model = model
	}

	// VRT_LLM_API_KEY wins; otherwise fall back to the vendor's standard variable
	if apiKey := l.getenv("VRT_LLM_API_KEY"); apiKey != "" {
		config.LLM.APIKey = apiKey
	} else if config.LLM.APIKey == "" {
		model := strings.ToLower(config.LLM.Model)
		switch {
		case strings.Contains(model, "claude"):
			config.LLM.APIKey = l.getenv("ANTHROPIC_API_KEY")
		default:
			config.LLM.APIKey = l.getenv("OPENAI_API_KEY")
		}
	}

	if raw := l.getenv("VRT_MAX_CONCURRENCY"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("VRT_MAX_CONCURRENCY must be an integer: %w", err)
		}
		config.Concurrency.MaxConcurrent = n
	}

	return nil
}

// Save saves the configuration to the specified path
func (l *Loader) Save(config *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetConfigPath returns the path where a config file should be created
func (l *Loader) GetConfigPath() string {
	return filepath.Join(l.startDir, ConfigDirName, ConfigFileName)
}

// IsInitialized checks if a config file exists in the project hierarchy
func (l *Loader) IsInitialized() bool {
	_, err := l.findConfigFile()
	return err == nil
}

// GetProjectRoot returns the directory containing the .vrt folder
func (l *Loader) GetProjectRoot() (string, error) {
	configPath, err := l.findConfigFile()
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(configPath)
	if filepath.Base(dir) == ConfigDirName {
		return filepath.Dir(dir), nil
	}
	if l.explicit != "" {
		return dir, nil
	}
	// global config: the project is where we started
	return l.startDir, nil
}
