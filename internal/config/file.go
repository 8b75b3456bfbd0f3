package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Load builds the configuration from defaults, the first config file found
// and the environment, in increasing precedence.
//
// Config file search order (highest precedence first):
//  1. ./focusbeat.yaml (or .yml, .toml, .json)
//  2. $XDG_CONFIG_HOME/focusbeat/config.yaml (or ~/.config/focusbeat/config.yaml)
//  3. /etc/focusbeat/config.yaml
func Load() (*Config, error) {
	cfg := Default()

	if path := findConfigFile(); path != "" {
		if err := readFile(path, cfg); err != nil {
			return nil, err
		}
	}

	LoadFromEnv(cfg)
	return cfg, nil
}

// LoadFromFile loads configuration from a specific file, then the environment
func LoadFromFile(path string) (*Config, error) {
	cfg := Default()
	if err := readFile(path, cfg); err != nil {
		return nil, err
	}

	LoadFromEnv(cfg)
	return cfg, nil
}

// ConfigFile returns the path to the config file that would be loaded
func ConfigFile() string {
	return findConfigFile()
}

func readFile(path string, cfg *Config) error {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to decode config file %s: %w", path, err)
	}

	// A testing flag in the file selects the testing port like the CLI flag does
	cfg.SetTesting(cfg.Collector.Testing)
	return nil
}

type searchPath struct {
	dir   string
	names []string
}

func findConfigFile() string {
	configNames := []string{"config.yaml", "config.yml", "config.toml", "config.json"}

	var paths []searchPath
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, searchPath{cwd, []string{"focusbeat.yaml", "focusbeat.yml", "focusbeat.toml", "focusbeat.json"}})
	}
	if configDir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, searchPath{filepath.Join(configDir, "focusbeat"), configNames})
	}
	paths = append(paths, searchPath{"/etc/focusbeat", configNames})

	for _, sp := range paths {
		for _, name := range sp.names {
			path := filepath.Join(sp.dir, name)
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				return path
			}
		}
	}

	return ""
}
