package config

import (
	"os"
	"strconv"
	"strings"
)

// LoadFromEnv loads configuration from environment variables
// Environment variables override default and file values
func LoadFromEnv(cfg *Config) {
	// Collector configuration
	if host := os.Getenv("FOCUSBEAT_HOST"); host != "" {
		cfg.Collector.Host = host
	}

	if port := os.Getenv("FOCUSBEAT_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil && p > 0 && p <= 65535 {
			cfg.Collector.Port = p
		}
	}

	if token := os.Getenv("FOCUSBEAT_TOKEN"); token != "" {
		cfg.Collector.Token = token
	}

	if testing := os.Getenv("FOCUSBEAT_TESTING"); testing != "" {
		if val, err := strconv.ParseBool(testing); err == nil {
			cfg.SetTesting(val)
		}
	}

	// Watcher configuration
	if strategy := os.Getenv("FOCUSBEAT_STRATEGY"); strategy != "" {
		cfg.Watcher.Strategy = strategy
	}

	if pollTime := os.Getenv("FOCUSBEAT_POLL_TIME"); pollTime != "" {
		if seconds, err := strconv.ParseFloat(pollTime, 64); err == nil && seconds > 0 {
			cfg.Watcher.PollTime = seconds
		}
	}

	if excludeTitle := os.Getenv("FOCUSBEAT_EXCLUDE_TITLE"); excludeTitle != "" {
		if val, err := strconv.ParseBool(excludeTitle); err == nil {
			cfg.Watcher.ExcludeTitle = val
		}
	}

	// Comma separated; patterns containing commas belong in the config file
	if titles := os.Getenv("FOCUSBEAT_EXCLUDE_TITLES"); titles != "" {
		cfg.Watcher.ExcludeTitles = splitList(titles)
	}

	if teamID := os.Getenv("FOCUSBEAT_TEAM_ID"); teamID != "" {
		if id, err := strconv.ParseInt(teamID, 10, 64); err == nil && id >= 0 {
			cfg.Watcher.TeamID = id
		}
	}

	// Spool configuration
	if spoolPath := os.Getenv("FOCUSBEAT_SPOOL_PATH"); spoolPath != "" {
		cfg.Spool.Path = spoolPath
	}

	// Daemon configuration
	if pidFile := os.Getenv("FOCUSBEAT_PID_FILE"); pidFile != "" {
		cfg.Daemon.PIDFile = pidFile
	}

	// LOG_LEVEL is honoured for compatibility with existing deployments
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Log.Level = strings.ToLower(level)
	}
	if level := os.Getenv("FOCUSBEAT_LOG_LEVEL"); level != "" {
		cfg.Log.Level = strings.ToLower(level)
	}

	if logFile := os.Getenv("FOCUSBEAT_LOG_FILE"); logFile != "" {
		cfg.Log.File = logFile
	}
}

// New creates a new Config with default values and loads from environment
func New() *Config {
	cfg := Default()
	LoadFromEnv(cfg)
	return cfg
}

// splitList splits a comma separated value, dropping empty fields left by
// stray or trailing commas.
func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}
