package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultPort and TestingPort are the collector ports used when none is configured.
const (
	DefaultPort = 5600
	TestingPort = 5666
)


// Config holds all application configuration
type Config struct {
	// Collector connection
	Collector CollectorConfig `mapstructure:"collector"`

	// Window watcher behaviour
	Watcher WatcherConfig `mapstructure:"watcher"`

	// Transport spool
	Spool SpoolConfig `mapstructure:"spool"`

	// Daemon configuration
	Daemon DaemonConfig `mapstructure:"daemon"`

	// Logging
	Log LogConfig `mapstructure:"log"`
}

// CollectorConfig holds the collector endpoint and credentials
type CollectorConfig struct {
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	Token   string `mapstructure:"token"`
	Testing bool   `mapstructure:"testing"`
}

// WatcherConfig holds polling and privacy configuration
type WatcherConfig struct {
	Strategy      string   `mapstructure:"strategy"`
	PollTime      float64  `mapstructure:"poll_time"` // seconds
	ExcludeTitle  bool     `mapstructure:"exclude_title"`
	ExcludeTitles []string `mapstructure:"exclude_titles"`
	TeamID        int64    `mapstructure:"team_id"`
	BucketName    string   `mapstructure:"bucket_name"`
}

// SpoolConfig holds the on-disk heartbeat queue configuration
type SpoolConfig struct {
	Path      string `mapstructure:"path"` // Empty means ~/.local/share/focusbeat/spool.db
	MaxEvents int    `mapstructure:"max_events"`
}

// DaemonConfig holds daemon process configuration
type DaemonConfig struct {
	PIDFile string `mapstructure:"pid_file"` // Path to PID file for daemon management
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level   string `mapstructure:"level"`
	File    string `mapstructure:"file"`
	Verbose bool   `mapstructure:"verbose"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Collector: CollectorConfig{
			Host: "127.0.0.1",
			Port: DefaultPort,
		},
		Watcher: WatcherConfig{
			Strategy:   "auto",
			PollTime:   1.0,
			BucketName: "aw-watcher-window",
		},
		Spool: SpoolConfig{
			MaxEvents: 10000,
		},
		Daemon: DaemonConfig{
			PIDFile: fmt.Sprintf("/tmp/focusbeat-%d.pid", os.Getuid()),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if math.IsNaN(c.Watcher.PollTime) || math.IsInf(c.Watcher.PollTime, 0) || c.Watcher.PollTime <= 0 {
		return fmt.Errorf("poll time must be a positive number of seconds, got %v", c.Watcher.PollTime)
	}

	if c.Watcher.Strategy == "" {
		return fmt.Errorf("watcher strategy cannot be empty")
	}

	if c.Watcher.TeamID < 0 {
		return fmt.Errorf("team id cannot be negative, got %d", c.Watcher.TeamID)
	}

	if c.Collector.Port < 1 || c.Collector.Port > 65535 {
		return fmt.Errorf("collector port must be between 1 and 65535, got %d", c.Collector.Port)
	}

	if c.Collector.Host == "" {
		return fmt.Errorf("collector host cannot be empty")
	}

	if c.Spool.MaxEvents < 1 {
		return fmt.Errorf("spool max events must be positive, got %d", c.Spool.MaxEvents)
	}

	if c.Daemon.PIDFile == "" {
		return fmt.Errorf("PID file path cannot be empty")
	}

	return nil
}

// SetPollTime sets the poll interval in seconds with validation
func (c *Config) SetPollTime(seconds float64) error {
	if math.IsNaN(seconds) || seconds <= 0 {
		return fmt.Errorf("poll time must be positive, got %v", seconds)
	}
	c.Watcher.PollTime = seconds
	return nil
}

// SetTesting switches to the testing collector port unless a port was chosen explicitly.
func (c *Config) SetTesting(testing bool) {
	c.Collector.Testing = testing
	if testing && c.Collector.Port == DefaultPort {
		c.Collector.Port = TestingPort
	}
}

// PollInterval returns the poll time as a duration
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Watcher.PollTime * float64(time.Second))
}

// CollectorURL returns the base URL of the collector
func (c *Config) CollectorURL() string {
	host := c.Collector.Host
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return fmt.Sprintf("%s:%d", strings.TrimSuffix(host, "/"), c.Collector.Port)
	}
	return fmt.Sprintf("http://%s:%d", host, c.Collector.Port)
}

// SpoolPath returns the spool database path, resolving the default location
func (c *Config) SpoolPath() (string, error) {
	if c.Spool.Path != "" {
		return c.Spool.Path, nil
	}

	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".local", "share")
	}

	name := "spool.db"
	if c.Collector.Testing {
		name = "spool-testing.db"
	}
	return filepath.Join(dataDir, "focusbeat", name), nil
}

// String returns a string representation of the config. The token is masked.
func (c *Config) String() string {
	token := "(none)"
	if c.Collector.Token != "" {
		token = "****"
	}

	return fmt.Sprintf(`Configuration:
  Collector:
    URL: %s
    Token: %s
    Testing: %v
  Watcher:
    Strategy: %s
    Poll Time: %vs
    Team ID: %d
    Exclude Title: %v
    Exclude Titles: %v
  Spool:
    Path: %s
    Max Events: %d
  Daemon:
    PID File: %s
  Log:
    Level: %s
    File: %s`,
		c.CollectorURL(),
		token,
		c.Collector.Testing,
		c.Watcher.Strategy,
		c.Watcher.PollTime,
		c.Watcher.TeamID,
		c.Watcher.ExcludeTitle,
		c.Watcher.ExcludeTitles,
		c.Spool.Path,
		c.Spool.MaxEvents,
		c.Daemon.PIDFile,
		c.Log.Level,
		c.Log.File,
	)
}
