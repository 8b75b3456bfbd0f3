package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"

	"github.com/actionsum/focusbeat/internal/config"
	"github.com/actionsum/focusbeat/internal/logging"
	"github.com/actionsum/focusbeat/pkg/integrations/x11"
)

var (
	version = "0.1.0"
	commit  = "unknown"
	date    = "unknown"
)

const appName = "focusbeat"

// Exit codes
const (
	exitOK      = 0
	exitFailure = 1
	exitConfig  = 2
	exitProbe   = 3
	exitStartup = 4
)

// CLI is the root command structure
type CLI struct {
	Config  string `short:"c" type:"existingfile" placeholder:"FILE" help:"Config file (default: ./focusbeat.yaml, ~/.config/focusbeat/config.yaml, /etc/focusbeat/config.yaml)"`
	Verbose bool   `short:"v" help:"Debug logging"`
	LogFile string `placeholder:"FILE" help:"Also write JSON logs to this file"`

	Run     RunCmd     `cmd:"" default:"withargs" help:"Watch the focused window and send heartbeats (default)"`
	Status  StatusCmd  `cmd:"" help:"Show watcher status, spool depth and the current window"`
	Stop    StopCmd    `cmd:"" help:"Stop the running watcher"`
	Version VersionCmd `cmd:"" help:"Show version information"`
}

// Globals holds state shared by all commands
type Globals struct {
	Config   *config.Config
	Logger   *zap.Logger
	FlagsSet map[string]bool
}

// exitError carries the process exit code for an error
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitFailure
}

func main() {
	var c CLI
	ctx := kong.Parse(&c,
		kong.Name(appName),
		kong.Description("Reports the focused window to a collector as heartbeats"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
	)

	cfg, err := loadConfig(c.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(exitConfig)
	}
	if c.Verbose {
		cfg.Log.Verbose = true
	}
	if c.LogFile != "" {
		cfg.Log.File = c.LogFile
	}

	logger, err := logging.New(logging.Options{
		Level:   cfg.Log.Level,
		Verbose: cfg.Log.Verbose,
		File:    cfg.Log.File,
		Name:    appName,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(exitConfig)
	}
	x11.SetLogger(logger)

	flagsSet := map[string]bool{}
	for _, p := range ctx.Path {
		if p.Flag != nil {
			flagsSet[p.Flag.Name] = true
		}
	}

	err = ctx.Run(&Globals{Config: cfg, Logger: logger, FlagsSet: flagsSet})
	_ = logger.Sync()

	if code := exitCode(err); code != exitOK {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(code)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// VersionCmd prints build information
type VersionCmd struct{}

func (v *VersionCmd) Run() error {
	fmt.Printf("%s version %s\n", appName, version)
	fmt.Printf("  commit: %s\n", commit)
	fmt.Printf("  built:  %s\n", date)
	return nil
}
