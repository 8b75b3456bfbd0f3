package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/actionsum/focusbeat/internal/config"
)

func parse(t *testing.T, args ...string) (*CLI, map[string]bool) {
	t.Helper()

	var c CLI
	parser, err := kong.New(&c, kong.Name(appName), kong.Exit(func(int) { t.Fatal("unexpected exit") }))
	require.NoError(t, err)

	ctx, err := parser.Parse(args)
	require.NoError(t, err)

	set := map[string]bool{}
	for _, p := range ctx.Path {
		if p.Flag != nil {
			set[p.Flag.Name] = true
		}
	}
	return &c, set
}

func TestRunFlagsOverrideConfig(t *testing.T) {
	c, set := parse(t, "run",
		"--poll-time=2.5",
		"--team-id=12",
		"--strategy=x11",
		"--exclude-title",
		"--exclude-titles=^Secret",
		"--exclude-titles=a,b",
	)

	cfg := config.Default()
	cfg.Collector.Host = "from-file"
	c.Run.apply(cfg, set)

	assert.Equal(t, 2.5, cfg.Watcher.PollTime)
	assert.Equal(t, int64(12), cfg.Watcher.TeamID)
	assert.Equal(t, "x11", cfg.Watcher.Strategy)
	assert.True(t, cfg.Watcher.ExcludeTitle)
	assert.Equal(t, []string{"^Secret", "a,b"}, cfg.Watcher.ExcludeTitles)
	assert.Equal(t, "from-file", cfg.Collector.Host, "unset flags keep config values")
}

func TestRunIsDefaultCommand(t *testing.T) {
	c, set := parse(t, "--testing")

	cfg := config.Default()
	c.Run.apply(cfg, set)
	assert.True(t, cfg.Collector.Testing)
	assert.Equal(t, config.TestingPort, cfg.Collector.Port)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitOK, exitCode(nil))
	assert.Equal(t, exitFailure, exitCode(errors.New("boom")))
	assert.Equal(t, exitConfig, exitCode(withCode(exitConfig, errors.New("bad pattern"))))
	assert.Equal(t, exitProbe, exitCode(fmt.Errorf("wrapped: %w", withCode(exitProbe, errors.New("no display")))))
	assert.Nil(t, withCode(exitStartup, nil))
}

func TestRunRejectsInvalidPattern(t *testing.T) {
	cfg := config.Default()
	cfg.Watcher.ExcludeTitles = []string{"(unclosed"}
	cfg.Daemon.PIDFile = t.TempDir() + "/focusbeat.pid"

	r := &RunCmd{}
	err := r.Run(&Globals{Config: cfg, Logger: zap.NewNop(), FlagsSet: map[string]bool{}})
	require.Error(t, err)
	assert.Equal(t, exitConfig, exitCode(err))
}

func TestRunRejectsUnknownStrategy(t *testing.T) {
	cfg := config.Default()
	cfg.Watcher.Strategy = "quartz"

	r := &RunCmd{}
	err := r.Run(&Globals{Config: cfg, Logger: zap.NewNop(), FlagsSet: map[string]bool{}})
	require.Error(t, err)
	assert.Equal(t, exitConfig, exitCode(err))
	assert.Contains(t, err.Error(), "quartz")
}

func TestShutdownContextCancelsOnSIGTERM(t *testing.T) {
	ctx, stop := shutdownContext(context.Background())
	defer stop()

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))

	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("context not cancelled by SIGTERM")
	}
}

func TestRunCleansUpWhenDetectorFails(t *testing.T) {
	t.Setenv("PATH", "")
	t.Setenv("DISPLAY", "")

	dir := t.TempDir()
	cfg := config.Default()
	cfg.Watcher.Strategy = "xdotool"
	cfg.Daemon.PIDFile = filepath.Join(dir, "focusbeat.pid")
	cfg.Spool.Path = filepath.Join(dir, "spool.db")

	r := &RunCmd{}
	err := r.Run(&Globals{Config: cfg, Logger: zap.NewNop(), FlagsSet: map[string]bool{}})
	require.Error(t, err)
	assert.Equal(t, exitProbe, exitCode(err))
	assert.NoFileExists(t, cfg.Daemon.PIDFile)
}
