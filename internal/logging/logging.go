// Package logging builds the process logger. Logging is a best-effort side
// channel: a sink that fails to write or sync never surfaces an error.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures New.
type Options struct {
	Level   string // debug, info, warn, error
	Verbose bool   // forces debug
	File    string // optional log file, appended to
	Name    string
}

// New returns a logger writing to stderr and optionally a file. Stderr gets
// the console encoder when attached to a terminal and JSON otherwise; the
// file always gets JSON.
func New(opts Options) (*zap.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	if opts.Verbose {
		level = zapcore.DebugLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var stderrEnc zapcore.Encoder
	if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		consoleCfg := encCfg
		consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		stderrEnc = zapcore.NewConsoleEncoder(consoleCfg)
	} else {
		stderrEnc = zapcore.NewJSONEncoder(encCfg)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(stderrEnc, Quiet(zapcore.Lock(os.Stderr)), level),
	}

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), Quiet(zapcore.Lock(f)), level))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.ErrorOutput(Quiet(zapcore.AddSync(discard{}))))
	if opts.Name != "" {
		logger = logger.Named(opts.Name)
	}
	return logger, nil
}

// ParseLevel maps a level name to a zap level. Empty means info.
func ParseLevel(name string) (zapcore.Level, error) {
	if name == "" {
		return zapcore.InfoLevel, nil
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return level, fmt.Errorf("invalid log level %q: %w", name, err)
	}
	return level, nil
}

// Quiet wraps a sink so that write and sync failures are swallowed. A closed
// stderr or a full disk must not take the watcher down, and a failed write
// is never retried.
func Quiet(ws zapcore.WriteSyncer) zapcore.WriteSyncer {
	return quietSyncer{ws}
}

type quietSyncer struct {
	ws zapcore.WriteSyncer
}

func (q quietSyncer) Write(p []byte) (int, error) {
	_, _ = q.ws.Write(p)
	return len(p), nil
}

func (q quietSyncer) Sync() error {
	_ = q.ws.Sync()
	return nil
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
