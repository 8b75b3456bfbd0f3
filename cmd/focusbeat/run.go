package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/actionsum/focusbeat/internal/collector"
	"github.com/actionsum/focusbeat/internal/config"
	"github.com/actionsum/focusbeat/internal/lifecycle"
	"github.com/actionsum/focusbeat/internal/privacy"
	"github.com/actionsum/focusbeat/internal/supervisor"
	"github.com/actionsum/focusbeat/internal/transport"
	"github.com/actionsum/focusbeat/pkg/detector"
	"github.com/actionsum/focusbeat/pkg/window"
)

const (
	eventType      = "currentwindow"
	startupTimeout = 30 * time.Second
	closeTimeout   = 5 * time.Second
)

// RunCmd runs the watcher in the foreground
type RunCmd struct {
	Host          string   `help:"Collector host"`
	Port          int      `help:"Collector port"`
	Token         string   `help:"Collector API token"`
	Testing       bool     `help:"Use the testing collector port and spool"`
	TeamID        int64    `name:"team-id" aliases:"teamId" help:"Team whose privacy configuration applies"`
	PollTime      float64  `name:"poll-time" help:"Seconds between polls"`
	Strategy      string   `help:"Window probe: auto, x11, xdotool or wayland"`
	ExcludeTitle  bool     `name:"exclude-title" help:"Replace every window title with \"excluded\""`
	ExcludeTitles []string `name:"exclude-titles" sep:"none" help:"Case-insensitive regex; matching titles are replaced (repeatable)"`
}

// apply copies explicitly set flags over the file and env configuration
func (r *RunCmd) apply(cfg *config.Config, set map[string]bool) {
	if set["host"] {
		cfg.Collector.Host = r.Host
	}
	if set["port"] {
		cfg.Collector.Port = r.Port
	}
	if set["token"] {
		cfg.Collector.Token = r.Token
	}
	if set["testing"] {
		cfg.SetTesting(r.Testing)
	}
	if set["team-id"] {
		cfg.Watcher.TeamID = r.TeamID
	}
	if set["poll-time"] {
		cfg.Watcher.PollTime = r.PollTime
	}
	if set["strategy"] {
		cfg.Watcher.Strategy = r.Strategy
	}
	if set["exclude-title"] {
		cfg.Watcher.ExcludeTitle = r.ExcludeTitle
	}
	if set["exclude-titles"] {
		cfg.Watcher.ExcludeTitles = r.ExcludeTitles
	}
}

func (r *RunCmd) Run(g *Globals) error {
	cfg := g.Config
	r.apply(cfg, g.FlagsSet)
	logger := g.Logger

	if err := cfg.Validate(); err != nil {
		return withCode(exitConfig, fmt.Errorf("invalid configuration: %w", err))
	}
	if !detector.IsSupported(cfg.Watcher.Strategy) {
		return withCode(exitConfig, fmt.Errorf("unsupported strategy %q (valid: %v)", cfg.Watcher.Strategy, detector.Strategies()))
	}
	patterns, err := privacy.CompilePatterns(cfg.Watcher.ExcludeTitles)
	if err != nil {
		return withCode(exitConfig, err)
	}
	spoolPath, err := cfg.SpoolPath()
	if err != nil {
		return withCode(exitConfig, err)
	}

	// Recorded before anything slow so a parent dying during startup is seen.
	parent := lifecycle.NewParentWatcher()

	// Installed before any resource that needs cleanup, so a signal during
	// startup still runs the deferred closes.
	ctx, stop := shutdownContext(context.Background())
	defer stop()

	pidFile := lifecycle.NewPIDFile(cfg.Daemon.PIDFile)
	if err := pidFile.Write(); err != nil {
		return withCode(exitStartup, fmt.Errorf("failed to write PID file: %w", err))
	}
	defer func() {
		if err := pidFile.Remove(); err != nil {
			logger.Warn("failed to remove PID file", zap.Error(err))
		}
	}()

	det, err := detector.New(cfg.Watcher.Strategy)
	if err != nil {
		if window.Classify(err) == window.OutcomeFatal {
			return withCode(exitProbe, fmt.Errorf("failed to initialize window detector: %w", err))
		}
		return withCode(exitStartup, fmt.Errorf("failed to initialize window detector: %w", err))
	}
	defer det.Close()
	logger.Info("window detector initialized",
		zap.String("strategy", cfg.Watcher.Strategy),
		zap.String("display_server", det.GetDisplayServer()))

	client, err := collector.New(cfg.CollectorURL(), cfg.Collector.Token, collector.WithClientName(cfg.Watcher.BucketName))
	if err != nil {
		return withCode(exitConfig, err)
	}

	tr, err := transport.Open(client, transport.Options{
		SpoolPath: spoolPath,
		MaxEvents: cfg.Spool.MaxEvents,
		Logger:    logger.Named("transport"),
	})
	if err != nil {
		return withCode(exitStartup, fmt.Errorf("failed to open transport: %w", err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := tr.Close(ctx); err != nil {
			logger.Warn("failed to close transport", zap.Error(err))
		}
	}()

	logger.Debug("configuration loaded", zap.Stringer("config", cfg))

	apps, bucket, err := startup(ctx, client, tr, cfg)
	if err != nil {
		if ctx.Err() != nil {
			logger.Info("interrupted during startup")
			return nil
		}
		return withCode(exitStartup, err)
	}
	logger.Info("privacy configuration loaded",
		zap.Int64("team_id", cfg.Watcher.TeamID),
		zap.Strings("included_apps", apps),
		zap.Int("exclude_patterns", len(patterns)),
		zap.Bool("exclude_title", cfg.Watcher.ExcludeTitle))

	filter := privacy.New(privacy.Config{
		IncludedApps:         apps,
		ExcludeAllTitles:     cfg.Watcher.ExcludeTitle,
		ExcludeTitlePatterns: patterns,
	})

	svc := supervisor.NewService(det, filter, tr, parent, bucket, supervisor.Options{
		PollInterval: cfg.PollInterval(),
		TeamID:       cfg.Watcher.TeamID,
		Logger:       logger.Named("supervisor"),
	})

	err = svc.Run(ctx)
	switch {
	case errors.Is(err, supervisor.ErrOrphaned):
		return nil
	case errors.Is(err, context.Canceled):
		logger.Info("received shutdown signal")
		return nil
	case errors.Is(err, supervisor.ErrFatalProbe):
		return withCode(exitProbe, err)
	default:
		return err
	}
}

// shutdownContext returns a context cancelled on SIGINT or SIGTERM
func shutdownContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// startup fetches the team allow-list and creates the bucket concurrently.
// Both must succeed.
func startup(ctx context.Context, client *collector.Client, tr *transport.Transport, cfg *config.Config) ([]string, transport.Bucket, error) {
	ctx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	var (
		apps   []string
		bucket transport.Bucket
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		apps, err = client.TeamApps(gctx, cfg.Watcher.TeamID)
		if err != nil {
			return fmt.Errorf("failed to fetch team configuration: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		bucket, err = tr.CreateBucket(gctx, cfg.Watcher.BucketName, eventType)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, transport.Bucket{}, err
	}
	return apps, bucket, nil
}
