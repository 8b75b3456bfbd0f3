package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/actionsum/focusbeat/internal/collector"
	"github.com/actionsum/focusbeat/internal/config"
	"github.com/actionsum/focusbeat/internal/lifecycle"
	"github.com/actionsum/focusbeat/internal/privacy"
	"github.com/actionsum/focusbeat/internal/spool"
	"github.com/actionsum/focusbeat/pkg/detector"
	"github.com/actionsum/focusbeat/pkg/utils"
	"github.com/actionsum/focusbeat/pkg/window"
)

const statusTimeout = 5 * time.Second

// StatusCmd reports on the watcher without disturbing it
type StatusCmd struct {
	NoProbe bool `name:"no-probe" help:"Skip the one-shot window probe"`
}

func (s *StatusCmd) Run(g *Globals) error {
	cfg := g.Config

	running, pid, err := lifecycle.NewPIDFile(cfg.Daemon.PIDFile).IsRunning()
	if err != nil {
		return fmt.Errorf("failed to check watcher status: %w", err)
	}
	if running {
		fmt.Printf("Watcher is running (PID: %d)\n", pid)
	} else {
		fmt.Println("Watcher is not running")
	}

	printSpool(cfg)

	if s.NoProbe {
		return nil
	}
	return printWindow(cfg)
}

func printSpool(cfg *config.Config) {
	path, err := cfg.SpoolPath()
	if err != nil {
		fmt.Printf("Spool: %v\n", err)
		return
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Printf("Spool: empty (%s)\n", path)
		return
	}

	db, err := spool.Open(path)
	if err != nil {
		fmt.Printf("Spool: %v\n", err)
		return
	}
	defer db.Close()

	repo := spool.NewRepository(db, cfg.Spool.MaxEvents)
	pending, err := repo.Len()
	if err != nil {
		fmt.Printf("Spool: %v\n", err)
		return
	}
	fmt.Printf("Spool: %d pending heartbeat(s) (%s)\n", pending, path)

	last, err := repo.LastError()
	if err != nil || last == nil {
		return
	}
	fmt.Printf("Last delivery error: %s (%s ago)\n", last.ErrorMsg, utils.FormatRoundedUnit(time.Since(last.Timestamp)))
}

// printWindow probes the focused window once and shows it before and after
// the privacy filter.
func printWindow(cfg *config.Config) error {
	det, err := detector.New(cfg.Watcher.Strategy)
	if err != nil {
		fmt.Printf("Window detector: %v\n", err)
		return nil
	}
	defer det.Close()

	fmt.Printf("Display server: %s\n", det.GetDisplayServer())

	res := window.Sample(det)
	if res.Outcome != window.OutcomeOK {
		fmt.Printf("Current window: %s error: %v\n", res.Outcome, res.Err)
		return nil
	}
	fmt.Printf("Current window: %s - %s\n", res.Info.AppName, res.Info.WindowTitle)

	patterns, err := privacy.CompilePatterns(cfg.Watcher.ExcludeTitles)
	if err != nil {
		return withCode(exitConfig, err)
	}

	apps, err := fetchApps(cfg)
	if err != nil {
		fmt.Printf("Team configuration unavailable (%v), showing default deny\n", err)
	}

	filtered := privacy.New(privacy.Config{
		IncludedApps:         apps,
		ExcludeAllTitles:     cfg.Watcher.ExcludeTitle,
		ExcludeTitlePatterns: patterns,
	}).Apply(res.Info)
	fmt.Printf("Reported as:    %s - %s\n", filtered.App, filtered.Title)
	return nil
}

func fetchApps(cfg *config.Config) ([]string, error) {
	client, err := collector.New(cfg.CollectorURL(), cfg.Collector.Token)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
	defer cancel()
	return client.TeamApps(ctx, cfg.Watcher.TeamID)
}

// StopCmd sends SIGTERM to the running watcher
type StopCmd struct{}

func (s *StopCmd) Run(g *Globals) error {
	pid, err := lifecycle.NewPIDFile(g.Config.Daemon.PIDFile).Stop()
	if errors.Is(err, lifecycle.ErrNotRunning) {
		fmt.Println("Watcher is not running")
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Printf("Watcher stopped (PID: %d)\n", pid)
	return nil
}
