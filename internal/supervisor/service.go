// Package supervisor runs the watcher loop: check the parent, probe the
// focused window, filter it, send a heartbeat, sleep.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/actionsum/focusbeat/internal/privacy"
	"github.com/actionsum/focusbeat/internal/transport"
	"github.com/actionsum/focusbeat/pkg/window"
)

const (
	// warmUp is waited once before the first poll so the collector endpoint
	// has time to come up.
	warmUp = time.Second

	// pulseSlack is added to the poll interval to form the pulsetime.
	pulseSlack = time.Second
)

var (
	// ErrOrphaned is returned by Run when the parent process died.
	ErrOrphaned = errors.New("parent process died")

	// ErrFatalProbe is returned by Run, wrapping the cause, when the window
	// probe cannot recover.
	ErrFatalProbe = errors.New("fatal window probe failure")
)

// Sender delivers heartbeats. Implementations absorb delivery failures.
type Sender interface {
	Heartbeat(ctx context.Context, bucket transport.Bucket, ev transport.Event, pulsetime time.Duration) error
}

// Filter redacts a window descriptor
type Filter interface {
	Apply(w window.WindowInfo) privacy.Filtered
}

// ParentWatcher reports whether the parent process is gone
type ParentWatcher interface {
	Orphaned() bool
}

// Options configures a Service
type Options struct {
	PollInterval time.Duration
	TeamID       int64
	Clock        clock.Clock
	Logger       *zap.Logger
}

// Stats counts what the loop did
type Stats struct {
	Ticks   int64
	Sent    int64
	Skipped int64
}

type Service struct {
	detector window.Detector
	filter   Filter
	sender   Sender
	parent   ParentWatcher
	bucket   transport.Bucket

	interval time.Duration
	teamID   int64
	clock    clock.Clock
	logger   *zap.Logger

	running atomic.Bool
	ticks   atomic.Int64
	sent    atomic.Int64
	skipped atomic.Int64
}

func NewService(detector window.Detector, filter Filter, sender Sender, parent ParentWatcher, bucket transport.Bucket, opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Service{
		detector: detector,
		filter:   filter,
		sender:   sender,
		parent:   parent,
		bucket:   bucket,
		interval: opts.PollInterval,
		teamID:   opts.TeamID,
		clock:    opts.Clock,
		logger:   opts.Logger,
	}
}

// Pulsetime is the merge window passed with every heartbeat
func (s *Service) Pulsetime() time.Duration {
	return s.interval + pulseSlack
}

// Run polls until the parent dies, the probe fails fatally or ctx is done.
// It returns ErrOrphaned, an error wrapping ErrFatalProbe, or ctx.Err().
// The caller owns the transport and must close it whatever Run returns.
func (s *Service) Run(ctx context.Context) (err error) {
	if s.interval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %v", s.interval)
	}
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("watcher is already running")
	}
	defer s.running.Store(false)

	pulsetime := s.Pulsetime()
	s.logger.Info("watcher started",
		zap.Duration("poll_interval", s.interval),
		zap.Duration("pulsetime", pulsetime),
		zap.Int64("bucket_id", s.bucket.ID),
		zap.String("display_server", s.detector.GetDisplayServer()))

	defer func() {
		s.logger.Info("watcher stopped",
			zap.NamedError("reason", err),
			zap.Int64("ticks", s.ticks.Load()),
			zap.Int64("sent", s.sent.Load()),
			zap.Int64("skipped", s.skipped.Load()))
	}()

	if err := s.sleep(ctx, warmUp); err != nil {
		return err
	}

	for {
		if err := s.tick(ctx, pulsetime); err != nil {
			return err
		}

		if err := s.sleep(ctx, s.interval); err != nil {
			return err
		}
	}
}

// tick runs one iteration. A non-nil error ends the loop.
func (s *Service) tick(ctx context.Context, pulsetime time.Duration) error {
	s.ticks.Add(1)

	if s.parent.Orphaned() {
		s.logger.Info("watcher stopping because parent process died")
		return ErrOrphaned
	}

	res := window.Sample(s.detector)
	switch res.Outcome {
	case window.OutcomeFatal:
		s.logger.Error("window probe failed fatally",
			zap.Error(res.Err),
			zap.String("display_server", s.detector.GetDisplayServer()))
		return fmt.Errorf("%w: %w", ErrFatalProbe, res.Err)

	case window.OutcomeRecoverable:
		s.skipped.Add(1)
		s.logger.Warn("window probe failed, skipping tick", zap.Error(res.Err))
		return nil
	}

	ev := transport.Event{
		Timestamp: s.clock.Now().UTC(),
		Data:      s.filter.Apply(res.Info),
		TeamID:    s.teamID,
	}

	if err := s.sender.Heartbeat(ctx, s.bucket, ev, pulsetime); err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	s.sent.Add(1)

	s.logger.Debug("heartbeat",
		zap.String("app", ev.Data.App),
		zap.String("title", ev.Data.Title))
	return nil
}

func (s *Service) sleep(ctx context.Context, d time.Duration) error {
	timer := s.clock.Timer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Stats returns the loop counters
func (s *Service) Stats() Stats {
	return Stats{
		Ticks:   s.ticks.Load(),
		Sent:    s.sent.Load(),
		Skipped: s.skipped.Load(),
	}
}

// IsRunning reports whether Run is active
func (s *Service) IsRunning() bool {
	return s.running.Load()
}
