// Package transport delivers heartbeats to the collector at least once and
// in order. Every heartbeat is first appended to an on-disk spool; the spool
// is then drained oldest first. A failed send leaves the queue intact and is
// retried on a later call after a backoff.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/actionsum/focusbeat/internal/models"
	"github.com/actionsum/focusbeat/internal/privacy"
	"github.com/actionsum/focusbeat/internal/spool"
)

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("transport closed")

// DefaultDrainBatch bounds the number of heartbeats one Heartbeat call sends.
const DefaultDrainBatch = 20

// backoff holds the delays between drain attempts after consecutive failures.
var backoff = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	3 * time.Second,
	5 * time.Second,
	11 * time.Second,
	23 * time.Second,
	47 * time.Second,
	61 * time.Second,
}

// Event is a filtered window sample ready to be sent. Data is a
// privacy.Filtered so unfiltered descriptors cannot be sent.
type Event struct {
	Timestamp time.Time
	Data      privacy.Filtered
	TeamID    int64
}

// Bucket identifies the collector stream events are appended to.
type Bucket struct {
	ID        int64
	Name      string
	EventType string
}

// Collector is the remote side of the transport
type Collector interface {
	CreateBucket(ctx context.Context, name, eventType string) (int64, error)
	Heartbeat(ctx context.Context, bucketID int64, timestamp time.Time, data models.HeartbeatData, pulsetime time.Duration) error
}

// Options configures Open
type Options struct {
	SpoolPath string
	MaxEvents int
	// DrainBatch is the most heartbeats sent per Heartbeat call. A backlog
	// larger than that is worked off over the following calls.
	DrainBatch int
	Clock      clock.Clock
	Logger     *zap.Logger
}

// Transport is a spool-backed heartbeat sender
type Transport struct {
	collector Collector
	db        *spool.DB
	queue     *spool.Repository
	batch     int
	clock     clock.Clock
	logger    *zap.Logger

	mu          sync.Mutex
	bucket      *Bucket
	failures    int
	nextAttempt time.Time
	closed      bool
}

// Open opens the spool and returns a transport bound to collector. The
// caller must Close it on every exit path.
func Open(collector Collector, opts Options) (*Transport, error) {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.DrainBatch <= 0 {
		opts.DrainBatch = DefaultDrainBatch
	}

	db, err := spool.Open(opts.SpoolPath)
	if err != nil {
		return nil, err
	}

	t := &Transport{
		collector: collector,
		db:        db,
		queue:     spool.NewRepository(db, opts.MaxEvents),
		batch:     opts.DrainBatch,
		clock:     opts.Clock,
		logger:    opts.Logger,
	}

	if n, err := t.queue.Len(); err == nil && n > 0 {
		t.logger.Info("resuming with spooled heartbeats", zap.Int64("pending", n))
	}
	return t, nil
}

// CreateBucket creates the destination bucket. Repeated calls return the
// bucket created by the first call without contacting the collector.
func (t *Transport) CreateBucket(ctx context.Context, name, eventType string) (Bucket, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return Bucket{}, ErrClosed
	}
	if t.bucket != nil {
		return *t.bucket, nil
	}

	id, err := t.collector.CreateBucket(ctx, name, eventType)
	if err != nil {
		return Bucket{}, fmt.Errorf("failed to create bucket %s: %w", name, err)
	}

	t.bucket = &Bucket{ID: id, Name: name, EventType: eventType}
	t.logger.Info("bucket ready", zap.String("bucket", name), zap.Int64("bucket_id", id))
	return *t.bucket, nil
}

// Heartbeat queues the event and delivers up to Options.DrainBatch queued
// heartbeats, oldest first. Delivery failures are logged and absorbed: the
// event stays queued and Heartbeat returns nil. Only ErrClosed is returned.
func (t *Transport) Heartbeat(ctx context.Context, bucket Bucket, ev Event, pulsetime time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}

	data := models.HeartbeatData{App: ev.Data.App, Title: ev.Data.Title, TeamID: ev.TeamID}
	hb := &models.PendingHeartbeat{
		BucketID:  bucket.ID,
		Timestamp: ev.Timestamp.UTC(),
		Pulsetime: pulsetime.Seconds(),
	}

	if err := t.enqueue(hb, data); err != nil {
		t.sendDirect(ctx, hb, data, pulsetime, err)
		return nil
	}

	if !t.clock.Now().Before(t.nextAttempt) {
		t.drain(ctx, t.batch)
	}
	return nil
}

func (t *Transport) enqueue(hb *models.PendingHeartbeat, data models.HeartbeatData) error {
	if err := hb.SetData(data); err != nil {
		return fmt.Errorf("failed to encode heartbeat: %w", err)
	}

	dropped, err := t.queue.Enqueue(hb)
	if err != nil {
		return err
	}
	if dropped > 0 {
		t.logger.Warn("spool full, dropped oldest heartbeats",
			zap.Int64("dropped", dropped),
			zap.Int64("dropped_total", t.queue.Dropped()))
	}
	return nil
}

// sendDirect is the fallback for a spool that cannot take the heartbeat. It
// never sends ahead of heartbeats that are still queued.
func (t *Transport) sendDirect(ctx context.Context, hb *models.PendingHeartbeat, data models.HeartbeatData, pulsetime time.Duration, cause error) {
	if pending, err := t.queue.Len(); err == nil && pending > 0 {
		t.logger.Error("failed to spool heartbeat, dropping it behind queued heartbeats",
			zap.Error(cause),
			zap.Int64("pending", pending))
		return
	}

	t.logger.Error("failed to spool heartbeat, sending directly", zap.Error(cause))
	if err := t.collector.Heartbeat(ctx, hb.BucketID, hb.Timestamp, data, pulsetime); err != nil {
		t.logger.Warn("heartbeat lost", zap.Error(err))
	}
}

// drain sends queued heartbeats until the queue is empty, a send fails or
// limit heartbeats were sent. A limit of zero or less means no limit.
// Must be called with t.mu held.
func (t *Transport) drain(ctx context.Context, limit int) (sent int, err error) {
	for {
		if limit > 0 && sent >= limit {
			return sent, nil
		}
		if err := ctx.Err(); err != nil {
			return sent, err
		}

		hb, err := t.queue.Oldest()
		if err != nil {
			t.logger.Error("failed to read spool", zap.Error(err))
			return sent, err
		}
		if hb == nil {
			t.reset()
			return sent, nil
		}

		data, err := hb.Data()
		if err != nil {
			t.logger.Error("discarding undecodable heartbeat", zap.Uint("id", hb.ID), zap.Error(err))
			if err := t.queue.Remove(hb.ID); err != nil {
				return sent, err
			}
			continue
		}

		pulsetime := time.Duration(hb.Pulsetime * float64(time.Second))
		if err := t.collector.Heartbeat(ctx, hb.BucketID, hb.Timestamp, data, pulsetime); err != nil {
			t.fail(hb, err)
			return sent, err
		}

		if err := t.queue.Remove(hb.ID); err != nil {
			// Left in place it would be sent again; at-least-once allows that.
			t.logger.Error("failed to remove delivered heartbeat", zap.Uint("id", hb.ID), zap.Error(err))
			return sent, err
		}
		sent++
		t.reset()
	}
}

func (t *Transport) fail(hb *models.PendingHeartbeat, cause error) {
	delay := backoff[min(t.failures, len(backoff)-1)]
	t.failures++
	t.nextAttempt = t.clock.Now().Add(delay)

	pending, err := t.queue.Len()
	if err != nil {
		t.logger.Debug("failed to count spooled heartbeats", zap.Error(err))
	}
	t.logger.Warn("heartbeat delivery failed, will retry",
		zap.Error(cause),
		zap.Int64("pending", pending),
		zap.Int("attempts", hb.Attempts+1),
		zap.Duration("retry_in", delay))

	if err := t.queue.MarkAttempt(hb.ID); err != nil {
		t.logger.Debug("failed to mark attempt", zap.Error(err))
	}
	if err := t.queue.RecordError(&models.DeliveryError{
		Timestamp: t.clock.Now().UTC(),
		ErrorMsg:  cause.Error(),
		Pending:   pending,
	}); err != nil {
		t.logger.Debug("failed to record delivery error", zap.Error(err))
	}
}

func (t *Transport) reset() {
	if t.failures > 0 {
		t.logger.Info("heartbeat delivery recovered", zap.Int("failures", t.failures))
	}
	t.failures = 0
	t.nextAttempt = time.Time{}
}

// Pending returns the number of queued heartbeats
func (t *Transport) Pending() (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, ErrClosed
	}
	return t.queue.Len()
}

// Close makes one final delivery attempt bounded by ctx, ignoring any
// pending backoff, and releases the spool. Undelivered heartbeats stay
// spooled for the next run.
func (t *Transport) Close(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	sent, err := t.drain(ctx, 0)
	pending, lenErr := t.queue.Len()
	if lenErr != nil {
		t.logger.Debug("failed to count spooled heartbeats", zap.Error(lenErr))
	}
	t.logger.Info("transport closed",
		zap.Int("flushed", sent),
		zap.Int64("pending", pending),
		zap.NamedError("flush_error", err))

	return t.db.Close()
}
