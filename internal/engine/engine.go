// Package engine implements the sync orchestrator: the state machine that
// observes connectivity, drives pending journal entries from the local
// durable queue through conflict detection to the remote store, and exposes
// a status stream for the UI.
//
// One engine instance runs per process/session with injected dependencies
// (queue, remote client, identity, connectivity probe); there is no global
// state, which keeps tests deterministic with fake clocks and fake
// connectivity.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/daybook-app/daybook-sync/internal/conflict"
	"github.com/daybook-app/daybook-sync/internal/journal"
	"github.com/daybook-app/daybook-sync/internal/queue"
	"github.com/daybook-app/daybook-sync/internal/remote"
	"github.com/daybook-app/daybook-sync/internal/retry"
)

// Engine errors returned by TriggerSync and SyncOnce.
var (
	// ErrSyncInProgress means a pass is already running; triggers are
	// rejected, never queued.
	ErrSyncInProgress = errors.New("engine: sync already in progress")

	// ErrOffline means the device reports no connectivity.
	ErrOffline = errors.New("engine: offline")

	// ErrNoUser means the auth collaborator has no authenticated user.
	ErrNoUser = errors.New("engine: no authenticated user")
)

// Timing defaults.
const (
	DefaultSyncInterval       = 5 * time.Minute
	DefaultStabilizationDelay = 1 * time.Second
	DefaultErrorRetryDelay    = 5 * time.Second
	DefaultBatchSize          = 5
)

// EntryQueue is the slice of the durable queue the engine drives.
// Implemented by *queue.Store.
type EntryQueue interface {
	ListPending(ctx context.Context, ownerID string) ([]*journal.Entry, error)
	ListFailed(ctx context.Context, ownerID string) ([]*journal.Entry, error)
	MarkSynced(ctx context.Context, localID, remoteID string) error
	MarkFailed(ctx context.Context, localID string, cause error) error
	Retry(ctx context.Context, localID string) error
	OwnerStats(ctx context.Context, ownerID string) (*queue.Stats, error)
}

// Detector checks one entry for a remote conflict. Implemented by
// *conflict.Detector.
type Detector interface {
	Detect(ctx context.Context, local *journal.Entry) (*conflict.Conflict, error)
}

// Identity is the auth collaborator. Sync refuses to run with no
// authenticated user.
type Identity interface {
	CurrentUserID() (string, error)
}

// Config holds the engine's injected dependencies and tunables. Zero
// durations and sizes are replaced with the defaults above.
type Config struct {
	Queue      EntryQueue
	Detector   Detector
	Remote     remote.Store
	Collection string
	Policy     *retry.Policy
	Identity   Identity
	Probe      ConnectivityProbe
	Logger     *slog.Logger

	SyncInterval       time.Duration
	StabilizationDelay time.Duration
	ErrorRetryDelay    time.Duration
	BatchSize          int
}

// Report summarizes one sync pass.
type Report struct {
	Total     int
	Synced    int
	Failed    int
	Conflicts int
	Duration  time.Duration
}

// Engine is the sync orchestrator. Construct with New, then either call
// SyncOnce for a one-shot pass or Run for the long-lived scheduler.
type Engine struct {
	cfg    Config
	logger *slog.Logger
	events *broadcaster

	mu        sync.Mutex
	state     State
	conflicts []*conflict.Conflict

	// triggerCh carries manual sync requests into the Run loop.
	triggerCh chan struct{}

	// nowFunc is injectable for duration measurement in tests.
	nowFunc func() time.Time
}

// New creates an Engine. The initial state mirrors current connectivity.
func New(cfg Config) (*Engine, error) {
	if cfg.Queue == nil || cfg.Detector == nil || cfg.Remote == nil {
		return nil, errors.New("engine: queue, detector, and remote store are required")
	}

	if cfg.Identity == nil || cfg.Probe == nil || cfg.Policy == nil {
		return nil, errors.New("engine: identity, probe, and retry policy are required")
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = DefaultSyncInterval
	}

	if cfg.StabilizationDelay <= 0 {
		cfg.StabilizationDelay = DefaultStabilizationDelay
	}

	if cfg.ErrorRetryDelay <= 0 {
		cfg.ErrorRetryDelay = DefaultErrorRetryDelay
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}

	initial := StateIdle
	if !cfg.Probe.Online() {
		initial = StateOffline
	}

	return &Engine{
		cfg:       cfg,
		logger:    cfg.Logger,
		events:    newBroadcaster(cfg.Logger),
		state:     initial,
		triggerCh: make(chan struct{}, 1),
		nowFunc:   time.Now,
	}, nil
}

// State returns the current orchestrator state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state
}

// Subscribe returns a channel of status events plus an unsubscribe
// function. Subscribers must keep reading; slow subscribers drop events.
func (e *Engine) Subscribe() (<-chan Event, func()) {
	return e.events.subscribe()
}

// Conflicts returns a snapshot of the conflicts surfaced by the most recent
// sync pass. The list is rebuilt on every pass: unresolved conflicts are
// re-detected because their entries remain pending.
func (e *Engine) Conflicts() []*conflict.Conflict {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*conflict.Conflict, len(e.conflicts))
	copy(out, e.conflicts)

	return out
}

// Stats returns the current owner's queue counts for UI display.
func (e *Engine) Stats(ctx context.Context) (*queue.Stats, error) {
	ownerID, err := e.cfg.Identity.CurrentUserID()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoUser, err)
	}

	return e.cfg.Queue.OwnerStats(ctx, ownerID)
}

// TriggerSync requests a sync pass from the Run loop. A trigger while
// syncing or offline is rejected, not queued.
func (e *Engine) TriggerSync() error {
	e.mu.Lock()
	state := e.state
	e.mu.Unlock()

	switch state {
	case StateSyncing:
		return ErrSyncInProgress
	case StateOffline:
		return ErrOffline
	}

	select {
	case e.triggerCh <- struct{}{}:
	default:
		// A trigger is already queued; one pass covers both.
	}

	return nil
}

// SyncOnce runs a single sync pass immediately, outside the Run scheduler.
// Used by the one-shot CLI path.
func (e *Engine) SyncOnce(ctx context.Context) (*Report, error) {
	if !e.cfg.Probe.Online() {
		return nil, ErrOffline
	}

	if !e.beginPass() {
		return nil, ErrSyncInProgress
	}

	report, err := e.syncPass(ctx)
	e.finishPass(report, err)

	return report, err
}

// RetryFailed re-queues the owner's failed entries as pending. It returns
// the number re-queued; the caller decides when the next pass runs. Failed
// entries are excluded from normal passes, so this explicit trigger is the
// only way they re-enter the queue.
func (e *Engine) RetryFailed(ctx context.Context) (int, error) {
	ownerID, err := e.cfg.Identity.CurrentUserID()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrNoUser, err)
	}

	failed, err := e.cfg.Queue.ListFailed(ctx, ownerID)
	if err != nil {
		return 0, err
	}

	var requeued int

	for _, entry := range failed {
		if err := e.cfg.Queue.Retry(ctx, entry.LocalID); err != nil {
			return requeued, err
		}

		requeued++
	}

	if requeued > 0 {
		e.logger.Info("failed entries re-queued", slog.Int("count", requeued))
	}

	return requeued, nil
}

// Run is the long-lived scheduler: it reacts to connectivity changes,
// manual triggers, the periodic timer, and post-error retry delays until
// the context is canceled. Only one pass is ever in flight.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.SyncInterval)
	defer ticker.Stop()

	var (
		stabilize  <-chan time.Time
		retryAfter <-chan time.Time
	)

	e.logger.Info("engine running",
		slog.String("state", string(e.State())),
		slog.Duration("interval", e.cfg.SyncInterval),
	)

	for {
		select {
		case <-ctx.Done():
			// An interrupted pass leaves unsynced entries pending;
			// the next run picks them up.
			return nil

		case online := <-e.cfg.Probe.Changes():
			if !online {
				e.setState(StateOffline)
				stabilize = nil

				continue
			}

			if e.State() == StateOffline {
				e.setState(StateIdle)
				// Short delay before syncing to avoid racing flaky
				// reconnects.
				stabilize = time.After(e.cfg.StabilizationDelay)
			}

		case <-stabilize:
			stabilize = nil
			retryAfter = e.runScheduledPass(ctx)

		case <-ticker.C:
			retryAfter = e.runScheduledPass(ctx)

		case <-e.triggerCh:
			retryAfter = e.runScheduledPass(ctx)

		case <-retryAfter:
			retryAfter = e.runScheduledPass(ctx)
		}
	}
}

// runScheduledPass runs one pass if the engine is in a runnable state.
// Returns a non-nil retry timer channel when the pass ended with failures.
func (e *Engine) runScheduledPass(ctx context.Context) <-chan time.Time {
	if !e.beginPass() {
		return nil
	}

	report, err := e.syncPass(ctx)
	e.finishPass(report, err)

	if e.State() == StateError {
		return time.After(e.cfg.ErrorRetryDelay)
	}

	return nil
}

// beginPass transitions to syncing if the engine is runnable (idle, or
// error — a retry pass clears transient error state). Returns false when
// the pass must not start.
func (e *Engine) beginPass() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateSyncing, StateOffline:
		return false
	}

	e.state = StateSyncing
	e.events.publish(Event{State: StateSyncing})

	return true
}

// finishPass records the pass outcome: idle on full success, error when at
// least one record failed, offline when connectivity was lost mid-pass (an
// abandoned pass is not an error; its entries stay pending).
func (e *Engine) finishPass(report *Report, err error) {
	next := StateIdle

	switch {
	case !e.cfg.Probe.Online():
		next = StateOffline
	case err != nil || (report != nil && report.Failed > 0):
		next = StateError
	}

	e.setState(next)

	if report != nil {
		e.logger.Info("sync pass complete",
			slog.Int("total", report.Total),
			slog.Int("synced", report.Synced),
			slog.Int("failed", report.Failed),
			slog.Int("conflicts", report.Conflicts),
			slog.Duration("duration", report.Duration),
		)
	}
}

// setState transitions the state machine and publishes the event.
func (e *Engine) setState(next State) {
	e.mu.Lock()

	if e.state == next {
		e.mu.Unlock()
		return
	}

	prev := e.state
	e.state = next
	e.mu.Unlock()

	e.logger.Info("state transition",
		slog.String("from", string(prev)),
		slog.String("to", string(next)),
	)

	e.events.publish(Event{State: next})
}
