// Package status tracks per-entry, per-service sync status for the export
// integrations, layered on top of the retry policy: the backoff ladder here
// governs whether a new sync attempt is even started, while the retry policy
// governs retries within one attempt.
package status

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// State is the per-service sync status of an entry.
type State string

// Service states as stored in the sync_status table. An entry that has no
// row for a service is StateNeverSynced.
const (
	StateNeverSynced State = "never_synced"
	StatePending     State = "pending"
	StateSynced      State = "synced"
	StateFailed      State = "failed"
)

// retryLadder is the fixed schedule for scheduling re-attempts after a
// failure, indexed by min(retryCount, len-1).
var retryLadder = []time.Duration{
	5 * time.Minute,
	15 * time.Minute,
	1 * time.Hour,
	4 * time.Hour,
	24 * time.Hour,
}

// Info is one service's sync status for one entry. NextRetryAt is set if
// and only if Status is failed.
type Info struct {
	Service     string
	Status      State
	LastSyncAt  int64 // Unix nanoseconds, zero if never synced
	LastError   string
	RetryCount  int
	NextRetryAt int64 // Unix nanoseconds, zero unless failed
	UpdatedAt   int64 // Unix nanoseconds
}

// Summary aggregates an entry's status across all services.
type Summary struct {
	PerService  map[string]Info
	HasFailures bool
	LastUpdated int64 // Unix nanoseconds
}

// Store persists status rows. Implemented by the durable queue; writes are
// applied immediately (no batching) because status is read concurrently by
// the UI and the periodic scheduler.
type Store interface {
	UpsertServiceStatus(ctx context.Context, localID string, info *Info) error
	ListServiceStatuses(ctx context.Context, localID string) ([]Info, error)
}

// Tracker records and reads per-service sync status.
type Tracker struct {
	store  Store
	logger *slog.Logger

	// nowFunc is injectable for deterministic ladder tests.
	nowFunc func() time.Time
}

// NewTracker creates a Tracker backed by the given store.
func NewTracker(store Store, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}

	return &Tracker{
		store:   store,
		logger:  logger,
		nowFunc: time.Now,
	}
}

// SetStatus records a service's status for an entry. For failed status the
// next retry time is computed from the ladder and retryCount; for any other
// status the retry schedule is cleared.
func (t *Tracker) SetStatus(ctx context.Context, localID, service string, state State, lastError string, retryCount int) error {
	now := t.nowFunc()

	info := &Info{
		Service:    service,
		Status:     state,
		LastError:  lastError,
		RetryCount: retryCount,
		UpdatedAt:  now.UnixNano(),
	}

	switch state {
	case StateSynced:
		info.LastSyncAt = now.UnixNano()
		info.RetryCount = 0
	case StateFailed:
		info.NextRetryAt = now.Add(NextRetryDelay(retryCount)).UnixNano()
	}

	if err := t.store.UpsertServiceStatus(ctx, localID, info); err != nil {
		return fmt.Errorf("status: set %s/%s: %w", localID, service, err)
	}

	t.logger.Debug("service status updated",
		slog.String("local_id", localID),
		slog.String("service", service),
		slog.String("status", string(state)),
		slog.Int("retry_count", info.RetryCount),
	)

	return nil
}

// GetSummary returns the per-service status map for an entry.
func (t *Tracker) GetSummary(ctx context.Context, localID string) (*Summary, error) {
	infos, err := t.store.ListServiceStatuses(ctx, localID)
	if err != nil {
		return nil, fmt.Errorf("status: summary for %s: %w", localID, err)
	}

	summary := &Summary{PerService: make(map[string]Info, len(infos))}

	for _, info := range infos {
		summary.PerService[info.Service] = info

		if info.Status == StateFailed {
			summary.HasFailures = true
		}

		if info.UpdatedAt > summary.LastUpdated {
			summary.LastUpdated = info.UpdatedAt
		}
	}

	return summary, nil
}

// IsDueForRetry reports whether a failed service status has reached its
// scheduled retry time. Non-failed statuses are never due.
func (t *Tracker) IsDueForRetry(info *Info) bool {
	if info.Status != StateFailed {
		return false
	}

	return t.nowFunc().UnixNano() >= info.NextRetryAt
}

// NextRetryDelay returns the ladder delay for the given retry count,
// capped at the last step.
func NextRetryDelay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}

	if retryCount >= len(retryLadder) {
		retryCount = len(retryLadder) - 1
	}

	return retryLadder[retryCount]
}
