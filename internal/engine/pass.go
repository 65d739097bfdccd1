package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/daybook-app/daybook-sync/internal/conflict"
	"github.com/daybook-app/daybook-sync/internal/journal"
	"github.com/daybook-app/daybook-sync/internal/retry"
)

// entryOutcome is the per-record result of one pass step.
type entryOutcome int

const (
	outcomeSynced entryOutcome = iota
	outcomeFailed
	outcomeConflict
)

// syncPass fetches the owner's pending entries and drives each through
// conflict detection and remote upsert. Conflicted entries stay pending and
// are surfaced for resolution; failed entries are marked failed and excluded
// from future passes until explicitly retried.
func (e *Engine) syncPass(ctx context.Context) (*Report, error) {
	started := e.nowFunc()

	ownerID, err := e.cfg.Identity.CurrentUserID()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoUser, err)
	}

	pending, err := e.cfg.Queue.ListPending(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	report := &Report{Total: len(pending)}

	e.logger.Info("sync pass starting",
		slog.String("owner_id", ownerID),
		slog.Int("pending", len(pending)),
	)

	var (
		completed     atomic.Int32
		mu            sync.Mutex
		passConflicts []*conflict.Conflict
	)

	for _, batch := range buildBatches(pending, e.cfg.BatchSize) {
		// A canceled pass abandons its remaining batches; the entries
		// stay pending for the next pass. Losing connectivity mid-pass
		// does the same: burning the retry budget on every remaining
		// entry would mark them all failed for a device-level condition.
		if ctx.Err() != nil || !e.cfg.Probe.Online() {
			e.logger.Info("sync pass abandoned",
				slog.Int("remaining", len(pending)-int(completed.Load())),
			)

			break
		}

		var g errgroup.Group
		g.SetLimit(e.cfg.BatchSize)

		for _, entry := range batch {
			g.Go(func() error {
				outcome, c := e.processEntry(ctx, entry)

				mu.Lock()
				switch outcome {
				case outcomeSynced:
					report.Synced++
				case outcomeFailed:
					report.Failed++
				case outcomeConflict:
					report.Conflicts++
					passConflicts = append(passConflicts, c)
				}
				mu.Unlock()

				e.events.publish(Event{
					State: StateSyncing,
					Progress: &Progress{
						Completed: int(completed.Add(1)),
						Total:     len(pending),
						Current:   entry.LocalID,
					},
				})

				return nil
			})
		}

		// Workers never return errors; Wait is purely a join.
		_ = g.Wait()
	}

	e.mu.Lock()
	e.conflicts = passConflicts
	e.mu.Unlock()

	report.Duration = e.nowFunc().Sub(started)

	return report, nil
}

// processEntry runs one entry's conflict check immediately before its own
// upsert, then records the result on the queue. Record-level failures are
// stored on the record, never propagated, so one entry's permanent failure
// cannot abort the rest of the batch.
func (e *Engine) processEntry(ctx context.Context, entry *journal.Entry) (entryOutcome, *conflict.Conflict) {
	c, err := e.cfg.Detector.Detect(ctx, entry)
	if err != nil {
		e.recordFailure(ctx, entry, err)
		return outcomeFailed, nil
	}

	if c != nil {
		// Conflicted entries stay pending; sync for this record pauses
		// until the user picks a strategy.
		return outcomeConflict, c
	}

	res := retry.Do(ctx, e.cfg.Policy, "upsert "+entry.LocalID, func(ctx context.Context) (string, error) {
		return e.upsert(ctx, entry)
	})
	if !res.Success {
		e.recordFailure(ctx, entry, res.Err)
		return outcomeFailed, nil
	}

	if err := e.cfg.Queue.MarkSynced(ctx, entry.LocalID, res.Value); err != nil {
		// Local-storage failure: logged and aborted, never silently
		// dropped. The entry stays pending and is re-attempted next pass.
		e.logger.Error("could not mark entry synced",
			slog.String("local_id", entry.LocalID),
			slog.String("error", err.Error()),
		)

		return outcomeFailed, nil
	}

	return outcomeSynced, nil
}

// upsert writes one entry to the remote store, creating it when it has no
// remote id yet and updating in place when it does (a previously-synced
// entry that was re-queued).
func (e *Engine) upsert(ctx context.Context, entry *journal.Entry) (string, error) {
	if entry.RemoteID != "" {
		if err := e.cfg.Remote.Update(ctx, e.cfg.Collection, entry.RemoteID, journal.ToFields(entry)); err != nil {
			return "", err
		}

		return entry.RemoteID, nil
	}

	return e.cfg.Remote.Create(ctx, e.cfg.Collection, journal.ToFields(entry))
}

// recordFailure marks the entry failed, logging (but not propagating) any
// local-storage error.
func (e *Engine) recordFailure(ctx context.Context, entry *journal.Entry, cause error) {
	if err := e.cfg.Queue.MarkFailed(ctx, entry.LocalID, cause); err != nil {
		e.logger.Error("could not mark entry failed",
			slog.String("local_id", entry.LocalID),
			slog.String("error", err.Error()),
		)
	}
}

// buildBatches splits pending entries into fixed-size batches, preserving
// list order. Two entries for the same owner+date are never placed in the
// same batch: the second is deferred so its conflict check runs after the
// first entry's upsert has landed, keeping the detection-before-upsert
// guarantee under concurrent batch execution.
func buildBatches(entries []*journal.Entry, size int) [][]*journal.Entry {
	var batches [][]*journal.Entry

	remaining := entries

	for len(remaining) > 0 {
		batch := make([]*journal.Entry, 0, size)
		var deferred []*journal.Entry

		slots := make(map[string]bool, size)

		for _, entry := range remaining {
			key := entry.OwnerID + "\x00" + entry.EntryDate

			if len(batch) < size && !slots[key] {
				slots[key] = true
				batch = append(batch, entry)

				continue
			}

			deferred = append(deferred, entry)
		}

		batches = append(batches, batch)
		remaining = deferred
	}

	return batches
}
