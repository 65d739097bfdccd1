package conflict

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/daybook-app/daybook-sync/internal/journal"
	"github.com/daybook-app/daybook-sync/internal/remote"
	"github.com/daybook-app/daybook-sync/internal/retry"
)

// Strategy selects how a conflict is resolved. All three are user-driven;
// conflicts are never auto-resolved silently.
type Strategy string

// Resolution strategies.
const (
	// StrategyUseLocal overwrites the remote entry's mutable fields with
	// the local entry's fields.
	StrategyUseLocal Strategy = "use_local"

	// StrategyUseServer leaves the remote entry untouched and adopts its
	// id for the local entry.
	StrategyUseServer Strategy = "use_server"

	// StrategyMerge combines both: transcript prefers local, sentiment
	// takes the max, list fields are unioned.
	StrategyMerge Strategy = "merge"
)

// IsValid reports whether the strategy is recognized.
func (s Strategy) IsValid() bool {
	switch s {
	case StrategyUseLocal, StrategyUseServer, StrategyMerge:
		return true
	default:
		return false
	}
}

// ParseStrategy converts a user-supplied string to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	strategy := Strategy(s)
	if !strategy.IsValid() {
		return "", fmt.Errorf("conflict: unknown strategy %q (want use_local, use_server, or merge)", s)
	}

	return strategy, nil
}

// Queue is the slice of the durable queue the resolver needs. Implemented
// by *queue.Store.
type Queue interface {
	Get(ctx context.Context, localID string) (*journal.Entry, error)
	MarkSynced(ctx context.Context, localID, remoteID string) error
}

// Resolver executes resolution strategies. All remote writes go through the
// retry policy, and every strategy is idempotent: re-resolving an
// already-resolved conflict is a safe no-op.
type Resolver struct {
	queue      Queue
	store      remote.Store
	collection string
	policy     *retry.Policy
	logger     *slog.Logger
}

// NewResolver creates a Resolver writing to the given remote collection.
func NewResolver(q Queue, store remote.Store, collection string, policy *retry.Policy, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}

	return &Resolver{
		queue:      q,
		store:      store,
		collection: collection,
		policy:     policy,
		logger:     logger,
	}
}

// Resolve applies the chosen strategy to a conflict. The local entry is
// re-read first: if it is no longer pending the conflict was already
// resolved (or the entry was deleted) and Resolve returns without touching
// anything.
func (r *Resolver) Resolve(ctx context.Context, c *Conflict, strategy Strategy) error {
	if !strategy.IsValid() {
		return fmt.Errorf("conflict: unknown strategy %q", strategy)
	}

	current, err := r.queue.Get(ctx, c.Local.LocalID)
	if err != nil {
		return err
	}

	if current == nil {
		r.logger.Warn("conflict entry no longer exists, nothing to resolve",
			slog.String("local_id", c.Local.LocalID))
		return nil
	}

	if current.SyncState != journal.SyncStatePending {
		r.logger.Debug("conflict already resolved",
			slog.String("local_id", current.LocalID),
			slog.String("sync_state", string(current.SyncState)),
		)

		return nil
	}

	r.logger.Info("resolving conflict",
		slog.String("local_id", current.LocalID),
		slog.String("remote_id", c.Remote.RemoteID),
		slog.String("strategy", string(strategy)),
	)

	switch strategy {
	case StrategyUseLocal:
		return r.writeAndAdopt(ctx, current, c.Remote.RemoteID, current, "resolve use_local")
	case StrategyUseServer:
		// Server version wins: remote untouched, local adopts its id.
		return r.queue.MarkSynced(ctx, current.LocalID, c.Remote.RemoteID)
	case StrategyMerge:
		merged := Merge(current, c.Remote)
		return r.writeAndAdopt(ctx, current, c.Remote.RemoteID, merged, "resolve merge")
	default:
		return fmt.Errorf("conflict: unknown strategy %q", strategy)
	}
}

// writeAndAdopt patches the remote entry with content's fields through the
// retry policy, then marks the local entry synced against the remote id.
func (r *Resolver) writeAndAdopt(ctx context.Context, local *journal.Entry, remoteID string, content *journal.Entry, opName string) error {
	res := retry.Do(ctx, r.policy, opName, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.store.Update(ctx, r.collection, remoteID, journal.ToFields(content))
	})
	if !res.Success {
		return fmt.Errorf("conflict: writing resolution for %s: %w", local.LocalID, res.Err)
	}

	return r.queue.MarkSynced(ctx, local.LocalID, remoteID)
}

// ResolveAll applies one strategy to every conflict in the batch. It does
// not abort on first failure; the returned count is the number resolved
// successfully, with individual failures joined into the returned error.
func (r *Resolver) ResolveAll(ctx context.Context, conflicts []*Conflict, strategy Strategy) (int, error) {
	var (
		resolved int
		errs     []error
	)

	for _, c := range conflicts {
		if err := r.Resolve(ctx, c, strategy); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.Local.LocalID, err))
			continue
		}

		resolved++
	}

	if len(errs) > 0 {
		r.logger.Warn("bulk resolution partially failed",
			slog.Int("resolved", resolved),
			slog.Int("failed", len(errs)),
		)
	}

	return resolved, errors.Join(errs...)
}
