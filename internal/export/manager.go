package export

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/daybook-app/daybook-sync/internal/journal"
	"github.com/daybook-app/daybook-sync/internal/retry"
	"github.com/daybook-app/daybook-sync/internal/status"
)

// Manager fans synced entries out to the connected export services. Each
// service gets its own retry policy (shared backoff shape, service-specific
// condition) and its own per-entry status row, so one provider's outage
// never blocks another's exports.
type Manager struct {
	services []Service
	tracker  *status.Tracker
	logger   *slog.Logger

	// policies caches the per-service retry policy, keyed by Name.
	policies map[string]*retry.Policy

	// concurrency bounds ExportAll's parallelism across entries.
	concurrency int
}

// NewManager wires the given services to the status tracker. Retry options
// are shared across services; each policy gets the service's own condition.
func NewManager(services []Service, tracker *status.Tracker, opts retry.Options, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	policies := make(map[string]*retry.Policy, len(services))

	for _, svc := range services {
		svcOpts := opts
		svcOpts.Condition = svc.RetryCondition()
		policies[svc.Name()] = retry.NewPolicy(svcOpts, logger)
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = retry.DefaultConcurrency
	}

	return &Manager{
		services:    services,
		tracker:     tracker,
		logger:      logger,
		policies:    policies,
		concurrency: concurrency,
	}
}

// Services returns the registered services.
func (m *Manager) Services() []Service { return m.services }

// ExportEntry pushes one entry to every connected service that is due for an
// attempt. Never-synced and pending entries are always due; failed ones wait
// out their backoff ladder slot. Per-service failures are recorded on the
// status row and do not abort the other services.
func (m *Manager) ExportEntry(ctx context.Context, entry *journal.Entry) error {
	statuses, err := m.tracker.GetSummary(ctx, entry.LocalID)
	if err != nil {
		return err
	}

	var firstErr error

	for _, svc := range m.services {
		if !m.due(statuses, svc.Name()) {
			continue
		}

		if err := m.exportOne(ctx, svc, entry, statuses); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// ExportAll pushes a batch of entries to the connected services with bounded
// concurrency. Each service call already runs under its retry policy inside
// ExportEntry, so the batch layer never re-drives an entry. It returns the
// number of entries whose every due service succeeded; an entry with any
// failed service is left to the ladder, not counted.
func (m *Manager) ExportAll(ctx context.Context, entries []*journal.Entry) (int, error) {
	if len(m.services) == 0 || len(entries) == 0 {
		return 0, nil
	}

	var (
		g        errgroup.Group
		exported atomic.Int32
	)

	g.SetLimit(m.concurrency)

	for _, entry := range entries {
		g.Go(func() error {
			if err := m.ExportEntry(ctx, entry); err != nil {
				m.logger.Warn("entry export incomplete",
					slog.String("local_id", entry.LocalID),
					slog.String("error", err.Error()),
				)

				return nil
			}

			exported.Add(1)

			return nil
		})
	}

	// Workers never return errors; Wait is purely a join.
	_ = g.Wait()

	m.logger.Info("export batch complete",
		slog.Int("entries", len(entries)),
		slog.Int("exported", int(exported.Load())),
	)

	return int(exported.Load()), nil
}

// due reports whether a service should attempt this entry now: always for
// entries it has never seen or left pending, ladder-gated for failed ones,
// and never for already-synced ones.
func (m *Manager) due(summary *status.Summary, service string) bool {
	info, ok := summary.PerService[service]
	if !ok {
		return true
	}

	switch info.Status {
	case status.StateSynced:
		return false
	case status.StateFailed:
		return m.tracker.IsDueForRetry(&info)
	}

	return true
}

// exportOne runs one service's upsert under its retry policy and records the
// outcome on the entry's status row.
func (m *Manager) exportOne(ctx context.Context, svc Service, entry *journal.Entry, summary *status.Summary) error {
	name := svc.Name()

	if err := m.tracker.SetStatus(ctx, entry.LocalID, name, status.StatePending, "", summary.PerService[name].RetryCount); err != nil {
		return err
	}

	res := retry.Do(ctx, m.policies[name], name+" upsert "+entry.LocalID, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, svc.Upsert(ctx, entry)
	})

	if res.Success {
		return m.tracker.SetStatus(ctx, entry.LocalID, name, status.StateSynced, "", 0)
	}

	retryCount := summary.PerService[name].RetryCount + 1

	if err := m.tracker.SetStatus(ctx, entry.LocalID, name, status.StateFailed, res.Err.Error(), retryCount); err != nil {
		return err
	}

	return fmt.Errorf("export: %s: %w", name, res.Err)
}
