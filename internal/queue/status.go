package queue

import (
	"context"
	"fmt"

	"github.com/daybook-app/daybook-sync/internal/status"
)

// UpsertServiceStatus writes a per-service status row for an entry.
// Writes land immediately — status is read concurrently by UI code and the
// periodic scheduler, so there is no batching.
func (s *Store) UpsertServiceStatus(ctx context.Context, localID string, info *status.Info) error {
	_, err := s.statusStmts.upsert.ExecContext(ctx,
		localID, info.Service, string(info.Status),
		info.LastSyncAt, info.LastError,
		info.RetryCount, info.NextRetryAt, info.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("queue: upsert status %s/%s: %w", localID, info.Service, err)
	}

	return nil
}

// ListServiceStatuses returns all per-service status rows for an entry.
func (s *Store) ListServiceStatuses(ctx context.Context, localID string) ([]status.Info, error) {
	rows, err := s.statusStmts.list.QueryContext(ctx, localID)
	if err != nil {
		return nil, fmt.Errorf("queue: list statuses %s: %w", localID, err)
	}
	defer rows.Close()

	var infos []status.Info

	for rows.Next() {
		var (
			info  status.Info
			state string
		)

		err := rows.Scan(&info.Service, &state, &info.LastSyncAt,
			&info.LastError, &info.RetryCount, &info.NextRetryAt, &info.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("queue: scan status row: %w", err)
		}

		info.Status = status.State(state)
		infos = append(infos, info)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queue: iterate status rows: %w", err)
	}

	return infos, nil
}

// Compile-time interface check.
var _ status.Store = (*Store)(nil)
