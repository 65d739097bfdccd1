package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/daybook-app/daybook-sync/internal/queue"
	"github.com/daybook-app/daybook-sync/internal/status"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [local-id]",
		Short: "Show queue counts, or per-service status for one entry",
		Long: `Without arguments, show the owner's queue counts per sync state.

With a local entry id, show that entry's per-service export status,
including the next scheduled retry for failed services.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runStatus,
	}
}

// statusOutput is the JSON shape for the no-argument form.
type statusOutput struct {
	State   string       `json:"state"`
	Online  bool         `json:"online"`
	Pending int          `json:"pending"`
	Synced  int          `json:"synced"`
	Failed  int          `json:"failed"`
	Total   int          `json:"total"`
	Exports []exportInfo `json:"exports,omitempty"`
}

type exportInfo struct {
	Service     string `json:"service"`
	Status      string `json:"status"`
	LastSyncAt  string `json:"last_sync_at,omitempty"`
	LastError   string `json:"last_error,omitempty"`
	RetryCount  int    `json:"retry_count,omitempty"`
	NextRetryAt string `json:"next_retry_at,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if len(args) == 1 {
		return printEntryStatus(cmd.Context(), a, args[0])
	}

	stats, err := a.engine.Stats(cmd.Context())
	if err != nil {
		return err
	}

	out := statusOutput{
		State:   string(a.engine.State()),
		Online:  a.probe.Online(),
		Pending: stats.Pending,
		Synced:  stats.Synced,
		Failed:  stats.Failed,
		Total:   stats.Total,
	}

	if flagJSON {
		return json.NewEncoder(os.Stdout).Encode(out)
	}

	printStatsText(out, stats)

	return nil
}

func printStatsText(out statusOutput, stats *queue.Stats) {
	fmt.Printf("State:   %s", out.State)

	if !out.Online {
		fmt.Print(" (offline)")
	}

	fmt.Println()
	fmt.Printf("Queue:   %d pending, %d synced, %d failed (%d total)\n",
		stats.Pending, stats.Synced, stats.Failed, stats.Total)

	if stats.Pending > 0 {
		fmt.Println("\nRun 'daybook-sync sync' to push pending entries.")
	}

	if stats.Failed > 0 {
		fmt.Println("Run 'daybook-sync retry' to re-queue failed entries.")
	}
}

// printEntryStatus shows one entry's per-service export status.
func printEntryStatus(ctx context.Context, a *app, localID string) error {
	entry, err := a.store.Get(ctx, localID)
	if err != nil {
		return err
	}

	if entry == nil {
		return fmt.Errorf("no entry with local id %q", localID)
	}

	summary, err := a.tracker.GetSummary(ctx, localID)
	if err != nil {
		return err
	}

	exports := make([]exportInfo, 0, len(summary.PerService))

	for _, info := range summary.PerService {
		ei := exportInfo{
			Service:    info.Service,
			Status:     string(info.Status),
			LastError:  info.LastError,
			RetryCount: info.RetryCount,
		}

		if info.LastSyncAt > 0 {
			ei.LastSyncAt = time.Unix(0, info.LastSyncAt).Format(time.RFC3339)
		}

		if info.NextRetryAt > 0 {
			ei.NextRetryAt = time.Unix(0, info.NextRetryAt).Format(time.RFC3339)
		}

		exports = append(exports, ei)
	}

	if flagJSON {
		return json.NewEncoder(os.Stdout).Encode(map[string]any{
			"local_id":   entry.LocalID,
			"entry_date": entry.EntryDate,
			"sync_state": entry.SyncState,
			"exports":    exports,
		})
	}

	fmt.Printf("Entry %s (%s): %s\n", entry.LocalID, entry.EntryDate, entry.SyncState)

	if len(exports) == 0 {
		fmt.Println("No export services have seen this entry.")
		return nil
	}

	for _, ei := range exports {
		fmt.Printf("  %-16s %s", ei.Service, ei.Status)

		switch status.State(ei.Status) {
		case status.StateSynced:
			fmt.Printf(" (last sync %s)", ei.LastSyncAt)
		case status.StateFailed:
			fmt.Printf(" (retry %d, next attempt %s): %s", ei.RetryCount, ei.NextRetryAt, ei.LastError)
		}

		fmt.Println()
	}

	return nil
}
