package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/daybook-app/daybook-sync/internal/conflict"
	"github.com/daybook-app/daybook-sync/internal/engine"
)

var flagStrategy string

func newConflictsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "List sync conflicts, or resolve them with a strategy",
		Long: `Run a sync pass to surface current conflicts and list them.

With --resolve, apply one strategy to every surfaced conflict:

  use_local   overwrite the server entry with the local content
  use_server  keep the server entry, mark the local copy synced
  merge       keep local transcript, max sentiment, union of lists`,
		RunE: runConflicts,
	}

	cmd.Flags().StringVar(&flagStrategy, "resolve", "", "resolution strategy (use_local, use_server, merge)")

	return cmd
}

// conflictOutput is the JSON shape for one listed conflict.
type conflictOutput struct {
	LocalID         string `json:"local_id"`
	RemoteID        string `json:"remote_id"`
	Date            string `json:"date"`
	Type            string `json:"type"`
	LocalTranscript string `json:"local_transcript"`
	RemoteTranscript string `json:"remote_transcript"`
}

func runConflicts(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()

	// Conflicts are ephemeral; a fresh pass re-detects them from the
	// still-pending entries.
	if _, err := a.engine.SyncOnce(ctx); err != nil {
		if errors.Is(err, engine.ErrOffline) {
			return fmt.Errorf("cannot check conflicts while offline")
		}

		return err
	}

	conflicts := a.engine.Conflicts()

	if flagStrategy != "" {
		strategy, err := conflict.ParseStrategy(flagStrategy)
		if err != nil {
			return err
		}

		resolved, err := a.resolver.ResolveAll(ctx, conflicts, strategy)
		fmt.Printf("Resolved %d of %d conflicts.\n", resolved, len(conflicts))

		return err
	}

	return printConflicts(conflicts)
}

func printConflicts(conflicts []*conflict.Conflict) error {
	if flagJSON {
		out := make([]conflictOutput, 0, len(conflicts))

		for _, c := range conflicts {
			out = append(out, conflictOutput{
				LocalID:         c.Local.LocalID,
				RemoteID:        c.Remote.RemoteID,
				Date:            c.Local.EntryDate,
				Type:            string(c.Type),
				LocalTranscript: c.Local.Transcript,
				RemoteTranscript: c.Remote.Transcript,
			})
		}

		return json.NewEncoder(os.Stdout).Encode(out)
	}

	if len(conflicts) == 0 {
		fmt.Println("No conflicts.")
		return nil
	}

	fmt.Printf("%d conflicts:\n\n", len(conflicts))

	for _, c := range conflicts {
		fmt.Printf("  %s  %s  %s\n", c.Local.EntryDate, c.Type, c.Local.LocalID)
		fmt.Printf("    local:  %s\n", truncate(c.Local.Transcript, 60))
		fmt.Printf("    remote: %s\n\n", truncate(c.Remote.Transcript, 60))
	}

	fmt.Println("Resolve with: daybook-sync conflicts --resolve <use_local|use_server|merge>")

	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n] + "..."
}
