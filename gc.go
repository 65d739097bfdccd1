package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var flagRetentionDays int

func newGCCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Purge old synced entries from the local queue",
		Long: `Delete synced entries older than the retention window and checkpoint
the database. Pending and failed entries are never purged.`,
		RunE: runGC,
	}

	cmd.Flags().IntVar(&flagRetentionDays, "retention-days", 0, "override configured retention window")

	return cmd
}

func runGC(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	retention := a.cfg.Retention()
	if flagRetentionDays > 0 {
		retention = time.Duration(flagRetentionDays) * 24 * time.Hour
	}

	purged, err := a.store.PurgeSynced(cmd.Context(), retention)
	if err != nil {
		return err
	}

	fmt.Printf("Purged %d synced entries older than %s.\n", purged, retention)

	return nil
}
