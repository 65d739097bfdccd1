package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Re-queue failed entries and sync them",
		Long: `Move the owner's failed entries back to pending and run a sync pass.

Failed entries are excluded from normal sync passes; this command is how
they re-enter the queue after the underlying problem is fixed.`,
		RunE: runRetry,
	}
}

func runRetry(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()

	requeued, err := a.engine.RetryFailed(ctx)
	if err != nil {
		return err
	}

	if requeued == 0 {
		fmt.Println("No failed entries.")
		return nil
	}

	fmt.Printf("Re-queued %d entries.\n", requeued)

	report, err := a.engine.SyncOnce(ctx)
	if err != nil {
		return err
	}

	printReport(report)

	return nil
}
