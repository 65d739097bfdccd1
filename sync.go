package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/daybook-app/daybook-sync/internal/engine"
)

var flagWatch bool

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync pending journal entries to the remote store",
		Long: `Run one sync pass over the owner's pending entries.

With --watch, keep running: react to connectivity changes, sync on the
periodic timer, and retry after errors until interrupted.`,
		RunE: runSync,
	}

	cmd.Flags().BoolVar(&flagWatch, "watch", false, "keep syncing until interrupted")

	return cmd
}

func runSync(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if flagWatch {
		return runWatch(cmd.Context(), a)
	}

	report, err := a.engine.SyncOnce(cmd.Context())
	if err != nil {
		if errors.Is(err, engine.ErrOffline) {
			fmt.Println("Offline; entries stay queued until connectivity returns.")
			return nil
		}

		return err
	}

	printReport(report)

	if report.Failed > 0 {
		os.Exit(1)
	}

	return nil
}

// runWatch runs the probe and the scheduler until SIGINT/SIGTERM.
func runWatch(parent context.Context, a *app) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Trigger an immediate first pass; the scheduler alone would wait a
	// full interval.
	if err := a.engine.TriggerSync(); err != nil && !errors.Is(err, engine.ErrOffline) {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.probe.Run(ctx)
		return nil
	})

	g.Go(func() error {
		return a.engine.Run(ctx)
	})

	return g.Wait()
}

func printReport(r *engine.Report) {
	if r.Total == 0 {
		fmt.Println("Nothing to sync.")
		return
	}

	fmt.Printf("Synced %d of %d entries in %s", r.Synced, r.Total, r.Duration.Round(time.Millisecond))

	if r.Conflicts > 0 {
		fmt.Printf(", %d conflicts (run 'daybook-sync conflicts' to resolve)", r.Conflicts)
	}

	if r.Failed > 0 {
		fmt.Printf(", %d failed (run 'daybook-sync retry' to re-queue)", r.Failed)
	}

	fmt.Println()
}
