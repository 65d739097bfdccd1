package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/daybook-app/daybook-sync/internal/export"
	"github.com/daybook-app/daybook-sync/internal/retry"
)

var flagPush bool

func newExportsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exports",
		Short: "Show export integration status, or push synced entries",
		Long: `Show each configured integration's connection status.

With --push, send the owner's synced entries to every connected service
that is due for an attempt. Services that recently failed wait out their
backoff schedule and are skipped until it elapses.`,
		RunE: runExports,
	}

	cmd.Flags().BoolVar(&flagPush, "push", false, "push synced entries to connected services")

	return cmd
}

// buildExportServices assembles the integrations configured in the exports
// config section. Unconfigured integrations are simply absent.
func buildExportServices(a *app) ([]export.Service, error) {
	var services []export.Service

	httpClient := defaultHTTPClient()

	if cfg := a.cfg.Exports.Notion; cfg.DatabaseID != "" {
		tokens, err := fileTokenSource(cfg.TokenPath)
		if err != nil {
			return nil, fmt.Errorf("notion token: %w", err)
		}

		services = append(services, export.NewNotion(httpClient, tokens, cfg.DatabaseID, a.logger))
	}

	if cfg := a.cfg.Exports.Calendar; cfg.CalendarID != "" {
		tokens, err := fileTokenSource(cfg.TokenPath)
		if err != nil {
			return nil, fmt.Errorf("google calendar token: %w", err)
		}

		services = append(services, export.NewGoogleCalendar(httpClient, tokens, cfg.CalendarID, a.logger))
	}

	return services, nil
}

// fileTokenSource reads an access token from a file. Token refresh is the
// connect flow's job; the sync CLI only consumes stored tokens.
func fileTokenSource(path string) (oauth2.TokenSource, error) {
	if path == "" {
		return nil, errors.New("token_path is not configured")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: strings.TrimSpace(string(raw)),
	}), nil
}

func runExports(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()

	services, err := buildExportServices(a)
	if err != nil {
		return err
	}

	if len(services) == 0 {
		fmt.Println("No export integrations configured.")
		return nil
	}

	if flagPush {
		return pushExports(ctx, a, services)
	}

	for _, svc := range services {
		st, err := svc.Status(ctx)
		if err != nil {
			return fmt.Errorf("checking %s: %w", svc.Name(), err)
		}

		if !st.Connected {
			fmt.Printf("%-16s disconnected\n", svc.Name())
			continue
		}

		last := "never"
		if !st.LastSyncAt.IsZero() {
			last = st.LastSyncAt.Format(time.RFC3339)
		}

		fmt.Printf("%-16s connected to %s (last sync %s)\n", svc.Name(), st.RemoteCollection, last)
	}

	return nil
}

func pushExports(ctx context.Context, a *app, services []export.Service) error {
	ownerID := a.cfg.OwnerID
	if ownerID == "" {
		return errors.New("no owner configured (set owner_id or pass --owner)")
	}

	entries, err := a.store.ListSynced(ctx, ownerID)
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Println("No synced entries to export.")
		return nil
	}

	manager := export.NewManager(services, a.tracker,
		retry.Options{Concurrency: a.cfg.Sync.Concurrency}, a.logger)

	exported, err := manager.ExportAll(ctx, entries)
	if err != nil {
		return err
	}

	fmt.Printf("Exported %d of %d entries across %d services.\n", exported, len(entries), len(services))

	return nil
}
