package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/daybook-app/daybook-sync/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagOwner      string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// loadedCfg holds the configuration loaded by PersistentPreRunE, available
// to all subcommands after the root pre-run phase completes.
var loadedCfg *config.Config

// httpClientTimeout is the default timeout for HTTP requests. Prevents hung
// connections from blocking CLI commands indefinitely.
const httpClientTimeout = 30 * time.Second

// defaultHTTPClient returns an HTTP client with a sensible timeout.
func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: httpClientTimeout}
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "daybook-sync",
		Short:   "Offline-first sync engine for daybook journal entries",
		Long:    "Syncs locally-queued journal entries to the remote store, detects and resolves conflicts, and tracks per-service export status.",
		Version: version,
		// Silence Cobra's default error/usage printing — we handle it ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(flagConfigPath)
			if err != nil {
				return err
			}

			if flagOwner != "" {
				cfg.OwnerID = flagOwner
			}

			loadedCfg = cfg

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagOwner, "owner", "", "owner id override")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newConflictsCmd())
	cmd.AddCommand(newRetryCmd())
	cmd.AddCommand(newExportsCmd())
	cmd.AddCommand(newGCCmd())

	return cmd
}

// buildLogger creates an slog.Logger configured by the loaded config and CLI
// flags. Config-file log level provides the baseline; --verbose and --quiet
// override it because CLI flags always win. Interactive terminals get the
// text handler, pipes and files get JSON, unless the config forces a format.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo

	if loadedCfg != nil {
		switch loadedCfg.Logging.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	format := ""
	if loadedCfg != nil {
		format = loadedCfg.Logging.LogFormat
	}

	opts := &slog.HandlerOptions{Level: level}

	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}

	if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
