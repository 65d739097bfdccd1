package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/daybook-app/daybook-sync/internal/config"
	"github.com/daybook-app/daybook-sync/internal/conflict"
	"github.com/daybook-app/daybook-sync/internal/engine"
	"github.com/daybook-app/daybook-sync/internal/queue"
	"github.com/daybook-app/daybook-sync/internal/remote"
	"github.com/daybook-app/daybook-sync/internal/retry"
	"github.com/daybook-app/daybook-sync/internal/status"
)

// tokenEnvVar holds the remote store bearer token for CLI use.
const tokenEnvVar = "DAYBOOK_TOKEN"

// app bundles the assembled collaborators for one CLI invocation.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *queue.Store
	remote   *remote.Client
	tracker  *status.Tracker
	resolver *conflict.Resolver
	probe    *engine.PollingProbe
	engine   *engine.Engine
}

// envTokenSource reads the bearer token from the environment on every call,
// so a token rotated mid-watch is picked up without restart.
type envTokenSource struct{}

func (envTokenSource) Token() (string, error) {
	tok := os.Getenv(tokenEnvVar)
	if tok == "" {
		return "", fmt.Errorf("environment variable %s not set", tokenEnvVar)
	}

	return tok, nil
}

// staticIdentity satisfies the engine's auth collaborator with the owner id
// from config.
type staticIdentity struct {
	ownerID string
}

func (s staticIdentity) CurrentUserID() (string, error) {
	if s.ownerID == "" {
		return "", errors.New("no owner configured (set owner_id or pass --owner)")
	}

	return s.ownerID, nil
}

// newApp assembles the queue store, remote client, and engine from the
// loaded config. Callers must defer a.close().
func newApp() (*app, error) {
	cfg := loadedCfg
	logger := buildLogger()

	if cfg.RemoteBaseURL == "" {
		return nil, errors.New("remote_base_url is not configured")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	store, err := queue.NewStore(cfg.DBPath, logger)
	if err != nil {
		return nil, err
	}

	httpClient := defaultHTTPClient()
	remoteClient := remote.NewClient(cfg.RemoteBaseURL, httpClient, envTokenSource{}, logger)

	policy := retry.NewPolicy(retry.Options{Concurrency: cfg.Sync.Concurrency}, logger)

	probeURL := cfg.Sync.ProbeURL
	if probeURL == "" {
		probeURL = cfg.RemoteBaseURL
	}

	probe := engine.NewPollingProbe(probeURL, httpClient, 0, logger)

	detector := conflict.NewDetector(remoteClient, cfg.Collection, logger)
	resolver := conflict.NewResolver(store, remoteClient, cfg.Collection, policy, logger)
	tracker := status.NewTracker(store, logger)

	eng, err := engine.New(engine.Config{
		Queue:      store,
		Detector:   detector,
		Remote:     remoteClient,
		Collection: cfg.Collection,
		Policy:     policy,
		Identity:   staticIdentity{ownerID: cfg.OwnerID},
		Probe:      probe,
		Logger:     logger,

		SyncInterval:       cfg.SyncInterval(),
		StabilizationDelay: cfg.StabilizationDelay(),
		ErrorRetryDelay:    cfg.ErrorRetryDelay(),
		BatchSize:          cfg.Sync.BatchSize,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		remote:   remoteClient,
		tracker:  tracker,
		resolver: resolver,
		probe:    probe,
		engine:   eng,
	}, nil
}

// close releases the queue store, checkpointing the WAL first.
func (a *app) close() {
	if err := a.store.Checkpoint(); err != nil {
		a.logger.Warn("wal checkpoint failed", slog.String("error", err.Error()))
	}

	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing queue store failed", slog.String("error", err.Error()))
	}
}
