// Package daemon wires the subsystems together and enforces single-instance
// execution via a lock file.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"bandaid/internal/account"
	"bandaid/internal/api"
	"bandaid/internal/blobstore"
	"bandaid/internal/config"
	"bandaid/internal/enrichment"
	"bandaid/internal/entity"
	"bandaid/internal/identity"
	"bandaid/internal/ingest"
	"bandaid/internal/logging"
	"bandaid/internal/poster"
	"bandaid/internal/registry"
	"bandaid/internal/services/catalog"
	"bandaid/internal/services/extraction"
)

// Daemon owns the long-running services: the enrichment engine, the upload
// consumer, and the HTTP API.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	arena    *entity.Arena
	agents   *poster.Agents
	registry *registry.Registry
	accounts *account.Manager
	ledger   *enrichment.Ledger
	engine   *enrichment.Engine
	consumer *ingest.Consumer
	server   *api.Server

	lock   *flock.Flock
	cancel context.CancelFunc

	running atomic.Bool
}

// enqueueProxy breaks the agents/engine construction cycle: agents need an
// enqueue callback before the engine exists.
type enqueueProxy struct {
	engine *enrichment.Engine
}

func (p *enqueueProxy) Enqueue(ctx context.Context, posterID identity.ID) error {
	if p.engine == nil {
		return errors.New("enrichment engine not ready")
	}
	return p.engine.Enqueue(ctx, posterID)
}

// accountPlaylists resolves the configured catalog account lazily so the
// daemon starts even before the account is linked.
type accountPlaylists struct {
	accounts  *account.Manager
	accountID string
}

func (p *accountPlaylists) CreatePlaylist(ctx context.Context, name, description string, trackIDs []string, posterID identity.ID) (catalog.Playlist, error) {
	acct, err := p.accounts.GetOrCreate(ctx, p.accountID)
	if err != nil {
		return catalog.Playlist{}, err
	}
	return acct.CreatePlaylist(ctx, name, description, trackIDs, posterID)
}

// New constructs the daemon and all of its subsystems.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	arena, err := entity.NewArena(cfg.EntitiesDir())
	if err != nil {
		return nil, err
	}

	var blobs blobstore.Store
	if cfg.Blob.Bucket != "" {
		store, err := blobstore.NewS3Store(ctx, blobstore.Config{
			Bucket:     cfg.Blob.Bucket,
			Region:     cfg.Blob.Region,
			Endpoint:   cfg.Blob.Endpoint,
			PublicHost: cfg.Blob.PublicHost,
		})
		if err != nil {
			_ = arena.Close()
			return nil, err
		}
		blobs = store
	}

	extractor := extraction.NewClient(extraction.Config{
		APIKey:         cfg.Extraction.APIKey,
		BaseURL:        cfg.Extraction.BaseURL,
		Model:          cfg.Extraction.Model,
		TimeoutSeconds: cfg.Extraction.TimeoutSeconds,
	})
	catalogCfg := catalog.Config{
		BaseURL:        cfg.Catalog.BaseURL,
		TokenURL:       cfg.Catalog.TokenURL,
		ClientID:       cfg.Catalog.ClientID,
		ClientSecret:   cfg.Catalog.ClientSecret,
		Market:         cfg.Catalog.Market,
		TimeoutSeconds: cfg.Catalog.TimeoutSeconds,
	}
	catalogClient := catalog.NewClient(catalogCfg)
	refresher := catalog.NewTokenRefresher(catalogCfg, &http.Client{
		Timeout: time.Duration(cfg.Catalog.TimeoutSeconds) * time.Second,
	})

	proxy := &enqueueProxy{}
	agents := poster.NewAgents(poster.Deps{
		Arena:      arena,
		Blobs:      blobs,
		Extractor:  extractor,
		Enqueuer:   proxy,
		PublicHost: cfg.Blob.PublicHost,
		Logger:     logger,
	})
	reg, err := registry.New(ctx, arena, agents, logger)
	if err != nil {
		_ = arena.Close()
		return nil, err
	}
	accounts := account.NewManager(arena, refresher, catalogClient, logger)

	ledger, err := enrichment.OpenLedger(cfg.LedgerPath())
	if err != nil {
		_ = arena.Close()
		return nil, err
	}
	engine := enrichment.NewEngine(enrichment.Deps{
		Ledger:  ledger,
		Posters: agents,
		Catalog: catalogClient,
		Playlists: &accountPlaylists{
			accounts:  accounts,
			accountID: cfg.Catalog.AccountID,
		},
		PlaylistNamePrefix: cfg.Catalog.PlaylistNamePrefix,
		Logger:             logger,
	}, enrichment.SettingsFromConfig(cfg.Enrichment))
	proxy.engine = engine

	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		arena:    arena,
		agents:   agents,
		registry: reg,
		accounts: accounts,
		ledger:   ledger,
		engine:   engine,
		lock:     flock.New(cfg.LockFilePath()),
	}

	if cfg.Ingest.Enabled {
		d.consumer = ingest.NewConsumer(ingest.NewReader(cfg.Ingest), reg, logger)
	}
	if cfg.Paths.APIBind != "" {
		d.server = api.NewServer(cfg.Paths.APIBind, api.Deps{
			Registry: reg,
			Accounts: accounts,
			Status:   d.Status,
			Logger:   logger,
		})
	}
	return d, nil
}

// Registry exposes the orchestrator for embedding callers.
func (d *Daemon) Registry() *registry.Registry { return d.registry }

// Accounts exposes the catalog account manager.
func (d *Daemon) Accounts() *account.Manager { return d.accounts }

// Status reports daemon runtime information.
func (d *Daemon) Status(ctx context.Context) (api.Status, error) {
	stats, err := d.ledger.Stats(ctx)
	if err != nil {
		return api.Status{}, err
	}
	return api.Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		DataDir:      d.cfg.Paths.DataDir,
		LockFilePath: d.cfg.LockFilePath(),
		Runs:         stats,
	}, nil
}

// Start acquires the instance lock and launches the services.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another bandaid daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.engine.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start engine: %w", err)
	}
	if d.consumer != nil {
		go func() {
			if err := d.consumer.Run(runCtx); err != nil {
				d.logger.Error("upload consumer stopped", logging.Error(err))
			}
		}()
	}
	if d.server != nil {
		if err := d.server.Start(runCtx); err != nil {
			d.engine.Stop()
			cancel()
			_ = d.lock.Unlock()
			return err
		}
	}

	d.running.Store(true)
	d.logger.Info("daemon started", logging.String("lock", d.cfg.LockFilePath()))
	return nil
}

// Stop shuts the services down and releases the instance lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.server != nil {
		d.server.Stop()
	}
	d.engine.Stop()
	if d.consumer != nil {
		if err := d.consumer.Close(); err != nil {
			d.logger.Warn("close upload consumer", logging.Error(err))
		}
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("daemon stopped")
}

// Close stops the daemon and releases storage.
func (d *Daemon) Close() error {
	d.Stop()
	if err := d.ledger.Close(); err != nil {
		return err
	}
	return d.arena.Close()
}
