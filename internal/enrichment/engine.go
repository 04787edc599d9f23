package enrichment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"bandaid/internal/config"
	"bandaid/internal/identity"
	"bandaid/internal/logging"
	"bandaid/internal/poster"
	"bandaid/internal/services"
	"bandaid/internal/services/catalog"
)

// CatalogClient is the slice of the catalog API the pipeline consumes.
type CatalogClient interface {
	SearchArtist(ctx context.Context, name string) (*catalog.Artist, error)
	TopTracks(ctx context.Context, artistID string) ([]string, error)
}

// PlaylistMaker creates a playlist on the configured catalog account.
type PlaylistMaker interface {
	CreatePlaylist(ctx context.Context, name, description string, trackIDs []string, posterID identity.ID) (catalog.Playlist, error)
}

// Deps carries the engine's collaborators.
type Deps struct {
	Ledger             *Ledger
	Posters            *poster.Agents
	Catalog            CatalogClient
	Playlists          PlaylistMaker
	PlaylistNamePrefix string
	Logger             *slog.Logger
}

// Settings controls worker count, retries, and timing.
type Settings struct {
	Workers            int
	StepTimeout        time.Duration
	MaxAttempts        int
	RetryBaseDelay     time.Duration
	RetryMaxDelay      time.Duration
	PollInterval       time.Duration
	ErrorRetryInterval time.Duration
}

// SettingsFromConfig translates the enrichment config section.
func SettingsFromConfig(cfg config.Enrichment) Settings {
	return Settings{
		Workers:            cfg.Workers,
		StepTimeout:        time.Duration(cfg.StepTimeoutSeconds) * time.Second,
		MaxAttempts:        cfg.RetryMaxAttempts,
		RetryBaseDelay:     time.Duration(cfg.RetryBaseDelayMS) * time.Millisecond,
		RetryMaxDelay:      time.Duration(cfg.RetryMaxDelayMS) * time.Millisecond,
		PollInterval:       time.Duration(cfg.PollInterval) * time.Second,
		ErrorRetryInterval: time.Duration(cfg.ErrorRetryInterval) * time.Second,
	}
}

// Engine drains the ledger with a bounded worker pool. It is the sole retry
// authority: steps fail fast and the engine decides whether to try again.
type Engine struct {
	deps     Deps
	settings Settings
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewEngine constructs the workflow engine.
func NewEngine(deps Deps, settings Settings) *Engine {
	if settings.Workers < 1 {
		settings.Workers = 1
	}
	return &Engine{
		deps:     deps,
		settings: settings,
		logger:   logging.NewComponentLogger(deps.Logger, "enrichment"),
	}
}

// Enqueue records a pending run for the poster. Satisfies the poster
// package's enqueue callback.
func (e *Engine) Enqueue(ctx context.Context, posterID identity.ID) error {
	return e.deps.Ledger.Enqueue(ctx, posterID)
}

// Stats exposes the ledger's run counts.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	return e.deps.Ledger.Stats(ctx)
}

// Start resets interrupted runs to pending and launches the worker pool.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return errors.New("engine already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.running = true
	e.mu.Unlock()

	reset, err := e.deps.Ledger.ResetInFlight(runCtx)
	if err != nil {
		e.Stop()
		return err
	}
	if reset > 0 {
		e.logger.Info("resumed interrupted runs", logging.Int("count", reset))
	}

	e.wg.Add(e.settings.Workers)
	for i := 0; i < e.settings.Workers; i++ {
		go e.runWorker(runCtx)
	}
	return nil
}

// Stop terminates the worker pool and waits for in-flight runs to unwind.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	cancel := e.cancel
	e.running = false
	e.cancel = nil
	e.mu.Unlock()

	cancel()
	e.wg.Wait()
}

func (e *Engine) runWorker(ctx context.Context) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		run, ok, err := e.deps.Ledger.NextPending(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.logger.Error("failed to claim next run", logging.Error(err))
			e.sleep(ctx, e.settings.ErrorRetryInterval)
			continue
		}
		if !ok {
			e.sleep(ctx, e.settings.PollInterval)
			continue
		}

		e.processRun(ctx, run)
	}
}

func (e *Engine) processRun(ctx context.Context, run *Run) {
	ctx = services.WithRunID(ctx, run.ID)
	ctx = services.WithEntityID(ctx, run.PosterID.String())
	logger := logging.WithContext(ctx, e.logger)

	err := e.execute(ctx, run)
	if err == nil {
		if markErr := e.deps.Ledger.MarkCompleted(ctx, run.ID); markErr != nil {
			logger.Error("failed to mark run completed", logging.Error(markErr))
			return
		}
		logger.Info("enrichment run completed")
		return
	}
	if errors.Is(err, context.Canceled) {
		// Shutdown mid-run; the claim is reset to pending on next start.
		return
	}
	if markErr := e.deps.Ledger.MarkFailed(ctx, run.ID, err.Error()); markErr != nil {
		logger.Error("failed to mark run failed", logging.Error(markErr))
	}
	logger.Error("enrichment run failed", logging.Error(err))
}

// runStep drives one memoized step through the retry policy. Only transient
// failures are retried; anything else propagates immediately and fails the
// run.
func runStep[T any](ctx context.Context, e *Engine, runID, stepName string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= e.settings.MaxAttempts; attempt++ {
		stepCtx := services.WithStep(ctx, stepName)
		if e.settings.StepTimeout > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(stepCtx, e.settings.StepTimeout)
			result, err := Do(stepCtx, e.deps.Ledger, runID, stepName, fn)
			cancel()
			if err == nil {
				return result, nil
			}
			lastErr = err
		} else {
			result, err := Do(stepCtx, e.deps.Ledger, runID, stepName, fn)
			if err == nil {
				return result, nil
			}
			lastErr = err
		}

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if !services.IsRetryable(lastErr) {
			return zero, fmt.Errorf("step %s: %w", stepName, lastErr)
		}
		if attempt == e.settings.MaxAttempts {
			break
		}
		delay := backoffDelay(e.settings.RetryBaseDelay, e.settings.RetryMaxDelay, attempt)
		e.logger.Warn("step failed; retrying",
			logging.String(logging.FieldStep, stepName),
			logging.Int("attempt", attempt),
			logging.Duration("delay", delay),
			logging.Error(lastErr))
		if !e.sleep(ctx, delay) {
			return zero, ctx.Err()
		}
	}
	return zero, fmt.Errorf("step %s exhausted %d attempts: %w", stepName, e.settings.MaxAttempts, lastErr)
}

func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if max > 0 && delay >= max {
			return max
		}
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
