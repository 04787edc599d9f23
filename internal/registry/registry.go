// Package registry is the orchestrator singleton: it mints poster
// identities, owns the slug index, and coordinates poster creation and
// destruction. Slugs are an addressing layer over opaque identities and are
// never used as storage keys.
package registry

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"bandaid/internal/entity"
	"bandaid/internal/identity"
	"bandaid/internal/logging"
	"bandaid/internal/poster"
	"bandaid/internal/services"
)

const registrySchema = `
CREATE TABLE IF NOT EXISTS poster_submissions (
    id TEXT PRIMARY KEY,
    image_ref TEXT NOT NULL,
    slug TEXT UNIQUE,
    created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
)`

// Registry coordinates poster lifecycle across the slug index and the
// per-poster actors.
type Registry struct {
	storage *entity.Storage
	agents  *poster.Agents
	logger  *slog.Logger
}

// Listing is one entry of the poster listing.
type Listing struct {
	Slug      string `json:"slug"`
	PosterURL string `json:"posterUrl"`
}

// New opens the registry's own partition inside the arena and prepares the
// slug index.
func New(ctx context.Context, arena *entity.Arena, agents *poster.Agents, logger *slog.Logger) (*Registry, error) {
	storage, err := arena.Open(ctx, identity.FromName("registry"))
	if err != nil {
		return nil, fmt.Errorf("open registry partition: %w", err)
	}
	if err := storage.ApplySchema(ctx, registrySchema); err != nil {
		return nil, err
	}
	return &Registry{
		storage: storage,
		agents:  agents,
		logger:  logging.NewComponentLogger(logger, "registry"),
	}, nil
}

// SubmitPoster mints a fresh identity, initializes the poster from the image
// reference, and commits the slug mapping. Unusable images are skipped (the
// provisional entity is torn down and not-found propagates). A slug already
// held by a live poster is a conflict; the freshly initialized poster is
// torn down so no orphan partition survives.
func (r *Registry) SubmitPoster(ctx context.Context, imageRef string) (string, error) {
	id := identity.NewID()
	ctx = services.WithEntityID(ctx, id.String())

	if _, err := r.storage.Exec(ctx,
		`INSERT INTO poster_submissions (id, image_ref) VALUES (?, ?)`, id.String(), imageRef); err != nil {
		return "", fmt.Errorf("record submission: %w", err)
	}

	agent, err := r.agents.Create(ctx, id)
	if err != nil {
		r.abandonSubmission(ctx, id)
		return "", err
	}
	slug, err := agent.Initialize(ctx, imageRef)
	if err != nil {
		r.abandonSubmission(ctx, id)
		return "", err
	}

	if _, err := r.storage.Exec(ctx,
		`UPDATE poster_submissions SET slug = ? WHERE id = ?`, slug, id.String()); err != nil {
		r.abandonSubmission(ctx, id)
		if entity.IsUniqueViolation(err) {
			return "", services.Wrap(services.ErrConflict, "registry", "submit", "slug already exists: "+slug, nil)
		}
		return "", fmt.Errorf("commit slug: %w", err)
	}

	r.logger.Info("poster submitted",
		logging.String(logging.FieldEntityID, id.String()),
		logging.String(logging.FieldSlug, slug))
	return slug, nil
}

// abandonSubmission rolls a failed submission back: the provisional entity
// is wiped and its index row removed. Best effort; a leftover row without a
// slug is unreachable and harmless.
func (r *Registry) abandonSubmission(ctx context.Context, id identity.ID) {
	if err := r.agents.TearDown(ctx, id); err != nil {
		r.logger.Warn("tear down of abandoned submission failed",
			logging.String(logging.FieldEntityID, id.String()), logging.Error(err))
	}
	if _, err := r.storage.Exec(ctx,
		`DELETE FROM poster_submissions WHERE id = ?`, id.String()); err != nil {
		r.logger.Warn("remove abandoned submission failed",
			logging.String(logging.FieldEntityID, id.String()), logging.Error(err))
	}
}

// GetIdentityForSlug translates a slug to its poster identity.
func (r *Registry) GetIdentityForSlug(ctx context.Context, slug string) (identity.ID, error) {
	var raw string
	err := r.storage.QueryRow(ctx,
		`SELECT id FROM poster_submissions WHERE slug = ?`, slug).Scan(&raw)
	if err == sql.ErrNoRows {
		return "", services.Wrap(services.ErrNotFound, "registry", "resolve slug", slug, nil)
	}
	if err != nil {
		return "", fmt.Errorf("resolve slug %q: %w", slug, err)
	}
	return identity.ID(raw), nil
}

// GetPoster returns the live actor behind a slug.
func (r *Registry) GetPoster(ctx context.Context, slug string) (*poster.Agent, error) {
	id, err := r.GetIdentityForSlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	return r.agents.Get(ctx, id)
}

// ListPosters returns all addressable posters, newest first. An entry whose
// partition lookup fails is degraded to an empty poster URL rather than
// failing the listing.
func (r *Registry) ListPosters(ctx context.Context) ([]Listing, error) {
	rows, err := r.storage.Query(ctx,
		`SELECT id, slug FROM poster_submissions WHERE slug IS NOT NULL ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list posters: %w", err)
	}
	defer rows.Close()

	var listings []Listing
	type entry struct {
		id   identity.ID
		slug string
	}
	var entries []entry
	for rows.Next() {
		var e entry
		var raw string
		if err := rows.Scan(&raw, &e.slug); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		e.id = identity.ID(raw)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, e := range entries {
		listing := Listing{Slug: e.slug}
		agent, err := r.agents.Get(ctx, e.id)
		if err == nil {
			if url, urlErr := agent.PublicPosterURL(ctx); urlErr == nil {
				listing.PosterURL = url
			}
		} else if !services.IsNotFound(err) {
			r.logger.Warn("poster lookup degraded in listing",
				logging.String(logging.FieldSlug, e.slug), logging.Error(err))
		}
		listings = append(listings, listing)
	}
	return listings, nil
}

// DeleteAllPosters tears down every poster and its index entry. Partial
// completion is exposed through the counts; the operation can be re-run
// until failed reaches zero.
func (r *Registry) DeleteAllPosters(ctx context.Context) (deleted, failed int, err error) {
	rows, err := r.storage.Query(ctx, `SELECT id FROM poster_submissions`)
	if err != nil {
		return 0, 0, fmt.Errorf("list submissions: %w", err)
	}
	var ids []identity.ID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			rows.Close()
			return 0, 0, fmt.Errorf("scan submission: %w", err)
		}
		ids = append(ids, identity.ID(raw))
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, 0, err
	}
	rows.Close()

	for _, id := range ids {
		if err := r.agents.TearDown(ctx, id); err != nil {
			failed++
			r.logger.Warn("poster tear down failed",
				logging.String(logging.FieldEntityID, id.String()), logging.Error(err))
			continue
		}
		if _, err := r.storage.Exec(ctx,
			`DELETE FROM poster_submissions WHERE id = ?`, id.String()); err != nil {
			failed++
			r.logger.Warn("slug index removal failed",
				logging.String(logging.FieldEntityID, id.String()), logging.Error(err))
			continue
		}
		deleted++
	}
	r.logger.Info("delete all posters finished",
		logging.Int("deleted", deleted), logging.Int("failed", failed))
	return deleted, failed, nil
}
