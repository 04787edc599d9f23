// Package poster implements the poster actor: a durable per-entity record of
// an ingested concert poster, its extracted metadata, band enrichment state,
// and the realtime status feed observers attach to.
package poster

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"bandaid/internal/blobstore"
	"bandaid/internal/entity"
	"bandaid/internal/identity"
	"bandaid/internal/logging"
	"bandaid/internal/services"
	"bandaid/internal/services/extraction"
	"bandaid/internal/statusfeed"
)

// Config keys stored in the entity partition.
const (
	ConfigPosterRef    = "posterRef"
	ConfigMetadataJSON = "metadataJSON"
	ConfigSlug         = "slug"
)

// StatusInitialized is the first entry of every poster's status history.
const StatusInitialized = "initialized"

const posterSchema = `
CREATE TABLE IF NOT EXISTS status_updates (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    status TEXT NOT NULL,
    created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    date TEXT,
    location TEXT,
    venue TEXT,
    upcoming INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS bands (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    description TEXT,
    genre TEXT,
    created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS links (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    url TEXT NOT NULL,
    title TEXT,
    summary TEXT,
    band_id INTEGER NOT NULL REFERENCES bands(id) ON DELETE CASCADE,
    created_at TEXT NOT NULL
)`

// Link is one external reference attached to a band.
type Link struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
	URL     string `json:"url"`
}

// Band is a band row with its links.
type Band struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Genre       string `json:"genre,omitempty"`
	Links       []Link `json:"links"`
}

// Event is one concert occurrence listed on the poster.
type Event struct {
	Venue    string `json:"venue"`
	Location string `json:"location"`
	Date     string `json:"date"`
	Upcoming bool   `json:"upcoming"`
}

// Detail is the full externally visible poster state.
type Detail struct {
	Slug     string  `json:"slug"`
	ImageURL string  `json:"imageUrl"`
	Bands    []Band  `json:"bands"`
	Events   []Event `json:"events"`
}

// Extractor turns poster image bytes into structured metadata.
type Extractor interface {
	ExtractMetadata(ctx context.Context, imageBytes []byte, contentType string) (extraction.Metadata, error)
}

// Enqueuer signals that an initialized poster is ready for enrichment.
type Enqueuer interface {
	Enqueue(ctx context.Context, posterID identity.ID) error
}

// Agent is the live actor for one poster entity. All mutations run through
// the entity partition's single-writer serialization.
type Agent struct {
	id      identity.ID
	storage *entity.Storage
	hub     *statusfeed.Hub
	deps    *Deps
	logger  *slog.Logger
}

// ID returns the poster's opaque identity.
func (a *Agent) ID() identity.ID { return a.id }

// Initialize resolves the image, extracts metadata, and persists the poster's
// initial state. It is a once-only operation; a second call fails with a
// conflict. Extraction yielding nothing usable propagates as not-found so the
// caller skips the poster instead of committing it.
func (a *Agent) Initialize(ctx context.Context, imageRef string) (string, error) {
	if _, err := a.storage.GetConfig(ctx, ConfigPosterRef); err == nil {
		return "", services.Wrap(services.ErrConflict, "poster", "initialize", "already initialized", nil)
	} else if !services.IsNotFound(err) {
		return "", err
	}

	blob, err := blobstore.Resolve(ctx, a.deps.Blobs, imageRef)
	if err != nil {
		return "", err
	}
	meta, err := a.deps.Extractor.ExtractMetadata(ctx, blob.Bytes, blob.ContentType)
	if err != nil {
		return "", err
	}

	// The extractor's slug suggestion is free-form text; only the normalized
	// form is ever stored or used for addressing.
	slug := identity.Slugify(meta.Slug)
	if slug == "" {
		return "", services.Wrap(services.ErrNotFound, "poster", "initialize", "no usable slug in metadata", nil)
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return "", services.Wrap(services.ErrInvariant, "poster", "initialize", "encode metadata", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	err = a.storage.Tx(ctx, func(tx *sql.Tx) error {
		for _, event := range meta.Events {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO events (date, location, venue, upcoming, created_at) VALUES (?, ?, ?, ?, ?)`,
				entity.NullableString(event.Date), entity.NullableString(event.Location),
				entity.NullableString(event.Venue), boolToInt(event.Upcoming), now); err != nil {
				return err
			}
		}
		for _, name := range meta.BandNames {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO bands (name, created_at) VALUES (?, ?)`, name, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("persist metadata: %w", err)
	}

	if err := a.storage.SetConfig(ctx, ConfigMetadataJSON, string(metaJSON)); err != nil {
		return "", err
	}
	if err := a.storage.SetConfig(ctx, ConfigSlug, slug); err != nil {
		return "", err
	}
	if err := a.storage.SetConfig(ctx, ConfigPosterRef, imageRef); err != nil {
		return "", err
	}

	if err := a.AddStatusUpdate(ctx, StatusInitialized); err != nil {
		return "", err
	}
	if a.deps.Enqueuer != nil {
		if err := a.deps.Enqueuer.Enqueue(ctx, a.id); err != nil {
			return "", fmt.Errorf("enqueue enrichment: %w", err)
		}
	}

	a.logger.Info("poster initialized",
		logging.String(logging.FieldSlug, slug),
		logging.Int("bands", len(meta.BandNames)),
		logging.Int("events", len(meta.Events)))
	return slug, nil
}

// GetConfig reads one config value from the partition.
func (a *Agent) GetConfig(ctx context.Context, key string) (string, error) {
	return a.storage.GetConfig(ctx, key)
}

// SetConfig writes one config value to the partition.
func (a *Agent) SetConfig(ctx context.Context, key, value string) error {
	return a.storage.SetConfig(ctx, key, value)
}

// Slug returns the poster's derived slug.
func (a *Agent) Slug(ctx context.Context) (string, error) {
	return a.storage.GetConfig(ctx, ConfigSlug)
}

// GetBandNames returns the current band names in submission order.
func (a *Agent) GetBandNames(ctx context.Context) ([]string, error) {
	rows, err := a.storage.Query(ctx, `SELECT name FROM bands ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list bands: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan band: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// UpdateBand enriches an existing band record. The band is addressed by its
// exact name; an unknown name is not-found. Links already present (by URL)
// are not appended again, so re-running an enrichment step stays idempotent.
func (a *Agent) UpdateBand(ctx context.Context, name, description, genre string, links []Link) error {
	return a.storage.Tx(ctx, func(tx *sql.Tx) error {
		var bandID int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM bands WHERE name = ? ORDER BY id LIMIT 1`, name).Scan(&bandID)
		if err == sql.ErrNoRows {
			return services.Wrap(services.ErrNotFound, "poster", "update band", name, nil)
		}
		if err != nil {
			return fmt.Errorf("find band %q: %w", name, err)
		}

		if description != "" {
			if _, err := tx.ExecContext(ctx, `UPDATE bands SET description = ? WHERE id = ?`, description, bandID); err != nil {
				return fmt.Errorf("update band description: %w", err)
			}
		}
		if genre != "" {
			if _, err := tx.ExecContext(ctx, `UPDATE bands SET genre = ? WHERE id = ?`, genre, bandID); err != nil {
				return fmt.Errorf("update band genre: %w", err)
			}
		}

		now := time.Now().UTC().Format(time.RFC3339Nano)
		for _, link := range links {
			url := strings.TrimSpace(link.URL)
			if url == "" {
				continue
			}
			var exists int
			err := tx.QueryRowContext(ctx, `SELECT 1 FROM links WHERE band_id = ? AND url = ?`, bandID, url).Scan(&exists)
			if err == nil {
				continue
			}
			if err != sql.ErrNoRows {
				return fmt.Errorf("check link: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO links (url, title, summary, band_id, created_at) VALUES (?, ?, ?, ?, ?)`,
				url, entity.NullableString(link.Title), entity.NullableString(link.Summary), bandID, now); err != nil {
				return fmt.Errorf("insert link: %w", err)
			}
		}
		return nil
	})
}

// AddStatusUpdate appends to the status history and broadcasts to observers.
// Broadcast is fire-and-forget; persistence is what defines history.
func (a *Agent) AddStatusUpdate(ctx context.Context, status string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := a.storage.Exec(ctx, `INSERT INTO status_updates (status, created_at) VALUES (?, ?)`, status, now); err != nil {
		return fmt.Errorf("append status: %w", err)
	}
	a.hub.Publish(status)
	return nil
}

// StatusHistory returns every status entry, oldest first.
func (a *Agent) StatusHistory(ctx context.Context) ([]string, error) {
	rows, err := a.storage.Query(ctx, `SELECT status FROM status_updates ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list status history: %w", err)
	}
	defer rows.Close()

	var history []string
	for rows.Next() {
		var status string
		if err := rows.Scan(&status); err != nil {
			return nil, fmt.Errorf("scan status: %w", err)
		}
		history = append(history, status)
	}
	return history, rows.Err()
}

// PublicPosterURL derives the browser-facing image URL.
func (a *Agent) PublicPosterURL(ctx context.Context) (string, error) {
	ref, err := a.storage.GetConfig(ctx, ConfigPosterRef)
	if err != nil {
		return "", err
	}
	return blobstore.PublicURL(a.deps.PublicHost, ref), nil
}

// Subscribe attaches a realtime observer to the poster's status feed.
func (a *Agent) Subscribe() *statusfeed.Subscription {
	return a.hub.Subscribe()
}

// Detail assembles the externally visible poster state.
func (a *Agent) Detail(ctx context.Context) (Detail, error) {
	var detail Detail

	slug, err := a.Slug(ctx)
	if err != nil && !services.IsNotFound(err) {
		return detail, err
	}
	detail.Slug = slug
	if detail.ImageURL, err = a.PublicPosterURL(ctx); err != nil && !services.IsNotFound(err) {
		return detail, err
	}

	if detail.Events, err = a.listEvents(ctx); err != nil {
		return detail, err
	}
	if detail.Bands, err = a.listBands(ctx); err != nil {
		return detail, err
	}
	return detail, nil
}

func (a *Agent) listEvents(ctx context.Context) ([]Event, error) {
	rows, err := a.storage.Query(ctx, `SELECT date, location, venue, upcoming FROM events ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var event Event
		var date, location, venue sql.NullString
		var upcoming int
		if err := rows.Scan(&date, &location, &venue, &upcoming); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		event.Date = date.String
		event.Location = location.String
		event.Venue = venue.String
		event.Upcoming = upcoming != 0
		events = append(events, event)
	}
	return events, rows.Err()
}

func (a *Agent) listBands(ctx context.Context) ([]Band, error) {
	rows, err := a.storage.Query(ctx, `SELECT id, name, description, genre FROM bands ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list bands: %w", err)
	}
	defer rows.Close()

	type bandRow struct {
		id   int64
		band Band
	}
	var bandRows []bandRow
	for rows.Next() {
		var row bandRow
		var description, genre sql.NullString
		if err := rows.Scan(&row.id, &row.band.Name, &description, &genre); err != nil {
			return nil, fmt.Errorf("scan band: %w", err)
		}
		row.band.Description = description.String
		row.band.Genre = genre.String
		row.band.Links = []Link{}
		bandRows = append(bandRows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range bandRows {
		linkRows, err := a.storage.Query(ctx,
			`SELECT url, title, summary FROM links WHERE band_id = ? ORDER BY id`, bandRows[i].id)
		if err != nil {
			return nil, fmt.Errorf("list links: %w", err)
		}
		for linkRows.Next() {
			var link Link
			var title, summary sql.NullString
			if err := linkRows.Scan(&link.URL, &title, &summary); err != nil {
				linkRows.Close()
				return nil, fmt.Errorf("scan link: %w", err)
			}
			link.Title = title.String
			link.Summary = summary.String
			bandRows[i].band.Links = append(bandRows[i].band.Links, link)
		}
		if err := linkRows.Err(); err != nil {
			linkRows.Close()
			return nil, err
		}
		linkRows.Close()
	}

	bands := make([]Band, 0, len(bandRows))
	for _, row := range bandRows {
		bands = append(bands, row.band)
	}
	return bands, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
