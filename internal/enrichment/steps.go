package enrichment

import (
	"context"
	"strings"

	"bandaid/internal/poster"
	"bandaid/internal/services"
	"bandaid/internal/services/catalog"
)

// Step names. Per-band steps suffix the band name so each branch memoizes
// independently.
const (
	stepResolveIdentity = "resolve-identity"
	stepFetchBandNames  = "fetch-band-names"
	stepFindArtist      = "find-artist:"
	stepUpdateBandInfo  = "update-band-info:"
	stepFetchTopTracks  = "fetch-top-tracks:"
	stepCreatePlaylist  = "create-playlist"
)

// playlistResult is the recorded outcome of the final step.
type playlistResult struct {
	PlaylistID  string `json:"playlistId,omitempty"`
	PlaylistURL string `json:"playlistUrl,omitempty"`
	TrackCount  int    `json:"trackCount"`
}

// execute drives one run through the pipeline. Steps are strictly
// sequential; recorded steps short-circuit, so a resumed run picks up where
// it left off.
func (e *Engine) execute(ctx context.Context, run *Run) error {
	agent, err := e.deps.Posters.Get(ctx, run.PosterID)
	if err != nil {
		if services.IsNotFound(err) {
			// The poster was torn down while queued. Nothing to enrich and
			// nothing to retry.
			return services.Wrap(services.ErrFatal, "enrichment", stepResolveIdentity, "poster entity gone", err)
		}
		return err
	}

	slug, err := runStep(ctx, e, run.ID, stepResolveIdentity, func(ctx context.Context) (string, error) {
		return agent.Slug(ctx)
	})
	if err != nil {
		return err
	}

	bands, err := runStep(ctx, e, run.ID, stepFetchBandNames, func(ctx context.Context) ([]string, error) {
		return agent.GetBandNames(ctx)
	})
	if err != nil {
		return err
	}

	var trackIDs []string
	for _, band := range bands {
		tracks, err := e.enrichBand(ctx, run.ID, agent, band)
		if err != nil {
			return err
		}
		trackIDs = append(trackIDs, tracks...)
	}

	if len(trackIDs) == 0 {
		_ = agent.AddStatusUpdate(ctx, "No tracks found")
		return nil
	}

	result, err := runStep(ctx, e, run.ID, stepCreatePlaylist, func(ctx context.Context) (playlistResult, error) {
		_ = agent.AddStatusUpdate(ctx, "Creating playlist")
		playlist, err := e.deps.Playlists.CreatePlaylist(ctx,
			e.playlistName(slug), playlistDescription(bands), trackIDs, run.PosterID)
		if err != nil {
			return playlistResult{}, err
		}
		return playlistResult{
			PlaylistID:  playlist.ID,
			PlaylistURL: playlist.URL,
			TrackCount:  len(trackIDs),
		}, nil
	})
	if err != nil {
		return err
	}

	status := "Playlist created"
	if result.PlaylistURL != "" {
		status += ": " + result.PlaylistURL
	}
	_ = agent.AddStatusUpdate(ctx, status)
	return nil
}

// enrichBand runs one band's branch: catalog lookup, band row update, top
// tracks. A band absent from the catalog, or removed from the poster in the
// meantime, skips the branch without failing the run.
func (e *Engine) enrichBand(ctx context.Context, runID string, agent *poster.Agent, band string) ([]string, error) {
	artist, err := runStep(ctx, e, runID, stepFindArtist+band, func(ctx context.Context) (*catalog.Artist, error) {
		_ = agent.AddStatusUpdate(ctx, "Searching catalog for "+band)
		return e.deps.Catalog.SearchArtist(ctx, band)
	})
	if err != nil {
		return nil, err
	}
	if artist == nil {
		_ = agent.AddStatusUpdate(ctx, "No catalog entry for "+band)
		return nil, nil
	}

	updated, err := runStep(ctx, e, runID, stepUpdateBandInfo+band, func(ctx context.Context) (bool, error) {
		var links []poster.Link
		if artist.URL != "" {
			links = append(links, poster.Link{Title: "Catalog page", URL: artist.URL})
		}
		err := agent.UpdateBand(ctx, band, "", strings.Join(artist.Genres, ", "), links)
		if services.IsNotFound(err) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, nil
	}

	tracks, err := runStep(ctx, e, runID, stepFetchTopTracks+band, func(ctx context.Context) ([]string, error) {
		_ = agent.AddStatusUpdate(ctx, "Fetching top tracks for "+band)
		return e.deps.Catalog.TopTracks(ctx, artist.ID)
	})
	if err != nil {
		return nil, err
	}
	return tracks, nil
}

func (e *Engine) playlistName(slug string) string {
	prefix := e.deps.PlaylistNamePrefix
	if prefix == "" {
		prefix = "Poster: "
	}
	if slug == "" {
		return strings.TrimSpace(prefix) + " playlist"
	}
	return prefix + slug
}

func playlistDescription(bands []string) string {
	if len(bands) == 0 {
		return "Generated from a concert poster"
	}
	return "Generated from a concert poster featuring " + strings.Join(bands, ", ")
}
