// Package catalog wraps the music catalog HTTP API used for artist lookup,
// top tracks, and playlist creation.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"bandaid/internal/services"
)

const defaultHTTPTimeout = 30 * time.Second

// HTTPDoer abstracts the HTTP client for testability.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config captures catalog connection settings.
type Config struct {
	BaseURL        string
	TokenURL       string
	ClientID       string
	ClientSecret   string
	Market         string
	TimeoutSeconds int
}

// Client talks to the catalog API. Search and top-tracks use an app token
// obtained via the client-credentials grant; playlist creation uses the
// caller-supplied account credential.
type Client struct {
	cfg  Config
	doer HTTPDoer

	appTokens oauth2.TokenSource
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPDoer overrides the HTTP client used for API requests.
func WithHTTPDoer(doer HTTPDoer) Option {
	return func(c *Client) {
		if doer != nil {
			c.doer = doer
		}
	}
}

// WithAppTokenSource overrides the client-credentials token source.
func WithAppTokenSource(source oauth2.TokenSource) Option {
	return func(c *Client) {
		if source != nil {
			c.appTokens = source
		}
	}
}

// NewClient constructs a catalog client.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg:  cfg,
		doer: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.appTokens == nil {
		creds := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
		}
		ctx := context.Background()
		if httpClient, ok := client.doer.(*http.Client); ok {
			ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
		}
		client.appTokens = creds.TokenSource(ctx)
	}
	return client
}

type searchResponse struct {
	Artists struct {
		Items []artistResource `json:"items"`
	} `json:"artists"`
}

type artistResource struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Genres       []string `json:"genres"`
	ExternalURLs struct {
		Spotify string `json:"spotify"`
	} `json:"external_urls"`
}

type topTracksResponse struct {
	Tracks []struct {
		ID string `json:"id"`
	} `json:"tracks"`
}

type playlistResource struct {
	ID           string `json:"id"`
	ExternalURLs struct {
		Spotify string `json:"spotify"`
	} `json:"external_urls"`
}

// SearchArtist looks the band name up in the catalog. No match is not an
// error; it returns (nil, nil) so the caller can skip the band.
func (c *Client) SearchArtist(ctx context.Context, name string) (*Artist, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, services.Wrap(services.ErrFatal, "catalog", "search artist", "empty name", nil)
	}

	query := url.Values{}
	query.Set("q", name)
	query.Set("type", "artist")
	query.Set("limit", "5")

	var parsed searchResponse
	if err := c.appGet(ctx, "/search?"+query.Encode(), &parsed); err != nil {
		return nil, err
	}
	items := parsed.Artists.Items
	if len(items) == 0 {
		return nil, nil
	}
	chosen := items[0]
	for _, item := range items {
		if strings.EqualFold(item.Name, name) {
			chosen = item
			break
		}
	}
	return &Artist{
		ID:     chosen.ID,
		Name:   chosen.Name,
		Genres: chosen.Genres,
		URL:    chosen.ExternalURLs.Spotify,
	}, nil
}

// TopTracks returns the catalog's top track IDs for the artist.
func (c *Client) TopTracks(ctx context.Context, artistID string) ([]string, error) {
	artistID = strings.TrimSpace(artistID)
	if artistID == "" {
		return nil, services.Wrap(services.ErrFatal, "catalog", "top tracks", "empty artist id", nil)
	}
	market := c.cfg.Market
	if market == "" {
		market = "US"
	}

	var parsed topTracksResponse
	path := fmt.Sprintf("/artists/%s/top-tracks?market=%s", url.PathEscape(artistID), url.QueryEscape(market))
	if err := c.appGet(ctx, path, &parsed); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(parsed.Tracks))
	for _, track := range parsed.Tracks {
		if track.ID != "" {
			ids = append(ids, track.ID)
		}
	}
	return ids, nil
}

// CreatePlaylist creates a private playlist on the account and adds the
// supplied tracks to it.
func (c *Client) CreatePlaylist(ctx context.Context, accessToken, accountID, name, description string, trackIDs []string) (Playlist, error) {
	var empty Playlist
	if strings.TrimSpace(accessToken) == "" {
		return empty, services.Wrap(services.ErrFatal, "catalog", "create playlist", "missing credential", nil)
	}
	if len(trackIDs) == 0 {
		return empty, services.Wrap(services.ErrFatal, "catalog", "create playlist", "no tracks", nil)
	}

	createBody := map[string]any{
		"name":        name,
		"description": description,
		"public":      false,
	}
	var created playlistResource
	createPath := fmt.Sprintf("/users/%s/playlists", url.PathEscape(accountID))
	if err := c.do(ctx, http.MethodPost, createPath, accessToken, createBody, &created); err != nil {
		return empty, err
	}

	uris := make([]string, 0, len(trackIDs))
	for _, id := range trackIDs {
		uris = append(uris, "spotify:track:"+id)
	}
	addPath := fmt.Sprintf("/playlists/%s/tracks", url.PathEscape(created.ID))
	if err := c.do(ctx, http.MethodPost, addPath, accessToken, map[string]any{"uris": uris}, nil); err != nil {
		return empty, err
	}

	return Playlist{ID: created.ID, URL: created.ExternalURLs.Spotify}, nil
}

func (c *Client) appGet(ctx context.Context, path string, result any) error {
	token, err := c.appTokens.Token()
	if err != nil {
		return services.Wrap(services.ErrTransient, "catalog", "app token", "token exchange failed", err)
	}
	return c.do(ctx, http.MethodGet, path, token.AccessToken, nil, result)
}

func (c *Client) do(ctx context.Context, method, path, accessToken string, body, result any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return services.Wrap(services.ErrFatal, "catalog", "request", "encode body", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return services.Wrap(services.ErrFatal, "catalog", "request", "build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.doer.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return services.Wrap(services.ErrTransient, "catalog", "request", "http error", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return services.Wrap(services.ErrTransient, "catalog", "request", "read body", err)
	}
	if err := classifyStatus(resp.StatusCode, payload); err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(payload, result); err != nil {
		return services.Wrap(services.ErrFatal, "catalog", "request", "decode response", err)
	}
	return nil
}

func classifyStatus(status int, body []byte) error {
	if status < http.StatusMultipleChoices {
		return nil
	}
	detail := fmt.Sprintf("http %d: %s", status, strings.TrimSpace(string(body)))
	switch {
	case status == http.StatusNotFound:
		return services.Wrap(services.ErrNotFound, "catalog", "request", detail, nil)
	case status == http.StatusTooManyRequests, status >= http.StatusInternalServerError:
		return services.Wrap(services.ErrTransient, "catalog", "request", detail, nil)
	default:
		return services.Wrap(services.ErrFatal, "catalog", "request", detail, nil)
	}
}
