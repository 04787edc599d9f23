package catalog_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/oauth2"

	"bandaid/internal/services"
	"bandaid/internal/services/catalog"
)

type staticTokenSource struct{ token string }

func (s staticTokenSource) Token() (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: s.token}, nil
}

func newTestClient(t *testing.T, handler http.Handler) *catalog.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return catalog.NewClient(catalog.Config{
		BaseURL: server.URL,
		Market:  "US",
	}, catalog.WithAppTokenSource(staticTokenSource{token: "app-token"}))
}

func TestSearchArtistPrefersExactMatch(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer app-token" {
			t.Errorf("authorization = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"artists": map[string]any{
				"items": []map[string]any{
					{"id": "a1", "name": "The Midnight Sons", "genres": []string{"metal"}},
					{"id": "a2", "name": "The Midnight", "genres": []string{"synthwave"},
						"external_urls": map[string]string{"spotify": "https://open.spotify.com/artist/a2"}},
				},
			},
		})
	}))

	artist, err := client.SearchArtist(context.Background(), "the midnight")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if artist == nil || artist.ID != "a2" {
		t.Fatalf("artist = %+v, want exact match a2", artist)
	}
	if artist.URL != "https://open.spotify.com/artist/a2" {
		t.Fatalf("url = %q", artist.URL)
	}
}

func TestSearchArtistAbsenceIsNotAnError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"artists": map[string]any{"items": []any{}}})
	}))
	artist, err := client.SearchArtist(context.Background(), "Unknown Band")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if artist != nil {
		t.Fatalf("expected nil artist, got %+v", artist)
	}
}

func TestTopTracks(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/artists/a2/top-tracks" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("market"); got != "US" {
			t.Errorf("market = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"tracks": []map[string]any{{"id": "t1"}, {"id": "t2"}},
		})
	}))
	ids, err := client.TopTracks(context.Background(), "a2")
	if err != nil {
		t.Fatalf("top tracks: %v", err)
	}
	if len(ids) != 2 || ids[0] != "t1" || ids[1] != "t2" {
		t.Fatalf("ids = %v", ids)
	}
}

func TestCreatePlaylistCreatesThenAddsTracks(t *testing.T) {
	var addedURIs []string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer user-token" {
			t.Errorf("authorization = %q", got)
		}
		switch r.URL.Path {
		case "/users/acct/playlists":
			var body struct {
				Name   string `json:"name"`
				Public bool   `json:"public"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			if body.Name != "Poster: test" || body.Public {
				t.Errorf("create body = %+v", body)
			}
			json.NewEncoder(w).Encode(map[string]any{
				"id":            "p1",
				"external_urls": map[string]string{"spotify": "https://open.spotify.com/playlist/p1"},
			})
		case "/playlists/p1/tracks":
			var body struct {
				URIs []string `json:"uris"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			addedURIs = body.URIs
			w.WriteHeader(http.StatusCreated)
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
		}
	}))

	playlist, err := client.CreatePlaylist(context.Background(), "user-token", "acct", "Poster: test", "from a poster", []string{"t1", "t2"})
	if err != nil {
		t.Fatalf("create playlist: %v", err)
	}
	if playlist.ID != "p1" || playlist.URL != "https://open.spotify.com/playlist/p1" {
		t.Fatalf("playlist = %+v", playlist)
	}
	if len(addedURIs) != 2 || addedURIs[0] != "spotify:track:t1" {
		t.Fatalf("uris = %v", addedURIs)
	}
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		status int
		check  func(error) bool
		label  string
	}{
		{http.StatusTooManyRequests, services.IsRetryable, "retryable"},
		{http.StatusInternalServerError, services.IsRetryable, "retryable"},
		{http.StatusNotFound, services.IsNotFound, "not found"},
		{http.StatusUnauthorized, func(err error) bool {
			return err != nil && !services.IsRetryable(err)
		}, "fatal"},
	}
	for _, tc := range cases {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", tc.status)
		}))
		_, err := client.TopTracks(context.Background(), "a1")
		if err == nil || !tc.check(err) {
			t.Fatalf("status %d: expected %s classification, got %v", tc.status, tc.label, err)
		}
	}
}

func TestRefreshFatalOnRejectedCredential(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	refresher := catalog.NewTokenRefresher(catalog.Config{
		TokenURL:     server.URL,
		ClientID:     "cid",
		ClientSecret: "secret",
	}, server.Client())
	_, err := refresher.Refresh(context.Background(), "stale-refresh")
	if err == nil || services.IsRetryable(err) {
		t.Fatalf("expected fatal refresh failure, got %v", err)
	}
}

func TestRefreshReturnsFreshPair(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if got := r.FormValue("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "fresh-access",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	defer server.Close()

	refresher := catalog.NewTokenRefresher(catalog.Config{
		TokenURL:     server.URL,
		ClientID:     "cid",
		ClientSecret: "secret",
	}, server.Client())
	token, err := refresher.Refresh(context.Background(), "old-refresh")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if token.AccessToken != "fresh-access" {
		t.Fatalf("access = %q", token.AccessToken)
	}
	if token.RefreshToken != "old-refresh" {
		t.Fatalf("expected refresh credential to carry over, got %q", token.RefreshToken)
	}
	if token.ExpiresIn <= 0 {
		t.Fatalf("expires_in = %d", token.ExpiresIn)
	}
}
