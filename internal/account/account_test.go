package account_test

import (
	"context"
	"errors"
	"testing"

	"bandaid/internal/account"
	"bandaid/internal/entity"
	"bandaid/internal/identity"
	"bandaid/internal/logging"
	"bandaid/internal/services"
	"bandaid/internal/services/catalog"
)

type fakeRefresher struct {
	token catalog.Token
	err   error
	calls int
	seen  []string
}

func (f *fakeRefresher) Refresh(ctx context.Context, refreshToken string) (catalog.Token, error) {
	f.calls++
	f.seen = append(f.seen, refreshToken)
	if f.err != nil {
		return catalog.Token{}, f.err
	}
	return f.token, nil
}

type fakeCreator struct {
	playlist    catalog.Playlist
	err         error
	credentials []string
	accountIDs  []string
	names       []string
}

func (f *fakeCreator) CreatePlaylist(ctx context.Context, accessToken, accountID, name, description string, trackIDs []string) (catalog.Playlist, error) {
	f.credentials = append(f.credentials, accessToken)
	f.accountIDs = append(f.accountIDs, accountID)
	f.names = append(f.names, name)
	if f.err != nil {
		return catalog.Playlist{}, f.err
	}
	return f.playlist, nil
}

func newManager(t *testing.T, refresher account.Refresher, creator account.PlaylistCreator) *account.Manager {
	t.Helper()
	arena, err := entity.NewArena(t.TempDir())
	if err != nil {
		t.Fatalf("new arena: %v", err)
	}
	t.Cleanup(func() { _ = arena.Close() })
	return account.NewManager(arena, refresher, creator, logging.NewNop())
}

func linkAccount(t *testing.T, mgr *account.Manager, token catalog.Token) *account.Account {
	t.Helper()
	acct, err := mgr.GetOrCreate(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	profile := catalog.Profile{ID: "user-1", DisplayName: "User One"}
	if err := acct.Initialize(context.Background(), profile, token); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return acct
}

func TestGetValidCredentialUsesFreshToken(t *testing.T) {
	refresher := &fakeRefresher{}
	mgr := newManager(t, refresher, &fakeCreator{})
	acct := linkAccount(t, mgr, catalog.Token{AccessToken: "live", RefreshToken: "r1", ExpiresIn: 3600})

	credential, err := acct.GetValidCredential(context.Background())
	if err != nil {
		t.Fatalf("get credential: %v", err)
	}
	if credential != "live" {
		t.Fatalf("credential = %q", credential)
	}
	if refresher.calls != 0 {
		t.Fatalf("refresher called %d times for a fresh token", refresher.calls)
	}
}

func TestGetValidCredentialRefreshesExpired(t *testing.T) {
	refresher := &fakeRefresher{token: catalog.Token{AccessToken: "fresh", ExpiresIn: 3600}}
	mgr := newManager(t, refresher, &fakeCreator{})
	// A lifetime inside the leeway window counts as expired.
	acct := linkAccount(t, mgr, catalog.Token{AccessToken: "stale", RefreshToken: "r1", ExpiresIn: 30})

	credential, err := acct.GetValidCredential(context.Background())
	if err != nil {
		t.Fatalf("get credential: %v", err)
	}
	if credential != "fresh" {
		t.Fatalf("credential = %q", credential)
	}
	if refresher.calls != 1 || refresher.seen[0] != "r1" {
		t.Fatalf("refresher calls = %d seen = %v", refresher.calls, refresher.seen)
	}

	// The refreshed pair is persisted, so the next call hits the cache.
	if _, err := acct.GetValidCredential(context.Background()); err != nil {
		t.Fatalf("second get: %v", err)
	}
	if refresher.calls != 1 {
		t.Fatalf("refresher called again after persist, calls = %d", refresher.calls)
	}
}

func TestRefreshPersistsRotatedPair(t *testing.T) {
	ctx := context.Background()
	arena, err := entity.NewArena(t.TempDir())
	if err != nil {
		t.Fatalf("new arena: %v", err)
	}
	t.Cleanup(func() { _ = arena.Close() })

	// The provider rotates the refresh credential on every exchange and the
	// returned token is already inside the leeway window, forcing a refresh
	// on each lookup.
	refresher := &fakeRefresher{token: catalog.Token{AccessToken: "fresh", RefreshToken: "r2", ExpiresIn: 1}}
	mgr := account.NewManager(arena, refresher, &fakeCreator{}, logging.NewNop())
	acct, err := mgr.GetOrCreate(ctx, "user-1")
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	profile := catalog.Profile{ID: "user-1"}
	if err := acct.Initialize(ctx, profile, catalog.Token{AccessToken: "stale", RefreshToken: "r1", ExpiresIn: 1}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := acct.GetValidCredential(ctx); err != nil {
		t.Fatalf("first get: %v", err)
	}

	// A second actor over the same partition must see the rotated credential
	// that was committed with the access token.
	other, err := account.NewManager(arena, refresher, &fakeCreator{}, logging.NewNop()).GetOrCreate(ctx, "user-1")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if _, err := other.GetValidCredential(ctx); err != nil {
		t.Fatalf("second get: %v", err)
	}
	if len(refresher.seen) != 2 || refresher.seen[0] != "r1" || refresher.seen[1] != "r2" {
		t.Fatalf("refresh credentials = %v", refresher.seen)
	}
}

func TestGetValidCredentialKeepsRefreshTokenWhenOmitted(t *testing.T) {
	// Refresh responses without a rotated refresh credential keep the old one.
	refresher := &fakeRefresher{token: catalog.Token{AccessToken: "fresh", ExpiresIn: 1}}
	mgr := newManager(t, refresher, &fakeCreator{})
	acct := linkAccount(t, mgr, catalog.Token{AccessToken: "stale", RefreshToken: "keep-me", ExpiresIn: 1})

	if _, err := acct.GetValidCredential(context.Background()); err != nil {
		t.Fatalf("first get: %v", err)
	}
	if _, err := acct.GetValidCredential(context.Background()); err != nil {
		t.Fatalf("second get: %v", err)
	}
	for i, seen := range refresher.seen {
		if seen != "keep-me" {
			t.Fatalf("refresh %d used credential %q", i, seen)
		}
	}
}

func TestGetValidCredentialRefreshFailure(t *testing.T) {
	refreshErr := services.Wrap(services.ErrTransient, "catalog", "refresh", "token endpoint unavailable", nil)
	refresher := &fakeRefresher{err: refreshErr}
	mgr := newManager(t, refresher, &fakeCreator{})
	acct := linkAccount(t, mgr, catalog.Token{AccessToken: "stale", RefreshToken: "r1", ExpiresIn: 1})

	_, err := acct.GetValidCredential(context.Background())
	if err == nil || !services.IsRetryable(err) {
		t.Fatalf("expected retryable refresh failure, got %v", err)
	}
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("marker lost: %v", err)
	}
}

func TestGetValidCredentialUnlinkedAccount(t *testing.T) {
	mgr := newManager(t, &fakeRefresher{}, &fakeCreator{})
	acct, err := mgr.GetOrCreate(context.Background(), "never-linked")
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if _, err := acct.GetValidCredential(context.Background()); !errors.Is(err, services.ErrFatal) {
		t.Fatalf("expected fatal for unlinked account, got %v", err)
	}
}

func TestCreatePlaylistRecordsBookkeeping(t *testing.T) {
	ctx := context.Background()
	creator := &fakeCreator{playlist: catalog.Playlist{
		ID:  "pl1",
		URL: "https://open.spotify.com/playlist/pl1",
	}}
	mgr := newManager(t, &fakeRefresher{}, creator)
	acct := linkAccount(t, mgr, catalog.Token{AccessToken: "live", RefreshToken: "r1", ExpiresIn: 3600})

	posterID := identity.NewID()
	playlist, err := acct.CreatePlaylist(ctx, "Show Mix", "from a poster", []string{"t1", "t2"}, posterID)
	if err != nil {
		t.Fatalf("create playlist: %v", err)
	}
	if playlist.ID != "pl1" {
		t.Fatalf("playlist = %+v", playlist)
	}
	if len(creator.credentials) != 1 || creator.credentials[0] != "live" {
		t.Fatalf("credentials = %v", creator.credentials)
	}
	if creator.accountIDs[0] != "user-1" || creator.names[0] != "Show Mix" {
		t.Fatalf("accountIDs = %v names = %v", creator.accountIDs, creator.names)
	}

	records, err := acct.Playlists(ctx)
	if err != nil {
		t.Fatalf("playlists: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %+v", records)
	}
	if records[0].PlaylistID != "pl1" || records[0].PosterID != posterID {
		t.Fatalf("record = %+v", records[0])
	}
	if records[0].PlaylistURL != "https://open.spotify.com/playlist/pl1" {
		t.Fatalf("url = %q", records[0].PlaylistURL)
	}
}

func TestManagerReturnsSameActor(t *testing.T) {
	mgr := newManager(t, &fakeRefresher{}, &fakeCreator{})
	first, err := mgr.GetOrCreate(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := mgr.GetOrCreate(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first != second {
		t.Fatal("expected the same live actor for one account")
	}
	if first.ExternalID() != "user-1" {
		t.Fatalf("external id = %q", first.ExternalID())
	}
}
