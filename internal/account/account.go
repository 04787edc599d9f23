// Package account implements the catalog-account actor: one durable entity
// per connected catalog account, owning its credential pair and the
// bookkeeping of playlists it created.
package account

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"bandaid/internal/entity"
	"bandaid/internal/identity"
	"bandaid/internal/logging"
	"bandaid/internal/services"
	"bandaid/internal/services/catalog"
)

// Config keys stored in the account partition.
const (
	ConfigProfileJSON  = "profileJSON"
	ConfigAccessToken  = "accessToken"
	ConfigRefreshToken = "refreshToken"
	ConfigExpiresIn    = "expiresIn"
)

// credentialLeeway widens the expiry window so a credential returned to a
// caller is never within moments of going stale.
const credentialLeeway = time.Minute

const accountSchema = `
CREATE TABLE IF NOT EXISTS playlists (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    playlist_id TEXT NOT NULL,
    playlist_url TEXT,
    poster_id TEXT NOT NULL,
    created_at TEXT NOT NULL
)`

// Refresher exchanges a refresh credential for a fresh token pair.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (catalog.Token, error)
}

// PlaylistCreator creates a playlist on the catalog account.
type PlaylistCreator interface {
	CreatePlaylist(ctx context.Context, accessToken, accountID, name, description string, trackIDs []string) (catalog.Playlist, error)
}

// PlaylistRecord is one bookkeeping entry tying a created playlist to the
// poster it originated from.
type PlaylistRecord struct {
	PlaylistID  string
	PlaylistURL string
	PosterID    identity.ID
	CreatedAt   time.Time
}

// Account is the live actor for one catalog account.
type Account struct {
	externalID string
	storage    *entity.Storage
	refresher  Refresher
	creator    PlaylistCreator
	logger     *slog.Logger

	refreshMu sync.Mutex
}

// ExternalID returns the catalog-side account identifier.
func (a *Account) ExternalID() string { return a.externalID }

// Initialize stores the profile snapshot and the initial credential pair.
// Re-initializing replaces the credentials, which covers account re-linking.
func (a *Account) Initialize(ctx context.Context, profile catalog.Profile, token catalog.Token) error {
	profileJSON, err := json.Marshal(profile)
	if err != nil {
		return services.Wrap(services.ErrInvariant, "account", "initialize", "encode profile", err)
	}
	if err := a.storage.SetConfig(ctx, ConfigProfileJSON, string(profileJSON)); err != nil {
		return err
	}
	return a.persistToken(ctx, token)
}

// Profile returns the stored profile snapshot.
func (a *Account) Profile(ctx context.Context) (catalog.Profile, error) {
	var profile catalog.Profile
	raw, err := a.storage.GetConfig(ctx, ConfigProfileJSON)
	if err != nil {
		return profile, err
	}
	if err := json.Unmarshal([]byte(raw), &profile); err != nil {
		return profile, services.Wrap(services.ErrInvariant, "account", "profile", "decode profile", err)
	}
	return profile, nil
}

// GetValidCredential returns an access credential guaranteed to be inside
// its lifetime. An expired credential is refreshed and persisted before
// anything is returned, so a crash mid-refresh never loses a live pair.
func (a *Account) GetValidCredential(ctx context.Context) (string, error) {
	if token, ok, err := a.cachedCredential(ctx); err != nil {
		return "", err
	} else if ok {
		return token, nil
	}

	a.refreshMu.Lock()
	defer a.refreshMu.Unlock()

	// Another caller may have refreshed while this one waited on the lock.
	if token, ok, err := a.cachedCredential(ctx); err != nil {
		return "", err
	} else if ok {
		return token, nil
	}

	refreshToken, err := a.storage.GetConfig(ctx, ConfigRefreshToken)
	if err != nil {
		return "", err
	}
	fresh, err := a.refresher.Refresh(ctx, refreshToken)
	if err != nil {
		return "", fmt.Errorf("credential refresh failed: %w", err)
	}
	if err := a.persistToken(ctx, fresh); err != nil {
		return "", err
	}
	a.logger.Info("catalog credential refreshed")
	return fresh.AccessToken, nil
}

func (a *Account) cachedCredential(ctx context.Context) (string, bool, error) {
	entry, err := a.storage.GetConfigEntry(ctx, ConfigAccessToken)
	if err != nil {
		if services.IsNotFound(err) {
			return "", false, services.Wrap(services.ErrFatal, "account", "credential", "account not linked", nil)
		}
		return "", false, err
	}
	raw, err := a.storage.GetConfig(ctx, ConfigExpiresIn)
	if err != nil {
		return "", false, err
	}
	lifetimeSeconds, err := strconv.Atoi(raw)
	if err != nil {
		return "", false, services.Wrap(services.ErrInvariant, "account", "credential", "bad expiresIn", err)
	}

	expiry := entry.UpdatedAt.Add(time.Duration(lifetimeSeconds) * time.Second)
	if time.Until(expiry) > credentialLeeway {
		return entry.Value, true, nil
	}
	return "", false, nil
}

// persistToken commits the pair as a single transaction. A crash must never
// leave a new access token next to a stale rotated refresh credential, which
// would make the account unrecoverable without relinking.
func (a *Account) persistToken(ctx context.Context, token catalog.Token) error {
	values := map[string]string{
		ConfigAccessToken: token.AccessToken,
		ConfigExpiresIn:   strconv.Itoa(token.ExpiresIn),
	}
	if token.RefreshToken != "" {
		values[ConfigRefreshToken] = token.RefreshToken
	}
	return a.storage.SetConfigBatch(ctx, values)
}

// CreatePlaylist ensures a valid credential, creates the playlist on the
// catalog, and records which poster originated it.
func (a *Account) CreatePlaylist(ctx context.Context, name, description string, trackIDs []string, posterID identity.ID) (catalog.Playlist, error) {
	var empty catalog.Playlist
	credential, err := a.GetValidCredential(ctx)
	if err != nil {
		return empty, err
	}
	playlist, err := a.creator.CreatePlaylist(ctx, credential, a.externalID, name, description, trackIDs)
	if err != nil {
		return empty, err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := a.storage.Exec(ctx,
		`INSERT INTO playlists (playlist_id, playlist_url, poster_id, created_at) VALUES (?, ?, ?, ?)`,
		playlist.ID, entity.NullableString(playlist.URL), posterID.String(), now); err != nil {
		return empty, fmt.Errorf("record playlist: %w", err)
	}
	a.logger.Info("playlist created",
		logging.String("playlist_id", playlist.ID),
		logging.String(logging.FieldEntityID, posterID.String()))
	return playlist, nil
}

// Playlists returns the bookkeeping log, oldest first.
func (a *Account) Playlists(ctx context.Context) ([]PlaylistRecord, error) {
	rows, err := a.storage.Query(ctx,
		`SELECT playlist_id, playlist_url, poster_id, created_at FROM playlists ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list playlists: %w", err)
	}
	defer rows.Close()

	var records []PlaylistRecord
	for rows.Next() {
		var record PlaylistRecord
		var url sql.NullString
		var posterID, createdAt string
		if err := rows.Scan(&record.PlaylistID, &url, &posterID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan playlist: %w", err)
		}
		record.PlaylistURL = url.String
		record.PosterID = identity.ID(posterID)
		if t, err := entity.ParseTimeString(createdAt); err == nil {
			record.CreatedAt = t
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// Manager hands out account actors keyed by external account identifier,
// guaranteeing at most one live entity per account.
type Manager struct {
	arena     *entity.Arena
	refresher Refresher
	creator   PlaylistCreator
	logger    *slog.Logger

	mu   sync.Mutex
	live map[string]*Account
}

// NewManager constructs the account actor manager.
func NewManager(arena *entity.Arena, refresher Refresher, creator PlaylistCreator, logger *slog.Logger) *Manager {
	return &Manager{
		arena:     arena,
		refresher: refresher,
		creator:   creator,
		logger:    logging.NewComponentLogger(logger, "account"),
		live:      make(map[string]*Account),
	}
}

// GetOrCreate returns the actor for the external account, opening (or
// creating) its partition. The partition identity derives deterministically
// from the external identifier.
func (m *Manager) GetOrCreate(ctx context.Context, externalID string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if account, ok := m.live[externalID]; ok {
		return account, nil
	}

	storage, err := m.arena.Open(ctx, identity.FromName("account:"+externalID))
	if err != nil {
		return nil, err
	}
	if err := storage.ApplySchema(ctx, accountSchema); err != nil {
		return nil, err
	}
	account := &Account{
		externalID: externalID,
		storage:    storage,
		refresher:  m.refresher,
		creator:    m.creator,
		logger:     m.logger.With(logging.String("account_id", externalID)),
	}
	m.live[externalID] = account
	return account, nil
}
