package catalog

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"bandaid/internal/services"
)

// TokenRefresher exchanges a refresh credential for a fresh access token at
// the catalog's token endpoint.
type TokenRefresher struct {
	oauthCfg   *oauth2.Config
	httpClient *http.Client
}

// NewTokenRefresher builds a refresher for the configured catalog.
func NewTokenRefresher(cfg Config, httpClient *http.Client) *TokenRefresher {
	if httpClient == nil {
		timeout := defaultHTTPTimeout
		if cfg.TimeoutSeconds > 0 {
			timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &TokenRefresher{
		oauthCfg: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: cfg.TokenURL},
		},
		httpClient: httpClient,
	}
}

// Refresh exchanges refreshToken for a new credential pair. Providers that
// do not rotate the refresh credential keep the old one.
func (r *TokenRefresher) Refresh(ctx context.Context, refreshToken string) (Token, error) {
	var empty Token
	if strings.TrimSpace(refreshToken) == "" {
		return empty, services.Wrap(services.ErrFatal, "catalog", "refresh", "missing refresh credential", nil)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
	source := r.oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	fresh, err := source.Token()
	if err != nil {
		var retrieval *oauth2.RetrieveError
		if errors.As(err, &retrieval) && retrieval.Response != nil {
			code := retrieval.Response.StatusCode
			if code == http.StatusBadRequest || code == http.StatusUnauthorized || code == http.StatusForbidden {
				return empty, services.Wrap(services.ErrFatal, "catalog", "refresh", "refresh credential rejected", err)
			}
		}
		return empty, services.Wrap(services.ErrTransient, "catalog", "refresh", "token endpoint unavailable", err)
	}

	token := Token{
		AccessToken:  fresh.AccessToken,
		RefreshToken: fresh.RefreshToken,
		ExpiresIn:    int(time.Until(fresh.Expiry) / time.Second),
	}
	if token.RefreshToken == "" {
		token.RefreshToken = refreshToken
	}
	if token.ExpiresIn <= 0 {
		token.ExpiresIn = 3600
	}
	return token, nil
}
