package publishing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/rankyak-pipeline/internal/content"
	"github.com/JakeFAU/rankyak-pipeline/internal/metrics"
)

const defaultRefreshLeeway = time.Minute

// OAuthApp is the client registration used to refresh tokens on one platform.
type OAuthApp struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
}

// RefresherOption customises Refresher construction.
type RefresherOption func(*Refresher)

// WithRefreshHTTPClient overrides the client used against token endpoints.
func WithRefreshHTTPClient(client *http.Client) RefresherOption {
	return func(r *Refresher) { r.httpClient = client }
}

// WithRefreshLeeway refreshes tokens this long before they expire.
func WithRefreshLeeway(d time.Duration) RefresherOption {
	return func(r *Refresher) { r.leeway = d }
}

// Refresher keeps OAuth credentials fresh. Concurrent refreshes of one
// integration collapse into a single token request, and the result is
// persisted with compare-and-swap on the refresh token.
type Refresher struct {
	store      content.IntegrationStore
	apps       map[content.Platform]OAuthApp
	clock      content.Clock
	httpClient *http.Client
	leeway     time.Duration
	group      singleflight.Group
	logger     *zap.Logger
}

// NewRefresher builds a Refresher for the given platform apps.
func NewRefresher(
	store content.IntegrationStore,
	apps map[content.Platform]OAuthApp,
	clock content.Clock,
	logger *zap.Logger,
	opts ...RefresherOption,
) *Refresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Refresher{
		store:      store,
		apps:       apps,
		clock:      clock,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		leeway:     defaultRefreshLeeway,
		logger:     logger.Named("oauth"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Ensure returns a usable token for integ, refreshing it when expired.
func (r *Refresher) Ensure(ctx context.Context, integ content.Integration, cred OAuth) (OAuth, error) {
	if !cred.Expired(r.clock.Now(), r.leeway) {
		return cred, nil
	}
	if cred.RefreshToken == "" {
		return OAuth{}, content.Errorf(content.CodeAuthExpired, "refresh token",
			"integration %s token expired and no refresh token is stored", integ.ID)
	}
	v, err, _ := r.group.Do(integ.ID, func() (any, error) {
		return r.refresh(ctx, integ, cred)
	})
	if err != nil {
		return OAuth{}, err
	}
	fresh, ok := v.(OAuth)
	if !ok {
		return OAuth{}, content.Errorf(content.CodeInternal, "refresh token", "unexpected refresh result %T", v)
	}
	return fresh, nil
}

func (r *Refresher) refresh(ctx context.Context, integ content.Integration, cred OAuth) (OAuth, error) {
	app, ok := r.apps[integ.Platform]
	if !ok || app.TokenURL == "" {
		return OAuth{}, content.Errorf(content.CodeAuthExpired, "refresh token",
			"no oauth app configured for %s", integ.Platform)
	}
	cfg := &oauth2.Config{
		ClientID:     app.ClientID,
		ClientSecret: app.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: app.TokenURL, AuthStyle: oauth2.AuthStyleInParams},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
	tok, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken}).Token()
	if err != nil {
		metrics.ObserveTokenRefresh(string(integ.Platform), false)
		r.logger.Warn("token refresh failed",
			zap.String("integration_id", integ.ID),
			zap.String("platform", string(integ.Platform)),
			zap.Error(err),
		)
		return OAuth{}, content.Wrap(content.CodeAuthExpired, "refresh token", err)
	}
	fresh := OAuth{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken, ExpiresAt: tok.Expiry}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = cred.RefreshToken
	}

	creds := integ.Credentials.Clone()
	creds[AttrAccessToken] = fresh.AccessToken
	creds[AttrRefreshToken] = fresh.RefreshToken
	if fresh.ExpiresAt.IsZero() {
		delete(creds, AttrExpiresAt)
	} else {
		creds[AttrExpiresAt] = fresh.ExpiresAt.UTC().Format(time.RFC3339)
	}
	if err := r.store.UpdateCredentials(ctx, integ.ID, cred.RefreshToken, creds); err != nil {
		if errors.Is(err, content.ErrConflict) {
			// Another process rotated the token first; use theirs.
			return r.reload(ctx, integ.ID)
		}
		return OAuth{}, fmt.Errorf("persist refreshed token: %w", err)
	}
	metrics.ObserveTokenRefresh(string(integ.Platform), true)
	r.logger.Info("token refreshed",
		zap.String("integration_id", integ.ID),
		zap.Time("expires_at", fresh.ExpiresAt),
	)
	return fresh, nil
}

func (r *Refresher) reload(ctx context.Context, integrationID string) (OAuth, error) {
	current, err := r.store.GetIntegration(ctx, integrationID)
	if err != nil {
		return OAuth{}, fmt.Errorf("reload integration: %w", err)
	}
	cred, err := Narrow(current)
	if err != nil {
		return OAuth{}, err
	}
	oauth, ok := cred.(OAuth)
	if !ok || oauth.Expired(r.clock.Now(), r.leeway) {
		lost := content.Errorf(content.CodeAuthExpired, "refresh token",
			"integration %s lost a concurrent refresh", integrationID)
		lost.Retryable = true
		return OAuth{}, lost
	}
	return oauth, nil
}
