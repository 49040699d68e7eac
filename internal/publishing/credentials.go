package publishing

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/rankyak-pipeline/internal/content"
)

// Credential is the narrowed authentication material of an integration: one
// of StaticKey, OAuth or Basic.
type Credential interface {
	Kind() string
}

// StaticKey authenticates with a rankyak-issued integration key.
type StaticKey struct {
	Key string
}

// OAuth authenticates with a bearer token that may need refreshing.
type OAuth struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Basic authenticates with a username (or api key) and password.
type Basic struct {
	Username string
	Password string
}

// Kind implements Credential.
func (StaticKey) Kind() string { return "static_key" }

// Kind implements Credential.
func (OAuth) Kind() string { return "oauth" }

// Kind implements Credential.
func (Basic) Kind() string { return "basic" }

// Expired reports whether the token is unusable at now, allowing leeway.
func (o OAuth) Expired(now time.Time, leeway time.Duration) bool {
	if o.AccessToken == "" {
		return true
	}
	if o.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(leeway).Before(o.ExpiresAt)
}

// Target holds the non-secret addressing fields of an integration.
type Target struct {
	URL          string
	Shop         string
	BlogID       string
	SiteID       string
	CollectionID string
}

// Credential attribute names as persisted.
const (
	AttrIntegrationKey = "integration_key"
	AttrAccessToken    = "access_token"
	AttrRefreshToken   = "refresh_token"
	AttrExpiresAt      = "expires_at"
	AttrUsername       = "username"
	AttrAPIKey         = "api_key"
	AttrPassword       = "password"
	AttrURL            = "url"
	AttrShop           = "shop"
	AttrBlogID         = "blog_id"
	AttrSiteID         = "site_id"
	AttrCollectionID   = "collection_id"
)

// Narrow decides the credential kind of integ once. The integration key only
// authenticates the WordPress plugin, so other platforms skip it.
func Narrow(integ content.Integration) (Credential, error) {
	c := integ.Credentials
	key := integ.IntegrationKey
	if key == "" {
		key = attr(c, AttrIntegrationKey)
	}
	if key != "" && integ.Platform == content.PlatformWordPress {
		return StaticKey{Key: key}, nil
	}
	if token := attr(c, AttrAccessToken); token != "" || attr(c, AttrRefreshToken) != "" {
		expires, err := expiresAt(c[AttrExpiresAt])
		if err != nil {
			return nil, content.Wrap(content.CodeValidationFailed, "narrow credentials", err)
		}
		return OAuth{AccessToken: token, RefreshToken: attr(c, AttrRefreshToken), ExpiresAt: expires}, nil
	}
	user := attr(c, AttrUsername)
	if user == "" {
		user = attr(c, AttrAPIKey)
	}
	if pass := attr(c, AttrPassword); user != "" && pass != "" {
		return Basic{Username: user, Password: pass}, nil
	}
	return nil, content.Errorf(content.CodeValidationFailed, "narrow credentials",
		"integration %s has no usable credentials", integ.ID)
}

// TargetOf reads the addressing fields of integ.
func TargetOf(integ content.Integration) Target {
	c := integ.Credentials
	return Target{
		URL:          strings.TrimRight(attr(c, AttrURL), "/"),
		Shop:         attr(c, AttrShop),
		BlogID:       attr(c, AttrBlogID),
		SiteID:       attr(c, AttrSiteID),
		CollectionID: attr(c, AttrCollectionID),
	}
}

func attr(c content.Credentials, name string) string {
	switch v := c[name].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	default:
		return ""
	}
}

func expiresAt(v any) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return t, nil
	case string:
		if t == "" {
			return time.Time{}, nil
		}
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse %s: %w", AttrExpiresAt, err)
		}
		return parsed, nil
	case float64:
		return time.Unix(int64(t), 0).UTC(), nil
	case int64:
		return time.Unix(t, 0).UTC(), nil
	case int:
		return time.Unix(int64(t), 0).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported %s type %T", AttrExpiresAt, v)
	}
}
