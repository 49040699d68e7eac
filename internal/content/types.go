// Package content defines the domain types, store ports and the state machine
// that governs keyword and article lifecycles.
package content

import (
	"time"
)

// KeywordStatus is the lifecycle state of a Keyword.
type KeywordStatus string

// Keyword states. Used is terminal.
const (
	KeywordUnplanned KeywordStatus = "unplanned"
	KeywordPlanned   KeywordStatus = "planned"
	KeywordUsed      KeywordStatus = "used"
)

// ArticleStatus is the lifecycle state of an Article.
type ArticleStatus string

// Article states.
const (
	ArticleDraft     ArticleStatus = "draft"
	ArticleScheduled ArticleStatus = "scheduled"
	ArticlePublished ArticleStatus = "published"
)

// Platform names a supported publishing target.
type Platform string

// Supported platforms.
const (
	PlatformWordPress Platform = "wordpress"
	PlatformShopify   Platform = "shopify"
	PlatformWebflow   Platform = "webflow"
)

// Valid reports whether p is a supported platform.
func (p Platform) Valid() bool {
	switch p {
	case PlatformWordPress, PlatformShopify, PlatformWebflow:
		return true
	default:
		return false
	}
}

// Origin says who initiated an article mutation.
type Origin string

// Mutation origins. Only user-initiated draft->published transitions trigger
// auto-publish.
const (
	OriginUser    Origin = "user"
	OriginMachine Origin = "machine"
)

// Project is the root tenant entity.
type Project struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	WebsiteURL         string    `json:"websiteUrl"`
	Language           string    `json:"language"`
	OnboardingComplete bool      `json:"onboardingComplete"`
	CreatedAt          time.Time `json:"createdAt"`
}

// Keyword is a search term planned for article generation.
type Keyword struct {
	ID           string        `json:"id"`
	ProjectID    string        `json:"projectId"`
	Text         string        `json:"text"`
	SearchVolume int           `json:"searchVolume"`
	Difficulty   int           `json:"difficulty"`
	PlannedDate  *time.Time    `json:"plannedDate,omitempty"`
	Status       KeywordStatus `json:"status"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// Article is a generated piece of content.
type Article struct {
	ID               string        `json:"id"`
	ProjectID        string        `json:"projectId"`
	KeywordID        *string       `json:"keywordId,omitempty"`
	Title            string        `json:"title"`
	Body             string        `json:"body"`
	MetaTitle        string        `json:"metaTitle"`
	MetaDescription  string        `json:"metaDescription"`
	FeaturedImageURL string        `json:"featuredImageUrl,omitempty"`
	Slug             string        `json:"slug"`
	WordCount        int           `json:"wordCount"`
	HeadingCount     int           `json:"headingCount"`
	ParagraphCount   int           `json:"paragraphCount"`
	InternalLinks    int           `json:"internalLinks"`
	ExternalLinks    int           `json:"externalLinks"`
	KeywordDensity   float64       `json:"keywordDensity"`
	SEOScore         int           `json:"seoScore"`
	Status           ArticleStatus `json:"status"`
	ScheduledFor     *time.Time    `json:"scheduledFor,omitempty"`
	PublishedAt      *time.Time    `json:"publishedAt,omitempty"`
	RemoteURL        string        `json:"remoteUrl,omitempty"`
	RemotePostID     string        `json:"remotePostId,omitempty"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

// Credentials is the opaque per-integration attribute map as persisted.
type Credentials map[string]any

// Clone returns a shallow copy safe to mutate.
func (c Credentials) Clone() Credentials {
	out := make(Credentials, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Integration binds a Project to one external platform.
type Integration struct {
	ID             string      `json:"id"`
	ProjectID      string      `json:"projectId"`
	Platform       Platform    `json:"platform"`
	Credentials    Credentials `json:"-"`
	IsActive       bool        `json:"isActive"`
	IntegrationKey string      `json:"-"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

// PublishState tracks a remote publish attempt in the ledger.
type PublishState string

// Ledger states. Attempted means the remote outcome is unknown.
const (
	PublishAttempted PublishState = "attempted"
	PublishConfirmed PublishState = "confirmed"
	PublishFailed    PublishState = "failed"
)

// PublishRecord is the ledger row for one (article, integration) pair.
type PublishRecord struct {
	ArticleID      string       `json:"articleId"`
	IntegrationID  string       `json:"integrationId"`
	IdempotencyKey string       `json:"idempotencyKey"`
	State          PublishState `json:"state"`
	Attempts       int          `json:"attempts"`
	RemoteURL      string       `json:"remoteUrl,omitempty"`
	RemotePostID   string       `json:"remotePostId,omitempty"`
	LastError      string       `json:"lastError,omitempty"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

// AnalyticsSnapshot records one liveness probe of a published article.
type AnalyticsSnapshot struct {
	ArticleID  string    `json:"articleId"`
	ProjectID  string    `json:"projectId"`
	URL        string    `json:"url"`
	StatusCode int       `json:"statusCode"`
	Live       bool      `json:"live"`
	ResponseMs int64     `json:"responseMs"`
	CheckedAt  time.Time `json:"checkedAt"`
}
