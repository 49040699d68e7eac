package content

import (
	"context"
	"io"
	"time"
)

// ProjectStore persists projects.
type ProjectStore interface {
	CreateProject(ctx context.Context, p Project) error
	GetProject(ctx context.Context, id string) (Project, error)
	UpdateProject(ctx context.Context, p Project) error
	ListOnboardedProjects(ctx context.Context) ([]Project, error)
}

// KeywordStore persists keywords.
type KeywordStore interface {
	CreateKeyword(ctx context.Context, kw Keyword) error
	GetKeyword(ctx context.Context, id string) (Keyword, error)
	FindKeywordByText(ctx context.Context, projectID, text string) (Keyword, error)
	UpdateKeyword(ctx context.Context, kw Keyword) error
	ListKeywords(ctx context.Context, projectID string) ([]Keyword, error)
	// NextDueKeyword returns the planned keyword with the earliest plannedDate <= now.
	NextDueKeyword(ctx context.Context, projectID string, now time.Time) (Keyword, error)
	// ProjectsWithDueKeywords lists onboarded projects holding at least one due planned keyword.
	ProjectsWithDueKeywords(ctx context.Context, now time.Time) ([]string, error)
}

// ArticleStore persists articles.
type ArticleStore interface {
	GetArticle(ctx context.Context, id string) (Article, error)
	UpdateArticle(ctx context.Context, a Article) error
	ListArticles(ctx context.Context, projectID string, status ArticleStatus) ([]Article, error)
	// DueScheduledArticles lists scheduled articles whose scheduledFor <= now.
	DueScheduledArticles(ctx context.Context, now time.Time) ([]Article, error)
	// CommitGeneration inserts a and, when keywordID is set, moves that keyword
	// to used in the same transaction. A keyword that is already used aborts
	// the whole commit with ErrAlreadyUsed.
	CommitGeneration(ctx context.Context, a Article, keywordID string) error
}

// IntegrationStore is the credential store.
type IntegrationStore interface {
	CreateIntegration(ctx context.Context, in Integration) error
	GetIntegration(ctx context.Context, id string) (Integration, error)
	// ListIntegrations returns a project's integrations ordered by createdAt.
	ListIntegrations(ctx context.Context, projectID string) ([]Integration, error)
	// UpdateCredentials swaps credentials only while the stored refresh token
	// still equals expectedRefreshToken; otherwise it returns ErrConflict.
	UpdateCredentials(ctx context.Context, id, expectedRefreshToken string, creds Credentials) error
	// SetIntegrationKey stores key on the project's integration for platform,
	// creating an inactive integration when none exists.
	SetIntegrationKey(ctx context.Context, projectID string, platform Platform, key string) (Integration, error)
}

// PublishLedger records remote publish attempts per (article, integration).
type PublishLedger interface {
	GetPublishRecord(ctx context.Context, articleID, integrationID string) (PublishRecord, error)
	SavePublishRecord(ctx context.Context, rec PublishRecord) error
}

// AnalyticsStore records liveness probes.
type AnalyticsStore interface {
	SaveSnapshot(ctx context.Context, snap AnalyticsSnapshot) error
	ListSnapshots(ctx context.Context, articleID string) ([]AnalyticsSnapshot, error)
}

// Store aggregates every persistence port.
type Store interface {
	ProjectStore
	KeywordStore
	ArticleStore
	IntegrationStore
	PublishLedger
	AnalyticsStore
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator creates unique identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// BlobStore archives raw artifacts.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Event is emitted after a pipeline milestone.
type Event struct {
	Type       string    `json:"type"`
	ProjectID  string    `json:"projectId"`
	ArticleID  string    `json:"articleId,omitempty"`
	KeywordID  string    `json:"keywordId,omitempty"`
	URL        string    `json:"url,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Event types.
const (
	EventArticleGenerated = "article.generated"
	EventArticlePublished = "article.published"
)

// Publisher fans out pipeline events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}
