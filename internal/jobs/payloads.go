// Package jobs holds the queue handlers that drive the content pipeline:
// generation, publishing, analytics and scheduler sweeps.
package jobs

import (
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/JakeFAU/rankyak-pipeline/internal/content"
	"github.com/JakeFAU/rankyak-pipeline/internal/queue"
)

// GenerationPayload asks for one article. Keyword wins over KeywordID; when
// both are empty the earliest due planned keyword is used.
type GenerationPayload struct {
	ProjectID string `json:"projectId"`
	KeywordID string `json:"keywordId,omitempty"`
	Keyword   string `json:"keyword,omitempty"`
}

// Validate implements validation.Validatable.
func (p GenerationPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.ProjectID, validation.Required),
		validation.Field(&p.Keyword, validation.Length(0, 500)),
	)
}

// PublishingPayload asks for one article to be pushed to its integration.
type PublishingPayload struct {
	ArticleID     string           `json:"articleId"`
	ProjectID     string           `json:"projectId"`
	IntegrationID string           `json:"integrationId,omitempty"`
	Platform      content.Platform `json:"platform,omitempty"`
}

// Validate implements validation.Validatable.
func (p PublishingPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.ArticleID, validation.Required),
		validation.Field(&p.ProjectID, validation.Required),
		validation.Field(&p.Platform, validation.By(func(any) error {
			if p.Platform != "" && !p.Platform.Valid() {
				return fmt.Errorf("unsupported platform %q", p.Platform)
			}
			return nil
		})),
	)
}

// AnalyticsPayload asks for one project's published articles to be probed.
type AnalyticsPayload struct {
	ProjectID string `json:"projectId"`
	Date      string `json:"date,omitempty"`
}

// Validate implements validation.Validatable.
func (p AnalyticsPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.ProjectID, validation.Required),
		validation.Field(&p.Date, validation.Date(time.DateOnly)),
	)
}

// SweepPayload names the scheduler sweep to run.
type SweepPayload struct {
	Sweep string `json:"sweep"`
}

// Validate implements validation.Validatable.
func (p SweepPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Sweep, validation.Required),
	)
}

// decode unmarshals and validates a job payload. Both failures are permanent.
func decode(job queue.Job, v validation.Validatable) error {
	op := job.Queue + " payload"
	if err := job.Decode(v); err != nil {
		return content.Wrap(content.CodeValidationFailed, op, err)
	}
	if err := v.Validate(); err != nil {
		return content.Wrap(content.CodeValidationFailed, op, err)
	}
	return nil
}
