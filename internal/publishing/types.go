// Package publishing resolves a project's integration, narrows its
// credentials and delivers articles to external platforms at most once.
package publishing

import (
	"context"
	"errors"
	"net/http"

	"github.com/JakeFAU/rankyak-pipeline/internal/content"
)

// Hint selects the integration for a publish. IntegrationID wins over
// Platform; an empty Hint means the project default.
type Hint struct {
	IntegrationID string           `json:"integrationId,omitempty"`
	Platform      content.Platform `json:"platform,omitempty"`
}

// Request is what an Adapter receives. Credentials are already narrowed and
// refreshed.
type Request struct {
	Article        content.Article
	HTML           string
	Excerpt        string
	Publish        bool
	IdempotencyKey string
	Credential     Credential
	Target         Target
}

// Remote identifies the artifact a platform created.
type Remote struct {
	URL    string
	PostID string
	// Draft is set by Find when the artifact exists but is not live yet.
	Draft bool
}

// Adapter talks to one platform.
type Adapter interface {
	Platform() content.Platform
	// Validate checks credential kind and target fields before any I/O.
	Validate(cred Credential, target Target) error
	// Host is the rate limiting key for target.
	Host(target Target) string
	Publish(ctx context.Context, req Request) (Remote, error)
	// Find looks up a previously created artifact by idempotency key or slug.
	Find(ctx context.Context, req Request) (Remote, bool, error)
}

// Completer is implemented by adapters whose publish takes more than one
// call. Complete makes an artifact returned by Find live.
type Completer interface {
	Complete(ctx context.Context, req Request, found Remote) (Remote, error)
}

// ResultError is the failure half of Result.
type ResultError struct {
	Code      content.Code `json:"code"`
	Message   string       `json:"message"`
	Retryable bool         `json:"-"`
}

// Result is the outcome of a publish. It never carries a Go error so callers
// can serialise it verbatim.
type Result struct {
	Success       bool             `json:"success"`
	URL           string           `json:"url,omitempty"`
	PostID        string           `json:"postId,omitempty"`
	Error         *ResultError     `json:"error,omitempty"`
	IntegrationID string           `json:"-"`
	Platform      content.Platform `json:"-"`
	Reused        bool             `json:"-"`
}

// Err converts a failed Result into a *content.Error, or nil on success.
func (r Result) Err() error {
	if r.Success || r.Error == nil {
		return nil
	}
	return &content.Error{
		Code:      r.Error.Code,
		Op:        "publish",
		Message:   r.Error.Message,
		Retryable: r.Error.Retryable,
	}
}

func failure(err error) Result {
	var ce *content.Error
	if !errors.As(err, &ce) {
		ce = content.Wrap(content.CodeInternal, "publish", err)
		ce.Retryable = true
	}
	msg := ce.Message
	if ce.Err != nil {
		if msg != "" {
			msg += ": "
		}
		msg += ce.Err.Error()
	}
	retryable := ce.Retryable || !content.IsPermanent(ce)
	return Result{Error: &ResultError{Code: ce.Code, Message: msg, Retryable: retryable}}
}

// Rejected maps a non-2xx platform response into a PlatformRejected error.
// 429 and 5xx are retryable.
func Rejected(op string, status int, body string) error {
	return &content.Error{
		Code:      content.CodePlatformRejected,
		Op:        op,
		Message:   http.StatusText(status) + ": " + body,
		Retryable: status == http.StatusTooManyRequests || status >= 500,
	}
}

// Unreachable maps a transport failure into a PlatformUnreachable error.
func Unreachable(op string, err error) error {
	return &content.Error{Code: content.CodePlatformUnreachable, Op: op, Retryable: true, Err: err}
}
