// Package webflow publishes articles as Webflow CMS collection items.
package webflow

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/JakeFAU/rankyak-pipeline/internal/content"
	"github.com/JakeFAU/rankyak-pipeline/internal/publishing"
)

const defaultBaseURL = "https://api.webflow.com"

var errMissingID = errors.New("response carried no item id")

// Option customises an Adapter.
type Option func(*Adapter)

// WithBaseURL overrides the API base URL.
func WithBaseURL(base string) Option {
	return func(a *Adapter) { a.baseURL = strings.TrimRight(base, "/") }
}

// WithSiteDomain sets the public domain used to build item URLs when the
// integration has no url of its own.
func WithSiteDomain(domain string) Option {
	return func(a *Adapter) { a.siteDomain = strings.TrimRight(domain, "/") }
}

var _ publishing.Completer = (*Adapter)(nil)

// Adapter implements publishing.Adapter for Webflow.
type Adapter struct {
	client     publishing.Doer
	baseURL    string
	siteDomain string
}

// New builds an Adapter. A nil client uses publishing.DefaultHTTPClient.
func New(client publishing.Doer, opts ...Option) *Adapter {
	if client == nil {
		client = publishing.DefaultHTTPClient()
	}
	a := &Adapter{client: client, baseURL: defaultBaseURL}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Platform implements publishing.Adapter.
func (a *Adapter) Platform() content.Platform { return content.PlatformWebflow }

// Validate implements publishing.Adapter.
func (a *Adapter) Validate(cred publishing.Credential, target publishing.Target) error {
	if target.CollectionID == "" {
		return content.Errorf(content.CodeValidationFailed, "webflow", "integration has no collection id")
	}
	if _, ok := cred.(publishing.OAuth); !ok {
		return content.Errorf(content.CodeValidationFailed, "webflow", "a bearer token is required")
	}
	return nil
}

// Host implements publishing.Adapter.
func (a *Adapter) Host(publishing.Target) string { return a.baseURL }

type item struct {
	ID            string    `json:"id,omitempty"`
	IsArchive     bool      `json:"isArchived"`
	IsDraft       bool      `json:"isDraft"`
	LastPublished *string   `json:"lastPublished,omitempty"`
	FieldData     fieldData `json:"fieldData"`
}

// live reports whether the item has been published at least once.
func (it item) live() bool {
	return !it.IsDraft && it.LastPublished != nil && *it.LastPublished != ""
}

type fieldData struct {
	Name            string `json:"name"`
	Slug            string `json:"slug"`
	PostBody        string `json:"post-body,omitempty"`
	PostSummary     string `json:"post-summary,omitempty"`
	MetaTitle       string `json:"meta-title,omitempty"`
	MetaDescription string `json:"meta-description,omitempty"`
	MainImage       string `json:"main-image,omitempty"`
}

func header(cred publishing.Credential) http.Header {
	h := http.Header{}
	if c, ok := cred.(publishing.OAuth); ok {
		h.Set("Authorization", "Bearer "+c.AccessToken)
	}
	return h
}

func (a *Adapter) itemsURL(target publishing.Target) string {
	return a.baseURL + "/v2/collections/" + url.PathEscape(target.CollectionID) + "/items"
}

func (a *Adapter) itemURL(target publishing.Target, slug string) string {
	domain := target.URL
	if domain == "" {
		domain = a.siteDomain
	}
	if domain == "" {
		return ""
	}
	if !strings.Contains(domain, "://") {
		domain = "https://" + domain
	}
	return domain + "/post/" + slug
}

// Publish creates the item and, when the target status is published, issues
// the second publish call.
func (a *Adapter) Publish(ctx context.Context, req publishing.Request) (publishing.Remote, error) {
	var created item
	if _, err := publishing.DoJSON(ctx, a.client, publishing.Call{
		Op:     "webflow create item",
		Method: http.MethodPost,
		URL:    a.itemsURL(req.Target),
		Header: header(req.Credential),
		Body: item{
			IsDraft: !req.Publish,
			FieldData: fieldData{
				Name:            req.Article.Title,
				Slug:            req.Article.Slug,
				PostBody:        req.HTML,
				PostSummary:     req.Excerpt,
				MetaTitle:       req.Article.MetaTitle,
				MetaDescription: req.Article.MetaDescription,
				MainImage:       req.Article.FeaturedImageURL,
			},
		},
		Out: &created,
	}); err != nil {
		return publishing.Remote{}, err
	}
	if created.ID == "" {
		return publishing.Remote{}, publishing.Unreachable("webflow create item", errMissingID)
	}
	remote := publishing.Remote{URL: a.itemURL(req.Target, req.Article.Slug), PostID: created.ID}
	if req.Publish {
		return a.Complete(ctx, req, remote)
	}
	return remote, nil
}

// Complete issues the publish call for an item that already exists.
func (a *Adapter) Complete(ctx context.Context, req publishing.Request, found publishing.Remote) (publishing.Remote, error) {
	if found.PostID == "" {
		return publishing.Remote{}, publishing.Unreachable("webflow publish item", errMissingID)
	}
	if _, err := publishing.DoJSON(ctx, a.client, publishing.Call{
		Op:     "webflow publish item",
		Method: http.MethodPost,
		URL:    a.itemsURL(req.Target) + "/" + url.PathEscape(found.PostID) + "/publish",
		Header: header(req.Credential),
	}); err != nil {
		return publishing.Remote{}, err
	}
	found.Draft = false
	return found, nil
}

// Find implements publishing.Adapter. Items never published come back as
// drafts so the caller can finish them with Complete.
func (a *Adapter) Find(ctx context.Context, req publishing.Request) (publishing.Remote, bool, error) {
	if req.Article.Slug == "" {
		return publishing.Remote{}, false, nil
	}
	var out struct {
		Items []item `json:"items"`
	}
	q := url.Values{"slug": {req.Article.Slug}}
	if _, err := publishing.DoJSON(ctx, a.client, publishing.Call{
		Op:     "webflow find",
		Method: http.MethodGet,
		URL:    a.itemsURL(req.Target) + "?" + q.Encode(),
		Header: header(req.Credential),
		Out:    &out,
	}); err != nil {
		return publishing.Remote{}, false, err
	}
	for _, it := range out.Items {
		if it.FieldData.Slug == req.Article.Slug {
			return publishing.Remote{
				URL:    a.itemURL(req.Target, it.FieldData.Slug),
				PostID: it.ID,
				Draft:  !it.live(),
			}, true, nil
		}
	}
	return publishing.Remote{}, false, nil
}
