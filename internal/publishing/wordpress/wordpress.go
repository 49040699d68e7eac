// Package wordpress publishes articles to WordPress, through the rankyak
// plugin route when a key or token is available and through the core REST
// API with Basic auth otherwise.
package wordpress

import (
	"context"
	"net/http"
	"net/url"

	"github.com/JakeFAU/rankyak-pipeline/internal/content"
	"github.com/JakeFAU/rankyak-pipeline/internal/publishing"
)

const (
	pluginPath = "/wp-json/rankyak/v1/publish"
	postsPath  = "/wp-json/wp/v2/posts"
)

// Adapter implements publishing.Adapter for WordPress.
type Adapter struct {
	client publishing.Doer
}

// New builds an Adapter. A nil client uses publishing.DefaultHTTPClient.
func New(client publishing.Doer) *Adapter {
	if client == nil {
		client = publishing.DefaultHTTPClient()
	}
	return &Adapter{client: client}
}

// Platform implements publishing.Adapter.
func (a *Adapter) Platform() content.Platform { return content.PlatformWordPress }

// Validate implements publishing.Adapter.
func (a *Adapter) Validate(cred publishing.Credential, target publishing.Target) error {
	if target.URL == "" {
		return content.Errorf(content.CodeValidationFailed, "wordpress", "integration has no site url")
	}
	if _, err := url.ParseRequestURI(target.URL); err != nil {
		return content.Wrap(content.CodeValidationFailed, "wordpress", err)
	}
	switch cred.(type) {
	case publishing.StaticKey, publishing.OAuth, publishing.Basic:
		return nil
	default:
		return content.Errorf(content.CodeValidationFailed, "wordpress", "unsupported credential %T", cred)
	}
}

// Host implements publishing.Adapter.
func (a *Adapter) Host(target publishing.Target) string { return target.URL }

type pluginRequest struct {
	Title            string `json:"title"`
	Content          string `json:"content"`
	Status           string `json:"status"`
	Excerpt          string `json:"excerpt"`
	MetaTitle        string `json:"meta_title,omitempty"`
	MetaDescription  string `json:"meta_description,omitempty"`
	FeaturedImageURL string `json:"featured_image_url,omitempty"`
	Slug             string `json:"slug,omitempty"`
	IdempotencyKey   string `json:"idempotency_key"`
}

type pluginResponse struct {
	Found  *bool  `json:"found,omitempty"`
	PostID any    `json:"post_id"`
	URL    string `json:"url"`
}

type restPost struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Status  string `json:"status"`
	Excerpt string `json:"excerpt"`
	Slug    string `json:"slug,omitempty"`
}

type restPostResponse struct {
	ID   any    `json:"id"`
	Link string `json:"link"`
}

// Publish implements publishing.Adapter.
func (a *Adapter) Publish(ctx context.Context, req publishing.Request) (publishing.Remote, error) {
	status := "draft"
	if req.Publish {
		status = "publish"
	}
	if basic, ok := req.Credential.(publishing.Basic); ok {
		var out restPostResponse
		_, err := publishing.DoJSON(ctx, a.client, publishing.Call{
			Op:     "wordpress publish",
			Method: http.MethodPost,
			URL:    req.Target.URL + postsPath,
			Header: basicHeader(basic),
			Body: restPost{
				Title:   req.Article.Title,
				Content: req.HTML,
				Status:  status,
				Excerpt: req.Excerpt,
				Slug:    req.Article.Slug,
			},
			Out: &out,
		})
		if err != nil {
			return publishing.Remote{}, err
		}
		return publishing.Remote{URL: out.Link, PostID: publishing.FormatID(out.ID)}, nil
	}

	var out pluginResponse
	_, err := publishing.DoJSON(ctx, a.client, publishing.Call{
		Op:     "wordpress publish",
		Method: http.MethodPost,
		URL:    req.Target.URL + pluginPath,
		Header: pluginHeader(req.Credential),
		Body: pluginRequest{
			Title:            req.Article.Title,
			Content:          req.HTML,
			Status:           status,
			Excerpt:          req.Excerpt,
			MetaTitle:        req.Article.MetaTitle,
			MetaDescription:  req.Article.MetaDescription,
			FeaturedImageURL: req.Article.FeaturedImageURL,
			Slug:             req.Article.Slug,
			IdempotencyKey:   req.IdempotencyKey,
		},
		Out: &out,
	})
	if err != nil {
		return publishing.Remote{}, err
	}
	return publishing.Remote{URL: out.URL, PostID: publishing.FormatID(out.PostID)}, nil
}

// Find implements publishing.Adapter.
func (a *Adapter) Find(ctx context.Context, req publishing.Request) (publishing.Remote, bool, error) {
	if basic, ok := req.Credential.(publishing.Basic); ok {
		if req.Article.Slug == "" {
			return publishing.Remote{}, false, nil
		}
		q := url.Values{"slug": {req.Article.Slug}, "status": {"any"}}
		var out []restPostResponse
		if _, err := publishing.DoJSON(ctx, a.client, publishing.Call{
			Op:     "wordpress find",
			Method: http.MethodGet,
			URL:    req.Target.URL + postsPath + "?" + q.Encode(),
			Header: basicHeader(basic),
			Out:    &out,
		}); err != nil {
			return publishing.Remote{}, false, err
		}
		if len(out) == 0 {
			return publishing.Remote{}, false, nil
		}
		return publishing.Remote{URL: out[0].Link, PostID: publishing.FormatID(out[0].ID)}, true, nil
	}

	q := url.Values{"idempotency_key": {req.IdempotencyKey}}
	var out pluginResponse
	status, err := publishing.DoJSON(ctx, a.client, publishing.Call{
		Op:     "wordpress find",
		Method: http.MethodGet,
		URL:    req.Target.URL + pluginPath + "?" + q.Encode(),
		Header: pluginHeader(req.Credential),
		Out:    &out,
	})
	if status == http.StatusNotFound {
		return publishing.Remote{}, false, nil
	}
	if err != nil {
		return publishing.Remote{}, false, err
	}
	if out.Found != nil && !*out.Found {
		return publishing.Remote{}, false, nil
	}
	id := publishing.FormatID(out.PostID)
	if id == "" && out.URL == "" {
		return publishing.Remote{}, false, nil
	}
	return publishing.Remote{URL: out.URL, PostID: id}, true, nil
}

func pluginHeader(cred publishing.Credential) http.Header {
	h := http.Header{}
	switch c := cred.(type) {
	case publishing.StaticKey:
		h.Set("X-Integration-Key", c.Key)
	case publishing.OAuth:
		h.Set("Authorization", "Bearer "+c.AccessToken)
	}
	return h
}

func basicHeader(c publishing.Basic) http.Header {
	req := &http.Request{Header: http.Header{}}
	req.SetBasicAuth(c.Username, c.Password)
	return req.Header
}
