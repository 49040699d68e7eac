// Package shopify publishes articles as Shopify blog articles.
package shopify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/JakeFAU/rankyak-pipeline/internal/content"
	"github.com/JakeFAU/rankyak-pipeline/internal/publishing"
)

const apiVersion = "2024-01"

// Option customises an Adapter.
type Option func(*Adapter)

// WithBaseURL sends every request to base instead of the shop domain.
func WithBaseURL(base string) Option {
	return func(a *Adapter) { a.baseURL = strings.TrimRight(base, "/") }
}

// Adapter implements publishing.Adapter for Shopify.
type Adapter struct {
	client  publishing.Doer
	baseURL string

	mu    sync.Mutex
	blogs map[string]blog
}

type blog struct {
	ID     string
	Handle string
}

// New builds an Adapter. A nil client uses publishing.DefaultHTTPClient.
func New(client publishing.Doer, opts ...Option) *Adapter {
	if client == nil {
		client = publishing.DefaultHTTPClient()
	}
	a := &Adapter{client: client, blogs: make(map[string]blog)}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Platform implements publishing.Adapter.
func (a *Adapter) Platform() content.Platform { return content.PlatformShopify }

// Validate implements publishing.Adapter.
func (a *Adapter) Validate(cred publishing.Credential, target publishing.Target) error {
	if ShopName(target.Shop) == "" {
		return content.Errorf(content.CodeValidationFailed, "shopify", "integration has no shop")
	}
	switch cred.(type) {
	case publishing.OAuth, publishing.Basic:
		return nil
	default:
		return content.Errorf(content.CodeValidationFailed, "shopify", "an access token is required")
	}
}

// Host implements publishing.Adapter.
func (a *Adapter) Host(target publishing.Target) string {
	return ShopName(target.Shop) + ".myshopify.com"
}

// ShopName reduces a shop domain or URL to its myshopify subdomain.
func ShopName(shop string) string {
	shop = strings.ToLower(strings.TrimSpace(shop))
	shop = strings.TrimPrefix(shop, "https://")
	shop = strings.TrimPrefix(shop, "http://")
	shop = strings.TrimRight(shop, "/")
	return strings.TrimSuffix(shop, ".myshopify.com")
}

func (a *Adapter) adminURL(target publishing.Target, path string) string {
	base := a.baseURL
	if base == "" {
		base = "https://" + ShopName(target.Shop) + ".myshopify.com"
	}
	return base + "/admin/api/" + apiVersion + path
}

func header(cred publishing.Credential) http.Header {
	h := http.Header{}
	switch c := cred.(type) {
	case publishing.OAuth:
		h.Set("X-Shopify-Access-Token", c.AccessToken)
	case publishing.Basic:
		h.Set("X-Shopify-Access-Token", c.Password)
	}
	return h
}

type blogPayload struct {
	ID     any    `json:"id"`
	Handle string `json:"handle"`
}

// resolveBlog returns the configured blog or the shop's first blog, cached
// per shop.
func (a *Adapter) resolveBlog(ctx context.Context, req publishing.Request) (blog, error) {
	cacheKey := ShopName(req.Target.Shop) + "/" + req.Target.BlogID
	a.mu.Lock()
	cached, ok := a.blogs[cacheKey]
	a.mu.Unlock()
	if ok {
		return cached, nil
	}

	var b blog
	if req.Target.BlogID != "" {
		var out struct {
			Blog blogPayload `json:"blog"`
		}
		if _, err := publishing.DoJSON(ctx, a.client, publishing.Call{
			Op:     "shopify blog",
			Method: http.MethodGet,
			URL:    a.adminURL(req.Target, "/blogs/"+url.PathEscape(req.Target.BlogID)+".json"),
			Header: header(req.Credential),
			Out:    &out,
		}); err != nil {
			return blog{}, err
		}
		b = blog{ID: req.Target.BlogID, Handle: out.Blog.Handle}
	} else {
		var out struct {
			Blogs []blogPayload `json:"blogs"`
		}
		if _, err := publishing.DoJSON(ctx, a.client, publishing.Call{
			Op:     "shopify blogs",
			Method: http.MethodGet,
			URL:    a.adminURL(req.Target, "/blogs.json"),
			Header: header(req.Credential),
			Out:    &out,
		}); err != nil {
			return blog{}, err
		}
		if len(out.Blogs) == 0 {
			return blog{}, content.Errorf(content.CodeValidationFailed, "shopify", "shop %s has no blog", req.Target.Shop)
		}
		b = blog{ID: publishing.FormatID(out.Blogs[0].ID), Handle: out.Blogs[0].Handle}
	}

	a.mu.Lock()
	a.blogs[cacheKey] = b
	a.mu.Unlock()
	return b, nil
}

type articlePayload struct {
	ID          any    `json:"id,omitempty"`
	Title       string `json:"title,omitempty"`
	BodyHTML    string `json:"body_html,omitempty"`
	SummaryHTML string `json:"summary_html,omitempty"`
	Handle      string `json:"handle,omitempty"`
	Published   *bool  `json:"published,omitempty"`
	Image       *image `json:"image,omitempty"`
}

type image struct {
	Src string `json:"src"`
}

func (a *Adapter) articleURL(target publishing.Target, b blog, handle string) string {
	return fmt.Sprintf("https://%s.myshopify.com/blogs/%s/%s", ShopName(target.Shop), b.Handle, handle)
}

// Publish implements publishing.Adapter.
func (a *Adapter) Publish(ctx context.Context, req publishing.Request) (publishing.Remote, error) {
	b, err := a.resolveBlog(ctx, req)
	if err != nil {
		return publishing.Remote{}, err
	}
	published := req.Publish
	in := articlePayload{
		Title:       req.Article.Title,
		BodyHTML:    req.HTML,
		SummaryHTML: req.Excerpt,
		Handle:      req.Article.Slug,
		Published:   &published,
	}
	if req.Article.FeaturedImageURL != "" {
		in.Image = &image{Src: req.Article.FeaturedImageURL}
	}
	var out struct {
		Article articlePayload `json:"article"`
	}
	if _, err := publishing.DoJSON(ctx, a.client, publishing.Call{
		Op:     "shopify publish",
		Method: http.MethodPost,
		URL:    a.adminURL(req.Target, "/blogs/"+url.PathEscape(b.ID)+"/articles.json"),
		Header: header(req.Credential),
		Body:   map[string]any{"article": in},
		Out:    &out,
	}); err != nil {
		return publishing.Remote{}, err
	}
	handle := out.Article.Handle
	if handle == "" {
		handle = req.Article.Slug
	}
	return publishing.Remote{URL: a.articleURL(req.Target, b, handle), PostID: publishing.FormatID(out.Article.ID)}, nil
}

// Find implements publishing.Adapter.
func (a *Adapter) Find(ctx context.Context, req publishing.Request) (publishing.Remote, bool, error) {
	if req.Article.Slug == "" {
		return publishing.Remote{}, false, nil
	}
	b, err := a.resolveBlog(ctx, req)
	if err != nil {
		return publishing.Remote{}, false, err
	}
	var out struct {
		Articles []articlePayload `json:"articles"`
	}
	q := url.Values{"handle": {req.Article.Slug}}
	if _, err := publishing.DoJSON(ctx, a.client, publishing.Call{
		Op:     "shopify find",
		Method: http.MethodGet,
		URL:    a.adminURL(req.Target, "/blogs/"+url.PathEscape(b.ID)+"/articles.json?"+q.Encode()),
		Header: header(req.Credential),
		Out:    &out,
	}); err != nil {
		return publishing.Remote{}, false, err
	}
	for _, art := range out.Articles {
		if art.Handle == req.Article.Slug {
			return publishing.Remote{URL: a.articleURL(req.Target, b, art.Handle), PostID: publishing.FormatID(art.ID)}, true, nil
		}
	}
	return publishing.Remote{}, false, nil
}
