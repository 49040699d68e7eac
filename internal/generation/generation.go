// Package generation produces article drafts for a keyword.
package generation

import (
	"context"
	"fmt"
	"strings"

	"github.com/JakeFAU/rankyak-pipeline/internal/content"
)

// Brief is everything a generator needs to write one article.
type Brief struct {
	Project content.Project
	Keyword content.Keyword
}

// Draft is raw generator output before normalisation.
type Draft struct {
	Title            string `json:"title"`
	Body             string `json:"body"`
	MetaTitle        string `json:"meta_title"`
	MetaDescription  string `json:"meta_description"`
	FeaturedImageURL string `json:"featured_image_url,omitempty"`
	Slug             string `json:"slug,omitempty"`
}

// Generator writes drafts.
type Generator interface {
	Generate(ctx context.Context, brief Brief) (Draft, error)
}

// Validate rejects drafts that cannot become an article.
func (d Draft) Validate() error {
	if strings.TrimSpace(d.Title) == "" {
		return content.Errorf(content.CodeValidationFailed, "generate", "draft has no title")
	}
	if strings.TrimSpace(d.Body) == "" {
		return content.Errorf(content.CodeValidationFailed, "generate", "draft has no body")
	}
	return nil
}

// Template is a deterministic Generator for development and tests.
type Template struct{}

// Generate implements Generator.
func (Template) Generate(_ context.Context, brief Brief) (Draft, error) {
	kw := strings.TrimSpace(brief.Keyword.Text)
	if kw == "" {
		return Draft{}, content.Errorf(content.CodeValidationFailed, "generate", "keyword text is empty")
	}
	runes := []rune(kw)
	title := strings.ToUpper(string(runes[:1])) + string(runes[1:])
	body := fmt.Sprintf(`# %[1]s

Choosing the right %[2]s matters for %[3]s.

## What to look for in %[2]s

Start with the problems you need to solve, then compare %[2]s options on price and support.

## Next steps

Read more on [our site](%[4]s) and shortlist two %[2]s tools to trial.
`, title, kw, brief.Project.Name, brief.Project.WebsiteURL)
	return Draft{
		Title:           title,
		Body:            body,
		MetaTitle:       title + " | " + brief.Project.Name,
		MetaDescription: fmt.Sprintf("A practical guide to %s for %s.", kw, brief.Project.Name),
	}, nil
}
