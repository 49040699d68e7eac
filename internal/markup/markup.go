// Package markup converts article bodies between markdown and HTML and
// derives slugs and excerpts.
package markup

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
	"golang.org/x/text/unicode/norm"
)

var (
	renderer = goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(html.WithUnsafe()),
	)
	converter = md.NewConverter("", true, nil)

	htmlTag = regexp.MustCompile(`(?i)<\s*(p|h[1-6]|div|ul|ol|li|a|strong|em|br|article|section)\b`)
	mdNoise = regexp.MustCompile("(?m)^#{1,6}\\s+|[*_`>]|!?\\[([^\\]]*)\\]\\([^)]*\\)")
)

// ToHTML renders markdown to HTML.
func ToHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := renderer.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return buf.String(), nil
}

// ToMarkdown converts HTML to markdown.
func ToMarkdown(htmlBody string) (string, error) {
	out, err := converter.ConvertString(htmlBody)
	if err != nil {
		return "", fmt.Errorf("convert html: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// LooksLikeHTML reports whether body contains block-level HTML markup.
func LooksLikeHTML(body string) bool {
	return htmlTag.MatchString(body)
}

// Normalize returns body as markdown, converting when the generator answered
// in HTML.
func Normalize(body string) (string, error) {
	body = strings.TrimSpace(body)
	if !LooksLikeHTML(body) {
		return body, nil
	}
	return ToMarkdown(body)
}

// Slugify lowercases s, strips diacritics and joins words with hyphens.
func Slugify(s string) string {
	decomposed := norm.NFKD.String(s)
	var b strings.Builder
	pendingDash := false
	for _, r := range decomposed {
		switch {
		case unicode.Is(unicode.Mn, r):
			continue
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(unicode.ToLower(r))
		default:
			pendingDash = true
		}
	}
	slug := b.String()
	if len(slug) > 80 {
		slug = strings.TrimRight(slug[:80], "-")
	}
	return slug
}

// PlainText strips markdown syntax, keeping link text.
func PlainText(markdown string) string {
	text := mdNoise.ReplaceAllString(markdown, "$1")
	return strings.Join(strings.Fields(text), " ")
}

// Excerpt returns at most limit characters of the body's plain text, cut on a
// word boundary.
func Excerpt(markdown string, limit int) string {
	text := PlainText(markdown)
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return text
	}
	cut := string(runes[:limit])
	if i := strings.LastIndexByte(cut, ' '); i > limit/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,.;:") + "…"
}
