// Package seo measures article structure and derives a 0-100 score.
package seo

import (
	"fmt"
	"math"
	"net/url"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/rankyak-pipeline/internal/markup"
)

// Input is what the analyzer looks at.
type Input struct {
	Title           string
	Body            string // markdown
	MetaTitle       string
	MetaDescription string
	Keyword         string
	SiteURL         string
}

// Report holds the measured metrics.
type Report struct {
	WordCount      int
	HeadingCount   int
	ParagraphCount int
	InternalLinks  int
	ExternalLinks  int
	KeywordDensity float64 // percent of words covered by keyword occurrences
	Score          int
}

// Analyze renders the body and measures it.
func Analyze(in Input) (Report, error) {
	html, err := markup.ToHTML(in.Body)
	if err != nil {
		return Report{}, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Report{}, fmt.Errorf("parse article html: %w", err)
	}

	var r Report
	words := tokenize(doc.Text())
	r.WordCount = len(words)
	r.HeadingCount = doc.Find("h1, h2, h3, h4, h5, h6").Length()
	r.ParagraphCount = doc.Find("p").Length()

	siteHost := hostOf(in.SiteURL)
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		switch classify(href, siteHost) {
		case linkInternal:
			r.InternalLinks++
		case linkExternal:
			r.ExternalLinks++
		}
	})

	kw := tokenize(in.Keyword)
	if len(kw) > 0 && r.WordCount > 0 {
		hits := countPhrase(words, kw)
		density := float64(hits*len(kw)) / float64(r.WordCount) * 100
		r.KeywordDensity = math.Round(density*100) / 100
	}
	r.Score = score(in, r, kw)
	return r, nil
}

type linkKind int

const (
	linkIgnored linkKind = iota
	linkInternal
	linkExternal
)

func classify(href, siteHost string) linkKind {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "mailto:") {
		return linkIgnored
	}
	u, err := url.Parse(href)
	if err != nil {
		return linkIgnored
	}
	if u.Host == "" {
		return linkInternal
	}
	if siteHost != "" && strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.") == siteHost {
		return linkInternal
	}
	return linkExternal
}

func hostOf(raw string) string {
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

func countPhrase(words, phrase []string) int {
	hits := 0
	for i := 0; i+len(phrase) <= len(words); i++ {
		match := true
		for j := range phrase {
			if words[i+j] != phrase[j] {
				match = false
				break
			}
		}
		if match {
			hits++
		}
	}
	return hits
}

func containsPhrase(text string, phrase []string) bool {
	return len(phrase) > 0 && countPhrase(tokenize(text), phrase) > 0
}

func score(in Input, r Report, kw []string) int {
	s := 0
	switch {
	case r.WordCount >= 1500:
		s += 25
	case r.WordCount >= 800:
		s += 15
	case r.WordCount >= 300:
		s += 8
	}
	switch {
	case r.HeadingCount >= 3:
		s += 15
	case r.HeadingCount >= 1:
		s += 8
	}
	if containsPhrase(in.Title, kw) || containsPhrase(in.MetaTitle, kw) {
		s += 15
	}
	switch {
	case r.KeywordDensity >= 0.5 && r.KeywordDensity <= 2.5:
		s += 15
	case r.KeywordDensity > 0:
		s += 7
	}
	switch n := len([]rune(in.MetaDescription)); {
	case n >= 120 && n <= 160:
		s += 10
	case n > 0:
		s += 5
	}
	if r.InternalLinks > 0 {
		s += 10
	}
	if r.ExternalLinks > 0 {
		s += 10
	}
	return min(max(s, 0), 100)
}
