package markup

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestToHTMLRendersHeadingsAndLinks(t *testing.T) {
	t.Parallel()

	out, err := ToHTML("# Best CRM\n\nSee [pricing](https://example.com/pricing).")
	require.NoError(t, err)
	require.Contains(t, out, "<h1>Best CRM</h1>")
	require.Contains(t, out, `<a href="https://example.com/pricing">pricing</a>`)
}

func TestNormalizeConvertsHTML(t *testing.T) {
	t.Parallel()

	out, err := Normalize("<h2>Why it matters</h2><p>Short <strong>answer</strong>.</p>")
	require.NoError(t, err)
	require.Contains(t, out, "## Why it matters")
	require.Contains(t, out, "**answer**")
}

func TestNormalizeKeepsMarkdown(t *testing.T) {
	t.Parallel()

	in := "## Title\n\nBody text."
	out, err := Normalize("  " + in + "\n")
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestSlugify(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"Best CRM for Startups (2025)": "best-crm-for-startups-2025",
		"  Café   Société ":            "cafe-societe",
		"---":                          "",
		"What's new?":                  "what-s-new",
	}
	for in, want := range cases {
		require.Equal(t, want, Slugify(in), in)
	}
	require.LessOrEqual(t, len(Slugify(strings.Repeat("word ", 40))), 80)
}

func TestExcerpt(t *testing.T) {
	t.Parallel()

	body := "# Heading\n\nThe **best** CRM helps small teams [track deals](https://x.test) without busywork."
	require.Equal(t, "Heading The best CRM helps small teams track deals without busywork.", Excerpt(body, 0))

	short := Excerpt(body, 30)
	require.True(t, strings.HasSuffix(short, "…"))
	require.LessOrEqual(t, len([]rune(short)), 31)
}
