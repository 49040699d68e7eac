package generation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/rankyak-pipeline/internal/content"
)

func brief() Brief {
	return Brief{
		Project: content.Project{Name: "Acme", WebsiteURL: "https://acme.test", Language: "de"},
		Keyword: content.Keyword{Text: "best crm", SearchVolume: 900, Difficulty: 40},
	}
}

func TestClientGenerate(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		var req chatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "gpt-test", req.Model)
		require.Contains(t, req.Messages[1].Content, "Keyword: best crm")
		require.Contains(t, req.Messages[1].Content, "Language: de")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"` +
			"```json\\n{\\\"title\\\":\\\"Best CRM\\\",\\\"body\\\":\\\"## Why\\\"}\\n```" + `"}}]}`))
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "key", BaseURL: srv.URL, Model: "gpt-test"}, WithHTTPClient(srv.Client()))
	draft, err := c.Generate(context.Background(), brief())
	require.NoError(t, err)
	require.Equal(t, "Best CRM", draft.Title)
	require.Equal(t, "## Why", draft.Body)
}

func TestClientStatusMapping(t *testing.T) {
	t.Parallel()

	var status atomic.Int32
	status.Store(http.StatusTooManyRequests)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(int(status.Load()))
		_, _ = w.Write([]byte(`{"error":{"message":"slow down"}}`))
	}))
	defer srv.Close()
	c := NewClient(Config{APIKey: "key", BaseURL: srv.URL}, WithHTTPClient(srv.Client()))

	_, err := c.Generate(context.Background(), brief())
	require.ErrorContains(t, err, "http 429")
	require.False(t, content.IsPermanent(err))

	status.Store(http.StatusUnauthorized)
	_, err = c.Generate(context.Background(), brief())
	require.ErrorIs(t, err, content.ErrValidationFailed)
}

func TestClientRequiresAPIKey(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{}).Generate(context.Background(), brief())
	require.ErrorIs(t, err, content.ErrValidationFailed)
}

func TestClientRejectsEmptyDraft(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"title\":\"x\"}"}}]}`))
	}))
	defer srv.Close()

	_, err := NewClient(Config{APIKey: "k", BaseURL: srv.URL}, WithHTTPClient(srv.Client())).Generate(context.Background(), brief())
	require.ErrorIs(t, err, content.ErrValidationFailed)
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	var d Draft
	require.NoError(t, DecodeJSON(`Sure! {"title":"T","body":"B"} hope this helps`, &d))
	require.Equal(t, "T", d.Title)
	require.Error(t, DecodeJSON("", &d))
	require.Error(t, DecodeJSON("not json", &d))
}

func TestTemplateGenerator(t *testing.T) {
	t.Parallel()

	d, err := Template{}.Generate(context.Background(), brief())
	require.NoError(t, err)
	require.Equal(t, "Best crm", d.Title)
	require.Contains(t, d.Body, "](https://acme.test)")
	require.NoError(t, d.Validate())

	_, err = Template{}.Generate(context.Background(), Brief{})
	require.ErrorIs(t, err, content.ErrValidationFailed)
}
