package wordpress

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/rankyak-pipeline/internal/content"
	"github.com/JakeFAU/rankyak-pipeline/internal/publishing"
)

func request(target string, cred publishing.Credential) publishing.Request {
	return publishing.Request{
		Article: content.Article{
			ID:              "a1",
			Title:           "Best CRM",
			Slug:            "best-crm",
			MetaTitle:       "Best CRM 2025",
			MetaDescription: "Compare CRMs",
		},
		HTML:           "<h1>Best CRM</h1>",
		Excerpt:        "Best CRM",
		Publish:        true,
		IdempotencyKey: "idem-1",
		Credential:     cred,
		Target:         publishing.Target{URL: target},
	}
}

func TestPublishThroughPluginWithIntegrationKey(t *testing.T) {
	t.Parallel()

	var got pluginRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, pluginPath, r.URL.Path)
		require.Equal(t, "rk_abc", r.Header.Get("X-Integration-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"success":true,"post_id":42,"url":"https://blog.test/best-crm"}`))
	}))
	defer srv.Close()

	remote, err := New(srv.Client()).Publish(context.Background(), request(srv.URL, publishing.StaticKey{Key: "rk_abc"}))
	require.NoError(t, err)
	require.Equal(t, publishing.Remote{URL: "https://blog.test/best-crm", PostID: "42"}, remote)
	require.Equal(t, "publish", got.Status)
	require.Equal(t, "Best CRM 2025", got.MetaTitle)
	require.Equal(t, "idem-1", got.IdempotencyKey)
}

func TestPublishThroughPluginWithBearer(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"post_id":"7","url":"https://blog.test/p/7"}`))
	}))
	defer srv.Close()

	remote, err := New(srv.Client()).Publish(context.Background(), request(srv.URL, publishing.OAuth{AccessToken: "tok"}))
	require.NoError(t, err)
	require.Equal(t, "7", remote.PostID)
}

func TestPublishRESTFallbackWithBasic(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, postsPath, r.URL.Path)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "admin", user)
		require.Equal(t, "app-pass", pass)
		var body restPost
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "draft", body.Status)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":99,"link":"https://blog.test/?p=99"}`))
	}))
	defer srv.Close()

	req := request(srv.URL, publishing.Basic{Username: "admin", Password: "app-pass"})
	req.Publish = false
	remote, err := New(srv.Client()).Publish(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "99", remote.PostID)
}

func TestPublishMapsFailures(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"code":"rest_forbidden"}`))
	}))
	defer srv.Close()

	_, err := New(srv.Client()).Publish(context.Background(), request(srv.URL, publishing.StaticKey{Key: "k"}))
	require.ErrorIs(t, err, content.ErrPlatformRejected)
	require.ErrorContains(t, err, "rest_forbidden")
	require.True(t, content.IsPermanent(err))

	srv.Close()
	_, err = New(srv.Client()).Publish(context.Background(), request(srv.URL, publishing.StaticKey{Key: "k"}))
	require.ErrorIs(t, err, content.ErrPlatformUnreachable)
	require.False(t, content.IsPermanent(err))
}

func TestFindByIdempotencyKey(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("idempotency_key") == "idem-1" {
			_, _ = w.Write([]byte(`{"found":true,"post_id":42,"url":"https://blog.test/best-crm"}`))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	a := New(srv.Client())
	remote, found, err := a.Find(context.Background(), request(srv.URL, publishing.StaticKey{Key: "k"}))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "42", remote.PostID)

	req := request(srv.URL, publishing.StaticKey{Key: "k"})
	req.IdempotencyKey = "other"
	_, found, err = a.Find(context.Background(), req)
	require.NoError(t, err)
	require.False(t, found)
}

func TestFindBySlugWithBasic(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "best-crm", r.URL.Query().Get("slug"))
		require.Equal(t, "any", r.URL.Query().Get("status"))
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	_, found, err := New(srv.Client()).Find(context.Background(), request(srv.URL, publishing.Basic{Username: "u", Password: "p"}))
	require.NoError(t, err)
	require.False(t, found)
}

func TestValidateRequiresURL(t *testing.T) {
	t.Parallel()

	err := New(nil).Validate(publishing.StaticKey{Key: "k"}, publishing.Target{})
	require.ErrorIs(t, err, content.ErrValidationFailed)
	require.NoError(t, New(nil).Validate(publishing.StaticKey{Key: "k"}, publishing.Target{URL: "https://blog.test"}))
}
