package gcs

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.ErrorContains(t, err, "storage client is required")

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	_, err = New(client, Config{})
	require.ErrorContains(t, err, "bucket name is required")
}

func TestObjectNameAppliesPrefix(t *testing.T) {
	t.Parallel()

	s := &BlobStore{prefix: "drafts"}
	require.Equal(t, "drafts/p1/a1.json", s.ObjectName("/p1/a1.json"))
	require.Equal(t, "p1/a1.json", (&BlobStore{}).ObjectName("p1/a1.json"))
}

func TestPutObjectUploads(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		body string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		mu.Lock()
		body += string(raw)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"bucket":"archive","name":"drafts/p1/a1.json"}`))
	}))
	defer srv.Close()

	ctx := context.Background()
	client, err := storage.NewClient(ctx,
		option.WithEndpoint(srv.URL+"/storage/v1/"),
		option.WithoutAuthentication(),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := New(client, Config{Bucket: "archive", Prefix: "drafts/"})
	require.NoError(t, err)
	uri, err := store.PutObject(ctx, "p1/a1.json", "application/json", strings.NewReader(`{"title":"Best CRM"}`))
	require.NoError(t, err)
	require.Equal(t, "gs://archive/drafts/p1/a1.json", uri)

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, body, `{"title":"Best CRM"}`)

	_, err = store.PutObject(ctx, " ", "", strings.NewReader(""))
	require.ErrorContains(t, err, "path is required")
}
