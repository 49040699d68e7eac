package memory

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("# draft")
	uri, err := store.PutObject(context.Background(), "drafts/p1/a1.md", "text/markdown", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://drafts/p1/a1.md", uri)

	payload[0] = 'X'
	body, contentType, ok := store.Get("drafts/p1/a1.md")
	require.True(t, ok)
	require.Equal(t, "# draft", string(body))
	require.Equal(t, "text/markdown", contentType)
	require.Equal(t, 1, store.Len())
}

func TestBlobStoreRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	_, err := NewBlobStore().PutObject(context.Background(), " ", "", strings.NewReader("x"))
	require.Error(t, err)
}
