package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/rankyak-pipeline/internal/content"
)

func TestPublisherStoresEvents(t *testing.T) {
	t.Parallel()

	pub := New()
	ctx := context.Background()
	require.NoError(t, pub.Publish(ctx, content.Event{Type: content.EventArticleGenerated, ArticleID: "a1"}))
	require.NoError(t, pub.Publish(ctx, content.Event{Type: content.EventArticlePublished, ArticleID: "a1"}))

	require.Len(t, pub.Events(), 2)
	published := pub.Events(content.EventArticlePublished)
	require.Len(t, published, 1)

	published[0].ArticleID = "modified"
	require.Equal(t, "a1", pub.Events(content.EventArticlePublished)[0].ArticleID)

	require.NoError(t, pub.Close())
	require.Error(t, pub.Publish(ctx, content.Event{Type: content.EventArticleGenerated}))
}
