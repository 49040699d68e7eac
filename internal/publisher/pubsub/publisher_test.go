package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/rankyak-pipeline/internal/content"
)

func TestPublisherSendsEvent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	client, err := pubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, "article-events")
	require.NoError(t, err)

	pub := New(topic)
	require.NoError(t, pub.Publish(ctx, content.Event{
		Type:      content.EventArticlePublished,
		ProjectID: "p1",
		ArticleID: "a1",
		URL:       "https://blog.test/a1",
	}))
	require.NoError(t, pub.Close())

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, content.EventArticlePublished, msgs[0].Attributes["type"])
	var got content.Event
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	require.Equal(t, "a1", got.ArticleID)
}

func TestPublisherWithoutTopic(t *testing.T) {
	t.Parallel()

	require.Error(t, New(nil).Publish(context.Background(), content.Event{}))
	require.NoError(t, New(nil).Close())
}
