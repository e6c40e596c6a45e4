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
)

func newClient(t *testing.T) (*pubsub.Client, *pstest.Server) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	client, err := pubsub.NewClient(context.Background(), "socialmon-test", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, srv
}

func TestPublishWritesJSON(t *testing.T) {
	t.Parallel()

	client, srv := newClient(t)
	ctx := context.Background()
	_, err := client.CreateTopic(ctx, "socialmon-post.matched")
	require.NoError(t, err)

	pub := New(client, "socialmon-")
	defer pub.Close()

	id, err := pub.Publish(ctx, "post.matched", map[string]string{"post_id": "p1"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	var body map[string]string
	require.NoError(t, json.Unmarshal(msgs[0].Data, &body))
	require.Equal(t, "p1", body["post_id"])
	require.Equal(t, "post.matched", msgs[0].Attributes["event"])
}

func TestPublishErrors(t *testing.T) {
	t.Parallel()

	_, err := New(nil, "").Publish(context.Background(), "post.matched", 1)
	require.Error(t, err)

	client, _ := newClient(t)
	pub := New(client, "")
	defer pub.Close()

	_, err = pub.Publish(context.Background(), "", 1)
	require.Error(t, err)
	_, err = pub.Publish(context.Background(), "post.matched", func() {})
	require.Error(t, err)
	_, err = pub.Publish(context.Background(), "missing-topic", 1)
	require.Error(t, err)
}
