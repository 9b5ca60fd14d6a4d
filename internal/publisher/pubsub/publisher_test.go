package pubsub

import (
	"context"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type completed struct {
	Source string `json:"source"`
}

func (c completed) Attributes() map[string]string { return map[string]string{"source": c.Source} }

func (c completed) OrderingKey() string { return c.Source }

func newFakeClient(t *testing.T) (*pubsub.Client, *pstest.Server) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, "news-crawler-test", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, srv
}

func TestPublish(t *testing.T) {
	client, srv := newFakeClient(t)
	ctx := context.Background()
	_, err := client.CreateTopic(ctx, "crawl-completed")
	require.NoError(t, err)

	p := New(client)
	defer p.Close()

	id, err := p.Publish(ctx, "crawl-completed", completed{Source: "tuoitre"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.JSONEq(t, `{"source":"tuoitre"}`, string(msgs[0].Data))
	assert.Equal(t, "tuoitre", msgs[0].Attributes["source"])
	assert.Equal(t, "tuoitre", msgs[0].OrderingKey)
}

func TestPublishUnorderedPayload(t *testing.T) {
	client, srv := newFakeClient(t)
	ctx := context.Background()
	_, err := client.CreateTopic(ctx, "crawl-audit")
	require.NoError(t, err)

	p := New(client)
	defer p.Close()
	_, err = p.Publish(ctx, "crawl-audit", map[string]int{"results": 10})
	require.NoError(t, err)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.JSONEq(t, `{"results":10}`, string(msgs[0].Data))
	assert.Empty(t, msgs[0].OrderingKey)
}

func TestPublishMissingTopic(t *testing.T) {
	client, _ := newFakeClient(t)
	p := New(client)
	defer p.Close()

	_, err := p.Publish(context.Background(), "never-created", completed{Source: "vnexpress"})
	require.ErrorContains(t, err, "publish to never-created")
}

func TestPublishValidation(t *testing.T) {
	_, err := New(nil).Publish(context.Background(), "t", "x")
	require.Error(t, err)

	client, _ := newFakeClient(t)
	_, err = New(client).Publish(context.Background(), "", "x")
	require.Error(t, err)
	_, err = New(client).Publish(context.Background(), "t", make(chan int))
	require.ErrorContains(t, err, "marshal payload")
}

func TestAttributeCarrier(t *testing.T) {
	c := attributeCarrier{}
	c.Set("traceparent", "00-abc-def-01")
	assert.Equal(t, "00-abc-def-01", c.Get("traceparent"))
	assert.Equal(t, []string{"traceparent"}, c.Keys())
}
