package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type crawlDone struct {
	Source string `json:"source"`
}

func (c crawlDone) Attributes() map[string]string { return map[string]string{"source": c.Source} }

func (c crawlDone) OrderingKey() string { return c.Source }

func TestPublisherRecordsNotifications(t *testing.T) {
	t.Parallel()

	pub := New()
	ctx := context.Background()
	id, err := pub.Publish(ctx, "crawl-completed", crawlDone{Source: "vnexpress"})
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id)
	id, err = pub.Publish(ctx, "crawl-audit", "payload")
	require.NoError(t, err)
	assert.Equal(t, "memory-2", id)

	done := pub.Topic("crawl-completed")
	require.Len(t, done, 1)
	assert.Equal(t, "memory-1", done[0].ID)
	assert.JSONEq(t, `{"source":"vnexpress"}`, string(done[0].Data))
	assert.Equal(t, "vnexpress", done[0].Attributes["source"])
	assert.Equal(t, "vnexpress", done[0].OrderingKey)

	all := pub.Messages()
	require.Len(t, all, 2)
	all[0].Topic = "modified"
	assert.Equal(t, "crawl-completed", pub.Messages()[0].Topic)
	assert.Empty(t, pub.Topic("missing"))
}

func TestPublisherRejectsBadInput(t *testing.T) {
	t.Parallel()

	pub := New()
	_, err := pub.Publish(context.Background(), "", crawlDone{})
	require.ErrorContains(t, err, "topic is required")
	_, err = pub.Publish(context.Background(), "crawl-completed", make(chan int))
	require.ErrorContains(t, err, "marshal payload")
	assert.Empty(t, pub.Messages())
}
