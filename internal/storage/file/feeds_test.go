package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feed_relay/internal/domain"
)

const testFeeds = `{
  "FEEDS": [
    {
      "id": "f1",
      "name": "Blog",
      "url": "https://example.com/rss",
      "webhooks": [{"url": "https://hooks.example.com/a", "label": "main"}],
      "update_interval": 600
    },
    {
      "id": "f2",
      "url": "https://example.com/legacy",
      "webhook_url": "https://hooks.example.com/old",
      "active": false
    },
    {
      "id": "f3",
      "url": "https://example.com/list",
      "webhook_urls": ["https://hooks.example.com/b", ""],
      "update_interval": 5
    },
    {
      "url": "https://example.com/no-id"
    }
  ]
}`

func newFeedStore(t *testing.T, body string) *FeedStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return NewFeedStore(path, 5*time.Minute, time.Minute, discardLogger())
}

func TestFeedStore_List(t *testing.T) {
	feeds, err := newFeedStore(t, testFeeds).List(context.Background())
	require.NoError(t, err)
	require.Len(t, feeds, 3)

	assert.Equal(t, "Blog", feeds[0].DisplayName())
	assert.Equal(t, 10*time.Minute, feeds[0].PollInterval)
	assert.True(t, feeds[0].Active)
	assert.Equal(t, []domain.Destination{{URL: "https://hooks.example.com/a", Label: "main"}}, feeds[0].Destinations)

	assert.False(t, feeds[1].Active)
	assert.Equal(t, 5*time.Minute, feeds[1].PollInterval)
	assert.Equal(t, "https://hooks.example.com/old", feeds[1].Destinations[0].URL)

	assert.Equal(t, time.Minute, feeds[2].PollInterval)
	assert.Equal(t, []domain.Destination{{URL: "https://hooks.example.com/b"}}, feeds[2].Destinations)
}

func TestFeedStore_Get(t *testing.T) {
	store := newFeedStore(t, testFeeds)

	feed, err := store.Get(context.Background(), "f3")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/list", feed.URL)

	_, err = store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrFeedNotFound)
}

func TestFeedStore_Invalid(t *testing.T) {
	_, err := newFeedStore(t, "not json").List(context.Background())
	assert.Error(t, err)

	missing := NewFeedStore(filepath.Join(t.TempDir(), "none.json"), time.Minute, time.Minute, discardLogger())
	_, err = missing.List(context.Background())
	assert.Error(t, err)
}
