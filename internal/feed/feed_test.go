package feed

import (
	"strings"
	"testing"
	"time"

	"github.com/gorilla/feeds"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublished(t *testing.T) {
	assert.True(t, published("20240301.png"))
	assert.False(t, published("latest.png"))
	assert.False(t, published("20240301.html"))
	assert.False(t, published("alice/chat/20240301_120000.png"))
}

func TestItem(t *testing.T) {
	modified := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	it := Item("https://studio.example/", map[string]string{"date": "20240301", "prompt": "一只猫"}, modified)

	assert.Equal(t, "20240301 - 一只猫", it.Title)
	assert.Equal(t, "https://studio.example/20240301.html", it.Link.Href)
	assert.Equal(t, "https://studio.example/20240301.png", it.Id)
	assert.Equal(t, modified, it.Updated)
}

func TestRenderNewestFirst(t *testing.T) {
	older := Item("https://s", map[string]string{"date": "20240301", "prompt": "older"}, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	newer := Item("https://s", map[string]string{"date": "20240302", "prompt": "newer"}, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC))

	rss, err := Render("https://s", []*feeds.Item{older, newer}, time.Now())
	require.NoError(t, err)

	out := string(rss)
	assert.Contains(t, out, "<rss")
	assert.Less(t, strings.Index(out, "newer"), strings.Index(out, "older"))
}
