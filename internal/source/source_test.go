package source_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0x0BSoD/feedRelay/internal/model"
	"github.com/0x0BSoD/feedRelay/internal/source"
)

const atomFeed = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>DDay</title>
  <id>urn:feed</id>
  <updated>2024-05-02T10:00:00Z</updated>
  <entry>
    <title> Alpha Two </title>
    <link rel="alternate" href="https://www.x.test/a"/>
    <link rel="enclosure" type="image/jpeg" href="https://x.test/a.jpg"/>
    <id>urn:a</id>
    <published>2024-05-01T10:00:00Z</published>
    <updated>2024-05-02T10:00:00Z</updated>
    <summary type="html">&lt;p&gt;Testo   &lt;img src="x.jpg"/&gt;&lt;a href="https://x.test/a"&gt;Leggi&lt;/a&gt;&lt;/p&gt;</summary>
    <category term="Smartphone"/>
  </entry>
  <entry>
    <title>Beta</title>
    <link rel="alternate" href="https://x.test/b"/>
    <id>urn:b</id>
    <published>2024-04-30T10:00:00Z</published>
  </entry>
</feed>`

const rssFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
<title>DDay</title>
<link>https://x.test</link>
<description>news</description>
<item>
<title>Alpha</title>
<link>https://x.test/a</link>
<description>Testo</description>
<pubDate>Wed, 01 May 2024 10:00:00 +0000</pubDate>
</item>
</channel>
</rss>`

func serveFeed(t *testing.T, body string, requests *atomic.Int32) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		assert.Equal(t, "feed-relay-test", r.Header.Get("User-Agent"))

		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}

		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	return srv
}

func TestFeedSource_FetchGofeed(t *testing.T) {
	var requests atomic.Int32
	srv := serveFeed(t, atomFeed, &requests)

	parser, err := source.NewParser("gofeed")
	require.NoError(t, err)

	src := source.NewFeedSource(srv.URL, "feed-relay-test", false, srv.Client(), parser)

	batch, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.False(t, batch.NotModified)
	require.Len(t, batch.Entries, 2)

	alpha := batch.Entries[0]
	assert.Equal(t, "Alpha Two", alpha.Title)
	assert.Equal(t, "https://www.x.test/a", alpha.Link)
	assert.Equal(t, "https://x.test/a.jpg", alpha.ImageURL)
	assert.Equal(t, "Testo", alpha.Summary)
	assert.Equal(t, []string{"Smartphone"}, alpha.Categories)
	assert.True(t, alpha.PublishedAt.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)))
	assert.True(t, alpha.UpdatedAt.Equal(time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)))

	beta := batch.Entries[1]
	assert.Empty(t, beta.ImageURL)
	assert.True(t, beta.UpdatedAt.Equal(beta.PublishedAt), "updated falls back to published")
}

func TestFeedSource_NotModified(t *testing.T) {
	var requests atomic.Int32
	srv := serveFeed(t, atomFeed, &requests)

	src := source.NewFeedSource(srv.URL, "feed-relay-test", true, srv.Client(), source.NewGofeedParser())

	batch, err := src.Fetch(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, batch.Entries)
	assert.Equal(t, `"v1"`, batch.ETag)

	src.Commit(batch)

	batch, err = src.Fetch(context.Background())
	require.NoError(t, err)
	assert.True(t, batch.NotModified)
	assert.Empty(t, batch.Entries)
	assert.Equal(t, int32(2), requests.Load())
}

func TestFeedSource_UncommittedBatchIsFetchedAgain(t *testing.T) {
	var requests atomic.Int32
	srv := serveFeed(t, atomFeed, &requests)

	src := source.NewFeedSource(srv.URL, "feed-relay-test", false, srv.Client(), source.NewGofeedParser())

	first, err := src.Fetch(context.Background())
	require.NoError(t, err)

	again, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.False(t, again.NotModified)
	assert.Equal(t, first.Entries, again.Entries)

	src.Commit(model.Batch{NotModified: true})

	again, err = src.Fetch(context.Background())
	require.NoError(t, err)
	assert.False(t, again.NotModified)
}

func TestFeedSource_CacheBuster(t *testing.T) {
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query().Get("_")
		_, _ = w.Write([]byte(atomFeed))
	}))
	defer srv.Close()

	src := source.NewFeedSource(srv.URL+"/rss", "", true, srv.Client(), source.NewGofeedParser())

	_, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, query)
}

func TestFeedSource_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	src := source.NewFeedSource(srv.URL, "", false, srv.Client(), source.NewGofeedParser())

	_, err := src.Fetch(context.Background())
	require.Error(t, err)
}

func TestFeedSource_InvalidDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not a feed"))
	}))
	defer srv.Close()

	src := source.NewFeedSource(srv.URL, "", false, srv.Client(), source.NewGofeedParser())

	_, err := src.Fetch(context.Background())
	require.Error(t, err)
}

func TestRSSParser(t *testing.T) {
	entries, err := source.RSSParser{}.Parse([]byte(rssFeed))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	assert.Equal(t, "Alpha", entries[0].Title)
	assert.Equal(t, "https://x.test/a", entries[0].Link)
	assert.Equal(t, "Testo", entries[0].Summary)
	assert.True(t, entries[0].PublishedAt.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)))
	assert.Equal(t, entries[0].PublishedAt, entries[0].UpdatedAt)
}

func TestNewParser(t *testing.T) {
	_, err := source.NewParser("")
	require.NoError(t, err)

	_, err = source.NewParser("rss")
	require.NoError(t, err)

	_, err = source.NewParser("json")
	require.Error(t, err)
}
