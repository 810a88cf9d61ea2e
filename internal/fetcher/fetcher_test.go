package fetcher_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0x0BSoD/feedRelay/internal/fetcher"
	"github.com/0x0BSoD/feedRelay/internal/model"
	"github.com/0x0BSoD/feedRelay/internal/reconciler"
	"github.com/0x0BSoD/feedRelay/internal/source"
	"github.com/0x0BSoD/feedRelay/internal/storage"
)

type stubSource struct {
	batch   model.Batch
	err     error
	commits []model.Batch
}

func (s *stubSource) Fetch(context.Context) (model.Batch, error) {
	return s.batch, s.err
}

func (s *stubSource) Commit(batch model.Batch) {
	s.commits = append(s.commits, batch)
}

type stubEngine struct {
	mu      sync.Mutex
	batches []model.Batch
	report  reconciler.Report
	err     error
}

func (e *stubEngine) Run(_ context.Context, batch model.Batch) (reconciler.Report, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.batches = append(e.batches, batch)
	return e.report, e.err
}

func (e *stubEngine) runs() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.batches)
}

func TestFetcher_Fetch(t *testing.T) {
	batch := model.Batch{Entries: []model.Entry{{Title: "A", Link: "https://example.com/a"}}, ETag: `"v1"`}
	src := &stubSource{batch: batch}
	engine := &stubEngine{report: reconciler.Report{Created: 1}}

	f := fetcher.New(src, engine, time.Minute)

	require.NoError(t, f.Fetch(context.Background()))
	require.Len(t, engine.batches, 1)
	assert.Equal(t, batch, engine.batches[0])
	assert.Equal(t, []model.Batch{batch}, src.commits)
}

func TestFetcher_FetchSourceError(t *testing.T) {
	engine := &stubEngine{}
	f := fetcher.New(&stubSource{err: errors.New("connection refused")}, engine, time.Minute)

	require.Error(t, f.Fetch(context.Background()))
	assert.Zero(t, engine.runs())
}

func TestFetcher_FetchStoreError(t *testing.T) {
	src := &stubSource{batch: model.Batch{ETag: `"v1"`}}
	storeErr := &reconciler.StoreError{Op: "lookup", Err: errors.New("disk full")}
	engine := &stubEngine{err: storeErr}
	f := fetcher.New(src, engine, time.Minute)

	err := f.Fetch(context.Background())

	var target *reconciler.StoreError
	require.ErrorAs(t, err, &target)
	assert.Equal(t, "lookup", target.Op)
	assert.Empty(t, src.commits)
}

func TestFetcher_FailedEntriesAreNotCommitted(t *testing.T) {
	src := &stubSource{batch: model.Batch{ETag: `"v1"`}}
	engine := &stubEngine{report: reconciler.Report{Created: 2, Failed: 1}}
	f := fetcher.New(src, engine, time.Minute)

	require.NoError(t, f.Fetch(context.Background()))
	assert.Empty(t, src.commits)
}

func TestFetcher_StartKeepsPollingAfterErrors(t *testing.T) {
	engine := &stubEngine{err: reconciler.ErrCycleInProgress}
	f := fetcher.New(&stubSource{}, engine, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.Start(ctx) }()

	require.Eventually(t, func() bool { return engine.runs() >= 3 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

const atomFeed = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>DDay</title>
  <id>urn:feed</id>
  <updated>2024-05-01T10:00:00Z</updated>
  <entry>
    <title>Alpha</title>
    <link rel="alternate" href="https://x.test/a"/>
    <id>urn:a</id>
    <published>2024-05-01T10:00:00Z</published>
    <updated>2024-05-01T10:00:00Z</updated>
    <summary>Testo</summary>
  </entry>
</feed>`

type flakyPublisher struct {
	mu       sync.Mutex
	failures int
	creates  int
}

func (p *flakyPublisher) Create(context.Context, model.Post) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.creates++
	if p.failures > 0 {
		p.failures--
		return 0, errors.New("connection reset")
	}
	return 42, nil
}

func (p *flakyPublisher) Edit(_ context.Context, messageID int64, _ model.Post, _ time.Time) (model.EditResult, error) {
	return model.EditResult{MessageID: messageID, Outcome: model.Edited}, nil
}

type noDetails struct{}

func (noDetails) Details(context.Context, string) (model.Details, error) {
	return model.Details{}, nil
}

type noImages struct{}

func (noImages) Get(context.Context, string) *model.ImageHandle { return nil }

type noAudit struct{}

func (noAudit) Notify(context.Context, string) {}

func TestFetcher_FailedCreateIsRetriedDespiteETag(t *testing.T) {
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(atomFeed))
	}))
	defer srv.Close()

	db, err := storage.Connect(storage.DriverSQLite, filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = storage.Migrate(db)
	require.NoError(t, err)

	articles := storage.NewArticleStorage(db)
	// a non-empty store skips the first-run seeding
	_, err = articles.Create(ctx, model.Article{Title: "Old", Link: "https://x.test/old", Published: 1, Updated: 1, RemoteMessageID: model.Int64(1)})
	require.NoError(t, err)

	publisher := &flakyPublisher{failures: 1}
	engine := reconciler.New(articles, publisher, noDetails{}, noImages{}, noAudit{}, reconciler.AdvanceOnRejection)
	feed := source.NewFeedSource(srv.URL, "", false, srv.Client(), source.NewGofeedParser())

	f := fetcher.New(feed, engine, time.Minute)

	for range 3 {
		require.NoError(t, f.Fetch(ctx))
	}

	assert.Equal(t, 2, publisher.creates)

	stored, err := articles.ByLink(ctx, "https://x.test/a")
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.NotNil(t, stored.RemoteMessageID)
	assert.Equal(t, int64(42), *stored.RemoteMessageID)
}
