// Package source polls the upstream feed and turns its items into model entries.
package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/0x0BSoD/feedRelay/internal/links"
	"github.com/0x0BSoD/feedRelay/internal/markup"
	"github.com/0x0BSoD/feedRelay/internal/model"
)

const maxFeedBytes = 5 << 20

// Parser decodes a raw feed document.
type Parser interface {
	Parse(data []byte) ([]model.Entry, error)
}

// NewParser returns the parser registered under name: "gofeed" (default) or "rss".
func NewParser(name string) (Parser, error) {
	switch name {
	case "", "gofeed":
		return NewGofeedParser(), nil
	case "rss":
		return RSSParser{}, nil
	default:
		return nil, fmt.Errorf("unknown feed parser %q", name)
	}
}

type FeedSource struct {
	URL       string
	UserAgent string
	CacheBust bool

	client    *http.Client
	parser    Parser
	sanitizer *markup.Sanitizer
	now       func() time.Time

	mu           sync.Mutex
	etag         string
	lastModified string
}

func NewFeedSource(url, userAgent string, cacheBust bool, client *http.Client, parser Parser) *FeedSource {
	return &FeedSource{
		URL:       url,
		UserAgent: userAgent,
		CacheBust: cacheBust,
		client:    client,
		parser:    parser,
		sanitizer: markup.NewSanitizer(),
		now:       time.Now,
	}
}

// Fetch downloads and parses the feed. When the server answers 304 to the validators of the last
// committed batch the result is marked NotModified and carries no entries.
func (s *FeedSource) Fetch(ctx context.Context) (model.Batch, error) {
	url := s.URL
	if s.CacheBust {
		url = links.WithCacheBuster(url, strconv.FormatInt(s.now().Unix(), 10))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return model.Batch{}, fmt.Errorf("create feed request: %w", err)
	}
	if s.UserAgent != "" {
		req.Header.Set("User-Agent", s.UserAgent)
	}

	s.mu.Lock()
	etag, lastModified := s.etag, s.lastModified
	s.mu.Unlock()

	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if lastModified != "" {
		req.Header.Set("If-Modified-Since", lastModified)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return model.Batch{}, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return model.Batch{NotModified: true}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return model.Batch{}, fmt.Errorf("fetch feed: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return model.Batch{}, fmt.Errorf("read feed: %w", err)
	}

	entries, err := s.parser.Parse(data)
	if err != nil {
		return model.Batch{}, fmt.Errorf("parse feed: %w", err)
	}

	for i := range entries {
		entries[i] = s.normalize(entries[i])
	}

	return model.Batch{
		Entries:      entries,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}, nil
}

// Commit remembers the validators of batch, so the next Fetch may be answered with 304. Callers
// commit only batches whose every entry was handled; otherwise the feed is downloaded again.
func (s *FeedSource) Commit(batch model.Batch) {
	if batch.NotModified {
		return
	}

	s.mu.Lock()
	s.etag, s.lastModified = batch.ETag, batch.LastModified
	s.mu.Unlock()
}

func (s *FeedSource) normalize(e model.Entry) model.Entry {
	e.Title = strings.TrimSpace(e.Title)
	e.Link = strings.TrimSpace(e.Link)
	e.Summary = s.sanitizer.Text(e.Summary)

	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = e.PublishedAt
	}
	if e.PublishedAt.IsZero() {
		e.PublishedAt = e.UpdatedAt
	}

	return e
}
