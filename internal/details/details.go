// Package details scrapes optional enrichment (tags, an excerpt) from article pages.
package details

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"

	"github.com/0x0BSoD/feedRelay/internal/links"
	"github.com/0x0BSoD/feedRelay/internal/model"
)

const (
	DefaultTagSelector = "section.article-category-tags a.category-tag"

	maxPageBytes = 5 << 20
)

type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

type Fetcher struct {
	client      *http.Client
	userAgent   string
	tagSelector string
	cacheBust   bool
	summarizer  Summarizer
	now         func() time.Time
}

// New builds a Fetcher. summarizer may be nil.
func New(client *http.Client, userAgent, tagSelector string, cacheBust bool, summarizer Summarizer) *Fetcher {
	if tagSelector == "" {
		tagSelector = DefaultTagSelector
	}

	return &Fetcher{
		client:      client,
		userAgent:   userAgent,
		tagSelector: tagSelector,
		cacheBust:   cacheBust,
		summarizer:  summarizer,
		now:         time.Now,
	}
}

// Details downloads the article page and extracts its category tags and a plain text excerpt.
func (f *Fetcher) Details(ctx context.Context, link string) (model.Details, error) {
	body, err := f.download(ctx, link)
	if err != nil {
		return model.Details{}, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return model.Details{}, fmt.Errorf("parse article page: %w", err)
	}

	details := model.Details{Tags: f.tags(doc)}
	if len(details.Tags) == 0 {
		slog.Warn("no tags found on article page", "link", link, "selector", f.tagSelector)
	}

	details.Excerpt = f.excerpt(ctx, link, body)

	return details, nil
}

var spaces = regexp.MustCompile(`\s+`)

func (f *Fetcher) tags(doc *goquery.Document) []string {
	var tags []string
	doc.Find(f.tagSelector).Each(func(_ int, s *goquery.Selection) {
		// hashtags cannot contain whitespace
		if tag := spaces.ReplaceAllString(s.Text(), ""); tag != "" {
			tags = append(tags, tag)
		}
	})
	return tags
}

func (f *Fetcher) excerpt(ctx context.Context, link string, body []byte) string {
	pageURL, _ := url.Parse(link)

	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err != nil {
		slog.Warn("failed to extract article text", "link", link, "err", err)
		return ""
	}

	if excerpt := strings.TrimSpace(article.Excerpt); excerpt != "" {
		return excerpt
	}

	if f.summarizer == nil || strings.TrimSpace(article.TextContent) == "" {
		return ""
	}

	summary, err := f.summarizer.Summarize(ctx, article.TextContent)
	if err != nil {
		slog.Warn("failed to summarize article", "link", link, "err", err)
		return ""
	}

	return strings.TrimSpace(summary)
}

func (f *Fetcher) download(ctx context.Context, link string) ([]byte, error) {
	target := link
	if f.cacheBust {
		target = links.WithCacheBuster(link, strconv.FormatInt(f.now().Unix(), 10))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create article request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch article page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch article page: unexpected status %d", resp.StatusCode)
	}

	return io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
}
