package source

import (
	"bytes"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/samber/lo"

	"github.com/0x0BSoD/feedRelay/internal/model"
)

type GofeedParser struct {
	parser *gofeed.Parser
}

func NewGofeedParser() *GofeedParser {
	return &GofeedParser{parser: gofeed.NewParser()}
}

func (p *GofeedParser) Parse(data []byte) ([]model.Entry, error) {
	feed, err := p.parser.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	return lo.Map(feed.Items, func(item *gofeed.Item, _ int) model.Entry {
		return model.Entry{
			Title:       item.Title,
			Link:        gofeedLink(item),
			ImageURL:    gofeedImage(item),
			Summary:     lo.Ternary(item.Description != "", item.Description, item.Content),
			Categories:  item.Categories,
			PublishedAt: timeOrZero(item.PublishedParsed),
			UpdatedAt:   timeOrZero(item.UpdatedParsed),
		}
	}), nil
}

func gofeedLink(item *gofeed.Item) string {
	if item.Link != "" {
		return item.Link
	}
	if len(item.Links) > 0 {
		return item.Links[0]
	}
	return ""
}

// gofeedImage prefers the item image, then an image enclosure, then a secondary link.
func gofeedImage(item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}

	for _, enc := range item.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") {
			return enc.URL
		}
	}

	if len(item.Links) > 1 {
		return item.Links[1]
	}

	return ""
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
