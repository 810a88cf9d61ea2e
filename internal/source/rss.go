package source

import (
	"strings"

	"github.com/SlyMarbo/rss"
	"github.com/samber/lo"

	"github.com/0x0BSoD/feedRelay/internal/model"
)

// RSSParser decodes feeds with SlyMarbo/rss. That library exposes a single date per item, so it
// serves as both the published and the updated timestamp: edits are only noticed when the feed
// bumps that date.
type RSSParser struct{}

func (RSSParser) Parse(data []byte) ([]model.Entry, error) {
	feed, err := rss.Parse(data)
	if err != nil {
		return nil, err
	}

	return lo.Map(feed.Items, func(item *rss.Item, _ int) model.Entry {
		return model.Entry{
			Title:       item.Title,
			Link:        item.Link,
			ImageURL:    rssImage(item),
			Summary:     itemText(item),
			Categories:  item.Categories,
			PublishedAt: item.Date,
			UpdatedAt:   item.Date,
		}
	}), nil
}

// itemText returns the short excerpt when present and the full body otherwise.
func itemText(item *rss.Item) string {
	if s := strings.TrimSpace(item.Summary); s != "" {
		return s
	}
	return strings.TrimSpace(item.Content)
}

func rssImage(item *rss.Item) string {
	for _, enc := range item.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") {
			return enc.URL
		}
	}

	return ""
}
