// Package housekeeping bounds the article store and the image cache.
package housekeeping

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/0x0BSoD/feedRelay/internal/metrics"
)

type ArticleTrimmer interface {
	Trim(ctx context.Context, keep int) (int64, error)
}

type ImageCache interface {
	Clear() (int, error)
}

type Cleaner struct {
	articles ArticleTrimmer
	images   ImageCache

	retention int
	interval  time.Duration
}

func New(articles ArticleTrimmer, images ImageCache, retention int, interval time.Duration) *Cleaner {
	return &Cleaner{
		articles:  articles,
		images:    images,
		retention: retention,
		interval:  interval,
	}
}

func (c *Cleaner) Start(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	_ = c.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_ = c.Run(ctx)
		}
	}
}

// Run keeps the retention most recent articles and empties the image cache. A retention of zero or
// less disables trimming.
func (c *Cleaner) Run(ctx context.Context) error {
	var trimmed int64
	var errs []error

	if c.retention > 0 {
		n, err := c.articles.Trim(ctx, c.retention)
		if err != nil {
			slog.Error("failed to trim articles", "err", err)
			errs = append(errs, err)
		}
		trimmed = n
	}

	cleared, err := c.images.Clear()
	if err != nil {
		slog.Error("failed to clear image cache", "err", err)
		errs = append(errs, err)
	}

	metrics.ObserveHousekeeping(trimmed, cleared)
	slog.Info("housekeeping done", "articles_deleted", trimmed, "images_deleted", cleared)

	return errors.Join(errs...)
}
