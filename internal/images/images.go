// Package images caches article images on local disk so they can be uploaded with a post.
package images

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/0x0BSoD/feedRelay/internal/model"
)

const maxImageBytes = 10 << 20

type Store struct {
	dir    string
	client *http.Client

	retries         uint64
	initialInterval time.Duration
	maxBytes        int64
}

func New(dir string, client *http.Client) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create images dir: %w", err)
	}

	return &Store{
		dir:             dir,
		client:          client,
		retries:         2,
		initialInterval: 500 * time.Millisecond,
		maxBytes:        maxImageBytes,
	}, nil
}

// WithRetry overrides how many times a download is retried after a gateway error.
func (s *Store) WithRetry(retries uint64, initialInterval time.Duration) *Store {
	s.retries = retries
	s.initialInterval = initialInterval
	return s
}

// WithMaxBytes overrides the largest image accepted into the cache.
func (s *Store) WithMaxBytes(n int64) *Store {
	s.maxBytes = n
	return s
}

// Get downloads ref into the cache directory and returns a handle to the local copy, or nil when
// the image could not be fetched.
func (s *Store) Get(ctx context.Context, ref string) *model.ImageHandle {
	if ref == "" {
		return nil
	}

	path := filepath.Join(s.dir, fileName(ref))

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.initialInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, s.retries), ctx)

	err := backoff.RetryNotify(
		func() error { return s.download(ctx, ref, path) },
		policy,
		func(err error, wait time.Duration) {
			slog.Debug("retrying image download", "url", ref, "wait", wait, "err", err)
		},
	)
	if err != nil {
		slog.Error("failed to download image", "url", ref, "err", err)
		return nil
	}

	return &model.ImageHandle{Path: path, URL: ref}
}

// Clear removes every cached image and returns how many files were deleted.
func (s *Store) Clear() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read images dir: %w", err)
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			return removed, fmt.Errorf("remove image %s: %w", e.Name(), err)
		}
		removed++
	}

	return removed, nil
}

func (s *Store) download(ctx context.Context, ref, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return backoff.Permanent(err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusBadGateway,
		resp.StatusCode == http.StatusServiceUnavailable,
		resp.StatusCode == http.StatusGatewayTimeout:
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	default:
		return backoff.Permanent(fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	tmp, err := os.CreateTemp(s.dir, ".download-*")
	if err != nil {
		return backoff.Permanent(err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, io.LimitReader(resp.Body, s.maxBytes+1))
	if err != nil {
		tmp.Close()
		return err
	}
	if n > s.maxBytes {
		tmp.Close()
		return backoff.Permanent(fmt.Errorf("image larger than %d bytes", s.maxBytes))
	}
	if err := tmp.Close(); err != nil {
		return backoff.Permanent(err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return backoff.Permanent(err)
	}

	return nil
}

func fileName(ref string) string {
	sum := md5.Sum([]byte(ref))
	return hex.EncodeToString(sum[:])
}
