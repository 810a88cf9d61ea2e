// Package reconciler matches feed entries against stored articles and publishes, edits or records
// them so that every article is sent to the channel at most once.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/0x0BSoD/feedRelay/internal/diff"
	"github.com/0x0BSoD/feedRelay/internal/links"
	"github.com/0x0BSoD/feedRelay/internal/markup"
	"github.com/0x0BSoD/feedRelay/internal/model"
)

var ErrCycleInProgress = errors.New("reconciliation cycle already in progress")

type ArticleStore interface {
	Count(ctx context.Context) (int, error)
	ByLink(ctx context.Context, link string) (*model.Article, error)
	Create(ctx context.Context, article model.Article) (model.Article, error)
	Seed(ctx context.Context, articles []model.Article) error
	Update(ctx context.Context, article model.Article) error
}

type Publisher interface {
	Create(ctx context.Context, post model.Post) (int64, error)
	Edit(ctx context.Context, messageID int64, post model.Post, edited time.Time) (model.EditResult, error)
}

type DetailFetcher interface {
	Details(ctx context.Context, link string) (model.Details, error)
}

type ImageStore interface {
	Get(ctx context.Context, ref string) *model.ImageHandle
}

type AuditSink interface {
	Notify(ctx context.Context, msg string)
}

// RejectionPolicy decides what happens to an article whose edit the messaging platform refused.
type RejectionPolicy int

const (
	// AdvanceOnRejection records the entry's timestamp anyway, so a message that no longer exists is
	// not retried on every cycle.
	AdvanceOnRejection RejectionPolicy = iota
	// RetryOnRejection leaves the article untouched and tries the edit again next cycle.
	RetryOnRejection
)

func ParseRejectionPolicy(s string) (RejectionPolicy, error) {
	switch s {
	case "", "advance":
		return AdvanceOnRejection, nil
	case "retry":
		return RetryOnRejection, nil
	default:
		return 0, fmt.Errorf("unknown edit rejection policy %q", s)
	}
}

// StoreError marks a persistence failure. It aborts the whole cycle.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

type Engine struct {
	store     ArticleStore
	publisher Publisher
	details   DetailFetcher
	images    ImageStore
	audit     AuditSink
	policy    RejectionPolicy

	mu sync.Mutex
}

func New(
	store ArticleStore,
	publisher Publisher,
	details DetailFetcher,
	images ImageStore,
	audit AuditSink,
	policy RejectionPolicy,
) *Engine {
	return &Engine{
		store:     store,
		publisher: publisher,
		details:   details,
		images:    images,
		audit:     audit,
		policy:    policy,
	}
}

// Run reconciles one poll's batch. Entries are handled oldest first and strictly one after
// another. A publisher failure only skips its entry; a store failure stops the cycle and is
// returned as a *StoreError. Overlapping calls fail fast with ErrCycleInProgress.
func (e *Engine) Run(ctx context.Context, batch model.Batch) (Report, error) {
	if !e.mu.TryLock() {
		return Report{}, ErrCycleInProgress
	}
	defer e.mu.Unlock()

	var report Report

	if batch.NotModified {
		report.NotModified = true
		return report, nil
	}

	entries := e.prepare(batch.Entries, &report)

	count, err := e.store.Count(ctx)
	if err != nil {
		return report, &StoreError{Op: "count", Err: err}
	}

	if count == 0 {
		return report, e.seed(ctx, entries, &report)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		action, err := e.reconcile(ctx, entry)
		if err != nil {
			var storeErr *StoreError
			if errors.As(err, &storeErr) {
				return report, err
			}

			report.Failed++
			slog.Error("failed to reconcile entry", "link", entry.Link, "action", action, "err", err)
			continue
		}

		report.count(action)
	}

	return report, nil
}

// prepare canonicalizes links, drops malformed entries and orders the rest chronologically.
func (e *Engine) prepare(entries []model.Entry, report *Report) []model.Entry {
	prepared := make([]model.Entry, 0, len(entries))

	// feeds list newest first; reversing keeps that relative order for equal timestamps
	for _, entry := range lo.Reverse(slices.Clone(entries)) {
		entry.Link = links.Canonicalize(entry.Link)

		if !entry.Valid() {
			report.Malformed++
			slog.Warn("skipping malformed feed entry", "title", entry.Title, "link", entry.Link)
			continue
		}

		prepared = append(prepared, entry)
	}

	slices.SortStableFunc(prepared, func(a, b model.Entry) int {
		return a.PublishedAt.Compare(b.PublishedAt)
	})

	return prepared
}

// seed records every entry as known but unpublished, so the first run does not flood the channel
// with the feed's backlog.
func (e *Engine) seed(ctx context.Context, entries []model.Entry, report *Report) error {
	if len(entries) == 0 {
		return nil
	}

	slog.Info("article store is empty, seeding from feed", "entries", len(entries))

	// a link listed twice keeps its most recent version
	latest := lo.Reverse(lo.UniqBy(lo.Reverse(slices.Clone(entries)), func(entry model.Entry) string {
		return entry.Link
	}))

	articles := lo.Map(latest, func(entry model.Entry, _ int) model.Article {
		return model.Article{
			Title:       entry.Title,
			Description: entry.Summary,
			Link:        entry.Link,
			Image:       entry.ImageURL,
			Published:   entry.PublishedAt.Unix(),
			Updated:     entry.UpdatedAt.Unix(),
		}
	})

	if err := e.store.Seed(ctx, articles); err != nil {
		return &StoreError{Op: "seed", Err: err}
	}

	report.Seeded = len(articles)
	return nil
}

func (e *Engine) reconcile(ctx context.Context, entry model.Entry) (Action, error) {
	article, err := e.store.ByLink(ctx, entry.Link)
	if err != nil {
		return ActionSkip, &StoreError{Op: "lookup", Err: err}
	}

	action := Decide(article, entry)

	switch action {
	case ActionCreate:
		return action, e.create(ctx, entry)
	case ActionUpdate:
		return e.update(ctx, *article, entry)
	case ActionRepair:
		return e.repair(ctx, *article, entry)
	default:
		return action, nil
	}
}

func (e *Engine) create(ctx context.Context, entry model.Entry) error {
	slog.Info("sending article", "link", entry.Link)

	post := e.buildPost(ctx, entry)
	if entry.ImageURL != "" {
		post.Image = e.images.Get(ctx, entry.ImageURL)
		if post.Image == nil {
			// the platform can still fetch the image by itself
			post.Image = &model.ImageHandle{URL: entry.ImageURL}
		}
	}

	messageID, err := e.publisher.Create(ctx, post)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	article, err := e.store.Create(ctx, model.Article{
		Title:           entry.Title,
		Description:     post.Description,
		Link:            entry.Link,
		Image:           imageRef(post.Image),
		Published:       entry.PublishedAt.Unix(),
		Updated:         entry.UpdatedAt.Unix(),
		RemoteMessageID: model.Int64(messageID),
	})
	if err != nil {
		// the message exists remotely without a record; it will be sent again next cycle
		slog.Error("published article could not be stored", "link", entry.Link, "message_id", messageID)
		return &StoreError{Op: "create", Err: err}
	}

	slog.Info("article sent", "link", article.Link, "id", article.ID, "message_id", messageID)
	return nil
}

func (e *Engine) update(ctx context.Context, article model.Article, entry model.Entry) (Action, error) {
	messageID := *article.RemoteMessageID
	slog.Info("updating article", "link", entry.Link, "message_id", messageID)

	post := e.buildPost(ctx, entry)
	// the kind of message (photo or text) is fixed at creation
	if article.Image != "" {
		post.Image = &model.ImageHandle{URL: article.Image}
	}

	result, err := e.publisher.Edit(ctx, messageID, post, entry.UpdatedAt)
	if err != nil {
		return ActionUpdate, fmt.Errorf("edit message %d: %w", messageID, err)
	}

	action := ActionUpdate
	if result.Outcome == model.Rejected {
		slog.Error("message edit rejected", "link", entry.Link, "message_id", messageID, "reason", result.Reason)
		e.audit.Notify(ctx, fmt.Sprintf(
			"Edit rejected for <code>%s</code>\n\nMessage ID: <code>%d</code>\n\n%s",
			markup.EscapeHTML(entry.Link), messageID, markup.EscapeHTML(result.Reason),
		))

		if e.policy == RetryOnRejection {
			return ActionUpdate, fmt.Errorf("edit message %d rejected: %s", messageID, result.Reason)
		}
		action = ActionRejected
	}

	updated, err := article.Apply(model.ArticleUpdate{
		Title:   model.String(entry.Title),
		Link:    model.String(entry.Link),
		Updated: entry.UpdatedAt.Unix(),
	})
	if err != nil {
		return action, &StoreError{Op: "apply", Err: err}
	}

	if err := e.store.Update(ctx, updated); err != nil {
		if errors.Is(err, model.ErrArticleNotFound) {
			slog.Warn("article removed while being updated", "link", entry.Link, "message_id", messageID)
			return ActionSkip, nil
		}
		return action, &StoreError{Op: "update", Err: err}
	}

	if action == ActionUpdate && article.Title != updated.Title {
		e.audit.Notify(ctx, TitleChangeMessage(article, updated))
	}

	return action, nil
}

// repair advances articles seeded on a first run that were never sent.
func (e *Engine) repair(ctx context.Context, article model.Article, entry model.Entry) (Action, error) {
	slog.Warn("article was never published, recording update only", "link", entry.Link)

	updated, err := article.Apply(model.ArticleUpdate{Updated: entry.UpdatedAt.Unix()})
	if err != nil {
		return ActionRepair, &StoreError{Op: "apply", Err: err}
	}

	if err := e.store.Update(ctx, updated); err != nil {
		if errors.Is(err, model.ErrArticleNotFound) {
			slog.Warn("article removed while being repaired", "link", entry.Link)
			return ActionSkip, nil
		}
		return ActionRepair, &StoreError{Op: "update", Err: err}
	}

	return ActionRepair, nil
}

func (e *Engine) buildPost(ctx context.Context, entry model.Entry) model.Post {
	post := model.Post{
		Title:       entry.Title,
		Description: entry.Summary,
		Link:        entry.Link,
	}

	details, err := e.details.Details(ctx, entry.Link)
	if err != nil {
		slog.Warn("failed to fetch article details", "link", entry.Link, "err", err)
	}
	post.Tags = details.Tags
	if post.Description == "" {
		post.Description = details.Excerpt
	}

	return post
}

func imageRef(h *model.ImageHandle) string {
	if h == nil {
		return ""
	}
	return h.URL
}

// TitleChangeMessage renders the audit message for an article whose title changed.
func TitleChangeMessage(before, after model.Article) string {
	oldTitle, newTitle := diff.Highlight(before.Title, after.Title)

	var messageID int64
	if before.RemoteMessageID != nil {
		messageID = *before.RemoteMessageID
	}

	return fmt.Sprintf(
		"%s\n\n%s\n\n<code>%s</code>\n\n<code>%s</code>\n\nMessage ID: <code>%d</code>",
		oldTitle,
		newTitle,
		markup.EscapeHTML(before.Link),
		markup.EscapeHTML(after.Link),
		messageID,
	)
}
