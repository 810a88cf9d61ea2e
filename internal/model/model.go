// Package model defines the data structures shared across the relay: Entry, the read-only view of a
// feed item handed in by the feed source; Article, the durable record of an item already seen; and
// Post, the payload sent to the messaging channel.
package model

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrUpdatedRegressed = errors.New("article updated timestamp would decrease")
	ErrRemoteIDChanged  = errors.New("article remote message id cannot be changed")
	ErrArticleNotFound  = errors.New("article not found")
)

type Entry struct {
	Title       string
	Link        string
	ImageURL    string
	Summary     string
	Categories  []string
	PublishedAt time.Time
	UpdatedAt   time.Time
}

// Valid reports whether the entry carries the fields required for reconciliation.
func (e Entry) Valid() bool {
	return e.Title != "" && e.Link != "" && !e.UpdatedAt.IsZero()
}

// Batch is the outcome of a single feed poll. ETag and LastModified are the validators the server
// sent with it; they only take effect once the source is told the batch was handled.
type Batch struct {
	Entries      []Entry
	NotModified  bool
	ETag         string
	LastModified string
}

type Article struct {
	ID              int64
	Title           string
	Description     string
	Link            string
	Image           string
	Published       int64
	Updated         int64
	RemoteMessageID *int64
}

// IsPublished reports whether a message was ever sent for the article.
func (a Article) IsPublished() bool {
	return a.RemoteMessageID != nil
}

// ArticleUpdate carries the fields the reconciler is allowed to change on a stored article.
type ArticleUpdate struct {
	Title           *string
	Link            *string
	Updated         int64
	RemoteMessageID *int64
}

// Apply returns a copy of a with u applied, refusing changes that would move the updated timestamp
// backwards or drop/replace an assigned remote message id.
func (a Article) Apply(u ArticleUpdate) (Article, error) {
	if u.Updated < a.Updated {
		return a, fmt.Errorf("%w: %d -> %d", ErrUpdatedRegressed, a.Updated, u.Updated)
	}

	// a nil RemoteMessageID leaves the stored one untouched, so an assigned id can never be cleared
	if a.RemoteMessageID != nil && u.RemoteMessageID != nil && *u.RemoteMessageID != *a.RemoteMessageID {
		return a, fmt.Errorf("%w: %d -> %d", ErrRemoteIDChanged, *a.RemoteMessageID, *u.RemoteMessageID)
	}

	out := a
	out.Updated = u.Updated
	if u.Title != nil {
		out.Title = *u.Title
	}
	if u.Link != nil {
		out.Link = *u.Link
	}
	if u.RemoteMessageID != nil {
		id := *u.RemoteMessageID
		out.RemoteMessageID = &id
	}

	return out, nil
}

// Post is the message payload built from an entry.
type Post struct {
	Title       string
	Tags        []string
	Description string
	Link        string
	Image       *ImageHandle
}

// ImageHandle points at an image either cached on local disk or reachable by URL.
type ImageHandle struct {
	Path string
	URL  string
}

type EditOutcome int

const (
	Edited EditOutcome = iota
	Rejected
)

func (o EditOutcome) String() string {
	switch o {
	case Edited:
		return "edited"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("EditOutcome(%d)", int(o))
	}
}

// EditResult describes how the messaging platform answered an edit. A Rejected result is not a
// transport failure: the platform received the request and refused it (for example the message no
// longer exists).
type EditResult struct {
	MessageID int64
	Outcome   EditOutcome
	Reason    string
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 {
	return &v
}

// String returns a pointer to v.
func String(v string) *string {
	return &v
}

// Details is the optional enrichment scraped from an article page.
type Details struct {
	Tags    []string
	Excerpt string
}
