package reconciler_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/0x0BSoD/feedRelay/internal/model"
)

type memoryStore struct {
	mu       sync.Mutex
	nextID   int64
	byLink   map[string]model.Article
	failOn   string
	lookups  int
	failures int

	// dropAfterLookup deletes every article right after it is looked up
	dropAfterLookup bool
}

func newMemoryStore(articles ...model.Article) *memoryStore {
	s := &memoryStore{byLink: map[string]model.Article{}}
	for _, a := range articles {
		s.nextID++
		a.ID = s.nextID
		s.byLink[a.Link] = a
	}
	return s
}

var errStoreDown = errors.New("store down")

func (s *memoryStore) fail(op string) error {
	if s.failOn == op {
		s.failures++
		return errStoreDown
	}
	return nil
}

func (s *memoryStore) Count(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("count"); err != nil {
		return 0, err
	}
	return len(s.byLink), nil
}

func (s *memoryStore) ByLink(_ context.Context, link string) (*model.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	if err := s.fail("lookup"); err != nil {
		return nil, err
	}
	a, ok := s.byLink[link]
	if !ok {
		return nil, nil
	}
	if s.dropAfterLookup {
		delete(s.byLink, link)
	}
	return &a, nil
}

func (s *memoryStore) Create(_ context.Context, article model.Article) (model.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("create"); err != nil {
		return article, err
	}
	s.nextID++
	article.ID = s.nextID
	s.byLink[article.Link] = article
	return article, nil
}

func (s *memoryStore) Seed(_ context.Context, articles []model.Article) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("seed"); err != nil {
		return err
	}
	for _, a := range articles {
		s.nextID++
		a.ID = s.nextID
		s.byLink[a.Link] = a
	}
	return nil
}

func (s *memoryStore) Update(_ context.Context, article model.Article) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("update"); err != nil {
		return err
	}
	found := false
	for link, a := range s.byLink {
		if a.ID == article.ID {
			delete(s.byLink, link)
			found = true
		}
	}
	if !found {
		return fmt.Errorf("update article %d: %w", article.ID, model.ErrArticleNotFound)
	}
	s.byLink[article.Link] = article
	return nil
}

func (s *memoryStore) get(link string) (model.Article, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byLink[link]
	return a, ok
}

func (s *memoryStore) all() []model.Article {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Article, 0, len(s.byLink))
	for _, a := range s.byLink {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type editCall struct {
	MessageID int64
	Post      model.Post
	Edited    time.Time
}

type fakePublisher struct {
	mu sync.Mutex

	nextID    int64
	createErr error
	editErr   error
	reject    string
	block     chan struct{}
	started   chan struct{}

	created []model.Post
	edits   []editCall
}

func (p *fakePublisher) Create(_ context.Context, post model.Post) (int64, error) {
	if p.started != nil {
		close(p.started)
		<-p.block
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return 0, p.createErr
	}
	p.nextID++
	p.created = append(p.created, post)
	return p.nextID, nil
}

func (p *fakePublisher) Edit(_ context.Context, messageID int64, post model.Post, edited time.Time) (model.EditResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.editErr != nil {
		return model.EditResult{}, p.editErr
	}
	p.edits = append(p.edits, editCall{MessageID: messageID, Post: post, Edited: edited})
	if p.reject != "" {
		return model.EditResult{MessageID: messageID, Outcome: model.Rejected, Reason: p.reject}, nil
	}
	return model.EditResult{MessageID: messageID, Outcome: model.Edited}, nil
}

type fakeDetails struct {
	details model.Details
	err     error
	calls   []string
}

func (d *fakeDetails) Details(_ context.Context, link string) (model.Details, error) {
	d.calls = append(d.calls, link)
	return d.details, d.err
}

type fakeImages struct {
	fail bool
}

func (i fakeImages) Get(_ context.Context, ref string) *model.ImageHandle {
	if i.fail {
		return nil
	}
	return &model.ImageHandle{Path: "images/cached", URL: ref}
}

type fakeAudit struct {
	messages []string
}

func (a *fakeAudit) Notify(_ context.Context, msg string) {
	a.messages = append(a.messages, msg)
}
