package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"

	"github.com/0x0BSoD/feedRelay/internal/model"
)

const articlesTable = "articles"

var ErrNotFound = model.ErrArticleNotFound

var articleColumns = []string{
	"id", "title", "description", "link", "image", "published", "updated", "remote_message_id",
}

type ArticleStorage struct {
	db     *sqlx.DB
	flavor sqlbuilder.Flavor
}

func NewArticleStorage(db *sqlx.DB) *ArticleStorage {
	flavor, err := flavorFor(db.DriverName())
	if err != nil {
		flavor = sqlbuilder.SQLite
	}

	return &ArticleStorage{db: db, flavor: flavor}
}

func (s *ArticleStorage) Count(ctx context.Context) (int, error) {
	sb := s.flavor.NewSelectBuilder()
	query, args := sb.Select("COUNT(*)").From(articlesTable).Build()

	var count int
	if err := s.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("count articles: %w", err)
	}

	return count, nil
}

// ByLink returns the article stored under link, or nil when there is none.
func (s *ArticleStorage) ByLink(ctx context.Context, link string) (*model.Article, error) {
	sb := s.flavor.NewSelectBuilder()
	query, args := sb.Select(articleColumns...).
		From(articlesTable).
		Where(sb.Equal("link", link)).
		Limit(1).
		Build()

	return s.getOne(ctx, query, args)
}

func (s *ArticleStorage) ByID(ctx context.Context, id int64) (*model.Article, error) {
	sb := s.flavor.NewSelectBuilder()
	query, args := sb.Select(articleColumns...).
		From(articlesTable).
		Where(sb.Equal("id", id)).
		Build()

	return s.getOne(ctx, query, args)
}

// Latest returns up to limit articles, newest first.
func (s *ArticleStorage) Latest(ctx context.Context, limit int) ([]model.Article, error) {
	sb := s.flavor.NewSelectBuilder()
	query, args := sb.Select(articleColumns...).
		From(articlesTable).
		OrderBy("id").Desc().
		Limit(limit).
		Build()

	var articles []dbArticle
	if err := s.db.SelectContext(ctx, &articles, query, args...); err != nil {
		return nil, fmt.Errorf("select latest articles: %w", err)
	}

	return lo.Map(articles, func(a dbArticle, _ int) model.Article { return a.toModel() }), nil
}

// Create inserts article and returns it with the id assigned by the database.
func (s *ArticleStorage) Create(ctx context.Context, article model.Article) (model.Article, error) {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return article, err
	}
	defer conn.Close()

	id, err := s.insert(ctx, conn, article)
	if err != nil {
		return article, err
	}

	article.ID = id
	return article, nil
}

// Seed inserts all articles in one transaction, in the given order.
func (s *ArticleStorage) Seed(ctx context.Context, articles []model.Article) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, article := range articles {
		if _, err := s.insert(ctx, tx, article); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed: %w", err)
	}

	return nil
}

// Update writes the mutable fields of article. The write is refused when it would move the stored
// updated timestamp backwards or replace an assigned remote message id.
func (s *ArticleStorage) Update(ctx context.Context, article model.Article) error {
	ub := s.flavor.NewUpdateBuilder()
	assignments := []string{
		ub.Assign("title", article.Title),
		ub.Assign("link", article.Link),
		ub.Assign("updated", article.Updated),
	}
	conditions := []string{
		ub.Equal("id", article.ID),
		ub.LessEqualThan("updated", article.Updated),
	}
	if article.RemoteMessageID != nil {
		assignments = append(assignments, ub.Assign("remote_message_id", *article.RemoteMessageID))
		conditions = append(conditions, ub.Or(
			ub.IsNull("remote_message_id"),
			ub.Equal("remote_message_id", *article.RemoteMessageID),
		))
	}

	query, args := ub.Update(articlesTable).Set(assignments...).Where(conditions...).Build()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update article %d: %w", article.ID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update article %d: %w", article.ID, err)
	}
	if affected > 0 {
		return nil
	}

	current, err := s.ByID(ctx, article.ID)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("update article %d: %w", article.ID, ErrNotFound)
	}
	if current.Updated > article.Updated {
		return fmt.Errorf("update article %d: %w", article.ID, model.ErrUpdatedRegressed)
	}

	return fmt.Errorf("update article %d: %w", article.ID, model.ErrRemoteIDChanged)
}

// Trim keeps the keep most recently created articles and deletes the rest.
func (s *ArticleStorage) Trim(ctx context.Context, keep int) (int64, error) {
	keepIDs := s.flavor.NewSelectBuilder()
	keepIDs.Select("id").From(articlesTable).OrderBy("id").Desc().Limit(keep)

	db := s.flavor.NewDeleteBuilder()
	query, args := db.DeleteFrom(articlesTable).Where(db.NotIn("id", keepIDs)).Build()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("trim articles: %w", err)
	}

	return res.RowsAffected()
}

func (s *ArticleStorage) insert(ctx context.Context, q sqlx.QueryerContext, article model.Article) (int64, error) {
	ib := s.flavor.NewInsertBuilder()
	ib.InsertInto(articlesTable).
		Cols("title", "description", "link", "image", "published", "updated", "remote_message_id").
		Values(
			article.Title,
			article.Description,
			article.Link,
			article.Image,
			article.Published,
			article.Updated,
			nullInt64(article.RemoteMessageID),
		)
	ib.SQL("RETURNING id")

	query, args := ib.Build()

	var id int64
	if err := q.QueryRowxContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert article %q: %w", article.Link, err)
	}

	return id, nil
}

func (s *ArticleStorage) getOne(ctx context.Context, query string, args []any) (*model.Article, error) {
	var article dbArticle
	if err := s.db.GetContext(ctx, &article, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select article: %w", err)
	}

	m := article.toModel()
	return &m, nil
}

type dbArticle struct {
	ID              int64         `db:"id"`
	Title           string        `db:"title"`
	Description     string        `db:"description"`
	Link            string        `db:"link"`
	Image           string        `db:"image"`
	Published       int64         `db:"published"`
	Updated         int64         `db:"updated"`
	RemoteMessageID sql.NullInt64 `db:"remote_message_id"`
}

func (a dbArticle) toModel() model.Article {
	m := model.Article{
		ID:          a.ID,
		Title:       a.Title,
		Description: a.Description,
		Link:        a.Link,
		Image:       a.Image,
		Published:   a.Published,
		Updated:     a.Updated,
	}
	if a.RemoteMessageID.Valid {
		m.RemoteMessageID = model.Int64(a.RemoteMessageID.Int64)
	}
	return m
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
