package store

import (
	"context"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Rogue-Bear-Innovations/bookmarker-sync/internal/db"
	"github.com/Rogue-Bear-Innovations/bookmarker-sync/internal/models"
)

// Hosted keeps rows in postgres through gorm and takes change events from a FeedSource.
type Hosted struct {
	db        *gorm.DB
	feeds     FeedSource
	publisher Publisher
	logger    *zap.SugaredLogger
}

// NewHosted builds the store. publisher may be nil when the database emits events itself.
func NewHosted(gdb *gorm.DB, feeds FeedSource, publisher Publisher, l *zap.SugaredLogger) *Hosted {
	return &Hosted{
		db:        gdb,
		feeds:     feeds,
		publisher: publisher,
		logger:    l,
	}
}

var bookmarkColumns = []string{"b.id", "b.title", "b.url", "b.user_id", "b.created_at"}

func SelectQuery(owner string) (string, []interface{}, error) {
	return squirrel.
		Select(bookmarkColumns...).From("bookmarks b").
		Where(squirrel.Eq{"b.user_id": owner}).
		OrderBy("b.created_at DESC", "b.id").
		ToSql()
}

func GetQuery(id string) (string, []interface{}, error) {
	return squirrel.
		Select(bookmarkColumns...).From("bookmarks b").
		Where(squirrel.Eq{"b.id": id}).
		Limit(1).
		ToSql()
}

func (s *Hosted) Select(ctx context.Context, owner string) ([]models.Bookmark, error) {
	sql, args, err := SelectQuery(owner)
	if err != nil {
		return nil, errors.Wrap(err, "build sql")
	}

	rows := make([]db.Bookmark, 0)
	res := s.db.WithContext(ctx).Raw(sql, args...).Scan(&rows)
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "scan")
	}

	out := make([]models.Bookmark, len(rows))
	for i := range rows {
		out[i] = rows[i].ToModel()
	}
	return out, nil
}

// Get loads a single row regardless of owner. It returns ErrNotFound when the row is gone.
func (s *Hosted) Get(ctx context.Context, id string) (models.Bookmark, error) {
	if _, err := uuid.Parse(id); err != nil {
		return models.Bookmark{}, ErrNotFound
	}

	sql, args, err := GetQuery(id)
	if err != nil {
		return models.Bookmark{}, errors.Wrap(err, "build sql")
	}

	rows := make([]db.Bookmark, 0, 1)
	res := s.db.WithContext(ctx).Raw(sql, args...).Scan(&rows)
	if res.Error != nil {
		return models.Bookmark{}, errors.Wrap(res.Error, "scan")
	}
	if len(rows) == 0 {
		return models.Bookmark{}, ErrNotFound
	}
	return rows[0].ToModel(), nil
}

func (s *Hosted) Insert(ctx context.Context, row models.Bookmark) error {
	model := db.Bookmark{
		Title:  row.Title,
		URL:    row.URL,
		UserID: row.Owner,
	}

	res := s.db.WithContext(ctx).Create(&model)
	if res.Error != nil {
		return errors.Wrap(res.Error, "create bookmark")
	}

	s.publish(ctx, Event{Kind: EventInsert, Row: model.ToModel()})
	return nil
}

func (s *Hosted) Delete(ctx context.Context, id, owner string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	res := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, owner).
		Delete(&db.Bookmark{})
	if res.Error != nil {
		return errors.Wrap(res.Error, "delete bookmark")
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}

	s.publish(ctx, Event{Kind: EventDelete, Row: models.Bookmark{ID: id, Owner: owner}})
	return nil
}

func (s *Hosted) Subscribe(ctx context.Context, owner string, kinds ...EventKind) (Feed, error) {
	return s.feeds.Subscribe(ctx, owner, kinds...)
}

// publish failures do not fail the write: the row is already committed.
func (s *Hosted) publish(ctx context.Context, ev Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warnw("publish change event", "kind", ev.Kind, "id", ev.Row.ID, "error", err)
	}
}
