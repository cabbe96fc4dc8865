package store

import (
	"context"

	"github.com/pkg/errors"

	"github.com/Rogue-Bear-Innovations/bookmarker-sync/internal/models"
)

type EventKind string

const (
	EventInsert EventKind = "INSERT"
	EventDelete EventKind = "DELETE"
)

var (
	ErrNotFound = errors.New("bookmark not found")
)

type (
	Event struct {
		Kind EventKind
		Row  models.Bookmark
	}

	// Feed is an open change subscription. Close is synchronous and safe to call more than once;
	// once it returns no further events are delivered and Events is closed.
	Feed interface {
		Events() <-chan Event
		Close() error
	}

	Store interface {
		// Select returns the owner's bookmarks, newest first.
		Select(ctx context.Context, owner string) ([]models.Bookmark, error)
		Insert(ctx context.Context, row models.Bookmark) error
		Delete(ctx context.Context, id, owner string) error
		Subscribe(ctx context.Context, owner string, kinds ...EventKind) (Feed, error)
	}

	FeedSource interface {
		Subscribe(ctx context.Context, owner string, kinds ...EventKind) (Feed, error)
	}

	// RowLoader reads one bookmark by id. Notifications that only carry keys are completed through it.
	RowLoader interface {
		Get(ctx context.Context, id string) (models.Bookmark, error)
	}

	// Publisher pushes change events for drivers that have no server-side trigger.
	Publisher interface {
		Publish(ctx context.Context, ev Event) error
	}
)
