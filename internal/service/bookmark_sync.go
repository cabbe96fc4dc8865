package service

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Rogue-Bear-Innovations/bookmarker-sync/internal/auth"
	"github.com/Rogue-Bear-Innovations/bookmarker-sync/internal/models"
	"github.com/Rogue-Bear-Innovations/bookmarker-sync/internal/store"
	"github.com/Rogue-Bear-Innovations/bookmarker-sync/internal/validation"
)

type State int

const (
	StateUnauthenticated State = iota
	StateInitializing
	StateSynced
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateInitializing:
		return "initializing"
	case StateSynced:
		return "synced"
	case StateTornDown:
		return "torn_down"
	default:
		return "unknown"
	}
}

type ChangeListener func(bookmarks []models.Bookmark)

// BookmarkSync owns the bookmark list of one view: it loads it from the store, merges change
// feed events into it and forwards mutations to the store.
//
// Every list mutation happens under mu. epoch is bumped whenever the feed is detached, and
// feed events or fetch results captured under an older epoch are dropped.
type BookmarkSync struct {
	store  store.Store
	schema *validation.Schema
	logger *zap.SugaredLogger

	mu       sync.Mutex
	identity *auth.Identity
	state    State
	items    []models.Bookmark
	epoch    uint64

	feed           store.Feed
	feedDone       chan struct{}
	subscribing    bool
	subscribeEpoch uint64

	listeners    map[uint64]ChangeListener
	nextListener uint64
}

func NewBookmarkSync(st store.Store, schema *validation.Schema, l *zap.SugaredLogger) *BookmarkSync {
	return &BookmarkSync{
		store:     st,
		schema:    schema,
		logger:    l,
		state:     StateUnauthenticated,
		listeners: make(map[uint64]ChangeListener),
	}
}

// Initialize loads the identity's bookmarks, newest first, and replaces the list with them.
// A different identity than the current one tears the old feed down first.
func (s *BookmarkSync) Initialize(ctx context.Context, identity *auth.Identity) error {
	if identity == nil || identity.UserID == "" {
		return ErrNoIdentity
	}
	cp := *identity

	s.mu.Lock()
	var (
		feed    store.Feed
		done    chan struct{}
		cleared bool
	)
	if s.identity != nil && s.identity.UserID != cp.UserID {
		feed, done = s.detachLocked()
		s.items = nil
		cleared = true
	}
	s.identity = &cp
	if s.feed == nil {
		s.state = StateInitializing
	}
	epoch := s.epoch
	snapshot, listeners := s.snapshotLocked()
	s.mu.Unlock()

	s.release(feed, done)
	if cleared {
		notify(listeners, snapshot)
	}

	rows, err := s.store.Select(ctx, cp.UserID)
	if err != nil {
		s.logger.Errorw("Error fetching bookmarks", "user_id", cp.UserID, "error", err)
		return &FetchError{Err: err}
	}

	s.mu.Lock()
	if s.epoch != epoch || s.identity == nil || s.identity.UserID != cp.UserID {
		s.mu.Unlock()
		s.logger.Debugw("discard stale fetch", "user_id", cp.UserID)
		return nil
	}
	s.items = dedupe(rows)
	snapshot, listeners = s.snapshotLocked()
	s.mu.Unlock()

	notify(listeners, snapshot)
	return nil
}

// Subscribe opens the insert/delete feed for the identity Initialize was called with.
// It is a no-op while a feed is already open.
func (s *BookmarkSync) Subscribe(ctx context.Context, identity *auth.Identity) error {
	if identity == nil || identity.UserID == "" {
		return ErrNoIdentity
	}
	if !identity.Live() {
		return ErrSessionNotLive
	}

	s.mu.Lock()
	if s.identity == nil || s.identity.UserID != identity.UserID {
		s.mu.Unlock()
		return ErrIdentityChange
	}
	if s.feed != nil || (s.subscribing && s.subscribeEpoch == s.epoch) {
		s.mu.Unlock()
		return nil
	}
	epoch := s.epoch
	s.subscribing = true
	s.subscribeEpoch = epoch
	s.mu.Unlock()

	feed, err := s.store.Subscribe(ctx, identity.UserID, store.EventInsert, store.EventDelete)

	s.mu.Lock()
	if s.subscribeEpoch == epoch {
		s.subscribing = false
	}
	if err != nil {
		s.mu.Unlock()
		s.logger.Errorw("Subscription status", "status", "error", "user_id", identity.UserID, "error", err)
		return errors.Wrap(err, "subscribe")
	}
	if s.epoch != epoch {
		// torn down while the feed was opening
		s.mu.Unlock()
		_ = feed.Close()
		return nil
	}
	done := make(chan struct{})
	s.feed = feed
	s.feedDone = done
	s.state = StateSynced
	s.mu.Unlock()

	go s.consume(feed, epoch, done)

	s.logger.Infow("Subscription status", "status", "subscribed", "user_id", identity.UserID)
	return nil
}

// Create sends a validated bookmark to the store. The list is only updated by the resulting feed event.
func (s *BookmarkSync) Create(ctx context.Context, candidate models.BookmarkCandidate) error {
	identity := s.Identity()
	if identity == nil {
		return ErrNoIdentity
	}

	valid, err := s.schema.Validate(candidate)
	if err != nil {
		return err
	}

	row := models.Bookmark{
		Title: valid.Title,
		URL:   valid.URL,
		Owner: identity.UserID,
	}
	if err := s.store.Insert(ctx, row); err != nil {
		s.logger.Errorw("Error inserting bookmark", "user_id", identity.UserID, "error", err)
		return &WriteError{Op: "insert", Err: err}
	}
	return nil
}

// Delete sends the delete and then drops the row locally whatever the outcome.
// A rejected delete is not rolled back: the row comes back on the next Refresh.
func (s *BookmarkSync) Delete(ctx context.Context, id string) error {
	identity := s.Identity()
	if identity == nil {
		return ErrNoIdentity
	}

	err := s.store.Delete(ctx, id, identity.UserID)

	s.mu.Lock()
	var changed bool
	s.items, changed = remove(s.items, id)
	snapshot, listeners := s.snapshotLocked()
	s.mu.Unlock()
	if changed {
		notify(listeners, snapshot)
	}

	if err != nil {
		s.logger.Errorw("Error deleting bookmark", "user_id", identity.UserID, "id", id, "error", err)
		return &WriteError{Op: "delete", ID: id, Err: err}
	}
	return nil
}

// Refresh re-runs the full fetch for the current identity.
func (s *BookmarkSync) Refresh(ctx context.Context) error {
	identity := s.Identity()
	if identity == nil {
		return ErrNoIdentity
	}
	return s.Initialize(ctx, identity)
}

// Teardown closes the feed and forgets the identity and its list. Safe to call repeatedly.
func (s *BookmarkSync) Teardown() {
	s.mu.Lock()
	feed, done := s.detachLocked()
	changed := s.identity != nil || len(s.items) > 0
	s.identity = nil
	s.items = nil
	s.state = StateTornDown
	snapshot, listeners := s.snapshotLocked()
	s.mu.Unlock()

	if s.release(feed, done) || changed {
		notify(listeners, snapshot)
	}
}

// Watchers reports how many OnChange listeners are registered.
func (s *BookmarkSync) Watchers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

func (s *BookmarkSync) List() []models.Bookmark {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Bookmark{}, s.items...)
}

func (s *BookmarkSync) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *BookmarkSync) Identity() *auth.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return nil
	}
	cp := *s.identity
	return &cp
}

// OnChange registers fn to receive a snapshot after every list change.
func (s *BookmarkSync) OnChange(fn ChangeListener) (cancel func()) {
	s.mu.Lock()
	s.nextListener++
	id := s.nextListener
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *BookmarkSync) consume(feed store.Feed, epoch uint64, done chan struct{}) {
	defer close(done)

	for ev := range feed.Events() {
		s.apply(epoch, ev)
	}

	// the feed ended without Teardown: forget it so Subscribe can reopen
	s.mu.Lock()
	dropped := s.epoch == epoch && s.feed == feed
	if dropped {
		s.feed = nil
		s.feedDone = nil
		s.state = StateInitializing
	}
	s.mu.Unlock()
	if dropped {
		_ = feed.Close()
		s.logger.Warnw("Subscription status", "status", "closed_by_store")
	}
}

func (s *BookmarkSync) apply(epoch uint64, ev store.Event) bool {
	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return false
	}

	var changed bool
	switch ev.Kind {
	case store.EventInsert:
		if indexOf(s.items, ev.Row.ID) < 0 {
			s.items = append([]models.Bookmark{ev.Row}, s.items...)
			changed = true
		}
	case store.EventDelete:
		s.items, changed = remove(s.items, ev.Row.ID)
	}
	snapshot, listeners := s.snapshotLocked()
	s.mu.Unlock()

	if changed {
		notify(listeners, snapshot)
	}
	return changed
}

func (s *BookmarkSync) detachLocked() (store.Feed, chan struct{}) {
	s.epoch++
	feed, done := s.feed, s.feedDone
	s.feed = nil
	s.feedDone = nil
	return feed, done
}

// release closes a detached feed and waits for its consumer to stop. Must run without mu held.
func (s *BookmarkSync) release(feed store.Feed, done chan struct{}) bool {
	if feed == nil {
		return false
	}
	if err := feed.Close(); err != nil {
		s.logger.Warnw("close change feed", "error", err)
	}
	<-done
	s.logger.Infow("Subscription status", "status", "closed")
	return true
}

func (s *BookmarkSync) snapshotLocked() ([]models.Bookmark, []ChangeListener) {
	if len(s.listeners) == 0 {
		return nil, nil
	}
	listeners := make([]ChangeListener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	return append([]models.Bookmark{}, s.items...), listeners
}

func notify(listeners []ChangeListener, snapshot []models.Bookmark) {
	for _, fn := range listeners {
		fn(snapshot)
	}
}

func indexOf(items []models.Bookmark, id string) int {
	for i := range items {
		if items[i].ID == id {
			return i
		}
	}
	return -1
}

func remove(items []models.Bookmark, id string) ([]models.Bookmark, bool) {
	idx := indexOf(items, id)
	if idx < 0 {
		return items, false
	}
	out := make([]models.Bookmark, 0, len(items)-1)
	out = append(out, items[:idx]...)
	return append(out, items[idx+1:]...), true
}

func dedupe(rows []models.Bookmark) []models.Bookmark {
	seen := make(map[string]struct{}, len(rows))
	out := make([]models.Bookmark, 0, len(rows))
	for _, r := range rows {
		if _, ok := seen[r.ID]; ok {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r)
	}
	return out
}
