package service

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Rogue-Bear-Innovations/bookmarker-sync/internal/auth"
	"github.com/Rogue-Bear-Innovations/bookmarker-sync/internal/store"
	"github.com/Rogue-Bear-Innovations/bookmarker-sync/internal/validation"
)

type (
	Verifier interface {
		Verify(ctx context.Context, token string) (*auth.Identity, error)
	}

	// View binds one auth session to one BookmarkSync: sign-in initializes and subscribes,
	// sign-out tears the feed down.
	View struct {
		session *auth.Session
		sync    *BookmarkSync
		logger  *zap.SugaredLogger

		unsubscribe func()
		closeOnce   sync.Once

		// guarded by Views.mu
		seen time.Time
	}

	// Views keeps the live view of every session token served by this process.
	Views struct {
		verifier Verifier
		backend  auth.Backend
		store    store.Store
		schema   *validation.Schema
		logger   *zap.SugaredLogger

		// idleTTL bounds how long an unwatched view outlives its last request. Zero keeps it until the token expires.
		idleTTL time.Duration
		now     func() time.Time

		mu    sync.Mutex
		views map[string]*View
	}
)

func NewView(session *auth.Session, bs *BookmarkSync, l *zap.SugaredLogger) *View {
	v := &View{
		session: session,
		sync:    bs,
		logger:  l,
	}
	v.unsubscribe = session.OnAuthStateChange(v.onAuthStateChange)
	return v
}

func (v *View) Session() *auth.Session {
	return v.session
}

func (v *View) Sync() *BookmarkSync {
	return v.sync
}

// Close detaches the view from its session and releases the feed. The session itself stays signed in.
func (v *View) Close() {
	v.closeOnce.Do(func() {
		v.unsubscribe()
		v.sync.Teardown()
	})
}

func (v *View) onAuthStateChange(event auth.AuthEvent, identity *auth.Identity) {
	switch event {
	case auth.SignedIn:
		ctx := context.Background()
		// a failed fetch still subscribes so later changes arrive
		if err := v.sync.Initialize(ctx, identity); err != nil {
			v.logger.Warnw("initial fetch failed", "user_id", identity.UserID, "error", err)
		}
		if err := v.sync.Subscribe(ctx, identity); err != nil {
			v.logger.Errorw("open change feed", "user_id", identity.UserID, "error", err)
		}
	case auth.SignedOut:
		v.sync.Teardown()
	}
}

func NewViews(verifier Verifier, backend auth.Backend, st store.Store, schema *validation.Schema, l *zap.SugaredLogger) *Views {
	return &Views{
		verifier: verifier,
		backend:  backend,
		store:    st,
		schema:   schema,
		logger:   l,
		now:      time.Now,
		views:    make(map[string]*View),
	}
}

// Resolve verifies token and returns its view, creating and initializing it on first use.
// A token that no longer verifies drops its view.
func (vs *Views) Resolve(ctx context.Context, token string) (*View, error) {
	if token == "" {
		return nil, auth.ErrUnauthorized
	}

	identity, err := vs.verifier.Verify(ctx, token)
	if err != nil {
		vs.forget(token)
		return nil, err
	}

	vs.mu.Lock()
	if view, ok := vs.views[token]; ok {
		view.seen = vs.now()
		vs.mu.Unlock()
		return view, nil
	}
	view := vs.newView()
	view.seen = vs.now()
	vs.views[token] = view
	vs.mu.Unlock()

	view.session.Restore(identity)
	return view, nil
}

// SignIn authenticates creds on a fresh session and registers its view under the issued token.
func (vs *Views) SignIn(ctx context.Context, creds auth.Credentials) (*View, *auth.Identity, error) {
	view := vs.newView()
	identity, err := view.session.SignIn(ctx, creds)
	if err != nil {
		view.Close()
		return nil, nil, err
	}

	vs.mu.Lock()
	prev := vs.views[identity.Token]
	view.seen = vs.now()
	vs.views[identity.Token] = view
	vs.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
	return view, identity, nil
}

// Drop signs the token's session out, which tears its view down, and revokes the token.
func (vs *Views) Drop(ctx context.Context, token string) error {
	vs.mu.Lock()
	view, ok := vs.views[token]
	delete(vs.views, token)
	vs.mu.Unlock()

	if !ok {
		return vs.backend.SignOut(ctx, token)
	}
	err := view.session.SignOut(ctx)
	view.Close()
	return err
}

func (vs *Views) Len() int {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return len(vs.views)
}

// Close tears every view down without revoking tokens.
func (vs *Views) Close() {
	vs.mu.Lock()
	views := make([]*View, 0, len(vs.views))
	for token, view := range vs.views {
		views = append(views, view)
		delete(vs.views, token)
	}
	vs.mu.Unlock()

	for _, view := range views {
		view.Close()
	}
	vs.logger.Infow("Closed views", "count", len(views))
}

// Sweep closes the views whose token no longer verifies and, with an idle TTL set, the unwatched
// views nobody has resolved within it. It returns how many views were closed.
func (vs *Views) Sweep(ctx context.Context) int {
	vs.mu.Lock()
	snapshot := make(map[string]*View, len(vs.views))
	seen := make(map[string]time.Time, len(vs.views))
	for token, view := range vs.views {
		snapshot[token] = view
		seen[token] = view.seen
	}
	vs.mu.Unlock()

	now := vs.now()
	closed := 0
	for token, view := range snapshot {
		if !vs.expired(ctx, token, view, now.Sub(seen[token])) {
			continue
		}
		if vs.forgetView(token, view) {
			closed++
		}
	}
	if closed > 0 {
		vs.logger.Infow("Swept views", "closed", closed, "left", vs.Len())
	}
	return closed
}

// Reap runs Sweep every interval until ctx is done.
func (vs *Views) Reap(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			vs.Sweep(ctx)
		}
	}
}

func (vs *Views) expired(ctx context.Context, token string, view *View, idle time.Duration) bool {
	if _, err := vs.verifier.Verify(ctx, token); err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			return true
		}
		vs.logger.Warnw("Error verifying session", "error", err)
		return false
	}
	return vs.idleTTL > 0 && idle > vs.idleTTL && view.sync.Watchers() == 0
}

// forgetView closes view only if token still maps to it.
func (vs *Views) forgetView(token string, view *View) bool {
	vs.mu.Lock()
	current, ok := vs.views[token]
	if !ok || current != view {
		vs.mu.Unlock()
		return false
	}
	delete(vs.views, token)
	vs.mu.Unlock()

	view.Close()
	return true
}

func (vs *Views) forget(token string) {
	vs.mu.Lock()
	view, ok := vs.views[token]
	delete(vs.views, token)
	vs.mu.Unlock()
	if ok {
		view.Close()
	}
}

func (vs *Views) newView() *View {
	return NewView(auth.NewSession(vs.backend), NewBookmarkSync(vs.store, vs.schema, vs.logger), vs.logger)
}
