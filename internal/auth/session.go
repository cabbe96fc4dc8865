package auth

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

type AuthEvent string

const (
	SignedIn  AuthEvent = "SIGNED_IN"
	SignedOut AuthEvent = "SIGNED_OUT"
)

type (
	Backend interface {
		SignIn(ctx context.Context, creds Credentials) (*Identity, error)
		SignOut(ctx context.Context, token string) error
	}

	AuthListener func(event AuthEvent, identity *Identity)

	listenerEntry struct {
		id uint64
		fn AuthListener
	}

	// Session is one client's view of authentication state. Listeners run on the caller's
	// goroutine, outside the session lock, in registration order.
	Session struct {
		backend Backend

		mu        sync.Mutex
		current   *Identity
		listeners []listenerEntry
		nextID    uint64
	}
)

func NewSession(backend Backend) *Session {
	return &Session{backend: backend}
}

func (s *Session) CurrentUser() *Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	cp := *s.current
	return &cp
}

// OnAuthStateChange registers fn and returns a func that removes it.
func (s *Session) OnAuthStateChange(fn AuthListener) (unsubscribe func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, listenerEntry{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, l := range s.listeners {
			if l.id == id {
				s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

func (s *Session) SignIn(ctx context.Context, creds Credentials) (*Identity, error) {
	identity, err := s.backend.SignIn(ctx, creds)
	if err != nil {
		return nil, errors.Wrap(err, "sign in")
	}
	s.Restore(identity)
	return s.CurrentUser(), nil
}

// Restore adopts an identity whose token was verified elsewhere. Switching from another
// identity emits SignedOut for the old one before SignedIn for the new one.
func (s *Session) Restore(identity *Identity) {
	if identity == nil {
		return
	}
	cp := *identity

	s.mu.Lock()
	prev := s.current
	if prev.Same(&cp) {
		s.mu.Unlock()
		return
	}
	s.current = &cp
	listeners := s.snapshotLocked()
	s.mu.Unlock()

	if prev != nil {
		emit(listeners, SignedOut, prev)
	}
	emit(listeners, SignedIn, &cp)
}

// SignOut clears the local identity even when the backend fails to revoke the token.
func (s *Session) SignOut(ctx context.Context) error {
	s.mu.Lock()
	prev := s.current
	s.current = nil
	listeners := s.snapshotLocked()
	s.mu.Unlock()

	if prev == nil {
		return nil
	}

	err := s.backend.SignOut(ctx, prev.Token)
	emit(listeners, SignedOut, prev)
	if err != nil {
		return errors.Wrap(err, "sign out")
	}
	return nil
}

func (s *Session) snapshotLocked() []AuthListener {
	out := make([]AuthListener, len(s.listeners))
	for i, l := range s.listeners {
		out[i] = l.fn
	}
	return out
}

func emit(listeners []AuthListener, event AuthEvent, identity *Identity) {
	for _, fn := range listeners {
		cp := *identity
		fn(event, &cp)
	}
}
