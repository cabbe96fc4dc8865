package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"

	"github.com/Rogue-Bear-Innovations/bookmarker-sync/internal/models"
)

type envelope struct {
	Type   EventKind       `json:"type"`
	Record models.Bookmark `json:"record"`
}

func EncodeEvent(ev Event) ([]byte, error) {
	b, err := json.Marshal(envelope{Type: ev.Kind, Record: ev.Row})
	if err != nil {
		return nil, errors.Wrap(err, "marshal event")
	}
	return b, nil
}

func DecodeEvent(payload []byte) (Event, error) {
	env := envelope{}
	if err := json.Unmarshal(payload, &env); err != nil {
		return Event{}, errors.Wrap(err, "unmarshal event")
	}
	switch env.Type {
	case EventInsert, EventDelete:
	default:
		return Event{}, errors.Errorf("unknown event type %q", env.Type)
	}
	if env.Record.ID == "" {
		return Event{}, errors.New("event record has no id")
	}
	return Event{Kind: env.Type, Row: env.Record}, nil
}

// Subscription is the Feed shared by every driver. A driver goroutine pushes events through
// Deliver and calls Finish when it stops.
type Subscription struct {
	owner string
	kinds map[EventKind]struct{}

	events chan Event
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewSubscription returns the feed and the context the driver goroutine must run under.
// The context is cancelled by Close.
func NewSubscription(owner string, kinds []EventKind) (*Subscription, context.Context) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Subscription{
		owner:  owner,
		kinds:  make(map[EventKind]struct{}, len(kinds)),
		events: make(chan Event),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	for _, k := range kinds {
		s.kinds[k] = struct{}{}
	}
	return s, ctx
}

func (s *Subscription) Events() <-chan Event {
	return s.events
}

func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	<-s.done
	return nil
}

// Matches reports whether the event is in this subscription's scope.
func (s *Subscription) Matches(ev Event) bool {
	if s.owner != "" && ev.Row.Owner != s.owner {
		return false
	}
	if len(s.kinds) == 0 {
		return true
	}
	_, ok := s.kinds[ev.Kind]
	return ok
}

// Deliver hands the event to the consumer. It returns false once the subscription is closed.
func (s *Subscription) Deliver(ctx context.Context, ev Event) bool {
	if !s.Matches(ev) {
		return ctx.Err() == nil
	}
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Subscription) Finish() {
	close(s.events)
	close(s.done)
}
