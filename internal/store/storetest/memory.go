// Package storetest provides an in-memory store.Store whose change feed and failures are driven by tests.
package storetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Rogue-Bear-Innovations/bookmarker-sync/internal/models"
	"github.com/Rogue-Bear-Innovations/bookmarker-sync/internal/store"
)

type Memory struct {
	mu    sync.Mutex
	rows  []models.Bookmark
	feeds map[*memFeed]struct{}
	clock time.Time

	selectErr    error
	insertErr    error
	deleteErr    error
	subscribeErr error

	selectGate chan struct{}
}

var _ store.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		feeds: make(map[*memFeed]struct{}),
		clock: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// Seed stores rows as-is without emitting events.
func (m *Memory) Seed(rows ...models.Bookmark) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, rows...)
}

func (m *Memory) FailSelect(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selectErr = err
}

// FailWrites makes Insert and Delete return err without touching rows.
func (m *Memory) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertErr = err
	m.deleteErr = err
}

func (m *Memory) FailSubscribe(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribeErr = err
}

// HoldSelect blocks every Select until the returned func is called.
func (m *Memory) HoldSelect() (release func()) {
	gate := make(chan struct{})
	m.mu.Lock()
	m.selectGate = gate
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			m.selectGate = nil
			m.mu.Unlock()
			close(gate)
		})
	}
}

func (m *Memory) Rows() []models.Bookmark {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Bookmark(nil), m.rows...)
}

// OpenFeeds counts subscriptions that have not been closed.
func (m *Memory) OpenFeeds() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.feeds)
}

func (m *Memory) Select(ctx context.Context, owner string) ([]models.Bookmark, error) {
	m.mu.Lock()
	gate := m.selectGate
	m.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.selectErr != nil {
		return nil, m.selectErr
	}

	out := make([]models.Bookmark, 0, len(m.rows))
	for _, r := range m.rows {
		if r.Owner == owner {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) Insert(ctx context.Context, row models.Bookmark) error {
	m.mu.Lock()
	if m.insertErr != nil {
		defer m.mu.Unlock()
		return m.insertErr
	}
	m.clock = m.clock.Add(time.Second)
	row.ID = uuid.New().String()
	row.CreatedAt = m.clock
	m.rows = append(m.rows, row)
	m.mu.Unlock()

	m.Emit(store.Event{Kind: store.EventInsert, Row: row})
	return nil
}

func (m *Memory) Delete(ctx context.Context, id, owner string) error {
	m.mu.Lock()
	if m.deleteErr != nil {
		defer m.mu.Unlock()
		return m.deleteErr
	}
	idx := -1
	for i, r := range m.rows {
		if r.ID == id && r.Owner == owner {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		return store.ErrNotFound
	}
	row := m.rows[idx]
	m.rows = append(m.rows[:idx], m.rows[idx+1:]...)
	m.mu.Unlock()

	m.Emit(store.Event{Kind: store.EventDelete, Row: row})
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, owner string, kinds ...store.EventKind) (store.Feed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscribeErr != nil {
		return nil, m.subscribeErr
	}

	sub, runCtx := store.NewSubscription(owner, kinds)
	f := &memFeed{
		Subscription: sub,
		in:           make(chan store.Event, 1024),
		owner:        m,
	}
	m.feeds[f] = struct{}{}
	go f.run(runCtx)
	return f, nil
}

// Emit pushes an event to every open feed whose scope matches, as if another session wrote it.
func (m *Memory) Emit(ev store.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for f := range m.feeds {
		f.in <- ev
	}
}

type memFeed struct {
	*store.Subscription
	in    chan store.Event
	owner *Memory
}

func (f *memFeed) run(ctx context.Context) {
	defer f.Finish()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-f.in:
			if !f.Deliver(ctx, ev) {
				return
			}
		}
	}
}

func (f *memFeed) Close() error {
	f.owner.mu.Lock()
	delete(f.owner.feeds, f)
	f.owner.mu.Unlock()
	return f.Subscription.Close()
}
