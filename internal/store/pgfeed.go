package store

import (
	"context"

	"github.com/jackc/pgx/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// PGListener opens one LISTEN connection per subscription on the channel the bookmarks trigger notifies.
// The trigger sends keys only, so inserts are read back through rows before delivery.
type PGListener struct {
	connString string
	channel    string
	rows       RowLoader
	logger     *zap.SugaredLogger
}

func NewPGListener(connString, channel string, rows RowLoader, l *zap.SugaredLogger) *PGListener {
	return &PGListener{
		connString: connString,
		channel:    channel,
		rows:       rows,
		logger:     l,
	}
}

func (p *PGListener) Subscribe(ctx context.Context, owner string, kinds ...EventKind) (Feed, error) {
	conn, err := pgx.Connect(ctx, p.connString)
	if err != nil {
		return nil, errors.Wrap(err, "connect listener")
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{p.channel}.Sanitize()); err != nil {
		_ = conn.Close(context.Background())
		return nil, errors.Wrap(err, "listen")
	}

	sub, runCtx := NewSubscription(owner, kinds)
	go p.run(runCtx, conn, sub)

	p.logger.Infow("Subscription status", "status", "subscribed", "channel", p.channel, "owner", owner)
	return sub, nil
}

func (p *PGListener) run(ctx context.Context, conn *pgx.Conn, sub *Subscription) {
	defer sub.Finish()
	defer func() {
		if err := conn.Close(context.Background()); err != nil {
			p.logger.Warnw("close listener connection", "error", err)
		}
		p.logger.Infow("Subscription status", "status", "closed", "channel", p.channel)
	}()

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Errorw("change feed dropped", "channel", p.channel, "error", err)
			}
			return
		}

		ev, err := DecodeEvent([]byte(n.Payload))
		if err != nil {
			p.logger.Warnw("skip malformed notification", "channel", p.channel, "error", err)
			continue
		}
		if !sub.Matches(ev) {
			continue
		}
		ev, ok := p.complete(ctx, ev)
		if !ok {
			continue
		}
		if !sub.Deliver(ctx, ev) {
			return
		}
	}
}

// complete fills in the columns an insert notification leaves out.
func (p *PGListener) complete(ctx context.Context, ev Event) (Event, bool) {
	if ev.Kind != EventInsert {
		return ev, true
	}

	row, err := p.rows.Get(ctx, ev.Row.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// deleted before we read it; its delete notification follows
			return ev, false
		}
		if ctx.Err() == nil {
			p.logger.Errorw("load notified row", "id", ev.Row.ID, "error", err)
		}
		return ev, false
	}
	return Event{Kind: ev.Kind, Row: row}, true
}
