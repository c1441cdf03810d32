package sessionlog

import (
	"context"
	"database/sql"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"syncrelay/internal/relay"
)

const (
	defaultQueue = 1024
	execTimeout  = 3 * time.Second
)

const schema = `
CREATE TABLE IF NOT EXISTS room_sessions (
    id             BIGSERIAL   PRIMARY KEY,
    room_id        TEXT        NOT NULL,
    generation     BIGINT      NOT NULL,
    opened_at      TIMESTAMPTZ NOT NULL,
    closed_at      TIMESTAMPTZ NOT NULL,
    peak_listeners INTEGER     NOT NULL,
    host_joins     INTEGER     NOT NULL
)`

const insertSession = `INSERT INTO room_sessions (room_id, generation, opened_at, closed_at, peak_listeners, host_joins)
	             VALUES ($1, $2, $3, $4, $5, $6)`

// Session is one room lifetime, from the first join to the deletion.
type Session struct {
	RoomID        string
	Generation    uint64
	OpenedAt      time.Time
	ClosedAt      time.Time
	PeakListeners int
	HostJoins     int
}

// sessionKey is one lifetime of a room id. Events of a closed room may
// still arrive after the id was opened again.
type sessionKey struct {
	room string
	gen  uint64
}

// Ledger records finished room sessions. It is a relay.EventSink; open
// sessions are tracked in memory by the Run goroutine only.
type Ledger struct {
	db      *sql.DB
	queue   chan relay.Event
	open    map[sessionKey]*Session
	dropped atomic.Int64
}

func New(db *sql.DB, queue int) *Ledger {
	if queue <= 0 {
		queue = defaultQueue
	}
	return &Ledger{db: db, queue: make(chan relay.Event, queue), open: make(map[sessionKey]*Session)}
}

// EnsureSchema creates the sessions table if it does not exist.
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, execTimeout)
	defer cancel()
	_, err := l.db.ExecContext(ctx, schema)
	return err
}

func (l *Ledger) Publish(e relay.Event) {
	select {
	case l.queue <- e:
	default:
		if n := l.dropped.Add(1); n == 1 || n%100 == 0 {
			zap.L().Warn("sessionlog.queue_full", zap.Int64("dropped", n))
		}
	}
}

// Run applies queued events until ctx is done.
func (l *Ledger) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-l.queue:
			if s := l.apply(e); s != nil {
				if err := l.persist(ctx, s); err != nil {
					zap.L().Error("sessionlog.persist", zap.String("room", s.RoomID), zap.Error(err))
				}
			}
		}
	}
}

// apply folds e into the open sessions and returns the session it closed.
func (l *Ledger) apply(e relay.Event) *Session {
	key := sessionKey{room: e.RoomID, gen: e.Generation}
	s, ok := l.open[key]
	if !ok {
		if e.Kind == relay.EventRoomClosed {
			return nil
		}
		s = &Session{RoomID: e.RoomID, Generation: e.Generation, OpenedAt: e.At}
		l.open[key] = s
	}

	switch e.Kind {
	case relay.EventHostJoined:
		s.HostJoins++
	case relay.EventRoomClosed:
		delete(l.open, key)
		s.ClosedAt = e.At
		return s
	}
	if e.Listeners > s.PeakListeners {
		s.PeakListeners = e.Listeners
	}
	return nil
}

func (l *Ledger) persist(ctx context.Context, s *Session) error {
	ctx, cancel := context.WithTimeout(ctx, execTimeout)
	defer cancel()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, insertSession,
		s.RoomID, int64(s.Generation), s.OpenedAt, s.ClosedAt, s.PeakListeners, s.HostJoins); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
