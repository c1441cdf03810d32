package sessionlog

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"syncrelay/internal/relay"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func ev(kind relay.EventKind, room string, listeners int, offset time.Duration) relay.Event {
	return relay.Event{Kind: kind, RoomID: room, Listeners: listeners, At: t0.Add(offset)}
}

func TestLedger_EnsureSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS room_sessions").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, New(db, 0).EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedger_ApplyTracksSession(t *testing.T) {
	l := New(nil, 0)

	assert.Nil(t, l.apply(ev(relay.EventRoomOpened, "A", 1, 0)))
	assert.Nil(t, l.apply(ev(relay.EventListenerJoined, "A", 1, 0)))
	assert.Nil(t, l.apply(ev(relay.EventListenerJoined, "A", 2, time.Second)))
	assert.Nil(t, l.apply(ev(relay.EventHostJoined, "A", 2, 2*time.Second)))
	assert.Nil(t, l.apply(ev(relay.EventHostLeft, "A", 2, 3*time.Second)))
	assert.Nil(t, l.apply(ev(relay.EventHostJoined, "A", 2, 4*time.Second)))
	assert.Nil(t, l.apply(ev(relay.EventListenerLeft, "A", 1, 5*time.Second)))

	s := l.apply(ev(relay.EventRoomClosed, "A", 0, time.Minute))
	require.NotNil(t, s)
	assert.Equal(t, Session{
		RoomID:        "A",
		OpenedAt:      t0,
		ClosedAt:      t0.Add(time.Minute),
		PeakListeners: 2,
		HostJoins:     2,
	}, *s)
	assert.Empty(t, l.open)

	// a close for an unknown room is ignored
	assert.Nil(t, l.apply(ev(relay.EventRoomClosed, "B", 0, 0)))
}

func TestLedger_ReopenedRoomKeepsSessionsApart(t *testing.T) {
	l := New(nil, 0)
	gen := func(e relay.Event, g uint64) relay.Event {
		e.Generation = g
		return e
	}

	assert.Nil(t, l.apply(gen(ev(relay.EventRoomOpened, "X", 1, 0), 1)))
	assert.Nil(t, l.apply(gen(ev(relay.EventListenerJoined, "X", 1, 0), 1)))
	assert.Nil(t, l.apply(gen(ev(relay.EventListenerLeft, "X", 0, time.Second), 1)))
	// the id is reused before the first lifetime's close arrives
	assert.Nil(t, l.apply(gen(ev(relay.EventRoomOpened, "X", 0, 2*time.Second), 2)))
	assert.Nil(t, l.apply(gen(ev(relay.EventHostJoined, "X", 0, 2*time.Second), 2)))

	s := l.apply(gen(ev(relay.EventRoomClosed, "X", 0, time.Second), 1))
	require.NotNil(t, s)
	assert.Equal(t, Session{
		RoomID:        "X",
		Generation:    1,
		OpenedAt:      t0,
		ClosedAt:      t0.Add(time.Second),
		PeakListeners: 1,
	}, *s)

	require.Len(t, l.open, 1)
	open := l.open[sessionKey{room: "X", gen: 2}]
	require.NotNil(t, open)
	assert.Equal(t, t0.Add(2*time.Second), open.OpenedAt)
	assert.Equal(t, 1, open.HostJoins)
}

func TestLedger_Persist(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := &Session{RoomID: "A", Generation: 7, OpenedAt: t0, ClosedAt: t0.Add(time.Minute), PeakListeners: 3, HostJoins: 1}
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO room_sessions")).
		WithArgs("A", int64(7), t0, t0.Add(time.Minute), 3, 1).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, New(db, 0).persist(context.Background(), s))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedger_PersistRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO room_sessions")).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err = New(db, 0).persist(context.Background(), &Session{RoomID: "A"})
	assert.EqualError(t, err, "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedger_RunWritesClosedRooms(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO room_sessions")).
		WithArgs("A", int64(0), t0, t0.Add(time.Second), 1, 0).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	l := New(db, 8)
	l.Publish(ev(relay.EventRoomOpened, "A", 1, 0))
	l.Publish(ev(relay.EventListenerJoined, "A", 1, 0))
	l.Publish(ev(relay.EventListenerLeft, "A", 0, time.Second))
	l.Publish(ev(relay.EventRoomClosed, "A", 0, time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return mock.ExpectationsWereMet() == nil }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestLedger_DropsWhenFull(t *testing.T) {
	l := New(nil, 1)
	l.Publish(ev(relay.EventRoomOpened, "A", 0, 0))
	l.Publish(ev(relay.EventRoomOpened, "B", 0, 0))
	assert.Equal(t, int64(1), l.dropped.Load())
}
