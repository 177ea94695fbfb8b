package engine

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"roomsync/internal/model"
	"roomsync/internal/store"
)

// flakyStore wraps a MemStore and fails Watch calls from a scripted error
// queue before delegating.
type flakyStore struct {
	*store.MemStore
	watchErrs []error
	watchN    int
}

func (f *flakyStore) Watch(ctx context.Context, id string, onChange func(store.Document), onError func(error)) (func(), error) {
	f.watchN++
	if len(f.watchErrs) > 0 {
		err := f.watchErrs[0]
		f.watchErrs = f.watchErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return f.MemStore.Watch(ctx, id, onChange, onError)
}

func seedRoom(t *testing.T, ms *store.MemStore, code string) {
	t.Helper()
	require.NoError(t, ms.Create(context.Background(), code, store.Document{
		"code":   code,
		"status": "waiting",
		"players": []interface{}{
			playerDoc("u_a", "Ada", 0),
			playerDoc("u_b", "Bea", 1),
		},
	}))
}

func newTestSubscriber(st store.Store, mock *clock.Mock) *Subscriber {
	return NewSubscriber(st, mock, zap.NewNop(), Config{
		BaseDelay:   2 * time.Second,
		MaxAttempts: 3,
	})
}

func TestSubscribeDeliversCoalescedSnapshot(t *testing.T) {
	ms := store.NewMemStore()
	mock := clock.NewMock()
	seedRoom(t, ms, "ROOM")

	var rooms []*model.Room
	sub := newTestSubscriber(ms, mock)
	stop := sub.Subscribe("ROOM", func(r *model.Room) { rooms = append(rooms, r) }, nil)
	defer stop()

	mock.Add(DefaultDebounceWindow)
	require.Len(t, rooms, 1)
	assert.Equal(t, "ROOM", rooms[0].Code)
	assert.Len(t, rooms[0].Players, 2)
}

func TestReconnectBackoffEscalatesThenFails(t *testing.T) {
	ms := store.NewMemStore()
	mock := clock.NewMock()
	seedRoom(t, ms, "ROOM")

	fs := &flakyStore{MemStore: ms}
	var fatal error
	sub := newTestSubscriber(fs, mock)
	stop := sub.Subscribe("ROOM", func(*model.Room) {}, func(err error) { fatal = err })
	defer stop()
	require.Equal(t, 1, fs.watchN)

	// Every reconnect attempt fails before a snapshot arrives, so the
	// attempt counter never resets and the delays escalate d, 2d, 3d.
	fs.watchErrs = []error{store.ErrStreamClosed, store.ErrStreamClosed, store.ErrStreamClosed}
	ms.FailWatchers("ROOM", store.ErrStreamClosed)

	mock.Add(2*time.Second - time.Millisecond)
	assert.Equal(t, 1, fs.watchN, "no reconnect before the first delay elapses")
	mock.Add(time.Millisecond)
	assert.Equal(t, 2, fs.watchN, "reconnect after 1×base")
	assert.Nil(t, fatal)

	mock.Add(4 * time.Second)
	assert.Equal(t, 3, fs.watchN, "reconnect after 2×base")
	assert.Nil(t, fatal)

	mock.Add(6 * time.Second)
	assert.Equal(t, 4, fs.watchN, "reconnect after 3×base")

	// The fourth consecutive failure exceeds MaxAttempts=3.
	assert.ErrorIs(t, fatal, ErrConnectionLost)
	mock.Add(time.Minute)
	assert.Equal(t, 4, fs.watchN, "no retries after failure")
}

func TestSnapshotResetsAttemptCounter(t *testing.T) {
	ms := store.NewMemStore()
	mock := clock.NewMock()
	seedRoom(t, ms, "ROOM")

	var fatal error
	sub := newTestSubscriber(ms, mock)
	stop := sub.Subscribe("ROOM", func(*model.Room) {}, func(err error) { fatal = err })
	defer stop()

	// Fail and reconnect repeatedly; each reconnect delivers a snapshot,
	// so the delay stays at 1×base and the budget never runs out.
	for i := 0; i < 5; i++ {
		ms.FailWatchers("ROOM", store.ErrStreamClosed)
		assert.Equal(t, 0, ms.WatcherCount("ROOM"))
		mock.Add(2 * time.Second)
		assert.Equal(t, 1, ms.WatcherCount("ROOM"), "reconnected after 1×base on loop %d", i)
	}
	assert.Nil(t, fatal)
}

func TestTerminalErrorFailsImmediately(t *testing.T) {
	ms := store.NewMemStore()
	mock := clock.NewMock()
	seedRoom(t, ms, "ROOM")

	var fatal error
	sub := newTestSubscriber(ms, mock)
	stop := sub.Subscribe("ROOM", func(*model.Room) {}, func(err error) { fatal = err })
	defer stop()

	ms.FailWatchers("ROOM", store.ErrPermissionDenied)
	assert.ErrorIs(t, fatal, store.ErrPermissionDenied)

	mock.Add(time.Minute)
	assert.Equal(t, 0, ms.WatcherCount("ROOM"), "terminal errors are never retried")
}

func TestStopCancelsPendingRetryAndDelivery(t *testing.T) {
	ms := store.NewMemStore()
	mock := clock.NewMock()
	seedRoom(t, ms, "ROOM")

	delivered := 0
	sub := newTestSubscriber(ms, mock)
	stop := sub.Subscribe("ROOM", func(*model.Room) { delivered++ }, nil)

	ms.FailWatchers("ROOM", store.ErrStreamClosed)
	stop()

	mock.Add(time.Minute)
	assert.Equal(t, 0, ms.WatcherCount("ROOM"), "stop cancels the pending retry")
	assert.Zero(t, delivered, "stop cancels the pending coalesced delivery")
}

func TestSubscribeReplacesPreviousRoomSubscription(t *testing.T) {
	ms := store.NewMemStore()
	mock := clock.NewMock()
	seedRoom(t, ms, "ROOM")

	sub := newTestSubscriber(ms, mock)
	stop1 := sub.Subscribe("ROOM", func(*model.Room) {}, nil)
	defer stop1()
	assert.Equal(t, 1, ms.WatcherCount("ROOM"))

	stop2 := sub.Subscribe("ROOM", func(*model.Room) {}, nil)
	defer stop2()
	assert.Equal(t, 1, ms.WatcherCount("ROOM"), "at most one live watch per room")
}
