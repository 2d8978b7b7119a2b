package registry

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mwynn/tombola/internal/models"
	"github.com/mwynn/tombola/internal/session"
	"github.com/mwynn/tombola/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore implements registry.Store backed by maps.
type fakeStore struct {
	mu      sync.Mutex
	rooms   map[string]*models.Room
	members map[int64][]*models.Member

	loadCount atomic.Int32
	loadGate  chan struct{} // when set, GetRoomBySlug blocks until closed
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rooms:   make(map[string]*models.Room),
		members: make(map[int64][]*models.Member),
	}
}

func (f *fakeStore) addRoom(slug string, id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rooms[slug] = &models.Room{ID: id, Slug: slug}
}

func (f *fakeStore) addMember(roomID int64, m *models.Member) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members[roomID] = append(f.members[roomID], m)
}

func (f *fakeStore) GetRoomBySlug(ctx context.Context, slug string) (*models.Room, error) {
	if f.loadGate != nil {
		<-f.loadGate
	}
	f.loadCount.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[slug]
	if !ok {
		return nil, store.ErrRoomNotFound
	}
	return room, nil
}

func (f *fakeStore) ListMembers(ctx context.Context, roomID int64) ([]*models.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.Member, 0, len(f.members[roomID]))
	for _, m := range f.members[roomID] {
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeStore) AddMember(ctx context.Context, roomID int64, name string) (*models.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := &models.Member{ID: int64(len(f.members[roomID]) + 1), RoomID: roomID, Name: name}
	f.members[roomID] = append(f.members[roomID], m)
	return m, nil
}

func (f *fakeStore) SetMemberVacation(ctx context.Context, id int64, isVacation bool) error {
	return nil
}

func (f *fakeStore) SetMemberWon(ctx context.Context, id int64, hasWon bool) error {
	return nil
}

func (f *fakeStore) DeleteMember(ctx context.Context, id int64) error {
	return nil
}

func (f *fakeStore) ResetWins(ctx context.Context, roomID int64) error {
	return nil
}

type fakeSub struct {
	ch chan []byte
}

func newFakeSub() *fakeSub {
	return &fakeSub{ch: make(chan []byte, 64)}
}

func (f *fakeSub) Deliver(msg []byte) bool {
	select {
	case f.ch <- msg:
		return true
	default:
		return false
	}
}

func (f *fakeSub) Close() {}

func (f *fakeSub) nextUsers(t *testing.T) []struct {
	Name string `json:"name"`
} {
	t.Helper()
	select {
	case data := <-f.ch:
		var msg struct {
			Type    string `json:"type"`
			Payload []struct {
				Name string `json:"name"`
			} `json:"payload"`
		}
		require.NoError(t, json.Unmarshal(data, &msg))
		require.Equal(t, "ROOM_STATE", msg.Type)
		return msg.Payload
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for room state")
		return nil
	}
}

func TestGetOrLoadUnknownRoom(t *testing.T) {
	reg := New(newFakeStore(), Config{})
	t.Cleanup(reg.Shutdown)

	_, err := reg.GetOrLoad(context.Background(), "no-such-room")
	assert.ErrorIs(t, err, store.ErrRoomNotFound)
	assert.Equal(t, 0, reg.ActiveRooms())
}

func TestGetOrLoadReturnsSameSession(t *testing.T) {
	st := newFakeStore()
	st.addRoom("abc", 1)
	reg := New(st, Config{})
	t.Cleanup(reg.Shutdown)

	first, err := reg.GetOrLoad(context.Background(), "abc")
	require.NoError(t, err)
	second, err := reg.GetOrLoad(context.Background(), "abc")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), st.loadCount.Load())
	assert.Equal(t, 1, reg.ActiveRooms())
}

func TestGetOrLoadSingleFlight(t *testing.T) {
	st := newFakeStore()
	st.addRoom("abc", 1)
	st.loadGate = make(chan struct{})
	reg := New(st, Config{})
	t.Cleanup(reg.Shutdown)

	const callers = 10
	results := make(chan any, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess, err := reg.GetOrLoad(context.Background(), "abc")
			assert.NoError(t, err)
			results <- sess
		}()
	}

	// let every caller reach the registry before the store answers
	time.Sleep(50 * time.Millisecond)
	close(st.loadGate)
	wg.Wait()
	close(results)

	unique := make(map[any]struct{})
	for sess := range results {
		unique[sess] = struct{}{}
	}
	assert.Len(t, unique, 1)
	assert.Equal(t, int32(1), st.loadCount.Load())
}

func TestJoinAfterEvictionNeverHangs(t *testing.T) {
	st := newFakeStore()
	st.addRoom("abc", 1)
	st.addMember(1, &models.Member{ID: 1, RoomID: 1, Name: "Alice"})
	reg := New(st, Config{})
	t.Cleanup(reg.Shutdown)

	for i := 0; i < 100; i++ {
		sess, err := reg.GetOrLoad(context.Background(), "abc")
		require.NoError(t, err)

		sub := newFakeSub()
		require.NoError(t, sess.Join(sub))
		sub.nextUsers(t)
		require.NoError(t, sess.Disconnect(sub))

		// the disconnect evicted the session; a join racing it on the stale
		// handle must either deliver a snapshot or fail fast, never hang
		late := newFakeSub()
		if err := sess.Join(late); err == nil {
			late.nextUsers(t)
			_ = sess.Disconnect(late)
		} else {
			require.ErrorIs(t, err, session.ErrSessionClosed)
		}
	}
}

func TestLastDisconnectEvictsAndReloadsFromStore(t *testing.T) {
	st := newFakeStore()
	st.addRoom("abc", 1)
	st.addMember(1, &models.Member{ID: 1, RoomID: 1, Name: "Alice"})
	reg := New(st, Config{})
	t.Cleanup(reg.Shutdown)

	sess, err := reg.GetOrLoad(context.Background(), "abc")
	require.NoError(t, err)

	sub := newFakeSub()
	require.NoError(t, sess.Join(sub))
	users := sub.nextUsers(t)
	require.Len(t, users, 1)

	require.NoError(t, sess.Disconnect(sub))
	require.Eventually(t, func() bool {
		return reg.ActiveRooms() == 0
	}, 2*time.Second, 10*time.Millisecond, "session was not evicted")

	// the store gained a member while the room was cold
	st.addMember(1, &models.Member{ID: 2, RoomID: 1, Name: "Bob"})

	fresh, err := reg.GetOrLoad(context.Background(), "abc")
	require.NoError(t, err)
	assert.NotSame(t, sess, fresh)
	assert.Equal(t, int32(2), st.loadCount.Load())

	sub2 := newFakeSub()
	require.NoError(t, fresh.Join(sub2))
	users = sub2.nextUsers(t)
	require.Len(t, users, 2)
	assert.Equal(t, "Bob", users[1].Name)
}
