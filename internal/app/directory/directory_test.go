package directory

import (
	"errors"
	"sync"
	"testing"

	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/dkeye/voicemesh/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []protocol.Message
	err  error
}

func (s *recordingSender) Send(m protocol.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, m)
	return nil
}

func TestCreateRoomSendsWithoutMutating(t *testing.T) {
	s := &recordingSender{}
	d := New(s)

	require.NoError(t, d.CreateRoom("lobby", 0, Owner{ClanID: "c1", Private: true}))

	require.Len(t, s.sent, 1)
	msg := s.sent[0]
	assert.Equal(t, protocol.TypeCreateRoom, msg.Type)
	assert.Equal(t, "lobby", msg.Name)
	assert.Equal(t, domain.DefaultRoomCapacity, msg.Capacity)
	assert.Equal(t, domain.ClanID("c1"), msg.OwnerClanID)
	assert.True(t, msg.Private)
	assert.Empty(t, d.List())
}

func TestCreateRoomValidation(t *testing.T) {
	tests := []struct {
		name     string
		room     string
		capacity int
		err      error
	}{
		{name: "empty name", room: "", capacity: 4, err: domain.ErrRoomNameEmpty},
		{name: "long name", room: string(make([]byte, domain.MaxRoomNameLen+1)), capacity: 4, err: domain.ErrRoomNameTooLong},
		{name: "capacity too small", room: "a", capacity: 1, err: domain.ErrCapacityOutOfRange},
		{name: "capacity too large", room: "a", capacity: domain.MaxRoomCapacity + 1, err: domain.ErrCapacityOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &recordingSender{}
			d := New(s)
			err := d.CreateRoom(tt.room, tt.capacity, Owner{})
			assert.ErrorIs(t, err, tt.err)
			assert.Empty(t, s.sent)
		})
	}
}

func TestCreateRoomTransportError(t *testing.T) {
	boom := errors.New("down")
	d := New(&recordingSender{err: boom})
	assert.ErrorIs(t, d.CreateRoom("lobby", 4, Owner{}), boom)
}

func TestUpsertAndOrder(t *testing.T) {
	d := New(&recordingSender{})

	d.OnRoomCreated(domain.Room{ID: "r2", Name: "beta", Capacity: 4})
	d.OnRoomCreated(domain.Room{ID: "r1", Name: "alpha", Capacity: 4})
	d.OnRoomCreated(domain.Room{ID: "r0", Name: "beta", Capacity: 4})
	d.OnRoomUpdated(domain.Room{ID: "r1", Name: "alpha", Capacity: 4, ParticipantCount: 2})

	got := d.List()
	require.Len(t, got, 3)
	assert.Equal(t, []domain.RoomID{"r1", "r0", "r2"}, []domain.RoomID{got[0].ID, got[1].ID, got[2].ID})

	r, ok := d.Get("r1")
	require.True(t, ok)
	assert.Equal(t, 2, r.ParticipantCount)

	d.OnRoomUpdated(domain.Room{ID: "r9", Name: "late"})
	_, ok = d.Get("r9")
	assert.True(t, ok, "update for unknown room inserts it")
}

func TestRemoveAndReplace(t *testing.T) {
	d := New(&recordingSender{})
	d.OnRoomCreated(domain.Room{ID: "r1", Name: "a"})

	var snaps [][]domain.Room
	d.OnChange(func(rooms []domain.Room) { snaps = append(snaps, rooms) })

	d.OnRoomRemoved("missing")
	assert.Empty(t, snaps)

	d.OnRoomRemoved("r1")
	require.Len(t, snaps, 1)
	assert.Empty(t, snaps[0])

	d.Replace([]domain.Room{{ID: "x", Name: "x"}, {Name: "no id"}})
	require.Len(t, snaps, 2)
	assert.Len(t, snaps[1], 1)
	assert.Len(t, d.List(), 1)
}

func TestListenerMayReadDirectory(t *testing.T) {
	d := New(&recordingSender{})
	var seen int
	d.OnChange(func([]domain.Room) { seen = len(d.List()) })
	d.OnRoomCreated(domain.Room{ID: "r1", Name: "a"})
	assert.Equal(t, 1, seen)
}
