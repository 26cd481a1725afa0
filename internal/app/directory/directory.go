// Package directory mirrors the relay's catalogue of rooms.
package directory

import (
	"slices"
	"sort"
	"sync"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/dkeye/voicemesh/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Owner describes who a new room belongs to.
type Owner struct {
	ClanID  domain.ClanID
	Private bool
}

// Directory is a read-only mirror; only relay notifications mutate it.
type Directory struct {
	signal core.SignalSender

	mu        sync.RWMutex
	rooms     map[domain.RoomID]domain.Room
	listeners []func([]domain.Room)
}

func New(signal core.SignalSender) *Directory {
	return &Directory{
		signal: signal,
		rooms:  make(map[domain.RoomID]domain.Room),
	}
}

// CreateRoom validates the request and asks the relay for a room. The
// catalogue changes only once the relay announces the room.
func (d *Directory) CreateRoom(name string, capacity int, owner Owner) error {
	if err := domain.ValidateRoomName(name); err != nil {
		return err
	}
	capacity, err := domain.NormalizeCapacity(capacity)
	if err != nil {
		return err
	}
	log.Debug().Str("module", "directory").Str("name", name).Int("capacity", capacity).Msg("create room")
	return d.signal.Send(protocol.CreateRoom(name, capacity, owner.ClanID, owner.Private))
}

func (d *Directory) OnRoomCreated(room domain.Room) { d.upsert(room) }

func (d *Directory) OnRoomUpdated(room domain.Room) { d.upsert(room) }

func (d *Directory) OnRoomRemoved(id domain.RoomID) {
	d.mu.Lock()
	if _, ok := d.rooms[id]; !ok {
		d.mu.Unlock()
		return
	}
	delete(d.rooms, id)
	snap := d.listLocked()
	fns := d.listenersLocked()
	d.mu.Unlock()
	notify(fns, snap)
}

// Replace swaps the whole catalogue for a relay snapshot.
func (d *Directory) Replace(rooms []domain.Room) {
	d.mu.Lock()
	d.rooms = make(map[domain.RoomID]domain.Room, len(rooms))
	for _, r := range rooms {
		if r.ID == "" {
			continue
		}
		d.rooms[r.ID] = r
	}
	snap := d.listLocked()
	fns := d.listenersLocked()
	d.mu.Unlock()
	notify(fns, snap)
}

func (d *Directory) Get(id domain.RoomID) (domain.Room, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.rooms[id]
	return r, ok
}

// List returns rooms ordered by name, then id.
func (d *Directory) List() []domain.Room {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.listLocked()
}

// OnChange registers fn to receive a snapshot after every mutation.
func (d *Directory) OnChange(fn func([]domain.Room)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, fn)
}

func (d *Directory) upsert(room domain.Room) {
	if room.ID == "" {
		log.Warn().Str("module", "directory").Msg("room without id ignored")
		return
	}
	d.mu.Lock()
	d.rooms[room.ID] = room
	snap := d.listLocked()
	fns := d.listenersLocked()
	d.mu.Unlock()
	notify(fns, snap)
}

func (d *Directory) listLocked() []domain.Room {
	out := make([]domain.Room, 0, len(d.rooms))
	for _, r := range d.rooms {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (d *Directory) listenersLocked() []func([]domain.Room) {
	return slices.Clone(d.listeners)
}

func notify(fns []func([]domain.Room), snap []domain.Room) {
	for _, fn := range fns {
		fn(snap)
	}
}
