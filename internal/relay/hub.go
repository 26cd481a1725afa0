// Package relay is a development signaling relay. It tracks rooms and
// membership and forwards negotiation messages; it never touches media.
package relay

import (
	"errors"
	"sort"
	"sync"

	"github.com/dkeye/voicemesh/internal/adapters/signal"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/dkeye/voicemesh/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type member struct {
	user domain.User
	conn core.SignalConnection
	room domain.RoomID
}

type room struct {
	info    domain.Room
	members map[domain.UserID]struct{}
	// invited lists users a member invited; only they and the creator may
	// join a private room.
	invited map[domain.UserID]struct{}
}

func (r *room) snapshot() domain.Room {
	info := r.info
	info.ParticipantCount = len(r.members)
	return info
}

// Hub owns all relay state. Sends are non-blocking, so they happen under mu.
type Hub struct {
	limiter *RateLimiter
	policy  Policy

	mu    sync.Mutex
	conns map[domain.UserID]*member
	rooms map[domain.RoomID]*room
}

// NewHub builds a hub. A nil policy means SimplePolicy.
func NewHub(limiter *RateLimiter, policy Policy) *Hub {
	if policy == nil {
		policy = SimplePolicy{}
	}
	return &Hub{
		limiter: limiter,
		policy:  policy,
		conns:   make(map[domain.UserID]*member),
		rooms:   make(map[domain.RoomID]*room),
	}
}

// Connect registers conn for user, replacing any previous connection, and
// pushes the visible room list.
func (h *Hub) Connect(user domain.User, conn core.SignalConnection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	logger := log.With().Str("module", "relay").Str("user", string(user.ID)).Logger()
	if old, ok := h.conns[user.ID]; ok {
		logger.Info().Msg("replacing connection")
		h.leaveLocked(old)
		old.conn.Close()
	}
	h.conns[user.ID] = &member{user: user, conn: conn}
	logger.Info().Str("name", user.Username).Msg("connected")
	h.sendLocked(user.ID, conn, protocol.RoomList(h.visibleRoomsLocked(user.ID)))
}

// Disconnect removes user if conn is still its current connection.
func (h *Hub) Disconnect(uid domain.UserID, conn core.SignalConnection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.conns[uid]
	if !ok || m.conn != conn {
		return
	}
	h.leaveLocked(m)
	delete(h.conns, uid)
	h.limiter.Forget(uid)
	log.Info().Str("module", "relay").Str("user", string(uid)).Msg("disconnected")
}

// Handle applies one message sent by uid.
func (h *Hub) Handle(uid domain.UserID, msg protocol.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.conns[uid]
	if !ok {
		return
	}
	logger := log.With().Str("module", "relay").Str("user", string(uid)).Str("type", string(msg.Type)).Logger()

	switch msg.Type {
	case protocol.TypeCreateRoom:
		h.createLocked(m, msg, logger)
	case protocol.TypeJoinRoom:
		h.joinLocked(m, msg.RoomID, logger)
	case protocol.TypeLeaveRoom:
		if m.room != "" && m.room == msg.RoomID {
			h.leaveLocked(m)
		}
	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeICECandidate:
		h.forwardLocked(m, msg, logger)
	case protocol.TypeInvite:
		h.inviteLocked(m, msg, logger)
	default:
		logger.Warn().Msg("unsupported message")
		h.sendLocked(m.user.ID, m.conn, protocol.Error(protocol.CodeBadRequest, msg.RoomID, "unsupported message type"))
	}
}

func (h *Hub) createLocked(m *member, msg protocol.Message, logger zerolog.Logger) {
	if err := domain.ValidateRoomName(msg.Name); err != nil {
		h.sendLocked(m.user.ID, m.conn, protocol.Error(protocol.CodeCreateRejected, "", err.Error()))
		return
	}
	capacity, err := domain.NormalizeCapacity(msg.Capacity)
	if err != nil {
		h.sendLocked(m.user.ID, m.conn, protocol.Error(protocol.CodeCreateRejected, "", err.Error()))
		return
	}
	if !h.limiter.Allow(m.user.ID) {
		logger.Warn().Msg("create rate limited")
		h.sendLocked(m.user.ID, m.conn, protocol.Error(protocol.CodeRateLimited, "", "too many rooms created"))
		return
	}
	r := &room{
		info: domain.Room{
			ID:        domain.NewRoomID(),
			Name:      msg.Name,
			ClanID:    msg.OwnerClanID,
			CreatorID: m.user.ID,
			Capacity:  capacity,
			Private:   msg.Private,
		},
		members: make(map[domain.UserID]struct{}),
		invited: make(map[domain.UserID]struct{}),
	}
	h.rooms[r.info.ID] = r
	logger.Info().Str("room", string(r.info.ID)).Str("name", r.info.Name).Msg("room created")
	h.announceLocked(r, protocol.RoomCreated(r.snapshot()))
}

func (h *Hub) joinLocked(m *member, id domain.RoomID, logger zerolog.Logger) {
	r, ok := h.rooms[id]
	if !ok {
		h.sendLocked(m.user.ID, m.conn, protocol.Error(protocol.CodeJoinRejected, id, "unknown room"))
		return
	}
	if m.room == id {
		return
	}
	if !h.admittedLocked(r, m.user.ID) {
		logger.Info().Str("room", string(id)).Msg("join rejected, private room")
		h.sendLocked(m.user.ID, m.conn, protocol.Error(protocol.CodeJoinRejected, id, "unknown room"))
		return
	}
	if len(r.members) >= r.info.Capacity {
		logger.Info().Str("room", string(id)).Msg("join rejected, room full")
		h.sendLocked(m.user.ID, m.conn, protocol.Error(protocol.CodeJoinRejected, id, "room full"))
		return
	}
	h.leaveLocked(m)

	for peer := range r.members {
		h.sendTo(peer, protocol.UserJoined(id, m.user.ID))
	}
	r.members[m.user.ID] = struct{}{}
	m.room = id
	logger.Info().Str("room", string(id)).Int("members", len(r.members)).Msg("joined")
	h.announceLocked(r, protocol.RoomUpdated(r.snapshot()))
}

// leaveLocked removes m from its room. An emptied room is destroyed.
func (h *Hub) leaveLocked(m *member) {
	if m.room == "" {
		return
	}
	id := m.room
	m.room = ""
	r, ok := h.rooms[id]
	if !ok {
		return
	}
	delete(r.members, m.user.ID)
	for peer := range r.members {
		h.sendTo(peer, protocol.UserLeft(id, m.user.ID))
	}
	if len(r.members) == 0 {
		delete(h.rooms, id)
		log.Info().Str("module", "relay").Str("room", string(id)).Msg("room removed")
		h.announceRemovalLocked(r)
		return
	}
	h.announceLocked(r, protocol.RoomUpdated(r.snapshot()))
}

func (h *Hub) forwardLocked(m *member, msg protocol.Message, logger zerolog.Logger) {
	if m.room == "" || m.room != msg.RoomID {
		logger.Debug().Msg("sender not in room, dropped")
		return
	}
	r := h.rooms[m.room]
	if _, ok := r.members[msg.Target]; !ok || msg.Target == m.user.ID {
		logger.Debug().Str("target", string(msg.Target)).Msg("target not in room, dropped")
		return
	}
	msg.From = m.user.ID
	h.sendTo(msg.Target, msg)
}

func (h *Hub) inviteLocked(m *member, msg protocol.Message, logger zerolog.Logger) {
	r, ok := h.rooms[msg.RoomID]
	if !ok || m.room != msg.RoomID {
		h.sendLocked(m.user.ID, m.conn, protocol.Error(protocol.CodeBadRequest, msg.RoomID, "not in room"))
		return
	}
	if _, ok := h.conns[msg.Target]; !ok {
		logger.Debug().Str("target", string(msg.Target)).Msg("invite target offline")
		return
	}
	r.invited[msg.Target] = struct{}{}
	name := msg.InviterName
	if name == "" {
		name = m.user.Username
	}
	h.sendTo(msg.Target, protocol.RoomInvite(r.snapshot(), name))
}

func (h *Hub) visibleLocked(r *room, uid domain.UserID) bool {
	if !r.info.Private || r.info.CreatorID == uid {
		return true
	}
	_, ok := r.members[uid]
	return ok
}

func (h *Hub) admittedLocked(r *room, uid domain.UserID) bool {
	if !r.info.Private || r.info.CreatorID == uid {
		return true
	}
	_, ok := r.invited[uid]
	return ok
}

func (h *Hub) visibleRoomsLocked(uid domain.UserID) []domain.Room {
	out := make([]domain.Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		if h.visibleLocked(r, uid) {
			out = append(out, r.snapshot())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// announceLocked sends msg to every connection that may see r.
func (h *Hub) announceLocked(r *room, msg protocol.Message) {
	for uid, m := range h.conns {
		if h.visibleLocked(r, uid) {
			h.sendLocked(m.user.ID, m.conn, msg)
		}
	}
}

// announceRemovalLocked runs after r lost its members, so private rooms are
// announced to their creator only.
func (h *Hub) announceRemovalLocked(r *room) {
	h.announceLocked(r, protocol.RoomRemoved(r.info.ID))
}

func (h *Hub) sendTo(uid domain.UserID, msg protocol.Message) {
	if m, ok := h.conns[uid]; ok {
		h.sendLocked(m.user.ID, m.conn, msg)
	}
}

func (h *Hub) sendLocked(uid domain.UserID, conn core.SignalConnection, msg protocol.Message) {
	b, err := protocol.Encode(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("encode")
		return
	}
	err = conn.TrySend(b)
	if err == nil {
		return
	}
	logger := log.With().Str("module", "relay").Str("user", string(uid)).Str("type", string(msg.Type)).Logger()
	if errors.Is(err, signal.ErrBackpressure) && h.policy.OnBackpressure(uid, msg.Type) == KickMember {
		logger.Warn().Msg("send queue full, kicking member")
		conn.Close()
		return
	}
	logger.Warn().Err(err).Msg("send dropped")
}

// Rooms returns a snapshot of every room, for diagnostics.
func (h *Hub) Rooms() []domain.Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]domain.Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		out = append(out, r.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
