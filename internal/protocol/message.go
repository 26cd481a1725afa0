// Package protocol defines the signaling envelope exchanged with the relay.
package protocol

import (
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/pion/webrtc/v4"
)

type Type string

const (
	TypeCreateRoom   Type = "create-room"
	TypeRoomCreated  Type = "room-created"
	TypeRoomUpdated  Type = "room-updated"
	TypeRoomRemoved  Type = "room-removed"
	TypeRoomList     Type = "room-list"
	TypeJoinRoom     Type = "join-room"
	TypeLeaveRoom    Type = "leave-room"
	TypeUserJoined   Type = "user-joined"
	TypeUserLeft     Type = "user-left"
	TypeOffer        Type = "offer"
	TypeAnswer       Type = "answer"
	TypeICECandidate Type = "ice-candidate"
	TypeInvite       Type = "invite"
	TypeRoomInvite   Type = "room-invite"
	TypeError        Type = "error"
)

var known = map[Type]struct{}{
	TypeCreateRoom: {}, TypeRoomCreated: {}, TypeRoomUpdated: {}, TypeRoomRemoved: {},
	TypeRoomList: {}, TypeJoinRoom: {}, TypeLeaveRoom: {}, TypeUserJoined: {}, TypeUserLeft: {},
	TypeOffer: {}, TypeAnswer: {}, TypeICECandidate: {}, TypeInvite: {}, TypeRoomInvite: {},
	TypeError: {},
}

func (t Type) Known() bool {
	_, ok := known[t]
	return ok
}

type ErrorCode string

const (
	CodeJoinRejected   ErrorCode = "join-rejected"
	CodeCreateRejected ErrorCode = "create-rejected"
	CodeRateLimited    ErrorCode = "rate-limited"
	CodeBadRequest     ErrorCode = "bad-request"
)

// Message is the single envelope for every signal. Only the fields relevant
// to Type are set.
type Message struct {
	Type        Type                     `json:"type"`
	RoomID      domain.RoomID            `json:"roomId,omitempty"`
	UserID      domain.UserID            `json:"userId,omitempty"`
	From        domain.UserID            `json:"from,omitempty"`
	Target      domain.UserID            `json:"targetPeerId,omitempty"`
	Name        string                   `json:"name,omitempty"`
	Capacity    int                      `json:"capacity,omitempty"`
	OwnerClanID domain.ClanID            `json:"ownerClanId,omitempty"`
	Private     bool                     `json:"private,omitempty"`
	Room        *domain.Room             `json:"room,omitempty"`
	Rooms       []domain.Room            `json:"rooms,omitempty"`
	SDP         string                   `json:"sdpPayload,omitempty"`
	Candidate   *webrtc.ICECandidateInit `json:"candidate,omitempty"`
	InviterName string                   `json:"inviterName,omitempty"`
	Code        ErrorCode                `json:"code,omitempty"`
	Reason      string                   `json:"reason,omitempty"`
}

func CreateRoom(name string, capacity int, clan domain.ClanID, private bool) Message {
	return Message{Type: TypeCreateRoom, Name: name, Capacity: capacity, OwnerClanID: clan, Private: private}
}

func RoomCreated(room domain.Room) Message {
	return Message{Type: TypeRoomCreated, RoomID: room.ID, Room: &room}
}

func RoomUpdated(room domain.Room) Message {
	return Message{Type: TypeRoomUpdated, RoomID: room.ID, Room: &room}
}

func RoomRemoved(id domain.RoomID) Message {
	return Message{Type: TypeRoomRemoved, RoomID: id}
}

func RoomList(rooms []domain.Room) Message {
	return Message{Type: TypeRoomList, Rooms: rooms}
}

func JoinRoom(room domain.RoomID, user domain.UserID) Message {
	return Message{Type: TypeJoinRoom, RoomID: room, UserID: user}
}

func LeaveRoom(room domain.RoomID, user domain.UserID) Message {
	return Message{Type: TypeLeaveRoom, RoomID: room, UserID: user}
}

func UserJoined(room domain.RoomID, user domain.UserID) Message {
	return Message{Type: TypeUserJoined, RoomID: room, UserID: user}
}

func UserLeft(room domain.RoomID, user domain.UserID) Message {
	return Message{Type: TypeUserLeft, RoomID: room, UserID: user}
}

func Offer(from, target domain.UserID, room domain.RoomID, sdp string) Message {
	return Message{Type: TypeOffer, From: from, Target: target, RoomID: room, SDP: sdp}
}

func Answer(from, target domain.UserID, room domain.RoomID, sdp string) Message {
	return Message{Type: TypeAnswer, From: from, Target: target, RoomID: room, SDP: sdp}
}

func ICECandidate(from, target domain.UserID, room domain.RoomID, c webrtc.ICECandidateInit) Message {
	return Message{Type: TypeICECandidate, From: from, Target: target, RoomID: room, Candidate: &c}
}

func Invite(target domain.UserID, room domain.RoomID, inviterName string) Message {
	return Message{Type: TypeInvite, Target: target, RoomID: room, InviterName: inviterName}
}

func RoomInvite(room domain.Room, inviterName string) Message {
	return Message{Type: TypeRoomInvite, RoomID: room.ID, Room: &room, InviterName: inviterName}
}

func Error(code ErrorCode, room domain.RoomID, reason string) Message {
	return Message{Type: TypeError, Code: code, RoomID: room, Reason: reason}
}
