package domain

import (
	"errors"

	"github.com/google/uuid"
)

const (
	MaxRoomNameLen  = 36
	MinRoomCapacity = 2
	// Every participant holds a link to every other one, so rooms stay small.
	MaxRoomCapacity     = 10
	DefaultRoomCapacity = 8
)

var (
	ErrRoomNameEmpty      = errors.New("room name empty")
	ErrRoomNameTooLong    = errors.New("room name too long")
	ErrCapacityOutOfRange = errors.New("room capacity out of range")
)

type (
	RoomID string
	ClanID string
)

func NewRoomID() RoomID {
	return RoomID(uuid.NewString())
}

// Room is the mirrored view of a voice channel. The relay owns it.
type Room struct {
	ID               RoomID `json:"roomId"`
	Name             string `json:"name"`
	ClanID           ClanID `json:"clanId,omitempty"`
	CreatorID        UserID `json:"creatorId,omitempty"`
	Capacity         int    `json:"capacity"`
	ParticipantCount int    `json:"participantCount"`
	Private          bool   `json:"private,omitempty"`
}

func (r Room) Full() bool {
	return r.ParticipantCount >= r.Capacity
}

func ValidateRoomName(name string) error {
	if len(name) == 0 {
		return ErrRoomNameEmpty
	}
	if len(name) > MaxRoomNameLen {
		return ErrRoomNameTooLong
	}
	return nil
}

// NormalizeCapacity maps 0 to the default and rejects anything outside the mesh bounds.
func NormalizeCapacity(capacity int) (int, error) {
	if capacity == 0 {
		return DefaultRoomCapacity, nil
	}
	if capacity < MinRoomCapacity || capacity > MaxRoomCapacity {
		return 0, ErrCapacityOutOfRange
	}
	return capacity, nil
}
