package domain

// Invite is pushed to a user when someone asks them into a room.
type Invite struct {
	Room        Room   `json:"room"`
	InviterName string `json:"inviterName"`
}
