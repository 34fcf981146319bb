package chat

import "time"

// Author identifies who wrote a message.
type Author struct {
	ID        string
	Name      string
	AvatarRef string
}

// Message is a single entry of a room transcript.
//
// Pending marks a locally originated message not yet confirmed by the relay.
// Pending messages only live in the in-memory transcript of the active room.
type Message struct {
	ID        string
	Room      RoomID
	Author    Author
	Content   string
	CreatedAt time.Time
	Pending   bool
}

// Session identifies the authenticated user.
type Session struct {
	UserID      string
	DisplayName string
	AvatarRef   string
}

// Author returns the session user as a message author.
func (s Session) Author() Author {
	return Author{ID: s.UserID, Name: s.DisplayName, AvatarRef: s.AvatarRef}
}

// Friend is a user the session user has a direct room with.
type Friend struct {
	ID        string
	Name      string
	AvatarRef string
}

// SocialSnapshot is the periodically polled view of membership and read
// state maintained by the persistence collaborator.
type SocialSnapshot struct {
	UnreadBaseline map[RoomID]int
	LastActivity   map[RoomID]time.Time
	Friends        []Friend
	Groups         []Room
}
