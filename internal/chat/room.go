package chat

import (
	"sort"
	"strings"
)

// RoomID identifies a broadcast group.
type RoomID string

// GlobalRoomID is the well-known id of the room every user is a member of.
const GlobalRoomID RoomID = "general"

// directSeparator joins the two participant ids of a direct room.
const directSeparator = "_"

// RoomKind distinguishes the three kinds of rooms.
type RoomKind int

const (
	RoomGlobal RoomKind = iota
	RoomGroup
	RoomDirect
)

func (k RoomKind) String() string {
	switch k {
	case RoomGlobal:
		return "global"
	case RoomGroup:
		return "group"
	case RoomDirect:
		return "direct"
	default:
		return "unknown"
	}
}

// Room is a logical conversation the user can subscribe to.
type Room struct {
	ID           RoomID
	Kind         RoomKind
	Name         string
	Participants []string
}

// DirectRoomID returns the id of the 1:1 room between a and b.
// The result does not depend on argument order.
func DirectRoomID(a, b string) RoomID {
	ids := []string{a, b}
	sort.Strings(ids)
	return RoomID(strings.Join(ids, directSeparator))
}

// GlobalRoom returns the descriptor of the global room.
func GlobalRoom() Room {
	return Room{ID: GlobalRoomID, Kind: RoomGlobal, Name: string(GlobalRoomID)}
}

// DirectRoom returns the descriptor of the 1:1 room between self and peer.
func DirectRoom(self string, peer Friend) Room {
	return Room{
		ID:           DirectRoomID(self, peer.ID),
		Kind:         RoomDirect,
		Name:         peer.Name,
		Participants: []string{self, peer.ID},
	}
}
