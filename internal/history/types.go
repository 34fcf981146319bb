package history

import (
	"time"

	"github.com/omochice/chat-sync/internal/chat"
)

// MessageDTO is a stored message as served by the relay.
type MessageDTO struct {
	ID           string    `json:"id"`
	Room         string    `json:"room"`
	AuthorID     string    `json:"authorId"`
	AuthorName   string    `json:"authorName"`
	AuthorAvatar string    `json:"authorAvatar,omitempty"`
	Content      string    `json:"content"`
	CreatedAt    time.Time `json:"createdAt"`
}

type FriendDTO struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

type GroupDTO struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

// SocialDTO is the periodic snapshot of one user's social state.
type SocialDTO struct {
	UnreadBaseline map[string]int       `json:"unreadBaseline"`
	LastActivity   map[string]time.Time `json:"lastActivity"`
	Friends        []FriendDTO          `json:"friends"`
	Groups         []GroupDTO           `json:"groups"`
}

// CreateGroupRequest is the body of POST /api/groups.
type CreateGroupRequest struct {
	ID      string   `json:"id,omitempty"`
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

func (m MessageDTO) Message() chat.Message {
	return chat.Message{
		ID:   m.ID,
		Room: chat.RoomID(m.Room),
		Author: chat.Author{
			ID:        m.AuthorID,
			Name:      m.AuthorName,
			AvatarRef: m.AuthorAvatar,
		},
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
}

func MessageFrom(msg chat.Message) MessageDTO {
	return MessageDTO{
		ID:           msg.ID,
		Room:         string(msg.Room),
		AuthorID:     msg.Author.ID,
		AuthorName:   msg.Author.Name,
		AuthorAvatar: msg.Author.AvatarRef,
		Content:      msg.Content,
		CreatedAt:    msg.CreatedAt,
	}
}

func (g GroupDTO) Room() chat.Room {
	return chat.Room{
		ID:           chat.RoomID(g.ID),
		Kind:         chat.RoomGroup,
		Name:         g.Name,
		Participants: append([]string(nil), g.Members...),
	}
}

// Snapshot converts the wire form into the domain snapshot.
func (s SocialDTO) Snapshot() chat.SocialSnapshot {
	snap := chat.SocialSnapshot{
		UnreadBaseline: make(map[chat.RoomID]int, len(s.UnreadBaseline)),
		LastActivity:   make(map[chat.RoomID]time.Time, len(s.LastActivity)),
		Friends:        make([]chat.Friend, 0, len(s.Friends)),
		Groups:         make([]chat.Room, 0, len(s.Groups)),
	}
	for room, n := range s.UnreadBaseline {
		snap.UnreadBaseline[chat.RoomID(room)] = n
	}
	for room, at := range s.LastActivity {
		snap.LastActivity[chat.RoomID(room)] = at
	}
	for _, f := range s.Friends {
		snap.Friends = append(snap.Friends, chat.Friend{ID: f.ID, Name: f.Name, AvatarRef: f.Avatar})
	}
	for _, g := range s.Groups {
		snap.Groups = append(snap.Groups, g.Room())
	}
	return snap
}
