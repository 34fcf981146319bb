package relay

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/omochice/chat-sync/internal/chat"
	"github.com/omochice/chat-sync/internal/history"
	"github.com/omochice/chat-sync/pkg/protocol"
)

// RegisterAPI mounts the REST endpoints on mux.
func (h *Hub) RegisterAPI(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/rooms/{room}/messages", h.handleHistory)
	mux.HandleFunc("POST /api/rooms/{room}/read", h.handleMarkRead)
	mux.HandleFunc("GET /api/users/{user}/social", h.handleSocial)
	mux.HandleFunc("POST /api/groups", h.handleCreateGroup)
	mux.HandleFunc("DELETE /api/groups/{id}", h.handleDeleteGroup)
}

func (h *Hub) handleHistory(w http.ResponseWriter, r *http.Request) {
	room := chat.RoomID(r.PathValue("room"))
	msgs := h.log.History(room)
	resp := make([]history.MessageDTO, 0, len(msgs))
	for _, m := range msgs {
		resp = append(resp, history.MessageFrom(m))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Hub) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		writeError(w, http.StatusBadRequest, "user is required")
		return
	}
	h.log.MarkRead(user, chat.RoomID(r.PathValue("room")))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Hub) handleSocial(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Social(r.PathValue("user")))
}

// Social builds the snapshot of every room visible to userID.
func (h *Hub) Social(userID string) history.SocialDTO {
	snap := history.SocialDTO{
		UnreadBaseline: make(map[string]int),
		LastActivity:   make(map[string]time.Time),
		Friends:        []history.FriendDTO{},
		Groups:         []history.GroupDTO{},
	}

	rooms := []chat.RoomID{chat.GlobalRoomID}
	for _, f := range h.dir.Friends(userID) {
		snap.Friends = append(snap.Friends, history.FriendDTO{ID: f.ID, Name: f.Name, Avatar: f.Avatar})
		rooms = append(rooms, chat.DirectRoomID(userID, f.ID))
	}
	for _, g := range h.dir.GroupsOf(userID) {
		snap.Groups = append(snap.Groups, history.GroupDTO{ID: g.ID, Name: g.Name, Members: g.Members})
		rooms = append(rooms, chat.RoomID(g.ID))
	}

	for _, room := range rooms {
		if n := h.log.Unread(userID, room); n > 0 {
			snap.UnreadBaseline[string(room)] = n
		}
		if at, ok := h.log.LastActivity(room); ok {
			snap.LastActivity[string(room)] = at
		}
	}
	return snap
}

func (h *Hub) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req history.CreateGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	g, err := h.CreateGroup(req.ID, req.Name, req.Members)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, ErrGroupExists) {
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, history.GroupDTO{ID: g.ID, Name: g.Name, Members: g.Members})
}

func (h *Hub) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := h.DeleteGroup(r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateGroup registers a group and tells its connected members.
func (h *Hub) CreateGroup(id, name string, members []string) (Group, error) {
	if id == "" {
		id = "g-" + uuid.NewString()[:8]
	}
	if err := h.dir.AddGroup(Group{ID: id, Name: name, Members: members}); err != nil {
		return Group{}, err
	}
	g, _ := h.dir.Group(strings.TrimSpace(id))
	log.Printf("Group %s created with %d members", g.ID, len(g.Members))

	h.pushTo(g.Members, protocol.Event{
		Type:         protocol.EventRoomCreated,
		Room:         g.ID,
		RoomKind:     protocol.RoomKindGroup,
		Content:      g.Name,
		Participants: g.Members,
	})
	return g, nil
}

// DeleteGroup removes a group, its messages and subscriptions, and tells
// its connected members.
func (h *Hub) DeleteGroup(id string) error {
	g, err := h.dir.RemoveGroup(id)
	if err != nil {
		return err
	}
	h.log.Drop(chat.RoomID(g.ID))
	h.dropRoom(chat.RoomID(g.ID))
	log.Printf("Group %s removed", g.ID)

	h.pushTo(g.Members, protocol.Event{Type: protocol.EventRoomRemoved, Room: g.ID})
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
