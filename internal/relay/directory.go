package relay

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/omochice/chat-sync/internal/chat"
	toml "github.com/pelletier/go-toml/v2"
)

var (
	ErrGroupExists   = errors.New("group already exists")
	ErrGroupNotFound = errors.New("group not found")
)

// User is a directory entry.
type User struct {
	ID     string `toml:"id"`
	Name   string `toml:"name"`
	Avatar string `toml:"avatar,omitempty"`
}

// Group is a named room with a fixed member list.
type Group struct {
	ID      string   `toml:"id"`
	Name    string   `toml:"name"`
	Members []string `toml:"members"`
}

func (g Group) Has(userID string) bool {
	return slices.Contains(g.Members, userID)
}

type directoryFile struct {
	Users  []User  `toml:"users"`
	Groups []Group `toml:"groups"`
}

// Directory holds the known users and groups. Users that connect without
// being listed are added on first contact.
type Directory struct {
	mu     sync.RWMutex
	users  map[string]User
	groups map[string]Group
}

func NewDirectory() *Directory {
	return &Directory{
		users:  make(map[string]User),
		groups: make(map[string]Group),
	}
}

// LoadDirectory reads a TOML file with [[users]] and [[groups]] tables.
func LoadDirectory(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read directory file: %w", err)
	}

	var file directoryFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode directory file: %w", err)
	}

	d := NewDirectory()
	for _, u := range file.Users {
		id := strings.TrimSpace(u.ID)
		if id == "" {
			return nil, errors.New("directory user id is empty")
		}
		if _, ok := d.users[id]; ok {
			return nil, fmt.Errorf("duplicate directory user %q", id)
		}
		u.ID = id
		d.users[id] = u
	}
	for _, g := range file.Groups {
		if err := d.AddGroup(g); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Touch records u, filling in a missing name or avatar of a known user.
func (d *Directory) Touch(u User) {
	if u.ID == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	known, ok := d.users[u.ID]
	if !ok {
		d.users[u.ID] = u
		return
	}
	if known.Name == "" {
		known.Name = u.Name
	}
	if known.Avatar == "" {
		known.Avatar = u.Avatar
	}
	d.users[u.ID] = known
}

func (d *Directory) User(id string) (User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	return u, ok
}

// Friends returns every other known user ordered by id.
func (d *Directory) Friends(id string) []User {
	d.mu.RLock()
	defer d.mu.RUnlock()

	friends := make([]User, 0, len(d.users))
	for _, u := range d.users {
		if u.ID != id {
			friends = append(friends, u)
		}
	}
	sort.Slice(friends, func(i, j int) bool { return friends[i].ID < friends[j].ID })
	return friends
}

// DirectPeer returns the other participant of the direct room of userID.
func (d *Directory) DirectPeer(room chat.RoomID, userID string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for id := range d.users {
		if id != userID && chat.DirectRoomID(userID, id) == room {
			return id, true
		}
	}
	return "", false
}

// AddGroup registers g. Duplicate members are dropped.
func (d *Directory) AddGroup(g Group) error {
	g.ID = strings.TrimSpace(g.ID)
	if g.ID == "" {
		return errors.New("group id is empty")
	}
	if chat.RoomID(g.ID) == chat.GlobalRoomID {
		return fmt.Errorf("group id %q is reserved", g.ID)
	}
	if g.Name == "" {
		g.Name = g.ID
	}
	members := make([]string, 0, len(g.Members))
	for _, m := range g.Members {
		if m != "" && !slices.Contains(members, m) {
			members = append(members, m)
		}
	}
	g.Members = members

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.groups[g.ID]; ok {
		return fmt.Errorf("%w: %s", ErrGroupExists, g.ID)
	}
	d.groups[g.ID] = g
	return nil
}

func (d *Directory) RemoveGroup(id string) (Group, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	g, ok := d.groups[id]
	if !ok {
		return Group{}, fmt.Errorf("%w: %s", ErrGroupNotFound, id)
	}
	delete(d.groups, id)
	return g, nil
}

func (d *Directory) Group(id string) (Group, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	g, ok := d.groups[id]
	return g, ok
}

// GroupsOf returns the groups userID belongs to ordered by id.
func (d *Directory) GroupsOf(userID string) []Group {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var groups []Group
	for _, g := range d.groups {
		if g.Has(userID) {
			groups = append(groups, g)
		}
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
	return groups
}
