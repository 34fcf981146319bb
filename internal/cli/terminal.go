package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/omochice/chat-sync/internal/chat"
	"github.com/omochice/chat-sync/internal/core"
)

const helpText = `Commands:
  /join <room>              switch to a room
  /dm <user>                switch to the direct room with a user
  /rooms                    list rooms by recent activity with unread counts
  /group <name> [users...]  create a group with you and the given users
  /delgroup <id>            delete a group
  /refresh                  poll unread counts and memberships now
  /reconnect                reconnect to the relay
  /quit                     exit
Anything else is sent to the active room.`

type groupAPI interface {
	CreateGroup(ctx context.Context, name string, members []string) (chat.Room, error)
	DeleteGroup(ctx context.Context, id chat.RoomID) error
}

// terminal is the line-oriented chat UI. It prints the active transcript
// as it grows and turns input lines into engine calls.
type terminal struct {
	engine *core.Engine
	groups groupAPI
	self   string

	mu    sync.Mutex
	out   io.Writer
	room  chat.RoomID
	shown int
}

func newTerminal(engine *core.Engine, groups groupAPI, self string, out io.Writer) *terminal {
	return &terminal{engine: engine, groups: groups, self: self, out: out}
}

// run reads commands from in until /quit, end of input or ctx is done.
func (t *terminal) run(ctx context.Context, in io.Reader) error {
	renderCtx, cancel := context.WithCancel(ctx)
	rendered := make(chan struct{})
	go func() {
		defer close(rendered)
		t.renderLoop(renderCtx)
	}()
	defer func() {
		cancel()
		<-rendered
	}()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-renderCtx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
		close(lines)
	}()

	t.printf("Type a message, or /help for commands")
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return <-scanErr
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			quit, err := t.handle(ctx, line)
			if err != nil {
				t.printf("error: %v", err)
			}
			if quit {
				return nil
			}
			t.render()
		}
	}
}

func (t *terminal) handle(ctx context.Context, line string) (bool, error) {
	if !strings.HasPrefix(line, "/") {
		_, err := t.engine.Send(ctx, "", line)
		if errors.Is(err, chat.ErrNotConnected) {
			return false, fmt.Errorf("%w, try /reconnect", err)
		}
		return false, err
	}

	fields := strings.Fields(line)
	args := fields[1:]
	switch fields[0] {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		t.printf("%s", helpText)
	case "/join":
		if len(args) != 1 {
			return false, errors.New("usage: /join <room>")
		}
		return false, t.engine.SwitchTo(ctx, chat.RoomID(args[0]))
	case "/dm":
		if len(args) != 1 {
			return false, errors.New("usage: /dm <user>")
		}
		return false, t.engine.SwitchTo(ctx, chat.DirectRoomID(t.self, args[0]))
	case "/rooms":
		t.printRooms()
	case "/group":
		if len(args) < 1 {
			return false, errors.New("usage: /group <name> [users...]")
		}
		room, err := t.groups.CreateGroup(ctx, args[0], args[1:])
		if err != nil {
			return false, err
		}
		t.printf("Created group %s (%s)", room.Name, room.ID)
	case "/delgroup":
		if len(args) != 1 {
			return false, errors.New("usage: /delgroup <id>")
		}
		return false, t.groups.DeleteGroup(ctx, chat.RoomID(args[0]))
	case "/refresh":
		return false, t.engine.Refresh(ctx)
	case "/reconnect":
		t.engine.Disconnect()
		return false, t.engine.Connect(ctx)
	default:
		return false, fmt.Errorf("unknown command %s, see /help", fields[0])
	}
	return false, nil
}

func (t *terminal) renderLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.engine.Updates():
			t.render()
		}
	}
}

// render prints the transcript entries not shown yet. A room switch or a
// replaced transcript starts over.
func (t *terminal) render() {
	room := t.engine.ActiveRoom()
	transcript := t.engine.Transcript()

	t.mu.Lock()
	defer t.mu.Unlock()
	if room != t.room || len(transcript) < t.shown {
		t.room = room
		t.shown = 0
		if room != "" {
			fmt.Fprintf(t.out, "== %s ==\n", room)
		}
	}
	for _, msg := range transcript[t.shown:] {
		suffix := ""
		if msg.Pending {
			suffix = " (sending)"
		}
		name := msg.Author.Name
		if name == "" {
			name = msg.Author.ID
		}
		fmt.Fprintf(t.out, "[%s] %s: %s%s\n", msg.CreatedAt.Local().Format("15:04"), name, msg.Content, suffix)
	}
	t.shown = len(transcript)
}

func (t *terminal) printRooms() {
	active := t.engine.ActiveRoom()
	rooms := t.engine.Rooms()

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range rooms {
		marker := " "
		if s.Room.ID == active {
			marker = "*"
		}
		line := fmt.Sprintf("%s %-24s %-6s", marker, s.Room.ID, s.Room.Kind)
		if s.Unread > 0 {
			line += fmt.Sprintf(" %d unread", s.Unread)
		}
		if !s.LastActivity.IsZero() {
			line += " last " + s.LastActivity.Local().Format("15:04")
		}
		fmt.Fprintln(t.out, strings.TrimRight(line, " "))
	}
}

func (t *terminal) stateChanged(s core.State) {
	t.printf("-- %s", s)
}

func (t *terminal) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format+"\n", args...)
}
