package cli

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/omochice/chat-sync/internal/chat"
	"github.com/omochice/chat-sync/internal/config"
	"github.com/omochice/chat-sync/internal/core"
	"github.com/omochice/chat-sync/internal/history"
	"github.com/omochice/chat-sync/internal/store/file"
	"github.com/omochice/chat-sync/internal/store/memory"
	"github.com/omochice/chat-sync/internal/store/sqlite"
	"github.com/omochice/chat-sync/internal/transport/tcp"
	"github.com/omochice/chat-sync/internal/transport/ws"
)

type clientApp struct {
	engine  *core.Engine
	history *history.Client
	closers []io.Closer
}

func (a *clientApp) Close() error {
	a.engine.Disconnect()
	var first error
	for _, c := range a.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func wireClient(ctx context.Context, cfg config.Config) (*clientApp, error) {
	if cfg.User.ID == "" {
		return nil, fmt.Errorf("user id is required: set user.id, CHATSYNC_USER_ID or --user")
	}

	dialer, err := newDialer(cfg.Server.URL, cfg.Timeouts.Connect)
	if err != nil {
		return nil, err
	}
	api, err := history.NewClient(cfg.API.URL, cfg.User.ID)
	if err != nil {
		return nil, fmt.Errorf("wire history client: %w", err)
	}

	app := &clientApp{history: api}
	store, err := newStore(ctx, cfg.Store, app)
	if err != nil {
		return nil, fmt.Errorf("wire unread store: %w", err)
	}

	app.engine = core.New(core.Options{
		Session: &chat.Session{
			UserID:      cfg.User.ID,
			DisplayName: cfg.User.DisplayName(),
			AvatarRef:   cfg.User.Avatar,
		},
		Dialer:         dialer,
		History:        api,
		Store:          store,
		ConnectTimeout: cfg.Timeouts.Connect,
		FetchTimeout:   cfg.Timeouts.Fetch,
	})
	return app, nil
}

// newDialer picks the transport from the URL scheme.
func newDialer(raw string, timeout time.Duration) (core.Dialer, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "ws", "wss":
		return ws.Dialer{URL: raw, Timeout: timeout}, nil
	case "tcp":
		if u.Host == "" {
			return nil, fmt.Errorf("server url %q has no host", raw)
		}
		return tcp.Dialer{Address: u.Host, Timeout: timeout}, nil
	default:
		return nil, fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
}

func newStore(ctx context.Context, cfg config.StoreConfig, app *clientApp) (core.UnreadStore, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return memory.NewStore(), nil
	case config.BackendFile:
		return file.NewStore(cfg.Path), nil
	case config.BackendSQLite:
		path := cfg.Path
		if filepath.Ext(path) == "" {
			path = filepath.Join(path, "unread.db")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
		s, err := sqlite.Open(ctx, path)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, s)
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
