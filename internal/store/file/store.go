// Package file persists unread counts as one TOML document per user.
package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/omochice/chat-sync/internal/chat"
	"github.com/omochice/chat-sync/internal/core"
	toml "github.com/pelletier/go-toml/v2"
)

const (
	storeDirMode    = 0o700
	unreadFileMode  = 0o600
	fileExtension   = ".toml"
	tempFilePattern = ".unread-*.toml.tmp"
)

type unreadSchema struct {
	User   string         `toml:"user"`
	Unread map[string]int `toml:"unread"`
}

type Store struct {
	root string
	mu   sync.RWMutex
}

var _ core.UnreadStore = (*Store)(nil)

func NewStore(root string) *Store {
	return &Store{root: filepath.Clean(root)}
}

func (s *Store) LoadUnread(ctx context.Context, userID string) (map[chat.RoomID]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := s.pathForUser(userID)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[chat.RoomID]int)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return counts, nil
		}
		return nil, fmt.Errorf("read unread file for %q: %w", userID, err)
	}

	var doc unreadSchema
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode unread file for %q: %w", userID, err)
	}
	for room, n := range doc.Unread {
		counts[chat.RoomID(room)] = n
	}
	return counts, nil
}

func (s *Store) SaveUnread(ctx context.Context, userID string, counts map[chat.RoomID]int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := s.pathForUser(userID)
	if err != nil {
		return err
	}

	doc := unreadSchema{User: userID, Unread: make(map[string]int, len(counts))}
	for room, n := range counts {
		doc.Unread[string(room)] = n
	}
	data, err := toml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode unread file for %q: %w", userID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.root, storeDirMode); err != nil {
		return fmt.Errorf("create unread directory: %w", err)
	}
	return writeAtomic(path, data)
}

func writeAtomic(path string, data []byte) error {
	tempFile, err := os.CreateTemp(filepath.Dir(path), tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp unread file: %w", err)
	}

	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp unread file: %w", err)
	}
	if err := tempFile.Chmod(unreadFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp unread file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp unread file: %w", err)
	}
	if err := os.Rename(tempName, path); err != nil {
		return fmt.Errorf("replace unread file: %w", err)
	}

	cleanup = false
	return nil
}

func (s *Store) pathForUser(userID string) (string, error) {
	trimmed := strings.TrimSpace(userID)
	if trimmed == "" {
		return "", errors.New("user id is empty")
	}
	if strings.ContainsAny(trimmed, `/\`) || trimmed == "." || trimmed == ".." {
		return "", fmt.Errorf("invalid user id %q", userID)
	}
	return filepath.Join(s.root, trimmed+fileExtension), nil
}
