package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"llmcouncil/internal/core"
	"llmcouncil/internal/util"
)

const conversationFileExt = ".json"

// FileConversationStore keeps one JSON file per conversation in a directory.
type FileConversationStore struct {
	dir string
	mu  sync.RWMutex
}

// NewFileConversationStore creates dir if needed.
func NewFileConversationStore(dir string) (*FileConversationStore, error) {
	if dir == "" {
		dir = core.DefaultDataDir
	}
	if err := os.MkdirAll(dir, core.DirPermission); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", dir, err)
	}
	return &FileConversationStore{dir: dir}, nil
}

func (fs *FileConversationStore) path(id string) (string, error) {
	if err := validateID(id); err != nil {
		return "", err
	}
	return filepath.Join(fs.dir, id+conversationFileExt), nil
}

func (fs *FileConversationStore) CreateConversation(ctx context.Context, conv *core.Conversation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := fs.path(conv.ID)
	if err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", core.ErrConversationExists, conv.ID)
	}
	return fs.write(path, conv)
}

func (fs *FileConversationStore) GetConversation(ctx context.Context, id string) (*core.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := fs.path(id)
	if err != nil {
		return nil, err
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	return readConversation(path, id)
}

func (fs *FileConversationStore) ListConversations(ctx context.Context) ([]core.ConversationMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	result := make([]core.ConversationMetadata, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, conversationFileExt) {
			continue
		}
		id := strings.TrimSuffix(name, conversationFileExt)
		conv, err := readConversation(filepath.Join(fs.dir, name), id)
		if err != nil {
			// A single unreadable file must not hide the rest.
			continue
		}
		result = append(result, conv.Metadata())
	}
	sortNewestFirst(result)
	return result, nil
}

func (fs *FileConversationStore) SaveConversation(ctx context.Context, conv *core.Conversation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := fs.path(conv.ID)
	if err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	return fs.write(path, conv)
}

func (fs *FileConversationStore) DeleteConversation(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := fs.path(id)
	if err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", core.ErrConversationNotFound, id)
		}
		return fmt.Errorf("delete conversation %s: %w", id, err)
	}
	return nil
}

func (fs *FileConversationStore) Close() error {
	return nil
}

func (fs *FileConversationStore) write(path string, conv *core.Conversation) error {
	data, err := util.MarshalJSONIndent(conv)
	if err != nil {
		return fmt.Errorf("marshal conversation %s: %w", conv.ID, err)
	}
	return writeFileAtomic(path, data)
}

func readConversation(path, id string) (*core.Conversation, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: id validated by validateID
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", core.ErrConversationNotFound, id)
		}
		return nil, fmt.Errorf("read conversation %s: %w", id, err)
	}
	var conv core.Conversation
	if err := util.UnmarshalJSON(data, &conv); err != nil {
		return nil, fmt.Errorf("decode conversation %s: %w", id, err)
	}
	return &conv, nil
}

// writeFileAtomic writes data to a temp file next to path and renames it
// into place so readers never observe a partial file.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, core.FilePermissionReadWrite); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// validateID accepts ids made of letters, digits, '-' and '_' only.
func validateID(id string) error {
	if id == "" || len(id) > 128 {
		return fmt.Errorf("%w: %q", core.ErrInvalidConversation, id)
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return fmt.Errorf("%w: %q", core.ErrInvalidConversation, id)
		}
	}
	return nil
}

func sortNewestFirst(list []core.ConversationMetadata) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
}
