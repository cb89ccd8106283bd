package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// CursorStore persists the last fully processed block per chain.
type CursorStore interface {
	Load(ctx context.Context, chain string) (uint64, bool, error)
	Save(ctx context.Context, chain string, block uint64) error
}

// Cursor is the progress recorded for one chain.
type Cursor struct {
	LastProcessedBlock uint64 `json:"last_processed_block"`
	UpdatedAt          string `json:"updated_at"`
}

type cursorFile struct {
	Chains map[string]Cursor `json:"chains"`
}

// FileCursorStore keeps every chain's cursor in one JSON file.
type FileCursorStore struct {
	path string
	mu   sync.Mutex
}

func NewFileCursorStore(path string) *FileCursorStore {
	return &FileCursorStore{path: path}
}

func (c *FileCursorStore) Load(_ context.Context, chain string) (uint64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	file, err := c.read()
	if err != nil {
		return 0, false, err
	}
	cursor, ok := file.Chains[chain]
	if !ok {
		return 0, false, nil
	}
	return cursor.LastProcessedBlock, true, nil
}

func (c *FileCursorStore) Save(_ context.Context, chain string, block uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	file, err := c.read()
	if err != nil {
		return err
	}
	file.Chains[chain] = Cursor{
		LastProcessedBlock: block,
		UpdatedAt:          time.Now().UTC().Format(time.RFC3339Nano),
	}

	dir := filepath.Dir(c.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create cursor dir: %w", err)
		}
	}

	data, err := json.Marshal(file)
	if err != nil {
		return fmt.Errorf("marshal cursor: %w", err)
	}

	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write cursor tmp: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		return fmt.Errorf("rename cursor: %w", err)
	}
	return nil
}

func (c *FileCursorStore) read() (cursorFile, error) {
	file := cursorFile{Chains: make(map[string]Cursor)}

	stat, err := os.Stat(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return file, nil
		}
		return file, fmt.Errorf("stat cursor: %w", err)
	}
	if stat.IsDir() {
		return file, fmt.Errorf("cursor path is a directory")
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		return file, fmt.Errorf("read cursor: %w", err)
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return file, fmt.Errorf("parse cursor: %w", err)
	}
	if file.Chains == nil {
		file.Chains = make(map[string]Cursor)
	}
	return file, nil
}

// StateStore is the named-value persistence offered by the Postgres store.
type StateStore interface {
	LoadState(ctx context.Context, name string) (uint64, bool, error)
	SaveState(ctx context.Context, name string, value uint64) error
}

// DBCursorStore keeps cursors in a StateStore under "cursor:<chain>".
type DBCursorStore struct {
	store StateStore
}

func NewDBCursorStore(store StateStore) *DBCursorStore {
	return &DBCursorStore{store: store}
}

func (c *DBCursorStore) Load(ctx context.Context, chain string) (uint64, bool, error) {
	return c.store.LoadState(ctx, cursorStateName(chain))
}

func (c *DBCursorStore) Save(ctx context.Context, chain string, block uint64) error {
	return c.store.SaveState(ctx, cursorStateName(chain), block)
}

func cursorStateName(chain string) string {
	return "cursor:" + chain
}
