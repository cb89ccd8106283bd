package indexer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFileCursorStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "cursor.json")
	store := NewFileCursorStore(path)
	ctx := context.Background()

	if _, ok, err := store.Load(ctx, "arbitrum"); err != nil || ok {
		t.Fatalf("empty store should have no cursor: %v %v", ok, err)
	}
	if err := store.Save(ctx, "arbitrum", 120); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Save(ctx, "base", 7); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Save(ctx, "arbitrum", 130); err != nil {
		t.Fatalf("save: %v", err)
	}

	reopened := NewFileCursorStore(path)
	block, ok, err := reopened.Load(ctx, "arbitrum")
	if err != nil || !ok || block != 130 {
		t.Fatalf("arbitrum cursor mismatch: %d %v %v", block, ok, err)
	}
	block, ok, err = reopened.Load(ctx, "base")
	if err != nil || !ok || block != 7 {
		t.Fatalf("base cursor mismatch: %d %v %v", block, ok, err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("tmp file should be renamed away: %v", err)
	}
}

func TestFileCursorStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cursor.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, _, err := NewFileCursorStore(path).Load(context.Background(), "arbitrum"); err == nil {
		t.Fatalf("expected parse error")
	}
}

type memoryState map[string]uint64

func (m memoryState) LoadState(_ context.Context, name string) (uint64, bool, error) {
	value, ok := m[name]
	return value, ok, nil
}

func (m memoryState) SaveState(_ context.Context, name string, value uint64) error {
	m[name] = value
	return nil
}

func TestDBCursorStoreNamesStatePerChain(t *testing.T) {
	state := memoryState{}
	store := NewDBCursorStore(state)

	if err := store.Save(context.Background(), "arbitrum", 42); err != nil {
		t.Fatalf("save: %v", err)
	}
	if state["cursor:arbitrum"] != 42 {
		t.Fatalf("state mismatch: %v", state)
	}
	block, ok, err := store.Load(context.Background(), "arbitrum")
	if err != nil || !ok || block != 42 {
		t.Fatalf("load mismatch: %d %v %v", block, ok, err)
	}
}
