package sqlite

import (
	"context"
	"path/filepath"
	"testing"
)

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := New(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if _, ok, err := store.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("missing key: ok=%v err=%v", ok, err)
	}
	if err := store.Set(ctx, "k", "v1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Set(ctx, "k", "v2"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	value, ok, err := store.Get(ctx, "k")
	if err != nil || !ok || value != "v2" {
		t.Fatalf("get: value=%q ok=%v err=%v", value, ok, err)
	}
	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "k"); ok {
		t.Fatal("deleted key still present")
	}
}

func TestStoreListByPrefix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := New(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	entries := map[string]string{
		"cloid:a": "1",
		"cloid:b": "2",
		"ledger":  "3",
	}
	for key, value := range entries {
		if err := store.Set(ctx, key, value); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
	}
	got, err := store.List(ctx, "cloid:")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got["cloid:a"] != "1" || got["cloid:b"] != "2" {
		t.Fatalf("list = %v", got)
	}
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	store, err := New(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	value, ok, err := reopened.Get(ctx, "k")
	if err != nil || !ok || value != "v" {
		t.Fatalf("get after reopen: value=%q ok=%v err=%v", value, ok, err)
	}
}
