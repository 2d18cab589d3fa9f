package repo

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/tbourn/instagram-relay-bot/internal/domain"
)

func ids(users []domain.User) []int64 {
	out := make([]int64, 0, len(users))
	for _, u := range users {
		out = append(out, u.ID)
	}
	return out
}

func TestFileUserStore_MissingFileIsEmpty(t *testing.T) {
	s := NewFileUserStore(filepath.Join(t.TempDir(), "user_ids.txt"))
	users, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(users) != 0 {
		t.Fatalf("expected empty, got %v", users)
	}
}

func TestFileUserStore_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "user_ids.txt")
	s := NewFileUserStore(path)
	ctx := context.Background()

	want := []domain.User{{ID: 1}, {ID: 22}, {ID: 333}}
	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	raw, _ := os.ReadFile(path)
	if string(raw) != "1\n22\n333\n" {
		t.Fatalf("file = %q", raw)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(ids(got), []int64{1, 22, 333}) {
		t.Fatalf("ids = %v", ids(got))
	}

	// Overwrite with a smaller set and make sure no temp files linger.
	if err := s.Save(ctx, []domain.User{{ID: 22}}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("expected only the id file, found %d entries", len(entries))
	}
	got, _ = s.Load(ctx)
	if !reflect.DeepEqual(ids(got), []int64{22}) {
		t.Fatalf("ids = %v", ids(got))
	}
}

func TestFileUserStore_SaveEmptyTruncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "user_ids.txt")
	_ = os.WriteFile(path, []byte("1\n2\n"), 0o644)
	s := NewFileUserStore(path)
	if err := s.Save(context.Background(), nil); err != nil {
		t.Fatalf("Save: %v", err)
	}
	raw, _ := os.ReadFile(path)
	if len(raw) != 0 {
		t.Fatalf("file = %q", raw)
	}
}

func TestFileUserStore_SaveIntoMissingDir(t *testing.T) {
	s := NewFileUserStore(filepath.Join(t.TempDir(), "nope", "user_ids.txt"))
	if err := s.Save(context.Background(), []domain.User{{ID: 1}}); err == nil {
		t.Fatal("expected error")
	}
}

func TestDecodeIDs(t *testing.T) {
	got, err := DecodeIDs(strings.NewReader("5\n\n  7 \n5\n"))
	if err != nil {
		t.Fatalf("DecodeIDs: %v", err)
	}
	if !reflect.DeepEqual(got, []int64{5, 7}) {
		t.Fatalf("ids = %v", got)
	}

	_, err = DecodeIDs(strings.NewReader("5\nabc\n"))
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Fatalf("expected line 2 error, got %v", err)
	}
}

func TestFileUserStore_LoadGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "user_ids.txt")
	_ = os.WriteFile(path, []byte("1\nnot-a-number\n"), 0o644)
	if _, err := NewFileUserStore(path).Load(context.Background()); err == nil {
		t.Fatal("expected parse error")
	}
}
