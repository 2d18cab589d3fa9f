package repo

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tbourn/instagram-relay-bot/internal/domain"
)

// FileUserStore keeps the registry as one decimal id per line.
//
// Saves write a sibling temp file, fsync it, and rename it over the target,
// so a reader never observes a half-written file.
type FileUserStore struct {
	Path string
}

// NewFileUserStore returns a store for path. The file need not exist.
func NewFileUserStore(path string) *FileUserStore {
	return &FileUserStore{Path: path}
}

// Load reads the id file. A missing file is an empty registry.
func (s *FileUserStore) Load(ctx context.Context) ([]domain.User, error) {
	f, err := os.Open(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return []domain.User{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ids, err := DecodeIDs(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.Path, err)
	}
	users := make([]domain.User, 0, len(ids))
	for _, id := range ids {
		users = append(users, domain.User{ID: id})
	}
	return users, nil
}

// Save atomically replaces the id file with users.
func (s *FileUserStore) Save(ctx context.Context, users []domain.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Dir(s.Path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.Path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(EncodeIDs(users)); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, s.Path); err != nil {
		cleanup()
		return err
	}
	return nil
}

// EncodeIDs renders users as newline-terminated decimal ids.
func EncodeIDs(users []domain.User) []byte {
	var buf bytes.Buffer
	for _, u := range users {
		buf.WriteString(strconv.FormatInt(u.ID, 10))
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// DecodeIDs parses one id per line, skipping blank lines and duplicates.
// Any other malformed line is an error.
func DecodeIDs(r io.Reader) ([]int64, error) {
	var (
		ids  []int64
		seen = make(map[int64]struct{})
		line int
	)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		id, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid user id %q", line, text)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}
