package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tbourn/instagram-relay-bot/internal/domain"
)

// ----- Fake messenger -----

type sentText struct {
	ChatID int64
	Text   string
}

type sentVideo struct {
	ChatID  int64
	ReplyTo int
	Size    int
	Caption string
}

type fakeMessenger struct {
	mu sync.Mutex

	nextID  int
	texts   []sentText
	edits   map[domain.MessageRef][]string
	deleted []domain.MessageRef
	videos  []sentVideo

	sendErr   map[int64]error
	sendCalls int
	videoErr  error
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{
		edits:   make(map[domain.MessageRef][]string),
		sendErr: make(map[int64]error),
	}
}

func (m *fakeMessenger) SendText(ctx context.Context, chatID int64, text string) (domain.MessageRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendCalls++
	if err := m.sendErr[chatID]; err != nil {
		return domain.MessageRef{}, err
	}
	m.nextID++
	m.texts = append(m.texts, sentText{ChatID: chatID, Text: text})
	return domain.MessageRef{ChatID: chatID, MessageID: m.nextID}, nil
}

func (m *fakeMessenger) EditText(ctx context.Context, ref domain.MessageRef, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edits[ref] = append(m.edits[ref], text)
	return nil
}

func (m *fakeMessenger) Delete(ctx context.Context, ref domain.MessageRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, ref)
	return nil
}

func (m *fakeMessenger) SendVideo(ctx context.Context, chatID int64, replyTo int, video []byte, caption string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.videoErr != nil {
		return m.videoErr
	}
	m.videos = append(m.videos, sentVideo{ChatID: chatID, ReplyTo: replyTo, Size: len(video), Caption: caption})
	return nil
}

func (m *fakeMessenger) lastEdit(ref domain.MessageRef) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.edits[ref]
	if len(e) == 0 {
		return ""
	}
	return e[len(e)-1]
}

// ----- Fake extractor / fetcher -----

type fakeExtractor struct {
	mu      sync.Mutex
	calls   []string
	results map[string]domain.ExtractionResult
	panicOn string
}

func (e *fakeExtractor) Extract(ctx context.Context, url string) domain.ExtractionResult {
	e.mu.Lock()
	e.calls = append(e.calls, url)
	e.mu.Unlock()
	if url == e.panicOn {
		panic("extractor exploded")
	}
	if r, ok := e.results[url]; ok {
		return r
	}
	return domain.Resolved("https://cdn.example/" + url[len(url)-3:] + ".mp4")
}

func (e *fakeExtractor) callOrder() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

type fakeFetcher struct {
	body []byte
	err  error
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.body != nil {
		return f.body, nil
	}
	return []byte("video:" + url), nil
}

// ----- Fake store / backup -----

type fakeStore struct {
	mu      sync.Mutex
	saves   int
	saved   []domain.User
	loaded  []domain.User
	saveErr error
	loadErr error
}

func (s *fakeStore) Load(ctx context.Context) ([]domain.User, error) {
	return s.loaded, s.loadErr
}

func (s *fakeStore) Save(ctx context.Context, users []domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append([]domain.User(nil), users...)
	return nil
}

func (s *fakeStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func (s *fakeStore) savedIDs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.saved))
	for _, u := range s.saved {
		ids = append(ids, u.ID)
	}
	return ids
}

type fakeBackup struct {
	mu    sync.Mutex
	runs  int
	sizes []int
	err   error

	// firstDelay stalls the first call before it records anything.
	firstDelay time.Duration
	started    int
}

func (b *fakeBackup) Backup(ctx context.Context, users []domain.User) error {
	b.mu.Lock()
	b.started++
	first := b.started == 1
	b.mu.Unlock()
	if first && b.firstDelay > 0 {
		time.Sleep(b.firstDelay)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.runs++
	b.sizes = append(b.sizes, len(users))
	return b.err
}

func (b *fakeBackup) written() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int(nil), b.sizes...)
}

var errBoom = errors.New("boom")

func blockedErr(id int64) error {
	return fmt.Errorf("%w: chat %d", ErrRecipientBlocked, id)
}
