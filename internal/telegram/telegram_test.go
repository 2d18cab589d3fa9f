package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/instagram-relay-bot/internal/domain"
	"github.com/tbourn/instagram-relay-bot/internal/repo"
	"github.com/tbourn/instagram-relay-bot/internal/services"
)

const testAdmin int64 = 1

type apiCall struct {
	Method string
	Form   url.Values
}

// fakeBotAPI answers the handful of Bot API methods the adapter uses.
type fakeBotAPI struct {
	mu      sync.Mutex
	calls   []apiCall
	blocked map[int64]bool
	nextID  int
	polled  bool
}

func (f *fakeBotAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	method := path.Base(r.URL.Path)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		_ = r.ParseMultipartForm(32 << 20)
	} else {
		_ = r.ParseForm()
	}

	f.mu.Lock()
	f.calls = append(f.calls, apiCall{Method: method, Form: r.Form})
	f.nextID++
	id := f.nextID
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	chatID, _ := strconv.ParseInt(r.FormValue("chat_id"), 10, 64)
	switch method {
	case "getMe":
		fmt.Fprint(w, `{"ok":true,"result":{"id":999,"is_bot":true,"first_name":"Relay","username":"relaybot"}}`)
	case "sendMessage", "sendVideo":
		f.mu.Lock()
		blocked := f.blocked[chatID]
		f.mu.Unlock()
		if blocked {
			fmt.Fprint(w, `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`)
			return
		}
		if chatID == 400 {
			fmt.Fprint(w, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`)
			return
		}
		fmt.Fprintf(w, `{"ok":true,"result":{"message_id":%d,"chat":{"id":%d,"type":"private"}}}`, id, chatID)
	case "getUpdates":
		f.mu.Lock()
		first := !f.polled
		f.polled = true
		f.mu.Unlock()
		if first {
			fmt.Fprint(w, `{"ok":true,"result":[{"update_id":7,"message":{"message_id":1,"chat":{"id":5,"type":"private"},"text":"hi"}}]}`)
			return
		}
		fmt.Fprint(w, `{"ok":true,"result":[]}`)
	default:
		fmt.Fprint(w, `{"ok":true,"result":true}`)
	}
}

func (f *fakeBotAPI) byMethod(method string) []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []apiCall
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeBotAPI) textsTo(chatID int64) []string {
	var out []string
	for _, c := range f.byMethod("sendMessage") {
		if c.Form.Get("chat_id") == strconv.FormatInt(chatID, 10) {
			out = append(out, c.Form.Get("text"))
		}
	}
	return out
}

func newTestBot(t *testing.T) (*tgbotapi.BotAPI, *fakeBotAPI) {
	t.Helper()
	api := &fakeBotAPI{blocked: map[int64]bool{}}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	bot, err := tgbotapi.NewBotAPIWithClient("TOKEN", srv.URL+"/bot%s/%s", srv.Client())
	require.NoError(t, err)
	return bot, api
}

type harness struct {
	api      *fakeBotAPI
	chat     *Messenger
	registry *services.Registry
	pipeline *services.Pipeline
	disp     *Dispatcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	bot, api := newTestBot(t)
	chat := NewMessenger(bot)
	reg := services.NewRegistry(repo.NewFileUserStore(filepath.Join(t.TempDir(), "user_ids.txt")), nil)
	p := services.NewPipeline(services.NewQueue(0), nil, nil, chat)
	b := services.NewBroadcaster(reg, chat, testAdmin, 0, 4)
	return &harness{api: api, chat: chat, registry: reg, pipeline: p, disp: NewDispatcher(chat, reg, p, b)}
}

func textUpdate(from int64, username, text string) tgbotapi.Update {
	msg := &tgbotapi.Message{
		MessageID: 77,
		From:      &tgbotapi.User{ID: from, UserName: username},
		Chat:      &tgbotapi.Chat{ID: from, Type: "private"},
		Text:      text,
	}
	if strings.HasPrefix(text, "/") {
		cmd := strings.SplitN(text, " ", 2)[0]
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}}
	}
	return tgbotapi.Update{UpdateID: 1, Message: msg}
}

// ----- Messenger -----

func TestMessenger_TextLifecycle(t *testing.T) {
	bot, api := newTestBot(t)
	m := NewMessenger(bot)
	ctx := context.Background()

	ref, err := m.SendText(ctx, 42, "hello")
	require.NoError(t, err)
	assert.Equal(t, int64(42), ref.ChatID)
	assert.NotZero(t, ref.MessageID)

	require.NoError(t, m.EditText(ctx, ref, "edited"))
	require.NoError(t, m.Delete(ctx, ref))

	edits := api.byMethod("editMessageText")
	require.Len(t, edits, 1)
	assert.Equal(t, "edited", edits[0].Form.Get("text"))
	assert.Equal(t, strconv.Itoa(ref.MessageID), edits[0].Form.Get("message_id"))
	assert.Len(t, api.byMethod("deleteMessage"), 1)
}

func TestMessenger_SendVideoUploadsAsReply(t *testing.T) {
	bot, api := newTestBot(t)
	m := NewMessenger(bot)

	require.NoError(t, m.SendVideo(context.Background(), 42, 7, []byte("mp4-bytes"), "done"))

	calls := api.byMethod("sendVideo")
	require.Len(t, calls, 1)
	assert.Equal(t, "done", calls[0].Form.Get("caption"))
	assert.Equal(t, "7", calls[0].Form.Get("reply_to_message_id"))
}

func TestMessenger_BlockedIsClassified(t *testing.T) {
	bot, api := newTestBot(t)
	api.blocked[13] = true
	m := NewMessenger(bot)

	_, err := m.SendText(context.Background(), 13, "hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrRecipientBlocked)

	_, err = m.SendText(context.Background(), 400, "hi")
	require.Error(t, err)
	assert.NotErrorIs(t, err, services.ErrRecipientBlocked)
}

func TestMessenger_CancelledContext(t *testing.T) {
	bot, api := newTestBot(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMessenger(bot).SendText(ctx, 1, "x")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, api.byMethod("sendMessage"))
}

func TestIsBlocked(t *testing.T) {
	assert.True(t, IsBlocked(&tgbotapi.Error{Code: 403, Message: "Forbidden"}))
	assert.True(t, IsBlocked(tgbotapi.Error{Code: 400, Message: "Forbidden: user is deactivated"}))
	assert.True(t, IsBlocked(fmt.Errorf("wrapped: %w", &tgbotapi.Error{Code: 403})))
	assert.False(t, IsBlocked(&tgbotapi.Error{Code: 429, Message: "Too Many Requests"}))
	assert.False(t, IsBlocked(errors.New("Forbidden")))
}

// ----- Dispatcher -----

func TestDispatcher_StartRegistersAndWelcomes(t *testing.T) {
	h := newHarness(t)
	h.disp.HandleUpdate(context.Background(), textUpdate(5, "ann", "/start"))

	assert.True(t, h.registry.Contains(5))
	assert.Equal(t, []string{TextWelcome}, h.api.textsTo(5))

	// A second /start does not register twice.
	h.disp.HandleUpdate(context.Background(), textUpdate(5, "ann", "/start"))
	assert.Equal(t, 1, h.registry.Size())
}

func TestDispatcher_AdminCommands(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.disp.HandleUpdate(ctx, textUpdate(5, "ann", "/showusers"))
	assert.Equal(t, []string{TextUnauthorized}, h.api.textsTo(5))

	h.disp.HandleUpdate(ctx, textUpdate(testAdmin, "boss", "/showusers"))
	h.disp.HandleUpdate(ctx, textUpdate(testAdmin, "boss", "/totaldownloads"))
	h.disp.HandleUpdate(ctx, textUpdate(testAdmin, "", "/allusers"))
	assert.Equal(t, []string{
		"Total registered users: 2",
		"Total videos downloaded: 0",
		"1 - @boss\n5 - @ann",
	}, h.api.textsTo(testAdmin))
}

func TestDispatcher_HelpListsAllUsersCommand(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.disp.HandleUpdate(ctx, textUpdate(5, "ann", "/help"))
	require.Equal(t, []string{TextHelp}, h.api.textsTo(5))
	assert.Contains(t, TextHelp, "/all_users ")
	assert.NotContains(t, TextHelp, "/allusers")

	// The advertised spelling and the short alias both list users.
	h.disp.HandleUpdate(ctx, textUpdate(testAdmin, "", "/all_users"))
	h.disp.HandleUpdate(ctx, textUpdate(testAdmin, "", "/allusers"))
	assert.Equal(t, []string{"1 - N/A\n5 - @ann", "1 - N/A\n5 - @ann"}, h.api.textsTo(testAdmin))
}

func TestDispatcher_BroadcastEvictsBlocked(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, id := range []int64{10, 20, 30} {
		h.registry.RegisterIfAbsent(ctx, domain.User{ID: id})
	}
	h.api.blocked[20] = true

	h.disp.HandleUpdate(ctx, textUpdate(testAdmin, "boss", "/broadcast maintenance tonight"))
	h.disp.Wait()

	// Recipients: 1 (the admin), 10, 20, 30.
	admin := h.api.textsTo(testAdmin)
	require.NotEmpty(t, admin)
	assert.Equal(t, "Broadcast complete: Sent to 3, Failed for 1.", admin[len(admin)-1])
	assert.Equal(t, []string{"maintenance tonight"}, h.api.textsTo(10))
	assert.False(t, h.registry.Contains(20))
	assert.Equal(t, 3, h.registry.Size())
}

func TestDispatcher_BroadcastUsageAndAuth(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.disp.HandleUpdate(ctx, textUpdate(testAdmin, "boss", "/broadcast"))
	h.disp.HandleUpdate(ctx, textUpdate(5, "ann", "/broadcast hi all"))
	h.disp.Wait()

	assert.Equal(t, []string{TextBroadcastUsage}, h.api.textsTo(testAdmin))
	assert.Equal(t, []string{TextUnauthorized}, h.api.textsTo(5))
}

func TestDispatcher_LinksAndText(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.disp.HandleUpdate(ctx, textUpdate(5, "ann", "not a link"))
	assert.Equal(t, []string{TextInvalidLink}, h.api.textsTo(5))
	assert.Equal(t, 0, h.pipeline.QueueDepth())

	h.disp.HandleUpdate(ctx, textUpdate(5, "ann", "  https://www.instagram.com/reel/Cx1_-a/  "))
	assert.Equal(t, []string{TextInvalidLink, services.TextProcessing}, h.api.textsTo(5))
	assert.Equal(t, 1, h.pipeline.QueueDepth())

	h.disp.HandleUpdate(ctx, textUpdate(5, "ann", "/dance"))
	texts := h.api.textsTo(5)
	assert.Equal(t, TextUnknown, texts[len(texts)-1])
}

func TestDispatcher_IgnoresNonMessageUpdates(t *testing.T) {
	h := newHarness(t)
	h.disp.HandleUpdate(context.Background(), tgbotapi.Update{UpdateID: 3})
	assert.Empty(t, h.api.byMethod("sendMessage"))
	assert.Equal(t, 0, h.registry.Size())
}

func TestChunkLines(t *testing.T) {
	assert.Nil(t, ChunkLines(nil, 10))
	assert.Equal(t, []string{"aaa\nbbb", "ccc"}, ChunkLines([]string{"aaa", "bbb", "ccc"}, 7))
	assert.Equal(t, []string{"abcd", "ef"}, ChunkLines([]string{"abcdef"}, 4))

	// Multi-byte runes are never split.
	got := ChunkLines([]string{"ééé"}, 3)
	for _, c := range got {
		assert.True(t, len(c) <= 3)
		assert.True(t, strings.ToValidUTF8(c, "?") == c, "chunk %q is not valid UTF-8", c)
	}
	assert.Equal(t, "ééé", strings.Join(got, ""))
}

// ----- Webhook -----

type recordingHandler struct {
	mu   sync.Mutex
	seen []int
}

func (r *recordingHandler) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, upd.UpdateID)
}

func TestWebhookHandler(t *testing.T) {
	rec := &recordingHandler{}
	r := ginTestEngine()
	r.POST("/telegram/webhook/:secret", WebhookHandler(rec, "s3cret"))

	body, _ := json.Marshal(tgbotapi.Update{UpdateID: 42})
	do := func(path, hdr, payload string) int {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		if hdr != "" {
			req.Header.Set(SecretHeader, hdr)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusNotFound, do("/telegram/webhook/wrong", "", string(body)))
	assert.Equal(t, http.StatusUnauthorized, do("/telegram/webhook/s3cret", "nope", string(body)))
	assert.Equal(t, http.StatusBadRequest, do("/telegram/webhook/s3cret", "", "{"))
	assert.Equal(t, http.StatusOK, do("/telegram/webhook/s3cret", "s3cret", string(body)))
	assert.Equal(t, []int{42}, rec.seen)
}

func TestWebhookHandler_EmptySecretRejectsAll(t *testing.T) {
	r := ginTestEngine()
	r.POST("/telegram/webhook/:secret", WebhookHandler(&recordingHandler{}, ""))
	req := httptest.NewRequest(http.MethodPost, "/telegram/webhook/x", strings.NewReader("{}"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSetAndDeleteWebhook(t *testing.T) {
	bot, api := newTestBot(t)
	require.NoError(t, SetWebhook(bot, "https://bot.example/telegram/webhook/abc", "abc"))
	require.NoError(t, DeleteWebhook(bot))

	set := api.byMethod("setWebhook")
	require.Len(t, set, 1)
	assert.Equal(t, "abc", set[0].Form.Get("secret_token"))
	assert.Len(t, api.byMethod("deleteWebhook"), 1)
	assert.Equal(t, "https://bot.example/telegram/webhook/***", redactURL("https://bot.example/telegram/webhook/abc", "abc"))
}

func TestPoll_DeliversUpdatesUntilCancelled(t *testing.T) {
	bot, api := newTestBot(t)
	rec := &recordingHandler{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- Poll(ctx, bot, rec, 0) }()

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.seen) == 1
	}, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Poll did not return after cancel")
	}
	assert.Equal(t, []int{7}, rec.seen)
	assert.Len(t, api.byMethod("deleteWebhook"), 1)
}
