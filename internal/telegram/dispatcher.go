package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/tbourn/instagram-relay-bot/internal/domain"
	"github.com/tbourn/instagram-relay-bot/internal/services"
)

// MaxMessageLen is the Bot API limit for one text message.
const MaxMessageLen = 4096

// Reply texts.
const (
	TextWelcome = `Instagram Video Downloader Bot

Welcome! I can help you download Instagram videos.

How to use:
1. Send me an Instagram post, reel or TV link
2. I'll download the video for you
3. Enjoy your video!

Note: I can only download public content. Private posts won't work.

Just send me a link to get started!`

	TextHelp = `/start - Register with the bot
/help - Show help
/broadcast <message> - Send a message to all users (Admin only)
/showusers - Show number of users (Admin only)
/totaldownloads - Show number of delivered videos (Admin only)
/all_users - Show all user IDs and usernames (Admin only)`

	TextInvalidLink    = "Invalid Instagram URL"
	TextUnauthorized   = "Unauthorized."
	TextBroadcastUsage = "Usage: /broadcast <message>"
	TextUnknown        = "Sorry, I didn't understand that command."
	TextNoUsers        = "No registered users."
	TextSendLink       = "Please send an Instagram video link."
)

// Replier is the outbound surface the dispatcher needs on top of
// services.Messenger.
type Replier interface {
	services.Messenger
	Reply(ctx context.Context, chatID int64, replyTo int, text string) error
}

// Dispatcher routes inbound updates to the services.
type Dispatcher struct {
	Chat        Replier
	Registry    *services.Registry
	Pipeline    *services.Pipeline
	Broadcaster *services.Broadcaster

	printer  *message.Printer
	inflight sync.WaitGroup
}

// NewDispatcher wires a dispatcher.
func NewDispatcher(chat Replier, reg *services.Registry, p *services.Pipeline, b *services.Broadcaster) *Dispatcher {
	return &Dispatcher{
		Chat:        chat,
		Registry:    reg,
		Pipeline:    p,
		Broadcaster: b,
		printer:     message.NewPrinter(language.English),
	}
}

// HandleUpdate processes one update. Only messages are handled; every
// message registers its sender before anything else happens.
func (d *Dispatcher) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	msg := upd.Message
	if msg == nil || msg.Chat == nil {
		return
	}
	var senderID int64
	if msg.From != nil {
		senderID = msg.From.ID
		d.Registry.RegisterIfAbsent(ctx, domain.User{ID: msg.From.ID, Username: msg.From.UserName})
	}

	lg := log.With().Int("update_id", upd.UpdateID).Int64("chat_id", msg.Chat.ID).Int64("user_id", senderID).Logger()

	if msg.IsCommand() {
		lg.Debug().Str("command", msg.Command()).Msg("command received")
		d.handleCommand(ctx, msg, senderID)
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		d.reply(ctx, msg, TextSendLink)
		return
	}
	if _, err := d.Pipeline.Submit(ctx, msg.Chat.ID, senderID, msg.MessageID, text); err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidLink):
			lg.Info().Str("text", text).Msg("invalid link")
			d.reply(ctx, msg, TextInvalidLink)
		case errors.Is(err, services.ErrQueueFull):
			lg.Warn().Msg("download queue full")
		default:
			lg.Error().Err(err).Msg("submit failed")
		}
	}
}

func (d *Dispatcher) handleCommand(ctx context.Context, msg *tgbotapi.Message, senderID int64) {
	switch msg.Command() {
	case "start":
		d.reply(ctx, msg, TextWelcome)
	case "help":
		d.reply(ctx, msg, TextHelp)
	case "broadcast":
		d.broadcast(ctx, msg, senderID)
	case "showusers", "users":
		if d.admin(ctx, msg, senderID) {
			d.reply(ctx, msg, d.printer.Sprintf("Total registered users: %d", d.Registry.Size()))
		}
	case "totaldownloads":
		if d.admin(ctx, msg, senderID) {
			d.reply(ctx, msg, d.printer.Sprintf("Total videos downloaded: %d", d.Pipeline.Delivered()))
		}
	case "allusers", "all_users":
		if d.admin(ctx, msg, senderID) {
			d.listUsers(ctx, msg)
		}
	default:
		d.reply(ctx, msg, TextUnknown)
	}
}

func (d *Dispatcher) admin(ctx context.Context, msg *tgbotapi.Message, senderID int64) bool {
	if d.Broadcaster.IsAdmin(senderID) {
		return true
	}
	log.Warn().Int64("user_id", senderID).Str("command", msg.Command()).Msg("unauthorized admin command")
	d.reply(ctx, msg, TextUnauthorized)
	return false
}

// broadcast runs the fan-out on its own goroutine so a long broadcast never
// stalls update handling, and reports the outcome to the admin when done.
func (d *Dispatcher) broadcast(ctx context.Context, msg *tgbotapi.Message, senderID int64) {
	if !d.admin(ctx, msg, senderID) {
		return
	}
	text := strings.TrimSpace(msg.CommandArguments())
	if text == "" {
		d.reply(ctx, msg, TextBroadcastUsage)
		return
	}

	bctx := context.WithoutCancel(ctx)
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		res, err := d.Broadcaster.Broadcast(bctx, senderID, text)
		if err != nil {
			log.Error().Err(err).Msg("broadcast rejected")
			d.reply(bctx, msg, "Broadcast failed: "+err.Error())
			return
		}
		d.reply(bctx, msg, d.printer.Sprintf("Broadcast complete: Sent to %d, Failed for %d.", res.Sent, res.Failed))
	}()
}

func (d *Dispatcher) listUsers(ctx context.Context, msg *tgbotapi.Message) {
	users := d.Registry.Users()
	if len(users) == 0 {
		d.reply(ctx, msg, TextNoUsers)
		return
	}
	lines := make([]string, 0, len(users))
	for _, u := range users {
		lines = append(lines, fmt.Sprintf("%d - %s", u.ID, u.DisplayHandle()))
	}
	for _, chunk := range ChunkLines(lines, MaxMessageLen) {
		d.reply(ctx, msg, chunk)
	}
}

// Wait blocks until background broadcasts started by the dispatcher finish.
func (d *Dispatcher) Wait() { d.inflight.Wait() }

func (d *Dispatcher) reply(ctx context.Context, msg *tgbotapi.Message, text string) {
	if err := d.Chat.Reply(ctx, msg.Chat.ID, msg.MessageID, text); err != nil {
		log.Warn().Err(err).Int64("chat_id", msg.Chat.ID).Msg("reply failed")
	}
}

// ChunkLines joins lines with newlines into messages of at most limit
// bytes. A single line longer than limit is split on rune boundaries.
func ChunkLines(lines []string, limit int) []string {
	var (
		out []string
		b   strings.Builder
	)
	flush := func() {
		if b.Len() > 0 {
			out = append(out, b.String())
			b.Reset()
		}
	}
	for _, line := range lines {
		for len(line) > limit {
			flush()
			cut := limit
			for cut > 0 && !isRuneStart(line[cut]) {
				cut--
			}
			out = append(out, line[:cut])
			line = line[cut:]
		}
		need := len(line)
		if b.Len() > 0 {
			need++
		}
		if b.Len()+need > limit {
			flush()
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}
	flush()
	return out
}

func isRuneStart(c byte) bool { return c&0xC0 != 0x80 }
