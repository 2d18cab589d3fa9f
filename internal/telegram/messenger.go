// Package telegram adapts the Telegram Bot API to the relay bot's services:
// an outbound Messenger, an inbound update Dispatcher, and the two ways of
// receiving updates (long polling and a gin webhook endpoint).
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tbourn/instagram-relay-bot/internal/domain"
	"github.com/tbourn/instagram-relay-bot/internal/services"
)

// VideoFileName is the upload name given to relayed videos.
const VideoFileName = "video.mp4"

// Messenger sends, edits and deletes messages through a BotAPI.
//
// The underlying client is not context-aware; ctx is checked before each
// call and the HTTP client timeout bounds the call itself.
type Messenger struct {
	Bot *tgbotapi.BotAPI
}

var _ services.Messenger = (*Messenger)(nil)

// NewMessenger wraps bot.
func NewMessenger(bot *tgbotapi.BotAPI) *Messenger {
	return &Messenger{Bot: bot}
}

// SendText posts text to chatID.
func (m *Messenger) SendText(ctx context.Context, chatID int64, text string) (domain.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return domain.MessageRef{}, err
	}
	sent, err := m.Bot.Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		return domain.MessageRef{}, classify(err, chatID)
	}
	return domain.MessageRef{ChatID: sent.Chat.ID, MessageID: sent.MessageID}, nil
}

// Reply posts text to chatID as a reply to message replyTo.
func (m *Messenger) Reply(ctx context.Context, chatID int64, replyTo int, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyToMessageID = replyTo
	if _, err := m.Bot.Send(msg); err != nil {
		return classify(err, chatID)
	}
	return nil
}

// EditText replaces the text of ref.
func (m *Messenger) EditText(ctx context.Context, ref domain.MessageRef, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := m.Bot.Request(tgbotapi.NewEditMessageText(ref.ChatID, ref.MessageID, text)); err != nil {
		return classify(err, ref.ChatID)
	}
	return nil
}

// Delete removes ref.
func (m *Messenger) Delete(ctx context.Context, ref domain.MessageRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := m.Bot.Request(tgbotapi.NewDeleteMessage(ref.ChatID, ref.MessageID)); err != nil {
		return classify(err, ref.ChatID)
	}
	return nil
}

// SendVideo uploads video to chatID, replying to replyTo when it is non-zero.
func (m *Messenger) SendVideo(ctx context.Context, chatID int64, replyTo int, video []byte, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v := tgbotapi.NewVideo(chatID, tgbotapi.FileBytes{Name: VideoFileName, Bytes: video})
	v.Caption = caption
	v.ReplyToMessageID = replyTo
	v.SupportsStreaming = true
	if _, err := m.Bot.Send(v); err != nil {
		return classify(err, chatID)
	}
	return nil
}

// classify wraps permanent recipient rejections with
// services.ErrRecipientBlocked.
func classify(err error, chatID int64) error {
	if IsBlocked(err) {
		return fmt.Errorf("%w: chat %d: %v", services.ErrRecipientBlocked, chatID, err)
	}
	return err
}

// IsBlocked reports whether err is the Bot API's "Forbidden" answer: the user
// blocked the bot, deleted their account, or never started a chat.
func IsBlocked(err error) bool {
	var pe *tgbotapi.Error
	if errors.As(err, &pe) {
		return forbidden(pe.Code, pe.Message)
	}
	var ve tgbotapi.Error
	if errors.As(err, &ve) {
		return forbidden(ve.Code, ve.Message)
	}
	return false
}

func forbidden(code int, msg string) bool {
	if code == http.StatusForbidden {
		return true
	}
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "bot was blocked") || strings.Contains(lower, "user is deactivated")
}
