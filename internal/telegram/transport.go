package telegram

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// SecretHeader is the header Telegram echoes back when a webhook was
// registered with a secret token.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// UpdateHandler consumes one update.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, upd tgbotapi.Update)
}

// Poll long-polls getUpdates and hands each update to h in order until ctx
// is cancelled.
func Poll(ctx context.Context, bot *tgbotapi.BotAPI, h UpdateHandler, timeoutSec int) error {
	// A webhook left over from a previous deployment makes getUpdates fail.
	if _, err := bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = timeoutSec
	updates := bot.GetUpdatesChan(u)
	log.Info().Str("bot", bot.Self.UserName).Msg("polling for updates")

	for {
		select {
		case <-ctx.Done():
			bot.StopReceivingUpdates()
			log.Info().Msg("polling stopped")
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			h.HandleUpdate(ctx, upd)
		}
	}
}

// SetWebhook registers url with Telegram. secret, when set, is echoed in
// SecretHeader on every delivery.
func SetWebhook(bot *tgbotapi.BotAPI, url, secret string) error {
	params := tgbotapi.Params{"url": url}
	if secret != "" {
		params["secret_token"] = secret
	}
	if _, err := bot.MakeRequest("setWebhook", params); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	log.Info().Str("url", redactURL(url, secret)).Msg("webhook registered")
	return nil
}

// DeleteWebhook removes any registered webhook.
func DeleteWebhook(bot *tgbotapi.BotAPI) error {
	if _, err := bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	return nil
}

// WebhookHandler serves POST /telegram/webhook/:secret. Requests whose path
// secret does not match get 404 so the endpoint is not discoverable. When
// the secret header is present it must match too.
func WebhookHandler(h UpdateHandler, secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !secretEqual(c.Param("secret"), secret) {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}
		if hdr := c.GetHeader(SecretHeader); hdr != "" && !secretEqual(hdr, secret) {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		var upd tgbotapi.Update
		if err := c.ShouldBindJSON(&upd); err != nil {
			log.Warn().Err(err).Msg("malformed webhook update")
			c.AbortWithStatus(http.StatusBadRequest)
			return
		}
		h.HandleUpdate(c.Request.Context(), upd)
		c.Status(http.StatusOK)
	}
}

func secretEqual(got, want string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func redactURL(url, secret string) string {
	if secret == "" {
		return url
	}
	return strings.ReplaceAll(url, secret, strings.Repeat("*", len(secret)))
}
