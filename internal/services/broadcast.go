package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/tbourn/instagram-relay-bot/internal/observability"
)

// DefaultBroadcastConcurrency bounds simultaneous sends when none is configured.
const DefaultBroadcastConcurrency = 8

// BroadcastResult summarizes one broadcast run.
type BroadcastResult struct {
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Removed int `json:"removed"`
}

// Broadcaster fans an admin message out to every registered user.
type Broadcaster struct {
	Registry *Registry
	Chat     Messenger
	AdminID  int64

	// Limiter paces sends across all workers; nil means unpaced.
	Limiter *rate.Limiter
	// Concurrency bounds in-flight sends.
	Concurrency int
}

// NewBroadcaster builds a broadcaster. rps <= 0 disables pacing.
func NewBroadcaster(reg *Registry, chat Messenger, adminID int64, rps float64, concurrency int) *Broadcaster {
	b := &Broadcaster{Registry: reg, Chat: chat, AdminID: adminID, Concurrency: concurrency}
	if rps > 0 {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		b.Limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return b
}

// IsAdmin reports whether id is the configured administrator. An unset
// administrator (0) matches nobody.
func (b *Broadcaster) IsAdmin(id int64) bool {
	return b.AdminID != 0 && id == b.AdminID
}

// Broadcast sends text once to every user in the registry snapshot taken at
// the start of the run. Users whose delivery is permanently rejected are
// removed after all sends finish and the registry is persisted once; other
// failures are counted and the user is kept.
//
// ErrUnauthorized and ErrEmptyMessage are returned before any send.
func (b *Broadcaster) Broadcast(ctx context.Context, sender int64, text string) (BroadcastResult, error) {
	if !b.IsAdmin(sender) {
		log.Warn().Int64("user_id", sender).Msg("unauthorized broadcast attempt")
		return BroadcastResult{}, ErrUnauthorized
	}
	if strings.TrimSpace(text) == "" {
		return BroadcastResult{}, ErrEmptyMessage
	}

	ctx, span := observability.Tracer("broadcast").Start(ctx, "broadcast")
	defer span.End()

	recipients := b.Registry.Snapshot()
	start := time.Now()
	log.Info().Int("recipients", len(recipients)).Msg("broadcast started")

	var (
		sent, failed atomic.Int64
		mu           sync.Mutex
		blocked      []int64
	)

	limit := b.Concurrency
	if limit <= 0 {
		limit = DefaultBroadcastConcurrency
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, id := range recipients {
		id := id
		g.Go(func() error {
			if b.Limiter != nil {
				if err := b.Limiter.Wait(gctx); err != nil {
					failed.Add(1)
					observability.BroadcastSends.WithLabelValues("failed").Inc()
					return nil
				}
			}
			_, err := b.Chat.SendText(gctx, id, text)
			switch {
			case err == nil:
				sent.Add(1)
				observability.BroadcastSends.WithLabelValues("sent").Inc()
			case errors.Is(err, ErrRecipientBlocked):
				failed.Add(1)
				observability.BroadcastSends.WithLabelValues("blocked").Inc()
				log.Info().Int64("user_id", id).Msg("broadcast recipient blocked the bot")
				mu.Lock()
				blocked = append(blocked, id)
				mu.Unlock()
			default:
				failed.Add(1)
				observability.BroadcastSends.WithLabelValues("failed").Inc()
				log.Warn().Err(err).Int64("user_id", id).Msg("broadcast send failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	res := BroadcastResult{Sent: int(sent.Load()), Failed: int(failed.Load())}
	for _, id := range blocked {
		if b.Registry.Remove(id) {
			res.Removed++
		}
	}
	if res.Removed > 0 {
		if err := b.Registry.Persist(context.WithoutCancel(ctx)); err != nil {
			log.Error().Err(err).Int("removed", res.Removed).Msg("registry persist after broadcast failed")
		}
	}

	span.SetAttributes(
		attribute.Int("broadcast.recipients", len(recipients)),
		attribute.Int("broadcast.sent", res.Sent),
		attribute.Int("broadcast.failed", res.Failed),
		attribute.Int("broadcast.removed", res.Removed),
	)
	log.Info().
		Int("sent", res.Sent).
		Int("failed", res.Failed).
		Int("removed", res.Removed).
		Dur("latency", time.Since(start)).
		Msg("broadcast finished")
	return res, nil
}
