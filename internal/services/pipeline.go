// Package services – Pipeline
//
// This file implements the download pipeline: a single FIFO queue drained by
// exactly one worker. Each request moves through
//
//	Queued → Extracting → Fetching → Delivered
//
// or ends in Failed from Extracting or Fetching. One request is in flight at
// a time, so the extraction API and the outbound chat connection never see
// concurrent calls from the worker.
//
// Every terminal path, including a recovered panic, acknowledges its queue
// slot, so Queue.Outstanding and Queue.Join stay accurate.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/instagram-relay-bot/internal/domain"
	"github.com/tbourn/instagram-relay-bot/internal/extract"
	"github.com/tbourn/instagram-relay-bot/internal/fetch"
	"github.com/tbourn/instagram-relay-bot/internal/observability"
)

// Status texts shown in the placeholder message.
const (
	TextProcessing     = "Processing your request..."
	TextDownloading    = "Downloading video..."
	TextFetchFailed    = "Could not download the video. It may be too large or temporarily unavailable."
	TextDeliveryFailed = "Could not send the video. Telegram rejected the upload."
	TextUnexpected     = "An unexpected error occurred."
	TextQueueFull      = "The bot is busy right now. Please try again in a few minutes."
	CaptionDelivered   = "Video downloaded successfully!"
)

// Messenger is the slice of the chat transport the services need.
type Messenger interface {
	// SendText posts a new message and returns a handle to it.
	SendText(ctx context.Context, chatID int64, text string) (domain.MessageRef, error)
	// EditText replaces the text of a message previously sent by the bot.
	EditText(ctx context.Context, ref domain.MessageRef, text string) error
	// Delete removes a message previously sent by the bot.
	Delete(ctx context.Context, ref domain.MessageRef) error
	// SendVideo uploads video as a reply to message replyTo (0 for none).
	SendVideo(ctx context.Context, chatID int64, replyTo int, video []byte, caption string) error
}

// Extractor resolves a content link into a media URL.
type Extractor interface {
	Extract(ctx context.Context, contentURL string) domain.ExtractionResult
}

// MediaFetcher downloads a resolved media URL.
type MediaFetcher interface {
	Fetch(ctx context.Context, mediaURL string) ([]byte, error)
}

// Pipeline owns the download queue and its worker.
type Pipeline struct {
	Queue     *Queue
	Extractor Extractor
	Fetcher   MediaFetcher
	Chat      Messenger

	delivered atomic.Int64
	running   atomic.Bool
}

// NewPipeline wires a pipeline around q.
func NewPipeline(q *Queue, ex Extractor, f MediaFetcher, chat Messenger) *Pipeline {
	return &Pipeline{Queue: q, Extractor: ex, Fetcher: f, Chat: chat}
}

// Submit validates rawURL, posts the placeholder status message, and queues
// the request. It returns ErrInvalidLink without side effects for an
// unsupported link, and ErrQueueFull (after updating the placeholder) when a
// bounded queue is at capacity.
func (p *Pipeline) Submit(ctx context.Context, chatID, userID int64, replyTo int, rawURL string) (*domain.Request, error) {
	rawURL = strings.TrimSpace(rawURL)
	if !extract.Validate(rawURL) {
		return nil, ErrInvalidLink
	}

	status, err := p.Chat.SendText(ctx, chatID, TextProcessing)
	if err != nil {
		return nil, fmt.Errorf("send status message: %w", err)
	}

	req := &domain.Request{
		ID:         uuid.NewString(),
		ChatID:     chatID,
		UserID:     userID,
		ReplyTo:    replyTo,
		Status:     status,
		URL:        rawURL,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := p.Queue.Put(req); err != nil {
		p.updateStatus(ctx, req, TextQueueFull)
		return nil, err
	}

	log.Info().
		Str("request_id", req.ID).
		Int64("chat_id", chatID).
		Str("url", rawURL).
		Int("queue_depth", p.Queue.Len()).
		Msg("download queued")
	return req, nil
}

// Run is the worker loop. It processes requests strictly in arrival order
// until ctx is cancelled. Cancelling ctx stops the loop between requests;
// a request already in flight runs to completion, bounded only by the
// extraction and fetch timeouts.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return errors.New("pipeline worker already running")
	}
	defer p.running.Store(false)

	log.Info().Msg("download worker started")
	for {
		req, err := p.Queue.Get(ctx)
		if err != nil {
			log.Info().Int("pending", p.Queue.Len()).Msg("download worker stopped")
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		p.Process(context.WithoutCancel(ctx), req)
	}
}

// Process drives one dequeued request to a terminal stage and acknowledges
// its queue slot. It never panics.
func (p *Pipeline) Process(ctx context.Context, req *domain.Request) (stage domain.Stage) {
	lg := log.With().
		Str("request_id", req.ID).
		Int64("chat_id", req.ChatID).
		Str("url", req.URL).
		Logger()
	start := time.Now()
	reason := "ok"

	defer p.Queue.Done()
	defer func() {
		if r := recover(); r != nil {
			lg.Error().Interface("panic", r).Msg("download worker recovered from panic")
			stage, reason = domain.StageFailed, "panic"
			p.safeUpdateStatus(ctx, req, TextUnexpected)
		}
		observability.Downloads.WithLabelValues(stage.String(), reason).Inc()
		lg.Info().
			Str("stage", stage.String()).
			Str("reason", reason).
			Dur("latency", time.Since(start)).
			Dur("waited", start.Sub(req.EnqueuedAt)).
			Msg("download finished")
	}()

	stage = domain.StageExtracting
	lg.Debug().Str("stage", stage.String()).Msg("stage")
	res := p.Extractor.Extract(ctx, req.URL)
	if !res.OK() {
		lg.Error().Str("kind", string(res.Kind)).Str("reason", res.Reason).Msg("extraction failed")
		p.updateStatus(ctx, req, "Error occurred:\n"+res.Reason)
		reason = "extract_" + string(res.Kind)
		return domain.StageFailed
	}

	stage = domain.StageFetching
	lg.Debug().Str("stage", stage.String()).Str("media_url", res.MediaURL).Msg("stage")
	p.updateStatus(ctx, req, TextDownloading)
	video, err := p.Fetcher.Fetch(ctx, res.MediaURL)
	if err != nil {
		kind := "request"
		var fe *fetch.Error
		if errors.As(err, &fe) {
			kind = string(fe.Kind)
		}
		lg.Error().Err(err).Msg("media fetch failed")
		p.updateStatus(ctx, req, TextFetchFailed)
		reason = "fetch_" + kind
		return domain.StageFailed
	}

	if err := p.Chat.SendVideo(ctx, req.ChatID, req.ReplyTo, video, CaptionDelivered); err != nil {
		lg.Error().Err(err).Int("bytes", len(video)).Msg("video delivery failed")
		p.updateStatus(ctx, req, TextDeliveryFailed)
		reason = "delivery"
		return domain.StageFailed
	}

	if err := p.Chat.Delete(ctx, req.Status); err != nil {
		lg.Warn().Err(err).Msg("could not delete status message")
	}
	p.delivered.Add(1)
	return domain.StageDelivered
}

// updateStatus edits the placeholder; failures are logged only.
func (p *Pipeline) updateStatus(ctx context.Context, req *domain.Request, text string) {
	if req.Status.IsZero() {
		return
	}
	if err := p.Chat.EditText(ctx, req.Status, text); err != nil {
		log.Warn().Err(err).Str("request_id", req.ID).Msg("could not update status message")
	}
}

// safeUpdateStatus is updateStatus for use inside recover, where the
// messenger itself may be the component that panicked.
func (p *Pipeline) safeUpdateStatus(ctx context.Context, req *domain.Request, text string) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("request_id", req.ID).Msg("status update panicked")
		}
	}()
	p.updateStatus(ctx, req, text)
}

// Delivered returns the number of videos delivered since start.
func (p *Pipeline) Delivered() int64 { return p.delivered.Load() }

// QueueDepth returns the number of requests waiting for the worker.
func (p *Pipeline) QueueDepth() int { return p.Queue.Len() }

// Drain waits until every queued request reached a terminal stage.
func (p *Pipeline) Drain(ctx context.Context) error { return p.Queue.Join(ctx) }
