// Package fetch retrieves resolved media payloads over HTTP.
//
// Large, slow transfers and flaky CDNs are the common failure mode here, so
// the fetcher uses a long timeout, follows redirects, caps the payload at the
// size the chat transport accepts, and reports failures as *Error values the
// pipeline can turn into a fetch-specific message.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/tbourn/instagram-relay-bot/internal/extract"
	"github.com/tbourn/instagram-relay-bot/internal/observability"
)

const (
	// DefaultTimeout bounds a whole download, body included.
	DefaultTimeout = 5 * time.Minute
	// DefaultMaxBytes is the Bot API upload limit for videos.
	DefaultMaxBytes int64 = 50 << 20
	// maxRedirects mirrors net/http's default policy.
	maxRedirects = 10

	userAgent = "Mozilla/5.0 (compatible; instagram-relay-bot/1.0)"
)

// Kind classifies a fetch failure.
type Kind string

const (
	KindTimeout    Kind = "timeout"
	KindConnection Kind = "connection"
	KindStatus     Kind = "status"
	KindTooLarge   Kind = "too_large"
	KindRequest    Kind = "request"
)

// Error describes why a media download failed.
type Error struct {
	Kind   Kind
	Status int // HTTP status for KindStatus
	Err    error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindStatus:
		return fmt.Sprintf("media origin returned HTTP %d", e.Status)
	case KindTooLarge:
		return "media exceeds the upload size limit"
	}
	if e.Err != nil {
		return fmt.Sprintf("media download %s: %v", e.Kind, e.Err)
	}
	return "media download " + string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Fetcher downloads media. Construct with New.
type Fetcher struct {
	HTTP     *http.Client
	MaxBytes int64
}

// New returns a Fetcher with a traced transport. Non-positive arguments fall
// back to DefaultTimeout and DefaultMaxBytes.
func New(timeout time.Duration, maxBytes int64) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Fetcher{
		HTTP: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return errors.New("stopped after 10 redirects")
				}
				return nil
			},
		},
		MaxBytes: maxBytes,
	}
}

// Fetch downloads mediaURL and returns its body. Any non-2xx response, an
// oversized body, or a transport error yields an *Error.
func (f *Fetcher) Fetch(ctx context.Context, mediaURL string) (body []byte, err error) {
	ctx, span := observability.Tracer("fetch").Start(ctx, "Fetch")
	start := time.Now()
	defer func() {
		outcome := "ok"
		var fe *Error
		if errors.As(err, &fe) {
			outcome = string(fe.Kind)
			span.SetStatus(codes.Error, fe.Error())
		}
		span.SetAttributes(attribute.Int("media.bytes", len(body)))
		observability.ObserveFetch(outcome, time.Since(start), len(body))
		span.End()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, &Error{Kind: KindRequest, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.HTTP.Do(req)
	if err != nil {
		return nil, classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{Kind: KindStatus, Status: resp.StatusCode}
	}
	if resp.ContentLength > f.MaxBytes {
		return nil, &Error{Kind: KindTooLarge}
	}

	// Read one byte past the cap so an oversized body without a
	// Content-Length is still detected.
	body, err = io.ReadAll(io.LimitReader(resp.Body, f.MaxBytes+1))
	if err != nil {
		return nil, classify(err)
	}
	if int64(len(body)) > f.MaxBytes {
		return nil, &Error{Kind: KindTooLarge}
	}
	return body, nil
}

func classify(err error) *Error {
	switch {
	case extract.IsTimeout(err):
		return &Error{Kind: KindTimeout, Err: err}
	case extract.IsConnectionError(err):
		return &Error{Kind: KindConnection, Err: err}
	default:
		return &Error{Kind: KindRequest, Err: err}
	}
}
