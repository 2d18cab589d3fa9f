package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/instagram-relay-bot/internal/domain"
	"github.com/tbourn/instagram-relay-bot/internal/observability"
)

const (
	// HeaderAPIKey carries the extraction API credential.
	HeaderAPIKey = "X-Avatar-Key"

	// DefaultEndpoint is the hosted extraction API.
	DefaultEndpoint = "https://apihut.in/api/download/videos"

	// DefaultTimeout bounds a single extraction call.
	DefaultTimeout = 60 * time.Second

	contentType     = "instagram"
	maxResponseBody = 1 << 20
)

// Failure reasons shown to users.
const (
	ReasonTimeout    = "The download service took too long to respond."
	ReasonConnection = "Could not connect to the download service."
	ReasonUnreadable = "The download service returned an unreadable response."
	ReasonTooLarge   = "The download service returned an oversized response."
	ReasonUnresolved = "Could not extract video URL."
)

// Client calls the extraction API. The zero value is not usable; construct
// with NewClient.
type Client struct {
	Endpoint string
	APIKey   string
	HTTP     *http.Client
}

// NewClient builds a Client whose HTTP calls are traced and bounded by
// timeout (DefaultTimeout when <= 0).
func NewClient(endpoint, apiKey string, timeout time.Duration) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		Endpoint: endpoint,
		APIKey:   apiKey,
		HTTP: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type extractRequest struct {
	VideoURL string `json:"video_url"`
	Type     string `json:"type"`
}

// Extract resolves contentURL into a direct media URL. It never returns an
// error: every failure is reported as a domain.ExtractionResult with a
// reason that is safe to show to the requester.
func (c *Client) Extract(ctx context.Context, contentURL string) (res domain.ExtractionResult) {
	tr := observability.Tracer("extract")
	ctx, span := tr.Start(ctx, "Extract",
		trace.WithAttributes(attribute.String("content.url", contentURL)),
	)
	start := time.Now()
	defer func() {
		outcome := "resolved"
		if !res.OK() {
			outcome = string(res.Kind)
			span.SetStatus(codes.Error, res.Reason)
		}
		observability.ObserveExtraction(outcome, time.Since(start))
		span.End()
	}()

	payload, err := json.Marshal(extractRequest{VideoURL: contentURL, Type: contentType})
	if err != nil {
		return domain.Failed(domain.FailureRequest, fmt.Sprintf("Could not build the download request: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return domain.Failed(domain.FailureRequest, fmt.Sprintf("Could not build the download request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(HeaderAPIKey, c.APIKey)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))
		return domain.Failed(domain.FailureStatus,
			fmt.Sprintf("The download service returned HTTP %d.", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody+1))
	if err != nil {
		return classifyTransport(err)
	}
	if len(body) > maxResponseBody {
		return domain.Failed(domain.FailureTooLarge, ReasonTooLarge)
	}

	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return domain.Failed(domain.FailureDecode, ReasonUnreadable)
	}
	if u, ok := resolveDoc(doc); ok {
		return domain.Resolved(u)
	}
	if msg := upstreamError(doc); msg != "" {
		return domain.Failed(domain.FailureUpstream, "The download service said: "+msg)
	}
	return domain.Failed(domain.FailureUnresolved, ReasonUnresolved)
}

// classifyTransport maps an HTTP client error onto a failure kind.
func classifyTransport(err error) domain.ExtractionResult {
	if IsTimeout(err) {
		return domain.Failed(domain.FailureTimeout, ReasonTimeout)
	}
	if IsConnectionError(err) {
		return domain.Failed(domain.FailureConnection, ReasonConnection)
	}
	return domain.Failed(domain.FailureRequest, fmt.Sprintf("The download request failed: %s", trimURLError(err)))
}

// IsTimeout reports whether err is a deadline or network timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// IsConnectionError reports whether err happened while establishing a
// connection (refused, reset, unresolvable host).
func IsConnectionError(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

// trimURLError drops the "Post \"<url>\": " prefix url.Error adds so the
// endpoint does not leak into user-facing text.
func trimURLError(err error) string {
	msg := err.Error()
	if i := strings.LastIndex(msg, "\": "); i >= 0 {
		return msg[i+3:]
	}
	return msg
}
