// Package feed provides the source adapters that pull raw news items from
// the configured upstream feeds. It defines a common Adapter interface and
// implements concrete adapters for the Cailian telegraph wire, the Xueqiu
// flash feed (through an emulated browser session), and generic RSS feeds.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/openwire/newswire/internal/config"
	"github.com/openwire/newswire/pkg/models"
)

// Adapter is the common interface all source adapters implement.
// Fetch returns up to limit raw items in the feed's own order, bounded by
// the caller's context deadline. A failed fetch returns the items obtained
// so far (possibly none) together with a classified error; adapters never
// panic and never block past the context.
type Adapter interface {
	// Name returns the source tag this adapter produces items for.
	Name() string

	// Fetch retrieves up to limit raw items from the feed.
	Fetch(ctx context.Context, limit int) ([]models.RawItem, error)
}

// --- Error taxonomy ---

// ErrAuthExpired signals that the feed rejected the session fingerprint;
// the adapter refreshes its session once and retries once before giving up
// for the cycle.
var ErrAuthExpired = errors.New("feed session authentication expired")

// ErrMalformedPayload signals that a feed response body could not be decoded.
var ErrMalformedPayload = errors.New("malformed feed payload")

// ErrUpstreamRefused signals that the feed answered with a well-formed
// envelope whose status field reports failure, so the response carries no
// usable items.
var ErrUpstreamRefused = errors.New("feed refused the request")

// HTTPError wraps a non-success HTTP response.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d %s: %s", e.StatusCode, e.Status, e.Body)
}

// IsTransient reports whether err is worth a short in-adapter retry:
// connection failures, timeouts, and 5xx/429 responses.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode >= 500 || he.StatusCode == http.StatusTooManyRequests
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var oe *net.OpError
	return errors.As(err, &oe)
}

// IsAuthExpired reports whether err looks like the feed rejected the
// session rather than the request.
func IsAuthExpired(err error) bool {
	if errors.Is(err, ErrAuthExpired) {
		return true
	}
	var he *HTTPError
	if errors.As(err, &he) {
		switch he.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
			return true
		}
	}
	return false
}

// --- Shared HTTP helpers ---

// DefaultUserAgent is the browser user agent presented to all feeds.
const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

const maxErrorBody = 1024

// browserHeaders applies the browser-like header fingerprint shared by all
// adapters: feeds that sniff for bare HTTP clients reject requests without it.
func browserHeaders(req *http.Request, referer string) {
	req.Header.Set("User-Agent", DefaultUserAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	req.Header.Set("Connection", "keep-alive")
	if referer != "" {
		req.Header.Set("Referer", referer)
	}
}

// doGet performs a GET with browser headers and returns the response body.
// Non-success statuses become an *HTTPError carrying a body excerpt.
func doGet(ctx context.Context, client *http.Client, url, referer string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	browserHeaders(req, referer)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(body),
		}
	}

	return io.ReadAll(resp.Body)
}

// drain discards the remainder of a response body so the connection can be
// reused.
func drain(r io.Reader) {
	io.Copy(io.Discard, r) //nolint:errcheck
}

// newHTTPClient returns the stateless client used by direct adapters.
func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

// New builds the adapter for a configured source. Emulated-session sources
// receive their SourceSession from the manager; direct sources get a plain
// client.
func New(cfg config.SourceConfig, sessions *SessionManager) (Adapter, error) {
	switch cfg.Kind {
	case "cls":
		return NewCLS(cfg), nil
	case "xueqiu":
		return NewXueqiu(cfg, sessions), nil
	case "rss":
		return NewRSS(cfg), nil
	default:
		return nil, fmt.Errorf("unknown source kind %q for source %q", cfg.Kind, cfg.Name)
	}
}
