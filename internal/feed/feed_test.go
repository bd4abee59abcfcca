package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openwire/newswire/internal/config"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"server error", &HTTPError{StatusCode: 502}, true},
		{"rate limited", &HTTPError{StatusCode: 429}, true},
		{"client error", &HTTPError{StatusCode: 404}, false},
		{"auth error", &HTTPError{StatusCode: 403}, false},
		{"deadline", context.DeadlineExceeded, true},
		{"wrapped deadline", fmt.Errorf("GET x: %w", context.DeadlineExceeded), true},
		{"plain error", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsAuthExpired(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"sentinel", ErrAuthExpired, true},
		{"wrapped sentinel", fmt.Errorf("fetch: %w", ErrAuthExpired), true},
		{"bad request", &HTTPError{StatusCode: 400}, true},
		{"unauthorized", &HTTPError{StatusCode: 401}, true},
		{"forbidden", &HTTPError{StatusCode: 403}, true},
		{"not found", &HTTPError{StatusCode: 404}, false},
		{"server error", &HTTPError{StatusCode: 500}, false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsAuthExpired(tt.err); got != tt.want {
				t.Errorf("IsAuthExpired(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestDoGetErrorCarriesBodyExcerpt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		fmt.Fprint(w, "short and stout")
	}))
	defer srv.Close()

	_, err := doGet(context.Background(), srv.Client(), srv.URL, "")
	var he *HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("err = %v, want HTTPError", err)
	}
	if he.StatusCode != http.StatusTeapot || he.Body != "short and stout" {
		t.Errorf("got %+v", he)
	}
}

func TestNewFactory(t *testing.T) {
	sessions := NewSessionManager()
	defer sessions.Close()

	for _, kind := range []string{"cls", "xueqiu", "rss"} {
		a, err := New(config.SourceConfig{Name: "s-" + kind, Kind: kind, FeedURL: "https://example.com"}, sessions)
		if err != nil {
			t.Errorf("kind %q: %v", kind, err)
			continue
		}
		if a.Name() != "s-"+kind {
			t.Errorf("kind %q: Name() = %q", kind, a.Name())
		}
	}

	if _, err := New(config.SourceConfig{Name: "x", Kind: "carrier-pigeon"}, sessions); err == nil {
		t.Error("unknown kind must fail construction")
	}
}

func TestRSSFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Market Wire</title>
<item><guid>g-1</guid><link>https://example.com/1</link><title>First story</title>
<description>Body of the first story</description>
<pubDate>Mon, 02 Jun 2025 09:00:00 GMT</pubDate></item>
<item><link>https://example.com/2</link><title>No guid story</title>
<description>Body of the second story</description></item>
</channel></rss>`)
	}))
	defer srv.Close()

	a := NewRSS(config.SourceConfig{Name: "wire", Kind: "rss", FeedURL: srv.URL, Timeout: 5 * time.Second})
	items, err := a.Fetch(context.Background(), 50)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if items[0].NativeID != "g-1" || items[0].Title != "First story" {
		t.Errorf("items[0] = %+v", items[0])
	}
	if items[0].Unix == 0 {
		t.Error("pubDate must populate the epoch timestamp")
	}
	if items[1].NativeID != "https://example.com/2" {
		t.Errorf("items[1].NativeID = %q, want link fallback", items[1].NativeID)
	}
}

func TestRSSFetchRetriesTransient(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Market Wire</title>
<item><guid>g-1</guid><title>Recovered story</title><description>Body</description></item>
</channel></rss>`)
	}))
	defer srv.Close()

	a := NewRSS(config.SourceConfig{
		Name:        "wire",
		Kind:        "rss",
		FeedURL:     srv.URL,
		MaxRetries:  3,
		BackoffBase: time.Millisecond,
	})
	items, err := a.Fetch(context.Background(), 50)
	if err != nil {
		t.Fatalf("fetch after retries: %v", err)
	}
	if len(items) != 1 || items[0].NativeID != "g-1" {
		t.Errorf("got %+v, want the recovered item", items)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("server saw %d calls, want 3", n)
	}
}

func TestRSSFetchGivesUpOnPermanentError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	a := NewRSS(config.SourceConfig{
		Name:        "wire",
		Kind:        "rss",
		FeedURL:     srv.URL,
		MaxRetries:  3,
		BackoffBase: time.Millisecond,
	})
	_, err := a.Fetch(context.Background(), 50)
	var he *HTTPError
	if !errors.As(err, &he) || he.StatusCode != http.StatusNotFound {
		t.Fatalf("err = %v, want HTTPError 404", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("server saw %d calls, want 1 for a permanent failure", n)
	}
}
