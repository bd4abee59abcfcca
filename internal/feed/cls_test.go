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

func clsConfig(baseURL string) config.SourceConfig {
	return config.SourceConfig{
		Name:        "cls",
		Kind:        "cls",
		FeedURL:     baseURL,
		MaxRetries:  3,
		BackoffBase: time.Millisecond,
		BatchSize:   50,
		Timeout:     5 * time.Second,
	}
}

func TestCLSFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/nodeapi/telegraphList" {
			http.NotFound(w, r)
			return
		}
		if ua := r.Header.Get("User-Agent"); ua != DefaultUserAgent {
			t.Errorf("User-Agent = %q, want browser fingerprint", ua)
		}
		fmt.Fprint(w, `{"error":0,"data":{"roll_data":[
			{"id":101,"title":"","brief":"Brief headline","content":"Body one","ctime":1700000000},
			{"id":102,"title":"Full title","brief":"ignored","content":"Body two","ctime":1700000060}
		]}}`)
	}))
	defer srv.Close()

	a := NewCLS(clsConfig(srv.URL))
	items, err := a.Fetch(context.Background(), 50)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if items[0].NativeID != "101" || items[0].Title != "Brief headline" {
		t.Errorf("items[0] = %+v; title must fall back to brief", items[0])
	}
	if items[1].Title != "Full title" {
		t.Errorf("items[1].Title = %q", items[1].Title)
	}
	if items[0].Unix != 1700000000 {
		t.Errorf("items[0].Unix = %d", items[0].Unix)
	}
	if items[0].Payload == "" {
		t.Error("raw payload must be retained")
	}
}

func TestCLSFetchSkipsMalformedItem(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":0,"data":{"roll_data":[
			{"id":"not a number"},
			{"id":2,"content":"good item","ctime":1700000000}
		]}}`)
	}))
	defer srv.Close()

	a := NewCLS(clsConfig(srv.URL))
	items, err := a.Fetch(context.Background(), 50)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(items) != 1 || items[0].NativeID != "2" {
		t.Errorf("got %+v, want only the well-formed item", items)
	}
}

func TestCLSFetchRetriesTransient(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"error":0,"data":{"roll_data":[{"id":1,"content":"x","ctime":1700000000}]}}`)
	}))
	defer srv.Close()

	a := NewCLS(clsConfig(srv.URL))
	items, err := a.Fetch(context.Background(), 50)
	if err != nil {
		t.Fatalf("fetch after retries: %v", err)
	}
	if len(items) != 1 {
		t.Errorf("got %d items, want 1", len(items))
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("server saw %d calls, want 3", n)
	}
}

func TestCLSFetchGivesUpAfterBudget(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a := NewCLS(clsConfig(srv.URL))
	_, err := a.Fetch(context.Background(), 50)
	var he *HTTPError
	if !errors.As(err, &he) || he.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("err = %v, want HTTPError 503", err)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("server saw %d calls, want the full retry budget of 3", n)
	}
}

func TestCLSFetchAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":500,"msg":"internal"}`)
	}))
	defer srv.Close()

	a := NewCLS(clsConfig(srv.URL))
	_, err := a.Fetch(context.Background(), 50)
	if !errors.Is(err, ErrUpstreamRefused) {
		t.Errorf("err = %v, want ErrUpstreamRefused", err)
	}
	if errors.Is(err, ErrMalformedPayload) {
		t.Error("an API-level refusal must not read as a decode failure")
	}
}

func TestCLSFetchHonorsLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":0,"data":{"roll_data":[
			{"id":1,"content":"a","ctime":1},
			{"id":2,"content":"b","ctime":2},
			{"id":3,"content":"c","ctime":3}
		]}}`)
	}))
	defer srv.Close()

	a := NewCLS(clsConfig(srv.URL))
	items, err := a.Fetch(context.Background(), 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Errorf("got %d items, want limit of 2", len(items))
	}
}
