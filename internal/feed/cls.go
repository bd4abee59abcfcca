package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/openwire/newswire/internal/config"
	"github.com/openwire/newswire/internal/infra"
	"github.com/openwire/newswire/pkg/models"
)

// CLS is the direct adapter for the Cailian Press telegraph wire, a
// low-latency flash feed with a stable public JSON endpoint. No session
// state is required; browser-like headers are enough.
type CLS struct {
	name        string
	base        string
	client      *http.Client
	maxRetries  int
	backoffBase time.Duration
}

// NewCLS creates the telegraph adapter from its schedule entry.
func NewCLS(cfg config.SourceConfig) *CLS {
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 1
	}
	return &CLS{
		name:        cfg.Name,
		base:        cfg.FeedURL,
		client:      newHTTPClient(),
		maxRetries:  retries,
		backoffBase: cfg.BackoffBase,
	}
}

// Name returns the source tag.
func (a *CLS) Name() string { return a.name }

// clsEnvelope is the telegraph list response shape.
type clsEnvelope struct {
	Error int    `json:"error"`
	Msg   string `json:"msg"`
	Data  struct {
		RollData []json.RawMessage `json:"roll_data"`
	} `json:"data"`
}

// clsItem is a single telegraph entry.
type clsItem struct {
	ID      int64  `json:"id"`
	Title   string `json:"title"`
	Brief   string `json:"brief"`
	Content string `json:"content"`
	Ctime   int64  `json:"ctime"`
}

// Fetch retrieves up to limit telegraph flashes. Transient failures are
// retried with a doubling delay up to the configured budget; after that the
// cycle gives up and the error is reported to the scheduler.
func (a *CLS) Fetch(ctx context.Context, limit int) ([]models.RawItem, error) {
	q := url.Values{}
	q.Set("os", "web")
	q.Set("rn", strconv.Itoa(limit))
	q.Set("sub", "telegraph")
	q.Set("type", "telegraph")
	endpoint := a.base + "/nodeapi/telegraphList?" + q.Encode()

	body, err := a.getWithRetry(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var env clsEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: decode telegraph list: %v", ErrMalformedPayload, err)
	}
	if env.Error != 0 {
		return nil, fmt.Errorf("%w: telegraph API error %d: %s", ErrUpstreamRefused, env.Error, env.Msg)
	}

	items := make([]models.RawItem, 0, len(env.Data.RollData))
	for _, raw := range env.Data.RollData {
		var it clsItem
		if err := json.Unmarshal(raw, &it); err != nil {
			// One malformed entry never sinks the batch.
			log.Printf("[%s] skipping malformed telegraph item: %v", a.name, err)
			continue
		}

		title := it.Title
		if title == "" {
			title = it.Brief
		}
		var nativeID string
		if it.ID != 0 {
			nativeID = strconv.FormatInt(it.ID, 10)
		}

		items = append(items, models.RawItem{
			Source:   a.name,
			NativeID: nativeID,
			Title:    title,
			Content:  it.Content,
			Payload:  string(raw),
			Unix:     it.Ctime,
		})
		if len(items) >= limit {
			break
		}
	}

	return items, nil
}

// getWithRetry retries transient failures with exponentially growing delay.
func (a *CLS) getWithRetry(ctx context.Context, endpoint string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < a.maxRetries; attempt++ {
		body, err := doGet(ctx, a.client, endpoint, a.base+"/telegraph")
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !IsTransient(err) || attempt == a.maxRetries-1 {
			break
		}
		log.Printf("[%s] fetch attempt %d/%d failed: %v", a.name, attempt+1, a.maxRetries, err)
		if serr := infra.Sleep(ctx, infra.Backoff(a.backoffBase, attempt)); serr != nil {
			return nil, serr
		}
	}
	return nil, lastErr
}
