package feed

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/openwire/newswire/internal/config"
	"github.com/openwire/newswire/internal/infra"
	"github.com/openwire/newswire/pkg/models"
)

// RSS is a direct adapter for conventional RSS/Atom market feeds. The
// gofeed parser handles both formats transparently.
type RSS struct {
	name        string
	url         string
	parser      *gofeed.Parser
	maxRetries  int
	backoffBase time.Duration
}

// NewRSS creates an RSS adapter from its schedule entry.
func NewRSS(cfg config.SourceConfig) *RSS {
	p := gofeed.NewParser()
	p.UserAgent = DefaultUserAgent
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 1
	}
	return &RSS{
		name:        cfg.Name,
		url:         cfg.FeedURL,
		parser:      p,
		maxRetries:  retries,
		backoffBase: cfg.BackoffBase,
	}
}

// Name returns the source tag.
func (a *RSS) Name() string { return a.name }

// Fetch parses the feed and returns up to limit items in feed order.
// Transient failures are retried with a doubling delay, same policy as the
// other direct adapters. The native identifier falls back from GUID to
// link; items with neither get a surrogate id downstream in the normalizer.
func (a *RSS) Fetch(ctx context.Context, limit int) ([]models.RawItem, error) {
	feed, err := a.parseWithRetry(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]models.RawItem, 0, len(feed.Items))
	for _, item := range feed.Items {
		nativeID := item.GUID
		if nativeID == "" {
			nativeID = item.Link
		}
		content := item.Description
		if content == "" {
			content = item.Content
		}

		raw := models.RawItem{
			Source:   a.name,
			NativeID: nativeID,
			Title:    item.Title,
			Content:  content,
			Payload:  rssPayload(item),
		}
		if item.PublishedParsed != nil {
			raw.Unix = item.PublishedParsed.Unix()
		} else if item.UpdatedParsed != nil {
			raw.Unix = item.UpdatedParsed.Unix()
		} else {
			raw.TimeText = item.Published
		}

		items = append(items, raw)
		if len(items) >= limit {
			break
		}
	}

	return items, nil
}

func (a *RSS) parseWithRetry(ctx context.Context) (*gofeed.Feed, error) {
	var lastErr error
	for attempt := 0; attempt < a.maxRetries; attempt++ {
		feed, err := a.parser.ParseURLWithContext(a.url, ctx)
		if err == nil {
			return feed, nil
		}
		lastErr = classifyFeedError(err)
		if !IsTransient(lastErr) || attempt == a.maxRetries-1 {
			break
		}
		log.Printf("[%s] fetch attempt %d/%d failed: %v", a.name, attempt+1, a.maxRetries, lastErr)
		if serr := infra.Sleep(ctx, infra.Backoff(a.backoffBase, attempt)); serr != nil {
			return nil, serr
		}
	}
	return nil, lastErr
}

// classifyFeedError maps gofeed's HTTP failure into the shared taxonomy so
// IsTransient sees the status code.
func classifyFeedError(err error) error {
	var ge gofeed.HTTPError
	if errors.As(err, &ge) {
		return &HTTPError{StatusCode: ge.StatusCode, Status: ge.Status}
	}
	return err
}

// rssPayload retains the audit-relevant fields of a feed item as JSON.
func rssPayload(item *gofeed.Item) string {
	b, err := json.Marshal(map[string]string{
		"guid":      item.GUID,
		"link":      item.Link,
		"title":     item.Title,
		"published": item.Published,
	})
	if err != nil {
		return ""
	}
	return string(b)
}
