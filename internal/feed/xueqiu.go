package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strconv"

	"github.com/openwire/newswire/internal/config"
	"github.com/openwire/newswire/pkg/models"
)

// Xueqiu is the emulated-session adapter for the Xueqiu 7x24 flash feed.
// The endpoint rejects bare HTTP clients: it requires the cookie set the
// site hands out on its landing page (the xq_a_token cookie in particular),
// so every data call goes through the SourceSession's execution context.
type Xueqiu struct {
	name    string
	base    string
	session *SourceSession
}

// NewXueqiu creates the flash-feed adapter. The session is obtained from
// the manager so lifecycle (lazy init, slow refresh, teardown) stays in one
// place.
func NewXueqiu(cfg config.SourceConfig, sessions *SessionManager) *Xueqiu {
	return &Xueqiu{
		name:    cfg.Name,
		base:    cfg.FeedURL,
		session: sessions.Session(cfg.Name, cfg.FeedURL),
	}
}

// Name returns the source tag.
func (a *Xueqiu) Name() string { return a.name }

// xueqiuEnvelope is the 7x24 live feed response shape.
type xueqiuEnvelope struct {
	Code    int    `json:"code"`
	ErrDesc string `json:"error_description"`
	Data    struct {
		Statuses []json.RawMessage `json:"statuses"`
	} `json:"data"`
}

// xueqiuStatus is a single flash entry. Flashes usually carry no title.
type xueqiuStatus struct {
	ID          int64  `json:"id"`
	Text        string `json:"text"`
	Description string `json:"description"`
	CreatedAt   int64  `json:"created_at"` // epoch milliseconds
}

// Fetch retrieves up to limit flashes from inside the source session.
// On an authentication-looking failure it refreshes the session once and
// retries once; a second failure ends the cycle.
func (a *Xueqiu) Fetch(ctx context.Context, limit int) ([]models.RawItem, error) {
	q := url.Values{}
	q.Set("since_id", "-1")
	q.Set("max_id", "-1")
	q.Set("count", strconv.Itoa(limit))
	endpoint := a.base + "/statuses/liveroom_v2.json?" + q.Encode()

	body, err := a.session.Get(ctx, endpoint)
	if err != nil && IsAuthExpired(err) {
		log.Printf("[%s] session rejected, refreshing once: %v", a.name, err)
		if rerr := a.session.refresh(ctx); rerr != nil {
			return nil, fmt.Errorf("%w: refresh failed: %v", ErrAuthExpired, rerr)
		}
		body, err = a.session.Get(ctx, endpoint)
	}
	if err != nil {
		if IsAuthExpired(err) {
			return nil, fmt.Errorf("%w: %v", ErrAuthExpired, err)
		}
		return nil, err
	}

	var env xueqiuEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: decode live feed: %v", ErrMalformedPayload, err)
	}
	if env.Code != 0 {
		return nil, fmt.Errorf("%w: live feed API error %d: %s", ErrUpstreamRefused, env.Code, env.ErrDesc)
	}

	items := make([]models.RawItem, 0, len(env.Data.Statuses))
	for _, raw := range env.Data.Statuses {
		var st xueqiuStatus
		if err := json.Unmarshal(raw, &st); err != nil {
			log.Printf("[%s] skipping malformed flash item: %v", a.name, err)
			continue
		}

		content := st.Description
		if content == "" {
			content = st.Text
		}
		var nativeID string
		if st.ID != 0 {
			nativeID = strconv.FormatInt(st.ID, 10)
		}

		items = append(items, models.RawItem{
			Source:   a.name,
			NativeID: nativeID,
			Content:  content,
			Payload:  string(raw),
			Unix:     st.CreatedAt,
		})
		if len(items) >= limit {
			break
		}
	}

	return items, nil
}
