// Package pipeline implements the pure transformation stages between a
// source adapter and the store: normalization and batch-scoped
// deduplication. Nothing here performs I/O and nothing here fails an item;
// every field default is decided in this package, once, instead of per
// adapter.
package pipeline

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"

	"github.com/openwire/newswire/pkg/models"
)

// epochMillisFloor: epoch values above this are taken as milliseconds.
// (10 billion seconds is year 2286; no feed publishes from there.)
const epochMillisFloor = 10_000_000_000

var whitespaceRE = regexp.MustCompile(`\s+`)

// stringLayouts are tried before the general parser; they cover the formats
// the feeds actually emit, including ones dateparse resolves ambiguously.
var stringLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z",
	"2006-01-02 15:04:05.999999",
	"2006-01-02",
}

// Normalize converts one raw item into its canonical record form. It never
// fails: missing fields get their declared defaults and an unparsable
// timestamp falls back to the ingestion instant.
func Normalize(raw models.RawItem) models.NewsRecord {
	return normalizeAt(raw, time.Now().UTC())
}

// normalizeAt is Normalize with an explicit ingestion instant.
func normalizeAt(raw models.RawItem, now time.Time) models.NewsRecord {
	title := CleanText(raw.Title)
	content := CleanText(raw.Content)

	externalID := raw.NativeID
	if externalID == "" {
		externalID = SurrogateID(raw)
	}

	return models.NewsRecord{
		Source:      raw.Source,
		ExternalID:  externalID,
		Title:       title,
		Content:     content,
		RawPayload:  raw.Payload,
		PublishTime: ParseTimestamp(raw.Unix, raw.TimeText, now),
	}
}

// CleanText strips markup tags, collapses runs of whitespace, and trims.
func CleanText(s string) string {
	if s == "" {
		return ""
	}
	if strings.ContainsRune(s, '<') {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader("<body>" + s + "</body>"))
		if err == nil {
			s = doc.Text()
		}
	}
	return strings.TrimSpace(whitespaceRE.ReplaceAllString(s, " "))
}

// ParseTimestamp resolves the publish time from whichever form the feed
// supplied: an epoch value (seconds, or milliseconds when the magnitude
// says so) or a string in one of the common formats. Anything unparsable
// or missing yields now — an item is never rejected over its timestamp.
func ParseTimestamp(unix int64, text string, now time.Time) time.Time {
	if unix > 0 {
		if unix > epochMillisFloor {
			unix /= 1000
		}
		return time.Unix(unix, 0).UTC()
	}

	if text != "" {
		for _, layout := range stringLayouts {
			if t, err := time.ParseInLocation(layout, text, time.UTC); err == nil {
				return t.UTC()
			}
		}
		if t, err := dateparse.ParseIn(text, time.UTC); err == nil {
			return t.UTC()
		}
	}

	return now.UTC()
}

// SurrogateID derives a deterministic external identifier for items whose
// feed supplies no native id: a content hash over the item's text and its
// raw timestamp. Re-fetching the same underlying item later produces the
// same id, so the storage uniqueness constraint still dedups it.
func SurrogateID(raw models.RawItem) string {
	var ts string
	if raw.Unix != 0 {
		ts = strconv.FormatInt(raw.Unix, 10)
	} else {
		ts = raw.TimeText
	}
	sum := md5.Sum([]byte(raw.Title + raw.Content + ts))
	return hex.EncodeToString(sum[:])
}
