package pipeline

import (
	"testing"
	"time"

	"github.com/openwire/newswire/pkg/models"
)

func TestCleanText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"plain", "A-share index up 2%", "A-share index up 2%"},
		{"html tags", "<p>Central bank <b>cuts</b> rates</p>", "Central bank cuts rates"},
		{"nested markup", "<div><span>flash:</span> earnings beat</div>", "flash: earnings beat"},
		{"whitespace runs", "  too   many\n\t spaces  ", "too many spaces"},
		{"tags and whitespace", "<p>line one</p>\n<p>line   two</p>", "line one line two"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanText(tt.in); got != tt.want {
				t.Errorf("CleanText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		unix int64
		text string
		want time.Time
	}{
		{"epoch seconds", 1700000000, "", time.Unix(1700000000, 0).UTC()},
		{"epoch milliseconds", 1700000000000, "", time.Unix(1700000000, 0).UTC()},
		{"datetime string", 0, "2024-03-15 09:30:00", time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)},
		{"iso 8601", 0, "2024-03-15T09:30:00Z", time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)},
		{"date only", 0, "2024-03-15", time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)},
		{"garbage falls back to now", 0, "not a timestamp", now},
		{"missing falls back to now", 0, "", now},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseTimestamp(tt.unix, tt.text, now)
			if !got.Equal(tt.want) {
				t.Errorf("ParseTimestamp(%d, %q) = %v, want %v", tt.unix, tt.text, got, tt.want)
			}
		})
	}
}

func TestParseTimestampSameInstantAllForms(t *testing.T) {
	now := time.Now().UTC()
	sec := ParseTimestamp(1700000000, "", now)
	ms := ParseTimestamp(1700000000000, "", now)
	iso := ParseTimestamp(0, "2023-11-14T22:13:20Z", now)
	if !sec.Equal(ms) {
		t.Errorf("seconds and milliseconds of the same instant diverged: %v vs %v", sec, ms)
	}
	if !sec.Equal(iso) {
		t.Errorf("epoch and ISO 8601 of the same instant diverged: %v vs %v", sec, iso)
	}
}

func TestSurrogateIDDeterministic(t *testing.T) {
	a := models.RawItem{Source: "cls", Content: "index futures rally", Unix: 1700000000}
	b := models.RawItem{Source: "cls", Content: "index futures rally", Unix: 1700000000}
	if SurrogateID(a) != SurrogateID(b) {
		t.Error("same text and timestamp must produce the same surrogate id")
	}

	c := models.RawItem{Source: "cls", Content: "index futures rally", Unix: 1700000060}
	if SurrogateID(a) == SurrogateID(c) {
		t.Error("different timestamps must produce different surrogate ids")
	}
}

func TestNormalize(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("native id preserved", func(t *testing.T) {
		rec := normalizeAt(models.RawItem{
			Source:   "cls",
			NativeID: "12345",
			Title:    "<b>Rate cut</b>",
			Content:  "<p>The central bank cut rates.</p>",
			Unix:     1700000000,
		}, now)
		if rec.Source != "cls" || rec.ExternalID != "12345" {
			t.Errorf("identity = (%q, %q), want (cls, 12345)", rec.Source, rec.ExternalID)
		}
		if rec.Title != "Rate cut" {
			t.Errorf("Title = %q, want markup stripped", rec.Title)
		}
		if rec.Content != "The central bank cut rates." {
			t.Errorf("Content = %q, want markup stripped", rec.Content)
		}
		if !rec.PublishTime.Equal(time.Unix(1700000000, 0).UTC()) {
			t.Errorf("PublishTime = %v", rec.PublishTime)
		}
	})

	t.Run("surrogate id when feed has none", func(t *testing.T) {
		raw := models.RawItem{Source: "xueqiu", Content: "flash item", Unix: 1700000000}
		rec := normalizeAt(raw, now)
		if rec.ExternalID == "" {
			t.Fatal("ExternalID must never be empty")
		}
		if rec.ExternalID != SurrogateID(raw) {
			t.Error("surrogate id must be the content-hash surrogate")
		}
		again := normalizeAt(raw, now.Add(time.Hour))
		if again.ExternalID != rec.ExternalID {
			t.Error("re-normalizing the same item later must yield the same external id")
		}
	})

	t.Run("never fails on empty fields", func(t *testing.T) {
		rec := normalizeAt(models.RawItem{Source: "rss"}, now)
		if rec.ExternalID == "" {
			t.Error("empty item still needs an external id")
		}
		if !rec.PublishTime.Equal(now) {
			t.Errorf("PublishTime = %v, want ingestion instant %v", rec.PublishTime, now)
		}
	})
}
