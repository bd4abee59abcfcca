// Package models defines the domain types shared across the newswire
// ingestion pipeline: raw feed items, canonical news records, and the
// run summaries the scheduler reports.
package models

import "time"

// Source tags identify the configured feeds. The set is fixed; adapters
// never invent new tags at runtime.
const (
	SourceCLS    = "cls"    // Cailian Press telegraph (wire-style flash feed)
	SourceXueqiu = "xueqiu" // Xueqiu 7x24 flash feed (emulated session)
)

// RawItem is a single item as produced by a source adapter, before
// normalization. It is ephemeral: it lives for one fetch cycle and is owned
// by the adapter that produced it until handed to the normalizer.
//
// The Source field is the variant tag; each adapter fills exactly one of the
// two timestamp forms (Unix or TimeText), and the normalizer resolves the
// defaults in one place instead of per adapter.
type RawItem struct {
	Source   string // source tag, e.g. "cls"
	NativeID string // feed-native identifier; empty when the feed has none
	Title    string // may be empty (flash feeds often carry content only)
	Content  string
	Payload  string // raw upstream payload, retained for audit
	Unix     int64  // epoch timestamp, seconds or milliseconds; 0 when absent
	TimeText string // string timestamp as given by the feed; "" when absent
}

// NewsRecord is the canonical, persisted form of a news item.
// (Source, ExternalID) is unique across the archive for all time; that pair
// is the single correctness guarantee the ingestion pipeline upholds.
type NewsRecord struct {
	ID            int64     `json:"id"             db:"id"`
	Source        string    `json:"source"         db:"source"`
	ExternalID    string    `json:"external_id"    db:"external_id"`
	Title         string    `json:"title,omitempty"   db:"title"`
	Content       string    `json:"content,omitempty" db:"content"`
	RawPayload    string    `json:"-"              db:"raw_payload"`
	RelationStock string    `json:"relation_stock,omitempty" db:"relation_stock"`
	Annotation    string    `json:"analysis_annotation,omitempty" db:"analysis_annotation"`
	PublishTime   time.Time `json:"publish_time"   db:"publish_time"`
	CreatedAt     time.Time `json:"created_at"     db:"created_at"`
}

// RunStatus describes the outcome of one scheduled fetch cycle.
type RunStatus string

const (
	RunPending RunStatus = "PENDING"
	RunRunning RunStatus = "RUNNING"
	RunSuccess RunStatus = "SUCCESS"
	RunPartial RunStatus = "PARTIAL" // items fetched and some saved, but the adapter failed partway
	RunFailed  RunStatus = "FAILED"  // the adapter returned nothing
)

// SaveResult reports per-batch persistence counts. A duplicate is routine,
// not an error: it means the uniqueness constraint did its job.
type SaveResult struct {
	Attempted int `json:"attempted"`
	Saved     int `json:"saved"`
	Duplicate int `json:"duplicate"`
	Error     int `json:"error"`
}

// RunSummary is the structured outcome of one source's fetch cycle,
// surfaced for operational observability. Nothing in the pipeline is
// user-facing; this is the only failure channel.
type RunSummary struct {
	Source     string    `json:"source"`
	Fetched    int       `json:"fetched"`
	AfterDedup int       `json:"after_dedup"`
	Saved      int       `json:"saved"`
	Duplicate  int       `json:"duplicate"`
	Error      int       `json:"error"`
	Status     RunStatus `json:"status"`
	Err        string    `json:"err,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
