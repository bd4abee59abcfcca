package pipeline

import (
	"crypto/md5"
	"encoding/hex"

	"github.com/openwire/newswire/pkg/models"
)

// Dedup collapses a batch in two passes, keeping the first occurrence in
// fetch order each time: first by identity (source plus external id), then
// by content hash so the same story under two ids survives only once. The
// seen-sets are batch-local; cross-batch duplicates are left for the
// storage uniqueness constraint.
func Dedup(records []models.NewsRecord) []models.NewsRecord {
	return DedupByContent(DedupByID(records))
}

// DedupByID drops later records that repeat an earlier (source, external id)
// pair within the batch.
func DedupByID(records []models.NewsRecord) []models.NewsRecord {
	seen := make(map[string]struct{}, len(records))
	out := records[:0:0]
	for _, r := range records {
		key := r.Source + ":" + r.ExternalID
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}

// DedupByContent drops later records whose title and content hash to the
// same digest as an earlier one. The comparison is byte-exact over the
// already normalized text; near-duplicates are out of scope.
func DedupByContent(records []models.NewsRecord) []models.NewsRecord {
	seen := make(map[string]struct{}, len(records))
	out := records[:0:0]
	for _, r := range records {
		h := ContentHash(r)
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, r)
	}
	return out
}

// ContentHash digests a record's title and content.
func ContentHash(r models.NewsRecord) string {
	sum := md5.Sum([]byte(r.Title + " " + r.Content))
	return hex.EncodeToString(sum[:])
}
