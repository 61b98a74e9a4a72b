package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// canonical produces a stable, field-ordered JSON serialization of an
// event (excluding the Hash field itself), so that hashing is reproducible
// across implementations regardless of map iteration order. Per spec.md
// §3.2: "canonicalisation is stable across implementations (field-ordered)".
func canonical(e Event) []byte {
	e.Hash = "" // never included in its own digest

	type canonicalEvent struct {
		ID           string                 `json:"id"`
		Timestamp    int64                  `json:"timestamp"`
		Kind         string                 `json:"kind"`
		Severity     Severity               `json:"severity_level"`
		Source       Source                 `json:"source"`
		Method       string                 `json:"method"`
		Path         string                 `json:"path"`
		Status       int                    `json:"status"`
		DurationMs   int64                  `json:"duration_ms"`
		ServiceName  string                 `json:"service_name"`
		Metadata     []kvPair               `json:"metadata"`
		Sequence     int64                  `json:"sequence"`
		PreviousHash string                 `json:"previous_hash"`
	}

	ce := canonicalEvent{
		ID:           e.ID,
		Timestamp:    e.Timestamp.UTC().UnixNano(),
		Kind:         e.Kind,
		Severity:     e.Severity,
		Source:       e.Source,
		Method:       e.Method,
		Path:         e.Path,
		Status:       e.Status,
		DurationMs:   e.DurationMs,
		ServiceName:  e.ServiceName,
		Metadata:     sortedPairs(e.Metadata),
		Sequence:     e.Sequence,
		PreviousHash: e.PreviousHash,
	}

	data, _ := json.Marshal(ce)
	return data
}

type kvPair struct {
	Key   string      `json:"k"`
	Value interface{} `json:"v"`
}

func sortedPairs(m map[string]interface{}) []kvPair {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]kvPair, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, kvPair{Key: k, Value: m[k]})
	}
	return pairs
}

// computeHash returns H(canonical_serialization(event without hash) ||
// previous_hash_or_empty) as a lowercase hex-encoded 32-byte SHA-256
// digest.
func computeHash(e Event) string {
	data := canonical(e)
	data = append(data, []byte(e.PreviousHash)...)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
