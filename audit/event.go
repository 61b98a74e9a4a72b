// Package audit implements the tamper-evident, hash-chained audit log:
// AuditEvent, AuditLogger, chain verification, the storage-failure tracker
// with outage/recovery alerting, and pluggable storage/sink backends.
// Grounded on spec.md §3.2/§4.4 and
// _examples/original_source/acton-service/src/audit/failure_tracker.rs.
package audit

import "time"

// Severity mirrors typical audit severity levels.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityAlert    Severity = "alert"
	SeverityCritical Severity = "critical"
)

// Source carries the optional request-context fields attached to an event.
type Source struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Subject   string `json:"subject,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Event is an immutable record in the hash chain. Sequence/PreviousHash/Hash
// are assigned by AuditLogger.Log and must never be set by callers of
// PartialEvent.
type Event struct {
	ID          string                 `json:"id"`
	Timestamp   time.Time              `json:"timestamp"`
	Kind        string                 `json:"kind"`
	Severity    Severity               `json:"severity_level"`
	Source      Source                 `json:"source,omitempty"`
	Method      string                 `json:"method,omitempty"`
	Path        string                 `json:"path,omitempty"`
	Status      int                    `json:"status,omitempty"`
	DurationMs  int64                  `json:"duration_ms,omitempty"`
	ServiceName string                 `json:"service_name"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Sequence    int64                  `json:"sequence"`
	PreviousHash string                `json:"previous_hash,omitempty"`
	Hash        string                 `json:"hash"`
}

// PartialEvent is the caller-supplied shape passed to AuditLogger.Log; the
// logger fills in ID/Timestamp (if zero)/Sequence/PreviousHash/Hash.
type PartialEvent struct {
	ID          string
	Timestamp   time.Time
	Kind        string
	Severity    Severity
	Source      Source
	Method      string
	Path        string
	Status      int
	DurationMs  int64
	ServiceName string
	Metadata    map[string]interface{}
}
