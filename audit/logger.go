package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acton-service/acton-service/infrastructure/logging"
)

// Logger assigns sequence numbers and previous-hash links, computes each
// event's hash, and persists through a Storage capability. Grounded on
// spec.md §4.4.
type Logger struct {
	mu      sync.Mutex
	storage Storage
	tracker *FailureTracker
	logger  *logging.Logger

	latestSequence int64
	latestHash     string
	hasLatest      bool
}

// NewLogger constructs a Logger, reconciling its in-process latest-sequence
// cache with whatever storage already has (spec.md §4.4 step 1: "cached
// in-process; reconciled with storage on startup").
func NewLogger(ctx context.Context, storage Storage, tracker *FailureTracker, logger *logging.Logger) (*Logger, error) {
	l := &Logger{storage: storage, tracker: tracker, logger: logger}
	if err := l.reconcile(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Logger) reconcile(ctx context.Context) error {
	latest, ok, err := l.storage.Latest(ctx)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if ok {
		l.latestSequence = latest.Sequence
		l.latestHash = latest.Hash
		l.hasLatest = true
	}
	return nil
}

// Log assigns sequence/previous_hash/hash to p and appends it to storage.
// On append failure, the in-process chain state is left untouched (the
// event never joined the chain) so the next successful attempt still
// produces a monotonic sequence, and the failure tracker is notified.
func (l *Logger) Log(ctx context.Context, p PartialEvent) (Event, error) {
	l.mu.Lock()

	seq := int64(0)
	prevHash := ""
	if l.hasLatest {
		seq = l.latestSequence + 1
		prevHash = l.latestHash
	}

	e := Event{
		ID:           p.ID,
		Timestamp:    p.Timestamp,
		Kind:         p.Kind,
		Severity:     p.Severity,
		Source:       p.Source,
		Method:       p.Method,
		Path:         p.Path,
		Status:       p.Status,
		DurationMs:   p.DurationMs,
		ServiceName:  p.ServiceName,
		Metadata:     p.Metadata,
		Sequence:     seq,
		PreviousHash: prevHash,
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	e.Hash = computeHash(e)

	l.mu.Unlock()

	if err := l.storage.Append(ctx, e); err != nil {
		if l.tracker != nil {
			l.tracker.RecordFailure(ctx, err.Error())
		}
		if l.logger != nil {
			l.logger.Error(ctx, "audit append failed", err, map[string]interface{}{"sequence": seq})
		}
		return Event{}, err
	}

	if l.tracker != nil {
		l.tracker.RecordSuccess(ctx)
	}

	l.mu.Lock()
	l.latestSequence = e.Sequence
	l.latestHash = e.Hash
	l.hasLatest = true
	l.mu.Unlock()

	return e, nil
}

// VerifyChain re-reads events from fromSequence and recomputes hashes,
// returning the sequence of the first broken link, or broken=false if the
// chain is intact. When fromSequence is above 0 the first event's link to
// its predecessor is not checked, since the predecessor is not read.
func VerifyChain(ctx context.Context, storage Storage, fromSequence int64) (brokenAt int64, broken bool, err error) {
	events, err := storage.Range(ctx, fromSequence)
	if err != nil {
		return 0, false, err
	}

	var prevHash string
	for i, e := range events {
		if i == 0 && fromSequence == 0 {
			if e.PreviousHash != "" {
				return e.Sequence, true, nil
			}
		} else if i > 0 && e.PreviousHash != prevHash {
			return e.Sequence, true, nil
		}

		stored := e.Hash
		if computeHash(e) != stored {
			return e.Sequence, true, nil
		}
		prevHash = stored
	}
	return 0, false, nil
}
