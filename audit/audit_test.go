package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerAssignsMonotonicSequenceAndChainedHash(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	logger, err := NewLogger(ctx, storage, nil, nil)
	require.NoError(t, err)

	var events []Event
	for i := 0; i < 3; i++ {
		e, err := logger.Log(ctx, PartialEvent{Kind: "login", ServiceName: "svc"})
		require.NoError(t, err)
		events = append(events, e)
	}

	for i, e := range events {
		assert.Equal(t, int64(i), e.Sequence)
		if i == 0 {
			assert.Empty(t, e.PreviousHash)
		} else {
			assert.Equal(t, events[i-1].Hash, e.PreviousHash)
		}
	}

	brokenAt, broken, err := VerifyChain(ctx, storage, 0)
	require.NoError(t, err)
	assert.False(t, broken)
	assert.Equal(t, int64(0), brokenAt)
}

// TestS3TamperDetection is the spec's seed scenario S3.
func TestS3TamperDetection(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	logger, err := NewLogger(ctx, storage, nil, nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := logger.Log(ctx, PartialEvent{Kind: "login", ServiceName: "svc"})
		require.NoError(t, err)
	}

	ok := storage.tamperDirectly(1, func(e *Event) {
		e.Metadata = map[string]interface{}{"tampered": true}
	})
	require.True(t, ok)

	brokenAt, broken, err := VerifyChain(ctx, storage, 0)
	require.NoError(t, err)
	assert.True(t, broken)
	assert.Equal(t, int64(1), brokenAt)
}

type alertCollector struct {
	mu   sync.Mutex
	done chan struct{}
	evs  []AlertEvent
}

func newAlertCollector(n int) *alertCollector {
	return &alertCollector{done: make(chan struct{}, n)}
}

func (c *alertCollector) OnAlert(_ context.Context, ev AlertEvent) {
	c.mu.Lock()
	c.evs = append(c.evs, ev)
	c.mu.Unlock()
	c.done <- struct{}{}
}

func (c *alertCollector) waitFor(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.done:
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for alert %d/%d", i+1, n)
		}
	}
}

// TestS6OutageRecoveryNotification is the spec's seed scenario S6.
func TestS6OutageRecoveryNotification(t *testing.T) {
	ctx := context.Background()
	tracker := NewFailureTracker(0, 3600, true, "svc")
	col := newAlertCollector(2)
	tracker.AddHook(col)

	for i := 0; i < 5; i++ {
		tracker.RecordFailure(ctx, "boom")
	}
	tracker.RecordSuccess(ctx)

	col.waitFor(t, 2)

	var unreachable, recovered int
	var eventsAffected uint64
	for _, ev := range col.evs {
		switch ev.Kind {
		case "storage_unreachable":
			unreachable++
		case "storage_recovered":
			recovered++
			eventsAffected = ev.EventsAffected
		}
	}
	assert.Equal(t, 1, unreachable)
	assert.Equal(t, 1, recovered)
	assert.Equal(t, uint64(5), eventsAffected)
}

func TestFailureTrackerCooldownSuppressesRepeatedAlerts(t *testing.T) {
	ctx := context.Background()
	tracker := NewFailureTracker(0, 3600, false, "svc")
	col := newAlertCollector(1)
	tracker.AddHook(col)

	for i := 0; i < 10; i++ {
		tracker.RecordFailure(ctx, "boom")
	}

	col.waitFor(t, 1)
	time.Sleep(50 * time.Millisecond)
	col.mu.Lock()
	n := len(col.evs)
	col.mu.Unlock()
	assert.Equal(t, 1, n)
}
