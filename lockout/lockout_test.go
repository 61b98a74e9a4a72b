package lockout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acton-service/acton-service/config"
	"github.com/acton-service/acton-service/kv"
)

func testConfig() config.LockoutConfig {
	return config.LockoutConfig{
		Enabled:                 true,
		MaxAttempts:             3,
		WindowSecs:              60,
		LockoutDurationSecs:     300,
		WarningThreshold:        2,
		ProgressiveDelayEnabled: true,
		BaseDelayMs:             1000,
		DelayMultiplier:         2.0,
		MaxDelayMs:              30000,
		KeyPrefix:               "lockout",
	}
}

// collector gathers dispatched events safely across goroutines (dispatch
// is fire-and-forget per notifier per event).
type collector struct {
	mu   sync.Mutex
	done chan struct{}
	evs  []Event
}

func newCollector(expected int) *collector {
	return &collector{done: make(chan struct{}, expected)}
}

func (c *collector) OnEvent(_ context.Context, ev Event) {
	c.mu.Lock()
	c.evs = append(c.evs, ev)
	c.mu.Unlock()
	c.done <- struct{}{}
}

func (c *collector) waitFor(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.done:
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d/%d", i+1, n)
		}
	}
}

func (c *collector) events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.evs))
	copy(out, c.evs)
	return out
}

// TestS1ProgressiveLockout is the spec's seed scenario S1.
func TestS1ProgressiveLockout(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	store := kv.NewMemoryStore()
	col := newCollector(10)
	engine := New(cfg, store, nil).WithNotifier(col)

	st, err := engine.RecordFailure(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, st.Locked)
	assert.Equal(t, uint64(1000), st.DelayMs)

	st, err = engine.RecordFailure(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, st.Locked)
	assert.Equal(t, uint64(2000), st.DelayMs)

	st, err = engine.RecordFailure(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, st.Locked)
	assert.Equal(t, uint64(300), st.LockoutRemainingSecs)

	st, err = engine.Check(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, st.Locked)

	col.waitFor(t, 5) // 3 failed_attempt + 1 approaching_threshold + 1 account_locked
}

func TestRecordSuccessClearsStateAndNotifiesOnlyWhenLocked(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.MaxAttempts = 1
	store := kv.NewMemoryStore()
	col := newCollector(10)
	engine := New(cfg, store, nil).WithNotifier(col)

	_, err := engine.RecordFailure(ctx, "bob")
	require.NoError(t, err)

	require.NoError(t, engine.RecordSuccess(ctx, "bob"))
	col.waitFor(t, 3) // failed_attempt, account_locked (no warning: count 1 is not below MaxAttempts 1), then account_unlocked

	found := false
	for _, ev := range col.events() {
		if ev.Kind == "account_unlocked" && ev.Reason == ReasonSuccessfulLogin {
			found = true
		}
	}
	assert.True(t, found)

	st, err := engine.Check(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, st.Locked)
	assert.Equal(t, uint32(0), st.AttemptCount)
}

func TestUnlockAlwaysNotifiesAdminAction(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	store := kv.NewMemoryStore()
	col := newCollector(1)
	engine := New(cfg, store, nil).WithNotifier(col)

	require.NoError(t, engine.Unlock(ctx, "carol"))
	col.waitFor(t, 1)
	assert.Equal(t, ReasonAdminAction, col.events()[0].Reason)
}

func TestComputeDelayEdgeCases(t *testing.T) {
	cfg := testConfig()
	e := New(cfg, kv.NewMemoryStore(), nil)

	assert.Equal(t, uint64(0), e.computeDelay(0))

	e.cfg.ProgressiveDelayEnabled = false
	assert.Equal(t, uint64(0), e.computeDelay(5))

	e.cfg.ProgressiveDelayEnabled = true
	e.cfg.DelayMultiplier = 1e300
	e.cfg.MaxDelayMs = 30000
	assert.Equal(t, uint64(30000), e.computeDelay(50)) // overflow caps at max
}

func TestDisabledEngineIsNoop(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Enabled = false
	e := New(cfg, kv.NewMemoryStore(), nil)

	st, err := e.RecordFailure(ctx, "dave")
	require.NoError(t, err)
	assert.False(t, st.Locked)
	assert.Equal(t, uint32(0), st.AttemptCount)
}
