package audit

import (
	"context"
	"sync"
	"time"
)

// AlertEvent is the tagged union dispatched by FailureTracker.
type AlertEvent struct {
	Kind string // "storage_unreachable" | "storage_recovered"

	FirstFailureAt          time.Time
	ConsecutiveFailures     uint64
	UnreachableDurationSecs uint64
	LastError               string
	ServiceName             string

	RecoveredAt          time.Time
	OutageDurationSecs   uint64
	EventsAffected       uint64
}

// AlertHook receives FailureTracker events. Dispatch is fire-and-forget:
// one goroutine per hook per event.
type AlertHook interface {
	OnAlert(ctx context.Context, ev AlertEvent)
}

// AlertHookFunc adapts a function to AlertHook.
type AlertHookFunc func(ctx context.Context, ev AlertEvent)

func (f AlertHookFunc) OnAlert(ctx context.Context, ev AlertEvent) { f(ctx, ev) }

type trackerState struct {
	firstFailureAt          time.Time // monotonic-ish: time.Now() based
	firstFailureSet         bool
	consecutiveFailures     uint64
	lastError               string
	lastAlertAt             time.Time
	lastAlertSet            bool
	alertActive             bool
	eventsAffectedInOutage  uint64
}

// FailureTracker tracks consecutive audit-storage failures and dispatches
// alert hooks once continuous failure exceeds threshold, observing a
// cooldown between repeated alerts. Grounded on
// _examples/original_source/acton-service/src/audit/failure_tracker.rs.
// The mutex guarding state is never held while dispatching hooks.
type FailureTracker struct {
	mu    sync.Mutex
	state trackerState

	hooks          []AlertHook
	threshold      time.Duration
	cooldown       time.Duration
	notifyRecovery bool
	serviceName    string
}

// NewFailureTracker constructs a FailureTracker.
func NewFailureTracker(thresholdSecs, cooldownSecs int64, notifyRecovery bool, serviceName string) *FailureTracker {
	return &FailureTracker{
		threshold:      time.Duration(thresholdSecs) * time.Second,
		cooldown:       time.Duration(cooldownSecs) * time.Second,
		notifyRecovery: notifyRecovery,
		serviceName:    serviceName,
	}
}

// AddHook registers an alert hook.
func (t *FailureTracker) AddHook(h AlertHook) {
	t.hooks = append(t.hooks, h)
}

// RecordFailure records a storage failure and, if threshold/cooldown
// conditions are met, dispatches a StorageUnreachable alert.
func (t *FailureTracker) RecordFailure(ctx context.Context, errMsg string) {
	var toDispatch *AlertEvent

	t.mu.Lock()
	now := time.Now()
	if !t.state.firstFailureSet {
		t.state.firstFailureAt = now
		t.state.firstFailureSet = true
	}
	t.state.consecutiveFailures++
	t.state.eventsAffectedInOutage++
	t.state.lastError = errMsg

	elapsed := now.Sub(t.state.firstFailureAt)
	if elapsed >= t.threshold {
		cooldownOK := !t.state.lastAlertSet || now.Sub(t.state.lastAlertAt) >= t.cooldown
		if cooldownOK {
			t.state.lastAlertAt = now
			t.state.lastAlertSet = true
			t.state.alertActive = true
			toDispatch = &AlertEvent{
				Kind:                    "storage_unreachable",
				FirstFailureAt:          t.state.firstFailureAt,
				ConsecutiveFailures:     t.state.consecutiveFailures,
				UnreachableDurationSecs: uint64(elapsed.Seconds()),
				LastError:               t.state.lastError,
				ServiceName:             t.serviceName,
			}
		}
	}
	t.mu.Unlock()

	if toDispatch != nil {
		t.dispatch(ctx, *toDispatch)
	}
}

// RecordSuccess records a successful storage operation, resetting the
// outage state and, if an alert was active and recovery notification is
// enabled, dispatching a StorageRecovered event.
func (t *FailureTracker) RecordSuccess(ctx context.Context) {
	var toDispatch *AlertEvent

	t.mu.Lock()
	if t.state.alertActive && t.notifyRecovery {
		now := time.Now()
		outageDuration := now.Sub(t.state.firstFailureAt)
		if outageDuration < 0 {
			outageDuration = 0
		}
		toDispatch = &AlertEvent{
			Kind:               "storage_recovered",
			RecoveredAt:        now,
			OutageDurationSecs: uint64(outageDuration.Seconds()),
			EventsAffected:     t.state.eventsAffectedInOutage,
			ServiceName:        t.serviceName,
		}
	}
	t.state = trackerState{}
	t.mu.Unlock()

	if toDispatch != nil {
		t.dispatch(ctx, *toDispatch)
	}
}

func (t *FailureTracker) dispatch(ctx context.Context, ev AlertEvent) {
	for _, h := range t.hooks {
		h := h
		go h.OnAlert(ctx, ev)
	}
}
