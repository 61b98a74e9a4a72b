// Package lockout implements the account lockout engine: progressive-delay
// and threshold-based lockout over a shared key/value store, with
// notification hooks. Grounded on
// _examples/original_source/acton-service/src/lockout/service.rs.
package lockout

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/acton-service/acton-service/config"
	"github.com/acton-service/acton-service/infrastructure/logging"
	"github.com/acton-service/acton-service/kv"
)

// Status is returned by Check and RecordFailure.
type Status struct {
	Locked               bool
	AttemptCount          uint32
	MaxAttempts           uint32
	LockoutRemainingSecs  uint64
	DelayMs               uint64
}

// UnlockReason distinguishes how an account became unlocked, carried on
// AccountUnlocked notifications.
type UnlockReason string

const (
	ReasonSuccessfulLogin UnlockReason = "successful_login"
	ReasonAdminAction     UnlockReason = "admin_action"
)

// Event is the tagged union of notifications dispatched by the engine.
// Kind names the variant; only the fields that apply to that kind are set.
type Event struct {
	Kind string // "failed_attempt" | "approaching_threshold" | "account_locked" | "account_unlocked"

	Identity         string
	AttemptCount     uint32
	MaxAttempts      uint32
	RemainingAttempts uint32
	LockoutDurationSecs int64
	Reason           UnlockReason
}

// Notifier receives lockout events. Dispatch is fire-and-forget: the
// engine spawns one goroutine per registered notifier per event, matching
// the source's `tokio::spawn` per-handler dispatch.
type Notifier interface {
	OnEvent(ctx context.Context, ev Event)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, ev Event)

func (f NotifierFunc) OnEvent(ctx context.Context, ev Event) { f(ctx, ev) }

// Engine is the login lockout service. Construct once per process and
// share across login handlers.
type Engine struct {
	cfg       config.LockoutConfig
	store     kv.KeyValueStore
	notifiers []Notifier
	logger    *logging.Logger
}

// New constructs an Engine over store using cfg.
func New(cfg config.LockoutConfig, store kv.KeyValueStore, logger *logging.Logger) *Engine {
	return &Engine{cfg: cfg, store: store, logger: logger}
}

// WithNotifier registers a notification handler and returns the engine for
// chaining.
func (e *Engine) WithNotifier(n Notifier) *Engine {
	e.notifiers = append(e.notifiers, n)
	return e
}

func (e *Engine) attemptsKey(identity string) string {
	return fmt.Sprintf("%s:attempts:%s", e.cfg.KeyPrefix, identity)
}

func (e *Engine) lockedKey(identity string) string {
	return fmt.Sprintf("%s:locked:%s", e.cfg.KeyPrefix, identity)
}

// Check returns the current lockout status for identity without recording
// a failure.
func (e *Engine) Check(ctx context.Context, identity string) (Status, error) {
	if !e.cfg.Enabled {
		return Status{MaxAttempts: uint32(e.cfg.MaxAttempts)}, nil
	}

	lockedTTL, locked, err := e.store.TTL(ctx, e.lockedKey(identity))
	if err != nil {
		return Status{}, err
	}

	attemptCount, err := e.attemptCount(ctx, identity)
	if err != nil {
		return Status{}, err
	}

	if locked && lockedTTL > 0 {
		return Status{
			Locked:               true,
			AttemptCount:         attemptCount,
			MaxAttempts:          uint32(e.cfg.MaxAttempts),
			LockoutRemainingSecs: uint64(lockedTTL.Seconds()),
		}, nil
	}

	return Status{
		AttemptCount: attemptCount,
		MaxAttempts:  uint32(e.cfg.MaxAttempts),
		DelayMs:      e.computeDelay(attemptCount),
	}, nil
}

func (e *Engine) attemptCount(ctx context.Context, identity string) (uint32, error) {
	val, ok, err := e.store.Get(ctx, e.attemptsKey(identity))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	var n uint32
	_, _ = fmt.Sscanf(val, "%d", &n)
	return n, nil
}

// RecordFailure increments the failure counter for identity and, once
// thresholds are crossed, emits warning/lock notifications and locks the
// account. The source increments consecutive_failures even when the
// identity is already locked (it never re-emits AccountLocked because
// `cooldown_ok` gates alerts, not lock application) — this implementation
// matches that behaviour exactly (see DESIGN.md Open Questions).
func (e *Engine) RecordFailure(ctx context.Context, identity string) (Status, error) {
	if !e.cfg.Enabled {
		return Status{MaxAttempts: uint32(e.cfg.MaxAttempts)}, nil
	}

	count, err := e.store.Incr(ctx, e.attemptsKey(identity))
	if err != nil {
		return Status{}, err
	}
	if count == 1 {
		if err := e.store.Expire(ctx, e.attemptsKey(identity), time.Duration(e.cfg.WindowSecs)*time.Second); err != nil {
			return Status{}, err
		}
	}
	attemptCount := uint32(count)

	e.notify(ctx, Event{
		Kind:         "failed_attempt",
		Identity:     identity,
		AttemptCount: attemptCount,
		MaxAttempts:  uint32(e.cfg.MaxAttempts),
	})

	if e.cfg.WarningThreshold > 0 && int(attemptCount) == e.cfg.WarningThreshold && int(attemptCount) < e.cfg.MaxAttempts {
		e.notify(ctx, Event{
			Kind:              "approaching_threshold",
			Identity:          identity,
			AttemptCount:      attemptCount,
			RemainingAttempts: uint32(e.cfg.MaxAttempts) - attemptCount,
		})
	}

	if int(attemptCount) >= e.cfg.MaxAttempts {
		lockedTTL, locked, err := e.store.TTL(ctx, e.lockedKey(identity))
		if err != nil {
			return Status{}, err
		}
		alreadyLocked := locked && lockedTTL > 0

		if err := e.store.Set(ctx, e.lockedKey(identity), fmt.Sprintf("%d", time.Now().Unix()),
			time.Duration(e.cfg.LockoutDurationSecs)*time.Second); err != nil {
			return Status{}, err
		}

		if e.logger != nil {
			e.logger.Warn(ctx, "account locked due to repeated login failures", map[string]interface{}{
				"identity":      identity,
				"attempt_count": attemptCount,
			})
		}

		if !alreadyLocked {
			e.notify(ctx, Event{
				Kind:                "account_locked",
				Identity:            identity,
				AttemptCount:        attemptCount,
				LockoutDurationSecs: int64(e.cfg.LockoutDurationSecs),
			})
		}

		return Status{
			Locked:               true,
			AttemptCount:         attemptCount,
			MaxAttempts:          uint32(e.cfg.MaxAttempts),
			LockoutRemainingSecs: uint64(e.cfg.LockoutDurationSecs),
		}, nil
	}

	return Status{
		AttemptCount: attemptCount,
		MaxAttempts:  uint32(e.cfg.MaxAttempts),
		DelayMs:      e.computeDelay(attemptCount),
	}, nil
}

// RecordSuccess clears lockout state for identity. If the identity was
// locked, it emits AccountUnlocked{SuccessfulLogin}.
func (e *Engine) RecordSuccess(ctx context.Context, identity string) error {
	if !e.cfg.Enabled {
		return nil
	}

	wasLocked, err := e.store.Exists(ctx, e.lockedKey(identity))
	if err != nil {
		return err
	}

	if _, err := e.store.Del(ctx, e.attemptsKey(identity), e.lockedKey(identity)); err != nil {
		return err
	}

	if wasLocked {
		e.notify(ctx, Event{Kind: "account_unlocked", Identity: identity, Reason: ReasonSuccessfulLogin})
	}
	return nil
}

// Unlock unconditionally clears lockout state for identity (admin action)
// and always emits AccountUnlocked{AdminAction}.
func (e *Engine) Unlock(ctx context.Context, identity string) error {
	if _, err := e.store.Del(ctx, e.attemptsKey(identity), e.lockedKey(identity)); err != nil {
		return err
	}
	e.notify(ctx, Event{Kind: "account_unlocked", Identity: identity, Reason: ReasonAdminAction})
	return nil
}

// computeDelay implements the progressive-delay formula:
// min(base_delay_ms * multiplier^(attempts-1), max_delay_ms), returning 0
// when disabled or attempts == 0, and capping at max_delay_ms if the float
// computation overflows to a non-finite value.
func (e *Engine) computeDelay(attemptCount uint32) uint64 {
	if !e.cfg.ProgressiveDelayEnabled || attemptCount == 0 {
		return 0
	}

	exponent := float64(attemptCount - 1)
	delay := float64(e.cfg.BaseDelayMs) * math.Pow(e.cfg.DelayMultiplier, exponent)

	if !math.IsInf(delay, 0) && !math.IsNaN(delay) {
		if uint64(delay) < uint64(e.cfg.MaxDelayMs) {
			return uint64(delay)
		}
	}
	return uint64(e.cfg.MaxDelayMs)
}

func (e *Engine) notify(ctx context.Context, ev Event) {
	for _, n := range e.notifiers {
		n := n
		go n.OnEvent(ctx, ev)
	}
}
