// Package agent provides a small actor-style runtime: each Agent owns a
// bounded mailbox and processes messages one at a time on a single
// goroutine, so handler code never needs its own locking. Pool agents, the
// room manager, and the background-task supervisor are all built on top of
// this runtime. Grounded on the message-passing, mutate_on/act_on,
// before_stop/after_start lifecycle shape of
// _examples/original_source/acton-service/src/agents/background_worker.rs,
// adapted to a channel-based Go idiom (there is no Go equivalent of the
// original's actor framework, so the mailbox/dispatch loop below is
// hand-rolled rather than borrowed from a third-party library).
package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Envelope carries one message through an Agent's mailbox together with an
// optional reply channel, letting callers do request/response over the same
// single-threaded processing loop used for fire-and-forget messages.
type Envelope struct {
	Message any
	reply   chan any
}

// Reply sends a response back to whoever is waiting via Ask. Reply is a
// no-op for envelopes created with Tell (no one is listening).
func (e Envelope) Reply(v any) {
	if e.reply != nil {
		e.reply <- v
	}
}

// Handler processes one envelope. Handlers run sequentially on the agent's
// own goroutine; they may safely mutate state captured in the closure
// without additional synchronization.
type Handler func(ctx context.Context, env Envelope)

// Hook runs during Agent lifecycle transitions.
type Hook func(ctx context.Context)

// Agent is a single-goroutine message processor with a bounded mailbox.
type Agent struct {
	name     string
	mailbox  chan Envelope
	handlers map[string]Handler
	fallback Handler

	beforeStop []Hook
	afterStart []Hook

	mu      sync.Mutex
	started bool
	stopped bool
	done    chan struct{}
	cancel  context.CancelFunc
}

// New constructs an Agent with the given name and mailbox capacity. A
// mailbox of 0 is unbuffered (Tell/Ask block until the agent is ready).
func New(name string, mailboxSize int) *Agent {
	return &Agent{
		name:     name,
		mailbox:  make(chan Envelope, mailboxSize),
		handlers: make(map[string]Handler),
		done:     make(chan struct{}),
	}
}

// On registers the handler invoked for messages of the given type key. Keys
// are caller-chosen strings (typically a message type name) rather than Go
// types, since handler registration happens before the agent starts and
// Go generics would otherwise force one Agent type parameter per message
// type the agent accepts.
func (a *Agent) On(messageType string, h Handler) {
	a.handlers[messageType] = h
}

// OnDefault registers a handler invoked for any message with no specific
// registration.
func (a *Agent) OnDefault(h Handler) {
	a.fallback = h
}

// BeforeStop registers a hook run during graceful shutdown, before the
// processing loop is cancelled. Stop does not drain the mailbox: messages
// still queued when the loop exits are not processed.
func (a *Agent) BeforeStop(h Hook) {
	a.beforeStop = append(a.beforeStop, h)
}

// AfterStart registers a hook run once the processing loop is running.
func (a *Agent) AfterStart(h Hook) {
	a.afterStart = append(a.afterStart, h)
}

// Start launches the agent's processing loop. It is safe to call once per
// Agent; subsequent calls are no-ops.
func (a *Agent) Start(ctx context.Context) {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return
	}
	a.started = true
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.mu.Unlock()

	go a.loop(runCtx)

	for _, h := range a.afterStart {
		h(runCtx)
	}
}

func (a *Agent) loop(ctx context.Context) {
	defer close(a.done)
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-a.mailbox:
			if !ok {
				return
			}
			a.dispatch(ctx, env)
		}
	}
}

func (a *Agent) dispatch(ctx context.Context, env Envelope) {
	key, _ := messageKey(env.Message)
	if h, ok := a.handlers[key]; ok {
		h(ctx, env)
		return
	}
	if a.fallback != nil {
		a.fallback(ctx, env)
		return
	}
	env.Reply(fmt.Errorf("agent %s: no handler registered for message type %q", a.name, key))
}

func messageKey(msg any) (string, bool) {
	type typed interface{ MessageType() string }
	if t, ok := msg.(typed); ok {
		return t.MessageType(), true
	}
	name := fmt.Sprintf("%T", msg)
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	return name, false
}

// Tell enqueues a fire-and-forget message. It blocks until the mailbox has
// room or ctx is cancelled.
func (a *Agent) Tell(ctx context.Context, msg any) error {
	select {
	case a.mailbox <- Envelope{Message: msg}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ask enqueues msg and waits for its handler to call Envelope.Reply, or for
// ctx to be cancelled.
func (a *Agent) Ask(ctx context.Context, msg any) (any, error) {
	reply := make(chan any, 1)
	select {
	case a.mailbox <- Envelope{Message: msg, reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case v := <-reply:
		if err, ok := v.(error); ok {
			return nil, err
		}
		return v, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop runs BeforeStop hooks, then halts the processing loop and waits for
// it to finish (or for ctx to be cancelled first).
func (a *Agent) Stop(ctx context.Context) error {
	a.mu.Lock()
	if a.stopped || !a.started {
		a.stopped = true
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	cancel := a.cancel
	a.mu.Unlock()

	for _, h := range a.beforeStop {
		h(ctx)
	}

	cancel()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Name returns the agent's configured name, used in logging and errors.
func (a *Agent) Name() string { return a.name }
