// Package consumer drives one conversation against the chat relay: it submits
// user turns, assembles the streamed assistant reply and exposes the request
// lifecycle as a small state machine.
package consumer

import (
	"context"
	"errors"
	"iter"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/zhouzirui/zen-companion/backend/internal/model/chat"
	"github.com/zhouzirui/zen-companion/backend/internal/model/stream"
)

// Message aliases the conversation message type for listener payloads.
type Message = chat.Message

var (
	ErrEmptyInput = errors.New("consumer: input is empty")
	ErrBusy       = errors.New("consumer: a reply is already in flight")
)

// Transport opens one relay call. The returned sequence is finite and may be
// ranged over once; cancelling ctx ends it.
type Transport interface {
	Stream(ctx context.Context, messages []chat.Message) iter.Seq2[stream.Chunk, error]
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, messages []chat.Message) iter.Seq2[stream.Chunk, error]

func (f TransportFunc) Stream(ctx context.Context, messages []chat.Message) iter.Seq2[stream.Chunk, error] {
	return f(ctx, messages)
}

// Option configures a Consumer.
type Option func(*Consumer)

// WithListener registers a callback for state and content updates.
func WithListener(l Listener) Option {
	return func(c *Consumer) { c.listener = l }
}

// WithIDGenerator overrides the message id source (uuid by default).
func WithIDGenerator(newID func() string) Option {
	return func(c *Consumer) { c.newID = newID }
}

// Consumer owns a conversation and at most one in-flight relay call.
type Consumer struct {
	transport Transport
	conv      *chat.Conversation
	listener  Listener
	newID     func() string

	mu      sync.Mutex
	state   State
	gen     uint64
	draftID string
	draft   strings.Builder
	lastErr error
	cancel  context.CancelFunc
	done    chan struct{}

	// Updates wait here until delivered; only one goroutine drains at a time.
	pending  []pendingUpdate
	draining bool
}

// pendingUpdate is an Update queued under mu. Transient updates carry reply
// content and are dropped if their call was superseded before delivery.
type pendingUpdate struct {
	Update
	gen       uint64
	transient bool
}

// New creates a consumer over conv. A nil conv starts an empty conversation.
func New(transport Transport, conv *chat.Conversation, opts ...Option) *Consumer {
	if conv == nil {
		conv = chat.NewConversation()
	}
	c := &Consumer{
		transport: transport,
		conv:      conv,
		newID:     uuid.NewString,
		state:     StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit appends input as a user message and starts streaming the reply.
// It fails with ErrEmptyInput for blank input and ErrBusy while a call is in
// flight; in both cases nothing changes. Submitting from StateError is allowed.
func (c *Consumer) Submit(ctx context.Context, input string) error {
	if strings.TrimSpace(input) == "" {
		return ErrEmptyInput
	}

	c.mu.Lock()
	if c.state.InFlight() {
		c.mu.Unlock()
		return ErrBusy
	}

	msg := chat.NewTextMessage(c.newID(), chat.RoleUser, input)
	c.conv.Append(msg)
	history := c.conv.Messages()

	callCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.gen++
	gen := c.gen
	c.state = StateSubmitting
	c.lastErr = nil
	c.resetDraft()
	c.cancel = cancel
	c.done = done
	c.enqueue(Update{State: StateSubmitting, Message: &msg}, false)
	c.mu.Unlock()
	c.flush()

	go c.run(callCtx, cancel, gen, history, done)
	return nil
}

func (c *Consumer) run(ctx context.Context, cancel context.CancelFunc, gen uint64, history []chat.Message, done chan struct{}) {
	defer close(done)
	defer cancel()

	for chunk, err := range c.transport.Stream(ctx, history) {
		if err != nil {
			if ctx.Err() != nil || stream.KindOf(err) == stream.AbortedError {
				c.abandon(gen)
				return
			}
			c.fail(gen, asStreamError(err))
			return
		}
		if !c.apply(gen, chunk) {
			return
		}
	}
	if ctx.Err() != nil {
		c.abandon(gen)
		return
	}
	c.fail(gen, stream.NewError(stream.UpstreamError, "stream ended without a terminal chunk", nil))
}

// apply folds one chunk into the consumer state. It returns false once the
// call is finished or superseded.
func (c *Consumer) apply(gen uint64, chunk stream.Chunk) bool {
	if chunk.Type == stream.TypeError {
		c.fail(gen, chunk.Err())
		return false
	}

	c.mu.Lock()
	if gen != c.gen || !c.state.InFlight() {
		c.mu.Unlock()
		return false
	}

	if c.state == StateSubmitting {
		c.state = StateStreaming
		c.draftID = c.newID()
		c.enqueue(Update{State: StateStreaming}, true)
	}

	more := true
	switch chunk.Type {
	case stream.TypeTextDelta:
		c.draft.WriteString(chunk.Text)
		c.enqueue(Update{State: StateStreaming, Delta: chunk.Text}, true)
	case stream.TypeFinish:
		msg := chat.NewTextMessage(c.draftID, chat.RoleAssistant, c.draft.String())
		c.conv.Append(msg)
		c.state = StateIdle
		c.resetDraft()
		c.cancel = nil
		c.enqueue(Update{State: StateIdle, Message: &msg}, false)
		more = false
	default:
		log.Printf("[consumer] ignoring chunk type %q", chunk.Type)
	}
	c.mu.Unlock()

	c.flush()
	return more
}

func (c *Consumer) fail(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen || !c.state.InFlight() {
		c.mu.Unlock()
		return
	}
	c.state = StateError
	c.lastErr = err
	c.resetDraft()
	c.cancel = nil
	c.enqueue(Update{State: StateError, Err: err}, false)
	c.mu.Unlock()

	c.flush()
}

// abandon ends call gen quietly when its context was cancelled by the caller.
func (c *Consumer) abandon(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || !c.state.InFlight() {
		c.mu.Unlock()
		return
	}
	c.stopLocked()
	c.mu.Unlock()

	c.flush()
}

// Cancel abandons the in-flight call: the draft is discarded, the state
// returns to idle at once and chunks still arriving are ignored. It reports
// whether there was anything to cancel.
func (c *Consumer) Cancel() bool {
	c.mu.Lock()
	if !c.state.InFlight() {
		c.mu.Unlock()
		return false
	}
	cancel := c.stopLocked()
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.flush()
	return true
}

// stopLocked returns to idle, discards the draft and supersedes the current
// call so its remaining output is ignored. It returns the call's cancel func.
func (c *Consumer) stopLocked() context.CancelFunc {
	c.gen++
	c.state = StateIdle
	c.resetDraft()
	cancel := c.cancel
	c.cancel = nil
	c.enqueue(Update{State: StateIdle}, false)
	return cancel
}

// Wait blocks until the goroutine of the most recent call has exited.
func (c *Consumer) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current state.
func (c *Consumer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Draft returns the partial assistant text while streaming.
func (c *Consumer) Draft() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateStreaming {
		return "", false
	}
	return c.draft.String(), true
}

// LastError returns the failure that moved the consumer into StateError.
func (c *Consumer) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Conversation returns the conversation this consumer appends to.
func (c *Consumer) Conversation() *chat.Conversation {
	return c.conv
}

func (c *Consumer) resetDraft() {
	c.draftID = ""
	c.draft.Reset()
}

// enqueue queues u for delivery. Callers hold mu.
func (c *Consumer) enqueue(u Update, transient bool) {
	if c.listener == nil {
		return
	}
	c.pending = append(c.pending, pendingUpdate{Update: u, gen: c.gen, transient: transient})
}

// flush delivers queued updates in order without holding mu, so the listener
// may call back into the consumer. A listener call already in progress on
// another goroutine keeps draining; transient updates whose call has been
// cancelled meanwhile are skipped.
func (c *Consumer) flush() {
	c.mu.Lock()
	if c.draining {
		c.mu.Unlock()
		return
	}
	c.draining = true
	for len(c.pending) > 0 {
		next := c.pending[0]
		c.pending = c.pending[1:]
		if next.transient && next.gen != c.gen {
			continue
		}
		c.mu.Unlock()
		c.listener(next.Update)
		c.mu.Lock()
	}
	c.pending = nil
	c.draining = false
	c.mu.Unlock()
}

func asStreamError(err error) error {
	if stream.KindOf(err) != "" {
		return err
	}
	return stream.NewError(stream.UpstreamError, "relay stream failed", err)
}
