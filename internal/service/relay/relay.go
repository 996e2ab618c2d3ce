// Package relay forwards a conversation to the completion provider and
// re-emits its output as stream chunks. It keeps no state between calls.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/zen-companion/backend/internal/model/chat"
	"github.com/zhouzirui/zen-companion/backend/internal/model/stream"
)

// DefaultMaxDuration caps one relay call when no ceiling is configured.
const DefaultMaxDuration = 30 * time.Second

// Streamer produces the assistant reply for a conversation. The reader should
// stop when ctx ends; Run enforces its ceiling even when it does not.
type Streamer interface {
	StreamReply(ctx context.Context, messages []chat.Message) (*schema.StreamReader[*schema.Message], error)
}

// Sink receives chunks in emission order. A Send error means the client is gone.
type Sink interface {
	Send(chunk stream.Chunk) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(stream.Chunk) error

func (f SinkFunc) Send(chunk stream.Chunk) error { return f(chunk) }

// Relay runs relay calls against one provider.
type Relay struct {
	model       Streamer
	maxDuration time.Duration
}

// New returns a Relay. A non-positive maxDuration selects DefaultMaxDuration.
func New(model Streamer, maxDuration time.Duration) *Relay {
	if maxDuration <= 0 {
		maxDuration = DefaultMaxDuration
	}
	return &Relay{model: model, maxDuration: maxDuration}
}

// MaxDuration reports the wall-clock ceiling per call.
func (r *Relay) MaxDuration() time.Duration {
	return r.maxDuration
}

// Run relays one conversation. On success the sink sees zero or more text
// deltas followed by exactly one finish chunk and Run returns nil. Upstream and
// timeout failures end the stream with one error chunk and are returned.
// Validation failures and client aborts emit nothing.
func (r *Relay) Run(ctx context.Context, messages []chat.Message, sink Sink) error {
	if err := chat.Validate(messages); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeoutCause(ctx, r.maxDuration, stream.ErrTimeout)
	defer cancel()

	reader, err := r.model.StreamReply(callCtx, messages)
	if err != nil {
		return r.fail(ctx, callCtx, sink, err)
	}
	defer reader.Close()

	results := receive(callCtx, reader)
	for {
		var res received
		select {
		case res = <-results:
		case <-callCtx.Done():
			return r.fail(ctx, callCtx, sink, context.Cause(callCtx))
		}
		if errors.Is(res.err, io.EOF) {
			break
		}
		if res.err != nil {
			return r.fail(ctx, callCtx, sink, res.err)
		}
		if callCtx.Err() != nil {
			return r.fail(ctx, callCtx, sink, context.Cause(callCtx))
		}
		if res.msg == nil || res.msg.Content == "" {
			continue
		}
		if err := sink.Send(stream.TextDelta(res.msg.Content)); err != nil {
			return r.abort(err)
		}
	}

	// Upstream may close cleanly after the deadline fired; that is still a timeout.
	if callCtx.Err() != nil {
		return r.fail(ctx, callCtx, sink, callCtx.Err())
	}

	if err := sink.Send(stream.Finish()); err != nil {
		return r.abort(err)
	}
	return nil
}

func (r *Relay) fail(parent, callCtx context.Context, sink Sink, cause error) error {
	if parent.Err() != nil {
		return r.abort(cause)
	}

	var failure *stream.Error
	if errors.Is(context.Cause(callCtx), stream.ErrTimeout) {
		failure = stream.NewError(stream.TimeoutError, fmt.Sprintf("relay call exceeded %s", r.maxDuration), nil)
	} else {
		failure = stream.NewError(stream.UpstreamError, "completion provider failed", cause)
	}

	log.Printf("[relay] call failed kind=%s: %v", failure.Kind, failure)
	// Provider detail stays in the log; clients see the classified message.
	if err := sink.Send(stream.Failure(failure.Kind, failure.Message)); err != nil {
		return r.abort(err)
	}
	return failure
}

func (r *Relay) abort(cause error) error {
	log.Printf("[relay] chat aborted: %v", cause)
	return stream.NewError(stream.AbortedError, "relay call aborted by client", cause)
}

type received struct {
	msg *schema.Message
	err error
}

// receive pumps reader on its own goroutine so Run can stop waiting when ctx
// ends even if Recv does not. The goroutine exits after the first error or
// once ctx is done and nobody reads the next result.
func receive(ctx context.Context, reader *schema.StreamReader[*schema.Message]) <-chan received {
	out := make(chan received)
	go func() {
		for {
			msg, err := reader.Recv()
			select {
			case out <- received{msg: msg, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return out
}
