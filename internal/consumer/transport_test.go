package consumer_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/zen-companion/backend/internal/consumer"
	"github.com/zhouzirui/zen-companion/backend/internal/handler"
	"github.com/zhouzirui/zen-companion/backend/internal/handler/stream"
	"github.com/zhouzirui/zen-companion/backend/internal/model/chat"
	"github.com/zhouzirui/zen-companion/backend/internal/model/persona"
	streammodel "github.com/zhouzirui/zen-companion/backend/internal/model/stream"
	"github.com/zhouzirui/zen-companion/backend/internal/service/relay"
)

// wellnessModel streams a canned reply, optionally stalling until cancelled.
type wellnessModel struct {
	reply []string
	stall bool

	cancelled chan struct{}
	once      sync.Once
}

func (m *wellnessModel) StreamReply(ctx context.Context, _ []chat.Message) (*schema.StreamReader[*schema.Message], error) {
	sr, sw := schema.Pipe[*schema.Message](len(m.reply) + 1)
	go func() {
		defer sw.Close()
		for _, d := range m.reply {
			if closed := sw.Send(schema.AssistantMessage(d, nil), nil); closed {
				return
			}
		}
		if m.stall {
			<-ctx.Done()
			m.once.Do(func() { close(m.cancelled) })
			sw.Send(nil, ctx.Err())
		}
	}()
	return sr, nil
}

func startRelay(t *testing.T, model relay.Streamer, maxDuration time.Duration) string {
	t.Helper()
	var relayer stream.Relayer
	if model != nil {
		relayer = relay.New(model, maxDuration)
	}
	srv := httptest.NewServer(handler.NewRouter(persona.NewMemoryStore(persona.Seed()), persona.DefaultID, relayer))
	t.Cleanup(srv.Close)
	return srv.URL
}

type stateLog struct {
	mu     sync.Mutex
	states []consumer.State
	deltas []string
}

func (l *stateLog) listen(u consumer.Update) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n := len(l.states); n == 0 || l.states[n-1] != u.State {
		l.states = append(l.states, u.State)
	}
	if u.Delta != "" {
		l.deltas = append(l.deltas, u.Delta)
	}
}

func waitIdle(t *testing.T, c *consumer.Consumer) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func transports(baseURL string) map[string]consumer.Transport {
	return map[string]consumer.Transport{
		"sse":       consumer.NewHTTPTransport(baseURL, nil),
		"websocket": consumer.NewWebSocketTransport(baseURL, nil),
	}
}

func TestEndToEndConversation(t *testing.T) {
	baseURL := startRelay(t, &wellnessModel{reply: []string{"Let's ", "take a slow ", "breath together."}}, time.Second)

	for name, transport := range transports(baseURL) {
		t.Run(name, func(t *testing.T) {
			log := &stateLog{}
			c := consumer.New(transport, nil, consumer.WithListener(log.listen))

			if c.State() != consumer.StateIdle {
				t.Fatalf("expected idle, got %s", c.State())
			}
			if err := c.Submit(context.Background(), "I feel anxious today"); err != nil {
				t.Fatalf("submit: %v", err)
			}
			waitIdle(t, c)

			want := []consumer.State{consumer.StateSubmitting, consumer.StateStreaming, consumer.StateIdle}
			log.mu.Lock()
			states, deltas := log.states, log.deltas
			log.mu.Unlock()
			if len(states) != len(want) {
				t.Fatalf("states = %v, want %v", states, want)
			}
			for i := range want {
				if states[i] != want[i] {
					t.Fatalf("states = %v, want %v", states, want)
				}
			}

			msgs := c.Conversation().Messages()
			if len(msgs) != 2 {
				t.Fatalf("expected [user, assistant], got %d messages", len(msgs))
			}
			if msgs[0].Role != chat.RoleUser || msgs[1].Role != chat.RoleAssistant {
				t.Fatalf("unexpected roles %s, %s", msgs[0].Role, msgs[1].Role)
			}
			var joined string
			for _, d := range deltas {
				joined += d
			}
			if msgs[1].Text() == "" || msgs[1].Text() != joined {
				t.Fatalf("assistant text %q does not match deltas %q", msgs[1].Text(), joined)
			}
		})
	}
}

func TestEndToEndTimeout(t *testing.T) {
	baseURL := startRelay(t, &wellnessModel{reply: []string{"Let's "}, stall: true, cancelled: make(chan struct{})}, 50*time.Millisecond)

	for name, transport := range transports(baseURL) {
		t.Run(name, func(t *testing.T) {
			c := consumer.New(transport, nil)
			if err := c.Submit(context.Background(), "I feel anxious today"); err != nil {
				t.Fatalf("submit: %v", err)
			}
			waitIdle(t, c)

			if c.State() != consumer.StateError {
				t.Fatalf("expected error state, got %s", c.State())
			}
			if !errors.Is(c.LastError(), streammodel.ErrTimeout) {
				t.Fatalf("expected TimeoutError, got %v", c.LastError())
			}
			if c.Conversation().Len() != 1 {
				t.Fatalf("timed out reply must not be kept, got %d messages", c.Conversation().Len())
			}
		})
	}
}

func TestEndToEndCancelReachesUpstream(t *testing.T) {
	for _, name := range []string{"sse", "websocket"} {
		t.Run(name, func(t *testing.T) {
			model := &wellnessModel{reply: []string{"Let's "}, stall: true, cancelled: make(chan struct{})}
			baseURL := startRelay(t, model, 5*time.Second)

			streaming := make(chan struct{})
			var once sync.Once
			c := consumer.New(transports(baseURL)[name], nil, consumer.WithListener(func(u consumer.Update) {
				if u.State == consumer.StateStreaming {
					once.Do(func() { close(streaming) })
				}
			}))

			if err := c.Submit(context.Background(), "I feel anxious today"); err != nil {
				t.Fatalf("submit: %v", err)
			}
			select {
			case <-streaming:
			case <-time.After(2 * time.Second):
				t.Fatal("never started streaming")
			}

			if !c.Cancel() {
				t.Fatal("expected an in-flight call")
			}
			select {
			case <-model.cancelled:
			case <-time.After(2 * time.Second):
				t.Fatal("relay did not cancel the provider call")
			}
			waitIdle(t, c)

			if c.State() != consumer.StateIdle || c.LastError() != nil {
				t.Fatalf("expected clean idle, got %s %v", c.State(), c.LastError())
			}
			if c.Conversation().Len() != 1 {
				t.Fatalf("conversation changed after cancel: %d", c.Conversation().Len())
			}
		})
	}
}

func TestHTTPTransportMapsStatusErrors(t *testing.T) {
	t.Run("validation", func(t *testing.T) {
		transport := consumer.NewHTTPTransport(startRelay(t, &wellnessModel{}, time.Second), nil)
		for _, err := range transport.Stream(context.Background(), nil) {
			if !errors.Is(err, streammodel.ErrValidation) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			return
		}
		t.Fatal("expected an error")
	})

	t.Run("unavailable", func(t *testing.T) {
		transport := consumer.NewHTTPTransport(startRelay(t, nil, time.Second), nil)
		msgs := []chat.Message{chat.NewTextMessage("u1", chat.RoleUser, "hi")}
		for _, err := range transport.Stream(context.Background(), msgs) {
			if !errors.Is(err, streammodel.ErrUpstream) {
				t.Fatalf("expected UpstreamError, got %v", err)
			}
			return
		}
		t.Fatal("expected an error")
	})
}

func TestWebSocketTransportReportsValidation(t *testing.T) {
	transport := consumer.NewWebSocketTransport(startRelay(t, &wellnessModel{}, time.Second), nil)
	for chunk, err := range transport.Stream(context.Background(), nil) {
		if err != nil {
			t.Fatalf("unexpected transport error %v", err)
		}
		if !errors.Is(chunk.Err(), streammodel.ErrValidation) {
			t.Fatalf("expected validation chunk, got %+v", chunk)
		}
		return
	}
	t.Fatal("expected a chunk")
}
