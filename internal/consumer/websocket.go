package consumer

import (
	"context"
	"iter"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/zen-companion/backend/internal/model/chat"
	"github.com/zhouzirui/zen-companion/backend/internal/model/stream"
)

const cancelWait = 2 * time.Second

// WebSocketTransport runs each relay call over its own WebSocket connection.
type WebSocketTransport struct {
	url    string
	dialer *websocket.Dialer
}

// NewWebSocketTransport targets baseURL + "/api/chat/ws"; http(s) schemes are
// rewritten to ws(s).
func NewWebSocketTransport(baseURL string, dialer *websocket.Dialer) *WebSocketTransport {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	url := strings.TrimRight(baseURL, "/") + "/api/chat/ws"
	switch {
	case strings.HasPrefix(url, "https://"):
		url = "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		url = "ws://" + strings.TrimPrefix(url, "http://")
	}
	return &WebSocketTransport{url: url, dialer: dialer}
}

func (t *WebSocketTransport) Stream(ctx context.Context, messages []chat.Message) iter.Seq2[stream.Chunk, error] {
	return func(yield func(stream.Chunk, error) bool) {
		conn, _, err := t.dialer.DialContext(ctx, t.url, nil)
		if err != nil {
			yield(stream.Chunk{}, transportError(ctx, err))
			return
		}
		defer conn.Close()

		if err := conn.WriteJSON(chat.ChatRequest{Messages: messages}); err != nil {
			yield(stream.Chunk{}, transportError(ctx, err))
			return
		}

		finished := make(chan struct{})
		defer close(finished)
		go func() {
			select {
			case <-ctx.Done():
				// The read loop below is the only reader, this goroutine the only writer.
				_ = conn.SetWriteDeadline(time.Now().Add(cancelWait))
				_ = conn.WriteJSON(map[string]string{"type": "cancel"})
				conn.Close()
			case <-finished:
			}
		}()

		for {
			var chunk stream.Chunk
			if err := conn.ReadJSON(&chunk); err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure) && ctx.Err() == nil {
					return
				}
				yield(stream.Chunk{}, transportError(ctx, err))
				return
			}
			if !yield(chunk, nil) || chunk.Terminal() {
				return
			}
		}
	}
}
