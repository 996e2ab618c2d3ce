package stream

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	streammodel "github.com/zhouzirui/zen-companion/backend/internal/model/stream"
)

func dialChat(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(url, "http") + "/chat/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readFrames collects chunk frames until the server closes the socket.
func readFrames(t *testing.T, conn *websocket.Conn) ([]streammodel.Chunk, error) {
	t.Helper()
	var chunks []streammodel.Chunk
	for {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var c streammodel.Chunk
		if err := conn.ReadJSON(&c); err != nil {
			return chunks, err
		}
		chunks = append(chunks, c)
	}
}

func TestWebSocketRelaysChunks(t *testing.T) {
	srv := newTestServer(t, newFakeStreamer("Inhale. ", "Exhale."))
	conn := dialChat(t, srv.URL)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(anxiousBody)); err != nil {
		t.Fatalf("write: %v", err)
	}

	chunks, err := readFrames(t, conn)
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close, got %v", err)
	}
	if len(chunks) != 3 || chunks[2].Type != streammodel.TypeFinish {
		t.Fatalf("unexpected frames %+v", chunks)
	}
	if chunks[0].Text+chunks[1].Text != "Inhale. Exhale." {
		t.Fatalf("unexpected text %+v", chunks)
	}
}

func TestWebSocketValidationFrame(t *testing.T) {
	upstream := newFakeStreamer("never")
	srv := newTestServer(t, upstream)
	conn := dialChat(t, srv.URL)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"messages":[]}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	chunks, _ := readFrames(t, conn)
	if len(chunks) != 1 {
		t.Fatalf("expected one error frame, got %+v", chunks)
	}
	if !errors.Is(chunks[0].Err(), streammodel.ErrValidation) {
		t.Fatalf("expected validation error, got %+v", chunks[0])
	}
	if upstream.callCount() != 0 {
		t.Fatal("upstream must not be called")
	}
}

func TestWebSocketCancelStopsUpstream(t *testing.T) {
	upstream := newFakeStreamer("Let's ")
	upstream.block = true
	srv := newTestServer(t, upstream)
	conn := dialChat(t, srv.URL)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(anxiousBody)); err != nil {
		t.Fatalf("write: %v", err)
	}

	var first streammodel.Chunk
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read first: %v", err)
	}
	if first.Type != streammodel.TypeTextDelta {
		t.Fatalf("expected delta, got %+v", first)
	}

	if err := conn.WriteJSON(controlFrame{Type: "cancel"}); err != nil {
		t.Fatalf("write cancel: %v", err)
	}

	select {
	case <-upstream.cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("upstream was not cancelled")
	}

	rest, err := readFrames(t, conn)
	if len(rest) != 0 {
		t.Fatalf("expected no chunks after cancel, got %+v", rest)
	}
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close, got %v", err)
	}
}
