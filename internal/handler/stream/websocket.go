package stream

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/zen-companion/backend/internal/model/chat"
	streammodel "github.com/zhouzirui/zen-companion/backend/internal/model/stream"
	"github.com/zhouzirui/zen-companion/backend/internal/service/relay"
)

const writeWait = 10 * time.Second

// controlFrame is a client message sent after the initial request.
type controlFrame struct {
	Type string `json:"type"`
}

// handleWebSocket relays one conversation per connection. The first client
// frame carries the request; a later {"type":"cancel"} frame or a dropped
// socket aborts the call.
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	conn.SetReadLimit(maxRequestBytes)

	_, data, err := conn.ReadMessage()
	if err != nil {
		log.Printf("[ws] read request failed: %v", err)
		return
	}

	req, err := chat.DecodeRequest(data)
	if err != nil {
		h.writeFrame(conn, streammodel.Failure(streammodel.ValidationError, err.Error()))
		closeNormally(conn)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go watchControl(conn, cancel)

	sink := relay.SinkFunc(func(c streammodel.Chunk) error {
		return h.writeFrame(conn, c)
	})

	err = h.relay.Run(ctx, req.Messages, sink)
	logOutcome("ws", len(req.Messages), err)
	closeNormally(conn)
}

// watchControl cancels the relay call on a cancel frame or read failure.
func watchControl(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame controlFrame
		if json.Unmarshal(data, &frame) == nil && frame.Type == "cancel" {
			log.Printf("[ws] client requested cancel")
			return
		}
	}
}

func (h *Handler) writeFrame(conn *websocket.Conn, c streammodel.Chunk) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(c)
}

func closeNormally(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
