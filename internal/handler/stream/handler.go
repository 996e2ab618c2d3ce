package stream

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/zen-companion/backend/internal/model/chat"
	streammodel "github.com/zhouzirui/zen-companion/backend/internal/model/stream"
	"github.com/zhouzirui/zen-companion/backend/internal/service/relay"
	"github.com/zhouzirui/zen-companion/backend/pkg/utils"
)

const maxRequestBytes = 1 << 20

// Relayer runs one relay call into a sink.
type Relayer interface {
	Run(ctx context.Context, messages []chat.Message, sink relay.Sink) error
}

// Handler exposes the chat relay over SSE and WebSocket.
type Handler struct {
	relay    Relayer
	upgrader websocket.Upgrader
}

// New creates a stream handler.
func New(r Relayer) *Handler {
	return &Handler{
		relay: r,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// RegisterRoutes 注册聊天中继路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)
	r.Get("/chat/ws", h.handleWebSocket)
}

// handleChat relays the posted conversation as a Server-Sent Events stream.
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		utils.RespondKindError(w, http.StatusBadRequest, string(streammodel.ValidationError), "invalid request body")
		return
	}

	req, err := chat.DecodeRequest(body)
	if err != nil {
		utils.RespondKindError(w, http.StatusBadRequest, string(streammodel.ValidationError), err.Error())
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sink := relay.SinkFunc(func(c streammodel.Chunk) error {
		return utils.SendSSEChunk(w, flusher, c)
	})

	err = h.relay.Run(r.Context(), req.Messages, sink)
	logOutcome("sse", len(req.Messages), err)
}

func logOutcome(transport string, turns int, err error) {
	switch {
	case err == nil:
		log.Printf("[stream] %s relay finished turns=%d", transport, turns)
	case errors.Is(err, streammodel.ErrAborted):
		// already logged by the relay
	default:
		log.Printf("[stream] %s relay ended with %s: %v", transport, streammodel.KindOf(err), err)
	}
}
