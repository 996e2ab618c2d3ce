package consumer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"strings"

	"github.com/zhouzirui/zen-companion/backend/internal/model/chat"
	"github.com/zhouzirui/zen-companion/backend/internal/model/stream"
	"github.com/zhouzirui/zen-companion/backend/pkg/utils"
)

// HTTPTransport posts the conversation to the relay and reads the SSE reply.
type HTTPTransport struct {
	endpoint string
	client   *http.Client
}

// NewHTTPTransport targets baseURL + "/api/chat". A nil client uses
// http.DefaultClient; it should not set a Timeout shorter than a reply.
func NewHTTPTransport(baseURL string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTransport{
		endpoint: strings.TrimRight(baseURL, "/") + "/api/chat",
		client:   client,
	}
}

func (t *HTTPTransport) Stream(ctx context.Context, messages []chat.Message) iter.Seq2[stream.Chunk, error] {
	return func(yield func(stream.Chunk, error) bool) {
		body, err := json.Marshal(chat.ChatRequest{Messages: messages})
		if err != nil {
			yield(stream.Chunk{}, fmt.Errorf("encode chat request: %w", err))
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
		if err != nil {
			yield(stream.Chunk{}, fmt.Errorf("build chat request: %w", err))
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")

		resp, err := t.client.Do(req)
		if err != nil {
			yield(stream.Chunk{}, transportError(ctx, err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			yield(stream.Chunk{}, statusError(resp))
			return
		}

		for data, err := range utils.ReadSSEData(resp.Body) {
			if err != nil {
				yield(stream.Chunk{}, transportError(ctx, err))
				return
			}
			chunk, err := decodeChunk(data)
			if err != nil {
				yield(stream.Chunk{}, err)
				return
			}
			if !yield(chunk, nil) || chunk.Terminal() {
				return
			}
		}
	}
}

func decodeChunk(data []byte) (stream.Chunk, error) {
	var chunk stream.Chunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return stream.Chunk{}, stream.NewError(stream.UpstreamError, "malformed chunk", err)
	}
	return chunk, nil
}

// statusError maps a non-200 relay response onto the error taxonomy. The body's
// kind wins; otherwise 4xx is a validation failure and the rest upstream.
func statusError(resp *http.Response) error {
	var body utils.ErrorBody
	_ = json.NewDecoder(resp.Body).Decode(&body)

	kind := stream.ErrorKind(body.Kind)
	if kind == "" {
		kind = stream.UpstreamError
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			kind = stream.ValidationError
		}
	}

	msg := body.Error
	if msg == "" {
		msg = resp.Status
	}
	return stream.NewError(kind, msg, nil)
}

// transportError classifies a connection failure. A cancelled ctx means the
// caller walked away.
func transportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return stream.NewError(stream.AbortedError, "relay call cancelled", ctx.Err())
	}
	return stream.NewError(stream.UpstreamError, "relay connection failed", err)
}
