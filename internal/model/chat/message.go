package chat

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zhouzirui/zen-companion/backend/internal/model/stream"
)

// Role identifies who authored a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	default:
		return false
	}
}

// Message is one turn of a conversation. Parts keep their order.
type Message struct {
	ID    string `json:"id"`
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// NewTextMessage builds a single-part text message.
func NewTextMessage(id string, role Role, text string) Message {
	return Message{ID: id, Role: role, Parts: []Part{TextPart{Text: text}}}
}

// Text concatenates the message's text parts.
func (m Message) Text() string {
	var b strings.Builder
	for _, part := range m.Parts {
		switch p := part.(type) {
		case TextPart:
			b.WriteString(p.Text)
		default:
			panic(fmt.Sprintf("chat: unhandled part kind %q", part.PartType()))
		}
	}
	return b.String()
}

type wireMessage struct {
	ID    string            `json:"id"`
	Role  Role              `json:"role"`
	Parts []json.RawMessage `json:"parts"`
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var wire wireMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	parts := make([]Part, 0, len(wire.Parts))
	for i, raw := range wire.Parts {
		part, err := decodePart(raw)
		if err != nil {
			return fmt.Errorf("part %d: %w", i, err)
		}
		parts = append(parts, part)
	}

	m.ID = wire.ID
	m.Role = wire.Role
	m.Parts = parts
	return nil
}

// ChatRequest is the relay request body.
type ChatRequest struct {
	Messages []Message `json:"messages"`
}

// Validate checks that messages form a well-shaped conversation: non-empty,
// unique non-empty ids, known roles, and at least one part per message.
func Validate(messages []Message) error {
	if len(messages) == 0 {
		return stream.NewError(stream.ValidationError, "messages must not be empty", nil)
	}

	seen := make(map[string]struct{}, len(messages))
	for i, msg := range messages {
		if strings.TrimSpace(msg.ID) == "" {
			return invalidf("message %d: id is required", i)
		}
		if _, dup := seen[msg.ID]; dup {
			return invalidf("message %d: duplicate id %q", i, msg.ID)
		}
		seen[msg.ID] = struct{}{}

		if !msg.Role.Valid() {
			return invalidf("message %d: invalid role %q", i, msg.Role)
		}
		if len(msg.Parts) == 0 {
			return invalidf("message %d: parts must not be empty", i)
		}
		for j, part := range msg.Parts {
			if part == nil {
				return invalidf("message %d part %d: missing part", i, j)
			}
		}
	}
	return nil
}

// DecodeRequest parses and validates a relay request body.
func DecodeRequest(data []byte) (ChatRequest, error) {
	var req ChatRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return ChatRequest{}, stream.NewError(stream.ValidationError, "invalid request body", err)
	}
	if err := Validate(req.Messages); err != nil {
		return ChatRequest{}, err
	}
	return req, nil
}

func invalidf(format string, args ...any) error {
	return stream.NewError(stream.ValidationError, fmt.Sprintf(format, args...), nil)
}
