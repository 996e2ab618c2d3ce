package chat

import (
	"encoding/json"
	"fmt"
)

// PartType tags a message part on the wire.
type PartType string

const PartText PartType = "text"

// Part is one typed piece of message content. The set of variants is closed:
// only types in this package implement it.
type Part interface {
	PartType() PartType
	isPart()
}

// TextPart carries plain text.
type TextPart struct {
	Text string
}

func (TextPart) PartType() PartType { return PartText }
func (TextPart) isPart()            {}

func (p TextPart) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type PartType `json:"type"`
		Text string   `json:"text"`
	}{Type: PartText, Text: p.Text})
}

func decodePart(raw json.RawMessage) (Part, error) {
	var head struct {
		Type PartType `json:"type"`
		Text *string  `json:"text"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, err
	}

	switch head.Type {
	case PartText:
		if head.Text == nil {
			return nil, fmt.Errorf("text part missing text")
		}
		return TextPart{Text: *head.Text}, nil
	case "":
		return nil, fmt.Errorf("part type is required")
	default:
		return nil, fmt.Errorf("unsupported part type %q", head.Type)
	}
}
