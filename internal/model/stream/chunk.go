package stream

// ChunkType tags one unit of relay output.
type ChunkType string

const (
	TypeTextDelta ChunkType = "text-delta"
	TypeFinish    ChunkType = "finish"
	TypeError     ChunkType = "error"
)

// Chunk is the wire form of a single relay event. Text is set for text-delta,
// Kind and Message for error; finish carries nothing.
type Chunk struct {
	Type    ChunkType `json:"type"`
	Text    string    `json:"text,omitempty"`
	Kind    ErrorKind `json:"kind,omitempty"`
	Message string    `json:"message,omitempty"`
}

// TextDelta builds a chunk that appends text to the assistant reply.
func TextDelta(text string) Chunk {
	return Chunk{Type: TypeTextDelta, Text: text}
}

// Finish builds the successful terminal chunk.
func Finish() Chunk {
	return Chunk{Type: TypeFinish}
}

// Failure builds the error terminal chunk.
func Failure(kind ErrorKind, message string) Chunk {
	return Chunk{Type: TypeError, Kind: kind, Message: message}
}

// FailureFrom converts an error into an error chunk, defaulting to UpstreamError
// when the error carries no kind.
func FailureFrom(err error) Chunk {
	kind := KindOf(err)
	if kind == "" {
		kind = UpstreamError
	}
	return Failure(kind, err.Error())
}

// Terminal reports whether no further chunks follow this one.
func (c Chunk) Terminal() bool {
	return c.Type == TypeFinish || c.Type == TypeError
}

// Err returns the error described by an error chunk and nil for any other type.
func (c Chunk) Err() error {
	if c.Type != TypeError {
		return nil
	}
	kind := c.Kind
	if kind == "" {
		kind = UpstreamError
	}
	return &Error{Kind: kind, Message: c.Message}
}
