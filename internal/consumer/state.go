package consumer

// State is the consumer's position in a request/response cycle.
type State string

const (
	StateIdle       State = "idle"
	StateSubmitting State = "submitting"
	StateStreaming  State = "streaming"
	StateError      State = "error"
)

// InFlight reports whether a relay call is outstanding.
func (s State) InFlight() bool {
	return s == StateSubmitting || s == StateStreaming
}

// Update is delivered to the Listener after every observable change.
// Delta is set for appended text; Message for a user or assistant message that
// was added to the conversation; Err when the state becomes StateError.
type Update struct {
	State   State
	Delta   string
	Message *Message
	Err     error
}

// Listener receives updates one at a time, in the order the changes happened.
// It runs on the stream goroutine or on the goroutine calling Submit or Cancel,
// never while the consumer holds its lock, so it may call back into the
// consumer. Reply content from a cancelled call is never delivered after the
// cancellation.
type Listener func(Update)
