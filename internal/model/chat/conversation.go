package chat

import "sync"

// Conversation is an append-only ordered list of finalized messages. It is
// owned by whoever drives the chat and safe for concurrent use.
type Conversation struct {
	mu       sync.RWMutex
	messages []Message
}

// NewConversation returns a conversation seeded with a copy of history.
func NewConversation(history ...Message) *Conversation {
	return &Conversation{messages: append([]Message(nil), history...)}
}

// Append adds a finalized message to the end.
func (c *Conversation) Append(msg Message) {
	c.mu.Lock()
	c.messages = append(c.messages, msg)
	c.mu.Unlock()
}

// Messages returns a snapshot of the conversation.
func (c *Conversation) Messages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Message(nil), c.messages...)
}

// Len returns the number of finalized messages.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// Last returns the most recent message, if any.
func (c *Conversation) Last() (Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.messages) == 0 {
		return Message{}, false
	}
	return c.messages[len(c.messages)-1], true
}
