// Package history defines the conversation history collaborator the agent
// loop depends on. Storage and persistence live behind the Store interface;
// the in-memory implementation is suitable for tests and the builtin mode.
package history

import (
	"sync"

	"github.com/lumipet/lumipet/core"
)

// Store is the append/read contract for conversation history. Appends are
// strictly sequential per conversation.
type Store interface {
	// AddMessage appends one message to the current conversation.
	AddMessage(msg core.ChatMessage)

	// History returns up to maxCount trailing messages in order. maxCount <= 0
	// returns the full history.
	History(maxCount int) []core.ChatMessage

	// Clear removes all messages of the current conversation.
	Clear()

	// ConversationID identifies the current conversation.
	ConversationID() string
}

// InMemoryStore is a volatile Store keeping the conversation in a process
// local slice. Reads return copies so callers never alias internal state.
type InMemoryStore struct {
	mu       sync.RWMutex
	id       string
	messages []core.ChatMessage
}

// NewInMemoryStore creates an empty store with a fresh conversation id.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{id: core.NewID()}
}

// AddMessage implements Store.
func (s *InMemoryStore) AddMessage(msg core.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
}

// History implements Store.
func (s *InMemoryStore) History(maxCount int) []core.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.messages)
	if maxCount > 0 && maxCount < n {
		n = maxCount
	}
	out := make([]core.ChatMessage, n)
	copy(out, s.messages[len(s.messages)-n:])
	return out
}

// Clear implements Store.
func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
}

// ConversationID implements Store.
func (s *InMemoryStore) ConversationID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// NewConversation clears the history and rotates the conversation id.
func (s *InMemoryStore) NewConversation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.id = core.NewID()
	return s.id
}
