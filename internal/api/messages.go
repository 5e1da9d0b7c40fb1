package api

import (
	"context"
	"sync"
	"time"
)

const maxMessages = 200

// Message is a user-visible system message.
type Message struct {
	Role string    `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// MessageLog keeps the most recent system messages for UI callers. It
// implements types.MessageSink.
type MessageLog struct {
	mu   sync.Mutex
	msgs []Message
}

// NewMessageLog creates an empty log.
func NewMessageLog() *MessageLog {
	return &MessageLog{}
}

// SystemMessage appends a system-role message.
func (l *MessageLog) SystemMessage(_ context.Context, text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, Message{Role: "system", Text: text, At: time.Now()})
	if len(l.msgs) > maxMessages {
		l.msgs = append([]Message(nil), l.msgs[len(l.msgs)-maxMessages:]...)
	}
}

// List returns messages oldest first.
func (l *MessageLog) List() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Message{}, l.msgs...)
}
