package chat

import "sync"

// Log is the ordered, append-only conversation record of one session.
type Log struct {
	mu       sync.RWMutex
	messages []Message
}

// NewLog returns an empty log.
func NewLog() *Log {
	return &Log{messages: make([]Message, 0, 16)}
}

// Append adds a message at the end of the log.
func (l *Log) Append(msg Message) {
	l.mu.Lock()
	l.messages = append(l.messages, msg)
	l.mu.Unlock()
}

// Reset replaces the whole log with a single message.
func (l *Log) Reset(msg Message) {
	l.mu.Lock()
	l.messages = []Message{msg}
	l.mu.Unlock()
}

// Len reports the number of entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}

// Messages returns a copy of the log in append order.
func (l *Log) Messages() []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	copied := make([]Message, len(l.messages))
	copy(copied, l.messages)
	return copied
}

// Tail returns a copy of the last n entries.
func (l *Log) Tail(n int) []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 {
		return nil
	}
	start := 0
	if len(l.messages) > n {
		start = len(l.messages) - n
	}
	copied := make([]Message, len(l.messages)-start)
	copy(copied, l.messages[start:])
	return copied
}
