package chat

import "time"

// Kind classifies a log entry for rendering.
type Kind string

const (
	KindUser      Kind = "user"
	KindAssistant Kind = "assistant"
	KindError     Kind = "error"
)

// Message is one turn in the conversation log. It is never mutated after it is appended.
type Message struct {
	Content   string    `json:"content"`
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
	Kind      Kind      `json:"type"`
	// ReplyTo holds the correlation id echoed by the server, when there was one.
	ReplyTo string `json:"replyTo,omitempty"`
}

// NewMessage stamps a message with the current UTC time.
func NewMessage(kind Kind, sender, content string) Message {
	return Message{
		Content:   content,
		Sender:    sender,
		Timestamp: time.Now().UTC(),
		Kind:      kind,
	}
}
