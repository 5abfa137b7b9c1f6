package wire

import "time"

// ReplyType mirrors the server's message classification.
type ReplyType string

const (
	ReplyChat   ReplyType = "CHAT"
	ReplySystem ReplyType = "SYSTEM"
	ReplyError  ReplyType = "ERROR"
)

// ChatRequest is the body published to ChatSend.
type ChatRequest struct {
	Content   string    `json:"content"`
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatReply is the body pushed to InboundChat.
type ChatReply struct {
	Content   string    `json:"content"`
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
	Type      ReplyType `json:"type"`
}

// StreamEvent wraps one raw frame inside an SSE data line.
type StreamEvent struct {
	Frame string `json:"frame"`
}

// StreamEventsPath is the SSE downstream of the HTTP fallback transport.
func StreamEventsPath(sessionID string) string {
	return "/ws/http/" + sessionID + "/events"
}

// StreamSendPath accepts one raw frame per POST for the HTTP fallback transport.
func StreamSendPath(sessionID string) string {
	return "/ws/http/" + sessionID + "/send"
}
