package session

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/google/uuid"

	"github.com/zhouzirui/productivity-assistant/backend/internal/model/chat"
	"github.com/zhouzirui/productivity-assistant/backend/internal/wire"
)

// SendUserMessage appends the user's message and dispatches it over the
// current mode. The REST call in fallback mode runs on its own goroutine;
// a connected-mode publish is one frame write on the caller's goroutine,
// which is a POST on the HTTP stream transport. ErrEmptyMessage and
// ErrSendInFlight leave the log untouched. The text is sent as given.
func (s *Session) SendUserMessage(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrClosed
	case !s.started || s.mode == "":
		s.mu.Unlock()
		return ErrNotStarted
	case s.sending:
		s.mu.Unlock()
		return ErrSendInFlight
	}
	history := s.log.Tail(s.window)
	msg := chat.NewMessage(chat.KindUser, s.sender, text)
	s.log.Append(msg)
	s.draft = ""
	s.composing = true
	mode := s.mode
	if mode == chat.ModeFallback {
		s.sending = true
	}
	s.mu.Unlock()
	s.notify()

	if mode == chat.ModeFallback {
		s.callAssistant(text, history)
		return nil
	}

	req := wire.ChatRequest{Content: text, Sender: s.sender, Timestamp: msg.Timestamp}
	headers := map[string]string{wire.HeaderCorrelationID: uuid.NewString()}
	err := s.channel.Publish(wire.ChatSend, req, headers)
	if err == nil {
		s.armComposingTimeout()
		return nil
	}

	// The channel went away under us; this one message goes over REST.
	s.logger.Warn().Err(err).Msg("publish rejected, sending through fallback")
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	if s.sending {
		s.log.Append(chat.NewMessage(chat.KindError, AssistantSender, FailureMessage))
		s.composing = false
		s.mu.Unlock()
		s.notify()
		return nil
	}
	s.sending = true
	s.mu.Unlock()
	s.callAssistant(text, history)
	return nil
}

// ClearHistory resets the log to a single message. In connected mode the
// server is told to drop its copy too; the frame is written but no reply
// is awaited.
func (s *Session) ClearHistory() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.log.Reset(chat.NewMessage(chat.KindAssistant, AssistantSender, ClearedMessage))
	connected := s.mode == chat.ModeConnected
	s.mu.Unlock()
	s.notify()

	if !connected {
		return
	}
	req := wire.ChatRequest{Sender: s.sender, Timestamp: time.Now().UTC()}
	if err := s.channel.Publish(wire.ChatClear, req, nil); err != nil {
		s.logger.Debug().Err(err).Msg("server history not cleared")
	}
}

// SetDraft replaces the pending input text.
func (s *Session) SetDraft(text string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.draft = text
	s.mu.Unlock()
	s.notify()
}

func (s *Session) callAssistant(text string, history []chat.Message) {
	lines := renderHistory(history)
	go func() {
		reply, err := s.assistant.Chat(s.ctx, text, lines)

		s.mu.Lock()
		defer func() {
			s.sending = false
			s.composing = false
			s.mu.Unlock()
			s.notify()
		}()
		if s.closed {
			return
		}
		if err != nil {
			s.logger.Error().Err(err).Msg("chat request failed")
			s.log.Append(chat.NewMessage(chat.KindError, AssistantSender, FailureMessage))
			return
		}
		s.log.Append(chat.NewMessage(chat.KindAssistant, AssistantSender, reply))
	}()
}

// onReply handles frames pushed to the inbound queue. Replies are not paired
// with sends; the correlation id, when echoed, is only recorded.
func (s *Session) onReply(f *frame.Frame) {
	var reply wire.ChatReply
	if err := json.Unmarshal(f.Body, &reply); err != nil {
		s.logger.Warn().Err(err).Msg("dropping malformed reply")
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if reply.Type == wire.ReplySystem {
		s.mu.Unlock()
		s.logger.Debug().Str("content", reply.Content).Msg("system notice")
		return
	}

	kind := chat.KindAssistant
	if reply.Type == wire.ReplyError {
		kind = chat.KindError
	}
	msg := chat.Message{
		Content:   reply.Content,
		Sender:    reply.Sender,
		Timestamp: reply.Timestamp,
		Kind:      kind,
		ReplyTo:   f.Header.Get(wire.HeaderCorrelationID),
	}
	if msg.Sender == "" {
		msg.Sender = AssistantSender
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	s.log.Append(msg)
	s.composing = false
	s.composingGen++
	s.mu.Unlock()
	s.notify()
}

// armComposingTimeout bounds the indicator when no reply arrives.
func (s *Session) armComposingTimeout() {
	s.mu.Lock()
	s.composingGen++
	gen := s.composingGen
	s.mu.Unlock()

	time.AfterFunc(s.composeTO, func() {
		s.mu.Lock()
		expired := !s.closed && s.composing && !s.sending && s.composingGen == gen
		if expired {
			s.composing = false
		}
		s.mu.Unlock()
		if expired {
			s.logger.Debug().Msg("no reply before composing timeout")
			s.notify()
		}
	})
}

func renderHistory(history []chat.Message) []string {
	lines := make([]string, 0, len(history))
	for _, m := range history {
		speaker := "Assistant"
		if m.Kind == chat.KindUser {
			speaker = "User"
		}
		lines = append(lines, speaker+": "+m.Content)
	}
	return lines
}
