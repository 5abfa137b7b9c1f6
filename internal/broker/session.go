package broker

import (
	"sync"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/productivity-assistant/backend/internal/wire"
)

// session is one authenticated STOMP connection.
type session struct {
	id   string
	user string
	conn wire.Conn
	send chan *frame.Frame

	mu     sync.Mutex
	closed bool
	subs   map[string]string
}

func newSession(user string, conn wire.Conn) *session {
	return &session{
		id:   uuid.NewString(),
		user: user,
		conn: conn,
		send: make(chan *frame.Frame, sendQueueSize),
		subs: make(map[string]string),
	}
}

func (s *session) subscribe(id, destination string) {
	if id == "" || destination == "" {
		return
	}
	s.mu.Lock()
	s.subs[id] = destination
	s.mu.Unlock()
}

func (s *session) unsubscribe(id string) {
	s.mu.Lock()
	delete(s.subs, id)
	s.mu.Unlock()
}

func (s *session) subscriptionFor(destination string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, dest := range s.subs {
		if dest == destination {
			return id, true
		}
	}
	return "", false
}

// receipt acknowledges f when the client asked for it.
func (s *session) receipt(f *frame.Frame) {
	if id := f.Header.Get(frame.Receipt); id != "" {
		s.enqueue(frame.New(frame.RECEIPT, frame.ReceiptId, id))
	}
}

// enqueue drops the session when its queue is full; a stalled reader must not block the broker.
func (s *session) enqueue(f *frame.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.send <- f:
	default:
		s.closeLocked()
		s.conn.Close()
	}
}

func (s *session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *session) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.send)
}

func (s *session) writeLoop(logger zerolog.Logger) {
	for f := range s.send {
		if err := s.conn.WriteFrame(f); err != nil {
			logger.Debug().Err(err).Str("command", f.Command).Msg("write failed")
		}
	}
}
