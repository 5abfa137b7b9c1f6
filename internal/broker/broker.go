// Package broker is the server side of the chat channel: it authenticates
// STOMP sessions, routes chat sends to the responder and pushes replies to
// every session of the sending user.
package broker

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/productivity-assistant/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/productivity-assistant/backend/internal/service/chat"
	"github.com/zhouzirui/productivity-assistant/backend/internal/wire"
)

const (
	assistantSender = "AI Assistant"
	clearedNotice   = "Conversation history cleared."
	failureNotice   = "Sorry, I encountered an error processing your message."
	sendQueueSize   = 64
)

var (
	ErrUnauthorized = errors.New("broker: invalid credentials")
	ErrProtocol     = errors.New("broker: protocol violation")
)

// Authenticator resolves a bearer token to a user name.
type Authenticator interface {
	Authenticate(token string) (user string, ok bool)
}

// TokenAuthenticator is a static token to user table.
type TokenAuthenticator map[string]string

func (t TokenAuthenticator) Authenticate(token string) (string, bool) {
	user, ok := t[strings.TrimSpace(token)]
	return user, ok && user != ""
}

// Options configures a Broker.
type Options struct {
	Auth          Authenticator
	Conversations *chatservice.Service
	Responder     ai.Responder
	Logger        zerolog.Logger
}

// Broker tracks live sessions per user.
type Broker struct {
	auth      Authenticator
	conv      *chatservice.Service
	responder ai.Responder
	logger    zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]map[*session]struct{}
}

// New creates a Broker.
func New(opts Options) *Broker {
	conv := opts.Conversations
	if conv == nil {
		conv = chatservice.NewService(20)
	}
	responder := opts.Responder
	if responder == nil {
		responder = ai.EchoResponder{}
	}
	return &Broker{
		auth:      opts.Auth,
		conv:      conv,
		responder: responder,
		logger:    opts.Logger.With().Str("component", "broker").Logger(),
		sessions:  make(map[string]map[*session]struct{}),
	}
}

// Serve runs one STOMP session on conn until the peer disconnects or ctx ends.
// It returns an error only when the handshake fails.
func (b *Broker) Serve(ctx context.Context, conn wire.Conn) error {
	defer conn.Close()

	// External cancellation unblocks the reader. Frames already queued are still
	// written after reqCtx is cancelled.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	user, err := b.handshake(conn)
	if err != nil {
		b.logger.Warn().Err(err).Msg("handshake rejected")
		return err
	}

	s := newSession(user, conn)
	b.register(s)
	defer b.unregister(s)

	logger := b.logger.With().Str("session", s.id).Str("user", user).Logger()
	logger.Info().Msg("session opened")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(logger)
	}()

	var requests sync.WaitGroup
	b.readLoop(reqCtx, s, &requests, logger)

	cancel()
	requests.Wait()
	s.close()
	<-writerDone

	logger.Info().Msg("session closed")
	return nil
}

// SessionCount reports live sessions for user.
func (b *Broker) SessionCount(user string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sessions[user])
}

func (b *Broker) handshake(conn wire.Conn) (string, error) {
	f, err := conn.ReadFrame()
	if err != nil {
		return "", errors.Wrap(err, "read CONNECT")
	}
	if f.Command != frame.CONNECT && f.Command != frame.STOMP {
		_ = conn.WriteFrame(wire.NewError("expected CONNECT"))
		return "", errors.Wrapf(ErrProtocol, "first frame was %s", f.Command)
	}

	token, ok := wire.BearerToken(f.Header.Get(wire.HeaderAuthorization))
	var user string
	if ok && b.auth != nil {
		user, ok = b.auth.Authenticate(token)
	} else {
		ok = false
	}
	if !ok {
		_ = conn.WriteFrame(wire.NewError("invalid token"))
		return "", ErrUnauthorized
	}

	connected := frame.New(frame.CONNECTED,
		frame.Version, wire.ProtocolVersion,
		frame.HeartBeat, "0,0",
		"user-name", user,
	)
	if err := conn.WriteFrame(connected); err != nil {
		return "", errors.Wrap(err, "write CONNECTED")
	}
	return user, nil
}

func (b *Broker) readLoop(ctx context.Context, s *session, requests *sync.WaitGroup, logger zerolog.Logger) {
	for {
		f, err := s.conn.ReadFrame()
		if err != nil {
			logger.Debug().Err(err).Msg("read ended")
			return
		}

		switch f.Command {
		case frame.SUBSCRIBE:
			s.subscribe(f.Header.Get(frame.Id), f.Header.Get(frame.Destination))
		case frame.UNSUBSCRIBE:
			s.unsubscribe(f.Header.Get(frame.Id))
		case frame.SEND:
			b.handleSend(ctx, s, f, requests, logger)
		case frame.DISCONNECT:
			s.receipt(f)
			return
		default:
			logger.Debug().Str("command", f.Command).Msg("ignoring frame")
			continue
		}
		s.receipt(f)
	}
}

func (b *Broker) handleSend(ctx context.Context, s *session, f *frame.Frame, requests *sync.WaitGroup, logger zerolog.Logger) {
	switch dest := f.Header.Get(frame.Destination); dest {
	case wire.ChatSend:
		var req wire.ChatRequest
		if err := json.Unmarshal(f.Body, &req); err != nil {
			logger.Warn().Err(err).Msg("malformed chat message")
			b.deliver(s.user, wire.ChatReply{Content: failureNotice, Type: wire.ReplyError}, "")
			return
		}
		correlationID := f.Header.Get(wire.HeaderCorrelationID)
		requests.Add(1)
		go func() {
			defer requests.Done()
			b.respond(ctx, s.user, req.Content, correlationID, logger)
		}()
	case wire.ChatClear:
		if err := b.conv.Clear(ctx, s.user); err != nil {
			logger.Error().Err(err).Msg("clear history")
		}
		b.deliver(s.user, wire.ChatReply{Content: clearedNotice, Type: wire.ReplySystem}, "")
	default:
		logger.Warn().Str("destination", dest).Msg("send to unknown destination")
	}
}

func (b *Broker) respond(ctx context.Context, user, content, correlationID string, logger zerolog.Logger) {
	history, err := b.conv.History(ctx, user)
	if err != nil {
		logger.Error().Err(err).Msg("load history")
	}

	reply, err := b.responder.Reply(ctx, content, history)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.Error().Err(err).Msg("responder failed")
		b.deliver(user, wire.ChatReply{Content: failureNotice, Type: wire.ReplyError}, correlationID)
		return
	}

	if err := b.conv.Record(ctx, user, content, reply); err != nil {
		logger.Error().Err(err).Msg("record exchange")
	}
	b.deliver(user, wire.ChatReply{Content: reply, Type: wire.ReplyChat}, correlationID)
}

// deliver pushes reply to the inbound queue of every session of user.
func (b *Broker) deliver(user string, reply wire.ChatReply, correlationID string) {
	reply.Sender = assistantSender
	reply.Timestamp = time.Now().UTC()
	body, err := json.Marshal(reply)
	if err != nil {
		b.logger.Error().Err(err).Msg("marshal reply")
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.sessions[user] {
		subID, ok := s.subscriptionFor(wire.InboundChat)
		if !ok {
			continue
		}
		f := frame.New(frame.MESSAGE,
			frame.Destination, wire.InboundChat,
			frame.Subscription, subID,
			frame.MessageId, uuid.NewString(),
			frame.ContentType, wire.ContentTypeJSON,
		)
		if correlationID != "" {
			f.Header.Set(wire.HeaderCorrelationID, correlationID)
		}
		f.Body = body
		s.enqueue(f)
	}
}

func (b *Broker) register(s *session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sessions[s.user] == nil {
		b.sessions[s.user] = make(map[*session]struct{})
	}
	b.sessions[s.user][s] = struct{}{}
}

func (b *Broker) unregister(s *session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions[s.user], s)
	if len(b.sessions[s.user]) == 0 {
		delete(b.sessions, s.user)
	}
}
