// Package session is the chat session orchestrator. It decides once per session
// whether replies travel over the persistent channel or the synchronous REST
// endpoint, and it is the only writer of the conversation log.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/productivity-assistant/backend/internal/auth"
	"github.com/zhouzirui/productivity-assistant/backend/internal/model/chat"
	"github.com/zhouzirui/productivity-assistant/backend/internal/transport"
	"github.com/zhouzirui/productivity-assistant/backend/internal/wire"
)

const (
	// AssistantSender labels entries produced by the session or the server.
	AssistantSender = "AI Assistant"

	ConnectedGreeting = "Hello! I'm your AI productivity assistant. How can I help you today?"
	FallbackGreeting  = "WebSocket connection failed. Using standard mode. How can I help you?"
	ClearedMessage    = "Chat history cleared. How can I help you?"
	FailureMessage    = "Sorry, I encountered an error. Please try again."

	DefaultHistoryWindow    = 10
	DefaultComposingTimeout = 45 * time.Second
)

var (
	ErrEmptyMessage      = errors.New("session: message is empty")
	ErrSendInFlight      = errors.New("session: a request is already outstanding")
	ErrNotStarted        = errors.New("session: not started")
	ErrAlreadyStarted    = errors.New("session: already started")
	ErrClosed            = errors.New("session: closed")
	ErrSpeechUnavailable = errors.New("session: speech capture not available")
)

// Channel is the persistent pub/sub connection. *transport.Client implements it.
type Channel interface {
	Connect(ctx context.Context, token string) error
	Disconnect()
	Subscribe(destination string, handler transport.Handler) (*transport.Subscription, error)
	Publish(destination string, payload any, headers map[string]string) error
}

// Assistant is the synchronous chat endpoint. *api.Client implements it.
type Assistant interface {
	Chat(ctx context.Context, message string, history []string) (string, error)
}

// Options configures a Session.
type Options struct {
	// Channel carries the persistent session. When nil and Dialers is set, the
	// session builds its own transport.Client and observes its state. A caller
	// supplying its own Channel must forward transitions to HandleStateChange,
	// otherwise the state stays as Start left it.
	Channel Channel
	Dialers []transport.Dialer
	Host    string

	Assistant Assistant
	Tokens    auth.Store
	// Sender labels the user's own entries. Defaults to "User".
	Sender string

	HistoryWindow    int
	ComposingTimeout time.Duration
	// Reconnect enables bounded reconnection after an unexpected drop. Nil disables it.
	Reconnect *ReconnectPolicy
	Speech    SpeechCapture
	Logger    zerolog.Logger
}

// Snapshot is a consistent copy of everything the presentation layer renders.
type Snapshot struct {
	Messages  []chat.Message
	State     chat.ConnectionState
	Mode      chat.Mode
	Composing bool
	Sending   bool
	Draft     string
	Listening bool
}

// Session is one chat conversation. Construct with New, then call Start.
type Session struct {
	channel   Channel
	assistant Assistant
	tokens    auth.Store
	sender    string
	window    int
	composeTO time.Duration
	reconnect *ReconnectPolicy
	speech    SpeechCapture
	logger    zerolog.Logger

	log     *chat.Log
	changes chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu           sync.Mutex
	started      bool
	closed       bool
	mode         chat.Mode
	state        chat.ConnectionState
	composing    bool
	composingGen uint64
	sending      bool
	draft        string
	listening    bool
	reconnecting bool
}

// New builds an idle session. Assistant is required.
func New(opts Options) (*Session, error) {
	if opts.Assistant == nil {
		return nil, errors.New("session: assistant is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		assistant: opts.Assistant,
		tokens:    opts.Tokens,
		sender:    opts.Sender,
		window:    opts.HistoryWindow,
		composeTO: opts.ComposingTimeout,
		reconnect: opts.Reconnect,
		speech:    opts.Speech,
		logger:    opts.Logger.With().Str("component", "session").Logger(),
		log:       chat.NewLog(),
		changes:   make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
		state:     chat.StateDisconnected,
	}
	if s.sender == "" {
		s.sender = "User"
	}
	if s.window <= 0 {
		s.window = DefaultHistoryWindow
	}
	if s.composeTO <= 0 {
		s.composeTO = DefaultComposingTimeout
	}

	switch {
	case opts.Channel != nil:
		s.channel = opts.Channel
	case len(opts.Dialers) > 0:
		s.channel = transport.NewClient(transport.Options{
			Dialers:       opts.Dialers,
			Host:          opts.Host,
			Logger:        opts.Logger,
			OnStateChange: s.HandleStateChange,
		})
	}
	return s, nil
}

// Start performs the handshake once and fixes the session mode. A failed
// handshake is not an error: the session continues in fallback mode.
func (s *Session) Start(ctx context.Context) (chat.Mode, error) {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return "", ErrClosed
	case s.started:
		s.mu.Unlock()
		return "", ErrAlreadyStarted
	}
	s.started = true
	s.state = chat.StateConnecting
	s.mu.Unlock()
	s.notify()

	err := s.connect(ctx)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		if err == nil {
			s.channel.Disconnect()
		}
		return "", ErrClosed
	}
	greeting := ConnectedGreeting
	retry := false
	switch {
	case err != nil:
		s.logger.Warn().Err(err).Msg("persistent channel unavailable, using fallback mode")
		s.mode = chat.ModeFallback
		s.state = chat.StateFailed
		greeting = FallbackGreeting
	case s.state == chat.StateDisconnected || s.state == chat.StateFailed:
		// The channel dropped between the handshake and now.
		s.logger.Warn().Msg("channel dropped during start")
		s.mode = chat.ModeConnected
		retry = s.reconnect != nil && !s.reconnecting
		if retry {
			s.reconnecting = true
			s.wg.Add(1)
		}
	default:
		s.logger.Info().Msg("session connected")
		s.mode = chat.ModeConnected
		s.state = chat.StateConnected
	}
	s.log.Append(chat.NewMessage(chat.KindAssistant, AssistantSender, greeting))
	mode := s.mode
	s.mu.Unlock()
	s.notify()

	if retry {
		go s.reconnectLoop()
	}
	return mode, nil
}

func (s *Session) connect(ctx context.Context) error {
	if s.channel == nil {
		return errors.Wrap(transport.ErrHandshake, "no persistent channel configured")
	}

	hctx, stop := context.WithCancel(ctx)
	defer stop()
	unhook := context.AfterFunc(s.ctx, stop)
	defer unhook()

	if err := s.channel.Connect(hctx, s.token()); err != nil {
		return err
	}
	if _, err := s.channel.Subscribe(wire.InboundChat, s.onReply); err != nil {
		s.channel.Disconnect()
		return errors.Wrap(err, "subscribe to replies")
	}
	return nil
}

// Close tears the session down without waiting for outstanding requests; their
// results are discarded. It is safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	listening := s.listening
	s.listening = false
	s.state = chat.StateDisconnected
	close(s.changes)
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	if listening && s.speech != nil {
		if err := s.speech.Stop(); err != nil {
			s.logger.Debug().Err(err).Msg("stop speech capture")
		}
	}
	if s.channel != nil {
		s.channel.Disconnect()
	}
	s.logger.Info().Msg("session closed")
}

// Snapshot returns the current presentation state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Messages:  s.log.Messages(),
		State:     s.state,
		Mode:      s.mode,
		Composing: s.composing,
		Sending:   s.sending,
		Draft:     s.draft,
		Listening: s.listening,
	}
}

// Changes delivers a coalesced signal after every state change. It is closed by Close.
func (s *Session) Changes() <-chan struct{} {
	return s.changes
}

// HandleStateChange records a transition reported by the channel. Wire it as
// the channel's state callback when the channel is built outside the session.
func (s *Session) HandleStateChange(state chat.ConnectionState) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	prev := s.state
	s.state = state
	retry := state == chat.StateDisconnected && prev == chat.StateConnected &&
		s.mode == chat.ModeConnected && s.reconnect != nil && !s.reconnecting
	if retry {
		s.reconnecting = true
		s.wg.Add(1)
	}
	s.mu.Unlock()
	s.notify()

	if retry {
		go s.reconnectLoop()
	}
}

func (s *Session) token() string {
	if s.tokens == nil {
		return ""
	}
	return s.tokens.Token()
}

func (s *Session) notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.changes <- struct{}{}:
	default:
	}
}
