package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/productivity-assistant/backend/internal/auth"
	"github.com/zhouzirui/productivity-assistant/backend/internal/model/chat"
	"github.com/zhouzirui/productivity-assistant/backend/internal/transport"
	"github.com/zhouzirui/productivity-assistant/backend/internal/wire"
)

const waitFor = 2 * time.Second

func newSession(t *testing.T, opts Options) *Session {
	t.Helper()
	if opts.Tokens == nil {
		opts.Tokens = auth.NewMemoryStore("token-123")
	}
	s, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func startConnected(t *testing.T, opts Options) (*Session, *fakeChannel) {
	t.Helper()
	ch := newFakeChannel()
	opts.Channel = ch
	if opts.Assistant == nil {
		opts.Assistant = &fakeAssistant{reply: "unused"}
	}
	s := newSession(t, opts)
	mode, err := s.Start(context.Background())
	require.NoError(t, err)
	require.Equal(t, chat.ModeConnected, mode)
	return s, ch
}

func startFallback(t *testing.T, assistant *fakeAssistant) *Session {
	t.Helper()
	s := newSession(t, Options{Assistant: assistant})
	mode, err := s.Start(context.Background())
	require.NoError(t, err)
	require.Equal(t, chat.ModeFallback, mode)
	return s
}

func idle(s *Session) func() bool {
	return func() bool { return !s.Snapshot().Sending }
}

func TestNewRequiresAssistant(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestStartConnectedSubscribesAndGreets(t *testing.T) {
	s, ch := startConnected(t, Options{})

	snap := s.Snapshot()
	assert.Equal(t, chat.StateConnected, snap.State)
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, ConnectedGreeting, snap.Messages[0].Content)
	assert.Equal(t, chat.KindAssistant, snap.Messages[0].Kind)
	assert.Contains(t, ch.handlers, wire.InboundChat)
}

func TestStartTwiceIsRejected(t *testing.T) {
	s, _ := startConnected(t, Options{})
	_, err := s.Start(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestHandshakeRejectionFallsBackWithEmptyRegistry(t *testing.T) {
	dialer := &staticDialer{conn: newRejectingConn()}
	s := newSession(t, Options{
		Dialers:   []transport.Dialer{dialer},
		Assistant: &fakeAssistant{reply: "ok"},
	})

	mode, err := s.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, chat.ModeFallback, mode)

	client := s.channel.(*transport.Client)
	assert.Equal(t, 0, client.Registry().Len())
	assert.Equal(t, 1, dialer.dialed())

	snap := s.Snapshot()
	assert.Equal(t, chat.StateFailed, snap.State)
	assert.Equal(t, FallbackGreeting, snap.Messages[0].Content)

	// Sends keep going through REST; the registry never gains an entry.
	require.NoError(t, s.SendUserMessage("hello"))
	require.Eventually(t, idle(s), waitFor, 5*time.Millisecond)
	assert.Equal(t, chat.ModeFallback, s.Snapshot().Mode)
	assert.Equal(t, 0, client.Registry().Len())
	assert.Equal(t, 1, dialer.dialed())
}

func TestStartWithoutTokenDoesNotDial(t *testing.T) {
	dialer := &staticDialer{conn: newRejectingConn()}
	s := newSession(t, Options{
		Dialers:   []transport.Dialer{dialer},
		Assistant: &fakeAssistant{},
		Tokens:    auth.NewMemoryStore(""),
	})

	mode, err := s.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, chat.ModeFallback, mode)
	assert.Zero(t, dialer.dialed())
}

func TestSubscribeFailureFallsBack(t *testing.T) {
	ch := newFakeChannel()
	ch.subscribeErr = transport.ErrNotConnected
	s := newSession(t, Options{Channel: ch, Assistant: &fakeAssistant{}})

	mode, err := s.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, chat.ModeFallback, mode)
	assert.Equal(t, 1, ch.disconnects)
}

func TestSendRejectsEmptyAndUnstarted(t *testing.T) {
	s := newSession(t, Options{Assistant: &fakeAssistant{}})
	assert.ErrorIs(t, s.SendUserMessage("hi"), ErrNotStarted)

	_, err := s.Start(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, s.SendUserMessage("   \n"), ErrEmptyMessage)
	assert.Len(t, s.Snapshot().Messages, 1)
}

func TestFallbackPlanMyWeek(t *testing.T) {
	assistant := &fakeAssistant{reply: "Here is a plan..."}
	s := startFallback(t, assistant)
	before := len(s.Snapshot().Messages)

	require.NoError(t, s.SendUserMessage("Plan my week"))
	require.Eventually(t, idle(s), waitFor, 5*time.Millisecond)

	msgs := s.Snapshot().Messages
	require.Len(t, msgs, before+2)
	assert.Equal(t, chat.KindUser, msgs[before].Kind)
	assert.Equal(t, "Plan my week", msgs[before].Content)
	assert.Equal(t, chat.KindAssistant, msgs[before+1].Kind)
	assert.Equal(t, "Here is a plan...", msgs[before+1].Content)

	call := assistant.lastCall()
	assert.Equal(t, "Plan my week", call.message)
	assert.Equal(t, []string{"Assistant: " + FallbackGreeting}, call.history)
}

func TestUserMessageVisibleBeforeReply(t *testing.T) {
	assistant := &fakeAssistant{reply: "done", gate: make(chan struct{})}
	s := startFallback(t, assistant)

	require.NoError(t, s.SendUserMessage("remind me"))
	snap := s.Snapshot()
	last := snap.Messages[len(snap.Messages)-1]
	assert.Equal(t, chat.KindUser, last.Kind)
	assert.True(t, snap.Sending)
	assert.True(t, snap.Composing)

	assistant.gate <- struct{}{}
	require.Eventually(t, idle(s), waitFor, 5*time.Millisecond)
	assert.False(t, s.Snapshot().Composing)
}

func TestFallbackGuardMakesSecondSendNoOp(t *testing.T) {
	assistant := &fakeAssistant{reply: "first", gate: make(chan struct{})}
	s := startFallback(t, assistant)

	require.NoError(t, s.SendUserMessage("one"))
	require.Eventually(t, func() bool { return assistant.callCount() == 1 }, waitFor, 5*time.Millisecond)
	lenDuring := len(s.Snapshot().Messages)

	assert.ErrorIs(t, s.SendUserMessage("two"), ErrSendInFlight)
	assert.Len(t, s.Snapshot().Messages, lenDuring)
	assert.Equal(t, 1, assistant.callCount())

	assistant.gate <- struct{}{}
	require.Eventually(t, idle(s), waitFor, 5*time.Millisecond)
}

func TestFallbackFailureAppendsOneErrorAndReleasesGuard(t *testing.T) {
	assistant := &fakeAssistant{err: errors.New("boom")}
	s := startFallback(t, assistant)
	before := len(s.Snapshot().Messages)

	require.NoError(t, s.SendUserMessage("hello"))
	require.Eventually(t, idle(s), waitFor, 5*time.Millisecond)

	msgs := s.Snapshot().Messages
	require.Len(t, msgs, before+2)
	assert.Equal(t, chat.KindError, msgs[before+1].Kind)
	assert.Equal(t, FailureMessage, msgs[before+1].Content)

	// The guard is released: the next send is accepted.
	require.NoError(t, s.SendUserMessage("again"))
	require.Eventually(t, idle(s), waitFor, 5*time.Millisecond)
	assert.Equal(t, 2, assistant.callCount())
}

func TestFallbackHistoryWindow(t *testing.T) {
	assistant := &fakeAssistant{reply: "ok"}
	s := newSession(t, Options{Assistant: assistant, HistoryWindow: 3})
	_, err := s.Start(context.Background())
	require.NoError(t, err)

	for _, text := range []string{"a", "b"} {
		require.NoError(t, s.SendUserMessage(text))
		require.Eventually(t, idle(s), waitFor, 5*time.Millisecond)
	}
	require.NoError(t, s.SendUserMessage("c"))
	require.Eventually(t, idle(s), waitFor, 5*time.Millisecond)

	assert.Equal(t, []string{"Assistant: ok", "User: b", "Assistant: ok"}, assistant.lastCall().history)
}

func TestConnectedSendPublishesWithCorrelation(t *testing.T) {
	s, ch := startConnected(t, Options{})

	require.NoError(t, s.SendUserMessage("Plan my week"))

	pubs := ch.publications()
	require.Len(t, pubs, 1)
	assert.Equal(t, wire.ChatSend, pubs[0].destination)
	req := pubs[0].payload.(wire.ChatRequest)
	assert.Equal(t, "Plan my week", req.Content)
	assert.Equal(t, "User", req.Sender)
	corr := pubs[0].headers[wire.HeaderCorrelationID]
	assert.NotEmpty(t, corr)
	assert.True(t, s.Snapshot().Composing)

	ch.push(wire.ChatReply{Content: "Here is a plan...", Sender: AssistantSender, Type: wire.ReplyChat}, corr)

	snap := s.Snapshot()
	assert.False(t, snap.Composing)
	last := snap.Messages[len(snap.Messages)-1]
	assert.Equal(t, chat.KindAssistant, last.Kind)
	assert.Equal(t, "Here is a plan...", last.Content)
	assert.Equal(t, corr, last.ReplyTo)
	assert.False(t, last.Timestamp.IsZero())
}

func TestConnectedSendsAreNotGuarded(t *testing.T) {
	s, ch := startConnected(t, Options{})

	require.NoError(t, s.SendUserMessage("one"))
	require.NoError(t, s.SendUserMessage("two"))
	assert.Len(t, ch.publications(), 2)
}

func TestInboundReplyTypes(t *testing.T) {
	s, ch := startConnected(t, Options{})
	before := len(s.Snapshot().Messages)

	ch.push(wire.ChatReply{Content: "Conversation history cleared.", Type: wire.ReplySystem}, "")
	assert.Len(t, s.Snapshot().Messages, before)

	ch.push(wire.ChatReply{Content: "model unavailable", Type: wire.ReplyError}, "")
	msgs := s.Snapshot().Messages
	require.Len(t, msgs, before+1)
	assert.Equal(t, chat.KindError, msgs[before].Kind)
	assert.Equal(t, AssistantSender, msgs[before].Sender)
}

func TestComposingIndicatorIsBounded(t *testing.T) {
	s, _ := startConnected(t, Options{ComposingTimeout: 20 * time.Millisecond})

	require.NoError(t, s.SendUserMessage("anyone there?"))
	assert.True(t, s.Snapshot().Composing)
	require.Eventually(t, func() bool { return !s.Snapshot().Composing }, waitFor, 5*time.Millisecond)
}

func TestRejectedPublishUsesFallbackForThatSend(t *testing.T) {
	assistant := &fakeAssistant{reply: "via rest"}
	s, ch := startConnected(t, Options{Assistant: assistant})
	ch.publishErr = transport.ErrNotConnected

	require.NoError(t, s.SendUserMessage("still there?"))
	require.Eventually(t, func() bool { return assistant.callCount() == 1 && !s.Snapshot().Sending }, waitFor, 5*time.Millisecond)

	snap := s.Snapshot()
	assert.Equal(t, chat.ModeConnected, snap.Mode)
	last := snap.Messages[len(snap.Messages)-1]
	assert.Equal(t, "via rest", last.Content)
}

func TestCloseIgnoresLateResults(t *testing.T) {
	assistant := &fakeAssistant{reply: "too late", gate: make(chan struct{}), done: make(chan struct{}, 1)}
	s := startFallback(t, assistant)

	require.NoError(t, s.SendUserMessage("hello"))
	require.Eventually(t, func() bool { return assistant.callCount() == 1 }, waitFor, 5*time.Millisecond)
	before := s.Snapshot().Messages

	s.Close()
	<-assistant.done

	assert.Equal(t, before, s.Snapshot().Messages)
	for range s.Changes() {
	}
	assert.ErrorIs(t, s.SendUserMessage("again"), ErrClosed)
}

func TestCloseDisconnectsOnce(t *testing.T) {
	s, ch := startConnected(t, Options{})
	s.Close()
	s.Close()
	assert.Equal(t, 1, ch.disconnects)
	assert.Equal(t, chat.StateDisconnected, s.Snapshot().State)
}

func TestChangesAreCoalesced(t *testing.T) {
	s, _ := startConnected(t, Options{})
	s.SetDraft("a")
	s.SetDraft("ab")
	s.SetDraft("abc")

	<-s.Changes()
	select {
	case <-s.Changes():
		t.Fatal("expected a single pending notification")
	default:
	}
	assert.Equal(t, "abc", s.Snapshot().Draft)
}

func TestDropIsReportedWithoutReconnect(t *testing.T) {
	s, ch := startConnected(t, Options{})

	s.HandleStateChange(chat.StateDisconnected)

	assert.Equal(t, chat.StateDisconnected, s.Snapshot().State)
	assert.Equal(t, chat.ModeConnected, s.Snapshot().Mode)
	connects, _ := ch.counts()
	assert.Equal(t, 1, connects)
}

func TestReconnectAfterDrop(t *testing.T) {
	policy := &ReconnectPolicy{InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, MaxRetries: 5}
	s, ch := startConnected(t, Options{Reconnect: policy})
	ch.mu.Lock()
	ch.connectErrs = []error{transport.ErrHandshake}
	ch.mu.Unlock()

	s.HandleStateChange(chat.StateDisconnected)

	require.Eventually(t, func() bool {
		connects, subscribes := ch.counts()
		return connects == 3 && subscribes == 2
	}, waitFor, 5*time.Millisecond)
}

func TestSpeechFillsDraft(t *testing.T) {
	speech := &fakeSpeech{}
	s, _ := startConnected(t, Options{Speech: speech})

	require.NoError(t, s.StartListening())
	assert.True(t, s.Snapshot().Listening)

	speech.say("schedule a meeting tomorrow")
	snap := s.Snapshot()
	assert.Equal(t, "schedule a meeting tomorrow", snap.Draft)
	assert.False(t, snap.Listening)

	require.NoError(t, s.SendUserMessage(snap.Draft))
	assert.Empty(t, s.Snapshot().Draft)
}

func TestSpeechUnavailable(t *testing.T) {
	s, _ := startConnected(t, Options{})
	assert.ErrorIs(t, s.StartListening(), ErrSpeechUnavailable)
	assert.ErrorIs(t, s.StopListening(), ErrSpeechUnavailable)
}

func TestDropDuringStartKeepsDisconnectedAndReconnects(t *testing.T) {
	policy := &ReconnectPolicy{InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, MaxRetries: 3}
	ch := newFakeChannel()
	s := newSession(t, Options{Channel: ch, Assistant: &fakeAssistant{reply: "unused"}, Reconnect: policy})

	var once sync.Once
	ch.afterSubscribe = func() {
		once.Do(func() {
			s.HandleStateChange(chat.StateConnected)
			s.HandleStateChange(chat.StateDisconnected)
		})
	}

	mode, err := s.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, chat.ModeConnected, mode)
	assert.Equal(t, chat.StateDisconnected, s.Snapshot().State)

	require.Eventually(t, func() bool {
		connects, subscribes := ch.counts()
		return connects == 2 && subscribes == 2
	}, waitFor, 5*time.Millisecond)
}

func TestDropDuringStartWithoutReconnect(t *testing.T) {
	ch := newFakeChannel()
	s := newSession(t, Options{Channel: ch, Assistant: &fakeAssistant{reply: "unused"}})
	ch.afterSubscribe = func() { s.HandleStateChange(chat.StateDisconnected) }

	mode, err := s.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, chat.ModeConnected, mode)
	assert.Equal(t, chat.StateDisconnected, s.Snapshot().State)
	connects, _ := ch.counts()
	assert.Equal(t, 1, connects)
}

func TestUserTextIsKeptAsTyped(t *testing.T) {
	assistant := &fakeAssistant{reply: "Here is a plan"}
	s := startFallback(t, assistant)

	require.NoError(t, s.SendUserMessage("  Plan my week\n"))
	require.Eventually(t, idle(s), waitFor, 5*time.Millisecond)

	msgs := s.Snapshot().Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, "  Plan my week\n", msgs[1].Content)
	assert.Equal(t, "  Plan my week\n", assistant.lastCall().message)

	assert.ErrorIs(t, s.SendUserMessage(" \n\t"), ErrEmptyMessage)
}
