package session

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/pkg/errors"

	"github.com/zhouzirui/productivity-assistant/backend/internal/transport"
	"github.com/zhouzirui/productivity-assistant/backend/internal/wire"
)

type publication struct {
	destination string
	payload     any
	headers     map[string]string
}

// fakeChannel records calls and lets tests push frames to the subscribed handler.
type fakeChannel struct {
	mu           sync.Mutex
	connectErrs  []error
	subscribeErr error
	publishErr   error
	connects     int
	disconnects  int
	subscribes   int
	handlers     map[string]transport.Handler
	published    []publication
	// afterSubscribe runs once a subscription is recorded, outside the lock.
	afterSubscribe func()
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{handlers: make(map[string]transport.Handler)}
}

func (c *fakeChannel) Connect(ctx context.Context, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if token == "" {
		return transport.ErrMissingToken
	}
	c.connects++
	if len(c.connectErrs) > 0 {
		err := c.connectErrs[0]
		c.connectErrs = c.connectErrs[1:]
		return err
	}
	return nil
}

func (c *fakeChannel) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
	c.handlers = make(map[string]transport.Handler)
}

func (c *fakeChannel) Subscribe(destination string, handler transport.Handler) (*transport.Subscription, error) {
	c.mu.Lock()
	if c.subscribeErr != nil {
		c.mu.Unlock()
		return nil, c.subscribeErr
	}
	c.subscribes++
	c.handlers[destination] = handler
	hook := c.afterSubscribe
	c.mu.Unlock()

	if hook != nil {
		hook()
	}
	return &transport.Subscription{ID: "sub-1", Destination: destination}, nil
}

func (c *fakeChannel) Publish(destination string, payload any, headers map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return c.publishErr
	}
	c.published = append(c.published, publication{destination, payload, headers})
	return nil
}

func (c *fakeChannel) push(reply wire.ChatReply, correlationID string) {
	c.mu.Lock()
	h := c.handlers[wire.InboundChat]
	c.mu.Unlock()

	body, _ := json.Marshal(reply)
	f := frame.New(frame.MESSAGE, frame.Destination, wire.InboundChat)
	if correlationID != "" {
		f.Header.Set(wire.HeaderCorrelationID, correlationID)
	}
	f.Body = body
	h(f)
}

func (c *fakeChannel) publications() []publication {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]publication(nil), c.published...)
}

func (c *fakeChannel) counts() (connects, subscribes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects, c.subscribes
}

type assistantCall struct {
	message string
	history []string
}

// fakeAssistant answers with reply or err. When gate is set, each call waits for a value on it.
type fakeAssistant struct {
	mu    sync.Mutex
	calls []assistantCall
	reply string
	err   error
	gate  chan struct{}
	done  chan struct{}
}

func (a *fakeAssistant) Chat(ctx context.Context, message string, history []string) (string, error) {
	a.mu.Lock()
	a.calls = append(a.calls, assistantCall{message, history})
	gate, done := a.gate, a.done
	reply, err := a.reply, a.err
	a.mu.Unlock()

	if done != nil {
		defer func() { done <- struct{}{} }()
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", errors.Wrap(ctx.Err(), "chat")
		}
	}
	return reply, err
}

func (a *fakeAssistant) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

func (a *fakeAssistant) lastCall() assistantCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[len(a.calls)-1]
}

// rejectingConn answers every CONNECT with an ERROR frame.
type rejectingConn struct {
	replies chan *frame.Frame
	once    sync.Once
}

func newRejectingConn() *rejectingConn {
	return &rejectingConn{replies: make(chan *frame.Frame, 1)}
}

func (c *rejectingConn) ReadFrame() (*frame.Frame, error) {
	f, ok := <-c.replies
	if !ok {
		return nil, wire.ErrClosed
	}
	return f, nil
}

func (c *rejectingConn) WriteFrame(f *frame.Frame) error {
	if f.Command == frame.CONNECT {
		c.replies <- wire.NewError("invalid token")
	}
	return nil
}

func (c *rejectingConn) Close() error {
	c.once.Do(func() { close(c.replies) })
	return nil
}

type staticDialer struct {
	mu    sync.Mutex
	conn  wire.Conn
	dials int
}

func (d *staticDialer) Name() string { return "static" }

func (d *staticDialer) Dial(context.Context) (wire.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	return d.conn, nil
}

func (d *staticDialer) dialed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type fakeSpeech struct {
	mu       sync.Mutex
	onResult func(string)
	stopped  bool
}

func (f *fakeSpeech) Start(onResult func(string)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onResult = onResult
	return nil
}

func (f *fakeSpeech) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func (f *fakeSpeech) say(text string) {
	f.mu.Lock()
	cb := f.onResult
	f.mu.Unlock()
	cb(text)
}
