package transport

import (
	"context"
	"sync"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/pkg/errors"

	"github.com/zhouzirui/productivity-assistant/backend/internal/model/chat"
	"github.com/zhouzirui/productivity-assistant/backend/internal/wire"
)

// fakeConn is an in-memory frame pipe; the test plays the server.
type fakeConn struct {
	toClient   chan *frame.Frame
	fromClient chan *frame.Frame
	closed     chan struct{}
	once       sync.Once

	mu       sync.Mutex
	failSend func(f *frame.Frame) error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		toClient:   make(chan *frame.Frame, 64),
		fromClient: make(chan *frame.Frame, 256),
		closed:     make(chan struct{}),
	}
}

func (c *fakeConn) ReadFrame() (*frame.Frame, error) {
	select {
	case f := <-c.toClient:
		return f, nil
	case <-c.closed:
		return nil, wire.ErrClosed
	}
}

func (c *fakeConn) WriteFrame(f *frame.Frame) error {
	select {
	case <-c.closed:
		return wire.ErrClosed
	default:
	}
	c.mu.Lock()
	fail := c.failSend
	c.mu.Unlock()
	if fail != nil {
		if err := fail(f); err != nil {
			return err
		}
	}
	c.fromClient <- f
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// acknowledge queues the CONNECTED reply ahead of the client's CONNECT.
func (c *fakeConn) acknowledge() *fakeConn {
	c.toClient <- frame.New(frame.CONNECTED, frame.Version, wire.ProtocolVersion)
	return c
}

func (c *fakeConn) reject(reason string) *fakeConn {
	c.toClient <- wire.NewError(reason)
	return c
}

// sent drains everything the client has written so far.
func (c *fakeConn) sent() []*frame.Frame {
	var out []*frame.Frame
	for {
		select {
		case f := <-c.fromClient:
			out = append(out, f)
		default:
			return out
		}
	}
}

type fakeDialer struct {
	name string
	conn *fakeConn
	err  error

	mu    sync.Mutex
	calls int
}

func (d *fakeDialer) Name() string { return d.name }

func (d *fakeDialer) Dial(context.Context) (wire.Conn, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}

func (d *fakeDialer) dialed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

var errRefused = errors.New("connection refused")

type stateRecorder struct {
	mu     sync.Mutex
	states []chat.ConnectionState
}

func (r *stateRecorder) record(s chat.ConnectionState) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *stateRecorder) all() []chat.ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]chat.ConnectionState(nil), r.states...)
}

func commands(frames []*frame.Frame) []string {
	out := make([]string, 0, len(frames))
	for _, f := range frames {
		out = append(out, f.Command)
	}
	return out
}
