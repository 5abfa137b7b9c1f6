// Package transport is the client side of the persistent chat channel: the
// authenticated handshake, the subscription registry and the publish path.
package transport

import (
	"context"
	"strings"
	"sync"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/productivity-assistant/backend/internal/model/chat"
	"github.com/zhouzirui/productivity-assistant/backend/internal/wire"
)

// Options configures a Client.
type Options struct {
	// Dialers are tried in order until one opens a connection.
	Dialers []Dialer
	// Host is sent in the CONNECT frame.
	Host   string
	Logger zerolog.Logger
	// OnStateChange reports transitions. The client never owns UI-visible state.
	OnStateChange func(chat.ConnectionState)
}

// Client owns one persistent channel. It is not shared between sessions.
type Client struct {
	dialers  []Dialer
	host     string
	logger   zerolog.Logger
	onState  func(chat.ConnectionState)
	registry *Registry

	mu        sync.Mutex
	state     chat.ConnectionState
	conn      wire.Conn
	transport string
	closing   bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewClient builds a disconnected client.
func NewClient(opts Options) *Client {
	host := opts.Host
	if host == "" {
		host = "localhost"
	}
	c := &Client{
		dialers: opts.Dialers,
		host:    host,
		logger:  opts.Logger.With().Str("component", "transport").Logger(),
		onState: opts.OnStateChange,
		state:   chat.StateDisconnected,
	}
	c.registry = newRegistry(c, c.logger)
	return c
}

// Registry exposes the subscription registry bound to this client.
func (c *Client) Registry() *Registry { return c.registry }

// State returns the client's view of the channel.
func (c *Client) State() chat.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Transport names the dialer that carried the current session, if any.
func (c *Client) Transport() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport
}

// Connect dials, authenticates and returns once the server has acknowledged the
// session. Errors other than ErrMissingToken and ErrAlreadyConnected wrap ErrHandshake.
func (c *Client) Connect(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return ErrMissingToken
	}

	c.mu.Lock()
	if c.state == chat.StateConnecting || c.state == chat.StateConnected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	hctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.state = chat.StateConnecting
	c.mu.Unlock()
	c.report(chat.StateConnecting)

	conn, name, err := c.negotiate(hctx, token)
	cancel()
	if err != nil {
		c.mu.Lock()
		aborted := c.state != chat.StateConnecting
		if !aborted {
			c.state = chat.StateFailed
		}
		c.cancel = nil
		c.mu.Unlock()
		if !aborted {
			c.report(chat.StateFailed)
		}
		c.logger.Warn().Err(err).Msg("handshake failed")
		return err
	}

	c.mu.Lock()
	if c.state != chat.StateConnecting {
		c.mu.Unlock()
		conn.Close()
		return errors.Wrap(ErrHandshake, "disconnected during handshake")
	}
	done := make(chan struct{})
	c.conn = conn
	c.transport = name
	c.done = done
	c.cancel = nil
	c.state = chat.StateConnected
	c.mu.Unlock()

	go c.readLoop(conn, done)

	c.logger.Info().Str("transport", name).Msg("channel connected")
	c.report(chat.StateConnected)
	return nil
}

// Disconnect unsubscribes everything, releases the transport and marks the
// client Disconnected. It is a no-op when there is nothing to tear down.
func (c *Client) Disconnect() {
	c.mu.Lock()
	switch {
	case c.state == chat.StateConnecting:
		if c.cancel != nil {
			c.cancel()
		}
		c.state = chat.StateDisconnected
		c.mu.Unlock()
		c.report(chat.StateDisconnected)
		return
	case c.conn == nil || c.closing:
		c.mu.Unlock()
		return
	}
	conn, done := c.conn, c.done
	c.closing = true
	c.mu.Unlock()

	c.registry.UnsubscribeAll()
	if err := conn.WriteFrame(frame.New(frame.DISCONNECT)); err != nil {
		c.logger.Debug().Err(err).Msg("disconnect frame not delivered")
	}
	conn.Close()

	c.mu.Lock()
	c.conn = nil
	c.transport = ""
	c.done = nil
	c.closing = false
	c.state = chat.StateDisconnected
	c.mu.Unlock()

	<-done
	c.logger.Info().Msg("channel disconnected")
	c.report(chat.StateDisconnected)
}

// Subscribe is shorthand for Registry().Subscribe.
func (c *Client) Subscribe(destination string, handler Handler) (*Subscription, error) {
	return c.registry.Subscribe(destination, handler)
}

// Unsubscribe is shorthand for Registry().Unsubscribe.
func (c *Client) Unsubscribe(destination string) error {
	return c.registry.Unsubscribe(destination)
}

// Publish sends payload as JSON to destination. Outside the Connected state the
// call is rejected locally with ErrNotConnected. Failed sends are not retried.
func (c *Client) Publish(destination string, payload any, headers map[string]string) error {
	if !c.Connected() {
		c.logger.Warn().Str("destination", destination).Msg("publish rejected: channel not connected")
		return ErrNotConnected
	}
	f, err := wire.NewSend(destination, payload, headers)
	if err != nil {
		return err
	}
	if err := c.Send(f); err != nil {
		c.logger.Error().Err(err).Str("destination", destination).Msg("publish failed")
		return errors.Wrapf(err, "publish %s", destination)
	}
	return nil
}

// Connected reports whether frames may be sent.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == chat.StateConnected && c.conn != nil
}

// Send writes a raw frame on the current connection.
func (c *Client) Send(f *frame.Frame) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.WriteFrame(f)
}

func (c *Client) negotiate(ctx context.Context, token string) (wire.Conn, string, error) {
	if len(c.dialers) == 0 {
		return nil, "", errors.Wrap(ErrHandshake, "no transports configured")
	}

	var lastErr error
	for _, d := range c.dialers {
		conn, err := d.Dial(ctx)
		if err != nil {
			c.logger.Warn().Err(err).Str("transport", d.Name()).Msg("transport unavailable")
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}

		// A rejection at the protocol level is final; other transports would be refused too.
		if err := c.handshake(ctx, conn, token); err != nil {
			conn.Close()
			return nil, "", err
		}
		return conn, d.Name(), nil
	}
	return nil, "", errors.Wrapf(ErrHandshake, "no transport available: %v", lastErr)
}

func (c *Client) handshake(ctx context.Context, conn wire.Conn, token string) error {
	if err := conn.WriteFrame(wire.NewConnect(c.host, token)); err != nil {
		return errors.Wrapf(ErrHandshake, "send CONNECT: %v", err)
	}

	type result struct {
		f   *frame.Frame
		err error
	}
	replies := make(chan result, 1)
	go func() {
		f, err := conn.ReadFrame()
		replies <- result{f, err}
	}()

	select {
	case <-ctx.Done():
		conn.Close()
		return errors.Wrapf(ErrHandshake, "awaiting CONNECTED: %v", ctx.Err())
	case r := <-replies:
		if r.err != nil {
			return errors.Wrapf(ErrHandshake, "awaiting CONNECTED: %v", r.err)
		}
		switch r.f.Command {
		case frame.CONNECTED:
			return nil
		case frame.ERROR:
			return errors.Wrapf(ErrHandshake, "rejected by server: %s", r.f.Header.Get(frame.Message))
		default:
			return errors.Wrapf(ErrHandshake, "unexpected %s frame", r.f.Command)
		}
	}
}

func (c *Client) readLoop(conn wire.Conn, done chan struct{}) {
	defer close(done)

	for {
		f, err := conn.ReadFrame()
		if err != nil {
			c.handleDrop(conn, err)
			return
		}

		switch f.Command {
		case frame.MESSAGE:
			c.registry.Dispatch(f)
		case frame.ERROR:
			c.logger.Error().Str("message", f.Header.Get(frame.Message)).Msg("server error frame")
		case frame.RECEIPT:
			c.logger.Debug().Str("receipt", f.Header.Get(frame.ReceiptId)).Msg("receipt")
		default:
			c.logger.Debug().Str("command", f.Command).Msg("ignoring frame")
		}
	}
}

// handleDrop covers a connection lost without Disconnect. There is no automatic reconnect here.
func (c *Client) handleDrop(conn wire.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn || c.closing {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.transport = ""
	c.done = nil
	c.state = chat.StateDisconnected
	c.mu.Unlock()

	conn.Close()
	c.registry.UnsubscribeAll()

	c.logger.Warn().Err(err).Msg("channel dropped")
	c.report(chat.StateDisconnected)
}

func (c *Client) report(state chat.ConnectionState) {
	if c.onState != nil {
		c.onState(state)
	}
}
