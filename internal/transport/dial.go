package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/zhouzirui/productivity-assistant/backend/internal/wire"
)

// Dialer opens a raw frame connection. Authentication happens afterwards, in the handshake.
type Dialer interface {
	Name() string
	Dial(ctx context.Context) (wire.Conn, error)
}

// WebSocketDialer opens the native socket transport.
type WebSocketDialer struct {
	URL              string
	Header           http.Header
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// Name implements Dialer.
func (d *WebSocketDialer) Name() string { return "websocket" }

// Dial implements Dialer.
func (d *WebSocketDialer) Dial(ctx context.Context) (wire.Conn, error) {
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := &websocket.Dialer{HandshakeTimeout: timeout}

	conn, resp, err := dialer.DialContext(ctx, d.URL, d.Header)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "websocket dial failed (status %d)", resp.StatusCode)
		}
		return nil, errors.Wrap(err, "websocket dial failed")
	}
	return wire.NewWebSocketConn(conn, d.WriteTimeout), nil
}

// HTTPStreamDialer opens the fallback transport: an SSE stream for inbound
// frames and one POST per outbound frame.
type HTTPStreamDialer struct {
	BaseURL string
	Client  *http.Client
}

// Name implements Dialer.
func (d *HTTPStreamDialer) Name() string { return "http" }

// Dial implements Dialer.
func (d *HTTPStreamDialer) Dial(ctx context.Context) (wire.Conn, error) {
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	conn, err := dialHTTPStream(ctx, client, d.BaseURL)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// DefaultDialers returns the negotiation order: native socket first, HTTP stream second.
func DefaultDialers(wsURL, baseURL string) []Dialer {
	return []Dialer{
		&WebSocketDialer{URL: wsURL, WriteTimeout: 10 * time.Second},
		&HTTPStreamDialer{BaseURL: baseURL},
	}
}
