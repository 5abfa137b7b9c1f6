package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/zhouzirui/productivity-assistant/backend/internal/wire"
)

const maxStreamLine = 1 << 20

type httpStreamConn struct {
	client  *http.Client
	sendURL string

	ctx    context.Context
	cancel context.CancelFunc
	body   io.ReadCloser
	lines  *bufio.Scanner

	closeOnce sync.Once
}

func dialHTTPStream(ctx context.Context, client *http.Client, baseURL string) (*httpStreamConn, error) {
	sessionID := uuid.NewString()
	base := strings.TrimRight(baseURL, "/")

	// The stream outlives the dial context; only the dial itself is bounded by it.
	streamCtx, cancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, base+wire.StreamEventsPath(sessionID), nil)
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "create stream request")
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(req)
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "open event stream")
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, errors.Errorf("open event stream: HTTP %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLine)

	return &httpStreamConn{
		client:  client,
		sendURL: base + wire.StreamSendPath(sessionID),
		ctx:     streamCtx,
		cancel:  cancel,
		body:    resp.Body,
		lines:   scanner,
	}, nil
}

func (c *httpStreamConn) ReadFrame() (*frame.Frame, error) {
	for c.lines.Scan() {
		line := c.lines.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var ev wire.StreamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			return nil, errors.Wrap(err, "parse stream event")
		}
		f, err := wire.Decode([]byte(ev.Frame))
		if err != nil {
			return nil, err
		}
		if f == nil {
			continue
		}
		return f, nil
	}

	if c.ctx.Err() != nil {
		return nil, wire.ErrClosed
	}
	if err := c.lines.Err(); err != nil {
		return nil, errors.Wrap(err, "read event stream")
	}
	return nil, io.EOF
}

func (c *httpStreamConn) WriteFrame(f *frame.Frame) error {
	if c.ctx.Err() != nil {
		return wire.ErrClosed
	}
	data, err := wire.Encode(f)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(c.ctx, http.MethodPost, c.sendURL, bytes.NewReader(data))
	if err != nil {
		return errors.Wrap(err, "create send request")
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "post frame")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		return errors.Errorf("post frame: HTTP %d", resp.StatusCode)
	}
	return nil
}

func (c *httpStreamConn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.body.Close()
	})
	return nil
}
