package wire

import (
	"bytes"
	"encoding/json"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/pkg/errors"
)

// Destinations used by the chat channel.
const (
	InboundChat = "/user/queue/chat"
	ChatSend    = "/app/chat.send"
	ChatClear   = "/app/chat.clear"
)

// Non-standard headers.
const (
	HeaderAuthorization = "Authorization"
	HeaderCorrelationID = "correlation-id"
	ContentTypeJSON     = "application/json"
	ProtocolVersion     = "1.2"
)

// Encode renders a frame in STOMP text form, NUL terminated.
func Encode(f *frame.Frame) ([]byte, error) {
	if f == nil {
		return nil, errors.New("nil frame")
	}
	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		return nil, errors.Wrap(err, "encode frame")
	}
	return buf.Bytes(), nil
}

// Decode parses one frame. A heart-beat yields a nil frame and a nil error.
func Decode(data []byte) (*frame.Frame, error) {
	f, err := frame.NewReader(bytes.NewReader(data)).Read()
	if err != nil {
		return nil, errors.Wrap(err, "decode frame")
	}
	return f, nil
}

// NewConnect builds the handshake frame carrying the bearer credential.
func NewConnect(host, token string) *frame.Frame {
	return frame.New(frame.CONNECT,
		frame.AcceptVersion, ProtocolVersion,
		frame.Host, host,
		HeaderAuthorization, "Bearer "+token,
	)
}

// NewSend builds a SEND frame with a JSON body.
func NewSend(destination string, payload any, headers map[string]string) (*frame.Frame, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "marshal payload")
	}
	f := frame.New(frame.SEND,
		frame.Destination, destination,
		frame.ContentType, ContentTypeJSON,
	)
	for k, v := range headers {
		f.Header.Set(k, v)
	}
	f.Body = body
	return f, nil
}

// NewSubscribe builds a SUBSCRIBE frame.
func NewSubscribe(id, destination string) *frame.Frame {
	return frame.New(frame.SUBSCRIBE, frame.Id, id, frame.Destination, destination)
}

// NewUnsubscribe builds an UNSUBSCRIBE frame.
func NewUnsubscribe(id string) *frame.Frame {
	return frame.New(frame.UNSUBSCRIBE, frame.Id, id)
}

// NewError builds an ERROR frame with a short message header.
func NewError(message string) *frame.Frame {
	f := frame.New(frame.ERROR, frame.Message, message)
	f.Body = []byte(message)
	return f
}

// BearerToken extracts the credential from an Authorization header value.
func BearerToken(value string) (string, bool) {
	const prefix = "Bearer "
	if len(value) <= len(prefix) || value[:len(prefix)] != prefix {
		return "", false
	}
	return value[len(prefix):], true
}
