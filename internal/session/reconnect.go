package session

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"

	"github.com/zhouzirui/productivity-assistant/backend/internal/transport"
	"github.com/zhouzirui/productivity-assistant/backend/internal/wire"
)

// ReconnectPolicy bounds reconnection after the channel drops mid-session.
// Mode is unaffected: sends issued while reconnecting use the REST endpoint.
type ReconnectPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxRetries      uint64
}

// DefaultReconnectPolicy retries five times between one and thirty seconds apart.
func DefaultReconnectPolicy() *ReconnectPolicy {
	return &ReconnectPolicy{
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		MaxRetries:      5,
	}
}

func (p *ReconnectPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, p.MaxRetries)
}

func (s *Session) reconnectLoop() {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		s.reconnecting = false
		s.mu.Unlock()
	}()

	attempt := 0
	op := func() error {
		attempt++
		err := s.channel.Connect(s.ctx, s.token())
		switch {
		case errors.Is(err, transport.ErrMissingToken), errors.Is(err, transport.ErrAlreadyConnected):
			return backoff.Permanent(err)
		case err != nil:
			s.logger.Debug().Err(err).Int("attempt", attempt).Msg("reconnect attempt failed")
			return err
		}
		if _, err := s.channel.Subscribe(wire.InboundChat, s.onReply); err != nil {
			s.channel.Disconnect()
			return err
		}
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(s.reconnect.backOff(), s.ctx)); err != nil {
		s.logger.Warn().Err(err).Int("attempts", attempt).Msg("reconnect abandoned")
		return
	}
	s.logger.Info().Int("attempts", attempt).Msg("channel restored")
}
