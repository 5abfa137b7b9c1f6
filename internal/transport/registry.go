package transport

import (
	"sync"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/productivity-assistant/backend/internal/wire"
)

// Handler receives MESSAGE frames for one destination.
type Handler func(f *frame.Frame)

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	ID          string
	Destination string
}

// link is the part of the Client the registry needs.
type link interface {
	Connected() bool
	Send(f *frame.Frame) error
}

type entry struct {
	sub     *Subscription
	handler Handler
}

// Registry maps each destination to exactly one active handler.
type Registry struct {
	link   link
	logger zerolog.Logger

	mu     sync.RWMutex
	byDest map[string]*entry
	byID   map[string]*entry
}

func newRegistry(l link, logger zerolog.Logger) *Registry {
	return &Registry{
		link:   l,
		logger: logger,
		byDest: make(map[string]*entry),
		byID:   make(map[string]*entry),
	}
}

// Subscribe registers handler for destination. Calling it again for the same
// destination swaps the handler in place and keeps the server-side subscription.
// Outside the Connected state it returns ErrNotConnected and sends nothing.
func (r *Registry) Subscribe(destination string, handler Handler) (*Subscription, error) {
	if destination == "" {
		return nil, errors.New("destination is required")
	}
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	if !r.link.Connected() {
		r.logger.Error().Str("destination", destination).Msg("subscribe rejected: channel not connected")
		return nil, ErrNotConnected
	}

	r.mu.Lock()
	if existing, ok := r.byDest[destination]; ok {
		existing.handler = handler
		r.mu.Unlock()
		r.logger.Debug().Str("destination", destination).Msg("subscription handler replaced")
		return existing.sub, nil
	}

	e := &entry{
		sub:     &Subscription{ID: uuid.NewString(), Destination: destination},
		handler: handler,
	}
	r.byDest[destination] = e
	r.byID[e.sub.ID] = e
	r.mu.Unlock()

	if err := r.link.Send(wire.NewSubscribe(e.sub.ID, destination)); err != nil {
		r.remove(destination)
		return nil, errors.Wrapf(err, "subscribe %s", destination)
	}

	r.logger.Debug().Str("destination", destination).Str("id", e.sub.ID).Msg("subscribed")
	return e.sub, nil
}

// Unsubscribe removes the destination. Unknown destinations are ignored.
func (r *Registry) Unsubscribe(destination string) error {
	e := r.remove(destination)
	if e == nil {
		return nil
	}
	return r.release(e)
}

// UnsubscribeAll empties the registry. Each entry is released independently;
// a failing release is logged and the teardown carries on.
func (r *Registry) UnsubscribeAll() {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.byDest))
	for _, e := range r.byDest {
		entries = append(entries, e)
	}
	r.byDest = make(map[string]*entry)
	r.byID = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range entries {
		if err := r.release(e); err != nil {
			r.logger.Warn().Err(err).Str("destination", e.sub.Destination).Msg("unsubscribe failed during teardown")
		}
	}
}

// Dispatch routes a MESSAGE frame to the handler currently registered for it.
// It reports whether a handler was found.
func (r *Registry) Dispatch(f *frame.Frame) bool {
	r.mu.RLock()
	e, ok := r.byID[f.Header.Get(frame.Subscription)]
	if !ok {
		e, ok = r.byDest[f.Header.Get(frame.Destination)]
	}
	var handler Handler
	if ok {
		handler = e.handler
	}
	r.mu.RUnlock()

	if handler == nil {
		r.logger.Debug().
			Str("destination", f.Header.Get(frame.Destination)).
			Msg("dropping frame without subscription")
		return false
	}
	handler(f)
	return true
}

// Len reports the number of registered destinations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byDest)
}

func (r *Registry) remove(destination string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byDest[destination]
	if !ok {
		return nil
	}
	delete(r.byDest, destination)
	delete(r.byID, e.sub.ID)
	return e
}

// release tells the server, when there is still a channel to tell it on.
func (r *Registry) release(e *entry) error {
	if !r.link.Connected() {
		return nil
	}
	if err := r.link.Send(wire.NewUnsubscribe(e.sub.ID)); err != nil {
		return errors.Wrapf(err, "unsubscribe %s", e.sub.Destination)
	}
	return nil
}
