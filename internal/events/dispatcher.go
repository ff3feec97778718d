package events

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const defaultSideEffectTimeout = 5 * time.Second

// BoardInvalidator drops cached read models of a session
type BoardInvalidator interface {
	Invalidate(ctx context.Context, sessionID uuid.UUID) error
}

// Dispatcher feeds every event to the realtime bus and the push fanout.
// Both are observed effects of an already persisted change: failures are
// logged and never returned.
type Dispatcher struct {
	bus     EventBus
	push    PushFanout
	cache   BoardInvalidator
	timeout time.Duration
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithBoardInvalidator invalidates the board cache before fanout
func WithBoardInvalidator(cache BoardInvalidator) Option {
	return func(d *Dispatcher) { d.cache = cache }
}

// WithTimeout bounds each side effect
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(bus EventBus, push PushFanout, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		bus:     bus,
		push:    push,
		timeout: defaultSideEffectTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch emits the events in order. For each event the broadcast and
// the push run in parallel; the caller's cancellation does not cut them
// short.
func (d *Dispatcher) Dispatch(ctx context.Context, events ...Event) {
	ctx = context.WithoutCancel(ctx)

	for _, evt := range events {
		d.invalidate(ctx, evt)

		var g errgroup.Group
		if d.bus != nil {
			g.Go(func() error {
				return d.guard(ctx, evt, "broadcast", func(ctx context.Context) error {
					return d.bus.Broadcast(ctx, evt.SessionID, evt)
				})
			})
		}
		if d.push != nil {
			g.Go(func() error {
				return d.guard(ctx, evt, "push", func(ctx context.Context) error {
					return d.push.Publish(ctx, evt)
				})
			})
		}
		_ = g.Wait()
	}
}

func (d *Dispatcher) invalidate(ctx context.Context, evt Event) {
	if d.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.cache.Invalidate(ctx, evt.SessionID); err != nil {
		log.Warn().Err(err).
			Str("session_id", evt.SessionID.String()).
			Msg("failed to invalidate board cache")
	}
}

// guard runs one side effect with a timeout, logs its failure and
// swallows it.
func (d *Dispatcher) guard(ctx context.Context, evt Event, channel string, fn func(context.Context) error) (err error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			log.Error().Err(err).
				Str("channel", channel).
				Str("event_type", string(evt.Type)).
				Str("session_id", evt.SessionID.String()).
				Msg("event fanout failed")
		}
		err = nil
	}()

	return fn(ctx)
}
