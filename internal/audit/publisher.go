// Package audit records directory and recovery lifecycle events to an
// append-only sink. Emission is best-effort: an audit outage must never fail
// the operation being audited, so Publisher logs and drops on sink error.
package audit

import (
	"context"
	"log/slog"
	"time"
)

// Sink receives finalized events. Implementations must be safe for
// concurrent use.
type Sink interface {
	Publish(ctx context.Context, e Event) error
}

type Publisher struct {
	sink   Sink
	logger *slog.Logger
	clock  func() time.Time
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithClock(clock func() time.Time) Option {
	return func(p *Publisher) {
		if clock != nil {
			p.clock = clock
		}
	}
}

func NewPublisher(sink Sink, opts ...Option) *Publisher {
	p := &Publisher{
		sink:   sink,
		logger: slog.Default(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit stamps and publishes the event. A nil publisher or sink is a no-op so
// callers do not guard every emission site.
func (p *Publisher) Emit(ctx context.Context, e Event) {
	if p == nil || p.sink == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = p.clock().UTC()
	}
	if err := p.sink.Publish(ctx, e); err != nil {
		p.logger.Error("audit publish failed", "kind", e.Kind, "error", err)
	}
}
