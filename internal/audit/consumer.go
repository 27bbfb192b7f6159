package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Handler processes consumed audit events.
type Handler interface {
	Handle(ctx context.Context, e Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, e Event) error

func (f HandlerFunc) Handle(ctx context.Context, e Event) error {
	return f(ctx, e)
}

// Router dispatches events to kind-specific handlers. Events with no
// registered handler go to the fallback, or are skipped so the offset still
// commits and the partition does not wedge on an unknown kind.
type Router struct {
	handlers map[Kind]Handler
	fallback Handler
	logger   *slog.Logger
}

func NewRouter(logger *slog.Logger, fallback Handler) *Router {
	return &Router{
		handlers: make(map[Kind]Handler),
		fallback: fallback,
		logger:   logger,
	}
}

// Register adds a handler for one event kind.
func (r *Router) Register(kind Kind, h Handler) {
	r.handlers[kind] = h
}

// Handle routes the event to its handler.
func (r *Router) Handle(ctx context.Context, e Event) error {
	h, ok := r.handlers[e.Kind]
	if !ok {
		if r.fallback != nil {
			return r.fallback.Handle(ctx, e)
		}
		r.logger.Warn("no handler for event kind, skipping", "kind", e.Kind)
		return nil
	}
	return h.Handle(ctx, e)
}

// Consumer reads audit events from Kafka and feeds them to a Router.
type Consumer struct {
	client *kgo.Client
	router *Router
	logger *slog.Logger
}

// NewConsumer joins the given consumer group on the audit topic.
func NewConsumer(brokers []string, topic, group string, router *Router, logger *slog.Logger) (*Consumer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumerGroup(group),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	return &Consumer{client: client, router: router, logger: logger}, nil
}

// Run polls until the context ends. Offsets commit after every handled
// batch; a handler error stops the run so the batch is redelivered.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return ctx.Err()
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			for _, fe := range errs {
				c.logger.Error("fetch error", "topic", fe.Topic, "error", fe.Err)
			}
			continue
		}

		var handleErr error
		fetches.EachRecord(func(rec *kgo.Record) {
			if handleErr != nil {
				return
			}
			var e Event
			if err := json.Unmarshal(rec.Value, &e); err != nil {
				// A malformed record can never succeed on redelivery.
				c.logger.Error("malformed audit event, skipping",
					"key", string(rec.Key), "error", err)
				return
			}
			handleErr = c.router.Handle(ctx, e)
		})
		if handleErr != nil {
			return fmt.Errorf("handle audit event: %w", handleErr)
		}
		if err := c.client.CommitUncommittedOffsets(ctx); err != nil {
			c.logger.Error("offset commit failed", "error", err)
		}
	}
}

// Close leaves the consumer group.
func (c *Consumer) Close() {
	c.client.Close()
}
