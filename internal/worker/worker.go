// Package worker runs background consumers of the event bus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
)

var tracer = otel.Tracer("kestrel-worker")

// Invalidator drops cached results whenever the order table is reloaded.
// Each instance runs one so that every local cache layer is flushed.
type Invalidator struct {
	bus   domain.EventBus
	cache domain.Cache

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc

	flushes atomic.Int64
}

// NewInvalidator creates an invalidator for the given bus and cache.
func NewInvalidator(eventBus domain.EventBus, cache domain.Cache) *Invalidator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Invalidator{
		bus:    eventBus,
		cache:  cache,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to dataset refresh events.
func (w *Invalidator) Start() error {
	if w.bus == nil || w.cache == nil {
		return fmt.Errorf("invalidator requires a bus and a cache")
	}

	sub, err := w.bus.Subscribe(w.ctx, domain.TopicDatasetRefreshed, w.handleRefresh)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicDatasetRefreshed, err)
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("cache invalidator started",
		"topic", domain.TopicDatasetRefreshed,
	)
	return nil
}

// handleRefresh flushes the cache. An unreadable payload still flushes.
// The span continues the publisher's trace when the bus carried one.
func (w *Invalidator) handleRefresh(ctx context.Context, msg *domain.Message) error {
	origin := msg.Metadata[bus.MetadataOrigin]
	ctx, span := tracer.Start(ctx, "cache.invalidate",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", msg.Topic),
			attribute.String("messaging.message.id", msg.ID),
			attribute.String("kestrel.origin", origin),
		),
	)
	defer span.End()

	var event domain.DatasetRefreshed
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		slog.Warn("unreadable refresh event",
			"message_id", msg.ID,
			"error", err,
		)
	}

	if err := w.cache.Flush(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cache flush failed")
		slog.Error("cache flush failed",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	w.flushes.Add(1)
	span.SetAttributes(attribute.Int("kestrel.rows", event.Rows))

	slog.Info("cache flushed after dataset refresh",
		"message_id", msg.ID,
		"origin", origin,
		"source", event.Source,
		"rows", event.Rows,
	)
	return nil
}

// Stop gracefully stops the invalidator.
func (w *Invalidator) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("cache invalidator stopped")
	return nil
}

// Stats returns invalidator statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Flushes           int64    `json:"flushes"`
}

// GetStats returns current invalidator statistics.
func (w *Invalidator) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Flushes:           w.flushes.Load(),
	}
}

// PublishRefreshed announces that the order table was reloaded.
func PublishRefreshed(ctx context.Context, eventBus domain.EventBus, event domain.DatasetRefreshed) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal refresh event: %w", err)
	}
	return eventBus.Publish(ctx, domain.TopicDatasetRefreshed, payload)
}
