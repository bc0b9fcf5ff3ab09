package bus

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// MetadataOrigin names the instance that published a message.
const MetadataOrigin = "origin"

// instanceID identifies this process in message metadata.
var instanceID = func() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}()

// InstanceID returns the origin stamped on messages published by this process.
func InstanceID() string { return instanceID }

// envelope wraps a payload and injects the publisher's trace context so the
// subscriber's work joins the same trace.
func envelope(ctx context.Context, topic string, payload []byte) *domain.Message {
	md := map[string]string{MetadataOrigin: instanceID}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(md))

	return &domain.Message{
		ID:        uuid.NewString(),
		Topic:     topic,
		Payload:   payload,
		Metadata:  md,
		Timestamp: time.Now().UnixNano(),
	}
}

// deliveryContext restores the publisher's trace context on ctx.
func deliveryContext(ctx context.Context, msg *domain.Message) context.Context {
	if len(msg.Metadata) == 0 {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(msg.Metadata))
}
