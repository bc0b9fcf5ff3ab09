package telemetry_test

import (
	"context"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/telemetry"
)

func TestSetup(t *testing.T) {
	t.Run("NoopWhenDisabled", func(t *testing.T) {
		cfg := domain.TracingConfig{Enabled: false, Endpoint: "http://localhost:4318"}
		shutdown, err := telemetry.Setup(context.Background(), cfg, "test")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := shutdown(context.Background()); err != nil {
			t.Fatalf("shutdown error: %v", err)
		}
	})

	t.Run("NoopWithoutEndpoint", func(t *testing.T) {
		cfg := domain.TracingConfig{Enabled: true}
		shutdown, err := telemetry.Setup(context.Background(), cfg, "test")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := shutdown(ctx); err != nil {
			t.Fatalf("noop shutdown should ignore a cancelled context: %v", err)
		}
	})

	t.Run("ProviderWithEndpoint", func(t *testing.T) {
		// Non-routable address: nothing is exported before shutdown
		cfg := domain.TracingConfig{Enabled: true, ServiceName: "kestrel-test", Endpoint: "http://192.0.2.1:4318"}
		shutdown, err := telemetry.Setup(context.Background(), cfg, "test")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := shutdown(context.Background()); err != nil {
			t.Fatalf("shutdown error: %v", err)
		}
	})
}
