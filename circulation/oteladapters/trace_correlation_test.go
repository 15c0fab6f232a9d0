package oteladapters_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"

	"github.com/openshelf/circulation-go/circulation/oteladapters"
)

// TestTraceCorrelation verifies that the SlogBridgeLogger can log inside and
// outside an active span. The exact record format depends on the configured
// OpenTelemetry LoggerProvider, so this only asserts that logging works.
func TestTraceCorrelation(t *testing.T) {
	tracerProvider := trace.NewTracerProvider()
	otel.SetTracerProvider(tracerProvider)
	defer func() { _ = tracerProvider.Shutdown(context.Background()) }()

	tracer := otel.Tracer("circulation-test")
	logger := oteladapters.NewSlogBridgeLogger("circulation-test")

	t.Run("without_trace_context", func(t *testing.T) {
		logger.InfoContext(context.Background(), "circulation operation: loan created")
	})

	t.Run("with_trace_context", func(t *testing.T) {
		ctx, span := tracer.Start(context.Background(), "circulation.create_loan")
		defer span.End()

		logger.InfoContext(ctx, "circulation operation: loan created")
	})
}

// TestSlogBridgeLoggerAllLevels exercises every level of the bridge logger
// against the global LoggerProvider.
func TestSlogBridgeLoggerAllLevels(t *testing.T) {
	logger := oteladapters.NewSlogBridgeLogger("circulation-test")
	ctx := context.Background()

	logger.DebugContext(ctx, "executed sql for: get_book", "operation", "get_book")
	logger.InfoContext(ctx, "circulation operation: loan created", "operation", "create_loan")
	logger.WarnContext(ctx, "overdue sweep failed", "operation", "sweep_overdue")
	logger.ErrorContext(ctx, "querying records failed", "operation", "get_loan")
}

// TestSlogBridgeLoggerWithHandlerOutput verifies the handler-backed variant
// writes through the given handler.
func TestSlogBridgeLoggerWithHandlerOutput(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})

	logger := oteladapters.NewSlogBridgeLoggerWithHandler(handler)
	logger.InfoContext(context.Background(), "circulation operation: loan returned")

	if !strings.Contains(buf.String(), "circulation operation: loan returned") {
		t.Errorf("expected log output to contain the message, got: %s", buf.String())
	}
}
