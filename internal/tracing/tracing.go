// Package tracing wires OpenTelemetry spans around the core's long-running
// operations: heartbeat ticks, coordinator task lifecycles, and sidekick
// runs. This package only owns span creation and naming; exporting is up
// to the span processors passed to NewProvider. The composition root
// (cmd/run.go) passes none, so spans are not exported.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/nextlevelbuilder/botmesh"

// NewProvider builds a TracerProvider with the given span processors (an
// OTLP exporter, a stdout exporter, or none). Callers that don't need
// export can pass no processors and still get span creation/propagation
// for free, with spans simply discarded at Shutdown.
func NewProvider(processors ...sdktrace.SpanProcessor) *sdktrace.TracerProvider {
	opts := make([]sdktrace.TracerProviderOption, 0, len(processors))
	for _, p := range processors {
		opts = append(opts, sdktrace.WithSpanProcessor(p))
	}
	return sdktrace.NewTracerProvider(opts...)
}

// Register installs tp as the global TracerProvider so every package in
// this module (via otel.Tracer) picks it up without a dependency on the
// composition root.
func Register(tp *sdktrace.TracerProvider) {
	otel.SetTracerProvider(tp)
}

func tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartHeartbeatTick opens a span covering one bot's heartbeat tick.
func StartHeartbeatTick(ctx context.Context, botName, tickID string, trigger string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "heartbeat.tick",
		trace.WithAttributes(
			attribute.String("bot.name", botName),
			attribute.String("tick.id", tickID),
			attribute.String("tick.trigger", trigger),
		),
	)
}

// StartCheck opens a span for a single heartbeat check execution.
func StartCheck(ctx context.Context, botName, checkName string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "heartbeat.check",
		trace.WithAttributes(
			attribute.String("bot.name", botName),
			attribute.String("check.name", checkName),
		),
	)
}

// StartTask opens a span covering one coordinator task from creation
// through its terminal HandleTaskResult/HandleTaskFailure call.
func StartTask(ctx context.Context, taskID, requestingBot, assignedBot string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "coordinator.task",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("task.requesting_bot", requestingBot),
			attribute.String("task.assigned_bot", assignedBot),
		),
	)
}

// StartSidekickBatch opens a span covering one Orchestrator.Run call.
func StartSidekickBatch(ctx context.Context, parentBotID, roomID string, taskCount int) (context.Context, trace.Span) {
	return tracer().Start(ctx, "sidekick.batch",
		trace.WithAttributes(
			attribute.String("sidekick.parent_bot_id", parentBotID),
			attribute.String("sidekick.room_id", roomID),
			attribute.Int("sidekick.task_count", taskCount),
		),
	)
}

// StartSidekickTask opens a span covering one sidekick's runOne call.
func StartSidekickTask(ctx context.Context, taskID, goal string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "sidekick.task",
		trace.WithAttributes(
			attribute.String("sidekick.task_id", taskID),
			attribute.String("sidekick.goal", goal),
		),
	)
}

// EndWithError finishes span, recording err if non-nil.
func EndWithError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}
