package service

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName identifies spans emitted by this package in the configured
// OpenTelemetry SDK (wired at startup in cmd/hookengine/cmd/serve.go with a
// stdout exporter).
const tracerName = "github.com/scmhooks/hookengine/internal/service"

func tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// startEvaluationSpan opens a span around one of the two HookManager
// evaluation entry points and tags it with the request's bookmark and
// changeset id.
func startEvaluationSpan(ctx context.Context, name string, req PushRequest) (context.Context, trace.Span) {
	return tracer().Start(ctx, name, trace.WithAttributes(
		attribute.String("hookengine.bookmark", string(req.Bookmark)),
		attribute.String("hookengine.changeset_id", string(req.ChangesetID)),
	))
}

// endEvaluationSpan records err (if any) on span and closes it.
func endEvaluationSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
