package reader

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/promotion0824/TwinPlatform-sub045/twin"
)

var _ Remote = (*tracingMiddleware)(nil)

type tracingMiddleware struct {
	tracer trace.Tracer
	remote Remote
}

// NewTracingRemote returns a Remote that records a span around every call.
func NewTracingRemote(remote Remote, tracer trace.Tracer) Remote {
	return &tracingMiddleware{tracer: tracer, remote: remote}
}

func (tm *tracingMiddleware) GetDigitalTwin(ctx context.Context, id string) (*twin.Twin, error) {
	ctx, span := tm.tracer.Start(ctx, "remote_get_digital_twin", trace.WithAttributes(attribute.String("twin_id", id)))
	defer span.End()

	t, err := tm.remote.GetDigitalTwin(ctx, id)
	span.SetAttributes(attribute.Bool("found", t != nil))
	return t, record(span, err)
}

func (tm *tracingMiddleware) GetRelationship(ctx context.Context, id, otherEndID string) (*twin.Relationship, error) {
	ctx, span := tm.tracer.Start(ctx, "remote_get_relationship", trace.WithAttributes(
		attribute.String("relationship_id", id),
		attribute.String("other_end_id", otherEndID),
	))
	defer span.End()

	rel, err := tm.remote.GetRelationship(ctx, id, otherEndID)
	span.SetAttributes(attribute.Bool("found", rel != nil))
	return rel, record(span, err)
}

func (tm *tracingMiddleware) GetRelationships(ctx context.Context, ids []string) ([]twin.Relationship, error) {
	ctx, span := tm.tracer.Start(ctx, "remote_get_relationships", trace.WithAttributes(attribute.Int("requested", len(ids))))
	defer span.End()

	rels, err := tm.remote.GetRelationships(ctx, ids)
	span.SetAttributes(attribute.Int("count", len(rels)))
	return rels, record(span, err)
}

func (tm *tracingMiddleware) GetTwinRelationships(ctx context.Context, twinID string) ([]twin.Relationship, error) {
	ctx, span := tm.tracer.Start(ctx, "remote_get_twin_relationships", trace.WithAttributes(attribute.String("twin_id", twinID)))
	defer span.End()

	rels, err := tm.remote.GetTwinRelationships(ctx, twinID)
	span.SetAttributes(attribute.Int("count", len(rels)))
	return rels, record(span, err)
}

func record(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
