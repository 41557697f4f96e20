package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attributes must stay low cardinality. Mod ids, file ids, paths and
// pre-signed URLs belong in logs, not here.

// InstrumentedFunc is the unit of work the Instrument helpers wrap.
type InstrumentedFunc func(ctx context.Context) error

// InstrumentDBOperation traces a repository call and records its outcome
// and latency.
func (t *Telemetry) InstrumentDBOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()

	err := t.traced(ctx, "db."+operation, fn,
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation", operation),
	)

	t.RecordDBOperation(ctx, operation, outcome(err), time.Since(start))

	return err
}

// InstrumentClientOperation traces a call to a remote service, such as the
// mod.io API or an image host, and counts it by outcome.
func (t *Telemetry) InstrumentClientOperation(ctx context.Context, client, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	err := t.traced(ctx, client+"."+operation, fn,
		attribute.String("client.type", client),
		attribute.String("client.operation", operation),
	)

	t.RecordClientOperation(ctx, client, operation, outcome(err))

	return err
}

func (t *Telemetry) traced(ctx context.Context, name string, fn InstrumentedFunc, attrs ...attribute.KeyValue) error {
	if t.tracer == nil {
		return fn(ctx)
	}

	ctx, span := t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	defer span.End()

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	return err
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}

	return "success"
}
