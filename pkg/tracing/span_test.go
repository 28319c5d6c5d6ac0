package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChildSpansAttachToParent(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "search", "trace-1")
	_, plan := StartChildSpan(ctx, "plan")
	plan.SetAttr("candidates", 12)
	plan.End()
	root.End()

	require.Len(t, root.Children, 1)
	assert.Equal(t, "trace-1", root.Children[0].TraceID)
	assert.Equal(t, 12, root.Children[0].Attrs["candidates"])
	assert.NotPanics(t, root.Log)
}

func TestChildWithoutParentIsNil(t *testing.T) {
	ctx := context.Background()
	got, span := StartChildSpan(ctx, "plan")

	assert.Nil(t, span)
	assert.Equal(t, ctx, got)
	assert.NotPanics(t, func() {
		span.SetAttr("k", "v")
		span.End()
		span.Log()
	})
}

func TestTracerSampling(t *testing.T) {
	ctx := context.Background()

	_, span := NewTracer(false, 1).Start(ctx, "search", "t")
	assert.Nil(t, span, "disabled tracer")

	_, span = NewTracer(true, 0).Start(ctx, "search", "t")
	assert.Nil(t, span, "zero rate")

	ctx2, span := NewTracer(true, 1).Start(ctx, "search", "t")
	require.NotNil(t, span)
	assert.Same(t, span, SpanFromContext(ctx2))

	var nilTracer *Tracer
	_, span = nilTracer.Start(ctx, "search", "t")
	assert.Nil(t, span)
}
