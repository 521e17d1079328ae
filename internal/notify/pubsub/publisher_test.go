package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/CWD273/cwiptvm3/internal/cache"
	"github.com/CWD273/cwiptvm3/internal/notify"
)

func TestPublishRequiresClient(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Publish(context.Background(), "topic", notify.Event{})
	require.Error(t, err)
}

func TestAttributes(t *testing.T) {
	t.Parallel()

	attrs := attributes(notify.Event{CycleID: "c1", ChannelID: "news.one", Kind: cache.ChangeRemoved})
	assert.Equal(t, map[string]string{
		"cycle_id":   "c1",
		"channel_id": "news.one",
		"kind":       "removed",
	}, attrs)
	assert.Empty(t, attributes("plain payload"))
}

func TestCarrierRoundTripsTraceContext(t *testing.T) {
	t.Parallel()

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	attrs := attributes(notify.Event{ChannelID: "news.one", Kind: cache.ChangeAdded})
	carrier := &pubsubCarrier{attrs: attrs}
	propagation.TraceContext{}.Inject(ctx, carrier)

	assert.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", attrs["traceparent"])
	assert.Equal(t, "news.one", attrs["channel_id"])
	assert.Contains(t, carrier.Keys(), "traceparent")

	extracted := trace.SpanContextFromContext(propagation.TraceContext{}.Extract(context.Background(), carrier))
	assert.Equal(t, traceID, extracted.TraceID())
}
