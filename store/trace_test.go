package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func attrValue(span sdktrace.ReadOnlySpan, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestTraceModule(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	s, err := New(Trace(tp), countModule)
	require.NoError(t, err)
	require.NoError(t, s.Dispatch("inc", nil))

	var dispatchSpans, changedSpans []sdktrace.ReadOnlySpan
	for _, span := range recorder.Ended() {
		switch span.Name() {
		case "store.dispatch":
			dispatchSpans = append(dispatchSpans, span)
		case "store.changed":
			changedSpans = append(changedSpans, span)
		}
	}

	// one dispatch span each for @init and inc, one changed span each for
	// the cycles that produced a delta
	require.Len(t, dispatchSpans, 2)
	require.Len(t, changedSpans, 2)

	event, ok := attrValue(dispatchSpans[0], "store.event")
	require.True(t, ok)
	assert.Equal(t, EventInit, event.AsString())

	event, ok = attrValue(dispatchSpans[1], "store.event")
	require.True(t, ok)
	assert.Equal(t, "inc", event.AsString())

	handlers, ok := attrValue(dispatchSpans[1], "store.handlers")
	require.True(t, ok)
	assert.Equal(t, int64(1), handlers.AsInt64())

	keys, ok := attrValue(changedSpans[1], "store.keys")
	require.True(t, ok)
	assert.Equal(t, []string{"count"}, keys.AsStringSlice())
}

func TestTraceModuleQuietOnNoopDispatch(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	s, err := New(Trace(tp))
	require.NoError(t, err)
	before := len(recorder.Ended())

	require.NoError(t, s.Dispatch("unhandled", nil))

	var changed int
	for _, span := range recorder.Ended()[before:] {
		if span.Name() == "store.changed" {
			changed++
		}
	}
	assert.Equal(t, 0, changed)
}
