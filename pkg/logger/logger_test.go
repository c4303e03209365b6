package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestMaskPhone(t *testing.T) {
	assert.Equal(t, "********4567", MaskPhone("+15551234567"))
	assert.Equal(t, "1234", MaskPhone("1234"))
	assert.Equal(t, "", MaskPhone(""))
}

func TestFromContext_AddsCallAndRequestFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	prev := Log
	Log = zap.New(core)
	t.Cleanup(func() { Log = prev })

	ctx := WithCallID(WithRequestID(context.Background(), "req-1"), "call-9")
	FromContext(ctx).Info("turn complete")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, "req-1", fields["request_id"])
		assert.Equal(t, "call-9", fields["call_id"])
	}
}
