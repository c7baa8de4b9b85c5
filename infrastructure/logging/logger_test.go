package logging

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithContextAddsFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New("ledger", "debug", "json")
	logger.SetOutput(&buf)

	ctx := WithTraceID(context.Background(), "trace-123")
	ctx = WithTenantID(ctx, "tenant-1")

	logger.WithContext(ctx).Info("hello")

	out := buf.String()
	assert.Contains(t, out, "trace-123")
	assert.Contains(t, out, "tenant-1")
	assert.Contains(t, out, `"service":"ledger"`)
}

func TestTraceIDRoundTrip(t *testing.T) {
	ctx := WithTraceID(context.Background(), "abc")
	require.Equal(t, "abc", GetTraceID(ctx))
	require.Equal(t, "", GetTraceID(context.Background()))
}

func TestNewTraceIDIsUnique(t *testing.T) {
	a := NewTraceID()
	b := NewTraceID()
	assert.NotEqual(t, a, b)
}
