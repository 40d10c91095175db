package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_ValidLevel(t *testing.T) {
	l, err := NewLogger("info")
	require.NoError(t, err)
	require.NotNil(t, l)
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	_, err := NewLogger("not-a-level")
	assert.Error(t, err)
}

func TestWithRequestID(t *testing.T) {
	l, err := NewLogger("debug")
	require.NoError(t, err)

	ctx := context.WithValue(context.Background(), "request_id", "abc-123")
	scoped := l.WithRequestID(ctx)
	assert.NotNil(t, scoped)

	// no request id in context: falls back to the base logger
	plain := l.WithRequestID(context.Background())
	assert.Equal(t, l.Logger, plain)
}
