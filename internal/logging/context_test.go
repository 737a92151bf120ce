package logging

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-123")
	assert.Equal(t, "req-123", RequestIDFromContext(ctx))
}

func TestWithClientID(t *testing.T) {
	ctx := WithClientID(context.Background(), "0b51886f-ff72-4f1a-8eb3-bd0b2b3e7f0a")
	assert.Equal(t, "0b51886f-ff72-4f1a-8eb3-bd0b2b3e7f0a", ClientIDFromContext(ctx))
}

func TestContextFieldsEmpty(t *testing.T) {
	fields := ContextFields(context.Background())
	assert.Empty(t, fields)
}

func TestContextFieldsInjected(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithRequestID(context.Background(), "req-9")
	ctx = WithClientID(ctx, "client-7")
	tl.Info(ctx, "handled")

	entries := tl.FilterMessage("handled").All()
	require.Len(t, entries, 1)

	keys := make(map[string]string)
	for _, f := range entries[0].Context {
		keys[f.Key] = f.String
	}
	assert.Equal(t, "req-9", keys["request.id"])
	assert.Equal(t, "client-7", keys["client.id"])
}

func TestWithRequestIDValidation(t *testing.T) {
	tests := []struct {
		name string
		id   string
	}{
		{name: "empty", id: ""},
		{name: "too long", id: strings.Repeat("a", 200)},
		{name: "invalid chars", id: "id with spaces"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Panics(t, func() {
				WithRequestID(context.Background(), tt.id)
			})
		})
	}
}

func TestValidID(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want bool
	}{
		{name: "simple", id: "req-123", want: true},
		{name: "underscores", id: "a_b_c", want: true},
		{name: "max length", id: strings.Repeat("a", 128), want: true},
		{name: "empty", id: "", want: false},
		{name: "too long", id: strings.Repeat("a", 129), want: false},
		{name: "spaces", id: "evil id with spaces!!!", want: false},
		{name: "newline", id: "id\nwith-newline", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidID(tt.id))
		})
	}
}

func TestFromContextFallback(t *testing.T) {
	logger := FromContext(context.Background())
	require.NotNil(t, logger)
	// Nop logger must be safe to use.
	logger.Info(context.Background(), "ignored")
}

func TestWithLoggerRoundTrip(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	got := FromContext(ctx)
	got.Info(ctx, "via context")
	tl.AssertLogged(t, 0, "via context")
}
