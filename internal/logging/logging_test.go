package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"default", *NewDefaultConfig(), false},
		{"json format", Config{Level: "debug", Format: "json"}, false},
		{"bad format", Config{Level: "info", Format: "text"}, true},
		{"bad level", Config{Level: "loud", Format: "json"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	_, err := NewLogger(&Config{Level: "info", Format: "xml"})
	require.Error(t, err)
}

func TestNewLogger_NilConfigUsesDefaults(t *testing.T) {
	logger, err := NewLogger(nil)
	require.NoError(t, err)
	require.NotNil(t, logger)
}

func TestContextFields(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, ContextFields(ctx))

	ctx = WithSessionID(ctx, "sess-1")
	ctx = WithStage(ctx, "design")

	assert.Equal(t, "sess-1", SessionIDFromContext(ctx))
	assert.Equal(t, "design", StageFromContext(ctx))
	assert.Len(t, ContextFields(ctx), 2)
}

func TestContextFields_MissingValues(t *testing.T) {
	ctx := WithStage(context.Background(), "coding")
	fields := ContextFields(ctx)
	require.Len(t, fields, 1)
}
