package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		config    Config
		wantError bool
		errorMsg  string
	}{
		{
			name:   "defaults to stderr json",
			config: Config{},
		},
		{
			name:   "console encoding",
			config: Config{Level: "debug", Encoding: "console"},
		},
		{
			name:      "invalid level",
			config:    Config{Level: "loud"},
			wantError: true,
			errorMsg:  "invalid log level",
		},
		{
			name:      "stdout rejected",
			config:    Config{OutputPaths: []string{"stdout"}},
			wantError: true,
			errorMsg:  "cannot be stdout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.config)
			if tt.wantError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, l)
		})
	}
}

func TestFromContext(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)

	ctx := WithStream(WithRunID(context.Background(), "run-1"), "sales")
	FromContext(ctx, base).Info("page emitted")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "run-1", fields["run_id"])
	assert.Equal(t, "sales", fields["stream"])
}
