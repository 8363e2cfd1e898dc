package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"gitlab.com/timkado/api/daisi-function-engine/internal/tenant"
)

func TestFromContext(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	scoped := zap.New(core)

	ctx := tenant.WithRequestID(WithLogger(context.Background(), scoped), "req-7")
	FromContext(ctx).Info("hello")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "req-7", logs.All()[0].ContextMap()["request_id"])
}

func TestFromContextOr(t *testing.T) {
	fallback := zap.NewNop()
	assert.Same(t, fallback, FromContextOr(context.Background(), fallback))
	assert.Same(t, Log, FromContextOr(context.Background(), nil))

	scoped := zap.NewExample()
	assert.Same(t, scoped, FromContextOr(WithLogger(context.Background(), scoped), fallback))
}

func TestInitialize_UnknownLevelFallsBackToInfo(t *testing.T) {
	prev := Log
	t.Cleanup(func() { Log = prev })

	require.NoError(t, Initialize("verbose", zap.String("service", "test")))
	assert.True(t, Log.Core().Enabled(zap.InfoLevel))
	assert.False(t, Log.Core().Enabled(zap.DebugLevel))
}
