package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWith_CarriesFieldsToZap(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := &Logger{SugaredLogger: zap.New(core).Sugar()}

	scoped := log.With("period_id", "p-2024-01")
	scoped.Info("period locked", "bound", 3)
	scoped.Zap().Warn("structured", zap.Int("cancelled", 1))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "period locked", entries[0].Message)
	assert.Equal(t, "p-2024-01", entries[0].ContextMap()["period_id"])
	assert.Equal(t, int64(3), entries[0].ContextMap()["bound"])
	assert.Equal(t, "p-2024-01", entries[1].ContextMap()["period_id"])
}

func TestNew_Modes(t *testing.T) {
	for _, mode := range []string{"dev", "prod"} {
		l, err := New(mode)
		require.NoError(t, err, mode)
		assert.NotNil(t, l.Zap())
	}
	Nop().Info("discarded")
}
