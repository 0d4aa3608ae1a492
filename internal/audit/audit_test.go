package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLog(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	Log(zap.New(core).Named("scheduler"), "task.complete", zap.String("task", "load:genes"))

	entries := logs.All()
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "scheduler.audit", e.LoggerName)
	assert.Equal(t, zapcore.DebugLevel, e.Level)
	assert.Equal(t, "task.complete", e.Message)
	assert.Equal(t, "load:genes", e.ContextMap()["task"])
}

func TestLog_HiddenAboveDebug(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	Log(zap.New(core), "task.dispatch")
	assert.Zero(t, logs.Len())
}

func TestLog_NilLogger(t *testing.T) {
	assert.NotPanics(t, func() { Log(nil, "task.failed") })
}
