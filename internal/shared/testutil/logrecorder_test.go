package testutil

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogRecorder(t *testing.T) {
	t.Run("captures records and attrs", func(t *testing.T) {
		logger, rec := NewTestLogger(t)

		logger.Info("run completed", slog.String("key", "series:1:1Min:0"))
		logger.Error("run failed", slog.Int("code", 500))

		require.Equal(t, 2, rec.Len())
		AssertLogged(t, rec, slog.LevelInfo, "completed", "key", "series:1:1Min:0")
		AssertLogged(t, rec, slog.LevelError, "run failed", "code", int64(500))
	})

	t.Run("find filters by level", func(t *testing.T) {
		logger, rec := NewTestLogger(nil)

		logger.Debug("step finished")
		logger.Info("step finished")
		logger.Warn("retrying")

		assert.Len(t, rec.Find(slog.LevelDebug, "step"), 1)
		assert.Len(t, rec.Find(slog.LevelInfo, "step"), 1)
		assert.Empty(t, rec.Find(slog.LevelError, "step"))
		AssertNoErrors(t, rec)
	})

	t.Run("derived loggers share the buffer", func(t *testing.T) {
		logger, rec := NewTestLogger(t)

		logger.With(slog.String("component", "coordinator")).Info("started")
		logger.WithGroup("run").With(slog.String("kind", "series")).Info("step", slog.String("id", "fracdiff"))

		require.Equal(t, 2, rec.Len())
		AssertLogged(t, rec, slog.LevelInfo, "started", "component", "coordinator")
		AssertLogged(t, rec, slog.LevelInfo, "step", "run.id", "fracdiff", "run.kind", "series")
	})

	t.Run("sibling loggers do not share attrs", func(t *testing.T) {
		logger, rec := NewTestLogger(nil)
		base := logger.With(slog.String("a", "1"))

		base.With(slog.String("b", "2")).Info("left")
		base.With(slog.String("c", "3")).Info("right")

		right := rec.Find(slog.LevelInfo, "right")
		require.Len(t, right, 1)
		assert.NotContains(t, right[0].Attrs, "b")
	})

	t.Run("reset", func(t *testing.T) {
		logger, rec := NewTestLogger(nil)

		logger.Info("message")
		rec.Reset()

		assert.Zero(t, rec.Len())
	})
}
