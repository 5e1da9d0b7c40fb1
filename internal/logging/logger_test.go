package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func resetState(t *testing.T) {
	t.Helper()
	CloseAll()
	loggersMu.Lock()
	logsDir = ""
	redirect = nil
	loggersMu.Unlock()
	optsMu.Lock()
	opts = Options{}
	optsMu.Unlock()
	t.Cleanup(func() {
		CloseAll()
		loggersMu.Lock()
		logsDir = ""
		loggersMu.Unlock()
		optsMu.Lock()
		opts = Options{}
		optsMu.Unlock()
	})
}

func TestInitialize_DebugModeOffIsNoop(t *testing.T) {
	resetState(t)
	dir := filepath.Join(t.TempDir(), "logs")

	require.NoError(t, Initialize(dir, Options{DebugMode: false}))
	Get(CategoryApproval).Info("should not be written")

	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err), "logs dir must not be created without debug mode")
	assert.False(t, IsDebugMode())
}

func TestInitialize_WritesCategoryFiles(t *testing.T) {
	resetState(t)
	dir := filepath.Join(t.TempDir(), "logs")

	require.NoError(t, Initialize(dir, Options{DebugMode: true, Level: "debug"}))
	Get(CategoryPatchGen).Info("strategy %s won", "fast-path")
	Get(CategoryHistory).Debug("history entry for %s", "App.tsx")
	CloseAll()

	date := time.Now().Format("2006-01-02")
	data, err := os.ReadFile(filepath.Join(dir, date+"_patchgen.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "strategy fast-path won")

	data, err = os.ReadFile(filepath.Join(dir, date+"_history.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "history entry for App.tsx")
}

func TestIsCategoryEnabled(t *testing.T) {
	resetState(t)
	require.NoError(t, Initialize(t.TempDir(), Options{
		DebugMode:  true,
		Categories: map[string]bool{"browser": false, "model": true},
	}))

	assert.False(t, IsCategoryEnabled(CategoryBrowser))
	assert.True(t, IsCategoryEnabled(CategoryModel))
	assert.True(t, IsCategoryEnabled(CategoryTelemetry), "unlisted categories default to enabled")
}

func TestRedirect_CapturesStructuredFields(t *testing.T) {
	resetState(t)
	core, logs := observer.New(zapcore.DebugLevel)
	restore := Redirect(core)
	defer restore()

	Get(CategoryTelemetry).Structured(zapcore.InfoLevel, "dom edit summary",
		zap.String("id", "a1"), zap.String("outcome", "accepted"))
	Get(CategoryApproval).Warn("cancelled %s", "a1")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "dom edit summary", entries[0].Message)
	fields := entries[0].ContextMap()
	assert.Equal(t, "telemetry", fields["cat"])
	assert.Equal(t, "accepted", fields["outcome"])
	assert.True(t, strings.HasPrefix(entries[1].Message, "cancelled"))
}

func TestTimer_StopWithThreshold(t *testing.T) {
	resetState(t)
	core, logs := observer.New(zapcore.DebugLevel)
	restore := Redirect(core)
	defer restore()

	timer := StartTimer(CategoryModel, "cloud apply")
	time.Sleep(2 * time.Millisecond)
	elapsed := timer.StopWithThreshold(time.Nanosecond)

	assert.Greater(t, elapsed, time.Duration(0))
	require.Equal(t, 1, logs.FilterLevelExact(zapcore.WarnLevel).Len())
}
