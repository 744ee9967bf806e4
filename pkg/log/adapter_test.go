package log

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"CareFlow/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKratosAdapter_ImplementsLogger(t *testing.T) {
	zapLog, err := NewZapLogger(&conf.Log{Level: "info", Format: "json", Env: "production"})
	require.NoError(t, err)

	var adapter log.Logger = NewKratosAdapter(zapLog)
	assert.NoError(t, adapter.Log(log.LevelInfo))
}

func TestKratosAdapter_WritesFields(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "adapter.log")
	zapLog, err := NewZapLogger(&conf.Log{Level: "debug", Format: "json", Env: "production", OutputFile: logFile})
	require.NoError(t, err)

	adapter := NewKratosAdapter(zapLog)
	require.NoError(t, adapter.Log(log.LevelWarn,
		"msg", "flush retry",
		"attempt", 2,
		"err", errors.New("connection refused"),
		"api_key", "sk-1234567890abcdef",
		"dangling",
	))
	_ = zapLog.Sync()

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	out := string(content)
	assert.Contains(t, out, `"msg":"flush retry"`)
	assert.Contains(t, out, `"attempt":2`)
	assert.Contains(t, out, `"err":"connection refused"`)
	assert.Contains(t, out, `"api_key":"sk-1***********cdef"`)
	assert.NotContains(t, out, "dangling")
}

func TestKratosAdapter_LevelsWithHelper(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "levels.log")
	zapLog, err := NewZapLogger(&conf.Log{Level: "warn", Format: "json", Env: "production", OutputFile: logFile})
	require.NoError(t, err)

	helper := log.NewHelper(NewKratosAdapter(zapLog))
	helper.Debug("hidden debug")
	helper.Info("hidden info")
	helper.Warn("visible warn")
	helper.Error("visible error")
	_ = zapLog.Sync()

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	out := string(content)
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible warn")
	assert.Contains(t, out, "visible error")
}
