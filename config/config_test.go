package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "clover-api", cfg.AppName)
	assert.Equal(t, "db/pg", cfg.DatabaseMigrationFolderPath)
	assert.Equal(t, 100, cfg.DetectBatchSize)
	assert.InDelta(t, 0.70, cfg.DetectMinConfidence, 1e-9)
	assert.Equal(t, 30*time.Second, cfg.MergeLockTTL)
	assert.False(t, cfg.RedisEnabled)
}

func TestLoad_EnvFileAndOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("DB_NAME=venues_test\nDETECT_BATCH_SIZE=25\n"), 0o600))
	t.Setenv("MERGE_LOCK_WAIT", "5s")
	t.Cleanup(func() {
		os.Unsetenv("DB_NAME")
		os.Unsetenv("DETECT_BATCH_SIZE")
	})

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "venues_test", cfg.DatabaseName)
	assert.Equal(t, 25, cfg.DetectBatchSize)
	assert.Equal(t, 5*time.Second, cfg.MergeLockWait)
}
