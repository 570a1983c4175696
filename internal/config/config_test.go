package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	os.Unsetenv("SHADOWBOX_STORAGE_ROOT")
	os.Unsetenv("SHADOWBOX_DB_PATH")
	os.Unsetenv("SHADOWBOX_AUTO_LOCK_MINUTES")
	os.Unsetenv("SHADOWBOX_MAX_FILE_SIZE")
	os.Unsetenv("SHADOWBOX_SHARE_PORT")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 15, cfg.AutoLockMinutes)
	assert.Equal(t, int64(104857600), cfg.MaxFileSize)
	assert.Equal(t, 0, cfg.SharePort)
	assert.NotEmpty(t, cfg.StorageRoot)
	assert.NotEmpty(t, cfg.DBPath)
}

func TestLoadHonorsEnvOverrides(t *testing.T) {
	t.Setenv("SHADOWBOX_AUTO_LOCK_MINUTES", "5")
	t.Setenv("SHADOWBOX_SHARE_PORT", "9001")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.AutoLockMinutes)
	assert.Equal(t, 9001, cfg.SharePort)
}
