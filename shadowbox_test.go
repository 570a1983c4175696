package shadowbox

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shadowbox/internal/config"
)

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		StorageRoot:     filepath.Join(dir, "storage"),
		DBPath:          filepath.Join(dir, "shadowbox.db"),
		AutoLockMinutes: 0,
		MaxFileSize:     10 << 20,
		SharePort:       0,
	}
}

func TestOpenAndShutdown(t *testing.T) {
	ctx := context.Background()
	core, err := Open(ctx, newTestConfig(t), nil)
	require.NoError(t, err)
	assert.Greater(t, core.SharePort(), 0)
	require.NoError(t, core.Shutdown(ctx))
}

func TestCoreCreateAddReadFile(t *testing.T) {
	ctx := context.Background()
	core, err := Open(ctx, newTestConfig(t), nil)
	require.NoError(t, err)
	defer core.Shutdown(ctx)

	boxID, err := core.Box.CreateBox(ctx, "alice", "photos", "pw", false)
	require.NoError(t, err)
	require.NoError(t, core.Box.OpenBox(ctx, boxID, "pw"))

	fileID, err := core.Box.AddFile(ctx, boxID, "a.txt", []byte("hi"), "text/plain", "", nil)
	require.NoError(t, err)

	content, err := core.Box.ReadFile(ctx, boxID, fileID, "")
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), content)
}
