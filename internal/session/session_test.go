package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shadowbox/internal/sberr"
)

func TestPutAndDEK(t *testing.T) {
	m := New(0, nil)
	defer m.Stop(context.Background())

	dek := []byte("0123456789abcdef0123456789abcdef")
	m.Put("box-1", dek)

	got, err := m.DEK("box-1")
	require.NoError(t, err)
	assert.Equal(t, dek, got)
}

func TestDEKLockedWhenNotUnlocked(t *testing.T) {
	m := New(0, nil)
	defer m.Stop(context.Background())

	_, err := m.DEK("no-such-box")
	require.Error(t, err)
	assert.True(t, errors.Is(err, sberr.ErrLocked))
}

func TestLockZeroizesAndEvicts(t *testing.T) {
	m := New(0, nil)
	defer m.Stop(context.Background())

	dek := []byte{1, 2, 3, 4}
	m.Put("box-1", dek)
	m.Lock("box-1")

	_, err := m.DEK("box-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, sberr.ErrLocked))
	assert.Equal(t, []byte{0, 0, 0, 0}, dek)
}

func TestLockAll(t *testing.T) {
	m := New(0, nil)
	defer m.Stop(context.Background())

	m.Put("box-1", []byte{1})
	m.Put("box-2", []byte{2})
	m.LockAll()

	assert.False(t, m.IsUnlocked("box-1"))
	assert.False(t, m.IsUnlocked("box-2"))
}

func TestAutoLockSweepsIdleBoxes(t *testing.T) {
	m := &Manager{
		boxes:         make(map[string]*entry),
		autoLockAfter: 10 * time.Millisecond,
	}
	m.Put("box-1", []byte{9})
	time.Sleep(20 * time.Millisecond)
	m.sweep()

	assert.False(t, m.IsUnlocked("box-1"))
}

func TestTouchResetsIdleClock(t *testing.T) {
	m := &Manager{
		boxes:         make(map[string]*entry),
		autoLockAfter: 30 * time.Millisecond,
	}
	m.Put("box-1", []byte{9})
	time.Sleep(20 * time.Millisecond)
	m.Touch("box-1")
	m.sweep()

	assert.True(t, m.IsUnlocked("box-1"))
}
