package shadowbox

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesByKind(t *testing.T) {
	err := NewError("box.read_file", KindLocked, errors.New("box is locked"))
	assert.True(t, errors.Is(err, ErrLocked))
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("tag mismatch")
	err := NewError("box.read_file", KindIntegrityFailure, cause)
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "AuthFailure", KindAuthFailure.String())
	assert.Equal(t, "Unknown", Kind(999).String())
}
