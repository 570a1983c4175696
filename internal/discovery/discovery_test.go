package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCodeFormat(t *testing.T) {
	code, err := NewCode()
	require.NoError(t, err)
	assert.Len(t, code, codeLength)
	for _, c := range code {
		assert.Contains(t, codeAlphabet, string(c))
	}
}

func TestNewCodeVariesAcrossCalls(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		code, err := NewCode()
		require.NoError(t, err)
		seen[code] = true
	}
	assert.Greater(t, len(seen), 1)
}

func TestServiceNameRoundTripsThroughCodeFromServiceInstance(t *testing.T) {
	got := codeFromServiceInstance(serviceName("ABCD"))
	assert.Equal(t, "ABCD", got)
}
