package cryptoprim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	key, err := RandomBytes(KeySize)
	require.NoError(t, err)

	plaintext := []byte("the quick brown fox jumps over the lazy dog")
	nonce, ct, tag, err := Seal(key, plaintext)
	require.NoError(t, err)
	assert.Len(t, nonce, NonceSize)
	assert.Len(t, tag, TagSize)

	got, err := Open(key, nonce, ct, tag)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	key, err := RandomBytes(KeySize)
	require.NoError(t, err)

	nonce, ct, tag, err := Seal(key, []byte("hello"))
	require.NoError(t, err)
	ct[0] ^= 0xFF

	_, err = Open(key, nonce, ct, tag)
	require.Error(t, err)
	var decErr *DecryptError
	require.ErrorAs(t, err, &decErr)
}

func TestOpenRejectsWrongKey(t *testing.T) {
	key, err := RandomBytes(KeySize)
	require.NoError(t, err)
	other, err := RandomBytes(KeySize)
	require.NoError(t, err)

	nonce, ct, tag, err := Seal(key, []byte("hello"))
	require.NoError(t, err)

	_, err = Open(other, nonce, ct, tag)
	require.Error(t, err)
}

func TestWrapUnwrapKeyRoundTrip(t *testing.T) {
	wrapKey, err := RandomBytes(KeySize)
	require.NoError(t, err)
	dek, err := RandomBytes(KeySize)
	require.NoError(t, err)

	wrapped, err := WrapKey(wrapKey, dek)
	require.NoError(t, err)

	got, err := UnwrapKey(wrapKey, wrapped)
	require.NoError(t, err)
	assert.Equal(t, dek, got)
}

func TestDeriveMasterKeyDeterministic(t *testing.T) {
	salt, err := NewSalt()
	require.NoError(t, err)

	k1 := DeriveMasterKey([]byte("p@ss"), salt)
	k2 := DeriveMasterKey([]byte("p@ss"), salt)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, KeySize)

	k3 := DeriveMasterKey([]byte("different"), salt)
	assert.NotEqual(t, k1, k3)
}

func TestDeriveSubKeyDiffersByInfo(t *testing.T) {
	master, err := RandomBytes(KeySize)
	require.NoError(t, err)

	wrapKey, err := DeriveSubKey(master, InfoDEKWrap)
	require.NoError(t, err)
	wireKey, err := DeriveSubKey(master, InfoWireV1)
	require.NoError(t, err)

	assert.NotEqual(t, wrapKey, wireKey)
	assert.Len(t, wrapKey, KeySize)
}

func TestDeriveWireKeyDiffersBySaltAndCode(t *testing.T) {
	code := []byte("QWER")
	salt1, err := RandomBytes(32)
	require.NoError(t, err)
	salt2, err := RandomBytes(32)
	require.NoError(t, err)

	k1, err := DeriveWireKey(code, salt1)
	require.NoError(t, err)
	k2, err := DeriveWireKey(code, salt1)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, KeySize)

	k3, err := DeriveWireKey(code, salt2)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)

	k4, err := DeriveWireKey([]byte("ZZZZ"), salt1)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k4)
}

func TestSHA256Hex(t *testing.T) {
	got := SHA256Hex([]byte("hello"))
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", got)
	assert.Len(t, got, 64)
}
