// Package cryptoprim implements the cryptographic primitives shared by the
// Session Manager and the Box Engine: Argon2id key derivation, AES-256-GCM
// AEAD, and HKDF-SHA256 sub-key derivation.
package cryptoprim

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the length in bytes of every symmetric key ShadowBox
	// produces: master keys, DEKs, and HKDF sub-keys.
	KeySize = 32

	// SaltSize is the length in bytes of a KDF salt.
	SaltSize = 16

	// NonceSize is the length in bytes of an AES-GCM nonce.
	NonceSize = 12

	// TagSize is the length in bytes of an AES-GCM authentication tag.
	TagSize = 16

	argonTime    = 3
	argonMemory  = 64 * 1024 // KiB, i.e. 64 MiB
	argonThreads = 1
)

// Sub-key info strings.
const (
	InfoDEKWrap = "dek-wrap"
	InfoWireV1  = "wire-v1"
)

// RandomBytes draws n bytes from the OS CSPRNG. Every nonce and salt in
// ShadowBox is freshly drawn from here; none are ever derived or reused.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, &EntropyError{Err: err}
	}
	return b, nil
}

// NewSalt returns a fresh 16-byte Argon2id salt.
func NewSalt() ([]byte, error) {
	return RandomBytes(SaltSize)
}

// DeriveMasterKey runs Argon2id over password+salt with fixed parameters
// (m=64MiB, t=3, p=1, out=32B).
func DeriveMasterKey(password []byte, salt []byte) []byte {
	return argon2.IDKey(password, salt, argonTime, argonMemory, argonThreads, KeySize)
}

// DeriveSubKey derives a 32-byte sub-key from the master key using
// HKDF-SHA256 with the given info string (InfoDEKWrap).
func DeriveSubKey(masterKey []byte, info string) ([]byte, error) {
	r := hkdf.New(sha256.New, masterKey, nil, []byte(info))
	sub := make([]byte, KeySize)
	if _, err := io.ReadFull(r, sub); err != nil {
		return nil, &KDFError{Err: err}
	}
	return sub, nil
}

// DeriveWireKey derives a session's wire-authentication key from the
// share code, HKDF-salted with the concatenated client/server nonces so
// the key is fresh every session even though the code itself is static.
func DeriveWireKey(code, salt []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, code, salt, []byte(InfoWireV1))
	sub := make([]byte, KeySize)
	if _, err := io.ReadFull(r, sub); err != nil {
		return nil, &KDFError{Err: err}
	}
	return sub, nil
}

// Seal encrypts plaintext under key with a freshly-drawn nonce, returning
// the nonce, ciphertext and tag separately so callers can persist them in
// the layout Blob rows use.
func Seal(key, plaintext []byte) (nonce, ciphertext, tag []byte, err error) {
	nonce, err = RandomBytes(NonceSize)
	if err != nil {
		return nil, nil, nil, err
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, nil, err
	}
	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	ct := sealed[:len(sealed)-TagSize]
	tg := sealed[len(sealed)-TagSize:]
	return nonce, ct, tg, nil
}

// Open verifies and decrypts ciphertext||tag under key and nonce. A bad tag
// (wrong key or tampered ciphertext) returns *DecryptError.
func Open(key, nonce, ciphertext, tag []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != NonceSize {
		return nil, &DecryptError{Err: io.ErrUnexpectedEOF}
	}
	sealed := append(append([]byte{}, ciphertext...), tag...)
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, &DecryptError{Err: err}
	}
	return plain, nil
}

// WrapKey seals a 32-byte key (typically a DEK) under a wrapping key,
// returning nonce||ciphertext||tag concatenated for storage in a single
// column such as Box.wrapped_dek.
func WrapKey(wrapKey, plain []byte) ([]byte, error) {
	nonce, ct, tag, err := Seal(wrapKey, plain)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(ct)+len(tag))
	out = append(out, nonce...)
	out = append(out, ct...)
	out = append(out, tag...)
	return out, nil
}

// UnwrapKey reverses WrapKey. A tampered or wrong-key wrapped value returns
// *DecryptError.
func UnwrapKey(wrapKey, wrapped []byte) ([]byte, error) {
	if len(wrapped) < NonceSize+TagSize {
		return nil, &DecryptError{Err: io.ErrUnexpectedEOF}
	}
	nonce := wrapped[:NonceSize]
	tag := wrapped[len(wrapped)-TagSize:]
	ct := wrapped[NonceSize : len(wrapped)-TagSize]
	return Open(wrapKey, nonce, ct, tag)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, &KDFError{Err: err}
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, &KDFError{Err: err}
	}
	return gcm, nil
}

// SHA256Hex returns the lowercase hex-encoded SHA-256 digest of b, the
// content address used for Blob/Version rows throughout the Box Engine.
func SHA256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// KDFError wraps a failure deriving or wrapping a key.
type KDFError struct{ Err error }

func (e *KDFError) Error() string { return "kdf failure: " + e.Err.Error() }
func (e *KDFError) Unwrap() error { return e.Err }

// DecryptError wraps an AEAD tag-verification failure: wrong key or
// tampered ciphertext, indistinguishable by design.
type DecryptError struct{ Err error }

func (e *DecryptError) Error() string { return "decrypt failure: " + e.Err.Error() }
func (e *DecryptError) Unwrap() error { return e.Err }

// EntropyError wraps a failure reading from the OS CSPRNG.
type EntropyError struct{ Err error }

func (e *EntropyError) Error() string { return "entropy failure: " + e.Err.Error() }
func (e *EntropyError) Unwrap() error { return e.Err }
