package cipher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAESGCMRoundTrip(t *testing.T) {
	key, err := GenerateKey(AES256GCM)
	require.NoError(t, err)
	aead, err := New(AES256GCM, key)
	require.NoError(t, err)

	nonce := make([]byte, aead.NonceSize())
	plaintext := []byte("leaf node payload")
	ad := []byte("block-id-as-associated-data")

	ciphertext := aead.Seal(nil, nonce, plaintext, ad)
	decrypted, err := aead.Open(nil, nonce, ciphertext, ad)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestXChaCha20Poly1305RoundTrip(t *testing.T) {
	key, err := GenerateKey(XChaCha20Poly1305)
	require.NoError(t, err)
	aead, err := New(XChaCha20Poly1305, key)
	require.NoError(t, err)

	nonce := make([]byte, aead.NonceSize())
	plaintext := []byte("inner node payload")
	ad := []byte("block-id")

	ciphertext := aead.Seal(nil, nonce, plaintext, ad)
	decrypted, err := aead.Open(nil, nonce, ciphertext, ad)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestWrongKeyFailsDecryption(t *testing.T) {
	key1, _ := GenerateKey(AES256GCM)
	key2, _ := GenerateKey(AES256GCM)
	aead1, _ := New(AES256GCM, key1)
	aead2, _ := New(AES256GCM, key2)

	nonce := make([]byte, aead1.NonceSize())
	ciphertext := aead1.Seal(nil, nonce, []byte("data"), nil)

	_, err := aead2.Open(nil, nonce, ciphertext, nil)
	assert.Error(t, err)
}

func TestWrongAssociatedDataFailsDecryption(t *testing.T) {
	key, _ := GenerateKey(AES256GCM)
	aead, _ := New(AES256GCM, key)
	nonce := make([]byte, aead.NonceSize())
	ciphertext := aead.Seal(nil, nonce, []byte("data"), []byte("block-1"))

	_, err := aead.Open(nil, nonce, ciphertext, []byte("block-2"))
	assert.Error(t, err)
}

func TestUnknownAlgorithm(t *testing.T) {
	_, err := New(Name("rot13"), make([]byte, 32))
	assert.Error(t, err)
	_, err = KeySize(Name("rot13"))
	assert.Error(t, err)
}

func TestRegisteredNamesIncludeBuiltins(t *testing.T) {
	names := RegisteredNames()
	assert.Contains(t, names, AES256GCM)
	assert.Contains(t, names, XChaCha20Poly1305)
}

func TestNewRejectsWrongKeyLength(t *testing.T) {
	_, err := New(AES256GCM, make([]byte, 16))
	assert.Error(t, err)
}

func TestKeyBufferZeroesOnClose(t *testing.T) {
	key := []byte{1, 2, 3, 4}
	buf := NewKeyBuffer(key)
	require.NoError(t, buf.Close())
	assert.Equal(t, []byte{0, 0, 0, 0}, key)
}

func TestKeyBufferPanicsAfterClose(t *testing.T) {
	buf := NewKeyBuffer([]byte{1, 2, 3, 4})
	require.NoError(t, buf.Close())
	assert.Panics(t, func() { buf.Bytes() })
}

func TestKeyBufferEqual(t *testing.T) {
	a := NewKeyBuffer([]byte{1, 2, 3, 4})
	b := NewKeyBuffer([]byte{1, 2, 3, 4})
	c := NewKeyBuffer([]byte{1, 2, 3, 5})
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}
