// Package secretbox wraps credential secrets for storage at rest using
// XChaCha20-Poly1305. Blobs carry a leading version byte which is bound
// into the AEAD as additional authenticated data, so tampering with the
// version fails authentication.
package secretbox

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the size in bytes of the wrapping key.
const KeySize = chacha20poly1305.KeySize

const blobVersion byte = 0x01

var (
	ErrInvalidKey  = errors.New("secretbox: invalid key")
	ErrInvalidBlob = errors.New("secretbox: invalid blob")
)

// Box seals and opens secrets under a single wrapping key.
type Box struct {
	aead cipher.AEAD
}

// New constructs a Box from a raw 32-byte key.
func New(key []byte) (*Box, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: need %d bytes, got %d", ErrInvalidKey, KeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &Box{aead: aead}, nil
}

// NewFromHex constructs a Box from a hex-encoded 32-byte key.
func NewFromHex(encoded string) (*Box, error) {
	key, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: not hex", ErrInvalidKey)
	}
	return New(key)
}

// Seal encrypts plaintext into a blob: [version][24-byte nonce][ct+tag].
func (b *Box) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	blob := make([]byte, 0, 1+len(nonce)+len(plaintext)+b.aead.Overhead())
	blob = append(blob, blobVersion)
	blob = append(blob, nonce...)
	return b.aead.Seal(blob, nonce, plaintext, []byte{blobVersion}), nil
}

// Open decrypts a blob produced by Seal.
func (b *Box) Open(blob []byte) ([]byte, error) {
	if len(blob) < 1+b.aead.NonceSize()+b.aead.Overhead() {
		return nil, ErrInvalidBlob
	}
	if blob[0] != blobVersion {
		return nil, ErrInvalidBlob
	}
	nonce := blob[1 : 1+b.aead.NonceSize()]
	ciphertext := blob[1+b.aead.NonceSize():]
	plaintext, err := b.aead.Open(nil, nonce, ciphertext, []byte{blob[0]})
	if err != nil {
		return nil, ErrInvalidBlob
	}
	return plaintext, nil
}
