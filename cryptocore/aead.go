package cryptocore

import (
	"crypto/rand"

	"golang.org/x/crypto/chacha20poly1305"

	"axiomvault/vaulterr"
)

const (
	// NonceSize is the XChaCha20-Poly1305 nonce size in bytes.
	NonceSize = chacha20poly1305.NonceSizeX
	// TagSize is the Poly1305 authentication tag size in bytes.
	TagSize = chacha20poly1305.Overhead
)

func openAEAD(key []byte) (aead xchachaAEAD, err error) {
	if len(key) != KeyLength {
		return nil, vaulterr.Cryptof("invalid key length %d, want %d", len(key), KeyLength)
	}
	a, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, vaulterr.CryptoWrap(err, "init xchacha20poly1305")
	}
	return a, nil
}

// xchachaAEAD is the minimal surface of cipher.AEAD this package relies on.
type xchachaAEAD interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}

// Encrypt is the random-nonce AEAD mode: output layout is
// nonce(24) || ciphertext || tag(16), with a fresh random nonce per call.
func Encrypt(key []byte, plaintext []byte) ([]byte, error) {
	aead, err := openAEAD(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, vaulterr.CryptoWrap(err, "generate nonce")
	}
	out := aead.Seal(nonce, nonce, plaintext, nil)
	return out, nil
}

// Decrypt reverses Encrypt. Any tag failure or malformed input returns a
// Crypto error with no partial plaintext ever returned.
func Decrypt(key []byte, blob []byte) ([]byte, error) {
	if len(blob) < NonceSize+TagSize {
		return nil, vaulterr.Cryptof("ciphertext too short")
	}
	aead, err := openAEAD(key)
	if err != nil {
		return nil, err
	}
	nonce := blob[:NonceSize]
	ciphertext := blob[NonceSize:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, vaulterr.CryptoWrap(err, "aead open failed")
	}
	return plaintext, nil
}

// EncryptWithNonce is the deterministic mode: caller supplies
// the nonce, output omits it. Used exclusively for filename encryption.
// Callers must guarantee (key, nonce, plaintext) uniqueness.
func EncryptWithNonce(key []byte, nonce []byte, plaintext []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, vaulterr.Cryptof("invalid nonce length %d, want %d", len(nonce), NonceSize)
	}
	aead, err := openAEAD(key)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce, plaintext, nil), nil
}

// DecryptWithNonce reverses EncryptWithNonce.
func DecryptWithNonce(key []byte, nonce []byte, ciphertext []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, vaulterr.Cryptof("invalid nonce length %d, want %d", len(nonce), NonceSize)
	}
	aead, err := openAEAD(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, vaulterr.CryptoWrap(err, "aead open failed")
	}
	return plaintext, nil
}
