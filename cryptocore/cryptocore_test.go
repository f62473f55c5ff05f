package cryptocore

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func randomKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeyLength)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := randomKey(t)
	plaintext := []byte("the quick brown fox jumps over the lazy dog")

	ct1, err := Encrypt(key, plaintext)
	require.NoError(t, err)
	ct2, err := Encrypt(key, plaintext)
	require.NoError(t, err)
	require.NotEqual(t, ct1, ct2, "nonces must differ between calls")

	pt1, err := Decrypt(key, ct1)
	require.NoError(t, err)
	require.Equal(t, plaintext, pt1)
}

func TestDecryptTamperDetection(t *testing.T) {
	key := randomKey(t)
	ct, err := Encrypt(key, []byte("hello"))
	require.NoError(t, err)

	tampered := make([]byte, len(ct))
	copy(tampered, ct)
	tampered[len(tampered)-1] ^= 0xFF

	_, err = Decrypt(key, tampered)
	require.Error(t, err)
}

func TestDecryptWrongKeyFails(t *testing.T) {
	key1 := randomKey(t)
	key2 := randomKey(t)
	ct, err := Encrypt(key1, []byte("hello"))
	require.NoError(t, err)

	_, err = Decrypt(key2, ct)
	require.Error(t, err)
}

func TestDeriveMasterKeyDeterministic(t *testing.T) {
	var salt Salt
	copy(salt[:], []byte("0123456789abcdef0123456789abcdef"))
	params := ModerateParams()

	k1, err := DeriveMasterKey("correct horse", salt, params)
	require.NoError(t, err)
	k2, err := DeriveMasterKey("correct horse", salt, params)
	require.NoError(t, err)
	require.Equal(t, k1.Bytes(), k2.Bytes())

	var otherSalt Salt
	copy(otherSalt[:], []byte("fedcba9876543210fedcba9876543210"))
	k3, err := DeriveMasterKey("correct horse", otherSalt, params)
	require.NoError(t, err)
	require.NotEqual(t, k1.Bytes(), k3.Bytes())

	k4, err := DeriveMasterKey("different password", salt, params)
	require.NoError(t, err)
	require.NotEqual(t, k1.Bytes(), k4.Bytes())
}

func TestDeriveMasterKeyEmptyPassword(t *testing.T) {
	var salt Salt
	_, err := DeriveMasterKey("", salt, ModerateParams())
	require.Error(t, err)
}

func TestStreamRoundTrip(t *testing.T) {
	key := randomKey(t)
	plaintext := make([]byte, 200000)
	_, err := rand.Read(plaintext)
	require.NoError(t, err)

	var encoded bytes.Buffer
	require.NoError(t, EncryptStream(key, bytes.NewReader(plaintext), &encoded, 64*1024))

	var decoded bytes.Buffer
	require.NoError(t, DecryptStream(key, bytes.NewReader(encoded.Bytes()), &decoded))
	require.True(t, bytes.Equal(plaintext, decoded.Bytes()))
}

func TestStreamChunkSwapFails(t *testing.T) {
	key := randomKey(t)
	plaintext := make([]byte, 200000) // 4 chunks of 64KiB
	_, err := rand.Read(plaintext)
	require.NoError(t, err)

	var encoded bytes.Buffer
	require.NoError(t, EncryptStream(key, bytes.NewReader(plaintext), &encoded, 64*1024))

	raw := encoded.Bytes()
	const header = 13
	const fullChunkLen = NonceSize + 64*1024 + 8 + TagSize

	chunk0 := append([]byte(nil), raw[header:header+fullChunkLen]...)
	chunk1 := append([]byte(nil), raw[header+fullChunkLen:header+2*fullChunkLen]...)
	copy(raw[header:header+fullChunkLen], chunk1)
	copy(raw[header+fullChunkLen:header+2*fullChunkLen], chunk0)

	var decoded bytes.Buffer
	err = DecryptStream(key, bytes.NewReader(raw), &decoded)
	require.Error(t, err)
}

func TestNameEncryptionDeterministic(t *testing.T) {
	var salt Salt
	copy(salt[:], []byte("0123456789abcdef0123456789abcdef"))
	master, err := DeriveMasterKey("pw", salt, ModerateParams())
	require.NoError(t, err)

	dirKey, err := DeriveDirectoryKey(master, "dir-1")
	require.NoError(t, err)

	n1, err := EncryptName(dirKey, "dir-1", "report.pdf")
	require.NoError(t, err)
	n2, err := EncryptName(dirKey, "dir-1", "report.pdf")
	require.NoError(t, err)
	require.Equal(t, n1, n2)

	n3, err := EncryptName(dirKey, "dir-1", "other.pdf")
	require.NoError(t, err)
	require.NotEqual(t, n1, n3)

	otherDirKey, err := DeriveDirectoryKey(master, "dir-2")
	require.NoError(t, err)
	n4, err := EncryptName(otherDirKey, "dir-2", "report.pdf")
	require.NoError(t, err)
	require.NotEqual(t, n1, n4, "same name in a different directory must encrypt differently")
}

func TestConstantTimeEqual(t *testing.T) {
	require.True(t, ConstantTimeEqual([]byte("abc"), []byte("abc")))
	require.False(t, ConstantTimeEqual([]byte("abc"), []byte("abd")))
	require.False(t, ConstantTimeEqual([]byte("abc"), []byte("ab")))
}
