package cryptocore

import (
	"encoding/base64"

	"golang.org/x/crypto/blake2b"

	"axiomvault/vaulterr"
)

// EncryptName computes the deterministic encrypted-name used to address a
// child's content blob on the storage provider. The nonce is a Blake2b
// digest with a NonceSize-byte output over parentID || 0x00 || cleartextName, and
// the key passed in must already be DirectoryKey(parentID) (derived by the
// caller). Folding parentID into both the key derivation and the nonce
// means two different directories never reuse a (key, nonce) pair for an
// identical name, while the same (directory, name) pair always yields the
// same encrypted name.
func EncryptName(dirKey *DirectoryKey, parentID string, cleartextName string) (string, error) {
	nonce, err := nameNonce(parentID, cleartextName)
	if err != nil {
		return "", err
	}
	ciphertext, err := EncryptWithNonce(dirKey.Bytes(), nonce, []byte(cleartextName))
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(ciphertext), nil
}

// DecryptName reverses EncryptName given the candidate cleartext name is
// already known (used to verify a tree entry still matches its storage
// blob address after, e.g., a rename) — callers that don't know the
// cleartext name up front instead resolve it from the in-memory tree,
// since names are stored cleartext in the tree and only obfuscated at the
// storage-provider boundary.
func DecryptName(dirKey *DirectoryKey, parentID string, cleartextName string, encryptedName string) (bool, error) {
	expected, err := EncryptName(dirKey, parentID, cleartextName)
	if err != nil {
		return false, err
	}
	return ConstantTimeEqual([]byte(expected), []byte(encryptedName)), nil
}

func nameNonce(parentID, cleartextName string) ([]byte, error) {
	h, err := blake2b.New(NonceSize, nil)
	if err != nil {
		return nil, vaulterr.CryptoWrap(err, "blake2b nonce init")
	}
	h.Write([]byte(parentID))
	h.Write([]byte{0})
	h.Write([]byte(cleartextName))
	return h.Sum(nil), nil
}
