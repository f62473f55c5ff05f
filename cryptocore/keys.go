// Package cryptocore implements the vault's key hierarchy, AEAD primitives,
// deterministic name encryption, and streaming codec.
package cryptocore

import (
	"crypto/subtle"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/blake2b"

	"axiomvault/vaulterr"
)

const (
	// KeyLength is the size in bytes of every symmetric key in the hierarchy.
	KeyLength = 32
	// SaltLength is the fixed size of a vault's Argon2id salt.
	SaltLength = 32
)

// KdfParams captures Argon2id's cost knobs: memory cost in KiB, time cost in
// iterations, and parallelism in lanes.
type KdfParams struct {
	MemoryKiB   uint32
	TimeCost    uint32
	Parallelism uint8
}

// Named presets for common security/performance tradeoffs.
func InteractiveParams() KdfParams { return KdfParams{MemoryKiB: 64 * 1024, TimeCost: 3, Parallelism: 4} }
func ModerateParams() KdfParams    { return KdfParams{MemoryKiB: 32 * 1024, TimeCost: 3, Parallelism: 2} }
func SensitiveParams() KdfParams   { return KdfParams{MemoryKiB: 256 * 1024, TimeCost: 4, Parallelism: 4} }

// Salt is a fixed-size random byte string, unique per vault.
type Salt [SaltLength]byte

// MasterKey, FileKey, and DirectoryKey are distinct 256-bit symmetric key
// types with an exclusive-ownership-and-zeroize contract:
// never serialized, never logged, never compared non-constant-time.
type MasterKey struct{ b [KeyLength]byte }
type FileKey struct{ b [KeyLength]byte }
type DirectoryKey struct{ b [KeyLength]byte }

func (k *MasterKey) Bytes() []byte    { return k.b[:] }
func (k *FileKey) Bytes() []byte      { return k.b[:] }
func (k *DirectoryKey) Bytes() []byte { return k.b[:] }

// Zero overwrites the key material with zeroes. Must be called before the
// holder releases the key (session lock/drop).
func (k *MasterKey) Zero() {
	for i := range k.b {
		k.b[i] = 0
	}
}
func (k *FileKey) Zero() {
	for i := range k.b {
		k.b[i] = 0
	}
}
func (k *DirectoryKey) Zero() {
	for i := range k.b {
		k.b[i] = 0
	}
}

// DeriveMasterKey runs Argon2id(password, salt, params) -> 32-byte key.
// Empty password fails with InvalidInput. Parameters outside the valid
// Argon2id ranges fail with Crypto.
func DeriveMasterKey(password string, salt Salt, params KdfParams) (*MasterKey, error) {
	if len(password) == 0 {
		return nil, vaulterr.InvalidInputf("password must not be empty")
	}
	if params.MemoryKiB == 0 || params.TimeCost == 0 || params.Parallelism == 0 {
		return nil, vaulterr.Cryptof("invalid kdf params")
	}
	out := argon2.IDKey([]byte(password), salt[:], params.TimeCost, params.MemoryKiB, params.Parallelism, KeyLength)
	var mk MasterKey
	copy(mk.b[:], out)
	for i := range out {
		out[i] = 0
	}
	return &mk, nil
}

// DeriveFileKey computes FileKey(id) = Blake2b-256(master_key || id || "filekey").
func DeriveFileKey(master *MasterKey, id string) (*FileKey, error) {
	sum, err := blake2bDomain(master.Bytes(), id, "filekey")
	if err != nil {
		return nil, err
	}
	var fk FileKey
	copy(fk.b[:], sum)
	return &fk, nil
}

// DeriveDirectoryKey computes DirectoryKey(id) = Blake2b-256(master_key || id || "dirkey").
func DeriveDirectoryKey(master *MasterKey, id string) (*DirectoryKey, error) {
	sum, err := blake2bDomain(master.Bytes(), id, "dirkey")
	if err != nil {
		return nil, err
	}
	var dk DirectoryKey
	copy(dk.b[:], sum)
	return &dk, nil
}

func blake2bDomain(masterKey []byte, id, domain string) ([]byte, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return nil, vaulterr.CryptoWrap(err, "blake2b init")
	}
	h.Write(masterKey)
	h.Write([]byte(id))
	h.Write([]byte(domain))
	return h.Sum(nil), nil
}

// ConstantTimeEqual compares two byte slices in constant time relative to
// their shared length. Used for password verification instead of a hand-rolled
// comparison loop.
func ConstantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}
