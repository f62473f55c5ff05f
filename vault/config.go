// Package vault implements the vault configuration, logical tree, session
// lifecycle, and the per-operation atomicity protocol.
package vault

import (
	"crypto/rand"
	"encoding/json"
	"time"

	"axiomvault/cryptocore"
	"axiomvault/vaulterr"
)

// keyVerificationConstant is the fixed, versioned constant whose successful
// AEAD decryption proves the password is correct.
const keyVerificationConstant = "AXIOMVAULT_KEY_VERIFICATION_V1"

// VaultVersion tracks compatibility: major-version mismatch refuses to open,
// minor-version additions are additive.
type VaultVersion struct {
	Major int
	Minor int
}

// CurrentVersion is the version stamped onto newly created vaults.
var CurrentVersion = VaultVersion{Major: 1, Minor: 0}

// IsCompatible checks major-version equality only; minor-version changes are additive.
func (v VaultVersion) IsCompatible(other VaultVersion) bool {
	return v.Major == other.Major
}

// VaultConfig is the serializable header persisted at the well-known
// "vault.config" path.
type VaultConfig struct {
	ID              string            `json:"id"`
	Version         VaultVersion      `json:"version"`
	Salt            cryptocore.Salt   `json:"salt"`
	KdfParams       cryptocore.KdfParams `json:"kdf_params"`
	ProviderType    string            `json:"provider_type"`
	ProviderConfig  json.RawMessage   `json:"provider_config,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	ModifiedAt      time.Time         `json:"modified_at"`
	KeyVerification []byte            `json:"key_verification"`
}

const ConfigStoragePath = "vault.config"
const DataDirPrefix = "d/"
const MetaDirPrefix = "m/"
const TreeStoragePath = "m/tree.json"
const OrphansStoragePath = "m/orphans.json"

// NewVaultConfig creates a brand-new vault: generates a fresh salt, derives
// the master key from the password, and produces the encrypted
// key-verification blob. Returns the config and the derived master key (the
// caller owns zeroizing it).
func NewVaultConfig(id, password, providerType string, providerConfig json.RawMessage, params cryptocore.KdfParams) (*VaultConfig, *cryptocore.MasterKey, error) {
	if id == "" {
		return nil, nil, vaulterr.InvalidInputf("vault id must not be empty")
	}
	var salt cryptocore.Salt
	if _, err := rand.Read(salt[:]); err != nil {
		return nil, nil, vaulterr.CryptoWrap(err, "generate salt")
	}

	master, err := cryptocore.DeriveMasterKey(password, salt, params)
	if err != nil {
		return nil, nil, err
	}

	verification, err := cryptocore.Encrypt(master.Bytes(), []byte(keyVerificationConstant))
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	cfg := &VaultConfig{
		ID:              id,
		Version:         CurrentVersion,
		Salt:            salt,
		KdfParams:       params,
		ProviderType:    providerType,
		ProviderConfig:  providerConfig,
		CreatedAt:       now,
		ModifiedAt:      now,
		KeyVerification: verification,
	}
	return cfg, master, nil
}

// VerifyPassword derives the master key and attempts to AEAD-decrypt
// key_verification. A wrong password returns ok=false with no error; on
// success it also returns the derived master key so the caller does not
// have to re-derive it.
func VerifyPassword(cfg *VaultConfig, password string) (bool, *cryptocore.MasterKey, error) {
	if !cfg.Version.IsCompatible(CurrentVersion) {
		return false, nil, vaulterr.Vaultf("incompatible vault version %+v", cfg.Version)
	}
	master, err := cryptocore.DeriveMasterKey(password, cfg.Salt, cfg.KdfParams)
	if err != nil {
		return false, nil, err
	}
	plaintext, err := cryptocore.Decrypt(master.Bytes(), cfg.KeyVerification)
	if err != nil {
		master.Zero()
		return false, nil, nil
	}
	if !cryptocore.ConstantTimeEqual(plaintext, []byte(keyVerificationConstant)) {
		master.Zero()
		return false, nil, nil
	}
	return true, master, nil
}

// ChangePassword regenerates the salt, re-derives the master key from
// newPassword, re-encrypts key_verification, and returns the new master
// key. Per-item content keys derive deterministically from the master key,
// so no content re-wrap is performed (see the note on password
// change).
func ChangePassword(cfg *VaultConfig, newPassword string) (*cryptocore.MasterKey, error) {
	var newSalt cryptocore.Salt
	if _, err := rand.Read(newSalt[:]); err != nil {
		return nil, vaulterr.CryptoWrap(err, "generate new salt")
	}
	newMaster, err := cryptocore.DeriveMasterKey(newPassword, newSalt, cfg.KdfParams)
	if err != nil {
		return nil, err
	}
	verification, err := cryptocore.Encrypt(newMaster.Bytes(), []byte(keyVerificationConstant))
	if err != nil {
		return nil, err
	}
	cfg.Salt = newSalt
	cfg.KeyVerification = verification
	cfg.ModifiedAt = time.Now().UTC()
	return newMaster, nil
}

func MarshalConfig(cfg *VaultConfig) ([]byte, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, vaulterr.SerializationWrap(err, "marshal vault config")
	}
	return data, nil
}

func UnmarshalConfig(data []byte) (*VaultConfig, error) {
	var cfg VaultConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, vaulterr.SerializationWrap(err, "unmarshal vault config")
	}
	return &cfg, nil
}
