// Package vault provides label-scoped symmetric key derivation with secure
// zeroing and irreversible destruction. The interface is the contract a
// hardware-sealed implementation would satisfy; SoftwareVault is the portable
// stand-in built on a memguard-sealed master key.
package vault

import (
	"errors"
	"fmt"
	"sync"

	"github.com/awnumar/memguard"

	"github.com/tobiasvik/biovault/internal/crypto"
)

var (
	ErrVaultClosed  = errors.New("vault: closed")
	ErrKeyDestroyed = errors.New("vault: key destroyed")
	ErrEmptyLabel   = errors.New("vault: label must not be empty")
)

// KeyVault derives per-label symmetric keys. DeriveKey is deterministic for
// one vault instance: repeated calls for the same label return byte-identical
// material until DestroyKey makes the label permanently unusable.
type KeyVault interface {
	DeriveKey(label string) ([]byte, error)
	ZeroKey(buffer []byte)
	DestroyKey(label string) error
	IsHardwareBacked() bool
}

const labelInfoPrefix = "biovault-key-v1:"

// SoftwareVault implements KeyVault via HKDF-SHA256 over a master key held in
// a locked buffer. Destroying a label is recorded for the vault's lifetime;
// there is no way to resurrect it.
type SoftwareVault struct {
	mu        sync.Mutex
	master    *memguard.LockedBuffer
	destroyed map[string]struct{}
}

// New wraps raw master key material. The caller's copy is wiped; the vault
// owns the only live copy from here on.
func New(master []byte) (*SoftwareVault, error) {
	if len(master) != crypto.KeySize {
		return nil, fmt.Errorf("vault: master key must be %d bytes, got %d", crypto.KeySize, len(master))
	}
	buf := memguard.NewBufferFromBytes(master)
	memguard.WipeBytes(master)
	return &SoftwareVault{
		master:    buf,
		destroyed: map[string]struct{}{},
	}, nil
}

// NewRandom creates a vault over a freshly generated master key.
func NewRandom() (*SoftwareVault, error) {
	buf := memguard.NewBufferRandom(crypto.KeySize)
	return &SoftwareVault{
		master:    buf,
		destroyed: map[string]struct{}{},
	}, nil
}

// NewFromPassphrase derives the master key from an operator passphrase with
// Argon2id, then seals it.
func NewFromPassphrase(passphrase, salt []byte) (*SoftwareVault, error) {
	master, err := crypto.DeriveMasterFromPassphrase(passphrase, salt, crypto.DefaultArgon2Params())
	if err != nil {
		return nil, fmt.Errorf("vault: derive master key: %w", err)
	}
	return New(master)
}

func (v *SoftwareVault) DeriveKey(label string) ([]byte, error) {
	if label == "" {
		return nil, ErrEmptyLabel
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.master == nil || !v.master.IsAlive() {
		return nil, ErrVaultClosed
	}
	if _, gone := v.destroyed[label]; gone {
		return nil, fmt.Errorf("%w: %q", ErrKeyDestroyed, label)
	}

	key, err := crypto.DeriveHKDFSHA256(v.master.Bytes(), nil, []byte(labelInfoPrefix+label), crypto.KeySize)
	if err != nil {
		return nil, fmt.Errorf("vault: derive key for %q: %w", label, err)
	}
	return key, nil
}

// ZeroKey scrubs key material handed out by DeriveKey. Best effort: the
// buffer is overwritten in place.
func (v *SoftwareVault) ZeroKey(buffer []byte) {
	memguard.WipeBytes(buffer)
}

// DestroyKey irreversibly retires a label. All data encrypted under it
// becomes permanently unrecoverable, which is the mechanism behind the
// user-facing full data destruction action.
func (v *SoftwareVault) DestroyKey(label string) error {
	if label == "" {
		return ErrEmptyLabel
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.master == nil || !v.master.IsAlive() {
		return ErrVaultClosed
	}
	v.destroyed[label] = struct{}{}
	return nil
}

// IsHardwareBacked reports whether key material is sealed by hardware. It
// affects disclosure to the user only, never behavior.
func (v *SoftwareVault) IsHardwareBacked() bool {
	return false
}

// Close destroys the master key. Every label becomes underivable.
func (v *SoftwareVault) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.master != nil && v.master.IsAlive() {
		v.master.Destroy()
	}
	v.master = nil
}
