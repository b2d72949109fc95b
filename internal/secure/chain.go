// Package secure layers the cross-cutting guarantees around the event store:
// immutable access auditing outside, field-level encryption inside. The
// composition is a fixed linear chain, Audit -> Encryption -> Store, so the
// audit trail records operations against durable storage after the encrypted
// value is committed.
package secure

import (
	"context"

	"github.com/tobiasvik/biovault/internal/model"
	"github.com/tobiasvik/biovault/internal/store"
	"github.com/tobiasvik/biovault/internal/vault"
)

const (
	defaultRepoName = "biometric_events"
	defaultKeyLabel = "pii:device_id"
)

type Options struct {
	// RepoName is the logical repository name recorded in audit entries.
	RepoName string
	// CallerIdentity is hashed before it reaches the audit trail.
	CallerIdentity string
	// KeyLabel scopes the vault key used for the device ID field.
	KeyLabel string
}

// Chain is the assembled decorator stack. It satisfies store.EventStore and
// owns the encryption layer's cached key.
type Chain struct {
	store.EventStore
	enc *EncryptionStore
}

// NewChain wraps base in the fixed Audit(Encryption(base)) order. The first
// key derivation is itself audited as a KeyAccess entry.
func NewChain(base store.EventStore, audit store.AuditRepository, kv vault.KeyVault, opts Options) *Chain {
	if opts.RepoName == "" {
		opts.RepoName = defaultRepoName
	}
	if opts.KeyLabel == "" {
		opts.KeyLabel = defaultKeyLabel
	}
	callerHash := model.HashCaller(opts.CallerIdentity)

	onFirstDerive := func(ctx context.Context) error {
		return audit.Append(context.WithoutCancel(ctx), &model.AuditLogEntry{
			Kind:       model.AuditKeyAccess,
			Repo:       opts.RepoName,
			CallerHash: callerHash,
			Result:     model.AuditResultSuccess,
			Summary:    "derived field encryption key " + opts.KeyLabel,
		})
	}

	enc := NewEncryptionStore(base, kv, opts.KeyLabel, onFirstDerive)
	return &Chain{
		EventStore: NewAuditStore(enc, audit, opts.RepoName, opts.CallerIdentity),
		enc:        enc,
	}
}

// Close zeroes the cached field key.
func (c *Chain) Close() {
	c.enc.Close()
}
