package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// AuditKind classifies an audited store operation.
type AuditKind string

const (
	AuditRead      AuditKind = "read"
	AuditWrite     AuditKind = "write"
	AuditDelete    AuditKind = "delete"
	AuditSync      AuditKind = "sync"
	AuditKeyAccess AuditKind = "key_access"
)

const (
	AuditResultSuccess   = "success"
	AuditResultFailure   = "failure"
	AuditResultCancelled = "cancelled"
)

// AuditLogEntry is append-only; nothing in this module updates or deletes one.
type AuditLogEntry struct {
	ID         string
	OccurredAt time.Time
	Kind       AuditKind
	Repo       string
	CallerHash string
	EntityID   string
	Result     string
	Summary    string
}

// HashCaller one-way hashes a caller identity for the audit trail. The raw
// identity never reaches storage.
func HashCaller(identity string) string {
	sum := sha256.Sum256([]byte(identity))
	return hex.EncodeToString(sum[:])
}
