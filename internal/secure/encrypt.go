package secure

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tobiasvik/biovault/internal/crypto"
	"github.com/tobiasvik/biovault/internal/model"
	"github.com/tobiasvik/biovault/internal/store"
	"github.com/tobiasvik/biovault/internal/vault"
)

var ErrEncryptionClosed = errors.New("secure: encryption store closed")

// EncryptionStore is the inner decorator. It transforms the PII-bearing
// device ID with XChaCha20-Poly1305 on the way in and reverses it on the way
// out. The field key is derived from the vault once per store lifetime,
// cached for lock-free reads, and zeroed on Close.
type EncryptionStore struct {
	next  store.EventStore
	vault vault.KeyVault
	label string

	// onFirstDerive runs inside the derivation critical section, exactly
	// once; the chain uses it to audit the key access.
	onFirstDerive func(ctx context.Context) error

	mu     sync.Mutex
	key    atomic.Pointer[[]byte]
	closed atomic.Bool
}

func NewEncryptionStore(next store.EventStore, kv vault.KeyVault, label string, onFirstDerive func(ctx context.Context) error) *EncryptionStore {
	return &EncryptionStore{
		next:          next,
		vault:         kv,
		label:         label,
		onFirstDerive: onFirstDerive,
	}
}

// cachedKey returns the field key, deriving it on first use. Concurrent
// first-use callers serialize on the mutex so the vault sees exactly one
// derivation; later calls take the lock-free fast path.
func (s *EncryptionStore) cachedKey(ctx context.Context) ([]byte, error) {
	if k := s.key.Load(); k != nil {
		return *k, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return nil, ErrEncryptionClosed
	}
	if k := s.key.Load(); k != nil {
		return *k, nil
	}

	key, err := s.vault.DeriveKey(s.label)
	if err != nil {
		return nil, fmt.Errorf("derive field key: %w", err)
	}
	if s.onFirstDerive != nil {
		if err := s.onFirstDerive(ctx); err != nil {
			s.vault.ZeroKey(key)
			return nil, err
		}
	}

	s.key.Store(&key)
	return key, nil
}

// Close zeroes the cached key. The store must not be used afterwards.
func (s *EncryptionStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed.Store(true)
	if k := s.key.Swap(nil); k != nil {
		s.vault.ZeroKey(*k)
	}
}

func (s *EncryptionStore) IngestBatch(ctx context.Context, events []model.BiometricEvent) error {
	key, err := s.cachedKey(ctx)
	if err != nil {
		return err
	}

	sealed := make([]model.BiometricEvent, len(events))
	for i := range events {
		event := events[i]
		blob, err := encryptDeviceID(key, event.ID, event.Source.DeviceID)
		if err != nil {
			return fmt.Errorf("encrypt device id for %s: %w", event.ID, err)
		}
		event.Source.DeviceID = blob
		sealed[i] = event
	}
	return s.next.IngestBatch(ctx, sealed)
}

func (s *EncryptionStore) Range(ctx context.Context, typ model.MeasurementType, from, to time.Time) ([]model.BiometricEvent, error) {
	key, err := s.cachedKey(ctx)
	if err != nil {
		return nil, err
	}

	events, err := s.next.Range(ctx, typ, from, to)
	if err != nil {
		return nil, err
	}
	for i := range events {
		events[i].Source.DeviceID = decryptDeviceID(key, events[i].ID, events[i].Source.DeviceID)
	}
	return events, nil
}

func (s *EncryptionStore) RangeEach(ctx context.Context, typ model.MeasurementType, from, to time.Time, fn func(model.BiometricEvent) error) error {
	key, err := s.cachedKey(ctx)
	if err != nil {
		return err
	}

	return s.next.RangeEach(ctx, typ, from, to, func(event model.BiometricEvent) error {
		event.Source.DeviceID = decryptDeviceID(key, event.ID, event.Source.DeviceID)
		return fn(event)
	})
}

// AggregateBuckets carries no PII and passes through untouched.
func (s *EncryptionStore) AggregateBuckets(ctx context.Context, typ model.MeasurementType, from, to time.Time, width time.Duration) ([]store.Bucket, error) {
	return s.next.AggregateBuckets(ctx, typ, from, to, width)
}

func (s *EncryptionStore) LatestPerType(ctx context.Context) ([]model.BiometricEvent, error) {
	key, err := s.cachedKey(ctx)
	if err != nil {
		return nil, err
	}

	events, err := s.next.LatestPerType(ctx)
	if err != nil {
		return nil, err
	}
	for i := range events {
		events[i].Source.DeviceID = decryptDeviceID(key, events[i].ID, events[i].Source.DeviceID)
	}
	return events, nil
}

// Outbox payloads were snapshotted post-encryption, so relay operations pass
// through unchanged.

func (s *EncryptionStore) PendingOutbox(ctx context.Context, limit int) ([]model.SyncOutboxEntry, error) {
	return s.next.PendingOutbox(ctx, limit)
}

func (s *EncryptionStore) MarkProcessed(ctx context.Context, id string) error {
	return s.next.MarkProcessed(ctx, id)
}

func (s *EncryptionStore) MarkFailed(ctx context.Context, id string, lastError string) error {
	return s.next.MarkFailed(ctx, id, lastError)
}

func (s *EncryptionStore) PurgeProcessed(ctx context.Context, cutoff time.Time) (int, error) {
	return s.next.PurgeProcessed(ctx, cutoff)
}

func fieldAAD(eventID string) []byte {
	return []byte("biovault-field:v1:" + eventID + ":device_id")
}

func encryptDeviceID(key []byte, eventID, plaintext string) (string, error) {
	nonce, err := crypto.RandomNonce()
	if err != nil {
		return "", err
	}
	sealed, err := crypto.SealXChaCha20Poly1305(key, nonce, []byte(plaintext), fieldAAD(eventID))
	if err != nil {
		return "", err
	}
	blob, err := crypto.PackBlob(nonce, sealed)
	if err != nil {
		return "", err
	}
	return string(blob), nil
}

// decryptDeviceID returns the stored value unchanged when it does not carry
// v1 framing or fails authentication. Rows written before encryption was
// enabled hold raw plaintext, and the compatibility policy is to hand those
// back as-is rather than fail the read.
func decryptDeviceID(key []byte, eventID, stored string) string {
	raw := []byte(stored)
	if !crypto.IsSealedBlob(raw) {
		return stored
	}

	nonce, sealed, err := crypto.UnpackBlob(raw)
	if err != nil {
		return stored
	}
	plaintext, err := crypto.OpenXChaCha20Poly1305(key, nonce, sealed, fieldAAD(eventID))
	if err != nil {
		return stored
	}
	return string(plaintext)
}
