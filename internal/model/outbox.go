package model

import "time"

// SyncOutboxEntry is the staged relay record written atomically with its
// owning event. Payload is a JSON snapshot of the event as stored, so the
// device ID inside it is already ciphertext.
type SyncOutboxEntry struct {
	ID            string
	EventID       string
	CorrelationID string
	Payload       []byte
	CreatedAt     time.Time
	ProcessedAt   *time.Time
	RetryCount    int
	LastError     *string
}

func (e *SyncOutboxEntry) Processed() bool {
	return e.ProcessedAt != nil
}
