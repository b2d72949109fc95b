package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidEvent = errors.New("model: invalid event")

// MeasurementType is the closed set of canonical measurement kinds. Vendor
// payloads are mapped into one of these before anything touches the store.
type MeasurementType string

const (
	TypeHeartRate       MeasurementType = "heart_rate"
	TypeHeartRateVar    MeasurementType = "heart_rate_variability"
	TypeBloodOxygen     MeasurementType = "blood_oxygen"
	TypeRespiratoryRate MeasurementType = "respiratory_rate"
	TypeSkinTemperature MeasurementType = "skin_temperature"
	TypeStepCount       MeasurementType = "step_count"
)

var AllMeasurementTypes = []MeasurementType{
	TypeHeartRate,
	TypeHeartRateVar,
	TypeBloodOxygen,
	TypeRespiratoryRate,
	TypeSkinTemperature,
	TypeStepCount,
}

func (t MeasurementType) Valid() bool {
	switch t {
	case TypeHeartRate, TypeHeartRateVar, TypeBloodOxygen,
		TypeRespiratoryRate, TypeSkinTemperature, TypeStepCount:
		return true
	}
	return false
}

// SourceMetadata describes where a sample came from. DeviceID is PII and is
// stored encrypted; everything else is plaintext at rest.
type SourceMetadata struct {
	DeviceID        string
	Vendor          string
	FirmwareVersion string
	Confidence      float64
	IngestedAt      time.Time
}

// BiometricEvent is the canonical, immutable sample shape.
type BiometricEvent struct {
	ID            string
	Timestamp     time.Time
	Type          MeasurementType
	Value         float64
	Unit          string
	Source        SourceMetadata
	CorrelationID string
}

func (e *BiometricEvent) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidEvent)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp is required", ErrInvalidEvent)
	}
	if !e.Type.Valid() {
		return fmt.Errorf("%w: unknown measurement type %q", ErrInvalidEvent, e.Type)
	}
	if e.Source.Confidence < 0 || e.Source.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v out of [0,1]", ErrInvalidEvent, e.Source.Confidence)
	}
	return nil
}

// eventIDNamespace scopes deterministic event IDs so re-ingesting the same
// physical sample yields the same ID.
var eventIDNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// DeterministicEventID derives a stable ID from the sample's identity triple.
// Sources that cannot supply a device ID fall back to NewEventID.
func DeterministicEventID(deviceID string, ts time.Time, typ MeasurementType) string {
	name := deviceID + "|" + ts.UTC().Format(time.RFC3339Nano) + "|" + string(typ)
	return uuid.NewSHA1(eventIDNamespace, []byte(name)).String()
}

func NewEventID() string {
	return uuid.NewString()
}
