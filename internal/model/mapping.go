package model

import (
	"errors"
	"fmt"
	"time"
)

var ErrUnknownSample = errors.New("model: unknown vendor sample tag")

// vendorMapping translates one vendor sample tag into the canonical schema.
// The table is closed: unrecognized tags are rejected, never guessed at.
type vendorMapping struct {
	Type      MeasurementType
	Unit      string
	Transform func(float64) float64
}

var vendorMappings = map[string]vendorMapping{
	"hr_bpm":         {Type: TypeHeartRate, Unit: "bpm"},
	"hrv_rmssd_ms":   {Type: TypeHeartRateVar, Unit: "ms"},
	"spo2_pct":       {Type: TypeBloodOxygen, Unit: "%"},
	"spo2_ratio":     {Type: TypeBloodOxygen, Unit: "%", Transform: func(v float64) float64 { return v * 100 }},
	"resp_rate_bpm":  {Type: TypeRespiratoryRate, Unit: "breaths/min"},
	"skin_temp_c":    {Type: TypeSkinTemperature, Unit: "celsius"},
	"skin_temp_f":    {Type: TypeSkinTemperature, Unit: "celsius", Transform: func(v float64) float64 { return (v - 32) * 5 / 9 }},
	"steps":          {Type: TypeStepCount, Unit: "count"},
	"steps_interval": {Type: TypeStepCount, Unit: "count"},
}

// Normalize maps a raw vendor sample into a canonical BiometricEvent. The
// event ID is deterministic when the source supplies a device ID.
func Normalize(tag string, value float64, ts time.Time, src SourceMetadata) (BiometricEvent, error) {
	mapping, ok := vendorMappings[tag]
	if !ok {
		return BiometricEvent{}, fmt.Errorf("%w: %q", ErrUnknownSample, tag)
	}

	if mapping.Transform != nil {
		value = mapping.Transform(value)
	}
	if src.IngestedAt.IsZero() {
		src.IngestedAt = time.Now().UTC()
	}

	id := NewEventID()
	if src.DeviceID != "" {
		id = DeterministicEventID(src.DeviceID, ts, mapping.Type)
	}

	return BiometricEvent{
		ID:        id,
		Timestamp: ts.UTC(),
		Type:      mapping.Type,
		Value:     value,
		Unit:      mapping.Unit,
		Source:    src,
	}, nil
}
