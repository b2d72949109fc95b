package model

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNormalizeMapsVendorTags(t *testing.T) {
	t.Parallel()

	ts := time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC)
	src := SourceMetadata{DeviceID: "device-a", Vendor: "acme", Confidence: 1}

	cases := []struct {
		tag       string
		value     float64
		wantType  MeasurementType
		wantUnit  string
		wantValue float64
	}{
		{"hr_bpm", 62, TypeHeartRate, "bpm", 62},
		{"hrv_rmssd_ms", 48.5, TypeHeartRateVar, "ms", 48.5},
		{"spo2_pct", 97, TypeBloodOxygen, "%", 97},
		{"spo2_ratio", 0.97, TypeBloodOxygen, "%", 97},
		{"resp_rate_bpm", 14, TypeRespiratoryRate, "breaths/min", 14},
		{"skin_temp_c", 33.1, TypeSkinTemperature, "celsius", 33.1},
		{"skin_temp_f", 98.6, TypeSkinTemperature, "celsius", 37},
		{"steps", 8000, TypeStepCount, "count", 8000},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.tag, func(t *testing.T) {
			t.Parallel()

			event, err := Normalize(tc.tag, tc.value, ts, src)
			require.NoError(t, err)
			require.Equal(t, tc.wantType, event.Type)
			require.Equal(t, tc.wantUnit, event.Unit)
			require.InDelta(t, tc.wantValue, event.Value, 1e-9)
			require.Equal(t, ts, event.Timestamp)
			require.False(t, math.IsNaN(event.Value))
		})
	}
}

func TestNormalizeRejectsUnknownTag(t *testing.T) {
	t.Parallel()

	_, err := Normalize("blood_glucose_mgdl", 90, time.Now(), SourceMetadata{})
	require.ErrorIs(t, err, ErrUnknownSample)
}

func TestNormalizeDerivesStableIDWithDevice(t *testing.T) {
	t.Parallel()

	ts := time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC)
	src := SourceMetadata{DeviceID: "device-a", Vendor: "acme", Confidence: 1}

	first, err := Normalize("hr_bpm", 62, ts, src)
	require.NoError(t, err)
	second, err := Normalize("hr_bpm", 62, ts, src)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
}

func TestNormalizeRandomIDWithoutDevice(t *testing.T) {
	t.Parallel()

	ts := time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC)

	first, err := Normalize("hr_bpm", 62, ts, SourceMetadata{Vendor: "acme", Confidence: 1})
	require.NoError(t, err)
	second, err := Normalize("hr_bpm", 62, ts, SourceMetadata{Vendor: "acme", Confidence: 1})
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)
}
