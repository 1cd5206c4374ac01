package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFixedPointRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		deg   float64
		fixed int64
	}{
		{name: "bengaluru latitude", deg: 12.9716, fixed: 12971600},
		{name: "bengaluru longitude", deg: 77.5946, fixed: 77594600},
		{name: "southern hemisphere", deg: -33.868820, fixed: -33868820},
		{name: "western hemisphere", deg: -118.2437, fixed: -118243700},
		{name: "zero", deg: 0, fixed: 0},
		{name: "six decimals", deg: 28.613939, fixed: 28613939},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.fixed, ToFixed(tt.deg))
			assert.Equal(t, tt.deg, FromFixed(ToFixed(tt.deg)))
		})
	}
}

func TestOriginRecordCoordinates(t *testing.T) {
	o := OriginRecord{LatitudeFixed: 12971600, LongitudeFixed: 77594600}
	assert.Equal(t, 12.9716, o.Latitude())
	assert.Equal(t, 77.5946, o.Longitude())
}

func TestClampConfidence(t *testing.T) {
	assert.Equal(t, uint8(0), ClampConfidence(-5))
	assert.Equal(t, uint8(91), ClampConfidence(91))
	assert.Equal(t, uint8(100), ClampConfidence(140))
}
